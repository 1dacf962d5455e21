package agentcli

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeAgent writes an executable /bin/sh script that stands in for the agent
// CLI. ARGS_LOG in body is replaced by a file collecting one line of
// arguments per invocation.
type fakeAgent struct {
	path    string
	dir     string
	argsLog string
}

func newFakeAgent(t *testing.T, body string) *fakeAgent {
	t.Helper()

	dir := t.TempDir()
	argsLog := filepath.Join(dir, "args.log")
	script := "#!/bin/sh\n" + strings.ReplaceAll(body, "ARGS_LOG", argsLog) + "\n"

	path := filepath.Join(dir, "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return &fakeAgent{path: path, dir: dir, argsLog: argsLog}
}

// invocations returns the logged argument lines
func (f *fakeAgent) invocations(t *testing.T) []string {
	t.Helper()

	data, err := os.ReadFile(f.argsLog)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func (f *fakeAgent) launcher(t *testing.T) *Launcher {
	t.Helper()

	l, err := NewLauncher(LauncherConfig{
		Binary:  f.path,
		WorkDir: f.dir,
		Logger:  zerolog.Nop(),
	})
	require.NoError(t, err)
	return l
}

func (f *fakeAgent) orchestrator(t *testing.T, cfg OrchestratorConfig) *Orchestrator {
	t.Helper()
	cfg.Logger = zerolog.Nop()
	return NewOrchestrator(NewRegistry(), f.launcher(t), cfg)
}

// lineCollector is a Sink that records every line it receives
type lineCollector struct {
	mu    sync.Mutex
	lines []Line
}

func (c *lineCollector) sink(l Line) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, l)
}

func (c *lineCollector) stream(s Stream) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, l := range c.lines {
		if l.Stream == s {
			out = append(out, l.Text)
		}
	}
	return out
}

func (c *lineCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}
