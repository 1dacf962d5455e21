package agentcli

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/rs/zerolog"
)

// Flags names the command-line flags understood by the external agent
type Flags struct {
	Print           string `json:"print" mapstructure:"print"`
	SkipPermissions string `json:"skip_permissions" mapstructure:"skip_permissions"`
	SessionID       string `json:"session_id" mapstructure:"session_id"`
	Resume          string `json:"resume" mapstructure:"resume"`
	ToolConfig      string `json:"tool_config" mapstructure:"tool_config"`
}

// DefaultFlags returns the flag names of the claude CLI
func DefaultFlags() Flags {
	return Flags{
		Print:           "--print",
		SkipPermissions: "--dangerously-skip-permissions",
		SessionID:       "--session-id",
		Resume:          "--resume",
		ToolConfig:      "--mcp-config",
	}
}

func (f Flags) withDefaults() Flags {
	d := DefaultFlags()
	if f.Print == "" {
		f.Print = d.Print
	}
	if f.SkipPermissions == "" {
		f.SkipPermissions = d.SkipPermissions
	}
	if f.SessionID == "" {
		f.SessionID = d.SessionID
	}
	if f.Resume == "" {
		f.Resume = d.Resume
	}
	if f.ToolConfig == "" {
		f.ToolConfig = d.ToolConfig
	}
	return f
}

// LauncherConfig is resolved once at startup and copied into the Launcher
type LauncherConfig struct {
	// Binary is an executable name looked up in PATH, or a path.
	Binary string
	// WorkDir holds the agent's persistent instructions file.
	WorkDir string
	// ToolConfigPath is passed to the agent only while the file exists.
	ToolConfigPath string
	// ExtraArgs are appended after the fixed flags.
	ExtraArgs []string
	Flags     Flags
	Logger    zerolog.Logger
}

// ProcessSpec describes one agent invocation
type ProcessSpec struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// Launcher builds agent invocations for turns
type Launcher struct {
	cfg    LauncherConfig
	logger zerolog.Logger
}

// NewLauncher validates cfg and returns a launcher
func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if cfg.Binary == "" {
		cfg.Binary = "claude"
	}
	cfg.Flags = cfg.Flags.withDefaults()
	cfg.ExtraArgs = append([]string(nil), cfg.ExtraArgs...)

	l := &Launcher{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("module", "agentcli.launcher").Logger(),
	}
	if _, err := l.resolveBinary(); err != nil {
		return nil, err
	}
	if err := l.checkWorkDir(); err != nil {
		return nil, err
	}
	return l, nil
}

// Build returns the invocation for one turn. isNew selects between creating
// the session under key and resuming it.
func (l *Launcher) Build(key string, isNew bool, extraConfigPaths []string) (ProcessSpec, error) {
	if key == "" {
		return ProcessSpec{}, ErrEmptySessionKey
	}

	path, err := l.resolveBinary()
	if err != nil {
		return ProcessSpec{}, err
	}
	if err := l.checkWorkDir(); err != nil {
		return ProcessSpec{}, err
	}

	f := l.cfg.Flags
	args := []string{f.Print, f.SkipPermissions}
	args = append(args, l.cfg.ExtraArgs...)
	if isNew {
		args = append(args, f.SessionID, key)
	} else {
		args = append(args, f.Resume, key)
	}

	candidates := make([]string, 0, len(extraConfigPaths)+1)
	if l.cfg.ToolConfigPath != "" {
		candidates = append(candidates, l.cfg.ToolConfigPath)
	}
	candidates = append(candidates, extraConfigPaths...)
	for _, p := range candidates {
		if !fileExists(p) {
			l.logger.Debug().Str("path", p).Msg("Tool config not found, skipping")
			continue
		}
		args = append(args, f.ToolConfig, p)
	}

	return ProcessSpec{
		Path: path,
		Args: args,
		Dir:  l.cfg.WorkDir,
		Env:  os.Environ(),
	}, nil
}

// Config returns a copy of the launcher configuration
func (l *Launcher) Config() LauncherConfig {
	cfg := l.cfg
	cfg.ExtraArgs = append([]string(nil), l.cfg.ExtraArgs...)
	return cfg
}

func (l *Launcher) resolveBinary() (string, error) {
	path, err := exec.LookPath(l.cfg.Binary)
	if err != nil {
		return "", &ConfigurationError{Field: "binary", Value: l.cfg.Binary, Err: err}
	}
	return path, nil
}

func (l *Launcher) checkWorkDir() error {
	if l.cfg.WorkDir == "" {
		return nil
	}
	info, err := os.Stat(l.cfg.WorkDir)
	if err != nil {
		return &ConfigurationError{Field: "work_dir", Value: l.cfg.WorkDir, Err: err}
	}
	if !info.IsDir() {
		return &ConfigurationError{Field: "work_dir", Value: l.cfg.WorkDir, Err: fmt.Errorf("not a directory")}
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
