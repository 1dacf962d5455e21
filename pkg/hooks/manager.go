package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harun/alzassist/internal/tracing"
	"github.com/rs/zerolog"
)

// Lifecycle events a hook can be bound to
const (
	EventTurnCompleted  = "turn:completed"
	EventTurnFailed     = "turn:failed"
	EventServerStarted  = "server:started"
	EventServerStopping = "server:stopping"
)

var knownEvents = map[string]bool{
	EventTurnCompleted:  true,
	EventTurnFailed:     true,
	EventServerStarted:  true,
	EventServerStopping: true,
}

const defaultTimeout = 30 * time.Second

// Hook defines a lifecycle event hook.
type Hook struct {
	ID      string
	Event   string
	Script  string
	Timeout time.Duration
	Enabled bool
}

// Config configures a Hook manager.
type Config struct {
	Enabled bool
	Hooks   []Hook
	Logger  zerolog.Logger
}

// Manager executes configured hooks for lifecycle events. Scripts run with
// /bin/sh and receive the event as ALZASSIST_HOOK_EVENT plus one
// ALZASSIST_HOOK_DATA_<KEY> variable per data field.
type Manager struct {
	enabled bool
	logger  zerolog.Logger

	mu           sync.RWMutex
	hooksByEvent map[string][]Hook
	pending      sync.WaitGroup
}

// NewManager creates a hook manager.
func NewManager(cfg Config) (*Manager, error) {
	manager := &Manager{
		enabled:      cfg.Enabled,
		logger:       cfg.Logger.With().Str("module", "hooks").Logger(),
		hooksByEvent: make(map[string][]Hook),
	}

	if !cfg.Enabled {
		return manager, nil
	}

	for _, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		event := strings.TrimSpace(hook.Event)
		if !knownEvents[event] {
			return nil, fmt.Errorf("unknown hook event %q", hook.Event)
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook script is required for event %q", event)
		}
		if hook.Timeout <= 0 {
			hook.Timeout = defaultTimeout
		}
		manager.hooksByEvent[event] = append(manager.hooksByEvent[event], hook)
	}

	return manager, nil
}

// Count returns the number of active hooks for event
func (m *Manager) Count(event string) int {
	if m == nil {
		return 0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.hooksByEvent[event])
}

// Trigger executes hooks registered for an event and waits for them.
func (m *Manager) Trigger(ctx context.Context, event string, data map[string]interface{}) error {
	if m == nil || !m.enabled {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("event is required")
	}

	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooksByEvent[event]...)
	m.mu.RUnlock()
	if len(hooks) == 0 {
		return nil
	}

	var errs []error
	for _, hook := range hooks {
		if err := m.executeHook(ctx, event, hook, data); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// TriggerAsync runs the hooks for event in the background so a turn reply
// is never delayed by a hook. Failures are logged. The hooks keep running
// after ctx is cancelled; Wait blocks until they are done.
func (m *Manager) TriggerAsync(ctx context.Context, event string, data map[string]interface{}) {
	if m == nil || !m.enabled || m.Count(event) == 0 {
		return
	}

	ctx = tracing.Detach(ctx)
	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		if err := m.Trigger(ctx, event, data); err != nil {
			logger := tracing.LoggerFromContext(ctx, m.logger)
			logger.Warn().
				Err(err).
				Str("event", event).
				Msg("Hook failed")
		}
	}()
}

// Wait blocks until every hook started by TriggerAsync has finished
func (m *Manager) Wait() {
	if m == nil {
		return
	}
	m.pending.Wait()
}

func (m *Manager) executeHook(ctx context.Context, event string, hook Hook, data map[string]interface{}) error {
	if ctx == nil {
		ctx = context.Background()
	}

	hookID := hook.ID
	if strings.TrimSpace(hookID) == "" {
		hookID = event
	}

	runCtx, cancel := context.WithTimeout(ctx, hook.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", hook.Script)
	cmd.Env = buildHookEnvironment(event, data)
	cmd.WaitDelay = time.Second

	start := time.Now()
	output, err := cmd.CombinedOutput()
	outputText := strings.TrimSpace(string(output))
	if err != nil {
		if outputText != "" {
			return fmt.Errorf("hook %s failed: %w: %s", hookID, err, outputText)
		}
		return fmt.Errorf("hook %s failed: %w", hookID, err)
	}

	m.logger.Debug().
		Str("event", event).
		Str("hook_id", hookID).
		Str("output", outputText).
		Dur("duration", time.Since(start)).
		Msg("Hook executed")
	return nil
}

func buildHookEnvironment(event string, data map[string]interface{}) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "ALZASSIST_HOOK_EVENT="+event)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		envKey := "ALZASSIST_HOOK_DATA_" + normalizeEnvKey(key)
		env = append(env, envKey+"="+fmt.Sprintf("%v", data[key]))
	}
	return env
}

func normalizeEnvKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	upper := strings.ToUpper(key)
	builder := strings.Builder{}
	builder.Grow(len(upper))
	for _, r := range upper {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune('_')
	}
	return builder.String()
}
