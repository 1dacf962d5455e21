package agentcli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/harun/alzassist/internal/observability"
	"github.com/harun/alzassist/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CommandBuilder produces the invocation for a turn. *Launcher implements it.
type CommandBuilder interface {
	Build(key string, isNew bool, extraConfigPaths []string) (ProcessSpec, error)
}

// TurnRequest is one user message addressed to a session
type TurnRequest struct {
	SessionKey string
	Input      string
	// Sink is optional and receives every output line while the turn runs.
	Sink Sink
	// ExtraConfigPaths are tool configuration files offered for this turn only.
	ExtraConfigPaths []string
}

// TurnResult is the outcome of a successful turn
type TurnResult struct {
	SessionKey  string        `json:"session_key"`
	Text        string        `json:"text"`
	Diagnostics string        `json:"diagnostics,omitempty"`
	Resumed     bool          `json:"resumed"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration"`
}

// OrchestratorConfig tunes turn execution
type OrchestratorConfig struct {
	// TurnTimeout bounds a whole turn; zero means no limit beyond ctx.
	TurnTimeout time.Duration
	// KillGrace is the time between SIGTERM and SIGKILL on cancellation.
	KillGrace time.Duration
	Logger    zerolog.Logger
}

type turnState string

const (
	stateIdle      turnState = "idle"
	stateSpawning  turnState = "spawning"
	stateStreaming turnState = "streaming"
	stateExited    turnState = "exited"
)

// Orchestrator runs turns. It holds no per-turn state, so RunTurn may be
// called concurrently; turns for different keys never wait on each other.
type Orchestrator struct {
	registry *Registry
	builder  CommandBuilder
	pump     *Pump
	cfg      OrchestratorConfig
	logger   zerolog.Logger
}

// NewOrchestrator wires a registry and a command builder
func NewOrchestrator(registry *Registry, builder CommandBuilder, cfg OrchestratorConfig) *Orchestrator {
	observability.EnsureRegistered()

	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	return &Orchestrator{
		registry: registry,
		builder:  builder,
		pump:     NewPump(cfg.Logger),
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("module", "agentcli.orchestrator").Logger(),
	}
}

// Registry returns the session registry used by the orchestrator
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// RunTurn sends req.Input to the agent session req.SessionKey and waits for
// the agent to exit.
//
// Errors are *ConfigurationError, *CommandFailure, *StreamIOError, or the
// context's error when ctx ends first. Nothing is retried.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if req.SessionKey == "" {
		return nil, ErrEmptySessionKey
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx = tracing.WithSessionKey(ctx, req.SessionKey)
	if tracing.GetTurnID(ctx) == "" {
		ctx = tracing.WithTurnID(ctx, tracing.NewTurnID())
	}
	ctx, span := tracing.StartSpan(
		ctx,
		"alzassist.agentcli",
		"agentcli.run_turn",
		attribute.String("session_key", req.SessionKey),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, o.logger)

	if o.cfg.TurnTimeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, o.cfg.TurnTimeout)
		defer cancelTimeout()
	}

	start := time.Now()
	observability.TurnStarted()
	result, resumed, err := o.runTurn(ctx, logger, req)
	duration := time.Since(start)

	mode := "create"
	if resumed {
		mode = "resume"
	}
	observability.RecordTurn(mode, turnStatus(err), duration)
	observability.SetSessionsKnown(o.registry.Len())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Err(err).Dur("duration", duration).Msg("Agent turn failed")
		return nil, err
	}

	result.Duration = duration
	span.SetAttributes(attribute.Bool("resumed", result.Resumed))
	logger.Info().
		Bool("resumed", result.Resumed).
		Int("response_len", len(result.Text)).
		Dur("duration", duration).
		Msg("Agent turn completed")
	return result, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, logger zerolog.Logger, req TurnRequest) (*TurnResult, bool, error) {
	state := stateIdle
	transition := func(next turnState) {
		logger.Debug().Str("from", string(state)).Str("to", string(next)).Msg("Turn state")
		state = next
	}

	transition(stateSpawning)
	isNew := o.registry.Resolve(req.SessionKey)

	spec, err := o.builder.Build(req.SessionKey, isNew, req.ExtraConfigPaths)
	if err != nil {
		if isNew {
			o.registry.Abandon(req.SessionKey)
		}
		return nil, !isNew, err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(turnCtx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	configureProcess(cmd, o.cfg.KillGrace)

	stdin, stdout, stderr, err := openPipes(cmd)
	if err != nil {
		if isNew {
			o.registry.Abandon(req.SessionKey)
		}
		return nil, !isNew, err
	}

	if err := cmd.Start(); err != nil {
		if isNew {
			o.registry.Abandon(req.SessionKey)
		}
		return nil, !isNew, &ConfigurationError{Field: "binary", Value: spec.Path, Err: err}
	}
	if isNew {
		o.registry.Confirm(req.SessionKey)
	}

	logger.Info().
		Bool("new_session", isNew).
		Int("pid", cmd.Process.Pid).
		Strs("args", spec.Args).
		Msg("Agent process started")

	transition(stateStreaming)

	// Input is written while the output is drained: an agent that prints
	// more than a pipe buffer before reading all of its input must not stall.
	writeDone := make(chan error, 1)
	go func() {
		writeDone <- writeInput(stdin, req.Input)
	}()

	out, drainErr := o.pump.Drain(turnCtx, stdout, stderr, req.Sink)
	if drainErr != nil {
		// unblock Wait if the process is still running
		cancel()
	}
	waitErr := cmd.Wait()
	// Wait closes stdin, so a writer the agent never read from returns too.
	writeErr := <-writeDone
	if writeErr != nil {
		logger.Debug().Err(writeErr).Msg("Writing agent input failed")
	}
	transition(stateExited)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, !isNew, fmt.Errorf("agent turn aborted: %w", ctxErr)
	}
	if drainErr != nil {
		return nil, !isNew, drainErr
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, !isNew, &StreamIOError{Stream: StreamPrimary, Op: "wait", Err: waitErr}
		}
		exitCode = exitErr.ExitCode()
	}

	if exitCode != 0 {
		detail := out.DiagnosticText()
		if detail == "" {
			detail = UnknownErrorDetail
		}
		return nil, !isNew, &CommandFailure{SessionKey: req.SessionKey, ExitCode: exitCode, Detail: detail}
	}
	if writeErr != nil {
		return nil, !isNew, &StreamIOError{Stream: StreamInput, Op: "write", Err: writeErr}
	}

	return &TurnResult{
		SessionKey:  req.SessionKey,
		Text:        strings.TrimSpace(out.PrimaryText()),
		Diagnostics: out.DiagnosticText(),
		Resumed:     !isNew,
		ExitCode:    exitCode,
	}, !isNew, nil
}

func openPipes(cmd *exec.Cmd) (io.WriteCloser, io.ReadCloser, io.ReadCloser, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, &StreamIOError{Stream: StreamInput, Op: "open", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, &StreamIOError{Stream: StreamPrimary, Op: "open", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, nil, &StreamIOError{Stream: StreamDiagnostic, Op: "open", Err: err}
	}
	return stdin, stdout, stderr, nil
}

func writeInput(stdin io.WriteCloser, input string) error {
	_, err := io.WriteString(stdin, input)
	if closeErr := stdin.Close(); err == nil {
		err = closeErr
	}
	return err
}

func turnStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrConfiguration):
		return "configuration_error"
	case errors.Is(err, ErrCommandFailed):
		return "command_failure"
	case errors.Is(err, ErrStreamIO):
		return "stream_io_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "aborted"
	default:
		return "error"
	}
}
