package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harun/alzassist/internal/observability"
	"github.com/harun/alzassist/internal/tracing"
	"github.com/harun/alzassist/pkg/agentcli"
	"github.com/harun/alzassist/pkg/commandqueue"
	"github.com/rs/zerolog"
)

var (
	// ErrEmptyMessage is returned for a blank user message
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrInvalidSessionKey is returned for keys unsafe to pass to the agent
	ErrInvalidSessionKey = errors.New("invalid session key")
	// ErrBlockedMessage is returned when the prompt filter rejects a message
	ErrBlockedMessage = errors.New("message rejected")
)

// Lifecycle events fired after each turn
const (
	EventTurnCompleted = "turn:completed"
	EventTurnFailed    = "turn:failed"
)

const maxSessionKeyLen = 128

// sampleQuestions are offered to new users as starting points
var sampleQuestions = []string{
	"What is APOE4 and how does it relate to Alzheimer's?",
	"What are the most accurate blood biomarkers for early AD detection?",
	"Explain the role of tau protein in Alzheimer's disease",
	"What is the amyloid cascade hypothesis?",
}

// TurnRunner runs agent turns. *agentcli.Orchestrator implements it.
type TurnRunner interface {
	RunTurn(ctx context.Context, req agentcli.TurnRequest) (*agentcli.TurnResult, error)
	Registry() *agentcli.Registry
}

// PromptFilter screens user messages. *moderation.ContentFilter implements it.
type PromptFilter interface {
	CheckPrompt(prompt string) error
}

// HookRunner is notified after every turn. *hooks.Manager implements it.
type HookRunner interface {
	TriggerAsync(ctx context.Context, event string, data map[string]interface{})
}

// Config tunes the chat service
type Config struct {
	// MaxHistory bounds each transcript; the oldest entries go first. Default 200.
	MaxHistory int
	// QueueWarnAfter triggers SendRequest.OnQueued for turns waiting behind
	// an earlier turn of the same session. Default 2s.
	QueueWarnAfter time.Duration
	// Filter and Hooks are optional.
	Filter PromptFilter
	Hooks  HookRunner
	Logger zerolog.Logger
}

// SendRequest is one user message
type SendRequest struct {
	// SessionKey is empty for a new conversation; one is generated.
	SessionKey string
	Message    string
	// RequestID deduplicates retries of the same send.
	RequestID string
	Sink      agentcli.Sink
	// OnQueued is told when the turn waits behind another turn of the session.
	OnQueued func(wait time.Duration, position int)
}

// Reply is the assistant's answer to one SendRequest
type Reply struct {
	SessionKey string        `json:"session_key"`
	Text       string        `json:"text"`
	Resumed    bool          `json:"resumed"`
	Duration   time.Duration `json:"duration"`
}

// SessionSummary describes one conversation
type SessionSummary struct {
	agentcli.Session
	Messages int `json:"messages"`
}

// Service serves chat turns
type Service struct {
	runner      TurnRunner
	queue       *commandqueue.CommandQueue
	transcripts *transcripts
	cfg         Config
	logger      zerolog.Logger
	newKey      func() string
}

// NewService wires the chat service to a turn runner and a lane queue
func NewService(runner TurnRunner, queue *commandqueue.CommandQueue, cfg Config) *Service {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = 200
	}
	if cfg.QueueWarnAfter <= 0 {
		cfg.QueueWarnAfter = 2 * time.Second
	}
	return &Service{
		runner:      runner,
		queue:       queue,
		transcripts: newTranscripts(cfg.MaxHistory),
		cfg:         cfg,
		logger:      cfg.Logger.With().Str("module", "chat").Logger(),
		newKey:      func() string { return uuid.NewString() },
	}
}

// Send runs one turn for req. Turns of the same session run in arrival
// order; turns of different sessions run concurrently.
//
// On failure the transcript gets a system entry "Error: ..." and the error
// is returned unchanged, so callers can still inspect agentcli error types.
func (s *Service) Send(ctx context.Context, req SendRequest) (*Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	key := req.SessionKey
	if key == "" {
		key = s.newKey()
	} else if err := ValidateSessionKey(key); err != nil {
		return nil, err
	}

	ctx = tracing.WithSessionKey(ctx, key)
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if s.cfg.Filter != nil {
		if err := s.cfg.Filter.CheckPrompt(message); err != nil {
			logger.Info().Err(err).Msg("Chat message rejected")
			return nil, fmt.Errorf("%w: %v", ErrBlockedMessage, err)
		}
	}

	opts := &commandqueue.TaskOptions{RequestID: req.RequestID}
	if req.OnQueued != nil {
		opts.WarnAfter = s.cfg.QueueWarnAfter
		opts.OnWait = req.OnQueued
	}

	value, err := s.queue.Enqueue(ctx, Lane(key), func(ctx context.Context) (interface{}, error) {
		return s.runTurn(ctx, key, message, req.Sink)
	}, opts)
	if err != nil {
		logger.Warn().Err(err).Msg("Chat turn failed")
		return nil, err
	}
	return value.(*Reply), nil
}

func (s *Service) runTurn(ctx context.Context, key, message string, sink agentcli.Sink) (*Reply, error) {
	s.transcripts.append(key, RoleUser, message)

	result, err := s.runner.RunTurn(ctx, agentcli.TurnRequest{
		SessionKey: key,
		Input:      message,
		Sink:       sink,
	})
	if err != nil {
		s.transcripts.append(key, RoleSystem, "Error: "+err.Error())
		observability.RecordTurnAudit(ctx, key, false, map[string]interface{}{"error": err.Error()})
		s.fireHook(ctx, EventTurnFailed, map[string]interface{}{
			"session_key": key,
			"error":       err.Error(),
		})
		return nil, fmt.Errorf("chat turn for session %s: %w", key, err)
	}

	s.transcripts.append(key, RoleAssistant, result.Text)
	observability.RecordTurnAudit(ctx, key, true, map[string]interface{}{
		"resumed":     result.Resumed,
		"duration_ms": result.Duration.Milliseconds(),
	})
	s.fireHook(ctx, EventTurnCompleted, map[string]interface{}{
		"session_key": key,
		"resumed":     result.Resumed,
		"duration_ms": result.Duration.Milliseconds(),
	})

	return &Reply{
		SessionKey: key,
		Text:       result.Text,
		Resumed:    result.Resumed,
		Duration:   result.Duration,
	}, nil
}

func (s *Service) fireHook(ctx context.Context, event string, data map[string]interface{}) {
	if s.cfg.Hooks == nil {
		return
	}
	s.cfg.Hooks.TriggerAsync(ctx, event, data)
}

// History returns a copy of the transcript for key, oldest first
func (s *Service) History(key string) []Message {
	return s.transcripts.get(key)
}

// Sessions returns every known conversation, most recently active first
func (s *Service) Sessions() []SessionSummary {
	snap := s.runner.Registry().Snapshot()
	out := make([]SessionSummary, 0, len(snap))
	for _, sess := range snap {
		out = append(out, SessionSummary{Session: sess, Messages: s.transcripts.count(sess.Key)})
	}
	return out
}

// SampleQuestions returns example questions for an empty conversation
func (s *Service) SampleQuestions() []string {
	return append([]string(nil), sampleQuestions...)
}

// Lane returns the command queue lane that serializes turns for key
func Lane(key string) string {
	return "session:" + key
}

// ValidateSessionKey rejects keys that are empty, overly long, or could be
// misread as a path or a flag by the agent CLI.
func ValidateSessionKey(key string) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: empty", ErrInvalidSessionKey)
	case len(key) > maxSessionKeyLen:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidSessionKey, maxSessionKeyLen)
	case strings.HasPrefix(key, "-"):
		return fmt.Errorf("%w: must not start with '-'", ErrInvalidSessionKey)
	case strings.Contains(key, ".."), strings.ContainsAny(key, "/\\"):
		return fmt.Errorf("%w: contains path characters", ErrInvalidSessionKey)
	case strings.IndexFunc(key, func(r rune) bool { return r < 0x20 || r == 0x7f || r == ' ' }) >= 0:
		return fmt.Errorf("%w: contains whitespace or control characters", ErrInvalidSessionKey)
	}
	return nil
}
