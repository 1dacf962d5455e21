package agentcli

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration matches every *ConfigurationError
	ErrConfiguration = errors.New("agent configuration error")

	// ErrCommandFailed matches every *CommandFailure
	ErrCommandFailed = errors.New("agent command failed")

	// ErrStreamIO matches every *StreamIOError
	ErrStreamIO = errors.New("agent stream i/o error")

	// ErrEmptySessionKey is returned when a turn has no session key
	ErrEmptySessionKey = errors.New("session key cannot be empty")
)

// UnknownErrorDetail is reported when the agent fails without diagnostics.
const UnknownErrorDetail = "unknown error"

// ConfigurationError reports an executable or required path that could not be resolved.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("agent %s %q is not usable", e.Field, e.Value)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// CommandFailure reports a non-zero exit of the agent process.
type CommandFailure struct {
	SessionKey string
	ExitCode   int
	// Detail holds the diagnostic output exactly as written, or
	// UnknownErrorDetail when there was none.
	Detail string
}

func (e *CommandFailure) Error() string {
	return fmt.Sprintf("agent CLI failed (exit %d): %s", e.ExitCode, strings.TrimRight(e.Detail, "\r\n"))
}

func (e *CommandFailure) Is(target error) bool { return target == ErrCommandFailed }

// StreamIOError reports an unexpected failure while talking to the agent process.
type StreamIOError struct {
	Stream Stream
	Op     string
	Err    error
}

func (e *StreamIOError) Error() string {
	return fmt.Sprintf("%s %s stream: %v", e.Op, e.Stream, e.Err)
}

func (e *StreamIOError) Unwrap() error { return e.Err }

func (e *StreamIOError) Is(target error) bool { return target == ErrStreamIO }
