package agentcli

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessages(t *testing.T) {
	cfgErr := &ConfigurationError{Field: "binary", Value: "claude", Err: exec.ErrNotFound}
	assert.Contains(t, cfgErr.Error(), `agent binary "claude"`)
	assert.ErrorIs(t, cfgErr, exec.ErrNotFound)
	assert.ErrorIs(t, cfgErr, ErrConfiguration)
	assert.NotErrorIs(t, cfgErr, ErrCommandFailed)

	bare := &ConfigurationError{Field: "work_dir", Value: "/x"}
	assert.Equal(t, `agent work_dir "/x" is not usable`, bare.Error())

	failure := &CommandFailure{ExitCode: 1, Detail: "rate limited"}
	assert.Equal(t, "agent CLI failed (exit 1): rate limited", failure.Error())
	multiline := &CommandFailure{ExitCode: 1, Detail: "quota\nexceeded\r\n"}
	assert.Equal(t, "agent CLI failed (exit 1): quota\nexceeded", multiline.Error())

	ioErr := &StreamIOError{Stream: StreamDiagnostic, Op: "read", Err: io.ErrUnexpectedEOF}
	assert.Equal(t, "read diagnostic stream: unexpected EOF", ioErr.Error())
	assert.ErrorIs(t, ioErr, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, ioErr, ErrStreamIO)
}

func TestErrorsSurviveWrapping(t *testing.T) {
	wrapped := fmt.Errorf("chat turn: %w", &CommandFailure{ExitCode: 2, Detail: "x"})

	var failure *CommandFailure
	assert.True(t, errors.As(wrapped, &failure))
	assert.Equal(t, 2, failure.ExitCode)
	assert.ErrorIs(t, wrapped, ErrCommandFailed)
}
