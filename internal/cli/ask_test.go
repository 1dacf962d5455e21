package cli

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/harun/alzassist/pkg/agentcli"
	"github.com/harun/alzassist/pkg/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func askConfig(t *testing.T, binary string) string {
	t.Helper()

	tokenFile := filepath.Join(t.TempDir(), "token.key")
	require.NoError(t, os.WriteFile(tokenFile, []byte("tok-123\n"), 0o600))

	return writeConfig(t, map[string]interface{}{
		"agent": map[string]interface{}{
			"binary":           binary,
			"instructions_dir": t.TempDir(),
			"tool_config_path": "",
		},
		"credentials": map[string]interface{}{
			"auth_token_file": tokenFile,
			"base_url":        "https://llm.example.test",
			"model":           "test-model",
		},
		"logging": map[string]interface{}{
			"level":   "error",
			"console": false,
		},
	})
}

func TestAskCommand(t *testing.T) {
	t.Run("new session streams output", func(t *testing.T) {
		isolateCredentials(t)
		cfgPath := askConfig(t, fakeAgentScript(t))

		out, errOut, err := executeCommand(t, "", "ask", "--config", cfgPath, "What", "is", "tau?")
		require.NoError(t, err)

		assert.Contains(t, out, "input=What is tau?")
		assert.Contains(t, out, "token=tok-123")
		assert.Contains(t, out, "base=https://llm.example.test")
		assert.Regexp(t, `args=--print --dangerously-skip-permissions --session-id [0-9a-f-]{36}`, out)
		assert.Contains(t, errOut, "working on it")

		key := regexp.MustCompile(`session: ([0-9a-f-]{36})`).FindStringSubmatch(errOut)
		require.Len(t, key, 2)
		assert.Contains(t, out, "--session-id "+key[1])
	})

	t.Run("resume existing session", func(t *testing.T) {
		isolateCredentials(t)
		cfgPath := askConfig(t, fakeAgentScript(t))

		out, _, err := executeCommand(t, "", "ask", "--config", cfgPath, "--session", "abc-123", "and APOE4?")
		require.NoError(t, err)
		assert.Contains(t, out, "args=--print --dangerously-skip-permissions --resume abc-123")
	})

	t.Run("question from stdin, quiet", func(t *testing.T) {
		isolateCredentials(t)
		cfgPath := askConfig(t, fakeAgentScript(t))

		out, errOut, err := executeCommand(t, "Explain amyloid\n", "ask", "--config", cfgPath, "-q")
		require.NoError(t, err)
		assert.Contains(t, out, "input=Explain amyloid")
		assert.NotContains(t, errOut, "working on it")
	})

	t.Run("empty question", func(t *testing.T) {
		_, _, err := executeCommand(t, "  \n", "ask")
		assert.ErrorIs(t, err, chat.ErrEmptyMessage)
	})

	t.Run("invalid session key", func(t *testing.T) {
		_, _, err := executeCommand(t, "", "ask", "--session", "../etc", "hi")
		assert.ErrorIs(t, err, chat.ErrInvalidSessionKey)
	})

	t.Run("agent failure", func(t *testing.T) {
		isolateCredentials(t)
		script := filepath.Join(t.TempDir(), "failing-claude")
		require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ncat >/dev/null\necho 'quota exceeded' >&2\nexit 2\n"), 0o755))
		cfgPath := askConfig(t, script)

		_, _, err := executeCommand(t, "", "ask", "--config", cfgPath, "hi")
		var failure *agentcli.CommandFailure
		require.ErrorAs(t, err, &failure)
		assert.Equal(t, 2, failure.ExitCode)
		assert.Equal(t, "quota exceeded\n", failure.Detail)
	})

	t.Run("missing binary", func(t *testing.T) {
		isolateCredentials(t)
		cfgPath := askConfig(t, filepath.Join(t.TempDir(), "no-such-claude"))

		_, _, err := executeCommand(t, "", "ask", "--config", cfgPath, "hi")
		assert.ErrorIs(t, err, agentcli.ErrConfiguration)
	})

	t.Run("blocked by moderation", func(t *testing.T) {
		isolateCredentials(t)
		cfgPath := writeConfig(t, map[string]interface{}{
			"agent": map[string]interface{}{
				"binary":           fakeAgentScript(t),
				"instructions_dir": t.TempDir(),
			},
			"moderation": map[string]interface{}{
				"enabled":          true,
				"blocked_keywords": []string{"patient name"},
			},
			"logging": map[string]interface{}{"level": "error", "console": false},
		})

		out, _, err := executeCommand(t, "", "ask", "--config", cfgPath, "the", "Patient", "Name", "is")
		assert.ErrorIs(t, err, chat.ErrBlockedMessage)
		assert.Empty(t, out)
	})
}
