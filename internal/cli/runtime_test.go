package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/harun/alzassist/internal/config"
	"github.com/harun/alzassist/pkg/hooks"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisionCredentials(t *testing.T) {
	t.Run("exports token, base url and model", func(t *testing.T) {
		isolateCredentials(t)
		tokenFile := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(tokenFile, []byte("  secret-token \n"), 0o600))

		err := provisionCredentials(config.CredentialsConfig{
			AuthTokenFile: tokenFile,
			BaseURL:       "https://api.example.test",
			Model:         "anthropic/claude-sonnet",
		}, zerolog.Nop())
		require.NoError(t, err)

		assert.Equal(t, "secret-token", os.Getenv(envAuthToken))
		assert.Equal(t, "https://api.example.test", os.Getenv(envBaseURL))
		assert.Equal(t, "anthropic/claude-sonnet", os.Getenv(envModel))
	})

	t.Run("missing file falls back to environment", func(t *testing.T) {
		isolateCredentials(t)
		t.Setenv(envAuthToken, "from-env")

		err := provisionCredentials(config.CredentialsConfig{
			AuthTokenFile: filepath.Join(t.TempDir(), "missing"),
		}, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, "from-env", os.Getenv(envAuthToken))
	})

	t.Run("missing file without environment fails", func(t *testing.T) {
		isolateCredentials(t)

		err := provisionCredentials(config.CredentialsConfig{
			AuthTokenFile: filepath.Join(t.TempDir(), "missing"),
		}, zerolog.Nop())
		assert.ErrorContains(t, err, "failed to read auth token file")
	})

	t.Run("empty file fails", func(t *testing.T) {
		isolateCredentials(t)
		tokenFile := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(tokenFile, []byte("\n"), 0o600))

		err := provisionCredentials(config.CredentialsConfig{AuthTokenFile: tokenFile}, zerolog.Nop())
		assert.ErrorContains(t, err, "is empty")
	})

	t.Run("no token file leaves environment alone", func(t *testing.T) {
		isolateCredentials(t)
		t.Setenv(envAuthToken, "preset")

		require.NoError(t, provisionCredentials(config.CredentialsConfig{}, zerolog.Nop()))
		assert.Equal(t, "preset", os.Getenv(envAuthToken))
		assert.Empty(t, os.Getenv(envBaseURL))
	})
}

func TestNewOrchestrator(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Agent.Binary = fakeAgentScript(t)
	cfg.Agent.InstructionsDir = t.TempDir()

	orchestrator, err := newOrchestrator(cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Zero(t, orchestrator.Registry().Len())

	cfg.Agent.InstructionsDir = filepath.Join(t.TempDir(), "missing")
	_, err = newOrchestrator(cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "work_dir")
}

func TestNewHookManager(t *testing.T) {
	out := filepath.Join(t.TempDir(), "stopping")
	manager, err := newHookManager(config.HooksConfig{
		Enabled: true,
		Hooks: []config.HookConfig{
			{ID: "stop", Event: hooks.EventServerStopping, Script: "touch " + out, Enabled: true},
		},
	}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, manager.Count(hooks.EventServerStopping))

	require.NoError(t, manager.Trigger(context.Background(), hooks.EventServerStopping, nil))
	assert.FileExists(t, out)

	_, err = newHookManager(config.HooksConfig{
		Enabled: true,
		Hooks:   []config.HookConfig{{Event: "gateway:ready", Script: "true", Enabled: true}},
	}, zerolog.Nop())
	assert.ErrorContains(t, err, "invalid hooks configuration")
}

func TestNewPromptFilter(t *testing.T) {
	filter, err := newPromptFilter(config.ModerationConfig{Enabled: true, BlockedKeywords: []string{"ssn"}})
	require.NoError(t, err)
	assert.Error(t, filter.CheckPrompt("my SSN is"))

	_, err = newPromptFilter(config.ModerationConfig{BlockedPatterns: []string{"[a-"}})
	assert.ErrorContains(t, err, "invalid moderation configuration")
}
