package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.Equal(t, "/path/to/config.json", loader.GetConfigPath())

	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".alzassist", "alzassist.json"), NewLoader("").GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file is missing", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := NewLoader(filepath.Join(dir, "missing.json")).Load()

		require.NoError(t, err)
		assert.Equal(t, "claude", cfg.Agent.Binary)
		assert.Equal(t, dir, cfg.DataDir)
		assert.Equal(t, filepath.Join(dir, "audit.log"), cfg.Server.AuditLog)
	})

	t.Run("reads file values", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "alzassist.json")
		doc := `{
			"agent": {
				"binary": "/usr/local/bin/claude",
				"extra_args": ["--verbose"],
				"flags": {"resume": "--continue-session"},
				"turn_timeout": "90s"
			},
			"server": {"port": 8081, "storage_secret": "abc"},
			"logging": {"level": "debug"}
		}`
		require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, "/usr/local/bin/claude", cfg.Agent.Binary)
		assert.Equal(t, []string{"--verbose"}, cfg.Agent.ExtraArgs)
		assert.Equal(t, "--continue-session", cfg.Agent.Flags.Resume)
		assert.Equal(t, 90*time.Second, cfg.Agent.TurnTimeout)
		assert.Equal(t, 5*time.Second, cfg.Agent.KillGrace)
		assert.Equal(t, 8081, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	})

	t.Run("environment overrides", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "alzassist.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"server": {"port": 8081}}`), 0644))

		t.Setenv("ALZASSIST_SERVER_PORT", "9001")
		t.Setenv("ALZASSIST_SERVER_STORAGE_SECRET", "from-env")

		cfg, err := NewLoader(path).Load()
		require.NoError(t, err)
		assert.Equal(t, 9001, cfg.Server.Port)
		assert.Equal(t, "from-env", cfg.Server.StorageSecret)
	})

	t.Run("schema rejects unknown keys", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "alzassist.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"telegram": {"bot_token": "x"}}`), 0644))

		_, err := NewLoader(path).Load()
		assert.ErrorContains(t, err, "schema validation")
	})

	t.Run("schema rejects bad duration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "alzassist.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"agent": {"turn_timeout": "soon"}}`), 0644))

		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "alzassist.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"agent": `), 0644))

		_, err := NewLoader(path).Load()
		assert.Error(t, err)
	})

	t.Run("expands home in paths", func(t *testing.T) {
		home, err := os.UserHomeDir()
		require.NoError(t, err)

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "cborg_alz.key"), cfg.Credentials.AuthTokenFile)
	})
}

func TestLoaderSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "alzassist.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Server.Port = 8443
	cfg.Server.StorageSecret = "abc"
	cfg.Agent.TurnTimeout = 2 * time.Minute
	require.NoError(t, loader.Save(cfg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"turn_timeout": "2m0s"`)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 8443, loaded.Server.Port)
	assert.Equal(t, 2*time.Minute, loaded.Agent.TurnTimeout)
}

func TestLoaderHooksAndModeration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alzassist.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Hooks.Enabled = true
	cfg.Hooks.Hooks = []HookConfig{{
		ID:      "notify",
		Event:   "turn:failed",
		Script:  "logger -t alzassist failed",
		Timeout: 3 * time.Second,
		Enabled: true,
	}}
	cfg.Moderation.Enabled = true
	cfg.Moderation.BlockedKeywords = []string{"patient name"}
	cfg.Moderation.BlockedPatterns = []string{`\bMRN[0-9]+\b`}
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	require.Len(t, loaded.Hooks.Hooks, 1)
	assert.True(t, loaded.Hooks.Enabled)
	assert.Equal(t, cfg.Hooks.Hooks[0], loaded.Hooks.Hooks[0])
	assert.True(t, loaded.Moderation.Enabled)
	assert.Equal(t, []string{"patient name"}, loaded.Moderation.BlockedKeywords)
	assert.Equal(t, []string{`\bMRN[0-9]+\b`}, loaded.Moderation.BlockedPatterns)
}

func TestLoaderRejectsHookWithoutScript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alzassist.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"hooks":{"enabled":true,"hooks":[{"event":"turn:completed"}]}}`), 0o600))

	_, err := NewLoader(path).Load()
	assert.ErrorContains(t, err, "invalid config file")
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	p, err := ExpandHome("~/x/y")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x", "y"), p)

	p, err = ExpandHome("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", p)

	p, err = ExpandHome("~user/other")
	require.NoError(t, err)
	assert.Equal(t, "~user/other", p)
}
