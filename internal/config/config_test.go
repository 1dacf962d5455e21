package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "claude", cfg.Agent.Binary)
	assert.Equal(t, "mcp_config.json", cfg.Agent.ToolConfigPath)
	assert.Equal(t, 10*time.Minute, cfg.Agent.TurnTimeout)
	assert.Equal(t, 5*time.Second, cfg.Agent.KillGrace)
	assert.Equal(t, "https://api.cborg.lbl.gov", cfg.Credentials.BaseURL)
	assert.Equal(t, "anthropic/claude-sonnet", cfg.Credentials.Model)
	assert.Equal(t, 24*time.Hour, cfg.Server.SessionTTL)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestConfigValidate(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})

	t.Run("binary required", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Agent.Binary = ""
		assert.ErrorContains(t, cfg.Validate(), "agent.binary")
	})

	t.Run("negative timeout", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Agent.TurnTimeout = -time.Second
		assert.ErrorContains(t, cfg.Validate(), "turn_timeout")
	})

	t.Run("sample ratio out of range", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Tracing.SampleRatio = 2
		assert.Error(t, cfg.Validate())
	})
}

func TestConfigValidateServer(t *testing.T) {
	t.Run("port required", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.StorageSecret = "s"
		assert.ErrorContains(t, cfg.ValidateServer(), "server.port")
	})

	t.Run("storage secret required", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Port = 8080
		assert.ErrorContains(t, cfg.ValidateServer(), "storage_secret")
	})

	t.Run("complete", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Server.Port = 8080
		cfg.Server.StorageSecret = "s"
		assert.NoError(t, cfg.ValidateServer())
		assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	})
}

func TestConfigStringMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.StorageSecret = "very-secret"
	cfg.Server.PasswordHash = "$2a$10$abc"

	s := cfg.String()
	assert.NotContains(t, s, "very-secret")
	assert.NotContains(t, s, "$2a$10$abc")
	assert.Equal(t, "very-secret", cfg.Server.StorageSecret)
}
