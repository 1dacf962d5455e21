package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestWizardRun(t *testing.T) {
	t.Run("accepts answers", func(t *testing.T) {
		dir := t.TempDir()
		answers := strings.Join([]string{
			"9000",
			"my-secret",
			"letmein",
			dir,
			"/etc/alzassist/mcp.json",
			"",
			"debug",
		}, "\n") + "\n"

		var out bytes.Buffer
		cfg, err := NewWizard(strings.NewReader(answers), &out).Run(nil)
		require.NoError(t, err)

		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "my-secret", cfg.Server.StorageSecret)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cfg.Server.PasswordHash), []byte("letmein")))
		assert.Equal(t, dir, cfg.Agent.InstructionsDir)
		assert.Equal(t, "/etc/alzassist/mcp.json", cfg.Agent.ToolConfigPath)
		assert.Equal(t, "~/cborg_alz.key", cfg.Credentials.AuthTokenFile)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Contains(t, out.String(), "Configuration complete!")
	})

	t.Run("defaults and generated secret", func(t *testing.T) {
		answers := strings.Repeat("\n", 7)

		cfg, err := NewWizard(strings.NewReader(answers), &bytes.Buffer{}).Run(nil)
		require.NoError(t, err)

		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Len(t, cfg.Server.StorageSecret, 48)
		assert.Empty(t, cfg.Server.PasswordHash)
		assert.Equal(t, "info", cfg.Logging.Level)
	})

	t.Run("reprompts on invalid port", func(t *testing.T) {
		answers := "abc\n7000\n" + strings.Repeat("\n", 6)

		var out bytes.Buffer
		cfg, err := NewWizard(strings.NewReader(answers), &out).Run(nil)
		require.NoError(t, err)

		assert.Equal(t, 7000, cfg.Server.Port)
		assert.Contains(t, out.String(), `invalid port "abc"`)
	})

	t.Run("input ends early", func(t *testing.T) {
		_, err := NewWizard(strings.NewReader("8080\n"), &bytes.Buffer{}).Run(nil)
		assert.Error(t, err)
	})
}
