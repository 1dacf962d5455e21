package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/harun/alzassist/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestConfigureCommand(t *testing.T) {
	t.Run("help text", func(t *testing.T) {
		out, _, err := executeCommand(t, "", "configure", "--help")
		require.NoError(t, err)
		assert.Contains(t, out, "interactive configuration wizard")
	})

	t.Run("saves wizard answers", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "alzassist.json")
		instructions := t.TempDir()
		answers := strings.Join([]string{
			"9090",         // port
			"",             // generated storage secret
			"hunter2",      // password
			instructions,   // instructions dir
			"tools.json",   // tool config
			"~/token.key",  // auth token file
			"debug",        // log level
		}, "\n") + "\n"

		out, _, err := executeCommand(t, answers, "configure", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration saved to: "+path)

		cfg, err := config.Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.Server.Port)
		assert.Len(t, cfg.Server.StorageSecret, 48)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(cfg.Server.PasswordHash), []byte("hunter2")))
		assert.Equal(t, instructions, cfg.Agent.InstructionsDir)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("fails on truncated input", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "alzassist.json")
		_, _, err := executeCommand(t, "9090\n", "configure", "--config", path)
		assert.ErrorContains(t, err, "configuration failed")
	})
}
