package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/harun/alzassist/internal/config"
	"github.com/harun/alzassist/internal/logger"
	"github.com/harun/alzassist/pkg/agentcli"
	"github.com/harun/alzassist/pkg/hooks"
	"github.com/harun/alzassist/pkg/moderation"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Environment variables read by the claude CLI
const (
	envAuthToken = "ANTHROPIC_AUTH_TOKEN"
	envBaseURL   = "ANTHROPIC_BASE_URL"
	envModel     = "ANTHROPIC_MODEL"
)

// loadConfig reads the configuration and applies the global flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	lg, err := logger.New(logger.Config(cfg.Logging))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return lg, nil
}

// provisionCredentials exports the agent credentials into this process's
// environment. The launcher hands the environment to the agent unchanged.
func provisionCredentials(creds config.CredentialsConfig, log zerolog.Logger) error {
	if creds.AuthTokenFile != "" {
		path, err := config.ExpandHome(creds.AuthTokenFile)
		if err != nil {
			return fmt.Errorf("failed to resolve auth token file: %w", err)
		}

		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist) && os.Getenv(envAuthToken) != "":
			log.Debug().Str("path", path).Msg("Auth token file missing, using token from environment")
		case err != nil:
			return fmt.Errorf("failed to read auth token file %s: %w", path, err)
		default:
			token := strings.TrimSpace(string(data))
			if token == "" {
				return fmt.Errorf("auth token file %s is empty", path)
			}
			if err := os.Setenv(envAuthToken, token); err != nil {
				return fmt.Errorf("failed to export %s: %w", envAuthToken, err)
			}
		}
	}

	for name, value := range map[string]string{envBaseURL: creds.BaseURL, envModel: creds.Model} {
		if value == "" {
			continue
		}
		if err := os.Setenv(name, value); err != nil {
			return fmt.Errorf("failed to export %s: %w", name, err)
		}
	}
	return nil
}

// newOrchestrator builds the agent launcher and orchestrator for cfg
func newOrchestrator(cfg *config.Config, log zerolog.Logger) (*agentcli.Orchestrator, error) {
	launcher, err := agentcli.NewLauncher(agentcli.LauncherConfig{
		Binary:         cfg.Agent.Binary,
		WorkDir:        cfg.Agent.InstructionsDir,
		ToolConfigPath: cfg.Agent.ToolConfigPath,
		ExtraArgs:      cfg.Agent.ExtraArgs,
		Flags:          agentcli.Flags(cfg.Agent.Flags),
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	return agentcli.NewOrchestrator(agentcli.NewRegistry(), launcher, agentcli.OrchestratorConfig{
		TurnTimeout: cfg.Agent.TurnTimeout,
		KillGrace:   cfg.Agent.KillGrace,
		Logger:      log,
	}), nil
}

func newHookManager(cfg config.HooksConfig, log zerolog.Logger) (*hooks.Manager, error) {
	list := make([]hooks.Hook, 0, len(cfg.Hooks))
	for _, h := range cfg.Hooks {
		list = append(list, hooks.Hook(h))
	}
	manager, err := hooks.NewManager(hooks.Config{Enabled: cfg.Enabled, Hooks: list, Logger: log})
	if err != nil {
		return nil, fmt.Errorf("invalid hooks configuration: %w", err)
	}
	return manager, nil
}

func newPromptFilter(cfg config.ModerationConfig) (*moderation.ContentFilter, error) {
	filter, err := moderation.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid moderation configuration: %w", err)
	}
	return filter, nil
}
