package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ALZASSIST_SERVER_PORT
const EnvPrefix = "ALZASSIST"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader. An empty path selects
// ~/.alzassist/alzassist.json.
func NewLoader(configPath string) *Loader {
	return &Loader{configPath: configPath}
}

// Load reads the config file if present, applies environment overrides and
// fills derived paths. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to get home directory")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := ValidateDocument(data); err != nil {
			return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
		}
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(configPath)
	}
	if cfg.DataDir, err = ExpandHome(cfg.DataDir); err != nil {
		return nil, err
	}
	if cfg.Logging.File != "" {
		if cfg.Logging.File, err = ExpandHome(cfg.Logging.File); err != nil {
			return nil, err
		}
	}
	if cfg.Server.AuditLog == "" {
		cfg.Server.AuditLog = filepath.Join(cfg.DataDir, "audit.log")
	}
	for _, p := range []*string{
		&cfg.Agent.InstructionsDir,
		&cfg.Agent.ToolConfigPath,
		&cfg.Credentials.AuthTokenFile,
		&cfg.Server.AuditLog,
	} {
		if *p, err = ExpandHome(*p); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Save writes cfg as JSON with durations in time.Duration string form
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to get home directory")
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(toDocument(cfg), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := ValidateDocument(data); err != nil {
		return fmt.Errorf("refusing to save invalid config: %w", err)
	}
	if err := os.WriteFile(configPath, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".alzassist", "alzassist.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

// ExpandHome replaces a leading ~ with the user's home directory
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// setDefaults registers every leaf key so AutomaticEnv can override keys
// that are absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("agent.binary", d.Agent.Binary)
	v.SetDefault("agent.instructions_dir", d.Agent.InstructionsDir)
	v.SetDefault("agent.tool_config_path", d.Agent.ToolConfigPath)
	v.SetDefault("agent.extra_args", d.Agent.ExtraArgs)
	v.SetDefault("agent.flags.print", d.Agent.Flags.Print)
	v.SetDefault("agent.flags.skip_permissions", d.Agent.Flags.SkipPermissions)
	v.SetDefault("agent.flags.session_id", d.Agent.Flags.SessionID)
	v.SetDefault("agent.flags.resume", d.Agent.Flags.Resume)
	v.SetDefault("agent.flags.tool_config", d.Agent.Flags.ToolConfig)
	v.SetDefault("agent.turn_timeout", d.Agent.TurnTimeout)
	v.SetDefault("agent.kill_grace", d.Agent.KillGrace)

	v.SetDefault("credentials.auth_token_file", d.Credentials.AuthTokenFile)
	v.SetDefault("credentials.base_url", d.Credentials.BaseURL)
	v.SetDefault("credentials.model", d.Credentials.Model)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.password_hash", d.Server.PasswordHash)
	v.SetDefault("server.storage_secret", d.Server.StorageSecret)
	v.SetDefault("server.session_ttl", d.Server.SessionTTL)
	v.SetDefault("server.audit_log", d.Server.AuditLog)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)

	v.SetDefault("hooks.enabled", d.Hooks.Enabled)
	v.SetDefault("hooks.hooks", d.Hooks.Hooks)

	v.SetDefault("moderation.enabled", d.Moderation.Enabled)
	v.SetDefault("moderation.blocked_keywords", d.Moderation.BlockedKeywords)
	v.SetDefault("moderation.blocked_patterns", d.Moderation.BlockedPatterns)
}

func toDocument(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"data_dir": cfg.DataDir,
		"agent": map[string]interface{}{
			"binary":           cfg.Agent.Binary,
			"instructions_dir": cfg.Agent.InstructionsDir,
			"tool_config_path": cfg.Agent.ToolConfigPath,
			"extra_args":       nonNil(cfg.Agent.ExtraArgs),
			"flags":            cfg.Agent.Flags,
			"turn_timeout":     cfg.Agent.TurnTimeout.String(),
			"kill_grace":       cfg.Agent.KillGrace.String(),
		},
		"credentials": cfg.Credentials,
		"server": map[string]interface{}{
			"host":           cfg.Server.Host,
			"port":           cfg.Server.Port,
			"password_hash":  cfg.Server.PasswordHash,
			"storage_secret": cfg.Server.StorageSecret,
			"session_ttl":    cfg.Server.SessionTTL.String(),
			"audit_log":      cfg.Server.AuditLog,
		},
		"logging": cfg.Logging,
		"tracing": cfg.Tracing,
		"hooks": map[string]interface{}{
			"enabled": cfg.Hooks.Enabled,
			"hooks":   hookDocuments(cfg.Hooks.Hooks),
		},
		"moderation": map[string]interface{}{
			"enabled":          cfg.Moderation.Enabled,
			"blocked_keywords": nonNil(cfg.Moderation.BlockedKeywords),
			"blocked_patterns": nonNil(cfg.Moderation.BlockedPatterns),
		},
	}
}

func hookDocuments(hooks []HookConfig) []map[string]interface{} {
	docs := make([]map[string]interface{}, 0, len(hooks))
	for _, h := range hooks {
		docs = append(docs, map[string]interface{}{
			"id":      h.ID,
			"event":   h.Event,
			"script":  h.Script,
			"timeout": h.Timeout.String(),
			"enabled": h.Enabled,
		})
	}
	return docs
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
