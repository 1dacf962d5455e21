package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config is the alzassist configuration file
type Config struct {
	Agent       AgentConfig       `json:"agent" mapstructure:"agent"`
	Credentials CredentialsConfig `json:"credentials" mapstructure:"credentials"`
	Server      ServerConfig      `json:"server" mapstructure:"server"`
	Logging     LoggingConfig     `json:"logging" mapstructure:"logging"`
	Tracing     TracingConfig     `json:"tracing" mapstructure:"tracing"`
	Hooks       HooksConfig       `json:"hooks" mapstructure:"hooks"`
	Moderation  ModerationConfig  `json:"moderation" mapstructure:"moderation"`

	// DataDir holds the log and audit files by default
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AgentConfig describes how the external agent CLI is invoked
type AgentConfig struct {
	Binary          string        `json:"binary" mapstructure:"binary"`
	InstructionsDir string        `json:"instructions_dir" mapstructure:"instructions_dir"` // holds CLAUDE.md
	ToolConfigPath  string        `json:"tool_config_path" mapstructure:"tool_config_path"`
	ExtraArgs       []string      `json:"extra_args" mapstructure:"extra_args"`
	Flags           FlagsConfig   `json:"flags" mapstructure:"flags"`
	TurnTimeout     time.Duration `json:"turn_timeout" mapstructure:"turn_timeout"`
	KillGrace       time.Duration `json:"kill_grace" mapstructure:"kill_grace"`
}

// FlagsConfig overrides individual agent flag names. Empty fields keep the
// claude CLI defaults.
type FlagsConfig struct {
	Print           string `json:"print" mapstructure:"print"`
	SkipPermissions string `json:"skip_permissions" mapstructure:"skip_permissions"`
	SessionID       string `json:"session_id" mapstructure:"session_id"`
	Resume          string `json:"resume" mapstructure:"resume"`
	ToolConfig      string `json:"tool_config" mapstructure:"tool_config"`
}

// CredentialsConfig is exported into the process environment before the
// agent is first launched.
type CredentialsConfig struct {
	AuthTokenFile string `json:"auth_token_file" mapstructure:"auth_token_file"`
	BaseURL       string `json:"base_url" mapstructure:"base_url"`
	Model         string `json:"model" mapstructure:"model"`
}

// ServerConfig holds the web front-end settings
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host"`
	Port          int           `json:"port" mapstructure:"port"`
	PasswordHash  string        `json:"password_hash" mapstructure:"password_hash"` // bcrypt; empty disables login
	StorageSecret string        `json:"storage_secret" mapstructure:"storage_secret"`
	SessionTTL    time.Duration `json:"session_ttl" mapstructure:"session_ttl"`
	AuditLog      string        `json:"audit_log" mapstructure:"audit_log"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// HooksConfig runs shell scripts on turn and server lifecycle events
type HooksConfig struct {
	Enabled bool         `json:"enabled" mapstructure:"enabled"`
	Hooks   []HookConfig `json:"hooks" mapstructure:"hooks"`
}

// HookConfig is one script bound to an event such as turn:completed
type HookConfig struct {
	ID      string        `json:"id" mapstructure:"id"`
	Event   string        `json:"event" mapstructure:"event"`
	Script  string        `json:"script" mapstructure:"script"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
}

// ModerationConfig blocks prompts before they reach the agent
type ModerationConfig struct {
	Enabled         bool     `json:"enabled" mapstructure:"enabled"`
	BlockedKeywords []string `json:"blocked_keywords" mapstructure:"blocked_keywords"`
	BlockedPatterns []string `json:"blocked_patterns" mapstructure:"blocked_patterns"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Binary:          "claude",
			InstructionsDir: ".",
			ToolConfigPath:  "mcp_config.json",
			ExtraArgs:       []string{},
			TurnTimeout:     10 * time.Minute,
			KillGrace:       5 * time.Second,
		},
		Credentials: CredentialsConfig{
			AuthTokenFile: "~/cborg_alz.key",
			BaseURL:       "https://api.cborg.lbl.gov",
			Model:         "anthropic/claude-sonnet",
		},
		Server: ServerConfig{
			Host:       "0.0.0.0",
			SessionTTL: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "alzassist",
			SampleRatio: 1,
		},
		Hooks: HooksConfig{
			Hooks: []HookConfig{},
		},
		Moderation: ModerationConfig{
			BlockedKeywords: []string{},
			BlockedPatterns: []string{},
		},
	}
}

// Addr returns the listen address of the web front-end
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// String returns a JSON representation with secrets masked
func (c *Config) String() string {
	masked := *c
	if masked.Server.PasswordHash != "" {
		masked.Server.PasswordHash = "***"
	}
	if masked.Server.StorageSecret != "" {
		masked.Server.StorageSecret = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks the settings every command needs. Server settings are
// checked by ValidateServer, since only serve requires them.
func (c *Config) Validate() error {
	if c.Agent.Binary == "" {
		return fmt.Errorf("agent.binary is required")
	}
	if c.Agent.TurnTimeout < 0 {
		return fmt.Errorf("agent.turn_timeout must be >= 0")
	}
	if c.Agent.KillGrace < 0 {
		return fmt.Errorf("agent.kill_grace must be >= 0")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}
	for i, h := range c.Hooks.Hooks {
		if h.Timeout < 0 {
			return fmt.Errorf("hooks.hooks[%d].timeout must be >= 0", i)
		}
	}
	return nil
}

// ValidateServer checks the settings required to start the web front-end
func (c *Config) ValidateServer() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be set to a value between 1 and 65535")
	}
	if c.Server.StorageSecret == "" {
		return fmt.Errorf("server.storage_secret must be set")
	}
	if c.Server.SessionTTL <= 0 {
		return fmt.Errorf("server.session_ttl must be positive")
	}
	return nil
}
