package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Validator runs checks that go beyond the JSON schema
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePasswordHash accepts an empty hash (open access) or a bcrypt hash
func (v *Validator) ValidatePasswordHash(hash string) error {
	if hash == "" {
		return nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("server.password_hash is not a bcrypt hash: %w", err)
	}
	return nil
}

// ValidateBaseURL validates the agent API endpoint
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("credentials.base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("credentials.base_url must be http or https, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("credentials.base_url has no host: %q", raw)
	}
	return nil
}

// ValidateInstructionsDir checks that dir exists and is a directory
func (v *Validator) ValidateInstructionsDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("agent.instructions_dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("agent.instructions_dir %s is not a directory", dir)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig collects every problem instead of stopping at the first
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateInstructionsDir(cfg.Agent.InstructionsDir); err != nil {
		errs = append(errs, err)
	}
	if cfg.Agent.InstructionsDir != "" {
		if _, err := os.Stat(filepath.Join(cfg.Agent.InstructionsDir, "CLAUDE.md")); err != nil {
			errs = append(errs, fmt.Errorf("agent.instructions_dir has no CLAUDE.md: %w", err))
		}
	}
	if err := v.ValidateBaseURL(cfg.Credentials.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidatePasswordHash(cfg.Server.PasswordHash); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
