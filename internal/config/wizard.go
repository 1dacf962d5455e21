package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/bcrypt"
)

// Wizard asks for the settings needed to serve the web front-end
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{reader: bufio.NewReader(in), out: out}
}

// Run walks through the prompts, starting from base (or the defaults)
func (w *Wizard) Run(base *Config) (*Config, error) {
	cfg := base
	if cfg == nil {
		cfg = DefaultConfig()
	}
	validator := NewValidator()

	fmt.Fprintln(w.out, "=== alzassist configuration ===")
	fmt.Fprintln(w.out)

	for {
		def := cfg.Server.Port
		if def == 0 {
			def = 8080
		}
		answer, err := w.ask(fmt.Sprintf("Port [%d]: ", def))
		if err != nil {
			return nil, err
		}
		if answer == "" {
			cfg.Server.Port = def
			break
		}
		port, err := strconv.Atoi(answer)
		if err != nil || port <= 0 || port > 65535 {
			fmt.Fprintf(w.out, "Error: invalid port %q\n", answer)
			continue
		}
		cfg.Server.Port = port
		break
	}

	secret, err := w.ask("Storage secret (press Enter to generate): ")
	if err != nil {
		return nil, err
	}
	if secret == "" {
		if secret, err = gonanoid.New(48); err != nil {
			return nil, fmt.Errorf("failed to generate storage secret: %w", err)
		}
		fmt.Fprintln(w.out, "Generated a random storage secret.")
	}
	cfg.Server.StorageSecret = secret

	password, err := w.ask("Login password (press Enter for open access): ")
	if err != nil {
		return nil, err
	}
	if password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		cfg.Server.PasswordHash = string(hash)
	} else {
		cfg.Server.PasswordHash = ""
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Agent:")
	for {
		dir, err := w.ask(fmt.Sprintf("Instructions directory (holds CLAUDE.md) [%s]: ", cfg.Agent.InstructionsDir))
		if err != nil {
			return nil, err
		}
		if dir == "" {
			break
		}
		if err := validator.ValidateInstructionsDir(dir); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Agent.InstructionsDir = dir
		break
	}

	toolConfig, err := w.ask(fmt.Sprintf("Tool config file [%s]: ", cfg.Agent.ToolConfigPath))
	if err != nil {
		return nil, err
	}
	if toolConfig != "" {
		cfg.Agent.ToolConfigPath = toolConfig
	}

	tokenFile, err := w.ask(fmt.Sprintf("Auth token file [%s]: ", cfg.Credentials.AuthTokenFile))
	if err != nil {
		return nil, err
	}
	if tokenFile != "" {
		cfg.Credentials.AuthTokenFile = tokenFile
	}

	fmt.Fprintln(w.out)
	level, err := w.ask(fmt.Sprintf("Log level (debug/info/warn/error) [%s]: ", cfg.Logging.Level))
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Logging.Level)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")
	return cfg, nil
}

func (w *Wizard) ask(prompt string) (string, error) {
	fmt.Fprint(w.out, prompt)
	line, err := w.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
