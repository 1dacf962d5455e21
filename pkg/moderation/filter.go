package moderation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/harun/alzassist/internal/config"
)

// ErrBlocked is wrapped by every rejection from CheckPrompt
var ErrBlocked = errors.New("message blocked by moderation")

// ContentFilter checks user messages against configured keywords and
// patterns before they are sent to the agent.
type ContentFilter struct {
	enabled  bool
	keywords []string
	patterns []*regexp.Regexp
}

// New creates a content filter. Patterns use RE2 syntax.
func New(cfg config.ModerationConfig) (*ContentFilter, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.BlockedPatterns))
	for _, p := range cfg.BlockedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	keywords := make([]string, 0, len(cfg.BlockedKeywords))
	for _, kw := range cfg.BlockedKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}

	return &ContentFilter{
		enabled:  cfg.Enabled,
		keywords: keywords,
		patterns: patterns,
	}, nil
}

// CheckPrompt returns an error wrapping ErrBlocked if the prompt contains
// blocked content. A nil filter allows everything.
func (f *ContentFilter) CheckPrompt(prompt string) error {
	if f == nil || !f.enabled {
		return nil
	}

	normalized := strings.ToLower(prompt)
	for _, kw := range f.keywords {
		if strings.Contains(normalized, kw) {
			return fmt.Errorf("%w: contains blocked keyword %q", ErrBlocked, kw)
		}
	}
	for i, re := range f.patterns {
		if re.MatchString(prompt) {
			return fmt.Errorf("%w: matches blocked pattern #%d", ErrBlocked, i+1)
		}
	}
	return nil
}
