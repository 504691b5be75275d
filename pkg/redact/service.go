// Package redact strips common PII patterns from free-text event attributes
// before they are serialized and shipped to the execution engine. Matches are
// replaced with typed placeholders; redaction counts are reported so the
// event log client can record them under _meta.
package redact

import (
	"fmt"
	"log/slog"
	"regexp"
)

// CompiledPattern is a pre-compiled redaction pattern with its placeholder.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Placeholder string
	Description string
}

// Pattern is an uncompiled redaction pattern, usually from configuration.
type Pattern struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Placeholder string `yaml:"placeholder"`
	Description string `yaml:"description,omitempty"`
}

// Service applies redaction to free-text fields. Created once at startup;
// thread-safe and stateless aside from compiled patterns.
type Service struct {
	patterns []*CompiledPattern
}

// builtinPatterns cover the common PII shapes. The phone pattern requires a
// separator after the area code, so unseparated digit runs fall through to
// the digit_run pattern and keep its placeholder.
func builtinPatterns() []Pattern {
	return []Pattern{
		{
			Name:        "email",
			Pattern:     `[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`,
			Placeholder: "[EMAIL]",
			Description: "Email addresses",
		},
		{
			Name:        "phone",
			Pattern:     `(?:\+?\d{1,3}[\s\-.])?\(?\d{3}\)?[\s\-.]\d{3}[\s\-.]?\d{4}`,
			Placeholder: "[PHONE]",
			Description: "US/international phone numbers",
		},
		{
			Name:        "digit_run",
			Pattern:     `\d{9,}`,
			Placeholder: "[NUMBER]",
			Description: "Long digit runs (account numbers, SSNs without separators)",
		},
	}
}

// NewService compiles the built-in patterns plus any custom patterns.
// Invalid custom patterns are logged and skipped, matching how the rest of
// the system treats bad configuration for optional features.
func NewService(custom []Pattern) *Service {
	s := &Service{}
	for _, p := range append(builtinPatterns(), custom...) {
		compiled, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile redaction pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		s.patterns = append(s.patterns, &CompiledPattern{
			Name:        p.Name,
			Regex:       compiled,
			Placeholder: p.Placeholder,
			Description: p.Description,
		})
	}
	slog.Info("Redaction service initialized", "patterns", len(s.patterns))
	return s
}

// Redact replaces all PII matches in text with typed placeholders and
// returns the redacted text plus per-pattern match counts. An empty map
// means the text was clean.
func (s *Service) Redact(text string) (string, map[string]int) {
	counts := make(map[string]int)
	for _, p := range s.patterns {
		matches := p.Regex.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		counts[p.Name] += len(matches)
		text = p.Regex.ReplaceAllString(text, p.Placeholder)
	}
	if len(counts) == 0 {
		return text, nil
	}
	return text, counts
}

// RedactAttributes redacts the named free-text keys in an attribute bag,
// mutating it in place. The returned counts aggregate across all keys and
// are suitable for recording under _meta.redactions.
func (s *Service) RedactAttributes(attrs map[string]any, keys []string) map[string]int {
	total := make(map[string]int)
	for _, key := range keys {
		raw, ok := attrs[key]
		if !ok {
			continue
		}
		text, ok := raw.(string)
		if !ok {
			continue
		}
		redacted, counts := s.Redact(text)
		if counts == nil {
			continue
		}
		attrs[key] = redacted
		for name, n := range counts {
			total[fmt.Sprintf("%s.%s", key, name)] += n
		}
	}
	if len(total) == 0 {
		return nil
	}
	return total
}
