package media

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed sanitize_rules.yaml
var defaultRules []byte

type ruleFile struct {
	Rules []struct {
		Pattern     string `yaml:"pattern"`
		Replacement string `yaml:"replacement"`
	} `yaml:"rules"`
}

type rule struct {
	re          *regexp.Regexp
	replacement string
}

// Sanitizer rewrites phrases that music providers reject.
type Sanitizer struct {
	rules []rule
}

// NewSanitizer parses a YAML rule list. Patterns are compiled case-insensitive.
func NewSanitizer(data []byte) (*Sanitizer, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sanitize rules: %w", err)
	}
	s := &Sanitizer{rules: make([]rule, 0, len(file.Rules))}
	for i, r := range file.Rules {
		if strings.TrimSpace(r.Pattern) == "" {
			return nil, fmt.Errorf("sanitize rule %d: empty pattern", i)
		}
		re, err := regexp.Compile("(?i)" + r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("sanitize rule %d: %w", i, err)
		}
		s.rules = append(s.rules, rule{re: re, replacement: r.Replacement})
	}
	return s, nil
}

// DefaultSanitizer returns the embedded rule set.
func DefaultSanitizer() *Sanitizer {
	s, err := NewSanitizer(defaultRules)
	if err != nil {
		panic(err)
	}
	return s
}

// Sanitize applies every rule in order and trims the result.
func (s *Sanitizer) Sanitize(prompt string) string {
	out := prompt
	for _, r := range s.rules {
		out = r.re.ReplaceAllLiteralString(out, r.replacement)
	}
	return strings.TrimSpace(out)
}

// Len reports how many rules are loaded.
func (s *Sanitizer) Len() int { return len(s.rules) }
