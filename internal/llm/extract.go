package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoJSON is returned when the output holds no complete JSON object.
var ErrNoJSON = errors.New("no JSON object found in response")

var (
	closedReasoning = regexp.MustCompile(`(?is)<(think|thinking|reasoning)>.*?</(think|thinking|reasoning|redacted_reasoning)>`)
	openReasoning   = regexp.MustCompile(`(?is)<(think|thinking|reasoning)>[^{]*`)
	codeFence       = regexp.MustCompile("```(?:json)?\\s*")
)

// ExtractJSON pulls the first complete JSON object out of model output.
// Reasoning blocks and markdown fences are removed before brace matching.
func ExtractJSON(content string) (json.RawMessage, error) {
	s := closedReasoning.ReplaceAllString(content, "")
	s = openReasoning.ReplaceAllString(s, "")
	s = codeFence.ReplaceAllString(s, "")

	start := strings.IndexByte(s, '{')
	if start < 0 {
		return nil, ErrNoJSON
	}
	s = s[start:]

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := s[:i+1]
				if !json.Valid([]byte(candidate)) {
					return nil, ErrNoJSON
				}
				return json.RawMessage(candidate), nil
			}
		}
	}
	return nil, ErrNoJSON
}
