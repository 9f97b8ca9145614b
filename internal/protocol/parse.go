package protocol

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoStructuredResponse is returned when no JSON envelope can be
// recovered from the model output. Callers degrade to Fallback.
var ErrNoStructuredResponse = errors.New("no structured response in model output")

var (
	jsonFencePattern  = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")
	plainFencePattern = regexp.MustCompile("(?s)```\\s*(.*?)\\s*```")
	rollPattern       = regexp.MustCompile(`\[\[(\d+[dD]\d+[0-9+\-\s]*)\]\]`)
)

// Parse recovers an envelope from raw model output. Model output is
// adversarial with respect to formatting, so recovery runs in a fixed
// priority order: direct parse, ```json fence, plain fence, first
// balanced {...} span.
func Parse(text string) (*Response, error) {
	candidates := []string{text}
	if m := jsonFencePattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := plainFencePattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if span := balancedSpan(text); span != "" {
		candidates = append(candidates, span)
	}

	for _, c := range candidates {
		var resp Response
		if err := json.Unmarshal([]byte(strings.TrimSpace(c)), &resp); err == nil {
			return &resp, nil
		}
	}
	return nil, ErrNoStructuredResponse
}

// balancedSpan returns the first brace-balanced {...} span in text,
// or "" when none closes.
func balancedSpan(text string) string {
	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// InterceptRolls extracts every bracketed dice token ([[2d6+3]]) from
// the accumulated stream text, in order of appearance. Tokens can show
// up before the closing braces of the envelope, so this runs on
// partial text.
func InterceptRolls(text string) []string {
	matches := rollPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}
