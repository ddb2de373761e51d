package governance

import (
	"fmt"
	"regexp"

	"github.com/antigravity-dev/agentco/internal/apperr"
)

// secretPattern is one entry in the redaction pattern library: a named
// kind and the regex that matches it in outgoing governed text.
type secretPattern struct {
	kind    string
	pattern *regexp.Regexp
}

var secretPatterns = []secretPattern{
	{"anthropic_api_key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{20,}`)},
	{"openai_api_key", regexp.MustCompile(`sk-[A-Za-z0-9]{32,}`)},
	{"bearer_token", regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._-]{10,}`)},
	{"basic_auth", regexp.MustCompile(`(?i)basic\s+[A-Za-z0-9+/=]{10,}`)},
	{"jwt", regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)},
	{"github_pat", regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{20,}`)},
	{"url_userinfo", regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^/\s:@]+:[^/\s:@]+@`)},
	{"generic_key_value", regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*[:=]\s*['"]?[A-Za-z0-9_./+-]{8,}['"]?`)},
}

// SecretDetectedError carries enough detail for a caller to explain why
// a write was refused without leaking the matched text itself.
type SecretDetectedError struct {
	Label         string
	TotalMatches  int
	MatchesByKind map[string]int
}

func (e *SecretDetectedError) Error() string {
	return fmt.Sprintf("governance: %s contains %d likely secret(s)", e.Label, e.TotalMatches)
}

// AssertNoSensitiveText scans text for the redaction pattern library and
// returns a *SecretDetectedError (wrapped as apperr.KindSecret) on any
// match. The caller must not persist the write.
func AssertNoSensitiveText(text, label string) error {
	byKind := make(map[string]int)
	total := 0
	for _, p := range secretPatterns {
		matches := p.pattern.FindAllString(text, -1)
		if len(matches) == 0 {
			continue
		}
		byKind[p.kind] += len(matches)
		total += len(matches)
	}
	if total == 0 {
		return nil
	}
	return apperr.Wrap(apperr.KindSecret, "secret detected", &SecretDetectedError{
		Label:         label,
		TotalMatches:  total,
		MatchesByKind: byKind,
	})
}

// RedactSensitiveText replaces every pattern match with a fixed
// placeholder, used to sanitize share-pack output that must not carry
// secrets even when the source write was already rejected upstream.
func RedactSensitiveText(text string) string {
	out := text
	for _, p := range secretPatterns {
		out = p.pattern.ReplaceAllString(out, "[REDACTED:"+p.kind+"]")
	}
	return out
}

// RedactJSONValue walks an arbitrary decoded JSON value and redacts every
// string leaf, used when building share-pack payloads from event
// envelopes whose payload shape isn't known ahead of time.
func RedactJSONValue(v any) any {
	switch val := v.(type) {
	case string:
		return RedactSensitiveText(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			out[k] = RedactJSONValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = RedactJSONValue(vv)
		}
		return out
	default:
		return v
	}
}
