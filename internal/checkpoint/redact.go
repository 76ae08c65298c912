package checkpoint

import (
	"encoding/json"
	"regexp"

	"github.com/pocketomega/omega-core/internal/safety"
)

// sensitiveKeyRe matches object keys whose value is replaced outright,
// regardless of its shape. The key rule is defined here; string values are
// masked through the safety package's pattern scanner.
var sensitiveKeyRe = regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api_key|apikey|auth|credential|private|key|bearer|jwt|session|cookie|authorization)`)

// redactJSON walks payload recursively and returns a copy with secrets
// removed: object values whose key matches sensitiveKeyRe are replaced with
// "[REDACTED]"; every remaining string value is passed through the secret
// pattern scanner so embedded credentials (not just whole-value secrets)
// are masked too.
func redactJSON(payload []byte) json.RawMessage {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		// Not valid JSON (shouldn't happen — we always marshal it ourselves)
		// — return as-is rather than fail the write.
		return payload
	}
	redacted := redactValue(v)
	out, err := json.Marshal(redacted)
	if err != nil {
		return payload
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, vv := range val {
			if sensitiveKeyRe.MatchString(k) {
				out[k] = "[REDACTED]"
				continue
			}
			out[k] = redactValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, vv := range val {
			out[i] = redactValue(vv)
		}
		return out
	case string:
		return safety.RedactString(val)
	default:
		return val
	}
}
