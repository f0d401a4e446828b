package audit

import (
	"encoding/json"
	"strings"
)

// Redacted replaces every secret value.
const Redacted = "***"

func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	return k == "csrf" || strings.Contains(k, "password")
}

// ScrubSecrets returns a JSON-normalised copy of data with secret values replaced at any depth.
// Values that cannot be encoded are stored as their error text so the event is still written.
func ScrubSecrets(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	return scrubMap(data)
}

func normalise(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, int, int64, map[string]any, []any:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return err.Error()
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}

func scrubMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSecretKey(k) {
			out[k] = Redacted
			continue
		}
		out[k] = scrubValue(normalise(v))
	}
	return out
}

func scrubValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return scrubMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = scrubValue(normalise(item))
		}
		return out
	default:
		return v
	}
}
