package react

import (
	"fmt"
	"sort"
	"strings"
)

// Canonicalize normalizes a tool-call parameter map for fingerprinting:
// lowercase keys, sorted by key, null/empty values stripped, string
// values trimmed, and path separators normalized to "/".
func Canonicalize(params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		key := strings.ToLower(strings.TrimSpace(k))
		if isEmptyValue(v) {
			continue
		}
		out[key] = normalizeValue(v)
	}
	return out
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return strings.ReplaceAll(strings.TrimSpace(val), "\\", "/")
	default:
		return val
	}
}

// Fingerprint renders a stable string key for (toolName, canonicalized
// params), used to detect the repeated-identical-call doom loop within
// one turn.
func Fingerprint(toolName string, params map[string]any) string {
	canon := Canonicalize(params)
	keys := make([]string, 0, len(canon))
	for k := range canon {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(strings.ToLower(strings.TrimSpace(toolName)))
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, canon[k])
	}
	return b.String()
}
