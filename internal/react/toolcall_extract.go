package react

import (
	"strings"

	"github.com/codesage-ai/codesage/internal/llm"
)

// externalToolCall mirrors the textual tool-call JSON contract the LLM
// is prompted to emit: {tool: string, parameters: object}, exact field
// names, extra fields ignored.
type externalToolCall struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters"`
}

// ExtractToolCall looks for a single {tool, parameters} JSON object
// embedded in an LLM's textual output, tolerating surrounding prose and
// fenced code blocks, reusing llm.ExtractJSON's three-stage fallback
// verbatim. It returns ok=false when no valid object is present,
// meaning no tool call was made this step.
func ExtractToolCall(text string) (name string, params map[string]any, ok bool) {
	var parsed externalToolCall
	if err := llm.ExtractJSON(text, &parsed); err != nil {
		return "", nil, false
	}
	if strings.TrimSpace(parsed.Tool) == "" {
		return "", nil, false
	}
	if parsed.Parameters == nil {
		parsed.Parameters = map[string]any{}
	}
	return parsed.Tool, parsed.Parameters, true
}
