package models

import "time"

// ToolCall is a single invocation request produced by the LLM: a tool
// name plus a parameter map extracted from its textual output.
type ToolCall struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// ToolResult is the outcome of executing a ToolCall. Exactly one of
// Data or Error is meaningful, discriminated by Success.
type ToolResult struct {
	Success          bool           `json:"success"`
	Data             any            `json:"data,omitempty"`
	DisplayTitle     string         `json:"display_title,omitempty"`
	DisplayContent   string         `json:"display_content,omitempty"`
	Error            string         `json:"error,omitempty"`
	ExecutionTimeMs  int64          `json:"execution_time_ms"`
	RelatedFilePaths []string       `json:"related_file_paths,omitempty"`
	RelativePath     string         `json:"relative_path,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// ToolStreamChunk is one incremental segment of a streaming tool's
// output, tagged by stream so stdout/stderr interleaving survives the
// trip to a caller-supplied sink in arrival order.
type ToolStreamChunk struct {
	Stream    string    `json:"stream"` // "stdout" or "stderr"
	Data      string    `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolParamSpec declares one parameter a Tool accepts.
type ToolParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "string", "number", "boolean", "object", "array"
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}
