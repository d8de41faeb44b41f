package models

import "time"

// PartKind discriminates the tagged Part variant.
type PartKind string

const (
	PartText      PartKind = "text"
	PartReasoning PartKind = "reasoning"
	PartTool      PartKind = "tool"
	PartGoal      PartKind = "goal"
	PartProgress  PartKind = "progress"
	PartTodo      PartKind = "todo"
)

// ToolPartState is the monotonic state of a Tool part. Transitions only
// move forward: Pending -> Running -> {Completed, Error}. Once terminal,
// callers may still attach a Summary but must not revisit State.
type ToolPartState string

const (
	ToolPending   ToolPartState = "pending"
	ToolRunning   ToolPartState = "running"
	ToolCompleted ToolPartState = "completed"
	ToolError     ToolPartState = "error"
)

// CanTransitionTo reports whether moving from the receiver to next is a
// legal forward-only transition: Pending -> Running -> {Completed, Error}.
// Terminal states never transition further.
func (s ToolPartState) CanTransitionTo(next ToolPartState) bool {
	switch s {
	case ToolPending:
		return next == ToolRunning
	case ToolRunning:
		return next == ToolCompleted || next == ToolError
	default:
		return false
	}
}

// Part is a single addressable unit of a Message. Exactly the fields
// relevant to Kind are meaningful; the rest are zero-valued.
type Part struct {
	Kind PartKind `json:"kind"`

	// Text / Reasoning
	Text string `json:"text,omitempty"`

	// Tool
	ToolName          string          `json:"tool_name,omitempty"`
	ToolParameters    map[string]any  `json:"tool_parameters,omitempty"`
	ToolState         ToolPartState   `json:"tool_state,omitempty"`
	ToolRawResult     *ToolResult     `json:"tool_raw_result,omitempty"`
	ToolSummary       string          `json:"tool_summary,omitempty"`
	ToolRelatedFiles  []string        `json:"tool_related_files,omitempty"`

	// Goal / Progress / Todo
	Label   string `json:"label,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Done    bool   `json:"done,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewTextPart builds a Text part.
func NewTextPart(text string) Part {
	return Part{Kind: PartText, Text: text, CreatedAt: time.Now()}
}

// NewReasoningPart builds a Reasoning part, hidden from tool-call parsing.
func NewReasoningPart(text string) Part {
	return Part{Kind: PartReasoning, Text: text, CreatedAt: time.Now()}
}

// NewPendingToolPart builds a Tool part in its initial Pending state.
func NewPendingToolPart(name string, params map[string]any) Part {
	return Part{
		Kind:           PartTool,
		ToolName:       name,
		ToolParameters: params,
		ToolState:      ToolPending,
		CreatedAt:      time.Now(),
	}
}

// Transition advances a Tool part's state in place. It returns false
// (and leaves the part untouched) if the transition is not a legal
// forward move.
func (p *Part) Transition(next ToolPartState) bool {
	if p.Kind != PartTool {
		return false
	}
	if !p.ToolState.CanTransitionTo(next) {
		return false
	}
	p.ToolState = next
	return true
}
