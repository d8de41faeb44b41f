// Package compaction implements the Context Compactor & Summarizer
// (C6): token estimation, three-bucket tool-result summarization, and
// conversation-level compaction that folds the oldest assistant+tool
// pairs into a single synthesized Text part once a session crosses a
// configured high-water mark. Grounded on internal/agent/compaction.go
// (threshold/state-machine shape) and internal/agent/context's
// token/char budget packer.
package compaction

import (
	"encoding/json"

	"github.com/codesage-ai/codesage/pkg/models"
)

// toolPartFixedOverhead approximates the wrapper tokens an LLM provider
// spends rendering a tool part's envelope (role, id, name markers)
// beyond its raw JSON payload.
const toolPartFixedOverhead = 20

// EstimateTextTokens estimates the token count of a text blob as
// ceil(length/4), the same character-per-token heuristic embedclient
// uses for its own token-limit truncation.
func EstimateTextTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

// EstimatePartTokens estimates the token footprint of a single Part.
// Text and Reasoning parts use EstimateTextTokens on their content;
// Tool parts charge the tool name, a fixed overhead, and the serialized
// result length.
func EstimatePartTokens(p models.Part) int {
	switch p.Kind {
	case models.PartText, models.PartReasoning:
		return EstimateTextTokens(p.Text)
	case models.PartTool:
		resultLen := 0
		if p.ToolRawResult != nil {
			if data, err := json.Marshal(p.ToolRawResult); err == nil {
				resultLen = len(data)
			}
		} else if p.ToolSummary != "" {
			resultLen = len(p.ToolSummary)
		}
		return len(p.ToolName) + toolPartFixedOverhead + (resultLen+3)/4
	case models.PartGoal, models.PartProgress, models.PartTodo:
		return EstimateTextTokens(p.Label)
	default:
		return 0
	}
}

// EstimateMessageTokens sums EstimatePartTokens across a message's
// parts.
func EstimateMessageTokens(m *models.Message) int {
	total := 0
	for _, p := range m.Parts {
		total += EstimatePartTokens(p)
	}
	return total
}

// EstimateSessionTokens sums EstimateMessageTokens across every message
// in the session.
func EstimateSessionTokens(s *models.Session) int {
	total := 0
	for _, m := range s.Messages {
		total += EstimateMessageTokens(m)
	}
	return total
}
