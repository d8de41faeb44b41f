package compaction

import (
	"fmt"
	"strings"
	"time"

	"github.com/codesage-ai/codesage/pkg/models"
)

// Config controls Compactor.Compact.
type Config struct {
	// Threshold is the token high-water mark that must be crossed before
	// compaction does anything at all.
	Threshold int
	// MaxTokens is the target ceiling Compact tries to bring the session
	// under by folding the oldest assistant+tool pairs.
	MaxTokens int
}

// Compactor folds the oldest assistant+tool message pairs of a Session
// into single synthesized Text parts once its estimated token count
// crosses Config.Threshold, always preserving the latest user turn
// verbatim. Adapted from CompactionManager's threshold/state-machine
// shape, retargeted from session-level flush-prompting to a synchronous
// fold-and-return operation.
type Compactor struct {
	cfg Config
}

// New builds a Compactor.
func New(cfg Config) *Compactor {
	return &Compactor{cfg: cfg}
}

// Compact returns a new Session with the oldest assistant+tool pairs
// folded down until the estimate is at or below MaxTokens, or the
// original session unchanged if it was already at or under Threshold.
// The latest user turn — the final message in the session, together
// with every message after the last user message — is always preserved
// byte-identical.
func (c *Compactor) Compact(session *models.Session) *models.Session {
	if EstimateSessionTokens(session) <= c.cfg.Threshold {
		return session
	}

	preserveFrom := lastUserMessageIndex(session.Messages)
	out := &models.Session{
		ID:              session.ID,
		ProjectKey:      session.ProjectKey,
		ParentSessionID: session.ParentSessionID,
		Messages:        append([]*models.Message(nil), session.Messages...),
		CreatedAt:       session.CreatedAt,
		UpdatedAt:       session.UpdatedAt,
	}

	for estimateMessages(out.Messages) > c.cfg.MaxTokens {
		idx := oldestFoldableAssistantIndex(out.Messages, preserveFrom)
		if idx < 0 {
			break
		}
		out.Messages[idx] = foldMessage(out.Messages[idx])
	}

	return out
}

func estimateMessages(msgs []*models.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessageTokens(m)
	}
	return total
}

// lastUserMessageIndex returns the index of the last user-role message,
// or len(msgs) if none exists (nothing is foldable).
func lastUserMessageIndex(msgs []*models.Message) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return i
		}
	}
	return len(msgs)
}

// oldestFoldableAssistantIndex finds the earliest assistant message
// before preserveFrom that hasn't already been folded into a single
// synthesized Text part.
func oldestFoldableAssistantIndex(msgs []*models.Message, preserveFrom int) int {
	for i := 0; i < preserveFrom && i < len(msgs); i++ {
		m := msgs[i]
		if m.Role != models.RoleAssistant {
			continue
		}
		if len(m.Parts) == 1 && m.Parts[0].Kind == models.PartText && strings.HasPrefix(m.Parts[0].Text, foldedMarker) {
			continue
		}
		return i
	}
	return -1
}

const foldedMarker = "[compacted] "

// foldMessage replaces an assistant message's parts with a single
// synthesized Text part preserving key decisions and learned facts:
// its own text/reasoning content plus a one-line note per tool call
// naming the tool and whether it succeeded.
func foldMessage(m *models.Message) *models.Message {
	var b strings.Builder
	b.WriteString(foldedMarker)

	for _, p := range m.Parts {
		switch p.Kind {
		case models.PartText, models.PartReasoning:
			if p.Text != "" {
				b.WriteString(p.Text)
				b.WriteString(" ")
			}
		case models.PartTool:
			status := "ok"
			if p.ToolRawResult != nil && !p.ToolRawResult.Success {
				status = "failed"
			}
			summary := p.ToolSummary
			if summary == "" && p.ToolRawResult != nil {
				summary = p.ToolRawResult.DisplayTitle
			}
			fmt.Fprintf(&b, "[%s:%s %s] ", p.ToolName, status, summary)
		}
	}

	return &models.Message{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      m.Role,
		Parts:     []models.Part{{Kind: models.PartText, Text: strings.TrimSpace(b.String()), CreatedAt: time.Now()}},
		CreatedAt: m.CreatedAt,
	}
}
