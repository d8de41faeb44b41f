package llm

import (
	"context"
	"fmt"

	"github.com/codesage-ai/codesage/pkg/models"
)

// Service wraps a Provider with the convenience call shapes used
// throughout CodeSage: a plain-text ask, a JSON-mode structured ask,
// and a tool-augmented chat turn. The Reasoning-Acting Loop and the
// Self-Evolution Loop both depend on Service rather than talking to a
// Provider directly.
type Service struct {
	provider Provider
}

// NewService wraps provider.
func NewService(provider Provider) *Service {
	return &Service{provider: provider}
}

// Provider returns the underlying Provider, for callers that need
// provider-specific metadata (Name, DefaultModel).
func (s *Service) Provider() Provider { return s.provider }

// Simple sends a single user turn with an optional system prompt and
// returns the accumulated text response.
func (s *Service) Simple(ctx context.Context, system, prompt string) (string, error) {
	chunks, err := s.provider.Complete(ctx, &CompletionRequest{
		System:   system,
		Messages: []CompletionMessage{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	text, _, err := Collect(chunks)
	return text, err
}

// JSON sends a JSON-mode request and unmarshals the response into out
// via ExtractJSON's three-stage fallback.
func (s *Service) JSON(ctx context.Context, system, prompt string, out any) error {
	chunks, err := s.provider.Complete(ctx, &CompletionRequest{
		System:   system,
		Messages: []CompletionMessage{{Role: "user", Content: prompt}},
		JSONMode: true,
	})
	if err != nil {
		return err
	}
	text, _, err := Collect(chunks)
	if err != nil {
		return err
	}
	if err := ExtractJSON(text, out); err != nil {
		return fmt.Errorf("llm: JSON call failed: %w", err)
	}
	return nil
}

// Chat sends a full conversation with tools available and returns the
// streaming channel directly, for callers (the ReAct loop) that need to
// observe tool calls as they arrive rather than waiting for Collect.
func (s *Service) Chat(ctx context.Context, system string, messages []CompletionMessage, tools []ToolSpec, maxTokens int) (<-chan *Chunk, error) {
	return s.provider.Complete(ctx, &CompletionRequest{
		System:    system,
		Messages:  messages,
		Tools:     tools,
		MaxTokens: maxTokens,
	})
}

// ToMessage converts a models.Message into the provider-agnostic
// CompletionMessage shape. Every Tool part that has reached a terminal
// state folds its summary (or error) into Content as an observation, so
// a completed or failed tool call is never invisible on the next turn.
// The provider-native ToolCalls/ToolResults fields are left empty.
func ToMessage(m models.Message) CompletionMessage {
	cm := CompletionMessage{Role: string(m.Role), Content: m.Text()}
	for _, part := range m.Parts {
		if part.Kind != models.PartTool {
			continue
		}
		switch part.ToolState {
		case models.ToolCompleted, models.ToolError:
			observation := part.ToolSummary
			if observation == "" && part.ToolRawResult != nil {
				observation = part.ToolRawResult.Error
			}
			cm.Content += fmt.Sprintf("\n\n[result of %s]\n%s", part.ToolName, observation)
		}
	}
	return cm
}
