// Package llm abstracts over Large Language Model backends (C5): a
// single streaming completion interface implemented by an Anthropic and
// an OpenAI adapter, plus a JSON-mode extraction helper shared by the
// Reasoning-Acting Loop's tool-call parsing and the Self-Evolution
// Loop's question generation.
package llm

import (
	"context"

	"github.com/codesage-ai/codesage/pkg/models"
)

// Provider is implemented by each LLM backend. Implementations must be
// safe for concurrent use; the Reasoning-Acting Loop and the
// Self-Evolution Loop may call Complete concurrently for unrelated
// sessions.
type Provider interface {
	// Complete sends req and streams the response as Chunks on the
	// returned channel. The channel is closed when the stream ends;
	// the final chunk sets Done or Error.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error)
	// Name is the stable provider identifier ("anthropic", "openai").
	Name() string
	// DefaultModel is used when CompletionRequest.Model is empty.
	DefaultModel() string
}

// CompletionRequest is a single request to an LLM backend.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []ToolSpec
	MaxTokens int
	// JSONMode, when true, instructs the provider to constrain output
	// to a single JSON value (used by structured-output callers such
	// as question generation and tool-call extraction).
	JSONMode bool
}

// CompletionMessage is one turn of conversation passed to the provider.
// Role is "user", "assistant", or "tool".
type CompletionMessage struct {
	Role        string
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// ToolSpec is the provider-agnostic description of a callable tool,
// derived from a toolkit.Tool's Name/Params at request time.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  []models.ToolParamSpec
}

// Chunk is one increment of a streaming completion.
type Chunk struct {
	Text         string
	ToolCall     *models.ToolCall
	Done         bool
	Error        error
	InputTokens  int
	OutputTokens int
}

// Collect drains a Chunk stream into a single accumulated text response
// and the tool calls seen along the way. It is the non-streaming
// convenience path used by callers (question generation, summarization)
// that only want the final result.
func Collect(chunks <-chan *Chunk) (text string, calls []models.ToolCall, err error) {
	for c := range chunks {
		if c.Error != nil {
			return text, calls, c.Error
		}
		if c.Text != "" {
			text += c.Text
		}
		if c.ToolCall != nil {
			calls = append(calls, *c.ToolCall)
		}
		if c.Done {
			break
		}
	}
	return text, calls, nil
}
