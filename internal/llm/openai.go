package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codesage-ai/codesage/pkg/models"
)

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// OpenAIProvider adapts OpenAI's chat completions API to Provider
// using sashabaranov/go-openai.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
}

// NewOpenAIProvider builds a provider from cfg.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("llm: openai API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}

	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(conf),
		defaultModel: cfg.DefaultModel,
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// DefaultModel implements Provider.
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

// Complete implements Provider using OpenAI's streaming chat completion
// endpoint.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *Chunk, error) {
	messages := p.convertMessages(req)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	chatReq := openai.ChatCompletionRequest{
		Model:     p.modelOrDefault(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    true,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertOpenAITools(req.Tools)
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("llm: openai stream creation failed: %w", err)
	}

	chunks := make(chan *Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		type pendingCall struct {
			id, name, args string
		}
		pending := map[int]*pendingCall{}

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				chunks <- &Chunk{Done: true}
				return
			}
			if err != nil {
				chunks <- &Chunk{Error: fmt.Errorf("llm: openai stream error: %w", err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			choice := resp.Choices[0]
			if choice.Delta.Content != "" {
				chunks <- &Chunk{Text: choice.Delta.Content}
			}
			for _, tc := range choice.Delta.ToolCalls {
				idx := 0
				if tc.Index != nil {
					idx = *tc.Index
				}
				pc, ok := pending[idx]
				if !ok {
					pc = &pendingCall{}
					pending[idx] = pc
				}
				if tc.ID != "" {
					pc.id = tc.ID
				}
				if tc.Function.Name != "" {
					pc.name = tc.Function.Name
				}
				pc.args += tc.Function.Arguments
			}
			if choice.FinishReason == openai.FinishReasonToolCalls {
				for _, pc := range pending {
					var params map[string]any
					_ = json.Unmarshal([]byte(pc.args), &params)
					chunks <- &Chunk{ToolCall: &models.ToolCall{ID: pc.id, ToolName: pc.name, Parameters: params}}
				}
			}
		}
	}()

	return chunks, nil
}

func (p *OpenAIProvider) modelOrDefault(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func (p *OpenAIProvider) convertMessages(req *CompletionRequest) []openai.ChatCompletionMessage {
	var out []openai.ChatCompletionMessage
	if req.System != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		role := openai.ChatMessageRoleUser
		switch msg.Role {
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		case "tool":
			role = openai.ChatMessageRoleTool
		}
		out = append(out, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
		for _, tr := range msg.ToolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleTool,
				Content: tr.DisplayContent,
			})
		}
	}
	return out
}

func convertOpenAITools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		props := make(map[string]any, len(t.Parameters))
		var required []string
		for _, p := range t.Parameters {
			props[p.Name] = map[string]any{"type": p.Type, "description": p.Description}
			if p.Required {
				required = append(required, p.Name)
			}
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters: map[string]any{
					"type":       "object",
					"properties": props,
					"required":   required,
				},
			},
		})
	}
	return out
}
