package react

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/codesage-ai/codesage/internal/cache"
	"github.com/codesage-ai/codesage/internal/compaction"
	"github.com/codesage-ai/codesage/internal/embedclient"
	"github.com/codesage-ai/codesage/internal/llm"
	"github.com/codesage-ai/codesage/internal/toolkit"
	"github.com/codesage-ai/codesage/internal/vectorstore"
	"github.com/codesage-ai/codesage/pkg/models"
)

// Config configures a Loop.
type Config struct {
	// MaxSteps bounds the main iteration. Default 25.
	MaxSteps int
	// DuplicateThreshold is the number of identical fingerprints allowed
	// before the (threshold+1)-th repeat aborts the turn. Default 3.
	DuplicateThreshold int
	// MaxTokens bounds each LLM completion call.
	MaxTokens int
	// CompactionThreshold/CompactionMaxTokens configure the C6 pass run
	// at the top of every iteration.
	CompactionThreshold int
	CompactionMaxTokens int
	// Persona seeds the system prompt's opening paragraph.
	Persona string
	// Skills lists loaded skill names appended to the system prompt.
	Skills []string
	// ContextTopK bounds how many vectorstore hits feed the per-project
	// context summary. Default 5.
	ContextTopK int
	// RunAcknowledgementPreCall enables step 2's advisory classification
	// call. Default true.
	RunAcknowledgementPreCall bool

	Logger *slog.Logger
}

// DefaultConfig returns the documented Reasoning-Acting Loop defaults.
func DefaultConfig() Config {
	return Config{
		MaxSteps:                  25,
		DuplicateThreshold:        3,
		MaxTokens:                 4096,
		CompactionThreshold:       8000,
		CompactionMaxTokens:       4000,
		ContextTopK:               5,
		RunAcknowledgementPreCall: true,
	}
}

// Loop is the Reasoning-Acting Loop driver (C7).
type Loop struct {
	cfg           Config
	llmSvc        *llm.Service
	executor      *toolkit.Executor
	compactor     *compaction.Compactor
	resultSummary *compaction.ResultSummary
	store         *vectorstore.Store   // optional: project context + semantic recall
	embed         *embedclient.Client  // optional: embeds the question for store.Search
}

// New builds a Loop. store and embed may be nil, in which case no
// per-project context summary is seeded into the system prompt.
func New(cfg Config, llmSvc *llm.Service, executor *toolkit.Executor, store *vectorstore.Store, embed *embedclient.Client) *Loop {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 25
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = 3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.ContextTopK <= 0 {
		cfg.ContextTopK = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		cfg:           cfg,
		llmSvc:        llmSvc,
		executor:      executor,
		compactor:     compaction.New(compaction.Config{Threshold: cfg.CompactionThreshold, MaxTokens: cfg.CompactionMaxTokens}),
		resultSummary: &compaction.ResultSummary{LLM: simpleSummarizerAdapter{llmSvc}},
		store:         store,
		embed:         embed,
	}
}

type simpleSummarizerAdapter struct{ svc *llm.Service }

func (a simpleSummarizerAdapter) Summarize(ctx context.Context, system, prompt string) (string, error) {
	return a.svc.Simple(ctx, system, prompt)
}

// Process appends userInput as a user message to session, then drives
// the bounded reason-act-observe iteration, streaming Parts to sink as
// they're produced. It returns the final assistant message and a
// Kind-carrying *Error when the turn didn't end in a plain final
// answer.
func (l *Loop) Process(ctx context.Context, session *models.Session, userInput string, sink Sink) (*models.Message, error) {
	if sink == nil {
		sink = SinkFunc(func(models.Part) {})
	}

	userMsg := &models.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Parts:     []models.Part{models.NewTextPart(userInput)},
		CreatedAt: time.Now(),
	}
	session.AppendMessage(userMsg)

	systemPrompt := l.buildSystemPrompt(ctx, session.ProjectKey, userInput)

	if l.cfg.RunAcknowledgementPreCall {
		l.runAcknowledgement(ctx, systemPrompt, userInput, sink)
	}

	assistantMsg := &models.Message{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		CreatedAt: time.Now(),
	}

	repeats := cache.NewRepeatCounter()

	for step := 0; step < l.cfg.MaxSteps; step++ {
		working := l.compactor.Compact(session)

		messages := make([]llm.CompletionMessage, 0, len(working.Messages)+1)
		for _, m := range working.Messages {
			messages = append(messages, llm.ToMessage(*m))
		}
		// assistantMsg accumulates this turn's Tool parts and only joins
		// session.Messages once the turn finalizes, so it must be appended
		// here too or the model never observes what its own prior steps
		// in this same turn returned.
		if len(assistantMsg.Parts) > 0 {
			messages = append(messages, llm.ToMessage(*assistantMsg))
		}

		chunks, err := l.llmSvc.Chat(ctx, systemPrompt, messages, nil, l.cfg.MaxTokens)
		if err != nil {
			return l.finalizeError(session, assistantMsg, sink, err)
		}

		text, streamErr := l.drainStream(chunks, sink)
		if streamErr != nil {
			return l.finalizeError(session, assistantMsg, sink, streamErr)
		}

		toolName, params, found := ExtractToolCall(text)
		if !found {
			textPart := models.NewTextPart(text)
			assistantMsg.Parts = append(assistantMsg.Parts, textPart)
			sink.Emit(textPart)
			session.AppendMessage(assistantMsg)
			return assistantMsg, nil
		}

		fp := Fingerprint(toolName, params)
		count := repeats.Increment(fp)
		if count > l.cfg.DuplicateThreshold {
			return l.finalizeDuplicateStall(session, assistantMsg, toolName, sink)
		}

		l.runToolStep(ctx, assistantMsg, toolName, params, userInput, sink)
	}

	finalText := models.NewTextPart("Reached the maximum number of steps for this turn without a final answer.")
	assistantMsg.Parts = append(assistantMsg.Parts, finalText)
	sink.Emit(finalText)
	session.AppendMessage(assistantMsg)
	return assistantMsg, New(KindFatal, "react: max steps exhausted without a final answer")
}

// drainStream forwards every non-empty Text chunk to sink as an
// incremental Text part (arrival order preserved) and accumulates the
// full response for tool-call extraction. A mid-stream Error chunk
// (e.g. a dropped connection) is surfaced as a partial-stream error.
func (l *Loop) drainStream(chunks <-chan *llm.Chunk, sink Sink) (string, error) {
	var text string
	for c := range chunks {
		if c.Error != nil {
			return text, Wrap(KindTransientNetwork, "react: LLM stream failed mid-turn", c.Error)
		}
		if c.Text != "" {
			text += c.Text
			sink.Emit(models.NewTextPart(c.Text))
		}
		if c.Done {
			break
		}
	}
	return text, nil
}

func (l *Loop) runAcknowledgement(ctx context.Context, systemPrompt, userInput string, sink Sink) {
	var out struct {
		Classification turnClass `json:"classification"`
		Reasoning      string    `json:"reasoning"`
	}
	prompt := fmt.Sprintf("Classify this user turn as chat, needs-consult, or has-clear-target, with one sentence of reasoning. Respond as JSON {\"classification\":..,\"reasoning\":..}.\n\nUser turn: %s", userInput)
	if err := l.llmSvc.JSON(ctx, systemPrompt, prompt, &out); err != nil {
		return // advisory only; never blocks the next step
	}
	if out.Classification != classChat && out.Reasoning != "" {
		sink.Emit(models.NewReasoningPart(out.Reasoning))
	}
}

// runToolStep executes one tool call end to end: Pending -> Running ->
// {Completed, Error}, folding every earlier Tool part in assistantMsg
// down to its summary so only the most recent call retains its full
// raw result. A tool failure is a data signal fed back to the LLM on
// the next iteration, not a turn-ending error — it never aborts the
// loop (the duplicate-stall threshold is the only thing that does).
func (l *Loop) runToolStep(ctx context.Context, assistantMsg *models.Message, toolName string, params map[string]any, userQuestion string, sink Sink) {
	part := models.NewPendingToolPart(toolName, params)
	assistantMsg.Parts = append(assistantMsg.Parts, part)
	idx := len(assistantMsg.Parts) - 1
	sink.Emit(assistantMsg.Parts[idx])

	assistantMsg.Parts[idx].Transition(models.ToolRunning)
	sink.Emit(assistantMsg.Parts[idx])

	result := l.executor.Execute(ctx, models.ToolCall{ID: uuid.New().String(), ToolName: toolName, Parameters: params})

	next := models.ToolCompleted
	if !result.Result.Success {
		next = models.ToolError
	}
	assistantMsg.Parts[idx].Transition(next)
	assistantMsg.Parts[idx].ToolRawResult = result.Result
	assistantMsg.Parts[idx].ToolRelatedFiles = result.Result.RelatedFilePaths

	raw, _ := json.Marshal(result.Result)
	assistantMsg.Parts[idx].ToolSummary = l.resultSummary.Summarize(ctx, toolName, userQuestion, string(raw), result.Result.RelatedFilePaths)

	sink.Emit(assistantMsg.Parts[idx])

	for i := 0; i < idx; i++ {
		if assistantMsg.Parts[i].Kind == models.PartTool {
			assistantMsg.Parts[i].ToolRawResult = nil
		}
	}

	if !result.Result.Success {
		l.cfg.Logger.Warn("react: tool call failed, feeding error back to the LLM", "tool", toolName, "error", result.Result.Error)
	}
}

func (l *Loop) finalizeDuplicateStall(session *models.Session, assistantMsg *models.Message, toolName string, sink Sink) (*models.Message, error) {
	text := models.NewTextPart(fmt.Sprintf("Stopping: the tool %q was called repeatedly with identical parameters without making progress.", toolName))
	assistantMsg.Parts = append(assistantMsg.Parts, text)
	sink.Emit(text)
	session.AppendMessage(assistantMsg)
	return assistantMsg, ErrDuplicateStall
}

func (l *Loop) finalizeError(session *models.Session, assistantMsg *models.Message, sink Sink, err error) (*models.Message, error) {
	text := models.NewTextPart(fmt.Sprintf("An error interrupted this turn: %s", err.Error()))
	assistantMsg.Parts = append(assistantMsg.Parts, text)
	sink.Emit(text)
	session.AppendMessage(assistantMsg)
	return assistantMsg, err
}

func (l *Loop) buildSystemPrompt(ctx context.Context, projectKey, userInput string) string {
	prompt := l.cfg.Persona
	if prompt == "" {
		prompt = "You are CodeSage, an autonomous code-analysis agent. Answer precisely and cite file paths when relevant."
	}

	if l.store != nil && l.embed != nil && userInput != "" {
		if vector, _, err := l.embed.Embed(ctx, userInput); err == nil {
			if hits, err := l.store.Search(ctx, projectKey, vector, l.cfg.ContextTopK); err == nil && len(hits) > 0 {
				prompt += "\n\nRelevant project context:\n"
				for _, h := range hits {
					prompt += fmt.Sprintf("- %s: %s\n", h.Fragment.Title, h.Fragment.Content)
				}
			}
		}
	}

	if len(l.cfg.Skills) > 0 {
		prompt += "\n\nLoaded skills:\n"
		for _, s := range l.cfg.Skills {
			prompt += "- " + s + "\n"
		}
	}

	return prompt
}
