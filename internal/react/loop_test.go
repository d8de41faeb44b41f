package react

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/codesage-ai/codesage/internal/llm"
	"github.com/codesage-ai/codesage/internal/toolkit"
	"github.com/codesage-ai/codesage/pkg/models"
)

// scriptedProvider replays a fixed sequence of responses, one per Chat
// call, so a test can script an exact multi-step conversation without a
// live LLM. Each response is either a plain text final answer or a
// tool-call JSON blob.
type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.Chunk, error) {
	p.mu.Lock()
	idx := p.calls
	p.calls++
	p.mu.Unlock()

	var text string
	if idx < len(p.responses) {
		text = p.responses[idx]
	} else {
		text = "no more scripted responses"
	}

	ch := make(chan *llm.Chunk, 2)
	ch <- &llm.Chunk{Text: text}
	ch <- &llm.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string         { return "scripted" }
func (p *scriptedProvider) DefaultModel() string { return "scripted-model" }

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// repeatingProvider always emits the same response, for duplicate-stall
// testing.
type repeatingProvider struct {
	response string
	calls    int32
}

func (p *repeatingProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.Chunk, error) {
	atomic.AddInt32(&p.calls, 1)
	ch := make(chan *llm.Chunk, 2)
	ch <- &llm.Chunk{Text: p.response}
	ch <- &llm.Chunk{Done: true}
	close(ch)
	return ch, nil
}

func (p *repeatingProvider) Name() string         { return "repeating" }
func (p *repeatingProvider) DefaultModel() string { return "repeating-model" }

func toolCallJSON(tool string, params map[string]any) string {
	b, _ := json.Marshal(map[string]any{"tool": tool, "parameters": params})
	return string(b)
}

// fakeSearchTool always succeeds, echoing its query parameter.
type fakeSearchTool struct{ calls int32 }

func (t *fakeSearchTool) Name() string { return "semantic_search" }
func (t *fakeSearchTool) Params() []models.ToolParamSpec {
	return []models.ToolParamSpec{{Name: "query", Type: "string", Required: true}}
}
func (t *fakeSearchTool) Execute(ctx context.Context, params map[string]any) (*models.ToolResult, error) {
	atomic.AddInt32(&t.calls, 1)
	return &models.ToolResult{
		Success: true,
		Data:    fmt.Sprintf("found PaymentService matching %v", params["query"]),
	}, nil
}

func newTestLoop(t *testing.T, provider llm.Provider, cfg Config) (*Loop, *toolkit.Executor) {
	t.Helper()
	registry := toolkit.NewRegistry()
	if err := registry.Register(&fakeSearchTool{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	executor := toolkit.NewExecutor(registry, toolkit.DefaultExecutorConfig())
	svc := llm.NewService(provider)
	cfg.RunAcknowledgementPreCall = false // keep the scripted response sequence deterministic
	loop := New(cfg, svc, executor, nil, nil)
	return loop, executor
}

type capturingSink struct {
	mu    sync.Mutex
	parts []models.Part
}

func (s *capturingSink) Emit(p models.Part) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.parts = append(s.parts, p)
}

func newSession() *models.Session {
	return &models.Session{ID: "sess-1", ProjectKey: "proj"}
}

// Scenario A: a single-hop question resolved in one tool call followed
// by a final answer.
func TestLoop_SingleHopQuestionResolvesInOneToolCall(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		toolCallJSON("semantic_search", map[string]any{"query": "PaymentService"}),
		"PaymentService handles payment processing.",
	}}
	loop, _ := newTestLoop(t, provider, DefaultConfig())

	session := newSession()
	sink := &capturingSink{}
	msg, err := loop.Process(context.Background(), session, "what does PaymentService do?", sink)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := msg.Text(); !containsSubstring(got, "PaymentService") {
		t.Fatalf("final answer = %q, want it to mention PaymentService", got)
	}
	if provider.callCount() != 2 {
		t.Fatalf("provider called %d times, want 2 (one tool step + one final answer)", provider.callCount())
	}
}

// Property 2: a Tool part's recorded state transitions are always a
// prefix of Pending -> Running -> {Completed, Error}, never skipping or
// reversing.
func TestLoop_ToolPartStateTransitionsAreMonotonic(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		toolCallJSON("semantic_search", map[string]any{"query": "x"}),
		"done",
	}}
	loop, _ := newTestLoop(t, provider, DefaultConfig())

	session := newSession()
	sink := &capturingSink{}
	msg, err := loop.Process(context.Background(), session, "q", sink)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	var toolPart *models.Part
	for i := range msg.Parts {
		if msg.Parts[i].Kind == models.PartTool {
			toolPart = &msg.Parts[i]
		}
	}
	if toolPart == nil {
		t.Fatal("expected a Tool part in the final assistant message")
	}
	if toolPart.ToolState != models.ToolCompleted {
		t.Fatalf("final tool state = %s, want %s", toolPart.ToolState, models.ToolCompleted)
	}

	seen := map[models.ToolPartState]bool{}
	for _, p := range sink.parts {
		if p.Kind == models.PartTool {
			seen[p.ToolState] = true
		}
	}
	if !seen[models.ToolPending] || !seen[models.ToolRunning] || !seen[models.ToolCompleted] {
		t.Fatalf("sink did not observe the full Pending->Running->Completed sequence: %v", seen)
	}
}

// Scenario B: a tool called repeatedly with identical canonicalized
// parameters halts the turn once the duplicate threshold is exceeded.
func TestLoop_DuplicateStallHaltsAfterThreshold(t *testing.T) {
	provider := &repeatingProvider{response: toolCallJSON("semantic_search", map[string]any{"query": "same"})}
	cfg := DefaultConfig()
	cfg.DuplicateThreshold = 3
	cfg.MaxSteps = 10
	loop, _ := newTestLoop(t, provider, cfg)

	session := newSession()
	sink := &capturingSink{}
	msg, err := loop.Process(context.Background(), session, "loop forever", sink)

	if err != ErrDuplicateStall {
		t.Fatalf("Process() error = %v, want ErrDuplicateStall", err)
	}
	if !IsKind(err, KindDuplicateStall) {
		t.Fatalf("IsKind(err, KindDuplicateStall) = false")
	}
	// 4 identical calls trigger the stall: the 4th repeat (count=4 with
	// threshold=3) aborts before executing, so the provider is called
	// exactly 4 times (one per tool step) before the stall is detected.
	if got := atomic.LoadInt32(&provider.calls); got != 4 {
		t.Fatalf("provider called %d times, want 4", got)
	}
	if len(msg.Parts) == 0 {
		t.Fatal("expected the assistant message to explain the halt")
	}
}

// Property 13: with MaxSteps=1, the loop performs at most one tool call
// before finalizing (here, by exhausting its step budget).
func TestLoop_MaxStepsOneLimitsToSingleToolCall(t *testing.T) {
	provider := &repeatingProvider{response: toolCallJSON("semantic_search", map[string]any{"query": "x"})}
	cfg := DefaultConfig()
	cfg.MaxSteps = 1
	loop, _ := newTestLoop(t, provider, cfg)

	session := newSession()
	sink := &capturingSink{}
	_, err := loop.Process(context.Background(), session, "q", sink)

	if !IsKind(err, KindFatal) {
		t.Fatalf("Process() error = %v, want a KindFatal max-steps error", err)
	}
	if got := atomic.LoadInt32(&provider.calls); got != 1 {
		t.Fatalf("provider called %d times, want exactly 1", got)
	}
}

// Property 10: calling Process twice with identical input against a
// fresh session/tool state each time produces the same set of tool-call
// fingerprints.
func TestLoop_RepeatedProcessCallsProduceIdenticalFingerprints(t *testing.T) {
	newScript := func() *scriptedProvider {
		return &scriptedProvider{responses: []string{
			toolCallJSON("semantic_search", map[string]any{"query": "PaymentService"}),
			"final answer",
		}}
	}

	fingerprintsOf := func() []string {
		provider := newScript()
		loop, _ := newTestLoop(t, provider, DefaultConfig())
		session := newSession()
		sink := &capturingSink{}
		if _, err := loop.Process(context.Background(), session, "what does PaymentService do?", sink); err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		var fps []string
		for _, m := range session.Messages {
			for _, p := range m.Parts {
				if p.Kind == models.PartTool {
					fps = append(fps, Fingerprint(p.ToolName, p.ToolParameters))
				}
			}
		}
		return fps
	}

	a := fingerprintsOf()
	b := fingerprintsOf()
	if len(a) != len(b) || len(a) == 0 {
		t.Fatalf("fingerprint sets differ in length: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("fingerprint[%d] = %q, want %q", i, b[i], a[i])
		}
	}
}

// runToolStep must retain the full raw result only on the most recent
// tool call within a turn, folding every earlier one down to its
// summary.
func TestLoop_OnlyMostRecentToolCallRetainsRawResult(t *testing.T) {
	provider := &scriptedProvider{responses: []string{
		toolCallJSON("semantic_search", map[string]any{"query": "first"}),
		toolCallJSON("semantic_search", map[string]any{"query": "second"}),
		"final answer",
	}}
	loop, _ := newTestLoop(t, provider, DefaultConfig())

	session := newSession()
	sink := &capturingSink{}
	msg, err := loop.Process(context.Background(), session, "q", sink)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	var toolParts []*models.Part
	for i := range msg.Parts {
		if msg.Parts[i].Kind == models.PartTool {
			toolParts = append(toolParts, &msg.Parts[i])
		}
	}
	if len(toolParts) != 2 {
		t.Fatalf("got %d tool parts, want 2", len(toolParts))
	}
	if toolParts[0].ToolRawResult != nil {
		t.Fatal("earlier tool call must have its raw result folded away")
	}
	if toolParts[0].ToolSummary == "" {
		t.Fatal("earlier tool call must still retain its summary")
	}
	if toolParts[1].ToolRawResult == nil {
		t.Fatal("most recent tool call must retain its raw result")
	}
}

func containsSubstring(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (haystack == needle || (len(needle) > 0 && indexOf(haystack, needle) >= 0))
}

func indexOf(haystack, needle string) int {
	n, m := len(haystack), len(needle)
	for i := 0; i+m <= n; i++ {
		if haystack[i:i+m] == needle {
			return i
		}
	}
	return -1
}
