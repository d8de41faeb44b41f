// Package evolution implements the Self-Evolution Loop (C10): a
// per-project background worker that cycles
// CheckingBackoff -> GeneratingQuestion -> Exploring -> Summarizing ->
// Persisting -> sleep, persisting its phase synchronously at every
// transition so a crash mid-cycle resumes rather than restarts.
// Grounded on internal/cron/scheduler.go's Start/Stop cooperative
// worker shape (a started bool guarded by a mutex, a
// sync.WaitGroup-tracked goroutine selecting on ctx.Done()).
package evolution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codesage-ai/codesage/internal/doomloop"
	"github.com/codesage-ai/codesage/internal/embedclient"
	"github.com/codesage-ai/codesage/internal/llm"
	"github.com/codesage-ai/codesage/internal/observability"
	"github.com/codesage-ai/codesage/internal/question"
	"github.com/codesage-ai/codesage/internal/react"
	"github.com/codesage-ai/codesage/internal/staterepo"
	"github.com/codesage-ai/codesage/internal/vectorstore"
	"github.com/codesage-ai/codesage/pkg/models"
)

// Config parameterizes one project's evolution worker.
type Config struct {
	ProjectKey string
	// TickInterval is how long the worker sleeps between completed
	// cycles. Default 5 minutes.
	TickInterval time.Duration
	// MaxExplorationSteps caps the react.Loop step budget the Exploring
	// phase is allowed, tighter than an interactive session's default.
	MaxExplorationSteps int
	// TechStack/KnowledgeGaps seed question.Context for the Generator.
	TechStack     []string
	KnowledgeGaps []string

	Logger *slog.Logger
}

// DefaultConfig returns the documented evolution-loop defaults.
func DefaultConfig(projectKey string) Config {
	return Config{ProjectKey: projectKey, TickInterval: 5 * time.Minute, MaxExplorationSteps: 8}
}

// Loop drives one project's background exploration worker.
type Loop struct {
	cfg       Config
	guard     *doomloop.Guard
	generator *question.Generator
	explorer  *react.Loop
	repo      staterepo.Repository
	now       func() time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup

	statusMu sync.RWMutex
	status   models.EvolutionState

	// Prom is an optional Prometheus sink. Nil by default; set it after
	// construction to start emitting codesage_evolution_cycles_total.
	Prom *observability.Metrics

	// LLM, if set, drives the Summarizing phase's confidence/tags/domain
	// synthesis. Nil falls back to a deterministic heuristic, which is
	// what the unit tests exercise.
	LLM *llm.Service
	// Store/Embed, if both set, index every persisted LearningRecord into
	// the Tiered Vector Store as a FragmentLearningRecord fragment whose
	// id mirrors the record's id. Either nil disables indexing.
	Store *vectorstore.Store
	Embed *embedclient.Client
}

// New builds a Loop for one project. explorer drives the Exploring
// phase and must already be configured with MaxSteps <=
// cfg.MaxExplorationSteps by the caller: the Self-Evolution Loop reuses
// the same Reasoning-Acting Loop the interactive chat path uses, just
// under a tighter step budget.
func New(cfg Config, guard *doomloop.Guard, generator *question.Generator, explorer *react.Loop, repo staterepo.Repository) *Loop {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Minute
	}
	if cfg.MaxExplorationSteps <= 0 {
		cfg.MaxExplorationSteps = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		cfg:       cfg,
		guard:     guard,
		generator: generator,
		explorer:  explorer,
		repo:      repo,
		now:       time.Now,
		logger:    logger,
		status:    models.EvolutionState{ProjectKey: cfg.ProjectKey, Phase: models.PhaseIdle},
	}
}

// Status returns a snapshot of the loop's current resumable state.
func (l *Loop) Status() models.EvolutionState {
	l.statusMu.RLock()
	defer l.statusMu.RUnlock()
	return l.status
}

// Start restores any persisted state and launches the background
// worker goroutine. It is idempotent: calling Start twice is a no-op.
func (l *Loop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = true
	l.mu.Unlock()

	initial, err := l.restore(ctx)
	if err != nil {
		return fmt.Errorf("evolution: restore state: %w", err)
	}
	l.setStatus(initial)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.run(ctx, initial)
	}()
	return nil
}

// Stop waits for the worker goroutine to return, or for ctx to be
// cancelled first.
func (l *Loop) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// restore loads any persisted EvolutionState for this project, or
// returns a fresh Idle state if none has ever been saved.
func (l *Loop) restore(ctx context.Context) (models.EvolutionState, error) {
	if l.repo == nil {
		return models.EvolutionState{ProjectKey: l.cfg.ProjectKey, Phase: models.PhaseIdle}, nil
	}
	state, err := l.repo.LoadEvolutionState(ctx, l.cfg.ProjectKey)
	if err != nil {
		return models.EvolutionState{}, err
	}
	if state == nil {
		return models.EvolutionState{ProjectKey: l.cfg.ProjectKey, Phase: models.PhaseIdle}, nil
	}
	return *state, nil
}

func (l *Loop) setStatus(s models.EvolutionState) {
	l.statusMu.Lock()
	l.status = s
	l.statusMu.Unlock()
}

// persist synchronously writes s before proceeding to the next phase,
// satisfying the resumability invariant: no phase transition is allowed
// to race ahead of its own durable record.
func (l *Loop) persist(ctx context.Context, s models.EvolutionState) error {
	s.LastUpdatedAt = l.now()
	l.setStatus(s)
	if l.repo == nil {
		return nil
	}
	return l.repo.SaveEvolutionState(ctx, &s)
}

// run is the worker loop body: one cycle per tick, resuming in-flight
// work on the very first iteration if state.Phase.Resumable().
func (l *Loop) run(ctx context.Context, state models.EvolutionState) {
	for {
		next, err := l.cycle(ctx, state)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			l.logger.Error("evolution cycle failed", "project", l.cfg.ProjectKey, "error", err)
		}
		state = next

		ticker := time.NewTimer(l.cfg.TickInterval)
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C:
		}
	}
}

// cycle advances state through exactly one full
// CheckingBackoff -> GeneratingQuestion -> Exploring -> Summarizing ->
// Persisting pass, resuming mid-phase when state already represents an
// in-flight exploration (scenario E: crash/resume).
func (l *Loop) cycle(ctx context.Context, state models.EvolutionState) (models.EvolutionState, error) {
	if !state.Phase.Resumable() {
		state.Phase = models.PhaseCheckingBackoff
		if err := l.persist(ctx, state); err != nil {
			return state, err
		}
	}

	if state.Phase == models.PhaseCheckingBackoff {
		decision := l.guard.ShouldSkipQuestion(ctx, l.cfg.ProjectKey)
		if decision.Skip {
			l.Prom.ObserveEvolutionCycle("skipped")
			state.Phase = models.PhaseIdle
			state.StopReason = string(decision.Reason)
			return state, l.persist(ctx, state)
		}
		if !l.guard.ReserveQuota(ctx, l.cfg.ProjectKey) {
			state.Phase = models.PhaseIdle
			state.StopReason = "quota exhausted"
			return state, l.persist(ctx, state)
		}
		state.Phase = models.PhaseGeneratingQuestion
		if err := l.persist(ctx, state); err != nil {
			return state, err
		}
	}

	if state.Phase == models.PhaseGeneratingQuestion {
		candidates, err := l.generator.Generate(ctx, question.Context{
			ProjectKey:    l.cfg.ProjectKey,
			TechStack:     l.cfg.TechStack,
			KnowledgeGaps: l.cfg.KnowledgeGaps,
		})
		if err != nil || len(candidates) == 0 {
			l.guard.RefundQuota(ctx, l.cfg.ProjectKey)
			state.Phase = models.PhaseIdle
			state.StopReason = "no question candidates"
			return state, l.persist(ctx, state)
		}
		chosen := candidates[0]
		hash := question.QuestionHash(chosen.Question)
		l.guard.RecordQuestionHash(ctx, l.cfg.ProjectKey, hash)

		state.CurrentQuestion = chosen.Question
		state.CurrentQuestionHash = hash
		state.ExplorationProgress = 0
		state.PartialSteps = nil
		state.PendingAnswer = ""
		state.PendingConfidence = 0
		state.PendingSourceFiles = nil
		state.PendingTags = nil
		state.PendingDomain = ""
		state.Phase = models.PhaseExploring
		if err := l.persist(ctx, state); err != nil {
			return state, err
		}
	}

	var answer string
	if state.Phase == models.PhaseExploring {
		session := &models.Session{ID: uuid.New().String(), ProjectKey: l.cfg.ProjectKey, CreatedAt: l.now(), UpdatedAt: l.now()}

		// Resuming mid-exploration (scenario E): seed the prior steps as
		// an already-observed assistant turn so the driver continues from
		// where it crashed instead of redoing s1, s2, ...
		steps := append([]models.ToolCallStep(nil), state.PartialSteps...)
		if len(steps) > 0 {
			session.AppendMessage(resumedStepsMessage(session.ID, steps))
		}

		// persistErr latches the first persist failure from inside the
		// sink so a write failure mid-exploration still surfaces, instead
		// of being silently swallowed by the fire-and-forget callback.
		var persistErr error
		sink := react.SinkFunc(func(p models.Part) {
			if p.Kind != models.PartTool {
				return
			}
			if p.ToolState != models.ToolCompleted && p.ToolState != models.ToolError {
				return
			}
			step := models.ToolCallStep{
				ToolName:      p.ToolName,
				Parameters:    p.ToolParameters,
				ResultSummary: p.ToolSummary,
				Success:       p.ToolState == models.ToolCompleted,
				RelatedFiles:  p.ToolRelatedFiles,
				Timestamp:     l.now(),
			}
			if p.ToolRawResult != nil {
				step.DurationMs = p.ToolRawResult.ExecutionTimeMs
			}
			steps = append(steps, step)
			state.PartialSteps = steps
			state.ExplorationProgress = len(steps)
			if err := l.persist(ctx, state); err != nil && persistErr == nil {
				persistErr = err
			}
		})

		reply, err := l.explorer.Process(ctx, session, state.CurrentQuestion, sink)
		if err == nil {
			err = persistErr
		}
		if err != nil {
			l.guard.RecordFailure(ctx, l.cfg.ProjectKey)
			if l.repo != nil {
				_ = l.repo.SaveFailureRecord(ctx, &models.FailureRecord{
					ID: uuid.New().String(), ProjectKey: l.cfg.ProjectKey, CreatedAt: l.now(),
					Question: state.CurrentQuestion, Reason: err.Error(), Phase: string(models.PhaseExploring),
				})
			}
			l.Prom.ObserveEvolutionCycle("failure")
			state.Phase = models.PhaseIdle
			state.StopReason = err.Error()
			state.TotalIterations++
			return state, l.persist(ctx, state)
		}
		if reply != nil {
			answer = reply.Text()
		}
		state.PartialSteps = steps
		state.ExplorationProgress = len(steps)
		state.PendingAnswer = answer
		state.Phase = models.PhaseSummarizing
		if err := l.persist(ctx, state); err != nil {
			return state, err
		}
	}

	if state.Phase == models.PhaseSummarizing {
		l.summarize(ctx, &state, state.PendingAnswer)
		state.Phase = models.PhasePersisting
		if err := l.persist(ctx, state); err != nil {
			return state, err
		}
	}

	if state.Phase == models.PhasePersisting {
		record := &models.LearningRecord{
			ID:              uuid.New().String(),
			ProjectKey:      l.cfg.ProjectKey,
			CreatedAt:       l.now(),
			Question:        state.CurrentQuestion,
			Answer:          state.PendingAnswer,
			ExplorationPath: append([]models.ToolCallStep(nil), state.PartialSteps...),
			Confidence:      state.PendingConfidence,
			SourceFiles:     state.PendingSourceFiles,
			Tags:            state.PendingTags,
			Domain:          state.PendingDomain,
		}
		if l.repo != nil {
			_ = l.repo.SaveLearningRecord(ctx, record)
		}
		l.index(ctx, record)
		l.Prom.ObserveEvolutionCycle("success")
		l.guard.RecordSuccess(ctx, l.cfg.ProjectKey)
		state.TotalIterations++
		state.SuccessfulIterations++
		state.Phase = models.PhaseIdle
		state.StopReason = ""
		state.CurrentQuestion = ""
		state.CurrentQuestionHash = ""
		state.ExplorationProgress = 0
		state.PartialSteps = nil
		state.PendingAnswer = ""
		state.PendingConfidence = 0
		state.PendingSourceFiles = nil
		state.PendingTags = nil
		state.PendingDomain = ""
		if err := l.persist(ctx, state); err != nil {
			return state, err
		}
	}

	return state, nil
}

// resumedStepsMessage replays already-persisted ToolCallStep entries as a
// terminal assistant message, so a resumed exploration observes s1, s2,
// ... exactly as the driver would have on the first pass.
func resumedStepsMessage(sessionID string, steps []models.ToolCallStep) *models.Message {
	msg := &models.Message{ID: uuid.New().String(), SessionID: sessionID, Role: models.RoleAssistant, CreatedAt: time.Now()}
	for _, step := range steps {
		part := models.NewPendingToolPart(step.ToolName, step.Parameters)
		part.Transition(models.ToolRunning)
		next := models.ToolCompleted
		if !step.Success {
			next = models.ToolError
		}
		part.Transition(next)
		part.ToolSummary = step.ResultSummary
		part.ToolRelatedFiles = step.RelatedFiles
		msg.Parts = append(msg.Parts, part)
	}
	return msg
}

// summarize synthesizes the Summarizing phase's LearningRecord fields
// into state.Pending*, so a crash before Persisting still resumes with
// the synthesized answer intact. SourceFiles is always the deduplicated
// union of every step's RelatedFiles; Confidence/Tags/Domain come from
// l.LLM when set, or a deterministic heuristic otherwise.
func (l *Loop) summarize(ctx context.Context, state *models.EvolutionState, answer string) {
	state.PendingAnswer = answer

	seen := make(map[string]bool)
	var sourceFiles []string
	for _, step := range state.PartialSteps {
		for _, f := range step.RelatedFiles {
			if !seen[f] {
				seen[f] = true
				sourceFiles = append(sourceFiles, f)
			}
		}
	}
	sort.Strings(sourceFiles)
	state.PendingSourceFiles = sourceFiles

	if l.LLM != nil {
		var out struct {
			Confidence float64  `json:"confidence"`
			Tags       []string `json:"tags"`
			Domain     string   `json:"domain"`
		}
		prompt := fmt.Sprintf(
			"Given this question and the answer an exploration produced, rate confidence in [0,1], "+
				"propose up to 5 short tags, and name the single best domain label. "+
				"Respond as JSON {\"confidence\":..,\"tags\":[..],\"domain\":..}.\n\nQuestion: %s\n\nAnswer: %s",
			state.CurrentQuestion, answer,
		)
		if err := l.LLM.JSON(ctx, "You are CodeSage's exploration summarizer.", prompt, &out); err == nil {
			state.PendingConfidence = out.Confidence
			state.PendingTags = out.Tags
			state.PendingDomain = out.Domain
			return
		}
	}

	state.PendingConfidence = heuristicConfidence(answer, state.PartialSteps)
	state.PendingTags = nil
	state.PendingDomain = ""
}

// heuristicConfidence is the deterministic fallback used when no LLM is
// wired for synthesis: a non-empty answer backed by at least one
// successful tool call is treated as reasonably confident, an answer
// with no exploration trace at all as low-confidence.
func heuristicConfidence(answer string, steps []models.ToolCallStep) float64 {
	if strings.TrimSpace(answer) == "" {
		return 0
	}
	for _, step := range steps {
		if step.Success {
			return 0.6
		}
	}
	if len(steps) > 0 {
		return 0.3
	}
	return 0.5
}

// index embeds record's question and answer and upserts it into the
// Tiered Vector Store as a FragmentLearningRecord fragment, with id
// mirrored from the record's own id. A nil Store or Embed disables
// indexing entirely; an embed/upsert failure is logged, not fatal, since
// the record itself is already durably persisted by this point.
func (l *Loop) index(ctx context.Context, record *models.LearningRecord) {
	if l.Store == nil || l.Embed == nil {
		return
	}
	text := record.Question + "\n\n" + record.Answer
	vector, _, err := l.Embed.Embed(ctx, text)
	if err != nil {
		l.logger.Warn("evolution: embed learning record failed", "project", l.cfg.ProjectKey, "id", record.ID, "error", err)
		return
	}
	frag := &models.EmbeddingFragment{
		ID:      record.ID,
		Vector:  vector,
		Title:   record.Question,
		Content: record.Answer,
		Tags:    record.Tags,
		Metadata: models.FragmentMetadata{
			Type:       models.FragmentLearningRecord,
			ProjectKey: l.cfg.ProjectKey,
			Extra:      map[string]any{"domain": record.Domain, "confidence": record.Confidence},
		},
	}
	if err := l.Store.Upsert(ctx, frag); err != nil {
		l.logger.Warn("evolution: upsert learning record fragment failed", "project", l.cfg.ProjectKey, "id", record.ID, "error", err)
	}
}
