// Package doomloop implements the Doom-Loop Guard (C8): per-project
// exponential backoff, daily exploration quotas, and repeated-question
// detection for the Self-Evolution Loop. Grounded on
// internal/backoff/policy.go's capped-exponential formula (generalized
// here from jittered-continuous to a discrete doubling-then-cap curve)
// and internal/cache/ring.go's ConsecutiveRing for the duplicate-
// question window, persisted through staterepo.Repository so state
// survives a restart.
package doomloop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/codesage-ai/codesage/internal/backoff"
	"github.com/codesage-ai/codesage/internal/cache"
	"github.com/codesage-ai/codesage/internal/observability"
	"github.com/codesage-ai/codesage/pkg/models"
)

// SkipReason explains why ShouldSkipQuestion returned skip=true.
type SkipReason string

const (
	ReasonNone           SkipReason = ""
	ReasonWithinBackoff  SkipReason = "within backoff"
	ReasonDailyQuota     SkipReason = "daily quota"
	ReasonDuplicateStall SkipReason = "duplicate question"
)

// Decision is the result of a ShouldSkipQuestion check.
type Decision struct {
	Skip             bool
	Reason           SkipReason
	RemainingBackoff time.Duration
}

// Config parameterizes the Guard's backoff curve and daily budget.
type Config struct {
	// BaseMs/CapMs parameterize backoffUntil = now + min(CapMs, BaseMs*2^(errors-1)).
	BaseMs int64
	CapMs  int64
	// DailyQuota bounds explorations per project per calendar day.
	DailyQuota int
	// DuplicateWindow is how many consecutive identical question
	// hashes trigger a duplicate stall. Default 3.
	DuplicateWindow int
	// Timezone names the zone daily quota resets roll over in.
	// Default UTC.
	Timezone string
	// Now is overridable for deterministic tests.
	Now func() time.Time
}

// DefaultConfig returns the documented doomloop defaults.
func DefaultConfig() Config {
	return Config{BaseMs: 1000, CapMs: 10 * 60 * 1000, DailyQuota: 200, DuplicateWindow: 3, Timezone: "UTC"}
}

// Repository is the subset of staterepo.Repository the Guard persists
// through, kept narrow so tests can supply a minimal double.
type Repository interface {
	SaveBackoffState(ctx context.Context, state *models.BackoffState) error
	LoadBackoffState(ctx context.Context, projectKey string) (*models.BackoffState, error)
	SaveQuotaState(ctx context.Context, state *models.QuotaState) error
	LoadQuotaState(ctx context.Context, projectKey string) (*models.QuotaState, error)
}

type projectState struct {
	mu      sync.Mutex
	backoff models.BackoffState
	quota   models.QuotaState
	ring    *cache.ConsecutiveRing
}

// Guard tracks per-project backoff, quota, and duplicate-question state
// in memory, mirrored to a Repository on every mutation.
type Guard struct {
	cfg  Config
	repo Repository
	now  func() time.Time
	loc  *time.Location

	mu       sync.Mutex
	projects map[string]*projectState

	// Prom is an optional Prometheus sink. Nil by default; set it after
	// construction to start emitting codesage_doomloop_skips_total.
	Prom *observability.Metrics
}

// New builds a Guard backed by repo. repo may be nil, in which case
// state lives purely in memory for the process lifetime.
func New(cfg Config, repo Repository) *Guard {
	if cfg.BaseMs <= 0 {
		cfg.BaseMs = 1000
	}
	if cfg.CapMs <= 0 {
		cfg.CapMs = 10 * 60 * 1000
	}
	if cfg.DailyQuota <= 0 {
		cfg.DailyQuota = 200
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 3
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		loc = time.UTC
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Guard{cfg: cfg, repo: repo, now: now, loc: loc, projects: make(map[string]*projectState)}
}

func (g *Guard) stateFor(ctx context.Context, projectKey string) *projectState {
	g.mu.Lock()
	ps, ok := g.projects[projectKey]
	if !ok {
		ps = &projectState{
			backoff: models.BackoffState{ProjectKey: projectKey},
			quota:   models.QuotaState{ProjectKey: projectKey},
			ring:    cache.NewConsecutiveRing(g.cfg.DuplicateWindow),
		}
		g.restoreLocked(ctx, ps)
		g.projects[projectKey] = ps
	}
	g.mu.Unlock()
	return ps
}

// restoreLocked loads any previously persisted backoff/quota state for
// a project the first time it's touched in this process, satisfying
// "state is restored at startup from C11".
func (g *Guard) restoreLocked(ctx context.Context, ps *projectState) {
	if g.repo == nil {
		return
	}
	if b, err := g.repo.LoadBackoffState(ctx, ps.backoff.ProjectKey); err == nil && b != nil {
		ps.backoff = *b
	}
	if q, err := g.repo.LoadQuotaState(ctx, ps.quota.ProjectKey); err == nil && q != nil {
		ps.quota = *q
	}
}

func (g *Guard) todayKey(t time.Time) string {
	return t.In(g.loc).Format("2006-01-02")
}

// rolloverLocked resets the daily counters when the calendar day (in
// cfg.Timezone) has advanced since the last recorded reset.
func (g *Guard) rolloverLocked(ps *projectState) {
	today := g.todayKey(g.now())
	if ps.quota.LastResetDate != today {
		ps.quota.LastResetDate = today
		ps.quota.QuestionsToday = 0
		ps.quota.ExplorationsToday = 0
	}
}

// ShouldSkipQuestion reports whether a project should skip generating
// its next question: backoff first, then daily quota, then
// duplicate-question detection.
func (g *Guard) ShouldSkipQuestion(ctx context.Context, projectKey string) Decision {
	ps := g.stateFor(ctx, projectKey)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	g.rolloverLocked(ps)

	now := g.now()
	if now.Before(ps.backoff.BackoffUntil) {
		g.Prom.ObserveDoomLoopSkip(string(ReasonWithinBackoff))
		return Decision{Skip: true, Reason: ReasonWithinBackoff, RemainingBackoff: ps.backoff.BackoffUntil.Sub(now)}
	}
	if ps.quota.ExplorationsToday >= g.cfg.DailyQuota {
		g.Prom.ObserveDoomLoopSkip(string(ReasonDailyQuota))
		return Decision{Skip: true, Reason: ReasonDailyQuota}
	}
	if ps.ring.AllSame() {
		g.Prom.ObserveDoomLoopSkip(string(ReasonDuplicateStall))
		return Decision{Skip: true, Reason: ReasonDuplicateStall}
	}
	return Decision{}
}

// ReserveQuota consumes one exploration slot for the day, transactional
// with the action it protects: the reserved slot stays consumed unless
// the caller releases it with RefundQuota (on failure to even begin).
// Returns false if the daily quota was already exhausted.
func (g *Guard) ReserveQuota(ctx context.Context, projectKey string) bool {
	ps := g.stateFor(ctx, projectKey)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	g.rolloverLocked(ps)
	if ps.quota.ExplorationsToday >= g.cfg.DailyQuota {
		return false
	}
	ps.quota.ExplorationsToday++
	g.persistQuotaLocked(ctx, ps)
	return true
}

// RefundQuota releases a reservation made by ReserveQuota that was
// never consumed (e.g. the project was stopped before exploring).
func (g *Guard) RefundQuota(ctx context.Context, projectKey string) {
	ps := g.stateFor(ctx, projectKey)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.quota.ExplorationsToday > 0 {
		ps.quota.ExplorationsToday--
	}
	g.persistQuotaLocked(ctx, ps)
}

// RecordQuestionHash feeds a generated question's hash into the
// duplicate-stall ring: once the last N iterations all produced the
// same question hash, ShouldSkipQuestion starts reporting a stall.
func (g *Guard) RecordQuestionHash(ctx context.Context, projectKey, hash string) {
	ps := g.stateFor(ctx, projectKey)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.ring.Push(hash)
}

// RecordSuccess resets a project's backoff and clears its
// duplicate-question ring.
func (g *Guard) RecordSuccess(ctx context.Context, projectKey string) {
	ps := g.stateFor(ctx, projectKey)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.backoff.ConsecutiveErrors = 0
	ps.backoff.BackoffUntil = time.Time{}
	ps.ring.Reset()
	g.persistBackoffLocked(ctx, ps)
}

// RecordFailure increments a project's consecutive-error count and sets
// backoffUntil = now + min(capMs, baseMs * 2^(errors-1)).
func (g *Guard) RecordFailure(ctx context.Context, projectKey string) {
	ps := g.stateFor(ctx, projectKey)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := g.now()
	ps.backoff.ConsecutiveErrors++
	ps.backoff.LastErrorTime = now
	ps.backoff.BackoffUntil = backoff.UntilFromErrors(now, g.cfg.BaseMs, g.cfg.CapMs, ps.backoff.ConsecutiveErrors)
	g.persistBackoffLocked(ctx, ps)
}

func (g *Guard) persistBackoffLocked(ctx context.Context, ps *projectState) {
	if g.repo == nil {
		return
	}
	state := ps.backoff
	_ = g.repo.SaveBackoffState(ctx, &state)
}

func (g *Guard) persistQuotaLocked(ctx context.Context, ps *projectState) {
	if g.repo == nil {
		return
	}
	state := ps.quota
	_ = g.repo.SaveQuotaState(ctx, &state)
}

// DescribeBackoff renders a human-readable ETA for a muted "resting"
// status report when a project is within its backoff window.
func (d Decision) DescribeBackoff() string {
	if d.Reason != ReasonWithinBackoff {
		return ""
	}
	return fmt.Sprintf("resting, resumes in %s", d.RemainingBackoff.Round(time.Second))
}
