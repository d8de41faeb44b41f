package staterepo

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/codesage-ai/codesage/pkg/models"
)

// newTestRepository opens an in-memory SQLite-backed repository,
// skipping the test if the pure-Go driver can't be registered in this
// build, mirroring sqlitevec.newTestBackend's skip discipline.
func newTestRepository(t *testing.T) *SQLRepository {
	t.Helper()
	repo, err := Open(Config{Driver: DriverSQLite, DSN: ":memory:"})
	if err != nil {
		if strings.Contains(err.Error(), "unknown driver") {
			t.Skip("sqlite driver not available")
		}
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLRepository_SaveAndListLearningRecords(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	rec := &models.LearningRecord{
		ID:         "r1",
		ProjectKey: "proj",
		CreatedAt:  time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		Question:   "how is auth wired?",
		Answer:     "via middleware",
		Confidence: 0.9,
		SourceFiles: []string{"auth.go"},
		Tags:        []string{"auth"},
	}
	if err := repo.SaveLearningRecord(ctx, rec); err != nil {
		t.Fatalf("SaveLearningRecord: %v", err)
	}

	got, err := repo.ListLearningRecords(ctx, "proj", 10)
	if err != nil {
		t.Fatalf("ListLearningRecords: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(got) = %d, want 1", len(got))
	}
	if got[0].Answer != "via middleware" || got[0].SourceFiles[0] != "auth.go" {
		t.Errorf("round-tripped record mismatch: %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, rec.CreatedAt)
	}
}

func TestSQLRepository_SaveAndLoadEvolutionState_RoundTripsPhase(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	state := &models.EvolutionState{
		ProjectKey:          "proj",
		Phase:               models.PhaseExploring,
		TotalIterations:     3,
		CurrentQuestion:     "what is the retry policy?",
		CurrentQuestionHash: "abc123",
		PartialSteps:        []models.ToolCallStep{{ToolName: "semantic_search"}},
		LastUpdatedAt:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := repo.SaveEvolutionState(ctx, state); err != nil {
		t.Fatalf("SaveEvolutionState: %v", err)
	}

	loaded, err := repo.LoadEvolutionState(ctx, "proj")
	if err != nil {
		t.Fatalf("LoadEvolutionState: %v", err)
	}
	if loaded == nil {
		t.Fatal("loaded state is nil")
	}
	if loaded.Phase != models.PhaseExploring || loaded.CurrentQuestionHash != "abc123" {
		t.Errorf("loaded state mismatch: %+v", loaded)
	}
	if len(loaded.PartialSteps) != 1 || loaded.PartialSteps[0].ToolName != "semantic_search" {
		t.Errorf("PartialSteps did not round-trip: %+v", loaded.PartialSteps)
	}
}

func TestSQLRepository_LoadEvolutionState_UnknownProjectReturnsNil(t *testing.T) {
	repo := newTestRepository(t)
	loaded, err := repo.LoadEvolutionState(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("LoadEvolutionState: %v", err)
	}
	if loaded != nil {
		t.Errorf("loaded = %+v, want nil", loaded)
	}
}

func TestSQLRepository_BackoffAndQuotaStateRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	backoff := &models.BackoffState{
		ProjectKey:        "proj",
		ConsecutiveErrors: 2,
		LastErrorTime:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		BackoffUntil:      time.Date(2026, 3, 1, 0, 0, 4, 0, time.UTC),
	}
	if err := repo.SaveBackoffState(ctx, backoff); err != nil {
		t.Fatalf("SaveBackoffState: %v", err)
	}
	loadedBackoff, err := repo.LoadBackoffState(ctx, "proj")
	if err != nil {
		t.Fatalf("LoadBackoffState: %v", err)
	}
	if loadedBackoff.ConsecutiveErrors != 2 {
		t.Errorf("ConsecutiveErrors = %d, want 2", loadedBackoff.ConsecutiveErrors)
	}

	quota := &models.QuotaState{ProjectKey: "proj", ExplorationsToday: 5, LastResetDate: "2026-03-01"}
	if err := repo.SaveQuotaState(ctx, quota); err != nil {
		t.Fatalf("SaveQuotaState: %v", err)
	}
	loadedQuota, err := repo.LoadQuotaState(ctx, "proj")
	if err != nil {
		t.Fatalf("LoadQuotaState: %v", err)
	}
	if loadedQuota.ExplorationsToday != 5 || loadedQuota.LastResetDate != "2026-03-01" {
		t.Errorf("loaded quota mismatch: %+v", loadedQuota)
	}
}

func TestSQLRepository_SaveFailureRecord_IsListedMostRecentFirst(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	older := &models.FailureRecord{ID: "f1", ProjectKey: "proj", CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Reason: "timeout"}
	newer := &models.FailureRecord{ID: "f2", ProjectKey: "proj", CreatedAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Reason: "panic"}
	if err := repo.SaveFailureRecord(ctx, older); err != nil {
		t.Fatalf("SaveFailureRecord(older): %v", err)
	}
	if err := repo.SaveFailureRecord(ctx, newer); err != nil {
		t.Fatalf("SaveFailureRecord(newer): %v", err)
	}

	got, err := repo.ListFailureRecords(ctx, "proj", 10)
	if err != nil {
		t.Fatalf("ListFailureRecords: %v", err)
	}
	if len(got) != 2 || got[0].ID != "f2" {
		t.Fatalf("got = %+v, want newer record first", got)
	}
}
