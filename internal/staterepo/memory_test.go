package staterepo

import (
	"context"
	"testing"
	"time"

	"github.com/codesage-ai/codesage/pkg/models"
)

func TestMemoryRepository_SaveLearningRecordUpsertsByID(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	rec := &models.LearningRecord{ID: "r1", ProjectKey: "p1", Question: "v1", CreatedAt: time.Now()}
	if err := repo.SaveLearningRecord(ctx, rec); err != nil {
		t.Fatalf("SaveLearningRecord: %v", err)
	}
	rec2 := &models.LearningRecord{ID: "r1", ProjectKey: "p1", Question: "v2", CreatedAt: time.Now()}
	if err := repo.SaveLearningRecord(ctx, rec2); err != nil {
		t.Fatalf("SaveLearningRecord: %v", err)
	}

	got, err := repo.ListLearningRecords(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("ListLearningRecords: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1 after upsert", len(got))
	}
	if got[0].Question != "v2" {
		t.Fatalf("Question = %q, want v2 (upserted)", got[0].Question)
	}
}

func TestMemoryRepository_ListLearningRecordsOrdersMostRecentFirstAndScopesByProject(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Now()

	records := []*models.LearningRecord{
		{ID: "a", ProjectKey: "p1", CreatedAt: base},
		{ID: "b", ProjectKey: "p1", CreatedAt: base.Add(time.Hour)},
		{ID: "c", ProjectKey: "p2", CreatedAt: base.Add(2 * time.Hour)},
	}
	for _, r := range records {
		if err := repo.SaveLearningRecord(ctx, r); err != nil {
			t.Fatalf("SaveLearningRecord: %v", err)
		}
	}

	got, err := repo.ListLearningRecords(ctx, "p1", 0)
	if err != nil {
		t.Fatalf("ListLearningRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records for p1, want 2", len(got))
	}
	if got[0].ID != "b" || got[1].ID != "a" {
		t.Fatalf("order = [%s, %s], want [b, a] (most recent first)", got[0].ID, got[1].ID)
	}
}

func TestMemoryRepository_ListLearningRecordsHonorsLimit(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		rec := &models.LearningRecord{ID: string(rune('a' + i)), ProjectKey: "p1", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.SaveLearningRecord(ctx, rec); err != nil {
			t.Fatalf("SaveLearningRecord: %v", err)
		}
	}
	got, err := repo.ListLearningRecords(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("ListLearningRecords: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d records, want 2", len(got))
	}
}

func TestMemoryRepository_EvolutionStateRoundTripsAndDefaultsNilWhenUnset(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	missing, err := repo.LoadEvolutionState(ctx, "unknown")
	if err != nil {
		t.Fatalf("LoadEvolutionState: %v", err)
	}
	if missing != nil {
		t.Fatal("LoadEvolutionState() for an unset project should return nil, nil")
	}

	state := &models.EvolutionState{
		ProjectKey:          "p1",
		Phase:               models.PhaseExploring,
		ExplorationProgress: 2,
		PartialSteps: []models.ToolCallStep{
			{ToolName: "grep", Success: true},
			{ToolName: "read_file", Success: true},
		},
	}
	if err := repo.SaveEvolutionState(ctx, state); err != nil {
		t.Fatalf("SaveEvolutionState: %v", err)
	}
	got, err := repo.LoadEvolutionState(ctx, "p1")
	if err != nil {
		t.Fatalf("LoadEvolutionState: %v", err)
	}
	if got.Phase != models.PhaseExploring || got.ExplorationProgress != 2 || len(got.PartialSteps) != 2 {
		t.Fatalf("LoadEvolutionState() = %+v, want a round trip of the saved state", got)
	}

	// Mutating the returned copy must not affect the stored state.
	got.PartialSteps[0].ToolName = "mutated"
	reloaded, _ := repo.LoadEvolutionState(ctx, "p1")
	if reloaded.PartialSteps[0].ToolName != "grep" {
		t.Fatal("LoadEvolutionState() leaked a reference to internal state")
	}
}

func TestMemoryRepository_BackoffAndQuotaStateRoundTrip(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	backoff := &models.BackoffState{ProjectKey: "p1", ConsecutiveErrors: 3, BackoffUntil: time.Now().Add(time.Minute)}
	if err := repo.SaveBackoffState(ctx, backoff); err != nil {
		t.Fatalf("SaveBackoffState: %v", err)
	}
	gotBackoff, err := repo.LoadBackoffState(ctx, "p1")
	if err != nil {
		t.Fatalf("LoadBackoffState: %v", err)
	}
	if gotBackoff.ConsecutiveErrors != 3 {
		t.Fatalf("ConsecutiveErrors = %d, want 3", gotBackoff.ConsecutiveErrors)
	}

	quota := &models.QuotaState{ProjectKey: "p1", QuestionsToday: 5, LastResetDate: "2026-08-01"}
	if err := repo.SaveQuotaState(ctx, quota); err != nil {
		t.Fatalf("SaveQuotaState: %v", err)
	}
	gotQuota, err := repo.LoadQuotaState(ctx, "p1")
	if err != nil {
		t.Fatalf("LoadQuotaState: %v", err)
	}
	if gotQuota.QuestionsToday != 5 || gotQuota.LastResetDate != "2026-08-01" {
		t.Fatalf("LoadQuotaState() = %+v, want a round trip of the saved state", gotQuota)
	}
}
