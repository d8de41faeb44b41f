package vectorstore

import (
	"context"
	"testing"

	"github.com/codesage-ai/codesage/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Dimension: 3, Driver: DriverSQLite})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleFragment(id string, vec []float32) *models.EmbeddingFragment {
	return &models.EmbeddingFragment{
		ID:      id,
		Vector:  vec,
		Title:   "title-" + id,
		Content: "content-" + id,
		Tags:    []string{"go"},
		Metadata: models.FragmentMetadata{
			Type:       models.FragmentCodeSummary,
			ProjectKey: "proj-1",
		},
	}
}

func TestStore_UpsertThenGetRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	frag := sampleFragment("a", []float32{1, 0, 0})

	if err := s.Upsert(ctx, frag); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.Get(ctx, "proj-1", "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Title != frag.Title || got.Content != frag.Content {
		t.Fatalf("Get() = %+v, want title/content to match %+v", got, frag)
	}
}

func TestStore_UpsertRejectsDimensionMismatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	frag := sampleFragment("bad", []float32{1, 0})

	err := s.Upsert(ctx, frag)
	if err != ErrDimensionMismatch {
		t.Fatalf("Upsert() error = %v, want ErrDimensionMismatch", err)
	}

	if _, getErr := s.Get(ctx, "proj-1", "bad"); getErr != ErrNotFound {
		t.Fatalf("Get() after rejected upsert = %v, want ErrNotFound (no tier should have been written)", getErr)
	}
}

func TestStore_DeleteRemovesFromAllTiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	frag := sampleFragment("a", []float32{1, 0, 0})
	if err := s.Upsert(ctx, frag); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if err := s.Delete(ctx, "proj-1", "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, ok := s.hot.get("a"); ok {
		t.Fatal("expected L1 to have evicted the deleted fragment")
	}
	if _, err := s.Get(ctx, "proj-1", "a"); err != ErrNotFound {
		t.Fatalf("Get() after Delete() = %v, want ErrNotFound", err)
	}
}

func TestStore_SearchRanksByCosineSimilarity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	fragments := []*models.EmbeddingFragment{
		sampleFragment("close", []float32{1, 0, 0}),
		sampleFragment("orthogonal", []float32{0, 1, 0}),
		sampleFragment("opposite", []float32{-1, 0, 0}),
	}
	for _, f := range fragments {
		if err := s.Upsert(ctx, f); err != nil {
			t.Fatalf("Upsert(%s) error = %v", f.ID, err)
		}
	}

	results, err := s.Search(ctx, "proj-1", []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("Search() returned %d results, want 3", len(results))
	}
	if results[0].Fragment.ID != "close" {
		t.Fatalf("Search()[0].ID = %s, want close (highest cosine similarity)", results[0].Fragment.ID)
	}
	if results[len(results)-1].Fragment.ID != "opposite" {
		t.Fatalf("Search() last result = %s, want opposite (lowest cosine similarity)", results[len(results)-1].Fragment.ID)
	}
}

func TestStore_SearchHonorsTopK(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Upsert(ctx, sampleFragment(id, []float32{1, 0, 0})); err != nil {
			t.Fatalf("Upsert(%s) error = %v", id, err)
		}
	}

	results, err := s.Search(ctx, "proj-1", []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Search() returned %d results, want 1", len(results))
	}
}

func TestStore_CleanupByTagCascadesDeleteAcrossTiers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	keep := sampleFragment("keep", []float32{1, 0, 0})
	keep.Metadata.Type = models.FragmentTechStack
	drop := sampleFragment("drop", []float32{0, 1, 0})
	drop.Metadata.Type = models.FragmentCodeSummary

	if err := s.Upsert(ctx, keep); err != nil {
		t.Fatalf("Upsert(keep) error = %v", err)
	}
	if err := s.Upsert(ctx, drop); err != nil {
		t.Fatalf("Upsert(drop) error = %v", err)
	}

	n, err := s.CleanupByTag(ctx, models.MetadataFilter{ProjectKey: "proj-1", Type: models.FragmentCodeSummary})
	if err != nil {
		t.Fatalf("CleanupByTag() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("CleanupByTag() removed %d fragments, want 1", n)
	}

	if _, err := s.Get(ctx, "proj-1", "drop"); err != ErrNotFound {
		t.Fatalf("Get(drop) after cleanup = %v, want ErrNotFound", err)
	}
	if _, err := s.Get(ctx, "proj-1", "keep"); err != nil {
		t.Fatalf("Get(keep) after cleanup = %v, want no error", err)
	}
}

func TestStore_GetMissingFragmentReturnsErrNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "proj-1", "nope"); err != ErrNotFound {
		t.Fatalf("Get() = %v, want ErrNotFound", err)
	}
}

func TestStore_UpsertRejectsMissingProjectKey(t *testing.T) {
	s := newTestStore(t)
	frag := sampleFragment("a", []float32{1, 0, 0})
	frag.Metadata.ProjectKey = ""

	if err := s.Upsert(context.Background(), frag); err == nil {
		t.Fatal("Upsert() with empty ProjectKey: expected error, got nil")
	}
}
