package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/codesage-ai/codesage/pkg/models"
)

// Config configures a Store.
type Config struct {
	// Dimension is the project-wide fixed embedding vector length.
	Dimension int
	// L1CacheSize bounds the hot-tier LRU. Default 500.
	L1CacheSize int
	// L2Path is the on-disk path for the warm-tier SQLite database.
	// Empty means in-memory (tests, ephemeral runs).
	L2Path string
	// Driver selects the L3 relational backend.
	Driver Driver
	// DSN is the L3 connection string (a file path for DriverSQLite, a
	// Postgres connection URL for DriverPostgres).
	DSN string
}

// Store composes the three tiers behind one façade: writes land on L3
// (source of truth) first, then L2 (warm ANN), then populate L1
// (write-through); deletes remove from all three before returning;
// searches rank via L2 and hydrate payloads from L1 falling through to
// L3 on miss, backfilling L1.
type Store struct {
	hot  *l1
	warm *l2
	cold *l3

	dimension int

	// projectLocks serializes writers per project; readers never block
	// on this map.
	projectLocks sync.Map
}

// New builds a Store from cfg.
func New(cfg Config) (*Store, error) {
	if cfg.L1CacheSize <= 0 {
		cfg.L1CacheSize = 500
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}

	warm, err := newL2(cfg.L2Path, cfg.Dimension)
	if err != nil {
		return nil, err
	}
	cold, err := newL3(cfg.Driver, cfg.DSN)
	if err != nil {
		warm.close()
		return nil, err
	}

	return &Store{
		hot:       newL1(cfg.L1CacheSize),
		warm:      warm,
		cold:      cold,
		dimension: cfg.Dimension,
	}, nil
}

func (s *Store) lockFor(projectKey string) *sync.Mutex {
	v, _ := s.projectLocks.LoadOrStore(projectKey, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Upsert writes frag to L3, then L2, then populates L1, in that order.
// A vector whose length disagrees with the store's fixed dimension is
// rejected before any tier is touched.
func (s *Store) Upsert(ctx context.Context, frag *models.EmbeddingFragment) error {
	if s.dimension > 0 && len(frag.Vector) != s.dimension {
		return ErrDimensionMismatch
	}
	if frag.Metadata.ProjectKey == "" {
		return fmt.Errorf("vectorstore: fragment %q missing projectKey in metadata", frag.ID)
	}

	lock := s.lockFor(frag.Metadata.ProjectKey)
	lock.Lock()
	defer lock.Unlock()

	if err := s.cold.upsert(ctx, frag); err != nil {
		return err
	}
	if err := s.warm.upsert(ctx, frag.Metadata.ProjectKey, frag.ID, frag.Vector); err != nil {
		return err
	}
	s.hot.put(frag)
	return nil
}

// Delete removes a fragment from all three tiers.
func (s *Store) Delete(ctx context.Context, projectKey, id string) error {
	lock := s.lockFor(projectKey)
	lock.Lock()
	defer lock.Unlock()

	if err := s.cold.delete(ctx, projectKey, id); err != nil {
		return err
	}
	if err := s.warm.delete(ctx, projectKey, id); err != nil {
		return err
	}
	s.hot.delete(id)
	return nil
}

// Search ranks fragments in projectKey by cosine similarity to query
// via L2, then hydrates each hit's payload from L1, falling through to
// L3 on a cache miss and backfilling L1.
func (s *Store) Search(ctx context.Context, projectKey string, query []float32, topK int) ([]models.ScoredFragment, error) {
	hits, err := s.warm.search(ctx, projectKey, query, topK)
	if err != nil {
		return nil, err
	}

	out := make([]models.ScoredFragment, 0, len(hits))
	for _, hit := range hits {
		frag, ok := s.hot.get(hit.id)
		if !ok {
			frag, err = s.cold.get(ctx, projectKey, hit.id)
			if err != nil {
				continue
			}
			frag.Vector = query // vector itself isn't persisted in L3; caller rarely needs it back
			s.hot.put(frag)
		}
		out = append(out, models.ScoredFragment{Fragment: frag, Score: hit.score})
	}
	return out, nil
}

// Get fetches a single fragment by id, checking L1 before falling
// through to L3.
func (s *Store) Get(ctx context.Context, projectKey, id string) (*models.EmbeddingFragment, error) {
	if frag, ok := s.hot.get(id); ok {
		return frag, nil
	}
	frag, err := s.cold.get(ctx, projectKey, id)
	if err != nil {
		return nil, err
	}
	s.hot.put(frag)
	return frag, nil
}

// CleanupByTag scans L3 by metadata predicate and cascades the delete
// to every matching fragment across all three tiers.
func (s *Store) CleanupByTag(ctx context.Context, filter models.MetadataFilter) (int, error) {
	ids, err := s.cold.findByFilter(ctx, filter)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.Delete(ctx, filter.ProjectKey, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// Close releases the on-disk tiers' resources.
func (s *Store) Close() error {
	if err := s.warm.close(); err != nil {
		return err
	}
	return s.cold.close()
}
