package staterepo

import (
	"context"
	"sort"
	"sync"

	"github.com/codesage-ai/codesage/pkg/models"
)

// MemoryRepository is an in-memory Repository: a mutex-guarded map plus
// an insertion-order slice for stable iteration.
type MemoryRepository struct {
	mu sync.RWMutex

	learning []*models.LearningRecord
	failure  []*models.FailureRecord

	evolution map[string]*models.EvolutionState
	backoff   map[string]*models.BackoffState
	quota     map[string]*models.QuotaState
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		evolution: make(map[string]*models.EvolutionState),
		backoff:   make(map[string]*models.BackoffState),
		quota:     make(map[string]*models.QuotaState),
	}
}

func cloneLearningRecord(r *models.LearningRecord) *models.LearningRecord {
	c := *r
	c.ExplorationPath = append([]models.ToolCallStep(nil), r.ExplorationPath...)
	c.SourceFiles = append([]string(nil), r.SourceFiles...)
	c.Tags = append([]string(nil), r.Tags...)
	c.QuestionVector = append([]float32(nil), r.QuestionVector...)
	c.AnswerVector = append([]float32(nil), r.AnswerVector...)
	return &c
}

func cloneFailureRecord(r *models.FailureRecord) *models.FailureRecord {
	c := *r
	return &c
}

func cloneEvolutionState(s *models.EvolutionState) *models.EvolutionState {
	c := *s
	c.PartialSteps = append([]models.ToolCallStep(nil), s.PartialSteps...)
	c.PendingSourceFiles = append([]string(nil), s.PendingSourceFiles...)
	c.PendingTags = append([]string(nil), s.PendingTags...)
	return &c
}

func cloneBackoffState(s *models.BackoffState) *models.BackoffState {
	c := *s
	return &c
}

func cloneQuotaState(s *models.QuotaState) *models.QuotaState {
	c := *s
	return &c
}

// SaveLearningRecord upserts by ID, replacing any record with the same
// ID in place to preserve its original insertion position.
func (m *MemoryRepository) SaveLearningRecord(ctx context.Context, rec *models.LearningRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.learning {
		if existing.ID == rec.ID {
			m.learning[i] = cloneLearningRecord(rec)
			return nil
		}
	}
	m.learning = append(m.learning, cloneLearningRecord(rec))
	return nil
}

// ListLearningRecords returns up to limit records for projectKey, most
// recent (by CreatedAt) first. limit <= 0 means unbounded.
func (m *MemoryRepository) ListLearningRecords(ctx context.Context, projectKey string, limit int) ([]*models.LearningRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.LearningRecord
	for _, r := range m.learning {
		if r.ProjectKey == projectKey {
			matched = append(matched, cloneLearningRecord(r))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// SaveFailureRecord upserts by ID.
func (m *MemoryRepository) SaveFailureRecord(ctx context.Context, rec *models.FailureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.failure {
		if existing.ID == rec.ID {
			m.failure[i] = cloneFailureRecord(rec)
			return nil
		}
	}
	m.failure = append(m.failure, cloneFailureRecord(rec))
	return nil
}

// ListFailureRecords returns up to limit failures for projectKey, most
// recent first.
func (m *MemoryRepository) ListFailureRecords(ctx context.Context, projectKey string, limit int) ([]*models.FailureRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.FailureRecord
	for _, r := range m.failure {
		if r.ProjectKey == projectKey {
			matched = append(matched, cloneFailureRecord(r))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// SaveEvolutionState upserts by ProjectKey.
func (m *MemoryRepository) SaveEvolutionState(ctx context.Context, state *models.EvolutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evolution[state.ProjectKey] = cloneEvolutionState(state)
	return nil
}

// LoadEvolutionState returns the stored state, or nil if unset.
func (m *MemoryRepository) LoadEvolutionState(ctx context.Context, projectKey string) (*models.EvolutionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.evolution[projectKey]
	if !ok {
		return nil, nil
	}
	return cloneEvolutionState(s), nil
}

// SaveBackoffState upserts by ProjectKey.
func (m *MemoryRepository) SaveBackoffState(ctx context.Context, state *models.BackoffState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.backoff[state.ProjectKey] = cloneBackoffState(state)
	return nil
}

// LoadBackoffState returns the stored state, or nil if unset.
func (m *MemoryRepository) LoadBackoffState(ctx context.Context, projectKey string) (*models.BackoffState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.backoff[projectKey]
	if !ok {
		return nil, nil
	}
	return cloneBackoffState(s), nil
}

// SaveQuotaState upserts by ProjectKey.
func (m *MemoryRepository) SaveQuotaState(ctx context.Context, state *models.QuotaState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quota[state.ProjectKey] = cloneQuotaState(state)
	return nil
}

// LoadQuotaState returns the stored state, or nil if unset.
func (m *MemoryRepository) LoadQuotaState(ctx context.Context, projectKey string) (*models.QuotaState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.quota[projectKey]
	if !ok {
		return nil, nil
	}
	return cloneQuotaState(s), nil
}

// Close is a no-op for MemoryRepository.
func (m *MemoryRepository) Close() error { return nil }
