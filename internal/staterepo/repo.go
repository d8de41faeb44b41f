// Package staterepo implements the State Repository (C11): durable
// storage for learning records, failure records, and the resumable
// state the Self-Evolution Loop and Doom-Loop Guard need to survive a
// restart. The narrow Repository interface plus an in-memory test
// double mirror a Store-interface/fake-store split; the SQL-backed
// implementation uses a connection-pool-tuned sql.DB wrapper.
package staterepo

import (
	"context"

	"github.com/codesage-ai/codesage/pkg/models"
)

// Repository persists learning_records, failure_records,
// evolution_loop_state, backoff_state, and daily_quota. State tables
// are single-row upserts keyed by ProjectKey; record tables are keyed
// by ID, and saving a record with an existing ID replaces it.
type Repository interface {
	// SaveLearningRecord upserts a LearningRecord by ID.
	SaveLearningRecord(ctx context.Context, rec *models.LearningRecord) error
	// ListLearningRecords returns a project's records, most recent first.
	ListLearningRecords(ctx context.Context, projectKey string, limit int) ([]*models.LearningRecord, error)

	// SaveFailureRecord upserts a FailureRecord by ID.
	SaveFailureRecord(ctx context.Context, rec *models.FailureRecord) error
	// ListFailureRecords returns a project's failures, most recent first.
	ListFailureRecords(ctx context.Context, projectKey string, limit int) ([]*models.FailureRecord, error)

	// SaveEvolutionState upserts one project's EvolutionState.
	SaveEvolutionState(ctx context.Context, state *models.EvolutionState) error
	// LoadEvolutionState returns a project's stored EvolutionState, or
	// nil if none has ever been saved.
	LoadEvolutionState(ctx context.Context, projectKey string) (*models.EvolutionState, error)

	// SaveBackoffState upserts one project's BackoffState.
	SaveBackoffState(ctx context.Context, state *models.BackoffState) error
	// LoadBackoffState returns a project's stored BackoffState, or nil
	// if none has ever been saved.
	LoadBackoffState(ctx context.Context, projectKey string) (*models.BackoffState, error)

	// SaveQuotaState upserts one project's QuotaState.
	SaveQuotaState(ctx context.Context, state *models.QuotaState) error
	// LoadQuotaState returns a project's stored QuotaState, or nil if
	// none has ever been saved.
	LoadQuotaState(ctx context.Context, projectKey string) (*models.QuotaState, error)

	// Close releases any underlying connection.
	Close() error
}
