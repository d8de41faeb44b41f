package staterepo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"       // Postgres driver
	_ "modernc.org/sqlite"      // pure-Go SQLite driver

	"github.com/codesage-ai/codesage/pkg/models"
)

// Driver selects the backing database, mirroring vectorstore.Driver.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// Config configures a SQLRepository connection and its pool-tuning
// knobs.
type Config struct {
	Driver          Driver
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sqlite-in-memory pool defaults.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// SQLRepository implements Repository over database/sql, applying a
// small forward-only list of idempotent migrations on Open, mirroring
// sqlitevec.Backend.init()'s CREATE TABLE IF NOT EXISTS discipline.
type SQLRepository struct {
	db     *sql.DB
	driver Driver
}

// Open connects to cfg.DSN and runs migrations. A zero cfg.Driver
// defaults to sqlite; an empty DSN opens an in-memory sqlite database.
func Open(cfg Config) (*SQLRepository, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	driverName := "sqlite"
	dsn := cfg.DSN
	if cfg.Driver == DriverPostgres {
		driverName = "postgres"
	} else if dsn == "" {
		dsn = ":memory:"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("staterepo: open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{db: db, driver: cfg.Driver}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// Timestamps are stored as RFC3339Nano TEXT rather than a native
// TIMESTAMP column so the same scan code works unchanged against both
// modernc.org/sqlite (which has no native datetime type) and Postgres.
func (r *SQLRepository) migrate() error {
	blobJSON := "TEXT"
	for _, ddl := range []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS learning_records (
			id              TEXT PRIMARY KEY,
			project_key     TEXT NOT NULL,
			created_at      TEXT NOT NULL,
			question        TEXT NOT NULL,
			question_type   TEXT,
			answer          TEXT,
			exploration_path %s,
			confidence      REAL,
			source_files    %s,
			tags            %s,
			domain          TEXT,
			question_vector %s,
			answer_vector   %s
		)`, blobJSON, blobJSON, blobJSON, blobJSON, blobJSON),
		`CREATE INDEX IF NOT EXISTS idx_learning_records_project ON learning_records (project_key, created_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS failure_records (
			id          TEXT PRIMARY KEY,
			project_key TEXT NOT NULL,
			created_at  TEXT NOT NULL,
			question    TEXT,
			reason      TEXT,
			phase       TEXT
		)`),
		`CREATE INDEX IF NOT EXISTS idx_failure_records_project ON failure_records (project_key, created_at)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS evolution_loop_state (
			project_key                  TEXT PRIMARY KEY,
			phase                        TEXT NOT NULL,
			total_iterations             INTEGER NOT NULL,
			successful_iterations        INTEGER NOT NULL,
			consecutive_duplicate_count  INTEGER NOT NULL,
			current_question             TEXT,
			current_question_hash        TEXT,
			exploration_progress         INTEGER NOT NULL,
			partial_steps                %s,
			started_at                   TEXT,
			last_project_hash            TEXT,
			stop_reason                  TEXT,
			pending_summary              %s,
			last_updated_at              TEXT NOT NULL
		)`, blobJSON, blobJSON),

		`CREATE TABLE IF NOT EXISTS backoff_state (
			project_key        TEXT PRIMARY KEY,
			consecutive_errors INTEGER NOT NULL,
			last_error_time    TEXT,
			backoff_until      TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS daily_quota (
			project_key         TEXT PRIMARY KEY,
			questions_today     INTEGER NOT NULL,
			explorations_today  INTEGER NOT NULL,
			last_reset_date     TEXT NOT NULL
		)`,
	} {
		if _, err := r.db.Exec(ddl); err != nil {
			return fmt.Errorf("staterepo: migrate: %w", err)
		}
	}
	return nil
}

// formatTime renders t as RFC3339Nano, or "" for a zero time so
// optional timestamp columns stay NULL-free and still round-trip.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

// parseTime is formatTime's inverse; an empty string round-trips to
// the zero time.Time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (r *SQLRepository) upsertQuery(table, columns, conflictKey, updateSet string) string {
	placeholders := placeholderList(r.driver, columnCount(columns))
	if r.driver == DriverPostgres {
		return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
			ON CONFLICT (%s) DO UPDATE SET %s`, table, columns, placeholders, conflictKey, updateSet)
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)
		ON CONFLICT(%s) DO UPDATE SET %s`, table, columns, placeholders, conflictKey, updateSet)
}

func columnCount(columns string) int {
	n := 1
	for _, c := range columns {
		if c == ',' {
			n++
		}
	}
	return n
}

func placeholderList(driver Driver, n int) string {
	out := ""
	for i := 1; i <= n; i++ {
		if i > 1 {
			out += ","
		}
		if driver == DriverPostgres {
			out += fmt.Sprintf("$%d", i)
		} else {
			out += "?"
		}
	}
	return out
}

// SaveLearningRecord upserts rec by ID.
func (r *SQLRepository) SaveLearningRecord(ctx context.Context, rec *models.LearningRecord) error {
	path, err := json.Marshal(rec.ExplorationPath)
	if err != nil {
		return fmt.Errorf("staterepo: marshal exploration_path: %w", err)
	}
	sources, _ := json.Marshal(rec.SourceFiles)
	tags, _ := json.Marshal(rec.Tags)
	qv, _ := json.Marshal(rec.QuestionVector)
	av, _ := json.Marshal(rec.AnswerVector)

	query := r.upsertQuery("learning_records",
		"id, project_key, created_at, question, question_type, answer, exploration_path, confidence, source_files, tags, domain, question_vector, answer_vector",
		"id",
		`project_key=excluded.project_key, created_at=excluded.created_at, question=excluded.question,
		 question_type=excluded.question_type, answer=excluded.answer, exploration_path=excluded.exploration_path,
		 confidence=excluded.confidence, source_files=excluded.source_files, tags=excluded.tags,
		 domain=excluded.domain, question_vector=excluded.question_vector, answer_vector=excluded.answer_vector`)

	_, err = r.db.ExecContext(ctx, query,
		rec.ID, rec.ProjectKey, formatTime(rec.CreatedAt), rec.Question, rec.QuestionType, rec.Answer,
		string(path), rec.Confidence, string(sources), string(tags), rec.Domain, string(qv), string(av))
	if err != nil {
		return fmt.Errorf("staterepo: save learning record: %w", err)
	}
	return nil
}

// ListLearningRecords returns up to limit records for projectKey, most
// recent first.
func (r *SQLRepository) ListLearningRecords(ctx context.Context, projectKey string, limit int) ([]*models.LearningRecord, error) {
	query := fmt.Sprintf(`SELECT id, project_key, created_at, question, question_type, answer,
		exploration_path, confidence, source_files, tags, domain, question_vector, answer_vector
		FROM learning_records WHERE project_key = %s ORDER BY created_at DESC`, r.placeholder(1))
	args := []any{projectKey}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("staterepo: list learning records: %w", err)
	}
	defer rows.Close()

	var out []*models.LearningRecord
	for rows.Next() {
		var rec models.LearningRecord
		var createdAt, path, sources, tags, qv, av string
		if err := rows.Scan(&rec.ID, &rec.ProjectKey, &createdAt, &rec.Question, &rec.QuestionType,
			&rec.Answer, &path, &rec.Confidence, &sources, &tags, &rec.Domain, &qv, &av); err != nil {
			return nil, fmt.Errorf("staterepo: scan learning record: %w", err)
		}
		rec.CreatedAt = parseTime(createdAt)
		_ = json.Unmarshal([]byte(path), &rec.ExplorationPath)
		_ = json.Unmarshal([]byte(sources), &rec.SourceFiles)
		_ = json.Unmarshal([]byte(tags), &rec.Tags)
		_ = json.Unmarshal([]byte(qv), &rec.QuestionVector)
		_ = json.Unmarshal([]byte(av), &rec.AnswerVector)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// SaveFailureRecord upserts rec by ID.
func (r *SQLRepository) SaveFailureRecord(ctx context.Context, rec *models.FailureRecord) error {
	query := r.upsertQuery("failure_records",
		"id, project_key, created_at, question, reason, phase", "id",
		"project_key=excluded.project_key, created_at=excluded.created_at, question=excluded.question, reason=excluded.reason, phase=excluded.phase")
	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.ProjectKey, formatTime(rec.CreatedAt), rec.Question, rec.Reason, rec.Phase)
	if err != nil {
		return fmt.Errorf("staterepo: save failure record: %w", err)
	}
	return nil
}

// ListFailureRecords returns up to limit failures for projectKey, most
// recent first.
func (r *SQLRepository) ListFailureRecords(ctx context.Context, projectKey string, limit int) ([]*models.FailureRecord, error) {
	query := fmt.Sprintf(`SELECT id, project_key, created_at, question, reason, phase
		FROM failure_records WHERE project_key = %s ORDER BY created_at DESC`, r.placeholder(1))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := r.db.QueryContext(ctx, query, projectKey)
	if err != nil {
		return nil, fmt.Errorf("staterepo: list failure records: %w", err)
	}
	defer rows.Close()

	var out []*models.FailureRecord
	for rows.Next() {
		var rec models.FailureRecord
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.ProjectKey, &createdAt, &rec.Question, &rec.Reason, &rec.Phase); err != nil {
			return nil, fmt.Errorf("staterepo: scan failure record: %w", err)
		}
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// pendingSummary bundles the Summarizing phase's synthesized fields
// into the evolution_loop_state row's single pending_summary JSON
// column, mirroring how partial_steps stores a slice in one column.
type pendingSummary struct {
	Answer      string   `json:"answer,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	SourceFiles []string `json:"source_files,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Domain      string   `json:"domain,omitempty"`
}

// SaveEvolutionState upserts state by ProjectKey.
func (r *SQLRepository) SaveEvolutionState(ctx context.Context, state *models.EvolutionState) error {
	steps, err := json.Marshal(state.PartialSteps)
	if err != nil {
		return fmt.Errorf("staterepo: marshal partial_steps: %w", err)
	}
	pending, err := json.Marshal(pendingSummary{
		Answer:      state.PendingAnswer,
		Confidence:  state.PendingConfidence,
		SourceFiles: state.PendingSourceFiles,
		Tags:        state.PendingTags,
		Domain:      state.PendingDomain,
	})
	if err != nil {
		return fmt.Errorf("staterepo: marshal pending_summary: %w", err)
	}
	query := r.upsertQuery("evolution_loop_state",
		`project_key, phase, total_iterations, successful_iterations, consecutive_duplicate_count,
		 current_question, current_question_hash, exploration_progress, partial_steps, started_at,
		 last_project_hash, stop_reason, pending_summary, last_updated_at`,
		"project_key",
		`phase=excluded.phase, total_iterations=excluded.total_iterations,
		 successful_iterations=excluded.successful_iterations,
		 consecutive_duplicate_count=excluded.consecutive_duplicate_count,
		 current_question=excluded.current_question, current_question_hash=excluded.current_question_hash,
		 exploration_progress=excluded.exploration_progress, partial_steps=excluded.partial_steps,
		 started_at=excluded.started_at, last_project_hash=excluded.last_project_hash,
		 stop_reason=excluded.stop_reason, pending_summary=excluded.pending_summary,
		 last_updated_at=excluded.last_updated_at`)

	_, err = r.db.ExecContext(ctx, query,
		state.ProjectKey, string(state.Phase), state.TotalIterations, state.SuccessfulIterations,
		state.ConsecutiveDuplicateCount, state.CurrentQuestion, state.CurrentQuestionHash,
		state.ExplorationProgress, string(steps), formatTime(state.StartedAt), state.LastProjectHash,
		state.StopReason, string(pending), formatTime(state.LastUpdatedAt))
	if err != nil {
		return fmt.Errorf("staterepo: save evolution state: %w", err)
	}
	return nil
}

// LoadEvolutionState returns the stored state, or nil if unset.
func (r *SQLRepository) LoadEvolutionState(ctx context.Context, projectKey string) (*models.EvolutionState, error) {
	query := fmt.Sprintf(`SELECT project_key, phase, total_iterations, successful_iterations,
		consecutive_duplicate_count, current_question, current_question_hash, exploration_progress,
		partial_steps, started_at, last_project_hash, stop_reason, pending_summary, last_updated_at
		FROM evolution_loop_state WHERE project_key = %s`, r.placeholder(1))
	row := r.db.QueryRowContext(ctx, query, projectKey)

	var s models.EvolutionState
	var phase, steps, startedAt, lastUpdatedAt, pending string
	if err := row.Scan(&s.ProjectKey, &phase, &s.TotalIterations, &s.SuccessfulIterations,
		&s.ConsecutiveDuplicateCount, &s.CurrentQuestion, &s.CurrentQuestionHash, &s.ExplorationProgress,
		&steps, &startedAt, &s.LastProjectHash, &s.StopReason, &pending, &lastUpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("staterepo: load evolution state: %w", err)
	}
	s.Phase = models.EvolutionPhase(phase)
	s.StartedAt = parseTime(startedAt)
	s.LastUpdatedAt = parseTime(lastUpdatedAt)
	_ = json.Unmarshal([]byte(steps), &s.PartialSteps)
	var ps pendingSummary
	if err := json.Unmarshal([]byte(pending), &ps); err == nil {
		s.PendingAnswer = ps.Answer
		s.PendingConfidence = ps.Confidence
		s.PendingSourceFiles = ps.SourceFiles
		s.PendingTags = ps.Tags
		s.PendingDomain = ps.Domain
	}
	return &s, nil
}

// SaveBackoffState upserts state by ProjectKey.
func (r *SQLRepository) SaveBackoffState(ctx context.Context, state *models.BackoffState) error {
	query := r.upsertQuery("backoff_state",
		"project_key, consecutive_errors, last_error_time, backoff_until", "project_key",
		"consecutive_errors=excluded.consecutive_errors, last_error_time=excluded.last_error_time, backoff_until=excluded.backoff_until")
	_, err := r.db.ExecContext(ctx, query, state.ProjectKey, state.ConsecutiveErrors,
		formatTime(state.LastErrorTime), formatTime(state.BackoffUntil))
	if err != nil {
		return fmt.Errorf("staterepo: save backoff state: %w", err)
	}
	return nil
}

// LoadBackoffState returns the stored state, or nil if unset.
func (r *SQLRepository) LoadBackoffState(ctx context.Context, projectKey string) (*models.BackoffState, error) {
	query := fmt.Sprintf(`SELECT project_key, consecutive_errors, last_error_time, backoff_until
		FROM backoff_state WHERE project_key = %s`, r.placeholder(1))
	row := r.db.QueryRowContext(ctx, query, projectKey)
	var s models.BackoffState
	var lastErrorTime, backoffUntil string
	if err := row.Scan(&s.ProjectKey, &s.ConsecutiveErrors, &lastErrorTime, &backoffUntil); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("staterepo: load backoff state: %w", err)
	}
	s.LastErrorTime = parseTime(lastErrorTime)
	s.BackoffUntil = parseTime(backoffUntil)
	return &s, nil
}

// SaveQuotaState upserts state by ProjectKey.
func (r *SQLRepository) SaveQuotaState(ctx context.Context, state *models.QuotaState) error {
	query := r.upsertQuery("daily_quota",
		"project_key, questions_today, explorations_today, last_reset_date", "project_key",
		"questions_today=excluded.questions_today, explorations_today=excluded.explorations_today, last_reset_date=excluded.last_reset_date")
	_, err := r.db.ExecContext(ctx, query, state.ProjectKey, state.QuestionsToday, state.ExplorationsToday, state.LastResetDate)
	if err != nil {
		return fmt.Errorf("staterepo: save quota state: %w", err)
	}
	return nil
}

// LoadQuotaState returns the stored state, or nil if unset.
func (r *SQLRepository) LoadQuotaState(ctx context.Context, projectKey string) (*models.QuotaState, error) {
	query := fmt.Sprintf(`SELECT project_key, questions_today, explorations_today, last_reset_date
		FROM daily_quota WHERE project_key = %s`, r.placeholder(1))
	row := r.db.QueryRowContext(ctx, query, projectKey)
	var s models.QuotaState
	if err := row.Scan(&s.ProjectKey, &s.QuestionsToday, &s.ExplorationsToday, &s.LastResetDate); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("staterepo: load quota state: %w", err)
	}
	return &s, nil
}

func (r *SQLRepository) placeholder(n int) string {
	if r.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// Close releases the underlying database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}
