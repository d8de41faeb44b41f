package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/codesage-ai/codesage/pkg/models"
)

// Driver selects the backing database for the L3 relational tier.
type Driver string

const (
	// DriverPostgres opens L3 via github.com/lib/pq's
	// sql.Open("postgres", dsn) registration.
	DriverPostgres Driver = "postgres"
	// DriverSQLite opens L3 as a single-binary modernc.org/sqlite
	// database, sharing the driver family used by L2.
	DriverSQLite Driver = "sqlite"
)

// l3 is the cold tier and source of truth: every fragment's full
// content, tags, and metadata persist here, keyed by project and id.
type l3 struct {
	db     *sql.DB
	driver Driver
}

func newL3(driver Driver, dsn string) (*l3, error) {
	driverName := "sqlite"
	if driver == DriverPostgres {
		driverName = "postgres"
	}
	if dsn == "" && driver == DriverSQLite {
		dsn = ":memory:"
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open L3 database: %w", err)
	}
	t := &l3{db: db, driver: driver}
	if err := t.init(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *l3) init() error {
	idType := "TEXT"
	blobType := "BLOB"
	if t.driver == DriverPostgres {
		idType = "TEXT"
		blobType = "BYTEA"
	}
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS fragments (
			project_key TEXT NOT NULL,
			id          %s NOT NULL,
			title       TEXT NOT NULL,
			content     TEXT NOT NULL,
			full_content TEXT,
			tags        TEXT,
			frag_type   TEXT,
			metadata    TEXT,
			payload     %s,
			PRIMARY KEY (project_key, id)
		)`, idType, blobType)
	if _, err := t.db.Exec(ddl); err != nil {
		return fmt.Errorf("vectorstore: create L3 fragments table: %w", err)
	}
	return nil
}

func (t *l3) placeholder(n int) string {
	if t.driver == DriverPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

func (t *l3) upsert(ctx context.Context, frag *models.EmbeddingFragment) error {
	tags, err := json.Marshal(frag.Tags)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal tags: %w", err)
	}
	extra, err := json.Marshal(frag.Metadata.Extra)
	if err != nil {
		return fmt.Errorf("vectorstore: marshal metadata: %w", err)
	}

	var query string
	if t.driver == DriverPostgres {
		query = `INSERT INTO fragments (project_key, id, title, content, full_content, tags, frag_type, metadata, payload)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (project_key, id) DO UPDATE SET
				title=excluded.title, content=excluded.content, full_content=excluded.full_content,
				tags=excluded.tags, frag_type=excluded.frag_type, metadata=excluded.metadata, payload=excluded.payload`
	} else {
		query = `INSERT INTO fragments (project_key, id, title, content, full_content, tags, frag_type, metadata, payload)
			VALUES (?,?,?,?,?,?,?,?,?)
			ON CONFLICT(project_key, id) DO UPDATE SET
				title=excluded.title, content=excluded.content, full_content=excluded.full_content,
				tags=excluded.tags, frag_type=excluded.frag_type, metadata=excluded.metadata, payload=excluded.payload`
	}

	_, err = t.db.ExecContext(ctx, query,
		frag.Metadata.ProjectKey, frag.ID, frag.Title, frag.Content, frag.Full,
		string(tags), string(frag.Metadata.Type), string(extra), frag.Payload)
	if err != nil {
		return fmt.Errorf("vectorstore: L3 upsert: %w", err)
	}
	return nil
}

func (t *l3) get(ctx context.Context, projectKey, id string) (*models.EmbeddingFragment, error) {
	query := fmt.Sprintf(`SELECT id, title, content, full_content, tags, frag_type, metadata, payload
		FROM fragments WHERE project_key = %s AND id = %s`, t.placeholder(1), t.placeholder(2))
	row := t.db.QueryRowContext(ctx, query, projectKey, id)
	frag, err := scanFragment(row, projectKey)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return frag, nil
}

func (t *l3) delete(ctx context.Context, projectKey, id string) error {
	query := fmt.Sprintf(`DELETE FROM fragments WHERE project_key = %s AND id = %s`, t.placeholder(1), t.placeholder(2))
	_, err := t.db.ExecContext(ctx, query, projectKey, id)
	if err != nil {
		return fmt.Errorf("vectorstore: L3 delete: %w", err)
	}
	return nil
}

// findByFilter returns fragment ids in projectKey matching filter's
// non-zero fields, for CleanupByTag's cascading delete.
func (t *l3) findByFilter(ctx context.Context, filter models.MetadataFilter) ([]string, error) {
	query := fmt.Sprintf(`SELECT id, tags, frag_type FROM fragments WHERE project_key = %s`, t.placeholder(1))
	rows, err := t.db.QueryContext(ctx, query, filter.ProjectKey)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: L3 filter query: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, tagsJSON, fragType string
		if err := rows.Scan(&id, &tagsJSON, &fragType); err != nil {
			return nil, err
		}
		if filter.Type != "" && string(filter.Type) != fragType {
			continue
		}
		if filter.Tag != "" {
			var tags []string
			_ = json.Unmarshal([]byte(tagsJSON), &tags)
			if !containsTag(tags, filter.Tag) {
				continue
			}
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFragment(row rowScanner, projectKey string) (*models.EmbeddingFragment, error) {
	var frag models.EmbeddingFragment
	var tagsJSON, fragType, metadataJSON string
	var full sql.NullString
	var payload []byte

	if err := row.Scan(&frag.ID, &frag.Title, &frag.Content, &full, &tagsJSON, &fragType, &metadataJSON, &payload); err != nil {
		return nil, err
	}
	frag.Full = full.String
	frag.Payload = payload
	_ = json.Unmarshal([]byte(tagsJSON), &frag.Tags)
	var extra map[string]any
	_ = json.Unmarshal([]byte(metadataJSON), &extra)
	frag.Metadata = models.FragmentMetadata{
		Type:       models.FragmentType(fragType),
		ProjectKey: projectKey,
		Extra:      extra,
	}
	return &frag, nil
}

func (t *l3) close() error {
	return t.db.Close()
}
