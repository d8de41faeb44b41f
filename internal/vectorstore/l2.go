package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// l2 is the warm tier: an on-disk approximate index. It is implemented
// as a modernc.org/sqlite table storing (project_key, id, vector_blob)
// with a brute-force cosine scan over the project's partition, since
// pure-Go SQLite has no native vec0/ANN extension (that requires CGO).
// Rebuild is a placeholder hook for a future real ANN index once the
// ecosystem offers a pure-Go one.
type l2 struct {
	db        *sql.DB
	dimension int
	mutations int
}

func newL2(path string, dimension int) (*l2, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open L2 database: %w", err)
	}
	t := &l2{db: db, dimension: dimension}
	if err := t.init(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

func (t *l2) init() error {
	_, err := t.db.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
			project_key TEXT NOT NULL,
			id          TEXT NOT NULL,
			vector      BLOB NOT NULL,
			PRIMARY KEY (project_key, id)
		)
	`)
	if err != nil {
		return fmt.Errorf("vectorstore: create L2 vectors table: %w", err)
	}
	_, err = t.db.Exec(`CREATE INDEX IF NOT EXISTS idx_vectors_project ON vectors(project_key)`)
	if err != nil {
		return fmt.Errorf("vectorstore: create L2 index: %w", err)
	}
	return nil
}

func (t *l2) upsert(ctx context.Context, projectKey, id string, vector []float32) error {
	if len(vector) != t.dimension {
		return ErrDimensionMismatch
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO vectors (project_key, id, vector) VALUES (?, ?, ?)
		 ON CONFLICT(project_key, id) DO UPDATE SET vector = excluded.vector`,
		projectKey, id, encodeVector(vector))
	if err != nil {
		return fmt.Errorf("vectorstore: L2 upsert: %w", err)
	}
	t.mutations++
	if t.mutations%1000 == 0 {
		t.rebuild(ctx)
	}
	return nil
}

func (t *l2) delete(ctx context.Context, projectKey, id string) error {
	_, err := t.db.ExecContext(ctx, `DELETE FROM vectors WHERE project_key = ? AND id = ?`, projectKey, id)
	if err != nil {
		return fmt.Errorf("vectorstore: L2 delete: %w", err)
	}
	return nil
}

// scoredID is one brute-force scan hit before payload hydration.
type scoredID struct {
	id    string
	score float32
}

// search returns the topK (id, score) pairs in a project's partition
// ranked by cosine similarity to query, highest first.
func (t *l2) search(ctx context.Context, projectKey string, query []float32, topK int) ([]scoredID, error) {
	rows, err := t.db.QueryContext(ctx, `SELECT id, vector FROM vectors WHERE project_key = ?`, projectKey)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: L2 search query: %w", err)
	}
	defer rows.Close()

	var results []scoredID
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("vectorstore: L2 scan row: %w", err)
		}
		vec := decodeVector(blob)
		results = append(results, scoredID{id: id, score: cosineSimilarity(query, vec)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortByScoreDesc(results)
	if topK > 0 && topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

func (t *l2) cleanupByIDs(ctx context.Context, projectKey string, ids []string) error {
	for _, id := range ids {
		if err := t.delete(ctx, projectKey, id); err != nil {
			return err
		}
	}
	return nil
}

// rebuild is invoked once the mutation count crosses a threshold. It
// re-analyzes the table rather than rebuilding a real ANN structure,
// since the brute-force scan above has no index to rebuild.
func (t *l2) rebuild(ctx context.Context) {
	_, _ = t.db.ExecContext(ctx, `ANALYZE vectors`)
}

func (t *l2) close() error {
	return t.db.Close()
}

func encodeVector(v []float32) []byte {
	out := make([]byte, len(v)*4)
	for i, f := range v {
		bits := math.Float32bits(f)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func decodeVector(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

func sortByScoreDesc(results []scoredID) {
	for i := 0; i < len(results)-1; i++ {
		for j := i + 1; j < len(results); j++ {
			if results[j].score > results[i].score {
				results[i], results[j] = results[j], results[i]
			}
		}
	}
}
