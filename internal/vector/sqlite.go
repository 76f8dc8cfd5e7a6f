package vector

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ecanhq/agentcore/internal/embedding"
)

// SQLiteFactory opens collections backed by a single SQLite database with
// brute-force cosine similarity search. Good for small corpora; swap to
// the chromem backend when collections grow.
type SQLiteFactory struct {
	db       *sql.DB
	embedder embedding.Embedder
}

// NewSQLiteFactory opens (or creates) the vector database in dir. Pass
// ":memory:" as dir for an in-memory database (used by tests).
func NewSQLiteFactory(dir string, embedder embedding.Embedder) (*SQLiteFactory, error) {
	var dsn string
	if dir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating vector directory: %w", err)
		}
		dsn = filepath.Join(dir, "vectors.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging vector database: %w", err)
	}

	// Single connection avoids "database is locked" under the ingest worker.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS vectors (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			embedding BLOB NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vectors table: %w", err)
	}

	return &SQLiteFactory{db: db, embedder: embedder}, nil
}

func (f *SQLiteFactory) Open(collection string) (Store, error) {
	return &sqliteStore{db: f.db, collection: collection, embedder: f.embedder}, nil
}

func (f *SQLiteFactory) Drop(collection string) error {
	if _, err := f.db.Exec("DELETE FROM vectors WHERE collection = ?", collection); err != nil {
		return fmt.Errorf("dropping collection %s: %w", collection, err)
	}
	return nil
}

func (f *SQLiteFactory) Close() error { return f.db.Close() }

type sqliteStore struct {
	db         *sql.DB
	collection string
	embedder   embedding.Embedder

	mu sync.Mutex // serializes Add batches
}

func (s *sqliteStore) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}
	vecs, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %d documents: %w", len(docs), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO vectors (collection, id, content, metadata, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encoding metadata for %s: %w", d.ID, err)
		}
		if _, err := stmt.Exec(s.collection, d.ID, d.Text, string(meta), encodeFloat32s(vecs[i]), now); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting document %s: %w", d.ID, err)
		}
	}
	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of search.
// Full rows are fetched for top-K winners only.
type idScore struct {
	ID    string
	Score float32
}

func (s *sqliteStore) SimilaritySearch(ctx context.Context, query string, k int, filters map[string]string) ([]Result, error) {
	if k <= 0 {
		k = 5
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryNorm := norm(vec)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan id + embedding only.
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding FROM vectors WHERE collection = ?", s.collection)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	var buf []float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}
		score := cosine(vec, buf, queryNorm)
		if h.Len() < k {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full rows for the winners, best first.
	ordered := make([]idScore, h.Len())
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i] = heap.Pop(h).(idScore)
	}
	ids := make([]string, len(ordered))
	for i, it := range ordered {
		ids[i] = it.ID
	}
	docs, err := s.Get(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	results := make([]Result, 0, len(ordered))
	for _, it := range ordered {
		d, ok := byID[it.ID]
		if !ok {
			continue
		}
		results = append(results, Result{Document: d, Score: it.Score})
	}
	return results, nil
}

func (s *sqliteStore) Get(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.collection)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `SELECT id, content, metadata FROM vectors
		WHERE collection = ? AND id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying by IDs: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		var meta string
		if err := rows.Scan(&d.ID, &d.Text, &meta); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			return nil, fmt.Errorf("decoding metadata for %s: %w", d.ID, err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *sqliteStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, s.collection)
	for _, id := range ids {
		args = append(args, id)
	}
	query := `DELETE FROM vectors WHERE collection = ? AND id IN (?` +
		strings.Repeat(",?", len(ids)-1) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vectors WHERE collection = ?", s.collection).Scan(&n)
	return n, err
}

// Persist is a no-op: SQLite writes are durable at commit.
func (s *sqliteStore) Persist() error { return nil }

// SupportsFilters reports false: the SQLite backend does not filter on
// metadata. Callers drop filters instead of probing with failed calls.
func (s *sqliteStore) SupportsFilters() bool { return false }

// --- heap and vector math ---

type idScoreHeap []idScore

func (h idScoreHeap) Len() int            { return len(h) }
func (h idScoreHeap) Less(i, j int) bool  { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x interface{}) { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity between a and b given a's norm.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bSum float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bSum += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bSum)
	if bNorm == 0 || aNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into buf, reusing it to
// avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}
