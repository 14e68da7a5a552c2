// Package vector provides a SQLite-backed embedding index with brute-force
// cosine similarity search. It serves three consumers: interview question
// deduplication, work-item duplicate detection, and the semantic cache tier.
//
// Brute-force scan is deliberate: per-scope record counts stay in the
// hundreds, so an ANN index would buy nothing here.
package vector

import (
	"container/heap"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"
)

// Kind partitions the index by consumer
type Kind string

const (
	KindQuestion Kind = "question"
	KindWorkItem Kind = "work_item"
	KindCache    Kind = "cache"
)

// Record is one stored embedding with its source text and optional payload.
// Payload carries the cached response for semantic cache records and is
// empty for dedup records.
type Record struct {
	ID        string
	Scope     string // interview/project scope identifier
	Kind      Kind
	Text      string
	TextHash  string
	Payload   string
	Embedding []float32
	CreatedAt time.Time
	ExpiresAt *time.Time
}

// ScoredRecord is a Record with a cosine similarity score attached
type ScoredRecord struct {
	Record
	Score float32
}

const indexSchema = `
CREATE TABLE IF NOT EXISTS embeddings (
    id TEXT PRIMARY KEY,
    scope TEXT NOT NULL,
    kind TEXT NOT NULL,
    text TEXT NOT NULL,
    text_hash TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT '',
    embedding BLOB NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_embeddings_scope_kind ON embeddings(scope, kind);
CREATE UNIQUE INDEX IF NOT EXISTS idx_embeddings_scope_kind_hash ON embeddings(scope, kind, text_hash);
CREATE INDEX IF NOT EXISTS idx_embeddings_expires ON embeddings(expires_at);
`

// Index provides vector storage and similarity search over a shared
// SQLite handle
type Index struct {
	db *sql.DB
}

// New wraps an existing *sql.DB and ensures the embeddings table exists
func New(db *sql.DB) (*Index, error) {
	if _, err := db.Exec(indexSchema); err != nil {
		return nil, fmt.Errorf("failed to initialize embeddings schema: %w", err)
	}
	return &Index{db: db}, nil
}

// HashText returns the normalized hash used as the exact-match key for a
// text: lowercase, whitespace-collapsed, sha256.
func HashText(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Insert stores a record. Inserting the same (scope, kind, text_hash)
// twice keeps the existing row; concurrent writers racing on insert is
// harmless here.
func (ix *Index) Insert(ctx context.Context, r Record) error {
	if r.TextHash == "" {
		r.TextHash = HashText(r.Text)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	var expires any
	if r.ExpiresAt != nil {
		expires = r.ExpiresAt.UTC()
	}
	_, err := ix.db.ExecContext(ctx, `
		INSERT INTO embeddings (id, scope, kind, text, text_hash, payload, embedding, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(scope, kind, text_hash) DO NOTHING`,
		r.ID, r.Scope, r.Kind, r.Text, r.TextHash, r.Payload, encodeFloat32s(r.Embedding), r.CreatedAt, expires)
	if err != nil {
		return fmt.Errorf("failed to insert embedding %s: %w", r.ID, err)
	}
	return nil
}

type idScore struct {
	ID    string
	Score float32
}

// Search returns the top-K most similar live records within a scope and
// kind, highest score first. Expired records are skipped.
func (ix *Index) Search(ctx context.Context, scope string, kind Kind, query []float32, topK int) ([]ScoredRecord, error) {
	if topK <= 0 {
		return nil, nil
	}
	queryNorm := norm(query)
	if queryNorm == 0 {
		return nil, nil
	}

	rows, err := ix.db.QueryContext(ctx, `
		SELECT id, embedding FROM embeddings
		WHERE scope = ? AND kind = ? AND (expires_at IS NULL OR expires_at > ?)`,
		scope, kind, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("failed to decode embedding for %s: %w", id, err)
		}
		score := cosine(query, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate embeddings: %w", err)
	}
	if h.Len() == 0 {
		return nil, nil
	}

	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	records, err := ix.getByIDs(ctx, topIDs)
	if err != nil {
		return nil, err
	}

	results := make([]ScoredRecord, 0, len(records))
	for _, r := range records {
		results = append(results, ScoredRecord{Record: r, Score: scores[r.ID]})
	}
	sortByScore(results)
	return results, nil
}

// GetByHash returns the record matching an exact text hash, if it exists
// and has not expired
func (ix *Index) GetByHash(ctx context.Context, scope string, kind Kind, textHash string) (*Record, error) {
	row := ix.db.QueryRowContext(ctx, `
		SELECT id, scope, kind, text, text_hash, payload, embedding, created_at, expires_at
		FROM embeddings
		WHERE scope = ? AND kind = ? AND text_hash = ? AND (expires_at IS NULL OR expires_at > ?)`,
		scope, kind, textHash, time.Now().UTC())
	r, err := scanRecord(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding by hash: %w", err)
	}
	return r, nil
}

// ListByScope returns all live records for a scope and kind, oldest first
func (ix *Index) ListByScope(ctx context.Context, scope string, kind Kind) ([]Record, error) {
	rows, err := ix.db.QueryContext(ctx, `
		SELECT id, scope, kind, text, text_hash, payload, embedding, created_at, expires_at
		FROM embeddings
		WHERE scope = ? AND kind = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at ASC`,
		scope, kind, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// Delete removes a record by ID
func (ix *Index) Delete(ctx context.Context, id string) error {
	_, err := ix.db.ExecContext(ctx, "DELETE FROM embeddings WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete embedding %s: %w", id, err)
	}
	return nil
}

// PurgeExpired removes records whose TTL has lapsed and returns the count
func (ix *Index) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := ix.db.ExecContext(ctx,
		"DELETE FROM embeddings WHERE expires_at IS NOT NULL AND expires_at <= ?", time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired embeddings: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of live records for a scope and kind
func (ix *Index) Count(ctx context.Context, scope string, kind Kind) (int, error) {
	var count int
	err := ix.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM embeddings
		WHERE scope = ? AND kind = ? AND (expires_at IS NULL OR expires_at > ?)`,
		scope, kind, time.Now().UTC()).Scan(&count)
	return count, err
}

func (ix *Index) getByIDs(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, scope, kind, text, text_hash, payload, embedding, created_at, expires_at
		FROM embeddings WHERE id IN (?` + strings.Repeat(",?", len(ids)-1) + `)`

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch top-K records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

func scanRecord(scan func(...any) error) (*Record, error) {
	var r Record
	var blob []byte
	var expires sql.NullTime
	if err := scan(&r.ID, &r.Scope, &r.Kind, &r.Text, &r.TextHash, &r.Payload, &blob, &r.CreatedAt, &expires); err != nil {
		return nil, err
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode embedding for %s: %w", r.ID, err)
	}
	r.Embedding = embedding
	if expires.Valid {
		t := expires.Time
		r.ExpiresAt = &t
	}
	return &r, nil
}

// sortByScore sorts ScoredRecords by Score descending. Insertion sort is
// fine for topK-sized slices.
func sortByScore(results []ScoredRecord) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// encodeFloat32s serializes a float32 slice to little-endian bytes
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes into the provided buffer, reusing it to
// avoid per-row allocations during search scans
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes cosine similarity as dot(a,b) / (aNorm * |b|).
// aNorm is the precomputed L2 norm of vector a.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// Cosine computes cosine similarity between two vectors
func Cosine(a, b []float32) float32 {
	return cosine(a, b, norm(a))
}

// idScoreHeap is a min-heap of idScore ordered by Score, used to track
// top-K candidates during the scan phase of Search
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
