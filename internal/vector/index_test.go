package vector

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ix, err := New(db)
	if err != nil {
		t.Fatalf("failed to create index: %v", err)
	}
	return ix
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float32
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{2, 0}, []float32{5, 0}, 1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			if math.Abs(float64(got-tt.want)) > 1e-6 {
				t.Errorf("Cosine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHashTextNormalizes(t *testing.T) {
	a := HashText("Summarize  the\tProject Goals")
	b := HashText("summarize the project goals")
	if a != b {
		t.Error("case and whitespace differences should hash identically")
	}
	c := HashText("summarize the project scope")
	if a == c {
		t.Error("different texts must not collide")
	}
}

func TestSearchReturnsTopKByScore(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	records := []Record{
		{ID: "r1", Scope: "s1", Kind: KindQuestion, Text: "one", Embedding: []float32{1, 0, 0}},
		{ID: "r2", Scope: "s1", Kind: KindQuestion, Text: "two", Embedding: []float32{0.9, 0.1, 0}},
		{ID: "r3", Scope: "s1", Kind: KindQuestion, Text: "three", Embedding: []float32{0, 1, 0}},
		{ID: "r4", Scope: "s1", Kind: KindQuestion, Text: "four", Embedding: []float32{0, 0, 1}},
	}
	for _, r := range records {
		if err := ix.Insert(ctx, r); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	results, err := ix.Search(ctx, "s1", KindQuestion, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "r1" || results[1].ID != "r2" {
		t.Errorf("expected r1 then r2, got %s then %s", results[0].ID, results[1].ID)
	}
	if results[0].Score < results[1].Score {
		t.Error("results must be ordered by descending score")
	}
}

func TestSearchIsolatesScopeAndKind(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.Insert(ctx, Record{ID: "r1", Scope: "s1", Kind: KindQuestion, Text: "q", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := ix.Insert(ctx, Record{ID: "r2", Scope: "s2", Kind: KindQuestion, Text: "q2", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := ix.Insert(ctx, Record{ID: "r3", Scope: "s1", Kind: KindWorkItem, Text: "wi", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	results, err := ix.Search(ctx, "s1", KindQuestion, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "r1" {
		t.Fatalf("expected only r1, got %d results", len(results))
	}
}

func TestInsertDuplicateHashKeepsFirst(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.Insert(ctx, Record{ID: "r1", Scope: "s1", Kind: KindQuestion, Text: "Same Question?", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("first Insert failed: %v", err)
	}
	// Same normalized text under a new id
	if err := ix.Insert(ctx, Record{ID: "r2", Scope: "s1", Kind: KindQuestion, Text: "same  question?", Embedding: []float32{0, 1}}); err != nil {
		t.Fatalf("second Insert failed: %v", err)
	}

	count, err := ix.Count(ctx, "s1", KindQuestion)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("duplicate hash should keep one row, got %d", count)
	}
	rec, err := ix.GetByHash(ctx, "s1", KindQuestion, HashText("Same Question?"))
	if err != nil {
		t.Fatalf("GetByHash failed: %v", err)
	}
	if rec.ID != "r1" {
		t.Errorf("the existing row should win, got %s", rec.ID)
	}
}

func TestSearchSkipsExpiredRecords(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	if err := ix.Insert(ctx, Record{ID: "r1", Scope: "s1", Kind: KindCache, Text: "old", Embedding: []float32{1, 0}, ExpiresAt: &past}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := ix.Insert(ctx, Record{ID: "r2", Scope: "s1", Kind: KindCache, Text: "live", Embedding: []float32{1, 0}, ExpiresAt: &future}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	results, err := ix.Search(ctx, "s1", KindCache, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "r2" {
		t.Fatalf("expired record should be invisible, got %d results", len(results))
	}

	n, err := ix.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 purged record, got %d", n)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 3.75, 0}
	out, err := decodeFloat32s(encodeFloat32s(in))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("length mismatch: %d vs %d", len(out), len(in))
	}
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: %v != %v", i, in[i], out[i])
		}
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	if err := ix.Insert(ctx, Record{ID: "r1", Scope: "s1", Kind: KindQuestion, Text: "q", Embedding: []float32{1, 0}}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := ix.Delete(ctx, "r1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	count, err := ix.Count(ctx, "s1", KindQuestion)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 records after delete, got %d", count)
	}
}
