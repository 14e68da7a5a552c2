package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/taskweave/taskweave/internal/embedding"
	"github.com/taskweave/taskweave/internal/storage/sqlite"
	"github.com/taskweave/taskweave/internal/vector"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis, *vector.Index) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	idx, err := vector.New(db.DB())
	if err != nil {
		t.Fatalf("failed to create vector index: %v", err)
	}

	s, err := New(rdb, idx, embedding.NewHashEmbedder(0), DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("failed to create cache store: %v", err)
	}
	return s, mr, idx
}

func TestExactTierHit(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	prompt := "Summarize the project goals in one sentence."
	if err := s.Store(ctx, "proj-1", prompt, "The project sells shoes.", false); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	content, tier, ok, err := s.Lookup(ctx, "proj-1", prompt, false)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || tier != TierExact {
		t.Fatalf("expected an exact hit, got ok=%v tier=%s", ok, tier)
	}
	if content != "The project sells shoes." {
		t.Errorf("unexpected content: %q", content)
	}
}

func TestExactHitIgnoresWhitespaceAndCase(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Store(ctx, "proj-1", "Summarize the  Project goals.", "summary", false); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	_, tier, ok, err := s.Lookup(ctx, "proj-1", "summarize the project goals.", false)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || tier != TierExact {
		t.Errorf("normalized prompts should share an exact key, got ok=%v tier=%s", ok, tier)
	}
}

func TestSemanticTierHit(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	prompt := "Summarize the project goals in one sentence."
	if err := s.Store(ctx, "proj-1", prompt, "The project sells shoes.", false); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	// Kill the exact tier so the lookup has to fall through
	mr.FlushAll()

	content, tier, ok, err := s.Lookup(ctx, "proj-1", prompt, false)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || tier != TierSemantic {
		t.Fatalf("expected a semantic hit, got ok=%v tier=%s", ok, tier)
	}
	if content != "The project sells shoes." {
		t.Errorf("unexpected content: %q", content)
	}
}

func TestSemanticMissBelowThreshold(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.Store(ctx, "proj-1", "Summarize the project goals.", "summary", false); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	mr.FlushAll()

	_, _, ok, err := s.Lookup(ctx, "proj-1", "Draft a launch announcement for the blog.", false)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ok {
		t.Error("unrelated prompt must miss the semantic tier")
	}
}

func TestTemplateTierOnlyForDeterministicCalls(t *testing.T) {
	s, mr, _ := newTestStore(t)
	ctx := context.Background()

	prompt := "Extract fields as JSON: title, points."
	if err := s.Store(ctx, "proj-1", prompt, `{"title":"x"}`, true); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Remove the exact key and raise the semantic bar so only the
	// template tier can answer
	hash := vector.HashText(prompt)
	mr.Del("cache:exact:proj-1:" + hash)
	s.cfg.SemanticThreshold = 1.01

	_, tier, ok, err := s.Lookup(ctx, "proj-1", prompt, true)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !ok || tier != TierTemplate {
		t.Fatalf("deterministic lookup should hit the template tier, got ok=%v tier=%s", ok, tier)
	}

	// The same prompt without the deterministic flag never touches it
	_, _, ok, err = s.Lookup(ctx, "proj-1", prompt, false)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ok {
		t.Error("non-deterministic lookup must skip the template tier")
	}
}

func TestScopesAreIsolated(t *testing.T) {
	s, _, _ := newTestStore(t)
	ctx := context.Background()

	prompt := "Summarize the project goals."
	if err := s.Store(ctx, "proj-1", prompt, "summary", false); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	_, _, ok, err := s.Lookup(ctx, "proj-2", prompt, false)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if ok {
		t.Error("a different scope must not share cache entries")
	}
}

func TestPurgeExpiredRemovesSemanticEntries(t *testing.T) {
	s, mr, idx := newTestStore(t)
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.SemanticTTL = -time.Minute // already expired on insert
	s.cfg = cfg

	if err := s.Store(ctx, "proj-1", "Summarize the project goals.", "summary", false); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	mr.FlushAll()

	n, err := s.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged entry, got %d", n)
	}

	count, err := idx.Count(ctx, "proj-1", vector.KindCache)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected an empty semantic tier, got %d records", count)
	}
}
