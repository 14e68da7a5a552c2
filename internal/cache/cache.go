// Package cache implements the multi-tier response cache that sits in
// front of provider calls: an exact-match tier and a deterministic
// template tier in Redis, and a semantic tier backed by the embedding
// index. Entries are disposable; a lost or stale entry costs an extra
// provider call, never a wrong answer.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taskweave/taskweave/internal/embedding"
	"github.com/taskweave/taskweave/internal/telemetry"
	"github.com/taskweave/taskweave/internal/vector"
)

// Tier names reported on hits
const (
	TierExact    = "exact"
	TierSemantic = "semantic"
	TierTemplate = "template"
)

// Config holds cache TTLs and the semantic hit threshold
type Config struct {
	ExactTTL          time.Duration // default: 7 days
	SemanticTTL       time.Duration // default: 1 day
	TemplateTTL       time.Duration // default: 30 days
	SemanticThreshold float32       // cosine similarity for a semantic hit (default: 0.95)
	SemanticTopK      int           // candidates scanned per semantic lookup (default: 3)
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() Config {
	return Config{
		ExactTTL:          7 * 24 * time.Hour,
		SemanticTTL:       24 * time.Hour,
		TemplateTTL:       30 * 24 * time.Hour,
		SemanticThreshold: 0.95,
		SemanticTopK:      3,
	}
}

// Validate checks the configuration for sane values
func (c *Config) Validate() error {
	if c.SemanticThreshold <= 0 || c.SemanticThreshold > 1 {
		return fmt.Errorf("semantic threshold must be in (0, 1] (got %.2f)", c.SemanticThreshold)
	}
	if c.ExactTTL <= 0 || c.SemanticTTL <= 0 || c.TemplateTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	return nil
}

// Store is the three-tier response cache
type Store struct {
	redis    *redis.Client
	index    *vector.Index
	embedder embedding.Embedder
	cfg      Config
	logger   *zap.SugaredLogger
}

// New creates a cache store. The redis client serves the exact and
// template tiers; the vector index and embedder serve the semantic tier.
func New(rdb *redis.Client, index *vector.Index, embedder embedding.Embedder, cfg Config, logger *zap.SugaredLogger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{redis: rdb, index: index, embedder: embedder, cfg: cfg, logger: logger}, nil
}

func exactKey(scope, hash string) string {
	return fmt.Sprintf("cache:exact:%s:%s", scope, hash)
}

func templateKey(scope, hash string) string {
	return fmt.Sprintf("cache:tpl:%s:%s", scope, hash)
}

// Lookup consults the tiers in order: exact, semantic, then the template
// tier for deterministic calls. The first hit short-circuits.
func (s *Store) Lookup(ctx context.Context, scope, prompt string, deterministic bool) (string, string, bool, error) {
	hash := vector.HashText(prompt)

	if s.redis != nil {
		content, err := s.redis.Get(ctx, exactKey(scope, hash)).Result()
		if err == nil {
			telemetry.ObserveCacheLookup(TierExact, true)
			return content, TierExact, true, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", "", false, fmt.Errorf("exact tier lookup: %w", err)
		}
		telemetry.ObserveCacheLookup(TierExact, false)
	}

	if s.index != nil && s.embedder != nil {
		content, ok, err := s.semanticLookup(ctx, scope, prompt)
		if err != nil {
			// Semantic tier failures degrade to a miss; embeddings being
			// down should not take the exact tiers with them.
			s.logger.Warnw("semantic tier lookup failed", "error", err)
		} else if ok {
			telemetry.ObserveCacheLookup(TierSemantic, true)
			return content, TierSemantic, true, nil
		} else {
			telemetry.ObserveCacheLookup(TierSemantic, false)
		}
	}

	if deterministic && s.redis != nil {
		content, err := s.redis.Get(ctx, templateKey(scope, hash)).Result()
		if err == nil {
			telemetry.ObserveCacheLookup(TierTemplate, true)
			return content, TierTemplate, true, nil
		}
		if !errors.Is(err, redis.Nil) {
			return "", "", false, fmt.Errorf("template tier lookup: %w", err)
		}
		telemetry.ObserveCacheLookup(TierTemplate, false)
	}

	return "", "", false, nil
}

func (s *Store) semanticLookup(ctx context.Context, scope, prompt string) (string, bool, error) {
	vec, err := s.embedder.Embed(ctx, prompt)
	if err != nil {
		return "", false, fmt.Errorf("embedding prompt: %w", err)
	}
	results, err := s.index.Search(ctx, scope, vector.KindCache, vec, s.cfg.SemanticTopK)
	if err != nil {
		return "", false, err
	}
	for _, r := range results {
		if r.Score >= s.cfg.SemanticThreshold {
			return r.Payload, true, nil
		}
	}
	return "", false, nil
}

// Store writes the response into the exact tier, the semantic tier, and
// (for deterministic calls) the template tier. Concurrent writers may
// race on insert without correctness impact.
func (s *Store) Store(ctx context.Context, scope, prompt, content string, deterministic bool) error {
	hash := vector.HashText(prompt)

	if s.redis != nil {
		if err := s.redis.Set(ctx, exactKey(scope, hash), content, s.cfg.ExactTTL).Err(); err != nil {
			return fmt.Errorf("exact tier store: %w", err)
		}
		if deterministic {
			if err := s.redis.Set(ctx, templateKey(scope, hash), content, s.cfg.TemplateTTL).Err(); err != nil {
				return fmt.Errorf("template tier store: %w", err)
			}
		}
	}

	if s.index != nil && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, prompt)
		if err != nil {
			s.logger.Warnw("semantic tier store skipped, embedding failed", "error", err)
			return nil
		}
		expires := time.Now().UTC().Add(s.cfg.SemanticTTL)
		err = s.index.Insert(ctx, vector.Record{
			ID:        uuid.New().String(),
			Scope:     scope,
			Kind:      vector.KindCache,
			Text:      prompt,
			TextHash:  hash,
			Payload:   content,
			Embedding: vec,
			ExpiresAt: &expires,
		})
		if err != nil {
			s.logger.Warnw("semantic tier store failed", "error", err)
		}
	}
	return nil
}

// PurgeExpired removes lapsed semantic entries. Redis tiers expire on
// their own.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	if s.index == nil {
		return 0, nil
	}
	return s.index.PurgeExpired(ctx)
}
