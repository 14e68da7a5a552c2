// Package embedding turns text into vectors for similarity search.
// The production implementation talks to an Ollama-compatible embedding
// endpoint over HTTP; tests and offline runs use the deterministic
// feature-hash embedder.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// Embedder generates embedding vectors for text
type Embedder interface {
	// Embed returns the embedding vector for a single text
	Embed(ctx context.Context, text string) ([]float32, error)
}

// HTTPEmbedder calls an Ollama-compatible /api/embed endpoint
type HTTPEmbedder struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewHTTPEmbedder creates an HTTPEmbedder targeting the given base URL
func NewHTTPEmbedder(baseURL, model string) *HTTPEmbedder {
	return &HTTPEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed returns the embedding vector for a single text
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: unexpected status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, fmt.Errorf("embed: empty embeddings array")
	}
	return result.Embeddings[0], nil
}

// EmbedBatch embeds multiple texts concurrently using any Embedder.
// Returns nil (not error) for empty input.
func EmbedBatch(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4) // bound concurrency so we don't overwhelm the engine

	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// HashEmbedder produces deterministic embeddings by hashing token
// n-grams into a fixed number of buckets. Similar texts land in similar
// buckets, which is enough for threshold tests and offline operation.
type HashEmbedder struct {
	Dims int
}

// NewHashEmbedder creates a HashEmbedder with the given dimensionality
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 256
	}
	return &HashEmbedder{Dims: dims}
}

// Embed returns a normalized bag-of-ngrams feature vector
func (e *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, e.Dims)
	tokens := strings.Fields(strings.ToLower(text))
	for i, tok := range tokens {
		bump(vec, tok)
		if i+1 < len(tokens) {
			bump(vec, tok+" "+tokens[i+1])
		}
	}

	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return vec, nil
	}
	n := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

func bump(vec []float32, feature string) {
	h := fnv.New32a()
	h.Write([]byte(feature))
	vec[h.Sum32()%uint32(len(vec))]++
}
