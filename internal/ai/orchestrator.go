// Package ai is the single entry point for all external AI calls. The
// Orchestrator performs model selection, optional cache lookup, cost
// computation, and typed error propagation. It never fabricates content
// on failure; fallback behavior belongs to the caller.
package ai

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/taskweave/taskweave/internal/telemetry"
	"github.com/taskweave/taskweave/internal/types"
)

// Provider abstracts the model backend so tests can script responses
// and failures without network access
type Provider interface {
	// Complete sends a single-prompt completion request
	Complete(ctx context.Context, model string, maxTokens int, prompt string) (*ProviderResponse, error)
}

// ProviderResponse is the raw provider result before cost computation
type ProviderResponse struct {
	Content   string
	TokensIn  int64
	TokensOut int64
}

// ResponseCache is the multi-tier cache consulted before provider calls.
// Implemented by the cache package; entries are disposable, so lookup
// errors degrade to misses.
type ResponseCache interface {
	// Lookup returns the cached content and the tier that matched.
	// ok is false on a miss.
	Lookup(ctx context.Context, scope, prompt string, deterministic bool) (content, tier string, ok bool, err error)
	// Store writes the response into the appropriate tiers
	Store(ctx context.Context, scope, prompt, content string, deterministic bool) error
}

// Request describes one AI call
type Request struct {
	Prompt        string
	UsageType     string           // operation tag for logging and metrics
	Scope         string           // cache partition, typically the project ID
	Complexity    types.Complexity // model selection signal
	MaxTokens     int
	EnableCache   bool
	Deterministic bool // zero-temperature structured call, eligible for the template tier
}

// Result is the outcome of one AI call
type Result struct {
	Content   string
	TokensIn  int64
	TokensOut int64
	CostUSD   float64
	Provider  string
	Model     string
	CacheTier string // "", "exact", "semantic", or "template"
}

// FromCache reports whether the result was served without a provider call
func (r *Result) FromCache() bool {
	return r.CacheTier != ""
}

// Config holds orchestrator configuration
type Config struct {
	APIKey   string // Anthropic API key (if empty, reads ANTHROPIC_API_KEY)
	Provider Provider
	Cache    ResponseCache // optional; nil disables caching entirely
	Retry    RetryConfig
	Logger   *zap.SugaredLogger
}

// Orchestrator fronts every external AI call
type Orchestrator struct {
	provider       Provider
	cache          ResponseCache
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	rateLimiter    *rate.Limiter
	logger         *zap.SugaredLogger
}

// New creates a new orchestrator
func New(cfg *Config) (*Orchestrator, error) {
	provider := cfg.Provider
	if provider == nil {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
			if apiKey == "" {
				return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
			}
		}
		client := anthropic.NewClient(option.WithAPIKey(apiKey))
		provider = &anthropicProvider{client: &client}
	}

	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.Timeout == 0 {
		retry = DefaultRetryConfig()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var circuitBreaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout)
	}

	var concurrencySem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	var limiter *rate.Limiter
	if retry.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(retry.RequestsPerSecond), 1)
	}

	return &Orchestrator{
		provider:       provider,
		cache:          cfg.Cache,
		retry:          retry,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
		rateLimiter:    limiter,
		logger:         logger,
	}, nil
}

// Execute runs one AI call through cache lookup, model selection, retry,
// and cost computation. With EnableCache false all tiers are bypassed
// unconditionally; any path whose output must differ between highly
// similar prompts (conversational question generation) relies on that.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, NewProviderError(ErrKindValidation, req.UsageType, fmt.Errorf("prompt is empty"))
	}

	model := SelectModel(req.Complexity)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	if req.EnableCache && o.cache != nil {
		content, tier, ok, err := o.cache.Lookup(ctx, req.Scope, req.Prompt, req.Deterministic)
		if err != nil {
			// A broken cache only costs an extra provider call
			o.logger.Warnw("cache lookup failed, treating as miss",
				"usage_type", req.UsageType, "error", err)
		} else if ok {
			o.logger.Debugw("cache hit", "usage_type", req.UsageType, "tier", tier)
			return &Result{
				Content:   content,
				Provider:  ProviderAnthropic,
				Model:     model,
				CacheTier: tier,
			}, nil
		}
	}

	startTime := time.Now()
	var resp *ProviderResponse
	err := o.retryWithBackoff(ctx, req.UsageType, func(attemptCtx context.Context) error {
		r, apiErr := o.provider.Complete(attemptCtx, model, maxTokens, req.Prompt)
		if apiErr != nil {
			return apiErr
		}
		resp = r
		return nil
	})
	duration := time.Since(startTime)

	if err != nil {
		telemetry.ObserveAICall(model, "error", 0, 0, duration)
		return nil, NewProviderError(classifyProviderError(err), req.UsageType, err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		telemetry.ObserveAICall(model, "error", resp.TokensIn, resp.TokensOut, duration)
		return nil, NewProviderError(ErrKindMalformed, req.UsageType, fmt.Errorf("provider returned empty content"))
	}

	result := &Result{
		Content:   resp.Content,
		TokensIn:  resp.TokensIn,
		TokensOut: resp.TokensOut,
		CostUSD:   Cost(ProviderAnthropic, model, resp.TokensIn, resp.TokensOut),
		Provider:  ProviderAnthropic,
		Model:     model,
	}

	telemetry.ObserveAICall(model, "ok", resp.TokensIn, resp.TokensOut, duration)
	o.logger.Infow("ai call",
		"usage_type", req.UsageType, "model", model,
		"tokens_in", resp.TokensIn, "tokens_out", resp.TokensOut,
		"cost_usd", result.CostUSD, "duration", duration)

	if req.EnableCache && o.cache != nil {
		if err := o.cache.Store(ctx, req.Scope, req.Prompt, resp.Content, req.Deterministic); err != nil {
			o.logger.Warnw("cache store failed", "usage_type", req.UsageType, "error", err)
		}
	}

	return result, nil
}

// HealthCheck reports whether the provider path is currently usable
func (o *Orchestrator) HealthCheck(ctx context.Context) error {
	if o.circuitBreaker != nil {
		state, failures, _ := o.circuitBreaker.GetMetrics()
		if state == CircuitOpen {
			return fmt.Errorf("ai orchestrator unavailable: %w (failures=%d, retry in %v)",
				ErrCircuitOpen, failures, o.retry.OpenTimeout)
		}
	}
	return nil
}

// anthropicProvider is the production Provider backed by the Anthropic SDK
type anthropicProvider struct {
	client *anthropic.Client
}

func (p *anthropicProvider) Complete(ctx context.Context, model string, maxTokens int, prompt string) (*ProviderResponse, error) {
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, err
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return &ProviderResponse{
		Content:   content,
		TokensIn:  resp.Usage.InputTokens,
		TokensOut: resp.Usage.OutputTokens,
	}, nil
}
