package ai

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestIsRetriableError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retriable bool
	}{
		{"nil", nil, false},
		{"rate limit", fmt.Errorf("HTTP 429: rate limit exceeded"), true},
		{"server error", fmt.Errorf("HTTP 500: internal server error"), true},
		{"bad gateway", fmt.Errorf("HTTP 502: bad gateway"), true},
		{"gateway timeout", fmt.Errorf("HTTP 504: gateway timeout"), true},
		{"connection reset", fmt.Errorf("read tcp: connection reset by peer"), true},
		{"io timeout", fmt.Errorf("dial tcp: i/o timeout"), true},
		{"bad request", fmt.Errorf("HTTP 400: invalid request"), false},
		{"unauthorized", fmt.Errorf("HTTP 401: invalid x-api-key"), false},
		{"forbidden", fmt.Errorf("HTTP 403: permission denied"), false},
		{"not found", fmt.Errorf("HTTP 404: model not found"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetriableError(tt.err); got != tt.retriable {
				t.Errorf("isRetriableError(%v) = %v, want %v", tt.err, got, tt.retriable)
			}
		})
	}
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 2, 50*time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Allow(); err != nil {
			t.Fatalf("closed breaker should allow, got %v", err)
		}
		cb.RecordFailure()
	}
	if cb.GetState() != CircuitOpen {
		t.Fatalf("expected open after 3 failures, got %s", cb.GetState().String())
	}
	if err := cb.Allow(); err != ErrCircuitOpen {
		t.Fatalf("open breaker should reject, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)
	cb.RecordFailure()
	if cb.GetState() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.GetState().String())
	}

	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("breaker should probe after the open timeout, got %v", err)
	}
	if cb.GetState() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.GetState().String())
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.GetState() != CircuitClosed {
		t.Errorf("two successes should close the breaker, got %s", cb.GetState().String())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(1, 2, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected a probe, got %v", err)
	}
	cb.RecordFailure()
	if cb.GetState() != CircuitOpen {
		t.Errorf("a half-open failure should reopen, got %s", cb.GetState().String())
	}
}

func TestRetryStopsAtMaxRetries(t *testing.T) {
	p := &fakeProvider{responses: []func() (*ProviderResponse, error){
		fail(fmt.Errorf("HTTP 503: service unavailable")),
	}}
	o := newOrchestrator(t, p, nil)

	_, err := o.Execute(context.Background(), Request{Prompt: "Plan.", UsageType: "planning"})
	if err == nil {
		t.Fatal("expected failure after exhausting retries")
	}
	if !IsTransient(err) {
		t.Errorf("expected a transient-kind error, got %v", err)
	}
	// MaxRetries 2 means 3 attempts total
	if p.calls != 3 {
		t.Errorf("expected 3 attempts, got %d", p.calls)
	}
}

func TestCircuitBreakerFailsFast(t *testing.T) {
	cfg := fastRetry()
	cfg.MaxRetries = 0
	cfg.CircuitBreakerEnabled = true
	cfg.FailureThreshold = 2
	cfg.SuccessThreshold = 1
	cfg.OpenTimeout = time.Minute

	p := &fakeProvider{responses: []func() (*ProviderResponse, error){
		fail(fmt.Errorf("HTTP 500: internal server error")),
	}}
	o, err := New(&Config{Provider: p, Retry: cfg})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := o.Execute(ctx, Request{Prompt: "Plan.", UsageType: "planning"}); err == nil {
			t.Fatal("expected provider failure")
		}
	}
	calls := p.calls

	// The breaker is open now; no further provider calls go through
	if _, err := o.Execute(ctx, Request{Prompt: "Plan.", UsageType: "planning"}); err == nil {
		t.Fatal("expected circuit-open failure")
	}
	if p.calls != calls {
		t.Errorf("open breaker must fail fast, provider saw %d extra calls", p.calls-calls)
	}
	if err := o.HealthCheck(ctx); err == nil {
		t.Error("health check should report an open breaker")
	}
}
