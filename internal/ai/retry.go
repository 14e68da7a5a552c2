package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RetryConfig holds retry configuration for provider calls
type RetryConfig struct {
	MaxRetries        int           // Maximum number of retries (default: 3)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 30s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)
	Timeout           time.Duration // Per-request timeout (default: 60s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 2)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 30s)

	// Concurrency limit
	MaxConcurrentCalls int // Maximum concurrent provider calls (default: 3, 0 = unlimited)

	// Client-side rate limit in requests per second (default: 2, 0 = unlimited)
	RequestsPerSecond float64
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:            3,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            30 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               60 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      2,
		OpenTimeout:           30 * time.Second,
		MaxConcurrentCalls:    3,
		RequestsPerSecond:     2,
	}
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Too many failures, block requests (fail fast)
	CircuitHalfOpen                     // Testing recovery, allow limited requests
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker prevents cascading failures by failing fast once the
// provider has shown a run of consecutive errors
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		lastStateChange:  time.Now(),
	}
}

// Allow checks if a request should be allowed through the circuit breaker
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.lastFailureTime) > cb.openTimeout {
			cb.state = CircuitHalfOpen
			cb.successCount = 0
			cb.lastStateChange = time.Now()
			return nil
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		// Allow one probe request through
		return nil
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = CircuitClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.lastStateChange = time.Now()
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.state = CircuitOpen
			cb.successCount = 0
			cb.lastStateChange = time.Now()
		}
	case CircuitHalfOpen:
		// Any failure in half-open immediately reopens the circuit
		cb.state = CircuitOpen
		cb.successCount = 0
		cb.lastStateChange = time.Now()
	}
}

// GetState returns the current state (for testing/monitoring)
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetMetrics returns current metrics (for monitoring/logging)
func (cb *CircuitBreaker) GetMetrics() (state CircuitState, failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount, cb.successCount
}

// retryWithBackoff executes an operation with bounded retries and
// exponential backoff, consulting the circuit breaker before each attempt
func (o *Orchestrator) retryWithBackoff(ctx context.Context, operation string, fn func(context.Context) error) error {
	if o.concurrencySem != nil {
		if err := o.concurrencySem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("failed to acquire concurrency slot for %s: %w", operation, err)
		}
		defer o.concurrencySem.Release(1)
	}

	var lastErr error
	backoff := o.retry.InitialBackoff

	for attempt := 0; attempt <= o.retry.MaxRetries; attempt++ {
		if o.circuitBreaker != nil {
			if err := o.circuitBreaker.Allow(); err != nil {
				state, failures, _ := o.circuitBreaker.GetMetrics()
				o.logger.Warnw("provider call blocked by circuit breaker",
					"operation", operation, "state", state.String(), "failures", failures)
				return NewProviderError(ErrKindTransient, operation, err)
			}
		}

		if o.rateLimiter != nil {
			if err := o.rateLimiter.Wait(ctx); err != nil {
				return fmt.Errorf("%s canceled while rate limited: %w", operation, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, o.retry.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if o.circuitBreaker != nil {
				o.circuitBreaker.RecordSuccess()
			}
			if attempt > 0 {
				o.logger.Infow("provider call succeeded after retries",
					"operation", operation, "retries", attempt)
			}
			return nil
		}

		lastErr = err

		// Auth and other non-retriable failures don't count against the
		// breaker and are surfaced immediately.
		if !isRetriableError(err) {
			o.logger.Warnw("provider call failed with non-retriable error",
				"operation", operation, "error", err)
			return err
		}
		if o.circuitBreaker != nil {
			o.circuitBreaker.RecordFailure()
		}

		if attempt == o.retry.MaxRetries {
			break
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s failed: context canceled: %w", operation, ctx.Err())
		}

		o.logger.Infow("provider call failed, retrying",
			"operation", operation, "attempt", attempt+1, "max", o.retry.MaxRetries+1,
			"backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * o.retry.BackoffMultiplier)
			if backoff > o.retry.MaxBackoff {
				backoff = o.retry.MaxBackoff
			}
		case <-ctx.Done():
			return fmt.Errorf("%s failed: context canceled during backoff: %w", operation, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operation, o.retry.MaxRetries+1, lastErr)
}
