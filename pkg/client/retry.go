package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for retry operations.
var (
	odsRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ods_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	odsRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ods_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	odsRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ods_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})

	odsReauthTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ods_reauthentications_total",
		Help: "Total number of forced re-authentications triggered by 401 responses",
	})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// RetryOnFailure enables retries. When false, exactly one attempt is
	// made and any failure is surfaced immediately.
	RetryOnFailure bool

	// MaxRetries is the number of retried attempts beyond the first.
	// A call makes at most MaxRetries+1 attempts.
	MaxRetries int

	// MaxWait caps a single backoff delay.
	MaxWait time.Duration

	// InitialBackoff is the backoff before the first retried attempt.
	InitialBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration.
// The defaults mirror what a loaded ODS tolerates: few attempts, generous cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		RetryOnFailure: false,
		MaxRetries:     5,
		MaxWait:        20 * time.Minute,
		InitialBackoff: 2 * time.Second,
	}
}

// Reauthenticator forces a token refresh after an authentication-expiry
// outcome. Session implements this; refreshes are serialized internally.
type Reauthenticator interface {
	ForceRefresh(ctx context.Context) error
}

// RetryPolicy decides, given an HTTP outcome, whether to retry, and computes
// the backoff delay. A 401 outcome triggers exactly one forced
// re-authentication before the retried attempt.
type RetryPolicy struct {
	cfg    RetryConfig
	reauth Reauthenticator
	logger zerolog.Logger
}

// NewRetryPolicy creates a retry policy. reauth may be nil when the caller
// performs unauthenticated requests.
func NewRetryPolicy(cfg RetryConfig, reauth Reauthenticator) *RetryPolicy {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultRetryConfig().MaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultRetryConfig().InitialBackoff
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultRetryConfig().MaxWait
	}

	return &RetryPolicy{
		cfg:    cfg,
		reauth: reauth,
		logger: log.With().Str("component", "retry").Logger(),
	}
}

// Config returns the policy's effective configuration.
func (p *RetryPolicy) Config() RetryConfig {
	return p.cfg
}

// Execute runs a zero-argument HTTP invocation under the retry policy.
//
// Outcomes that carry a non-retryable status return immediately as an
// *APIError without consuming a retry. Retryable outcomes (network errors,
// 5xx, 429, 401) are re-attempted until MaxRetries is exhausted, at which
// point the last outcome is returned wrapped in ErrRetryExhausted.
func (p *RetryPolicy) Execute(ctx context.Context, call func(ctx context.Context) (*Response, error)) (*Response, error) {
	maxAttempts := 1
	if p.cfg.RetryOnFailure {
		maxAttempts = p.cfg.MaxRetries + 1
	}

	var lastResp *Response
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := p.wait(ctx, attempt-1, classFor(lastResp, lastErr)); err != nil {
				return lastResp, err
			}
		}

		resp, err := call(ctx)
		lastResp, lastErr = resp, err

		class := classFor(resp, err)
		if class == "" {
			if attempt > 0 {
				p.logger.Info().
					Int("attempt", attempt+1).
					Msg("Request succeeded after retry")
			}
			return resp, nil
		}

		outcome := outcomeError(resp, err)

		// Non-retryable outcomes never consume a retry.
		if !shouldRetry(class) {
			return resp, outcome
		}

		// Each 401 occurrence triggers exactly one re-authentication.
		// The refresh itself is serialized by the session.
		if class == ErrorClassAuth {
			odsReauthTotal.Inc()
			if p.reauth == nil {
				return resp, fmt.Errorf("%w: no re-authenticator configured", ErrAuthExpired)
			}
			if reauthErr := p.reauth.ForceRefresh(ctx); reauthErr != nil {
				return resp, fmt.Errorf("%w: re-authentication failed: %v", ErrAuthExpired, reauthErr)
			}
		}

		lastErr = outcome

		if !p.cfg.RetryOnFailure {
			return resp, outcome
		}

		if attempt < maxAttempts-1 {
			odsRetriesTotal.WithLabelValues(string(class)).Inc()
		}
	}

	odsRetryExhaustedTotal.WithLabelValues(string(classFor(lastResp, lastErr))).Inc()
	p.logger.Warn().
		Int("max_attempts", maxAttempts).
		Msg("Retry attempts exhausted")

	return lastResp, fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, maxAttempts, lastErr)
}

// wait sleeps for the k-th backoff delay: min(base * 2^k + jitter, MaxWait).
// It respects context cancellation; jitter (±20%) prevents thundering herd.
func (p *RetryPolicy) wait(ctx context.Context, k int, class ErrorClass) error {
	backoff := p.cfg.InitialBackoff << uint(k)
	if backoff > p.cfg.MaxWait || backoff <= 0 {
		backoff = p.cfg.MaxWait
	}

	jittered := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
	if jittered > p.cfg.MaxWait {
		jittered = p.cfg.MaxWait
	}
	odsRetryBackoffSeconds.WithLabelValues(string(class)).Observe(jittered.Seconds())

	p.logger.Debug().
		Str("error_class", string(class)).
		Int("retry", k+1).
		Dur("backoff", jittered).
		Msg("Retrying request after backoff")

	select {
	case <-ctx.Done():
		p.logger.Warn().
			Str("error_class", string(class)).
			Msg("Context cancelled during retry backoff")
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-time.After(jittered):
		return nil
	}
}

// classFor classifies the latest outcome. An empty class means success.
func classFor(resp *Response, err error) ErrorClass {
	if err != nil && resp == nil {
		return ErrorClassNetwork
	}
	if resp == nil {
		return ErrorClassNetwork
	}
	return classifyStatus(resp.StatusCode)
}

// outcomeError builds the error describing a failed outcome.
func outcomeError(resp *Response, err error) error {
	if resp == nil {
		if err == nil {
			err = errors.New("no response")
		}
		return &APIError{Class: ErrorClassNetwork, Message: "transport failure", Err: err}
	}

	class := classifyStatus(resp.StatusCode)
	return &APIError{
		StatusCode: resp.StatusCode,
		Class:      class,
		Message:    statusMessage(resp.StatusCode, resp.Status),
	}
}
