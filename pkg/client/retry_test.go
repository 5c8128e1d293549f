package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

// fastRetryConfig keeps test backoffs in the millisecond range.
func fastRetryConfig(maxRetries int) RetryConfig {
	return RetryConfig{
		RetryOnFailure: true,
		MaxRetries:     maxRetries,
		MaxWait:        50 * time.Millisecond,
		InitialBackoff: time.Millisecond,
	}
}

type fakeReauth struct {
	calls int
	err   error
}

func (f *fakeReauth) ForceRefresh(ctx context.Context) error {
	f.calls++
	return f.err
}

// sequenceCall returns the given status codes in order, one per attempt.
// A zero status simulates a transport error.
func sequenceCall(statuses []int, attempts *int) func(ctx context.Context) (*Response, error) {
	return func(ctx context.Context) (*Response, error) {
		status := statuses[*attempts]
		*attempts++
		if status == 0 {
			return nil, errors.New("connection reset")
		}
		return &Response{StatusCode: status}, nil
	}
}

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	policy := NewRetryPolicy(fastRetryConfig(3), nil)

	var attempts int
	resp, err := policy.Execute(context.Background(), sequenceCall([]int{200}, &attempts))
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestExecute_RetriesServerErrorsThenSucceeds(t *testing.T) {
	policy := NewRetryPolicy(fastRetryConfig(3), nil)

	var attempts int
	resp, err := policy.Execute(context.Background(), sequenceCall([]int{500, 503, 200}, &attempts))
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestExecute_ExhaustionAfterMaxRetriesPlusOne(t *testing.T) {
	policy := NewRetryPolicy(fastRetryConfig(2), nil)

	var attempts int
	_, err := policy.Execute(context.Background(), sequenceCall([]int{500, 500, 500, 500}, &attempts))
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	// MaxRetries retried attempts beyond the first.
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestExecute_NonRetryableSingleAttempt(t *testing.T) {
	policy := NewRetryPolicy(fastRetryConfig(5), nil)

	for _, status := range []int{400, 403, 404} {
		var attempts int
		resp, err := policy.Execute(context.Background(), sequenceCall([]int{status, 200}, &attempts))
		if err == nil {
			t.Fatalf("Expected error for status %d", status)
		}
		if errors.Is(err, ErrRetryExhausted) {
			t.Errorf("Status %d should not count as exhaustion", status)
		}

		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassClient {
			t.Errorf("Expected client-class APIError for status %d, got %v", status, err)
		}
		if resp == nil || resp.StatusCode != status {
			t.Errorf("Expected final response with status %d", status)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt for status %d, got %d", status, attempts)
		}
	}
}

func TestExecute_RetryDisabledSingleAttempt(t *testing.T) {
	cfg := fastRetryConfig(5)
	cfg.RetryOnFailure = false
	policy := NewRetryPolicy(cfg, nil)

	var attempts int
	_, err := policy.Execute(context.Background(), sequenceCall([]int{500, 200}, &attempts))
	if err == nil {
		t.Fatal("Expected error with retry disabled")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestExecute_NetworkErrorsRetried(t *testing.T) {
	policy := NewRetryPolicy(fastRetryConfig(3), nil)

	var attempts int
	resp, err := policy.Execute(context.Background(), sequenceCall([]int{0, 0, 200}, &attempts))
	if err != nil {
		t.Fatalf("Expected success after transport errors, got %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestExecute_AuthTriggersReauthentication(t *testing.T) {
	reauth := &fakeReauth{}
	policy := NewRetryPolicy(fastRetryConfig(3), reauth)

	var attempts int
	resp, err := policy.Execute(context.Background(), sequenceCall([]int{401, 200}, &attempts))
	if err != nil {
		t.Fatalf("Expected recovery after re-authentication, got %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if reauth.calls != 1 {
		t.Errorf("Expected exactly 1 re-authentication, got %d", reauth.calls)
	}
}

func TestExecute_EveryAuthOccurrenceReauthenticates(t *testing.T) {
	reauth := &fakeReauth{}
	policy := NewRetryPolicy(fastRetryConfig(2), reauth)

	var attempts int
	_, err := policy.Execute(context.Background(), sequenceCall([]int{401, 401, 401}, &attempts))
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected exhaustion, got %v", err)
	}
	if reauth.calls != 3 {
		t.Errorf("Expected 3 re-authentications, got %d", reauth.calls)
	}
}

func TestExecute_ReauthenticationFailureEscalates(t *testing.T) {
	reauth := &fakeReauth{err: errors.New("invalid_client")}
	policy := NewRetryPolicy(fastRetryConfig(3), reauth)

	var attempts int
	_, err := policy.Execute(context.Background(), sequenceCall([]int{401, 200}, &attempts))
	if !errors.Is(err, ErrAuthExpired) {
		t.Fatalf("Expected ErrAuthExpired, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected no retried attempt after failed re-auth, got %d attempts", attempts)
	}
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	cfg := fastRetryConfig(3)
	cfg.InitialBackoff = time.Second
	cfg.MaxWait = time.Second
	policy := NewRetryPolicy(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var attempts int
	_, err := policy.Execute(ctx, sequenceCall([]int{500, 200}, &attempts))
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("Expected ErrContextCancelled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected cancellation before the retried attempt, got %d attempts", attempts)
	}
}

func TestExecute_RateLimitRetried(t *testing.T) {
	policy := NewRetryPolicy(fastRetryConfig(3), nil)

	var attempts int
	resp, err := policy.Execute(context.Background(), sequenceCall([]int{http.StatusTooManyRequests, 200}, &attempts))
	if err != nil {
		t.Fatalf("Expected recovery after 429, got %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
}

func TestWaitBackoffCappedByMaxWait(t *testing.T) {
	cfg := RetryConfig{
		RetryOnFailure: true,
		MaxRetries:     5,
		MaxWait:        10 * time.Millisecond,
		InitialBackoff: time.Millisecond,
	}
	policy := NewRetryPolicy(cfg, nil)

	// Even a deep retry index must not exceed MaxWait.
	start := time.Now()
	if err := policy.wait(context.Background(), 30, ErrorClassServer); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Backoff exceeded cap: %v", elapsed)
	}
}

func TestNewRetryPolicyDefaults(t *testing.T) {
	policy := NewRetryPolicy(RetryConfig{RetryOnFailure: true}, nil)

	cfg := policy.Config()
	if cfg.MaxRetries != 5 {
		t.Errorf("Expected default MaxRetries 5, got %d", cfg.MaxRetries)
	}
	if cfg.MaxWait != 20*time.Minute {
		t.Errorf("Expected default MaxWait 20m, got %v", cfg.MaxWait)
	}
	if cfg.InitialBackoff != 2*time.Second {
		t.Errorf("Expected default InitialBackoff 2s, got %v", cfg.InitialBackoff)
	}
}
