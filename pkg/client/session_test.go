package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/mkrantz/ods-api-client/internal/testutil"
)

const studentsPath = "/data/v3/ed-fi/students"

func newTestSession(t *testing.T, mock *testutil.MockODS) *Session {
	t.Helper()

	cfg := DefaultConfig(mock.URL()+"/oauth/token", "test-key", "test-secret")
	session, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	return session
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing_oauth_url", Config{ClientKey: "k", ClientSecret: "s"}},
		{"missing_key", Config{OAuthURL: "https://example.com/oauth/token", ClientSecret: "s"}},
		{"missing_secret", Config{OAuthURL: "https://example.com/oauth/token", ClientKey: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			if !errors.Is(err, ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestConnect_IssuesOneToken(t *testing.T) {
	mock := testutil.NewMockODS()
	defer mock.Close()

	session := newTestSession(t, mock)
	ctx := context.Background()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Second connect failed: %v", err)
	}

	if got := mock.GetTokenCount(); got != 1 {
		t.Errorf("Expected 1 token issued, got %d", got)
	}
}

func TestConnect_ConcurrentCallersShareOneRefresh(t *testing.T) {
	mock := testutil.NewMockODS()
	defer mock.Close()

	session := newTestSession(t, mock)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := session.Connect(ctx); err != nil {
				t.Errorf("Connect failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := mock.GetTokenCount(); got != 1 {
		t.Errorf("Expected 1 token under concurrency, got %d", got)
	}
}

func TestConnect_BadCredentials(t *testing.T) {
	mock := testutil.NewMockODS()
	defer mock.Close()

	cfg := DefaultConfig(mock.URL()+"/oauth/token", "", "secret")
	if _, err := New(cfg); !errors.Is(err, ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration for empty key, got %v", err)
	}
}

func TestGet_RowsRoundTrip(t *testing.T) {
	mock := testutil.NewMockODS()
	defer mock.Close()
	mock.SetRows(studentsPath, testutil.StudentRows(3))

	session := newTestSession(t, mock)

	resp, err := session.Get(context.Background(), nil, mock.URL()+studentsPath, nil)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !resp.OK() {
		t.Fatalf("Expected 2xx, got %d", resp.StatusCode)
	}

	rows, err := resp.Rows()
	if err != nil {
		t.Fatalf("Rows failed: %v", err)
	}
	if len(rows) != 3 {
		t.Errorf("Expected 3 rows, got %d", len(rows))
	}
}

func TestGet_ExpiredTokenRecoveredOnce(t *testing.T) {
	mock := testutil.NewMockODS()
	defer mock.Close()
	mock.SetRows(studentsPath, testutil.StudentRows(1))

	session := newTestSession(t, mock)
	ctx := context.Background()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Revoke the token server-side: the session still believes it is
	// fresh, so the next call gets a 401.
	mock.InvalidateTokens()

	policy := session.NewPolicy(RetryConfig{
		RetryOnFailure: true,
		MaxRetries:     3,
		MaxWait:        50 * time.Millisecond,
		InitialBackoff: time.Millisecond,
	})

	resp, err := session.Get(ctx, policy, mock.URL()+studentsPath, nil)
	if err != nil {
		t.Fatalf("Expected recovery from expired token, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 after re-authentication, got %d", resp.StatusCode)
	}

	// One token at connect, one forced by the 401.
	if got := mock.GetTokenCount(); got != 2 {
		t.Errorf("Expected exactly 2 tokens issued, got %d", got)
	}
}

func TestGet_ExpiredTokenWithoutRetryFails(t *testing.T) {
	mock := testutil.NewMockODS()
	defer mock.Close()
	mock.SetRows(studentsPath, testutil.StudentRows(1))

	session := newTestSession(t, mock)
	ctx := context.Background()

	if err := session.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	mock.InvalidateTokens()

	_, err := session.Get(ctx, nil, mock.URL()+studentsPath, nil)
	if err == nil {
		t.Fatal("Expected 401 to surface with retry disabled")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Class != ErrorClassAuth {
		t.Errorf("Expected auth-class APIError, got %v", err)
	}
}

func TestGet_RetriesInjectedFailures(t *testing.T) {
	mock := testutil.NewMockODS()
	defer mock.Close()
	mock.SetRows(studentsPath, testutil.StudentRows(1))
	mock.FailTimes("GET", studentsPath, http.StatusServiceUnavailable, 2)

	session := newTestSession(t, mock)

	policy := session.NewPolicy(RetryConfig{
		RetryOnFailure: true,
		MaxRetries:     3,
		MaxWait:        50 * time.Millisecond,
		InitialBackoff: time.Millisecond,
	})

	resp, err := session.Get(context.Background(), policy, mock.URL()+studentsPath, nil)
	if err != nil {
		t.Fatalf("Expected recovery after injected failures, got %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
}

func TestGetTotalCount(t *testing.T) {
	mock := testutil.NewMockODS()
	defer mock.Close()
	mock.SetRows(studentsPath, testutil.StudentRows(42))

	session := newTestSession(t, mock)

	count, err := session.GetTotalCount(context.Background(), nil, mock.URL()+studentsPath, nil)
	if err != nil {
		t.Fatalf("GetTotalCount failed: %v", err)
	}
	if count != 42 {
		t.Errorf("Expected count 42, got %d", count)
	}
}

func TestGetTotalCount_HeaderMissing(t *testing.T) {
	mock := testutil.NewMockODS()
	defer mock.Close()
	mock.SetResponse("GET", studentsPath, testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       "[]",
	})

	session := newTestSession(t, mock)

	_, err := session.GetTotalCount(context.Background(), nil, mock.URL()+studentsPath, nil)
	if err == nil {
		t.Fatal("Expected error when Total-Count header is missing")
	}
}

func TestResponseMessage(t *testing.T) {
	resp := &Response{Body: []byte(`{"message": "Validation of 'Student' failed."}`)}
	if got := resp.Message(); got != "Validation of 'Student' failed." {
		t.Errorf("Unexpected message: %q", got)
	}

	empty := &Response{Body: []byte(`[]`)}
	if got := empty.Message(); got != "" {
		t.Errorf("Expected empty message for non-object body, got %q", got)
	}
}
