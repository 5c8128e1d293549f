// Package client provides the core ODS HTTP session with OAuth
// authentication, retry handling, and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mkrantz/ods-api-client/pkg/tokencache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for ODS session operations.
var (
	odsRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ods_requests_total",
		Help: "Total ODS requests by method and status",
	}, []string{"method", "status"})

	odsRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ods_request_duration_seconds",
		Help:    "ODS request duration in seconds by method",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	odsErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ods_errors_total",
		Help: "Total ODS errors by class",
	}, []string{"class"})

	odsTokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ods_token_refreshes_total",
		Help: "Total number of OAuth token fetches performed by the session",
	})
)

// staleMargin is subtracted from expires_in so tokens are refreshed before
// the ODS actually rejects them.
const staleMargin = 120 * time.Second

// Response is the outcome of a single HTTP call: status, headers, body.
type Response struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Rows parses the body as a JSON array of raw row payloads.
func (r *Response) Rows() ([]json.RawMessage, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(r.Body, &rows); err != nil {
		return nil, fmt.Errorf("parse row payload: %w", err)
	}
	return rows, nil
}

// Message extracts the ODS error message from the body, if present.
func (r *Response) Message() string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(r.Body, &payload); err != nil {
		return ""
	}
	return payload.Message
}

// Config holds the session configuration.
type Config struct {
	// OAuthURL is the token endpoint (client-credentials grant).
	OAuthURL string

	// ClientKey and ClientSecret authenticate against the ODS.
	ClientKey    string
	ClientSecret string

	// Timeout applies per HTTP call, independent of retry scheduling.
	Timeout time.Duration

	// TokenCache shares tokens across processes. Optional.
	TokenCache tokencache.Store

	// Retry is the default retry configuration for calls made through
	// this session. Operations may override it per call.
	Retry RetryConfig
}

// DefaultConfig returns a safe default session configuration.
func DefaultConfig(oauthURL, clientKey, clientSecret string) Config {
	return Config{
		OAuthURL:     oauthURL,
		ClientKey:    clientKey,
		ClientSecret: clientSecret,
		Timeout:      60 * time.Second,
		Retry:        DefaultRetryConfig(),
	}
}

// Session is the HTTP-call capability against the ODS. It owns the shared
// token state: every call reads it, and only the refresh path mutates it.
// Refreshes are serialized; concurrent callers that discover expiry block on
// the in-progress refresh instead of issuing redundant ones.
type Session struct {
	httpClient *http.Client
	cfg        Config
	policy     *RetryPolicy
	logger     zerolog.Logger

	mu           sync.Mutex
	accessToken  string
	refreshAt    time.Time
	lastRejected string
}

// New creates a new ODS session. The session does not authenticate until
// Connect or the first call.
func New(cfg Config) (*Session, error) {
	if cfg.OAuthURL == "" {
		return nil, fmt.Errorf("%w: oauth URL is required", ErrConfiguration)
	}
	if cfg.ClientKey == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: client key and secret are required", ErrConfiguration)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	s := &Session{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     log.With().Str("component", "ods-session").Logger(),
	}
	s.policy = NewRetryPolicy(cfg.Retry, s)
	return s, nil
}

// Connect authenticates eagerly so configuration problems surface before the
// first data call.
func (s *Session) Connect(ctx context.Context) error {
	_, err := s.token(ctx)
	return err
}

// Policy returns the session's default retry policy.
func (s *Session) Policy() *RetryPolicy {
	return s.policy
}

// NewPolicy builds a retry policy bound to this session's re-authentication
// path, for operations that override the session defaults.
func (s *Session) NewPolicy(cfg RetryConfig) *RetryPolicy {
	return NewRetryPolicy(cfg, s)
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (s *Session) SetHTTPClient(client *http.Client) {
	s.httpClient = client
}

// ForceRefresh ensures a valid token exists, refreshing if the current one
// was invalidated. Used by the retry policy after a 401 outcome so the
// retried attempt is not a plain resend.
func (s *Session) ForceRefresh(ctx context.Context) error {
	_, err := s.token(ctx)
	return err
}

// token is the guarded accessor for a valid bearer token. It refreshes
// under the session mutex with a staleness double-check, so only one
// refresh is ever in flight.
func (s *Session) token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Now().Before(s.refreshAt) {
		return s.accessToken, nil
	}

	if s.accessToken != "" {
		s.logger.Info().Msg("Session authentication is expired. Attempting reconnection...")
	}

	if err := s.refreshLocked(ctx); err != nil {
		return "", err
	}
	return s.accessToken, nil
}

// invalidate drops the token, but only if it is still the one the failed
// call used. A concurrent caller may already have refreshed it.
func (s *Session) invalidate(stale string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stale != "" && s.accessToken == stale {
		s.accessToken = ""
		s.lastRejected = stale
	}
}

// refreshLocked fetches a token, consulting the shared cache first. The
// caller must hold s.mu.
func (s *Session) refreshLocked(ctx context.Context) error {
	// A token another process already fetched may still be valid. Skip
	// cached tokens the ODS just rejected.
	if s.cfg.TokenCache != nil {
		if tok, err := s.cache().Load(ctx); err == nil {
			if tok.AccessToken != s.lastRejected && time.Now().Before(tok.ExpiresAt) {
				s.accessToken = tok.AccessToken
				s.refreshAt = tok.ExpiresAt
				s.logger.Debug().Time("refresh_at", s.refreshAt).Msg("Adopted cached token")
				return nil
			}
		} else if err != tokencache.ErrNoToken {
			s.logger.Warn().Err(err).Msg("Token cache load failed")
		}
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.OAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("create auth request: %w", err)
	}
	req.SetBasicAuth(s.cfg.ClientKey, s.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("authenticate: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("authenticate: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("authenticate: parse response: %w", err)
	}
	if payload.AccessToken == "" {
		return fmt.Errorf("authenticate: empty access token")
	}

	s.accessToken = payload.AccessToken
	s.refreshAt = time.Now().Add(time.Duration(payload.ExpiresIn)*time.Second - staleMargin)
	odsTokenRefreshesTotal.Inc()

	s.logger.Info().Time("refresh_at", s.refreshAt).Msg("Connection to ODS successful")

	if s.cfg.TokenCache != nil {
		tok := &tokencache.Token{AccessToken: s.accessToken, ExpiresAt: s.refreshAt}
		if err := s.cache().Save(ctx, tok); err != nil {
			s.logger.Warn().Err(err).Msg("Token cache save failed")
		}
	}
	return nil
}

func (s *Session) cache() tokencache.Store {
	return s.cfg.TokenCache
}

// Do performs one logical HTTP call under the given retry policy. A nil
// policy uses the session default. Each attempt acquires a valid token
// through the guarded accessor; a 401 invalidates exactly the token that
// failed.
func (s *Session) Do(ctx context.Context, policy *RetryPolicy, method, rawURL string, params url.Values, body []byte) (*Response, error) {
	if policy == nil {
		policy = s.policy
	}

	start := time.Now()
	defer func() {
		odsRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	resp, err := policy.Execute(ctx, func(ctx context.Context) (*Response, error) {
		return s.attempt(ctx, method, rawURL, params, body)
	})

	if err != nil {
		class := classFor(resp, err)
		if class != "" {
			odsErrorsTotal.WithLabelValues(string(class)).Inc()
		}
	}
	return resp, err
}

// attempt issues exactly one HTTP request.
func (s *Session) attempt(ctx context.Context, method, rawURL string, params url.Values, body []byte) (*Response, error) {
	token, err := s.token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthExpired, err)
	}

	fullURL := rawURL
	if len(params) > 0 {
		fullURL = rawURL + "?" + params.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		odsRequestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, err
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		odsRequestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, fmt.Errorf("read response: %w", err)
	}

	odsRequestsTotal.WithLabelValues(method, strconv.Itoa(httpResp.StatusCode)).Inc()

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Header:     httpResp.Header,
		Body:       payload,
	}

	if resp.StatusCode == http.StatusUnauthorized {
		s.invalidate(token)
	}

	if !resp.OK() {
		s.logger.Warn().
			Str("method", method).
			Int("status", resp.StatusCode).
			Msg("ODS request error")
	}
	return resp, nil
}

// Get completes a GET request against an endpoint URL.
func (s *Session) Get(ctx context.Context, policy *RetryPolicy, rawURL string, params url.Values) (*Response, error) {
	return s.Do(ctx, policy, http.MethodGet, rawURL, params, nil)
}

// Post completes a POST request against an endpoint URL.
// Responses are returned regardless of status.
func (s *Session) Post(ctx context.Context, policy *RetryPolicy, rawURL string, body []byte) (*Response, error) {
	return s.Do(ctx, policy, http.MethodPost, rawURL, nil, body)
}

// Put completes a PUT request against an endpoint id URL.
// Responses are returned regardless of status.
func (s *Session) Put(ctx context.Context, policy *RetryPolicy, rawURL string, body []byte) (*Response, error) {
	return s.Do(ctx, policy, http.MethodPut, rawURL, nil, body)
}

// Delete completes a DELETE request against an endpoint id URL.
// Responses are returned regardless of status.
func (s *Session) Delete(ctx context.Context, policy *RetryPolicy, rawURL string) (*Response, error) {
	return s.Do(ctx, policy, http.MethodDelete, rawURL, nil, nil)
}

// GetTotalCount asks the ODS for the total row count matching params.
// The count comes back in the Total-Count header of a zero-limit GET.
func (s *Session) GetTotalCount(ctx context.Context, policy *RetryPolicy, rawURL string, params url.Values) (int64, error) {
	counted := url.Values{}
	for key, vals := range params {
		counted[key] = vals
	}
	counted.Set("totalCount", "true")
	counted.Set("limit", "0")

	resp, err := s.Get(ctx, policy, rawURL, counted)
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, outcomeError(resp, nil)
	}

	header := resp.Header.Get("Total-Count")
	if header == "" {
		return 0, fmt.Errorf("Total-Count header missing from response")
	}

	count, err := strconv.ParseInt(header, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse Total-Count header: %w", err)
	}
	return count, nil
}
