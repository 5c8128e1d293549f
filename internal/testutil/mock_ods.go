// Package testutil provides testing utilities for the ODS client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockRow is one stored row in a mock resource collection.
type MockRow struct {
	ID            int64
	ChangeVersion int64
	Payload       map[string]any
}

// MockResponse defines the behavior of an injected response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockODS is a configurable mock ODS server for testing. It implements the
// OAuth client-credentials token endpoint and paginated resource collections
// with Total-Count support, plus failure injection for retry tests.
type MockODS struct {
	server   *httptest.Server
	mu       sync.RWMutex
	rows     map[string][]MockRow
	handlers map[string]http.HandlerFunc
	failures map[string][]int

	validTokens map[string]bool
	expiresIn   int64
	requireAuth bool

	// Tracking
	RequestCount int
	TokenCount   int
	LastQuery    map[string]string
}

// NewMockODS creates a new mock ODS server.
func NewMockODS() *MockODS {
	mock := &MockODS{
		rows:        make(map[string][]MockRow),
		handlers:    make(map[string]http.HandlerFunc),
		failures:    make(map[string][]int),
		validTokens: make(map[string]bool),
		expiresIn:   3600,
		requireAuth: true,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.route))
	return mock
}

// URL returns the mock server URL.
func (m *MockODS) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockODS) Close() {
	m.server.Close()
}

// SetExpiresIn sets the expires_in value issued with new tokens.
func (m *MockODS) SetExpiresIn(seconds int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expiresIn = seconds
}

// SetRequireAuth toggles bearer-token validation on data requests.
func (m *MockODS) SetRequireAuth(require bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requireAuth = require
}

// InvalidateTokens revokes every issued token, so the next authenticated
// request is rejected with 401 until a fresh token is fetched.
func (m *MockODS) InvalidateTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for token := range m.validTokens {
		m.validTokens[token] = false
	}
}

// SetRows replaces the row set of a resource path, e.g.
// "/data/v3/ed-fi/students". Safe to call mid-scan.
func (m *MockODS) SetRows(path string, rows []MockRow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[path] = rows
}

// GetRows returns a copy of the stored rows for a resource path.
func (m *MockODS) GetRows(path string) []MockRow {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockRow(nil), m.rows[path]...)
}

// SetHandler installs a custom handler for one "METHOD /path" route,
// overriding the built-in behavior.
func (m *MockODS) SetHandler(method, path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method+" "+path] = handler
}

// SetResponse installs a fixed response for one "METHOD /path" route.
func (m *MockODS) SetResponse(method, path string, resp MockResponse) {
	m.SetHandler(method, path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// FailTimes queues n failures with the given status for one "METHOD /path"
// route. Queued failures are consumed before normal handling resumes.
func (m *MockODS) FailTimes(method, path string, status, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := method + " " + path
	for i := 0; i < n; i++ {
		m.failures[key] = append(m.failures[key], status)
	}
}

// GetRequestCount returns the number of non-token requests served.
func (m *MockODS) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetTokenCount returns the number of tokens issued.
func (m *MockODS) GetTokenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenCount
}

func (m *MockODS) route(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/oauth/token" {
		m.handleToken(w, r)
		return
	}

	m.mu.Lock()
	m.RequestCount++
	m.LastQuery = flattenQuery(r)

	key := r.Method + " " + r.URL.Path
	if statuses := m.failures[key]; len(statuses) > 0 {
		status := statuses[0]
		m.failures[key] = statuses[1:]
		m.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"message": "injected failure"}`)
		return
	}

	handler := m.handlers[key]
	requireAuth := m.requireAuth
	m.mu.Unlock()

	if requireAuth && !m.authorized(r) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintf(w, `{"message": "Authorization failed"}`)
		return
	}

	if handler != nil {
		handler(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		m.handleGet(w, r)
	case http.MethodPost:
		w.WriteHeader(http.StatusCreated)
	case http.MethodPut, http.MethodDelete:
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (m *MockODS) handleToken(w http.ResponseWriter, r *http.Request) {
	user, _, ok := r.BasicAuth()
	if !ok || user == "" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	m.mu.Lock()
	m.TokenCount++
	token := fmt.Sprintf("token-%d", m.TokenCount)
	m.validTokens[token] = true
	expiresIn := m.expiresIn
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"access_token": token,
		"expires_in":   expiresIn,
		"token_type":   "bearer",
	})
}

func (m *MockODS) authorized(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.validTokens[token]
}

// handleGet serves a paginated slice of a stored resource collection,
// honoring limit, offset, change-version bounds, and totalCount.
func (m *MockODS) handleGet(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	rows, known := m.rows[r.URL.Path]
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if !known {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"message": "The specified resource could not be found."}`)
		return
	}

	query := r.URL.Query()
	matched := filterRows(rows, query.Get("minChangeVersion"), query.Get("maxChangeVersion"))

	if query.Get("totalCount") == "true" {
		w.Header().Set("Total-Count", strconv.Itoa(len(matched)))
	}

	limit := intParam(query.Get("limit"), 25)
	offset := intParam(query.Get("offset"), 0)

	page := []MockRow{}
	if offset < len(matched) {
		end := offset + limit
		if end > len(matched) {
			end = len(matched)
		}
		page = matched[offset:end]
	}

	payload := make([]map[string]any, 0, len(page))
	for _, row := range page {
		payload = append(payload, renderRow(row))
	}
	json.NewEncoder(w).Encode(payload)
}

func filterRows(rows []MockRow, minRaw, maxRaw string) []MockRow {
	if minRaw == "" && maxRaw == "" {
		return rows
	}

	min := int64Param(minRaw, 0)
	max := int64Param(maxRaw, 1<<62)

	matched := make([]MockRow, 0, len(rows))
	for _, row := range rows {
		if row.ChangeVersion >= min && row.ChangeVersion <= max {
			matched = append(matched, row)
		}
	}
	return matched
}

func renderRow(row MockRow) map[string]any {
	rendered := make(map[string]any, len(row.Payload)+2)
	for key, val := range row.Payload {
		rendered[key] = val
	}
	rendered["id"] = row.ID
	rendered["_changeVersion"] = row.ChangeVersion
	return rendered
}

func flattenQuery(r *http.Request) map[string]string {
	flat := make(map[string]string)
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			flat[key] = vals[0]
		}
	}
	return flat
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func int64Param(raw string, fallback int64) int64 {
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

// StudentRows generates n sequential student rows, ids and change versions
// ascending from 1.
func StudentRows(n int) []MockRow {
	rows := make([]MockRow, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, MockRow{
			ID:            int64(i),
			ChangeVersion: int64(i),
			Payload: map[string]any{
				"studentUniqueId": fmt.Sprintf("S%04d", i),
				"firstName":       fmt.Sprintf("Student %d", i),
			},
		})
	}
	return rows
}
