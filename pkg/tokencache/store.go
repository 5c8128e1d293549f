// Package tokencache provides a shared store for OAuth access tokens, so
// concurrent pull processes against the same ODS credentials reuse one token
// instead of each performing their own client-credentials grant.
package tokencache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

// Prometheus metrics for token cache operations.
var (
	tokenCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ods_token_cache_hits_total",
		Help: "Total token cache hits",
	})

	tokenCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ods_token_cache_misses_total",
		Help: "Total token cache misses",
	})

	tokenCacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ods_token_cache_errors_total",
		Help: "Total token cache operation errors",
	}, []string{"operation"})
)

// ErrNoToken indicates no usable token exists in the store.
var ErrNoToken = errors.New("no cached token")

// Token is a bearer token with its staleness deadline. ExpiresAt already
// accounts for the refresh margin, so a loaded token is usable as-is until
// that instant.
type Token struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Store shares tokens between sessions and processes.
type Store interface {
	// Load returns the stored token, or ErrNoToken when none exists.
	Load(ctx context.Context) (*Token, error)

	// Save replaces the stored token.
	Save(ctx context.Context, tok *Token) error
}

// RedisStore is a Store backed by Redis. Entries expire with the token, so
// stale tokens vanish without a cleanup pass.
type RedisStore struct {
	redis *redis.Client
	key   string
}

// NewRedisStore creates a Redis-backed token store. The key should identify
// the credential pair (e.g. a hash of oauth URL and client key) so distinct
// credentials never share tokens.
func NewRedisStore(redisClient *redis.Client, key string) *RedisStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisStore{
		redis: redisClient,
		key:   "ods:token:" + key,
	}
}

// Load retrieves the cached token.
func (s *RedisStore) Load(ctx context.Context) (*Token, error) {
	data, err := s.redis.Get(ctx, s.key).Bytes()
	if err != nil {
		if err == redis.Nil {
			tokenCacheMisses.Inc()
			return nil, ErrNoToken
		}
		tokenCacheErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		tokenCacheErrors.WithLabelValues("load").Inc()
		return nil, fmt.Errorf("parse cached token: %w", err)
	}

	if !time.Now().Before(tok.ExpiresAt) {
		tokenCacheMisses.Inc()
		return nil, ErrNoToken
	}

	tokenCacheHits.Inc()
	return &tok, nil
}

// Save stores the token with a TTL matching its remaining lifetime.
func (s *RedisStore) Save(ctx context.Context, tok *Token) error {
	if tok == nil {
		return fmt.Errorf("token cannot be nil")
	}

	ttl := time.Until(tok.ExpiresAt)
	if ttl <= 0 {
		// Already stale, don't cache.
		return nil
	}

	data, err := json.Marshal(tok)
	if err != nil {
		tokenCacheErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("marshal token: %w", err)
	}

	if err := s.redis.Set(ctx, s.key, data, ttl).Err(); err != nil {
		tokenCacheErrors.WithLabelValues("save").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
