package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// ValidationCache memoizes rule validation responses by rule text.
// Backend failures are logged and treated as misses.
type ValidationCache struct {
	backend domain.Cache
	ttl     time.Duration
}

// NewValidationCache wraps backend. A nil backend disables caching.
func NewValidationCache(backend domain.Cache, ttl time.Duration) *ValidationCache {
	return &ValidationCache{backend: backend, ttl: ttl}
}

// ValidationKey is the cache key for a rule expression.
func ValidationKey(expression string) string {
	sum := sha256.Sum256([]byte(expression))
	return "validate:" + hex.EncodeToString(sum[:])
}

// Get returns the cached response for expression, if any.
func (v *ValidationCache) Get(ctx context.Context, expression string) (*domain.ValidateResponse, bool) {
	if v == nil || v.backend == nil {
		return nil, false
	}

	raw, err := v.backend.Get(ctx, ValidationKey(expression))
	if err != nil {
		slog.Warn("validation cache read failed", "error", err)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}

	var resp domain.ValidateResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		slog.Warn("discarding corrupt validation cache entry", "error", err)
		return nil, false
	}
	return &resp, true
}

// Put stores resp for expression.
func (v *ValidationCache) Put(ctx context.Context, expression string, resp *domain.ValidateResponse) {
	if v == nil || v.backend == nil {
		return
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := v.backend.Set(ctx, ValidationKey(expression), raw, v.ttl); err != nil {
		slog.Warn("validation cache write failed", "error", err)
	}
}
