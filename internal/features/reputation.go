package features

import (
	"context"
	"log/slog"
	"time"

	"github.com/perimetra/kestrel/internal/domain"
)

// Built-in reputation table for addresses with documented history.
// Consulted when the cache has no entry.
var knownBadAddresses = map[string]float64{
	"203.0.113.42":  0.95,
	"198.51.100.23": 0.90,
	"192.0.2.146":   0.85,
	"185.220.101.1": 0.80,
}

// CachedReputation is a ReputationProvider that fronts the static
// reputation table with the shared cache.
type CachedReputation struct {
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedReputation creates a cache-backed reputation provider.
func NewCachedReputation(cache domain.Cache, ttl time.Duration, logger *slog.Logger) *CachedReputation {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &CachedReputation{
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "reputation"),
	}
}

// Lookup returns the reputation score for addr. Cache misses fall back to
// the built-in table and populate the cache.
func (r *CachedReputation) Lookup(ctx context.Context, addr string) (float64, error) {
	if addr == "" {
		return neutralReputation, nil
	}

	entry, err := r.cache.GetReputation(ctx, addr)
	if err != nil {
		return 0, err
	}
	if entry != nil {
		return entry.Score, nil
	}

	score, flagged := knownBadAddresses[addr]
	if !flagged {
		score = neutralReputation
	}

	entry = &domain.ReputationEntry{
		Addr:      addr,
		Score:     score,
		Source:    "builtin",
		Flagged:   flagged,
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.cache.SetReputation(ctx, addr, entry, r.ttl); err != nil {
		// A write failure only costs us the cached copy.
		r.logger.Warn("failed to cache reputation entry", "addr", addr, "error", err)
	}

	return score, nil
}

// StaticReputation is a fixed-table provider used in tests and as a
// cacheless fallback.
type StaticReputation map[string]float64

// Lookup returns the table score or the neutral default.
func (s StaticReputation) Lookup(_ context.Context, addr string) (float64, error) {
	if score, ok := s[addr]; ok {
		return score, nil
	}
	return neutralReputation, nil
}
