// Package ratelimit implements the database-backed fixed-window rate limiter
// that guards auth-sensitive routes.
//
// Each limiter key is an identifier:client-fingerprint composite with at most
// one persisted record. The counter increment is a single atomic SQL
// statement (see repo.IncrementWindow) so concurrent requests on one key can
// never under-count. Expired records are purged opportunistically at the
// start of Check, amortized over many calls, so no background sweep is
// required.
//
// Failure policy: fail-open. When the backing store is unreachable the
// request is allowed; the limiter must never become a single point of
// denial-of-service for legitimate traffic. This is a deliberate design
// choice and load-bearing for availability.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/astroveda/go-consult-backend/internal/repo"
)

// cleanupEvery is the number of Check calls between opportunistic purges of
// expired records.
const cleanupEvery = 1000

// Config is one fixed-window policy: at most Max requests per Window.
type Config struct {
	Window time.Duration
	Max    int
}

// Result is the outcome of a single limit check.
type Result struct {
	// Allowed is true when the request is within the window budget, or when
	// the backing store failed (fail-open).
	Allowed bool
	// Remaining is the number of requests left in the current window.
	Remaining int
	// ResetAt is when the current window rolls over.
	ResetAt time.Time
	// Total is the number of requests counted in the current window,
	// including this one.
	Total int
}

// Key builds the composite limiter key from a logical identifier (user ID,
// route name, ...) and a client fingerprint (IP, hashed user agent, ...).
func Key(identifier, fingerprint string) string {
	return identifier + ":" + fingerprint
}

// Limiter checks requests against fixed-window counters persisted in the
// shared store. It is safe for concurrent use.
type Limiter struct {
	// DB is the GORM handle for the rate_limit_records table.
	DB *gorm.DB
	// MaxWindow is the longest window any caller uses with this limiter.
	// Records whose window started before now-MaxWindow are purged.
	MaxWindow time.Duration

	calls atomic.Uint64
}

// NewLimiter constructs a Limiter. maxWindow bounds the purge horizon; it
// must be at least as long as the longest Config.Window (and the progressive
// lookback) used with this limiter.
func NewLimiter(db *gorm.DB, maxWindow time.Duration) *Limiter {
	if maxWindow <= 0 {
		maxWindow = 24 * time.Hour
	}
	return &Limiter{DB: db, MaxWindow: maxWindow}
}

// Check records one request for key and reports whether it fits within
// cfg.Max per cfg.Window. The request with Total == cfg.Max is still
// allowed; the one after is not.
//
// Check never returns an error: storage failures are logged and the request
// is allowed (fail-open).
func (l *Limiter) Check(ctx context.Context, key string, cfg Config) Result {
	now := time.Now().UTC()

	// Amortized housekeeping before touching the requested key.
	if l.calls.Add(1)%cleanupEvery == 0 {
		boundary := now.Add(-l.MaxWindow).UnixMilli()
		if n, err := repo.PurgeExpiredWindows(ctx, l.DB, boundary); err != nil {
			log.Warn().Err(err).Msg("rate limiter cleanup failed")
		} else if n > 0 {
			log.Debug().Int64("purged", n).Msg("rate limiter cleanup")
		}
	}

	count, windowStartMs, err := repo.IncrementWindow(ctx, l.DB, key, now.UnixMilli(), cfg.Window.Milliseconds())
	if err != nil {
		// Fail-open: availability over strict enforcement.
		log.Warn().Err(err).Str("key", key).Msg("rate limiter store unreachable, allowing request")
		return Result{
			Allowed:   true,
			Remaining: maxInt(0, cfg.Max-1),
			ResetAt:   now.Add(cfg.Window),
			Total:     0,
		}
	}

	return Result{
		Allowed:   count <= cfg.Max,
		Remaining: maxInt(0, cfg.Max-count),
		ResetAt:   time.UnixMilli(windowStartMs).Add(cfg.Window),
		Total:     count,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
