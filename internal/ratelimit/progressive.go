// Package ratelimit – progressive escalation.
//
// The progressive variant layers a violation counter with a fixed 24-hour
// lookback over the base fixed-window check. Every denial increments the
// violation count; the live count (capped at the last tier) selects a
// stricter tier from an ordered list, producing escalating lockout severity
// for repeat offenders without permanently banning a key.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroveda/go-consult-backend/internal/repo"
)

// DefaultLookback is the fixed violation lookback window.
const DefaultLookback = 24 * time.Hour

// Progressive escalates through Tiers (ordered loosest to strictest) as a
// key accumulates violations within the lookback window.
type Progressive struct {
	// Limiter performs the underlying window check.
	Limiter *Limiter
	// Tiers are the escalation levels, loosest first. Must be non-empty.
	Tiers []Config
	// Lookback is the violation window; zero means DefaultLookback.
	Lookback time.Duration
}

// NewProgressive constructs a Progressive limiter over base with the given
// tiers.
func NewProgressive(base *Limiter, tiers []Config) *Progressive {
	return &Progressive{Limiter: base, Tiers: tiers, Lookback: DefaultLookback}
}

// Tier returns the effective config for a key that has accumulated n
// violations: tiers[n], capped at the strictest tier.
func (p *Progressive) Tier(n int) Config {
	if n < 0 {
		n = 0
	}
	if n >= len(p.Tiers) {
		n = len(p.Tiers) - 1
	}
	return p.Tiers[n]
}

// Check selects the tier for key's current violation count, runs the base
// window check against it, and records a violation when the check denies.
// Like the base limiter it never errors; violation-store failures degrade to
// the loosest tier (fail-open).
func (p *Progressive) Check(ctx context.Context, key string) Result {
	now := time.Now().UTC()
	lookback := p.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	nowMs := now.UnixMilli()
	lookbackMs := lookback.Milliseconds()

	n, err := repo.Violations(ctx, p.Limiter.DB, key, nowMs, lookbackMs)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("violation lookup failed, using loosest tier")
		n = 0
	}

	res := p.Limiter.Check(ctx, key, p.Tier(n))
	if !res.Allowed {
		if err := repo.RecordViolation(ctx, p.Limiter.DB, key, nowMs, lookbackMs); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("violation record failed")
		}
	}
	return res
}
