// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements the store-backed progressive rate limit for abuse-
// sensitive routes. Unlike the in-memory token bucket (ratelimit.go), this
// limiter persists fixed-window counters, so limits survive restarts and are
// shared across instances pointing at the same database. Repeat offenders
// escalate through progressively stricter tiers.
//
// Keying combines the caller identity (user ID or client IP) with a short
// fingerprint of the User-Agent, so one abusive client behind a shared NAT
// does not instantly exhaust the budget of everyone behind it.
package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/astroveda/go-consult-backend/internal/ratelimit"
)

// clientFingerprint derives a short stable token from the User-Agent.
func clientFingerprint(c *gin.Context) string {
	ua := c.Request.UserAgent()
	if ua == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(ua))
	return hex.EncodeToString(sum[:6])
}

// StoreRateLimiter returns a Gin middleware enforcing the progressive
// store-backed limit.
//
// Behavior:
//   - If IsRateBypass(c) is true (idempotent replay), limiting is skipped.
//   - Sets X-RateLimit-Remaining and X-RateLimit-Reset on every response.
//   - Denied requests receive 429 with a compact JSON body; the limiter's
//     fail-open policy means store outages never turn into 429s.
func StoreRateLimiter(p *ratelimit.Progressive, keyFn keyFunc) gin.HandlerFunc {
	if keyFn == nil {
		keyFn = KeyByUserOrIP()
	}
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		key := ratelimit.Key(keyFn(c), clientFingerprint(c))
		res := p.Check(c.Request.Context(), key)

		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "rate_limited",
				"message": "too many requests, slow down",
			})
			return
		}
		c.Next()
	}
}
