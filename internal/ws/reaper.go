// Package ws – abandoned-call reaper.
//
// A socket drop without an explicit end_call can leave a call dangling in
// the registry. The reaper is optional (interval 0 disables it): unanswered
// calls time out as rejected, and active calls whose participants have all
// vanished are finalized with billing up to the sweep time.
package ws

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/astroveda/go-consult-backend/internal/domain"
	"github.com/astroveda/go-consult-backend/internal/repo"
)

const (
	// ringTimeout is how long a call may stay in ringing before it is
	// treated as missed.
	ringTimeout = 90 * time.Second
	// abandonGrace is how long an active call survives with neither
	// participant connected before it is finalized.
	abandonGrace = 2 * time.Minute
)

// StartReaper launches the periodic sweep. It returns immediately; the sweep
// goroutine stops when ctx is canceled. An interval <= 0 disables the reaper.
func (h *Hub) StartReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h.reapOnce(ctx)
			}
		}
	}()
	log.Info().Dur("interval", interval).Msg("call reaper started")
}

func (h *Hub) reapOnce(ctx context.Context) {
	now := time.Now().UTC()
	for _, cs := range h.Calls.Snapshot() {
		switch cs.Status {
		case domain.CallRinging:
			if now.Sub(cs.InitiatedAt) < ringTimeout {
				continue
			}
			if err := repo.UpdateCallStatus(ctx, h.DB, cs.SessionID, domain.CallRejected); err != nil {
				log.Warn().Err(err).Str("session_id", cs.SessionID).Msg("reaper reject write failed")
				continue
			}
			if h.Calls.Remove(cs.SessionID) {
				callsActive.Dec()
			}
			data := map[string]any{"session_id": cs.SessionID}
			h.SendToUser(cs.CallerID, evCallRejected, data)
			h.SendToUser(cs.CalleeID, evCallRejected, data)
			log.Info().Str("session_id", cs.SessionID).Msg("unanswered call timed out")

		case domain.CallActive:
			if h.anyConnected(cs.CallerID, cs.CalleeID) {
				continue
			}
			if now.Sub(cs.StartedAt) < abandonGrace {
				continue
			}
			minutes := BillableMinutes(cs.StartedAt, now)
			amount := Round2(float64(minutes) * cs.RatePerMinute)
			if err := repo.FinalizeCall(ctx, h.DB, cs.SessionID, now, minutes, amount); err != nil {
				log.Warn().Err(err).Str("session_id", cs.SessionID).Msg("reaper finalize failed")
				continue
			}
			if h.Calls.Remove(cs.SessionID) {
				callsActive.Dec()
			}
			log.Info().
				Str("session_id", cs.SessionID).
				Int("duration_minutes", minutes).
				Float64("total_amount", amount).
				Msg("abandoned call finalized")
		}
	}
}

// anyConnected reports whether any of the users holds a connection on this
// instance.
func (h *Hub) anyConnected(userIDs ...string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range userIDs {
		if len(h.byUser[id]) > 0 {
			return true
		}
	}
	return false
}
