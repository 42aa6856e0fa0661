// Package ws implements the realtime presence and call hub: socket connection
// routing per user, the call state machine with billing on hangup, chat
// relay with unread counters, and verbatim WebRTC signaling relay.
//
// This file defines the two shared-state registries behind narrow interfaces
// so the backing can be swapped: the in-process mutex-guarded maps are the
// single-instance default; a Redis-backed presence registry (see
// presence_redis.go) supports multi-instance deployments where the persisted
// online flag alone is not enough.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/astroveda/go-consult-backend/internal/domain"
)

// PresenceRegistry tracks which users currently hold at least one socket
// connection. Implementations must be safe for concurrent use.
type PresenceRegistry interface {
	// Set marks a user online with their role.
	Set(ctx context.Context, userID string, userType domain.UserType) error
	// Refresh renews a user's online entry; backings with expiring entries
	// extend the deadline, others treat it as a no-op.
	Refresh(ctx context.Context, userID string) error
	// Remove marks a user offline.
	Remove(ctx context.Context, userID string) error
	// IsOnline reports whether the user is currently marked online.
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// localPresence is the in-process PresenceRegistry.
type localPresence struct {
	mu    sync.RWMutex
	users map[string]domain.UserType
}

// NewLocalPresence constructs the default in-process presence registry.
func NewLocalPresence() PresenceRegistry {
	return &localPresence{users: make(map[string]domain.UserType)}
}

func (p *localPresence) Set(_ context.Context, userID string, userType domain.UserType) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users[userID] = userType
	return nil
}

// Refresh is a no-op: local entries do not expire.
func (p *localPresence) Refresh(_ context.Context, _ string) error { return nil }

func (p *localPresence) Remove(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, userID)
	return nil
}

func (p *localPresence) IsOnline(_ context.Context, userID string) (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.users[userID]
	return ok, nil
}

// CallState is the in-memory record of an in-flight call. It mirrors the
// persisted session row; the registry exists for fast per-event lookup
// without a store round-trip.
type CallState struct {
	SessionID     string
	CallerID      string
	CalleeID      string
	CallType      string
	Status        domain.CallStatus
	RatePerMinute float64
	StartedAt     time.Time
	// InitiatedAt lets the reaper age out calls that never rang through.
	InitiatedAt time.Time
}

// CallRegistry holds the in-flight calls. Calls are inserted on initiate,
// mutated on answer, and evicted on reject/end. Implementations must be safe
// for concurrent use.
type CallRegistry interface {
	// Put inserts or replaces the state for a session.
	Put(cs CallState)
	// Get returns the state for a session, if present.
	Get(sessionID string) (CallState, bool)
	// Remove evicts a session, reporting whether it was present.
	Remove(sessionID string) bool
	// Snapshot returns a copy of all in-flight calls (reaper support).
	Snapshot() []CallState
}

// localCalls is the in-process CallRegistry.
type localCalls struct {
	mu    sync.RWMutex
	calls map[string]CallState
}

// NewLocalCalls constructs the default in-process call registry.
func NewLocalCalls() CallRegistry {
	return &localCalls{calls: make(map[string]CallState)}
}

func (r *localCalls) Put(cs CallState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[cs.SessionID] = cs
}

func (r *localCalls) Get(sessionID string) (CallState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cs, ok := r.calls[sessionID]
	return cs, ok
}

func (r *localCalls) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.calls[sessionID]
	delete(r.calls, sessionID)
	return ok
}

func (r *localCalls) Snapshot() []CallState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]CallState, 0, len(r.calls))
	for _, cs := range r.calls {
		out = append(out, cs)
	}
	return out
}
