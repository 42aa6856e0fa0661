// Package ws – Hub
//
// The hub owns connection routing: every authenticated client is joined to
// its per-user room, and astrologer clients additionally join a shared
// broadcast room. Handlers run on each client's read goroutine, so the room
// maps are mutex-guarded rather than funneled through a single event loop.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/astroveda/go-consult-backend/internal/domain"
	"github.com/astroveda/go-consult-backend/internal/repo"
	"github.com/astroveda/go-consult-backend/internal/services"
)

// Envelope is the bidirectional socket frame: an event name plus an opaque
// JSON payload.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Hub routes socket frames between connected clients and coordinates the
// call state machine, chat relay, and presence side effects.
type Hub struct {
	// DB is the GORM handle shared with the repositories.
	DB *gorm.DB
	// Notifier delivers the push redundancy for chat and call events.
	Notifier *services.NotificationService
	// Presence is the online-user registry (local map or Redis).
	Presence PresenceRegistry
	// Calls is the in-flight call registry.
	Calls CallRegistry

	mu sync.RWMutex
	// byUser holds every authenticated connection keyed by user ID; one user
	// may hold several (multiple devices).
	byUser map[string]map[*Client]struct{}
	// astrologers is the shared broadcast room.
	astrologers map[*Client]struct{}
}

// NewHub constructs a Hub with the given registries.
func NewHub(db *gorm.DB, notifier *services.NotificationService, presence PresenceRegistry, calls CallRegistry) *Hub {
	return &Hub{
		DB:          db,
		Notifier:    notifier,
		Presence:    presence,
		Calls:       calls,
		byUser:      make(map[string]map[*Client]struct{}),
		astrologers: make(map[*Client]struct{}),
	}
}

// bind joins an authenticated client to its rooms and applies the presence
// side effects: registry entry for everyone, persisted online flag for
// astrologers.
func (h *Hub) bind(ctx context.Context, c *Client, u *domain.User) {
	h.mu.Lock()
	c.userID = u.ID
	c.userType = u.UserType
	c.name = u.Name
	if h.byUser[u.ID] == nil {
		h.byUser[u.ID] = make(map[*Client]struct{})
	}
	h.byUser[u.ID][c] = struct{}{}
	if u.UserType == domain.UserTypeAstrologer {
		h.astrologers[c] = struct{}{}
	}
	h.mu.Unlock()

	if err := h.Presence.Set(ctx, u.ID, u.UserType); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID).Msg("presence set failed")
	}
	if u.UserType == domain.UserTypeAstrologer {
		if err := repo.SetOnline(ctx, h.DB, u.ID, true); err != nil {
			log.Warn().Err(err).Str("user_id", u.ID).Msg("online flag set failed")
		}
	}
	connectionsActive.Inc()
	log.Info().Str("user_id", u.ID).Str("user_type", string(u.UserType)).Msg("socket authenticated")
}

// unbind removes a client from its rooms. When it was the user's last
// connection the presence entry is dropped and, for astrologers, the
// persisted online flag is cleared. In-flight calls are deliberately left
// alone; the optional reaper handles abandoned ones.
func (h *Hub) unbind(c *Client) {
	if c.userID == "" {
		return
	}
	h.mu.Lock()
	delete(h.astrologers, c)
	last := false
	if set, ok := h.byUser[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.byUser, c.userID)
			last = true
		}
	}
	h.mu.Unlock()

	connectionsActive.Dec()
	if !last {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Presence.Remove(ctx, c.userID); err != nil {
		log.Warn().Err(err).Str("user_id", c.userID).Msg("presence remove failed")
	}
	if c.userType == domain.UserTypeAstrologer {
		if err := repo.SetOnline(ctx, h.DB, c.userID, false); err != nil {
			log.Warn().Err(err).Str("user_id", c.userID).Msg("online flag clear failed")
		}
	}
	log.Info().Str("user_id", c.userID).Msg("socket disconnected")
}

// refreshPresence renews the registry entry for a bound client. Driven by the
// pong handler, so a connected user's entry never ages out of a TTL-based
// backing while the socket is alive.
func (h *Hub) refreshPresence(c *Client) {
	if c.userID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Presence.Refresh(ctx, c.userID); err != nil {
		log.Warn().Err(err).Str("user_id", c.userID).Msg("presence refresh failed")
	}
}

// SendToUser delivers an event to every connection of one user. Returns
// false when the user holds no connection on this instance.
func (h *Hub) SendToUser(userID, event string, data any) bool {
	h.mu.RLock()
	set := h.byUser[userID]
	clients := make([]*Client, 0, len(set))
	for c := range set {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(Envelope{Event: event, Data: data})
	}
	return len(clients) > 0
}

// BroadcastToAstrologers delivers an event to the shared astrologer room.
func (h *Hub) BroadcastToAstrologers(event string, data any) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.astrologers))
	for c := range h.astrologers {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.enqueue(Envelope{Event: event, Data: data})
	}
}

// ConnectedUsers reports the number of distinct users with at least one
// connection on this instance.
func (h *Hub) ConnectedUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser)
}
