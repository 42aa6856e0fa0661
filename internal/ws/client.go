// Package ws – Client
//
// One Client per websocket connection. The read pump decodes inbound
// envelopes and hands them to the event dispatcher; the write pump serializes
// all outbound frames through a buffered channel so concurrent room
// broadcasts never interleave writes on the connection.
package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/astroveda/go-consult-backend/internal/domain"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second
	// pongWait is how long a connection may stay silent before it is
	// considered dead; pings go out at pingPeriod to keep it alive.
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	// maxMessageSize caps inbound frames; signaling payloads are small.
	maxMessageSize = 64 * 1024
	// sendBuffer is the per-client outbound queue; a client that cannot
	// drain it is dropped rather than allowed to block broadcasts.
	sendBuffer = 64
)

// Client is the middleman between one websocket connection and the hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Envelope

	// identity, set by a successful authenticate event
	userID   string
	userType domain.UserType
	name     string
}

// NewClient wraps an upgraded connection. The caller must invoke Start.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan Envelope, sendBuffer),
	}
}

// Start launches the read and write pumps.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// enqueue queues an outbound envelope, dropping the frame when the client's
// buffer is full so one slow consumer cannot stall the hub.
func (c *Client) enqueue(env Envelope) {
	select {
	case c.send <- env:
	default:
		log.Warn().Str("user_id", c.userID).Str("event", env.Event).Msg("send buffer full, frame dropped")
	}
}

// reply sends a direct response to this connection only.
func (c *Client) reply(event string, data any) {
	c.enqueue(Envelope{Event: event, Data: data})
}

// replyError sends the typed *_error event for a failed operation.
func (c *Client) replyError(event, msg string) {
	c.enqueue(Envelope{Event: event, Data: map[string]string{"error": msg}})
}

// inbound is the raw frame shape before the payload is decoded per event.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unbind(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		c.hub.refreshPresence(c)
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame inbound
		if err := c.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user_id", c.userID).Msg("unexpected socket close")
			}
			return
		}
		c.hub.dispatch(c, frame)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case env, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
