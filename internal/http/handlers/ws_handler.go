// WebSocket entry point.
//
// GET /ws upgrades the HTTP connection and hands it to the realtime hub. The
// socket starts unauthenticated; the first frame must be an "authenticate"
// event carrying a session token (enforced by the hub's dispatcher).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/astroveda/go-consult-backend/internal/http/middleware"
	"github.com/astroveda/go-consult-backend/internal/ws"
)

// SocketHandler upgrades HTTP requests to WebSocket connections and registers
// them with the hub.
type SocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
}

// NewSocket builds a SocketHandler. allowedOrigins follows the CORS config:
// an empty list or a "*" entry accepts any Origin, otherwise the Origin
// header must match one of the entries exactly.
func NewSocket(hub *ws.Hub, allowedOrigins []string) *SocketHandler {
	h := &SocketHandler{hub: hub}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// Serve godoc
// @ID          openSocket
// @Summary     Open the realtime WebSocket
// @Description Upgrades the connection. Clients must send an authenticate frame before any other event.
// @Tags        Realtime
//
// @Success     101  {string}  string  "Switching Protocols"
// @Failure     400  {object}  handlers.ErrorResponse  "Upgrade failed"
// @Router      /ws [get]
func (h *SocketHandler) Serve(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error to the client; just log it.
		middleware.LoggerFrom(c).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ws.NewClient(h.hub, conn).Start()
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients (tests, CLI tools) omit Origin.
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
