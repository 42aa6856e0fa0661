package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/astroveda/go-consult-backend/internal/ws"
)

func TestOriginChecker(t *testing.T) {
	reqWith := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	cases := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"empty list allows all", nil, "https://evil.example", true},
		{"wildcard allows all", []string{"https://app.example", "*"}, "https://evil.example", true},
		{"exact match", []string{"https://app.example"}, "https://app.example", true},
		{"mismatch", []string{"https://app.example"}, "https://evil.example", false},
		{"no origin header allowed", []string{"https://app.example"}, "", true},
	}
	for _, tc := range cases {
		if got := originChecker(tc.allowed)(reqWith(tc.origin)); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestSocketServe_UpgradeAndOriginRejection(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := newHandlerDB(t)
	hub := ws.NewHub(db, nil, ws.NewLocalPresence(), ws.NewLocalCalls())
	sock := NewSocket(hub, []string{"https://app.example"})

	r := gin.New()
	r.GET("/ws", sock.Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	// Allowed origin upgrades.
	conn, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://app.example"}})
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
	_ = conn.Close()

	// Disallowed origin is refused before the upgrade completes.
	_, resp, err = websocket.DefaultDialer.Dial(url, http.Header{"Origin": []string{"https://evil.example"}})
	if err == nil {
		t.Fatalf("dial with disallowed origin must fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake response, got %+v", resp)
	}
}
