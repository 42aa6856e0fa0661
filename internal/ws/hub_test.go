package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/gorilla/websocket"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/astroveda/go-consult-backend/internal/domain"
)

func newHubDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("hub_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(
		&domain.User{},
		&domain.NotificationPreference{},
		&domain.Session{},
		&domain.Message{},
		&domain.Notification{},
	); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newHubServer stands up a hub behind a plain upgrade handler, the same shape
// the router wires in production minus the push dispatcher.
func newHubServer(t *testing.T, db *gorm.DB) (*Hub, *httptest.Server) {
	t.Helper()

	hub := NewHub(db, nil, NewLocalPresence(), NewLocalCalls())
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		NewClient(hub, conn).Start()
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dialSocket(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("write %s: %v", event, err)
	}
}

// readFrame reads frames until the wanted event arrives, skipping unrelated
// broadcasts, and returns its raw data payload.
func readFrame(t *testing.T, conn *websocket.Conn, want string) json.RawMessage {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	for {
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if frame.Event == want {
			return frame.Data
		}
	}
}

func decodeFrame(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode payload %s: %v", raw, err)
	}
	return m
}

func seedHubUser(t *testing.T, db *gorm.DB, u domain.User) {
	t.Helper()
	if u.Name == "" {
		u.Name = "User " + u.ID
	}
	if u.UserType == "" {
		u.UserType = domain.UserTypeCustomer
	}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("seed user %s: %v", u.ID, err)
	}
}

func seedHubSession(t *testing.T, db *gorm.DB, s domain.Session) {
	t.Helper()
	if s.SessionType == "" {
		s.SessionType = "call"
	}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("seed session %s: %v", s.ID, err)
	}
}

func authConn(t *testing.T, conn *websocket.Conn, userID, token string) {
	t.Helper()
	sendFrame(t, conn, "authenticate", map[string]string{"user_id": userID, "token": token})
	data := decodeFrame(t, readFrame(t, conn, "authenticated"))
	if data["success"] != true || data["user_id"] != userID {
		t.Fatalf("unexpected authenticated payload: %v", data)
	}
}

func TestSocket_AuthenticateSuccess(t *testing.T) {
	db := newHubDB(t)
	hub, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "astro", UserType: domain.UserTypeAstrologer, SessionToken: "tok-a"})

	conn := dialSocket(t, srv)
	sendFrame(t, conn, "authenticate", map[string]string{"user_id": "astro", "user_type": "astrologer", "token": "tok-a"})
	data := decodeFrame(t, readFrame(t, conn, "authenticated"))
	if data["user_type"] != "astrologer" {
		t.Fatalf("unexpected user_type: %v", data["user_type"])
	}

	waitFor(t, func() bool {
		on, _ := hub.Presence.IsOnline(context.Background(), "astro")
		return on && hub.ConnectedUsers() == 1
	}, "astrologer should be registered as online")

	// The persisted online flag follows the socket for astrologers.
	waitFor(t, func() bool {
		var u domain.User
		if err := db.First(&u, "id = ?", "astro").Error; err != nil {
			return false
		}
		return u.IsOnline
	}, "online flag should be persisted")
}

func TestSocket_AuthenticateRejectsBadToken(t *testing.T) {
	db := newHubDB(t)
	_, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "u1", SessionToken: "right"})

	conn := dialSocket(t, srv)
	sendFrame(t, conn, "authenticate", map[string]string{"user_id": "u1", "token": "wrong"})
	data := decodeFrame(t, readFrame(t, conn, "authentication_error"))
	if data["error"] != "authentication failed" {
		t.Fatalf("unexpected error: %v", data["error"])
	}
}

// A bound connection must not be able to swap identities: rebinding would
// leave the first user registered (and an astrologer flagged online) with no
// connection behind it.
func TestSocket_ReauthenticateRejected(t *testing.T) {
	db := newHubDB(t)
	hub, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "alice", SessionToken: "tok-1"})
	seedHubUser(t, db, domain.User{ID: "bob", SessionToken: "tok-2"})

	conn := dialSocket(t, srv)
	authConn(t, conn, "alice", "tok-1")

	sendFrame(t, conn, "authenticate", map[string]string{"user_id": "bob", "token": "tok-2"})
	data := decodeFrame(t, readFrame(t, conn, "authentication_error"))
	if data["error"] != "already authenticated" {
		t.Fatalf("unexpected error: %v", data["error"])
	}

	if got := hub.ConnectedUsers(); got != 1 {
		t.Fatalf("one socket must register one user, got %d", got)
	}
	if on, _ := hub.Presence.IsOnline(context.Background(), "bob"); on {
		t.Fatalf("rejected identity must not enter the presence registry")
	}

	// Closing the only socket leaves nothing behind.
	_ = conn.Close()
	waitFor(t, func() bool {
		on, _ := hub.Presence.IsOnline(context.Background(), "alice")
		return !on && hub.ConnectedUsers() == 0
	}, "registry should be empty after the only socket closed")
}

func TestSocket_EventsRequireAuthentication(t *testing.T) {
	db := newHubDB(t)
	_, srv := newHubServer(t, db)

	conn := dialSocket(t, srv)
	sendFrame(t, conn, "send_message", map[string]string{"session_id": "s1", "content": "hi"})
	data := decodeFrame(t, readFrame(t, conn, "authentication_error"))
	if data["error"] != "not authenticated" {
		t.Fatalf("unexpected error: %v", data["error"])
	}
}

func TestSocket_SendMessageRelaysAndCounts(t *testing.T) {
	db := newHubDB(t)
	_, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "cust", Name: "Asha", SessionToken: "tok-c"})
	seedHubUser(t, db, domain.User{ID: "astro", UserType: domain.UserTypeAstrologer, SessionToken: "tok-a"})
	seedHubSession(t, db, domain.Session{ID: "s1", UserID: "cust", AstrologerID: "astro", SessionType: "chat"})

	custConn := dialSocket(t, srv)
	astroConn := dialSocket(t, srv)
	authConn(t, custConn, "cust", "tok-c")
	authConn(t, astroConn, "astro", "tok-a")

	sendFrame(t, custConn, "send_message", map[string]string{"session_id": "s1", "content": "hello there"})

	msg := decodeFrame(t, readFrame(t, astroConn, "new_message"))
	if msg["content"] != "hello there" || msg["sender_id"] != "cust" {
		t.Fatalf("unexpected relayed message: %v", msg)
	}
	if msg["sender_name"] != "Asha" {
		t.Fatalf("sender name should come from the authenticated identity, got %v", msg["sender_name"])
	}
	// The sender's own room receives the echo too.
	echo := decodeFrame(t, readFrame(t, custConn, "new_message"))
	if echo["id"] != msg["id"] {
		t.Fatalf("echo should carry the same message id")
	}

	var stored domain.Message
	if err := db.First(&stored, "session_id = ?", "s1").Error; err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
	if stored.MessageType != "text" {
		t.Fatalf("expected default message type text, got %s", stored.MessageType)
	}

	waitFor(t, func() bool {
		var u domain.User
		if err := db.First(&u, "id = ?", "astro").Error; err != nil {
			return false
		}
		return u.UnreadCount == 1
	}, "receiver's unread counter should be incremented")
}

func TestSocket_SendMessageValidation(t *testing.T) {
	db := newHubDB(t)
	_, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "cust", SessionToken: "tok-c"})
	seedHubUser(t, db, domain.User{ID: "other", SessionToken: "tok-o"})
	seedHubSession(t, db, domain.Session{ID: "s1", UserID: "u-x", AstrologerID: "a-x", SessionType: "chat"})

	conn := dialSocket(t, srv)
	authConn(t, conn, "cust", "tok-c")

	sendFrame(t, conn, "send_message", map[string]string{"session_id": "s1"})
	if data := decodeFrame(t, readFrame(t, conn, "message_error")); data["error"] != "empty message" {
		t.Fatalf("unexpected error: %v", data["error"])
	}

	sendFrame(t, conn, "send_message", map[string]string{"session_id": "missing", "content": "x"})
	if data := decodeFrame(t, readFrame(t, conn, "message_error")); data["error"] != "session not found" {
		t.Fatalf("unexpected error: %v", data["error"])
	}

	// cust is not a participant of s1.
	sendFrame(t, conn, "send_message", map[string]string{"session_id": "s1", "content": "x"})
	if data := decodeFrame(t, readFrame(t, conn, "message_error")); data["error"] != "not a session participant" {
		t.Fatalf("unexpected error: %v", data["error"])
	}
}

func TestSocket_CallLifecycleWithBilling(t *testing.T) {
	db := newHubDB(t)
	hub, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "cust", Name: "Asha", SessionToken: "tok-c"})
	seedHubUser(t, db, domain.User{ID: "astro", UserType: domain.UserTypeAstrologer, SessionToken: "tok-a"})
	seedHubSession(t, db, domain.Session{ID: "s1", UserID: "cust", AstrologerID: "astro", RatePerMinute: 10})

	custConn := dialSocket(t, srv)
	astroConn := dialSocket(t, srv)
	authConn(t, custConn, "cust", "tok-c")
	authConn(t, astroConn, "astro", "tok-a")

	sendFrame(t, custConn, "initiate_call", map[string]string{"session_id": "s1", "call_type": "audio"})

	incoming := decodeFrame(t, readFrame(t, astroConn, "incoming_call"))
	if incoming["caller_id"] != "cust" || incoming["caller_name"] != "Asha" || incoming["call_type"] != "audio" {
		t.Fatalf("unexpected incoming_call payload: %v", incoming)
	}
	initiated := decodeFrame(t, readFrame(t, custConn, "call_initiated"))
	if initiated["status"] != "ringing" {
		t.Fatalf("expected ringing status, got %v", initiated["status"])
	}

	sendFrame(t, astroConn, "answer_call", map[string]string{"session_id": "s1"})
	readFrame(t, custConn, "call_answered")
	readFrame(t, astroConn, "call_answered")

	// Backdate the answer so the hangup bills a real duration: 90 seconds at
	// 10/minute rounds up to 2 minutes and 20.00.
	cs, ok := hub.Calls.Get("s1")
	if !ok || cs.Status != domain.CallActive {
		t.Fatalf("call should be active in the registry, got %+v ok=%v", cs, ok)
	}
	cs.StartedAt = time.Now().UTC().Add(-90 * time.Second)
	hub.Calls.Put(cs)

	sendFrame(t, custConn, "end_call", map[string]string{"session_id": "s1"})
	ended := decodeFrame(t, readFrame(t, custConn, "call_ended"))
	if ended["duration_minutes"] != float64(2) {
		t.Fatalf("expected 2 billed minutes, got %v", ended["duration_minutes"])
	}
	if ended["total_amount"] != float64(20) {
		t.Fatalf("expected amount 20.00, got %v", ended["total_amount"])
	}
	readFrame(t, astroConn, "call_ended")

	var sess domain.Session
	if err := db.First(&sess, "id = ?", "s1").Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.CallStatus != domain.CallCompleted {
		t.Fatalf("expected completed, got %s", sess.CallStatus)
	}
	if sess.DurationMinutes != 2 || sess.TotalAmount != 20 {
		t.Fatalf("billing not persisted: %d minutes, %v amount", sess.DurationMinutes, sess.TotalAmount)
	}
	if _, ok := hub.Calls.Get("s1"); ok {
		t.Fatalf("ended call must leave the registry")
	}
}

func TestSocket_AnswerWithoutRingingCall(t *testing.T) {
	db := newHubDB(t)
	_, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "astro", UserType: domain.UserTypeAstrologer, SessionToken: "tok-a"})

	conn := dialSocket(t, srv)
	authConn(t, conn, "astro", "tok-a")

	sendFrame(t, conn, "answer_call", map[string]string{"session_id": "nope"})
	data := decodeFrame(t, readFrame(t, conn, "call_error"))
	if data["error"] != "no ringing call for session" {
		t.Fatalf("unexpected error: %v", data["error"])
	}
}

func TestSocket_EndCallWhileRingingSkipsBilling(t *testing.T) {
	db := newHubDB(t)
	hub, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "cust", SessionToken: "tok-c"})
	seedHubUser(t, db, domain.User{ID: "astro", UserType: domain.UserTypeAstrologer, SessionToken: "tok-a"})
	seedHubSession(t, db, domain.Session{ID: "s1", UserID: "cust", AstrologerID: "astro", RatePerMinute: 10})

	conn := dialSocket(t, srv)
	authConn(t, conn, "cust", "tok-c")

	sendFrame(t, conn, "initiate_call", map[string]string{"session_id": "s1"})
	readFrame(t, conn, "call_initiated")

	// Caller hangs up before the callee answers.
	sendFrame(t, conn, "end_call", map[string]string{"session_id": "s1"})
	ended := decodeFrame(t, readFrame(t, conn, "call_ended"))
	if _, present := ended["duration_minutes"]; present {
		t.Fatalf("unanswered call must not carry billing fields: %v", ended)
	}

	var sess domain.Session
	if err := db.First(&sess, "id = ?", "s1").Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.CallStatus != domain.CallCompleted || sess.DurationMinutes != 0 || sess.TotalAmount != 0 {
		t.Fatalf("expected zero-billed completion, got %+v", sess)
	}
	if _, ok := hub.Calls.Get("s1"); ok {
		t.Fatalf("registry should be empty after hangup")
	}
}

func TestSocket_RejectCall(t *testing.T) {
	db := newHubDB(t)
	hub, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "cust", SessionToken: "tok-c"})
	seedHubUser(t, db, domain.User{ID: "astro", UserType: domain.UserTypeAstrologer, SessionToken: "tok-a"})
	seedHubSession(t, db, domain.Session{ID: "s1", UserID: "cust", AstrologerID: "astro", RatePerMinute: 10})

	custConn := dialSocket(t, srv)
	astroConn := dialSocket(t, srv)
	authConn(t, custConn, "cust", "tok-c")
	authConn(t, astroConn, "astro", "tok-a")

	sendFrame(t, custConn, "initiate_call", map[string]string{"session_id": "s1"})
	readFrame(t, astroConn, "incoming_call")

	sendFrame(t, astroConn, "reject_call", map[string]string{"session_id": "s1"})
	readFrame(t, custConn, "call_rejected")
	readFrame(t, astroConn, "call_rejected")

	var sess domain.Session
	if err := db.First(&sess, "id = ?", "s1").Error; err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.CallStatus != domain.CallRejected {
		t.Fatalf("expected rejected, got %s", sess.CallStatus)
	}
	if _, ok := hub.Calls.Get("s1"); ok {
		t.Fatalf("rejected call must leave the registry")
	}

	// The session can ring again after a rejection.
	sendFrame(t, custConn, "initiate_call", map[string]string{"session_id": "s1"})
	readFrame(t, astroConn, "incoming_call")
}

func TestSocket_DuplicateInitiateRejected(t *testing.T) {
	db := newHubDB(t)
	_, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "cust", SessionToken: "tok-c"})
	seedHubUser(t, db, domain.User{ID: "astro", UserType: domain.UserTypeAstrologer, SessionToken: "tok-a"})
	seedHubSession(t, db, domain.Session{ID: "s1", UserID: "cust", AstrologerID: "astro"})

	conn := dialSocket(t, srv)
	authConn(t, conn, "cust", "tok-c")

	sendFrame(t, conn, "initiate_call", map[string]string{"session_id": "s1"})
	readFrame(t, conn, "call_initiated")

	sendFrame(t, conn, "initiate_call", map[string]string{"session_id": "s1"})
	data := decodeFrame(t, readFrame(t, conn, "call_error"))
	if data["error"] != "call already in progress" {
		t.Fatalf("unexpected error: %v", data["error"])
	}
}

func TestSocket_SignalRelayVerbatim(t *testing.T) {
	db := newHubDB(t)
	_, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "cust", SessionToken: "tok-c"})
	seedHubUser(t, db, domain.User{ID: "astro", UserType: domain.UserTypeAstrologer, SessionToken: "tok-a"})

	custConn := dialSocket(t, srv)
	astroConn := dialSocket(t, srv)
	authConn(t, custConn, "cust", "tok-c")
	authConn(t, astroConn, "astro", "tok-a")

	sendFrame(t, custConn, "webrtc_offer", map[string]any{
		"session_id":     "s1",
		"target_user_id": "astro",
		"payload":        map[string]any{"type": "offer", "sdp": "v=0 fake-sdp"},
	})

	relayed := decodeFrame(t, readFrame(t, astroConn, "webrtc_offer"))
	if relayed["from_user_id"] != "cust" || relayed["session_id"] != "s1" {
		t.Fatalf("unexpected relay envelope: %v", relayed)
	}
	payload, ok := relayed["payload"].(map[string]any)
	if !ok || payload["sdp"] != "v=0 fake-sdp" {
		t.Fatalf("signaling payload must pass through untouched: %v", relayed["payload"])
	}

	// ICE candidates use the same relay path.
	sendFrame(t, astroConn, "webrtc_ice_candidate", map[string]any{
		"session_id":     "s1",
		"target_user_id": "cust",
		"payload":        map[string]any{"candidate": "candidate:0 1 UDP"},
	})
	ice := decodeFrame(t, readFrame(t, custConn, "webrtc_ice_candidate"))
	if ice["from_user_id"] != "astro" {
		t.Fatalf("unexpected ICE relay: %v", ice)
	}
}

func TestSocket_DisconnectClearsPresence(t *testing.T) {
	db := newHubDB(t)
	hub, srv := newHubServer(t, db)
	seedHubUser(t, db, domain.User{ID: "astro", UserType: domain.UserTypeAstrologer, SessionToken: "tok-a"})

	conn := dialSocket(t, srv)
	authConn(t, conn, "astro", "tok-a")
	waitFor(t, func() bool { return hub.ConnectedUsers() == 1 }, "connection should register")

	_ = conn.Close()

	waitFor(t, func() bool {
		on, _ := hub.Presence.IsOnline(context.Background(), "astro")
		return !on && hub.ConnectedUsers() == 0
	}, "presence should clear on disconnect")
	waitFor(t, func() bool {
		var u domain.User
		if err := db.First(&u, "id = ?", "astro").Error; err != nil {
			return false
		}
		return !u.IsOnline
	}, "persisted online flag should clear on disconnect")
}

type refreshRecorder struct {
	PresenceRegistry
	refreshed []string
}

func (p *refreshRecorder) Refresh(_ context.Context, userID string) error {
	p.refreshed = append(p.refreshed, userID)
	return nil
}

// Pongs keep a connected user's registry entry alive in TTL-based backings.
func TestHub_RefreshPresence(t *testing.T) {
	rec := &refreshRecorder{PresenceRegistry: NewLocalPresence()}
	hub := NewHub(newHubDB(t), nil, rec, NewLocalCalls())

	c := &Client{hub: hub}
	hub.refreshPresence(c)
	if len(rec.refreshed) != 0 {
		t.Fatalf("unauthenticated connections must not refresh anything")
	}

	c.userID = "u1"
	hub.refreshPresence(c)
	hub.refreshPresence(c)
	if len(rec.refreshed) != 2 || rec.refreshed[0] != "u1" {
		t.Fatalf("expected two refreshes for u1, got %v", rec.refreshed)
	}
}

// waitFor polls a condition with a bounded deadline; socket side effects land
// on the server goroutines.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}
