// Package ws – inbound event handling.
//
// Every handler follows the same discipline: decode, validate, mutate state,
// broadcast to the participant rooms before returning, and report failures
// only to the invoking socket as a typed *_error event. Errors never cascade
// to the other participant and never kill the connection.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/astroveda/go-consult-backend/internal/domain"
	"github.com/astroveda/go-consult-backend/internal/repo"
	"github.com/astroveda/go-consult-backend/internal/services"
)

// Inbound event names.
const (
	evAuthenticate = "authenticate"
	evSendMessage  = "send_message"
	evInitiateCall = "initiate_call"
	evAnswerCall   = "answer_call"
	evRejectCall   = "reject_call"
	evEndCall      = "end_call"
	evWebRTCOffer  = "webrtc_offer"
	evWebRTCAnswer = "webrtc_answer"
	evWebRTCICE    = "webrtc_ice_candidate"
)

// Outbound event names.
const (
	evAuthenticated = "authenticated"
	evAuthError     = "authentication_error"
	evNewMessage    = "new_message"
	evMessageError  = "message_error"
	evIncomingCall  = "incoming_call"
	evCallInitiated = "call_initiated"
	evCallAnswered  = "call_answered"
	evCallRejected  = "call_rejected"
	evCallEnded     = "call_ended"
	evCallError     = "call_error"
)

// dispatch routes one inbound frame to its handler. Unauthenticated
// connections may only authenticate.
func (h *Hub) dispatch(c *Client, frame inbound) {
	if frame.Event != evAuthenticate && c.userID == "" {
		eventsTotal.WithLabelValues(frame.Event, outcomeError).Inc()
		c.replyError(evAuthError, "not authenticated")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var ok bool
	switch frame.Event {
	case evAuthenticate:
		ok = h.handleAuthenticate(ctx, c, frame.Data)
	case evSendMessage:
		ok = h.handleSendMessage(ctx, c, frame.Data)
	case evInitiateCall:
		ok = h.handleInitiateCall(ctx, c, frame.Data)
	case evAnswerCall:
		ok = h.handleAnswerCall(ctx, c, frame.Data)
	case evRejectCall:
		ok = h.handleRejectCall(ctx, c, frame.Data)
	case evEndCall:
		ok = h.handleEndCall(ctx, c, frame.Data)
	case evWebRTCOffer, evWebRTCAnswer, evWebRTCICE:
		ok = h.handleSignal(c, frame.Event, frame.Data)
	default:
		c.replyError(evMessageError, "unknown event: "+frame.Event)
	}

	outcome := outcomeError
	if ok {
		outcome = outcomeOK
	}
	eventsTotal.WithLabelValues(frame.Event, outcome).Inc()
}

// authPayload is the authenticate frame. The token is verified against the
// user store; connections that cannot prove the HTTP login are rejected
// rather than trusted.
type authPayload struct {
	UserID   string `json:"user_id"`
	UserType string `json:"user_type"`
	Token    string `json:"token"`
}

func (h *Hub) handleAuthenticate(ctx context.Context, c *Client, raw json.RawMessage) bool {
	// One identity per connection: rebinding would leave the previous user's
	// room and presence entries dangling.
	if c.userID != "" {
		c.replyError(evAuthError, "already authenticated")
		return false
	}

	var p authPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.UserID == "" {
		c.replyError(evAuthError, "invalid authenticate payload")
		return false
	}

	u, err := repo.GetUserByToken(ctx, h.DB, p.UserID, p.Token)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Error().Err(err).Str("user_id", p.UserID).Msg("socket auth lookup failed")
		}
		c.replyError(evAuthError, "authentication failed")
		return false
	}
	if p.UserType != "" && domain.UserType(p.UserType) != u.UserType {
		c.replyError(evAuthError, "authentication failed")
		return false
	}

	h.bind(ctx, c, u)
	c.reply(evAuthenticated, map[string]any{
		"success":   true,
		"user_id":   u.ID,
		"user_type": string(u.UserType),
	})
	return true
}

// messagePayload is the send_message frame.
type messagePayload struct {
	SessionID   string `json:"session_id"`
	SenderName  string `json:"sender_name"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	ImageURL    string `json:"image_url"`
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, raw json.RawMessage) bool {
	var p messagePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.replyError(evMessageError, "invalid message payload")
		return false
	}
	if p.MessageType == "" {
		p.MessageType = "text"
	}
	if p.MessageType == "text" && p.Content == "" {
		c.replyError(evMessageError, "empty message")
		return false
	}
	if p.MessageType == "image" && p.ImageURL == "" {
		c.replyError(evMessageError, "missing image url")
		return false
	}

	sess, err := repo.GetSession(ctx, h.DB, p.SessionID)
	if err != nil {
		c.replyError(evMessageError, "session not found")
		return false
	}
	receiverID, isParticipant := sess.OtherParticipant(c.userID)
	if !isParticipant {
		c.replyError(evMessageError, "not a session participant")
		return false
	}

	senderName := p.SenderName
	if senderName == "" {
		senderName = c.name
	}
	msg, err := repo.CreateMessage(h.DB, &domain.Message{
		SessionID:   p.SessionID,
		SenderID:    c.userID,
		SenderName:  senderName,
		SenderType:  c.userType,
		MessageType: p.MessageType,
		Content:     p.Content,
		ImageURL:    p.ImageURL,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", p.SessionID).Msg("message insert failed")
		c.replyError(evMessageError, "message could not be stored")
		return false
	}

	// Counter increment is best-effort relative to the insert; the storage
	// layer's atomic partial update keeps it race-free across sockets.
	if err := repo.IncrementUnread(ctx, h.DB, receiverID, 1); err != nil {
		log.Warn().Err(err).Str("user_id", receiverID).Msg("unread increment failed")
	}

	h.SendToUser(sess.UserID, evNewMessage, msg)
	h.SendToUser(sess.AstrologerID, evNewMessage, msg)

	// Push redundancy: delivery must not depend on the receiver's socket.
	h.pushEvent(ctx, receiverID, string(domain.TypeChatMessage), services.Payload{
		"sender_name":  senderName,
		"sender_id":    c.userID,
		"session_id":   p.SessionID,
		"message_id":   msg.ID,
		"message_type": p.MessageType,
		"content":      p.Content,
	})
	return true
}

// callPayload covers the call lifecycle frames; only initiate uses CallType.
type callPayload struct {
	SessionID string `json:"session_id"`
	CallType  string `json:"call_type"`
}

func (h *Hub) handleInitiateCall(ctx context.Context, c *Client, raw json.RawMessage) bool {
	var p callPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.replyError(evCallError, "invalid call payload")
		return false
	}
	if _, exists := h.Calls.Get(p.SessionID); exists {
		c.replyError(evCallError, "call already in progress")
		return false
	}

	sess, err := repo.GetSession(ctx, h.DB, p.SessionID)
	if err != nil {
		c.replyError(evCallError, "session not found")
		return false
	}
	receiverID, isParticipant := sess.OtherParticipant(c.userID)
	if !isParticipant {
		c.replyError(evCallError, "not a session participant")
		return false
	}

	if err := repo.UpdateCallStatus(ctx, h.DB, p.SessionID, domain.CallRinging); err != nil {
		log.Error().Err(err).Str("session_id", p.SessionID).Msg("call status write failed")
		c.replyError(evCallError, "call could not be initiated")
		return false
	}
	h.Calls.Put(CallState{
		SessionID:     p.SessionID,
		CallerID:      c.userID,
		CalleeID:      receiverID,
		CallType:      p.CallType,
		Status:        domain.CallRinging,
		RatePerMinute: sess.RatePerMinute,
		InitiatedAt:   time.Now().UTC(),
	})
	callsActive.Inc()

	h.SendToUser(receiverID, evIncomingCall, map[string]any{
		"session_id":  p.SessionID,
		"caller_id":   c.userID,
		"caller_name": c.name,
		"caller_type": string(c.userType),
		"call_type":   p.CallType,
	})
	c.reply(evCallInitiated, map[string]any{
		"session_id": p.SessionID,
		"status":     string(domain.CallRinging),
	})

	// The call must ring a backgrounded app: the catalog pins this event to
	// urgent priority regardless of anything the caller supplied.
	h.pushEvent(ctx, receiverID, string(domain.TypeCallRequest), services.Payload{
		"caller_name": c.name,
		"caller_id":   c.userID,
		"session_id":  p.SessionID,
		"call_type":   p.CallType,
	})
	return true
}

func (h *Hub) handleAnswerCall(ctx context.Context, c *Client, raw json.RawMessage) bool {
	var p callPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.replyError(evCallError, "invalid call payload")
		return false
	}
	cs, ok := h.Calls.Get(p.SessionID)
	if !ok || cs.Status != domain.CallRinging {
		c.replyError(evCallError, "no ringing call for session")
		return false
	}

	now := time.Now().UTC()
	if err := repo.MarkCallStarted(ctx, h.DB, p.SessionID, now); err != nil {
		log.Error().Err(err).Str("session_id", p.SessionID).Msg("call start write failed")
		c.replyError(evCallError, "call could not be answered")
		return false
	}
	cs.Status = domain.CallActive
	cs.StartedAt = now
	h.Calls.Put(cs)

	data := map[string]any{"session_id": p.SessionID}
	h.SendToUser(cs.CallerID, evCallAnswered, data)
	h.SendToUser(cs.CalleeID, evCallAnswered, data)
	return true
}

func (h *Hub) handleRejectCall(ctx context.Context, c *Client, raw json.RawMessage) bool {
	var p callPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.replyError(evCallError, "invalid call payload")
		return false
	}
	cs, ok := h.Calls.Get(p.SessionID)
	if !ok || cs.Status != domain.CallRinging {
		c.replyError(evCallError, "no ringing call for session")
		return false
	}

	if err := repo.UpdateCallStatus(ctx, h.DB, p.SessionID, domain.CallRejected); err != nil {
		log.Error().Err(err).Str("session_id", p.SessionID).Msg("call reject write failed")
		c.replyError(evCallError, "call could not be rejected")
		return false
	}
	if h.Calls.Remove(p.SessionID) {
		callsActive.Dec()
	}

	data := map[string]any{"session_id": p.SessionID}
	h.SendToUser(cs.CallerID, evCallRejected, data)
	h.SendToUser(cs.CalleeID, evCallRejected, data)
	return true
}

func (h *Hub) handleEndCall(ctx context.Context, c *Client, raw json.RawMessage) bool {
	var p callPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.SessionID == "" {
		c.replyError(evCallError, "invalid call payload")
		return false
	}
	cs, ok := h.Calls.Get(p.SessionID)
	if !ok {
		c.replyError(evCallError, "no call for session")
		return false
	}

	now := time.Now().UTC()
	data := map[string]any{"session_id": p.SessionID}

	// Billing applies only to answered calls; a call ended while still
	// ringing completes with no billing fields.
	var minutes int
	var amount float64
	if cs.Status == domain.CallActive {
		minutes = BillableMinutes(cs.StartedAt, now)
		amount = Round2(float64(minutes) * cs.RatePerMinute)
		data["duration_minutes"] = minutes
		data["total_amount"] = amount
	}
	if err := repo.FinalizeCall(ctx, h.DB, p.SessionID, now, minutes, amount); err != nil {
		log.Error().Err(err).Str("session_id", p.SessionID).Msg("call finalize failed")
		c.replyError(evCallError, "call could not be ended")
		return false
	}
	if h.Calls.Remove(p.SessionID) {
		callsActive.Dec()
	}

	h.SendToUser(cs.CallerID, evCallEnded, data)
	h.SendToUser(cs.CalleeID, evCallEnded, data)
	return true
}

// signalPayload is the WebRTC relay frame; the payload is opaque to the hub.
type signalPayload struct {
	SessionID    string          `json:"session_id"`
	TargetUserID string          `json:"target_user_id"`
	Payload      json.RawMessage `json:"payload"`
}

// handleSignal relays a WebRTC frame verbatim to the target user's room. The
// hub does not inspect the payload; membership is trusted per the signaling
// contract.
func (h *Hub) handleSignal(c *Client, event string, raw json.RawMessage) bool {
	var p signalPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.TargetUserID == "" {
		c.replyError(evCallError, "invalid signaling payload")
		return false
	}
	h.SendToUser(p.TargetUserID, event, map[string]any{
		"session_id":   p.SessionID,
		"from_user_id": c.userID,
		"payload":      p.Payload,
	})
	return true
}

// pushEvent dispatches the catalog notification for a hub-originated event.
// Failures are logged only; socket delivery has already happened.
func (h *Hub) pushEvent(ctx context.Context, userID, event string, p services.Payload) {
	if h.Notifier == nil {
		return
	}
	d, err := services.Build(event, p)
	if err != nil {
		log.Warn().Err(err).Str("event", event).Msg("push draft build failed")
		return
	}
	if _, err := h.Notifier.SendToUserID(ctx, userID, d); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Str("event", event).Msg("push dispatch failed")
	}
}

// BillableMinutes implements the revenue rule: duration rounds up to the
// next full minute.
func BillableMinutes(start, end time.Time) int {
	secs := end.Sub(start).Seconds()
	if secs <= 0 {
		return 0
	}
	return int(math.Ceil(secs / 60))
}

// Round2 rounds a monetary amount to two decimals.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}
