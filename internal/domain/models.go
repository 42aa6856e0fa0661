// Package domain defines the persistence models for users, consultation
// sessions, chat messages, notifications, and rate-limit records. These types
// are mapped with GORM and form the core data layer of the consultation
// backend.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// User represents a platform account (customer, astrologer, or
// administrator). The dispatch service reads push token, email address, and
// notification preferences from here; the realtime hub maintains the online
// flag as a side effect of connect/disconnect.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name used in notification copy.
//   - UserType: customer|astrologer|administrator.
//   - SessionToken: opaque token issued at HTTP login, verified again at
//     socket authentication time.
//   - PushToken / Email: optional delivery addresses; empty means the
//     corresponding channel is skipped, not an error.
//   - RatePerMinute: astrologer billing rate applied on call hangup.
//   - IsOnline: persisted presence side effect (not the source of truth for
//     routing, which is the in-process registry).
//   - UnreadCount: pending chat messages addressed to this user.
type User struct {
	ID            string    `json:"id"              gorm:"type:char(36);primaryKey"`
	Name          string    `json:"name"            gorm:"type:varchar(128);not null"`
	UserType      UserType  `json:"user_type"       gorm:"type:varchar(16);not null;index"`
	SessionToken  string    `json:"-"               gorm:"type:varchar(128);index"`
	PushToken     string    `json:"-"               gorm:"type:varchar(512)"`
	Email         string    `json:"email,omitempty" gorm:"type:varchar(255)"`
	RatePerMinute float64   `json:"rate_per_minute"`
	IsOnline      bool      `json:"is_online"       gorm:"not null;default:false"`
	UnreadCount   int64     `json:"unread_count"    gorm:"not null;default:0"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	// Preferences is the optional per-user notification preference row.
	// Absence means "all enabled".
	Preferences *NotificationPreference `json:"preferences,omitempty" gorm:"foreignKey:UserID;references:ID"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// NotificationPreference holds the per-user channel and category opt-outs
// consulted by the dispatch service. A missing row is equivalent to a row
// with every flag true.
type NotificationPreference struct {
	UserID       string    `json:"user_id"     gorm:"type:char(36);primaryKey"`
	PushEnabled  bool      `json:"push_enabled"`
	EmailEnabled bool      `json:"email_enabled"`
	Chat         bool      `json:"chat"`
	Call         bool      `json:"call"`
	Payment      bool      `json:"payment"`
	Order        bool      `json:"order"`
	Promotional  bool      `json:"promotional"`
	System       bool      `json:"system"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for NotificationPreference.
func (NotificationPreference) TableName() string { return "notification_preferences" }

// DefaultPreferences returns the implicit all-enabled preference set used
// when a user has no stored row.
func DefaultPreferences(userID string) NotificationPreference {
	return NotificationPreference{
		UserID:       userID,
		PushEnabled:  true,
		EmailEnabled: true,
		Chat:         true,
		Call:         true,
		Payment:      true,
		Order:        true,
		Promotional:  true,
		System:       true,
	}
}

// CategoryEnabled reports whether notifications of the given category are
// allowed by this preference set. Unknown categories are permitted.
func (p NotificationPreference) CategoryEnabled(c Category) bool {
	switch c {
	case CategoryChat:
		return p.Chat
	case CategoryCall:
		return p.Call
	case CategoryPayment:
		return p.Payment
	case CategoryOrder:
		return p.Order
	case CategoryPromotional:
		return p.Promotional
	case CategorySystem:
		return p.System
	}
	return true
}

// Notification is the persisted audit record of a dispatch attempt. It is
// created with DeliveryStatus "pending" before any channel is tried
// (store-then-send) and never deleted; "read" is a soft mutation by the
// owning user or an administrator.
//
// Field names and enum values are consumed by external dashboards and must
// match exactly.
type Notification struct {
	ID             string           `json:"id"               gorm:"type:char(36);primaryKey"`
	UserID         string           `json:"user_id"          gorm:"type:char(36);not null;index:idx_user_notifications,priority:1"`
	UserType       UserType         `json:"user_type"        gorm:"type:varchar(16);not null"`
	Type           NotificationType `json:"type"             gorm:"type:varchar(32);not null;index"`
	Title          string           `json:"title"            gorm:"type:varchar(255);not null"`
	Body           string           `json:"body"             gorm:"type:text;not null"`
	Data           string           `json:"-"                gorm:"type:text"`
	ImageURL       string           `json:"image_url,omitempty"  gorm:"type:varchar(512)"`
	ActionURL      string           `json:"action_url,omitempty" gorm:"type:varchar(512)"`
	Priority       Priority         `json:"priority"         gorm:"type:varchar(8);not null;default:'normal'"`
	Channels       string           `json:"-"                gorm:"type:varchar(64);not null"`
	IsRead         bool             `json:"is_read"          gorm:"not null;default:false"`
	DeliveryStatus DeliveryStatus   `json:"delivery_status"  gorm:"type:varchar(10);not null;default:'pending';index"`
	ScheduledAt    *time.Time       `json:"scheduled_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"       gorm:"index:idx_user_notifications,priority:2"`
	UpdatedAt      time.Time        `json:"updated_at"`
	ReadAt         *time.Time       `json:"read_at,omitempty"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// SetData serializes the opaque key-value payload into the Data column.
func (n *Notification) SetData(data map[string]string) error {
	if len(data) == 0 {
		n.Data = ""
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	n.Data = string(b)
	return nil
}

// DataMap deserializes the opaque payload. An empty column yields a nil map.
func (n *Notification) DataMap() (map[string]string, error) {
	if n.Data == "" {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal([]byte(n.Data), &m); err != nil {
		return nil, err
	}
	return m, nil
}

// SetChannels stores the channel set as a comma-separated column value.
func (n *Notification) SetChannels(chs []Channel) {
	parts := make([]string, 0, len(chs))
	for _, ch := range chs {
		parts = append(parts, string(ch))
	}
	n.Channels = strings.Join(parts, ",")
}

// ChannelList parses the stored channel set. An empty column yields the
// default channel set.
func (n *Notification) ChannelList() []Channel {
	if strings.TrimSpace(n.Channels) == "" {
		return DefaultChannels()
	}
	parts := strings.Split(n.Channels, ",")
	out := make([]Channel, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, Channel(t))
		}
	}
	return out
}

// Session represents a consultation between a customer and an astrologer.
// The call-related columns mirror the in-memory call session so billing
// survives process restarts once a call has been finalized.
type Session struct {
	ID              string     `json:"id"               gorm:"type:char(36);primaryKey"`
	UserID          string     `json:"user_id"          gorm:"type:char(36);not null;index"`
	AstrologerID    string     `json:"astrologer_id"    gorm:"type:char(36);not null;index"`
	SessionType     string     `json:"session_type"     gorm:"type:varchar(8);not null;check:session_type IN ('chat','call','video')"`
	CallStatus      CallStatus `json:"call_status,omitempty" gorm:"type:varchar(10)"`
	RatePerMinute   float64    `json:"rate_per_minute"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalAmount     float64    `json:"total_amount"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Session.
func (Session) TableName() string { return "sessions" }

// OtherParticipant returns the participant that is not id. The second return
// is false when id is not part of the session at all.
func (s *Session) OtherParticipant(id string) (string, bool) {
	switch id {
	case s.UserID:
		return s.AstrologerID, true
	case s.AstrologerID:
		return s.UserID, true
	}
	return "", false
}

// Message represents a single chat message within a session. Messages are
// relayed over the socket and additionally pushed to the receiver so that
// delivery does not depend on the receiver's socket being connected.
type Message struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	SessionID   string    `json:"session_id"   gorm:"type:char(36);not null;index:idx_session_msgs,priority:1"`
	SenderID    string    `json:"sender_id"    gorm:"type:char(36);not null"`
	SenderName  string    `json:"sender_name"  gorm:"type:varchar(128);not null"`
	SenderType  UserType  `json:"sender_type"  gorm:"type:varchar(16);not null"`
	MessageType string    `json:"message_type" gorm:"type:varchar(8);not null;default:'text';check:message_type IN ('text','image')"`
	Content     string    `json:"content"      gorm:"type:text"`
	ImageURL    string    `json:"image_url,omitempty" gorm:"type:varchar(512)"`
	IsRead      bool      `json:"is_read"      gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at"   gorm:"index:idx_session_msgs,priority:2"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// RateLimitRecord is the persisted fixed-window counter for one limiter key
// (identifier plus client fingerprint). Timestamps are unix milliseconds so
// the increment can be a single portable SQL statement.
//
// Invariant: at most one record per key; the window resets wholesale when
// now - WindowStartMs exceeds the configured window.
type RateLimitRecord struct {
	Key               string `gorm:"type:varchar(255);primaryKey;column:key"`
	Count             int    `gorm:"not null;default:0"`
	WindowStartMs     int64  `gorm:"not null;index"`
	LastRequestMs     int64  `gorm:"not null"`
	Violations        int    `gorm:"not null;default:0"`
	ViolationsStartMs int64  `gorm:"not null;default:0"`
}

// TableName returns the database table name for RateLimitRecord.
func (RateLimitRecord) TableName() string { return "rate_limit_records" }
