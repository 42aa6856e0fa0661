// Package push implements the outbound push-notification provider client
// (FCM HTTP v1 wire format). It is a thin, dependency-free HTTP client: the
// dispatch service decides whether a push should be sent; this package only
// builds the platform message and performs one authenticated JSON POST with
// a bounded deadline.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single provider call so a slow provider cannot
// stall the dispatch pipeline.
const DefaultTimeout = 10 * time.Second

// Priority levels accepted by Send. They mirror the notification record's
// priority enum and map onto Android notification priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// androidPriority maps the record priority to the platform value.
// Urgent is reserved for call alerts that must ring a backgrounded app.
func androidPriority(p string) string {
	switch p {
	case PriorityUrgent:
		return "PRIORITY_MAX"
	case PriorityHigh:
		return "PRIORITY_HIGH"
	case PriorityLow:
		return "PRIORITY_LOW"
	default:
		return "PRIORITY_DEFAULT"
	}
}

// ChannelFor returns the deterministic Android channel id for a notification
// category. Clients register matching channels so users can mute categories
// at the OS level.
func ChannelFor(category string) string {
	switch category {
	case "chat":
		return "chat_messages"
	case "call":
		return "call_alerts"
	case "payment":
		return "payment_updates"
	case "order":
		return "order_updates"
	case "promotional":
		return "promotions"
	default:
		return "default"
	}
}

// Message is one push to a single device token.
type Message struct {
	Token    string
	Title    string
	Body     string
	ImageURL string
	// Priority is one of the Priority* constants; empty means normal.
	Priority string
	// Category selects the Android channel id (see ChannelFor).
	Category string
	// Data is the opaque key-value payload delivered alongside the
	// notification.
	Data map[string]string
}

// Client talks to the push provider. A nil or unconfigured client causes the
// push channel to be skipped upstream, never to error.
type Client struct {
	// Endpoint is the full messages:send URL. Tests point this at a local
	// httptest server.
	Endpoint string
	// APIKey is the bearer credential for the endpoint.
	APIKey string
	// HTTPClient defaults to a client with DefaultTimeout.
	HTTPClient *http.Client
}

// New constructs a Client for the given endpoint and credential.
func New(endpoint, apiKey string) *Client {
	return &Client{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Configured reports whether the client has everything needed to send.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.APIKey) != ""
}

// wire types (FCM HTTP v1 shape)

type wireNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Image string `json:"image,omitempty"`
}

type wireAndroidNotification struct {
	ChannelID            string `json:"channel_id"`
	NotificationPriority string `json:"notification_priority"`
	Image                string `json:"image,omitempty"`
}

type wireAndroid struct {
	Priority     string                  `json:"priority"`
	Notification wireAndroidNotification `json:"notification"`
}

type wireMessage struct {
	Token        string            `json:"token"`
	Notification wireNotification  `json:"notification"`
	Android      wireAndroid       `json:"android"`
	Data         map[string]string `json:"data,omitempty"`
}

type wireRequest struct {
	Message wireMessage `json:"message"`
}

// BuildPayload renders the provider request body for msg. Exposed for tests
// that assert on the platform mapping without a network hop.
func BuildPayload(msg Message) ([]byte, error) {
	if msg.Token == "" {
		return nil, fmt.Errorf("push: missing device token")
	}
	req := wireRequest{
		Message: wireMessage{
			Token: msg.Token,
			Notification: wireNotification{
				Title: msg.Title,
				Body:  msg.Body,
				Image: msg.ImageURL,
			},
			Android: wireAndroid{
				Priority: strings.ToUpper(transportPriority(msg.Priority)),
				// transport priority is HIGH/NORMAL; channel importance below
				Notification: wireAndroidNotification{
					ChannelID:            ChannelFor(msg.Category),
					NotificationPriority: androidPriority(msg.Priority),
					Image:                msg.ImageURL,
				},
			},
			Data: msg.Data,
		},
	}
	return json.Marshal(req)
}

// transportPriority picks the delivery priority: high-urgency notifications
// must wake a backgrounded app.
func transportPriority(p string) string {
	if p == PriorityHigh || p == PriorityUrgent {
		return "high"
	}
	return "normal"
}

// Send posts one message to the provider. Non-2xx responses are returned as
// errors; callers treat any error as a failure of the push channel only.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if !c.Configured() {
		return fmt.Errorf("push: client not configured")
	}
	body, err := BuildPayload(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
