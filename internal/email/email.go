// Package email implements the outbound transactional email client
// (SendGrid v3 mail/send wire format) and the HTML templates selected per
// notification type. Like the push client it is deliberately thin: one
// authenticated JSON POST with a bounded deadline, tracking enabled.
package email

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

// DefaultEndpoint is the provider's mail send URL.
const DefaultEndpoint = "https://api.sendgrid.com/v3/mail/send"

// DefaultTimeout bounds a single provider call.
const DefaultTimeout = 10 * time.Second

// Message is one transactional email.
type Message struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
}

// Client talks to the email provider. A nil or unconfigured client causes
// the email channel to be skipped upstream, never to error.
type Client struct {
	// Endpoint defaults to DefaultEndpoint; tests point it at httptest.
	Endpoint string
	// APIKey is the provider bearer credential.
	APIKey string
	// From / FromName identify the sender.
	From     string
	FromName string
	// HTTPClient defaults to a client with DefaultTimeout.
	HTTPClient *http.Client
}

// New constructs a Client with the default endpoint.
func New(apiKey, from, fromName string) *Client {
	return &Client{
		Endpoint:   DefaultEndpoint,
		APIKey:     apiKey,
		From:       from,
		FromName:   fromName,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Configured reports whether the client has everything needed to send.
func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.From) != ""
}

// wire types (SendGrid v3 shape)

type wireAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type wirePersonalization struct {
	To      []wireAddress `json:"to"`
	Subject string        `json:"subject"`
}

type wireContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type wireTrackingSetting struct {
	Enable bool `json:"enable"`
}

type wireTracking struct {
	ClickTracking wireTrackingSetting `json:"click_tracking"`
	OpenTracking  wireTrackingSetting `json:"open_tracking"`
}

type wireRequest struct {
	Personalizations []wirePersonalization `json:"personalizations"`
	From             wireAddress           `json:"from"`
	Content          []wireContent         `json:"content"`
	TrackingSettings wireTracking          `json:"tracking_settings"`
}

// BuildPayload renders the provider request body for msg. Exposed for tests.
func (c *Client) BuildPayload(msg Message) ([]byte, error) {
	if msg.To == "" {
		return nil, fmt.Errorf("email: missing recipient address")
	}
	content := make([]wireContent, 0, 2)
	if msg.TextBody != "" {
		content = append(content, wireContent{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HTMLBody != "" {
		content = append(content, wireContent{Type: "text/html", Value: msg.HTMLBody})
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("email: empty body")
	}
	req := wireRequest{
		Personalizations: []wirePersonalization{{
			To:      []wireAddress{{Email: msg.To, Name: msg.ToName}},
			Subject: msg.Subject,
		}},
		From:    wireAddress{Email: c.From, Name: c.FromName},
		Content: content,
		TrackingSettings: wireTracking{
			ClickTracking: wireTrackingSetting{Enable: true},
			OpenTracking:  wireTrackingSetting{Enable: true},
		},
	}
	return json.Marshal(req)
}

// Send posts one email to the provider. Non-2xx responses are returned as
// errors; callers treat any error as a failure of the email channel only.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if !c.Configured() {
		return fmt.Errorf("email: client not configured")
	}
	body, err := c.BuildPayload(msg)
	if err != nil {
		return err
	}

	endpoint := c.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
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
		return fmt.Errorf("email: provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}
