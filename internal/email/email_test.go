package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestConfigured(t *testing.T) {
	var nilClient *Client
	if nilClient.Configured() {
		t.Fatalf("nil client must not be configured")
	}
	if New("", "from@x.in", "X").Configured() || New("key", "", "X").Configured() {
		t.Fatalf("missing key or sender must not be configured")
	}
	if !New("key", "from@x.in", "X").Configured() {
		t.Fatalf("complete client should be configured")
	}
}

func TestBuildPayload(t *testing.T) {
	c := New("key", "noreply@astroveda.in", "AstroVeda")

	if _, err := c.BuildPayload(Message{Subject: "S", TextBody: "x"}); err == nil {
		t.Fatalf("missing recipient must error")
	}
	if _, err := c.BuildPayload(Message{To: "a@b.in", Subject: "S"}); err == nil {
		t.Fatalf("empty body must error")
	}

	body, err := c.BuildPayload(Message{
		To: "asha@example.in", ToName: "Asha",
		Subject: "Payment received", TextBody: "plain", HTMLBody: "<p>rich</p>",
	})
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}

	var req struct {
		Personalizations []struct {
			To []struct {
				Email string `json:"email"`
				Name  string `json:"name"`
			} `json:"to"`
			Subject string `json:"subject"`
		} `json:"personalizations"`
		From struct {
			Email string `json:"email"`
		} `json:"from"`
		Content []struct {
			Type  string `json:"type"`
			Value string `json:"value"`
		} `json:"content"`
		TrackingSettings struct {
			OpenTracking struct {
				Enable bool `json:"enable"`
			} `json:"open_tracking"`
		} `json:"tracking_settings"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	p := req.Personalizations[0]
	if p.To[0].Email != "asha@example.in" || p.To[0].Name != "Asha" || p.Subject != "Payment received" {
		t.Fatalf("unexpected personalization: %+v", p)
	}
	if req.From.Email != "noreply@astroveda.in" {
		t.Fatalf("unexpected sender: %+v", req.From)
	}
	// Plain text must precede HTML per provider contract.
	if len(req.Content) != 2 || req.Content[0].Type != "text/plain" || req.Content[1].Type != "text/html" {
		t.Fatalf("unexpected content parts: %+v", req.Content)
	}
	if !req.TrackingSettings.OpenTracking.Enable {
		t.Fatalf("open tracking should be on")
	}
}

func TestSend(t *testing.T) {
	var gotAuth string
	status := http.StatusAccepted
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	c := New("secret", "noreply@astroveda.in", "AstroVeda")
	c.Endpoint = srv.URL
	msg := Message{To: "a@b.in", Subject: "S", TextBody: "x"}

	if err := c.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}

	status = http.StatusBadRequest
	if err := c.Send(context.Background(), msg); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected provider error with status, got %v", err)
	}
}

func TestRender(t *testing.T) {
	html, err := Render("payment_success", TemplateData{
		Name: "asha", Title: "Payment successful", Body: "Thanks!", Amount: "499.00",
		ActionURL: "https://app.example/receipt",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	for _, want := range []string{"Hi Asha", "₹499.00", "Payment successful", "View Receipt", "https://app.example/receipt"} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered email missing %q", want)
		}
	}

	// Unknown types fall back to the default template and label.
	html, err = Render("system_maintenance", TemplateData{Body: "Down 2-3am", ActionURL: "https://app.example"})
	if err != nil {
		t.Fatalf("Render fallback: %v", err)
	}
	if !strings.Contains(html, "Hi there") || !strings.Contains(html, "Open App") {
		t.Fatalf("fallback greeting or label missing: %s", html)
	}
	if !strings.Contains(html, "Notification") {
		t.Fatalf("empty title should default the heading")
	}

	// User copy is escaped.
	html, err = Render("promotional", TemplateData{Name: "x", Body: `<script>alert(1)</script>`})
	if err != nil {
		t.Fatalf("Render escape: %v", err)
	}
	if strings.Contains(html, "<script>") {
		t.Fatalf("body must be HTML-escaped")
	}
}
