package handlers

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/astroveda/go-consult-backend/internal/services"
)

func TestFireEvent_UnknownEvent(t *testing.T) {
	r := newHandlerRouter(New(&fakeDispatch{}, &fakeTrigger{}))

	w := doJSON(t, r, http.MethodPost, "/events/made_up_event", `{"user_id":"u1"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != ErrCodeUnknownEvent {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestFireEvent_TargetValidation(t *testing.T) {
	r := newHandlerRouter(New(&fakeDispatch{}, &fakeTrigger{}))

	// Neither target form.
	w := doJSON(t, r, http.MethodPost, "/events/payment_success", `{"payload":{"amount":"1"}}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("no target: expected 400, got %d", w.Code)
	}

	// Both target forms.
	w = doJSON(t, r, http.MethodPost, "/events/payment_success",
		`{"user_id":"u1","user_ids":["u2"],"payload":{"amount":"1"}}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("both targets: expected 400, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["message"] != "exactly one of user_id or user_ids is required" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
}

func TestFireEvent_SingleTarget(t *testing.T) {
	trg := &fakeTrigger{delivered: true}
	r := newHandlerRouter(New(&fakeDispatch{}, trg))

	w := doJSON(t, r, http.MethodPost, "/events/payment_success",
		`{"user_id":"u1","payload":{"amount":"499.00"}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["event"] != "payment_success" || body["targets"] != float64(1) || body["delivered"] != float64(1) {
		t.Fatalf("unexpected body: %v", body)
	}
	if trg.gotEvent != "payment_success" || trg.gotUserID != "u1" {
		t.Fatalf("trigger received %q/%q", trg.gotEvent, trg.gotUserID)
	}
}

func TestFireEvent_ErrorMapping(t *testing.T) {
	r := newHandlerRouter(New(&fakeDispatch{}, &fakeTrigger{err: services.ErrUserNotFound}))
	w := doJSON(t, r, http.MethodPost, "/events/payment_success",
		`{"user_id":"ghost","payload":{"amount":"1"}}`, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown user: expected 404, got %d", w.Code)
	}

	missing := fmt.Errorf("event payment_success: %w: amount", services.ErrMissingField)
	r = newHandlerRouter(New(&fakeDispatch{}, &fakeTrigger{err: missing}))
	w = doJSON(t, r, http.MethodPost, "/events/payment_success", `{"user_id":"u1"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing field: expected 400, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != ErrCodeBadRequest {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestFireEvent_BulkTargets(t *testing.T) {
	trg := &fakeTrigger{bulkN: 2}
	r := newHandlerRouter(New(&fakeDispatch{}, trg))

	w := doJSON(t, r, http.MethodPost, "/events/promotional",
		`{"user_ids":["a","b","c"],"payload":{"title":"T","body":"B"}}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["targets"] != float64(3) || body["delivered"] != float64(2) {
		t.Fatalf("unexpected body: %v", body)
	}
	if len(trg.gotIDs) != 3 {
		t.Fatalf("expected 3 forwarded targets, got %v", trg.gotIDs)
	}

	missing := fmt.Errorf("event promotional: %w: title", services.ErrMissingField)
	r = newHandlerRouter(New(&fakeDispatch{}, &fakeTrigger{bulkErr: missing}))
	w = doJSON(t, r, http.MethodPost, "/events/promotional", `{"user_ids":["a"]}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bulk missing field: expected 400, got %d", w.Code)
	}
}
