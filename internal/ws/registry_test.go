package ws

import (
	"context"
	"testing"
	"time"

	"github.com/astroveda/go-consult-backend/internal/domain"
)

func TestLocalPresence(t *testing.T) {
	p := NewLocalPresence()
	ctx := context.Background()

	on, err := p.IsOnline(ctx, "u1")
	if err != nil || on {
		t.Fatalf("fresh registry must report offline, got on=%v err=%v", on, err)
	}

	if err := p.Set(ctx, "u1", domain.UserTypeCustomer); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if on, _ := p.IsOnline(ctx, "u1"); !on {
		t.Fatalf("u1 should be online after Set")
	}
	if on, _ := p.IsOnline(ctx, "u2"); on {
		t.Fatalf("u2 was never set")
	}

	// Local entries do not expire; refresh is a harmless no-op.
	if err := p.Refresh(ctx, "u1"); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if on, _ := p.IsOnline(ctx, "u1"); !on {
		t.Fatalf("refresh must not evict the entry")
	}

	if err := p.Remove(ctx, "u1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if on, _ := p.IsOnline(ctx, "u1"); on {
		t.Fatalf("u1 should be offline after Remove")
	}
}

func TestLocalCalls(t *testing.T) {
	r := NewLocalCalls()

	if _, ok := r.Get("s1"); ok {
		t.Fatalf("fresh registry must be empty")
	}
	if r.Remove("s1") {
		t.Fatalf("removing an absent session must report false")
	}

	cs := CallState{
		SessionID:     "s1",
		CallerID:      "cust",
		CalleeID:      "astro",
		CallType:      "audio",
		Status:        domain.CallRinging,
		RatePerMinute: 12.5,
		InitiatedAt:   time.Now().UTC(),
	}
	r.Put(cs)

	got, ok := r.Get("s1")
	if !ok || got.CalleeID != "astro" || got.Status != domain.CallRinging {
		t.Fatalf("unexpected state: %+v ok=%v", got, ok)
	}

	// Put replaces wholesale.
	got.Status = domain.CallActive
	r.Put(got)
	if again, _ := r.Get("s1"); again.Status != domain.CallActive {
		t.Fatalf("Put must replace the stored state")
	}

	r.Put(CallState{SessionID: "s2", Status: domain.CallRinging})
	if snap := r.Snapshot(); len(snap) != 2 {
		t.Fatalf("expected 2 in-flight calls, got %d", len(snap))
	}

	if !r.Remove("s1") {
		t.Fatalf("removing a present session must report true")
	}
	if _, ok := r.Get("s1"); ok {
		t.Fatalf("s1 should be gone")
	}
}
