// Package services – TriggerService
//
// This file implements the catalog of business events that produce
// notifications. Each catalog entry declares the payload fields it requires
// and builds the notification draft (copy, priority, channels, action URL)
// from the payload. Call sites across the platform fire events by name and
// stay ignorant of notification copy and channel policy.
package services

import (
	"context"
	"fmt"

	"github.com/astroveda/go-consult-backend/internal/domain"
)

// Payload is the opaque key-value input of a trigger event. Required keys are
// event-specific and validated against the catalog entry.
type Payload map[string]string

// trigger is one catalog entry: the payload keys it requires (beyond user_id)
// and the draft builder.
type trigger struct {
	requires []string
	build    func(p Payload) Draft
}

// catalog maps event names to their triggers. Event names equal the
// notification type strings so mobile clients can switch on a single enum.
var catalog = map[string]trigger{
	string(domain.TypeChatMessage): {
		requires: []string{"sender_name"},
		build: func(p Payload) Draft {
			return Draft{
				Type:     domain.TypeChatMessage,
				Title:    p["sender_name"],
				Body:     messagePreview(p),
				Data:     pick(p, "session_id", "sender_id", "message_id"),
				Priority: domain.PriorityHigh,
				Channels: []domain.Channel{domain.ChannelPush},
			}
		},
	},
	string(domain.TypeSessionStarted): {
		requires: []string{"peer_name"},
		build: func(p Payload) Draft {
			return Draft{
				Type:     domain.TypeSessionStarted,
				Title:    "Consultation started",
				Body:     fmt.Sprintf("Your consultation with %s has started.", p["peer_name"]),
				Data:     pick(p, "session_id"),
				Priority: domain.PriorityHigh,
				Channels: []domain.Channel{domain.ChannelPush, domain.ChannelInApp},
			}
		},
	},
	string(domain.TypeSessionEnded): {
		requires: []string{"peer_name"},
		build: func(p Payload) Draft {
			return Draft{
				Type:     domain.TypeSessionEnded,
				Title:    "Consultation ended",
				Body:     fmt.Sprintf("Your consultation with %s has ended.", p["peer_name"]),
				Data:     pick(p, "session_id", "duration_minutes", "total_amount"),
				Channels: []domain.Channel{domain.ChannelPush, domain.ChannelInApp},
			}
		},
	},
	string(domain.TypeCallRequest): {
		requires: []string{"caller_name"},
		build: func(p Payload) Draft {
			return Draft{
				Type:     domain.TypeCallRequest,
				Title:    "Incoming call",
				Body:     fmt.Sprintf("%s is calling you", p["caller_name"]),
				Data:     pick(p, "session_id", "caller_id", "call_type"),
				Priority: domain.PriorityUrgent,
				Channels: []domain.Channel{domain.ChannelPush},
			}
		},
	},
	string(domain.TypeCallAccepted): {
		requires: []string{"peer_name"},
		build: func(p Payload) Draft {
			return Draft{
				Type:     domain.TypeCallAccepted,
				Title:    "Call accepted",
				Body:     fmt.Sprintf("%s accepted your call.", p["peer_name"]),
				Data:     pick(p, "session_id"),
				Priority: domain.PriorityHigh,
				Channels: []domain.Channel{domain.ChannelPush},
			}
		},
	},
	string(domain.TypeCallRejected): {
		requires: []string{"peer_name"},
		build: func(p Payload) Draft {
			return Draft{
				Type:     domain.TypeCallRejected,
				Title:    "Call declined",
				Body:     fmt.Sprintf("%s is unavailable right now. Please try again later.", p["peer_name"]),
				Data:     pick(p, "session_id"),
				Priority: domain.PriorityHigh,
				Channels: []domain.Channel{domain.ChannelPush, domain.ChannelInApp},
			}
		},
	},
	string(domain.TypePaymentSuccess): {
		requires: []string{"amount"},
		build: func(p Payload) Draft {
			return Draft{
				Type:     domain.TypePaymentSuccess,
				Title:    "Payment successful",
				Body:     fmt.Sprintf("Your payment of ₹%s was successful.", p["amount"]),
				Data:     pick(p, "amount", "payment_id", "order_id"),
				Priority: domain.PriorityHigh,
			}
		},
	},
	string(domain.TypePaymentFailed): {
		requires: []string{"amount"},
		build: func(p Payload) Draft {
			return Draft{
				Type:     domain.TypePaymentFailed,
				Title:    "Payment failed",
				Body:     fmt.Sprintf("Your payment of ₹%s could not be processed. Any deducted amount will be refunded.", p["amount"]),
				Data:     pick(p, "amount", "payment_id", "reason"),
				Priority: domain.PriorityHigh,
			}
		},
	},
	string(domain.TypeWalletRecharged): {
		requires: []string{"amount"},
		build: func(p Payload) Draft {
			return Draft{
				Type:  domain.TypeWalletRecharged,
				Title: "Wallet recharged",
				Body:  fmt.Sprintf("₹%s has been added to your wallet.", p["amount"]),
				Data:  pick(p, "amount", "balance"),
			}
		},
	},
	string(domain.TypeWithdrawalProcessed): {
		requires: []string{"amount"},
		build: func(p Payload) Draft {
			return Draft{
				Type:  domain.TypeWithdrawalProcessed,
				Title: "Withdrawal processed",
				Body:  fmt.Sprintf("Your withdrawal of ₹%s has been processed and will reflect in your account shortly.", p["amount"]),
				Data:  pick(p, "amount", "withdrawal_id"),
			}
		},
	},
	string(domain.TypeOrderPlaced): {
		requires: []string{"order_id"},
		build: func(p Payload) Draft {
			return Draft{
				Type:      domain.TypeOrderPlaced,
				Title:     "Order placed",
				Body:      fmt.Sprintf("Your order #%s has been placed successfully.", p["order_id"]),
				Data:      pick(p, "order_id"),
				ActionURL: p["action_url"],
			}
		},
	},
	string(domain.TypeOrderShipped): {
		requires: []string{"order_id"},
		build: func(p Payload) Draft {
			return Draft{
				Type:      domain.TypeOrderShipped,
				Title:     "Order shipped",
				Body:      fmt.Sprintf("Your order #%s is on its way.", p["order_id"]),
				Data:      pick(p, "order_id", "tracking_id"),
				ActionURL: p["action_url"],
			}
		},
	},
	string(domain.TypeOrderDelivered): {
		requires: []string{"order_id"},
		build: func(p Payload) Draft {
			return Draft{
				Type:      domain.TypeOrderDelivered,
				Title:     "Order delivered",
				Body:      fmt.Sprintf("Your order #%s has been delivered.", p["order_id"]),
				Data:      pick(p, "order_id"),
				ActionURL: p["action_url"],
			}
		},
	},
	string(domain.TypeAstrologerApproved): {
		build: func(p Payload) Draft {
			return Draft{
				Type:     domain.TypeAstrologerApproved,
				Title:    "Profile approved",
				Body:     "Congratulations! Your astrologer profile has been approved. You can now go online and start taking consultations.",
				Priority: domain.PriorityHigh,
			}
		},
	},
	string(domain.TypeAstrologerRejected): {
		build: func(p Payload) Draft {
			return Draft{
				Type:  domain.TypeAstrologerRejected,
				Title: "Profile update",
				Body:  "Your astrologer profile could not be approved at this time. Please review your details and reapply.",
				Data:  pick(p, "reason"),
			}
		},
	},
	string(domain.TypeSystemMaintenance): {
		requires: []string{"body"},
		build: func(p Payload) Draft {
			return Draft{
				Type:     domain.TypeSystemMaintenance,
				Title:    orDefault(p["title"], "Scheduled maintenance"),
				Body:     p["body"],
				Data:     pick(p, "starts_at", "ends_at"),
				Channels: []domain.Channel{domain.ChannelPush, domain.ChannelInApp},
			}
		},
	},
	string(domain.TypePromotional): {
		requires: []string{"title", "body"},
		build: func(p Payload) Draft {
			return Draft{
				Type:      domain.TypePromotional,
				Title:     p["title"],
				Body:      p["body"],
				ImageURL:  p["image_url"],
				ActionURL: p["action_url"],
				Data:      pick(p, "campaign_id"),
				Priority:  domain.PriorityLow,
			}
		},
	},
}

// TriggerService resolves event names to notification drafts and dispatches
// them through the NotificationService.
type TriggerService struct {
	Notifier *NotificationService
}

// NewTriggerService constructs a TriggerService over the given dispatcher.
func NewTriggerService(n *NotificationService) *TriggerService {
	return &TriggerService{Notifier: n}
}

// Known reports whether event is in the catalog.
func Known(event string) bool {
	_, ok := catalog[event]
	return ok
}

// Build validates the payload against the catalog entry for event and returns
// the notification draft. Returns ErrUnknownEvent or ErrMissingField.
func Build(event string, p Payload) (Draft, error) {
	t, ok := catalog[event]
	if !ok {
		return Draft{}, fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	for _, k := range t.requires {
		if p[k] == "" {
			return Draft{}, fmt.Errorf("%w: %s requires %q", ErrMissingField, event, k)
		}
	}
	return t.build(p), nil
}

// Fire builds the draft for event and dispatches it to userID. The boolean
// mirrors SendToUser: true when at least one channel succeeded.
func (t *TriggerService) Fire(ctx context.Context, event, userID string, p Payload) (bool, error) {
	d, err := Build(event, p)
	if err != nil {
		return false, err
	}
	return t.Notifier.SendToUserID(ctx, userID, d)
}

// FireBulk builds the draft for event once and dispatches it to every user in
// userIDs, returning the delivered count.
func (t *TriggerService) FireBulk(ctx context.Context, event string, userIDs []string, p Payload) (int, error) {
	d, err := Build(event, p)
	if err != nil {
		return 0, err
	}
	return t.Notifier.SendBulkByIDs(ctx, userIDs, d), nil
}

// messagePreview renders the push body for a chat message: image messages get
// a fixed placeholder, text is clipped to keep the push compact.
func messagePreview(p Payload) string {
	if p["message_type"] == "image" {
		return "📷 Sent you an image"
	}
	const maxPreview = 120
	body := []rune(p["content"])
	if len(body) > maxPreview {
		return string(body[:maxPreview]) + "…"
	}
	return string(body)
}

// pick copies the named keys out of p, skipping absent ones.
func pick(p Payload, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if v := p[k]; v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
