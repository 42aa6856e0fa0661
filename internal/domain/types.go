// Package domain defines the persistence models and closed enumerations for
// users, consultation sessions, chat messages, notifications, and rate-limit
// records. These types are mapped with GORM and form the core data layer of
// the consultation backend.
//
// This file holds the enumeration types. Their string values are part of the
// external read surface (REST dashboards, mobile clients) and must remain
// stable.
package domain

// UserType identifies the role of a platform account.
type UserType string

const (
	UserTypeCustomer      UserType = "customer"
	UserTypeAstrologer    UserType = "astrologer"
	UserTypeAdministrator UserType = "administrator"
)

// Valid reports whether t is one of the known user types.
func (t UserType) Valid() bool {
	switch t {
	case UserTypeCustomer, UserTypeAstrologer, UserTypeAdministrator:
		return true
	}
	return false
}

// NotificationType is the closed enum of events that can produce a
// notification. New values may be appended; existing values must not change.
type NotificationType string

const (
	TypeChatMessage         NotificationType = "chat_message"
	TypeSessionStarted      NotificationType = "session_started"
	TypeSessionEnded        NotificationType = "session_ended"
	TypeCallRequest         NotificationType = "call_request"
	TypeCallAccepted        NotificationType = "call_accepted"
	TypeCallRejected        NotificationType = "call_rejected"
	TypePaymentSuccess      NotificationType = "payment_success"
	TypePaymentFailed       NotificationType = "payment_failed"
	TypeWalletRecharged     NotificationType = "wallet_recharged"
	TypeWithdrawalProcessed NotificationType = "withdrawal_processed"
	TypeOrderPlaced         NotificationType = "order_placed"
	TypeOrderShipped        NotificationType = "order_shipped"
	TypeOrderDelivered      NotificationType = "order_delivered"
	TypeAstrologerApproved  NotificationType = "astrologer_approved"
	TypeAstrologerRejected  NotificationType = "astrologer_rejected"
	TypeSystemMaintenance   NotificationType = "system_maintenance"
	TypePromotional         NotificationType = "promotional"
)

// Category groups notification types for preference gating and push channel
// routing.
type Category string

const (
	CategoryChat        Category = "chat"
	CategoryCall        Category = "call"
	CategoryPayment     Category = "payment"
	CategoryOrder       Category = "order"
	CategoryPromotional Category = "promotional"
	CategorySystem      Category = "system"
	CategoryDefault     Category = "default"
)

// typeCategories maps every known notification type to its preference
// category. Unmapped types fall back to CategoryDefault, which is always
// treated as enabled (permissive default, not a blocker).
var typeCategories = map[NotificationType]Category{
	TypeChatMessage:         CategoryChat,
	TypeSessionStarted:      CategoryChat,
	TypeSessionEnded:        CategoryChat,
	TypeCallRequest:         CategoryCall,
	TypeCallAccepted:        CategoryCall,
	TypeCallRejected:        CategoryCall,
	TypePaymentSuccess:      CategoryPayment,
	TypePaymentFailed:       CategoryPayment,
	TypeWalletRecharged:     CategoryPayment,
	TypeWithdrawalProcessed: CategoryPayment,
	TypeOrderPlaced:         CategoryOrder,
	TypeOrderShipped:        CategoryOrder,
	TypeOrderDelivered:      CategoryOrder,
	TypePromotional:         CategoryPromotional,
	TypeAstrologerApproved:  CategorySystem,
	TypeAstrologerRejected:  CategorySystem,
	TypeSystemMaintenance:   CategorySystem,
}

// Valid reports whether t is one of the known notification types.
func (t NotificationType) Valid() bool {
	_, ok := typeCategories[t]
	return ok
}

// Category returns the preference category of a notification type.
func (t NotificationType) Category() Category {
	if c, ok := typeCategories[t]; ok {
		return c
	}
	return CategoryDefault
}

// Priority is the urgency of a notification. It maps to provider-specific
// priority levels in the push channel.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// OrDefault returns PriorityNormal for an empty or unknown priority.
func (p Priority) OrDefault() Priority {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p
	}
	return PriorityNormal
}

// Channel is a delivery mechanism for a notification.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
)

// DefaultChannels is used when a notification does not name its channels.
func DefaultChannels() []Channel { return []Channel{ChannelPush, ChannelEmail} }

// DeliveryStatus tracks the outcome of a dispatch attempt for a stored
// notification record.
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// CallStatus is the state of a call within a consultation session.
//
// Transitions: ringing -> active -> completed, ringing -> rejected.
// Completed and rejected are terminal.
type CallStatus string

const (
	CallRinging   CallStatus = "ringing"
	CallActive    CallStatus = "active"
	CallCompleted CallStatus = "completed"
	CallRejected  CallStatus = "rejected"
)

// CanTransition reports whether a call may move from s to next.
func (s CallStatus) CanTransition(next CallStatus) bool {
	switch s {
	case CallRinging:
		return next == CallActive || next == CallRejected || next == CallCompleted
	case CallActive:
		return next == CallCompleted
	}
	return false
}
