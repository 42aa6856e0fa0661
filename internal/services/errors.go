// Package services defines the business logic for notification dispatch,
// event triggers, and call billing. This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages, HTTP status codes, or socket error
// events should be performed at the handler layer.
package services

import "errors"

var (
	// ErrUserNotFound indicates that the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrNotificationNotFound indicates that the requested notification
	// record does not exist or is not owned by the current user.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrSessionNotFound indicates that the referenced consultation session
	// does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotParticipant is returned when a user acts on a session they are
	// not part of.
	ErrNotParticipant = errors.New("not a session participant")

	// ErrUnknownEvent is returned when a trigger event name is not in the
	// catalog.
	ErrUnknownEvent = errors.New("unknown event")

	// ErrMissingField is returned when a trigger payload lacks a required
	// key for its event type.
	ErrMissingField = errors.New("missing payload field")

	// ErrInvalidType is returned when a notification names a type outside
	// the closed enum.
	ErrInvalidType = errors.New("invalid notification type")
)
