// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the User model
// and its notification preferences.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a user is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/astroveda/go-consult-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetUser fetches a user by ID with preferences preloaded, or ErrNotFound.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	err := db.WithContext(ctx).
		Preload("Preferences").
		Where("id = ?", id).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByToken fetches a user by ID only when the supplied session token
// matches the stored one. Used to verify socket authentication against the
// HTTP login that issued the token.
func GetUserByToken(ctx context.Context, db *gorm.DB, id, token string) (*domain.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	var u domain.User
	err := db.WithContext(ctx).
		Preload("Preferences").
		Where("id = ? AND session_token = ?", id, token).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SetOnline flips the persisted online flag for a user. A missing user is
// not an error here; presence updates are best-effort side effects.
func SetOnline(ctx context.Context, db *gorm.DB, id string, online bool) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("is_online", online).Error
}

// IncrementUnread adjusts a user's unread message counter using the storage
// layer's atomic partial update (no read-modify-write).
func IncrementUnread(ctx context.Context, db *gorm.DB, id string, delta int) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("unread_count", gorm.Expr("unread_count + ?", delta)).Error
}

// ResetUnread zeroes a user's unread message counter.
func ResetUnread(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Update("unread_count", 0).Error
}

// UpsertPreferences writes a user's notification preference row, replacing
// any existing one.
func UpsertPreferences(ctx context.Context, db *gorm.DB, p *domain.NotificationPreference) error {
	return db.WithContext(ctx).Save(p).Error
}
