// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the persisted
// Notification audit records.
//
// Functions:
//
//   - CreateNotification(ctx, db, n) -> error
//     Inserts the store-first record with DeliveryStatus "pending".
//
//   - UpdateDeliveryStatus(ctx, db, id, status) -> error
//     Finalizes a dispatch attempt, addressed by the record ID returned at
//     creation time (never by "latest pending of this type", which is racy
//     when the same type is sent rapidly to one user).
//
//   - MarkNotificationRead(ctx, db, id, userID, now) -> (bool, error)
//     Idempotent read-marking: the first call sets is_read and read_at, a
//     repeat call is a no-op (returns false) and preserves the original
//     read_at. A missing record yields ErrNotFound.
//
//   - CountNotifications / ListNotificationsPage
//     Pagination over a user's notification history, newest first.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/astroveda/go-consult-backend/internal/domain"
)

// CreateNotification inserts the audit record for a dispatch attempt. The ID
// is generated here when absent and the status defaults to pending.
func CreateNotification(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.DeliveryStatus == "" {
		n.DeliveryStatus = domain.DeliveryPending
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityNormal
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(n).Error
}

// UpdateDeliveryStatus sets the delivery outcome for a specific record.
// Returns ErrNotFound when the record does not exist.
func UpdateDeliveryStatus(ctx context.Context, db *gorm.DB, id string, status domain.DeliveryStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ?", id).
		Update("delivery_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkNotificationRead marks a notification as read on behalf of its owner.
// The update is conditional on is_read = 0, which makes repeat calls no-ops
// that keep the first read_at. It returns true when this call performed the
// transition, false when the record was already read.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, id, userID string, now time.Time) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND user_id = ? AND is_read = ?", id, userID, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Nothing updated: either already read (fine) or missing (error).
	var count int64
	if err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count == 0 {
		return false, gorm.ErrRecordNotFound
	}
	return false, nil
}

// CountNotifications returns the total notification rows for a user.
func CountNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

// CountUnreadNotifications returns the number of unread rows for a user.
func CountUnreadNotifications(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&total).Error
	return total, err
}

// ListNotificationsPage returns a page of a user's notifications, newest
// first (CreatedAt DESC, ID DESC for a deterministic tiebreak).
func ListNotificationsPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// GetNotification fetches a single record by ID.
func GetNotification(ctx context.Context, db *gorm.DB, id string) (*domain.Notification, error) {
	var n domain.Notification
	if err := db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}
