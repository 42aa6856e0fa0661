// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for consultation
// sessions, including the call-billing finalization write.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/astroveda/go-consult-backend/internal/domain"
)

// CreateSession inserts a new consultation session between a customer and an
// astrologer. The billing rate is snapshotted onto the session so later rate
// changes do not affect calls already in flight.
func CreateSession(ctx context.Context, db *gorm.DB, userID, astrologerID, sessionType string, ratePerMinute float64) (*domain.Session, error) {
	s := &domain.Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		AstrologerID:  astrologerID,
		SessionType:   sessionType,
		RatePerMinute: ratePerMinute,
		CreatedAt:     time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(s).Error; err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession fetches a session by ID, or ErrNotFound.
func GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.Session, error) {
	var s domain.Session
	if err := db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateCallStatus persists a call state transition. Returns ErrNotFound
// when the session does not exist.
func UpdateCallStatus(ctx context.Context, db *gorm.DB, id string, status domain.CallStatus) error {
	res := db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Update("call_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkCallStarted records the answer time alongside the active status.
func MarkCallStarted(ctx context.Context, db *gorm.DB, id string, startedAt time.Time) error {
	return db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"call_status": domain.CallActive,
			"started_at":  startedAt,
		}).Error
}

// FinalizeCall writes the completed status together with duration and billed
// amount in a single update. Duration and amount are zero when the call was
// never answered.
func FinalizeCall(ctx context.Context, db *gorm.DB, id string, endedAt time.Time, durationMinutes int, totalAmount float64) error {
	return db.WithContext(ctx).
		Model(&domain.Session{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"call_status":      domain.CallCompleted,
			"ended_at":         endedAt,
			"duration_minutes": durationMinutes,
			"total_amount":     totalAmount,
		}).Error
}
