// Package services – NotificationService
//
// This file implements the notification dispatch pipeline. Every dispatch is
// store-then-send: the audit record is persisted with status "pending" before
// any channel is attempted, so a crash mid-send leaves evidence rather than
// silence. Channels (push, email, in-app) then run concurrently; preference
// gating and missing delivery addresses cause a channel to be skipped, which
// is not a failure. The final delivery status is written back by the record
// ID captured at creation, and a dispatch counts as successful when at least
// one channel succeeded.
package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/astroveda/go-consult-backend/internal/domain"
	"github.com/astroveda/go-consult-backend/internal/email"
	"github.com/astroveda/go-consult-backend/internal/push"
	"github.com/astroveda/go-consult-backend/internal/repo"
)

// DefaultProviderTimeout bounds a single provider call during dispatch.
const DefaultProviderTimeout = 10 * time.Second

// defaultBulkConcurrency caps the number of in-flight dispatches during a
// bulk send so a large fan-out cannot exhaust provider connections.
const defaultBulkConcurrency = 16

// PushSender is the push provider contract required by NotificationService.
type PushSender interface {
	// Send delivers one push message; any error fails the push channel only.
	Send(ctx context.Context, msg push.Message) error
	// Configured reports whether the provider can be used at all.
	Configured() bool
}

// EmailSender is the email provider contract required by NotificationService.
type EmailSender interface {
	// Send delivers one email; any error fails the email channel only.
	Send(ctx context.Context, msg email.Message) error
	// Configured reports whether the provider can be used at all.
	Configured() bool
}

// Target is the denormalized recipient view the dispatcher needs: identity,
// delivery addresses, and resolved preferences. Preferences may be nil, which
// means the implicit all-enabled default.
type Target struct {
	UserID      string
	UserType    domain.UserType
	Name        string
	PushToken   string
	Email       string
	Preferences *domain.NotificationPreference
}

// TargetFromUser projects a loaded user row into a dispatch target.
func TargetFromUser(u *domain.User) Target {
	return Target{
		UserID:      u.ID,
		UserType:    u.UserType,
		Name:        u.Name,
		PushToken:   u.PushToken,
		Email:       u.Email,
		Preferences: u.Preferences,
	}
}

// Draft is the channel-independent content of a notification to be sent.
// Channels defaults to push+email when empty; Priority defaults to normal.
type Draft struct {
	Type      domain.NotificationType
	Title     string
	Body      string
	Data      map[string]string
	ImageURL  string
	ActionURL string
	Priority  domain.Priority
	Channels  []domain.Channel
}

// NotificationService coordinates the store-then-send dispatch pipeline.
type NotificationService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Push is the push provider; nil disables the push channel.
	Push PushSender
	// Email is the email provider; nil disables the email channel.
	Email EmailSender

	// ProviderTimeout bounds each provider call; zero means
	// DefaultProviderTimeout.
	ProviderTimeout time.Duration
	// BulkConcurrency caps in-flight dispatches in SendBulk; zero means
	// defaultBulkConcurrency.
	BulkConcurrency int
}

// NewNotificationService constructs a NotificationService with sane defaults.
func NewNotificationService(db *gorm.DB, p PushSender, e EmailSender) *NotificationService {
	return &NotificationService{
		DB:              db,
		Push:            p,
		Email:           e,
		ProviderTimeout: DefaultProviderTimeout,
		BulkConcurrency: defaultBulkConcurrency,
	}
}

// SendToUserID loads the user (with preferences) and dispatches to them.
// Returns ErrUserNotFound when the user does not exist.
func (s *NotificationService) SendToUserID(ctx context.Context, userID string, d Draft) (bool, error) {
	_, okSend, err := s.Dispatch(ctx, userID, d)
	return okSend, err
}

// Dispatch is SendToUserID plus the stored audit record, for callers that
// need the record ID (idempotent POST handlers).
func (s *NotificationService) Dispatch(ctx context.Context, userID string, d Draft) (*domain.Notification, bool, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, ErrUserNotFound
		}
		return nil, false, err
	}
	rec, okSend := s.dispatchToTarget(ctx, TargetFromUser(u), d)
	return rec, okSend, nil
}

// SendToUser runs the full dispatch pipeline for one recipient:
//
//  1. Persist the audit record with status "pending" (store-then-send).
//  2. Resolve preferences (missing row = all enabled).
//  3. Fan out to the requested channels concurrently. A channel that is
//     gated off, or whose delivery address is absent, is skipped — skipped
//     is not failed.
//  4. Write the final status back by record ID and report success when at
//     least one channel succeeded.
//
// Provider and storage errors never propagate to the caller; a dispatch can
// only "fail", not error, so triggers and socket handlers stay simple.
func (s *NotificationService) SendToUser(ctx context.Context, target Target, d Draft) bool {
	_, okSend := s.dispatchToTarget(ctx, target, d)
	return okSend
}

func (s *NotificationService) dispatchToTarget(ctx context.Context, target Target, d Draft) (*domain.Notification, bool) {
	rec := &domain.Notification{
		UserID:    target.UserID,
		UserType:  target.UserType,
		Type:      d.Type,
		Title:     d.Title,
		Body:      d.Body,
		ImageURL:  d.ImageURL,
		ActionURL: d.ActionURL,
		Priority:  d.Priority.OrDefault(),
	}
	if err := rec.SetData(d.Data); err != nil {
		log.Warn().Err(err).Str("user_id", target.UserID).Msg("notification data not serializable, dropping payload")
	}
	channels := d.Channels
	if len(channels) == 0 {
		channels = domain.DefaultChannels()
	}
	rec.SetChannels(channels)

	stored := true
	if err := repo.CreateNotification(ctx, s.DB, rec); err != nil {
		stored = false
		log.Error().Err(err).
			Str("user_id", target.UserID).
			Str("type", string(d.Type)).
			Msg("notification record insert failed")
	}

	prefs := domain.DefaultPreferences(target.UserID)
	if target.Preferences != nil {
		prefs = *target.Preferences
	}
	category := d.Type.Category()

	var (
		wg        sync.WaitGroup
		succeeded atomic.Bool
		attempted atomic.Bool
	)
	for _, ch := range channels {
		switch ch {
		case domain.ChannelPush:
			if !prefs.PushEnabled || !prefs.CategoryEnabled(category) {
				continue
			}
			if target.PushToken == "" || s.Push == nil || !s.Push.Configured() {
				continue
			}
			attempted.Store(true)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.sendPush(ctx, target, rec, d) {
					succeeded.Store(true)
				}
			}()

		case domain.ChannelEmail:
			if !prefs.EmailEnabled || !prefs.CategoryEnabled(category) {
				continue
			}
			if target.Email == "" || s.Email == nil || !s.Email.Configured() {
				continue
			}
			attempted.Store(true)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.sendEmail(ctx, target, d) {
					succeeded.Store(true)
				}
			}()

		case domain.ChannelInApp:
			// In-app delivery is the stored record itself.
			attempted.Store(true)
			if stored {
				succeeded.Store(true)
			}
		}
	}
	wg.Wait()

	ok := succeeded.Load()
	if stored {
		status := domain.DeliveryFailed
		if ok {
			status = domain.DeliveryDelivered
		}
		if err := repo.UpdateDeliveryStatus(ctx, s.DB, rec.ID, status); err != nil {
			log.Warn().Err(err).Str("notification_id", rec.ID).Msg("delivery status update failed")
		}
	}

	log.Debug().
		Str("user_id", target.UserID).
		Str("type", string(d.Type)).
		Bool("attempted", attempted.Load()).
		Bool("delivered", ok).
		Msg("notification dispatch finished")
	return rec, ok
}

func (s *NotificationService) sendPush(ctx context.Context, target Target, rec *domain.Notification, d Draft) bool {
	ctx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	defer cancel()

	data := make(map[string]string, len(d.Data)+3)
	for k, v := range d.Data {
		data[k] = v
	}
	data["type"] = string(d.Type)
	if rec.ID != "" {
		data["notification_id"] = rec.ID
	}
	if d.ActionURL != "" {
		data["action_url"] = d.ActionURL
	}

	err := s.Push.Send(ctx, push.Message{
		Token:    target.PushToken,
		Title:    d.Title,
		Body:     d.Body,
		ImageURL: d.ImageURL,
		Priority: string(d.Priority.OrDefault()),
		Category: string(d.Type.Category()),
		Data:     data,
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", target.UserID).Msg("push delivery failed")
		return false
	}
	return true
}

func (s *NotificationService) sendEmail(ctx context.Context, target Target, d Draft) bool {
	ctx, cancel := context.WithTimeout(ctx, s.providerTimeout())
	defer cancel()

	html, err := email.Render(string(d.Type), email.TemplateData{
		Name:      target.Name,
		Title:     d.Title,
		Body:      d.Body,
		ActionURL: d.ActionURL,
		Amount:    d.Data["amount"],
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", target.UserID).Msg("email template render failed")
		return false
	}

	err = s.Email.Send(ctx, email.Message{
		To:       target.Email,
		ToName:   target.Name,
		Subject:  d.Title,
		HTMLBody: html,
		TextBody: d.Body,
	})
	if err != nil {
		log.Warn().Err(err).Str("user_id", target.UserID).Msg("email delivery failed")
		return false
	}
	return true
}

// SendBulk dispatches the same draft to many recipients with bounded
// concurrency. Each recipient is fully isolated: one failure never aborts the
// rest. It returns the number of successful dispatches.
func (s *NotificationService) SendBulk(ctx context.Context, targets []Target, d Draft) int {
	if len(targets) == 0 {
		return 0
	}
	limit := s.BulkConcurrency
	if limit <= 0 {
		limit = defaultBulkConcurrency
	}

	var (
		wg        sync.WaitGroup
		delivered atomic.Int64
	)
	sem := make(chan struct{}, limit)
	for _, t := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(t Target) {
			defer wg.Done()
			defer func() { <-sem }()
			if s.SendToUser(ctx, t, d) {
				delivered.Add(1)
			}
		}(t)
	}
	wg.Wait()

	log.Info().
		Int("targets", len(targets)).
		Int64("delivered", delivered.Load()).
		Str("type", string(d.Type)).
		Msg("bulk dispatch finished")
	return int(delivered.Load())
}

// SendBulkByIDs loads each user row and dispatches to those that exist.
// Unknown IDs are skipped and do not count as failures.
func (s *NotificationService) SendBulkByIDs(ctx context.Context, userIDs []string, d Draft) int {
	targets := make([]Target, 0, len(userIDs))
	for _, id := range userIDs {
		u, err := repo.GetUser(ctx, s.DB, id)
		if err != nil {
			log.Warn().Err(err).Str("user_id", id).Msg("bulk target skipped")
			continue
		}
		targets = append(targets, TargetFromUser(u))
	}
	return s.SendBulk(ctx, targets, d)
}

// MarkRead marks a notification as read on behalf of its owner and returns
// the refreshed record. Repeat calls are no-ops that preserve the first
// read_at. Returns ErrNotificationNotFound when the record does not exist or
// belongs to another user.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error) {
	_, err := repo.MarkNotificationRead(ctx, s.DB, id, userID, time.Now().UTC())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	n, err := repo.GetNotification(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}
	return n, nil
}

// ListPage returns a page of a user's notifications, newest first, plus the
// total row count. It applies defaults for invalid page/pageSize.
func (s *NotificationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountNotifications(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Notification{}, 0, nil
	}

	items, err := repo.ListNotificationsPage(ctx, s.DB, userID, offset, pageSize)
	return items, total, err
}

func (s *NotificationService) providerTimeout() time.Duration {
	if s.ProviderTimeout > 0 {
		return s.ProviderTimeout
	}
	return DefaultProviderTimeout
}
