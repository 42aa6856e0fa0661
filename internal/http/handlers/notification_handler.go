// Notification HTTP handlers.
//
// This file exposes REST endpoints for notification dispatch and history:
//   - POST /notifications           (send to one user, idempotency-key aware)
//   - POST /notifications/bulk      (fan out to many users)
//   - GET  /notifications           (list, paginated, ETag support)
//   - PUT  /notifications/{id}/read (idempotent read-marking)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/astroveda/go-consult-backend/internal/domain"
	"github.com/astroveda/go-consult-backend/internal/http/middleware"
	"github.com/astroveda/go-consult-backend/internal/repo"
	"github.com/astroveda/go-consult-backend/internal/services"
	"github.com/astroveda/go-consult-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// Dispatcher defines the notification operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type Dispatcher interface {
	// Dispatch sends a draft to one user, returning the stored audit record
	// and whether at least one channel succeeded.
	Dispatch(ctx context.Context, userID string, d services.Draft) (*domain.Notification, bool, error)
	// SendBulkByIDs dispatches a draft to many users and returns the number
	// of successful dispatches.
	SendBulkByIDs(ctx context.Context, userIDs []string, d services.Draft) int
	// ListPage returns a page of a user's notifications plus the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Notification, int64, error)
	// MarkRead idempotently marks a notification as read for its owner.
	MarkRead(ctx context.Context, userID, id string) (*domain.Notification, error)
}

// Trigger defines the event-catalog operations consumed by HTTP handlers.
type Trigger interface {
	// Fire dispatches the catalog notification for an event to one user.
	Fire(ctx context.Context, event, userID string, p services.Payload) (bool, error)
	// FireBulk dispatches the catalog notification for an event to many users.
	FireBulk(ctx context.Context, event string, userIDs []string, p services.Payload) (int, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for notifications and triggers.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	dispatch Dispatcher
	trigger  Trigger
}

// New constructs and returns a Handlers instance bound to the given services.
func New(dispatch Dispatcher, trigger Trigger) *Handlers {
	return &Handlers{dispatch: dispatch, trigger: trigger}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// SendNotificationRequest is the JSON payload for dispatching one notification.
type SendNotificationRequest struct {
	// UserID is the recipient.
	UserID string `json:"user_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// Type is one of the notification type enum values.
	Type string `json:"type" binding:"required" example:"payment_success"`
	// Title and Body are the notification copy.
	Title string `json:"title" binding:"required,max=255" example:"Payment successful"`
	Body  string `json:"body" binding:"required" example:"Your payment of ₹499 was successful."`
	// Data is the opaque key-value payload delivered with the push.
	Data map[string]string `json:"data,omitempty"`
	// ImageURL / ActionURL are optional rich-content fields.
	ImageURL  string `json:"image_url,omitempty"`
	ActionURL string `json:"action_url,omitempty"`
	// Priority is low|normal|high|urgent; empty means normal.
	Priority string `json:"priority,omitempty" example:"high"`
	// Channels restricts delivery; empty means push+email.
	Channels []string `json:"channels,omitempty" example:"push,email"`
}

// SendBulkRequest is the JSON payload for a bulk fan-out.
type SendBulkRequest struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1"`
	SendNotificationRequest
}

// SendResult reports the outcome of a single dispatch.
type SendResult struct {
	Delivered bool `json:"delivered"`
	// NotificationID is the stored audit record for this dispatch.
	NotificationID string `json:"notification_id,omitempty"`
}

// BulkResult reports the outcome of a bulk dispatch.
type BulkResult struct {
	Targets   int `json:"targets"`
	Delivered int `json:"delivered"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListNotificationsResponse wraps a page of notifications and pagination
// information.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
	Pagination    Pagination            `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// draftFromRequest validates and converts the wire payload into a dispatch
// draft. The error message is safe for clients.
func draftFromRequest(req SendNotificationRequest) (services.Draft, string) {
	nt := domain.NotificationType(req.Type)
	if !nt.Valid() {
		return services.Draft{}, "unknown notification type"
	}
	channels := make([]domain.Channel, 0, len(req.Channels))
	for _, ch := range req.Channels {
		switch domain.Channel(ch) {
		case domain.ChannelPush, domain.ChannelEmail, domain.ChannelInApp:
			channels = append(channels, domain.Channel(ch))
		default:
			return services.Draft{}, "unknown channel: " + ch
		}
	}
	return services.Draft{
		Type:      nt,
		Title:     strings.TrimSpace(req.Title),
		Body:      req.Body,
		Data:      req.Data,
		ImageURL:  req.ImageURL,
		ActionURL: req.ActionURL,
		Priority:  domain.Priority(req.Priority),
		Channels:  channels,
	}, ""
}

//
// Handlers
//

// SendNotification godoc
// @ID          sendNotification
// @Summary     Send a notification to one user
// @Description Persists the audit record and dispatches across the requested channels. Delivered is true when at least one channel succeeded.
// @Tags        Notifications
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Dedupe key for safe retries"
// @Param       body             body    handlers.SendNotificationRequest  true  "Dispatch payload"
//
// @Success     200  {object}  handlers.SendResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /notifications [post]
func (h *Handlers) SendNotification(c *gin.Context) {
	ctx := c.Request.Context()

	var req SendNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	d, msg := draftFromRequest(req)
	if msg != "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
		return
	}

	currentUser := userID(c)
	scope := c.FullPath()

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if svc, okSvc := h.dispatch.(*services.NotificationService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, scope, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetNotification(ctx, svc.DB, rec.NotificationID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusOK, SendResult{
						Delivered:      prev.DeliveryStatus == domain.DeliveryDelivered,
						NotificationID: prev.ID,
					})
					return
				}
			}
		}
	}

	rec, delivered, err := h.dispatch.Dispatch(ctx, req.UserID, d)
	if err != nil {
		if errors.Is(err, services.ErrUserNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeDispatchFailed, err.Error())
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" && rec != nil {
		if svc, okSvc := h.dispatch.(*services.NotificationService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, scope, idemKey, rec.ID, http.StatusOK, ttl)
		}
	}

	res := SendResult{Delivered: delivered}
	if rec != nil {
		res.NotificationID = rec.ID
	}
	ok(c, http.StatusOK, res)
}

// SendBulkNotifications godoc
// @ID          sendBulkNotifications
// @Summary     Send a notification to many users
// @Description Fans the same notification out to every target. Each target is isolated; the response counts successful dispatches.
// @Tags        Notifications
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.SendBulkRequest  true  "Bulk dispatch payload"
//
// @Success     200  {object}  handlers.BulkResult
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /notifications/bulk [post]
func (h *Handlers) SendBulkNotifications(c *gin.Context) {
	var req SendBulkRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.UserIDs) == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	d, msg := draftFromRequest(req.SendNotificationRequest)
	if msg != "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, msg)
		return
	}

	delivered := h.dispatch.SendBulkByIDs(c.Request.Context(), req.UserIDs, d)
	ok(c, http.StatusOK, BulkResult{Targets: len(req.UserIDs), Delivered: delivered})
}

// ListNotifications godoc
// @ID          listNotifications
// @Summary     List notifications (paginated)
// @Description Returns a page of the user's notifications, newest first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Notifications
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListNotificationsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications [get]
func (h *Handlers) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	var db *gorm.DB
	if svc, okCast := h.dispatch.(*services.NotificationService); okCast {
		db = svc.DB
	}
	if db != nil {
		count, maxTS, err := repo.NotificationsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"notifications:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.dispatch.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListNotificationsResponse{
		Notifications: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// MarkNotificationRead godoc
// @ID          markNotificationRead
// @Summary     Mark a notification as read
// @Description Idempotent: the first call sets read_at; repeating it is a no-op that preserves the original timestamp.
// @Tags        Notifications
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Notification ID (UUID)" format(uuid)
//
// @Success     200  {object} domain.Notification
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Notification not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /notifications/{id}/read [put]
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id must be a UUID")
		return
	}

	n, err := h.dispatch.MarkRead(c.Request.Context(), userID(c), id)
	if err != nil {
		if errors.Is(err, services.ErrNotificationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, n)
}
