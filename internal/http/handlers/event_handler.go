// Event trigger HTTP handler.
//
// POST /events/{event} lets platform collaborators (payment webhooks, order
// workflows, admin tooling) fire a catalog event by name without knowing
// notification copy or channel policy. The catalog validates the payload and
// builds the draft; dispatch follows the normal pipeline.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/astroveda/go-consult-backend/internal/services"
)

// FireEventRequest is the JSON payload for firing a catalog event. Exactly
// one of UserID or UserIDs must be set.
type FireEventRequest struct {
	UserID  string   `json:"user_id,omitempty"`
	UserIDs []string `json:"user_ids,omitempty"`
	// Payload carries the event-specific fields, e.g. {"amount": "499.00"}.
	Payload map[string]string `json:"payload,omitempty"`
}

// FireEventResponse reports the dispatch outcome.
type FireEventResponse struct {
	Event     string `json:"event"`
	Targets   int    `json:"targets"`
	Delivered int    `json:"delivered"`
}

// FireEvent godoc
// @ID          fireEvent
// @Summary     Fire a catalog event
// @Description Builds the notification for the named event from the payload and dispatches it to the target user(s).
// @Tags        Events
// @Accept      json
// @Produce     json
//
// @Param       event  path  string  true  "Event name (equals the notification type, e.g. payment_success)"
// @Param       body   body  handlers.FireEventRequest  true  "Targets and event payload"
//
// @Success     200  {object}  handlers.FireEventResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request / unknown event / missing payload field"
// @Failure     404  {object}  handlers.ErrorResponse  "User not found"
// @Router      /events/{event} [post]
func (h *Handlers) FireEvent(c *gin.Context) {
	event := c.Param("event")
	if !services.Known(event) {
		fail(c, http.StatusBadRequest, ErrCodeUnknownEvent, "unknown event: "+event)
		return
	}

	var req FireEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	if (req.UserID == "") == (len(req.UserIDs) == 0) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "exactly one of user_id or user_ids is required")
		return
	}

	ctx := c.Request.Context()
	if req.UserID != "" {
		delivered, err := h.trigger.Fire(ctx, event, req.UserID, services.Payload(req.Payload))
		if err != nil {
			switch {
			case errors.Is(err, services.ErrUserNotFound):
				fail(c, http.StatusNotFound, ErrCodeNotFound, "user not found")
			case errors.Is(err, services.ErrMissingField):
				fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			default:
				fail(c, http.StatusInternalServerError, ErrCodeDispatchFailed, err.Error())
			}
			return
		}
		n := 0
		if delivered {
			n = 1
		}
		ok(c, http.StatusOK, FireEventResponse{Event: event, Targets: 1, Delivered: n})
		return
	}

	delivered, err := h.trigger.FireBulk(ctx, event, req.UserIDs, services.Payload(req.Payload))
	if err != nil {
		if errors.Is(err, services.ErrMissingField) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeDispatchFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, FireEventResponse{Event: event, Targets: len(req.UserIDs), Delivered: delivered})
}
