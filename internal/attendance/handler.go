package attendance

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatepass/backend/internal/apperr"
	"github.com/gatepass/backend/internal/models"
	"github.com/gatepass/backend/pkg/response"
)

// Broadcaster pushes check-in notifications to live dashboard subscribers.
type Broadcaster interface {
	Broadcast(eventID uuid.UUID, event string, payload interface{})
}

// Handler handles verification and attendance HTTP endpoints.
type Handler struct {
	svc    *Service
	live   Broadcaster
	logger *zap.Logger
}

// NewHandler creates an attendance handler. live may be nil.
func NewHandler(svc *Service, live Broadcaster, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, live: live, logger: logger}
}

// VerifyRequest is the body for POST /attendance/verify.
type VerifyRequest struct {
	Token   string `json:"token" binding:"required"`
	EventID string `json:"event_id"`
}

// Verify handles POST /attendance/verify. Resolves a scanned token to a
// registration summary without marking attendance.
func (h *Handler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	var expected *uuid.UUID
	if req.EventID != "" {
		id, err := uuid.Parse(req.EventID)
		if err != nil {
			response.BadRequest(c, "invalid event id")
			return
		}
		expected = &id
	}
	reg, err := h.svc.Verify(c.Request.Context(), req.Token, expected)
	if err != nil {
		h.writeVerifyError(c, err)
		return
	}
	response.OK(c, reg.Summary())
}

// MarkRequest is the body for POST /attendance/mark.
type MarkRequest struct {
	EventID uuid.UUID `json:"event_id" binding:"required"`
	Email   string    `json:"email" binding:"required,email"`
	Source  string    `json:"source" binding:"required"`
}

// Mark handles POST /attendance/mark. Counter-desk marking by email; a repeat
// mark returns 409 with the original timestamp, an expected non-fatal outcome.
func (h *Handler) Mark(c *gin.Context) {
	var req MarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	att, already, err := h.svc.Mark(c.Request.Context(), req.EventID, req.Email, req.Source)
	if err != nil {
		h.logger.Error("mark attendance failed", zap.Error(err), zap.String("event_id", req.EventID.String()))
		response.Internal(c, "failed to mark attendance")
		return
	}
	if already {
		response.Conflict(c, "already marked", gin.H{"marked_at": att.MarkedAt, "source": att.Source})
		return
	}
	h.broadcast(att)
	response.Created(c, att)
}

// CheckInRequest is the body for POST /attendance/checkin.
type CheckInRequest struct {
	Token   string    `json:"token" binding:"required"`
	EventID uuid.UUID `json:"event_id" binding:"required"`
	Source  string    `json:"source" binding:"required"`
}

// CheckIn handles POST /attendance/checkin. Scanner flow: verify the token
// against the event, then mark attendance.
func (h *Handler) CheckIn(c *gin.Context) {
	var req CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	reg, att, already, err := h.svc.CheckIn(c.Request.Context(), req.Token, req.EventID, req.Source)
	if err != nil {
		h.writeVerifyError(c, err)
		return
	}
	if already {
		response.Conflict(c, "already marked", gin.H{
			"registration": reg.Summary(),
			"marked_at":    att.MarkedAt,
			"source":       att.Source,
		})
		return
	}
	h.broadcast(att)
	response.Created(c, gin.H{"registration": reg.Summary(), "attendance": att})
}

func (h *Handler) writeVerifyError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		response.NotFound(c, "unknown ticket")
	case errors.Is(err, apperr.ErrEventMismatch):
		response.Conflict(c, apperr.ErrEventMismatch.Error(), nil)
	default:
		h.logger.Error("verification failed", zap.Error(err))
		response.Internal(c, "verification failed")
	}
}

func (h *Handler) broadcast(att *models.Attendance) {
	if h.live == nil {
		return
	}
	h.live.Broadcast(att.EventID, "attendance_marked", gin.H{
		"email":     att.Email,
		"source":    att.Source,
		"marked_at": att.MarkedAt,
	})
}
