package emaillogs

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatepass/backend/internal/models"
	"github.com/gatepass/backend/pkg/queue"
	"github.com/gatepass/backend/pkg/response"
)

// Handler handles email log HTTP endpoints.
type Handler struct {
	repo   *Repository
	jobs   *queue.Queue
	logger *zap.Logger
}

// NewHandler creates an email logs handler. jobs may be nil (resend disabled).
func NewHandler(repo *Repository, jobs *queue.Queue, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, jobs: jobs, logger: logger}
}

// ListByEvent handles GET /events/:id/emails.
func (h *Handler) ListByEvent(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	logs, err := h.repo.ListByEvent(c.Request.Context(), eventID)
	if err != nil {
		response.Internal(c, "failed to load email logs")
		return
	}
	response.OK(c, logs)
}

// ResendRequest is the body for POST /events/:id/emails/resend.
type ResendRequest struct {
	RegistrationID uuid.UUID `json:"registration_id" binding:"required"`
}

// Resend handles POST /events/:id/emails/resend. Enqueues a single-recipient
// ticket email for the background worker.
func (h *Handler) Resend(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req ResendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "registration_id required")
		return
	}
	if h.jobs == nil {
		response.Internal(c, "resend worker not configured")
		return
	}
	err = h.jobs.EnqueueTicketEmail(c.Request.Context(), queue.TicketEmailPayload{
		EventID:        eventID,
		RegistrationID: req.RegistrationID,
		EmailType:      models.EmailTypeTicketResend,
	})
	if err != nil {
		h.logger.Error("enqueue resend failed", zap.Error(err), zap.String("registration_id", req.RegistrationID.String()))
		response.Internal(c, "failed to enqueue resend")
		return
	}
	response.OK(c, gin.H{"message": "resend queued"})
}
