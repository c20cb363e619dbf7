package registrations

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/gatepass/backend/internal/events"
	"github.com/gatepass/backend/internal/models"
	"github.com/gatepass/backend/pkg/response"
)

// Handler handles registration HTTP endpoints.
type Handler struct {
	repo      *Repository
	eventRepo *events.Repository
	logger    *zap.Logger
}

// NewHandler creates a registrations handler.
func NewHandler(repo *Repository, eventRepo *events.Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, eventRepo: eventRepo, logger: logger}
}

// CreateRequest is the body for POST /events/:id/registrations.
type CreateRequest struct {
	Name  string `json:"name" binding:"required,min=2"`
	RegNo string `json:"reg_no" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone"`
}

// Create handles POST /events/:id/registrations. Manual single-attendee entry.
func (h *Handler) Create(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	if ev, err := h.eventRepo.GetByID(c.Request.Context(), eventID); err != nil || ev == nil {
		response.NotFound(c, "event not found")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	reg := &models.Registration{
		EventID: eventID,
		Name:    req.Name,
		RegNo:   req.RegNo,
		Email:   req.Email,
		Phone:   req.Phone,
	}
	if err := h.repo.Create(c.Request.Context(), reg); err != nil {
		if IsUniqueViolation(err) {
			response.Conflict(c, "registration already exists for this email or reg number", nil)
			return
		}
		h.logger.Error("create registration failed", zap.Error(err), zap.String("event_id", eventID.String()))
		response.Internal(c, "failed to create registration")
		return
	}
	response.Created(c, reg)
}

// List handles GET /events/:id/registrations.
func (h *Handler) List(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	regs, err := h.repo.ListByEvent(c.Request.Context(), eventID)
	if err != nil {
		response.Internal(c, "failed to load registrations")
		return
	}
	response.OK(c, regs)
}

// BulkInsertRequest is the body for POST /events/:id/registrations/bulk.
type BulkInsertRequest struct {
	Rows []InsertRow `json:"rows" binding:"required,min=1"`
}

// BulkInsert handles POST /events/:id/registrations/bulk. Persists accepted
// roster rows; rows conflicting with the unique indexes are skipped.
func (h *Handler) BulkInsert(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	if ev, err := h.eventRepo.GetByID(c.Request.Context(), eventID); err != nil || ev == nil {
		response.NotFound(c, "event not found")
		return
	}
	var req BulkInsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	inserted, err := h.repo.BulkInsert(c.Request.Context(), eventID, req.Rows)
	if err != nil {
		h.logger.Error("bulk insert failed", zap.Error(err),
			zap.String("event_id", eventID.String()), zap.Int("inserted_before_error", inserted))
		response.Internal(c, "bulk insert failed")
		return
	}
	response.OK(c, gin.H{"inserted_count": inserted, "received": len(req.Rows)})
}

// Get handles GET /registrations/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return
	}
	reg, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if err == pgx.ErrNoRows {
			response.NotFound(c, "registration not found")
			return
		}
		response.Internal(c, "failed to load registration")
		return
	}
	response.OK(c, reg)
}
