package roster

import (
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatepass/backend/internal/events"
	"github.com/gatepass/backend/internal/registrations"
	"github.com/gatepass/backend/pkg/response"
)

// MaxRosterFileSize caps uploaded roster files (8MB).
const MaxRosterFileSize = 8 * 1024 * 1024

// Handler handles roster import HTTP endpoints.
type Handler struct {
	regRepo   *registrations.Repository
	eventRepo *events.Repository
	opts      Options
	logger    *zap.Logger
}

// NewHandler creates a roster handler.
func NewHandler(regRepo *registrations.Repository, eventRepo *events.Repository, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{regRepo: regRepo, eventRepo: eventRepo, opts: opts, logger: logger}
}

// Import handles POST /events/:id/roster/import. Parses the uploaded file
// (multipart field "file", CSV or XLSX), classifies every row against the
// batch and a one-time snapshot of the persisted set, and returns the
// partition. No rows are written; commit via the bulk registration endpoint.
func (h *Handler) Import(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	if ev, err := h.eventRepo.GetByID(c.Request.Context(), eventID); err != nil || ev == nil {
		response.NotFound(c, "event not found")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "roster file required")
		return
	}
	if fileHeader.Size > MaxRosterFileSize {
		response.BadRequest(c, "roster file too large")
		return
	}
	f, err := fileHeader.Open()
	if err != nil {
		response.Internal(c, "failed to read upload")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		response.Internal(c, "failed to read upload")
		return
	}

	rows, err := ParseTable(data, fileHeader.Filename)
	if err != nil {
		response.BadRequest(c, "could not parse roster: "+err.Error())
		return
	}

	emails, regNos, err := h.regRepo.Snapshot(c.Request.Context(), eventID)
	if err != nil {
		h.logger.Error("snapshot failed", zap.Error(err), zap.String("event_id", eventID.String()))
		response.Internal(c, "failed to load existing registrations")
		return
	}

	result, err := Classify(rows, Snapshot{Emails: emails, RegNos: regNos}, h.opts)
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	h.logger.Info("roster classified",
		zap.String("event_id", eventID.String()),
		zap.Int("total", result.Stats.Total),
		zap.Int("accepted", result.Stats.Accepted),
		zap.Int("rejected", result.Stats.Rejected))
	response.OK(c, result)
}
