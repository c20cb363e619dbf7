package events

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatepass/backend/internal/models"
	"github.com/gatepass/backend/pkg/response"
	"github.com/gatepass/backend/pkg/storage"
)

// Handler handles event HTTP endpoints.
type Handler struct {
	repo   *Repository
	s3     *storage.S3
	logger *zap.Logger
}

// NewHandler creates an events handler. s3 may be nil (template upload disabled).
func NewHandler(repo *Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, s3: s3, logger: logger}
}

// CreateRequest is the body for POST /events.
type CreateRequest struct {
	Name     string    `json:"name" binding:"required"`
	Venue    string    `json:"venue"`
	StartsAt time.Time `json:"starts_at" binding:"required"`
}

// Create handles POST /events.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ev := &models.Event{Name: req.Name, Venue: req.Venue, StartsAt: req.StartsAt}
	if err := h.repo.Create(c.Request.Context(), ev); err != nil {
		h.logger.Error("create event failed", zap.Error(err))
		response.Internal(c, "failed to create event")
		return
	}
	response.Created(c, ev)
}

// List handles GET /events.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to load events")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /events/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	ev, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load event")
		return
	}
	if ev == nil {
		response.NotFound(c, "event not found")
		return
	}
	response.OK(c, ev)
}

// Stats handles GET /events/:id/stats.
func (h *Handler) Stats(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	stats, err := h.repo.Stats(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to load stats")
		return
	}
	response.OK(c, stats)
}

// DownloadTemplate handles GET /events/:id/template. Streams the stored
// template image back for admin preview.
func (h *Handler) DownloadTemplate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	if h.s3 == nil {
		response.NotFound(c, "template storage not configured")
		return
	}
	ev, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil || ev == nil {
		response.NotFound(c, "event not found")
		return
	}
	if ev.TemplateImageKey == "" {
		response.NotFound(c, "no template uploaded")
		return
	}
	body, contentType, err := h.s3.GetObjectStream(c.Request.Context(), ev.TemplateImageKey)
	if err != nil {
		h.logger.Error("template fetch failed", zap.Error(err), zap.String("event_id", id.String()))
		response.Internal(c, "failed to fetch template image")
		return
	}
	defer body.Close()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, contentType, body, nil)
}

// UploadTemplate handles POST /events/:id/template. Stores the ticket template
// image in S3 and the field-coordinate descriptor alongside it.
func (h *Handler) UploadTemplate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	if h.s3 == nil {
		response.Internal(c, "template storage not configured")
		return
	}
	ev, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil || ev == nil {
		response.NotFound(c, "event not found")
		return
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		response.BadRequest(c, "image file required")
		return
	}
	if fileHeader.Size > storage.MaxTemplateFileSize {
		response.BadRequest(c, "template image too large")
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !storage.ValidateTemplateFileType(contentType, fileHeader.Filename) {
		response.BadRequest(c, "unsupported template image type")
		return
	}

	fieldsJSON := c.PostForm("fields")
	var fields json.RawMessage
	if fieldsJSON != "" {
		if !json.Valid([]byte(fieldsJSON)) {
			response.BadRequest(c, "fields must be valid JSON")
			return
		}
		fields = json.RawMessage(fieldsJSON)
	}

	f, err := fileHeader.Open()
	if err != nil {
		response.Internal(c, "failed to read upload")
		return
	}
	defer f.Close()

	key := storage.TemplateKey(id.String(), fileHeader.Filename)
	if _, err := h.s3.Upload(c.Request.Context(), key, contentType, f, fileHeader.Size); err != nil {
		h.logger.Error("template upload failed", zap.Error(err), zap.String("event_id", id.String()))
		response.Internal(c, "failed to store template image")
		return
	}
	if err := h.repo.UpdateTemplate(c.Request.Context(), id, key, fields); err != nil {
		response.Internal(c, "failed to save template descriptor")
		return
	}
	response.OK(c, gin.H{"template_image_key": key})
}
