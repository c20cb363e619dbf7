package tickets

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/gatepass/backend/internal/apperr"
	"github.com/gatepass/backend/internal/events"
	"github.com/gatepass/backend/internal/registrations"
	"github.com/gatepass/backend/pkg/response"
)

// Limits configures the retrieval rate limiter.
type Limits struct {
	Window time.Duration
	Max    int
}

// Handler handles ticket retrieval and download endpoints.
type Handler struct {
	regRepo   *registrations.Repository
	eventRepo *events.Repository
	assigner  *Assigner
	renderer  *Renderer
	downloads *DownloadStore
	limits    Limits
	logger    *zap.Logger
}

// NewHandler creates a tickets handler.
func NewHandler(regRepo *registrations.Repository, eventRepo *events.Repository, assigner *Assigner,
	renderer *Renderer, downloads *DownloadStore, limits Limits, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		regRepo:   regRepo,
		eventRepo: eventRepo,
		assigner:  assigner,
		renderer:  renderer,
		downloads: downloads,
		limits:    limits,
		logger:    logger,
	}
}

// RetrieveRequest is the body for POST /events/:id/tickets.
type RetrieveRequest struct {
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone" binding:"required"`
}

// Retrieve handles POST /events/:id/tickets. Rate-limited self-service ticket
// retrieval: resolves the registration by email+phone, ensures a token exists,
// renders the artifact and hands back a one-time download key.
func (h *Handler) Retrieve(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	ev, err := h.eventRepo.GetByID(c.Request.Context(), eventID)
	if err != nil || ev == nil {
		response.NotFound(c, "event not found")
		return
	}
	var req RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	reg, err := h.regRepo.GetByEventAndEmail(c.Request.Context(), eventID, req.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "no registration found for this email")
			return
		}
		response.Internal(c, "failed to look up registration")
		return
	}
	// Phone is the second factor for self-service retrieval; mismatch is
	// reported as not-found so the endpoint cannot confirm stored data.
	if reg.Phone != "" && !phoneMatches(reg.Phone, req.Phone) {
		response.NotFound(c, "no registration found for this email")
		return
	}

	decision := CheckWindow(WindowState{Start: reg.RateWindowStart, Count: reg.RateCount},
		time.Now(), h.limits.Window, h.limits.Max)
	if !decision.Allowed {
		response.TooManyRequests(c, "too many ticket requests, try again later", decision.RetryAfter)
		return
	}
	if err := h.regRepo.UpdateRateWindow(c.Request.Context(), reg.ID, decision.Start, decision.Count); err != nil {
		response.Internal(c, "failed to record request")
		return
	}

	token, err := h.assigner.EnsureToken(c.Request.Context(), reg)
	if err != nil {
		h.logger.Error("token assignment failed", zap.Error(err), zap.String("registration_id", reg.ID.String()))
		response.Internal(c, "failed to issue ticket")
		return
	}
	if _, _, err := h.renderer.RenderAndStore(c.Request.Context(), ev, reg, token); err != nil {
		h.logger.Error("ticket render failed", zap.Error(err), zap.String("registration_id", reg.ID.String()))
		response.Internal(c, "failed to render ticket")
		return
	}

	key, err := h.downloads.Put(c.Request.Context(), reg.ID)
	if err != nil {
		h.logger.Error("download key store failed", zap.Error(err))
		response.Internal(c, "failed to prepare download")
		return
	}
	response.OK(c, gin.H{
		"download_key":   key,
		"download_url":   "/tickets/download/" + key,
		"expires_in_sec": int(h.downloads.TTL() / time.Second),
		"name":           reg.Name,
		"reg_no":         reg.RegNo,
	})
}

// Download handles GET /tickets/download/:key. Consumes a one-time key and
// serves the ticket PNG.
func (h *Handler) Download(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		response.BadRequest(c, "download key required")
		return
	}
	regID, err := h.downloads.Take(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			response.NotFound(c, "download link expired or already used")
			return
		}
		response.Internal(c, "failed to resolve download")
		return
	}
	reg, err := h.regRepo.GetByID(c.Request.Context(), regID)
	if err != nil {
		response.NotFound(c, "registration not found")
		return
	}
	if reg.Token == nil || *reg.Token == "" {
		response.Internal(c, "ticket not issued")
		return
	}
	png, err := qrcode.Encode(*reg.Token, qrcode.Medium, QRSize)
	if err != nil {
		response.Internal(c, "failed to render ticket")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="ticket-`+reg.RegNo+`.png"`)
	c.Data(200, "image/png", png)
}

// AdminTicketURL handles GET /registrations/:id/ticket-url. Returns a
// presigned preview URL for the stored artifact; requires S3 storage and an
// issued token.
func (h *Handler) AdminTicketURL(c *gin.Context) {
	regID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid registration id")
		return
	}
	reg, err := h.regRepo.GetByID(c.Request.Context(), regID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "registration not found")
			return
		}
		response.Internal(c, "failed to load registration")
		return
	}
	if reg.Token == nil || *reg.Token == "" {
		response.NotFound(c, "ticket not issued")
		return
	}
	url, err := h.renderer.PresignTicket(c.Request.Context(), reg.EventID.String(), reg.ID.String())
	if err != nil {
		h.logger.Error("presign ticket failed", zap.Error(err), zap.String("registration_id", regID.String()))
		response.Internal(c, "failed to presign ticket")
		return
	}
	if url == "" {
		response.NotFound(c, "ticket storage not configured")
		return
	}
	response.OK(c, gin.H{"url": url})
}

func phoneMatches(stored, presented string) bool {
	return normalizePhone(stored) == normalizePhone(presented)
}

func normalizePhone(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			out = append(out, r)
		}
	}
	// Compare the trailing 10 digits so country-code variants match.
	if len(out) > 10 {
		out = out[len(out)-10:]
	}
	return string(out)
}
