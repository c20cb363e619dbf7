package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatepass/backend/config"
	"github.com/gatepass/backend/internal/events"
	"github.com/gatepass/backend/internal/registrations"
	"github.com/gatepass/backend/pkg/response"
)

// Handler exposes the delivery pipeline over HTTP.
type Handler struct {
	pipeline  *Pipeline
	regRepo   *registrations.Repository
	eventRepo *events.Repository
	cfg       config.TicketConfig
	logger    *zap.Logger
}

// NewHandler creates a delivery handler.
func NewHandler(pipeline *Pipeline, regRepo *registrations.Repository, eventRepo *events.Repository,
	cfg config.TicketConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{pipeline: pipeline, regRepo: regRepo, eventRepo: eventRepo, cfg: cfg, logger: logger}
}

// StreamRequest is the body for POST /events/:id/deliveries.
type StreamRequest struct {
	BatchSize int         `json:"batch_size"`
	DelayMs   int         `json:"delay_ms"`
	IDs       []uuid.UUID `json:"ids"`
	Limit     int         `json:"limit"`
}

// Stream handles POST /events/:id/deliveries. Runs the batched pipeline and
// streams progress as server-sent events: one "data: <json>\n\n" frame per
// notification, one progress frame per batch, exactly one terminal complete
// or error frame. The pipeline runs on a background context; a client that
// disconnects mid-stream does not interrupt delivery.
func (h *Handler) Stream(c *gin.Context) {
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
	var req StreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	opts := Options{
		BatchSize: ClampBatchSize(req.BatchSize, h.cfg.BatchSize, h.cfg.BatchSizeMin, h.cfg.BatchSizeMax),
		Delay: ClampDelay(time.Duration(req.DelayMs)*time.Millisecond,
			h.cfg.BatchDelay, h.cfg.BatchDelayMin, h.cfg.BatchDelayMax),
		Selection: Selection{IDs: req.IDs, Limit: req.Limit},
	}

	// Delivery must survive a dropped consumer; detach from the request context.
	stream := h.pipeline.Run(context.Background(), ev, opts)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, _ := c.Writer.(http.Flusher)

	clientGone := false
	for ev := range stream {
		if clientGone {
			// Keep draining so the pipeline's channel empties; nothing to write to.
			continue
		}
		frame, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("marshal stream event", zap.Error(err))
			continue
		}
		if _, err := c.Writer.Write(append(append([]byte("data: "), frame...), '\n', '\n')); err != nil {
			clientGone = true
			h.logger.Info("delivery stream consumer gone", zap.String("event_id", eventID.String()))
			continue
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// ResetRequest is the body for POST /events/:id/deliveries/reset.
type ResetRequest struct {
	IncludeSent bool `json:"include_sent"`
}

// Reset handles POST /events/:id/deliveries/reset. Explicitly moves failed
// (or, on request, all non-pending) registrations back to pending for re-send;
// the only backward delivery-state transition.
func (h *Handler) Reset(c *gin.Context) {
	eventID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	n, err := h.regRepo.ResetDelivery(c.Request.Context(), eventID, !req.IncludeSent)
	if err != nil {
		response.Internal(c, "failed to reset delivery state")
		return
	}
	response.OK(c, gin.H{"reset_count": n})
}
