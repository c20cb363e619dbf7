package tickets

import (
	"bytes"
	"context"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/gatepass/backend/internal/models"
	"github.com/gatepass/backend/pkg/storage"
)

// QRSize is the rendered QR code edge in pixels.
const QRSize = 512

// Renderer produces the ticket artifact: a QR code carrying the token,
// optionally archived in S3 under the event's prefix. Compositing the QR onto
// the event's template image is the template service's concern; the descriptor
// travels with the event.
type Renderer struct {
	s3     *storage.S3
	logger *zap.Logger
}

// NewRenderer creates a renderer. s3 may be nil; artifacts are then served
// inline only.
func NewRenderer(s3 *storage.S3, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{s3: s3, logger: logger}
}

// PresignTicket returns a presigned GET URL for a stored ticket artifact.
// Returns empty when storage is not configured.
func (r *Renderer) PresignTicket(ctx context.Context, eventID, registrationID string) (string, error) {
	if r.s3 == nil {
		return "", nil
	}
	key := storage.TicketKey(eventID, registrationID)
	return r.s3.GeneratePresignedDownloadURL(ctx, key, r.s3.PresignExpire())
}

// RenderAndStore renders the QR ticket PNG for a registration and uploads it
// to S3 when storage is configured. Returns the PNG bytes and the S3 key
// (empty when not stored).
func (r *Renderer) RenderAndStore(ctx context.Context, ev *models.Event, reg *models.Registration, token string) ([]byte, string, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, QRSize)
	if err != nil {
		return nil, "", fmt.Errorf("encode qr: %w", err)
	}
	if r.s3 == nil {
		return png, "", nil
	}
	key := storage.TicketKey(ev.ID.String(), reg.ID.String())
	if _, err := r.s3.Upload(ctx, key, "image/png", bytes.NewReader(png), int64(len(png))); err != nil {
		// Storage is an archive, not the delivery path; log and serve inline.
		r.logger.Warn("ticket upload failed", zap.Error(err), zap.String("registration_id", reg.ID.String()))
		return png, "", nil
	}
	return png, key, nil
}
