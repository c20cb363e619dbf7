package emaillogs

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatepass/backend/internal/models"
)

// Repository handles email_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an email logs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Record inserts one dispatch attempt.
func (r *Repository) Record(ctx context.Context, log *models.EmailLog) error {
	const q = `INSERT INTO email_logs (event_id, registration_id, email_type, recipient_email, subject, status, sent_at, error_message)
		VALUES ($1, $2, $3, $4, NULLIF($5,''), $6, $7, NULLIF($8,''))
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, log.EventID, log.RegistrationID, log.EmailType,
		log.RecipientEmail, log.Subject, log.Status, log.SentAt, log.ErrorMessage).
		Scan(&log.ID, &log.CreatedAt)
}

// ListByEvent returns email logs for an event, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.EmailLog, error) {
	const q = `SELECT id, event_id, registration_id, email_type, recipient_email, subject, status, sent_at, error_message, created_at
		FROM email_logs
		WHERE event_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EmailLog
	for rows.Next() {
		var el models.EmailLog
		var subject, errMsg *string
		if err := rows.Scan(&el.ID, &el.EventID, &el.RegistrationID, &el.EmailType, &el.RecipientEmail,
			&subject, &el.Status, &el.SentAt, &errMsg, &el.CreatedAt); err != nil {
			return nil, err
		}
		if subject != nil {
			el.Subject = *subject
		}
		if errMsg != nil {
			el.ErrorMessage = *errMsg
		}
		list = append(list, &el)
	}
	return list, rows.Err()
}
