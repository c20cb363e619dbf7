package attendance

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatepass/backend/internal/models"
)

// Repository handles attendance persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert marks an attendee present exactly once. The unique index on
// (event_id, lower(email)) is the at-most-once guarantee: on conflict the
// existing record is returned with already=true, never an error.
func (r *Repository) Insert(ctx context.Context, eventID uuid.UUID, email, source string) (att *models.Attendance, already bool, err error) {
	const insert = `INSERT INTO attendance (event_id, email, source)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id, LOWER(email)) DO NOTHING
		RETURNING id, marked_at`
	a := &models.Attendance{EventID: eventID, Email: email, Source: source}
	err = r.pool.QueryRow(ctx, insert, eventID, email, source).Scan(&a.ID, &a.MarkedAt)
	if err == nil {
		return a, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	existing, err := r.Get(ctx, eventID, email)
	if err != nil {
		return nil, false, err
	}
	return existing, true, nil
}

// Get returns the attendance record for event+email (case-insensitive), or
// pgx.ErrNoRows.
func (r *Repository) Get(ctx context.Context, eventID uuid.UUID, email string) (*models.Attendance, error) {
	const q = `SELECT id, event_id, email, source, marked_at FROM attendance
		WHERE event_id = $1 AND LOWER(email) = LOWER($2)`
	var a models.Attendance
	err := r.pool.QueryRow(ctx, q, eventID, email).Scan(&a.ID, &a.EventID, &a.Email, &a.Source, &a.MarkedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListByEvent returns attendance records for an event, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Attendance, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, event_id, email, source, marked_at FROM attendance WHERE event_id = $1 ORDER BY marked_at DESC`,
		eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Attendance
	for rows.Next() {
		var a models.Attendance
		if err := rows.Scan(&a.ID, &a.EventID, &a.Email, &a.Source, &a.MarkedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
