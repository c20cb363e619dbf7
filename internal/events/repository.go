package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatepass/backend/internal/models"
)

// Repository handles event persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an events repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const eventColumns = `id, name, COALESCE(venue,''), starts_at, COALESCE(template_image_key,''), template_fields, created_at, updated_at`

func scanEvent(row pgx.Row) (*models.Event, error) {
	var ev models.Event
	err := row.Scan(&ev.ID, &ev.Name, &ev.Venue, &ev.StartsAt, &ev.TemplateImageKey, &ev.TemplateFields, &ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// Create inserts an event.
func (r *Repository) Create(ctx context.Context, ev *models.Event) error {
	const q = `INSERT INTO events (name, venue, starts_at)
		VALUES ($1, NULLIF($2,''), $3)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, ev.Name, ev.Venue, ev.StartsAt).
		Scan(&ev.ID, &ev.CreatedAt, &ev.UpdatedAt)
}

// GetByID returns an event by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	const q = `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	ev, err := scanEvent(r.pool.QueryRow(ctx, q, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	return ev, err
}

// List returns all events, soonest first.
func (r *Repository) List(ctx context.Context) ([]models.Event, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY starts_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *ev)
	}
	return list, rows.Err()
}

// UpdateTemplate stores the ticket template descriptor (image key + field coordinates).
func (r *Repository) UpdateTemplate(ctx context.Context, id uuid.UUID, imageKey string, fields []byte) error {
	const q = `UPDATE events SET template_image_key = $2, template_fields = $3, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, imageKey, fields)
	return err
}

// Stats returns registration, delivery and attendance counts for an event.
func (r *Repository) Stats(ctx context.Context, id uuid.UUID) (*models.EventStats, error) {
	const q = `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE delivery_state = 'sent'),
		COUNT(*) FILTER (WHERE delivery_state = 'failed'),
		COUNT(*) FILTER (WHERE delivery_state = 'pending'),
		(SELECT COUNT(*) FROM attendance WHERE event_id = $1)
		FROM registrations WHERE event_id = $1`
	var s models.EventStats
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.Registered, &s.Sent, &s.Failed, &s.Pending, &s.Attended)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
