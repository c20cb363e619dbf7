package registrations

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gatepass/backend/internal/models"
)

// ErrTokenTaken is returned when a generated token collides with an existing one.
var ErrTokenTaken = errors.New("token already taken")

const regColumns = `id, event_id, name, reg_no, email, COALESCE(phone,''), token, download_count,
	rate_window_start, rate_count, delivery_state, COALESCE(delivery_error,''), delivery_sent_at,
	created_at, updated_at`

// Repository handles registration persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a registrations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var reg models.Registration
	err := row.Scan(&reg.ID, &reg.EventID, &reg.Name, &reg.RegNo, &reg.Email, &reg.Phone,
		&reg.Token, &reg.DownloadCount, &reg.RateWindowStart, &reg.RateCount,
		&reg.DeliveryState, &reg.DeliveryError, &reg.DeliverySentAt, &reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

// GetByID returns a registration by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	const q = `SELECT ` + regColumns + ` FROM registrations WHERE id = $1`
	return scanRegistration(r.pool.QueryRow(ctx, q, id))
}

// GetByEventAndEmail returns the registration for event+email (case-insensitive).
func (r *Repository) GetByEventAndEmail(ctx context.Context, eventID uuid.UUID, email string) (*models.Registration, error) {
	const q = `SELECT ` + regColumns + ` FROM registrations WHERE event_id = $1 AND LOWER(email) = LOWER($2)`
	return scanRegistration(r.pool.QueryRow(ctx, q, eventID, email))
}

// GetByToken returns the registration holding the exact token.
func (r *Repository) GetByToken(ctx context.Context, token string) (*models.Registration, error) {
	const q = `SELECT ` + regColumns + ` FROM registrations WHERE token = $1`
	return scanRegistration(r.pool.QueryRow(ctx, q, token))
}

// ListByEvent returns all registrations for an event.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Registration, error) {
	const q = `SELECT ` + regColumns + ` FROM registrations WHERE event_id = $1 ORDER BY created_at`
	return r.list(ctx, q, eventID)
}

// ListUnsent returns up to limit registrations with delivery_state=pending,
// oldest first. limit <= 0 means no limit.
func (r *Repository) ListUnsent(ctx context.Context, eventID uuid.UUID, limit int) ([]models.Registration, error) {
	q := `SELECT ` + regColumns + ` FROM registrations
		WHERE event_id = $1 AND delivery_state = 'pending' ORDER BY created_at`
	if limit > 0 {
		q += ` LIMIT $2`
		return r.list(ctx, q, eventID, limit)
	}
	return r.list(ctx, q, eventID)
}

// ListByIDs returns the given registrations, restricted to the event, in input order.
func (r *Repository) ListByIDs(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) ([]models.Registration, error) {
	const q = `SELECT ` + regColumns + ` FROM registrations WHERE event_id = $1 AND id = ANY($2)`
	regs, err := r.list(ctx, q, eventID, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Registration, len(regs))
	for _, reg := range regs {
		byID[reg.ID] = reg
	}
	ordered := make([]models.Registration, 0, len(regs))
	for _, id := range ids {
		if reg, ok := byID[id]; ok {
			ordered = append(ordered, reg)
		}
	}
	return ordered, nil
}

func (r *Repository) list(ctx context.Context, q string, args ...interface{}) ([]models.Registration, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}
	return out, rows.Err()
}

// Snapshot returns the lowercased emails and reg numbers already persisted for
// an event. Fetched once at import start; the unique indexes remain the final
// authority for rows that race past it.
func (r *Repository) Snapshot(ctx context.Context, eventID uuid.UUID) (emails, regNos map[string]struct{}, err error) {
	rows, err := r.pool.Query(ctx, `SELECT LOWER(email), reg_no FROM registrations WHERE event_id = $1`, eventID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	emails = make(map[string]struct{})
	regNos = make(map[string]struct{})
	for rows.Next() {
		var email, regNo string
		if err := rows.Scan(&email, &regNo); err != nil {
			return nil, nil, err
		}
		emails[email] = struct{}{}
		regNos[regNo] = struct{}{}
	}
	return emails, regNos, rows.Err()
}

// InsertRow is one accepted roster row for bulk insert.
type InsertRow struct {
	Name  string `json:"name" binding:"required"`
	RegNo string `json:"reg_no" binding:"required"`
	Email string `json:"email" binding:"required"`
	Phone string `json:"phone"`
}

// BulkInsert persists accepted rows best-effort. Uniqueness conflicts (a
// concurrent import racing past the snapshot check) are skipped and not
// counted; any other error aborts the call. Tokens are left NULL.
func (r *Repository) BulkInsert(ctx context.Context, eventID uuid.UUID, rows []InsertRow) (int, error) {
	const q = `INSERT INTO registrations (event_id, name, reg_no, email, phone)
		VALUES ($1, $2, $3, $4, NULLIF($5,''))
		ON CONFLICT DO NOTHING`
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(q, eventID, row.Name, row.RegNo, strings.TrimSpace(row.Email), row.Phone)
	}
	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	inserted := 0
	for range rows {
		tag, err := br.Exec()
		if err != nil {
			return inserted, err
		}
		if tag.RowsAffected() > 0 {
			inserted++
		}
	}
	return inserted, nil
}

// ClaimToken sets the token only if it is still NULL (first write wins).
// Returns false when a concurrent assigner already claimed it.
func (r *Repository) ClaimToken(ctx context.Context, id uuid.UUID, token string) (bool, error) {
	const q = `UPDATE registrations SET token = $2, updated_at = NOW() WHERE id = $1 AND token IS NULL`
	tag, err := r.pool.Exec(ctx, q, id, token)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, ErrTokenTaken
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateRateWindow persists the fixed-window counter state and bumps the
// download count for an allowed retrieval.
func (r *Repository) UpdateRateWindow(ctx context.Context, id uuid.UUID, windowStart time.Time, count int) error {
	const q = `UPDATE registrations
		SET rate_window_start = $2, rate_count = $3, download_count = download_count + 1, updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, windowStart, count)
	return err
}

// MarkDelivered transitions delivery_state to sent.
func (r *Repository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	const q = `UPDATE registrations
		SET delivery_state = 'sent', delivery_sent_at = $2, delivery_error = NULL, updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, at)
	return err
}

// MarkDeliveryFailed transitions delivery_state to failed with the reason.
func (r *Repository) MarkDeliveryFailed(ctx context.Context, id uuid.UUID, reason string) error {
	const q = `UPDATE registrations
		SET delivery_state = 'failed', delivery_error = $2, updated_at = NOW()
		WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, reason)
	return err
}

// ResetDelivery moves rows back to pending for an explicit re-send. When
// onlyFailed is true, sent rows keep their state.
func (r *Repository) ResetDelivery(ctx context.Context, eventID uuid.UUID, onlyFailed bool) (int, error) {
	q := `UPDATE registrations
		SET delivery_state = 'pending', delivery_error = NULL, delivery_sent_at = NULL, updated_at = NOW()
		WHERE event_id = $1 AND delivery_state = 'failed'`
	if !onlyFailed {
		q = `UPDATE registrations
		SET delivery_state = 'pending', delivery_error = NULL, delivery_sent_at = NULL, updated_at = NOW()
		WHERE event_id = $1 AND delivery_state <> 'pending'`
	}
	tag, err := r.pool.Exec(ctx, q, eventID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Create inserts a single manual registration. A uniqueness conflict returns
// the typed error the caller maps to 409.
func (r *Repository) Create(ctx context.Context, reg *models.Registration) error {
	const q = `INSERT INTO registrations (event_id, name, reg_no, email, phone)
		VALUES ($1, $2, $3, $4, NULLIF($5,''))
		RETURNING id, download_count, delivery_state, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, reg.EventID, reg.Name, reg.RegNo, reg.Email, reg.Phone).
		Scan(&reg.ID, &reg.DownloadCount, &reg.DeliveryState, &reg.CreatedAt, &reg.UpdatedAt)
}

// IsUniqueViolation reports whether err is a unique-constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
