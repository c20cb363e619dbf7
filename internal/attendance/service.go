// Package attendance verifies presented ticket tokens and performs the
// at-most-once "mark present" transition.
package attendance

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gatepass/backend/internal/apperr"
	"github.com/gatepass/backend/internal/models"
)

// RegistrationSource resolves tokens to registrations.
type RegistrationSource interface {
	GetByToken(ctx context.Context, token string) (*models.Registration, error)
}

// Marker performs the unique-constrained attendance insert.
type Marker interface {
	Insert(ctx context.Context, eventID uuid.UUID, email, source string) (att *models.Attendance, already bool, err error)
}

// Service implements verification and marking on top of the store's atomic
// primitives; no in-process locking, multiple instances assumed.
type Service struct {
	regs   RegistrationSource
	marker Marker
}

// NewService creates an attendance service.
func NewService(regs RegistrationSource, marker Marker) *Service {
	return &Service{regs: regs, marker: marker}
}

// Verify resolves a presented token. An unknown token is apperr.ErrNotFound;
// a token bound to a different event than expected is apperr.ErrEventMismatch,
// so callers can tell "wrong event" from "unknown ticket". expectedEventID may
// be nil to skip the scope check.
func (s *Service) Verify(ctx context.Context, token string, expectedEventID *uuid.UUID) (*models.Registration, error) {
	if token == "" {
		return nil, apperr.ErrNotFound
	}
	reg, err := s.regs.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	if expectedEventID != nil && reg.EventID != *expectedEventID {
		return nil, apperr.ErrEventMismatch
	}
	return reg, nil
}

// Mark transitions (eventID, email) from unmarked to marked. A repeat or
// concurrent call yields already=true with the first call's record.
func (s *Service) Mark(ctx context.Context, eventID uuid.UUID, email, source string) (att *models.Attendance, already bool, err error) {
	if source != models.AttendanceSourceCounter && source != models.AttendanceSourceScanner {
		return nil, false, errors.New("invalid attendance source")
	}
	return s.marker.Insert(ctx, eventID, email, source)
}

// CheckIn verifies a token against the event and marks attendance in one step.
func (s *Service) CheckIn(ctx context.Context, token string, eventID uuid.UUID, source string) (reg *models.Registration, att *models.Attendance, already bool, err error) {
	reg, err = s.Verify(ctx, token, &eventID)
	if err != nil {
		return nil, nil, false, err
	}
	att, already, err = s.Mark(ctx, eventID, reg.Email, source)
	if err != nil {
		return nil, nil, false, err
	}
	return reg, att, already, nil
}
