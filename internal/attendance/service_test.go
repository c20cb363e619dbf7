package attendance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gatepass/backend/internal/apperr"
	"github.com/gatepass/backend/internal/models"
)

type fakeRegSource struct {
	byToken map[string]*models.Registration
}

func (f *fakeRegSource) GetByToken(_ context.Context, token string) (*models.Registration, error) {
	reg, ok := f.byToken[token]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return reg, nil
}

type fakeMarker struct {
	marked map[string]*models.Attendance
}

func newFakeMarker() *fakeMarker {
	return &fakeMarker{marked: make(map[string]*models.Attendance)}
}

func (f *fakeMarker) Insert(_ context.Context, eventID uuid.UUID, email, source string) (*models.Attendance, bool, error) {
	key := eventID.String() + "/" + strings.ToLower(email)
	if existing, ok := f.marked[key]; ok {
		return existing, true, nil
	}
	att := &models.Attendance{
		ID:       uuid.New(),
		EventID:  eventID,
		Email:    email,
		Source:   source,
		MarkedAt: time.Now(),
	}
	f.marked[key] = att
	return att, false, nil
}

func TestVerifyUnknownToken(t *testing.T) {
	svc := NewService(&fakeRegSource{byToken: map[string]*models.Registration{}}, newFakeMarker())
	if _, err := svc.Verify(context.Background(), "nope", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Verify(context.Background(), "", nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("empty token err = %v, want ErrNotFound", err)
	}
}

func TestVerifyEventMismatch(t *testing.T) {
	eventA := uuid.New()
	eventB := uuid.New()
	regs := &fakeRegSource{byToken: map[string]*models.Registration{
		"tok": {ID: uuid.New(), EventID: eventA, Email: "asha@example.com"},
	}}
	svc := NewService(regs, newFakeMarker())

	if _, err := svc.Verify(context.Background(), "tok", &eventB); !errors.Is(err, apperr.ErrEventMismatch) {
		t.Fatalf("err = %v, want ErrEventMismatch", err)
	}
	reg, err := svc.Verify(context.Background(), "tok", &eventA)
	if err != nil {
		t.Fatalf("matching event: %v", err)
	}
	if reg.Email != "asha@example.com" {
		t.Errorf("reg = %+v", reg)
	}
	// nil expected event skips the scope check.
	if _, err := svc.Verify(context.Background(), "tok", nil); err != nil {
		t.Errorf("nil event check: %v", err)
	}
}

func TestMarkIsAtMostOnce(t *testing.T) {
	svc := NewService(&fakeRegSource{byToken: map[string]*models.Registration{}}, newFakeMarker())
	eventID := uuid.New()

	first, already, err := svc.Mark(context.Background(), eventID, "asha@example.com", models.AttendanceSourceCounter)
	if err != nil || already {
		t.Fatalf("first mark: already=%v err=%v", already, err)
	}

	second, already, err := svc.Mark(context.Background(), eventID, "asha@example.com", models.AttendanceSourceScanner)
	if err != nil {
		t.Fatalf("second mark: %v", err)
	}
	if !already {
		t.Fatal("second mark should report already=true")
	}
	if !second.MarkedAt.Equal(first.MarkedAt) || second.Source != first.Source {
		t.Errorf("repeat mark returned %+v, want the original record %+v", second, first)
	}
}

func TestMarkRejectsUnknownSource(t *testing.T) {
	svc := NewService(&fakeRegSource{byToken: map[string]*models.Registration{}}, newFakeMarker())
	if _, _, err := svc.Mark(context.Background(), uuid.New(), "a@b.co", "webhook"); err == nil {
		t.Fatal("expected error for unknown source")
	}
}

func TestCheckIn(t *testing.T) {
	eventID := uuid.New()
	regs := &fakeRegSource{byToken: map[string]*models.Registration{
		"tok": {ID: uuid.New(), EventID: eventID, Email: "asha@example.com"},
	}}
	svc := NewService(regs, newFakeMarker())

	reg, att, already, err := svc.CheckIn(context.Background(), "tok", eventID, models.AttendanceSourceScanner)
	if err != nil || already {
		t.Fatalf("checkin: already=%v err=%v", already, err)
	}
	if att.Email != reg.Email || att.EventID != eventID {
		t.Errorf("attendance = %+v for reg %+v", att, reg)
	}

	_, att2, already, err := svc.CheckIn(context.Background(), "tok", eventID, models.AttendanceSourceScanner)
	if err != nil {
		t.Fatalf("repeat checkin: %v", err)
	}
	if !already || !att2.MarkedAt.Equal(att.MarkedAt) {
		t.Errorf("repeat checkin: already=%v att=%+v", already, att2)
	}

	if _, _, _, err := svc.CheckIn(context.Background(), "tok", uuid.New(), models.AttendanceSourceScanner); !errors.Is(err, apperr.ErrEventMismatch) {
		t.Errorf("wrong event err = %v, want ErrEventMismatch", err)
	}
}
