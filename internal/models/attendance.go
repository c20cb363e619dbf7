package models

import (
	"time"

	"github.com/google/uuid"
)

// Attendance source.
const (
	AttendanceSourceCounter = "counter"
	AttendanceSourceScanner = "scanner"
)

// Attendance marks one attendee present at one event. (event_id, lower(email))
// is unique; the row is immutable once created.
type Attendance struct {
	ID       uuid.UUID `json:"id"`
	EventID  uuid.UUID `json:"event_id"`
	Email    string    `json:"email"`
	Source   string    `json:"source"`
	MarkedAt time.Time `json:"marked_at"`
}
