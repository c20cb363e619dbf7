package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is a ticketed event owning registrations and attendance records.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Venue     string    `json:"venue,omitempty"`
	StartsAt  time.Time `json:"starts_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Ticket template descriptor consumed by artifact rendering: S3 key of the
	// base image plus field coordinates (name, regno, QR placement).
	TemplateImageKey string          `json:"template_image_key,omitempty"`
	TemplateFields   json.RawMessage `json:"template_fields,omitempty"`
}

// EventStats summarizes registration and attendance counts for an event.
type EventStats struct {
	Registered int `json:"registered"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	Attended   int `json:"attended"`
}
