package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryState for ticket emails.
const (
	DeliveryStatePending = "pending"
	DeliveryStateSent    = "sent"
	DeliveryStateFailed  = "failed"
)

// Registration is one attendee's ticket record for an event.
// (event_id, lower(email)) and (event_id, reg_no) are unique; token is set at
// most once and is the sole credential for retrieval and check-in.
type Registration struct {
	ID      uuid.UUID `json:"id"`
	EventID uuid.UUID `json:"event_id"`
	Name    string    `json:"name"`
	RegNo   string    `json:"reg_no"`
	Email   string    `json:"email"`
	Phone   string    `json:"phone,omitempty"`

	Token         *string `json:"token,omitempty"`
	DownloadCount int     `json:"download_count"`

	RateWindowStart *time.Time `json:"-"`
	RateCount       int        `json:"-"`

	DeliveryState  string     `json:"delivery_state"`
	DeliveryError  string     `json:"delivery_error,omitempty"`
	DeliverySentAt *time.Time `json:"delivery_sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the registration view returned to scanner/counter clients.
type Summary struct {
	ID      uuid.UUID `json:"id"`
	EventID uuid.UUID `json:"event_id"`
	Name    string    `json:"name"`
	RegNo   string    `json:"reg_no"`
	Email   string    `json:"email"`
}

// Summary returns the fields safe to expose at verification time.
func (r *Registration) Summary() Summary {
	return Summary{ID: r.ID, EventID: r.EventID, Name: r.Name, RegNo: r.RegNo, Email: r.Email}
}
