package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailType for ticket mail.
const (
	EmailTypeTicket       = "ticket"
	EmailTypeTicketResend = "ticket_resend"
)

// EmailLogStatus for dispatch attempts.
const (
	EmailLogStatusSent   = "sent"
	EmailLogStatusFailed = "failed"
)

// EmailLog records one ticket dispatch attempt.
type EmailLog struct {
	ID             uuid.UUID  `json:"id"`
	EventID        *uuid.UUID `json:"event_id,omitempty"`
	RegistrationID *uuid.UUID `json:"registration_id,omitempty"`
	EmailType      string     `json:"email_type"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject,omitempty"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
