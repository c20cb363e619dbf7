package models

import (
	"time"

	"github.com/google/uuid"
)

// Role of a staff account.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleCounter Role = "counter"
	RoleScanner Role = "scanner"
)

// User is a staff account (organizer, counter desk, scanner device).
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	FullName  string    `json:"full_name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
