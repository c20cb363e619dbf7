// Package tickets issues and serves the opaque per-registration ticket token,
// the sole credential for retrieval and check-in.
package tickets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gatepass/backend/internal/models"
	"github.com/gatepass/backend/internal/registrations"
)

// TokenStore is the registration persistence the assigner needs.
type TokenStore interface {
	// ClaimToken writes the token only while the column is still NULL.
	ClaimToken(ctx context.Context, id uuid.UUID, token string) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
}

// Assigner assigns each registration its token exactly once. Concurrent
// callers all observe the single canonical value; first write wins via the
// store's conditional update.
type Assigner struct {
	store TokenStore
}

// NewAssigner creates a token assigner.
func NewAssigner(store TokenStore) *Assigner {
	return &Assigner{store: store}
}

// NewToken returns 32 random bytes, base64url-encoded. Never derived from
// attendee data.
func NewToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// EnsureToken returns the registration's token, assigning one first if absent.
// Re-requests always reuse the stored token; regeneration is not supported.
func (a *Assigner) EnsureToken(ctx context.Context, reg *models.Registration) (string, error) {
	if reg.Token != nil && *reg.Token != "" {
		return *reg.Token, nil
	}

	// One retry covers the astronomically unlikely collision with the
	// token unique index.
	for attempt := 0; attempt < 2; attempt++ {
		token, err := NewToken()
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		claimed, err := a.store.ClaimToken(ctx, reg.ID, token)
		if err != nil {
			if errors.Is(err, registrations.ErrTokenTaken) {
				continue
			}
			return "", err
		}
		if claimed {
			reg.Token = &token
			return token, nil
		}
		// A concurrent assigner won; re-read the canonical value.
		stored, err := a.store.GetByID(ctx, reg.ID)
		if err != nil {
			return "", err
		}
		if stored.Token == nil || *stored.Token == "" {
			return "", fmt.Errorf("token claim lost but column still empty for %s", reg.ID)
		}
		reg.Token = stored.Token
		return *stored.Token, nil
	}
	return "", fmt.Errorf("token collision persisted after retry")
}
