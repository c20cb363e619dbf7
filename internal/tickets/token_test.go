package tickets

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/gatepass/backend/internal/models"
	"github.com/gatepass/backend/internal/registrations"
)

type fakeTokenStore struct {
	tokens      map[uuid.UUID]string
	collideOnce bool
	claims      int
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: make(map[uuid.UUID]string)}
}

func (s *fakeTokenStore) ClaimToken(_ context.Context, id uuid.UUID, token string) (bool, error) {
	s.claims++
	if s.collideOnce {
		s.collideOnce = false
		return false, registrations.ErrTokenTaken
	}
	if _, ok := s.tokens[id]; ok {
		return false, nil
	}
	s.tokens[id] = token
	return true, nil
}

func (s *fakeTokenStore) GetByID(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	reg := &models.Registration{ID: id}
	if tok, ok := s.tokens[id]; ok {
		reg.Token = &tok
	}
	return reg, nil
}

func TestEnsureTokenAssignsOnce(t *testing.T) {
	store := newFakeTokenStore()
	assigner := NewAssigner(store)
	reg := &models.Registration{ID: uuid.New()}

	first, err := assigner.EnsureToken(context.Background(), reg)
	if err != nil {
		t.Fatalf("first EnsureToken: %v", err)
	}
	if first == "" {
		t.Fatal("empty token assigned")
	}
	if reg.Token == nil || *reg.Token != first {
		t.Error("token not written back to the registration")
	}

	second, err := assigner.EnsureToken(context.Background(), reg)
	if err != nil {
		t.Fatalf("second EnsureToken: %v", err)
	}
	if second != first {
		t.Errorf("token regenerated: %q then %q", first, second)
	}
	if store.claims != 1 {
		t.Errorf("claims = %d, want 1 (second call served from the loaded row)", store.claims)
	}
}

func TestEnsureTokenLostRaceReadsCanonicalValue(t *testing.T) {
	store := newFakeTokenStore()
	regID := uuid.New()
	store.tokens[regID] = "winner-token"

	// Stale row: the caller loaded it before a concurrent assigner claimed.
	reg := &models.Registration{ID: regID}
	got, err := NewAssigner(store).EnsureToken(context.Background(), reg)
	if err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if got != "winner-token" {
		t.Errorf("token = %q, want the concurrent winner's value", got)
	}
	if reg.Token == nil || *reg.Token != "winner-token" {
		t.Error("canonical token not written back")
	}
}

func TestEnsureTokenRetriesOnCollision(t *testing.T) {
	store := newFakeTokenStore()
	store.collideOnce = true
	reg := &models.Registration{ID: uuid.New()}

	got, err := NewAssigner(store).EnsureToken(context.Background(), reg)
	if err != nil {
		t.Fatalf("EnsureToken: %v", err)
	}
	if got == "" {
		t.Fatal("empty token after collision retry")
	}
	if store.claims != 2 {
		t.Errorf("claims = %d, want 2 (one collision, one success)", store.claims)
	}
}

func TestNewTokenIsOpaqueAndUnique(t *testing.T) {
	a, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	b, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if a == b {
		t.Error("two generated tokens are identical")
	}
	if len(a) < 40 {
		t.Errorf("token %q too short for 32 random bytes", a)
	}
}
