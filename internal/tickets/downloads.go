package tickets

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gatepass/backend/internal/apperr"
)

const downloadKeyPrefix = "ticket:download:"

// DownloadStore hands out one-time download keys backed by Redis with TTL, so
// any instance can serve the follow-up download request.
type DownloadStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewDownloadStore creates a download key store.
func NewDownloadStore(client *redis.Client, ttl time.Duration) *DownloadStore {
	return &DownloadStore{client: client, ttl: ttl}
}

// TTL returns the configured key lifetime.
func (s *DownloadStore) TTL() time.Duration { return s.ttl }

// Put stores a fresh key for the registration and returns it.
func (s *DownloadStore) Put(ctx context.Context, registrationID uuid.UUID) (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	key := hex.EncodeToString(b)
	if err := s.client.Set(ctx, downloadKeyPrefix+key, registrationID.String(), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store download key: %w", err)
	}
	return key, nil
}

// Take resolves and consumes a key. Expired or already-used keys resolve to
// apperr.ErrNotFound.
func (s *DownloadStore) Take(ctx context.Context, key string) (uuid.UUID, error) {
	val, err := s.client.GetDel(ctx, downloadKeyPrefix+key).Result()
	if err == redis.Nil {
		return uuid.Nil, apperr.ErrNotFound
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve download key: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("corrupt download key value: %w", err)
	}
	return id, nil
}
