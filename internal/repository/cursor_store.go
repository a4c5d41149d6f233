package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// CursorStore keeps the per-queue round-robin rotation cursor (the last assigned agent).
// Concurrent writers resolve last-writer-wins.
type CursorStore interface {
	Get(ctx context.Context, tenantID, queueID string) (string, error)
	Set(ctx context.Context, tenantID, queueID, agentID string) error
}

type redisCursorStore struct {
	client *redis.Client
}

// NewRedisCursorStore stores cursors under routing:cursor:{tenant}:{queue}.
func NewRedisCursorStore(client *redis.Client) CursorStore {
	return &redisCursorStore{client: client}
}

func cursorKey(tenantID, queueID string) string {
	return fmt.Sprintf("routing:cursor:%s:%s", tenantID, queueID)
}

func (s *redisCursorStore) Get(ctx context.Context, tenantID, queueID string) (string, error) {
	val, err := s.client.Get(ctx, cursorKey(tenantID, queueID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (s *redisCursorStore) Set(ctx context.Context, tenantID, queueID, agentID string) error {
	return s.client.Set(ctx, cursorKey(tenantID, queueID), agentID, 0).Err()
}
