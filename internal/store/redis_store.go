package store

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/devrev/otree/internal/txlog"
)

// RedisStore keeps idempotency records in Redis so every service replica sees them
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis idempotency store
func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, tableID, batchID string) (txlog.CommitResult, error) {
	data, err := s.client.Get(ctx, buildKey(tableID, batchID)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return txlog.CommitResult{}, ErrNotFound
	}
	if err != nil {
		return txlog.CommitResult{}, err
	}

	var result txlog.CommitResult
	if err := json.Unmarshal(data, &result); err != nil {
		return txlog.CommitResult{}, fmt.Errorf("decode idempotency record: %w", err)
	}
	return result, nil
}

func (s *RedisStore) Put(ctx context.Context, tableID, batchID string, result txlog.CommitResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return s.client.SetNX(ctx, buildKey(tableID, batchID), data, ttl).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// buildKey creates a store key from table and batch id
func buildKey(tableID, batchID string) string {
	return fmt.Sprintf("otree:batch:%s:%s", tableID, batchID)
}
