package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/otree/internal/txlog"
)

// MemoryStore implements IdempotencyStore using an in-memory map
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string]*storeItem
	maxSize int
	now     func() time.Time
	logger  *zap.Logger
}

type storeItem struct {
	result    txlog.CommitResult
	expiresAt time.Time
}

// NewMemoryStore creates a store holding at most maxSize batches
func NewMemoryStore(maxSize int, logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		data:    make(map[string]*storeItem),
		maxSize: maxSize,
		now:     time.Now,
		logger:  logger,
	}
}

func (s *MemoryStore) Get(ctx context.Context, tableID, batchID string) (txlog.CommitResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.data[buildKey(tableID, batchID)]
	if !ok || s.now().After(item.expiresAt) {
		return txlog.CommitResult{}, ErrNotFound
	}
	return item.result, nil
}

func (s *MemoryStore) Put(ctx context.Context, tableID, batchID string, result txlog.CommitResult, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := buildKey(tableID, batchID)
	if item, ok := s.data[key]; ok && !now.After(item.expiresAt) {
		return nil
	}

	if s.maxSize > 0 && len(s.data) >= s.maxSize {
		s.evict(now)
	}
	s.data[key] = &storeItem{result: result, expiresAt: now.Add(ttl)}
	return nil
}

// evict drops expired items, then the item closest to expiry if still full
func (s *MemoryStore) evict(now time.Time) {
	var oldestKey string
	var oldest time.Time
	for key, item := range s.data {
		if now.After(item.expiresAt) {
			delete(s.data, key)
			continue
		}
		if oldestKey == "" || item.expiresAt.Before(oldest) {
			oldestKey, oldest = key, item.expiresAt
		}
	}
	if len(s.data) >= s.maxSize && oldestKey != "" {
		delete(s.data, oldestKey)
		s.logger.Debug("Evicted idempotency record", zap.String("key", oldestKey))
	}
}

// Size returns the number of stored records, expired ones included
func (s *MemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
