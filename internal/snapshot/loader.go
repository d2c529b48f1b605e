package snapshot

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/metrics"
	"github.com/devrev/otree/internal/txlog"
)

type cacheKey struct {
	table  string
	offset int64
}

// Loader folds snapshots from a log and caches them by (table, offset).
// Folding is deterministic per offset, so cached entries never go stale.
type Loader struct {
	log     txlog.Log
	cache   *lru.Cache[cacheKey, *Snapshot]
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewLoader creates a loader keeping up to size snapshots
func NewLoader(log txlog.Log, size int, m *metrics.Metrics, logger *zap.Logger) (*Loader, error) {
	cache, err := lru.New[cacheKey, *Snapshot](size)
	if err != nil {
		return nil, err
	}
	return &Loader{log: log, cache: cache, metrics: m, logger: logger}, nil
}

// Latest returns the snapshot at the newest committed version of tableID
func (l *Loader) Latest(ctx context.Context, tableID string) (*Snapshot, error) {
	offset, err := l.log.LatestVersion(ctx, tableID)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, tableID, offset)
}

// Load returns the snapshot of tableID at offset
func (l *Loader) Load(ctx context.Context, tableID string, offset int64) (*Snapshot, error) {
	if offset < 0 {
		return l.Latest(ctx, tableID)
	}
	key := cacheKey{table: tableID, offset: offset}
	if s, ok := l.cache.Get(key); ok {
		l.metrics.RecordSnapshotCacheHit()
		return s, nil
	}
	l.metrics.RecordSnapshotCacheMiss()

	start := time.Now()
	s, err := Load(ctx, l.log, tableID, offset)
	if err != nil {
		return nil, err
	}

	counts := make([]int, 0, len(s.revisions))
	for _, st := range s.statuses {
		counts = append(counts, st.Len())
	}
	l.metrics.RecordSnapshotLoad(time.Since(start).Seconds(), counts)
	l.cache.Add(key, s)

	l.logger.Debug("Loaded snapshot",
		zap.String("table_id", tableID),
		zap.Int64("offset", offset),
		zap.Int("revisions", len(s.revisions)),
		zap.Duration("duration", time.Since(start)))
	return s, nil
}

// Purge drops every cached snapshot
func (l *Loader) Purge() {
	l.cache.Purge()
}
