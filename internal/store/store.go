package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/devrev/otree/internal/txlog"
)

// ErrNotFound is returned when no commit is recorded for a batch id
var ErrNotFound = stderrors.New("batch not found")

// IdempotencyStore remembers the commit of every identified batch so a retried
// save returns the earlier result instead of indexing the rows twice.
type IdempotencyStore interface {
	// Get returns the commit recorded for batchID, or ErrNotFound
	Get(ctx context.Context, tableID, batchID string) (txlog.CommitResult, error)

	// Put records the commit of batchID for ttl. An existing record is kept.
	Put(ctx context.Context, tableID, batchID string, result txlog.CommitResult, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}
