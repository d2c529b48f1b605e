package txlog

import (
	"context"
	"time"

	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/status"
)

// Latest asks Read for every committed transaction
const Latest int64 = -1

// DataFile references one data file written by a transaction
type DataFile struct {
	Path  string `json:"path"`
	Cube  string `json:"cube"`
	Rows  int64  `json:"rows"`
	Bytes int64  `json:"bytes"`
}

// Transaction is one committed write. Version is assigned by the log:
// the first transaction of a table is version 1.
type Transaction struct {
	Version     int64
	TableID     string
	ID          string
	BatchID     string
	RevisionID  int64
	Revision    *revision.Revision // set when the transaction introduces the revision
	Cubes       []status.Entry
	DataFiles   []DataFile
	CommittedAt time.Time
}

// CommitResult describes a successful append
type CommitResult struct {
	TableID       string    `json:"table_id"`
	Version       int64     `json:"version"`
	TransactionID string    `json:"transaction_id"`
	RevisionID    int64     `json:"revision_id"`
	CommittedAt   time.Time `json:"committed_at"`
}

// Log is the append-only transaction log of indexed tables.
// Implementations must make Append atomic: either the transaction becomes
// version expectedVersion+1, or the call fails with a ConcurrentCommit error
// and nothing is written.
type Log interface {
	// Exists reports whether the table log was created
	Exists(ctx context.Context, tableID string) (bool, error)

	// Create initializes an empty log. Creating an existing log is a no-op.
	Create(ctx context.Context, tableID string) error

	// LatestVersion returns the highest committed version, 0 for an empty log
	LatestVersion(ctx context.Context, tableID string) (int64, error)

	// Append commits tx as version expectedVersion+1
	Append(ctx context.Context, tableID string, expectedVersion int64, tx *Transaction) (CommitResult, error)

	// Read returns committed transactions with version <= upto in version order.
	// Pass Latest to read everything.
	Read(ctx context.Context, tableID string, upto int64) ([]*Transaction, error)

	// Close releases resources held by the log
	Close() error
}

func resultOf(tx *Transaction) CommitResult {
	return CommitResult{
		TableID:       tx.TableID,
		Version:       tx.Version,
		TransactionID: tx.ID,
		RevisionID:    tx.RevisionID,
		CommittedAt:   tx.CommittedAt,
	}
}
