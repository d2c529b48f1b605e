package txlog

import (
	"context"
	"sync"

	"github.com/devrev/otree/internal/errors"
)

// MemoryLog keeps encoded transactions in process memory.
// Transactions round-trip through the codec so readers never share state with writers.
type MemoryLog struct {
	mu     sync.RWMutex
	tables map[string][][]byte
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{tables: make(map[string][][]byte)}
}

func (l *MemoryLog) Exists(ctx context.Context, tableID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.tables[tableID]
	return ok, nil
}

func (l *MemoryLog) Create(ctx context.Context, tableID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.tables[tableID]; !ok {
		l.tables[tableID] = nil
	}
	return nil
}

func (l *MemoryLog) LatestVersion(ctx context.Context, tableID string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	txs, ok := l.tables[tableID]
	if !ok {
		return 0, errors.TableNotFound(tableID)
	}
	return int64(len(txs)), nil
}

func (l *MemoryLog) Append(ctx context.Context, tableID string, expectedVersion int64, tx *Transaction) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	txs, ok := l.tables[tableID]
	if !ok {
		return CommitResult{}, errors.TableNotFound(tableID)
	}
	if current := int64(len(txs)); current != expectedVersion {
		return CommitResult{}, errors.ConcurrentCommit(tableID, expectedVersion, current)
	}

	stored := *tx
	stored.TableID = tableID
	stored.Version = expectedVersion + 1
	l.tables[tableID] = append(txs, Marshal(&stored))
	return resultOf(&stored), nil
}

func (l *MemoryLog) Read(ctx context.Context, tableID string, upto int64) ([]*Transaction, error) {
	l.mu.RLock()
	txs, ok := l.tables[tableID]
	l.mu.RUnlock()
	if !ok {
		return nil, errors.TableNotFound(tableID)
	}

	if upto < 0 || upto > int64(len(txs)) {
		upto = int64(len(txs))
	}
	out := make([]*Transaction, 0, upto)
	for _, raw := range txs[:upto] {
		tx, err := Unmarshal(raw)
		if err != nil {
			return nil, errors.CorruptedData("decode in-memory transaction", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func (l *MemoryLog) Close() error {
	return nil
}
