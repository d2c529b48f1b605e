package txlog

import (
	"context"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/errors"
)

// BadgerLogConfig holds badger log configuration
type BadgerLogConfig struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

// BadgerLog keeps every table's log in one embedded badger database.
// Keys: t/<table>/head -> latest version, t/<table>/v/<version> -> transaction.
// The head key is read and written in the same transaction, so racing appends
// surface as badger.ErrConflict.
type BadgerLog struct {
	db     *badger.DB
	logger *zap.Logger
}

// badgerLogger adapts zap to badger's logger interface
type badgerLogger struct {
	sugar *zap.SugaredLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{})   { l.sugar.Errorf(format, args...) }
func (l badgerLogger) Warningf(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }
func (l badgerLogger) Infof(format string, args ...interface{})    { l.sugar.Debugf(format, args...) }
func (l badgerLogger) Debugf(format string, args ...interface{})   { l.sugar.Debugf(format, args...) }

// NewBadgerLog opens the badger database described by cfg
func NewBadgerLog(cfg *BadgerLogConfig, logger *zap.Logger) (*BadgerLog, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.Configuration("badger log path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLogger{sugar: logger.Named("badger").Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger log: %w", err)
	}
	return &BadgerLog{db: db, logger: logger}, nil
}

func headKey(tableID string) []byte {
	return []byte("t/" + tableID + "/head")
}

func versionPrefix(tableID string) []byte {
	return []byte("t/" + tableID + "/v/")
}

func versionKey(tableID string, version int64) []byte {
	return binary.BigEndian.AppendUint64(versionPrefix(tableID), uint64(version))
}

func readHead(txn *badger.Txn, tableID string) (int64, error) {
	item, err := txn.Get(headKey(tableID))
	if err != nil {
		return 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, errors.CorruptedData(fmt.Sprintf("table %s head has %d bytes", tableID, len(raw)), nil)
	}
	return int64(binary.BigEndian.Uint64(raw)), nil
}

func encodeHead(version int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(version))
}

func (l *BadgerLog) Exists(ctx context.Context, tableID string) (bool, error) {
	err := l.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(headKey(tableID))
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.LogFailed("check table log", err)
	}
	return true, nil
}

func (l *BadgerLog) Create(ctx context.Context, tableID string) error {
	err := l.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(headKey(tableID))
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(headKey(tableID), encodeHead(0))
	})
	if err != nil && !stderrors.Is(err, badger.ErrConflict) {
		return errors.LogFailed("create table log", err)
	}
	return nil
}

func (l *BadgerLog) LatestVersion(ctx context.Context, tableID string) (int64, error) {
	var head int64
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		head, err = readHead(txn, tableID)
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return 0, errors.TableNotFound(tableID)
	}
	if err != nil {
		return 0, wrapBadger("read table head", err)
	}
	return head, nil
}

func (l *BadgerLog) Append(ctx context.Context, tableID string, expectedVersion int64, tx *Transaction) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}

	stored := *tx
	stored.TableID = tableID
	stored.Version = expectedVersion + 1

	err := l.db.Update(func(txn *badger.Txn) error {
		head, err := readHead(txn, tableID)
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return errors.TableNotFound(tableID)
		}
		if err != nil {
			return err
		}
		if head != expectedVersion {
			return errors.ConcurrentCommit(tableID, expectedVersion, head)
		}
		if err := txn.Set(versionKey(tableID, stored.Version), Marshal(&stored)); err != nil {
			return err
		}
		return txn.Set(headKey(tableID), encodeHead(stored.Version))
	})
	if stderrors.Is(err, badger.ErrConflict) {
		current, _ := l.LatestVersion(ctx, tableID)
		return CommitResult{}, errors.ConcurrentCommit(tableID, expectedVersion, current)
	}
	if err != nil {
		return CommitResult{}, wrapBadger("append transaction", err)
	}
	return resultOf(&stored), nil
}

func (l *BadgerLog) Read(ctx context.Context, tableID string, upto int64) ([]*Transaction, error) {
	var out []*Transaction
	err := l.db.View(func(txn *badger.Txn) error {
		head, err := readHead(txn, tableID)
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return errors.TableNotFound(tableID)
		}
		if err != nil {
			return err
		}
		if upto < 0 || upto > head {
			upto = head
		}

		prefix := versionPrefix(tableID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		expected := int64(1)
		for it.Seek(prefix); it.ValidForPrefix(prefix) && expected <= upto; it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			tx, err := Unmarshal(raw)
			if err != nil {
				return errors.CorruptedData(fmt.Sprintf("table %s version %d", tableID, expected), err)
			}
			if tx.Version != expected {
				return errors.CorruptedData(fmt.Sprintf("table %s log has version %d where %d was expected", tableID, tx.Version, expected), nil)
			}
			out = append(out, tx)
			expected++
		}
		if expected <= upto {
			return errors.CorruptedData(fmt.Sprintf("table %s log ends at version %d, head is %d", tableID, expected-1, head), nil)
		}
		return nil
	})
	if err != nil {
		return nil, wrapBadger("read table log", err)
	}
	return out, nil
}

func (l *BadgerLog) Close() error {
	return l.db.Close()
}

// wrapBadger keeps coded errors and wraps everything else as a log failure
func wrapBadger(msg string, err error) error {
	if errors.IsIndexError(err) || stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.LogFailed(msg, err)
}
