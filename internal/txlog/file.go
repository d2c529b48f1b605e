package txlog

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/util"
)

const (
	logDirName = "_otree_log"
	txSuffix   = ".txn"
)

// FileLogConfig holds file log configuration
type FileLogConfig struct {
	RootDir    string
	SyncWrites bool
}

// FileLog stores one framed file per committed version under
// <root>/<escaped table>/_otree_log/<version>.txn. A version file is published
// with a hard link, which fails when another writer got there first.
type FileLog struct {
	config *FileLogConfig
	logger *zap.Logger
}

// NewFileLog creates a file log rooted at cfg.RootDir
func NewFileLog(cfg *FileLogConfig, logger *zap.Logger) (*FileLog, error) {
	if err := os.MkdirAll(cfg.RootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log root directory: %w", err)
	}
	return &FileLog{config: cfg, logger: logger}, nil
}

// TableDir returns the directory holding a table's log and data
func (l *FileLog) TableDir(tableID string) string {
	return filepath.Join(l.config.RootDir, url.PathEscape(tableID))
}

func (l *FileLog) logDir(tableID string) string {
	return filepath.Join(l.TableDir(tableID), logDirName)
}

func versionFile(version int64) string {
	return fmt.Sprintf("%020d%s", version, txSuffix)
}

func (l *FileLog) Exists(ctx context.Context, tableID string) (bool, error) {
	info, err := os.Stat(l.logDir(tableID))
	if stderrors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.LogFailed("stat table log", err)
	}
	return info.IsDir(), nil
}

func (l *FileLog) Create(ctx context.Context, tableID string) error {
	if err := os.MkdirAll(l.logDir(tableID), 0755); err != nil {
		return errors.LogFailed("create table log", err)
	}
	l.logger.Info("Created table log", zap.String("table_id", tableID), zap.String("path", l.logDir(tableID)))
	return nil
}

// versions lists committed versions in ascending order
func (l *FileLog) versions(tableID string) ([]int64, error) {
	entries, err := os.ReadDir(l.logDir(tableID))
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, errors.TableNotFound(tableID)
	}
	if err != nil {
		return nil, errors.LogFailed("list table log", err)
	}
	var out []int64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, txSuffix) {
			continue
		}
		v, err := strconv.ParseInt(strings.TrimSuffix(name, txSuffix), 10, 64)
		if err != nil {
			l.logger.Warn("Ignoring unexpected file in table log", zap.String("file", name))
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (l *FileLog) LatestVersion(ctx context.Context, tableID string) (int64, error) {
	vs, err := l.versions(tableID)
	if err != nil {
		return 0, err
	}
	if len(vs) == 0 {
		return 0, nil
	}
	return vs[len(vs)-1], nil
}

func (l *FileLog) Append(ctx context.Context, tableID string, expectedVersion int64, tx *Transaction) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}
	latest, err := l.LatestVersion(ctx, tableID)
	if err != nil {
		return CommitResult{}, err
	}
	if latest != expectedVersion {
		return CommitResult{}, errors.ConcurrentCommit(tableID, expectedVersion, latest)
	}

	stored := *tx
	stored.TableID = tableID
	stored.Version = expectedVersion + 1
	data := util.Frame(Marshal(&stored))

	dir := l.logDir(tableID)
	tmp, err := os.CreateTemp(dir, ".pending-*")
	if err != nil {
		return CommitResult{}, errors.LogFailed("create pending transaction file", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return CommitResult{}, errors.LogFailed("write pending transaction", err)
	}
	if l.config.SyncWrites {
		if err := tmp.Sync(); err != nil {
			tmp.Close()
			return CommitResult{}, errors.LogFailed("sync pending transaction", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return CommitResult{}, errors.LogFailed("close pending transaction", err)
	}

	// link fails if the version already exists, which makes publishing atomic
	final := filepath.Join(dir, versionFile(stored.Version))
	if err := os.Link(tmpPath, final); err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			current, _ := l.LatestVersion(ctx, tableID)
			return CommitResult{}, errors.ConcurrentCommit(tableID, expectedVersion, current)
		}
		return CommitResult{}, errors.LogFailed("publish transaction", err)
	}

	l.logger.Debug("Appended transaction",
		zap.String("table_id", tableID),
		zap.Int64("version", stored.Version),
		zap.Int("bytes", len(data)))
	return resultOf(&stored), nil
}

func (l *FileLog) Read(ctx context.Context, tableID string, upto int64) ([]*Transaction, error) {
	vs, err := l.versions(tableID)
	if err != nil {
		return nil, err
	}

	out := make([]*Transaction, 0, len(vs))
	for i, v := range vs {
		if upto >= 0 && v > upto {
			break
		}
		if v != int64(i+1) {
			return nil, errors.CorruptedData(fmt.Sprintf("table %s log has a gap before version %d", tableID, v), nil).
				WithDetail("table_id", tableID)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tx, err := l.readVersion(tableID, v)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (l *FileLog) readVersion(tableID string, version int64) (*Transaction, error) {
	path := filepath.Join(l.logDir(tableID), versionFile(version))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.LogFailed("read transaction file", err)
	}
	payload, err := util.Unframe(raw)
	if err != nil {
		return nil, errors.CorruptedData(fmt.Sprintf("transaction file %s", path), err).
			WithDetail("version", version)
	}
	tx, err := Unmarshal(payload)
	if err != nil {
		return nil, errors.CorruptedData(fmt.Sprintf("transaction file %s", path), err).
			WithDetail("version", version)
	}
	if tx.Version != version {
		return nil, errors.CorruptedData(fmt.Sprintf("transaction file %s holds version %d", path, tx.Version), nil)
	}
	return tx, nil
}

func (l *FileLog) Close() error {
	return nil
}
