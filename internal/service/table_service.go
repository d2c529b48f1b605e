package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/otree/internal/catalog"
	"github.com/devrev/otree/internal/datafile"
	"github.com/devrev/otree/internal/metrics"
	"github.com/devrev/otree/internal/otree"
	"github.com/devrev/otree/internal/snapshot"
	"github.com/devrev/otree/internal/store"
	"github.com/devrev/otree/internal/txlog"
	"github.com/devrev/otree/internal/util/workerpool"
	"github.com/devrev/otree/internal/validation"
)

// Config holds indexing defaults and commit behaviour
type Config struct {
	DefaultCubeSize int64
	Partitions      int
	CommitRetries   int
	TableSeed       uint64
	IdempotencyTTL  time.Duration
}

// SpaceChecker rejects data file writes the disk cannot take
type SpaceChecker interface {
	CheckBeforeWrite(estimatedBytes uint64) error
}

// TableService is the orchestration layer for indexed tables
type TableService struct {
	cfg         Config
	log         txlog.Log
	loader      *snapshot.Loader
	data        *datafile.Store
	idempotency store.IdempotencyStore
	indexer     *otree.Indexer
	validator   *validation.Validator
	workerPool  *workerpool.WorkerPool
	space       SpaceChecker
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewTableService creates a new table service. idempotency may be nil to disable
// batch deduplication.
func NewTableService(
	cfg Config,
	log txlog.Log,
	loader *snapshot.Loader,
	data *datafile.Store,
	idempotency store.IdempotencyStore,
	workerPool *workerpool.WorkerPool,
	m *metrics.Metrics,
	logger *zap.Logger,
) *TableService {
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.IdempotencyTTL <= 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	s := &TableService{
		cfg:         cfg,
		log:         log,
		loader:      loader,
		data:        data,
		idempotency: idempotency,
		validator:   validation.NewValidator(),
		workerPool:  workerPool,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
	s.indexer = otree.NewIndexer(otree.Options{
		Partitions: cfg.Partitions,
		Seed:       cfg.TableSeed,
		Now:        func() time.Time { return s.now() },
	}, logger.Named("otree"))
	return s
}

// WithSpaceChecker makes saves check free space before writing data files
func (s *TableService) WithSpaceChecker(c SpaceChecker) *TableService {
	s.space = c
	return s
}

// Table returns the indexed view of a resolved table
func (s *TableService) Table(ref catalog.TableRef) *IndexedTable {
	return &IndexedTable{svc: s, ref: ref}
}

// Snapshot returns the latest snapshot of a table
func (s *TableService) Snapshot(ctx context.Context, tableID string) (*snapshot.Snapshot, error) {
	if err := s.validator.ValidateTableID(tableID); err != nil {
		return nil, err
	}
	return s.loader.Latest(ctx, tableID)
}

// SnapshotAt returns the snapshot of a table at a log version
func (s *TableService) SnapshotAt(ctx context.Context, tableID string, version int64) (*snapshot.Snapshot, error) {
	if err := s.validator.ValidateTableID(tableID); err != nil {
		return nil, err
	}
	return s.loader.Load(ctx, tableID, version)
}
