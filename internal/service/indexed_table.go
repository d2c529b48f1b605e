package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/catalog"
	"github.com/devrev/otree/internal/cube"
	"github.com/devrev/otree/internal/datafile"
	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/model"
	"github.com/devrev/otree/internal/otree"
	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/snapshot"
	"github.com/devrev/otree/internal/status"
	"github.com/devrev/otree/internal/store"
	"github.com/devrev/otree/internal/txlog"
	"github.com/devrev/otree/internal/util/workerpool"
)

// SaveOptions configures one save
type SaveOptions struct {
	// Columns to index. Empty reuses the columns of the latest revision.
	Columns []string

	// CubeSize is the desired records per cube. Zero reuses the latest revision's
	// size, or the service default for a new table.
	CubeSize int64

	// AutoExpand lets out-of-range values widen the revision instead of failing
	AutoExpand bool

	// Append must be set to write into a table that already exists
	Append bool

	// BatchID makes the save idempotent when set
	BatchID string
}

// SaveResult describes a committed (or replayed) save
type SaveResult struct {
	txlog.CommitResult
	Records     int  `json:"records"`
	Cubes       int  `json:"cubes"`
	DataFiles   int  `json:"data_files"`
	NewRevision bool `json:"new_revision"`
	Attempts    int  `json:"attempts"`
	Replayed    bool `json:"replayed"`
}

// IndexedTable is the write and read entry point of one table
type IndexedTable struct {
	svc *TableService
	ref catalog.TableRef
}

// Ref returns the resolved table reference
func (t *IndexedTable) Ref() catalog.TableRef {
	return t.ref
}

// Save indexes batch and commits it as one transaction. A commit that loses
// the race against another writer is retried from a fresh snapshot.
func (t *IndexedTable) Save(ctx context.Context, batch *model.Batch, opts SaveOptions) (*SaveResult, error) {
	s := t.svc
	tableID := t.ref.ID
	start := s.now()

	res, err := t.save(ctx, batch, opts)

	duration := s.now().Sub(start).Seconds()
	switch {
	case err != nil:
		s.metrics.RecordSave("failed", duration, 0)
		s.logger.Warn("Save failed",
			zap.String("table_id", tableID),
			zap.String("batch_id", opts.BatchID),
			zap.Error(err))
	case res.Replayed:
		s.metrics.RecordSave("replayed", duration, 0)
	default:
		s.metrics.RecordSave("committed", duration, res.Records)
	}
	return res, err
}

func (t *IndexedTable) save(ctx context.Context, batch *model.Batch, opts SaveOptions) (*SaveResult, error) {
	s := t.svc
	tableID := t.ref.ID

	if err := s.validator.ValidateSave(tableID, opts.BatchID, batch, opts.Columns, opts.CubeSize); err != nil {
		return nil, err
	}

	if opts.BatchID != "" && s.idempotency != nil {
		prior, err := s.idempotency.Get(ctx, tableID, opts.BatchID)
		if err == nil {
			s.metrics.RecordReplay()
			s.logger.Info("Replaying committed batch",
				zap.String("table_id", tableID),
				zap.String("batch_id", opts.BatchID),
				zap.Int64("version", prior.Version))
			return &SaveResult{CommitResult: prior, Replayed: true}, nil
		}
		if !stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.Unavailable("idempotency store lookup failed", err)
		}
	}

	exists, err := s.log.Exists(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := s.log.Create(ctx, tableID); err != nil {
			return nil, err
		}
	} else if !opts.Append {
		// a created log without commits still counts as a new table
		version, err := s.log.LatestVersion(ctx, tableID)
		if err != nil {
			return nil, err
		}
		if version > 0 {
			return nil, errors.Configuration(fmt.Sprintf("table %s already exists; overwriting is not supported, save with append", tableID)).
				WithDetail("table_id", tableID)
		}
	}

	// weights are keyed by batch id, fixed across retries
	if batch.ID == "" {
		keyed := *batch
		keyed.ID = opts.BatchID
		if keyed.ID == "" {
			keyed.ID = uuid.NewString()
		}
		batch = &keyed
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.CommitRetries+1; attempt++ {
		res, err := t.attempt(ctx, batch, opts)
		if err == nil {
			res.Attempts = attempt
			if opts.BatchID != "" && s.idempotency != nil {
				if perr := s.idempotency.Put(ctx, tableID, opts.BatchID, res.CommitResult, s.cfg.IdempotencyTTL); perr != nil {
					s.logger.Warn("Failed to record batch commit",
						zap.String("table_id", tableID),
						zap.String("batch_id", opts.BatchID),
						zap.Error(perr))
				}
			}
			return res, nil
		}
		if !errors.IsConcurrentCommit(err) {
			return nil, err
		}
		lastErr = err
		s.logger.Info("Commit lost the race, retrying",
			zap.String("table_id", tableID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}
	return nil, lastErr
}

// attempt runs one full pass: snapshot, revision choice, indexing, data files, commit
func (t *IndexedTable) attempt(ctx context.Context, batch *model.Batch, opts SaveOptions) (*SaveResult, error) {
	s := t.svc
	tableID := t.ref.ID

	snap, err := s.loader.Latest(ctx, tableID)
	if err != nil {
		return nil, err
	}
	rev, prev, introduced, err := t.chooseRevision(snap, batch, opts)
	if err != nil {
		return nil, err
	}

	indexed, err := s.indexer.Index(ctx, rev, prev, batch)
	if err != nil {
		return nil, err
	}
	if indexed.NewRevision {
		rev, introduced = indexed.Revision, true
	}

	files, err := t.writeDataFiles(ctx, rev, batch, indexed)
	if err != nil {
		return nil, err
	}

	tx := &txlog.Transaction{
		ID:          uuid.NewString(),
		BatchID:     opts.BatchID,
		RevisionID:  rev.ID,
		Cubes:       indexed.Entries,
		DataFiles:   files,
		CommittedAt: s.now().UTC(),
	}
	if introduced {
		tx.Revision = rev
	}

	commitStart := s.now()
	committed, err := s.log.Append(ctx, tableID, snap.Offset(), tx)
	s.metrics.RecordCommit(s.now().Sub(commitStart).Seconds(), errors.IsConcurrentCommit(err))
	if err != nil {
		s.data.Remove(files)
		s.metrics.RecordOrphanedFiles(len(files))
		return nil, err
	}
	if introduced {
		s.metrics.RecordRevision(indexed.NewRevision)
	}

	s.logger.Info("Committed transaction",
		zap.String("table_id", tableID),
		zap.Int64("version", committed.Version),
		zap.Int64("revision_id", rev.ID),
		zap.Int("records", batch.Len()),
		zap.Int("cubes", len(indexed.Entries)),
		zap.Bool("new_revision", introduced))

	return &SaveResult{
		CommitResult: committed,
		Records:      batch.Len(),
		Cubes:        len(indexed.Entries),
		DataFiles:    len(files),
		NewRevision:  introduced,
	}, nil
}

// chooseRevision reuses the latest revision when the options match it and
// otherwise creates the next one. A new revision starts from an empty status.
func (t *IndexedTable) chooseRevision(snap *snapshot.Snapshot, batch *model.Batch, opts SaveOptions) (*revision.Revision, *status.IndexStatus, bool, error) {
	s := t.svc
	ro := revision.Options{
		TableID:         t.ref.ID,
		Columns:         opts.Columns,
		DesiredCubeSize: opts.CubeSize,
		AutoExpand:      opts.AutoExpand,
	}

	if !snap.IsInitial() {
		latest, err := snap.LatestRevision()
		if err != nil {
			return nil, nil, false, err
		}
		if len(ro.Columns) == 0 {
			ro.Columns = latest.ColumnNames()
		}
		if ro.DesiredCubeSize == 0 {
			ro.DesiredCubeSize = latest.DesiredCubeSize
		}
		if latest.Matches(ro) {
			st, err := snap.IndexStatus(latest.ID)
			if err != nil {
				return nil, nil, false, err
			}
			return latest, st, false, nil
		}
	}
	if ro.DesiredCubeSize == 0 {
		ro.DesiredCubeSize = s.cfg.DefaultCubeSize
	}

	stats, err := revision.CollectStats(batch.Schema, batch.Rows, ro.Columns)
	if err != nil {
		return nil, nil, false, err
	}
	rev, err := revision.Create(ro, batch.Schema, snap.Revisions(), stats, s.now().UTC())
	if err != nil {
		return nil, nil, false, err
	}
	return rev, nil, true, nil
}

// writeDataFiles stores the rows of every touched cube in its own file, in parallel
func (t *IndexedTable) writeDataFiles(ctx context.Context, rev *revision.Revision, batch *model.Batch, indexed *otree.Result) ([]txlog.DataFile, error) {
	s := t.svc

	byCube := make(map[cube.ID][]datafile.Record)
	var estimated uint64
	for i, row := range batch.Rows {
		cells, err := datafile.EncodeRow(batch.Schema, row)
		if err != nil {
			return nil, errors.InvalidArgument(fmt.Sprintf("row %d", i), err)
		}
		estimated += datafile.EstimateSize(cells)
		id := indexed.Assignments[i]
		byCube[id] = append(byCube[id], datafile.Record{
			Cube:     id.String(),
			Revision: rev.ID,
			Weight:   int32(indexed.Weights[i]),
			Cells:    cells,
		})
	}

	if s.space != nil {
		if err := s.space.CheckBeforeWrite(estimated); err != nil {
			return nil, err
		}
	}

	ids := make([]cube.ID, 0, len(byCube))
	for id := range byCube {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return cube.Compare(ids[i], ids[j]) < 0 })

	files := make([]txlog.DataFile, len(ids))
	tasks := make([]workerpool.Task, len(ids))
	for i, id := range ids {
		i, id := i, id
		tasks[i] = workerpool.Task{
			ID: id.String(),
			Fn: func(ctx context.Context) error {
				df, err := s.data.Write(ctx, t.ref.ID, rev.ID, id.String(), byCube[id])
				if err != nil {
					return err
				}
				files[i] = df
				return nil
			},
		}
	}

	start := time.Now()
	if err := s.workerPool.SubmitAndWait(ctx, tasks); err != nil {
		var written []txlog.DataFile
		for _, df := range files {
			if df.Path != "" {
				written = append(written, df)
			}
		}
		s.data.Remove(written)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.InternalError("failed to write data files", err)
	}
	for _, df := range files {
		s.metrics.RecordDataFile(df.Bytes)
	}

	s.logger.Debug("Wrote data files",
		zap.String("table_id", t.ref.ID),
		zap.Int("files", len(files)),
		zap.Duration("duration", time.Since(start)))
	return files, nil
}
