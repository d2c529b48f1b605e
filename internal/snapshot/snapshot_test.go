package snapshot

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/cube"
	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/metrics"
	"github.com/devrev/otree/internal/model"
	"github.com/devrev/otree/internal/otree"
	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/status"
	"github.com/devrev/otree/internal/txlog"
	"github.com/devrev/otree/internal/weight"
)

func testRevision(id, target int64) *revision.Revision {
	linear := revision.Transformation{Kind: revision.Linear, Min: 0, Max: 1}
	return &revision.Revision{
		ID:              id,
		TableID:         "t1",
		DesiredCubeSize: target,
		Columns: []revision.IndexedColumn{
			{Name: "x", Type: model.ColumnTypeFloat64, Transformation: linear},
			{Name: "y", Type: model.ColumnTypeFloat64, Transformation: linear},
		},
	}
}

func tx(version, revID int64, introduce bool, entries ...status.Entry) *txlog.Transaction {
	t := &txlog.Transaction{Version: version, TableID: "t1", RevisionID: revID, Cubes: entries}
	if introduce {
		t.Revision = testRevision(revID, 10)
	}
	return t
}

func TestFold(t *testing.T) {
	txs := []*txlog.Transaction{
		tx(1, 1, true, status.Entry{Cube: "", Size: 6, MaxWeight: 100}),
		tx(2, 1, false,
			status.Entry{Cube: "", Size: 4, MaxWeight: 50},
			status.Entry{Cube: "A", Size: 3, MaxWeight: 900}),
		tx(3, 2, true, status.Entry{Cube: "", Size: 2, MaxWeight: weight.MaxValue}),
	}
	txs[1].DataFiles = []txlog.DataFile{{Path: "a", Cube: "A", Rows: 3}, {Path: "r", Cube: "", Rows: 4}}

	s, err := Fold("t1", 3, txs)
	require.NoError(t, err)
	assert.False(t, s.IsInitial())
	assert.Equal(t, int64(3), s.Offset())
	require.Len(t, s.Revisions(), 2)

	latest, err := s.LatestIndexStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(2), latest.Revision().ID)
	assert.Equal(t, int64(2), latest.TotalSize())

	first, err := s.IndexStatus(1)
	require.NoError(t, err)
	root, ok := first.Cube(cube.Root(2))
	require.True(t, ok)
	assert.Equal(t, int64(10), root.Size)
	assert.Equal(t, weight.Weight(50), root.MaxWeight)
	assert.True(t, root.Overflowed)

	files, err := s.DataFiles(1)
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = s.IndexStatus(7)
	assert.True(t, errors.IsRevisionNotFound(err))
	_, err = s.DataFiles(7)
	assert.True(t, errors.IsRevisionNotFound(err))

	// an earlier offset hides later transactions
	s, err = Fold("t1", 1, txs)
	require.NoError(t, err)
	latest, err = s.LatestIndexStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(1), latest.Revision().ID)
	assert.Equal(t, int64(6), latest.TotalSize())
}

func TestFoldInconsistentLog(t *testing.T) {
	tests := []struct {
		name string
		txs  []*txlog.Transaction
	}{
		{
			name: "unknown revision",
			txs:  []*txlog.Transaction{tx(1, 4, false, status.Entry{Cube: "", Size: 1, MaxWeight: 1})},
		},
		{
			name: "revision introduced twice",
			txs:  []*txlog.Transaction{tx(1, 1, true), tx(2, 1, true)},
		},
		{
			name: "orphan cube",
			txs:  []*txlog.Transaction{tx(1, 1, true, status.Entry{Cube: "AB", Size: 1, MaxWeight: 1})},
		},
		{
			name: "revision id mismatch",
			txs: []*txlog.Transaction{{
				Version: 1, RevisionID: 2, Revision: testRevision(1, 10),
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Fold("t1", 10, tt.txs)
			require.Error(t, err)
			assert.True(t, errors.IsInconsistentState(err), "got %v", err)
		})
	}
}

func TestInitialSnapshot(t *testing.T) {
	s := Initial("t1")
	assert.True(t, s.IsInitial())
	assert.Empty(t, s.Revisions())

	_, err := s.LatestIndexStatus()
	assert.True(t, errors.IsRevisionNotFound(err))
	_, err = s.LatestRevision()
	assert.True(t, errors.IsRevisionNotFound(err))
}

func TestPrune(t *testing.T) {
	txs := []*txlog.Transaction{tx(1, 1, true,
		status.Entry{Cube: "", Size: 10, MaxWeight: 10},
		status.Entry{Cube: "A", Size: 2, MaxWeight: 20},
		status.Entry{Cube: "D", Size: 2, MaxWeight: 20},
	)}
	txs[0].DataFiles = []txlog.DataFile{
		{Path: "root", Cube: ""},
		{Path: "low", Cube: "A"},
		{Path: "high", Cube: "D"},
	}
	s, err := Fold("t1", 1, txs)
	require.NoError(t, err)

	// lower-left quadrant only
	p, err := s.Prune(1, []float64{0, 0}, []float64{0.25, 0.25})
	require.NoError(t, err)
	var paths []string
	for _, df := range p.DataFiles {
		paths = append(paths, df.Path)
	}
	assert.ElementsMatch(t, []string{"root", "low"}, paths)
	assert.Len(t, p.Cubes, 2)

	_, err = s.Prune(1, []float64{0}, []float64{1})
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
	_, err = s.Prune(3, []float64{0, 0}, []float64{1, 1})
	assert.True(t, errors.IsRevisionNotFound(err))
}

func commitBatches(t *testing.T, log txlog.Log, n int) {
	t.Helper()
	require.NoError(t, log.Create(context.Background(), "t1"))
	appendBatches(t, log, n)
}

// appendBatches indexes n batches of 2000 rows into t1, one commit each
func appendBatches(t *testing.T, log txlog.Log, n int) {
	t.Helper()
	ctx := context.Background()

	schema := model.Schema{Columns: []model.Column{
		{Name: "x", Type: model.ColumnTypeFloat64},
		{Name: "y", Type: model.ColumnTypeFloat64},
	}}
	ix := otree.NewIndexer(otree.Options{Partitions: 2, Seed: 7}, zap.NewNop())
	rev := testRevision(1, 1000)
	rng := rand.New(rand.NewSource(3))

	for i := 0; i < n; i++ {
		s, err := Load(ctx, log, "t1", txlog.Latest)
		require.NoError(t, err)
		var prev *status.IndexStatus
		if !s.IsInitial() {
			prev, err = s.LatestIndexStatus()
			require.NoError(t, err)
		}

		rows := make([]model.Row, 2000)
		for j := range rows {
			rows[j] = model.Row{rng.Float64(), rng.Float64()}
		}
		batch := &model.Batch{ID: fmt.Sprintf("batch-%d", s.Offset()+1), Schema: schema, Rows: rows}
		res, err := ix.Index(ctx, rev, prev, batch)
		require.NoError(t, err)

		commit := &txlog.Transaction{ID: "tx", RevisionID: rev.ID, Cubes: res.Entries}
		if s.IsInitial() {
			commit.Revision = rev
		}
		_, err = log.Append(ctx, "t1", s.Offset(), commit)
		require.NoError(t, err)
	}
}

func TestLoadFromLog(t *testing.T) {
	ctx := context.Background()
	log := txlog.NewMemoryLog()
	commitBatches(t, log, 3)

	s, err := Load(ctx, log, "t1", txlog.Latest)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Offset())

	st, err := s.LatestIndexStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(6000), st.TotalSize())
	for _, cs := range st.Cubes() {
		assert.True(t, cs.MaxWeight.IsValid())
		if parent, ok := cs.Cube.Parent(); ok {
			_, present := st.Cube(parent)
			assert.True(t, present, "parent of %q", cs.Cube.String())
		}
	}

	again, err := Load(ctx, log, "t1", 3)
	require.NoError(t, err)
	againStatus, err := again.LatestIndexStatus()
	require.NoError(t, err)
	assert.Equal(t, st.Cubes(), againStatus.Cubes(), "folding is deterministic per offset")

	_, err = Load(ctx, log, "missing", txlog.Latest)
	assert.True(t, errors.IsTableNotFound(err))
}

func TestLoaderCaches(t *testing.T) {
	ctx := context.Background()
	log := txlog.NewMemoryLog()
	commitBatches(t, log, 2)

	m := metrics.NewMetrics(prometheus.NewRegistry())
	loader, err := NewLoader(log, 4, m, zap.NewNop())
	require.NoError(t, err)

	first, err := loader.Latest(ctx, "t1")
	require.NoError(t, err)
	second, err := loader.Load(ctx, "t1", 2)
	require.NoError(t, err)
	assert.Same(t, first, second)

	older, err := loader.Load(ctx, "t1", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), older.Offset())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotCacheHits))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotCacheMisses))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SnapshotLoadsTotal))

	loader.Purge()
	_, err = loader.Load(ctx, "t1", 2)
	require.NoError(t, err)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SnapshotCacheMisses))
}

func TestLoaderRejectsFutureOffset(t *testing.T) {
	ctx := context.Background()
	log := txlog.NewMemoryLog()
	commitBatches(t, log, 1)

	loader, err := NewLoader(log, 4, metrics.NewMetrics(prometheus.NewRegistry()), zap.NewNop())
	require.NoError(t, err)

	_, err = loader.Load(ctx, "t1", 3)
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))
	_, err = Load(ctx, log, "t1", 3)
	assert.Equal(t, errors.ErrCodeInvalidArgument, errors.GetCode(err))

	// once the log reaches the offset, the loader serves the full view
	appendBatches(t, log, 2)

	direct, err := Load(ctx, log, "t1", 3)
	require.NoError(t, err)
	cached, err := loader.Load(ctx, "t1", 3)
	require.NoError(t, err)

	want, err := direct.LatestIndexStatus()
	require.NoError(t, err)
	got, err := cached.LatestIndexStatus()
	require.NoError(t, err)
	assert.Equal(t, int64(6000), want.TotalSize())
	assert.Equal(t, want.TotalSize(), got.TotalSize())
	assert.Equal(t, int64(3), cached.Offset())
}
