package otree

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devrev/otree/internal/cube"
	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/model"
	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/status"
	"github.com/devrev/otree/internal/weight"
)

const cancelCheckInterval = 4096

// Options controls one indexing pass
type Options struct {
	// Partitions is the number of contiguous slices estimated in parallel
	Partitions int

	// Seed scopes record weights to a table
	Seed uint64

	// Now stamps revisions created by auto-expansion
	Now func() time.Time
}

// Result is the outcome of indexing one batch
type Result struct {
	// Revision the batch was indexed under. It differs from the input when ranges auto-expanded.
	Revision *revision.Revision

	// NewRevision is set when Revision was created by this pass
	NewRevision bool

	// Assignments holds the cube of every row, by batch position
	Assignments []cube.ID

	// Weights holds the weight of every row, by batch position
	Weights []weight.Weight

	// Entries are the per-cube statistics to commit, parents first
	Entries []status.Entry

	// Thresholds are the admission bounds used for assignment
	Thresholds map[cube.ID]Threshold
}

// Indexer assigns batch rows to cubes
type Indexer struct {
	opts   Options
	logger *zap.Logger
}

// NewIndexer creates a new indexer
func NewIndexer(opts Options, logger *zap.Logger) *Indexer {
	if opts.Partitions <= 0 {
		opts.Partitions = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Indexer{opts: opts, logger: logger}
}

// Index runs estimation and assignment for batch under rev, starting from prev.
// prev may be nil for a revision with no committed cubes.
func (ix *Indexer) Index(ctx context.Context, rev *revision.Revision, prev *status.IndexStatus, batch *model.Batch) (*Result, error) {
	records, err := ix.transform(ctx, rev, batch)
	newRevision := false
	if errors.IsOutOfRange(err) && rev.AutoExpand {
		stats, serr := revision.CollectStats(batch.Schema, batch.Rows, rev.ColumnNames())
		if serr != nil {
			return nil, serr
		}
		extended := rev.Extend(stats, ix.opts.Now().UTC())
		ix.logger.Info("Extending revision ranges",
			zap.String("table_id", rev.TableID),
			zap.Int64("from_revision", rev.ID),
			zap.Int64("to_revision", extended.ID),
			zap.Error(err))

		rev, prev, newRevision = extended, nil, true
		records, err = ix.transform(ctx, rev, batch)
	}
	if err != nil {
		return nil, err
	}
	if prev == nil {
		prev = status.Empty(rev)
	}

	parts := ix.partition(len(records))
	thresholds, err := ix.estimate(ctx, rev, prev, records, parts)
	if err != nil {
		return nil, err
	}

	res, err := ix.assign(ctx, rev, prev, records, parts, thresholds)
	if err != nil {
		return nil, err
	}
	res.NewRevision = newRevision

	ix.logger.Debug("Indexed batch",
		zap.String("table_id", rev.TableID),
		zap.Int64("revision_id", rev.ID),
		zap.Int("records", len(records)),
		zap.Int("partitions", len(parts)),
		zap.Int("cubes", len(res.Entries)))
	return res, nil
}

type span struct{ start, end int }

// partition splits n records into at most Partitions contiguous ranges
func (ix *Indexer) partition(n int) []span {
	p := ix.opts.Partitions
	if p > n {
		p = n
	}
	if p <= 0 {
		return nil
	}
	size := (n + p - 1) / p
	parts := make([]span, 0, p)
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		parts = append(parts, span{start, end})
	}
	return parts
}

// transform normalizes every row and derives its weight
func (ix *Indexer) transform(ctx context.Context, rev *revision.Revision, batch *model.Batch) ([]Record, error) {
	binding, err := rev.Bind(batch.Schema)
	if err != nil {
		return nil, err
	}
	records := make([]Record, len(batch.Rows))
	for i, row := range batch.Rows {
		if i%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		point, err := binding.Transform(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		records[i] = Record{
			Position: i,
			Point:    point,
			Weight:   weight.FromSeed(batch.RecordKey(i), ix.opts.Seed),
		}
	}
	return records, nil
}

// estimate runs one CubeWeightsBuilder per partition and merges their estimates with
// the previous status. The merged normalized weight of a cube becomes its threshold.
func (ix *Indexer) estimate(ctx context.Context, rev *revision.Revision, prev *status.IndexStatus, records []Record, parts []span) (map[cube.ID]Threshold, error) {
	estimates := make([]map[cube.ID]weight.Normalized, len(parts))
	boundaries := make([]map[cube.ID]Threshold, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			b := NewCubeWeightsBuilder(rev.Dimensions(), rev.DesiredCubeSize)
			for j := p.start; j < p.end; j++ {
				if (j-p.start)%cancelCheckInterval == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				b.Update(&records[j])
			}
			estimates[i] = b.Result()
			boundaries[i] = b.Boundaries()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sources := make(map[cube.ID][]weight.Normalized)
	for _, est := range estimates {
		for id, nw := range est {
			sources[id] = append(sources[id], nw)
		}
	}
	for id, nw := range prev.CubeNormalizedWeights() {
		sources[id] = append(sources[id], nw)
	}

	thresholds := make(map[cube.ID]Threshold, len(sources))
	for id, values := range sources {
		nw := weight.MergeAll(values...)
		if !nw.IsFull() {
			thresholds[id] = Unbounded
			continue
		}
		th := Threshold{Weight: nw.ToWeight(), Position: math.MaxInt}
		// a cube filled by a single partition keeps the exact boundary record
		if len(values) == 1 {
			for _, bounds := range boundaries {
				if exact, ok := bounds[id]; ok {
					th = exact
				}
			}
		}
		thresholds[id] = th
	}
	return thresholds, nil
}

type cubeStats struct {
	count     int64
	maxWeight weight.Weight
}

// assign places every record in the first cube whose threshold admits it
func (ix *Indexer) assign(ctx context.Context, rev *revision.Revision, prev *status.IndexStatus, records []Record, parts []span, thresholds map[cube.ID]Threshold) (*Result, error) {
	assignments := make([]cube.ID, len(records))
	partStats := make([]map[cube.ID]*cubeStats, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range parts {
		i, p := i, p
		g.Go(func() error {
			local := make(map[cube.ID]*cubeStats)
			for j := p.start; j < p.end; j++ {
				if (j-p.start)%cancelCheckInterval == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				r := &records[j]
				c := Descend(rev.Dimensions(), thresholds, r)
				assignments[j] = c

				cs, ok := local[c]
				if !ok {
					cs = &cubeStats{maxWeight: r.Weight}
					local[c] = cs
				}
				cs.count++
				cs.maxWeight = weight.Max(cs.maxWeight, r.Weight)
			}
			partStats[i] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	touched := make(map[cube.ID]*cubeStats)
	for _, local := range partStats {
		for id, cs := range local {
			if cur, ok := touched[id]; ok {
				cur.count += cs.count
				cur.maxWeight = weight.Max(cur.maxWeight, cs.maxWeight)
			} else {
				touched[id] = &cubeStats{count: cs.count, maxWeight: cs.maxWeight}
			}
		}
	}

	// ancestors unknown to both this batch and the previous status keep the tree connected
	for id := range touched {
		for _, anc := range id.Path() {
			if _, ok := touched[anc]; ok {
				continue
			}
			if _, ok := prev.Cube(anc); ok {
				continue
			}
			touched[anc] = &cubeStats{maxWeight: weight.MaxValue}
		}
	}

	ids := make([]cube.ID, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return cube.Compare(ids[i], ids[j]) < 0 })

	entries := make([]status.Entry, len(ids))
	for i, id := range ids {
		cs := touched[id]
		entries[i] = status.Entry{Cube: id.String(), Size: cs.count, MaxWeight: cs.maxWeight}
	}

	weights := make([]weight.Weight, len(records))
	for i := range records {
		weights[i] = records[i].Weight
	}

	return &Result{
		Revision:    rev,
		Assignments: assignments,
		Weights:     weights,
		Entries:     entries,
		Thresholds:  thresholds,
	}, nil
}

// Descend walks r from the root to the first cube that admits it: one without a
// threshold, one whose threshold orders at or above (r.Weight, r.Position), or a cube
// at the maximum depth.
func Descend(dims int, thresholds map[cube.ID]Threshold, r *Record) cube.ID {
	c := cube.Root(dims)
	for c.Depth() < cube.MaxDepth {
		th, ok := thresholds[c]
		if !ok || th.Admits(r.Weight, r.Position) {
			return c
		}
		c = c.ChildContaining(r.Point)
	}
	return c
}
