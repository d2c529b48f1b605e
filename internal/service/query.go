package service

import (
	"context"

	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/snapshot"
	"github.com/devrev/otree/internal/status"
	"github.com/devrev/otree/internal/txlog"
)

// Query is a range predicate over indexed columns
type Query struct {
	// RevisionID selects the revision to prune. Zero means every revision.
	RevisionID int64 `json:"revision_id,omitempty"`

	// Version pins the log offset. Zero or negative reads the latest.
	Version int64 `json:"version,omitempty"`

	Bounds map[string]revision.Bound `json:"bounds,omitempty"`
}

// QueryResult lists, per revision, the cubes and data files a reader must scan
type QueryResult struct {
	TableID   string           `json:"table_id"`
	Version   int64            `json:"version"`
	Revisions []PrunedRevision `json:"revisions"`
}

// PrunedRevision is the share of one revision selected by a query
type PrunedRevision struct {
	RevisionID int64            `json:"revision_id"`
	Cubes      []string         `json:"cubes"`
	DataFiles  []txlog.DataFile `json:"data_files"`
	Rows       int64            `json:"rows"`
	Skipped    bool             `json:"skipped"`
}

// Query prunes the table's cubes down to those a range query has to read
func (t *IndexedTable) Query(ctx context.Context, q Query) (*QueryResult, error) {
	s := t.svc
	var snap *snapshot.Snapshot
	var err error
	if q.Version > 0 {
		snap, err = s.loader.Load(ctx, t.ref.ID, q.Version)
	} else {
		snap, err = s.loader.Latest(ctx, t.ref.ID)
	}
	if err != nil {
		return nil, err
	}

	revs := snap.Revisions()
	if q.RevisionID != 0 {
		rev, err := snap.Revision(q.RevisionID)
		if err != nil {
			return nil, err
		}
		revs = []*revision.Revision{rev}
	}

	out := &QueryResult{TableID: t.ref.ID, Version: snap.Offset()}
	for _, rev := range revs {
		pr, err := prune(snap, rev, q.Bounds)
		if err != nil {
			return nil, err
		}
		out.Revisions = append(out.Revisions, pr)
	}
	return out, nil
}

func prune(snap *snapshot.Snapshot, rev *revision.Revision, bounds map[string]revision.Bound) (PrunedRevision, error) {
	pr := PrunedRevision{RevisionID: rev.ID, Cubes: []string{}, DataFiles: []txlog.DataFile{}}
	lo, hi, empty, err := rev.QueryBox(bounds)
	if err != nil {
		return pr, err
	}
	if empty {
		pr.Skipped = true
		return pr, nil
	}

	p, err := snap.Prune(rev.ID, lo, hi)
	if err != nil {
		return pr, err
	}
	pr.Cubes = cubeNames(p.Cubes)
	for _, df := range p.DataFiles {
		pr.DataFiles = append(pr.DataFiles, df)
		pr.Rows += df.Rows
	}
	return pr, nil
}

func cubeNames(cubes []status.CubeStatus) []string {
	out := make([]string, len(cubes))
	for i, cs := range cubes {
		out[i] = cs.Cube.String()
	}
	return out
}
