package snapshot

import (
	"context"
	"fmt"

	"github.com/devrev/otree/internal/cube"
	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/status"
	"github.com/devrev/otree/internal/txlog"
)

// Snapshot is the index view of one table at one log offset.
// It is immutable once built and safe to share between goroutines.
type Snapshot struct {
	tableID   string
	offset    int64
	revisions []*revision.Revision
	statuses  map[int64]*status.IndexStatus
	dataFiles map[int64][]txlog.DataFile
}

// Initial returns the snapshot of a table with no committed revision
func Initial(tableID string) *Snapshot {
	return &Snapshot{
		tableID:   tableID,
		statuses:  map[int64]*status.IndexStatus{},
		dataFiles: map[int64][]txlog.DataFile{},
	}
}

// Fold replays committed transactions, in version order, into a snapshot at offset.
// A transaction pointing at a revision no earlier transaction introduced is an
// inconsistent log.
func Fold(tableID string, offset int64, txs []*txlog.Transaction) (*Snapshot, error) {
	s := Initial(tableID)
	s.offset = offset

	byID := make(map[int64]*revision.Revision)
	builders := make(map[int64]*status.Builder)

	for _, tx := range txs {
		if tx.Version > offset {
			break
		}
		if tx.Revision != nil {
			if _, dup := byID[tx.Revision.ID]; dup {
				return nil, errors.InconsistentState(fmt.Sprintf("table %s: version %d introduces revision %d twice",
					tableID, tx.Version, tx.Revision.ID)).
					WithDetail("version", tx.Version)
			}
			if tx.Revision.ID != tx.RevisionID {
				return nil, errors.InconsistentState(fmt.Sprintf("table %s: version %d carries revision %d but writes to %d",
					tableID, tx.Version, tx.Revision.ID, tx.RevisionID)).
					WithDetail("version", tx.Version)
			}
			byID[tx.Revision.ID] = tx.Revision
			builders[tx.Revision.ID] = status.NewBuilder(tx.Revision)
			s.revisions = append(s.revisions, tx.Revision)
		}

		b, ok := builders[tx.RevisionID]
		if !ok {
			return nil, errors.InconsistentState(fmt.Sprintf("table %s: version %d writes to unknown revision %d",
				tableID, tx.Version, tx.RevisionID)).
				WithDetail("version", tx.Version)
		}
		if err := b.Add(tx.Cubes...); err != nil {
			return nil, err
		}
		s.dataFiles[tx.RevisionID] = append(s.dataFiles[tx.RevisionID], tx.DataFiles...)
	}

	for id, b := range builders {
		st, err := b.Build()
		if err != nil {
			return nil, err
		}
		s.statuses[id] = st
	}
	revision.SortByID(s.revisions)
	return s, nil
}

// Load reads the log of tableID up to offset and folds it. Pass txlog.Latest for
// the newest committed version. An offset past the newest version is rejected, so
// the result depends only on the resolved offset.
func Load(ctx context.Context, log txlog.Log, tableID string, offset int64) (*Snapshot, error) {
	latest, err := log.LatestVersion(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if offset < 0 {
		offset = latest
	}
	if offset > latest {
		return nil, errors.VersionNotCommitted(tableID, offset, latest)
	}
	if offset == 0 {
		return Initial(tableID), nil
	}
	txs, err := log.Read(ctx, tableID, offset)
	if err != nil {
		return nil, err
	}
	if n := len(txs); n == 0 || txs[n-1].Version < offset {
		return nil, errors.InconsistentState(fmt.Sprintf("table %s: log read up to %d stopped short", tableID, offset)).
			WithDetail("version", offset)
	}
	return Fold(tableID, offset, txs)
}

// TableID returns the table the snapshot belongs to
func (s *Snapshot) TableID() string {
	return s.tableID
}

// Offset returns the log version the snapshot reflects
func (s *Snapshot) Offset() int64 {
	return s.offset
}

// IsInitial reports whether no revision was committed yet
func (s *Snapshot) IsInitial() bool {
	return len(s.revisions) == 0
}

// Revisions returns every revision by ascending id
func (s *Snapshot) Revisions() []*revision.Revision {
	out := make([]*revision.Revision, len(s.revisions))
	copy(out, s.revisions)
	return out
}

// LatestRevision returns the revision with the highest id
func (s *Snapshot) LatestRevision() (*revision.Revision, error) {
	if s.IsInitial() {
		return nil, errors.RevisionNotFound(s.tableID, 0)
	}
	return s.revisions[len(s.revisions)-1], nil
}

// Revision returns one revision by id
func (s *Snapshot) Revision(id int64) (*revision.Revision, error) {
	st, ok := s.statuses[id]
	if !ok {
		return nil, errors.RevisionNotFound(s.tableID, id)
	}
	return st.Revision(), nil
}

// LatestIndexStatus returns the status of the latest revision
func (s *Snapshot) LatestIndexStatus() (*status.IndexStatus, error) {
	rev, err := s.LatestRevision()
	if err != nil {
		return nil, err
	}
	return s.statuses[rev.ID], nil
}

// IndexStatus returns the status of one revision
func (s *Snapshot) IndexStatus(revisionID int64) (*status.IndexStatus, error) {
	st, ok := s.statuses[revisionID]
	if !ok {
		return nil, errors.RevisionNotFound(s.tableID, revisionID)
	}
	return st, nil
}

// DataFiles returns every data file committed under a revision
func (s *Snapshot) DataFiles(revisionID int64) ([]txlog.DataFile, error) {
	if _, ok := s.statuses[revisionID]; !ok {
		return nil, errors.RevisionNotFound(s.tableID, revisionID)
	}
	files := s.dataFiles[revisionID]
	out := make([]txlog.DataFile, len(files))
	copy(out, files)
	return out, nil
}

// Pruned is the part of one revision a range query has to read
type Pruned struct {
	Revision  *revision.Revision
	Cubes     []status.CubeStatus
	DataFiles []txlog.DataFile
}

// Prune selects the cubes and data files of revisionID that intersect the box
// [lo, hi] in normalized coordinates.
func (s *Snapshot) Prune(revisionID int64, lo, hi []float64) (*Pruned, error) {
	st, err := s.IndexStatus(revisionID)
	if err != nil {
		return nil, err
	}
	dims := st.Revision().Dimensions()
	if len(lo) != dims || len(hi) != dims {
		return nil, errors.InvalidArgument(fmt.Sprintf("query box has %d/%d bounds, revision %d has %d dimensions",
			len(lo), len(hi), revisionID, dims), nil)
	}

	cubes := st.ForQuery(lo, hi)
	selected := make(map[cube.ID]struct{}, len(cubes))
	for _, cs := range cubes {
		selected[cs.Cube] = struct{}{}
	}

	p := &Pruned{Revision: st.Revision(), Cubes: cubes}
	for _, df := range s.dataFiles[revisionID] {
		id, err := cube.Parse(dims, df.Cube)
		if err != nil {
			return nil, errors.InconsistentState(fmt.Sprintf("table %s: data file %s names cube %q: %v",
				s.tableID, df.Path, df.Cube, err))
		}
		if _, ok := selected[id]; ok {
			p.DataFiles = append(p.DataFiles, df)
		}
	}
	return p, nil
}
