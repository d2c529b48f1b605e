package status

import (
	"sort"

	"github.com/devrev/otree/internal/cube"
	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/weight"
)

// Entry is one committed per-cube statistic of a single write, as stored in the log
type Entry struct {
	Cube      string        `json:"cube"`
	Size      int64         `json:"size"`
	MaxWeight weight.Weight `json:"max_weight"`
}

// CubeStatus is the aggregated state of one cube
type CubeStatus struct {
	Cube             cube.ID
	MaxWeight        weight.Weight
	NormalizedWeight weight.Normalized
	Size             int64
	Overflowed       bool
}

// IndexStatus is the read-only state of one revision at one log offset
type IndexStatus struct {
	rev    *revision.Revision
	cubes  map[cube.ID]CubeStatus
	sorted []cube.ID
}

// Empty returns the status of a revision that has no committed cubes
func Empty(rev *revision.Revision) *IndexStatus {
	return &IndexStatus{rev: rev, cubes: map[cube.ID]CubeStatus{}}
}

// Revision returns the revision the status belongs to
func (s *IndexStatus) Revision() *revision.Revision {
	return s.rev
}

// Len returns the number of cubes
func (s *IndexStatus) Len() int {
	return len(s.cubes)
}

// Cube returns the status of one cube
func (s *IndexStatus) Cube(id cube.ID) (CubeStatus, bool) {
	cs, ok := s.cubes[id]
	return cs, ok
}

// Cubes returns every cube status with parents ahead of children
func (s *IndexStatus) Cubes() []CubeStatus {
	out := make([]CubeStatus, len(s.sorted))
	for i, id := range s.sorted {
		out[i] = s.cubes[id]
	}
	return out
}

// CubeWeights returns the aggregated max weight per cube
func (s *IndexStatus) CubeWeights() map[cube.ID]weight.Weight {
	out := make(map[cube.ID]weight.Weight, len(s.cubes))
	for id, cs := range s.cubes {
		out[id] = cs.MaxWeight
	}
	return out
}

// CubeNormalizedWeights returns the normalized weight per cube
func (s *IndexStatus) CubeNormalizedWeights() map[cube.ID]weight.Normalized {
	out := make(map[cube.ID]weight.Normalized, len(s.cubes))
	for id, cs := range s.cubes {
		out[id] = cs.NormalizedWeight
	}
	return out
}

// Overflowed returns the cubes whose size reached the target, in tree order
func (s *IndexStatus) Overflowed() []cube.ID {
	var out []cube.ID
	for _, id := range s.sorted {
		if s.cubes[id].Overflowed {
			out = append(out, id)
		}
	}
	return out
}

// IsOverflowed reports whether id is in the overflowed set
func (s *IndexStatus) IsOverflowed(id cube.ID) bool {
	return s.cubes[id].Overflowed
}

// TotalSize returns the number of records across all cubes
func (s *IndexStatus) TotalSize() int64 {
	var total int64
	for _, cs := range s.cubes {
		total += cs.Size
	}
	return total
}

// Underfilled returns cubes whose children already receive records while the cube
// itself holds less than fraction of the target size. Sampling makes a few of these
// possible; it is a consistency report, not an error.
func (s *IndexStatus) Underfilled(fraction float64) []cube.ID {
	limit := fraction * float64(s.rev.DesiredCubeSize)
	parents := make(map[cube.ID]struct{})
	for id := range s.cubes {
		if parent, ok := id.Parent(); ok {
			parents[parent] = struct{}{}
		}
	}
	var out []cube.ID
	for _, id := range s.sorted {
		if _, ok := parents[id]; ok && float64(s.cubes[id].Size) < limit {
			out = append(out, id)
		}
	}
	return out
}

// ForQuery returns the cubes whose subspace intersects the closed box [lo, hi]
// in normalized coordinates. Subtrees outside the box are never visited.
func (s *IndexStatus) ForQuery(lo, hi []float64) []CubeStatus {
	if s.rev == nil || len(lo) != s.rev.Dimensions() || len(hi) != s.rev.Dimensions() {
		return nil
	}
	var out []CubeStatus
	var visit func(id cube.ID)
	visit = func(id cube.ID) {
		cs, ok := s.cubes[id]
		if !ok || !id.Intersects(lo, hi) {
			return
		}
		out = append(out, cs)
		it := id.Children()
		for child, ok := it.Next(); ok; child, ok = it.Next() {
			visit(child)
		}
	}
	visit(cube.Root(s.rev.Dimensions()))
	return out
}

func sortIDs(ids []cube.ID) {
	sort.Slice(ids, func(i, j int) bool { return cube.Compare(ids[i], ids[j]) < 0 })
}
