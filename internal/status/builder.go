package status

import (
	"fmt"

	"github.com/devrev/otree/internal/cube"
	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/weight"
)

type aggregate struct {
	size      int64
	maxWeight weight.Weight
}

// Builder aggregates committed cube statistics of one revision into an IndexStatus.
// Sizes are summed and the smallest max weight wins.
type Builder struct {
	rev   *revision.Revision
	cubes map[cube.ID]*aggregate
}

// NewBuilder creates a builder for rev
func NewBuilder(rev *revision.Revision) *Builder {
	return &Builder{rev: rev, cubes: make(map[cube.ID]*aggregate)}
}

// Add folds the entries of one transaction into the aggregate
func (b *Builder) Add(entries ...Entry) error {
	dims := b.rev.Dimensions()
	for _, e := range entries {
		id, err := cube.Parse(dims, e.Cube)
		if err != nil {
			return errors.InconsistentState(fmt.Sprintf("revision %d: %v", b.rev.ID, err)).
				WithDetail("cube", e.Cube)
		}
		if !e.MaxWeight.IsValid() {
			return errors.InconsistentState(fmt.Sprintf("revision %d: cube %q has weight %d outside (%d, %d]",
				b.rev.ID, e.Cube, e.MaxWeight, weight.MinValue, weight.MaxValue)).
				WithDetail("cube", e.Cube)
		}
		if e.Size < 0 {
			return errors.InconsistentState(fmt.Sprintf("revision %d: cube %q has negative size %d", b.rev.ID, e.Cube, e.Size)).
				WithDetail("cube", e.Cube)
		}

		agg, ok := b.cubes[id]
		if !ok {
			b.cubes[id] = &aggregate{size: e.Size, maxWeight: e.MaxWeight}
			continue
		}
		agg.size += e.Size
		agg.maxWeight = weight.Min(agg.maxWeight, e.MaxWeight)
	}
	return nil
}

// Build derives overflow and normalization and checks tree connectivity
func (b *Builder) Build() (*IndexStatus, error) {
	target := b.rev.DesiredCubeSize
	s := &IndexStatus{
		rev:    b.rev,
		cubes:  make(map[cube.ID]CubeStatus, len(b.cubes)),
		sorted: make([]cube.ID, 0, len(b.cubes)),
	}
	for id, agg := range b.cubes {
		if parent, ok := id.Parent(); ok {
			if _, present := b.cubes[parent]; !present {
				return nil, errors.InconsistentState(fmt.Sprintf("revision %d: cube %q is present but its parent %q is not",
					b.rev.ID, id.String(), parent.String())).
					WithDetail("cube", id.String())
			}
		}
		s.cubes[id] = CubeStatus{
			Cube:             id,
			MaxWeight:        agg.maxWeight,
			NormalizedWeight: weight.Estimate(agg.maxWeight, agg.size, target),
			Size:             agg.size,
			Overflowed:       agg.size >= target,
		}
		s.sorted = append(s.sorted, id)
	}
	sortIDs(s.sorted)
	return s, nil
}

// Build aggregates entries into an IndexStatus in one call
func Build(rev *revision.Revision, entries []Entry) (*IndexStatus, error) {
	b := NewBuilder(rev)
	if err := b.Add(entries...); err != nil {
		return nil, err
	}
	return b.Build()
}
