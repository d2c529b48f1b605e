package otree

import (
	"container/heap"
	"math"

	"github.com/devrev/otree/internal/cube"
	"github.com/devrev/otree/internal/weight"
)

// Record is one row of a batch after transformation
type Record struct {
	Position int
	Point    []float64
	Weight   weight.Weight
}

// less orders records by weight, then by batch position
func less(a, b *Record) bool {
	if a.Weight != b.Weight {
		return a.Weight < b.Weight
	}
	return a.Position < b.Position
}

// Threshold is the admission bound of a cube: a record is kept when its
// (weight, position) orders at or below (Weight, Position).
type Threshold struct {
	Weight   weight.Weight
	Position int
}

// Unbounded admits every record
var Unbounded = Threshold{Weight: weight.MaxValue, Position: math.MaxInt}

// Admits reports whether a record of weight w at batch position pos fits under t
func (t Threshold) Admits(w weight.Weight, pos int) bool {
	if w != t.Weight {
		return w < t.Weight
	}
	return pos <= t.Position
}

// recordHeap is a max-heap: the record with the largest (weight, position) is on top
type recordHeap []*Record

func (h recordHeap) Len() int            { return len(h) }
func (h recordHeap) Less(i, j int) bool  { return less(h[j], h[i]) }
func (h recordHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *recordHeap) Push(x interface{}) { *h = append(*h, x.(*Record)) }
func (h *recordHeap) Pop() interface{} {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}

// CubeWeightsBuilder estimates cube thresholds for one partition of a batch.
// Every cube keeps the target lowest-weight records that reached it; the rest move down.
type CubeWeightsBuilder struct {
	dims   int
	target int
	heaps  map[cube.ID]*recordHeap
}

// NewCubeWeightsBuilder creates a builder for a tree of dims dimensions
func NewCubeWeightsBuilder(dims int, target int64) *CubeWeightsBuilder {
	return &CubeWeightsBuilder{
		dims:   dims,
		target: int(target),
		heaps:  make(map[cube.ID]*recordHeap),
	}
}

// Update descends r from the root until a cube keeps it
func (b *CubeWeightsBuilder) Update(r *Record) {
	c := cube.Root(b.dims)
	for {
		h, ok := b.heaps[c]
		if !ok {
			h = &recordHeap{}
			b.heaps[c] = h
		}
		if h.Len() < b.target || c.Depth() >= cube.MaxDepth {
			heap.Push(h, r)
			return
		}
		if top := (*h)[0]; less(r, top) {
			(*h)[0] = r
			heap.Fix(h, 0)
			r = top
		}
		c = c.ChildContaining(r.Point)
	}
}

// Result returns the normalized weight of every cube the partition touched
func (b *CubeWeightsBuilder) Result() map[cube.ID]weight.Normalized {
	out := make(map[cube.ID]weight.Normalized, len(b.heaps))
	for id, h := range b.heaps {
		if h.Len() < b.target {
			out[id] = weight.FromSize(int64(b.target), int64(h.Len()))
			continue
		}
		out[id] = weight.FromWeight((*h)[0].Weight)
	}
	return out
}

// Boundaries returns, for every cube that reached the target, the retained record
// with the largest (weight, position)
func (b *CubeWeightsBuilder) Boundaries() map[cube.ID]Threshold {
	out := make(map[cube.ID]Threshold)
	for id, h := range b.heaps {
		if h.Len() >= b.target {
			top := (*h)[0]
			out[id] = Threshold{Weight: top.Weight, Position: top.Position}
		}
	}
	return out
}
