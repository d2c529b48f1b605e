package revision

import (
	"fmt"
	"math"
	"time"

	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/model"
)

// Bound is a closed range of raw values on one indexed column. A nil side is open.
type Bound struct {
	Min interface{} `json:"min,omitempty"`
	Max interface{} `json:"max,omitempty"`
}

// QueryBox maps raw column bounds onto the normalized box [lo, hi] they cover.
// Columns without a bound span the whole dimension. empty is true when a bound
// cannot match any indexed value.
func (r *Revision) QueryBox(bounds map[string]Bound) (lo, hi []float64, empty bool, err error) {
	dims := r.Dimensions()
	lo = make([]float64, dims)
	hi = make([]float64, dims)
	for i := range hi {
		hi[i] = belowOne
	}

	index := make(map[string]int, dims)
	for i, c := range r.Columns {
		index[c.Name] = i
	}

	for name, b := range bounds {
		i, ok := index[name]
		if !ok {
			return nil, nil, false, errors.InvalidArgument(fmt.Sprintf("column %q is not indexed by revision %d", name, r.ID), nil).
				WithDetail("column", name)
		}
		col := r.Columns[i]

		if col.Transformation.Kind == Hash {
			// only an equality predicate narrows a hashed dimension
			smin, okMin := b.Min.(string)
			smax, okMax := b.Max.(string)
			if okMin && okMax && smin == smax {
				lo[i] = hashUnit(smin)
				hi[i] = lo[i]
			}
			continue
		}

		t := col.Transformation
		if b.Min != nil {
			v, err := boundValue(col, b.Min)
			if err != nil {
				return nil, nil, false, err
			}
			if v > t.Max {
				empty = true
			}
			lo[i] = clampUnit(t, v)
		}
		if b.Max != nil {
			v, err := boundValue(col, b.Max)
			if err != nil {
				return nil, nil, false, err
			}
			if v < t.Min {
				empty = true
			}
			hi[i] = clampUnit(t, v)
		}
		if lo[i] > hi[i] {
			empty = true
		}
	}
	return lo, hi, empty, nil
}

// clampUnit scales v like Apply but pins values outside the range to the edges
func clampUnit(t Transformation, v float64) float64 {
	if t.Max == t.Min {
		return 0
	}
	x := (v - t.Min) / (t.Max - t.Min)
	return math.Max(0, math.Min(x, belowOne))
}

// boundValue converts a decoded JSON bound into the scalar a linear column scales
func boundValue(col IndexedColumn, v interface{}) (float64, error) {
	if col.Type == model.ColumnTypeTimestamp {
		if s, ok := v.(string); ok {
			ts, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return 0, errors.InvalidArgument(fmt.Sprintf("bound %q on column %q is not an RFC 3339 timestamp", s, col.Name), err)
			}
			return float64(ts.UnixMicro()), nil
		}
	}
	f, ok := numeric(v)
	if !ok || math.IsNaN(f) {
		return 0, errors.InvalidArgument(fmt.Sprintf("bound %v on column %q is not a number", v, col.Name), nil).
			WithDetail("column", col.Name)
	}
	return f, nil
}
