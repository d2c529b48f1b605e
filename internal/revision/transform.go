package revision

import (
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/model"
)

// TransformationKind selects how raw column values are mapped into [0,1)
type TransformationKind string

const (
	// Linear scales numeric and timestamp values between a min and a max
	Linear TransformationKind = "linear"

	// Hash maps strings uniformly with xxhash. It never goes out of range.
	Hash TransformationKind = "hash"
)

// belowOne is the largest coordinate strictly inside [0,1)
var belowOne = math.Nextafter(1, 0)

// Transformation normalizes one column. Min and Max are only meaningful for Linear.
// Empty marks a linear column created before any non-null value was seen; it
// covers nothing until widened.
type Transformation struct {
	Kind  TransformationKind `json:"kind"`
	Min   float64            `json:"min,omitempty"`
	Max   float64            `json:"max,omitempty"`
	Empty bool               `json:"empty,omitempty"`
}

// Apply maps v into [0,1). ok is false when a linear value is outside [Min, Max].
func (t Transformation) Apply(v float64) (float64, bool) {
	if t.Empty || math.IsNaN(v) || v < t.Min || v > t.Max {
		return 0, false
	}
	if t.Max == t.Min {
		return 0, true
	}
	x := (v - t.Min) / (t.Max - t.Min)
	if x >= 1 {
		x = belowOne
	}
	return x, true
}

// Widen returns a linear transformation covering both t and [lo, hi]
func (t Transformation) Widen(lo, hi float64) Transformation {
	if t.Kind != Linear {
		return t
	}
	if t.Empty {
		return Transformation{Kind: Linear, Min: lo, Max: hi}
	}
	return Transformation{Kind: Linear, Min: math.Min(t.Min, lo), Max: math.Max(t.Max, hi)}
}

// Covers reports whether [lo, hi] is inside the transformation range
func (t Transformation) Covers(lo, hi float64) bool {
	if t.Kind != Linear {
		return true
	}
	return !t.Empty && lo >= t.Min && hi <= t.Max
}

// hashUnit maps a string uniformly into [0,1) using the top 53 bits of xxhash
func hashUnit(s string) float64 {
	return float64(xxhash.Sum64String(s)>>11) / (1 << 53)
}

// numeric converts an indexable cell into the scalar a Linear transformation scales
func numeric(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case time.Time:
		return float64(x.UnixMicro()), true
	}
	return 0, false
}

// kindFor returns the transformation a column type gets
func kindFor(t model.ColumnType) (TransformationKind, error) {
	switch t {
	case model.ColumnTypeInt64, model.ColumnTypeFloat64, model.ColumnTypeTimestamp:
		return Linear, nil
	case model.ColumnTypeString:
		return Hash, nil
	}
	return "", fmt.Errorf("column type %s cannot be indexed", t)
}

// Binding resolves a revision's columns against a batch schema
type Binding struct {
	rev     *Revision
	indices []int
}

// Bind checks that the schema carries every indexed column with the expected type
func (r *Revision) Bind(schema model.Schema) (*Binding, error) {
	b := &Binding{rev: r, indices: make([]int, len(r.Columns))}
	for i, col := range r.Columns {
		idx, ok := schema.Index(col.Name)
		if !ok {
			return nil, errors.Configuration(fmt.Sprintf("indexed column %q is missing from the batch", col.Name)).
				WithDetail("column", col.Name)
		}
		if schema.Columns[idx].Type != col.Type {
			return nil, errors.Configuration(fmt.Sprintf("indexed column %q has type %s, revision expects %s",
				col.Name, schema.Columns[idx].Type, col.Type)).
				WithDetail("column", col.Name)
		}
		b.indices[i] = idx
	}
	return b, nil
}

// Revision returns the bound revision
func (b *Binding) Revision() *Revision {
	return b.rev
}

// Transform maps a row into a point of [0,1)^d. Null cells map to 0.
func (b *Binding) Transform(row model.Row) ([]float64, error) {
	point := make([]float64, len(b.indices))
	for i, idx := range b.indices {
		col := b.rev.Columns[i]
		if idx >= len(row) {
			return nil, errors.InvalidArgument(fmt.Sprintf("row has %d values, column %q is at %d", len(row), col.Name, idx), nil)
		}
		v := row[idx]
		if v == nil {
			continue
		}
		switch col.Transformation.Kind {
		case Hash:
			s, ok := v.(string)
			if !ok {
				return nil, errors.InvalidArgument(fmt.Sprintf("column %q holds %T, want string", col.Name, v), nil)
			}
			point[i] = hashUnit(s)
		default:
			f, ok := numeric(v)
			if !ok {
				return nil, errors.InvalidArgument(fmt.Sprintf("column %q holds %T, want a number", col.Name, v), nil)
			}
			x, ok := col.Transformation.Apply(f)
			if !ok {
				return nil, errors.OutOfRange(col.Name, v)
			}
			point[i] = x
		}
	}
	return point, nil
}
