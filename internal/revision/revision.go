package revision

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/devrev/otree/internal/errors"
	"github.com/devrev/otree/internal/model"
)

// IndexedColumn is one dimension of the cube tree
type IndexedColumn struct {
	Name           string           `json:"name"`
	Type           model.ColumnType `json:"type"`
	Transformation Transformation   `json:"transformation"`
}

// Revision is one immutable indexing configuration of a table. Ids grow by one per table.
type Revision struct {
	ID              int64           `json:"id"`
	TableID         string          `json:"table_id"`
	DesiredCubeSize int64           `json:"desired_cube_size"`
	Columns         []IndexedColumn `json:"columns"`
	AutoExpand      bool            `json:"auto_expand"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Options is the indexing configuration a write asks for
type Options struct {
	TableID         string
	Columns         []string
	DesiredCubeSize int64
	AutoExpand      bool
}

// Dimensions returns the number of indexed columns
func (r *Revision) Dimensions() int {
	return len(r.Columns)
}

// ColumnNames returns the indexed column names in dimension order
func (r *Revision) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Matches reports whether a write with opts can reuse r
func (r *Revision) Matches(opts Options) bool {
	if r.DesiredCubeSize != opts.DesiredCubeSize || len(r.Columns) != len(opts.Columns) {
		return false
	}
	for i, c := range r.Columns {
		if c.Name != opts.Columns[i] {
			return false
		}
	}
	return true
}

// Covers reports whether every observed value range fits the revision's transformations
func (r *Revision) Covers(stats Stats) bool {
	for _, c := range r.Columns {
		s, ok := stats[c.Name]
		if !ok || !s.Seen {
			continue
		}
		if !c.Transformation.Covers(s.Min, s.Max) {
			return false
		}
	}
	return true
}

// Extend returns the next revision with linear ranges widened to cover stats
func (r *Revision) Extend(stats Stats, now time.Time) *Revision {
	next := &Revision{
		ID:              r.ID + 1,
		TableID:         r.TableID,
		DesiredCubeSize: r.DesiredCubeSize,
		Columns:         make([]IndexedColumn, len(r.Columns)),
		AutoExpand:      r.AutoExpand,
		CreatedAt:       now,
	}
	for i, c := range r.Columns {
		if s, ok := stats[c.Name]; ok && s.Seen {
			c.Transformation = c.Transformation.Widen(s.Min, s.Max)
		}
		next.Columns[i] = c
	}
	return next
}

// Validate checks the options before any revision is created from them
func (opts Options) Validate(schema model.Schema) error {
	if opts.TableID == "" {
		return errors.Configuration("table id is required")
	}
	if len(opts.Columns) == 0 {
		return errors.Configuration("at least one column must be indexed")
	}
	if opts.DesiredCubeSize <= 0 {
		return errors.Configuration(fmt.Sprintf("desired cube size must be positive, got %d", opts.DesiredCubeSize)).
			WithDetail("desired_cube_size", opts.DesiredCubeSize)
	}
	seen := make(map[string]struct{}, len(opts.Columns))
	for _, name := range opts.Columns {
		if _, dup := seen[name]; dup {
			return errors.Configuration(fmt.Sprintf("column %q is indexed twice", name)).WithDetail("column", name)
		}
		seen[name] = struct{}{}

		col, ok := schema.Column(name)
		if !ok {
			return errors.Configuration(fmt.Sprintf("column %q does not exist", name)).WithDetail("column", name)
		}
		if !col.Type.Indexable() {
			return errors.Configuration(fmt.Sprintf("column %q of type %s cannot be indexed", name, col.Type)).
				WithDetail("column", name)
		}
	}
	return nil
}

// Create builds the next revision of a table from opts and the ranges observed in the batch.
// Its id is one more than the highest previous id, or 1 for the first revision.
func Create(opts Options, schema model.Schema, previous []*Revision, stats Stats, now time.Time) (*Revision, error) {
	if err := opts.Validate(schema); err != nil {
		return nil, err
	}

	rev := &Revision{
		ID:              1,
		TableID:         opts.TableID,
		DesiredCubeSize: opts.DesiredCubeSize,
		Columns:         make([]IndexedColumn, len(opts.Columns)),
		AutoExpand:      opts.AutoExpand,
		CreatedAt:       now,
	}
	if latest := Latest(previous); latest != nil {
		rev.ID = latest.ID + 1
	}

	for i, name := range opts.Columns {
		col, _ := schema.Column(name)
		kind, err := kindFor(col.Type)
		if err != nil {
			return nil, errors.Configuration(err.Error())
		}
		t := Transformation{Kind: kind}
		if kind == Linear {
			if s, ok := stats[name]; ok && s.Seen {
				t.Min, t.Max = s.Min, s.Max
			} else {
				t.Empty = true
			}
		}
		rev.Columns[i] = IndexedColumn{Name: name, Type: col.Type, Transformation: t}
	}
	return rev, nil
}

// Latest returns the revision with the highest id, or nil
func Latest(revs []*Revision) *Revision {
	var latest *Revision
	for _, r := range revs {
		if latest == nil || r.ID > latest.ID {
			latest = r
		}
	}
	return latest
}

// SortByID orders revisions by ascending id
func SortByID(revs []*Revision) {
	sort.Slice(revs, func(i, j int) bool { return revs[i].ID < revs[j].ID })
}

// ColumnStats is the observed value range of one column in a batch
type ColumnStats struct {
	Min  float64
	Max  float64
	Seen bool
}

// Stats maps column names to observed ranges
type Stats map[string]ColumnStats

// CollectStats scans the named numeric and timestamp columns of rows.
// String columns are skipped since hashing never goes out of range.
func CollectStats(schema model.Schema, rows []model.Row, columns []string) (Stats, error) {
	stats := make(Stats, len(columns))
	for _, name := range columns {
		idx, ok := schema.Index(name)
		if !ok {
			return nil, errors.Configuration(fmt.Sprintf("column %q does not exist", name)).WithDetail("column", name)
		}
		s := ColumnStats{Min: math.Inf(1), Max: math.Inf(-1)}
		for _, row := range rows {
			if idx >= len(row) || row[idx] == nil {
				continue
			}
			f, ok := numeric(row[idx])
			if !ok {
				continue
			}
			if math.IsNaN(f) {
				return nil, errors.OutOfRange(name, f)
			}
			s.Min = math.Min(s.Min, f)
			s.Max = math.Max(s.Max, f)
			s.Seen = true
		}
		if !s.Seen {
			s.Min, s.Max = 0, 0
		}
		stats[name] = s
	}
	return stats, nil
}
