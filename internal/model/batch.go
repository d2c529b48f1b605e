package model

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// ColumnType is the logical type of a table column
type ColumnType string

const (
	ColumnTypeInt64     ColumnType = "int64"
	ColumnTypeFloat64   ColumnType = "float64"
	ColumnTypeString    ColumnType = "string"
	ColumnTypeTimestamp ColumnType = "timestamp"
	ColumnTypeBool      ColumnType = "bool"
	ColumnTypeBytes     ColumnType = "bytes"
)

// Valid reports whether t is a known column type
func (t ColumnType) Valid() bool {
	switch t {
	case ColumnTypeInt64, ColumnTypeFloat64, ColumnTypeString,
		ColumnTypeTimestamp, ColumnTypeBool, ColumnTypeBytes:
		return true
	}
	return false
}

// Indexable reports whether values of this type can drive a cube dimension
func (t ColumnType) Indexable() bool {
	switch t {
	case ColumnTypeInt64, ColumnTypeFloat64, ColumnTypeString, ColumnTypeTimestamp:
		return true
	}
	return false
}

// Column describes one column of a batch
type Column struct {
	Name string     `json:"name" yaml:"name"`
	Type ColumnType `json:"type" yaml:"type"`
}

// Schema is the ordered column list shared by every row of a batch
type Schema struct {
	Columns []Column `json:"columns"`
}

// Index returns the position of the named column
func (s Schema) Index(name string) (int, bool) {
	for i, c := range s.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Column returns the named column
func (s Schema) Column(name string) (Column, bool) {
	i, ok := s.Index(name)
	if !ok {
		return Column{}, false
	}
	return s.Columns[i], true
}

// Row holds one value per schema column. Cell values are int64, float64, string,
// time.Time, bool, []byte or nil.
type Row []interface{}

// Batch is one unit of write: a schema and the rows to index
type Batch struct {
	// ID scopes record weights. Rows are weighed by (ID, position), never by value.
	ID     string
	Schema Schema
	Rows   []Row
}

// Len returns the number of rows
func (b *Batch) Len() int {
	return len(b.Rows)
}

// RecordKey identifies the row at position i for weighting. Duplicate rows get
// distinct keys; the same batch always yields the same keys.
func (b *Batch) RecordKey(i int) []byte {
	key := make([]byte, 0, 2*binary.MaxVarintLen64+len(b.ID))
	key = binary.AppendUvarint(key, uint64(len(b.ID)))
	key = append(key, b.ID...)
	return binary.AppendUvarint(key, uint64(i))
}

// Coerce converts a decoded JSON row into typed cells. JSON numbers arrive as
// float64 and timestamps as RFC 3339 strings or unix milliseconds.
func (s Schema) Coerce(raw []interface{}) (Row, error) {
	if len(raw) != len(s.Columns) {
		return nil, fmt.Errorf("row has %d values, schema has %d columns", len(raw), len(s.Columns))
	}
	row := make(Row, len(raw))
	for i, v := range raw {
		if v == nil {
			continue
		}
		cell, err := coerceValue(s.Columns[i].Type, v)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", s.Columns[i].Name, err)
		}
		row[i] = cell
	}
	return row, nil
}

func coerceValue(t ColumnType, v interface{}) (interface{}, error) {
	switch t {
	case ColumnTypeInt64:
		switch x := v.(type) {
		case int64:
			return x, nil
		case int:
			return int64(x), nil
		case float64:
			if x != math.Trunc(x) {
				return nil, fmt.Errorf("%v is not an integer", x)
			}
			return int64(x), nil
		}
	case ColumnTypeFloat64:
		switch x := v.(type) {
		case float64:
			return x, nil
		case int64:
			return float64(x), nil
		case int:
			return float64(x), nil
		}
	case ColumnTypeString:
		if x, ok := v.(string); ok {
			return x, nil
		}
	case ColumnTypeTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x, nil
		case string:
			ts, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, err
			}
			return ts, nil
		case float64:
			return time.UnixMilli(int64(x)).UTC(), nil
		case int64:
			return time.UnixMilli(x).UTC(), nil
		}
	case ColumnTypeBool:
		if x, ok := v.(bool); ok {
			return x, nil
		}
	case ColumnTypeBytes:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}
