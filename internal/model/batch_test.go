package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{Columns: []Column{
		{Name: "id", Type: ColumnTypeInt64},
		{Name: "price", Type: ColumnTypeFloat64},
		{Name: "city", Type: ColumnTypeString},
		{Name: "at", Type: ColumnTypeTimestamp},
		{Name: "active", Type: ColumnTypeBool},
	}}
}

func TestSchemaIndex(t *testing.T) {
	s := testSchema()

	i, ok := s.Index("city")
	assert.True(t, ok)
	assert.Equal(t, 2, i)

	_, ok = s.Index("missing")
	assert.False(t, ok)

	col, ok := s.Column("at")
	require.True(t, ok)
	assert.Equal(t, ColumnTypeTimestamp, col.Type)
}

func TestColumnTypeIndexable(t *testing.T) {
	assert.True(t, ColumnTypeInt64.Indexable())
	assert.True(t, ColumnTypeString.Indexable())
	assert.False(t, ColumnTypeBool.Indexable())
	assert.False(t, ColumnTypeBytes.Indexable())
	assert.False(t, ColumnType("decimal").Valid())
}

func TestCoerce(t *testing.T) {
	s := testSchema()

	tests := []struct {
		name    string
		raw     []interface{}
		want    Row
		wantErr bool
	}{
		{
			name: "json numbers",
			raw:  []interface{}{float64(7), float64(1.5), "paris", "2024-01-02T03:04:05Z", true},
			want: Row{int64(7), 1.5, "paris", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), true},
		},
		{
			name: "nulls",
			raw:  []interface{}{nil, nil, nil, nil, nil},
			want: Row{nil, nil, nil, nil, nil},
		},
		{name: "fractional id", raw: []interface{}{1.5, 1.0, "x", nil, nil}, wantErr: true},
		{name: "wrong arity", raw: []interface{}{1.0}, wantErr: true},
		{name: "bad timestamp", raw: []interface{}{1.0, 1.0, "x", "yesterday", nil}, wantErr: true},
		{name: "string for float", raw: []interface{}{1.0, "1.0", "x", nil, nil}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := s.Coerce(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, row, len(tt.want))
			for i := range tt.want {
				if ts, ok := tt.want[i].(time.Time); ok {
					assert.True(t, ts.Equal(row[i].(time.Time)))
					continue
				}
				assert.Equal(t, tt.want[i], row[i])
			}
		})
	}
}

func TestRecordKey(t *testing.T) {
	dup := Row{int64(1), "x", nil}
	b := &Batch{ID: "batch-1", Rows: []Row{dup, dup}}

	assert.NotEqual(t, b.RecordKey(0), b.RecordKey(1), "duplicate rows must not share a key")
	assert.Equal(t, b.RecordKey(1), (&Batch{ID: "batch-1"}).RecordKey(1))
	assert.NotEqual(t, b.RecordKey(0), (&Batch{ID: "batch-2"}).RecordKey(0))

	// the id length prefix keeps ("a", 1) apart from ("a\x01", ...)
	assert.NotEqual(t, (&Batch{ID: "a"}).RecordKey(1), (&Batch{ID: "a\x01"}).RecordKey(0))
}
