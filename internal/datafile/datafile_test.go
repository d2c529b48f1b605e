package datafile

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/model"
	"github.com/devrev/otree/internal/txlog"
)

var schema = model.Schema{Columns: []model.Column{
	{Name: "id", Type: model.ColumnTypeInt64},
	{Name: "price", Type: model.ColumnTypeFloat64},
	{Name: "city", Type: model.ColumnTypeString},
	{Name: "at", Type: model.ColumnTypeTimestamp},
	{Name: "active", Type: model.ColumnTypeBool},
}}

func TestEncodeDecodeRow(t *testing.T) {
	at := time.Date(2024, 2, 3, 4, 5, 6, 7, time.UTC)
	row := model.Row{int64(5), 2.5, "oslo", at, true}

	cells, err := EncodeRow(schema, row)
	require.NoError(t, err)
	back, err := DecodeRow(schema, cells)
	require.NoError(t, err)
	assert.Equal(t, row, back)

	withNulls := model.Row{int64(1), nil, nil, nil, nil}
	cells, err = EncodeRow(schema, withNulls)
	require.NoError(t, err)
	assert.True(t, cells[1].Null)
	back, err = DecodeRow(schema, cells)
	require.NoError(t, err)
	assert.Equal(t, withNulls, back)

	_, err = EncodeRow(schema, model.Row{"not an int", nil, nil, nil, nil})
	assert.Error(t, err)

	_, err = DecodeRow(schema, cells[:2])
	assert.Error(t, err)
}

func TestStoreWriteRead(t *testing.T) {
	ctx := context.Background()
	store, err := NewStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	var records []Record
	for i := 0; i < 1200; i++ {
		cells, err := EncodeRow(schema, model.Row{int64(i), float64(i) / 2, "c", nil, i%2 == 0})
		require.NoError(t, err)
		records = append(records, Record{Cube: "BA", Revision: 3, Weight: int32(i - 600), Cells: cells})
	}

	df, err := store.Write(ctx, "sales/eu", 3, "BA", records)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), df.Rows)
	assert.Equal(t, "BA", df.Cube)
	assert.Greater(t, df.Bytes, int64(0))
	assert.True(t, strings.HasPrefix(df.Path, "sales%2Feu/rev=3/cube=BA/"), df.Path)
	assert.True(t, strings.HasSuffix(df.Path, ".parquet"))

	got, err := store.Read(ctx, df)
	require.NoError(t, err)
	require.Len(t, got, 1200)
	for _, i := range []int{0, 511, 512, 1199} {
		assert.Equal(t, records[i].Weight, got[i].Weight)
		assert.Equal(t, "BA", got[i].Cube)
		row, err := DecodeRow(schema, got[i].Cells)
		require.NoError(t, err)
		assert.Equal(t, int64(i), row[0])
		assert.Equal(t, float64(i)/2, row[1])
		assert.Nil(t, row[3])
	}

	rootFile, err := store.Write(ctx, "sales/eu", 3, "", records[:1])
	require.NoError(t, err)
	assert.Contains(t, rootFile.Path, "/cube=root/")

	store.Remove([]txlog.DataFile{df, rootFile})
	_, err = os.Stat(store.Abs(df.Path))
	assert.True(t, os.IsNotExist(err))
}

func TestEstimateSize(t *testing.T) {
	small := EstimateSize([]Cell{{Int: 1}, {Null: true}})
	large := EstimateSize([]Cell{{Int: 1}, {Text: "a much longer string value"}})
	assert.Equal(t, uint64(recordOverhead+16), small)
	assert.Equal(t, small+uint64(len("a much longer string value")), large)
}
