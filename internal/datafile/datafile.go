package datafile

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/devrev/otree/internal/model"
	"github.com/devrev/otree/internal/txlog"
)

const readBatchSize = 512

// Cell is one typed column value of a stored row
type Cell struct {
	Null  bool    `parquet:"null"`
	Int   int64   `parquet:"int"`
	Float float64 `parquet:"float"`
	Text  string  `parquet:"text"`
	Bytes []byte  `parquet:"bytes"`
	Bool  bool    `parquet:"bool"`
}

// Record is one indexed row as written to a data file
type Record struct {
	Cube     string `parquet:"cube"`
	Revision int64  `parquet:"revision"`
	Weight   int32  `parquet:"weight"`
	Cells    []Cell `parquet:"cells"`
}

// EncodeRow converts a typed row into parquet cells following the schema
func EncodeRow(schema model.Schema, row model.Row) ([]Cell, error) {
	cells := make([]Cell, len(schema.Columns))
	for i, col := range schema.Columns {
		if i >= len(row) || row[i] == nil {
			cells[i].Null = true
			continue
		}
		v := row[i]
		var ok bool
		switch col.Type {
		case model.ColumnTypeInt64:
			cells[i].Int, ok = v.(int64)
		case model.ColumnTypeFloat64:
			cells[i].Float, ok = v.(float64)
		case model.ColumnTypeString:
			cells[i].Text, ok = v.(string)
		case model.ColumnTypeBool:
			cells[i].Bool, ok = v.(bool)
		case model.ColumnTypeBytes:
			cells[i].Bytes, ok = v.([]byte)
		case model.ColumnTypeTimestamp:
			var ts time.Time
			if ts, ok = v.(time.Time); ok {
				cells[i].Int = ts.UnixNano()
			}
		}
		if !ok {
			return nil, fmt.Errorf("column %q: cannot store %T as %s", col.Name, v, col.Type)
		}
	}
	return cells, nil
}

// recordOverhead approximates the per-record framing of cube, revision and weight
const recordOverhead = 24

// EstimateSize is an upper bound on the uncompressed bytes of one encoded row
func EstimateSize(cells []Cell) uint64 {
	n := uint64(recordOverhead)
	for _, c := range cells {
		n += 8 + uint64(len(c.Text)+len(c.Bytes))
	}
	return n
}

// DecodeRow converts stored cells back into a typed row
func DecodeRow(schema model.Schema, cells []Cell) (model.Row, error) {
	if len(cells) != len(schema.Columns) {
		return nil, fmt.Errorf("record has %d cells, schema has %d columns", len(cells), len(schema.Columns))
	}
	row := make(model.Row, len(cells))
	for i, col := range schema.Columns {
		c := cells[i]
		if c.Null {
			continue
		}
		switch col.Type {
		case model.ColumnTypeInt64:
			row[i] = c.Int
		case model.ColumnTypeFloat64:
			row[i] = c.Float
		case model.ColumnTypeString:
			row[i] = c.Text
		case model.ColumnTypeBool:
			row[i] = c.Bool
		case model.ColumnTypeBytes:
			row[i] = c.Bytes
		case model.ColumnTypeTimestamp:
			row[i] = time.Unix(0, c.Int).UTC()
		}
	}
	return row, nil
}

// Store writes and reads parquet data files under a root directory.
// Files live at <root>/<escaped table>/rev=<id>/cube=<address>/<uuid>.parquet;
// the root cube uses the address "root".
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore creates a store rooted at dir
func NewStore(dir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{root: dir, logger: logger}, nil
}

// Abs resolves a data file path recorded in the log
func (s *Store) Abs(rel string) string {
	return filepath.Join(s.root, filepath.FromSlash(rel))
}

func cubeDir(cube string) string {
	if cube == "" {
		return "cube=root"
	}
	return "cube=" + cube
}

// Write stores records of one cube in a new parquet file
func (s *Store) Write(ctx context.Context, tableID string, revisionID int64, cube string, records []Record) (txlog.DataFile, error) {
	if err := ctx.Err(); err != nil {
		return txlog.DataFile{}, err
	}
	rel := filepath.ToSlash(filepath.Join(
		url.PathEscape(tableID),
		fmt.Sprintf("rev=%d", revisionID),
		cubeDir(cube),
		uuid.NewString()+".parquet",
	))
	path := s.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return txlog.DataFile{}, fmt.Errorf("failed to create cube directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return txlog.DataFile{}, fmt.Errorf("failed to create data file: %w", err)
	}
	w := parquet.NewGenericWriter[Record](f)
	if _, err := w.Write(records); err != nil {
		f.Close()
		os.Remove(path)
		return txlog.DataFile{}, fmt.Errorf("failed to write data file: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		os.Remove(path)
		return txlog.DataFile{}, fmt.Errorf("failed to finish data file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return txlog.DataFile{}, err
	}
	if err := f.Close(); err != nil {
		return txlog.DataFile{}, err
	}

	return txlog.DataFile{
		Path:  rel,
		Cube:  cube,
		Rows:  int64(len(records)),
		Bytes: info.Size(),
	}, nil
}

// Read loads every record of a data file
func (s *Store) Read(ctx context.Context, df txlog.DataFile) ([]Record, error) {
	f, err := os.Open(s.Abs(df.Path))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	r := parquet.NewGenericReader[Record](pf)
	defer r.Close()

	out := make([]Record, 0, r.NumRows())
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// fresh buffer per read: decoded rows may alias reader memory
		buf := make([]Record, readBatchSize)
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}
	return out, nil
}

// Remove deletes data files, typically those of a commit that lost a race
func (s *Store) Remove(files []txlog.DataFile) {
	for _, df := range files {
		if err := os.Remove(s.Abs(df.Path)); err != nil && !stderrors.Is(err, os.ErrNotExist) {
			s.logger.Warn("Failed to remove data file", zap.String("path", df.Path), zap.Error(err))
		}
	}
}
