package txlog

import (
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/devrev/otree/internal/model"
	"github.com/devrev/otree/internal/revision"
	"github.com/devrev/otree/internal/status"
	"github.com/devrev/otree/internal/weight"
)

// Transactions are persisted in protobuf wire format with these field numbers:
//
//	Transaction: 1 version, 2 table_id, 3 id, 4 batch_id, 5 revision_id,
//	             6 revision (Revision), 7 cubes (repeated Cube),
//	             8 data_files (repeated DataFile), 9 committed_at (unix nanos)
//	Revision:    1 id, 2 table_id, 3 desired_cube_size, 4 columns (repeated Column),
//	             5 auto_expand, 6 created_at (unix nanos)
//	Column:      1 name, 2 type, 3 transformation, 4 min (double), 5 max (double)
//	Cube:        1 cube, 2 count, 3 max_weight (sint32)
//	DataFile:    1 path, 2 cube, 3 rows, 4 bytes

// Marshal encodes a transaction
func Marshal(tx *Transaction) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(tx.Version))
	b = appendString(b, 2, tx.TableID)
	b = appendString(b, 3, tx.ID)
	if tx.BatchID != "" {
		b = appendString(b, 4, tx.BatchID)
	}
	b = appendVarint(b, 5, uint64(tx.RevisionID))
	if tx.Revision != nil {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRevision(tx.Revision))
	}
	for _, c := range tx.Cubes {
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalCube(c))
	}
	for _, f := range tx.DataFiles {
		b = protowire.AppendTag(b, 8, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDataFile(f))
	}
	b = appendVarint(b, 9, uint64(tx.CommittedAt.UnixNano()))
	return b
}

func marshalRevision(r *revision.Revision) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(r.ID))
	b = appendString(b, 2, r.TableID)
	b = appendVarint(b, 3, uint64(r.DesiredCubeSize))
	for _, c := range r.Columns {
		var cb []byte
		cb = appendString(cb, 1, c.Name)
		cb = appendString(cb, 2, string(c.Type))
		cb = appendString(cb, 3, string(c.Transformation.Kind))
		cb = protowire.AppendTag(cb, 4, protowire.Fixed64Type)
		cb = protowire.AppendFixed64(cb, math.Float64bits(c.Transformation.Min))
		cb = protowire.AppendTag(cb, 5, protowire.Fixed64Type)
		cb = protowire.AppendFixed64(cb, math.Float64bits(c.Transformation.Max))
		if c.Transformation.Empty {
			cb = appendVarint(cb, 6, protowire.EncodeBool(true))
		}

		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, cb)
	}
	b = appendVarint(b, 5, protowire.EncodeBool(r.AutoExpand))
	b = appendVarint(b, 6, uint64(r.CreatedAt.UnixNano()))
	return b
}

func marshalCube(e status.Entry) []byte {
	var b []byte
	b = appendString(b, 1, e.Cube)
	b = appendVarint(b, 2, uint64(e.Size))
	b = appendVarint(b, 3, protowire.EncodeZigZag(int64(e.MaxWeight)))
	return b
}

func marshalDataFile(f DataFile) []byte {
	var b []byte
	b = appendString(b, 1, f.Path)
	b = appendString(b, 2, f.Cube)
	b = appendVarint(b, 3, uint64(f.Rows))
	b = appendVarint(b, 4, uint64(f.Bytes))
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

// Unmarshal decodes a transaction. Unknown fields are skipped.
func Unmarshal(b []byte) (*Transaction, error) {
	tx := &Transaction{}
	err := walk(b, func(num protowire.Number, f field) error {
		var err error
		switch num {
		case 1:
			tx.Version, err = f.int64Value()
		case 2:
			tx.TableID, err = f.stringValue()
		case 3:
			tx.ID, err = f.stringValue()
		case 4:
			tx.BatchID, err = f.stringValue()
		case 5:
			tx.RevisionID, err = f.int64Value()
		case 6:
			var raw []byte
			if raw, err = f.bytesValue(); err == nil {
				tx.Revision, err = unmarshalRevision(raw)
			}
		case 7:
			var raw []byte
			if raw, err = f.bytesValue(); err == nil {
				var e status.Entry
				e, err = unmarshalCube(raw)
				tx.Cubes = append(tx.Cubes, e)
			}
		case 8:
			var raw []byte
			if raw, err = f.bytesValue(); err == nil {
				var df DataFile
				df, err = unmarshalDataFile(raw)
				tx.DataFiles = append(tx.DataFiles, df)
			}
		case 9:
			var ns int64
			if ns, err = f.int64Value(); err == nil {
				tx.CommittedAt = time.Unix(0, ns).UTC()
			}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	return tx, nil
}

func unmarshalRevision(b []byte) (*revision.Revision, error) {
	r := &revision.Revision{}
	err := walk(b, func(num protowire.Number, f field) error {
		var err error
		switch num {
		case 1:
			r.ID, err = f.int64Value()
		case 2:
			r.TableID, err = f.stringValue()
		case 3:
			r.DesiredCubeSize, err = f.int64Value()
		case 4:
			var raw []byte
			if raw, err = f.bytesValue(); err == nil {
				var c revision.IndexedColumn
				c, err = unmarshalColumn(raw)
				r.Columns = append(r.Columns, c)
			}
		case 5:
			var v uint64
			if v, err = f.varintValue(); err == nil {
				r.AutoExpand = protowire.DecodeBool(v)
			}
		case 6:
			var ns int64
			if ns, err = f.int64Value(); err == nil {
				r.CreatedAt = time.Unix(0, ns).UTC()
			}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("revision: %w", err)
	}
	return r, nil
}

func unmarshalColumn(b []byte) (revision.IndexedColumn, error) {
	var c revision.IndexedColumn
	err := walk(b, func(num protowire.Number, f field) error {
		var err error
		switch num {
		case 1:
			c.Name, err = f.stringValue()
		case 2:
			var s string
			s, err = f.stringValue()
			c.Type = model.ColumnType(s)
		case 3:
			var s string
			s, err = f.stringValue()
			c.Transformation.Kind = revision.TransformationKind(s)
		case 4:
			c.Transformation.Min, err = f.doubleValue()
		case 5:
			c.Transformation.Max, err = f.doubleValue()
		case 6:
			var v uint64
			v, err = f.varintValue()
			c.Transformation.Empty = protowire.DecodeBool(v)
		}
		return err
	})
	if err != nil {
		return c, fmt.Errorf("column: %w", err)
	}
	return c, nil
}

func unmarshalCube(b []byte) (status.Entry, error) {
	var e status.Entry
	err := walk(b, func(num protowire.Number, f field) error {
		var err error
		switch num {
		case 1:
			e.Cube, err = f.stringValue()
		case 2:
			e.Size, err = f.int64Value()
		case 3:
			var v uint64
			if v, err = f.varintValue(); err == nil {
				zz := protowire.DecodeZigZag(v)
				if zz < math.MinInt32 || zz > math.MaxInt32 {
					return fmt.Errorf("max weight %d overflows int32", zz)
				}
				e.MaxWeight = weight.Weight(zz)
			}
		}
		return err
	})
	if err != nil {
		return e, fmt.Errorf("cube: %w", err)
	}
	return e, nil
}

func unmarshalDataFile(b []byte) (DataFile, error) {
	var df DataFile
	err := walk(b, func(num protowire.Number, f field) error {
		var err error
		switch num {
		case 1:
			df.Path, err = f.stringValue()
		case 2:
			df.Cube, err = f.stringValue()
		case 3:
			df.Rows, err = f.int64Value()
		case 4:
			df.Bytes, err = f.int64Value()
		}
		return err
	})
	if err != nil {
		return df, fmt.Errorf("data file: %w", err)
	}
	return df, nil
}

// field is one decoded tag value
type field struct {
	typ protowire.Type
	v   uint64
	raw []byte
}

func (f field) varintValue() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("wire type %d, want varint", f.typ)
	}
	return f.v, nil
}

func (f field) int64Value() (int64, error) {
	v, err := f.varintValue()
	return int64(v), err
}

func (f field) doubleValue() (float64, error) {
	if f.typ != protowire.Fixed64Type {
		return 0, fmt.Errorf("wire type %d, want fixed64", f.typ)
	}
	return math.Float64frombits(f.v), nil
}

func (f field) bytesValue() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("wire type %d, want bytes", f.typ)
	}
	return f.raw, nil
}

func (f field) stringValue() (string, error) {
	b, err := f.bytesValue()
	return string(b), err
}

// walk calls fn for every field of a message
func walk(b []byte, fn func(protowire.Number, field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		f := field{typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		if err := fn(num, f); err != nil {
			return fmt.Errorf("field %d: %w", num, err)
		}
	}
	return nil
}
