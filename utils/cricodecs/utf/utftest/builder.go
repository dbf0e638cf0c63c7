// Package utftest builds @UTF tables for tests.
package utftest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"haruki-cri-audio/utils/cricodecs/utf"
)

type column struct {
	name    string
	typ     utf.ColumnType
	storage utf.StorageMode
	value   any
}

type Builder struct {
	name    string
	columns []column
	rows    [][]any
}

func New(name string) *Builder {
	return &Builder{name: name}
}

// Column adds a per-row column.
func (b *Builder) Column(name string, typ utf.ColumnType) *Builder {
	b.columns = append(b.columns, column{name: name, typ: typ, storage: utf.StoragePerRow})
	return b
}

// Constant adds a column stored once in the schema.
func (b *Builder) Constant(name string, typ utf.ColumnType, value any) *Builder {
	b.columns = append(b.columns, column{name: name, typ: typ, storage: utf.StorageConstant, value: value})
	return b
}

// Zero adds a column without storage.
func (b *Builder) Zero(name string, typ utf.ColumnType) *Builder {
	b.columns = append(b.columns, column{name: name, typ: typ, storage: utf.StorageZero})
	return b
}

// Raw adds a column with an arbitrary type byte. Only valid for schema error tests.
func (b *Builder) Raw(name string, flags uint8) *Builder {
	b.columns = append(b.columns, column{name: name, typ: utf.ColumnType(flags & 0x1F), storage: utf.StorageMode(flags >> 5)})
	return b
}

// Row appends one row; values are given for per-row columns in declaration order.
func (b *Builder) Row(values ...any) *Builder {
	b.rows = append(b.rows, values)
	return b
}

type heaps struct {
	strings bytes.Buffer
	data    bytes.Buffer
	index   map[string]uint32
}

func (h *heaps) str(s string) uint32 {
	if off, ok := h.index[s]; ok {
		return off
	}
	off := uint32(h.strings.Len())
	h.strings.WriteString(s)
	h.strings.WriteByte(0)
	h.index[s] = off
	return off
}

func (h *heaps) blob(p []byte) (uint32, uint32) {
	off := uint32(h.data.Len())
	h.data.Write(p)
	return off, uint32(len(p))
}

func (h *heaps) put(w *bytes.Buffer, typ utf.ColumnType, v any) {
	be := binary.BigEndian
	var scratch [8]byte
	switch typ {
	case utf.TypeUInt8, utf.TypeInt8:
		w.WriteByte(byte(toUint64(v)))
	case utf.TypeUInt16, utf.TypeInt16:
		be.PutUint16(scratch[:], uint16(toUint64(v)))
		w.Write(scratch[:2])
	case utf.TypeUInt32, utf.TypeInt32:
		be.PutUint32(scratch[:], uint32(toUint64(v)))
		w.Write(scratch[:4])
	case utf.TypeUInt64, utf.TypeInt64:
		be.PutUint64(scratch[:], toUint64(v))
		w.Write(scratch[:8])
	case utf.TypeFloat32:
		be.PutUint32(scratch[:], math.Float32bits(float32(toFloat64(v))))
		w.Write(scratch[:4])
	case utf.TypeFloat64:
		be.PutUint64(scratch[:], math.Float64bits(toFloat64(v)))
		w.Write(scratch[:8])
	case utf.TypeString:
		s, _ := v.(string)
		be.PutUint32(scratch[:], h.str(s))
		w.Write(scratch[:4])
	case utf.TypeBlob:
		p, _ := v.([]byte)
		off, size := h.blob(p)
		be.PutUint32(scratch[:], off)
		be.PutUint32(scratch[4:], size)
		w.Write(scratch[:8])
	}
}

// Bytes encodes the table including the outer magic and size.
func (b *Builder) Bytes() []byte {
	h := &heaps{index: map[string]uint32{}}
	nameOff := h.str(b.name)

	var schema bytes.Buffer
	for _, c := range b.columns {
		schema.WriteByte(byte(c.storage)<<5 | byte(c.typ))
		var off [4]byte
		binary.BigEndian.PutUint32(off[:], h.str(c.name))
		schema.Write(off[:])
		if c.storage == utf.StorageConstant {
			h.put(&schema, c.typ, c.value)
		}
	}

	var values bytes.Buffer
	rowSize := 0
	for i, r := range b.rows {
		start := values.Len()
		k := 0
		for _, c := range b.columns {
			if c.storage != utf.StoragePerRow {
				continue
			}
			if k >= len(r) {
				panic(fmt.Sprintf("utftest: row %d has %d values", i, len(r)))
			}
			h.put(&values, c.typ, r[k])
			k++
		}
		rowSize = values.Len() - start
	}

	valueOffset := 24 + schema.Len()
	stringOffset := valueOffset + values.Len()
	dataOffset := stringOffset + h.strings.Len()
	bodySize := dataOffset + h.data.Len()

	var body bytes.Buffer
	be := binary.BigEndian
	var hdr [24]byte
	be.PutUint16(hdr[0:], 1)
	be.PutUint16(hdr[2:], uint16(valueOffset))
	be.PutUint32(hdr[4:], uint32(stringOffset))
	be.PutUint32(hdr[8:], uint32(dataOffset))
	be.PutUint32(hdr[12:], nameOff)
	be.PutUint16(hdr[16:], uint16(len(b.columns)))
	be.PutUint16(hdr[18:], uint16(rowSize))
	be.PutUint32(hdr[20:], uint32(len(b.rows)))
	body.Write(hdr[:])
	body.Write(schema.Bytes())
	body.Write(values.Bytes())
	body.Write(h.strings.Bytes())
	body.Write(h.data.Bytes())

	out := make([]byte, 8, 8+bodySize)
	copy(out, utf.Magic)
	be.PutUint32(out[4:], uint32(bodySize))
	return append(out, body.Bytes()...)
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case int:
		return uint64(n)
	case int8:
		return uint64(n)
	case int16:
		return uint64(n)
	case int32:
		return uint64(n)
	case int64:
		return uint64(n)
	case uint:
		return uint64(n)
	case uint8:
		return uint64(n)
	case uint16:
		return uint64(n)
	case uint32:
		return uint64(n)
	case uint64:
		return n
	}
	return 0
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float32:
		return float64(n)
	case float64:
		return n
	}
	return float64(toUint64(v))
}
