package utf

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"haruki-cri-audio/utils"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"
)

const (
	outerHeaderSize = 8
	schemaStart     = 24
)

// Header holds the fixed table header. Offsets are relative to the byte after the outer magic and size.
type Header struct {
	DataSize     uint32
	Unknown      uint16
	ValueOffset  uint16
	StringOffset uint32
	DataOffset   uint32
	NameOffset   uint32
	ElementCount uint16
	ValueSize    uint16
	PageCount    uint32
}

// Column is one schema entry. Value is only set for StorageConstant columns.
type Column struct {
	Name    string
	Type    ColumnType
	Storage StorageMode
	Value   any
}

type Table struct {
	Header  Header
	Name    string
	Columns []Column
	Rows    []Row
	// Raw is the buffer the table was decoded from, including the outer header.
	Raw []byte
}

type decoder struct {
	br     *utils.BinaryReader
	header Header
}

// Decode parses a UTF table. Blob columns holding a valid table are decoded recursively;
// other blobs stay as sub-slices of buf.
func Decode(buf []byte) (*Table, error) {
	if len(buf) < 4 || string(buf[:4]) != Magic {
		return nil, &FormatError{Err: ErrBadMagic}
	}
	if len(buf) < outerHeaderSize+schemaStart {
		return nil, &FormatError{Offset: len(buf), Err: ErrTruncated}
	}
	outer := utils.NewBinaryReader(buf, "big")
	outer.Seek(4)
	dataSize, _ := outer.ReadUInt32()

	d := &decoder{br: utils.NewBinaryReader(buf[outerHeaderSize:], "big")}
	h := Header{DataSize: dataSize}
	h.Unknown, _ = d.br.ReadUInt16()
	h.ValueOffset, _ = d.br.ReadUInt16()
	h.StringOffset, _ = d.br.ReadUInt32()
	h.DataOffset, _ = d.br.ReadUInt32()
	h.NameOffset, _ = d.br.ReadUInt32()
	h.ElementCount, _ = d.br.ReadUInt16()
	h.ValueSize, _ = d.br.ReadUInt16()
	h.PageCount, _ = d.br.ReadUInt32()
	d.header = h

	t := &Table{Header: h, Raw: buf}
	// the name is the first string of the pool; NameOffset is not applied
	name, err := d.stringAt(int(h.StringOffset))
	if err != nil {
		return nil, d.wrap("", int(h.StringOffset), err)
	}
	t.Name = name

	if err := d.readSchema(t); err != nil {
		return nil, err
	}
	if err := d.readRows(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *decoder) wrap(column string, offset int, err error) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, utils.ErrOutOfRange) {
		err = fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return &FormatError{Offset: offset + outerHeaderSize, Column: column, Err: err}
}

// readSchema walks the column list once; constant values sit inline after their entry.
func (d *decoder) readSchema(t *Table) error {
	d.br.Seek(schemaStart)
	t.Columns = make([]Column, 0, d.header.ElementCount)
	for j := 0; j < int(d.header.ElementCount); j++ {
		pos := d.br.Pos()
		flags, err := d.br.ReadUChar()
		if err != nil {
			return d.wrap("", pos, err)
		}
		nameOffset, err := d.br.ReadUInt32()
		if err != nil {
			return d.wrap("", pos, err)
		}
		name, err := d.stringAt(int(d.header.StringOffset) + int(nameOffset))
		if err != nil {
			return d.wrap("", pos, err)
		}
		col := Column{
			Name:    name,
			Type:    ColumnType(flags & 0x1F),
			Storage: StorageMode(flags >> 5),
		}
		if col.Type.Size() == 0 {
			return d.wrap(name, pos, fmt.Errorf("%w: scalar type 0x%02x", ErrUnsupportedSchema, uint8(col.Type)))
		}
		switch col.Storage {
		case StorageZero:
		case StorageConstant:
			v, err := d.readValue(col.Type)
			if err != nil {
				return d.wrap(name, d.br.Pos(), err)
			}
			col.Value = v
		case StoragePerRow:
		default:
			return d.wrap(name, pos, fmt.Errorf("%w: storage mode %d", ErrUnsupportedSchema, col.Storage))
		}
		t.Columns = append(t.Columns, col)
	}
	return nil
}

// checkPageCount rejects row counts the value area cannot hold. Tables without per-row
// columns are capped at one row per remaining byte.
func (d *decoder) checkPageCount(t *Table) error {
	available := d.br.Len() - int(d.header.ValueOffset)
	if available < 0 {
		return d.wrap("", int(d.header.ValueOffset), fmt.Errorf("%w: value offset past the end", ErrTruncated))
	}
	rowWidth := 0
	for _, col := range t.Columns {
		if col.Storage == StoragePerRow {
			rowWidth += col.Type.Size()
		}
	}
	pages := uint64(d.header.PageCount)
	if rowWidth == 0 && pages > uint64(available) || pages*uint64(rowWidth) > uint64(available) {
		return d.wrap("", int(d.header.ValueOffset),
			fmt.Errorf("%w: %d rows of %d bytes exceed %d bytes", ErrTruncated, pages, rowWidth, available))
	}
	return nil
}

func (d *decoder) readRows(t *Table) error {
	if err := d.checkPageCount(t); err != nil {
		return err
	}
	d.br.Seek(int(d.header.ValueOffset))
	t.Rows = make([]Row, 0, d.header.PageCount)
	for i := 0; i < int(d.header.PageCount); i++ {
		row := make(Row, len(t.Columns))
		for _, col := range t.Columns {
			switch col.Storage {
			case StorageConstant:
				row[col.Name] = col.Value
			case StoragePerRow:
				v, err := d.readValue(col.Type)
				if err != nil {
					return d.wrap(col.Name, d.br.Pos(), fmt.Errorf("row %d: %w", i, err))
				}
				row[col.Name] = v
			default:
				row[col.Name] = nil
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return nil
}

func (d *decoder) readValue(typ ColumnType) (any, error) {
	br := d.br
	switch typ {
	case TypeUInt8:
		return br.ReadUChar()
	case TypeInt8:
		return br.ReadChar()
	case TypeUInt16:
		return br.ReadUInt16()
	case TypeInt16:
		return br.ReadInt16()
	case TypeUInt32:
		return br.ReadUInt32()
	case TypeInt32:
		return br.ReadInt32()
	case TypeUInt64:
		return br.ReadUInt64()
	case TypeInt64:
		return br.ReadInt64()
	case TypeFloat32:
		return br.ReadFloat32()
	case TypeFloat64:
		return br.ReadFloat64()
	case TypeString:
		offset, err := br.ReadUInt32()
		if err != nil {
			return nil, err
		}
		return d.stringAt(int(d.header.StringOffset) + int(offset))
	case TypeBlob:
		offset, err := br.ReadUInt32()
		if err != nil {
			return nil, err
		}
		size, err := br.ReadUInt32()
		if err != nil {
			return nil, err
		}
		data, err := br.ReadBytesAt(int(size), int(d.header.DataOffset)+int(offset))
		if err != nil {
			return nil, err
		}
		if nested, err := Decode(data); err == nil {
			return nested, nil
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: scalar type 0x%02x", ErrUnsupportedSchema, uint8(typ))
}

func (d *decoder) stringAt(offset int) (string, error) {
	b, err := d.br.ReadStringToNullAt(offset)
	if err != nil {
		return "", err
	}
	return decodeString(b), nil
}

// decodeString keeps valid UTF-8 as is and treats anything else as Shift-JIS.
func decodeString(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), b)
	if err != nil {
		return string(b)
	}
	return string(out)
}
