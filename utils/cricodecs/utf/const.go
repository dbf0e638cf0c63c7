package utf

import (
	"errors"
	"fmt"
)

const Magic = "@UTF"

// ColumnType is the low 5 bits of a schema type byte.
type ColumnType uint8

const (
	TypeUInt8   ColumnType = 0x10
	TypeInt8    ColumnType = 0x11
	TypeUInt16  ColumnType = 0x12
	TypeInt16   ColumnType = 0x13
	TypeUInt32  ColumnType = 0x14
	TypeInt32   ColumnType = 0x15
	TypeUInt64  ColumnType = 0x16
	TypeInt64   ColumnType = 0x17
	TypeFloat32 ColumnType = 0x18
	TypeFloat64 ColumnType = 0x19
	TypeString  ColumnType = 0x1A
	TypeBlob    ColumnType = 0x1B
)

// StorageMode is the high 3 bits of a schema type byte.
type StorageMode uint8

const (
	// StorageZero columns carry no bytes and decode to nil.
	StorageZero StorageMode = 0
	// StorageConstant columns are stored inline in the schema and shared by every row.
	StorageConstant StorageMode = 1
	// StoragePerRow columns are read from the value area, one value per row.
	StoragePerRow StorageMode = 2
)

func (t ColumnType) String() string {
	switch t {
	case TypeUInt8:
		return "uint8"
	case TypeInt8:
		return "int8"
	case TypeUInt16:
		return "uint16"
	case TypeInt16:
		return "int16"
	case TypeUInt32:
		return "uint32"
	case TypeInt32:
		return "int32"
	case TypeUInt64:
		return "uint64"
	case TypeInt64:
		return "int64"
	case TypeFloat32:
		return "float32"
	case TypeFloat64:
		return "float64"
	case TypeString:
		return "string"
	case TypeBlob:
		return "blob"
	}
	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// Size is the number of bytes a value of this type occupies in the schema or value area.
func (t ColumnType) Size() int {
	switch t {
	case TypeUInt8, TypeInt8:
		return 1
	case TypeUInt16, TypeInt16:
		return 2
	case TypeUInt32, TypeInt32, TypeFloat32, TypeString:
		return 4
	case TypeUInt64, TypeInt64, TypeFloat64, TypeBlob:
		return 8
	}
	return 0
}

var (
	ErrBadMagic          = errors.New("bad @UTF magic")
	ErrTruncated         = errors.New("truncated table")
	ErrUnsupportedSchema = errors.New("unsupported column schema")
)

// FormatError reports where in a table decoding failed.
type FormatError struct {
	Offset int
	Column string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("utf: column %q at 0x%x: %v", e.Column, e.Offset, e.Err)
	}
	return fmt.Sprintf("utf: at 0x%x: %v", e.Offset, e.Err)
}

func (e *FormatError) Unwrap() error { return e.Err }
