package utils

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var ErrOutOfRange = errors.New("read out of range")

// BinaryReader reads fixed width values from a byte slice. Every read is bounds checked.
type BinaryReader struct {
	buf    []byte
	pos    int
	Endian binary.ByteOrder
}

func NewBinaryReader(buf []byte, endian string) *BinaryReader {
	br := &BinaryReader{buf: buf}
	if endian == "big" {
		br.Endian = binary.BigEndian
	} else {
		br.Endian = binary.LittleEndian
	}
	return br
}

func (br *BinaryReader) Len() int { return len(br.buf) }

func (br *BinaryReader) Pos() int { return br.pos }

func (br *BinaryReader) Seek(pos int) { br.pos = pos }

func (br *BinaryReader) Bytes() []byte { return br.buf }

func (br *BinaryReader) check(offset, n int) error {
	if offset < 0 || n < 0 || offset > len(br.buf)-n {
		return fmt.Errorf("%w: %d bytes at 0x%x (size 0x%x)", ErrOutOfRange, n, offset, len(br.buf))
	}
	return nil
}

// ReadBytesAt returns a sub-slice of the backing buffer without moving the cursor.
func (br *BinaryReader) ReadBytesAt(length int, offset int) ([]byte, error) {
	if err := br.check(offset, length); err != nil {
		return nil, err
	}
	return br.buf[offset : offset+length : offset+length], nil
}

func (br *BinaryReader) ReadBytes(length int) ([]byte, error) {
	b, err := br.ReadBytesAt(length, br.pos)
	if err != nil {
		return nil, err
	}
	br.pos += length
	return b, nil
}

func (br *BinaryReader) ReadUChar() (uint8, error) {
	b, err := br.ReadBytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (br *BinaryReader) ReadChar() (int8, error) {
	b, err := br.ReadUChar()
	return int8(b), err
}

func (br *BinaryReader) ReadUInt16() (uint16, error) {
	b, err := br.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return br.Endian.Uint16(b), nil
}

func (br *BinaryReader) ReadInt16() (int16, error) {
	v, err := br.ReadUInt16()
	return int16(v), err
}

func (br *BinaryReader) ReadUInt32() (uint32, error) {
	b, err := br.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return br.Endian.Uint32(b), nil
}

func (br *BinaryReader) ReadInt32() (int32, error) {
	v, err := br.ReadUInt32()
	return int32(v), err
}

func (br *BinaryReader) ReadUInt64() (uint64, error) {
	b, err := br.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return br.Endian.Uint64(b), nil
}

func (br *BinaryReader) ReadInt64() (int64, error) {
	v, err := br.ReadUInt64()
	return int64(v), err
}

func (br *BinaryReader) ReadFloat32() (float32, error) {
	v, err := br.ReadUInt32()
	return math.Float32frombits(v), err
}

func (br *BinaryReader) ReadFloat64() (float64, error) {
	v, err := br.ReadUInt64()
	return math.Float64frombits(v), err
}

// ReadUIntN reads an unsigned value of 1, 2, 4 or 8 bytes.
func (br *BinaryReader) ReadUIntN(width int) (uint64, error) {
	switch width {
	case 1:
		v, err := br.ReadUChar()
		return uint64(v), err
	case 2:
		v, err := br.ReadUInt16()
		return uint64(v), err
	case 4:
		v, err := br.ReadUInt32()
		return uint64(v), err
	case 8:
		return br.ReadUInt64()
	}
	return 0, fmt.Errorf("unsupported integer width %d", width)
}

// ReadStringToNullAt returns the bytes from offset up to the next NUL.
func (br *BinaryReader) ReadStringToNullAt(offset int) ([]byte, error) {
	if err := br.check(offset, 0); err != nil {
		return nil, err
	}
	end := bytes.IndexByte(br.buf[offset:], 0)
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated string at 0x%x", ErrOutOfRange, offset)
	}
	return br.buf[offset : offset+end], nil
}

// Align rounds value up to a multiple of alignment.
func Align(value, alignment int) int {
	if alignment <= 1 {
		return value
	}
	if r := value % alignment; r != 0 {
		return value + alignment - r
	}
	return value
}
