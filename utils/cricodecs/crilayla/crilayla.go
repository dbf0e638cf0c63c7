package crilayla

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	Magic      = "CRILAYLA"
	HeaderSize = 0x100
)

var ErrCorrupt = errors.New("corrupt CRILAYLA stream")

var lengthWidths = [...]uint{2, 3, 5, 8}

// maxBytesPerBit bounds the output one stream bit can produce: an 0xFF length chunk adds 255 bytes per 8 bits.
const maxBytesPerBit = 32

// BitReader reads a bitstream backwards: bytes from last to first, bits MSB first.
type BitReader struct {
	buf    []byte
	offset int
	pool   byte
	left   uint
	err    error
}

func NewBitReader(buf []byte) *BitReader {
	return &BitReader{buf: buf, offset: len(buf) - 1}
}

// ReadBits returns the next count bits (count <= 32). Reading past the start sets Err and yields zeros.
func (r *BitReader) ReadBits(count uint) uint32 {
	var result uint32
	for produced := uint(0); produced < count; {
		if r.left == 0 {
			if r.offset < 0 {
				if r.err == nil {
					r.err = fmt.Errorf("%w: bitstream exhausted", ErrCorrupt)
				}
				return result << (count - produced)
			}
			r.pool = r.buf[r.offset]
			r.offset--
			r.left = 8
		}
		round := min(r.left, count-produced)
		result = result<<round | uint32(r.pool>>(r.left-round))&(1<<round-1)
		r.left -= round
		produced += round
	}
	return result
}

func (r *BitReader) Err() error { return r.err }

// IsCompressed reports whether buf starts with the CRILAYLA tag.
func IsCompressed(buf []byte) bool {
	return len(buf) >= len(Magic) && string(buf[:len(Magic)]) == Magic
}

// Decompress expands a CRILAYLA block. Input without the tag is returned unchanged.
// The output holds the 0x100 byte raw header followed by the decompressed data.
func Decompress(buf []byte) ([]byte, error) {
	if !IsCompressed(buf) {
		return buf, nil
	}
	if len(buf) < 0x10+HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrCorrupt, len(buf))
	}
	size := int(binary.LittleEndian.Uint32(buf[0x8:]))
	headerOffset := int(binary.LittleEndian.Uint32(buf[0xC:]))
	if headerOffset < 0 || 0x10+headerOffset+HeaderSize > len(buf) {
		return nil, fmt.Errorf("%w: header offset 0x%x out of range", ErrCorrupt, headerOffset)
	}

	if size > (len(buf)-HeaderSize)*8*maxBytesPerBit {
		return nil, fmt.Errorf("%w: uncompressed size 0x%x does not fit a %d byte stream", ErrCorrupt, size, len(buf))
	}

	result := make([]byte, size+HeaderSize)
	copy(result, buf[0x10+headerOffset:0x10+headerOffset+HeaderSize])

	end := HeaderSize + size - 1
	r := NewBitReader(buf[:len(buf)-HeaderSize])
	for output := 0; output < size; {
		if r.ReadBits(1) == 0 {
			result[end-output] = byte(r.ReadBits(8))
			output++
		} else {
			offset := end - output + int(r.ReadBits(13)) + 3
			length := 3
			level := 0
			for ; level < len(lengthWidths); level++ {
				v := int(r.ReadBits(lengthWidths[level]))
				length += v
				if v != 1<<lengthWidths[level]-1 {
					break
				}
			}
			if level == len(lengthWidths) {
				for {
					v := int(r.ReadBits(8))
					length += v
					if v != 0xFF {
						break
					}
				}
			}
			if offset > end {
				return nil, fmt.Errorf("%w: back reference 0x%x beyond output end 0x%x", ErrCorrupt, offset, end)
			}
			for i := 0; i < length && output < size; i++ {
				result[end-output] = result[offset]
				offset--
				output++
			}
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
	}
	return result, nil
}
