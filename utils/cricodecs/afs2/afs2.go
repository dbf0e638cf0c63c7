package afs2

import (
	"errors"
	"fmt"

	"haruki-cri-audio/utils"
)

const (
	Magic = "AFS2"
	// KeyOffset is where the 16-bit archive key sits in the header.
	KeyOffset = 0xE
)

var (
	ErrTruncated      = errors.New("truncated AFS2 archive")
	ErrBadOffsetWidth = errors.New("bad AFS2 offset width")
	ErrBadRange       = errors.New("bad AFS2 entry range")
)

// Archive is a parsed AFS2 archive. Entries alias Raw.
type Archive struct {
	Version     uint8
	OffsetWidth int
	IDWidth     int
	FileCount   int
	Alignment   int
	Key         uint16
	FileIDs     []int
	// Offsets holds the fileCount+1 boundaries as stored.
	Offsets []int
	Entries [][]byte
	Raw     []byte
}

// Decode parses an AFS2 archive. A buffer that is not an archive gives nil, nil.
func Decode(buf []byte) (*Archive, error) {
	if len(buf) < 4 || string(buf[:4]) != Magic {
		return nil, nil
	}
	br := utils.NewBinaryReader(buf, "little")
	br.Seek(4)
	head, err := br.ReadBytes(4)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	a := &Archive{
		Version:     head[0],
		OffsetWidth: int(head[1]),
		IDWidth:     2,
		Raw:         buf,
	}
	if head[2] == 4 {
		a.IDWidth = 4
	}
	if a.OffsetWidth != 2 && a.OffsetWidth != 4 {
		return nil, fmt.Errorf("%w: %d", ErrBadOffsetWidth, a.OffsetWidth)
	}
	count, err := br.ReadUInt32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	alignment, err := br.ReadUInt16()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if a.Key, err = br.ReadUInt16(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	a.FileCount = int(count)
	a.Alignment = int(alignment)
	if a.Alignment == 0 {
		a.Alignment = 1
	}
	if need := 16 + a.FileCount*(a.IDWidth+a.OffsetWidth) + a.OffsetWidth; a.FileCount < 0 || need > len(buf) {
		return nil, fmt.Errorf("%w: %d entries need 0x%x header bytes, have 0x%x", ErrTruncated, a.FileCount, need, len(buf))
	}

	a.FileIDs = make([]int, a.FileCount)
	for i := range a.FileIDs {
		id, err := br.ReadUIntN(a.IDWidth)
		if err != nil {
			return nil, fmt.Errorf("%w: file id %d: %v", ErrTruncated, i, err)
		}
		a.FileIDs[i] = int(id)
	}
	a.Offsets = make([]int, a.FileCount+1)
	for i := range a.Offsets {
		off, err := br.ReadUIntN(a.OffsetWidth)
		if err != nil {
			return nil, fmt.Errorf("%w: offset %d: %v", ErrTruncated, i, err)
		}
		a.Offsets[i] = int(off)
	}

	a.Entries = make([][]byte, a.FileCount)
	start := utils.Align(a.Offsets[0], a.Alignment)
	for i := 0; i < a.FileCount; i++ {
		end := a.Offsets[i+1]
		if end < start {
			return nil, fmt.Errorf("%w: entry %d ends at 0x%x before its start 0x%x", ErrBadRange, i, end, start)
		}
		if end > len(buf) {
			return nil, fmt.Errorf("%w: entry %d ends at 0x%x past 0x%x", ErrTruncated, i, end, len(buf))
		}
		a.Entries[i] = buf[start:end:end]
		start = utils.Align(end, a.Alignment)
	}
	return a, nil
}

// Entry looks an entry up by file id, falling back to its position.
func (a *Archive) Entry(id int) ([]byte, bool) {
	if a == nil {
		return nil, false
	}
	i := a.Index(id)
	if i < 0 {
		return nil, false
	}
	return a.Entries[i], true
}

// Index returns the position of the entry with the given file id, falling back to id itself.
func (a *Archive) Index(id int) int {
	for i, fid := range a.FileIDs {
		if fid == id {
			return i
		}
	}
	if id >= 0 && id < len(a.Entries) {
		return id
	}
	return -1
}

// ClearKey zeroes the archive key in the backing buffer.
func (a *Archive) ClearKey() {
	if len(a.Raw) >= KeyOffset+2 {
		a.Raw[KeyOffset] = 0
		a.Raw[KeyOffset+1] = 0
	}
	a.Key = 0
}
