package afs2

import (
	"encoding/binary"
	"testing"

	"haruki-cri-audio/utils"

	"github.com/stretchr/testify/require"
)

func buildArchive(sizes []int, alignment, offsetWidth, idWidth int, key uint16) []byte {
	headerSize := 16 + len(sizes)*idWidth + (len(sizes)+1)*offsetWidth
	buf := make([]byte, headerSize)
	copy(buf, Magic)
	buf[4] = 1
	buf[5] = byte(offsetWidth)
	buf[6] = byte(idWidth)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(sizes)))
	binary.LittleEndian.PutUint16(buf[12:], uint16(alignment))
	binary.LittleEndian.PutUint16(buf[14:], key)

	put := func(pos, width, v int) {
		if width == 2 {
			binary.LittleEndian.PutUint16(buf[pos:], uint16(v))
		} else {
			binary.LittleEndian.PutUint32(buf[pos:], uint32(v))
		}
	}
	pos := 16
	for i := range sizes {
		put(pos, idWidth, i+100)
		pos += idWidth
	}
	offsetPos := pos
	end := headerSize
	put(offsetPos, offsetWidth, end)
	for i, size := range sizes {
		start := utils.Align(end, alignment)
		data := make([]byte, start+size-len(buf))
		for j := start - len(buf); j < len(data); j++ {
			data[j] = byte(i + 1)
		}
		buf = append(buf, data...)
		end = start + size
		put(offsetPos+(i+1)*offsetWidth, offsetWidth, end)
	}
	return buf
}

func TestDecodeAlignedEntries(t *testing.T) {
	sizes := []int{10, 50, 5}
	buf := buildArchive(sizes, 32, 4, 2, 0x1234)

	a, err := Decode(buf)
	require.NoError(t, err)
	require.NotNil(t, a)
	require.Equal(t, 3, a.FileCount)
	require.Equal(t, 32, a.Alignment)
	require.Equal(t, uint16(0x1234), a.Key)
	require.Equal(t, []int{100, 101, 102}, a.FileIDs)

	prevEnd := a.Offsets[0]
	for i, e := range a.Entries {
		require.Len(t, e, sizes[i])
		start := a.Offsets[i+1] - len(e)
		require.Zero(t, start%32, "entry %d starts at %d", i, start)
		require.GreaterOrEqual(t, start, prevEnd)
		require.Less(t, start-prevEnd, 32)
		prevEnd = start + len(e)
		for _, b := range e {
			require.Equal(t, byte(i+1), b)
		}
	}
}

func TestDecodeShortOffsets(t *testing.T) {
	buf := buildArchive([]int{3, 4}, 16, 2, 4, 0)
	a, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, 2, a.OffsetWidth)
	require.Equal(t, 4, a.IDWidth)

	e, ok := a.Entry(101)
	require.True(t, ok)
	require.Equal(t, []byte{2, 2, 2, 2}, e)

	e, ok = a.Entry(0)
	require.True(t, ok)
	require.Equal(t, []byte{1, 1, 1}, e)

	_, ok = a.Entry(7)
	require.False(t, ok)
}

func TestDecodeNotAnArchive(t *testing.T) {
	a, err := Decode([]byte("AF"))
	require.NoError(t, err)
	require.Nil(t, a)

	a, err = Decode([]byte("@UTF\x00\x00\x00\x00"))
	require.NoError(t, err)
	require.Nil(t, a)
}

func TestDecodeErrors(t *testing.T) {
	buf := buildArchive([]int{10}, 4, 4, 2, 0)
	buf[5] = 3
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrBadOffsetWidth)

	buf = buildArchive([]int{10, 20}, 4, 4, 2, 0)
	_, err = Decode(buf[:len(buf)-5])
	require.ErrorIs(t, err, ErrTruncated)

	_, err = Decode(buf[:18])
	require.ErrorIs(t, err, ErrTruncated)
}

func TestClearKey(t *testing.T) {
	buf := buildArchive([]int{8}, 4, 4, 2, 0xBEEF)
	a, err := Decode(buf)
	require.NoError(t, err)
	a.ClearKey()
	require.Equal(t, uint16(0), a.Key)
	require.Equal(t, uint16(0), binary.LittleEndian.Uint16(buf[KeyOffset:]))
}
