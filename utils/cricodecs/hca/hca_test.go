package hca

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

const testFrameSize = 0x20

func buildHCA(t *testing.T, cipher CipherType, frames [][]byte) []byte {
	t.Helper()
	be := binary.BigEndian
	var h bytes.Buffer
	h.WriteString("HCA\x00")
	h.Write([]byte{0x02, 0x00, 0, 0})

	fmtChunk := make([]byte, 0x10)
	copy(fmtChunk, "fmt\x00")
	be.PutUint32(fmtChunk[4:], 2<<24|44100)
	be.PutUint32(fmtChunk[8:], uint32(len(frames)))
	h.Write(fmtChunk)

	comp := make([]byte, 0x10)
	copy(comp, "comp")
	be.PutUint16(comp[4:], testFrameSize)
	comp[6], comp[7], comp[8] = 1, 15, 1
	h.Write(comp)

	ciph := make([]byte, 6)
	copy(ciph, "ciph")
	be.PutUint16(ciph[4:], uint16(cipher))
	h.Write(ciph)
	h.Write([]byte{0, 0})

	header := h.Bytes()
	be.PutUint16(header[6:], uint16(len(header)))
	putChecksum(header)

	out := append([]byte(nil), header...)
	for _, f := range frames {
		require.Len(t, f, testFrameSize)
		out = append(out, f...)
	}
	return out
}

func plainFrames() [][]byte {
	frames := make([][]byte, 2)
	for i := range frames {
		f := make([]byte, testFrameSize)
		f[0], f[1] = 0xFF, 0xFF
		for j := 2; j < testFrameSize-2; j++ {
			f[j] = byte(i*31 + j*7)
		}
		putChecksum(f)
		frames[i] = f
	}
	return frames
}

func encrypt(frames [][]byte, dec [256]byte) [][]byte {
	var enc [256]byte
	for i, v := range dec {
		enc[v] = byte(i)
	}
	out := make([][]byte, len(frames))
	for i, f := range frames {
		e := make([]byte, len(f))
		for j, b := range f {
			e[j] = enc[b]
		}
		putChecksum(e)
		out[i] = e
	}
	return out
}

func TestParseHeader(t *testing.T) {
	data := buildHCA(t, CipherKeyless, plainFrames())
	info, err := ParseHeader(data)
	require.NoError(t, err)
	require.Equal(t, 2, info.Channels)
	require.Equal(t, 44100, info.SampleRate)
	require.Equal(t, 2, info.FrameCount)
	require.Equal(t, testFrameSize, info.FrameSize)
	require.Equal(t, CipherKeyless, info.CipherType)
	require.Equal(t, 2*SamplesPerFrame, info.Samples())
	require.Positive(t, info.CipherOffset)

	data[9] ^= 0x01
	_, err = ParseHeader(data)
	require.ErrorIs(t, err, ErrChecksum)

	_, err = ParseHeader([]byte("RIFF0000"))
	require.ErrorIs(t, err, ErrNotHCA)
}

func TestMixKey(t *testing.T) {
	require.Equal(t, uint64(7), MixKey(7, 0))
	require.Equal(t, uint64(0x1234EDCD), MixKey(1, 0x1234))
	require.Equal(t, uint64(3*0x1234EDCD), MixKey(3, 0x1234))
}

func TestDecryptKeyless(t *testing.T) {
	plain := plainFrames()
	data := buildHCA(t, CipherKeyless, encrypt(plain, tableKeyless()))

	require.NoError(t, DecryptInPlace(data, 0, 0, CipherNone))
	info, err := ParseHeader(data)
	require.NoError(t, err)
	require.Equal(t, CipherNone, info.CipherType)
	for i, f := range plain {
		got := data[info.HeaderSize+i*testFrameSize : info.HeaderSize+(i+1)*testFrameSize]
		require.Equal(t, f, got)
		require.Zero(t, crc16Checksum(got))
	}
}

func TestDecryptKeyedToKeyless(t *testing.T) {
	const key = uint64(0x0123456789ABCDEF)
	const awbKey = uint16(0x4D2)
	plain := plainFrames()
	data := buildHCA(t, CipherKeyed, encrypt(plain, tableKeyed(MixKey(key, awbKey))))

	require.NoError(t, DecryptInPlace(data, key, awbKey, CipherKeyless))
	info, err := ParseHeader(data)
	require.NoError(t, err)
	require.Equal(t, CipherKeyless, info.CipherType)
	frame := data[info.HeaderSize : info.HeaderSize+testFrameSize]
	require.Zero(t, crc16Checksum(frame))
	require.NotEqual(t, plain[0][2:testFrameSize-2], frame[2:testFrameSize-2])

	require.NoError(t, DecryptInPlace(data, 0, 0, CipherNone))
	require.Equal(t, plain[0], data[info.HeaderSize:info.HeaderSize+testFrameSize])
}

func TestDecryptRejectsKeyedTarget(t *testing.T) {
	data := buildHCA(t, CipherNone, plainFrames())
	err := DecryptInPlace(data, 1, 0, CipherKeyed)
	require.ErrorIs(t, err, ErrUnsupportedCipher)
}

func TestKeylessTableIsPermutation(t *testing.T) {
	seen := map[byte]bool{}
	for _, v := range tableKeyless() {
		seen[v] = true
	}
	require.Len(t, seen, 256)
}
