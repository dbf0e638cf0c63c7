package hca

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

const (
	hcaVersion101 = 0x0101
	hcaVersion102 = 0x0102
	hcaVersion103 = 0x0103
	hcaVersion200 = 0x0200
	hcaVersion300 = 0x0300

	hcaMask          = 0x7F7F7F7F
	hcaMinFrameSize  = 0x8
	hcaMaxFrameSize  = 0xFFFF
	hcaMaxChannels   = 16
	hcaMaxSampleRate = 0x7FFFFF
	SamplesPerFrame  = 1024
	chunkHCA         = 0x48434100
	chunkFmt         = 0x666D7400
	chunkComp        = 0x636F6D70
	chunkDec         = 0x64656300
	chunkVbr         = 0x76627200
	chunkAth         = 0x61746800
	chunkLoop        = 0x6C6F6F70
	chunkCiph        = 0x63697068
	chunkRva         = 0x72766100
	chunkComm        = 0x636F6D6D
	maxHeaderSize    = 0x1000
)

var (
	ErrNotHCA            = errors.New("not an HCA stream")
	ErrBadHeader         = errors.New("bad HCA header")
	ErrChecksum          = errors.New("HCA checksum mismatch")
	ErrUnsupportedCipher = errors.New("unsupported HCA cipher")
)

// Info is the parsed HCA header.
type Info struct {
	Version        uint16
	HeaderSize     int
	Channels       int
	SampleRate     int
	FrameCount     int
	EncoderDelay   int
	EncoderPadding int
	FrameSize      int
	MinResolution  int
	MaxResolution  int
	TrackCount     int
	AthType        int
	LoopEnabled    bool
	LoopStartFrame int
	LoopEndFrame   int
	CipherType     CipherType
	// CipherOffset is the position of the ciph chunk, or -1.
	CipherOffset int
	RvaVolume    float32
	Comment      string
}

// Samples is the playable sample count per channel.
func (i *Info) Samples() int {
	n := i.FrameCount*SamplesPerFrame - i.EncoderDelay - i.EncoderPadding
	return max(n, 0)
}

func chunkAt(data []byte, pos int) uint32 {
	if pos+4 > len(data) {
		return 0
	}
	return binary.BigEndian.Uint32(data[pos:]) & hcaMask
}

// IsHCA reports whether data starts with an HCA signature.
func IsHCA(data []byte) bool {
	return chunkAt(data, 0) == chunkHCA
}

// ParseHeader reads and verifies the header chunks.
func ParseHeader(data []byte) (*Info, error) {
	if !IsHCA(data) || len(data) < 8 {
		return nil, ErrNotHCA
	}
	be := binary.BigEndian
	info := &Info{
		Version:      be.Uint16(data[4:]),
		HeaderSize:   int(be.Uint16(data[6:])),
		CipherOffset: -1,
		RvaVolume:    1,
	}
	switch info.Version {
	case hcaVersion101, hcaVersion102, hcaVersion103, hcaVersion200, hcaVersion300:
	default:
		return nil, fmt.Errorf("%w: version 0x%04x", ErrBadHeader, info.Version)
	}
	if info.HeaderSize < 8 || info.HeaderSize > maxHeaderSize || info.HeaderSize > len(data) {
		return nil, fmt.Errorf("%w: header size 0x%x", ErrBadHeader, info.HeaderSize)
	}
	if crc16Checksum(data[:info.HeaderSize]) != 0 {
		return nil, ErrChecksum
	}

	pos := 8
	end := info.HeaderSize
	has := func(chunk uint32, size int) bool {
		return end-pos >= size && chunkAt(data, pos) == chunk
	}

	if !has(chunkFmt, 0x10) {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrBadHeader)
	}
	info.Channels = int(data[pos+4])
	info.SampleRate = int(be.Uint32(data[pos+4:]) & 0xFFFFFF)
	info.FrameCount = int(be.Uint32(data[pos+8:]))
	info.EncoderDelay = int(be.Uint16(data[pos+12:]))
	info.EncoderPadding = int(be.Uint16(data[pos+14:]))
	if info.Channels < 1 || info.Channels > hcaMaxChannels {
		return nil, fmt.Errorf("%w: %d channels", ErrBadHeader, info.Channels)
	}
	if info.SampleRate < 1 || info.SampleRate > hcaMaxSampleRate {
		return nil, fmt.Errorf("%w: sample rate %d", ErrBadHeader, info.SampleRate)
	}
	if info.FrameCount == 0 {
		return nil, fmt.Errorf("%w: no frames", ErrBadHeader)
	}
	pos += 0x10

	switch {
	case has(chunkComp, 0x10):
		info.FrameSize = int(be.Uint16(data[pos+4:]))
		info.MinResolution = int(data[pos+6])
		info.MaxResolution = int(data[pos+7])
		info.TrackCount = int(data[pos+8])
		pos += 0x10
	case has(chunkDec, 0x0C):
		info.FrameSize = int(be.Uint16(data[pos+4:]))
		info.MinResolution = int(data[pos+6])
		info.MaxResolution = int(data[pos+7])
		info.TrackCount = int(data[pos+10] >> 4)
		pos += 0x0C
	default:
		return nil, fmt.Errorf("%w: missing comp/dec chunk", ErrBadHeader)
	}

	if has(chunkVbr, 0x08) {
		pos += 0x08
	}
	if info.Version < hcaVersion200 {
		info.AthType = 1
	}
	if has(chunkAth, 0x06) {
		info.AthType = int(be.Uint16(data[pos+4:]))
		pos += 0x06
	}
	if has(chunkLoop, 0x10) {
		info.LoopEnabled = true
		info.LoopStartFrame = int(be.Uint32(data[pos+4:]))
		info.LoopEndFrame = int(be.Uint32(data[pos+8:]))
		pos += 0x10
	}
	if has(chunkCiph, 0x06) {
		info.CipherOffset = pos
		info.CipherType = CipherType(be.Uint16(data[pos+4:]))
		switch info.CipherType {
		case CipherNone, CipherKeyless, CipherKeyed:
		default:
			return nil, fmt.Errorf("%w: type %d", ErrUnsupportedCipher, info.CipherType)
		}
		pos += 0x06
	}
	if has(chunkRva, 0x08) {
		info.RvaVolume = math.Float32frombits(be.Uint32(data[pos+4:]))
		pos += 0x08
	}
	if has(chunkComm, 0x05) {
		n := int(data[pos+4])
		if pos+5+n <= end {
			info.Comment = string(data[pos+5 : pos+5+n])
		}
	}

	if info.FrameSize < hcaMinFrameSize || info.FrameSize > hcaMaxFrameSize {
		return nil, fmt.Errorf("%w: frame size %d", ErrBadHeader, info.FrameSize)
	}
	if info.TrackCount == 0 {
		info.TrackCount = 1
	}
	return info, nil
}
