// Package usm demuxes CRI USM movies into their elementary video and audio streams.
package usm

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"haruki-cri-audio/utils"
	"haruki-cri-audio/utils/cricodecs/hca"
	"haruki-cri-audio/utils/cricodecs/utf"
	harukiLogger "haruki-cri-audio/utils/logger"
)

var logger = harukiLogger.NewLogger("HarukiUSMDemuxer", "INFO", nil)

const (
	SigCRID  = "CRID"
	SigVideo = "@SFV"
	SigAudio = "@SFA"

	chunkHeaderSize = 8
)

// Payload types, the low two bits of byte 0xF of a chunk.
const (
	PayloadStream   = 0
	PayloadHeader   = 1
	PayloadSection  = 2
	PayloadMetadata = 3
)

var (
	ErrNotUSM   = errors.New("not a USM file")
	ErrBadChunk = errors.New("bad USM chunk")
)

type Chunk struct {
	Signature string
	Offset    int
	Channel   int
	Type      int
	Payload   []byte
}

// Movie is a demuxed USM. Audio is keyed by channel number.
type Movie struct {
	Name     string
	Info     *utf.Table
	Video    []byte
	Audio    map[int][]byte
	AudioExt string
}

// Chunks walks every chunk of buf.
func Chunks(buf []byte) ([]Chunk, error) {
	if len(buf) < 4 || string(buf[:4]) != SigCRID {
		return nil, ErrNotUSM
	}
	br := utils.NewBinaryReader(buf, "big")
	var chunks []Chunk
	for pos := 0; pos+chunkHeaderSize <= len(buf); {
		br.Seek(pos)
		sig, _ := br.ReadBytes(4)
		blockSize, _ := br.ReadUInt32()
		next := pos + chunkHeaderSize + int(blockSize)
		if next > len(buf) {
			return nil, fmt.Errorf("%w: %s at 0x%x runs past the end", ErrBadChunk, sig, pos)
		}
		payloadOffset, err := br.ReadUInt16()
		if err != nil {
			return nil, fmt.Errorf("%w: %s at 0x%x: %v", ErrBadChunk, sig, pos, err)
		}
		padding, _ := br.ReadUInt16()
		channel, _ := br.ReadUChar()
		br.Seek(pos + 0xF)
		typ, _ := br.ReadUChar()

		size := int(blockSize) - int(payloadOffset) - int(padding)
		payload, err := br.ReadBytesAt(size, pos+chunkHeaderSize+int(payloadOffset))
		if err != nil {
			return nil, fmt.Errorf("%w: %s at 0x%x: %v", ErrBadChunk, sig, pos, err)
		}
		chunks = append(chunks, Chunk{
			Signature: string(sig),
			Offset:    pos,
			Channel:   int(channel),
			Type:      int(typ & 0b11),
			Payload:   payload,
		})
		pos = next
	}
	return chunks, nil
}

// Demux collects the stream payloads. A nil key leaves them masked.
func Demux(buf []byte, key *uint64) (*Movie, error) {
	chunks, err := Chunks(buf)
	if err != nil {
		return nil, err
	}
	var vmask [][]byte
	var amask []byte
	if key != nil {
		vmask, amask = getMask(*key)
	}

	m := &Movie{Audio: make(map[int][]byte)}
	for _, c := range chunks {
		switch {
		case c.Signature == SigCRID:
			info, err := utf.Decode(c.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to parse CRID table: %w", err)
			}
			m.Info = info
			if last := info.Row(info.Len() - 1); last != nil {
				m.Name = last.String("filename")
			}
		case c.Type != PayloadStream:
		case c.Signature == SigVideo:
			p := c.Payload
			if vmask != nil {
				p = unmaskVideo(p, vmask)
			}
			m.Video = append(m.Video, p...)
		case c.Signature == SigAudio:
			p := c.Payload
			if amask != nil {
				p = unmaskAudio(p, amask)
			}
			if m.AudioExt == "" {
				m.AudioExt = ".adx"
				if hca.IsHCA(p) {
					m.AudioExt = ".hca"
				}
			}
			m.Audio[c.Channel] = append(m.Audio[c.Channel], p...)
		default:
			logger.Debugf("skipped %s chunk at 0x%x", c.Signature, c.Offset)
		}
	}
	return m, nil
}

// Extract demuxes the USM at path into outDir as <name>.m2v and <name>.adx/.hca.
func Extract(path, outDir string, key *uint64) ([]string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read USM: %w", err)
	}
	m, err := Demux(buf, key)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	name := filepath.Base(strings.ReplaceAll(m.Name, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = filepath.Base(path)
	}
	base := utils.TrimExt(name)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	var outputs []string
	write := func(fileName string, data []byte) error {
		p := filepath.Join(outDir, fileName)
		if err := os.WriteFile(p, data, 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", fileName, err)
		}
		outputs = append(outputs, p)
		return nil
	}
	if len(m.Video) > 0 {
		if err := write(base+".m2v", m.Video); err != nil {
			return outputs, err
		}
	}
	for _, ch := range slices.Sorted(maps.Keys(m.Audio)) {
		data := m.Audio[ch]
		fileName := base + m.AudioExt
		if ch != 0 {
			fileName = fmt.Sprintf("%s_%d%s", base, ch, m.AudioExt)
		}
		if err := write(fileName, data); err != nil {
			return outputs, err
		}
	}
	return outputs, nil
}
