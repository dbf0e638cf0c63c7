package hca

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"strings"
)

// Audio is decoded interleaved PCM in [-1, 1].
type Audio struct {
	PCM        []float32
	SampleRate int
	Channels   int
}

// Decoder turns an HCA stream into PCM. awbKey is the key of the archive the stream came from.
type Decoder interface {
	DecodeAudio(data []byte, key uint64, awbKey uint16) (*Audio, error)
}

// FFmpegDecoder strips the cipher itself and lets ffmpeg's hca demuxer produce float PCM.
type FFmpegDecoder struct {
	FFmpegPath string
}

func NewFFmpegDecoder(ffmpegPath string) *FFmpegDecoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegDecoder{FFmpegPath: ffmpegPath}
}

func (d *FFmpegDecoder) DecodeAudio(data []byte, key uint64, awbKey uint16) (*Audio, error) {
	info, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	plain := bytes.Clone(data)
	if info.CipherType != CipherNone {
		if err := DecryptInPlace(plain, key, awbKey, CipherNone); err != nil {
			return nil, fmt.Errorf("failed to decrypt HCA: %w", err)
		}
	}

	cmd := exec.Command(d.FFmpegPath, "-hide_banner", "-loglevel", "error",
		"-f", "hca", "-i", "pipe:0",
		"-f", "f32le", "-acodec", "pcm_f32le", "pipe:1")
	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(plain)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("failed to decode HCA with ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return &Audio{
		PCM:        float32LE(stdout.Bytes()),
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}, nil
}

func float32LE(raw []byte) []float32 {
	pcm := make([]float32, len(raw)/4)
	for i := range pcm {
		pcm[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return pcm
}
