package exporter

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/wav"
)

// WAV bit depths. BitDepthFloat writes IEEE float samples.
const (
	BitDepthFloat = 0
	BitDepth8     = 8
	BitDepth16    = 16
	BitDepth24    = 24
	BitDepth32    = 32
)

const (
	wavFormatPCM   = 1
	wavFormatFloat = 3
)

// pcmStreamer feeds interleaved PCM to beep one frame at a time. Mono is duplicated into both lanes.
type pcmStreamer struct {
	pcm      []float32
	channels int
	pos      int
}

func (s *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	frames := len(s.pcm) / s.channels
	if s.pos >= frames {
		return 0, false
	}
	for n < len(samples) && s.pos < frames {
		base := s.pos * s.channels
		l := float64(s.pcm[base])
		r := l
		if s.channels > 1 {
			r = float64(s.pcm[base+1])
		}
		samples[n] = [2]float64{l, r}
		n++
		s.pos++
	}
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }

func validBitDepth(bitDepth int) bool {
	switch bitDepth {
	case BitDepthFloat, BitDepth8, BitDepth16, BitDepth24, BitDepth32:
		return true
	}
	return false
}

// WriteWav writes interleaved PCM to path. Samples are scaled by volume and clamped to [-1, 1].
func WriteWav(path string, bitDepth, channels, sampleRate int, pcm []float32, volume float64) error {
	if !validBitDepth(bitDepth) {
		return fmt.Errorf("unsupported WAV bit depth %d", bitDepth)
	}
	if channels <= 0 || sampleRate <= 0 {
		return fmt.Errorf("invalid WAV format: %d channels at %d Hz", channels, sampleRate)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	// beep covers integer PCM up to 24 bits in mono or stereo
	if channels <= 2 && bitDepth >= BitDepth8 && bitDepth <= BitDepth24 {
		var s beep.Streamer = &pcmStreamer{pcm: pcm, channels: channels}
		if volume != 1 {
			s = &effects.Gain{Streamer: s, Gain: volume - 1}
		}
		format := beep.Format{
			SampleRate:  beep.SampleRate(sampleRate),
			NumChannels: channels,
			Precision:   bitDepth / 8,
		}
		if err := wav.Encode(file, s, format); err != nil {
			return fmt.Errorf("failed to encode WAV: %w", err)
		}
		return file.Close()
	}

	w := bufio.NewWriter(file)
	if err := encodeRIFF(w, bitDepth, channels, sampleRate, pcm, volume); err != nil {
		return fmt.Errorf("failed to encode WAV: %w", err)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return file.Close()
}

// encodeRIFF writes a canonical 44 byte header followed by the samples.
func encodeRIFF(w io.Writer, bitDepth, channels, sampleRate int, pcm []float32, volume float64) error {
	format := uint16(wavFormatPCM)
	bits := bitDepth
	if bitDepth == BitDepthFloat {
		format = wavFormatFloat
		bits = 32
	}
	frames := len(pcm) / channels
	blockAlign := channels * bits / 8
	dataSize := frames * blockAlign

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+dataSize))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], format)
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(sampleRate*blockAlign))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], uint16(bits))
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(dataSize))
	if _, err := w.Write(header); err != nil {
		return err
	}

	sample := make([]byte, bits/8)
	for _, v := range pcm[:frames*channels] {
		f := math.Max(-1, math.Min(1, float64(v)*volume))
		switch bitDepth {
		case BitDepthFloat:
			binary.LittleEndian.PutUint32(sample, math.Float32bits(float32(f)))
		case BitDepth8:
			sample[0] = byte(math.Round((f + 1) * 127.5))
		case BitDepth16:
			binary.LittleEndian.PutUint16(sample, uint16(int16(math.Round(f*math.MaxInt16))))
		case BitDepth24:
			s := int32(math.Round(f * 0x7FFFFF))
			sample[0], sample[1], sample[2] = byte(s), byte(s>>8), byte(s>>16)
		case BitDepth32:
			binary.LittleEndian.PutUint32(sample, uint32(int32(math.Round(f*math.MaxInt32))))
		}
		if _, err := w.Write(sample); err != nil {
			return err
		}
	}
	return nil
}
