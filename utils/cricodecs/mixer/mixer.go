// Package mixer lays interpreted tracks on one timeline and sums them.
package mixer

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"haruki-cri-audio/utils/cricodecs/acb"
)

var (
	ErrEmpty              = errors.New("nothing to mix")
	ErrInconsistentFormat = acb.ErrInconsistentFormat
)

// Result is interleaved PCM clamped to [-1, 1].
type Result struct {
	PCM        []float32
	SampleRate int
	Channels   int
}

// Slot is every buffer that starts at Offset, in samples across all channels.
type Slot struct {
	Offset  int
	Buffers [][]float32
}

type running struct {
	pcm []float32
	pos int
}

// Mix places every StartWaveform event at the running SetPosition time of its track.
func Mix(tracks []*acb.Track) (*Result, error) {
	rate, channels := 0, 0
	for _, t := range tracks {
		if t == nil || t.SampleRate == 0 {
			continue
		}
		if rate == 0 {
			rate, channels = t.SampleRate, t.Channels
			continue
		}
		if t.SampleRate != rate || t.Channels != channels {
			return nil, fmt.Errorf("%w: %dHz/%dch against %dHz/%dch", ErrInconsistentFormat, t.SampleRate, t.Channels, rate, channels)
		}
	}

	byOffset := make(map[int]*Slot)
	size := 0
	for _, t := range tracks {
		if t == nil {
			continue
		}
		var millis uint64
		for _, ev := range t.Events {
			switch ev.Kind {
			case acb.SetPosition:
				millis += uint64(ev.Millis)
			case acb.StartWaveform:
				if ev.Audio == nil || len(ev.Audio.PCM) == 0 {
					continue
				}
				off := offsetOf(millis, rate, channels)
				s, ok := byOffset[off]
				if !ok {
					s = &Slot{Offset: off}
					byOffset[off] = s
				}
				s.Buffers = append(s.Buffers, ev.Audio.PCM)
				size = max(size, off+len(ev.Audio.PCM))
			}
		}
	}
	if size == 0 {
		return nil, ErrEmpty
	}

	slots := make([]*Slot, 0, len(byOffset)+1)
	for _, s := range byOffset {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Offset < slots[j].Offset })
	slots = append(slots, &Slot{Offset: math.MaxInt})

	out := make([]float32, size)
	var active []*running
	now := slots[0].Offset
	for _, s := range slots {
		end := min(s.Offset, size)
		for pos := now; pos < end; pos++ {
			var f float32
			for _, r := range active {
				if r.pos < len(r.pcm) {
					f += r.pcm[r.pos]
					r.pos++
				}
			}
			out[pos] = clamp(f)
		}
		keep := active[:0]
		for _, r := range active {
			if r.pos < len(r.pcm) {
				keep = append(keep, r)
			}
		}
		active = keep
		for _, b := range s.Buffers {
			active = append(active, &running{pcm: b})
		}
		now = end
	}
	return &Result{PCM: out, SampleRate: rate, Channels: channels}, nil
}

// offsetOf converts a time to an interleaved sample offset aligned to a whole frame.
func offsetOf(millis uint64, rate, channels int) int {
	off := int(math.Round(float64(millis) * float64(rate) * float64(channels) / 1000))
	if channels > 0 {
		if r := off % channels; r != 0 {
			off += channels - r
		}
	}
	return off
}

func clamp(f float32) float32 {
	if f > 1 {
		return 1
	}
	if f < -1 {
		return -1
	}
	return f
}
