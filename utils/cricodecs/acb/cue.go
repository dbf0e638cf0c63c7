package acb

import (
	"encoding/binary"
	"fmt"
)

// Cue reference types
const (
	ReferenceWaveform = 1
	ReferenceSynth    = 2
	ReferenceSequence = 3
)

const noEvent = 0xFFFF

type Cue struct {
	Index          int
	ID             int
	Name           string
	ReferenceType  int
	ReferenceIndex int
}

// Cues lists the cue table with names joined from CueNameTable by CueIndex.
func (c *Container) Cues() []Cue {
	names := make(map[int]string, c.CueNameTable.Len())
	for i := 0; i < c.CueNameTable.Len(); i++ {
		row := c.CueNameTable.Row(i)
		names[row.Int("CueIndex")] = row.String("CueName")
	}
	cues := make([]Cue, c.CueTable.Len())
	for i := range cues {
		row := c.CueTable.Row(i)
		cues[i] = Cue{
			Index:          i,
			ID:             row.Int("CueId"),
			Name:           names[i],
			ReferenceType:  row.Int("ReferenceType"),
			ReferenceIndex: row.Int("ReferenceIndex"),
		}
	}
	return cues
}

// CueTracks resolves a cue to its tracks. Unsupported reference types give no tracks.
// The format accumulator is reset first, so every track of the cue shares one format.
func (in *Interpreter) CueTracks(cue Cue) ([]*Track, error) {
	in.BeginCue()
	switch cue.ReferenceType {
	case ReferenceSequence:
		return in.sequenceTracks(cue.ReferenceIndex)
	case ReferenceWaveform:
		t, err := in.waveformTrack(cue.ReferenceIndex)
		if err != nil {
			return nil, err
		}
		return []*Track{t}, nil
	case ReferenceSynth:
		wi, ok, err := in.synthWaveform(cue.ReferenceIndex)
		if err != nil || !ok {
			return nil, err
		}
		t, err := in.waveformTrack(wi)
		if err != nil {
			return nil, err
		}
		return []*Track{t}, nil
	}
	logger.Warnf("cue %d (%s): reference type %d is not supported, skipped", cue.Index, cue.Name, cue.ReferenceType)
	return nil, nil
}

func (in *Interpreter) sequenceTracks(index int) ([]*Track, error) {
	c := in.container
	seq := c.SequenceTable.Row(index)
	if seq == nil {
		return nil, fmt.Errorf("%w: sequence %d of %d", ErrDanglingReference, index, c.SequenceTable.Len())
	}
	n := seq.Int("NumTracks")
	trackIndex := seq.Bytes("TrackIndex")
	if len(trackIndex) < n*2 {
		return nil, fmt.Errorf("%w: sequence %d lists %d tracks in %d bytes", ErrDanglingReference, index, n, len(trackIndex))
	}

	tracks := make([]*Track, 0, n)
	for j := 0; j < n; j++ {
		ti := int(binary.BigEndian.Uint16(trackIndex[j*2:]))
		track := c.TrackTable.Row(ti)
		if track == nil {
			return nil, fmt.Errorf("%w: track %d of %d", ErrDanglingReference, ti, c.TrackTable.Len())
		}
		ei := track.Int("EventIndex")
		if ei == noEvent {
			continue
		}
		ev := c.TrackEventTable.Row(ei)
		if ev == nil {
			return nil, fmt.Errorf("%w: track event %d of %d", ErrDanglingReference, ei, c.TrackEventTable.Len())
		}
		t, err := in.Interpret(ev.Bytes("Command"))
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", ti, err)
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}

func (in *Interpreter) waveformTrack(index int) (*Track, error) {
	ev, err := in.startWaveform(index)
	if err != nil {
		return nil, err
	}
	return &Track{Events: []Event{ev}, SampleRate: in.sampleRate, Channels: in.channels}, nil
}
