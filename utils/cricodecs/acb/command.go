package acb

import (
	"encoding/binary"
	"fmt"

	"haruki-cri-audio/utils/cricodecs/hca"
)

// Policy decides what happens to opcodes and operands the interpreter does not understand.
type Policy int

const (
	// PolicyWarn logs and skips.
	PolicyWarn Policy = iota
	// PolicyStrict fails the track.
	PolicyStrict
)

func ParsePolicy(strict bool) Policy {
	if strict {
		return PolicyStrict
	}
	return PolicyWarn
}

const (
	opEnd           = 0x0000
	opStartWaveform = 0x07D0
	opSetPosition   = 0x07D1

	maxPositionMillis = 3600000
)

type EventKind int

const (
	StartWaveform EventKind = iota
	SetPosition
)

// Event is one playback step. Audio is set for StartWaveform, Millis for SetPosition.
type Event struct {
	Kind   EventKind
	Audio  *hca.Audio
	Millis uint32
}

// Track is the event list of one TrackEvent command stream.
type Track struct {
	Events     []Event
	SampleRate int
	Channels   int
}

// Interpreter runs track command streams against one container.
// Waveform formats are accumulated per cue; call BeginCue between cues.
type Interpreter struct {
	container  *Container
	decoder    hca.Decoder
	key        uint64
	policy     Policy
	sampleRate int
	channels   int
}

func NewInterpreter(c *Container, dec hca.Decoder, key uint64, policy Policy) *Interpreter {
	return &Interpreter{container: c, decoder: dec, key: key, policy: policy}
}

// BeginCue forgets the format seen so far.
func (in *Interpreter) BeginCue() {
	in.sampleRate = 0
	in.channels = 0
}

// Interpret decodes a (u16 opcode, u8 length, payload) stream into events.
func (in *Interpreter) Interpret(command []byte) (*Track, error) {
	be := binary.BigEndian
	t := &Track{}
	k := 0
	for k < len(command) {
		if k+2 > len(command) {
			return nil, fmt.Errorf("%w: opcode at 0x%x", ErrTruncatedCommand, k)
		}
		op := be.Uint16(command[k:])
		if op == opEnd {
			break
		}
		if k+3 > len(command) {
			return nil, fmt.Errorf("%w: length of opcode 0x%04x at 0x%x", ErrTruncatedCommand, op, k)
		}
		n := int(command[k+2])
		k += 3
		if k+n > len(command) {
			return nil, fmt.Errorf("%w: opcode 0x%04x wants %d bytes at 0x%x, %d left", ErrTruncatedCommand, op, n, k, len(command)-k)
		}
		payload := command[k : k+n]
		k += n

		switch op {
		case opStartWaveform:
			if len(payload) < 4 {
				return nil, fmt.Errorf("%w: start waveform payload is %d bytes", ErrTruncatedCommand, len(payload))
			}
			refType := int(be.Uint16(payload))
			if refType != ReferenceSynth {
				if err := in.anomaly(ErrInvalidCommand, "start waveform reference marker is %d, expected %d", refType, ReferenceSynth); err != nil {
					return nil, err
				}
			}
			wi, ok, err := in.synthWaveform(int(be.Uint16(payload[2:])))
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			ev, err := in.startWaveform(wi)
			if err != nil {
				return nil, err
			}
			t.Events = append(t.Events, ev)
		case opSetPosition:
			if len(payload) < 4 {
				return nil, fmt.Errorf("%w: set position payload is %d bytes", ErrTruncatedCommand, len(payload))
			}
			ms := be.Uint32(payload)
			if ms > maxPositionMillis {
				if err := in.anomaly(ErrInvalidCommand, "position %dms is past one hour", ms); err != nil {
					return nil, err
				}
			}
			t.Events = append(t.Events, Event{Kind: SetPosition, Millis: ms})
		default:
			if err := in.anomaly(ErrUnknownOpcode, "opcode 0x%04x with %d byte payload skipped", op, n); err != nil {
				return nil, err
			}
		}
	}
	t.SampleRate = in.sampleRate
	t.Channels = in.channels
	return t, nil
}

func (in *Interpreter) anomaly(kind error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if in.policy == PolicyStrict {
		return fmt.Errorf("%w: %s", kind, msg)
	}
	logger.Warnf("%s", msg)
	return nil
}

// synthWaveform reads the waveform index out of a synth's ReferenceItems.
func (in *Interpreter) synthWaveform(index int) (int, bool, error) {
	synths := in.container.SynthTable
	row := synths.Row(index)
	if row == nil {
		return 0, false, fmt.Errorf("%w: synth %d of %d", ErrDanglingReference, index, synths.Len())
	}
	items := row.Bytes("ReferenceItems")
	if len(items) < 4 {
		return 0, false, fmt.Errorf("%w: synth %d has %d reference bytes", ErrDanglingReference, index, len(items))
	}
	if typ := binary.BigEndian.Uint16(items); typ != ReferenceWaveform {
		if err := in.anomaly(ErrInvalidCommand, "synth %d references type %d, only waveforms are played", index, typ); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}
	return int(binary.BigEndian.Uint16(items[2:])), true, nil
}

func (in *Interpreter) startWaveform(index int) (Event, error) {
	ref, err := in.container.Waveform(index)
	if err != nil {
		return Event{}, err
	}
	audio, err := in.container.Audio(ref, in.decoder, in.key)
	if err != nil {
		return Event{}, err
	}
	if err := in.accumulate(audio); err != nil {
		return Event{}, fmt.Errorf("waveform %d: %w", index, err)
	}
	return Event{Kind: StartWaveform, Audio: audio}, nil
}

func (in *Interpreter) accumulate(a *hca.Audio) error {
	if in.sampleRate == 0 {
		in.sampleRate = a.SampleRate
	} else if in.sampleRate != a.SampleRate {
		return fmt.Errorf("%w: sample rate %d, cue uses %d", ErrInconsistentFormat, a.SampleRate, in.sampleRate)
	}
	if in.channels == 0 {
		in.channels = a.Channels
	} else if in.channels != a.Channels {
		return fmt.Errorf("%w: %d channels, cue uses %d", ErrInconsistentFormat, a.Channels, in.channels)
	}
	return nil
}
