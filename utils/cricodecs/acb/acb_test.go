package acb

import (
	"crypto/md5"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"haruki-cri-audio/utils/cricodecs/hca"
	"haruki-cri-audio/utils/cricodecs/utf"
	"haruki-cri-audio/utils/cricodecs/utf/utftest"

	"github.com/stretchr/testify/require"
)

type waveform struct {
	encode, streaming, memoryID, streamID, port int
}

type fixture struct {
	name      string
	memory    []byte
	waveforms []waveform
	// synths holds the waveform index each synth references.
	synths   []int
	commands [][]byte
	cues     [][2]int
	streams  []string
}

func u16s(vals ...int) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.BigEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func op(code uint16, payload ...byte) []byte {
	out := []byte{byte(code >> 8), byte(code), byte(len(payload))}
	return append(out, payload...)
}

func startWaveform(synth int) []byte {
	return op(opStartWaveform, u16s(ReferenceSynth, synth)...)
}

func setPosition(ms uint32) []byte {
	p := make([]byte, 4)
	binary.BigEndian.PutUint32(p, ms)
	return op(opSetPosition, p...)
}

func concat(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// buildAWB lays entries out back to back with 16-bit ids and 32-bit offsets.
func buildAWB(key uint16, entries ...[]byte) []byte {
	n := len(entries)
	head := 16 + 2*n + 4*(n+1)
	out := make([]byte, head)
	copy(out, "AFS2")
	out[4], out[5], out[6] = 1, 4, 2
	le := binary.LittleEndian
	le.PutUint32(out[8:], uint32(n))
	le.PutUint16(out[12:], 1)
	le.PutUint16(out[14:], key)
	pos := head
	for i, e := range entries {
		le.PutUint16(out[16+2*i:], uint16(i))
		le.PutUint32(out[16+2*n+4*i:], uint32(pos))
		pos += len(e)
	}
	le.PutUint32(out[16+2*n+4*n:], uint32(pos))
	for _, e := range entries {
		out = append(out, e...)
	}
	return out
}

func (f fixture) bytes() []byte {
	wav := utftest.New("Waveform").
		Column("EncodeType", utf.TypeUInt8).
		Column("Streaming", utf.TypeUInt8).
		Column("MemoryAwbId", utf.TypeUInt16).
		Column("StreamAwbId", utf.TypeUInt16).
		Column("StreamAwbPortNo", utf.TypeUInt16)
	for _, w := range f.waveforms {
		wav.Row(w.encode, w.streaming, w.memoryID, w.streamID, w.port)
	}
	syn := utftest.New("Synth").Column("ReferenceItems", utf.TypeBlob)
	for _, wi := range f.synths {
		syn.Row(u16s(ReferenceWaveform, wi))
	}
	tev := utftest.New("TrackEvent").Column("Command", utf.TypeBlob)
	trk := utftest.New("Track").Column("EventIndex", utf.TypeUInt16)
	index := make([]int, len(f.commands))
	for i, c := range f.commands {
		tev.Row(c)
		trk.Row(i)
		index[i] = i
	}
	seq := utftest.New("Sequence").
		Column("NumTracks", utf.TypeUInt16).
		Column("TrackIndex", utf.TypeBlob).
		Row(len(f.commands), u16s(index...))
	cue := utftest.New("Cue").
		Column("CueId", utf.TypeUInt32).
		Column("ReferenceType", utf.TypeUInt8).
		Column("ReferenceIndex", utf.TypeUInt16)
	names := utftest.New("CueName").
		Column("CueName", utf.TypeString).
		Column("CueIndex", utf.TypeUInt16)
	cues := f.cues
	if cues == nil {
		cues = [][2]int{{ReferenceSequence, 0}}
	}
	for i, c := range cues {
		cue.Row(i+10, c[0], c[1])
		names.Row("cue_name_"+string(rune('a'+i)), i)
	}
	hash := utftest.New("StreamAwb").
		Column("Name", utf.TypeString).
		Column("Hash", utf.TypeBlob)
	hdr := utftest.New("StreamAwbHeader").Column("Header", utf.TypeBlob)
	for _, s := range f.streams {
		hash.Row(s, make([]byte, 16))
		hdr.Row(make([]byte, 16))
	}
	return utftest.New("Header").
		Column("Name", utf.TypeString).
		Column("AwbFile", utf.TypeBlob).
		Column("CueTable", utf.TypeBlob).
		Column("CueNameTable", utf.TypeBlob).
		Column("SequenceTable", utf.TypeBlob).
		Column("TrackTable", utf.TypeBlob).
		Column("TrackEventTable", utf.TypeBlob).
		Column("SynthTable", utf.TypeBlob).
		Column("WaveformTable", utf.TypeBlob).
		Column("StreamAwbHash", utf.TypeBlob).
		Column("StreamAwbAfs2Header", utf.TypeBlob).
		Row(f.name, f.memory, cue.Bytes(), names.Bytes(), seq.Bytes(), trk.Bytes(), tev.Bytes(),
			syn.Bytes(), wav.Bytes(), hash.Bytes(), hdr.Bytes()).
		Bytes()
}

// countingDecoder reads the format from the first entry byte.
type countingDecoder struct {
	calls int
}

func (d *countingDecoder) DecodeAudio(data []byte, key uint64, awbKey uint16) (*hca.Audio, error) {
	d.calls++
	rate := 48000
	if data[0] == 2 {
		rate = 44100
	}
	return &hca.Audio{PCM: []float32{0.5, -0.5}, SampleRate: rate, Channels: 2}, nil
}

func memoryFixture(commands ...[]byte) fixture {
	return fixture{
		name:      "se_test",
		memory:    buildAWB(0x1234, []byte{1, 0, 0}, []byte{2, 0, 0}, []byte{1, 1, 1}),
		waveforms: []waveform{{encode: EncodeTypeHCA}, {encode: EncodeTypeHCA, memoryID: 1}, {encode: EncodeTypeADX, memoryID: 2}},
		synths:    []int{0, 1, 2},
		commands:  commands,
	}
}

func decodeFixture(t *testing.T, f fixture) *Container {
	t.Helper()
	c, err := Decode(f.bytes(), t.TempDir())
	require.NoError(t, err)
	return c
}

func TestDecodeContainer(t *testing.T) {
	c := decodeFixture(t, memoryFixture(startWaveform(0)))
	require.Equal(t, "se_test", c.Name)
	require.NotNil(t, c.MemoryAudio)
	require.Equal(t, uint16(0x1234), c.MemoryAudio.Key)
	require.Equal(t, 3, c.WaveformTable.Len())
	require.Empty(t, c.StreamAudio)

	cues := c.Cues()
	require.Len(t, cues, 1)
	require.Equal(t, Cue{Index: 0, ID: 10, Name: "cue_name_a", ReferenceType: ReferenceSequence}, cues[0])

	ref, err := c.Waveform(1)
	require.NoError(t, err)
	data, key, err := c.RawAudio(ref)
	require.NoError(t, err)
	require.Equal(t, []byte{2, 0, 0}, data)
	require.Equal(t, uint16(0x1234), key)

	_, err = c.Waveform(3)
	require.ErrorIs(t, err, ErrDanglingReference)
}

func TestDecodeRowCount(t *testing.T) {
	buf := utftest.New("Header").Column("Name", utf.TypeString).Row("a").Row("b").Bytes()
	_, err := Decode(buf, t.TempDir())
	require.ErrorIs(t, err, ErrRowCount)
}

func TestLoadMissingStreamFile(t *testing.T) {
	dir := t.TempDir()
	f := fixture{
		name:      "bgm_test",
		waveforms: []waveform{{encode: EncodeTypeHCA, streaming: 1, streamID: 0, port: 0}},
		synths:    []int{0},
		commands:  [][]byte{startWaveform(0)},
		streams:   []string{"bgm_test_stream"},
	}
	acbPath := filepath.Join(dir, "bgm_test.acb")
	require.NoError(t, os.WriteFile(acbPath, f.bytes(), 0644))

	_, err := Load(acbPath)
	require.ErrorIs(t, err, ErrMissingStreamFile)
	var missing *MissingStreamFileError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "bgm_test_stream", missing.Name)
	require.Equal(t, filepath.Join(dir, "bgm_test_stream.awb"), missing.Path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bgm_test_stream.awb"), buildAWB(7, []byte{1, 9}), 0644))
	c, err := Load(acbPath)
	require.NoError(t, err)
	require.Len(t, c.StreamAudio, 1)
	require.NotNil(t, c.StreamAudio[0])

	tracks, err := NewInterpreter(c, &countingDecoder{}, 0, PolicyStrict).CueTracks(c.Cues()[0])
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	require.Len(t, tracks[0].Events, 1)
}

func TestLegacyIdColumn(t *testing.T) {
	f := memoryFixture()
	wav := utftest.New("Waveform").
		Column("Id", utf.TypeUInt16).
		Column("EncodeType", utf.TypeUInt8).
		Column("Streaming", utf.TypeUInt8).
		Row(2, EncodeTypeHCA, 0).
		Bytes()
	buf := utftest.New("Header").
		Column("Name", utf.TypeString).
		Column("AwbFile", utf.TypeBlob).
		Column("WaveformTable", utf.TypeBlob).
		Row(f.name, f.memory, wav).
		Bytes()
	c, err := Decode(buf, t.TempDir())
	require.NoError(t, err)
	ref, err := c.Waveform(0)
	require.NoError(t, err)
	require.Equal(t, 2, ref.ID)
	data, _, err := c.RawAudio(ref)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 1, 1}, data)
}

func TestAudioIsDecodedOnce(t *testing.T) {
	c := decodeFixture(t, memoryFixture(startWaveform(0), concat(setPosition(250), startWaveform(0))))
	dec := &countingDecoder{}
	tracks, err := NewInterpreter(c, dec, 1, PolicyStrict).CueTracks(c.Cues()[0])
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	require.Equal(t, 1, dec.calls)
	require.Same(t, tracks[0].Events[0].Audio, tracks[1].Events[1].Audio)
	require.Equal(t, 48000, tracks[1].SampleRate)
	require.Equal(t, 2, tracks[1].Channels)
}

func TestInterpretEvents(t *testing.T) {
	c := decodeFixture(t, memoryFixture())
	in := NewInterpreter(c, &countingDecoder{}, 0, PolicyStrict)
	cmd := concat(setPosition(500), startWaveform(0), op(opEnd), []byte{0xDE, 0xAD})
	track, err := in.Interpret(cmd)
	require.NoError(t, err)
	require.Len(t, track.Events, 2)
	require.Equal(t, SetPosition, track.Events[0].Kind)
	require.Equal(t, uint32(500), track.Events[0].Millis)
	require.Equal(t, StartWaveform, track.Events[1].Kind)
	require.NotNil(t, track.Events[1].Audio)
}

func TestUnknownOpcodePolicy(t *testing.T) {
	c := decodeFixture(t, memoryFixture())
	cmd := concat(op(0x1234, 0xAA, 0xBB), startWaveform(0))

	track, err := NewInterpreter(c, &countingDecoder{}, 0, PolicyWarn).Interpret(cmd)
	require.NoError(t, err)
	require.Len(t, track.Events, 1)

	_, err = NewInterpreter(c, &countingDecoder{}, 0, PolicyStrict).Interpret(cmd)
	require.ErrorIs(t, err, ErrUnknownOpcode)
}

func TestStartWaveformMarkerPolicy(t *testing.T) {
	c := decodeFixture(t, memoryFixture())
	cmd := op(opStartWaveform, u16s(1, 0)...)

	track, err := NewInterpreter(c, &countingDecoder{}, 0, PolicyWarn).Interpret(cmd)
	require.NoError(t, err)
	require.Len(t, track.Events, 1)
	require.Equal(t, StartWaveform, track.Events[0].Kind)

	_, err = NewInterpreter(c, &countingDecoder{}, 0, PolicyStrict).Interpret(cmd)
	require.ErrorIs(t, err, ErrInvalidCommand)
}

func TestPositionPastOneHour(t *testing.T) {
	c := decodeFixture(t, memoryFixture())
	cmd := setPosition(maxPositionMillis + 1)

	track, err := NewInterpreter(c, &countingDecoder{}, 0, PolicyWarn).Interpret(cmd)
	require.NoError(t, err)
	require.Equal(t, uint32(maxPositionMillis+1), track.Events[0].Millis)

	_, err = NewInterpreter(c, &countingDecoder{}, 0, PolicyStrict).Interpret(cmd)
	require.ErrorIs(t, err, ErrInvalidCommand)
}

func TestInterpretErrors(t *testing.T) {
	c := decodeFixture(t, memoryFixture())
	in := NewInterpreter(c, &countingDecoder{}, 0, PolicyStrict)

	_, err := in.Interpret(startWaveform(9))
	require.ErrorIs(t, err, ErrDanglingReference)

	_, err = in.Interpret(startWaveform(2))
	require.ErrorIs(t, err, ErrUnsupportedCodec)

	_, err = in.Interpret([]byte{0x07, 0xD0, 0x04, 0x00})
	require.ErrorIs(t, err, ErrTruncatedCommand)

	_, err = in.Interpret(op(opStartWaveform, u16s(ReferenceWaveform, 0)...))
	require.ErrorIs(t, err, ErrInvalidCommand)
}

func TestInconsistentFormat(t *testing.T) {
	c := decodeFixture(t, memoryFixture(startWaveform(0), startWaveform(1)))
	in := NewInterpreter(c, &countingDecoder{}, 0, PolicyWarn)
	_, err := in.CueTracks(c.Cues()[0])
	require.ErrorIs(t, err, ErrInconsistentFormat)

	in.BeginCue()
	track, err := in.Interpret(startWaveform(1))
	require.NoError(t, err)
	require.Equal(t, 44100, track.SampleRate)
}

func TestCueReferenceTypes(t *testing.T) {
	f := memoryFixture()
	f.cues = [][2]int{{ReferenceWaveform, 1}, {ReferenceSynth, 0}, {8, 0}}
	c := decodeFixture(t, f)
	in := NewInterpreter(c, &countingDecoder{}, 0, PolicyStrict)
	cues := c.Cues()

	tracks, err := in.CueTracks(cues[0])
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	require.Equal(t, 44100, tracks[0].SampleRate)

	tracks, err = in.CueTracks(cues[1])
	require.NoError(t, err)
	require.Len(t, tracks, 1)
	require.Equal(t, 48000, tracks[0].SampleRate)

	tracks, err = in.CueTracks(cues[2])
	require.NoError(t, err)
	require.Empty(t, tracks)
}

func TestDecryptUpdatesStreamHash(t *testing.T) {
	dir := t.TempDir()
	f := fixture{
		name:      "bgm_dec",
		memory:    buildAWB(0x55, []byte("not hca")),
		waveforms: []waveform{{encode: EncodeTypeHCA, streaming: 1}},
		synths:    []int{0},
		streams:   []string{"bgm_dec"},
	}
	acbPath := filepath.Join(dir, "bgm_dec.acb")
	require.NoError(t, os.WriteFile(acbPath, f.bytes(), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bgm_dec.awb"), buildAWB(0x77, []byte("raw")), 0644))

	c, err := Load(acbPath)
	require.NoError(t, err)
	require.NoError(t, c.Decrypt(1, hca.CipherKeyless))
	require.NoError(t, c.Save())

	awb, err := os.ReadFile(filepath.Join(dir, "bgm_dec.awb"))
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0}, awb[0xE:0x10])

	c, err = Load(acbPath)
	require.NoError(t, err)
	require.Zero(t, c.MemoryAudio.Key)
	require.Zero(t, c.StreamAudio[0].Key)
	sum := md5.Sum(awb)
	require.Equal(t, sum[:], c.StreamAwbHashTable.Row(0).Bytes("Hash"))
	require.Equal(t, awb[:16], c.StreamAwbAfs2HeaderTable.Row(0).Bytes("Header"))
}
