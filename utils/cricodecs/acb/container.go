package acb

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"haruki-cri-audio/utils/cricodecs/afs2"
	"haruki-cri-audio/utils/cricodecs/hca"
	"haruki-cri-audio/utils/cricodecs/utf"
	harukiLogger "haruki-cri-audio/utils/logger"
)

var logger = harukiLogger.NewLogger("HarukiACBResolver", "INFO", nil)

// Waveform encoding types
const (
	EncodeTypeADX         = 0
	EncodeTypeHCA         = 2
	EncodeTypeVAG         = 7
	EncodeTypeATRAC3      = 8
	EncodeTypeBCWAV       = 9
	EncodeTypeNintendoDSP = 13
)

var encodeTypeExtensions = map[int]string{
	EncodeTypeADX:         ".adx",
	EncodeTypeHCA:         ".hca",
	EncodeTypeVAG:         ".vag",
	EncodeTypeATRAC3:      ".at3",
	EncodeTypeBCWAV:       ".bcwav",
	EncodeTypeNintendoDSP: ".dsp",
}

// Extension maps an encode type to a file extension.
func Extension(encodeType int) string {
	if ext, ok := encodeTypeExtensions[encodeType]; ok {
		return ext
	}
	return fmt.Sprintf(".%d", encodeType)
}

// Container is a parsed ACB with its memory and stream archives.
type Container struct {
	Header utf.Row
	Table  *utf.Table
	Name   string
	Path   string
	Raw    []byte

	MemoryAudio *afs2.Archive
	// StreamAudio is indexed by StreamAwbHash row; absent archives are nil.
	StreamAudio []*afs2.Archive
	StreamPaths []string

	CueTable                 *utf.Table
	CueNameTable             *utf.Table
	SequenceTable            *utf.Table
	TrackTable               *utf.Table
	TrackEventTable          *utf.Table
	SynthTable               *utf.Table
	WaveformTable            *utf.Table
	StreamAwbHashTable       *utf.Table
	StreamAwbAfs2HeaderTable *utf.Table

	slots map[slotKey]*slot
}

// WaveformRef locates the payload of one Waveform row.
type WaveformRef struct {
	Index      int
	Streaming  bool
	Port       int
	ID         int
	EncodeType int
}

type slotKey struct {
	// port is -1 for the memory archive.
	port  int
	entry int
}

// slot holds either the raw entry or, once decoded, the audio. raw is dropped on promotion.
type slot struct {
	raw     []byte
	decoded *hca.Audio
}

type options struct {
	streamDir string
}

type Option func(*options)

// WithStreamDir overrides the directory searched for stream archives.
func WithStreamDir(dir string) Option {
	return func(o *options) {
		o.streamDir = dir
	}
}

// Load reads an ACB file. Stream archives are looked up next to it.
func Load(path string, opts ...Option) (*Container, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ACB: %w", err)
	}
	o := options{streamDir: filepath.Dir(path)}
	for _, opt := range opts {
		opt(&o)
	}
	c, err := decode(buf, o)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	c.Path = path
	return c, nil
}

// Decode parses an ACB held in memory. dir is where stream archives live.
func Decode(buf []byte, dir string, opts ...Option) (*Container, error) {
	o := options{streamDir: dir}
	for _, opt := range opts {
		opt(&o)
	}
	return decode(buf, o)
}

func decode(buf []byte, o options) (*Container, error) {
	t, err := utf.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ACB header table: %w", err)
	}
	if t.Len() != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrRowCount, t.Len())
	}
	row := t.Rows[0]
	c := &Container{
		Header:                   row,
		Table:                    t,
		Name:                     row.String("Name"),
		Raw:                      buf,
		CueTable:                 row.Table("CueTable"),
		CueNameTable:             row.Table("CueNameTable"),
		SequenceTable:            row.Table("SequenceTable"),
		TrackTable:               row.Table("TrackTable"),
		TrackEventTable:          row.Table("TrackEventTable"),
		SynthTable:               row.Table("SynthTable"),
		WaveformTable:            row.Table("WaveformTable"),
		StreamAwbHashTable:       row.Table("StreamAwbHash"),
		StreamAwbAfs2HeaderTable: row.Table("StreamAwbAfs2Header"),
		slots:                    make(map[slotKey]*slot),
	}
	if c.TrackEventTable == nil {
		c.TrackEventTable = row.Table("CommandTable")
	}

	if awb := row.Bytes("AwbFile"); len(awb) > 0 {
		if c.MemoryAudio, err = afs2.Decode(awb); err != nil {
			return nil, fmt.Errorf("failed to parse memory AWB: %w", err)
		}
	}
	if err := c.loadStreams(o.streamDir); err != nil {
		return nil, err
	}
	if err := c.checkStreams(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) loadStreams(dir string) error {
	names := make([]string, c.StreamAwbHashTable.Len())
	for i := range names {
		names[i] = c.StreamAwbHashTable.Row(i).String("Name")
	}
	if len(names) == 0 && c.hasStreamingWaveform() && c.Name != "" {
		// Older ACBs carry no hash table and stream from <Name>.awb on port 0.
		names = []string{c.Name}
	}

	c.StreamAudio = make([]*afs2.Archive, len(names))
	c.StreamPaths = make([]string, len(names))
	for i, name := range names {
		p := filepath.Join(dir, name+".awb")
		c.StreamPaths[i] = p
		data, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read stream AWB %s: %w", p, err)
		}
		a, err := afs2.Decode(data)
		if err != nil {
			return fmt.Errorf("failed to parse stream AWB %s: %w", p, err)
		}
		if a == nil {
			logger.Warnf("%s is not an AFS2 archive, ignored", p)
			continue
		}
		c.StreamAudio[i] = a
	}
	return nil
}

func (c *Container) hasStreamingWaveform() bool {
	for i := 0; i < c.WaveformTable.Len(); i++ {
		if c.WaveformTable.Row(i).Int("Streaming") != 0 {
			return true
		}
	}
	return false
}

// checkStreams fails when any streaming waveform has no archive loaded for its port.
func (c *Container) checkStreams() error {
	for i := 0; i < c.WaveformTable.Len(); i++ {
		ref, err := c.Waveform(i)
		if err != nil {
			return err
		}
		if !ref.Streaming {
			continue
		}
		if _, err := c.Archive(ref); err != nil {
			return err
		}
	}
	return nil
}

// Waveform resolves Waveform row index. Rows without MemoryAwbId/StreamAwbId use the legacy Id column.
func (c *Container) Waveform(index int) (WaveformRef, error) {
	row := c.WaveformTable.Row(index)
	if row == nil {
		return WaveformRef{}, fmt.Errorf("%w: waveform %d of %d", ErrDanglingReference, index, c.WaveformTable.Len())
	}
	ref := WaveformRef{
		Index:      index,
		Streaming:  row.Int("Streaming") != 0,
		EncodeType: row.Int("EncodeType"),
		ID:         row.Int("Id"),
	}
	if ref.Streaming {
		ref.Port = row.Int("StreamAwbPortNo")
		if row.Has("StreamAwbId") {
			ref.ID = row.Int("StreamAwbId")
		}
	} else if row.Has("MemoryAwbId") {
		ref.ID = row.Int("MemoryAwbId")
	}
	return ref, nil
}

// Archive returns the AFS2 archive holding ref.
func (c *Container) Archive(ref WaveformRef) (*afs2.Archive, error) {
	if !ref.Streaming {
		if c.MemoryAudio == nil {
			return nil, fmt.Errorf("%w: waveform %d is in memory but the ACB has no AwbFile", ErrDanglingReference, ref.Index)
		}
		return c.MemoryAudio, nil
	}
	if ref.Port >= 0 && ref.Port < len(c.StreamAudio) && c.StreamAudio[ref.Port] != nil {
		return c.StreamAudio[ref.Port], nil
	}
	name, path := c.Name, ""
	if ref.Port >= 0 && ref.Port < len(c.StreamPaths) {
		path = c.StreamPaths[ref.Port]
		name = strings.TrimSuffix(filepath.Base(path), ".awb")
	}
	return nil, &MissingStreamFileError{Name: name, Path: path}
}

// RawAudio returns the archive entry of ref and the key of its archive.
func (c *Container) RawAudio(ref WaveformRef) ([]byte, uint16, error) {
	a, err := c.Archive(ref)
	if err != nil {
		return nil, 0, err
	}
	data, ok := a.Entry(ref.ID)
	if !ok {
		return nil, 0, fmt.Errorf("%w: waveform %d wants entry %d of %d", ErrDanglingReference, ref.Index, ref.ID, a.FileCount)
	}
	return data, a.Key, nil
}

// Audio decodes ref once per container; later calls return the cached audio.
func (c *Container) Audio(ref WaveformRef, dec hca.Decoder, key uint64) (*hca.Audio, error) {
	if ref.EncodeType != EncodeTypeHCA {
		return nil, fmt.Errorf("%w: waveform %d has encode type %d", ErrUnsupportedCodec, ref.Index, ref.EncodeType)
	}
	a, err := c.Archive(ref)
	if err != nil {
		return nil, err
	}
	idx := a.Index(ref.ID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: waveform %d wants entry %d of %d", ErrDanglingReference, ref.Index, ref.ID, a.FileCount)
	}
	k := slotKey{port: -1, entry: idx}
	if ref.Streaming {
		k.port = ref.Port
	}
	s, ok := c.slots[k]
	if !ok {
		s = &slot{raw: a.Entries[idx]}
		c.slots[k] = s
	}
	if s.decoded == nil {
		audio, err := dec.DecodeAudio(s.raw, key, a.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to decode waveform %d: %w", ref.Index, err)
		}
		s.decoded = audio
		s.raw = nil
	}
	return s.decoded, nil
}
