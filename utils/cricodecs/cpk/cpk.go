package cpk

import (
	"encoding/binary"
	"errors"
	"fmt"

	"haruki-cri-audio/utils/cricodecs/crilayla"
	"haruki-cri-audio/utils/cricodecs/utf"
)

const (
	TagCPK  = "CPK "
	TagTOC  = "TOC "
	TagHTOC = "HTOC"
	TagETOC = "ETOC"
)

var (
	ErrNotCPK    = errors.New("not a CPK archive")
	ErrBadHeader = errors.New("bad CPK header")
	ErrBadEntry  = errors.New("bad CPK entry")
)

type File struct {
	Index       int
	ID          int
	DirName     string
	FileName    string
	FileSize    int
	ExtractSize int
	// Offset is absolute within the archive.
	Offset int
}

// Path is DirName/FileName with forward slashes.
func (f File) Path() string {
	if f.DirName == "" {
		return f.FileName
	}
	return f.DirName + "/" + f.FileName
}

type Archive struct {
	Info  utf.Row
	Toc   *utf.Table
	Htoc  *utf.Table
	Etoc  *utf.Table
	Files []File
	Raw   []byte
}

// parseTag decodes the UTF table that follows a 16 byte chunk header. A tag mismatch or empty chunk gives nil.
func parseTag(buf []byte, tag string) (*utf.Table, error) {
	if len(buf) < 0x10 || string(buf[:4]) != tag {
		return nil, nil
	}
	size := int(binary.LittleEndian.Uint32(buf[0x8:]))
	if size == 0 {
		return nil, nil
	}
	if 0x10+size > len(buf) {
		return nil, fmt.Errorf("%w: %q chunk of 0x%x bytes exceeds 0x%x", ErrBadHeader, tag, size, len(buf)-0x10)
	}
	t, err := utf.Decode(buf[0x10 : 0x10+size])
	if err != nil {
		return nil, fmt.Errorf("%q table: %w", tag, err)
	}
	return t, nil
}

func section(buf []byte, offset, size uint64) []byte {
	if offset == 0 || size == 0 || offset >= uint64(len(buf)) {
		return nil
	}
	end := min(offset+size, uint64(len(buf)))
	return buf[offset:end]
}

func Decode(buf []byte) (*Archive, error) {
	info, err := parseTag(buf, TagCPK)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, ErrNotCPK
	}
	if len(info.Rows) != 1 {
		return nil, fmt.Errorf("%w: header has %d rows", ErrBadHeader, len(info.Rows))
	}
	a := &Archive{Info: info.Rows[0], Raw: buf}

	tocOffset := a.Info.Uint64("TocOffset")
	if a.Htoc, err = parseTag(section(buf, a.Info.Uint64("HtocOffset"), a.Info.Uint64("HtocSize")), TagHTOC); err != nil {
		return nil, err
	}
	if a.Toc, err = parseTag(section(buf, tocOffset, a.Info.Uint64("TocSize")), TagTOC); err != nil {
		return nil, err
	}
	if a.Etoc, err = parseTag(section(buf, a.Info.Uint64("EtocOffset"), a.Info.Uint64("EtocSize")), TagETOC); err != nil {
		return nil, err
	}

	if a.Toc == nil {
		return a, nil
	}
	for i, row := range a.Toc.Rows {
		f := File{
			Index:       i,
			ID:          row.Int("ID"),
			DirName:     row.String("DirName"),
			FileName:    row.String("FileName"),
			FileSize:    row.Int("FileSize"),
			ExtractSize: row.Int("ExtractSize"),
			Offset:      int(tocOffset + row.Uint64("FileOffset")),
		}
		if f.Offset < 0 || f.FileSize < 0 || f.FileSize > len(buf) || f.Offset > len(buf)-f.FileSize {
			return nil, fmt.Errorf("%w: %s at 0x%x+0x%x exceeds archive", ErrBadEntry, f.Path(), f.Offset, f.FileSize)
		}
		a.Files = append(a.Files, f)
	}
	return a, nil
}

// Read returns the contents of f, decompressed when stored as CRILAYLA.
func (a *Archive) Read(f File) ([]byte, error) {
	data, err := crilayla.Decompress(a.Raw[f.Offset : f.Offset+f.FileSize])
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.Path(), err)
	}
	return data, nil
}
