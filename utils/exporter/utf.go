package exporter

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"haruki-cri-audio/utils"
	"haruki-cri-audio/utils/cricodecs/utf"

	"github.com/bytedance/sonic"
	"github.com/iancoleman/orderedmap"
	"github.com/shamaton/msgpack/v2"
)

// awbPreviewLength caps the memory AWB blob in dumps, counted in hex characters.
const awbPreviewLength = 0x20

// DumpJSON renders t as a list of column ordered rows. Blobs that are not tables become hex.
func DumpJSON(t *utf.Table) []*orderedmap.OrderedMap {
	rows := make([]*orderedmap.OrderedMap, len(t.Rows))
	for i, row := range t.Rows {
		om := orderedmap.New()
		for _, col := range t.Columns {
			switch v := row[col.Name].(type) {
			case *utf.Table:
				om.Set(col.Name, DumpJSON(v))
			case []byte:
				om.Set(col.Name, hex.EncodeToString(v))
			default:
				om.Set(col.Name, v)
			}
		}
		rows[i] = om
	}
	return rows
}

// DumpMsgpack is the msgpack form of DumpJSON. Blobs stay binary and rows are plain maps.
func DumpMsgpack(t *utf.Table) []map[string]any {
	rows := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		m := make(map[string]any, len(t.Columns))
		for _, col := range t.Columns {
			if nested, ok := row[col.Name].(*utf.Table); ok {
				m[col.Name] = DumpMsgpack(nested)
				continue
			}
			m[col.Name] = row[col.Name]
		}
		rows[i] = m
	}
	return rows
}

// ViewUTF dumps a UTF file (ACB, ACF and similar) next to it as <name>.json or <name>.msgpack.
func (e *Exporter) ViewUTF(input string) ([]string, error) {
	logger.Infof("Parsing %s...", filepath.Base(input))
	buf, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read UTF file: %w", err)
	}
	t, err := utf.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(input), err)
	}

	ext := ".json"
	if e.opts.Format == "msgpack" {
		ext = ".msgpack"
	}
	outFile := e.opts.Output
	if outFile == "" {
		outFile = filepath.Join(filepath.Dir(input), utils.TrimExt(input)+ext)
	} else if info, err := os.Stat(outFile); err == nil && info.IsDir() {
		outFile = filepath.Join(outFile, utils.TrimExt(input)+ext)
	}

	var data []byte
	switch e.opts.Format {
	case "json":
		rows := DumpJSON(t)
		for _, row := range rows {
			if v, ok := row.Get("AwbFile"); ok {
				if s, ok := v.(string); ok && len(s) > awbPreviewLength {
					row.Set("AwbFile", s[:awbPreviewLength])
				}
			}
		}
		data, err = sonic.ConfigStd.MarshalIndent(rows, "", "  ")
	case "msgpack":
		rows := DumpMsgpack(t)
		for _, row := range rows {
			if b, ok := row["AwbFile"].([]byte); ok && len(b) > awbPreviewLength/2 {
				row["AwbFile"] = b[:awbPreviewLength/2]
			}
		}
		data, err = msgpack.Marshal(rows)
	default:
		return nil, fmt.Errorf("unsupported dump format: %s", e.opts.Format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", filepath.Base(input), err)
	}
	logger.Infof("Writing %s...", filepath.Base(outFile))
	if err := os.WriteFile(outFile, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write dump: %w", err)
	}
	return []string{outFile}, nil
}
