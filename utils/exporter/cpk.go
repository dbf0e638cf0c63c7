package exporter

import (
	"fmt"
	"os"
	"path/filepath"

	"haruki-cri-audio/utils"
	"haruki-cri-audio/utils/cricodecs/cpk"
)

// ExtractCPK writes every TOC entry under <out>/<DirName>/<FileName>. Output defaults to the CPK's directory.
func (e *Exporter) ExtractCPK(input string) ([]string, error) {
	buf, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read CPK: %w", err)
	}
	a, err := cpk.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(input), err)
	}
	out := e.opts.Output
	if out == "" {
		out = filepath.Dir(input)
	}
	logger.Infof("Extracting %d files from %s...", len(a.Files), filepath.Base(input))
	var outputs []string
	for _, f := range a.Files {
		if !e.keep(f.Path()) {
			continue
		}
		data, err := a.Read(f)
		if err != nil {
			return outputs, err
		}
		outFile := utils.SafeJoin(out, f.DirName, f.FileName)
		if err := os.MkdirAll(filepath.Dir(outFile), 0755); err != nil {
			return outputs, fmt.Errorf("failed to create directory for %s: %w", f.Path(), err)
		}
		if err := os.WriteFile(outFile, data, 0644); err != nil {
			return outputs, fmt.Errorf("failed to write %s: %w", f.Path(), err)
		}
		outputs = append(outputs, outFile)
	}
	return outputs, nil
}
