package exporter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"haruki-cri-audio/utils"
	"haruki-cri-audio/utils/cricodecs/hca"
)

// HCAToWAV decodes one HCA file. Output ending in .wav names the file, otherwise it is a directory.
func (e *Exporter) HCAToWAV(input string) ([]string, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read HCA: %w", err)
	}
	outFile := filepath.Join(filepath.Dir(input), utils.TrimExt(input)+".wav")
	switch {
	case strings.EqualFold(filepath.Ext(e.opts.Output), ".wav"):
		outFile = e.opts.Output
	case e.opts.Output != "":
		outFile = filepath.Join(e.opts.Output, utils.TrimExt(input)+".wav")
	}
	if err := os.MkdirAll(filepath.Dir(outFile), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	logger.Infof("Decoding %s...", filepath.Base(input))
	out, err := e.writeAudio(data, e.awbKey(), outFile)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(input), err)
	}
	return []string{out}, nil
}

// DecryptHCA rewrites an HCA file in place with the configured cipher.
func (e *Exporter) DecryptHCA(input string) ([]string, error) {
	data, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read HCA: %w", err)
	}
	logger.Infof("Decrypting %s...", filepath.Base(input))
	if err := hca.DecryptInPlace(data, e.key(), e.awbKey(), e.opts.Cipher); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(input), err)
	}
	if err := os.WriteFile(input, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write HCA: %w", err)
	}
	return []string{input}, nil
}
