package exporter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"haruki-cri-audio/utils"
	"haruki-cri-audio/utils/cricodecs/acb"
	"haruki-cri-audio/utils/cricodecs/afs2"
	"haruki-cri-audio/utils/cricodecs/hca"
)

var ErrNotAWB = errors.New("not an AFS2 archive")

func loadAWB(input string) (*afs2.Archive, error) {
	logger.Infof("Parsing %s...", filepath.Base(input))
	buf, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read AWB: %w", err)
	}
	a, err := afs2.Decode(buf)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(input), err)
	}
	if a == nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(input), ErrNotAWB)
	}
	return a, nil
}

// AWBToHCAs writes every entry as <N>.hca, N 1-based and padded to the width of the entry count.
func (e *Exporter) AWBToHCAs(input string) ([]string, error) {
	a, err := loadAWB(input)
	if err != nil {
		return nil, err
	}
	dir, err := e.outputDir(input, utils.TrimExt(input))
	if err != nil {
		return nil, err
	}
	logger.Infof("Extracting %s...", filepath.Base(input))
	var outputs []string
	for i, entry := range a.Entries {
		name := utils.PadIndex(i+1, len(a.Entries))
		if !e.keep(name) {
			continue
		}
		data := bytes.Clone(entry)
		if e.opts.Decrypt && hca.IsHCA(data) {
			if err := hca.DecryptInPlace(data, e.key(), a.Key, e.opts.Cipher); err != nil {
				return outputs, fmt.Errorf("failed to decrypt %s: %w", name, err)
			}
		}
		outFile := filepath.Join(dir, name+".hca")
		if err := os.WriteFile(outFile, data, 0644); err != nil {
			return outputs, fmt.Errorf("failed to write %s: %w", name, err)
		}
		outputs = append(outputs, outFile)
	}
	return outputs, nil
}

func (e *Exporter) AWBToWAVs(input string) ([]string, error) {
	a, err := loadAWB(input)
	if err != nil {
		return nil, err
	}
	dir, err := e.outputDir(input, utils.TrimExt(input))
	if err != nil {
		return nil, err
	}
	logger.Infof("Extracting %s...", filepath.Base(input))
	var jobs []func() (string, error)
	for i, entry := range a.Entries {
		name := utils.PadIndex(i+1, len(a.Entries))
		if !e.keep(name) {
			continue
		}
		if !hca.IsHCA(entry) {
			logger.Warnf("%s: entry %s is not HCA, skipped", filepath.Base(input), name)
			continue
		}
		outFile := filepath.Join(dir, name+".wav")
		jobs = append(jobs, func() (string, error) {
			out, err := e.writeAudio(entry, a.Key, outFile)
			if err != nil {
				return "", fmt.Errorf("failed to export %s: %w", name, err)
			}
			return out, nil
		})
	}
	return runParallel(e.opts.Workers, jobs)
}

// DecryptAWB decrypts every HCA entry in place, clears the archive key and rewrites the file.
func (e *Exporter) DecryptAWB(input string) ([]string, error) {
	a, err := loadAWB(input)
	if err != nil {
		return nil, err
	}
	logger.Infof("Decrypting %s...", filepath.Base(input))
	if err := acb.DecryptArchive(a, e.key(), e.opts.Cipher); err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(input), err)
	}
	if err := os.WriteFile(input, a.Raw, 0644); err != nil {
		return nil, fmt.Errorf("failed to write AWB: %w", err)
	}
	return []string{input}, nil
}
