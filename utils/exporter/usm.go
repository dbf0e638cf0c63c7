package exporter

import (
	"fmt"
	"path/filepath"
	"strings"

	"haruki-cri-audio/utils/cricodecs/usm"
)

// ExtractUSM demuxes a USM next to it, or into Output. With ConvertM2V the video becomes MP4;
// RemoveWav also drops the m2v intermediate.
func (e *Exporter) ExtractUSM(input string) ([]string, error) {
	out := e.opts.Output
	if out == "" {
		out = filepath.Dir(input)
	}
	logger.Infof("Demuxing %s...", filepath.Base(input))
	extracted, err := usm.Extract(input, out, e.opts.Key)
	if err != nil {
		return extracted, fmt.Errorf("failed to extract USM file: %w", err)
	}
	if !e.opts.ConvertM2V {
		return extracted, nil
	}
	outputs := make([]string, 0, len(extracted))
	for _, f := range extracted {
		if strings.ToLower(filepath.Ext(f)) != ".m2v" {
			outputs = append(outputs, f)
			continue
		}
		mp4File := strings.TrimSuffix(f, filepath.Ext(f)) + ".mp4"
		if err := ConvertM2VToMP4(f, mp4File, e.opts.RemoveWav, e.opts.FFmpegPath); err != nil {
			return outputs, err
		}
		if !e.opts.RemoveWav {
			outputs = append(outputs, f)
		}
		outputs = append(outputs, mp4File)
	}
	return outputs, nil
}
