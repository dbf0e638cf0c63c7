package exporter

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"haruki-cri-audio/utils/cricodecs/acb"
	"haruki-cri-audio/utils/cricodecs/hca"
	"haruki-cri-audio/utils/cricodecs/mixer"
)

// waveformName is memory_N or stream_N, counted separately and 1-based.
type waveformNamer struct {
	memory, stream int
}

func (n *waveformNamer) next(ref acb.WaveformRef) string {
	if ref.Streaming {
		n.stream++
		return fmt.Sprintf("stream_%d", n.stream)
	}
	n.memory++
	return fmt.Sprintf("memory_%d", n.memory)
}

func (e *Exporter) loadACB(input string) (*acb.Container, string, error) {
	logger.Infof("Parsing %s...", filepath.Base(input))
	c, err := acb.Load(input)
	if err != nil {
		return nil, "", err
	}
	name := c.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	}
	dir, err := e.outputDir(input, name)
	if err != nil {
		return nil, dir, err
	}
	return c, dir, nil
}

// ACBToHCAs writes every waveform payload of an ACB as it is stored, decrypted when Decrypt is set.
func (e *Exporter) ACBToHCAs(input string) ([]string, error) {
	c, dir, err := e.loadACB(input)
	if err != nil {
		return nil, err
	}
	logger.Infof("Extracting %s...", filepath.Base(input))
	var outputs []string
	var namer waveformNamer
	for i := 0; i < c.WaveformTable.Len(); i++ {
		ref, err := c.Waveform(i)
		if err != nil {
			return outputs, err
		}
		name := namer.next(ref)
		if !e.keep(name) {
			continue
		}
		data, awbKey, err := c.RawAudio(ref)
		if err != nil {
			return outputs, err
		}
		data = bytes.Clone(data)
		if e.opts.Decrypt && hca.IsHCA(data) {
			if err := hca.DecryptInPlace(data, e.key(), awbKey, e.opts.Cipher); err != nil {
				return outputs, fmt.Errorf("failed to decrypt %s: %w", name, err)
			}
		}
		outFile := filepath.Join(dir, name+acb.Extension(ref.EncodeType))
		if err := os.WriteFile(outFile, data, 0644); err != nil {
			return outputs, fmt.Errorf("failed to write %s: %w", name, err)
		}
		outputs = append(outputs, outFile)
	}
	return outputs, nil
}

// ACBToWAVs decodes every HCA waveform of an ACB. Other codecs are skipped with a warning.
func (e *Exporter) ACBToWAVs(input string) ([]string, error) {
	c, dir, err := e.loadACB(input)
	if err != nil {
		return nil, err
	}
	logger.Infof("Extracting %s...", filepath.Base(input))
	var jobs []func() (string, error)
	var namer waveformNamer
	for i := 0; i < c.WaveformTable.Len(); i++ {
		ref, err := c.Waveform(i)
		if err != nil {
			return nil, err
		}
		name := namer.next(ref)
		if !e.keep(name) {
			continue
		}
		if ref.EncodeType != acb.EncodeTypeHCA {
			logger.Warnf("%s: waveform %d has encode type %d, skipped", filepath.Base(input), i, ref.EncodeType)
			continue
		}
		data, awbKey, err := c.RawAudio(ref)
		if err != nil {
			return nil, err
		}
		outFile := filepath.Join(dir, name+".wav")
		jobs = append(jobs, func() (string, error) {
			out, err := e.writeAudio(data, awbKey, outFile)
			if err != nil {
				return "", fmt.Errorf("failed to export %s: %w", name, err)
			}
			return out, nil
		})
	}
	return runParallel(e.opts.Workers, jobs)
}

// cueFileName keeps a cue name usable as a single path element.
func cueFileName(cue acb.Cue) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(cue.Name)
	if name == "" || name == "." || name == ".." {
		name = fmt.Sprintf("cue_%d", cue.Index)
	}
	return name
}

// MixACB mixes every cue to <CueName>.wav. Cues failing on format or codec are logged and skipped.
func (e *Exporter) MixACB(input string) ([]string, error) {
	c, dir, err := e.loadACB(input)
	if err != nil {
		return nil, err
	}
	logger.Infof("Mixing %s...", filepath.Base(input))
	in := acb.NewInterpreter(c, e.decoder, e.key(), acb.ParsePolicy(e.opts.Strict))

	var outputs []string
	failed := 0
	for _, cue := range c.Cues() {
		name := cueFileName(cue)
		if !e.keep(name) {
			continue
		}
		tracks, err := in.CueTracks(cue)
		if err == nil {
			var res *mixer.Result
			res, err = mixer.Mix(tracks)
			if errors.Is(err, mixer.ErrEmpty) {
				logger.Debugf("cue %d (%s) is silent, skipped", cue.Index, name)
				continue
			}
			if err == nil {
				outFile := filepath.Join(dir, name+".wav")
				logger.Infof("Writing %s.wav...", name)
				if err := WriteWav(outFile, e.opts.BitDepth, res.Channels, res.SampleRate, res.PCM, e.opts.Volume); err != nil {
					return outputs, fmt.Errorf("cue %s: %w", name, err)
				}
				final, err := e.finishWav(outFile)
				if err != nil {
					return outputs, fmt.Errorf("cue %s: %w", name, err)
				}
				outputs = append(outputs, final)
				continue
			}
		}
		if errors.Is(err, acb.ErrInconsistentFormat) || errors.Is(err, acb.ErrUnsupportedCodec) {
			failed++
			logger.Errorf("%s: cue %d (%s): %v", filepath.Base(input), cue.Index, name, err)
			continue
		}
		return outputs, fmt.Errorf("cue %s: %w", name, err)
	}
	if failed > 0 {
		logger.Warnf("%s: %d cues could not be mixed", filepath.Base(input), failed)
	}
	return outputs, nil
}

// DecryptACB decrypts the memory and stream archives of an ACB and writes everything back.
func (e *Exporter) DecryptACB(input string) ([]string, error) {
	logger.Infof("Parsing %s...", filepath.Base(input))
	c, err := acb.Load(input)
	if err != nil {
		return nil, err
	}
	logger.Infof("Decrypting %s...", filepath.Base(input))
	if err := c.Decrypt(e.key(), e.opts.Cipher); err != nil {
		return nil, err
	}
	if err := c.Save(); err != nil {
		return nil, err
	}
	outputs := []string{c.Path}
	for i, a := range c.StreamAudio {
		if a != nil {
			outputs = append(outputs, c.StreamPaths[i])
		}
	}
	return outputs, nil
}
