// Package exporter implements the file level commands: extraction, decoding, decryption, mixing and dumps.
package exporter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"haruki-cri-audio/utils"
	"haruki-cri-audio/utils/cricodecs/hca"
	harukiLogger "haruki-cri-audio/utils/logger"

	"github.com/dlclark/regexp2"
)

var logger = harukiLogger.NewLogger("HarukiCRIExporter", "INFO", nil)

// ErrSkipped is returned by Run when the output directory already exists and Skip is set.
var ErrSkipped = errors.New("output exists, skipped")

type Options struct {
	// Key is the primary HCA key; nil means none was given.
	Key    *uint64
	AwbKey *uint16
	// Output is a directory, or a file for hca2wav and view_utf.
	Output   string
	Volume   float64
	BitDepth int
	Cipher   hca.CipherType
	Skip     bool
	// Decrypt makes acb2hcas and awb2hcas decrypt what they write.
	Decrypt bool
	Strict  bool
	// Filter keeps only outputs whose base name matches.
	Filter *regexp2.Regexp
	// Convert is "mp3" or "flac"; empty keeps the WAV.
	Convert    string
	RemoveWav  bool
	ConvertM2V bool
	FFmpegPath string
	// Format is the view_utf dump format, "json" or "msgpack".
	Format  string
	Workers int
	Decoder hca.Decoder
}

type Exporter struct {
	opts    Options
	decoder hca.Decoder
}

func New(opts Options) *Exporter {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Volume == 0 {
		opts.Volume = 1
	}
	if opts.Format == "" {
		opts.Format = "json"
	}
	dec := opts.Decoder
	if dec == nil {
		dec = hca.NewFFmpegDecoder(opts.FFmpegPath)
	}
	return &Exporter{opts: opts, decoder: dec}
}

func (e *Exporter) Options() Options { return e.opts }

func (e *Exporter) key() uint64 {
	if e.opts.Key == nil {
		return 0
	}
	return *e.opts.Key
}

func (e *Exporter) awbKey() uint16 {
	if e.opts.AwbKey == nil {
		return 0
	}
	return *e.opts.AwbKey
}

// Run executes cmd on one input file and returns the files it wrote.
func (e *Exporter) Run(cmd utils.HarukiCRICommand, input string) ([]string, error) {
	switch cmd {
	case utils.CommandACB2HCAs:
		return e.ACBToHCAs(input)
	case utils.CommandACB2WAVs:
		return e.ACBToWAVs(input)
	case utils.CommandAWB2HCAs:
		return e.AWBToHCAs(input)
	case utils.CommandAWB2WAVs:
		return e.AWBToWAVs(input)
	case utils.CommandHCA2WAV:
		return e.HCAToWAV(input)
	case utils.CommandViewUTF:
		return e.ViewUTF(input)
	case utils.CommandDecryptACB:
		return e.DecryptACB(input)
	case utils.CommandDecryptAWB:
		return e.DecryptAWB(input)
	case utils.CommandDecryptHCA:
		return e.DecryptHCA(input)
	case utils.CommandACBMix:
		return e.MixACB(input)
	case utils.CommandExtractCPK:
		return e.ExtractCPK(input)
	case utils.CommandExtractUSM:
		return e.ExtractUSM(input)
	}
	return nil, fmt.Errorf("invalid command: %s", cmd)
}

// outputDir resolves the directory for input, creating it. An existing directory with Skip set gives ErrSkipped.
func (e *Exporter) outputDir(input, name string) (string, error) {
	dir := e.opts.Output
	if dir == "" {
		dir = filepath.Join(filepath.Dir(input), name)
	}
	if utils.Exists(dir) {
		if e.opts.Skip {
			logger.Infof("Skipped %s", filepath.Base(input))
			return dir, ErrSkipped
		}
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return dir, fmt.Errorf("failed to create output directory: %w", err)
	}
	return dir, nil
}

func (e *Exporter) keep(name string) bool {
	if e.opts.Filter == nil {
		return true
	}
	ok, err := e.opts.Filter.MatchString(name)
	if err != nil {
		logger.Warnf("filter failed on %s: %v", name, err)
		return false
	}
	return ok
}

// finishWav runs the optional conversion and returns the file that remains.
func (e *Exporter) finishWav(wavFile string) (string, error) {
	base := strings.TrimSuffix(wavFile, filepath.Ext(wavFile))
	switch strings.ToLower(e.opts.Convert) {
	case "":
		return wavFile, nil
	case "mp3":
		mp3File := base + ".mp3"
		if err := ConvertWavToMP3(wavFile, mp3File, e.opts.RemoveWav, e.opts.FFmpegPath); err != nil {
			return "", err
		}
		return mp3File, nil
	case "flac":
		flacFile := base + ".flac"
		if err := ConvertWavToFLAC(wavFile, flacFile, e.opts.RemoveWav, e.opts.FFmpegPath); err != nil {
			return "", err
		}
		return flacFile, nil
	}
	return "", fmt.Errorf("unsupported conversion target: %s", e.opts.Convert)
}

// writeAudio decodes one HCA payload to outFile and converts it if asked.
func (e *Exporter) writeAudio(data []byte, awbKey uint16, outFile string) (string, error) {
	audio, err := e.decoder.DecodeAudio(data, e.key(), awbKey)
	if err != nil {
		return "", err
	}
	if err := WriteWav(outFile, e.opts.BitDepth, audio.Channels, audio.SampleRate, audio.PCM, e.opts.Volume); err != nil {
		return "", err
	}
	return e.finishWav(outFile)
}

// runParallel runs jobs on at most workers goroutines. Panics become errors.
// The returned error wraps the first failure and counts the rest.
func runParallel(workers int, jobs []func() (string, error)) ([]string, error) {
	var wg sync.WaitGroup
	semaphore := make(chan struct{}, workers)
	errChan := make(chan error, len(jobs))
	outputs := make([]string, len(jobs))

	for i, job := range jobs {
		wg.Add(1)
		go func(i int, job func() (string, error)) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errChan <- fmt.Errorf("panic in export job %d: %v", i, r)
				}
			}()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			out, err := job()
			if err != nil {
				errChan <- err
				return
			}
			outputs[i] = out
		}(i, job)
	}
	wg.Wait()
	close(errChan)

	var firstError error
	errorCount := 0
	for err := range errChan {
		errorCount++
		if firstError == nil {
			firstError = err
		}
		logger.Errorf("export error: %v", err)
	}
	written := make([]string, 0, len(outputs))
	for _, out := range outputs {
		if out != "" {
			written = append(written, out)
		}
	}
	if errorCount > 0 {
		return written, fmt.Errorf("failed to export %d of %d files: %w", errorCount, len(jobs), firstError)
	}
	return written, nil
}
