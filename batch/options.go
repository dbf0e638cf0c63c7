package batch

import (
	"context"
	"fmt"
	"path/filepath"

	"haruki-cri-audio/config"
	"haruki-cri-audio/utils/cloud"
	"haruki-cri-audio/utils/cricodecs/hca"
	"haruki-cri-audio/utils/exporter"

	"github.com/dlclark/regexp2"
)

// Overrides are per run settings layered over the config file. Zero values keep the config.
type Overrides struct {
	Key        string
	AwbKey     string
	Output     string
	Volume     *float64
	BitDepth   *int
	Cipher     *int
	Skip       bool
	Decrypt    bool
	Strict     bool
	Filter     string
	Convert    string
	RemoveWav  bool
	ConvertM2V bool
	Format     string
}

// ExporterOptions merges cfg.Decode, cfg.Tools and the overrides.
func ExporterOptions(cfg config.Config, o Overrides) (exporter.Options, error) {
	keyText := cfg.Decode.Key
	if o.Key != "" {
		keyText = o.Key
	}
	key, err := config.ParseKey(keyText)
	if err != nil {
		return exporter.Options{}, err
	}
	awbKeyText := cfg.Decode.AwbKey
	if o.AwbKey != "" {
		awbKeyText = o.AwbKey
	}
	awbKey, err := config.ParseAwbKey(awbKeyText)
	if err != nil {
		return exporter.Options{}, err
	}

	opts := exporter.Options{
		Key:        key,
		AwbKey:     awbKey,
		Output:     o.Output,
		Volume:     cfg.Decode.Volume,
		BitDepth:   cfg.Decode.BitDepth,
		Cipher:     hca.CipherType(cfg.Decode.CipherVariant),
		Skip:       o.Skip,
		Decrypt:    o.Decrypt,
		Strict:     cfg.Decode.StrictCommands || o.Strict,
		Convert:    o.Convert,
		RemoveWav:  o.RemoveWav,
		ConvertM2V: o.ConvertM2V,
		FFmpegPath: cfg.Tools.FFMPEGPath,
		Format:     o.Format,
		Workers:    cfg.Concurrents.Decodes,
	}
	if o.Volume != nil {
		opts.Volume = *o.Volume
	}
	if o.BitDepth != nil {
		opts.BitDepth = *o.BitDepth
	}
	if o.Cipher != nil {
		opts.Cipher = hca.CipherType(*o.Cipher)
	}
	switch opts.BitDepth {
	case exporter.BitDepthFloat, exporter.BitDepth8, exporter.BitDepth16, exporter.BitDepth24, exporter.BitDepth32:
	default:
		return exporter.Options{}, fmt.Errorf("unsupported bit depth %d", opts.BitDepth)
	}
	if opts.Cipher != hca.CipherNone && opts.Cipher != hca.CipherKeyless {
		return exporter.Options{}, fmt.Errorf("unsupported cipher variant %d", opts.Cipher)
	}
	if o.Filter != "" {
		re, err := regexp2.Compile(o.Filter, regexp2.None)
		if err != nil {
			return exporter.Options{}, fmt.Errorf("invalid filter: %w", err)
		}
		opts.Filter = re
	}
	return opts, nil
}

// RunnerOptions wires concurrency, remote inputs and, when upload is set, the configured storages.
func RunnerOptions(cfg config.Config, upload bool) []Option {
	workDir := cfg.Backend.WorkDir
	if workDir == "" {
		workDir = filepath.Join(".", "downloads")
	}
	opts := []Option{
		WithWorkers(cfg.Concurrents.Files),
		WithFetcher(NewFetcher(workDir, cfg.Proxy)),
	}
	if upload {
		storages := cfg.RemoteStorages
		uploads := cfg.Concurrents.Uploads
		opts = append(opts, WithUpload(func(ctx context.Context, files []string, root string) error {
			return cloud.UploadToAllStorages(ctx, storages, files, root, uploads)
		}))
	}
	return opts
}
