// Package batch runs one command over many inputs with bounded concurrency.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"haruki-cri-audio/utils"
	"haruki-cri-audio/utils/exporter"
	harukiLogger "haruki-cri-audio/utils/logger"
)

var logger = harukiLogger.NewLogger("HarukiCRIBatch", "INFO", nil)

// Result is the outcome of one input.
type Result struct {
	Input   string   `json:"input"`
	Outputs []string `json:"outputs,omitempty"`
	Skipped bool     `json:"skipped,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Command is what the runner applies to each input.
type Command interface {
	Run(cmd utils.HarukiCRICommand, input string) ([]string, error)
}

// UploadFunc receives the outputs of one input and the directory they are relative to.
type UploadFunc func(ctx context.Context, files []string, root string) error

type Runner struct {
	command Command
	fetcher *Fetcher
	workers int
	upload  UploadFunc
}

type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithFetcher(f *Fetcher) Option {
	return func(r *Runner) { r.fetcher = f }
}

func WithUpload(fn UploadFunc) Option {
	return func(r *Runner) { r.upload = fn }
}

func NewRunner(command Command, opts ...Option) *Runner {
	r := &Runner{command: command, workers: 4}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExpandPaths resolves directories to the files they contain with ext, recursively.
// Missing paths and files with another extension are dropped with a warning. An empty ext keeps every file.
func ExpandPaths(paths []string, ext string) []string {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			logger.Warnf("%s does not exist, skipped", p)
			continue
		}
		if info.IsDir() {
			files, err := utils.FindFilesByExtension(p, ext)
			if err != nil {
				logger.Warnf("failed to walk %s: %v", p, err)
			}
			out = append(out, files...)
			continue
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(p), ext) {
			logger.Warnf("%s is not a %s file, skipped", p, ext)
			continue
		}
		out = append(out, p)
	}
	return out
}

// Resolve downloads URL inputs and expands local paths.
func (r *Runner) Resolve(ctx context.Context, cmd utils.HarukiCRICommand, inputs []string) ([]string, []Result) {
	var local []string
	var failed []Result
	for _, in := range inputs {
		if !IsURL(in) {
			local = append(local, in)
			continue
		}
		if r.fetcher == nil {
			failed = append(failed, Result{Input: in, Error: "remote inputs are not enabled"})
			continue
		}
		p, err := r.fetcher.Download(ctx, in)
		if err != nil {
			logger.Errorf("failed to download %s: %v", in, err)
			failed = append(failed, Result{Input: in, Error: err.Error()})
			continue
		}
		local = append(local, p)
	}
	return ExpandPaths(local, cmd.InputExtension()), failed
}

// Run applies cmd to every input. One failing input never stops the others; the returned error
// summarises the failures and wraps the first one.
func (r *Runner) Run(ctx context.Context, cmd utils.HarukiCRICommand, inputs []string) ([]Result, error) {
	paths, results := r.Resolve(ctx, cmd, inputs)
	if len(paths) == 0 && len(results) == 0 {
		logger.Warnf("no %s inputs found", cmd)
		return nil, nil
	}

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, r.workers)
	errs := make([]error, len(paths))
	done := make([]Result, len(paths))
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			done[i].Input = p
			defer func() {
				if rec := recover(); rec != nil {
					errs[i] = fmt.Errorf("panic while processing %s: %v", p, rec)
				}
			}()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			outputs, err := r.command.Run(cmd, p)
			done[i].Outputs = outputs
			if errors.Is(err, exporter.ErrSkipped) {
				done[i].Skipped = true
				return
			}
			if err != nil {
				errs[i] = err
				return
			}
			if r.upload != nil && len(outputs) > 0 {
				if err := r.upload(ctx, outputs, filepath.Dir(p)); err != nil {
					errs[i] = fmt.Errorf("upload failed: %w", err)
				}
			}
		}(i, p)
	}
	wg.Wait()

	var firstError error
	errorCount := len(results)
	if errorCount > 0 {
		firstError = errors.New(results[0].Error)
	}
	for i, err := range errs {
		if err == nil {
			continue
		}
		done[i].Error = err.Error()
		logger.Errorf("%s: %v", done[i].Input, err)
		errorCount++
		if firstError == nil {
			firstError = err
		}
	}
	results = append(results, done...)
	if errorCount > 0 {
		return results, fmt.Errorf("%d of %d inputs failed: %w", errorCount, len(results), firstError)
	}
	return results, nil
}
