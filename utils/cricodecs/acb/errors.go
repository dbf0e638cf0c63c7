package acb

import (
	"errors"
	"fmt"
)

var (
	ErrMissingStreamFile  = errors.New("missing stream archive")
	ErrInconsistentFormat = errors.New("inconsistent sample rate or channel count")
	ErrUnsupportedCodec   = errors.New("unsupported waveform codec")
	ErrDanglingReference  = errors.New("dangling table reference")
	ErrUnknownOpcode      = errors.New("unknown command opcode")
	ErrInvalidCommand     = errors.New("invalid command")
	ErrTruncatedCommand   = errors.New("truncated command")
	ErrRowCount           = errors.New("ACB header table must have exactly one row")
)

// MissingStreamFileError names the stream archive a streaming waveform needs.
type MissingStreamFileError struct {
	Name string
	Path string
}

func (e *MissingStreamFileError) Error() string {
	return fmt.Sprintf("%s: %s.awb not found at %s", ErrMissingStreamFile, e.Name, e.Path)
}

func (e *MissingStreamFileError) Is(target error) bool {
	return target == ErrMissingStreamFile
}
