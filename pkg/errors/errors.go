package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	ErrNoSuchFile       = errors.New("no such file")
	ErrNoVideoStream    = errors.New("no usable video stream")
	ErrNoAudioStream    = errors.New("no usable audio stream")
	ErrUnsupportedCodec = errors.New("unsupported codec")
	ErrNotOpen          = errors.New("no media is open")
	ErrInvalidGain      = errors.New("gain must not be negative")
	ErrNoSelection      = errors.New("no selection range set")
	ErrExportFailed     = errors.New("export failed")

	// ErrAgain is returned by decode backends when an operation cannot make
	// progress right now and should be retried on a later iteration.
	ErrAgain = errors.New("resource temporarily unavailable")
)

// OpenError is returned synchronously when a media file cannot be opened
// for playback. Err is one of the Err* sentinels, possibly wrapped.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error {
	return e.Err
}

// NewOpenError creates a new OpenError
func NewOpenError(path string, err error) *OpenError {
	return &OpenError{Path: path, Err: err}
}

// PlayerError wraps errors with additional context
type PlayerError struct {
	Op   string // Operation that failed
	Path string // Media path if applicable
	Err  error  // Underlying error
}

func (e *PlayerError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PlayerError) Unwrap() error {
	return e.Err
}

// NewPlayerError creates a new PlayerError
func NewPlayerError(op, path string, err error) *PlayerError {
	return &PlayerError{Op: op, Path: path, Err: err}
}
