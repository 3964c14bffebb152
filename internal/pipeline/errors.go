package pipeline

import (
	"errors"
	"fmt"
)

// Sentinel errors for video pipeline stage failures.
var (
	// ErrUnreadableVideo means the staged upload could not be opened as a
	// frame source.
	ErrUnreadableVideo = errors.New("could not open video file")

	// ErrUnwritableOutput means the output frame sink could not be created.
	ErrUnwritableOutput = errors.New("could not create output video file")

	// ErrEmptyOutput means the finished output artifact is missing or empty.
	ErrEmptyOutput = errors.New("output video file is empty")
)

// DimensionError reports an input frame exceeding the configured maxima.
type DimensionError struct {
	Width, Height       int
	MaxWidth, MaxHeight int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("image dimensions too large: %dx%d (maximum: %dx%d)",
		e.Width, e.Height, e.MaxWidth, e.MaxHeight)
}

// ProcessingError wraps an unexpected lower-layer fault with the pipeline
// stage it occurred in.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing failed at %s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }
