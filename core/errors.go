package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptySegment is recorded for zero-byte segment files, which are never
// sent to the transcription API.
var ErrEmptySegment = errors.New("empty segment file")

// Fatal pipeline errors. Any of these ends the job with a single error event
// and no partial transcript; per-segment transcription failures are not fatal
// and surface as placeholder results instead.

// ProbeError means the uploaded file could not be probed for duration/format.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// SplitError means ffmpeg segmentation failed or produced no usable output.
type SplitError struct {
	Path   string
	Stderr string
	Err    error
}

func (e *SplitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("split %s: %v: %s", e.Path, e.Err, lastLine(e.Stderr))
	}
	return fmt.Sprintf("split %s: %v", e.Path, e.Err)
}

func (e *SplitError) Unwrap() error { return e.Err }

// RepairExhaustedError means an oversized segment could not be brought under
// the size limit within the allowed repair passes, or surfaced oversized after
// repair had finished.
type RepairExhaustedError struct {
	Name   string
	Size   int64
	Limit  int64
	Passes int
}

func (e *RepairExhaustedError) Error() string {
	return fmt.Sprintf("segment %s still %d bytes over the %d byte limit after %d repair passes",
		e.Name, e.Size-e.Limit, e.Limit, e.Passes)
}

// SegmentTranscriptionError is the non-fatal per-segment failure recorded as a
// placeholder after retries are exhausted.
type SegmentTranscriptionError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *SegmentTranscriptionError) Error() string {
	return fmt.Sprintf("segment %s failed after %d attempts: %v", SegmentLabel(e.Name), e.Attempts, e.Err)
}

func (e *SegmentTranscriptionError) Unwrap() error { return e.Err }

// Placeholder is the inline marker assembled into the final transcript where
// a segment's text is missing. It names the segment and the reason, so a
// partial transcript stays self-explanatory.
func (e *SegmentTranscriptionError) Placeholder() string {
	if e.Err == nil {
		return fmt.Sprintf("[segment %s transcription failed]", SegmentLabel(e.Name))
	}
	reason := strings.ReplaceAll(e.Err.Error(), "\n", " ")
	return fmt.Sprintf("[segment %s transcription failed: %s]", SegmentLabel(e.Name), reason)
}

// lastLine keeps error strings readable; ffmpeg prints its diagnosis last.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
