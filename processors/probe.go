package processors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// Accepted upload formats. Anything else is rejected before a job starts.
var acceptedExtensions = map[string]struct{}{
	".mp3":  {},
	".wav":  {},
	".m4a":  {},
	".ogg":  {},
	".flac": {},
}

// ExtensionAccepted reports whether ext (with leading dot) is a supported
// audio format.
func ExtensionAccepted(ext string) bool {
	_, ok := acceptedExtensions[strings.ToLower(ext)]
	return ok
}

// Probe inspects an uploaded file and returns its size, format, and duration.
// Everything downstream depends on these numbers, so any failure here is a
// fatal ProbeError.
func (f *FFmpeg) Probe(ctx context.Context, path string) (core.MediaInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return core.MediaInfo{}, &core.ProbeError{Path: path, Err: err}
	}
	if info.Size() == 0 {
		return core.MediaInfo{}, &core.ProbeError{Path: path, Err: fmt.Errorf("file is empty")}
	}

	ext := strings.ToLower(filepath.Ext(path))
	if !ExtensionAccepted(ext) {
		return core.MediaInfo{}, &core.ProbeError{Path: path, Err: fmt.Errorf("unsupported format %q", ext)}
	}

	dur, err := f.ProbeDuration(ctx, path)
	if err != nil {
		return core.MediaInfo{}, &core.ProbeError{Path: path, Err: err}
	}
	if dur <= 0 {
		return core.MediaInfo{}, &core.ProbeError{Path: path, Err: fmt.Errorf("reported duration %.3fs", dur)}
	}

	return core.MediaInfo{
		Path:      path,
		Ext:       ext,
		SizeBytes: info.Size(),
		Duration:  dur,
	}, nil
}
