package processors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// Segmenter splits the source upload into duration-bounded, codec-copied
// pieces inside the job workdir. Output files carry zero-padded ordinals so
// the worker pool can discover and order them while ffmpeg is still writing.
type Segmenter struct {
	ff *FFmpeg
}

func NewSegmenter(ff *FFmpeg) *Segmenter { return &Segmenter{ff: ff} }

// Split runs the segmentation to completion. The caller usually runs it in a
// goroutine and watches the directory in parallel. Split failures are fatal;
// there is no retry because a partial split leaves the workdir in an
// unknowable state.
func (s *Segmenter) Split(ctx context.Context, src, dir string, segmentSeconds int) error {
	ext := strings.ToLower(filepath.Ext(src))
	pattern := filepath.Join(dir, core.SegmentPattern(ext))

	stderr, err := s.ff.Split(ctx, src, pattern, segmentSeconds)
	if err != nil {
		return &core.SplitError{Path: src, Stderr: stderr, Err: err}
	}

	segs, err := listSegments(dir, ext)
	if err != nil {
		return &core.SplitError{Path: src, Err: err}
	}
	if len(segs) == 0 {
		return &core.SplitError{Path: src, Stderr: stderr, Err: fmt.Errorf("ffmpeg produced no segments")}
	}
	return nil
}

// listSegments returns the segment files currently present in dir, ordered by
// index. Files that vanish between the listing and the stat are skipped; the
// repair phase deletes oversized originals while readers may be listing.
func listSegments(dir, ext string) ([]core.Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	segs := make([]core.Segment, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !core.IsSegmentName(name, ext) {
			continue
		}
		idx, _ := core.ParseSegmentIndex(name)
		info, err := entry.Info()
		if err != nil {
			continue
		}
		segs = append(segs, core.Segment{
			Index: idx,
			Name:  name,
			Path:  filepath.Join(dir, name),
			Size:  info.Size(),
		})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Index < segs[j].Index })
	return segs, nil
}
