package processors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// Repairer re-splits segments that came out of the initial split above the
// hard size limit, which happens when the source bitrate is higher in places
// than the whole-file average the planner worked from. Each pass halves the
// duration of every oversized segment; the originals are deleted and the
// sub-pieces renamed into the job's segment namespace, so compliant segments
// are never touched and the worker pool can keep dispatching throughout.
type Repairer struct {
	ff          *FFmpeg
	hardLimit   int64
	maxPasses   int
	concurrency int
	log         zerolog.Logger
}

func NewRepairer(ff *FFmpeg, hardLimit int64, maxPasses, concurrency int, log zerolog.Logger) *Repairer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Repairer{
		ff:          ff,
		hardLimit:   hardLimit,
		maxPasses:   maxPasses,
		concurrency: concurrency,
		log:         log.With().Str("component", "repair").Logger(),
	}
}

// Run brings every segment in dir under the hard limit, or fails with
// RepairExhaustedError when the duration floor is reached. Running it on an
// already-compliant directory is a no-op.
func (r *Repairer) Run(ctx context.Context, dir, ext string) error {
	for pass := 1; pass <= r.maxPasses; pass++ {
		oversized, err := r.oversized(dir, ext)
		if err != nil {
			return err
		}
		if len(oversized) == 0 {
			return nil
		}
		r.log.Info().Int("pass", pass).Int("segments", len(oversized)).Msg("re-splitting oversized segments")

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.concurrency)
		for _, seg := range oversized {
			seg := seg
			g.Go(func() error { return r.resplit(gctx, dir, seg) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	leftover, err := r.oversized(dir, ext)
	if err != nil {
		return err
	}
	if len(leftover) > 0 {
		worst := leftover[0]
		return &core.RepairExhaustedError{
			Name:   worst.Name,
			Size:   worst.Size,
			Limit:  r.hardLimit,
			Passes: r.maxPasses,
		}
	}
	return nil
}

func (r *Repairer) oversized(dir, ext string) ([]core.Segment, error) {
	segs, err := listSegments(dir, ext)
	if err != nil {
		return nil, err
	}
	var out []core.Segment
	for _, seg := range segs {
		if seg.Size > r.hardLimit {
			out = append(out, seg)
		}
	}
	return out, nil
}

// resplit cuts one oversized segment at half its duration, renames the pieces
// in, and removes the original. Pieces are written to a hidden scratch dir
// first so discovery only ever sees fully written files.
func (r *Repairer) resplit(ctx context.Context, dir string, seg core.Segment) error {
	ext := filepath.Ext(seg.Name)

	dur, err := r.ff.ProbeDuration(ctx, seg.Path)
	if err != nil {
		return &core.SplitError{Path: seg.Path, Err: err}
	}
	if dur <= 1 {
		// Already at the duration floor and still too big: no split can help.
		return &core.RepairExhaustedError{Name: seg.Name, Size: seg.Size, Limit: r.hardLimit, Passes: r.maxPasses}
	}
	seconds := int(dur / 2)
	if seconds < 1 {
		seconds = 1
	}

	scratch, err := os.MkdirTemp(dir, ".repair-")
	if err != nil {
		return &core.SplitError{Path: seg.Path, Err: err}
	}
	defer os.RemoveAll(scratch)

	pattern := filepath.Join(scratch, "piece_%03d"+ext)
	stderr, err := r.ff.Split(ctx, seg.Path, pattern, seconds)
	if err != nil {
		return &core.SplitError{Path: seg.Path, Stderr: stderr, Err: err}
	}

	pieces, err := os.ReadDir(scratch)
	if err != nil {
		return &core.SplitError{Path: seg.Path, Err: err}
	}
	if len(pieces) == 0 {
		return &core.SplitError{Path: seg.Path, Stderr: stderr, Err: fmt.Errorf("re-split produced no pieces")}
	}
	if len(pieces) >= 99 {
		return &core.SplitError{Path: seg.Path, Err: fmt.Errorf("re-split produced %d pieces", len(pieces))}
	}
	names := make([]string, 0, len(pieces))
	for _, p := range pieces {
		names = append(names, p.Name())
	}
	sort.Strings(names)

	for i, name := range names {
		dst := filepath.Join(dir, core.SubSegmentName(seg.Name, i+1))
		if err := os.Rename(filepath.Join(scratch, name), dst); err != nil {
			return &core.SplitError{Path: seg.Path, Err: err}
		}
	}
	if err := os.Remove(seg.Path); err != nil && !os.IsNotExist(err) {
		return &core.SplitError{Path: seg.Path, Err: err}
	}

	r.log.Debug().Str("segment", seg.Name).Int("pieces", len(names)).Int("seconds", seconds).Msg("segment re-split")
	return nil
}
