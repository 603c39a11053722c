package processors

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gbuzzer/Audio-Transcriber/config"
	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// Saver persists a finished transcript. The pipeline treats persistence as
// best effort: a failed save is logged but does not fail the job.
type Saver interface {
	Save(ctx context.Context, rec core.TranscriptRecord) error
}

// JobRequest identifies one upload being processed.
type JobRequest struct {
	JobID    string
	Filename string
	Dir      string
}

// Runner owns the transcription pipeline for a single server instance. It is
// safe for concurrent jobs; all per-job state lives in the job directory and
// in locals.
type Runner struct {
	cfg      *config.Config
	ff       *FFmpeg
	provider Provider
	saver    Saver
	log      zerolog.Logger
}

func NewRunner(cfg *config.Config, ff *FFmpeg, provider Provider, saver Saver, log zerolog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		ff:       ff,
		provider: provider,
		saver:    saver,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// Probe inspects an uploaded file and reports its media properties.
func (r *Runner) Probe(ctx context.Context, path string) (core.MediaInfo, error) {
	return r.ff.Probe(ctx, path)
}

// NeedsChunking reports whether the upload exceeds the single-request size
// limit and has to go through the split pipeline.
func (r *Runner) NeedsChunking(info core.MediaInfo) bool {
	return info.SizeBytes > r.cfg.Pipeline.HardLimitBytes
}

// TranscribeDirect handles an upload small enough for one transcription call.
// Unlike the chunked path there is no placeholder fallback: if retries run
// out the job fails, because the single segment is the whole transcript.
func (r *Runner) TranscribeDirect(ctx context.Context, req JobRequest, info core.MediaInfo) (core.TranscriptRecord, error) {
	start := time.Now()
	text, err := transcribeWithRetry(ctx, r.provider, info.Path, r.cfg.Pipeline, r.log)
	if err != nil {
		return core.TranscriptRecord{}, fmt.Errorf("transcribe %s: %w", req.Filename, err)
	}

	rec := core.TranscriptRecord{
		ID:        req.JobID,
		Filename:  req.Filename,
		Text:      text,
		Duration:  info.Duration,
		SizeBytes: info.SizeBytes,
		Segments:  1,
		CreatedAt: time.Now().UTC(),
	}
	r.persist(ctx, rec)
	r.removeJobDir(req)
	r.log.Info().Str("job", req.JobID).Dur("took", time.Since(start)).Msg("direct transcription finished")
	return rec, nil
}

// Process handles an upload that needs chunking. Splitting, oversize repair
// and transcription overlap: the splitter and repairer run in a goroutine and
// signal the worker pool, which transcribes segments as they appear.
func (r *Runner) Process(ctx context.Context, req JobRequest, info core.MediaInfo, rep *Reporter) (core.TranscriptRecord, error) {
	start := time.Now()
	rep.Processing(progressProbed, fmt.Sprintf("analyzing %s", req.Filename))

	plan := PlanChunks(info, r.cfg.Pipeline.TargetBytes, r.cfg.Pipeline.MinSegmentSeconds, r.cfg.Pipeline.MaxSegmentSeconds)
	rep.Processing(progressPlanned, fmt.Sprintf("splitting into ~%d segments of %ds", plan.EstimatedCount, plan.SegmentSeconds))
	r.log.Info().Str("job", req.JobID).
		Int("segment_seconds", plan.SegmentSeconds).
		Int("estimated", plan.EstimatedCount).
		Float64("bytes_per_second", plan.BytesPerSecond).
		Msg("chunk plan ready")

	pool := NewWorkerPool(req.Dir, info.Ext, r.provider, r.cfg.Pipeline,
		func(processed, discovered int) { rep.Segments(processed, discovered) }, r.log)

	go func() {
		if err := NewSegmenter(r.ff).Split(ctx, info.Path, req.Dir, plan.SegmentSeconds); err != nil {
			pool.Abort(err)
			return
		}
		pool.SplitFinished()

		repairer := NewRepairer(r.ff, r.cfg.Pipeline.HardLimitBytes, r.cfg.Pipeline.MaxRepairPasses,
			r.cfg.Pipeline.MaxConcurrent, r.log)
		if err := repairer.Run(ctx, req.Dir, info.Ext); err != nil {
			pool.Abort(err)
			return
		}
		rep.Processing(progressSplit, "split complete, transcribing")
		pool.AllSegmentsFinal()
	}()

	results, err := pool.Run(ctx)
	if err != nil {
		return core.TranscriptRecord{}, err
	}

	rep.Processing(progressAssembling, "assembling transcript")
	text, failed := Assemble(results)

	rec := core.TranscriptRecord{
		ID:             req.JobID,
		Filename:       req.Filename,
		Text:           text,
		Duration:       info.Duration,
		SizeBytes:      info.SizeBytes,
		Segments:       len(results),
		FailedSegments: failed,
		CreatedAt:      time.Now().UTC(),
	}
	r.persist(ctx, rec)
	r.removeJobDir(req)
	r.log.Info().Str("job", req.JobID).
		Int("segments", len(results)).
		Int("failed", failed).
		Dur("took", time.Since(start)).
		Msg("chunked transcription finished")
	return rec, nil
}

// Assemble joins segment texts in index order with single spaces. Failed
// segments contribute their bracketed placeholder so gaps stay visible in
// the final transcript.
func Assemble(results []core.SegmentResult) (text string, failed int) {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		if res.Failed {
			failed++
		}
		t := strings.TrimSpace(res.Text)
		if t == "" {
			continue
		}
		parts = append(parts, t)
	}
	return strings.Join(parts, " "), failed
}

func (r *Runner) persist(ctx context.Context, rec core.TranscriptRecord) {
	if r.saver == nil {
		return
	}
	if err := r.saver.Save(ctx, rec); err != nil {
		r.log.Warn().Err(err).Str("job", rec.ID).Msg("transcript not persisted")
	}
}

// removeJobDir deletes the job workdir after a successful run. Failed jobs
// keep their directory for inspection; the cleanup sweeper reaps it later.
func (r *Runner) removeJobDir(req JobRequest) {
	if req.Dir == "" {
		return
	}
	if err := os.RemoveAll(req.Dir); err != nil {
		r.log.Warn().Err(err).Str("job", req.JobID).Msg("job directory not removed")
	}
}
