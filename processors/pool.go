package processors

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Gbuzzer/Audio-Transcriber/config"
	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// WorkerPool watches a job directory while the splitter is still writing into
// it and transcribes each segment with bounded concurrency. Discovery is
// incremental: a segment enters the queue the first time a poll sees it, so
// transcription overlaps with both splitting and repair.
//
// Three rules keep the watcher honest about files that are not done yet:
//
//   - while the split is running, the highest-numbered file is held back,
//     because ffmpeg writes segments in order and may still be appending to it;
//   - zero-byte files are ignored until AllSegmentsFinal, then recorded as
//     placeholder results;
//   - files over the size limit are left to the repairer until
//     AllSegmentsFinal, after which an oversized file is fatal.
type WorkerPool struct {
	dir      string
	ext      string
	provider Provider
	cfg      config.PipelineConfig
	log      zerolog.Logger
	progress func(processed, discovered int)

	mu           sync.Mutex
	state        string
	seen         map[string]bool
	pending      []core.Segment
	results      []core.SegmentResult
	inflight     int
	processed    int
	splitDone    bool
	finalized    bool
	scannedFinal bool
	failure      error

	wake chan struct{}
}

func NewWorkerPool(dir, ext string, provider Provider, cfg config.PipelineConfig, progress func(processed, discovered int), log zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		dir:      dir,
		ext:      ext,
		provider: provider,
		cfg:      cfg,
		log:      log.With().Str("component", "pool").Logger(),
		progress: progress,
		state:    core.StateDiscovering,
		seen:     make(map[string]bool),
		wake:     make(chan struct{}, 1),
	}
}

// SplitFinished tells the pool the splitter has exited, so the newest file no
// longer needs to be held back.
func (p *WorkerPool) SplitFinished() {
	p.mu.Lock()
	p.splitDone = true
	p.mu.Unlock()
	p.poke()
}

// AllSegmentsFinal tells the pool no file in the directory will change again.
// The pool moves to draining: remaining files are enqueued as-is, zero-byte
// files become placeholders and oversized files become fatal.
func (p *WorkerPool) AllSegmentsFinal() {
	p.mu.Lock()
	p.splitDone = true
	p.finalized = true
	if p.state == core.StateDiscovering {
		p.state = core.StateDraining
	}
	p.mu.Unlock()
	p.poke()
}

// Abort records a fatal error. The first abort wins; Run drains in-flight
// workers and returns the recorded error.
func (p *WorkerPool) Abort(err error) {
	if err == nil {
		return
	}
	p.mu.Lock()
	if p.failure == nil {
		p.failure = err
		p.state = core.StateFailed
	}
	p.mu.Unlock()
	p.poke()
}

// poke wakes Run ahead of the next poll tick. Non-blocking; one pending wake
// is enough.
func (p *WorkerPool) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *WorkerPool) State() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Counts returns processed and discovered segment totals.
func (p *WorkerPool) Counts() (processed, discovered int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.processed, len(p.seen)
}

// Run drives discovery and transcription until every discovered segment has a
// result, then returns them ordered by index. It blocks until completion,
// abort, or context cancellation.
func (p *WorkerPool) Run(ctx context.Context) ([]core.SegmentResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	maxConcurrent := p.cfg.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	resultCh := make(chan core.SegmentResult, maxConcurrent)

	interval := p.cfg.PollInterval()
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.mu.Lock()
		failure := p.failure
		inflight := p.inflight
		p.mu.Unlock()
		if failure != nil {
			cancel()
			for inflight > 0 {
				p.complete(<-resultCh)
				p.mu.Lock()
				inflight = p.inflight
				p.mu.Unlock()
			}
			return nil, failure
		}

		if err := p.scan(); err != nil {
			p.Abort(err)
			continue
		}
		p.dispatch(ctx, maxConcurrent, resultCh)

		if p.drained() {
			p.mu.Lock()
			p.state = core.StateComplete
			p.mu.Unlock()
			return p.collect(), nil
		}

		select {
		case <-ctx.Done():
			p.Abort(ctx.Err())
		case res := <-resultCh:
			p.complete(res)
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// scan picks up segment files the pool has not accounted for yet.
func (p *WorkerPool) scan() error {
	// Flags before the listing: when finalized reads true here, the listing
	// below postdates the final directory state, so zero-byte and oversized
	// verdicts are never based on a stale entry.
	p.mu.Lock()
	splitDone := p.splitDone
	finalized := p.finalized
	p.mu.Unlock()

	segs, err := listSegments(p.dir, p.ext)
	if err != nil {
		return err
	}

	if !splitDone && len(segs) > 0 {
		segs = segs[:len(segs)-1] // newest file may still be growing
	}

	var tombstoned []core.Segment
	for _, seg := range segs {
		p.mu.Lock()
		known := p.seen[seg.Name]
		p.mu.Unlock()
		if known {
			continue
		}

		if seg.Size == 0 {
			if !finalized {
				continue
			}
			tombstoned = append(tombstoned, seg)
			continue
		}
		if seg.Size > p.cfg.HardLimitBytes {
			if !finalized {
				continue // the repairer owns it until AllSegmentsFinal
			}
			return &core.RepairExhaustedError{
				Name:   seg.Name,
				Size:   seg.Size,
				Limit:  p.cfg.HardLimitBytes,
				Passes: p.cfg.MaxRepairPasses,
			}
		}

		p.mu.Lock()
		p.seen[seg.Name] = true
		p.pending = append(p.pending, seg)
		p.mu.Unlock()
		p.log.Debug().Str("segment", seg.Name).Int64("size", seg.Size).Msg("segment discovered")
	}

	for _, seg := range tombstoned {
		p.log.Warn().Str("segment", seg.Name).Msg("empty segment file, recording placeholder")
		p.mu.Lock()
		p.seen[seg.Name] = true
		p.mu.Unlock()
		p.record(core.SegmentResult{
			Index:  seg.Index,
			Name:   seg.Name,
			Text:   (&core.SegmentTranscriptionError{Name: seg.Name, Err: core.ErrEmptySegment}).Placeholder(),
			Failed: true,
		})
	}

	p.mu.Lock()
	p.scannedFinal = finalized
	p.mu.Unlock()
	return nil
}

func (p *WorkerPool) dispatch(ctx context.Context, maxConcurrent int, resultCh chan<- core.SegmentResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.failure == nil && p.inflight < maxConcurrent && len(p.pending) > 0 {
		seg := p.pending[0]
		p.pending = p.pending[1:]
		p.inflight++
		go p.worker(ctx, seg, resultCh)
	}
}

func (p *WorkerPool) worker(ctx context.Context, seg core.Segment, resultCh chan<- core.SegmentResult) {
	text, err := transcribeWithRetry(ctx, p.provider, seg.Path, p.cfg, p.log)
	res := core.SegmentResult{Index: seg.Index, Name: seg.Name, Text: text}
	if err != nil {
		terr := &core.SegmentTranscriptionError{
			Name:     seg.Name,
			Attempts: p.cfg.MaxRetries + 1,
			Err:      err,
		}
		p.log.Error().Err(err).Str("segment", seg.Name).Msg("segment transcription exhausted retries")
		res.Text = terr.Placeholder()
		res.Failed = true
	}
	resultCh <- res
}

// complete records a worker result and frees its concurrency slot.
func (p *WorkerPool) complete(res core.SegmentResult) {
	p.mu.Lock()
	p.inflight--
	p.mu.Unlock()
	p.record(res)
}

// record appends one finished segment and reports progress. Zero-byte
// tombstones land here directly; they never occupied a worker slot.
func (p *WorkerPool) record(res core.SegmentResult) {
	p.mu.Lock()
	p.results = append(p.results, res)
	p.processed++
	processed, discovered := p.processed, len(p.seen)
	p.mu.Unlock()
	if p.progress != nil {
		p.progress(processed, discovered)
	}
}

func (p *WorkerPool) drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.scannedFinal && len(p.pending) == 0 && p.inflight == 0
}

func (p *WorkerPool) collect() []core.SegmentResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]core.SegmentResult, len(p.results))
	copy(out, p.results)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
