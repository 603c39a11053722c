package processors

import (
	"fmt"
	"sync"

	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// Progress milestones for the chunked pipeline. The window between
// progressSplit and progressAssembling scales with processed segments.
const (
	progressProbed     = 5
	progressPlanned    = 10
	progressSplit      = 20
	progressAssembling = 95
	progressDone       = 100
)

// Reporter emits progress events for one job. It serializes emission and
// guarantees the reported percentage never moves backwards, so the splitter
// goroutine and the worker pool can report without coordinating.
type Reporter struct {
	mu   sync.Mutex
	last int
	emit func(core.ProgressEvent)
}

func NewReporter(emit func(core.ProgressEvent)) *Reporter {
	if emit == nil {
		emit = func(core.ProgressEvent) {}
	}
	return &Reporter{emit: emit}
}

// Processing reports an in-flight milestone.
func (r *Reporter) Processing(progress int, message string) {
	r.send(core.ProgressEvent{
		Status:   core.StatusProcessing,
		Message:  message,
		Progress: progress,
	})
}

// Segments reports transcription progress as processed/discovered, mapped
// linearly onto the split..assembling window.
func (r *Reporter) Segments(processed, discovered int) {
	r.send(core.ProgressEvent{
		Status:   core.StatusProcessing,
		Message:  fmt.Sprintf("transcribed %d/%d segments", processed, discovered),
		Progress: segmentProgress(processed, discovered),
	})
}

// Complete reports the terminal success event carrying the full transcript.
func (r *Reporter) Complete(text, transcriptID string) {
	r.send(core.ProgressEvent{
		Status:       core.StatusComplete,
		Message:      "transcription complete",
		Progress:     progressDone,
		Transcript:   text,
		TranscriptID: transcriptID,
	})
}

// Error reports the terminal failure event. Progress is pinned to whatever
// was last reported rather than reset.
func (r *Reporter) Error(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(core.ProgressEvent{
		Status:   core.StatusError,
		Message:  message,
		Progress: r.last,
	})
}

func (r *Reporter) send(ev core.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.Progress < r.last {
		ev.Progress = r.last
	}
	if ev.Progress > progressDone {
		ev.Progress = progressDone
	}
	r.last = ev.Progress
	r.emit(ev)
}

func segmentProgress(processed, discovered int) int {
	if discovered <= 0 {
		return progressSplit
	}
	if processed > discovered {
		processed = discovered
	}
	span := progressAssembling - 5 - progressSplit // top out at 90 until assembly
	p := progressSplit + int(float64(processed)/float64(discovered)*float64(span))
	if p < progressSplit {
		p = progressSplit
	}
	if p > progressSplit+span {
		p = progressSplit + span
	}
	return p
}
