package core

import "time"

// Job status values reported to clients.
const (
	StatusProcessing = "processing"
	StatusComplete   = "complete"
	StatusError      = "error"
)

// Worker pool lifecycle states.
const (
	StateDiscovering = "discovering"
	StateDraining    = "draining"
	StateComplete    = "complete"
	StateFailed      = "failed"
)

// MediaInfo describes an uploaded audio file after probing.
type MediaInfo struct {
	Path      string  `json:"path"`
	Ext       string  `json:"ext"`
	SizeBytes int64   `json:"size_bytes"`
	Duration  float64 `json:"duration_sec"`
}

// BytesPerSecond is the effective bitrate derived from size and duration.
func (m MediaInfo) BytesPerSecond() float64 {
	if m.Duration <= 0 {
		return 0
	}
	return float64(m.SizeBytes) / m.Duration
}

// ChunkPlan is the segmentation plan for one job.
type ChunkPlan struct {
	SegmentSeconds int     `json:"segment_seconds"`
	BytesPerSecond float64 `json:"bytes_per_second"`
	EstimatedCount int     `json:"estimated_count"`
}

// Segment is one split piece of the source audio. Index is parsed from the
// filename and acts purely as a sort key; gaps are normal after repair.
type Segment struct {
	Index int64  `json:"index"`
	Name  string `json:"name"`
	Path  string `json:"path"`
	Size  int64  `json:"size"`
}

// Label is the human-readable ordinal shown in placeholders and logs,
// e.g. "2" for chunk_002 and "2.1" for its first repaired sub-piece.
func (s Segment) Label() string { return SegmentLabel(s.Name) }

// SegmentResult is the terminal outcome for one segment. Failed results
// carry the placeholder text that stands in for the missing transcript.
type SegmentResult struct {
	Index  int64  `json:"index"`
	Name   string `json:"name"`
	Text   string `json:"text"`
	Failed bool   `json:"failed,omitempty"`
}

// ProgressEvent is one unit of the streaming response for a large upload.
// Progress never decreases within a job.
type ProgressEvent struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	Progress     int    `json:"progress"`
	Transcript   string `json:"transcript,omitempty"`
	TranscriptID string `json:"transcript_id,omitempty"`
}

// TranscriptRecord is the persisted form of a finished transcription.
// ID doubles as the job ID that produced it.
type TranscriptRecord struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	Text           string    `json:"text"`
	Duration       float64   `json:"duration_sec"`
	SizeBytes      int64     `json:"size_bytes"`
	Segments       int       `json:"segments"`
	FailedSegments int       `json:"failed_segments"`
	CreatedAt      time.Time `json:"created_at"`
}
