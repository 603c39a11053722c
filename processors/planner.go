package processors

import (
	"math"

	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// PlanChunks derives the segment duration for a source file from its
// effective bitrate. The target size sits below the hard delivery limit so
// container overhead and bitrate variance do not push segments over it; the
// clamp keeps segment count sane for very low and very high bitrates.
func PlanChunks(info core.MediaInfo, targetBytes int64, minSeconds, maxSeconds int) core.ChunkPlan {
	bps := info.BytesPerSecond()

	seconds := maxSeconds
	if bps > 0 {
		seconds = int(float64(targetBytes) / bps)
	}
	if seconds < minSeconds {
		seconds = minSeconds
	}
	if seconds > maxSeconds {
		seconds = maxSeconds
	}

	count := 1
	if info.Duration > 0 {
		count = int(math.Ceil(info.Duration / float64(seconds)))
		if count < 1 {
			count = 1
		}
	}

	return core.ChunkPlan{
		SegmentSeconds: seconds,
		BytesPerSecond: bps,
		EstimatedCount: count,
	}
}
