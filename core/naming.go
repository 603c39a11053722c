package core

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Segment filenames embed one zero-padded digit group per split generation:
// chunk_002.mp3 from the initial split, chunk_002_001.mp3 after one repair of
// that piece, chunk_002_001_001.mp3 after a second. Packing the groups base-100
// yields an integer index that sorts repaired pieces inside their parent's slot
// while staying unique across the job.
const (
	SegmentPrefix = "chunk_"

	indexLevels = 5
	indexStride = 100
)

// SegmentPattern returns the ffmpeg output pattern for the initial split.
func SegmentPattern(ext string) string {
	return SegmentPrefix + "%03d" + ext
}

// SubSegmentName mints the name for the seq-th piece produced by re-splitting
// parent. Sub-pieces are numbered from 1 so their keys never collide with the
// deleted parent's.
func SubSegmentName(parent string, seq int) string {
	ext := filepath.Ext(parent)
	base := strings.TrimSuffix(parent, ext)
	return fmt.Sprintf("%s_%03d%s", base, seq, ext)
}

// ParseSegmentIndex extracts the sort key from a segment filename. It returns
// false for names with no digit groups or more generations than repair allows.
func ParseSegmentIndex(name string) (int64, bool) {
	groups := digitGroups(name)
	if len(groups) == 0 || len(groups) > indexLevels {
		return 0, false
	}
	var idx int64
	for i := 0; i < indexLevels; i++ {
		idx *= indexStride
		if i < len(groups) {
			idx += groups[i]
		}
	}
	return idx, true
}

// SegmentLabel renders the ordinal embedded in a segment filename for humans,
// e.g. "2" for chunk_002 and "2.1" for chunk_002_001.
func SegmentLabel(name string) string {
	groups := digitGroups(name)
	if len(groups) == 0 {
		return strings.TrimSuffix(name, filepath.Ext(name))
	}
	parts := make([]string, len(groups))
	for i, g := range groups {
		parts[i] = strconv.FormatInt(g, 10)
	}
	return strings.Join(parts, ".")
}

// IsSegmentName reports whether a directory entry looks like a segment
// produced for the given source extension.
func IsSegmentName(name, ext string) bool {
	if !strings.HasPrefix(name, SegmentPrefix) {
		return false
	}
	if !strings.EqualFold(filepath.Ext(name), ext) {
		return false
	}
	_, ok := ParseSegmentIndex(name)
	return ok
}

func digitGroups(name string) []int64 {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	var groups []int64
	for _, part := range strings.Split(base, "_") {
		if part == "" {
			continue
		}
		n, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		groups = append(groups, n)
	}
	return groups
}
