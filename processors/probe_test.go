package processors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Gbuzzer/Audio-Transcriber/core"
)

func TestProbeReadsMediaInfo(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "talk.mp3")
	if err := os.WriteFile(path, []byte("pretend audio"), 0o644); err != nil {
		t.Fatal(err)
	}

	ff := newFFmpegForTests(&fakeSegmentRunner{probeOut: "123.450000"})
	info, err := ff.Probe(context.Background(), path)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Ext != ".mp3" {
		t.Errorf("Ext = %s", info.Ext)
	}
	if info.SizeBytes != int64(len("pretend audio")) {
		t.Errorf("SizeBytes = %d", info.SizeBytes)
	}
	if info.Duration != 123.45 {
		t.Errorf("Duration = %v", info.Duration)
	}
	if bps := info.BytesPerSecond(); bps <= 0 {
		t.Errorf("BytesPerSecond = %v", bps)
	}
}

func TestProbeFailures(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.mp3")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	document := filepath.Join(dir, "notes.pdf")
	if err := os.WriteFile(document, []byte("%PDF"), 0o644); err != nil {
		t.Fatal(err)
	}
	silent := filepath.Join(dir, "silent.mp3")
	if err := os.WriteFile(silent, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name     string
		path     string
		probeOut string
	}{
		{"missing file", filepath.Join(dir, "nope.mp3"), "10"},
		{"empty file", empty, "10"},
		{"unsupported extension", document, "10"},
		{"zero duration", silent, "0.000000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ff := newFFmpegForTests(&fakeSegmentRunner{probeOut: tc.probeOut})
			_, err := ff.Probe(context.Background(), tc.path)
			var perr *core.ProbeError
			if !errors.As(err, &perr) {
				t.Fatalf("Probe = %v, want ProbeError", err)
			}
		})
	}
}

func TestExtensionAccepted(t *testing.T) {
	for _, ext := range []string{".mp3", ".WAV", ".m4a", ".ogg", ".flac"} {
		if !ExtensionAccepted(ext) {
			t.Errorf("ExtensionAccepted(%s) = false", ext)
		}
	}
	for _, ext := range []string{".mp4", ".txt", "", ".pdf"} {
		if ExtensionAccepted(ext) {
			t.Errorf("ExtensionAccepted(%s) = true", ext)
		}
	}
}
