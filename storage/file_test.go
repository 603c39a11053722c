package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Gbuzzer/Audio-Transcriber/core"
)

func testRecord(id, filename, text string, created time.Time) core.TranscriptRecord {
	return core.TranscriptRecord{
		ID:        id,
		Filename:  filename,
		Text:      text,
		Duration:  12.5,
		SizeBytes: 2048,
		Segments:  1,
		CreatedAt: created,
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	rec := testRecord("rec-1", "talk.mp3", "hello world", time.Now().UTC())
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != rec.ID || got.Filename != rec.Filename || got.Text != rec.Text {
		t.Errorf("Get = %+v, want %+v", got, rec)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, rec.CreatedAt)
	}

	// Save again with new text must overwrite, not duplicate.
	rec.Text = "hello again"
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err = store.Get(ctx, "rec-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Text != "hello again" {
		t.Errorf("Text after overwrite = %q", got.Text)
	}
	recs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("List returned %d records, want 1", len(recs))
	}
}

func TestFileStoreListNewestFirst(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		rec := testRecord(id, id+".mp3", "text", base.Add(time.Duration(i)*time.Hour))
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save %s: %v", id, err)
		}
	}

	recs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var ids []string
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	want := []string{"new", "mid", "old"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("List order = %v, want %v", ids, want)
		}
	}
}

func TestFileStoreDelete(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := store.Save(ctx, testRecord("rec-1", "a.mp3", "text", time.Now())); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Delete(ctx, "rec-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "rec-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "rec-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestFileStoreSearch(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	now := time.Now().UTC()
	records := []core.TranscriptRecord{
		testRecord("a", "standup.mp3", "we discussed the deployment timeline", now),
		testRecord("b", "interview.mp3", "the candidate explained database indexing", now),
		testRecord("c", "memo.mp3", "deployment checklist for friday", now),
	}
	for _, rec := range records {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	hits, err := store.Search(ctx, "deployment", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2: %+v", len(hits), hits)
	}
	for _, hit := range hits {
		if hit.Record.ID != "a" && hit.Record.ID != "c" {
			t.Errorf("unexpected hit %s", hit.Record.ID)
		}
		if hit.Score <= 0 {
			t.Errorf("hit %s score = %v", hit.Record.ID, hit.Score)
		}
	}

	hits, err = store.Search(ctx, "indexing", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Record.ID != "b" {
		t.Errorf("hits = %+v, want only b", hits)
	}

	hits, err = store.Search(ctx, "quarterly forecast", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("hits = %+v, want none", hits)
	}
}

func TestFileStoreRejectsHostileIDs(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, id := range []string{"", "../escape", "a/b", `a\b`, "dotted.name"} {
		if _, err := store.Get(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%q) = %v, want ErrNotFound", id, err)
		}
		if err := store.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Delete(%q) = %v, want ErrNotFound", id, err)
		}
	}
}
