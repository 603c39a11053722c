package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// FileStore keeps one JSON document per transcript under a local directory.
// It is the default backend and the fallback when postgres or milvus cannot
// be reached. Search is lexical: records and queries are reduced to
// L2-normalized term-frequency vectors and ranked by cosine similarity, so
// it works without any embedding API.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcripts dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// validID rejects anything that could escape the store directory. IDs are
// server-minted UUIDs, so anything fancier is hostile input.
func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/\\.")
}

func (s *FileStore) Name() string { return "file" }

func (s *FileStore) Save(ctx context.Context, rec core.TranscriptRecord) error {
	if !validID(rec.ID) {
		return fmt.Errorf("invalid transcript id %q", rec.ID)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript %s: %w", rec.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tmp := s.path(rec.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write transcript %s: %w", rec.ID, err)
	}
	if err := os.Rename(tmp, s.path(rec.ID)); err != nil {
		return fmt.Errorf("write transcript %s: %w", rec.ID, err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, id string) (core.TranscriptRecord, error) {
	if !validID(id) {
		return core.TranscriptRecord{}, ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		return core.TranscriptRecord{}, ErrNotFound
	}
	if err != nil {
		return core.TranscriptRecord{}, fmt.Errorf("read transcript %s: %w", id, err)
	}
	var rec core.TranscriptRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return core.TranscriptRecord{}, fmt.Errorf("decode transcript %s: %w", id, err)
	}
	return rec, nil
}

func (s *FileStore) List(ctx context.Context) ([]core.TranscriptRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list transcripts: %w", err)
	}

	recs := make([]core.TranscriptRecord, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		var rec core.TranscriptRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			continue // half-written or foreign file
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt.After(recs[j].CreatedAt) })
	return recs, nil
}

func (s *FileStore) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete transcript %s: %w", id, err)
	}
	return nil
}

func (s *FileStore) Search(ctx context.Context, query string, limit int) ([]SearchHit, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	qv := embedText(query)

	hits := make([]SearchHit, 0, len(recs))
	for _, rec := range recs {
		score := cosine(qv, embedText(rec.Filename+" "+rec.Text))
		if score <= 0 {
			continue
		}
		hits = append(hits, SearchHit{Record: rec, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit <= 0 {
		limit = 10
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *FileStore) Close(ctx context.Context) error { return nil }

func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// embedText builds an L2-normalized term-frequency vector.
func embedText(text string) map[string]float64 {
	m := map[string]float64{}
	for _, t := range tokenize(text) {
		m[t] += 1
	}
	var sum float64
	for _, v := range m {
		sum += v * v
	}
	if sum == 0 {
		return m
	}
	norm := math.Sqrt(sum)
	for k, v := range m {
		m[k] = v / norm
	}
	return m
}

func cosine(a, b map[string]float64) float64 {
	var dot float64
	for k, va := range a {
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	return dot
}
