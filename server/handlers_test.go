package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Gbuzzer/Audio-Transcriber/config"
	"github.com/Gbuzzer/Audio-Transcriber/core"
	"github.com/Gbuzzer/Audio-Transcriber/processors"
	"github.com/Gbuzzer/Audio-Transcriber/storage"
)

// fakePipeline stands in for the transcription runner so handler tests never
// shell out to ffmpeg or call a transcription API.
type fakePipeline struct {
	mu           sync.Mutex
	chunked      bool
	text         string
	probeErr     error
	failWith     error
	saver        processors.Saver
	directCalls  int
	processCalls int
}

func (f *fakePipeline) Probe(ctx context.Context, path string) (core.MediaInfo, error) {
	if f.probeErr != nil {
		return core.MediaInfo{}, f.probeErr
	}
	st, err := os.Stat(path)
	if err != nil {
		return core.MediaInfo{}, err
	}
	return core.MediaInfo{Path: path, Ext: filepath.Ext(path), SizeBytes: st.Size(), Duration: 60}, nil
}

func (f *fakePipeline) NeedsChunking(core.MediaInfo) bool { return f.chunked }

func (f *fakePipeline) record(req processors.JobRequest, info core.MediaInfo, segments int) core.TranscriptRecord {
	return core.TranscriptRecord{
		ID:        req.JobID,
		Filename:  req.Filename,
		Text:      f.text,
		Duration:  info.Duration,
		SizeBytes: info.SizeBytes,
		Segments:  segments,
		CreatedAt: time.Now().UTC(),
	}
}

func (f *fakePipeline) TranscribeDirect(ctx context.Context, req processors.JobRequest, info core.MediaInfo) (core.TranscriptRecord, error) {
	f.mu.Lock()
	f.directCalls++
	f.mu.Unlock()
	if f.failWith != nil {
		return core.TranscriptRecord{}, f.failWith
	}
	rec := f.record(req, info, 1)
	if err := f.saver.Save(ctx, rec); err != nil {
		return core.TranscriptRecord{}, err
	}
	return rec, nil
}

func (f *fakePipeline) Process(ctx context.Context, req processors.JobRequest, info core.MediaInfo, rep *processors.Reporter) (core.TranscriptRecord, error) {
	f.mu.Lock()
	f.processCalls++
	f.mu.Unlock()
	rep.Processing(5, "analyzing "+req.Filename)
	rep.Processing(20, "split complete, transcribing")
	rep.Segments(1, 2)
	rep.Segments(2, 2)
	if f.failWith != nil {
		return core.TranscriptRecord{}, f.failWith
	}
	rep.Processing(95, "assembling transcript")
	rec := f.record(req, info, 2)
	if err := f.saver.Save(ctx, rec); err != nil {
		return core.TranscriptRecord{}, err
	}
	return rec, nil
}

func newTestServer(t *testing.T, pin string, pipe Pipeline) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Port:            8080,
		DataRoot:        t.TempDir(),
		PIN:             pin,
		JWTSecret:       "test-secret",
		TokenTTLMinutes: 60,
		MaxUploadMB:     1,
	}
	store, err := storage.NewFileStore(cfg.TranscriptsDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if fp, ok := pipe.(*fakePipeline); ok && fp.saver == nil {
		fp.saver = store
	}
	return New(cfg, zerolog.Nop(), pipe, store)
}

func do(t *testing.T, srv *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

// decodeStream reads a chunked transcription response: concatenated JSON
// objects until EOF.
func decodeStream(t *testing.T, body io.Reader) []core.ProgressEvent {
	t.Helper()
	dec := json.NewDecoder(body)
	var events []core.ProgressEvent
	for {
		var ev core.ProgressEvent
		if err := dec.Decode(&ev); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			t.Fatalf("decode stream: %v", err)
		}
		events = append(events, ev)
	}
	return events
}

func seedRecord(t *testing.T, srv *Server, id, filename, text string) core.TranscriptRecord {
	t.Helper()
	rec := core.TranscriptRecord{
		ID:        id,
		Filename:  filename,
		Text:      text,
		Duration:  125.3,
		SizeBytes: 2048,
		Segments:  2,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := srv.store.Save(context.Background(), rec); err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
	return rec
}

func TestTranscribeSmallUpload(t *testing.T) {
	fake := &fakePipeline{text: "hello from the transcript"}
	srv := newTestServer(t, "", fake)

	body, contentType := multipartUpload(t, "audio", "talk.mp3", []byte("fake-mp3-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	w := do(t, srv, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var ev core.ProgressEvent
	if err := json.Unmarshal(w.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Status != core.StatusComplete || ev.Progress != 100 {
		t.Fatalf("event = %+v, want complete at 100", ev)
	}
	if ev.Transcript != "hello from the transcript" {
		t.Fatalf("transcript = %q", ev.Transcript)
	}
	if ev.TranscriptID == "" {
		t.Fatal("expected a transcript id")
	}
	if fake.directCalls != 1 || fake.processCalls != 0 {
		t.Fatalf("calls = %d direct / %d chunked, want 1/0", fake.directCalls, fake.processCalls)
	}

	// The persisted record is immediately retrievable.
	getReq := httptest.NewRequest(http.MethodGet, "/api/transcripts/"+ev.TranscriptID, nil)
	got := do(t, srv, getReq)
	if got.Code != http.StatusOK {
		t.Fatalf("get after transcribe: status = %d", got.Code)
	}
}

func TestTranscribeChunkedStreamsProgress(t *testing.T) {
	fake := &fakePipeline{chunked: true, text: "long transcript"}
	srv := newTestServer(t, "", fake)

	body, contentType := multipartUpload(t, "audio", "lecture.m4a", []byte("fake-m4a-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	w := do(t, srv, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}

	events := decodeStream(t, w.Body)
	if len(events) < 3 {
		t.Fatalf("got %d events, want several: %+v", len(events), events)
	}
	last := -1
	for _, ev := range events {
		if ev.Progress < last {
			t.Fatalf("progress went backwards: %+v", events)
		}
		last = ev.Progress
	}
	final := events[len(events)-1]
	if final.Status != core.StatusComplete || final.Progress != 100 {
		t.Fatalf("final event = %+v", final)
	}
	if final.Transcript != "long transcript" || final.TranscriptID == "" {
		t.Fatalf("final payload = %+v", final)
	}
	if fake.processCalls != 1 {
		t.Fatalf("processCalls = %d, want 1", fake.processCalls)
	}
}

func TestTranscribeChunkedFailureEndsStreamWithError(t *testing.T) {
	fake := &fakePipeline{chunked: true, failWith: errors.New("segment 3 exceeds the api limit")}
	srv := newTestServer(t, "", fake)

	body, contentType := multipartUpload(t, "audio", "lecture.m4a", []byte("fake"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	w := do(t, srv, req)

	events := decodeStream(t, w.Body)
	if len(events) == 0 {
		t.Fatal("expected at least the error event")
	}
	final := events[len(events)-1]
	if final.Status != core.StatusError {
		t.Fatalf("final event = %+v, want error", final)
	}
	if !strings.Contains(final.Message, "segment 3") {
		t.Fatalf("error message = %q", final.Message)
	}
}

func TestTranscribeRejectsMissingFile(t *testing.T) {
	srv := newTestServer(t, "", &fakePipeline{})

	body, contentType := multipartUpload(t, "video", "talk.mp3", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	if w := do(t, srv, req); w.Code != http.StatusBadRequest {
		t.Fatalf("wrong field: status = %d", w.Code)
	}

	empty := httptest.NewRequest(http.MethodPost, "/api/transcribe", nil)
	if w := do(t, srv, empty); w.Code != http.StatusBadRequest {
		t.Fatalf("no body: status = %d", w.Code)
	}
}

func TestTranscribeRejectsUnsupportedExtension(t *testing.T) {
	srv := newTestServer(t, "", &fakePipeline{})

	body, contentType := multipartUpload(t, "audio", "slides.pdf", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	w := do(t, srv, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "unsupported audio format") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestTranscribeRejectsBadMedia(t *testing.T) {
	fake := &fakePipeline{probeErr: &core.ProbeError{Path: "talk.mp3", Err: errors.New("zero duration")}}
	srv := newTestServer(t, "", fake)

	body, contentType := multipartUpload(t, "audio", "talk.mp3", []byte("not really audio"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	w := do(t, srv, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestTranscribeRejectsOversizedUpload(t *testing.T) {
	srv := newTestServer(t, "", &fakePipeline{}) // 1 MiB cap from newTestServer

	body, contentType := multipartUpload(t, "audio", "huge.mp3", bytes.Repeat([]byte{0xAB}, 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", contentType)
	w := do(t, srv, req)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", w.Code)
	}
}

func TestListTranscripts(t *testing.T) {
	srv := newTestServer(t, "", &fakePipeline{})
	seedRecord(t, srv, "rec-a", "standup.mp3", "short text")
	seedRecord(t, srv, "rec-b", "allhands.wav", strings.Repeat("a", 500))

	req := httptest.NewRequest(http.MethodGet, "/api/transcripts", nil)
	w := do(t, srv, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var resp struct {
		Count       int                 `json:"count"`
		Transcripts []transcriptSummary `json:"transcripts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 2 || len(resp.Transcripts) != 2 {
		t.Fatalf("count = %d, transcripts = %d", resp.Count, len(resp.Transcripts))
	}
	for _, tr := range resp.Transcripts {
		if tr.ID == "rec-b" {
			if !strings.HasSuffix(tr.Preview, "...") || len(tr.Preview) != 163 {
				t.Fatalf("long text not truncated: %d chars", len(tr.Preview))
			}
		}
	}
}

func TestGetTranscriptNotFound(t *testing.T) {
	srv := newTestServer(t, "", &fakePipeline{})

	req := httptest.NewRequest(http.MethodGet, "/api/transcripts/nope", nil)
	if w := do(t, srv, req); w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDownloadTranscriptFormats(t *testing.T) {
	srv := newTestServer(t, "", &fakePipeline{})
	rec := seedRecord(t, srv, "dl-1", "talk.mp3", "hello world")

	t.Run("txt default", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/transcripts/dl-1/download", nil)
		w := do(t, srv, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="talk.txt"` {
			t.Fatalf("disposition = %q", cd)
		}
		if w.Body.String() != "hello world" {
			t.Fatalf("body = %q", w.Body.String())
		}
	})

	t.Run("markdown", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/transcripts/dl-1/download?format=md", nil)
		w := do(t, srv, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename="talk.md"` {
			t.Fatalf("disposition = %q", cd)
		}
		body := w.Body.String()
		for _, want := range []string{"# talk.mp3", "- Duration: 02:05", "hello world"} {
			if !strings.Contains(body, want) {
				t.Fatalf("markdown missing %q:\n%s", want, body)
			}
		}
	})

	t.Run("json", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/transcripts/dl-1/download?format=json", nil)
		w := do(t, srv, req)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d", w.Code)
		}
		var got core.TranscriptRecord
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.ID != rec.ID || got.Text != rec.Text {
			t.Fatalf("got = %+v", got)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/transcripts/dl-1/download?format=xml", nil)
		if w := do(t, srv, req); w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})
}

func TestDeleteTranscript(t *testing.T) {
	srv := newTestServer(t, "", &fakePipeline{})
	seedRecord(t, srv, "gone-1", "old.mp3", "text")

	req := httptest.NewRequest(http.MethodDelete, "/api/transcripts/gone-1", nil)
	if w := do(t, srv, req); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", w.Code)
	}

	get := httptest.NewRequest(http.MethodGet, "/api/transcripts/gone-1", nil)
	if w := do(t, srv, get); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status = %d", w.Code)
	}

	again := httptest.NewRequest(http.MethodDelete, "/api/transcripts/gone-1", nil)
	if w := do(t, srv, again); w.Code != http.StatusNotFound {
		t.Fatalf("second delete: status = %d", w.Code)
	}
}

func TestSearchTranscripts(t *testing.T) {
	srv := newTestServer(t, "", &fakePipeline{})
	seedRecord(t, srv, "s-1", "retro.mp3", "the deployment failed twice before the rollback")
	seedRecord(t, srv, "s-2", "planning.mp3", "budget review for the next quarter")

	req := httptest.NewRequest(http.MethodGet, "/api/transcripts/search?q=deployment+rollback", nil)
	w := do(t, srv, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Count int                 `json:"count"`
		Hits  []storage.SearchHit `json:"hits"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count < 1 || resp.Hits[0].Record.ID != "s-1" {
		t.Fatalf("hits = %+v", resp.Hits)
	}

	missing := httptest.NewRequest(http.MethodGet, "/api/transcripts/search", nil)
	if w := do(t, srv, missing); w.Code != http.StatusBadRequest {
		t.Fatalf("missing q: status = %d", w.Code)
	}

	badLimit := httptest.NewRequest(http.MethodGet, "/api/transcripts/search?q=x&limit=0", nil)
	if w := do(t, srv, badLimit); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: status = %d", w.Code)
	}
}

func TestHealthzSkipsAuth(t *testing.T) {
	srv := newTestServer(t, "4821", &fakePipeline{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := do(t, srv, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Status   string `json:"status"`
		Services struct {
			Store string `json:"store"`
			Auth  bool   `json:"auth"`
		} `json:"services"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "healthy" || resp.Services.Store != "file" || !resp.Services.Auth {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestLoginEndpoint(t *testing.T) {
	srv := newTestServer(t, "4821", &fakePipeline{})

	login := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return do(t, srv, req)
	}

	if w := login(`{"pin":"0000"}`); w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong pin: status = %d", w.Code)
	}
	if w := login(`{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing pin: status = %d", w.Code)
	}

	w := login(`{"pin":"4821"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login: status = %d, body %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Token == "" || resp.ExpiresIn != 3600 {
		t.Fatalf("resp = %+v", resp)
	}

	// The token unlocks the API.
	guarded := httptest.NewRequest(http.MethodGet, "/api/transcripts", nil)
	if w := do(t, srv, guarded); w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", w.Code)
	}
	guarded = httptest.NewRequest(http.MethodGet, "/api/transcripts", nil)
	guarded.Header.Set("Authorization", "Bearer "+resp.Token)
	if w := do(t, srv, guarded); w.Code != http.StatusOK {
		t.Fatalf("with token: status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestLoginDisabled(t *testing.T) {
	srv := newTestServer(t, "", &fakePipeline{})

	req := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"pin":"whatever"}`))
	req.Header.Set("Content-Type", "application/json")
	w := do(t, srv, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 when no pin is configured", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not configured") {
		t.Fatalf("body = %s", w.Body.String())
	}
}
