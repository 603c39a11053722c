package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Gbuzzer/Audio-Transcriber/core"
	"github.com/Gbuzzer/Audio-Transcriber/processors"
	"github.com/Gbuzzer/Audio-Transcriber/storage"
)

type loginRequest struct {
	PIN string `json:"pin" binding:"required"`
}

func (s *Server) handleLogin(c *gin.Context) {
	if !s.auth.Enabled() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pin login is not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pin required"})
		return
	}
	token, err := s.auth.Login(req.PIN)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "wrong pin"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int(s.cfg.TokenTTL().Seconds()),
	})
}

// handleTranscribe accepts a multipart upload and transcribes it. Small files
// get a single JSON response; files over the chunking limit get a streamed
// response of progress events ending in the transcript.
func (s *Server) handleTranscribe(c *gin.Context) {
	header, err := c.FormFile("audio")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": fmt.Sprintf("upload exceeds the %d byte limit", tooBig.Limit),
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": `multipart file field "audio" required`})
		return
	}

	filename := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if !processors.ExtensionAccepted(ext) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unsupported audio format %q", ext)})
		return
	}

	jobID := uuid.NewString()
	dir := filepath.Join(s.cfg.JobsDir(), jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.log.Error().Err(err).Str("job", jobID).Msg("job dir not created")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create job directory"})
		return
	}

	src := filepath.Join(dir, "source"+ext)
	if err := c.SaveUploadedFile(header, src); err != nil {
		os.RemoveAll(dir)
		s.log.Error().Err(err).Str("job", jobID).Msg("upload not stored")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not store upload"})
		return
	}

	ctx := c.Request.Context()
	info, err := s.runner.Probe(ctx, src)
	if err != nil {
		os.RemoveAll(dir)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req := processors.JobRequest{JobID: jobID, Filename: filename, Dir: dir}
	s.log.Info().Str("job", jobID).Str("filename", filename).
		Int64("size", info.SizeBytes).Float64("duration", info.Duration).
		Bool("chunked", s.runner.NeedsChunking(info)).Msg("upload accepted")

	if !s.runner.NeedsChunking(info) {
		rec, err := s.runner.TranscribeDirect(ctx, req, info)
		if err != nil {
			s.log.Error().Err(err).Str("job", jobID).Msg("transcription failed")
			s.hub.Publish(jobID, core.ProgressEvent{Status: core.StatusError, Message: "transcription failed"})
			c.JSON(http.StatusInternalServerError, gin.H{"error": "transcription failed"})
			return
		}
		done := core.ProgressEvent{
			Status:       core.StatusComplete,
			Message:      "transcription complete",
			Progress:     100,
			Transcript:   rec.Text,
			TranscriptID: rec.ID,
		}
		s.hub.Publish(jobID, done)
		c.JSON(http.StatusOK, done)
		return
	}

	sw := newStreamWriter(c.Writer)
	rep := processors.NewReporter(func(ev core.ProgressEvent) {
		sw.Write(ev)
		s.hub.Publish(jobID, ev)
	})

	rec, err := s.runner.Process(ctx, req, info, rep)
	if err != nil {
		s.log.Error().Err(err).Str("job", jobID).Msg("transcription failed")
		rep.Error(err.Error())
		return
	}
	rep.Complete(rec.Text, rec.ID)
}

// transcriptSummary is the list view: everything but the full text, which can
// run to hundreds of kilobytes per record.
type transcriptSummary struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	Preview        string    `json:"preview"`
	Duration       float64   `json:"duration_sec"`
	SizeBytes      int64     `json:"size_bytes"`
	Segments       int       `json:"segments"`
	FailedSegments int       `json:"failed_segments"`
	CreatedAt      time.Time `json:"created_at"`
}

func summarize(rec core.TranscriptRecord) transcriptSummary {
	return transcriptSummary{
		ID:             rec.ID,
		Filename:       rec.Filename,
		Preview:        preview(rec.Text, 160),
		Duration:       rec.Duration,
		SizeBytes:      rec.SizeBytes,
		Segments:       rec.Segments,
		FailedSegments: rec.FailedSegments,
		CreatedAt:      rec.CreatedAt,
	}
}

func preview(text string, max int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max]) + "..."
}

func (s *Server) handleListTranscripts(c *gin.Context) {
	recs, err := s.store.List(c.Request.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("list transcripts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list transcripts"})
		return
	}
	summaries := make([]transcriptSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, summarize(rec))
	}
	c.JSON(http.StatusOK, gin.H{"count": len(summaries), "transcripts": summaries})
}

func (s *Server) fetchTranscript(c *gin.Context) (core.TranscriptRecord, bool) {
	rec, err := s.store.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return core.TranscriptRecord{}, false
	}
	if err != nil {
		s.log.Error().Err(err).Str("id", c.Param("id")).Msg("get transcript failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load transcript"})
		return core.TranscriptRecord{}, false
	}
	return rec, true
}

func (s *Server) handleGetTranscript(c *gin.Context) {
	rec, ok := s.fetchTranscript(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleDownloadTranscript(c *gin.Context) {
	rec, ok := s.fetchTranscript(c)
	if !ok {
		return
	}
	base := strings.TrimSuffix(rec.Filename, filepath.Ext(rec.Filename))
	format := c.DefaultQuery("format", "txt")
	switch format {
	case "txt":
		c.Header("Content-Disposition", attachment(base+".txt"))
		c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(rec.Text))
	case "md":
		c.Header("Content-Disposition", attachment(base+".md"))
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(markdownTranscript(rec)))
	case "json":
		c.Header("Content-Disposition", attachment(base+".json"))
		c.JSON(http.StatusOK, rec)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown format %q", format)})
	}
}

func attachment(name string) string {
	return fmt.Sprintf("attachment; filename=%q", name)
}

func markdownTranscript(rec core.TranscriptRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", rec.Filename)
	fmt.Fprintf(&b, "- Transcribed: %s\n", rec.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Duration: %s\n", formatDuration(rec.Duration))
	fmt.Fprintf(&b, "- Segments: %d", rec.Segments)
	if rec.FailedSegments > 0 {
		fmt.Fprintf(&b, " (%d failed)", rec.FailedSegments)
	}
	b.WriteString("\n\n")
	b.WriteString(rec.Text)
	b.WriteString("\n")
	return b.String()
}

func formatDuration(seconds float64) string {
	minutes := int(seconds) / 60
	secs := int(seconds) % 60
	return fmt.Sprintf("%02d:%02d", minutes, secs)
}

func (s *Server) handleDeleteTranscript(c *gin.Context) {
	err := s.store.Delete(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("id", c.Param("id")).Msg("delete transcript failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete transcript"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSearchTranscripts(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": `query parameter "q" required`})
		return
	}
	limit := 10
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	hits, err := s.store.Search(c.Request.Context(), query, limit)
	if err != nil {
		s.log.Error().Err(err).Str("query", query).Msg("search failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	if hits == nil {
		hits = []storage.SearchHit{}
	}
	c.JSON(http.StatusOK, gin.H{"query": query, "count": len(hits), "hits": hits})
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().Unix(),
		"uptime_sec": int(time.Since(s.start).Seconds()),
		"services": gin.H{
			"store":         s.store.Name(),
			"transcription": s.providerKind(),
			"auth":          s.auth.Enabled(),
			"sse_clients":   s.hub.ClientCount(),
		},
	})
}

func (s *Server) providerKind() string {
	if s.cfg.HasValidAPI() {
		return "whisper"
	}
	return "mock"
}
