package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// streamWriter turns one transcription request into a chunked response of
// concatenated JSON progress events, flushed as they happen. The final event
// carries the full transcript, so a client decodes objects until EOF.
type streamWriter struct {
	mu      sync.Mutex
	w       gin.ResponseWriter
	started bool
}

func newStreamWriter(w gin.ResponseWriter) *streamWriter {
	return &streamWriter{w: w}
}

func (s *streamWriter) Write(ev core.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if !s.started {
		s.started = true
		s.w.Header().Set("Content-Type", "application/json")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.Header().Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
	}
	s.w.Write(data)
	s.w.Flush()
}
