package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// jobEvent is the envelope published to SSE listeners: a progress event
// tagged with the job it belongs to.
type jobEvent struct {
	JobID string `json:"job_id"`
	core.ProgressEvent
}

// EventHub fans job progress events out to connected SSE clients. Slow
// clients get events dropped rather than stalling the pipeline.
type EventHub struct {
	mu      sync.RWMutex
	clients map[string]chan []byte
	log     zerolog.Logger
	closed  bool
}

func NewEventHub(log zerolog.Logger) *EventHub {
	return &EventHub{
		clients: make(map[string]chan []byte),
		log:     log.With().Str("component", "sse").Logger(),
	}
}

// Subscribe registers a client and returns its event channel. The channel is
// closed on Unsubscribe or hub shutdown.
func (h *EventHub) Subscribe(id string) <-chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.clients[id] = ch
	h.log.Debug().Str("client", id).Int("clients", len(h.clients)).Msg("sse client connected")
	return ch
}

func (h *EventHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(ch)
		h.log.Debug().Str("client", id).Int("clients", len(h.clients)).Msg("sse client disconnected")
	}
}

// Publish broadcasts one progress event to every connected client.
func (h *EventHub) Publish(jobID string, ev core.ProgressEvent) {
	data, err := json.Marshal(jobEvent{JobID: jobID, ProgressEvent: ev})
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.clients {
		select {
		case ch <- data:
		default:
			h.log.Warn().Str("client", id).Msg("sse client too slow, dropping event")
		}
	}
}

func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients. Subscribes after Close return a closed
// channel, so late handlers exit immediately.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
}

// handleEvents streams job progress to the client as server-sent events.
func (s *Server) handleEvents(c *gin.Context) {
	w := c.Writer
	flusher, ok := w.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	// SSE connections outlive any server write timeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.log.Warn().Err(err).Msg("could not clear write deadline for sse")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id := uuid.NewString()
	events := s.hub.Subscribe(id)
	defer s.hub.Unsubscribe(id)

	fmt.Fprintf(w, "event: connected\ndata: {\"client_id\":%q}\n\n", id)
	flusher.Flush()

	// Keep-alive comments hold the connection open through proxies.
	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprintf(w, ": keepalive %d\n\n", time.Now().Unix())
			flusher.Flush()
		}
	}
}
