package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/Gbuzzer/Audio-Transcriber/config"
	"github.com/Gbuzzer/Audio-Transcriber/core"
	"github.com/Gbuzzer/Audio-Transcriber/processors"
	"github.com/Gbuzzer/Audio-Transcriber/storage"
)

// Pipeline is the slice of the transcription runner the handlers need.
// *processors.Runner implements it.
type Pipeline interface {
	Probe(ctx context.Context, path string) (core.MediaInfo, error)
	NeedsChunking(info core.MediaInfo) bool
	TranscribeDirect(ctx context.Context, req processors.JobRequest, info core.MediaInfo) (core.TranscriptRecord, error)
	Process(ctx context.Context, req processors.JobRequest, info core.MediaInfo, rep *processors.Reporter) (core.TranscriptRecord, error)
}

// Server owns the HTTP surface: routing, auth, upload handling and the
// SSE hub.
type Server struct {
	cfg    *config.Config
	log    zerolog.Logger
	runner Pipeline
	store  storage.TranscriptStore
	auth   *Authenticator
	hub    *EventHub
	start  time.Time

	engine *gin.Engine
	http   *http.Server
}

func New(cfg *config.Config, log zerolog.Logger, runner Pipeline, store storage.TranscriptStore) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		log:    log.With().Str("component", "server").Logger(),
		runner: runner,
		store:  store,
		auth:   NewAuthenticator(cfg),
		hub:    NewEventHub(log),
		start:  time.Now(),
	}

	engine := gin.New()
	engine.Use(s.requestLogger(), gin.Recovery(), bodyLimit(cfg.MaxUploadBytes()))

	engine.GET("/healthz", s.handleHealthz)

	api := engine.Group("/api")
	api.Use(s.auth.Middleware("/api/login"))
	{
		api.POST("/login", s.handleLogin)
		api.POST("/transcribe", s.handleTranscribe)
		api.GET("/transcripts", s.handleListTranscripts)
		api.GET("/transcripts/search", s.handleSearchTranscripts)
		api.GET("/transcripts/:id", s.handleGetTranscript)
		api.GET("/transcripts/:id/download", s.handleDownloadTranscript)
		api.DELETE("/transcripts/:id", s.handleDeleteTranscript)
		api.GET("/events", s.handleEvents)
	}

	s.engine = engine
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routing tree, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Bool("auth", s.auth.Enabled()).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and drains in-flight requests. SSE
// clients are disconnected first so Shutdown does not wait on them.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.http.Shutdown(ctx)
}

// bodyLimit caps request bodies so an oversized upload fails while the
// multipart form is being read instead of filling the disk.
func bodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()
		path := c.Request.URL.Path
		c.Next()

		ev := s.log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = s.log.Error()
		}
		ev.Str("method", c.Request.Method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(begin)).
			Str("client", c.ClientIP()).
			Msg("request")
	}
}
