package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Gbuzzer/Audio-Transcriber/config"
	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// ErrNotFound is returned for lookups and deletes of unknown transcript IDs.
var ErrNotFound = errors.New("transcript not found")

// SearchHit is one transcript matched by a search query.
type SearchHit struct {
	Record core.TranscriptRecord `json:"record"`
	Score  float64               `json:"score"`
}

// TranscriptStore persists finished transcripts. Implementations must be safe
// for concurrent use by the HTTP handlers.
type TranscriptStore interface {
	// Name identifies the backend for health reporting.
	Name() string
	Save(ctx context.Context, rec core.TranscriptRecord) error
	Get(ctx context.Context, id string) (core.TranscriptRecord, error)
	List(ctx context.Context) ([]core.TranscriptRecord, error)
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, limit int) ([]SearchHit, error)
	Close(ctx context.Context) error
}

// Open builds the transcript store named in the config. Backends that cannot
// be reached degrade to the local file store with a warning instead of
// failing startup; only a broken file store is fatal.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (TranscriptStore, error) {
	switch strings.ToLower(cfg.Store) {
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg)
		if err == nil {
			log.Info().Msg("using postgres transcript store")
			return s, nil
		}
		log.Warn().Err(err).Msg("postgres store unavailable, falling back to file store")
	case "milvus":
		s, err := NewMilvusStore(ctx, cfg)
		if err == nil {
			log.Info().Str("addr", cfg.MilvusAddr).Msg("using milvus transcript store")
			return s, nil
		}
		log.Warn().Err(err).Msg("milvus store unavailable, falling back to file store")
	}

	s, err := NewFileStore(cfg.TranscriptsDir())
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	log.Info().Str("dir", cfg.TranscriptsDir()).Msg("using file transcript store")
	return s, nil
}

// Embedder turns text into vectors for the semantic backends. A nil Embedder
// means no embedding API is configured.
type Embedder struct {
	cli   *openai.Client
	model string
}

func NewEmbedder(cfg *config.Config) *Embedder {
	if !cfg.HasValidAPI() {
		return nil
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &Embedder{cli: openai.NewClientWithConfig(oc), model: cfg.EmbeddingModel}
}

// embedMaxChars keeps requests inside the embedding model's context window.
const embedMaxChars = 8000

// truncateBytes cuts s to at most max bytes, backing the cut off to a rune
// boundary so the result stays valid UTF-8.
func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	text = truncateBytes(strings.ToLower(text), embedMaxChars)
	resp, err := e.cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}
