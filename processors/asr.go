package processors

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Gbuzzer/Audio-Transcriber/config"
	"github.com/Gbuzzer/Audio-Transcriber/core"
)

// Provider turns one audio file into text. Implementations must be safe for
// concurrent use; the worker pool calls Transcribe from several goroutines.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// WhisperProvider calls an OpenAI-compatible transcription endpoint.
type WhisperProvider struct {
	cli      *openai.Client
	model    string
	language string
}

func NewWhisperProvider(cfg *config.Config) *WhisperProvider {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return &WhisperProvider{
		cli:      openai.NewClientWithConfig(oc),
		model:    cfg.WhisperModel,
		language: cfg.Language,
	}
}

func (w *WhisperProvider) Transcribe(ctx context.Context, audioPath string) (string, error) {
	resp, err := w.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: audioPath,
		Language: w.language,
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("empty transcription result")
	}
	return text, nil
}

// MockProvider produces deterministic text without any API access. Used when
// no api_key is configured and throughout the tests.
type MockProvider struct {
	Delay time.Duration
}

func (m MockProvider) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	name := filepath.Base(audioPath)
	return fmt.Sprintf("(mock transcript of segment %s)", core.SegmentLabel(name)), nil
}

// PickProvider selects the transcription backend for the current config,
// falling back to the mock when no usable API is configured.
func PickProvider(cfg *config.Config, log zerolog.Logger) Provider {
	if !cfg.HasValidAPI() {
		log.Warn().Msg("no api_key configured, using mock transcription")
		return MockProvider{}
	}
	return NewWhisperProvider(cfg)
}

// transcribeWithRetry runs one transcription call with the pipeline's retry
// policy: a bounded number of extra attempts with linearly growing waits.
// Split and probe failures are never retried; only the per-call API errors.
func transcribeWithRetry(ctx context.Context, p Provider, audioPath string, cfg config.PipelineConfig, log zerolog.Logger) (string, error) {
	attempts := cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout())
		text, err := p.Transcribe(callCtx, audioPath)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == attempts {
			break
		}
		wait := time.Duration(attempt) * cfg.RetryBackoffUnit()
		log.Warn().Err(err).Str("segment", filepath.Base(audioPath)).
			Int("attempt", attempt).Dur("backoff", wait).Msg("transcription attempt failed")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", lastErr
}
