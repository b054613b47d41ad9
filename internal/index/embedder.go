package index

import (
	"context"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/rohankatakam/memorybank/internal/config"
	"github.com/rohankatakam/memorybank/internal/logging"
)

// Embedding provider names accepted in config.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

// Embedder turns text into dense vectors. Implementations batch where the
// backend allows it and rate-limit themselves.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Provider() string
}

// NewEmbedder builds the configured provider. Provider "none" returns a nil
// Embedder; the index then runs without vectors and semantic search reports
// itself unavailable.
func NewEmbedder(ctx context.Context, cfg config.IndexConfig) (Embedder, error) {
	limiter := newEmbedLimiter(cfg.RequestsPerMinute)
	switch cfg.Provider {
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("embedding provider openai selected but no API key configured")
		}
		return &openaiEmbedder{
			client:  openai.NewClient(cfg.OpenAIKey),
			model:   cfg.EmbeddingModel,
			limiter: limiter,
			logger:  logging.Component("embedder"),
		}, nil
	case ProviderGemini:
		if cfg.GeminiKey == "" {
			return nil, fmt.Errorf("embedding provider gemini selected but no API key configured")
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return &geminiEmbedder{
			client:  client,
			model:   cfg.EmbeddingModel,
			limiter: limiter,
			logger:  logging.Component("embedder"),
		}, nil
	case ProviderNone, "":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// newEmbedLimiter converts a per-minute budget into a limiter. Zero or
// negative disables throttling.
func newEmbedLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst)
}

type openaiEmbedder struct {
	client  *openai.Client
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

func (e *openaiEmbedder) Provider() string { return ProviderOpenAI }
func (e *openaiEmbedder) Model() string    { return e.model }

func (e *openaiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(resp.Data), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

type geminiEmbedder struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	logger  *slog.Logger
}

func (e *geminiEmbedder) Provider() string { return ProviderGemini }
func (e *geminiEmbedder) Model() string    { return e.model }

func (e *geminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)...)
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embeddings: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embeddings: got %d vectors for %d inputs", len(resp.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}
