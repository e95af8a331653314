// Package embedder builds the process-wide text embedder used to score items.
//
// The embedder is created once at startup and shared by every request. It is
// read-only after construction and safe for concurrent use.
package embedder

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

const (
	DefaultOllamaURL = "http://127.0.0.1:11434/"
	// DefaultModel is the Ollama build of sentence-transformers/all-MiniLM-L6-v2.
	DefaultModel = "all-minilm"
)

type Config struct {
	Provider      Provider
	Model         string
	OllamaURL     string
	OpenAIBaseURL string
	OpenAIAPIKey  string
	HTTPClient    *http.Client
	// CacheSize is the number of embeddings kept in memory. Zero disables the in-memory cache.
	CacheSize int
	// Remote is an optional shared cache, consulted after the in-memory cache.
	Remote   Store
	Observer CacheObserver
}

// NewClient creates the provider client without caching.
func NewClient(cfg Config) (embeddings.EmbedderClient, error) {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	switch Provider(strings.ToLower(string(cfg.Provider))) {
	case ProviderOllama, "":
		serverURL := cfg.OllamaURL
		if serverURL == "" {
			serverURL = DefaultOllamaURL
		}
		c, err := ollama.New(
			ollama.WithModel(model),
			ollama.WithHTTPClient(httpClient),
			ollama.WithServerURL(serverURL))
		if err != nil {
			return nil, fmt.Errorf("embedder: failed to create ollama client: %w", err)
		}
		return c, nil
	case ProviderOpenAI:
		return NewOpenAIClient(OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      model,
			HTTPClient: httpClient,
		})
	default:
		return nil, fmt.Errorf("embedder: unknown provider %q", cfg.Provider)
	}
}

// New creates the embedder described by cfg, wrapped in a cache when one is configured.
func New(log *slog.Logger, cfg Config) (embeddings.Embedder, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.CacheSize > 0 || cfg.Remote != nil {
		provider, model := cfg.Provider, cfg.Model
		if provider == "" {
			provider = ProviderOllama
		}
		if model == "" {
			model = DefaultModel
		}
		client, err = NewCachingClient(log, client, CacheConfig{
			Namespace: string(provider) + "/" + model,
			Size:      cfg.CacheSize,
			Remote:    cfg.Remote,
			Observer:  cfg.Observer,
		})
		if err != nil {
			return nil, err
		}
	}
	emb, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("embedder: failed to create embedder: %w", err)
	}
	return emb, nil
}

const warmupText = "warmup"

// Warmup embeds a probe string so that model loading happens before traffic is served.
func Warmup(ctx context.Context, e embeddings.Embedder) (dimensions int, err error) {
	v, err := e.EmbedQuery(ctx, warmupText)
	if err != nil {
		return 0, fmt.Errorf("embedder: warmup failed: %w", err)
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("embedder: warmup returned an empty embedding")
	}
	return len(v), nil
}
