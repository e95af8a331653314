package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

type OpenAIConfig struct {
	APIKey string
	// BaseURL allows OpenAI compatible servers to be used.
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// NewOpenAIClient creates an embedding client for the OpenAI embeddings API.
// If no API key is configured, OPENAI_API_KEY is used.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("embedder: OpenAI API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("embedder: OpenAI model is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &OpenAIClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}, nil
}

type OpenAIClient struct {
	client openai.Client
	model  string
}

func (c *OpenAIClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("embedder: openai request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedder: expected %d embeddings from openai, got %d", len(texts), len(resp.Data))
	}
	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		index := int(d.Index)
		if index < 0 || index >= len(vectors) {
			return nil, fmt.Errorf("embedder: openai returned out of range index %d", index)
		}
		v := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		vectors[index] = v
	}
	return vectors, nil
}
