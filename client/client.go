package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/a-h/jsonapi"
	"github.com/a-h/simserver/models"
)

// DefaultThreshold is the minimum score callers usually treat as a match.
const DefaultThreshold = 0.3

func New(baseURL, apiKey string) Client {
	return Client{
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

type Client struct {
	baseURL string
	apiKey  string
}

func (c Client) Similarity(ctx context.Context, req models.SimilarityPostRequest) (resp models.SimilarityPostResponse, err error) {
	url, err := jsonapi.URL(c.baseURL).Path("similarity").String()
	if err != nil {
		return resp, err
	}
	return jsonapi.Post[models.SimilarityPostRequest, models.SimilarityPostResponse](ctx, url, req, jsonapi.WithRequestHeader("Authorization", c.apiKey))
}

func (c Client) Health(ctx context.Context) (resp models.HealthGetResponse, err error) {
	url, err := jsonapi.URL(c.baseURL).Path("health").String()
	if err != nil {
		return resp, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return resp, fmt.Errorf("failed to create request: %w", err)
	}
	res, err := jsonapi.Raw(httpReq, jsonapi.WithRequestHeader("Authorization", c.apiKey))
	if err != nil {
		return resp, fmt.Errorf("failed to perform HTTP request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(res.Body)
		return resp, jsonapi.InvalidStatusError{
			Status: res.StatusCode,
			Body:   string(body),
		}
	}
	if err = json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return resp, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp, nil
}

// BestMatch returns the highest scoring item. ok is false if no item was scored.
func (c Client) BestMatch(ctx context.Context, query string, items []models.SimilarityItem) (best models.SimilarityScore, ok bool, err error) {
	resp, err := c.Similarity(ctx, models.SimilarityPostRequest{
		Query: query,
		Items: items,
	})
	if err != nil {
		return best, false, err
	}
	if len(resp.Scores) == 0 {
		return best, false, nil
	}
	return resp.Scores[0], true, nil
}

// AboveThreshold returns the scores greater than or equal to threshold, keeping their order.
func AboveThreshold(scores []models.SimilarityScore, threshold float64) []models.SimilarityScore {
	filtered := make([]models.SimilarityScore, 0, len(scores))
	for _, s := range scores {
		if s.Score >= threshold {
			filtered = append(filtered, s)
		}
	}
	return filtered
}
