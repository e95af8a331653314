package post

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/a-h/respond"
	"github.com/a-h/simserver/metrics"
	"github.com/a-h/simserver/middleware"
	"github.com/a-h/simserver/models"
	"github.com/a-h/simserver/rank"
)

const DefaultMaxRequestBytes = 1 << 20

type Ranker interface {
	Rank(ctx context.Context, query string, items []rank.Item) ([]rank.Score, error)
	Strategy() rank.Strategy
}

func New(log *slog.Logger, ranker Ranker, m *metrics.Metrics, maxRequestBytes int64) Handler {
	if maxRequestBytes <= 0 {
		maxRequestBytes = DefaultMaxRequestBytes
	}
	return Handler{
		log:             log,
		ranker:          ranker,
		metrics:         m,
		maxRequestBytes: maxRequestBytes,
	}
}

type Handler struct {
	log             *slog.Logger
	ranker          Ranker
	metrics         *metrics.Metrics
	maxRequestBytes int64
}

// request mirrors models.SimilarityPostRequest, but uses pointers so that
// missing fields can be told apart from empty ones.
type request struct {
	Query *string        `json:"query"`
	Items *[]requestItem `json:"items"`
}

type requestItem struct {
	ID    *string   `json:"id"`
	Texts *[]string `json:"texts"`
}

func (req request) validate() (query string, items []rank.Item, err error) {
	if req.Query == nil {
		return "", nil, errors.New("query is required")
	}
	if req.Items == nil {
		return "", nil, errors.New("items is required")
	}
	items = make([]rank.Item, len(*req.Items))
	for i, item := range *req.Items {
		if item.ID == nil {
			return "", nil, fmt.Errorf("items[%d].id is required", i)
		}
		if item.Texts == nil {
			return "", nil, fmt.Errorf("items[%d].texts is required", i)
		}
		items[i] = rank.Item{ID: *item.ID, Texts: *item.Texts}
	}
	return *req.Query, items, nil
}

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("requestID", middleware.GetRequestID(r.Context())))

	var req request
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxRequestBytes)).Decode(&req)
	if err != nil {
		log.Error("failed to decode body", slog.Any("error", err))
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			respond.WithError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		respond.WithError(w, "failed to decode body", http.StatusBadRequest)
		return
	}
	query, items, err := req.validate()
	if err != nil {
		log.Error("invalid request", slog.Any("error", err))
		respond.WithError(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	strategy := string(h.ranker.Strategy())
	start := time.Now()
	scores, err := h.ranker.Rank(r.Context(), query, items)
	if err != nil {
		h.metrics.ObserveRank(strategy, "error", time.Since(start), len(items), 0)
		attrs := []any{slog.Any("error", err), slog.String("strategy", strategy)}
		var itemErr *rank.ItemError
		if errors.As(err, &itemErr) {
			attrs = append(attrs, slog.String("itemID", itemErr.ID))
		}
		log.Error("failed to rank items", attrs...)
		respond.WithError(w, "failed to rank items", http.StatusInternalServerError)
		return
	}
	h.metrics.ObserveRank(strategy, "ok", time.Since(start), len(items), len(scores))

	resp := models.SimilarityPostResponse{
		Scores: make([]models.SimilarityScore, len(scores)),
	}
	for i, s := range scores {
		resp.Scores[i] = models.SimilarityScore{ID: s.ID, Score: s.Score}
	}
	log.Debug("ranked items", slog.String("strategy", strategy), slog.Int("items", len(items)), slog.Int("scores", len(scores)))

	respond.WithJSON(w, resp, http.StatusOK)
}
