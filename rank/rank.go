// Package rank scores candidate items against a query using sentence embeddings
// and returns them ordered by descending cosine similarity.
package rank

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/sync/errgroup"
)

// Strategy controls how the texts of an item are combined into a single score.
type Strategy string

const (
	// StrategyMax embeds every text of an item separately and keeps the best
	// match. Items whose best match is not strictly positive are dropped.
	StrategyMax Strategy = "max"
	// StrategyConcat joins the texts of an item with a space and embeds the
	// result once. Every item with usable text is kept, whatever its score.
	StrategyConcat Strategy = "concat"
)

// DefaultStrategy is used when no strategy is configured.
const DefaultStrategy = StrategyMax

// Strategies lists the supported strategies.
var Strategies = []Strategy{StrategyMax, StrategyConcat}

func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return DefaultStrategy, nil
	}
	if !slices.Contains(Strategies, st) {
		return "", fmt.Errorf("rank: unknown strategy %q, expected one of %v", s, Strategies)
	}
	return st, nil
}

type Item struct {
	ID    string
	Texts []string
}

type Score struct {
	ID    string
	Score float64
}

type Option func(*Ranker)

func WithStrategy(s Strategy) Option {
	return func(r *Ranker) {
		r.strategy = s
	}
}

// WithConcurrency sets the number of items that are embedded at the same time.
// Values below 1 are treated as 1.
func WithConcurrency(n int) Option {
	return func(r *Ranker) {
		r.concurrency = max(n, 1)
	}
}

func New(embedder embeddings.Embedder, opts ...Option) *Ranker {
	r := &Ranker{
		embedder:    embedder,
		strategy:    DefaultStrategy,
		concurrency: 1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ranker is safe for concurrent use if the embedder is.
type Ranker struct {
	embedder    embeddings.Embedder
	strategy    Strategy
	concurrency int
}

func (r *Ranker) Strategy() Strategy {
	return r.strategy
}

type itemResult struct {
	score float64
	keep  bool
}

// Rank scores items against the query and returns the kept items sorted by
// descending score. An empty query returns an empty result without calling the
// embedder. Items with no usable text are dropped.
func (r *Ranker) Rank(ctx context.Context, query string, items []Item) ([]Score, error) {
	scores := []Score{}
	query = strings.TrimSpace(query)
	if query == "" {
		return scores, nil
	}

	queryEmbedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, &QueryError{Err: err}
	}

	results := make([]itemResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, item := range items {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			score, keep, err := r.scoreItem(gctx, queryEmbedding, item)
			if err != nil {
				return &ItemError{ID: item.ID, Err: err}
			}
			results[i] = itemResult{score: score, keep: keep}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	for i, res := range results {
		if !res.keep {
			continue
		}
		scores = append(scores, Score{ID: items[i].ID, Score: res.score})
	}
	slices.SortStableFunc(scores, func(a, b Score) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return scores, nil
}

func (r *Ranker) scoreItem(ctx context.Context, query []float32, item Item) (score float64, keep bool, err error) {
	texts := UsableTexts(item.Texts)
	if len(texts) == 0 {
		return 0, false, nil
	}
	switch r.strategy {
	case StrategyConcat:
		return r.scoreConcat(ctx, query, texts)
	default:
		return r.scoreMax(ctx, query, texts)
	}
}

func (r *Ranker) scoreMax(ctx context.Context, query []float32, texts []string) (score float64, keep bool, err error) {
	vectors, err := r.embed(ctx, texts)
	if err != nil {
		return 0, false, err
	}
	for _, v := range vectors {
		if s := Cosine(query, v); s > score {
			score = s
		}
	}
	return score, score > 0, nil
}

func (r *Ranker) scoreConcat(ctx context.Context, query []float32, texts []string) (score float64, keep bool, err error) {
	vectors, err := r.embed(ctx, []string{strings.Join(texts, " ")})
	if err != nil {
		return 0, false, err
	}
	return Cosine(query, vectors[0]), true, nil
}

func (r *Ranker) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}

// UsableTexts trims each text and discards the ones left empty.
func UsableTexts(texts []string) []string {
	usable := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			usable = append(usable, t)
		}
	}
	return usable
}
