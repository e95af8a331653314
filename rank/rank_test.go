package rank

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	fail    map[string]error
	calls   int
}

func (f *fakeEmbedder) lookup(text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.fail[text]; ok {
		return nil, err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return f.lookup(text)
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.lookup(text)
		if err != nil {
			return nil, err
		}
		vectors[i] = v
	}
	return vectors, nil
}

func (f *fakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const testQuery = "chatbot for customer support"

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{
		vectors: map[string][]float32{
			testQuery:                                {1, 0, 0},
			"customer support chatbot":               {0.9, 0.1, 0},
			"FAQ assistant":                          {0.6, 0.2, 0.1},
			"image generation":                       {0.3, 0.9, 0.1},
			"art creation":                           {0.1, 0.9, 0.2},
			"unrelated":                              {-1, 0.2, 0},
			"orthogonal":                             {0, 1, 0},
			"zero":                                   {0, 0, 0},
			"customer support chatbot FAQ assistant": {0.8, 0.2, 0},
			"image generation art creation":          {0.2, 0.9, 0.1},
		},
		fail: map[string]error{},
	}
}

func ids(scores []Score) (ids []string) {
	for _, s := range scores {
		ids = append(ids, s.ID)
	}
	return ids
}

func TestRank(t *testing.T) {
	tests := []struct {
		name     string
		strategy Strategy
		query    string
		items    []Item
		expected []string
	}{
		{
			name:     "max: relevant items are ranked first",
			strategy: StrategyMax,
			query:    testQuery,
			items: []Item{
				{ID: "B", Texts: []string{"image generation"}},
				{ID: "A", Texts: []string{"customer support chatbot"}},
			},
			expected: []string{"A", "B"},
		},
		{
			name:     "max: items with no usable text are dropped",
			strategy: StrategyMax,
			query:    testQuery,
			items: []Item{
				{ID: "A", Texts: []string{"customer support chatbot"}},
				{ID: "C", Texts: []string{"", "   "}},
				{ID: "N", Texts: nil},
			},
			expected: []string{"A"},
		},
		{
			name:     "max: items with a best match of zero or less are dropped",
			strategy: StrategyMax,
			query:    testQuery,
			items: []Item{
				{ID: "negative", Texts: []string{"unrelated"}},
				{ID: "orthogonal", Texts: []string{"orthogonal"}},
				{ID: "zero", Texts: []string{"zero"}},
				{ID: "A", Texts: []string{"customer support chatbot"}},
			},
			expected: []string{"A"},
		},
		{
			name:     "max: the best text wins over weaker texts",
			strategy: StrategyMax,
			query:    testQuery,
			items: []Item{
				{ID: "mixed", Texts: []string{"image generation", " customer support chatbot "}},
				{ID: "FAQ", Texts: []string{"FAQ assistant"}},
			},
			expected: []string{"mixed", "FAQ"},
		},
		{
			name:     "concat: items are kept regardless of score sign",
			strategy: StrategyConcat,
			query:    testQuery,
			items: []Item{
				{ID: "negative", Texts: []string{"unrelated"}},
				{ID: "orthogonal", Texts: []string{"orthogonal"}},
				{ID: "zero", Texts: []string{"zero"}},
				{ID: "A", Texts: []string{"customer support chatbot"}},
			},
			expected: []string{"A", "orthogonal", "zero", "negative"},
		},
		{
			name:     "concat: texts are trimmed and joined with a space",
			strategy: StrategyConcat,
			query:    testQuery,
			items: []Item{
				{ID: "images", Texts: []string{"image generation", "  ", "art creation "}},
				{ID: "support", Texts: []string{"  customer support chatbot ", "", "FAQ assistant"}},
			},
			expected: []string{"support", "images"},
		},
		{
			name:     "concat: items with no usable text are dropped",
			strategy: StrategyConcat,
			query:    testQuery,
			items: []Item{
				{ID: "C", Texts: []string{"", "   "}},
			},
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New(newFakeEmbedder(), WithStrategy(tt.strategy))
			actual, err := r.Rank(context.Background(), tt.query, tt.items)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, ids(actual)); diff != "" {
				t.Error(diff)
			}
		})
	}
}

func TestRankScores(t *testing.T) {
	e := newFakeEmbedder()
	r := New(e)
	actual, err := r.Rank(context.Background(), testQuery, []Item{
		{ID: "A", Texts: []string{"customer support chatbot"}},
		{ID: "B", Texts: []string{"art creation", "image generation"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	q := e.vectors[testQuery]
	expected := []Score{
		{ID: "A", Score: Cosine(q, e.vectors["customer support chatbot"])},
		{ID: "B", Score: Cosine(q, e.vectors["image generation"])},
	}
	if diff := cmp.Diff(expected, actual); diff != "" {
		t.Error(diff)
	}
}

func TestRankNonFiniteEmbeddings(t *testing.T) {
	e := newFakeEmbedder()
	e.vectors["overflow"] = []float32{float32(math.Inf(1)), 0, 0}
	e.vectors["broken"] = []float32{float32(math.NaN()), 0, 0}
	items := []Item{
		{ID: "A", Texts: []string{"customer support chatbot"}},
		{ID: "I", Texts: []string{"overflow"}},
		{ID: "N", Texts: []string{"broken"}},
	}
	for _, strategy := range Strategies {
		t.Run(string(strategy), func(t *testing.T) {
			actual, err := New(e, WithStrategy(strategy)).Rank(context.Background(), testQuery, items)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for _, s := range actual {
				if math.IsNaN(s.Score) || math.IsInf(s.Score, 0) {
					t.Errorf("item %q has non-finite score %v", s.ID, s.Score)
				}
			}
			if len(actual) == 0 || actual[0].ID != "A" {
				t.Errorf("expected A to rank first, got %v", ids(actual))
			}
		})
	}
}

func TestRankEmptyQuery(t *testing.T) {
	for _, strategy := range Strategies {
		for _, query := range []string{"", "  ", "\t\n"} {
			t.Run(fmt.Sprintf("%s/%q", strategy, query), func(t *testing.T) {
				e := newFakeEmbedder()
				r := New(e, WithStrategy(strategy))
				actual, err := r.Rank(context.Background(), query, []Item{
					{ID: "A", Texts: []string{"customer support chatbot"}},
				})
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if actual == nil || len(actual) != 0 {
					t.Errorf("expected empty, non-nil scores, got %#v", actual)
				}
				if e.Calls() != 0 {
					t.Errorf("expected no embedding calls, got %d", e.Calls())
				}
			})
		}
	}
}

func TestRankErrors(t *testing.T) {
	errBoom := errors.New("boom")

	t.Run("item embedding failures name the item", func(t *testing.T) {
		for _, strategy := range Strategies {
			e := newFakeEmbedder()
			e.fail["broken"] = errBoom
			r := New(e, WithStrategy(strategy))
			_, err := r.Rank(context.Background(), testQuery, []Item{
				{ID: "A", Texts: []string{"customer support chatbot"}},
				{ID: "B", Texts: []string{"broken"}},
			})
			var itemErr *ItemError
			if !errors.As(err, &itemErr) {
				t.Fatalf("%s: expected ItemError, got %v", strategy, err)
			}
			if itemErr.ID != "B" {
				t.Errorf("%s: expected item B, got %q", strategy, itemErr.ID)
			}
			if !errors.Is(err, errBoom) {
				t.Errorf("%s: expected error to wrap the cause", strategy)
			}
		}
	})
	t.Run("query embedding failures are returned", func(t *testing.T) {
		e := newFakeEmbedder()
		e.fail[testQuery] = errBoom
		r := New(e)
		_, err := r.Rank(context.Background(), testQuery, []Item{
			{ID: "A", Texts: []string{"customer support chatbot"}},
		})
		var queryErr *QueryError
		if !errors.As(err, &queryErr) {
			t.Fatalf("expected QueryError, got %v", err)
		}
		if !errors.Is(err, errBoom) {
			t.Error("expected error to wrap the cause")
		}
	})
}

func randomEmbedder(rng *rand.Rand, texts int) *fakeEmbedder {
	e := &fakeEmbedder{vectors: map[string][]float32{}}
	randomVector := func() []float32 {
		v := make([]float32, 8)
		for i := range v {
			v[i] = rng.Float32()*2 - 1
		}
		return v
	}
	e.vectors["query"] = randomVector()
	for i := range texts {
		e.vectors[fmt.Sprintf("text-%d", i)] = randomVector()
	}
	return e
}

func randomItems(rng *rand.Rand, count, texts int) []Item {
	items := make([]Item, count)
	for i := range items {
		items[i].ID = fmt.Sprintf("item-%d", i)
		// Only single texts, so that concat lookups hit the table.
		if rng.Intn(5) == 0 {
			items[i].Texts = []string{" "}
			continue
		}
		items[i].Texts = []string{fmt.Sprintf("text-%d", rng.Intn(texts))}
	}
	return items
}

func TestRankProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for _, strategy := range Strategies {
		for run := range 20 {
			e := randomEmbedder(rng, 30)
			items := randomItems(rng, rng.Intn(40), 30)
			r := New(e, WithStrategy(strategy), WithConcurrency(4))
			actual, err := r.Rank(context.Background(), "query", items)
			if err != nil {
				t.Fatalf("%s run %d: unexpected error: %v", strategy, run, err)
			}
			if len(actual) > len(items) {
				t.Errorf("%s run %d: got %d scores for %d items", strategy, run, len(actual), len(items))
			}
			for i := 1; i < len(actual); i++ {
				if actual[i-1].Score < actual[i].Score {
					t.Errorf("%s run %d: scores not sorted at %d: %v < %v", strategy, run, i, actual[i-1].Score, actual[i].Score)
				}
			}
			for _, s := range actual {
				if strategy == StrategyMax && s.Score <= 0 {
					t.Errorf("%s run %d: unexpected non-positive score %v for %s", strategy, run, s.Score, s.ID)
				}
			}
			if strategy == StrategyConcat {
				var usable int
				for _, item := range items {
					if len(UsableTexts(item.Texts)) > 0 {
						usable++
					}
				}
				if len(actual) != usable {
					t.Errorf("%s run %d: expected %d scores, got %d", strategy, run, usable, len(actual))
				}
			}
		}
	}
}

func TestRankConcurrencyDoesNotChangeResults(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	e := randomEmbedder(rng, 50)
	items := randomItems(rng, 200, 50)
	for _, strategy := range Strategies {
		sequential, err := New(e, WithStrategy(strategy)).Rank(context.Background(), "query", items)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		parallel, err := New(e, WithStrategy(strategy), WithConcurrency(16)).Rank(context.Background(), "query", items)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if diff := cmp.Diff(sequential, parallel); diff != "" {
			t.Errorf("%s: %s", strategy, diff)
		}
	}
}

func TestParseStrategy(t *testing.T) {
	tests := []struct {
		input    string
		expected Strategy
		err      bool
	}{
		{input: "", expected: StrategyMax},
		{input: "max", expected: StrategyMax},
		{input: " Concat ", expected: StrategyConcat},
		{input: "mean", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			actual, err := ParseStrategy(tt.input)
			if tt.err {
				if err == nil {
					t.Errorf("expected error, got %q", actual)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if actual != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, actual)
			}
		})
	}
}

func TestUsableTexts(t *testing.T) {
	actual := UsableTexts([]string{" a ", "", "\t", "b"})
	if diff := cmp.Diff([]string{"a", "b"}, actual); diff != "" {
		t.Error(diff)
	}
}
