package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/a-h/simserver/client"
	"github.com/a-h/simserver/models"
	"gopkg.in/yaml.v3"
)

type RankCommand struct {
	SimServerURL    string   `help:"The URL of the similarity server." env:"SIM_SERVER_URL" default:"http://localhost:8001"`
	SimServerAPIKey string   `help:"The API key for the similarity server." env:"SIM_SERVER_API_KEY" default:""`
	Query           string   `help:"The query to rank the items against." required:""`
	ItemsFile       string   `help:"A YAML or JSON file containing the items to rank." type:"existingfile" required:""`
	Best            bool     `help:"Only print the best matching item." default:"false"`
	Threshold       *float64 `help:"Only print items scoring at least this much, all items are printed when unset."`
	Pretty          bool     `help:"Pretty print the JSON output." default:"true"`
	LogLevel        string   `help:"The log level to use." env:"LOG_LEVEL" default:"info"`
}

func (c RankCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.LogLevel)

	f, err := os.Open(c.ItemsFile)
	if err != nil {
		return fmt.Errorf("failed to open items file: %w", err)
	}
	defer f.Close()
	items, err := readItems(f)
	if err != nil {
		return fmt.Errorf("failed to read items file: %w", err)
	}
	log.Debug("ranking items", slog.Int("items", len(items)), slog.String("query", c.Query))

	sc := client.New(c.SimServerURL, c.SimServerAPIKey)
	resp, err := sc.Similarity(ctx, models.SimilarityPostRequest{
		Query: c.Query,
		Items: items,
	})
	if err != nil {
		return fmt.Errorf("failed to rank items: %w", err)
	}
	resp.Scores = filterScores(resp.Scores, c.Threshold)

	enc := json.NewEncoder(os.Stdout)
	if c.Pretty {
		enc.SetIndent("", "  ")
	}
	if c.Best {
		if len(resp.Scores) == 0 {
			return errors.New("no matching items")
		}
		return enc.Encode(resp.Scores[0])
	}
	return enc.Encode(resp)
}

func filterScores(scores []models.SimilarityScore, threshold *float64) []models.SimilarityScore {
	if threshold == nil {
		return scores
	}
	return client.AboveThreshold(scores, *threshold)
}

// itemRecord accepts either explicit texts, or the fields of a tool record,
// which are combined into texts in the order title, description, use cases, keywords.
type itemRecord struct {
	ID          string   `yaml:"id"`
	Texts       []string `yaml:"texts"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description"`
	UseCases    []string `yaml:"useCases"`
	Keywords    []string `yaml:"keywords"`
}

func (r itemRecord) item() models.SimilarityItem {
	texts := []string{}
	for _, t := range slices.Concat([]string{r.Title, r.Description}, r.UseCases, r.Keywords, r.Texts) {
		if strings.TrimSpace(t) != "" {
			texts = append(texts, t)
		}
	}
	return models.SimilarityItem{
		ID:    r.ID,
		Texts: texts,
	}
}

// readItems reads a list of items, or a document with an items key.
func readItems(r io.Reader) (items []models.SimilarityItem, err error) {
	var doc yaml.Node
	if err = yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no items found")
		}
		return nil, err
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	var records []itemRecord
	switch root.Kind {
	case yaml.SequenceNode:
		err = root.Decode(&records)
	case yaml.MappingNode:
		var file struct {
			Items []itemRecord `yaml:"items"`
		}
		err = root.Decode(&file)
		records = file.Items
	default:
		err = errors.New("expected a list of items or a document with an items key")
	}
	if err != nil {
		return nil, err
	}
	items = make([]models.SimilarityItem, len(records))
	for i, rec := range records {
		if rec.ID == "" {
			return nil, fmt.Errorf("item %d has no id", i)
		}
		items[i] = rec.item()
	}
	return items, nil
}
