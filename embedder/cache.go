package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
)

// Store is a shared embedding cache, such as Redis.
type Store interface {
	Get(ctx context.Context, key string) (v []float32, ok bool, err error)
	Set(ctx context.Context, key string, v []float32) error
}

const (
	TierLocal  = "local"
	TierRemote = "remote"
)

// CacheObserver receives the outcome of every cache lookup.
type CacheObserver interface {
	ObserveCacheLookup(tier string, hit bool)
}

type CacheConfig struct {
	// Namespace separates embeddings produced by different models.
	Namespace string
	Size      int
	Remote    Store
	Observer  CacheObserver
}

// NewCachingClient wraps next so that each distinct text is only embedded once.
// Vectors returned by the client are shared with the cache and must not be modified.
func NewCachingClient(log *slog.Logger, next embeddings.EmbedderClient, cfg CacheConfig) (*CachingClient, error) {
	c := &CachingClient{
		log:       log,
		next:      next,
		namespace: cfg.Namespace,
		remote:    cfg.Remote,
		observer:  cfg.Observer,
	}
	if cfg.Size > 0 {
		local, err := lru.New[string, []float32](cfg.Size)
		if err != nil {
			return nil, fmt.Errorf("embedder: failed to create cache: %w", err)
		}
		c.local = local
	}
	return c, nil
}

type CachingClient struct {
	log       *slog.Logger
	next      embeddings.EmbedderClient
	namespace string
	local     *lru.Cache[string, []float32]
	remote    Store
	observer  CacheObserver
}

func (c *CachingClient) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.namespace + ":" + hex.EncodeToString(sum[:])
}

func (c *CachingClient) observe(tier string, hit bool) {
	if c.observer != nil {
		c.observer.ObserveCacheLookup(tier, hit)
	}
}

func (c *CachingClient) get(ctx context.Context, key string) (v []float32, ok bool) {
	if c.local != nil {
		v, ok = c.local.Get(key)
		c.observe(TierLocal, ok)
		if ok {
			return v, true
		}
	}
	if c.remote == nil {
		return nil, false
	}
	v, ok, err := c.remote.Get(ctx, key)
	if err != nil {
		c.log.Warn("embedding cache read failed", slog.String("key", key), slog.Any("error", err))
		ok = false
	}
	c.observe(TierRemote, ok)
	if !ok {
		return nil, false
	}
	if c.local != nil {
		c.local.Add(key, v)
	}
	return v, true
}

func (c *CachingClient) set(ctx context.Context, key string, v []float32) {
	if c.local != nil {
		c.local.Add(key, v)
	}
	if c.remote == nil {
		return
	}
	if err := c.remote.Set(ctx, key, v); err != nil {
		c.log.Warn("embedding cache write failed", slog.String("key", key), slog.Any("error", err))
	}
}

// CreateEmbedding returns one vector per text, in order. Only texts missing
// from the cache are sent to the underlying client, each at most once.
func (c *CachingClient) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missing []string
	positions := make(map[string][]int)
	for i, text := range texts {
		if v, ok := c.get(ctx, c.key(text)); ok {
			vectors[i] = v
			continue
		}
		if _, seen := positions[text]; !seen {
			missing = append(missing, text)
		}
		positions[text] = append(positions[text], i)
	}
	if len(missing) == 0 {
		return vectors, nil
	}

	embedded, err := c.next.CreateEmbedding(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(embedded) != len(missing) {
		return nil, fmt.Errorf("embedder: expected %d embeddings, got %d", len(missing), len(embedded))
	}
	for i, text := range missing {
		for _, pos := range positions[text] {
			vectors[pos] = embedded[i]
		}
		c.set(ctx, c.key(text), embedded[i])
	}
	return vectors, nil
}
