package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/a-h/simserver/auth"
	"github.com/a-h/simserver/embedder"
	healthget "github.com/a-h/simserver/handlers/health/get"
	similaritypost "github.com/a-h/simserver/handlers/similarity/post"
	"github.com/a-h/simserver/metrics"
	"github.com/a-h/simserver/middleware"
	"github.com/a-h/simserver/rank"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

type ServeCommand struct {
	ListenAddr         string        `help:"The address to listen on." env:"LISTEN_ADDR" default:"localhost:8001"`
	EmbeddingProvider  string        `help:"The embedding provider to use." env:"EMBEDDING_PROVIDER" default:"ollama" enum:"ollama,openai"`
	OllamaURL          string        `help:"The URL of the Ollama server." env:"OLLAMA_URL" default:"http://127.0.0.1:11434/"`
	OpenAIBaseURL      string        `help:"The base URL of an OpenAI compatible API, leave empty for OpenAI." env:"OPENAI_BASE_URL" default:""`
	OpenAIAPIKey       string        `help:"The OpenAI API key." env:"OPENAI_API_KEY" default:""`
	EmbeddingModel     string        `help:"The model to use for embeddings." env:"EMBEDDING_MODEL" default:"all-minilm"`
	Strategy           string        `help:"How item texts are scored: max keeps the best single text, concat embeds the joined texts." env:"STRATEGY" default:"max" enum:"max,concat"`
	Concurrency        int           `help:"The number of items to embed in parallel per request." env:"CONCURRENCY" default:"1"`
	EmbeddingCacheSize int           `help:"The number of embeddings to cache in memory, 0 to disable." env:"EMBEDDING_CACHE_SIZE" default:"10000"`
	RedisURL           string        `help:"The URL of a Redis server used to share cached embeddings, e.g. redis://localhost:6379/0." env:"REDIS_URL" default:""`
	RedisCacheTTL      time.Duration `help:"How long embeddings are kept in Redis." env:"REDIS_CACHE_TTL" default:"24h"`
	CORSAllowedOrigins string        `help:"Comma separated list of origins allowed to make cross-origin requests, * for all, empty to disable CORS." env:"CORS_ALLOWED_ORIGINS" default:""`
	MaxRequestBytes    int64         `help:"The maximum size of a request body." env:"MAX_REQUEST_BYTES" default:"1048576"`
	APIKeysFile        string        `help:"The file containing a JSON map of API keys to usernames, empty to disable authentication." env:"API_KEYS_FILE" default:""`
	Metrics            bool          `help:"Serve Prometheus metrics at /metrics." env:"METRICS" default:"true" negatable:""`
	TLSCertFile        string        `help:"The TLS certificate file." env:"TLS_CERT_FILE" default:""`
	TLSKeyFile         string        `help:"The TLS key file." env:"TLS_KEY_FILE" default:""`
	WarmupTimeout      time.Duration `help:"How long to wait for the embedding model to load." env:"WARMUP_TIMEOUT" default:"30s"`
	ShutdownTimeout    time.Duration `help:"How long to wait for in-flight requests on shutdown." env:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel           string        `help:"The log level to use." env:"LOG_LEVEL" default:"info"`
}

func (c ServeCommand) Run(ctx context.Context) (err error) {
	log := getLogger(c.LogLevel)

	strategy, err := rank.ParseStrategy(c.Strategy)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	var reg *prometheus.Registry
	if c.Metrics {
		m = metrics.New()
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if err = m.Register(reg); err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	cfg := embedder.Config{
		Provider:      embedder.Provider(c.EmbeddingProvider),
		Model:         c.EmbeddingModel,
		OllamaURL:     c.OllamaURL,
		OpenAIBaseURL: c.OpenAIBaseURL,
		OpenAIAPIKey:  c.OpenAIAPIKey,
		HTTPClient:    &http.Client{},
		CacheSize:     c.EmbeddingCacheSize,
	}
	if m != nil {
		cfg.Observer = m
	}
	if c.RedisURL != "" {
		log.Info("connecting to redis embedding cache")
		rs, err := embedder.NewRedisStore(c.RedisURL, "", c.RedisCacheTTL)
		if err != nil {
			return fmt.Errorf("failed to create redis cache: %w", err)
		}
		defer rs.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rs.Ping(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		cfg.Remote = rs
	}

	log.Info("creating embedder", slog.String("provider", c.EmbeddingProvider), slog.String("model", c.EmbeddingModel))
	emb, err := embedder.New(log, cfg)
	if err != nil {
		return fmt.Errorf("failed to create embedder: %w", err)
	}
	warmupCtx, cancel := context.WithTimeout(ctx, c.WarmupTimeout)
	dimensions, err := embedder.Warmup(warmupCtx, emb)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to load embedding model: %w", err)
	}
	log.Info("embedding model ready", slog.String("model", c.EmbeddingModel), slog.Int("dimensions", dimensions))

	ranker := rank.New(emb, rank.WithStrategy(strategy), rank.WithConcurrency(c.Concurrency))
	h, err := c.handler(log, ranker, m, reg)
	if err != nil {
		return err
	}

	s := &http.Server{
		Addr:              c.ListenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if c.TLSCertFile != "" && c.TLSKeyFile != "" {
		log.Info("Enabling TLS mode")
		var cert tls.Certificate
		cert, err = tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load cert: %w", err)
		}
		s.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		log.Info("Listening", slog.String("addr", c.ListenAddr), slog.String("strategy", string(strategy)))
		if s.TLSConfig != nil {
			errs <- s.ListenAndServeTLS("", "")
			return
		}
		errs <- s.ListenAndServe()
	}()

	select {
	case err = <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

func (c ServeCommand) handler(log *slog.Logger, ranker similaritypost.Ranker, m *metrics.Metrics, reg *prometheus.Registry) (http.Handler, error) {
	mux := http.NewServeMux()

	mux.Handle("GET /health", healthget.New(c.EmbeddingModel))

	var sph http.Handler = similaritypost.New(log, ranker, m, c.MaxRequestBytes)
	if c.APIKeysFile != "" {
		keys, err := auth.LoadFromFile(c.APIKeysFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load API keys: %w", err)
		}
		log.Info("API key authentication enabled", slog.Int("keys", len(keys)))
		sph = auth.New(log, keys, sph)
	}
	mux.Handle("POST /similarity", sph)

	if reg != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	var h http.Handler = middleware.Logging(log)(mux)
	if m != nil {
		h = middleware.HTTPMetrics(m)(h)
	}
	h = middleware.RequestID(h)
	return withCORS(c.CORSAllowedOrigins, h), nil
}

func withCORS(allowedOrigins string, next http.Handler) http.Handler {
	var origins []string
	for _, o := range strings.Split(allowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return next
	}
	opts := cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}
	if slices.Contains(origins, "*") {
		// Browsers reject a wildcard origin on credentialed requests, so the
		// request origin is echoed back instead.
		opts.AllowedOrigins = nil
		opts.AllowOriginFunc = func(origin string) bool { return true }
	}
	return cors.New(opts).Handler(next)
}
