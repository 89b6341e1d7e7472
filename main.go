package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/echointellect/rag/internal/chain"
	"github.com/echointellect/rag/internal/circuitbreaker"
	"github.com/echointellect/rag/internal/config"
	"github.com/echointellect/rag/internal/embeddings"
	"github.com/echointellect/rag/internal/health"
	"github.com/echointellect/rag/internal/httpapi"
	"github.com/echointellect/rag/internal/ingest"
	"github.com/echointellect/rag/internal/llm"
	"github.com/echointellect/rag/internal/memory"
	"github.com/echointellect/rag/internal/prompts"
	"github.com/echointellect/rag/internal/queryproc"
	"github.com/echointellect/rag/internal/rerank"
	"github.com/echointellect/rag/internal/retrieval"
	"github.com/echointellect/rag/internal/store"
	"github.com/echointellect/rag/internal/tokenizer"
	"github.com/echointellect/rag/internal/tracing"
	"github.com/echointellect/rag/internal/vectordb"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "rag-server",
		OTLPEndpoint: cfg.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without", zap.Error(err))
	}

	circuitbreaker.StartMetricsCollection()

	ctx := context.Background()

	// Metadata store.
	metaStore, err := store.NewClient(store.Config{URL: cfg.DatabaseURL}, logger)
	if err != nil {
		logger.Fatal("Metadata store connection failed", zap.Error(err))
	}
	defer metaStore.Close()
	if err := metaStore.EnsureSchema(ctx); err != nil {
		logger.Fatal("Schema migration failed", zap.Error(err))
	}

	// Embedding cache: always a local LRU, plus Redis when configured.
	var embedCache embeddings.Cache = embeddings.NewLocalLRU(0)
	var redisCache *embeddings.RedisCache
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		redisCache = embeddings.NewRedisCache(rdb, 24*time.Hour, logger)
		embedCache = embeddings.NewTiered(embeddings.NewLocalLRU(0), redisCache)
	}

	embedder := embeddings.NewClient(embeddings.Config{
		BaseURL: cfg.EmbeddingBaseURL,
		Model:   cfg.EmbeddingModel,
	}, embedCache, logger)

	vdb := vectordb.NewClient(vectordb.Config{
		BaseURL:    cfg.VectorDBURL,
		Collection: cfg.VectorCollection,
	}, logger)

	// The vector collection needs the model's dimension; probe it once at
	// startup. A failure here is survivable, retrieval degrades to lexical.
	if dim, err := embedder.Dimension(ctx); err != nil {
		logger.Warn("Embedding dimension probe failed", zap.Error(err))
	} else if err := vdb.EnsureCollection(ctx, dim); err != nil {
		logger.Warn("Vector collection setup failed", zap.Error(err))
	}

	// Retrieval pipeline.
	dense := retrieval.NewDense(embedder, vdb, metaStore, logger)
	lexical := retrieval.NewLexical(metaStore, logger)
	hybrid := retrieval.NewHybrid(dense, lexical, logger)
	pool := retrieval.NewPool(3)
	defer pool.Close()
	fanout := retrieval.NewParallel(hybrid, pool, logger)

	scorer := rerank.NewClient(rerank.Config{
		BaseURL:  cfg.RerankBaseURL,
		Endpoint: cfg.RerankEndpoint,
		Model:    cfg.RerankModel,
		APIKey:   cfg.RerankAPIKey,
	}, logger)
	reranker := retrieval.NewReranker(scorer, cfg.RerankWeight, logger)

	counter := tokenizer.New(logger)
	filter := retrieval.NewFilter(counter, logger)

	// Conversation memory backed by the durable store.
	conversations := memory.New(metaStore, cfg.MaxHistoryLength, cfg.SessionTimeout, logger)
	defer conversations.Close()

	completer := llm.NewClient(llm.Config{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
	}, logger)

	optimizer := queryproc.NewOptimizer(completer, 3, logger)
	expander := queryproc.NewExpander(completer, cfg.VariantCount, logger)

	ragChain := chain.New(optimizer, expander, fanout, reranker, filter, conversations, completer, chain.Defaults{
		MaxTokens: cfg.MaxTokensLimit,
		Threshold: cfg.RelevanceThreshold,
		TopK:      cfg.TopK,
	}, logger)

	// Hot-reloadable tuning.
	tuningPath := os.Getenv("CONFIG_PATH")
	if tuningPath == "" {
		tuningPath = "./config/tuning.yaml"
	}
	watcher, err := config.NewWatcher(tuningPath, logger)
	if err != nil {
		logger.Warn("Tuning watcher unavailable", zap.Error(err))
	} else {
		watcher.OnChange(func(t config.Tuning) {
			ragChain.SetDefaults(chain.Defaults{
				MaxTokens: t.Filter.MaxTokens,
				Threshold: t.Retrieval.RelevanceThreshold,
				TopK:      t.Retrieval.TopK,
			})
		})
		if err := watcher.Start(); err != nil {
			logger.Warn("Tuning watch failed to start", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	importer := ingest.NewImporter(metaStore, vdb, embedder, counter, ingest.Config{}, logger)

	// Health surface.
	checks := health.NewManager(5*time.Second, logger)
	checks.Register(health.CheckerFunc{
		ComponentName: "retrieval_chain",
		Vital:         true,
		Probe: func(ctx context.Context) error {
			if err := metaStore.Ping(ctx); err != nil {
				return fmt.Errorf("metadata store: %w", err)
			}
			return vdb.Healthy(ctx)
		},
	})
	checks.Register(health.CheckerFunc{
		ComponentName: "llm",
		Vital:         true,
		Probe: func(ctx context.Context) error {
			if cfg.LLMAPIKey == "" {
				return fmt.Errorf("LLM_API_KEY not configured")
			}
			return nil
		},
	})
	checks.Register(health.CheckerFunc{
		ComponentName: "config",
		Vital:         false,
		Probe:         func(ctx context.Context) error { return cfg.Validate() },
	})
	checks.Register(health.CheckerFunc{
		ComponentName: "embeddings",
		Vital:         false,
		Probe:         embedder.Healthy,
	})
	if redisCache != nil {
		checks.Register(health.CheckerFunc{
			ComponentName: "redis",
			Vital:         false,
			Probe:         redisCache.Ping,
		})
	}

	// Main API surface.
	mux := http.NewServeMux()
	httpapi.NewQueryHandler(ragChain, logger).RegisterRoutes(mux)
	httpapi.NewImportHandler(importer, cfg.DataDir, cfg.DatasetName, logger).RegisterRoutes(mux)
	checks.RegisterRoutes(mux)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	// Admin surface: metrics plus the same health endpoint.
	adminMux := http.NewServeMux()
	adminMux.Handle("/metrics", promhttp.Handler())
	checks.RegisterRoutes(adminMux)
	adminServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AdminPort),
		Handler: adminMux,
	}

	go func() {
		logger.Info("Admin server listening", zap.Int("port", cfg.AdminPort))
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Admin server failed", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("API server listening",
			zap.Int("port", cfg.Port),
			zap.String("template_default", prompts.TemplateBasic),
		)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", zap.Error(err))
		}
	}()

	// Resume chunks left unprocessed by an earlier run.
	go func() {
		resumeCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
		defer cancel()
		if pending, err := metaStore.CountPending(resumeCtx, ""); err == nil && pending > 0 {
			logger.Info("Resuming unfinished ingestion", zap.Int("pending_chunks", pending))
			if _, err := importer.ImportDirectory(resumeCtx, cfg.DataDir, cfg.DatasetName); err != nil {
				logger.Error("Ingestion resume failed", zap.Error(err))
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown", zap.Error(err))
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Admin server shutdown", zap.Error(err))
	}
	if redisCache != nil {
		_ = redisCache.Close()
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Trace flush failed", zap.Error(err))
	}
}
