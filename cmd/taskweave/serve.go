package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/taskweave/taskweave/internal/ai"
	"github.com/taskweave/taskweave/internal/api"
	"github.com/taskweave/taskweave/internal/cache"
	"github.com/taskweave/taskweave/internal/config"
	"github.com/taskweave/taskweave/internal/embedding"
	"github.com/taskweave/taskweave/internal/interview"
	"github.com/taskweave/taskweave/internal/janitor"
	"github.com/taskweave/taskweave/internal/job"
	"github.com/taskweave/taskweave/internal/modblock"
	"github.com/taskweave/taskweave/internal/storage"
	"github.com/taskweave/taskweave/internal/storage/sqlite"
	"github.com/taskweave/taskweave/internal/vector"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the taskweave HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	index, err := vector.New(store.DB())
	if err != nil {
		return fmt.Errorf("creating vector index: %w", err)
	}

	var embedder embedding.Embedder
	if cfg.Embedding.BaseURL != "" {
		embedder = embedding.NewHTTPEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model)
	} else {
		embedder = embedding.NewHashEmbedder(cfg.Embedding.Dims)
		log.Infow("no embedding backend configured, using in-process hash embedder")
	}

	var responseCache ai.ResponseCache
	var cacheStore *cache.Store
	if cfg.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		exact, semantic, template := cfg.CacheTTLs()
		cacheCfg := cache.DefaultConfig()
		cacheCfg.ExactTTL = exact
		cacheCfg.SemanticTTL = semantic
		cacheCfg.TemplateTTL = template
		cacheCfg.SemanticThreshold = float32(cfg.Cache.SemanticThreshold)
		cacheStore, err = cache.New(rdb, index, embedder, cacheCfg, log)
		if err != nil {
			return fmt.Errorf("creating response cache: %w", err)
		}
		responseCache = cacheStore
	} else {
		log.Infow("response cache disabled by configuration")
	}

	retry := ai.DefaultRetryConfig()
	retry.MaxRetries = cfg.AI.MaxRetries
	retry.MaxConcurrentCalls = cfg.AI.MaxConcurrent
	retry.Timeout = time.Duration(cfg.AI.TimeoutSecs) * time.Second
	orchestrator, err := ai.New(&ai.Config{
		APIKey: cfg.AI.APIKey,
		Cache:  responseCache,
		Retry:  retry,
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	opener := storage.Opener(func(ctx context.Context) (storage.Storage, error) {
		return sqlite.New(cfg.Storage.Path)
	})
	jobs, err := job.NewManager(&job.Config{
		Store:   store,
		Open:    opener,
		Timeout: cfg.JobTimeout(),
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("creating job manager: %w", err)
	}

	ivCfg := interview.DefaultConfig()
	ivCfg.MaxQuestions = cfg.Interview.MaxQuestions
	interviews, err := interview.NewEngine(store, orchestrator, embedder, index, ivCfg, log)
	if err != nil {
		return fmt.Errorf("creating interview engine: %w", err)
	}

	blocker, err := modblock.New(store, embedder, index, 0, log)
	if err != nil {
		return fmt.Errorf("creating modification blocker: %w", err)
	}

	if cfg.Janitor.Enabled {
		jcfg := janitor.Config{
			StaleJobsSpec:  cfg.Janitor.StaleJobsSpec,
			CachePurgeSpec: cfg.Janitor.CachePurgeSpec,
			VacuumSpec:     cfg.Janitor.VacuumSpec,
			StaleAfter:     time.Duration(cfg.Janitor.StaleJobMinutes) * time.Minute,
		}
		jan, err := janitor.New(store, cacheStore, store, jcfg, log)
		if err != nil {
			return fmt.Errorf("creating janitor: %w", err)
		}
		if err := jan.Start(); err != nil {
			return fmt.Errorf("starting janitor: %w", err)
		}
		defer jan.Stop()
	}

	handler := api.NewAppHandler(api.AppDeps{
		Store:      store,
		Jobs:       jobs,
		Interviews: interviews,
		Blocker:    blocker,
		Logger:     log,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("taskweave listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		log.Infow("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown failed", "error", err)
	}
	jobs.Wait()
	return nil
}

func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zcfg := zap.NewProductionConfig()
	if !cfg.JSON {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
