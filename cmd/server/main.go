package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openai/openai-go/option"
	"golang.org/x/sync/errgroup"

	"github.com/yangwenmai/retromag/internal/api"
	"github.com/yangwenmai/retromag/internal/config"
	"github.com/yangwenmai/retromag/internal/gateway"
	"github.com/yangwenmai/retromag/internal/logger"
	"github.com/yangwenmai/retromag/internal/orchestrator"
	"github.com/yangwenmai/retromag/internal/session"
	"github.com/yangwenmai/retromag/internal/store"
	"github.com/yangwenmai/retromag/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "retromag: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	gen, closeGen, err := openGenerator(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeGen()

	gw := gateway.New(gen,
		gateway.WithRetryPolicy(gateway.RetryPolicy{Attempts: cfg.RetryAttempts, BaseDelay: cfg.RetryBaseDelay}),
		gateway.WithLogger(log.With("component", "gateway")),
	)
	sess := session.New(gw, store.New(backend),
		session.WithLogger(log.With("component", "session")),
		session.WithOrchestratorOptions(orchestrator.WithPacing(cfg.PacingDelay)),
	)
	jobs := worker.New(log.With("component", "worker"), 16)

	if cfg.LogMode == "prod" || cfg.LogMode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := api.New(sess, jobs,
		api.WithLogger(log.With("component", "api")),
		api.WithCORSOrigin(cfg.CORSOrigin),
	)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		jobs.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("retromag server listening", "addr", "http://localhost:"+cfg.Port,
			"storage", cfg.Storage, "provider", cfg.LLMProvider)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStorage(ctx context.Context, cfg config.Config, log *logger.Logger) (store.Backend, error) {
	switch cfg.Storage {
	case "redis":
		b, err := store.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return nil, fmt.Errorf("open redis: %w", err)
		}
		log.Info("using redis storage", "addr", cfg.RedisAddr)
		return b, nil
	case "sqlite", "":
		db, err := store.OpenSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		b, err := store.NewSQLite(db)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("init store: %w", err)
		}
		log.Info("using sqlite storage", "path", cfg.DBPath)
		return b, nil
	}
	return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

func openGenerator(ctx context.Context, cfg config.Config, log *logger.Logger) (gateway.Backend, func(), error) {
	noop := func() {}
	if cfg.UseStubs() {
		log.Warn("no API key for provider, using stub generator", "provider", cfg.LLMProvider)
		return gateway.StubBackend{}, noop, nil
	}
	switch cfg.LLMProvider {
	case "openai":
		log.Info("using OpenAI generator", "model", cfg.OpenAIModel, "image_model", cfg.OpenAIImageModel)
		return gateway.NewOpenAIBackend(cfg.OpenAIKey,
			gateway.WithModel(cfg.OpenAIModel),
			gateway.WithImageModel(cfg.OpenAIImageModel),
			gateway.WithBaseURL(cfg.OpenAIBaseURL),
			gateway.WithRequestOptions(option.WithRequestTimeout(cfg.HTTPTimeout)),
		), noop, nil
	case "gemini", "":
		b, err := gateway.NewGeminiBackend(ctx, cfg.GeminiKey,
			gateway.WithGeminiModels(cfg.GeminiModel, cfg.GeminiDeepModel),
			gateway.WithImagenModel(cfg.ImagenModel),
			gateway.WithGeminiTimeout(cfg.HTTPTimeout),
		)
		if err != nil {
			return nil, noop, fmt.Errorf("init gemini: %w", err)
		}
		log.Info("using Gemini generator", "model", cfg.GeminiModel, "image_model", cfg.ImagenModel)
		return b, func() { b.Close() }, nil
	}
	return nil, noop, fmt.Errorf("unknown provider %q", cfg.LLMProvider)
}
