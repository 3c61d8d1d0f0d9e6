package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"carelink/internal/adapters"
	"carelink/internal/backend"
	"carelink/internal/cache"
	"carelink/internal/cli"
	apphttp "carelink/internal/http"
	applog "carelink/internal/log"
	"carelink/internal/services"
	"carelink/internal/storage"
	"carelink/internal/summary"
)

const (
	shutdownTimeout      = 30 * time.Second
	cacheCleanupInterval = time.Minute
	sessionPurgeInterval = time.Hour
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)
	cli.LogStartup(logger, "carelink", cfg)

	backendConfig, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).
		CreateBackend(context.Background(), backendConfig)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	loc := cfg.Location()
	care := services.NewCareGroupService(result.Store, cfg.SessionTTL)
	journal := services.NewJournalService(result.Store, result.Notifier, loc, logger)

	var summarizer services.Summarizer
	if cfg.GeminiAPIKey != "" {
		client := summary.NewClient(cfg.GeminiAPIKey,
			summary.WithModel(cfg.GeminiModel),
			summary.WithBaseURL(cfg.GeminiBaseURL))
		logger.Info("Summaries enabled", "model", client.Model())
		summarizer = client
	} else {
		logger.Warn("GEMINI_API_KEY not set, summaries are disabled")
	}
	reports := services.NewReportService(result.Store, summarizer, cfg.SummaryMaxAttempts, loc, logger)

	photos, err := storage.NewPhotoStore(cfg.MediaDir)
	if err != nil {
		logger.Error("Failed to initialize photo store", applog.FieldError, err, "dir", cfg.MediaDir)
		os.Exit(1)
	}

	caches := cache.NewManager()
	caches.Register(journal.Cache())
	caches.StartCleanup(cacheCleanupInterval)

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Care:               care,
		Journal:            journal,
		Reports:            reports,
		Photos:             photos,
		Broker:             result.Broker,
		Ready:              result.Store.Ping,
		Logger:             logger,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	shutdownServer := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
	}
	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, shutdownServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// A failing sibling stops the server too.
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() == nil {
			shutdownServer()
		}
		return nil
	})

	if result.AMQP != nil {
		bridge := adapters.NewChangeBridge(journal, result.Broker)
		g.Go(func() error {
			if err := result.AMQP.Consume(gctx, bridge.Handle); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("consume entry changes: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(sessionPurgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				n, err := care.PurgeExpiredSessions(gctx)
				if err != nil {
					logger.Error("Session purge failed", applog.FieldError, err)
					continue
				}
				if n > 0 {
					logger.Info("Expired sessions purged", "count", n)
				}
			}
		}
	})

	runErr := g.Wait()
	if runErr == nil {
		cli.WaitForShutdown(ctx, done)
	}

	caches.Stop()
	if err := result.Cleanup(); err != nil {
		logger.Error("Backend cleanup failed", applog.FieldError, err)
	}

	if runErr != nil {
		logger.Error("Server stopped with error", applog.FieldError, runErr)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
