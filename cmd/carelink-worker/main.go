package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"carelink/internal/amqp"
	"carelink/internal/cli"
	applog "carelink/internal/log"
	gsheet "carelink/internal/sheets/google"
	"carelink/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	logger.Info("Starting carelink-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	if err := cfg.ValidateExport(); err != nil {
		logger.Error("Export configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	loc := cfg.Location()
	exporter, err := gsheet.New(context.Background(), gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsFile: cfg.GoogleCredentialsFile,
		CredentialsJSON: cfg.GoogleCredentialsJSON,
		Location:        loc,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"sheet", cfg.GoogleSheetName)

	exportWorker := worker.NewExportWorker(repo, exporter, cfg.ExportBatchSize, loc)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	// Catch up on entries written while the worker was down.
	logger.Info("Performing startup export check...")
	if _, err := exportWorker.StartupExportCheck(ctx); err != nil {
		logger.Error("Failed startup export check", applog.FieldError, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// The periodic pass also covers changes missed while AMQP was unavailable.
	g.Go(func() error {
		if err := exportWorker.Run(gctx, cfg.ExportInterval); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("export loop: %w", err)
		}
		return nil
	})

	if cfg.AMQPURL != "" {
		// A durable queue keeps changes queued while the worker is down.
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPExportQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client, relying on periodic export", applog.FieldError, err)
		} else {
			defer client.Close()
			g.Go(func() error {
				if err := client.Consume(gctx, exportWorker.HandleEntriesChanged); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("consume entry changes: %w", err)
				}
				return nil
			})
			logger.Info("Consuming entry changes", "queue", cfg.AMQPExportQueue)
		}
	} else {
		logger.Info("AMQP_URL not set, exporting on interval only", "interval", cfg.ExportInterval)
	}

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		repo.Close()
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
