package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"scontrino/internal/amqp"
	"scontrino/internal/config"
	"scontrino/internal/log"
	"scontrino/internal/ocr"
	"scontrino/internal/sheets"
	gsheet "scontrino/internal/sheets/google"
	mem "scontrino/internal/sheets/memory"
	"scontrino/internal/storage"
	"scontrino/internal/worker"
)

func main() {
	// Load .env for local development; in containers config comes from
	// the environment.
	_ = godotenv.Load()

	logger := log.New(log.Config{
		Level:     log.LevelFromEnv(),
		Component: log.ComponentWorker,
	})
	log.SetDefault(logger)

	logger.Info("Starting scontrino-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required for the worker")
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	images, err := storage.NewImageStore(cfg.ImageDir)
	if err != nil {
		logger.Error("Failed to initialize image store", "error", err, "dir", cfg.ImageDir)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.ScanQueue, cfg.ExportQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	// Scan jobs need Gemini. Without a key the worker still runs the
	// export side so saved receipts keep flowing to the sheet.
	var scanWorker *worker.ScanWorker
	if cfg.GeminiAPIKey != "" {
		opts := []ocr.GeminiOption{}
		if cats, err := repo.ListCategories(context.Background()); err == nil && len(cats) > 0 {
			names := make([]string, 0, len(cats))
			for _, c := range cats {
				names = append(names, c.Name)
			}
			opts = append(opts, ocr.WithCategories(names))
		}
		extractor, err := ocr.NewGeminiExtractor(cfg.GeminiAPIKey, cfg.GeminiModel,
			logger.WithComponent(log.ComponentOCR), opts...)
		if err != nil {
			logger.Error("Failed to initialize Gemini extractor", "error", err)
			os.Exit(1)
		}
		scanWorker = worker.NewScanWorker(repo, images, extractor)
		logger.Info("Gemini extractor initialized", "model", cfg.GeminiModel)
	} else {
		logger.Warn("Gemini disabled - scan jobs will not be consumed")
	}

	var appender sheets.ReceiptAppender
	if cfg.GoogleSpreadsheetID != "" {
		client, err := gsheet.NewClient(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", "error", err)
			os.Exit(1)
		}
		appender = client
		logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		appender = mem.New()
		logger.Info("Google Sheets disabled - exporting to in-memory store")
	}

	exportWorker := worker.NewExportWorker(repo, appender, cfg.ExportBatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Catch up on receipts saved while the worker was down before
	// consuming live messages.
	if err := exportWorker.StartupExportCheck(ctx); err != nil {
		logger.Error("Startup export check failed", "error", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	if scanWorker != nil {
		g.Go(func() error {
			err := amqpClient.ConsumeScanJobs(ctx, scanWorker.HandleScanJob)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		err := amqpClient.ConsumeExportJobs(ctx, exportWorker.HandleExportJob)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		exportWorker.RunPeriodic(ctx, cfg.ExportInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
