package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"scontrino/internal/amqp"
	"scontrino/internal/auth"
	"scontrino/internal/config"
	"scontrino/internal/core"
	apphttp "scontrino/internal/http"
	"scontrino/internal/log"
	"scontrino/internal/ocr"
	"scontrino/internal/storage"
	"scontrino/internal/workspace"
)

// publishingSink saves receipts and hands them to the export queue. A
// failed publish is not an error: the worker's periodic catch-up picks
// the receipt up from the pending_export flag.
type publishingSink struct {
	store     *storage.SQLiteRepository
	publisher *amqp.Client
	logger    *log.Logger
}

func (s *publishingSink) SaveReceipt(ctx context.Context, r *core.Receipt) (string, error) {
	id, err := s.store.SaveReceipt(ctx, r)
	if err != nil {
		return "", err
	}
	if s.publisher != nil {
		if err := s.publisher.PublishExportJob(ctx, id); err != nil {
			s.logger.Warn("Failed to publish export job, periodic sync will retry",
				log.FieldReceiptID, id, "error", err)
		}
	}
	return id, nil
}

func main() {
	// Load .env for local development; in containers config comes from
	// the environment.
	_ = godotenv.Load()

	logger := log.New(log.Config{
		Level:     log.LevelFromEnv(),
		Component: log.ComponentApp,
	})
	log.SetDefault(logger)

	logger.Info("Starting scontrino server")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	if cfg.JWTSecret == "" {
		logger.Error("JWT_SECRET is required for the API server")
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

	// AMQP is optional: without a broker scans are extracted inline and
	// exports are picked up by the worker's periodic sweep.
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.ScanQueue, cfg.ExportQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
	} else {
		logger.Info("AMQP disabled - no AMQP_URL provided, OCR runs inline")
	}

	var extractor ocr.Extractor
	if cfg.GeminiAPIKey != "" {
		opts := []ocr.GeminiOption{}
		if cats, err := repo.ListCategories(context.Background()); err == nil && len(cats) > 0 {
			names := make([]string, 0, len(cats))
			for _, c := range cats {
				names = append(names, c.Name)
			}
			opts = append(opts, ocr.WithCategories(names))
		}
		extractor, err = ocr.NewGeminiExtractor(cfg.GeminiAPIKey, cfg.GeminiModel,
			logger.WithComponent(log.ComponentOCR), opts...)
		if err != nil {
			logger.Error("Failed to initialize Gemini extractor", "error", err)
			os.Exit(1)
		}
		logger.Info("Gemini extractor initialized", "model", cfg.GeminiModel)
	} else {
		logger.Warn("Gemini disabled - scans will fail unless a worker handles them")
	}

	sink := &publishingSink{
		store:     repo,
		publisher: amqpClient,
		logger:    logger.WithComponent(log.ComponentStorage),
	}

	sessions := workspace.NewManager(repo, sink,
		workspace.WithSessionTTL(cfg.WorkspaceTTL),
		workspace.WithManagerLogger(logger.WithComponent(log.ComponentWorkspace)))

	deps := apphttp.Deps{
		Categories: repo,
		Scans:      repo,
		Receipts:   repo,
		Images:     images,
		Sessions:   sessions,
		Sink:       sink,
		Extractor:  extractor,
		JWT:        auth.NewJWTManager(cfg.JWTSecret, 24*time.Hour),
	}
	if amqpClient != nil {
		deps.Publisher = amqpClient
	}

	srv := apphttp.NewServer(":"+cfg.Port, deps)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sessions.RunSweeper(ctx, time.Minute)
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
	logger.Info("Server stopped gracefully")
}
