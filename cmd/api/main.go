package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/babl-app/babl/internal/auth"
	"github.com/babl-app/babl/internal/config"
	"github.com/babl-app/babl/internal/events"
	"github.com/babl-app/babl/internal/handlers"
	"github.com/babl-app/babl/internal/imageproc"
	"github.com/babl-app/babl/internal/imageproc/vips"
	"github.com/babl-app/babl/internal/images"
	"github.com/babl-app/babl/internal/logging"
	"github.com/babl-app/babl/internal/storage"
	"github.com/babl-app/babl/internal/users"
	"github.com/babl-app/babl/models"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx := context.Background()

	db, err := openDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(models.All()...); err != nil {
			return fmt.Errorf("failed to auto migrate models: %w", err)
		}
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to set up storage: %w", err)
	}

	opts := imageproc.Options{Scale: cfg.Images.Scale, Quality: cfg.Images.Quality}
	var compressor imageproc.Compressor = imageproc.NewImaging(opts)
	if cfg.Images.Processor == "vips" {
		compressor = vips.New(opts)
	}

	publisher := events.NewPublisher(cfg.Kafka, logger)
	defer publisher.Close()

	imageService := images.NewService(db, store, compressor, publisher, logger)
	userService := users.NewService(db, imageService, publisher, logger)

	// OAUTH
	sessionStore := auth.NewSessionStore(cfg.Auth)
	if !auth.SetupProviders(cfg.Auth, sessionStore) {
		logger.Info("no oauth providers configured")
	}

	h := &handlers.Handler{
		DB:             db,
		Images:         imageService,
		Users:          userService,
		Store:          store,
		Tokens:         auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Sessions:       sessionStore,
		Events:         publisher,
		Validate:       validator.New(),
		Logger:         logger,
		MaxUploadBytes: cfg.Images.MaxUploadBytes,
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handlers.NewRouter(h, cfg.RateLimit),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting API server",
			zap.String("addr", srv.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("processor", cfg.Images.Processor))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// openDB connects to Postgres, retrying with exponential backoff while the
// database comes up.
func openDB(cfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var db *gorm.DB
	connect := func() error {
		var err error
		db, err = gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
			Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
			TranslateError: true,
		})
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		return sqlDB.Ping()
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("database not ready, retrying", zap.Duration("wait", wait), zap.Error(err))
	}

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectRetries)
	if err := backoff.RetryNotify(connect, b, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
