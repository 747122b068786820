package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/data/repos/render"
	"github.com/reelsmith/reelsmith-backend/internal/db"
	"github.com/reelsmith/reelsmith-backend/internal/handlers"
	"github.com/reelsmith/reelsmith-backend/internal/middleware"
	"github.com/reelsmith/reelsmith-backend/internal/observability"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/platform/storage"
	"github.com/reelsmith/reelsmith-backend/internal/queue"
	"github.com/reelsmith/reelsmith-backend/internal/server"
)

func main() {
	cfg := app.LoadConfig()

	log, err := logger.New(cfg.Mode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "reelsmith-api",
		Environment: cfg.Mode,
		Enabled:     cfg.TracingEnabled,
		Exporter:    cfg.TracingExporter,
	})

	// Database
	dbService, err := db.NewService(log, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database init failed", "error", err)
	}
	if err := dbService.AutoMigrateAll(); err != nil {
		log.Fatal("auto migration failed", "error", err)
	}
	gdb := dbService.DB()

	// Storage
	store, err := buildStore(ctx, log, cfg)
	if err != nil {
		log.Fatal("storage init failed", "error", err)
	}

	// Queue
	q, err := queue.NewRedis(log, cfg.RedisAddr)
	if err != nil {
		log.Fatal("queue init failed", "error", err)
	}
	defer q.Close()

	// Presets
	defaults, err := app.LoadDefaults(cfg.DefaultsPath)
	if err != nil {
		log.Fatal("loading defaults failed", "error", err)
	}
	presets, err := app.LoadPresets(cfg.PresetsPath)
	if err != nil {
		log.Fatal("loading presets failed", "error", err)
	}
	log.Info("presets loaded", "count", len(presets))

	// Repos
	jobRepo := render.NewJobRepo(gdb, log)
	sceneRepo := render.NewSceneRepo(gdb, log)

	// Middleware + handlers
	authMiddleware := middleware.NewAuthMiddleware(log, cfg.APIKey, cfg.APIKeyHash, cfg.JWTSecret)
	jobHandler := handlers.NewJobHandler(log, jobRepo, sceneRepo, store, q, presets, authMiddleware)
	assetHandler := handlers.NewAssetHandler(log, store, defaults)
	presetHandler := handlers.NewPresetHandler(log, presets)

	ginMode := "debug"
	if strings.HasPrefix(cfg.Mode, "prod") {
		ginMode = "release"
	}
	router := server.NewRouter(server.RouterConfig{
		Mode:           ginMode,
		AuthMiddleware: authMiddleware,
		JobHandler:     jobHandler,
		AssetHandler:   assetHandler,
		PresetHandler:  presetHandler,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("api listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", "error", err)
	}
	if shutdownOtel != nil {
		_ = shutdownOtel(shutdownCtx)
	}
}

func buildStore(ctx context.Context, log *logger.Logger, cfg app.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case "gcs":
		if cfg.GCSBucketName == "" {
			return nil, errors.New("GCS_BUCKET_NAME is required for gcs storage")
		}
		return storage.NewGCS(ctx, log, cfg.GCSBucketName)
	default:
		return storage.NewFS(log, cfg.StorageRoot)
	}
}
