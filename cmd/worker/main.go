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

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/assembler"
	"github.com/reelsmith/reelsmith-backend/internal/audio"
	"github.com/reelsmith/reelsmith-backend/internal/data/repos/render"
	"github.com/reelsmith/reelsmith-backend/internal/db"
	"github.com/reelsmith/reelsmith-backend/internal/engines"
	"github.com/reelsmith/reelsmith-backend/internal/jobs"
	"github.com/reelsmith/reelsmith-backend/internal/moderation"
	"github.com/reelsmith/reelsmith-backend/internal/observability"
	"github.com/reelsmith/reelsmith-backend/internal/platform/drawing"
	"github.com/reelsmith/reelsmith-backend/internal/platform/envutil"
	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/platform/storage"
	"github.com/reelsmith/reelsmith-backend/internal/prompt"
	"github.com/reelsmith/reelsmith-backend/internal/queue"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
	"github.com/reelsmith/reelsmith-backend/internal/timeline"
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
		ServiceName: "reelsmith-worker",
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

	// Defaults and presets
	defaults, err := app.LoadDefaults(cfg.DefaultsPath)
	if err != nil {
		log.Fatal("loading defaults failed", "error", err)
	}
	presets, err := app.LoadPresets(cfg.PresetsPath)
	if err != nil {
		log.Fatal("loading presets failed", "error", err)
	}

	// Repos
	jobRepo := render.NewJobRepo(gdb, log)
	sceneRepo := render.NewSceneRepo(gdb, log)

	// Media toolchain
	media := localmedia.New(log)
	cards := drawing.NewCardRenderer(log)

	// Engines
	localEngine := engines.NewLocal(log, media, cards, defaults.Output.FPS)
	external := map[string]engines.Engine{
		engines.EngineRunway: engines.NewRunway(log, cfg.RunwayAPIKey, cfg.EngineTimeout),
		engines.EnginePika:   engines.NewPika(log, cfg.PikaAPIKey, cfg.EngineTimeout),
		engines.EngineLuma:   engines.NewLuma(log, cfg.LumaAPIKey, cfg.EngineTimeout),
	}
	var tracker *engines.HealthTracker
	if defaults.V2.EngineRotation.Enabled {
		tracker = engines.NewHealthTracker(
			time.Duration(defaults.V2.EngineRotation.WindowSeconds)*time.Second,
			defaults.V2.EngineRotation.FailureThreshold,
			defaults.V2.EngineRotation.MinAttempts,
		)
	}
	manager := engines.NewManager(log, engines.ManagerConfig{
		External: external,
		Local:    localEngine,
		APIKeys: map[string]string{
			engines.EngineRunway: cfg.RunwayAPIKey,
			engines.EnginePika:   cfg.PikaAPIKey,
			engines.EngineLuma:   cfg.LumaAPIKey,
		},
		Prompts:       prompt.NewBuilder(defaults),
		Presets:       presets,
		Defaults:      defaults,
		Validator:     engines.NewValidator(log, media),
		Tracker:       tracker,
		Concurrency:   cfg.SceneConcurrency,
		DefaultEngine: cfg.DefaultEngine,
		ResolveAsset: func(ctx context.Context, uri string) (string, error) {
			return store.LocalPath(ctx, storage.KeyFromURI(uri))
		},
	})

	// Audio chain
	synth := audio.NewSynthesizer(log, media, ttsProviders(log, cfg)...)
	voicePrep := audio.NewVoicePrep(log, media)
	musicPrep := audio.NewMusicPrep(log, media, envutil.Str("MUSIC_LIBRARY_DIR", "assets/music"))
	var transcriber audio.Transcriber
	if envutil.Bool("CAPTION_WORD_ALIGNMENT", false) {
		transcriber = audio.NewGCPTranscriber(log, media)
	}
	aligner := audio.NewAligner(log, transcriber)
	mixer := audio.NewMixer(log, media)

	// Assembly
	assemble := assembler.New(log, media, mixer)
	template := assembler.NewTemplateRenderer(log, media)

	// Image moderation for brand-safe jobs.
	var moderate jobs.ImageModerator
	if cfg.ModerationStrictness != "off" && envutil.Bool("IMAGE_MODERATION_ENABLED", false) {
		checker, err := moderation.NewSafeSearch(ctx, log, cfg.ModerationStrictness)
		if err != nil {
			log.Warn("image moderation unavailable, continuing without", "error", err)
		} else {
			defer checker.Close()
			moderate = checker
		}
	}

	runner := jobs.NewRunner(log, jobs.RunnerConfig{
		Jobs:     jobRepo,
		Scenes:   sceneRepo,
		Store:    store,
		Planner:  scenegraph.NewPlanner(log, presets),
		Builder:  timeline.NewBuilder(log, defaults.Transition.DefaultDurationMs),
		Manager:  manager,
		Assemble: assemble,
		Template: template,
		Synth:    synth,
		Voice:    voicePrep,
		Music:    musicPrep,
		Align:    aligner,
		Moderate: moderate,
		Presets:  presets,
		Defaults: defaults,
		WorkRoot: envutil.Str("WORK_ROOT", ""),
	})
	worker := jobs.NewWorker(log, q, jobRepo, runner)

	// Metrics endpoint for scrapes. The worker has no other HTTP surface.
	metricsSrv := &http.Server{
		Addr:              ":" + envutil.Str("METRICS_PORT", "9090"),
		Handler:           metricsHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		worker.Stop()
	}()
	if err := worker.Run(ctx); err != nil {
		log.Error("worker exited with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if shutdownOtel != nil {
		_ = shutdownOtel(shutdownCtx)
	}
}

// ttsProviders builds the synthesis chain in configured order. Providers
// without credentials are skipped; the synthesizer falls back to silence
// when the chain is empty or exhausted.
func ttsProviders(log *logger.Logger, cfg app.Config) []audio.Provider {
	build := func(name string) audio.Provider {
		switch name {
		case "elevenlabs":
			if cfg.ElevenLabsAPIKey != "" {
				return audio.NewElevenLabs(log, cfg.ElevenLabsAPIKey, cfg.TTSVoiceName)
			}
		case "openai":
			if cfg.OpenAIAPIKey != "" {
				return audio.NewOpenAISpeech(log, cfg.OpenAIAPIKey, cfg.TTSSpeed)
			}
		case "google":
			if cfg.GoogleTTSAPIKey != "" {
				return audio.NewGoogleTTS(log, cfg.GoogleTTSAPIKey)
			}
		}
		return nil
	}
	var out []audio.Provider
	seen := map[string]bool{}
	for _, name := range []string{cfg.TTSPrimaryProvider, cfg.TTSBackupProvider, "elevenlabs", "openai", "google"} {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if p := build(name); p != nil {
			out = append(out, p)
		}
	}
	return out
}

func metricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_ = observability.GetMetrics().WritePrometheus(w)
	})
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	return mux
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
