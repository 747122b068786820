package app

import (
	"time"

	"github.com/reelsmith/reelsmith-backend/internal/platform/envutil"
)

// Config carries every environment-driven setting for both the API server
// and the render worker. YAML-driven defaults and presets live in presets.go.
type Config struct {
	Mode string
	Port string

	DatabaseURL string
	RedisAddr   string

	StorageBackend string // "fs" | "gcs"
	StorageRoot    string
	GCSBucketName  string

	APIKey     string
	APIKeyHash string
	JWTSecret  string

	DefaultsPath string
	PresetsPath  string

	// Scene fan-out and engine deadlines.
	SceneConcurrency int
	EngineTimeout    time.Duration

	DefaultEngine string

	// TTS chain.
	TTSPrimaryProvider string
	TTSBackupProvider  string
	TTSVoiceName       string
	TTSSpeed           float64
	TTSOutputFormat    string

	// Engine credentials. Empty means the engine is excluded from the
	// fallback chain.
	RunwayAPIKey     string
	PikaAPIKey       string
	LumaAPIKey       string
	ElevenLabsAPIKey string
	OpenAIAPIKey     string
	GoogleTTSAPIKey  string

	ModerationStrictness string // strict | standard | off

	TracingEnabled  bool
	TracingExporter string // "stdout" | "otlp"
}

func LoadConfig() Config {
	return Config{
		Mode: envutil.Str("APP_MODE", "dev"),
		Port: envutil.Str("PORT", "8080"),

		DatabaseURL: envutil.Str("DATABASE_URL", "file:reelsmith.db?cache=shared"),
		RedisAddr:   envutil.Str("REDIS_ADDR", "localhost:6379"),

		StorageBackend: envutil.Str("STORAGE_BACKEND", "fs"),
		StorageRoot:    envutil.Str("STORAGE_ROOT", "storage"),
		GCSBucketName:  envutil.Str("GCS_BUCKET_NAME", ""),

		APIKey:     envutil.Str("API_KEY", ""),
		APIKeyHash: envutil.Str("API_KEY_HASH", ""),
		JWTSecret:  envutil.Str("JWT_SECRET", ""),

		DefaultsPath: envutil.Str("DEFAULTS_PATH", "configs/defaults.yaml"),
		PresetsPath:  envutil.Str("PRESETS_PATH", "configs/presets.yaml"),

		SceneConcurrency: envutil.Int("SCENE_CONCURRENCY", 3),
		EngineTimeout:    envutil.Duration("ENGINE_TIMEOUT", 60*time.Second),

		DefaultEngine: envutil.Str("DEFAULT_ENGINE", "runway"),

		TTSPrimaryProvider: envutil.Str("TTS_PRIMARY_PROVIDER", "elevenlabs"),
		TTSBackupProvider:  envutil.Str("TTS_BACKUP_PROVIDER", "openai"),
		TTSVoiceName:       envutil.Str("TTS_VOICE_NAME", "default"),
		TTSSpeed:           envutil.Float("TTS_SPEED", 1.0),
		TTSOutputFormat:    envutil.Str("TTS_OUTPUT_FORMAT", "mp3"),

		RunwayAPIKey:     envutil.Str("RUNWAY_API_KEY", ""),
		PikaAPIKey:       envutil.Str("PIKA_API_KEY", ""),
		LumaAPIKey:       envutil.Str("LUMA_API_KEY", ""),
		ElevenLabsAPIKey: envutil.Str("ELEVENLABS_API_KEY", ""),
		OpenAIAPIKey:     envutil.Str("OPENAI_API_KEY", ""),
		GoogleTTSAPIKey:  envutil.Str("GOOGLE_TTS_API_KEY", ""),

		ModerationStrictness: envutil.Str("CONTENT_MODERATION_STRICTNESS", "standard"),

		TracingEnabled:  envutil.Bool("TRACING_ENABLED", false),
		TracingExporter: envutil.Str("TRACING_EXPORTER", "stdout"),
	}
}
