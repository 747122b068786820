package engines

import "context"

// Engine names.
const (
	EngineRunway = "runway"
	EnginePika   = "pika"
	EngineLuma   = "luma"
	EngineLocal  = "local"
)

// Error codes carried on failed Results. None of these are fatal to a job;
// each triggers the next fallback level.
const (
	ErrMissingAPIKey       = "missingApiKey"
	ErrModerationRejection = "moderationRejection"
	ErrRateLimited         = "rateLimited"
	ErrTimeout             = "timeout"
	ErrAPIError            = "apiError"
	ErrValidation          = "validationFailed"
)

// Request is a single clip generation order. OutputDir is where the engine
// writes the downloaded or rendered file.
type Request struct {
	SceneID         int
	Prompt          string
	DurationSeconds float64
	Width           int
	Height          int
	ImagePath       string
	Seed            int64
	StyleHints      map[string]string
	OutputDir       string
}

// Result is the only way failure leaves an engine. Engines never panic or
// return errors past their boundary.
type Result struct {
	Success           bool
	ClipPath          string
	ErrorCode         string
	Message           string
	ModerationFlagged bool
	RateLimited       bool
}

func failure(code, message string) Result {
	return Result{
		Success:           false,
		ErrorCode:         code,
		Message:           message,
		ModerationFlagged: code == ErrModerationRejection,
		RateLimited:       code == ErrRateLimited,
	}
}

// Engine is the provider capability. Implementations are independently
// swappable; the manager's control flow never special-cases a provider.
type Engine interface {
	Name() string
	Generate(ctx context.Context, req Request) Result
	HealthCheck(ctx context.Context) error
	MaxDurationSeconds() float64
	SupportsImageInput() bool
}
