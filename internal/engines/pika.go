package engines

import (
	"context"
	"fmt"
	"time"

	"github.com/reelsmith/reelsmith-backend/internal/platform/envutil"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const pikaMaxDurationSec = 10.0

type pikaEngine struct {
	httpProvider
	baseURL string
}

// NewPika builds the Pika stylized-video client.
func NewPika(log *logger.Logger, apiKey string, deadline time.Duration) Engine {
	return &pikaEngine{
		httpProvider: newHTTPProvider(
			log.With("engine", EnginePika),
			apiKey,
			deadline,
			4*time.Second,
			8*time.Second,
		),
		baseURL: envutil.Str("PIKA_BASE_URL", "https://api.pika.art/v1"),
	}
}

func (e *pikaEngine) Name() string                { return EnginePika }
func (e *pikaEngine) MaxDurationSeconds() float64 { return pikaMaxDurationSec }
func (e *pikaEngine) SupportsImageInput() bool    { return true }

func (e *pikaEngine) HealthCheck(ctx context.Context) error {
	if e.apiKey == "" {
		return fmt.Errorf("pika: no API key configured")
	}
	status, err := e.getJSON(ctx, e.baseURL+"/me", e.headers(), nil)
	if err != nil {
		return fmt.Errorf("pika health check: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("pika health check: status %d", status)
	}
	return nil
}

func (e *pikaEngine) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.apiKey}
}

type pikaSubmitResponse struct {
	VideoID string `json:"video_id"`
	ID      string `json:"id"`
}

type pikaStatusResponse struct {
	Status   string `json:"status"`
	VideoURL string `json:"video_url"`
	Error    string `json:"error"`
}

func (e *pikaEngine) Generate(ctx context.Context, req Request) Result {
	if e.apiKey == "" {
		return failure(ErrMissingAPIKey, "pika API key not configured")
	}

	payload := map[string]interface{}{
		"prompt":       req.Prompt,
		"duration":     int(clampDuration(req.DurationSeconds, pikaMaxDurationSec)),
		"aspect_ratio": "9:16",
	}
	if req.ImagePath != "" {
		payload["image"] = req.ImagePath
	}
	if req.Seed != 0 {
		payload["seed"] = req.Seed
	}
	if len(req.StyleHints) > 0 {
		payload["style"] = req.StyleHints
	}

	var submitted pikaSubmitResponse
	if r := e.postJSON(ctx, e.baseURL+"/videos", e.headers(), payload, &submitted); r != nil {
		return *r
	}
	generationID := firstNonEmpty(submitted.VideoID, submitted.ID)
	if generationID == "" {
		return failure(ErrAPIError, "pika returned no generation id")
	}

	state, failed := e.pollUntilDone(ctx, func(ctx context.Context) (pollState, int, error) {
		var st pikaStatusResponse
		status, err := e.getJSON(ctx, fmt.Sprintf("%s/videos/%s", e.baseURL, generationID), e.headers(), &st)
		if err != nil || status >= 400 {
			return pollState{}, status, err
		}
		ps := pollState{FailureReason: st.Error}
		switch st.Status {
		case "completed", "succeeded", "finished":
			ps.Done = true
			ps.DownloadURL = st.VideoURL
		case "failed", "error":
			ps.Failed = true
			ps.ModerationFlagged = looksLikeModeration(st.Error)
		}
		return ps, status, nil
	})
	if failed != nil {
		return *failed
	}
	if state.DownloadURL == "" {
		return failure(ErrAPIError, "pika generation completed without video URL")
	}

	path, dlErr := e.downloadTo(ctx, state.DownloadURL, req.OutputDir, fmt.Sprintf("scene_%d_pika.mp4", req.SceneID))
	if dlErr != nil {
		return *dlErr
	}
	return Result{Success: true, ClipPath: path}
}
