package engines

import (
	"context"
	"fmt"
	"time"

	"github.com/reelsmith/reelsmith-backend/internal/platform/envutil"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const runwayMaxDurationSec = 10.0

type runwayEngine struct {
	httpProvider
	baseURL string
}

// NewRunway builds the Runway text/image-to-video client.
func NewRunway(log *logger.Logger, apiKey string, deadline time.Duration) Engine {
	return &runwayEngine{
		httpProvider: newHTTPProvider(
			log.With("engine", EngineRunway),
			apiKey,
			deadline,
			5*time.Second,
			10*time.Second,
		),
		baseURL: envutil.Str("RUNWAY_BASE_URL", "https://api.runwayml.com/v1"),
	}
}

func (e *runwayEngine) Name() string                { return EngineRunway }
func (e *runwayEngine) MaxDurationSeconds() float64 { return runwayMaxDurationSec }
func (e *runwayEngine) SupportsImageInput() bool    { return true }

func (e *runwayEngine) HealthCheck(ctx context.Context) error {
	if e.apiKey == "" {
		return fmt.Errorf("runway: no API key configured")
	}
	status, err := e.getJSON(ctx, e.baseURL+"/organization", e.headers(), nil)
	if err != nil {
		return fmt.Errorf("runway health check: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("runway health check: status %d", status)
	}
	return nil
}

func (e *runwayEngine) headers() map[string]string {
	return map[string]string{
		"Authorization":    "Bearer " + e.apiKey,
		"X-Runway-Version": "2024-11-06",
	}
}

type runwaySubmitResponse struct {
	ID string `json:"id"`
}

type runwayTaskResponse struct {
	ID            string   `json:"id"`
	Status        string   `json:"status"`
	Output        []string `json:"output"`
	FailureReason string   `json:"failure"`
	FailureCode   string   `json:"failureCode"`
}

func (e *runwayEngine) Generate(ctx context.Context, req Request) Result {
	if e.apiKey == "" {
		return failure(ErrMissingAPIKey, "runway API key not configured")
	}

	payload := map[string]interface{}{
		"model":      "gen3a_turbo",
		"promptText": req.Prompt,
		"duration":   int(clampDuration(req.DurationSeconds, runwayMaxDurationSec)),
		"ratio":      "768:1280",
	}
	if req.ImagePath != "" {
		payload["promptImage"] = req.ImagePath
	}
	if req.Seed != 0 {
		payload["seed"] = req.Seed
	}

	var submitted runwaySubmitResponse
	if r := e.postJSON(ctx, e.baseURL+"/image_to_video", e.headers(), payload, &submitted); r != nil {
		return *r
	}
	if submitted.ID == "" {
		return failure(ErrAPIError, "runway returned no generation id")
	}

	state, failed := e.pollUntilDone(ctx, func(ctx context.Context) (pollState, int, error) {
		var task runwayTaskResponse
		status, err := e.getJSON(ctx, fmt.Sprintf("%s/tasks/%s", e.baseURL, submitted.ID), e.headers(), &task)
		if err != nil || status >= 400 {
			return pollState{}, status, err
		}
		ps := pollState{FailureReason: task.FailureReason}
		switch task.Status {
		case "SUCCEEDED", "completed", "succeeded":
			ps.Done = true
			if len(task.Output) > 0 {
				ps.DownloadURL = task.Output[0]
			}
		case "FAILED", "failed":
			ps.Failed = true
			ps.ModerationFlagged = task.FailureCode == "SAFETY.INPUT.TEXT" ||
				looksLikeModeration(task.FailureReason)
		}
		return ps, status, nil
	})
	if failed != nil {
		return *failed
	}
	if state.DownloadURL == "" {
		return failure(ErrAPIError, "runway task completed without output URL")
	}

	path, dlErr := e.downloadTo(ctx, state.DownloadURL, req.OutputDir, fmt.Sprintf("scene_%d_runway.mp4", req.SceneID))
	if dlErr != nil {
		return *dlErr
	}
	return Result{Success: true, ClipPath: path}
}
