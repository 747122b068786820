package engines

import (
	"context"
	"fmt"
	"time"

	"github.com/reelsmith/reelsmith-backend/internal/platform/envutil"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const lumaMaxDurationSec = 10.0

type lumaEngine struct {
	httpProvider
	baseURL string
}

// NewLuma builds the Luma Dream Machine client. Luma handles physical and
// 3D product motion better than the other providers.
func NewLuma(log *logger.Logger, apiKey string, deadline time.Duration) Engine {
	return &lumaEngine{
		httpProvider: newHTTPProvider(
			log.With("engine", EngineLuma),
			apiKey,
			deadline,
			5*time.Second,
			10*time.Second,
		),
		baseURL: envutil.Str("LUMA_BASE_URL", "https://api.lumalabs.ai/dream-machine/v1"),
	}
}

func (e *lumaEngine) Name() string                { return EngineLuma }
func (e *lumaEngine) MaxDurationSeconds() float64 { return lumaMaxDurationSec }
func (e *lumaEngine) SupportsImageInput() bool    { return true }

func (e *lumaEngine) HealthCheck(ctx context.Context) error {
	if e.apiKey == "" {
		return fmt.Errorf("luma: no API key configured")
	}
	status, err := e.getJSON(ctx, e.baseURL+"/credits", e.headers(), nil)
	if err != nil {
		return fmt.Errorf("luma health check: %w", err)
	}
	if status >= 400 {
		return fmt.Errorf("luma health check: status %d", status)
	}
	return nil
}

func (e *lumaEngine) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + e.apiKey}
}

type lumaSubmitResponse struct {
	ID string `json:"id"`
}

type lumaGenerationResponse struct {
	State         string `json:"state"`
	FailureReason string `json:"failure_reason"`
	Assets        struct {
		Video string `json:"video"`
	} `json:"assets"`
}

func (e *lumaEngine) Generate(ctx context.Context, req Request) Result {
	if e.apiKey == "" {
		return failure(ErrMissingAPIKey, "luma API key not configured")
	}

	payload := map[string]interface{}{
		"prompt":       req.Prompt,
		"aspect_ratio": "9:16",
		"duration":     fmt.Sprintf("%ds", int(clampDuration(req.DurationSeconds, lumaMaxDurationSec))),
	}
	if req.ImagePath != "" {
		payload["keyframes"] = map[string]interface{}{
			"frame0": map[string]string{"type": "image", "url": req.ImagePath},
		}
	}

	var submitted lumaSubmitResponse
	if r := e.postJSON(ctx, e.baseURL+"/generations", e.headers(), payload, &submitted); r != nil {
		return *r
	}
	if submitted.ID == "" {
		return failure(ErrAPIError, "luma returned no generation id")
	}

	state, failed := e.pollUntilDone(ctx, func(ctx context.Context) (pollState, int, error) {
		var gen lumaGenerationResponse
		status, err := e.getJSON(ctx, fmt.Sprintf("%s/generations/%s", e.baseURL, submitted.ID), e.headers(), &gen)
		if err != nil || status >= 400 {
			return pollState{}, status, err
		}
		ps := pollState{FailureReason: gen.FailureReason}
		switch gen.State {
		case "completed":
			ps.Done = true
			ps.DownloadURL = gen.Assets.Video
		case "failed":
			ps.Failed = true
			ps.ModerationFlagged = looksLikeModeration(gen.FailureReason)
		}
		return ps, status, nil
	})
	if failed != nil {
		return *failed
	}
	if state.DownloadURL == "" {
		return failure(ErrAPIError, "luma generation completed without video asset")
	}

	path, dlErr := e.downloadTo(ctx, state.DownloadURL, req.OutputDir, fmt.Sprintf("scene_%d_luma.mp4", req.SceneID))
	if dlErr != nil {
		return *dlErr
	}
	return Result{Success: true, ClipPath: path}
}
