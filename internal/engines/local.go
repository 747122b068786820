package engines

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelsmith/reelsmith-backend/internal/platform/drawing"
	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const localMaxDurationSec = 60.0

var kenBurnsVariants = []string{"zoom_in", "zoom_out", "pan_up", "pan_down"}

type localEngine struct {
	log   *logger.Logger
	media localmedia.Tools
	cards drawing.CardRenderer
	fps   int
}

// NewLocal builds the deterministic terminal-fallback renderer. It never
// calls out and always produces a playable 9:16 clip.
func NewLocal(log *logger.Logger, media localmedia.Tools, cards drawing.CardRenderer, fps int) Engine {
	if fps <= 0 {
		fps = 30
	}
	return &localEngine{
		log:   log.With("engine", EngineLocal),
		media: media,
		cards: cards,
		fps:   fps,
	}
}

func (e *localEngine) Name() string                { return EngineLocal }
func (e *localEngine) MaxDurationSeconds() float64 { return localMaxDurationSec }
func (e *localEngine) SupportsImageInput() bool    { return true }

func (e *localEngine) HealthCheck(ctx context.Context) error {
	return e.media.AssertReady(ctx)
}

func (e *localEngine) Generate(ctx context.Context, req Request) Result {
	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return failure(ErrAPIError, fmt.Sprintf("create output dir: %v", err))
	}
	out := filepath.Join(req.OutputDir, fmt.Sprintf("scene_%d_local.mp4", req.SceneID))
	duration := clampDuration(req.DurationSeconds, localMaxDurationSec)

	width, height := req.Width, req.Height
	if width <= 0 || height <= 0 {
		width, height = 1080, 1920
	}

	if req.ImagePath != "" {
		variant := kenBurnsVariants[req.SceneID%len(kenBurnsVariants)]
		if hint := req.StyleHints["motion"]; hint != "" {
			variant = hint
		}
		err := e.media.KenBurnsClip(ctx, req.ImagePath, out, localmedia.KenBurnsOptions{
			Seconds: duration,
			Width:   width,
			Height:  height,
			FPS:     e.fps,
			Variant: variant,
		})
		if err != nil {
			return failure(ErrAPIError, fmt.Sprintf("ken burns render: %v", err))
		}
		return Result{Success: true, ClipPath: out}
	}

	text := sanitizeDrawText(req.Prompt)
	if text == "" {
		text = "Your video"
	}
	card, err := e.cards.RenderTextCard(text, width, height)
	if err != nil {
		return failure(ErrAPIError, fmt.Sprintf("render text card: %v", err))
	}
	cardPath := filepath.Join(req.OutputDir, fmt.Sprintf("scene_%d_card.png", req.SceneID))
	if err := os.WriteFile(cardPath, card.Bytes(), 0o644); err != nil {
		return failure(ErrAPIError, fmt.Sprintf("write card png: %v", err))
	}
	defer os.Remove(cardPath)

	if err := e.media.StillClip(ctx, cardPath, out, duration, width, height, e.fps); err != nil {
		return failure(ErrAPIError, fmt.Sprintf("still-to-video render: %v", err))
	}
	return Result{Success: true, ClipPath: out}
}

// sanitizeDrawText strips quote and colon characters that would break a
// drawtext expression if the text later reaches an ffmpeg filter.
func sanitizeDrawText(s string) string {
	replacer := strings.NewReplacer(`"`, "", "'", "", ":", "", ";", "")
	return strings.TrimSpace(replacer.Replace(s))
}
