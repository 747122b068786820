package assembler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/audio"
	"github.com/reelsmith/reelsmith-backend/internal/captions"
	"github.com/reelsmith/reelsmith-backend/internal/observability"
	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/timeline"
)

// Input is everything assembly needs. ClipPaths are ordered by scene
// position and must all exist.
type Input struct {
	JobID     string
	ClipPaths []string
	Timeline  *timeline.Timeline
	Preset    app.Preset
	BrandSafe bool

	CaptionWindows []audio.CaptionWindow

	VoicePath   string
	MusicPath   string
	DuckRegions []audio.DuckRegion

	LogoPath string

	WorkDir       string
	OutputPath    string
	ThumbnailPath string

	Width      int
	Height     int
	FPS        int
	MaxBitrate string
}

// Assembler turns rendered clips plus audio stems into the final
// deliverable. The three methods map onto the job runner's COMPOSING,
// AUDIO_ASSEMBLY and FINALIZING stages; each returns or consumes the path
// of the current intermediate.
type Assembler interface {
	// ComposeVideo concatenates clips with transitions and burns the color
	// grade, captions and logo overlay.
	ComposeVideo(ctx context.Context, in Input) (string, error)
	// MixAudio lays the voice/music bed under the composed video.
	MixAudio(ctx context.Context, in Input, videoPath string) (string, error)
	// Finalize produces the delivery encode and thumbnail.
	Finalize(ctx context.Context, in Input, videoPath string) error
}

// Brand watermark placement.
const (
	logoWidthPx = 120
	logoOpacity = 0.6
)

type pipeline struct {
	log   *logger.Logger
	media localmedia.Tools
	mixer *audio.Mixer
}

func observeStage(stage string, start time.Time) {
	observability.GetMetrics().AssemblyStages.Observe(time.Since(start).Seconds(), stage)
}

func New(log *logger.Logger, media localmedia.Tools, mixer *audio.Mixer) Assembler {
	return &pipeline{
		log:   log.With("service", "Assembler"),
		media: media,
		mixer: mixer,
	}
}

func (p *pipeline) ComposeVideo(ctx context.Context, in Input) (string, error) {
	if len(in.ClipPaths) == 0 {
		return "", fmt.Errorf("no clips to assemble")
	}
	if err := os.MkdirAll(in.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("create assembly dir: %w", err)
	}

	composed := filepath.Join(in.WorkDir, "01_compose.mp4")
	steps := XfadeSteps(in.Timeline.Entries, in.BrandSafe)
	start := time.Now()
	if err := p.media.ConcatWithTransitions(ctx, in.ClipPaths, composed, steps, in.Width, in.Height, in.FPS); err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}
	observeStage("compose", start)
	current := composed

	// Color grade and captions burn in one encode pass.
	vf := GradeFilter(in.Preset)
	style := captions.ResolveStyle(in.Preset, in.BrandSafe)
	if captionFilter := captions.NewRenderer(p.log, style).Filter(in.CaptionWindows); captionFilter != "" {
		if vf != "" {
			vf += "," + captionFilter
		} else {
			vf = captionFilter
		}
	}
	if vf != "" {
		burned := filepath.Join(in.WorkDir, "02_burn.mp4")
		start = time.Now()
		if err := p.media.BurnFilters(ctx, current, burned, vf); err != nil {
			return "", fmt.Errorf("burn filters: %w", err)
		}
		observeStage("burn", start)
		current = burned
	}

	if in.LogoPath != "" {
		branded := filepath.Join(in.WorkDir, "03_logo.mp4")
		start = time.Now()
		err := p.media.OverlayImage(ctx, current, in.LogoPath, branded, localmedia.OverlayOptions{
			X:       "W-w-40",
			Y:       "40",
			ScaleW:  logoWidthPx,
			Opacity: logoOpacity,
		})
		if err != nil {
			return "", fmt.Errorf("logo overlay: %w", err)
		}
		observeStage("logo", start)
		current = branded
	}
	return current, nil
}

func (p *pipeline) MixAudio(ctx context.Context, in Input, videoPath string) (string, error) {
	withAudio := filepath.Join(in.WorkDir, "04_audio.mp4")
	start := time.Now()
	err := p.mixer.Mix(ctx, audio.MixInput{
		VideoPath:   videoPath,
		VoicePath:   in.VoicePath,
		MusicPath:   in.MusicPath,
		DuckRegions: in.DuckRegions,
		TotalMs:     int64(in.Timeline.TotalDurationMs),
		WorkDir:     in.WorkDir,
	}, withAudio)
	if err != nil {
		return "", fmt.Errorf("audio mix: %w", err)
	}
	observeStage("audio", start)
	return withAudio, nil
}

func (p *pipeline) Finalize(ctx context.Context, in Input, videoPath string) error {
	start := time.Now()
	if err := p.media.FinalEncode(ctx, videoPath, in.OutputPath, in.Width, in.Height, in.FPS, in.MaxBitrate); err != nil {
		return fmt.Errorf("final encode: %w", err)
	}
	observeStage("encode", start)

	if in.ThumbnailPath != "" {
		if err := p.media.ExtractThumbnail(ctx, in.OutputPath, in.ThumbnailPath, 1.0); err != nil {
			// A missing thumbnail is not worth failing the job over.
			p.log.Warn("thumbnail extraction failed", "error", err)
		}
	}
	p.log.Info("assembly complete", "job_id", in.JobID, "output", in.OutputPath)
	return nil
}
