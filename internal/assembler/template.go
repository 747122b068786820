package assembler

import (
	"context"
	"fmt"
	"strings"

	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

// TemplateRenderer produces a minimal but valid deliverable when real
// assembly is impossible. Jobs finish with fallbackUsed=true instead of
// failing outright.
type TemplateRenderer struct {
	log   *logger.Logger
	media localmedia.Tools
}

func NewTemplateRenderer(log *logger.Logger, media localmedia.Tools) *TemplateRenderer {
	return &TemplateRenderer{
		log:   log.With("service", "TemplateRenderer"),
		media: media,
	}
}

// Render writes a single-card video: dark background, centered title,
// silent audio track, standard output format.
func (t *TemplateRenderer) Render(ctx context.Context, title string, durationMs int64, width, height, fps int, outPath string) error {
	seconds := float64(durationMs) / 1000
	if seconds < 3 {
		seconds = 3
	}
	text := templateText(title)

	vf := fmt.Sprintf(
		"drawtext=text='%s':fontsize=64:fontcolor=white:x=(w-text_w)/2:y=(h-text_h)/2",
		text,
	)
	err := t.media.FFmpeg(ctx,
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=0x1a1a2e:s=%dx%d:r=%d:d=%.2f", width, height, fps, seconds),
		"-f", "lavfi",
		"-i", "anullsrc=r=44100:cl=stereo",
		"-vf", vf,
		"-t", fmt.Sprintf("%.2f", seconds),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-shortest",
		outPath,
	)
	if err != nil {
		return fmt.Errorf("template render: %w", err)
	}
	t.log.Warn("template fallback video rendered", "out", outPath)
	return nil
}

// templateText trims the title to one card-sized line and strips drawtext
// metacharacters.
func templateText(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Your video"
	}
	if len(title) > 48 {
		title = strings.TrimSpace(title[:48])
	}
	replacer := strings.NewReplacer(`"`, "", "'", "", ":", "", ";", "", "%", "", `\`, "")
	return replacer.Replace(title)
}
