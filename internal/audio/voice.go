package audio

import (
	"context"
	"fmt"

	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const (
	// Everything downstream assumes this sample layout.
	sampleRate = 44100
	// Leading/trailing audio below this level is considered silence.
	silenceFloorDB = -40.0
	// Fade applied when a voiceover has to be cut to fit.
	trimFadeSeconds = 0.5
)

// VoicePrep normalizes user-supplied or synthesized voiceovers into the
// canonical working format before any mapping or mixing happens.
type VoicePrep struct {
	log   *logger.Logger
	media localmedia.Tools
}

func NewVoicePrep(log *logger.Logger, media localmedia.Tools) *VoicePrep {
	return &VoicePrep{
		log:   log.With("service", "VoicePrep"),
		media: media,
	}
}

// Ingest resamples to 44.1kHz stereo and strips leading/trailing silence.
// Returns the prepared file's duration in milliseconds.
func (v *VoicePrep) Ingest(ctx context.Context, in, out string) (int64, error) {
	filter := fmt.Sprintf(
		"silenceremove=start_periods=1:start_threshold=%.0fdB,areverse,silenceremove=start_periods=1:start_threshold=%.0fdB,areverse",
		silenceFloorDB, silenceFloorDB,
	)
	err := v.media.FFmpeg(ctx,
		"-i", in,
		"-af", filter,
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", "2",
		"-c:a", "aac",
		out,
	)
	if err != nil {
		return 0, fmt.Errorf("voice ingest: %w", err)
	}
	seconds, err := v.media.Duration(ctx, out)
	if err != nil {
		return 0, fmt.Errorf("probe ingested voice: %w", err)
	}
	return int64(seconds * 1000), nil
}

// TrimToFit cuts a voiceover that runs past the allowed window, ending on a
// short fadeout instead of a hard stop. No-op when it already fits.
func (v *VoicePrep) TrimToFit(ctx context.Context, in, out string, maxDurationMs int64) (int64, error) {
	seconds, err := v.media.Duration(ctx, in)
	if err != nil {
		return 0, fmt.Errorf("probe voice: %w", err)
	}
	durationMs := int64(seconds * 1000)
	if durationMs <= maxDurationMs {
		return durationMs, copyAudio(ctx, v.media, in, out)
	}

	target := float64(maxDurationMs) / 1000
	fadeStart := target - trimFadeSeconds
	if fadeStart < 0 {
		fadeStart = 0
	}
	err = v.media.FFmpeg(ctx,
		"-i", in,
		"-t", fmt.Sprintf("%.3f", target),
		"-af", fmt.Sprintf("afade=t=out:st=%.3f:d=%.3f", fadeStart, trimFadeSeconds),
		"-c:a", "aac",
		out,
	)
	if err != nil {
		return 0, fmt.Errorf("voice trim: %w", err)
	}
	v.log.Info("voiceover trimmed to fit", "from_ms", durationMs, "to_ms", maxDurationMs)
	return maxDurationMs, nil
}

func copyAudio(ctx context.Context, media localmedia.Tools, in, out string) error {
	if in == out {
		return nil
	}
	if err := media.FFmpeg(ctx, "-i", in, "-c:a", "aac", out); err != nil {
		return fmt.Errorf("copy audio: %w", err)
	}
	return nil
}
