package audio

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const (
	voiceGainDB    = -6.0
	limiterCeiling = "-1dB"
	targetLUFS     = -14.0
)

// MixInput names the prepared stems going into the final bed. Any of the
// paths may be empty; the mixer degrades gracefully down to a silent track.
type MixInput struct {
	VideoPath   string
	VoicePath   string
	MusicPath   string
	DuckRegions []DuckRegion
	TotalMs     int64
	WorkDir     string
}

// Mixer combines the voice and music stems, normalizes the result and muxes
// it onto the composed video.
type Mixer struct {
	log   *logger.Logger
	media localmedia.Tools
}

func NewMixer(log *logger.Logger, media localmedia.Tools) *Mixer {
	return &Mixer{
		log:   log.With("service", "AudioMixer"),
		media: media,
	}
}

// Mix writes the final video with audio to outPath. The combined bed is
// loudness-normalized to -14 LUFS with a -1.5dB true peak before muxing.
func (x *Mixer) Mix(ctx context.Context, in MixInput, outPath string) error {
	bed := filepath.Join(in.WorkDir, "audio_bed.m4a")

	switch {
	case in.VoicePath != "" && in.MusicPath != "":
		if err := x.combine(ctx, in, bed); err != nil {
			return err
		}
	case in.VoicePath != "":
		if err := x.voiceOnly(ctx, in.VoicePath, bed); err != nil {
			return err
		}
	case in.MusicPath != "":
		if err := x.musicOnly(ctx, in, bed); err != nil {
			return err
		}
	default:
		// No stems at all. A silent track keeps every player happy.
		x.log.Info("no audio stems, muxing silent track")
		return x.media.AddSilentAudio(ctx, in.VideoPath, outPath, float64(in.TotalMs)/1000)
	}

	normalized := filepath.Join(in.WorkDir, "audio_bed_norm.m4a")
	if err := x.media.LoudnessNormalize(ctx, bed, normalized, targetLUFS); err != nil {
		return fmt.Errorf("loudness normalize: %w", err)
	}
	if err := x.media.MuxAudio(ctx, in.VideoPath, normalized, outPath); err != nil {
		return fmt.Errorf("mux audio: %w", err)
	}
	return nil
}

// combine mixes voice over the ducked music bed. amix keeps the longer of
// the two stems; the limiter stops the sum from clipping.
func (x *Mixer) combine(ctx context.Context, in MixInput, out string) error {
	musicChain := "[1:a]anull[m]"
	if duck := DuckFilter(in.DuckRegions); duck != "" {
		musicChain = fmt.Sprintf("[1:a]%s[m]", duck)
	}
	graph := fmt.Sprintf(
		"[0:a]volume=%.0fdB,apad[v];%s;[v][m]amix=inputs=2:duration=longest:dropout_transition=0.05,alimiter=limit=%s[out]",
		voiceGainDB, musicChain, limiterCeiling,
	)
	err := x.media.FFmpeg(ctx,
		"-i", in.VoicePath,
		"-i", in.MusicPath,
		"-filter_complex", graph,
		"-map", "[out]",
		"-t", fmt.Sprintf("%.3f", float64(in.TotalMs)/1000),
		"-c:a", "aac",
		out,
	)
	if err != nil {
		return fmt.Errorf("mix voice and music: %w", err)
	}
	return nil
}

func (x *Mixer) voiceOnly(ctx context.Context, voicePath, out string) error {
	err := x.media.FFmpeg(ctx,
		"-i", voicePath,
		"-af", fmt.Sprintf("volume=%.0fdB,alimiter=limit=%s", voiceGainDB, limiterCeiling),
		"-c:a", "aac",
		out,
	)
	if err != nil {
		return fmt.Errorf("voice-only bed: %w", err)
	}
	return nil
}

func (x *Mixer) musicOnly(ctx context.Context, in MixInput, out string) error {
	af := fmt.Sprintf("alimiter=limit=%s", limiterCeiling)
	if duck := DuckFilter(in.DuckRegions); duck != "" {
		af = duck + "," + af
	}
	err := x.media.FFmpeg(ctx,
		"-i", in.MusicPath,
		"-af", af,
		"-t", fmt.Sprintf("%.3f", float64(in.TotalMs)/1000),
		"-c:a", "aac",
		out,
	)
	if err != nil {
		return fmt.Errorf("music-only bed: %w", err)
	}
	return nil
}
