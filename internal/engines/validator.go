package engines

import (
	"context"
	"fmt"
	"os"

	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const (
	minClipWidth     = 720
	minClipHeight    = 1280
	maxClipSizeBytes = 200 << 20
	// Tolerated deviation from the requested scene duration.
	durationTolerance = 0.20
)

type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validator probes a produced clip and checks it is actually usable before
// the manager accepts it. A failed validation triggers the next fallback
// level exactly as an engine error would.
type Validator interface {
	Validate(ctx context.Context, clipPath string, requestedSeconds float64) ValidationResult
}

type clipValidator struct {
	log   *logger.Logger
	media localmedia.Tools
}

func NewValidator(log *logger.Logger, media localmedia.Tools) Validator {
	return &clipValidator{
		log:   log.With("service", "ClipValidator"),
		media: media,
	}
}

func (v *clipValidator) Validate(ctx context.Context, clipPath string, requestedSeconds float64) ValidationResult {
	var errs []string

	st, err := os.Stat(clipPath)
	if err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("clip missing: %v", err)}}
	}
	if st.Size() == 0 {
		return ValidationResult{Valid: false, Errors: []string{"clip file is empty"}}
	}
	if st.Size() > maxClipSizeBytes {
		errs = append(errs, fmt.Sprintf("clip size %d exceeds %d bytes", st.Size(), maxClipSizeBytes))
	}

	info, err := v.media.Probe(ctx, clipPath)
	if err != nil {
		errs = append(errs, fmt.Sprintf("probe failed: %v", err))
		return ValidationResult{Valid: false, Errors: errs}
	}
	if !info.HasVideo {
		errs = append(errs, "no video stream")
	}
	if info.Width < minClipWidth || info.Height < minClipHeight {
		errs = append(errs, fmt.Sprintf("frame %dx%d below %dx%d", info.Width, info.Height, minClipWidth, minClipHeight))
	}
	if requestedSeconds > 0 {
		lo := requestedSeconds * (1 - durationTolerance)
		hi := requestedSeconds * (1 + durationTolerance)
		if info.DurationSeconds < lo || info.DurationSeconds > hi {
			errs = append(errs, fmt.Sprintf("duration %.2fs outside [%.2f, %.2f]", info.DurationSeconds, lo, hi))
		}
	}

	if len(errs) > 0 {
		v.log.Warn("clip failed validation", "clip", clipPath, "errors", errs)
		return ValidationResult{Valid: false, Errors: errs}
	}
	return ValidationResult{Valid: true}
}
