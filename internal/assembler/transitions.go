package assembler

import (
	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
	"github.com/reelsmith/reelsmith-backend/internal/timeline"
)

const (
	minTransitionSeconds     = 0.3
	maxTransitionSeconds     = 1.5
	defaultTransitionSeconds = 0.5
	// xfade needs a non-zero duration; this is visually a hard cut.
	cutSeconds = 0.001
)

// xfadeNames maps graph transitions onto ffmpeg xfade variants.
var xfadeNames = map[string]string{
	scenegraph.TransitionCut:       "fade",
	scenegraph.TransitionFade:      "fade",
	scenegraph.TransitionFadeBlack: "fadeblack",
	scenegraph.TransitionSwipeL:    "slideleft",
	scenegraph.TransitionSwipeR:    "slideright",
}

// brandSafeXfades is the allowed set when the job is brand-safe. Anything
// else renders as a plain fade.
var brandSafeXfades = map[string]bool{
	"fade":      true,
	"fadeblack": true,
}

// XfadeSteps converts timeline entries into the concat plan. One step per
// boundary; the last entry's transition is ignored.
func XfadeSteps(entries []timeline.Entry, brandSafe bool) []localmedia.XfadeStep {
	if len(entries) < 2 {
		return nil
	}
	steps := make([]localmedia.XfadeStep, 0, len(entries)-1)
	for _, e := range entries[:len(entries)-1] {
		steps = append(steps, xfadeStep(e.Transition, brandSafe))
	}
	return steps
}

func xfadeStep(tr *timeline.Transition, brandSafe bool) localmedia.XfadeStep {
	if tr == nil || tr.Kind == scenegraph.TransitionCut || tr.DurationMs <= 0 {
		return localmedia.XfadeStep{XfadeName: "fade", Seconds: cutSeconds}
	}
	name, ok := xfadeNames[tr.Kind]
	if !ok {
		name = "fade"
	}
	if brandSafe && !brandSafeXfades[name] {
		name = "fade"
	}
	seconds := float64(tr.DurationMs) / 1000
	if seconds < minTransitionSeconds {
		seconds = minTransitionSeconds
	}
	if seconds > maxTransitionSeconds {
		seconds = maxTransitionSeconds
	}
	return localmedia.XfadeStep{XfadeName: name, Seconds: seconds}
}
