package audio

import (
	"fmt"
	"sort"
	"strings"
)

const (
	// Padding added around each speech span before merging.
	duckPadMs int64 = 100
	// Gain applied to the music bed while speech is active.
	duckGainDB = -12.0
	// Ramp on each side of a duck region.
	duckFadeSeconds = 0.2
)

// DuckRegion is a span of the music bed lowered under speech.
type DuckRegion struct {
	StartMs int64
	EndMs   int64
}

// DuckRegions derives music duck spans from the narration windows: each span
// padded by 100ms on both sides, overlapping spans merged, all clamped to
// [0, totalMs].
func DuckRegions(narrations []SceneNarration, totalMs int64) []DuckRegion {
	if len(narrations) == 0 || totalMs <= 0 {
		return nil
	}
	spans := make([]DuckRegion, 0, len(narrations))
	for _, n := range narrations {
		if n.DurationMs <= 0 {
			continue
		}
		start := n.StartMs - duckPadMs
		end := n.StartMs + n.DurationMs + duckPadMs
		if start < 0 {
			start = 0
		}
		if end > totalMs {
			end = totalMs
		}
		if end > start {
			spans = append(spans, DuckRegion{StartMs: start, EndMs: end})
		}
	}
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].StartMs < spans[j].StartMs })

	merged := []DuckRegion{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.StartMs <= last.EndMs {
			if s.EndMs > last.EndMs {
				last.EndMs = s.EndMs
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// DuckFilter renders the regions as a chained ffmpeg volume filter. Each
// region gets a half-depth step on both edges so the bed dips instead of
// jumping.
func DuckFilter(regions []DuckRegion) string {
	if len(regions) == 0 {
		return ""
	}
	parts := make([]string, 0, len(regions)*3)
	for _, r := range regions {
		start := float64(r.StartMs) / 1000
		end := float64(r.EndMs) / 1000
		rampIn := start - duckFadeSeconds
		if rampIn < 0 {
			rampIn = 0
		}
		parts = append(parts,
			fmt.Sprintf("volume=enable='between(t,%.3f,%.3f)':volume=%.0fdB", rampIn, start, duckGainDB/2),
			fmt.Sprintf("volume=enable='between(t,%.3f,%.3f)':volume=%.0fdB", start, end, duckGainDB),
			fmt.Sprintf("volume=enable='between(t,%.3f,%.3f)':volume=%.0fdB", end, end+duckFadeSeconds, duckGainDB/2),
		)
	}
	return strings.Join(parts, ",")
}
