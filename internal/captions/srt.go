package captions

import (
	"fmt"
	"strings"

	"github.com/reelsmith/reelsmith-backend/internal/audio"
)

// ExportSRT renders caption windows as a SubRip document. Cues keep window
// order; empty windows are skipped.
func ExportSRT(windows []audio.CaptionWindow) string {
	var b strings.Builder
	cue := 0
	for _, w := range windows {
		if strings.TrimSpace(w.Text) == "" || w.EndMs <= w.StartMs {
			continue
		}
		cue++
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", cue, srtTimestamp(w.StartMs), srtTimestamp(w.EndMs), strings.TrimSpace(w.Text))
	}
	return b.String()
}

// srtTimestamp formats milliseconds as HH:MM:SS,mmm.
func srtTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	h := ms / 3600000
	m := (ms % 3600000) / 60000
	s := (ms % 60000) / 1000
	rem := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, rem)
}
