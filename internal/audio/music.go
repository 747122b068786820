package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const (
	// Music bed level before ducking.
	musicBaseGainDB = -12.0
	// Fade at the end of a looped or trimmed bed.
	musicFadeSeconds = 2.0
)

// MusicPrep resolves a music reference and shapes the bed to the video's
// length: gain to -12dBFS, looped or trimmed, ending on a 2s fadeout.
type MusicPrep struct {
	log   *logger.Logger
	media localmedia.Tools
	// libraryDirs are searched in order when the reference is a bare track
	// name instead of a path.
	libraryDirs []string
}

func NewMusicPrep(log *logger.Logger, media localmedia.Tools, libraryDirs ...string) *MusicPrep {
	if len(libraryDirs) == 0 {
		libraryDirs = []string{"assets/music", "/usr/share/reelsmith/music"}
	}
	return &MusicPrep{
		log:         log.With("service", "MusicPrep"),
		media:       media,
		libraryDirs: libraryDirs,
	}
}

// Resolve turns a music reference into a readable file path. Absolute or
// existing relative paths win; otherwise the library dirs are searched for
// <name> and <name>.mp3.
func (m *MusicPrep) Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("empty music reference")
	}
	if _, err := os.Stat(ref); err == nil {
		return ref, nil
	}
	candidates := []string{ref, ref + ".mp3", ref + ".m4a", ref + ".wav"}
	for _, dir := range m.libraryDirs {
		for _, c := range candidates {
			p := filepath.Join(dir, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("music track %q not found in library", ref)
}

// Prepare writes a bed exactly totalMs long. Short tracks loop; long tracks
// are cut. Either way the bed ends on a fadeout so the video never stops on
// a hard note.
func (m *MusicPrep) Prepare(ctx context.Context, in, out string, totalMs int64) error {
	total := float64(totalMs) / 1000
	fadeStart := total - musicFadeSeconds
	if fadeStart < 0 {
		fadeStart = 0
	}
	filter := fmt.Sprintf("volume=%.0fdB,afade=t=out:st=%.3f:d=%.3f", musicBaseGainDB, fadeStart, musicFadeSeconds)
	err := m.media.FFmpeg(ctx,
		"-stream_loop", "-1",
		"-i", in,
		"-t", fmt.Sprintf("%.3f", total),
		"-af", filter,
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", "2",
		"-c:a", "aac",
		out,
	)
	if err != nil {
		return fmt.Errorf("music prepare: %w", err)
	}
	return nil
}
