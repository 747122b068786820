package timeline

import (
	"fmt"

	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
)

const (
	maxTotalMs    = 60000
	captionInset  = 200
	defaultMusicV = 0.5
)

type Builder interface {
	Build(g *scenegraph.Graph) (*Timeline, error)
}

type builder struct {
	log *logger.Logger
	// Crossfade length applied to every non-CUT transition.
	transitionMs int
}

func NewBuilder(log *logger.Logger, transitionMs int) Builder {
	if transitionMs <= 0 {
		transitionMs = 500
	}
	return &builder{
		log:          log.With("service", "TimelineBuilder"),
		transitionMs: transitionMs,
	}
}

// Build lays the graph out in time. Over-cap graphs are not rejected here;
// the proportional-reduction pass brings them under 60s.
func (b *builder) Build(g *scenegraph.Graph) (*Timeline, error) {
	if len(g.Scenes) == 0 {
		return nil, fmt.Errorf("scene graph has no scenes")
	}
	seen := map[int]bool{}
	for _, s := range g.Scenes {
		if seen[s.ID] {
			return nil, fmt.Errorf("scene id %d duplicated", s.ID)
		}
		seen[s.ID] = true
	}

	durations := make([]int, len(g.Scenes))
	for i := range g.Scenes {
		durations[i] = g.Scenes[i].DurationMs
	}

	entries, total := b.layout(g, durations)

	// Crossfades borrow time from both sides, so the laid-out total can
	// exceed the cap even when scene durations individually fit. Shrink
	// proportionally and lay out again with overlap clamped to half the
	// reduced duration so spans stay positive.
	if total > maxTotalMs {
		scale := float64(maxTotalMs) / float64(total)
		for i := range durations {
			durations[i] = int(float64(durations[i]) * scale)
			if durations[i] < 1000 {
				durations[i] = 1000
			}
		}
		entries, total = b.layout(g, durations)
		if total > maxTotalMs {
			total = maxTotalMs
			if entries[len(entries)-1].EndMs > total {
				entries[len(entries)-1].EndMs = total
			}
		}
	}

	t := &Timeline{
		Version:         SchemaVersion,
		TotalDurationMs: total,
		Entries:         entries,
	}

	b.buildVideoTracks(t, g)
	b.buildCaptionTracks(t, g)
	b.buildAudioTracks(t, g)

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("built timeline invalid: %w", err)
	}

	b.log.Info("timeline built",
		"entries", len(t.Entries),
		"total_ms", t.TotalDurationMs,
		"captions", len(t.Tracks.Captions),
		"audio_tracks", len(t.Tracks.Audio),
	)
	return t, nil
}

// layout walks scenes with a cursor, assigning each an [start, end] span and
// advancing by duration minus the overlap borrowed by the next crossfade.
func (b *builder) layout(g *scenegraph.Graph, durations []int) ([]Entry, int) {
	entries := make([]Entry, 0, len(g.Scenes))
	cursor := 0
	for i := range g.Scenes {
		s := &g.Scenes[i]
		dur := durations[i]

		entry := Entry{
			SceneID: s.ID,
			StartMs: cursor,
			EndMs:   cursor + dur,
		}

		overlap := 0
		if i < len(g.Scenes)-1 {
			transMs := b.transitionMs
			if s.Transition == scenegraph.TransitionCut {
				transMs = 0
			}
			// A crossfade longer than half of either side would leave a
			// non-positive visible span.
			if half := dur / 2; transMs > half {
				transMs = half
			}
			if next := durations[i+1] / 2; transMs > next {
				transMs = next
			}
			entry.Transition = &Transition{Kind: s.Transition, DurationMs: transMs}
			overlap = transMs
		}

		entries = append(entries, entry)
		cursor += dur - overlap
	}
	total := 0
	if len(entries) > 0 {
		total = entries[len(entries)-1].EndMs
	}
	return entries, total
}

func (b *builder) buildVideoTracks(t *Timeline, g *scenegraph.Graph) {
	for i := range g.Scenes {
		s := &g.Scenes[i]
		effect := ""
		if s.Media.Type == scenegraph.MediaImage {
			effect = s.Media.Motion
		}
		t.Tracks.Video = append(t.Tracks.Video, VideoTrack{
			SceneID: s.ID,
			Asset:   s.Media.Asset,
			Effect:  effect,
			Layer:   0,
		})
		for layer, ov := range s.Overlays {
			t.Tracks.Video = append(t.Tracks.Video, VideoTrack{
				SceneID: s.ID,
				Asset:   ov.Asset,
				Layer:   layer + 1,
				Transform: &Transform{
					Position: ov.Position,
					Scale:    ov.Scale,
					Opacity:  ov.Opacity,
				},
			})
		}
	}
}

func (b *builder) buildCaptionTracks(t *Timeline, g *scenegraph.Graph) {
	entryByScene := map[int]Entry{}
	for _, e := range t.Entries {
		entryByScene[e.SceneID] = e
	}
	for i := range g.Scenes {
		s := &g.Scenes[i]
		if s.Caption == "" {
			continue
		}
		e := entryByScene[s.ID]
		start := e.StartMs + captionInset
		end := e.EndMs - captionInset
		if end <= start {
			// Scene too short for the inset; show the caption over the
			// whole span instead.
			start = e.StartMs
			end = e.EndMs
		}
		t.Tracks.Captions = append(t.Tracks.Captions, CaptionTrack{
			Text:    s.Caption,
			StartMs: start,
			EndMs:   end,
			SceneID: s.ID,
		})
	}
}

func (b *builder) buildAudioTracks(t *Timeline, g *scenegraph.Graph) {
	if g.GlobalAudio == nil {
		return
	}
	if g.GlobalAudio.VoiceScript != "" || g.GlobalAudio.VoiceAsset != "" {
		t.Tracks.Audio = append(t.Tracks.Audio, AudioTrack{
			Type:    AudioVoiceover,
			File:    g.GlobalAudio.VoiceAsset,
			StartMs: 0,
			EndMs:   t.TotalDurationMs,
			Volume:  1.0,
		})
	}
	if g.GlobalAudio.Music != "" {
		t.Tracks.Audio = append(t.Tracks.Audio, AudioTrack{
			Type:    AudioMusic,
			File:    g.GlobalAudio.Music,
			StartMs: 0,
			EndMs:   t.TotalDurationMs,
			Volume:  defaultMusicV,
		})
	}
}
