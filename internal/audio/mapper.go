package audio

import (
	"strings"

	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
)

const (
	minSegmentMs int64 = 500
)

// SceneNarration is the slice of the script one scene narrates, with an
// estimated speaking window relative to the voiceover start.
type SceneNarration struct {
	SceneID    int
	Text       string
	WordCount  int
	StartMs    int64
	DurationMs int64
}

// Mapper distributes a narration script across scenes so captions and
// ducking line up with what is actually being said.
type Mapper struct {
	log *logger.Logger
}

func NewMapper(log *logger.Logger) *Mapper {
	return &Mapper{log: log.With("service", "NarrationMapper")}
}

// Map splits the script into sentences and assigns them to scenes in order.
// With at most one sentence per scene each scene gets its own; with more
// sentences than scenes they are grouped proportionally by position. The
// voiceMs total, when known, weights each window by word share; otherwise
// the assumed speaking rate is used. Windows are clamped to
// [500ms, scene duration].
func (m *Mapper) Map(script string, scenes []scenegraph.Scene, voiceMs int64) []SceneNarration {
	sentences := scenegraph.SplitSentences(script)
	if len(sentences) == 0 || len(scenes) == 0 {
		return nil
	}

	assigned := make([][]string, len(scenes))
	if len(sentences) <= len(scenes) {
		for i, s := range sentences {
			assigned[i] = []string{s}
		}
	} else {
		// Proportional grouping: sentence j goes to the scene covering its
		// position in the sentence sequence.
		for j, s := range sentences {
			idx := j * len(scenes) / len(sentences)
			assigned[idx] = append(assigned[idx], s)
		}
	}

	totalWords := 0
	texts := make([]string, len(scenes))
	words := make([]int, len(scenes))
	for i, group := range assigned {
		texts[i] = strings.TrimSpace(strings.Join(group, " "))
		words[i] = len(strings.Fields(texts[i]))
		totalWords += words[i]
	}
	if totalWords == 0 {
		return nil
	}

	out := make([]SceneNarration, 0, len(scenes))
	var cursor int64
	for i, scene := range scenes {
		if words[i] == 0 {
			continue
		}
		var durationMs int64
		if voiceMs > 0 {
			durationMs = int64(float64(words[i]) / float64(totalWords) * float64(voiceMs))
		} else {
			durationMs = int64(float64(words[i]) / wordsPerSecond * 1000)
		}
		if durationMs < minSegmentMs {
			durationMs = minSegmentMs
		}
		if sceneMs := int64(scene.DurationMs); durationMs > sceneMs {
			durationMs = sceneMs
		}
		out = append(out, SceneNarration{
			SceneID:    scene.ID,
			Text:       texts[i],
			WordCount:  words[i],
			StartMs:    cursor,
			DurationMs: durationMs,
		})
		cursor += durationMs
	}
	return out
}
