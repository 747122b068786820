package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/reelsmith/reelsmith-backend/internal/platform/localmedia"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const captionInsetMs int64 = 100

// Caption confidence levels, best to worst.
const (
	ConfidenceWord     = "word"
	ConfidenceSentence = "sentence"
	ConfidenceEven     = "even"
)

// WordStamp is one recognized word with absolute offsets in the voiceover.
type WordStamp struct {
	Word    string
	StartMs int64
	EndMs   int64
}

// Transcriber recovers word timings from a voiceover file.
type Transcriber interface {
	Words(ctx context.Context, audioPath string) ([]WordStamp, error)
}

// CaptionWindow is one caption with resolved absolute timing and a tag for
// how precisely it was aligned.
type CaptionWindow struct {
	SceneID    int
	Text       string
	StartMs    int64
	EndMs      int64
	Confidence string
}

// SceneWindow is a scene's absolute span on the final timeline.
type SceneWindow struct {
	SceneID int
	StartMs int64
	EndMs   int64
}

// Aligner resolves caption timing. Word-level speech recognition is used
// when available, the mapper's sentence estimates otherwise, and an even
// split of the scene window as the last resort.
type Aligner struct {
	log         *logger.Logger
	transcriber Transcriber
}

func NewAligner(log *logger.Logger, transcriber Transcriber) *Aligner {
	return &Aligner{
		log:         log.With("service", "CaptionAligner"),
		transcriber: transcriber,
	}
}

// Align produces one caption window per narrated scene. voicePath may be
// empty when no voiceover exists; alignment then degrades to an even split.
func (a *Aligner) Align(ctx context.Context, voicePath string, narrations []SceneNarration, windows []SceneWindow) []CaptionWindow {
	byScene := map[int]SceneWindow{}
	for _, w := range windows {
		byScene[w.SceneID] = w
	}

	if a.transcriber != nil && voicePath != "" {
		stamps, err := a.transcriber.Words(ctx, voicePath)
		if err != nil {
			a.log.Warn("word-level alignment unavailable", "error", err)
		} else if len(stamps) > 0 {
			if out := a.alignByWords(narrations, byScene, stamps); out != nil {
				return out
			}
		}
	}
	if len(narrations) > 0 && voicePath != "" {
		return a.alignBySentences(narrations, byScene)
	}
	return a.alignEvenly(narrations, byScene)
}

// alignByWords walks the recognized word stream, consuming each narration's
// word count to find its true span.
func (a *Aligner) alignByWords(narrations []SceneNarration, windows map[int]SceneWindow, stamps []WordStamp) []CaptionWindow {
	total := 0
	for _, n := range narrations {
		total += n.WordCount
	}
	// A transcript that diverges too far from the script is worse than the
	// sentence estimate.
	if total == 0 || len(stamps) < total/2 {
		return nil
	}

	out := make([]CaptionWindow, 0, len(narrations))
	cursor := 0
	for _, n := range narrations {
		take := n.WordCount
		if cursor+take > len(stamps) {
			take = len(stamps) - cursor
		}
		if take <= 0 {
			break
		}
		start := stamps[cursor].StartMs
		end := stamps[cursor+take-1].EndMs
		cursor += take
		out = append(out, clampWindow(CaptionWindow{
			SceneID:    n.SceneID,
			Text:       n.Text,
			StartMs:    start,
			EndMs:      end,
			Confidence: ConfidenceWord,
		}, windows[n.SceneID]))
	}
	return out
}

func (a *Aligner) alignBySentences(narrations []SceneNarration, windows map[int]SceneWindow) []CaptionWindow {
	out := make([]CaptionWindow, 0, len(narrations))
	for _, n := range narrations {
		out = append(out, clampWindow(CaptionWindow{
			SceneID:    n.SceneID,
			Text:       n.Text,
			StartMs:    n.StartMs,
			EndMs:      n.StartMs + n.DurationMs,
			Confidence: ConfidenceSentence,
		}, windows[n.SceneID]))
	}
	return out
}

func (a *Aligner) alignEvenly(narrations []SceneNarration, windows map[int]SceneWindow) []CaptionWindow {
	out := make([]CaptionWindow, 0, len(narrations))
	for _, n := range narrations {
		w, ok := windows[n.SceneID]
		if !ok {
			continue
		}
		start := w.StartMs + captionInsetMs
		end := w.EndMs - captionInsetMs
		if end <= start {
			start, end = w.StartMs, w.EndMs
		}
		out = append(out, CaptionWindow{
			SceneID:    n.SceneID,
			Text:       n.Text,
			StartMs:    start,
			EndMs:      end,
			Confidence: ConfidenceEven,
		})
	}
	return out
}

// clampWindow keeps a caption inside its scene's span with the standard
// inset, falling back to the raw span for very short scenes.
func clampWindow(c CaptionWindow, w SceneWindow) CaptionWindow {
	if w.EndMs <= w.StartMs {
		return c
	}
	lo := w.StartMs + captionInsetMs
	hi := w.EndMs - captionInsetMs
	if hi <= lo {
		lo, hi = w.StartMs, w.EndMs
	}
	if c.StartMs < lo {
		c.StartMs = lo
	}
	if c.EndMs > hi {
		c.EndMs = hi
	}
	if c.EndMs <= c.StartMs {
		c.StartMs, c.EndMs = lo, hi
	}
	return c
}

type gcpTranscriber struct {
	log   *logger.Logger
	media localmedia.Tools
}

// NewGCPTranscriber uses Cloud Speech with word time offsets enabled.
// Requires application-default credentials in the worker environment.
func NewGCPTranscriber(log *logger.Logger, media localmedia.Tools) Transcriber {
	return &gcpTranscriber{
		log:   log.With("service", "GCPTranscriber"),
		media: media,
	}
}

func (t *gcpTranscriber) Words(ctx context.Context, audioPath string) ([]WordStamp, error) {
	// Sync recognition wants LINEAR16; transcode into a scratch wav.
	wav := filepath.Join(os.TempDir(), fmt.Sprintf("stt_%d.wav", os.Getpid()))
	defer os.Remove(wav)
	if err := t.media.FFmpeg(ctx, "-i", audioPath, "-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", wav); err != nil {
		return nil, fmt.Errorf("transcode for recognition: %w", err)
	}
	raw, err := os.ReadFile(wav)
	if err != nil {
		return nil, err
	}

	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}
	defer client.Close()

	resp, err := client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:              speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:       16000,
			LanguageCode:          "en-US",
			EnableWordTimeOffsets: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: raw},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	var stamps []WordStamp
	for _, result := range resp.Results {
		if len(result.Alternatives) == 0 {
			continue
		}
		for _, w := range result.Alternatives[0].Words {
			stamps = append(stamps, WordStamp{
				Word:    strings.TrimSpace(w.Word),
				StartMs: w.StartTime.AsDuration().Milliseconds(),
				EndMs:   w.EndTime.AsDuration().Milliseconds(),
			})
		}
	}
	return stamps, nil
}
