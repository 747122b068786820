package audio

import (
	"context"
	"fmt"
	"testing"
)

type fakeTranscriber struct {
	stamps []WordStamp
	err    error
}

func (f *fakeTranscriber) Words(ctx context.Context, audioPath string) ([]WordStamp, error) {
	return f.stamps, f.err
}

func stampsFor(words int, stepMs int64) []WordStamp {
	out := make([]WordStamp, words)
	for i := range out {
		start := int64(i) * stepMs
		out[i] = WordStamp{Word: fmt.Sprintf("w%d", i), StartMs: start, EndMs: start + stepMs}
	}
	return out
}

func TestAlignWordLevel(t *testing.T) {
	narr := []SceneNarration{
		{SceneID: 1, Text: "one two three", WordCount: 3, StartMs: 0, DurationMs: 1500},
		{SceneID: 2, Text: "four five", WordCount: 2, StartMs: 1500, DurationMs: 1000},
	}
	windows := []SceneWindow{
		{SceneID: 1, StartMs: 0, EndMs: 5000},
		{SceneID: 2, StartMs: 5000, EndMs: 10000},
	}
	a := NewAligner(testLogger(t), &fakeTranscriber{stamps: stampsFor(5, 400)})
	caps := a.Align(context.Background(), "/tmp/voice.m4a", narr, windows)
	if len(caps) != 2 {
		t.Fatalf("expected 2 captions, got %d", len(caps))
	}
	if caps[0].Confidence != ConfidenceWord {
		t.Fatalf("expected word-level confidence, got %q", caps[0].Confidence)
	}
	// First narration covers stamps 0..2, so its raw span is [0,1200],
	// clamped to the scene inset.
	if caps[0].StartMs != 100 {
		t.Fatalf("caption must respect the scene inset, got start %d", caps[0].StartMs)
	}
	if caps[0].EndMs != 1200 {
		t.Fatalf("word-aligned end wrong: %d", caps[0].EndMs)
	}
}

func TestAlignFallsBackToSentences(t *testing.T) {
	narr := []SceneNarration{
		{SceneID: 1, Text: "hello there", WordCount: 2, StartMs: 0, DurationMs: 2000},
	}
	windows := []SceneWindow{{SceneID: 1, StartMs: 0, EndMs: 5000}}

	a := NewAligner(testLogger(t), &fakeTranscriber{err: fmt.Errorf("no credentials")})
	caps := a.Align(context.Background(), "/tmp/voice.m4a", narr, windows)
	if len(caps) != 1 || caps[0].Confidence != ConfidenceSentence {
		t.Fatalf("expected sentence-level fallback, got %+v", caps)
	}
	if caps[0].StartMs != 100 || caps[0].EndMs != 2000 {
		t.Fatalf("sentence window wrong: [%d, %d]", caps[0].StartMs, caps[0].EndMs)
	}
}

func TestAlignSparseTranscriptRejected(t *testing.T) {
	narr := []SceneNarration{
		{SceneID: 1, Text: "a script with quite a lot of words in it", WordCount: 10, StartMs: 0, DurationMs: 4000},
	}
	windows := []SceneWindow{{SceneID: 1, StartMs: 0, EndMs: 5000}}

	// Fewer than half the expected words came back; the aligner must not
	// trust the transcript.
	a := NewAligner(testLogger(t), &fakeTranscriber{stamps: stampsFor(3, 400)})
	caps := a.Align(context.Background(), "/tmp/voice.m4a", narr, windows)
	if len(caps) != 1 || caps[0].Confidence != ConfidenceSentence {
		t.Fatalf("sparse transcript must fall back, got %+v", caps)
	}
}

func TestAlignEvenSplitWithoutVoice(t *testing.T) {
	narr := []SceneNarration{
		{SceneID: 1, Text: "caption one", WordCount: 2},
		{SceneID: 2, Text: "caption two", WordCount: 2},
	}
	windows := []SceneWindow{
		{SceneID: 1, StartMs: 0, EndMs: 4000},
		{SceneID: 2, StartMs: 4000, EndMs: 8000},
	}
	a := NewAligner(testLogger(t), nil)
	caps := a.Align(context.Background(), "", narr, windows)
	if len(caps) != 2 {
		t.Fatalf("expected 2 captions, got %d", len(caps))
	}
	for i, c := range caps {
		w := windows[i]
		if c.Confidence != ConfidenceEven {
			t.Fatalf("caption %d: expected even split, got %q", i, c.Confidence)
		}
		if c.StartMs != w.StartMs+captionInsetMs || c.EndMs != w.EndMs-captionInsetMs {
			t.Fatalf("caption %d not inset: [%d, %d]", i, c.StartMs, c.EndMs)
		}
	}
}
