package timeline

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
)

func testBuilder(t *testing.T) Builder {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return NewBuilder(log, 500)
}

func graphOf(t *testing.T, durations []int, transition string, captions bool) *scenegraph.Graph {
	t.Helper()
	g := &scenegraph.Graph{Version: scenegraph.SchemaVersion}
	for i, d := range durations {
		s := scenegraph.Scene{
			ID:          i + 1,
			Description: "scene",
			DurationMs:  d,
			Media:       scenegraph.Media{Type: scenegraph.MediaVideo, Prompt: "scene"},
			Transition:  transition,
		}
		if captions {
			s.Caption = "caption text"
		}
		g.Scenes = append(g.Scenes, s)
	}
	return g
}

func TestBuildCursorLayout(t *testing.T) {
	b := testBuilder(t)
	tl, err := b.Build(graphOf(t, []int{5000, 5000, 5000}, scenegraph.TransitionFade, false))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tl.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(tl.Entries))
	}
	// Each crossfade borrows 500ms: starts at 0, 4500, 9000.
	wantStarts := []int{0, 4500, 9000}
	for i, e := range tl.Entries {
		if e.StartMs != wantStarts[i] {
			t.Fatalf("entry %d: start %d, want %d", i, e.StartMs, wantStarts[i])
		}
		if e.EndMs-e.StartMs != 5000 {
			t.Fatalf("entry %d: span %d, want 5000", i, e.EndMs-e.StartMs)
		}
	}
	if tl.TotalDurationMs != 14000 {
		t.Fatalf("total %d, want 14000", tl.TotalDurationMs)
	}
	if tl.Entries[2].Transition != nil {
		t.Fatalf("last entry must not carry a transition")
	}
}

func TestBuildCutHasNoOverlap(t *testing.T) {
	b := testBuilder(t)
	tl, err := b.Build(graphOf(t, []int{3000, 3000}, scenegraph.TransitionCut, false))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tl.Entries[1].StartMs != 3000 {
		t.Fatalf("cut should not overlap: start %d", tl.Entries[1].StartMs)
	}
	if tl.Entries[0].Transition.DurationMs != 0 {
		t.Fatalf("cut transition duration must be 0, got %d", tl.Entries[0].Transition.DurationMs)
	}
	if tl.TotalDurationMs != 6000 {
		t.Fatalf("total %d, want 6000", tl.TotalDurationMs)
	}
}

func TestBuildProportionalReduction(t *testing.T) {
	b := testBuilder(t)
	durations := make([]int, 15)
	for i := range durations {
		durations[i] = 5000
	}
	tl, err := b.Build(graphOf(t, durations, scenegraph.TransitionCut, false))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if tl.TotalDurationMs > 60000 {
		t.Fatalf("total %dms exceeds cap", tl.TotalDurationMs)
	}
	for i := 1; i < len(tl.Entries); i++ {
		if tl.Entries[i].StartMs < tl.Entries[i-1].StartMs {
			t.Fatalf("entry %d: starts out of order", i)
		}
	}
}

func TestBuildCaptionContainment(t *testing.T) {
	b := testBuilder(t)
	tl, err := b.Build(graphOf(t, []int{5000, 5000}, scenegraph.TransitionFade, true))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tl.Tracks.Captions) != 2 {
		t.Fatalf("expected 2 caption tracks, got %d", len(tl.Tracks.Captions))
	}
	entryByScene := map[int]Entry{}
	for _, e := range tl.Entries {
		entryByScene[e.SceneID] = e
	}
	for i, c := range tl.Tracks.Captions {
		e := entryByScene[c.SceneID]
		if c.StartMs != e.StartMs+200 || c.EndMs != e.EndMs-200 {
			t.Fatalf("caption %d: [%d,%d] not inset from [%d,%d]",
				i, c.StartMs, c.EndMs, e.StartMs, e.EndMs)
		}
	}
}

func TestBuildShortSceneCaptionClamped(t *testing.T) {
	b := testBuilder(t)
	// 1000ms scene: inset window would still be positive (600ms), but test
	// the degenerate path via a graph manipulated after planning.
	g := graphOf(t, []int{1000}, scenegraph.TransitionCut, true)
	tl, err := b.Build(g)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c := tl.Tracks.Captions[0]
	if c.EndMs <= c.StartMs {
		t.Fatalf("caption window inverted: [%d,%d]", c.StartMs, c.EndMs)
	}
}

func TestBuildAudioTracks(t *testing.T) {
	b := testBuilder(t)
	g := graphOf(t, []int{5000, 5000}, scenegraph.TransitionFade, false)
	g.GlobalAudio = &scenegraph.GlobalAudio{
		VoiceScript: "Hello there. General greeting.",
		Music:       "upbeat_minimal",
	}
	tl, err := b.Build(g)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tl.Tracks.Audio) != 2 {
		t.Fatalf("expected voiceover and music tracks, got %d", len(tl.Tracks.Audio))
	}
	var music *AudioTrack
	for i := range tl.Tracks.Audio {
		if tl.Tracks.Audio[i].Type == AudioMusic {
			music = &tl.Tracks.Audio[i]
		}
		if tl.Tracks.Audio[i].StartMs != 0 || tl.Tracks.Audio[i].EndMs != tl.TotalDurationMs {
			t.Fatalf("audio track %d must span the whole timeline", i)
		}
	}
	if music == nil {
		t.Fatalf("missing music track")
	}
	if music.Volume != 0.5 {
		t.Fatalf("music volume %f, want 0.5", music.Volume)
	}
}

func TestTimelineJSONRoundTrip(t *testing.T) {
	b := testBuilder(t)
	g := graphOf(t, []int{4000, 4000, 4000}, scenegraph.TransitionFade, true)
	g.GlobalAudio = &scenegraph.GlobalAudio{Music: "mellow_acoustic"}
	tl, err := b.Build(g)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	data, err := tl.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	a, _ := json.Marshal(tl)
	bb, _ := json.Marshal(parsed)
	var x, y interface{}
	if err := json.Unmarshal(a, &x); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(bb, &y); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(x, y) {
		t.Fatalf("round-trip changed the document")
	}
}

func TestBuildOverlayLayers(t *testing.T) {
	b := testBuilder(t)
	g := graphOf(t, []int{5000}, scenegraph.TransitionCut, false)
	g.Scenes[0].Overlays = []scenegraph.Overlay{
		{Type: "logo", Asset: "file:///uploads/logo.png", Position: "top-right", Scale: 0.2, Opacity: 0.8},
	}
	tl, err := b.Build(g)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tl.Tracks.Video) != 2 {
		t.Fatalf("expected base + overlay tracks, got %d", len(tl.Tracks.Video))
	}
	if tl.Tracks.Video[1].Layer != 1 {
		t.Fatalf("overlay must sit on layer 1, got %d", tl.Tracks.Video[1].Layer)
	}
	if tl.Tracks.Video[1].Transform == nil || tl.Tracks.Video[1].Transform.Opacity != 0.8 {
		t.Fatalf("overlay transform not carried through")
	}
}
