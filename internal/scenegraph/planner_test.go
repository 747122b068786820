package scenegraph

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

func testPlanner(t *testing.T) Planner {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	presets := map[string]app.Preset{
		"product_hero_clean": {
			ID:       "product_hero_clean",
			Name:     "Product Hero (Clean)",
			Keywords: "studio product shot, premium, minimal",
		},
	}
	return NewPlanner(log, presets)
}

func TestPlanThreeSentences(t *testing.T) {
	p := testPlanner(t)
	g, err := p.Plan(PlanInput{
		Prompt:                "Product reveal. Key features. Call to action.",
		PresetID:              "product_hero_clean",
		TargetDurationSeconds: 15,
		BrandSafe:             true,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(g.Scenes) != 3 {
		t.Fatalf("expected 3 scenes, got %d", len(g.Scenes))
	}
	for i, s := range g.Scenes {
		if s.ID != i+1 {
			t.Fatalf("scene %d: expected id %d, got %d", i, i+1, s.ID)
		}
		if s.DurationMs != 5000 {
			t.Fatalf("scene %d: expected 5000ms, got %d", i, s.DurationMs)
		}
		if s.Transition != TransitionCut && s.Transition != TransitionFade {
			t.Fatalf("scene %d: brand-safe violated with transition %q", i, s.Transition)
		}
	}
	if g.TotalDurationMs() > 15000 {
		t.Fatalf("total %dms exceeds target", g.TotalDurationMs())
	}
}

func TestPlanSingleSentence(t *testing.T) {
	p := testPlanner(t)
	g, err := p.Plan(PlanInput{
		Prompt:                "A stunning product reveal.",
		TargetDurationSeconds: 6,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(g.Scenes) < 1 {
		t.Fatalf("expected at least one scene")
	}
	if g.TotalDurationMs() > 6000 {
		t.Fatalf("total %dms exceeds 6000ms", g.TotalDurationMs())
	}
	if g.Scenes[0].Caption == "" {
		t.Fatalf("expected non-empty caption")
	}
}

func TestPlanShotMarkers(t *testing.T) {
	p := testPlanner(t)
	g, err := p.Plan(PlanInput{
		Prompt:                "<SHOT 1> Opening wide shot <SHOT 2> Detail close-up <SHOT 3> Logo reveal",
		TargetDurationSeconds: 12,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if g.Strategy != StrategyShotMarkers {
		t.Fatalf("expected shot_markers strategy, got %q", g.Strategy)
	}
	if len(g.Scenes) != 3 {
		t.Fatalf("expected 3 scenes, got %d", len(g.Scenes))
	}
}

func TestPlanAssetDrivenCapsAtSixtySeconds(t *testing.T) {
	p := testPlanner(t)
	assets := make([]string, 15)
	for i := range assets {
		assets[i] = fmt.Sprintf("file:///uploads/p%d.jpg", i+1)
	}
	g, err := p.Plan(PlanInput{
		Assets:                assets,
		PresetID:              "product_hero_clean",
		TargetDurationSeconds: 60,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(g.Scenes) != 15 {
		t.Fatalf("expected 15 scenes, got %d", len(g.Scenes))
	}
	if g.TotalDurationMs() > 60000 {
		t.Fatalf("total %dms exceeds cap", g.TotalDurationMs())
	}
	for i, s := range g.Scenes {
		if s.Media.Type != MediaImage {
			t.Fatalf("scene %d: expected IMAGE media, got %q", i, s.Media.Type)
		}
		if s.DurationMs < 1000 {
			t.Fatalf("scene %d: duration %dms below floor", i, s.DurationMs)
		}
	}
}

func TestPlanTemplateWhenEmpty(t *testing.T) {
	p := testPlanner(t)
	g, err := p.Plan(PlanInput{
		PresetID:              "product_hero_clean",
		TargetDurationSeconds: 15,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if g.Strategy != StrategyTemplate {
		t.Fatalf("expected template strategy, got %q", g.Strategy)
	}
	if len(g.Scenes) != 3 {
		t.Fatalf("expected 3 template scenes, got %d", len(g.Scenes))
	}
}

func TestPlanVoiceoverWeightedDurations(t *testing.T) {
	p := testPlanner(t)
	g, err := p.Plan(PlanInput{
		Prompt:              "Short. This second sentence is considerably longer than the first one.",
		VoiceoverDurationMs: 10000,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(g.Scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(g.Scenes))
	}
	if g.Scenes[1].DurationMs <= g.Scenes[0].DurationMs {
		t.Fatalf("longer sentence should get more time: %d vs %d",
			g.Scenes[0].DurationMs, g.Scenes[1].DurationMs)
	}
	if g.Scenes[0].DurationMs < 1000 {
		t.Fatalf("floor violated: %dms", g.Scenes[0].DurationMs)
	}
}

func TestSceneIDsUnique(t *testing.T) {
	p := testPlanner(t)
	g, err := p.Plan(PlanInput{
		Prompt:                "One. Two. Three. Four. Five.",
		TargetDurationSeconds: 30,
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	seen := map[int]bool{}
	for _, s := range g.Scenes {
		if seen[s.ID] {
			t.Fatalf("duplicate scene id %d", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestGraphJSONRoundTrip(t *testing.T) {
	p := testPlanner(t)
	g, err := p.Plan(PlanInput{
		Prompt:                "Product reveal. Key features.",
		PresetID:              "product_hero_clean",
		TargetDurationSeconds: 10,
		BrandSafe:             true,
		Music:                 "upbeat_minimal",
		VoiceScript:           "Product reveal. Key features.",
	})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	data, err := g.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	reencoded, err := json.Marshal(parsed)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	original, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal original: %v", err)
	}
	var a, b interface{}
	if err := json.Unmarshal(original, &a); err != nil {
		t.Fatalf("unmarshal original: %v", err)
	}
	if err := json.Unmarshal(reencoded, &b); err != nil {
		t.Fatalf("unmarshal reencoded: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("round-trip changed the document")
	}
}

func TestPlanEmptyFails(t *testing.T) {
	p := testPlanner(t)
	_, err := p.Plan(PlanInput{Prompt: "...", TargetDurationSeconds: 10})
	if err == nil {
		t.Fatalf("expected PlanningError for punctuation-only prompt")
	}
	var perr *PlanningError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PlanningError, got %T: %v", err, err)
	}
}
