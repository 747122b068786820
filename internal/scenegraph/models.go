package scenegraph

import (
	"encoding/json"
	"fmt"
)

const SchemaVersion = "2.0"

// Duration bounds in milliseconds. Scenes and the whole graph both cap at
// one minute; shorter scenes than one second never render legibly.
const (
	MinSceneDurationMs = 1000
	MaxSceneDurationMs = 60000
	MaxTotalDurationMs = 60000
)

// Media variants.
const (
	MediaImage = "IMAGE"
	MediaVideo = "VIDEO"
)

// Transition names as they appear in scene graphs. The assembler maps these
// onto ffmpeg xfade transitions.
const (
	TransitionCut       = "CUT"
	TransitionFade      = "FADE"
	TransitionFadeBlack = "FADE_BLACK"
	TransitionSwipeL    = "SWIPE_LEFT"
	TransitionSwipeR    = "SWIPE_RIGHT"
)

// Planning strategies, recorded on the graph for diagnostics.
const (
	StrategyShotMarkers = "shot_markers"
	StrategySentences   = "sentences"
	StrategyAssetDriven = "asset_driven"
	StrategyTemplate    = "template"
)

// Graph is the declarative plan. Hand-editable; the timeline derives all
// timing from it.
type Graph struct {
	Version     string       `json:"version"`
	Strategy    string       `json:"strategy,omitempty"`
	PresetID    string       `json:"presetId,omitempty"`
	BrandSafe   bool         `json:"brandSafe"`
	Scenes      []Scene      `json:"scenes"`
	GlobalAudio *GlobalAudio `json:"globalAudio,omitempty"`
}

// Scene ids are positive integers unique within the graph, assigned 1..N at
// planning time and stable through the whole pipeline.
type Scene struct {
	ID          int       `json:"id"`
	Description string    `json:"description"`
	DurationMs  int       `json:"duration"`
	Media       Media     `json:"media"`
	Caption     string    `json:"caption,omitempty"`
	Style       *Style    `json:"style,omitempty"`
	Overlays    []Overlay `json:"overlays,omitempty"`
	Transition  string    `json:"transition"`
}

type Media struct {
	Type   string `json:"type"` // IMAGE | VIDEO
	Asset  string `json:"asset,omitempty"`
	Engine string `json:"engine,omitempty"`
	Prompt string `json:"prompt,omitempty"`
	// Ken Burns variant for IMAGE media: zoom_in, zoom_out, pan_up, pan_down.
	Motion string `json:"motion,omitempty"`
}

type Style struct {
	Mood         string `json:"mood,omitempty"`
	CameraMotion string `json:"cameraMotion,omitempty"`
	Lighting     string `json:"lighting,omitempty"`
}

type Overlay struct {
	Type     string  `json:"type"`
	Asset    string  `json:"asset"`
	Position string  `json:"position,omitempty"`
	Scale    float64 `json:"scale,omitempty"`   // [0.01, 2]
	Opacity  float64 `json:"opacity,omitempty"` // [0, 1]
}

type GlobalAudio struct {
	VoiceScript string `json:"voiceScript,omitempty"`
	VoiceAsset  string `json:"voiceAsset,omitempty"`
	Music       string `json:"music,omitempty"`
}

func (g *Graph) TotalDurationMs() int {
	total := 0
	for i := range g.Scenes {
		total += g.Scenes[i].DurationMs
	}
	return total
}

// Validate enforces the structural invariants a graph must satisfy before
// any downstream stage consumes it.
func (g *Graph) Validate() error {
	if len(g.Scenes) == 0 {
		return &PlanningError{Reason: "graph has no scenes"}
	}
	seen := map[int]bool{}
	for i := range g.Scenes {
		s := &g.Scenes[i]
		if s.ID <= 0 {
			return fmt.Errorf("scene %d: id must be positive", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("scene id %d duplicated", s.ID)
		}
		seen[s.ID] = true
		if s.Description == "" {
			return fmt.Errorf("scene %d: empty description", s.ID)
		}
		if s.DurationMs < MinSceneDurationMs || s.DurationMs > MaxSceneDurationMs {
			return fmt.Errorf("scene %d: duration %dms out of range", s.ID, s.DurationMs)
		}
		if s.Media.Type == MediaVideo {
			if s.Media.Engine == "" && s.Media.Asset == "" && s.Media.Prompt == "" {
				return fmt.Errorf("scene %d: VIDEO media needs engine, asset, or prompt", s.ID)
			}
			if s.Media.Engine != "" && s.Media.Prompt == "" {
				return fmt.Errorf("scene %d: engine set without prompt", s.ID)
			}
		}
	}
	if g.TotalDurationMs() > MaxTotalDurationMs {
		return fmt.Errorf("total duration %dms exceeds %dms", g.TotalDurationMs(), MaxTotalDurationMs)
	}
	return nil
}

func (g *Graph) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal scene graph: %w", err)
	}
	return data, nil
}

func Parse(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("parse scene graph: %w", err)
	}
	return &g, nil
}

// PlanningError means no usable scenes could be derived from the request.
type PlanningError struct {
	Reason string
}

func (e *PlanningError) Error() string {
	return "scene planning failed: " + e.Reason
}
