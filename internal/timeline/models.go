package timeline

import (
	"encoding/json"
	"fmt"
)

const SchemaVersion = "2.0"

// Audio track types.
const (
	AudioVoiceover = "voiceover"
	AudioMusic     = "music"
	AudioSFX       = "sfx"
)

// Timeline is the authoritative timing document derived from a scene graph.
// All times are milliseconds from the start of the final video.
type Timeline struct {
	Version         string  `json:"version"`
	TotalDurationMs int     `json:"totalDuration"`
	Entries         []Entry `json:"timeline"`
	Tracks          Tracks  `json:"tracks"`
}

type Entry struct {
	SceneID    int         `json:"sceneId"`
	StartMs    int         `json:"start"`
	EndMs      int         `json:"end"`
	Transition *Transition `json:"transition,omitempty"`
}

// Transition describes the blend toward the next entry. Nil on the last
// entry.
type Transition struct {
	Kind       string `json:"kind"`
	DurationMs int    `json:"duration"`
}

type Tracks struct {
	Video    []VideoTrack   `json:"video"`
	Audio    []AudioTrack   `json:"audio"`
	Captions []CaptionTrack `json:"captions"`
}

type VideoTrack struct {
	SceneID int    `json:"sceneId"`
	Asset   string `json:"asset,omitempty"`
	Effect  string `json:"effect,omitempty"`
	Layer   int    `json:"layer"`
	// Transform carries overlay position/scale/opacity for layers >= 1.
	Transform *Transform `json:"transform,omitempty"`
}

type Transform struct {
	Position string  `json:"position,omitempty"`
	Scale    float64 `json:"scale,omitempty"`
	Opacity  float64 `json:"opacity,omitempty"`
}

type AudioTrack struct {
	Type        string       `json:"type"`
	File        string       `json:"file,omitempty"`
	StartMs     int          `json:"start"`
	EndMs       int          `json:"end,omitempty"`
	Volume      float64      `json:"volume"`
	DuckRegions []DuckRegion `json:"duckRegions,omitempty"`
}

type DuckRegion struct {
	StartMs int `json:"start"`
	EndMs   int `json:"end"`
}

type CaptionTrack struct {
	Text    string `json:"text"`
	StartMs int    `json:"start"`
	EndMs   int    `json:"end"`
	SceneID int    `json:"sceneId,omitempty"`
	Style   string `json:"style,omitempty"`
}

// Validate enforces the construction invariants: ascending entries, bounded
// overlap, caption containment, positive spans.
func (t *Timeline) Validate() error {
	if len(t.Entries) == 0 {
		return fmt.Errorf("timeline has no entries")
	}
	if t.TotalDurationMs < 1000 || t.TotalDurationMs > 60000 {
		return fmt.Errorf("total duration %dms out of range", t.TotalDurationMs)
	}
	for i, e := range t.Entries {
		if e.EndMs <= e.StartMs {
			return fmt.Errorf("entry %d: end %d <= start %d", i, e.EndMs, e.StartMs)
		}
		if i == 0 {
			continue
		}
		prev := t.Entries[i-1]
		if e.StartMs < prev.StartMs {
			return fmt.Errorf("entry %d: start %d before previous start %d", i, e.StartMs, prev.StartMs)
		}
		maxOverlap := 0
		if prev.Transition != nil {
			maxOverlap = prev.Transition.DurationMs
		}
		if overlap := prev.EndMs - e.StartMs; overlap > maxOverlap {
			return fmt.Errorf("entry %d: overlap %dms exceeds transition %dms", i, overlap, maxOverlap)
		}
	}
	entryByScene := map[int]Entry{}
	for _, e := range t.Entries {
		entryByScene[e.SceneID] = e
	}
	for i, c := range t.Tracks.Captions {
		if c.EndMs <= c.StartMs {
			return fmt.Errorf("caption %d: end %d <= start %d", i, c.EndMs, c.StartMs)
		}
		if c.SceneID != 0 {
			e, ok := entryByScene[c.SceneID]
			if !ok {
				return fmt.Errorf("caption %d: unknown scene id %d", i, c.SceneID)
			}
			if c.StartMs < e.StartMs-200 || c.EndMs > e.EndMs+200 {
				return fmt.Errorf("caption %d: [%d,%d] outside scene %d window [%d,%d]",
					i, c.StartMs, c.EndMs, c.SceneID, e.StartMs, e.EndMs)
			}
		}
	}
	for i, a := range t.Tracks.Audio {
		if a.Volume < 0 || a.Volume > 2 {
			return fmt.Errorf("audio track %d: volume %f out of range", i, a.Volume)
		}
	}
	return nil
}

func (t *Timeline) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal timeline: %w", err)
	}
	return data, nil
}

func Parse(data []byte) (*Timeline, error) {
	var t Timeline
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse timeline: %w", err)
	}
	return &t, nil
}
