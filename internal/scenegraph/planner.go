package scenegraph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

// PlanInput is everything the planner considers. VoiceoverDurationMs is the
// measured length of an already-ingested voice track, when one exists.
type PlanInput struct {
	Prompt                string
	Assets                []string // image URIs in upload order
	PresetID              string
	BrandSafe             bool
	TargetDurationSeconds int
	VoiceoverDurationMs   int
	EnginePreference      string
	Music                 string
	VoiceScript           string
	VoiceAsset            string
}

type Planner interface {
	Plan(input PlanInput) (*Graph, error)
}

type planner struct {
	log     *logger.Logger
	presets map[string]app.Preset
}

func NewPlanner(log *logger.Logger, presets map[string]app.Preset) Planner {
	return &planner{
		log:     log.With("service", "ScenePlanner"),
		presets: presets,
	}
}

var (
	shotMarkerRe   = regexp.MustCompile(`(?i)<SHOT\s+\d+>`)
	sentenceEndRe  = regexp.MustCompile(`[.!?]+`)
	whitespaceOnly = regexp.MustCompile(`^\s*$`)
)

const (
	maxTotalMs   = 60000
	minSceneMs   = 1000
	kenBurnsOpts = 4
)

var kenBurnsVariants = [kenBurnsOpts]string{"zoom_in", "zoom_out", "pan_up", "pan_down"}

// Mood and camera-motion vocabularies for per-scene style extraction.
var moodKeywords = []string{
	"energetic", "calm", "dramatic", "playful", "professional",
	"moody", "upbeat", "serene", "intense", "relaxed",
}

var cameraKeywords = []string{
	"zoom", "pan", "orbit", "dolly", "tracking",
	"handheld", "aerial", "close-up", "wide shot", "push-in",
}

func (p *planner) Plan(input PlanInput) (*Graph, error) {
	preset, hasPreset := p.presets[input.PresetID]

	var scenes []Scene
	var strategy string

	prompt := strings.TrimSpace(input.Prompt)
	switch {
	case prompt != "" && shotMarkerRe.MatchString(prompt):
		strategy = StrategyShotMarkers
		scenes = p.planFromMarkers(prompt, input, preset)
	case prompt != "":
		strategy = StrategySentences
		scenes = p.planFromSentences(prompt, input, preset)
	case len(input.Assets) > 0:
		strategy = StrategyAssetDriven
		scenes = p.planFromAssets(input)
	default:
		strategy = StrategyTemplate
		scenes = p.planFromTemplate(input, preset, hasPreset)
	}

	if len(scenes) == 0 {
		return nil, &PlanningError{Reason: "no scenes could be derived from the request"}
	}

	p.assignDurations(scenes, input)

	if input.BrandSafe {
		for i := range scenes {
			if scenes[i].Transition != TransitionCut && scenes[i].Transition != TransitionFade {
				scenes[i].Transition = TransitionFade
			}
		}
	}

	for i := range scenes {
		scenes[i].ID = i + 1
	}

	g := &Graph{
		Version:   SchemaVersion,
		Strategy:  strategy,
		PresetID:  input.PresetID,
		BrandSafe: input.BrandSafe,
		Scenes:    scenes,
	}
	if input.VoiceScript != "" || input.VoiceAsset != "" || input.Music != "" {
		g.GlobalAudio = &GlobalAudio{
			VoiceScript: input.VoiceScript,
			VoiceAsset:  input.VoiceAsset,
			Music:       input.Music,
		}
	}

	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("planned graph invalid: %w", err)
	}

	p.log.Info("scene graph planned",
		"strategy", strategy,
		"scenes", len(scenes),
		"total_ms", g.TotalDurationMs(),
	)
	return g, nil
}

func (p *planner) planFromMarkers(prompt string, input PlanInput, preset app.Preset) []Scene {
	segments := shotMarkerRe.Split(prompt, -1)
	var scenes []Scene
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if whitespaceOnly.MatchString(seg) {
			continue
		}
		scenes = append(scenes, p.textScene(seg, len(scenes), input, preset))
	}
	return scenes
}

func (p *planner) planFromSentences(prompt string, input PlanInput, preset app.Preset) []Scene {
	sentences := SplitSentences(prompt)
	var scenes []Scene
	for _, sentence := range sentences {
		scenes = append(scenes, p.textScene(sentence, len(scenes), input, preset))
	}
	return scenes
}

// textScene builds one scene from a text segment. Images are consumed round
// robin when available; otherwise the segment becomes a video prompt.
func (p *planner) textScene(text string, idx int, input PlanInput, preset app.Preset) Scene {
	s := Scene{
		Description: text,
		Caption:     text,
		Transition:  TransitionFade,
		Style:       extractStyle(text, preset),
	}
	if len(input.Assets) > 0 {
		s.Media = Media{
			Type:   MediaImage,
			Asset:  input.Assets[idx%len(input.Assets)],
			Motion: kenBurnsVariants[idx%kenBurnsOpts],
		}
	} else {
		s.Media = Media{
			Type:   MediaVideo,
			Engine: input.EnginePreference,
			Prompt: text,
		}
	}
	return s
}

func (p *planner) planFromAssets(input PlanInput) []Scene {
	scenes := make([]Scene, 0, len(input.Assets))
	for i, asset := range input.Assets {
		scenes = append(scenes, Scene{
			Description: fmt.Sprintf("Showcase image %d", i+1),
			Media: Media{
				Type:   MediaImage,
				Asset:  asset,
				Motion: kenBurnsVariants[i%kenBurnsOpts],
			},
			Transition: TransitionFade,
		})
	}
	return scenes
}

func (p *planner) planFromTemplate(input PlanInput, preset app.Preset, hasPreset bool) []Scene {
	name := "the product"
	keywords := ""
	if hasPreset {
		if preset.Name != "" {
			name = preset.Name
		}
		keywords = preset.Keywords
	}
	parts := []struct {
		desc    string
		caption string
	}{
		{fmt.Sprintf("Opening shot introducing %s, %s", name, keywords), "Introducing"},
		{fmt.Sprintf("Feature highlight of %s in use, %s", name, keywords), "See it in action"},
		{fmt.Sprintf("Closing call to action for %s", name), "Get yours today"},
	}
	scenes := make([]Scene, 0, 3)
	for _, part := range parts {
		scenes = append(scenes, Scene{
			Description: strings.TrimSpace(strings.TrimSuffix(part.desc, ", ")),
			Caption:     part.caption,
			Media: Media{
				Type:   MediaVideo,
				Engine: input.EnginePreference,
				Prompt: part.desc,
			},
			Transition: TransitionFade,
			Style:      extractStyle(part.desc, preset),
		})
	}
	return scenes
}

// assignDurations distributes time across scenes. With a measured voiceover
// the split is character-weighted; otherwise equal. Either way the total is
// capped at 60s and every scene keeps its 1s floor.
func (p *planner) assignDurations(scenes []Scene, input PlanInput) {
	n := len(scenes)
	if n == 0 {
		return
	}
	if input.VoiceoverDurationMs > 0 {
		budget := input.VoiceoverDurationMs
		if budget > maxTotalMs {
			budget = maxTotalMs
		}
		totalChars := 0
		for i := range scenes {
			totalChars += len(scenes[i].Description)
		}
		if totalChars == 0 {
			totalChars = n
		}
		for i := range scenes {
			chars := len(scenes[i].Description)
			if chars == 0 {
				chars = 1
			}
			d := budget * chars / totalChars
			if d < minSceneMs {
				d = minSceneMs
			}
			scenes[i].DurationMs = d
		}
	} else {
		target := input.TargetDurationSeconds * 1000
		if target <= 0 {
			target = maxTotalMs
		}
		d := target / n
		if d < minSceneMs {
			d = minSceneMs
		}
		for i := range scenes {
			scenes[i].DurationMs = d
		}
	}

	scaleToCap(scenes)
}

// scaleToCap proportionally shrinks durations past the 60s cap. The 1s floor
// is preserved, so repeated passes converge when many short scenes pin at the
// floor while longer ones absorb the reduction.
func scaleToCap(scenes []Scene) {
	for pass := 0; pass < len(scenes)+1; pass++ {
		total := 0
		for i := range scenes {
			total += scenes[i].DurationMs
		}
		if total <= maxTotalMs {
			return
		}
		adjustable := 0
		for i := range scenes {
			if scenes[i].DurationMs > minSceneMs {
				adjustable += scenes[i].DurationMs - minSceneMs
			}
		}
		if adjustable == 0 {
			// Everything at floor; nothing left to shrink.
			return
		}
		excess := total - maxTotalMs
		for i := range scenes {
			headroom := scenes[i].DurationMs - minSceneMs
			if headroom <= 0 {
				continue
			}
			cut := excess * headroom / adjustable
			scenes[i].DurationMs -= cut
			if scenes[i].DurationMs < minSceneMs {
				scenes[i].DurationMs = minSceneMs
			}
		}
	}
}

// SplitSentences splits on sentence terminators, dropping empty fragments.
func SplitSentences(text string) []string {
	raw := sentenceEndRe.Split(text, -1)
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func extractStyle(text string, preset app.Preset) *Style {
	lower := strings.ToLower(text)
	style := &Style{
		Mood:         preset.StyleDefaults.Mood,
		CameraMotion: preset.StyleDefaults.CameraMotion,
		Lighting:     preset.StyleDefaults.Lighting,
	}
	for _, kw := range moodKeywords {
		if strings.Contains(lower, kw) {
			style.Mood = kw
			break
		}
	}
	for _, kw := range cameraKeywords {
		if strings.Contains(lower, kw) {
			style.CameraMotion = kw
			break
		}
	}
	if style.Mood == "" && style.CameraMotion == "" && style.Lighting == "" {
		return nil
	}
	return style
}
