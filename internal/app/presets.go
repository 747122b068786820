package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults mirrors configs/defaults.yaml. All rendering components read
// their tunables from here rather than from scattered env vars.
type Defaults struct {
	Output struct {
		Width       int    `yaml:"width"`
		Height      int    `yaml:"height"`
		FPS         int    `yaml:"fps"`
		Codec       string `yaml:"codec"`
		PixelFormat string `yaml:"pixelFormat"`
		MaxBitrate  string `yaml:"maxBitrate"`
	} `yaml:"output"`

	Transition struct {
		DefaultDurationMs int `yaml:"defaultDurationMs"`
	} `yaml:"transition"`

	Limits struct {
		MaxAssetMb       int `yaml:"maxAssetMb"`
		MaxImageEdgePx   int `yaml:"maxImageEdgePx"`
		MaxTotalDuration int `yaml:"maxTotalDurationMs"`
	} `yaml:"limits"`

	V2 struct {
		Engines map[string]EngineDefaults `yaml:"engines"`

		FallbackChain []string `yaml:"fallbackChain"`

		PromptSanitization struct {
			Blocklist       []string          `yaml:"blocklist"`
			Substitutions   map[string]string `yaml:"substitutions"`
			MaxPromptLength int               `yaml:"maxPromptLength"`
			BrandSafeSuffix string            `yaml:"brandSafeSuffix"`
		} `yaml:"promptSanitization"`

		PresetEnginePrefs map[string]EnginePref `yaml:"presetEnginePrefs"`

		EngineRotation struct {
			Enabled          bool    `yaml:"enabled"`
			FailureThreshold float64 `yaml:"failureThreshold"`
			WindowSeconds    int     `yaml:"windowSeconds"`
			MinAttempts      int     `yaml:"minAttempts"`
		} `yaml:"engineRotation"`

		ContentModeration struct {
			Strictness string   `yaml:"strictness"`
			Blocklist  []string `yaml:"blocklist"`
		} `yaml:"contentModeration"`
	} `yaml:"v2"`

	TTS struct {
		PrimaryProvider string  `yaml:"primaryProvider"`
		BackupProvider  string  `yaml:"backupProvider"`
		VoiceName       string  `yaml:"voiceName"`
		Speed           float64 `yaml:"speed"`
		OutputFormat    string  `yaml:"outputFormat"`
	} `yaml:"tts"`
}

type EngineDefaults struct {
	Enabled                bool `yaml:"enabled"`
	TimeoutSeconds         int  `yaml:"timeoutSeconds"`
	MaxClipDurationSeconds int  `yaml:"maxClipDurationSeconds"`
}

type EnginePref struct {
	PreferredEngine  string   `yaml:"preferredEngine"`
	FallbackOverride []string `yaml:"fallbackOverride"`
}

// Preset is one entry of configs/presets.yaml.
type Preset struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Archetype string `yaml:"archetype"`
	BrandSafe bool   `yaml:"brandSafe"`
	Keywords  string `yaml:"keywords"`
	Music     string `yaml:"music"`

	CaptionStyle struct {
		Font              string  `yaml:"font"`
		FontSize          int     `yaml:"fontSize"`
		FontColor         string  `yaml:"fontColor"`
		OutlineColor      string  `yaml:"outlineColor"`
		OutlineWidth      int     `yaml:"outlineWidth"`
		BackgroundColor   string  `yaml:"backgroundColor"`
		BackgroundOpacity float64 `yaml:"backgroundOpacity"`
		Position          string  `yaml:"position"`
		BrandFont         string  `yaml:"brandFont"`
	} `yaml:"captionStyle"`

	ColorGrade struct {
		Profile    string  `yaml:"profile"`
		Brightness float64 `yaml:"brightness"`
		Contrast   float64 `yaml:"contrast"`
		Saturation float64 `yaml:"saturation"`
	} `yaml:"colorGrade"`

	StyleDefaults struct {
		Mood         string `yaml:"mood"`
		CameraMotion string `yaml:"cameraMotion"`
		Lighting     string `yaml:"lighting"`
	} `yaml:"styleDefaults"`
}

func LoadDefaults(path string) (*Defaults, error) {
	d := builtinDefaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil
		}
		return nil, fmt.Errorf("read defaults %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("parse defaults %s: %w", path, err)
	}
	return d, nil
}

func LoadPresets(path string) (map[string]Preset, error) {
	out := map[string]Preset{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("read presets %s: %w", path, err)
	}
	var doc struct {
		Presets []Preset `yaml:"presets"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse presets %s: %w", path, err)
	}
	for _, p := range doc.Presets {
		out[p.ID] = p
	}
	return out, nil
}

func builtinDefaults() *Defaults {
	d := &Defaults{}
	d.Output.Width = 1080
	d.Output.Height = 1920
	d.Output.FPS = 30
	d.Output.Codec = "h264"
	d.Output.PixelFormat = "yuv420p"
	d.Output.MaxBitrate = "12M"
	d.Transition.DefaultDurationMs = 500
	d.Limits.MaxAssetMb = 20
	d.Limits.MaxImageEdgePx = 4096
	d.Limits.MaxTotalDuration = 60000
	d.V2.FallbackChain = []string{"runway", "pika", "luma"}
	d.V2.PromptSanitization.MaxPromptLength = 500
	d.V2.PromptSanitization.BrandSafeSuffix = "professional, brand-safe, clean aesthetic"
	d.V2.PromptSanitization.Substitutions = map[string]string{
		"shoot":     "film",
		"shooting":  "filming",
		"explode":   "burst open",
		"explosion": "dynamic burst",
		"kill":      "eliminate",
		"weapon":    "tool",
		"gun":       "device",
		"blood":     "red liquid",
		"violent":   "intense",
		"nude":      "exposed",
		"naked":     "unclothed",
	}
	d.V2.EngineRotation.Enabled = false
	d.V2.EngineRotation.FailureThreshold = 0.5
	d.V2.EngineRotation.WindowSeconds = 300
	d.V2.EngineRotation.MinAttempts = 3
	d.V2.ContentModeration.Strictness = "standard"
	d.TTS.PrimaryProvider = "elevenlabs"
	d.TTS.BackupProvider = "openai"
	d.TTS.VoiceName = "default"
	d.TTS.Speed = 1.0
	d.TTS.OutputFormat = "mp3"
	return d
}
