package captions

import (
	"github.com/reelsmith/reelsmith-backend/internal/app"
)

const (
	// Hard floor for any caption regardless of preset.
	minFontSize = 20
	// Brand-safe jobs never render below this size.
	brandSafeMinFontSize = 24

	frameWidth  = 1080
	frameHeight = 1920

	// Safe zone insets keep captions clear of platform UI chrome.
	safeTopPx    = 100
	safeBottomPx = 150
	safeSidePx   = 54

	fadeSeconds = 0.2
)

// Style is the fully resolved caption appearance for one job.
type Style struct {
	Font              string
	FontSize          int
	FontColor         string
	OutlineColor      string
	OutlineWidth      int
	BackgroundColor   string
	BackgroundOpacity float64
	Position          string
}

// ResolveStyle merges the preset's caption style with hard rendering rules.
// Brand-safe jobs lock to the preset's brand font and enforce the larger
// size floor.
func ResolveStyle(preset app.Preset, brandSafe bool) Style {
	cs := preset.CaptionStyle
	s := Style{
		Font:              cs.Font,
		FontSize:          cs.FontSize,
		FontColor:         cs.FontColor,
		OutlineColor:      cs.OutlineColor,
		OutlineWidth:      cs.OutlineWidth,
		BackgroundColor:   cs.BackgroundColor,
		BackgroundOpacity: cs.BackgroundOpacity,
		Position:          cs.Position,
	}
	if s.Font == "" {
		s.Font = "Sans"
	}
	if s.FontSize <= 0 {
		s.FontSize = 48
	}
	if s.FontColor == "" {
		s.FontColor = "white"
	}
	if s.Position == "" {
		s.Position = "bottom"
	}
	if s.FontSize < minFontSize {
		s.FontSize = minFontSize
	}
	if brandSafe {
		if cs.BrandFont != "" {
			s.Font = cs.BrandFont
		}
		if s.FontSize < brandSafeMinFontSize {
			s.FontSize = brandSafeMinFontSize
		}
	}
	return s
}
