package assembler

import (
	"fmt"

	"github.com/reelsmith/reelsmith-backend/internal/app"
)

// gradeProfiles are the named looks applied after composition. Values are
// ffmpeg filter fragments.
var gradeProfiles = map[string]string{
	"neutral":   "",
	"warm":      "eq=saturation=1.1,colortemperature=temperature=7500",
	"cool":      "eq=saturation=1.05,colortemperature=temperature=5000",
	"vintage":   "eq=saturation=0.75:contrast=0.95,colorchannelmixer=rr=1.0:gg=0.95:bb=0.85",
	"cinematic": "eq=saturation=0.9:contrast=1.15,colorchannelmixer=rr=0.95:gg=1.0:bb=1.05",
	"vibrant":   "eq=saturation=1.35:contrast=1.1",
}

// GradeFilter resolves the preset's color grade to a filter fragment.
// Unknown profiles fall back to neutral; explicit per-channel adjustments
// stack after the profile.
func GradeFilter(preset app.Preset) string {
	cg := preset.ColorGrade
	base := gradeProfiles[cg.Profile]

	adjust := ""
	if cg.Brightness != 0 || (cg.Contrast != 0 && cg.Contrast != 1) || (cg.Saturation != 0 && cg.Saturation != 1) {
		contrast := cg.Contrast
		if contrast == 0 {
			contrast = 1
		}
		saturation := cg.Saturation
		if saturation == 0 {
			saturation = 1
		}
		adjust = fmt.Sprintf("eq=brightness=%.2f:contrast=%.2f:saturation=%.2f", cg.Brightness, contrast, saturation)
	}

	switch {
	case base != "" && adjust != "":
		return base + "," + adjust
	case base != "":
		return base
	default:
		return adjust
	}
}
