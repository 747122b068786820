package handlers

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

type PresetHandler struct {
	log     *logger.Logger
	presets map[string]app.Preset
}

func NewPresetHandler(log *logger.Logger, presets map[string]app.Preset) *PresetHandler {
	return &PresetHandler{
		log:     log.With("handler", "PresetHandler"),
		presets: presets,
	}
}

type presetSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Archetype string `json:"archetype"`
	BrandSafe bool   `json:"brandSafe"`
	Music     string `json:"music,omitempty"`
}

// ListPresets returns the loaded preset catalog, sorted by ID for stable
// output.
func (h *PresetHandler) ListPresets(c *gin.Context) {
	out := make([]presetSummary, 0, len(h.presets))
	for _, p := range h.presets {
		out = append(out, presetSummary{
			ID:        p.ID,
			Name:      p.Name,
			Archetype: p.Archetype,
			BrandSafe: p.BrandSafe,
			Music:     p.Music,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	RespondOK(c, gin.H{"presets": out})
}

// GetPreset returns the full preset, caption style and color grade included.
func (h *PresetHandler) GetPreset(c *gin.Context) {
	p, ok := h.presets[c.Param("id")]
	if !ok {
		RespondError(c, http.StatusNotFound, "NOT_FOUND", errors.New("preset not found"))
		return
	}
	RespondOK(c, p)
}
