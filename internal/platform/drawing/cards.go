package drawing

import (
	"bytes"
	"fmt"
	"image/color"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

// CardRenderer produces title-card PNGs the local engine turns into clips
// when a scene carries no source image. Dark gradient background, centered
// wrapped text.
type CardRenderer interface {
	RenderTextCard(text string, width, height int) (bytes.Buffer, error)
}

type cardRenderer struct {
	log      *logger.Logger
	fontData []byte
	bg       color.NRGBA
	accent   color.NRGBA
}

func NewCardRenderer(log *logger.Logger) CardRenderer {
	r := &cardRenderer{
		log:      log.With("service", "CardRenderer"),
		fontData: goregular.TTF,
		bg:       color.NRGBA{R: 0x1A, G: 0x1A, B: 0x2E, A: 0xFF},
		accent:   color.NRGBA{R: 0x2D, G: 0x2D, B: 0x4A, A: 0xFF},
	}
	if path := strings.TrimSpace(os.Getenv("CARD_FONT")); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			r.fontData = data
		} else {
			r.log.Warn("failed to read CARD_FONT, using bundled font", "path", path, "error", err)
		}
	}
	return r
}

func (r *cardRenderer) RenderTextCard(text string, width, height int) (bytes.Buffer, error) {
	var buf bytes.Buffer

	parsed, err := truetype.Parse(r.fontData)
	if err != nil {
		return buf, fmt.Errorf("parse card font: %w", err)
	}

	fontSize := float64(width) / 14
	face := truetype.NewFace(parsed, &truetype.Options{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingNone,
	})

	dc := gg.NewContext(width, height)

	grad := gg.NewLinearGradient(0, 0, 0, float64(height))
	grad.AddColorStop(0, r.accent)
	grad.AddColorStop(1, r.bg)
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, float64(width), float64(height))
	dc.Fill()

	dc.SetFontFace(face)
	dc.SetColor(color.White)

	maxWidth := float64(width) * 0.82
	dc.DrawStringWrapped(
		strings.TrimSpace(text),
		float64(width)/2, float64(height)/2,
		0.5, 0.5,
		maxWidth,
		1.45,
		gg.AlignCenter,
	)

	if err := dc.EncodePNG(&buf); err != nil {
		return buf, fmt.Errorf("encode card png: %w", err)
	}
	return buf, nil
}
