package captions

import (
	"fmt"
	"strings"

	"github.com/reelsmith/reelsmith-backend/internal/audio"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

// Average glyph width as a fraction of the font size. Good enough for
// wrapping without measuring real font metrics.
const glyphWidthRatio = 0.55

const maxCaptionLines = 2

// Renderer turns caption windows into a drawtext filter chain for the burn
// stage.
type Renderer struct {
	log   *logger.Logger
	style Style
}

func NewRenderer(log *logger.Logger, style Style) *Renderer {
	return &Renderer{
		log:   log.With("service", "CaptionRenderer"),
		style: style,
	}
}

// CharsPerLine is how many characters fit across the safe zone at the
// resolved font size.
func (r *Renderer) CharsPerLine() int {
	usable := frameWidth - 2*safeSidePx
	chars := int(float64(usable) / (float64(r.style.FontSize) * glyphWidthRatio))
	if chars < 10 {
		chars = 10
	}
	return chars
}

// Wrap greedily breaks text into at most two lines. Overflow is cut at a
// word boundary and marked with an ellipsis.
func Wrap(text string, maxChars int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var lines []string
	current := ""
	for _, w := range words {
		candidate := w
		if current != "" {
			candidate = current + " " + w
		}
		if len(candidate) <= maxChars {
			current = candidate
			continue
		}
		if current == "" {
			// Single word longer than the line; hard-cut it.
			current = w[:maxChars]
		}
		lines = append(lines, current)
		current = w
		if len(lines) == maxCaptionLines {
			// The overflowing word is still pending, so text was cut here.
			lines[maxCaptionLines-1] = ellipsize(lines[maxCaptionLines-1], maxChars)
			return lines
		}
	}
	if current != "" {
		lines = append(lines, current)
	}
	if len(lines) > maxCaptionLines {
		lines = lines[:maxCaptionLines]
		lines[maxCaptionLines-1] = ellipsize(lines[maxCaptionLines-1], maxChars)
	}
	return lines
}

func ellipsize(line string, maxChars int) string {
	if len(line)+3 <= maxChars {
		return line + "..."
	}
	cut := maxChars - 3
	if cut < 1 {
		cut = 1
	}
	if cut > len(line) {
		cut = len(line)
	}
	return strings.TrimSpace(line[:cut]) + "..."
}

// Filter renders every caption window into one comma-joined drawtext chain.
// Returns "" when there is nothing to burn.
func (r *Renderer) Filter(windows []audio.CaptionWindow) string {
	var parts []string
	for _, w := range windows {
		if strings.TrimSpace(w.Text) == "" || w.EndMs <= w.StartMs {
			continue
		}
		lines := Wrap(w.Text, r.CharsPerLine())
		if len(lines) == 0 {
			continue
		}
		parts = append(parts, r.drawtext(strings.Join(lines, "\n"), w.StartMs, w.EndMs))
	}
	return strings.Join(parts, ",")
}

// drawtext builds one filter with the safe-zone position, box background
// and 0.2s alpha fades on both edges.
func (r *Renderer) drawtext(text string, startMs, endMs int64) string {
	start := float64(startMs) / 1000
	end := float64(endMs) / 1000
	fadeIn := start + fadeSeconds
	fadeOut := end - fadeSeconds
	if fadeOut < fadeIn {
		fadeIn, fadeOut = start, end
	}

	y := fmt.Sprintf("h-%d-text_h", safeBottomPx)
	if r.style.Position == "top" {
		y = fmt.Sprintf("%d", safeTopPx)
	} else if r.style.Position == "center" {
		y = "(h-text_h)/2"
	}

	alpha := fmt.Sprintf(
		"if(lt(t,%.3f),(t-%.3f)/%.3f,if(gt(t,%.3f),(%.3f-t)/%.3f,1))",
		fadeIn, start, fadeSeconds, fadeOut, end, fadeSeconds,
	)

	f := fmt.Sprintf(
		"drawtext=text='%s':font='%s':fontsize=%d:fontcolor=%s:x=(w-text_w)/2:y=%s:alpha='%s':enable='between(t,%.3f,%.3f)'",
		EscapeDrawText(text), r.style.Font, r.style.FontSize, r.style.FontColor, y, alpha, start, end,
	)
	if r.style.OutlineWidth > 0 && r.style.OutlineColor != "" {
		f += fmt.Sprintf(":borderw=%d:bordercolor=%s", r.style.OutlineWidth, r.style.OutlineColor)
	}
	if r.style.BackgroundColor != "" && r.style.BackgroundOpacity > 0 {
		f += fmt.Sprintf(":box=1:boxcolor=%s@%.2f:boxborderw=14", r.style.BackgroundColor, r.style.BackgroundOpacity)
	}
	return f
}

// EscapeDrawText neutralizes the characters drawtext treats specially.
func EscapeDrawText(s string) string {
	replacer := strings.NewReplacer(
		`\`, `\\`,
		`'`, `\\\'`,
		`:`, `\:`,
		`%`, `\%`,
		`,`, `\,`,
	)
	return replacer.Replace(s)
}
