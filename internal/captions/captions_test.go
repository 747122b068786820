package captions

import (
	"strings"
	"testing"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/audio"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func presetWithCaptions(fontSize int, brandFont string) app.Preset {
	p := app.Preset{ID: "test"}
	p.CaptionStyle.Font = "Inter"
	p.CaptionStyle.FontSize = fontSize
	p.CaptionStyle.FontColor = "white"
	p.CaptionStyle.BrandFont = brandFont
	return p
}

func TestResolveStyleDefaults(t *testing.T) {
	s := ResolveStyle(app.Preset{}, false)
	if s.Font == "" || s.FontSize <= 0 || s.FontColor == "" {
		t.Fatalf("empty preset must resolve to usable defaults: %+v", s)
	}
	if s.Position != "bottom" {
		t.Fatalf("default position must be bottom, got %q", s.Position)
	}
}

func TestResolveStyleFontFloor(t *testing.T) {
	s := ResolveStyle(presetWithCaptions(12, ""), false)
	if s.FontSize != minFontSize {
		t.Fatalf("expected floor %d, got %d", minFontSize, s.FontSize)
	}
}

func TestResolveStyleBrandSafe(t *testing.T) {
	s := ResolveStyle(presetWithCaptions(21, "BrandSans"), true)
	if s.FontSize < brandSafeMinFontSize {
		t.Fatalf("brand-safe font must be at least %d, got %d", brandSafeMinFontSize, s.FontSize)
	}
	if s.Font != "BrandSans" {
		t.Fatalf("brand-safe jobs must lock to the brand font, got %q", s.Font)
	}
}

func TestWrapTwoLinesWithEllipsis(t *testing.T) {
	text := "this caption is much too long to ever fit on just two short lines of text"
	lines := Wrap(text, 20)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	for i, line := range lines {
		if len(line) > 23 {
			t.Fatalf("line %d too long: %q", i, line)
		}
	}
	if !strings.HasSuffix(lines[1], "...") {
		t.Fatalf("overflow must end with ellipsis: %q", lines[1])
	}
}

func TestWrapExactTwoLinesNoEllipsis(t *testing.T) {
	lines := Wrap("first line here and second line", 15)
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %v", lines)
	}
	if strings.HasSuffix(lines[1], "...") {
		t.Fatalf("text that fits two lines must not be ellipsized: %v", lines)
	}
}

func TestWrapShortTextSingleLine(t *testing.T) {
	lines := Wrap("short and sweet", 40)
	if len(lines) != 1 || lines[0] != "short and sweet" {
		t.Fatalf("unexpected wrap: %v", lines)
	}
}

func TestWrapEmpty(t *testing.T) {
	if lines := Wrap("   ", 20); lines != nil {
		t.Fatalf("expected nil for blank text, got %v", lines)
	}
}

func TestCharsPerLineScalesWithFontSize(t *testing.T) {
	small := NewRenderer(testLogger(t), Style{FontSize: 24})
	large := NewRenderer(testLogger(t), Style{FontSize: 72})
	if small.CharsPerLine() <= large.CharsPerLine() {
		t.Fatalf("smaller font must fit more characters: %d vs %d",
			small.CharsPerLine(), large.CharsPerLine())
	}
}

func TestFilterShape(t *testing.T) {
	r := NewRenderer(testLogger(t), ResolveStyle(presetWithCaptions(48, ""), false))
	windows := []audio.CaptionWindow{
		{SceneID: 1, Text: "first caption", StartMs: 200, EndMs: 4800},
		{SceneID: 2, Text: "second caption", StartMs: 5200, EndMs: 9800},
	}
	filter := r.Filter(windows)
	if strings.Count(filter, "drawtext=") != 2 {
		t.Fatalf("expected 2 drawtext filters: %s", filter)
	}
	if !strings.Contains(filter, "between(t,0.200,4.800)") {
		t.Fatalf("first window timing missing: %s", filter)
	}
	if !strings.Contains(filter, "alpha=") {
		t.Fatalf("fades missing: %s", filter)
	}
	if !strings.Contains(filter, "h-150-text_h") {
		t.Fatalf("bottom safe zone missing: %s", filter)
	}
}

func TestFilterSkipsEmptyWindows(t *testing.T) {
	r := NewRenderer(testLogger(t), Style{Font: "Sans", FontSize: 48, FontColor: "white", Position: "bottom"})
	filter := r.Filter([]audio.CaptionWindow{
		{Text: "  ", StartMs: 0, EndMs: 1000},
		{Text: "real", StartMs: 2000, EndMs: 1000},
	})
	if filter != "" {
		t.Fatalf("expected empty filter, got %s", filter)
	}
}

func TestEscapeDrawText(t *testing.T) {
	got := EscapeDrawText(`it's 100%: a,b`)
	if strings.ContainsAny(strings.ReplaceAll(got, `\:`, ""), ":") {
		t.Fatalf("unescaped colon survives: %q", got)
	}
	if !strings.Contains(got, `\%`) || !strings.Contains(got, `\,`) {
		t.Fatalf("percent or comma not escaped: %q", got)
	}
}

func TestExportSRT(t *testing.T) {
	srt := ExportSRT([]audio.CaptionWindow{
		{SceneID: 1, Text: "hello world", StartMs: 200, EndMs: 4800},
		{SceneID: 2, Text: "", StartMs: 5000, EndMs: 6000},
		{SceneID: 3, Text: "goodbye", StartMs: 65_500, EndMs: 69_900},
	})
	if !strings.Contains(srt, "1\n00:00:00,200 --> 00:00:04,800\nhello world\n") {
		t.Fatalf("first cue malformed:\n%s", srt)
	}
	// Empty window is skipped, so the next cue is numbered 2.
	if !strings.Contains(srt, "2\n00:01:05,500 --> 00:01:09,900\ngoodbye\n") {
		t.Fatalf("second cue malformed:\n%s", srt)
	}
}
