package prompt

import (
	"regexp"
	"strings"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
)

// Builder composes and sanitizes engine prompts. Sanitize is idempotent:
// running it twice yields the same string.
type Builder struct {
	blocklist       []string
	substitutions   map[string]string
	maxLength       int
	brandSafeSuffix string
}

func NewBuilder(d *app.Defaults) *Builder {
	maxLen := d.V2.PromptSanitization.MaxPromptLength
	if maxLen <= 0 {
		maxLen = 500
	}
	return &Builder{
		blocklist:       d.V2.PromptSanitization.Blocklist,
		substitutions:   d.V2.PromptSanitization.Substitutions,
		maxLength:       maxLen,
		brandSafeSuffix: d.V2.PromptSanitization.BrandSafeSuffix,
	}
}

// Softeners applied on a single moderation-rephrase retry.
var softeners = map[string]string{
	"attack":  "approach",
	"destroy": "transform",
	"crash":   "collide gently",
	"fight":   "compete",
	"death":   "conclusion",
	"danger":  "challenge",
	"fire":    "energy",
	"burn":    "glow",
}

const safetySuffix = "safe content, suitable for all audiences"

var wsRe = regexp.MustCompile(`\s+`)

// Compose builds the final engine prompt for a scene: description, style
// keywords, preset keywords, then the brand-safe suffix. The result is
// sanitized before return.
func (b *Builder) Compose(scene *scenegraph.Scene, preset app.Preset, brandSafe bool) string {
	parts := make([]string, 0, 4)

	desc := scene.Media.Prompt
	if desc == "" {
		desc = scene.Description
	}
	if desc != "" {
		parts = append(parts, desc)
	}

	if scene.Style != nil {
		var style []string
		if scene.Style.Mood != "" {
			style = append(style, scene.Style.Mood+" mood")
		}
		if scene.Style.CameraMotion != "" {
			style = append(style, scene.Style.CameraMotion)
		}
		if scene.Style.Lighting != "" {
			style = append(style, scene.Style.Lighting+" lighting")
		}
		if len(style) > 0 {
			parts = append(parts, strings.Join(style, ", "))
		}
	}

	if preset.Keywords != "" {
		parts = append(parts, preset.Keywords)
	}

	if brandSafe && b.brandSafeSuffix != "" {
		parts = append(parts, b.brandSafeSuffix)
	}

	return b.Sanitize(strings.Join(parts, ", "))
}

// Sanitize removes blocklisted words, applies the substitution map, collapses
// whitespace, and truncates to the engine prompt limit.
func (b *Builder) Sanitize(p string) string {
	words := strings.Fields(p)
	out := make([]string, 0, len(words))
	for _, w := range words {
		core, prefix, suffix := splitPunct(w)
		lower := strings.ToLower(core)
		if b.blocked(lower) {
			continue
		}
		if repl, ok := b.substitutions[lower]; ok {
			out = append(out, prefix+repl+suffix)
			continue
		}
		out = append(out, w)
	}
	s := wsRe.ReplaceAllString(strings.Join(out, " "), " ")
	s = strings.TrimSpace(s)
	if len(s) > b.maxLength {
		cut := s[:b.maxLength]
		// Truncate on a word boundary so a clipped word cannot re-match the
		// substitution map on a second pass.
		if i := strings.LastIndexByte(cut, ' '); i > 0 {
			cut = cut[:i]
		}
		s = strings.TrimSpace(cut)
	}
	return s
}

// Soften applies the moderation-rephrase pass: substitutions plus the
// softener table, then the all-audiences suffix. Used at most once per scene.
func (b *Builder) Soften(p string) string {
	words := strings.Fields(p)
	out := make([]string, 0, len(words))
	for _, w := range words {
		core, prefix, suffix := splitPunct(w)
		lower := strings.ToLower(core)
		if repl, ok := softeners[lower]; ok {
			out = append(out, prefix+repl+suffix)
			continue
		}
		if repl, ok := b.substitutions[lower]; ok {
			out = append(out, prefix+repl+suffix)
			continue
		}
		out = append(out, w)
	}
	s := strings.TrimSpace(strings.Join(out, " "))
	if !strings.HasSuffix(s, safetySuffix) {
		s = s + ", " + safetySuffix
	}
	return b.Sanitize(s)
}

func (b *Builder) blocked(word string) bool {
	for _, blocked := range b.blocklist {
		if strings.EqualFold(word, blocked) {
			return true
		}
	}
	return false
}

// splitPunct separates leading/trailing punctuation so substitution matches
// words adjacent to commas and periods.
func splitPunct(w string) (core, prefix, suffix string) {
	start := 0
	for start < len(w) && !isWordChar(w[start]) {
		start++
	}
	end := len(w)
	for end > start && !isWordChar(w[end-1]) {
		end--
	}
	return w[start:end], w[:start], w[end:]
}

func isWordChar(c byte) bool {
	return c == '-' || c == '\'' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
