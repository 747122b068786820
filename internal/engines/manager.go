package engines

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/observability"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/prompt"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
)

// Keyword vocabularies for engine selection.
var (
	runwayKeywords = []string{"realistic", "cinematic", "photorealis"}
	pikaKeywords   = []string{"stylized", "creative", "artistic", "anime", "abstract"}
	lumaKeywords   = []string{"physics", "3d", "product", "showcase", "rotation"}
)

// SceneRenderResult is the terminal outcome of one scene's fallback chain.
type SceneRenderResult struct {
	SceneID       int
	Success       bool
	ClipPath      string
	EngineUsed    string
	FallbackUsed  bool
	FallbackChain []string
	ElapsedMs     int64
	Error         string
}

// StartFunc fires once per scene when its chain is dispatched. The job
// runner uses it to mark the row RENDERING.
type StartFunc func(sceneID int)

// CompletionFunc fires once per scene when its chain terminates. The job
// runner uses it to persist per-scene state and bump progress.
type CompletionFunc func(SceneRenderResult)

// AssetResolver turns a stored asset URI into a path the engines can read.
type AssetResolver func(ctx context.Context, uri string) (string, error)

// Manager converts scenes into playable clips with bounded concurrency and
// a three-level fallback guarantee.
type Manager interface {
	Select(scene *scenegraph.Scene, presetID string) string
	RenderAll(ctx context.Context, g *scenegraph.Graph, outputDir string, onStart StartFunc, onComplete CompletionFunc) ([]SceneRenderResult, error)
}

type manager struct {
	log      *logger.Logger
	external map[string]Engine
	local    Engine
	// apiKeys marks which external engines are usable at all.
	apiKeys map[string]bool

	prompts   *prompt.Builder
	presets   map[string]app.Preset
	defaults  *app.Defaults
	validator Validator
	tracker   *HealthTracker

	concurrency   int
	defaultEngine string
	outputWidth   int
	outputHeight  int

	resolveAsset AssetResolver
}

type ManagerConfig struct {
	External      map[string]Engine
	Local         Engine
	APIKeys       map[string]string
	Prompts       *prompt.Builder
	Presets       map[string]app.Preset
	Defaults      *app.Defaults
	Validator     Validator
	Tracker       *HealthTracker
	Concurrency   int
	DefaultEngine string
	ResolveAsset  AssetResolver
}

func NewManager(log *logger.Logger, cfg ManagerConfig) Manager {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 3
	}
	defaultEngine := cfg.DefaultEngine
	if defaultEngine == "" {
		defaultEngine = EngineRunway
	}
	keys := map[string]bool{}
	for name, key := range cfg.APIKeys {
		keys[name] = strings.TrimSpace(key) != ""
	}
	width, height := 1080, 1920
	if cfg.Defaults != nil {
		if cfg.Defaults.Output.Width > 0 {
			width = cfg.Defaults.Output.Width
		}
		if cfg.Defaults.Output.Height > 0 {
			height = cfg.Defaults.Output.Height
		}
	}
	resolve := cfg.ResolveAsset
	if resolve == nil {
		resolve = func(ctx context.Context, uri string) (string, error) { return uri, nil }
	}
	return &manager{
		log:           log.With("service", "EngineManager"),
		external:      cfg.External,
		local:         cfg.Local,
		apiKeys:       keys,
		prompts:       cfg.Prompts,
		presets:       cfg.Presets,
		defaults:      cfg.Defaults,
		validator:     cfg.Validator,
		tracker:       cfg.Tracker,
		concurrency:   concurrency,
		defaultEngine: defaultEngine,
		outputWidth:   width,
		outputHeight:  height,
		resolveAsset:  resolve,
	}
}

// Select picks the engine for one scene. First match wins: explicit engine,
// image media, style keywords, preset preference, configured default.
func (m *manager) Select(scene *scenegraph.Scene, presetID string) string {
	if scene.Media.Engine != "" {
		return scene.Media.Engine
	}
	if scene.Media.Type == scenegraph.MediaImage {
		return EngineLocal
	}

	haystack := strings.ToLower(scene.Description)
	if scene.Style != nil {
		haystack += " " + strings.ToLower(scene.Style.Mood+" "+scene.Style.CameraMotion+" "+scene.Style.Lighting)
	}
	if containsAny(haystack, runwayKeywords) {
		return m.maybeRotate(EngineRunway)
	}
	if containsAny(haystack, pikaKeywords) {
		return m.maybeRotate(EnginePika)
	}
	if containsAny(haystack, lumaKeywords) {
		return m.maybeRotate(EngineLuma)
	}

	if m.defaults != nil {
		if pref, ok := m.defaults.V2.PresetEnginePrefs[presetID]; ok && pref.PreferredEngine != "" {
			return m.maybeRotate(pref.PreferredEngine)
		}
	}
	return m.maybeRotate(m.defaultEngine)
}

// maybeRotate swaps an unhealthy engine for the first healthier configured
// alternate. Advisory only; disabled by default.
func (m *manager) maybeRotate(selected string) string {
	if m.defaults == nil || !m.defaults.V2.EngineRotation.Enabled || m.tracker == nil {
		return selected
	}
	if selected == EngineLocal || !m.tracker.Unhealthy(selected) {
		return selected
	}
	for _, alt := range m.fallbackChain() {
		if alt == selected || !m.apiKeys[alt] {
			continue
		}
		if !m.tracker.Unhealthy(alt) {
			m.log.Info("engine rotation substituted provider", "from", selected, "to", alt)
			return alt
		}
	}
	return selected
}

func (m *manager) fallbackChain() []string {
	if m.defaults != nil && len(m.defaults.V2.FallbackChain) > 0 {
		return m.defaults.V2.FallbackChain
	}
	return []string{EngineRunway, EnginePika, EngineLuma}
}

// RenderAll fans scenes out behind a semaphore. Results preserve scene
// order; a panicking or failing scene yields a failed result instead of
// poisoning the batch.
func (m *manager) RenderAll(ctx context.Context, g *scenegraph.Graph, outputDir string, onStart StartFunc, onComplete CompletionFunc) ([]SceneRenderResult, error) {
	if len(g.Scenes) == 0 {
		return nil, fmt.Errorf("no scenes to render")
	}

	results := make([]SceneRenderResult, len(g.Scenes))
	eg, groupCtx := errgroup.WithContext(ctx)
	eg.SetLimit(m.concurrency)

	for i := range g.Scenes {
		idx := i
		scene := &g.Scenes[i]
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					m.log.Error("scene render panicked", "scene_id", scene.ID, "panic", r)
					results[idx] = SceneRenderResult{
						SceneID: scene.ID,
						Success: false,
						Error:   fmt.Sprintf("panic: %v", r),
					}
					if onComplete != nil {
						onComplete(results[idx])
					}
				}
			}()
			if onStart != nil {
				onStart(scene.ID)
			}
			res := m.renderScene(groupCtx, scene, g, outputDir)
			results[idx] = res
			if onComplete != nil {
				onComplete(res)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// renderScene runs one scene's full fallback chain sequentially.
func (m *manager) renderScene(ctx context.Context, scene *scenegraph.Scene, g *scenegraph.Graph, outputDir string) SceneRenderResult {
	started := time.Now()
	metrics := observability.GetMetrics()

	selected := m.Select(scene, g.PresetID)
	preset := app.Preset{}
	if p, ok := m.presets[g.PresetID]; ok {
		preset = p
	}
	finalPrompt := m.prompts.Compose(scene, preset, g.BrandSafe)

	imagePath := ""
	if scene.Media.Asset != "" {
		p, err := m.resolveAsset(ctx, scene.Media.Asset)
		if err != nil {
			m.log.Warn("asset resolve failed, continuing without image",
				"scene_id", scene.ID, "asset", scene.Media.Asset, "error", err)
		} else {
			imagePath = p
		}
	}

	req := Request{
		SceneID:         scene.ID,
		Prompt:          finalPrompt,
		DurationSeconds: float64(scene.DurationMs) / 1000,
		Width:           m.outputWidth,
		Height:          m.outputHeight,
		ImagePath:       imagePath,
		OutputDir:       outputDir,
	}
	if scene.Media.Motion != "" {
		req.StyleHints = map[string]string{"motion": scene.Media.Motion}
	}

	var chain []string
	finish := func(res Result, engineUsed string, fallbackUsed bool) SceneRenderResult {
		elapsed := time.Since(started).Milliseconds()
		out := SceneRenderResult{
			SceneID:       scene.ID,
			Success:       res.Success,
			ClipPath:      res.ClipPath,
			EngineUsed:    engineUsed,
			FallbackUsed:  fallbackUsed,
			FallbackChain: chain,
			ElapsedMs:     elapsed,
		}
		if !res.Success {
			out.Error = fmt.Sprintf("%s: %s", res.ErrorCode, res.Message)
		}
		outcome := "failed"
		if res.Success {
			outcome = "rendered"
		}
		metrics.ScenesRendered.Inc(engineUsed, outcome)
		if fallbackUsed {
			metrics.SceneFallbacks.Inc()
		}
		return out
	}

	// Level 3 only for local selections.
	if selected == EngineLocal {
		chain = append(chain, EngineLocal)
		res := m.local.Generate(ctx, req)
		return finish(res, EngineLocal, false)
	}

	// Level 1: primary, with one moderation-rephrase retry.
	if res, ok := m.tryExternal(ctx, selected, req, scene, &chain, metrics); ok {
		return finish(res, selected, false)
	}

	// Level 2: alternates in fixed chain order, skipping the primary and
	// anything without a key.
	for _, alt := range m.fallbackChain() {
		if alt == selected || !m.apiKeys[alt] {
			continue
		}
		if res, ok := m.tryExternal(ctx, alt, req, scene, &chain, metrics); ok {
			return finish(res, alt, true)
		}
	}

	// Level 3: local always succeeds.
	chain = append(chain, EngineLocal)
	res := m.local.Generate(ctx, req)
	return finish(res, EngineLocal, true)
}

// tryExternal runs one external engine attempt (plus its single moderation
// retry) and validates any produced clip. ok=true means the clip was
// accepted.
func (m *manager) tryExternal(ctx context.Context, name string, req Request, scene *scenegraph.Scene, chain *[]string, metrics *observability.Metrics) (Result, bool) {
	eng, exists := m.external[name]
	if !exists {
		return Result{}, false
	}
	*chain = append(*chain, name)

	if !m.apiKeys[name] {
		metrics.EngineAttempts.Inc(name, ErrMissingAPIKey)
		return Result{}, false
	}

	attemptStart := time.Now()
	res := eng.Generate(ctx, req)
	if res.ModerationFlagged {
		metrics.EngineAttempts.Inc(name, ErrModerationRejection)
		m.log.Warn("moderation rejection, retrying with softened prompt",
			"engine", name, "scene_id", scene.ID)
		softened := req
		softened.Prompt = m.prompts.Soften(req.Prompt)
		res = eng.Generate(ctx, softened)
	}

	if m.tracker != nil {
		m.tracker.Record(name, res.Success)
	}
	if !res.Success {
		metrics.EngineAttempts.Inc(name, firstNonEmpty(res.ErrorCode, ErrAPIError))
		return Result{}, false
	}

	metrics.EngineLatency.Observe(time.Since(attemptStart).Seconds(), name)
	if m.validator != nil {
		vr := m.validator.Validate(ctx, res.ClipPath, req.DurationSeconds)
		if !vr.Valid {
			metrics.EngineAttempts.Inc(name, ErrValidation)
			if m.tracker != nil {
				m.tracker.Record(name, false)
			}
			m.log.Warn("clip rejected by validator",
				"engine", name, "scene_id", scene.ID, "errors", vr.Errors)
			return Result{}, false
		}
	}
	metrics.EngineAttempts.Inc(name, "success")
	return res, true
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
