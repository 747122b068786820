package engines

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/prompt"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
)

type fakeEngine struct {
	name     string
	mu       sync.Mutex
	calls    int
	prompts  []string
	generate func(call int, req Request) Result
}

func (f *fakeEngine) Name() string                { return f.name }
func (f *fakeEngine) MaxDurationSeconds() float64 { return 10 }
func (f *fakeEngine) SupportsImageInput() bool    { return true }
func (f *fakeEngine) HealthCheck(ctx context.Context) error {
	return nil
}

func (f *fakeEngine) Generate(ctx context.Context, req Request) Result {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	if f.generate != nil {
		return f.generate(call, req)
	}
	return Result{Success: true, ClipPath: fmt.Sprintf("/tmp/%s_%d.mp4", f.name, req.SceneID)}
}

type passValidator struct{}

func (passValidator) Validate(ctx context.Context, clipPath string, requestedSeconds float64) ValidationResult {
	return ValidationResult{Valid: true}
}

type rejectOnceValidator struct {
	mu       sync.Mutex
	badClips map[string]bool
}

func (v *rejectOnceValidator) Validate(ctx context.Context, clipPath string, requestedSeconds float64) ValidationResult {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.badClips[clipPath] {
		return ValidationResult{Valid: false, Errors: []string{"frame 400x800 below 720x1280"}}
	}
	return ValidationResult{Valid: true}
}

func testDefaults() *app.Defaults {
	d := &app.Defaults{}
	d.Output.Width = 1080
	d.Output.Height = 1920
	d.V2.FallbackChain = []string{EngineRunway, EnginePika, EngineLuma}
	d.V2.PromptSanitization.MaxPromptLength = 500
	d.V2.PromptSanitization.BrandSafeSuffix = "professional, brand-safe, clean aesthetic"
	return d
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

func graphOf(scenes ...scenegraph.Scene) *scenegraph.Graph {
	for i := range scenes {
		scenes[i].ID = i + 1
		if scenes[i].DurationMs == 0 {
			scenes[i].DurationMs = 5000
		}
		if scenes[i].Description == "" {
			scenes[i].Description = "a test scene"
		}
	}
	return &scenegraph.Graph{Version: scenegraph.SchemaVersion, Scenes: scenes}
}

func videoScene(desc string) scenegraph.Scene {
	return scenegraph.Scene{
		Description: desc,
		Media:       scenegraph.Media{Type: scenegraph.MediaVideo, Prompt: desc},
	}
}

func newTestManager(t *testing.T, external map[string]Engine, local Engine, keys map[string]string, validator Validator) Manager {
	t.Helper()
	d := testDefaults()
	return NewManager(testLogger(t), ManagerConfig{
		External:      external,
		Local:         local,
		APIKeys:       keys,
		Prompts:       prompt.NewBuilder(d),
		Presets:       map[string]app.Preset{},
		Defaults:      d,
		Validator:     validator,
		Concurrency:   3,
		DefaultEngine: EngineRunway,
	})
}

func TestSelectRules(t *testing.T) {
	m := newTestManager(t, map[string]Engine{}, &fakeEngine{name: EngineLocal}, nil, passValidator{})

	cases := []struct {
		scene scenegraph.Scene
		want  string
	}{
		{scenegraph.Scene{Media: scenegraph.Media{Type: scenegraph.MediaVideo, Engine: EnginePika, Prompt: "x"}, Description: "x"}, EnginePika},
		{scenegraph.Scene{Media: scenegraph.Media{Type: scenegraph.MediaImage, Asset: "a.jpg"}, Description: "x"}, EngineLocal},
		{videoScene("a cinematic sweep over the coast"), EngineRunway},
		{videoScene("anime style burst of color"), EnginePika},
		{videoScene("3d product rotation on a turntable"), EngineLuma},
		{videoScene("nothing in particular"), EngineRunway},
	}
	for i, tc := range cases {
		if got := m.Select(&tc.scene, ""); got != tc.want {
			t.Fatalf("case %d: got %q, want %q", i, got, tc.want)
		}
	}
}

func TestAllExternalUnavailableFallsBackToLocal(t *testing.T) {
	local := &fakeEngine{name: EngineLocal}
	external := map[string]Engine{
		EngineRunway: &fakeEngine{name: EngineRunway},
		EnginePika:   &fakeEngine{name: EnginePika},
		EngineLuma:   &fakeEngine{name: EngineLuma},
	}
	m := newTestManager(t, external, local, map[string]string{}, passValidator{})

	g := graphOf(videoScene("one"), videoScene("two"), videoScene("three"))
	results, err := m.RenderAll(context.Background(), g, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	for i, r := range results {
		if !r.Success {
			t.Fatalf("scene %d failed: %s", i, r.Error)
		}
		if r.EngineUsed != EngineLocal {
			t.Fatalf("scene %d: engine %q, want local", i, r.EngineUsed)
		}
		if !r.FallbackUsed {
			t.Fatalf("scene %d: fallbackUsed should be true", i)
		}
	}
}

func TestValidationRescue(t *testing.T) {
	badClip := "/tmp/runway_1.mp4"
	runway := &fakeEngine{name: EngineRunway}
	pika := &fakeEngine{name: EnginePika}
	local := &fakeEngine{name: EngineLocal}
	validator := &rejectOnceValidator{badClips: map[string]bool{badClip: true}}

	m := newTestManager(t,
		map[string]Engine{EngineRunway: runway, EnginePika: pika, EngineLuma: &fakeEngine{name: EngineLuma}},
		local,
		map[string]string{EngineRunway: "k1", EnginePika: "k2"},
		validator,
	)

	g := graphOf(videoScene("a cinematic shot"))
	results, err := m.RenderAll(context.Background(), g, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	r := results[0]
	if !r.Success {
		t.Fatalf("expected rescue, got failure: %s", r.Error)
	}
	if r.EngineUsed != EnginePika {
		t.Fatalf("expected pika rescue, got %q", r.EngineUsed)
	}
	if !r.FallbackUsed {
		t.Fatalf("fallbackUsed should be true after validation rescue")
	}
	if len(r.FallbackChain) < 2 {
		t.Fatalf("chain should record both attempts: %v", r.FallbackChain)
	}
}

func TestModerationRephraseRetry(t *testing.T) {
	runway := &fakeEngine{name: EngineRunway}
	runway.generate = func(call int, req Request) Result {
		if call == 1 {
			return failure(ErrModerationRejection, "flagged")
		}
		return Result{Success: true, ClipPath: "/tmp/runway_retry.mp4"}
	}
	m := newTestManager(t,
		map[string]Engine{EngineRunway: runway},
		&fakeEngine{name: EngineLocal},
		map[string]string{EngineRunway: "k1"},
		passValidator{},
	)

	g := graphOf(videoScene("products attack the market, realistic style"))
	results, err := m.RenderAll(context.Background(), g, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if !results[0].Success || results[0].EngineUsed != EngineRunway {
		t.Fatalf("expected primary to succeed on retry: %+v", results[0])
	}
	if runway.calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", runway.calls)
	}
	second := runway.prompts[1]
	if second == runway.prompts[0] {
		t.Fatalf("retry must use a rephrased prompt")
	}
}

func TestOrderingPreservedAndCallbacksFire(t *testing.T) {
	local := &fakeEngine{name: EngineLocal}
	m := newTestManager(t, map[string]Engine{}, local, map[string]string{}, passValidator{})

	g := graphOf(videoScene("one"), videoScene("two"), videoScene("three"), videoScene("four"))
	var started, completed int64
	results, err := m.RenderAll(context.Background(), g, t.TempDir(),
		func(sceneID int) {
			atomic.AddInt64(&started, 1)
		},
		func(r SceneRenderResult) {
			atomic.AddInt64(&completed, 1)
		})
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	for i, r := range results {
		if r.SceneID != i+1 {
			t.Fatalf("result %d carries scene id %d, order broken", i, r.SceneID)
		}
	}
	if started != int64(len(g.Scenes)) {
		t.Fatalf("expected %d start callbacks, got %d", len(g.Scenes), started)
	}
	if completed != int64(len(g.Scenes)) {
		t.Fatalf("expected %d callbacks, got %d", len(g.Scenes), completed)
	}
}

func TestPanicBecomesFailedResult(t *testing.T) {
	local := &fakeEngine{name: EngineLocal}
	local.generate = func(call int, req Request) Result {
		if req.SceneID == 2 {
			panic("boom")
		}
		return Result{Success: true, ClipPath: "/tmp/ok.mp4"}
	}
	m := newTestManager(t, map[string]Engine{}, local, map[string]string{}, passValidator{})

	g := graphOf(videoScene("one"), videoScene("two"), videoScene("three"))
	results, err := m.RenderAll(context.Background(), g, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if results[1].Success {
		t.Fatalf("panicked scene must fail")
	}
	if results[0].Success != true || results[2].Success != true {
		t.Fatalf("other scenes must not be poisoned")
	}
}

func TestImageScenesUseLocalOnly(t *testing.T) {
	runway := &fakeEngine{name: EngineRunway}
	local := &fakeEngine{name: EngineLocal}
	m := newTestManager(t,
		map[string]Engine{EngineRunway: runway},
		local,
		map[string]string{EngineRunway: "k1"},
		passValidator{},
	)

	g := graphOf(scenegraph.Scene{
		Description: "hero image",
		Media:       scenegraph.Media{Type: scenegraph.MediaImage, Asset: "file:///uploads/a.jpg", Motion: "zoom_in"},
	})
	results, err := m.RenderAll(context.Background(), g, t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("RenderAll: %v", err)
	}
	if results[0].EngineUsed != EngineLocal {
		t.Fatalf("image scene must render locally, got %q", results[0].EngineUsed)
	}
	if results[0].FallbackUsed {
		t.Fatalf("local selection is not a fallback")
	}
	if runway.calls != 0 {
		t.Fatalf("external engine must not be touched for image scenes")
	}
}
