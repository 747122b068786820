package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/assembler"
	"github.com/reelsmith/reelsmith-backend/internal/audio"
	"github.com/reelsmith/reelsmith-backend/internal/data/dbctx"
	"github.com/reelsmith/reelsmith-backend/internal/domain/render"
	"github.com/reelsmith/reelsmith-backend/internal/engines"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
	"github.com/reelsmith/reelsmith-backend/internal/timeline"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

// memJobs is an in-memory JobRepo that records every status and progress
// write for assertions.
type memJobs struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]*render.Job
	progressLog []int
	statusLog   []string
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: map[uuid.UUID]*render.Job{}}
}

func (m *memJobs) Create(dbc dbctx.Context, job *render.Job) (*render.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = render.JobStatusQueued
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return job, nil
}

func (m *memJobs) GetByID(dbc dbctx.Context, id uuid.UUID) (*render.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) List(dbc dbctx.Context, statuses []string, limit int) ([]*render.Job, error) {
	return nil, nil
}

func (m *memJobs) ListInterrupted(dbc dbctx.Context, staleRunning time.Duration) ([]*render.Job, error) {
	return nil, nil
}

func (m *memJobs) ClaimByID(dbc dbctx.Context, id uuid.UUID) (*render.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || render.IsTerminal(j.Status) {
		return nil, nil
	}
	j.Attempts++
	cp := *j
	return &cp, nil
}

func (m *memJobs) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	m.apply(j, updates)
	return nil
}

func (m *memJobs) TransitionStatus(dbc dbctx.Context, id uuid.UUID, from, to string, updates map[string]interface{}) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, nil
	}
	if !render.CanTransition(from, to) || j.Status != from || render.IsTerminal(j.Status) {
		return false, nil
	}
	j.Status = to
	m.statusLog = append(m.statusLog, to)
	m.apply(j, updates)
	return true, nil
}

func (m *memJobs) Heartbeat(dbc dbctx.Context, id uuid.UUID) error { return nil }

func (m *memJobs) apply(j *render.Job, updates map[string]interface{}) {
	for k, v := range updates {
		switch k {
		case "progress":
			j.Progress = v.(int)
			m.progressLog = append(m.progressLog, j.Progress)
		case "error":
			j.Error = v.(string)
		case "fallback_used":
			j.FallbackUsed = v.(bool)
		case "fallback_reason":
			j.FallbackReason = v.(string)
		case "scene_graph_uri":
			j.SceneGraphURI = v.(string)
		case "timeline_uri":
			j.TimelineURI = v.(string)
		case "voiceover_uri":
			j.VoiceoverURI = v.(string)
		case "output_uri":
			j.OutputURI = v.(string)
		case "thumbnail_uri":
			j.ThumbnailURI = v.(string)
		case "captions_uri":
			j.CaptionsURI = v.(string)
		case "metadata_uri":
			j.MetadataURI = v.(string)
		}
	}
}

type memScenes struct {
	mu     sync.Mutex
	scenes map[uuid.UUID]*render.Scene
}

func newMemScenes() *memScenes {
	return &memScenes{scenes: map[uuid.UUID]*render.Scene{}}
}

func (m *memScenes) CreateBatch(dbc dbctx.Context, scenes []*render.Scene) ([]*render.Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range scenes {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if s.Status == "" {
			s.Status = render.SceneStatusPending
		}
		cp := *s
		m.scenes[s.ID] = &cp
	}
	return scenes, nil
}

func (m *memScenes) GetByJobID(dbc dbctx.Context, jobID uuid.UUID) ([]*render.Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*render.Scene
	for _, s := range m.scenes {
		if s.JobID == jobID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Idx < out[j].Idx })
	return out, nil
}

func (m *memScenes) GetByID(dbc dbctx.Context, id uuid.UUID) (*render.Scene, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenes[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memScenes) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scenes[id]
	if !ok {
		return nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			s.Status = v.(string)
		case "engine_used":
			s.EngineUsed = v.(string)
		case "fallback_used":
			s.FallbackUsed = v.(bool)
		case "clip_uri":
			s.ClipURI = v.(string)
		case "elapsed_ms":
			s.ElapsedMs = v.(int64)
		case "error":
			s.Error = v.(string)
		}
	}
	return nil
}

func (m *memScenes) ResetIncomplete(dbc dbctx.Context, jobID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.scenes {
		if s.JobID == jobID && (s.Status == render.SceneStatusRendering || s.Status == render.SceneStatusFailed) {
			s.Status = render.SceneStatusPending
			s.Error = ""
		}
	}
	return nil
}

func (m *memScenes) CountComplete(dbc dbctx.Context, jobID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, s := range m.scenes {
		if s.JobID == jobID && render.SceneComplete(s.Status) {
			n++
		}
	}
	return n, nil
}

// memStore keeps blobs in a map and materializes them into a scratch dir
// for LocalPath.
type memStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	scratch string
}

func newMemStore(t *testing.T) *memStore {
	return &memStore{blobs: map[string][]byte{}, scratch: t.TempDir()}
}

func (m *memStore) Put(ctx context.Context, key string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = data
	return "file://" + key, nil
}

func (m *memStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("no such key %q", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, key)
	return nil
}

func (m *memStore) DeletePrefix(ctx context.Context, prefix string) error { return nil }

func (m *memStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) LocalPath(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	data, ok := m.blobs[key]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("no such key %q", key)
	}
	p := filepath.Join(m.scratch, filepath.Base(key))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", err
	}
	return p, nil
}

func (m *memStore) URI(key string) string { return "file://" + key }

// fakeManager renders by touching a file per scene. rendered records which
// scene ids were actually dispatched; afterStart lets tests observe state
// between the start and completion callbacks.
type fakeManager struct {
	mu         sync.Mutex
	rendered   []int
	failID     int
	afterStart func(sceneID int)
}

func (f *fakeManager) Select(scene *scenegraph.Scene, presetID string) string {
	return engines.EngineLocal
}

func (f *fakeManager) RenderAll(ctx context.Context, g *scenegraph.Graph, outputDir string, onStart engines.StartFunc, onComplete engines.CompletionFunc) ([]engines.SceneRenderResult, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, err
	}
	out := make([]engines.SceneRenderResult, 0, len(g.Scenes))
	for _, s := range g.Scenes {
		f.mu.Lock()
		f.rendered = append(f.rendered, s.ID)
		f.mu.Unlock()
		if onStart != nil {
			onStart(s.ID)
		}
		if f.afterStart != nil {
			f.afterStart(s.ID)
		}

		res := engines.SceneRenderResult{SceneID: s.ID, EngineUsed: engines.EngineLocal, FallbackUsed: true}
		if s.ID == f.failID {
			res.Error = "boom"
		} else {
			clip := filepath.Join(outputDir, fmt.Sprintf("scene_%d.mp4", s.ID))
			if err := os.WriteFile(clip, []byte("clip"), 0o644); err != nil {
				return nil, err
			}
			res.Success = true
			res.ClipPath = clip
		}
		if onComplete != nil {
			onComplete(res)
		}
		out = append(out, res)
	}
	return out, nil
}

type fakeAssembler struct {
	failCompose bool
}

func (f *fakeAssembler) ComposeVideo(ctx context.Context, in assembler.Input) (string, error) {
	if f.failCompose {
		return "", fmt.Errorf("xfade graph rejected")
	}
	if err := os.MkdirAll(in.WorkDir, 0o755); err != nil {
		return "", err
	}
	p := filepath.Join(in.WorkDir, "01_compose.mp4")
	return p, os.WriteFile(p, []byte("video"), 0o644)
}

func (f *fakeAssembler) MixAudio(ctx context.Context, in assembler.Input, videoPath string) (string, error) {
	p := filepath.Join(in.WorkDir, "04_audio.mp4")
	return p, os.WriteFile(p, []byte("video+audio"), 0o644)
}

func (f *fakeAssembler) Finalize(ctx context.Context, in assembler.Input, videoPath string) error {
	if err := os.WriteFile(in.OutputPath, []byte("final"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(in.ThumbnailPath, []byte("jpg"), 0o644)
}

type fakeTemplate struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeTemplate) Render(ctx context.Context, title string, durationMs int64, width, height, fps int, outPath string) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return os.WriteFile(outPath, []byte("template"), 0o644)
}

type fakeSynth struct{}

func (fakeSynth) Synthesize(ctx context.Context, script, outPath string) (audio.SynthesisResult, error) {
	if err := os.WriteFile(outPath, []byte("mp3"), 0o644); err != nil {
		return audio.SynthesisResult{}, err
	}
	return audio.SynthesisResult{Path: outPath, Provider: "elevenlabs"}, nil
}

type fakeVoice struct{ durationMs int64 }

func (f fakeVoice) Ingest(ctx context.Context, in, out string) (int64, error) {
	if err := os.WriteFile(out, []byte("aac"), 0o644); err != nil {
		return 0, err
	}
	return f.durationMs, nil
}

func (f fakeVoice) TrimToFit(ctx context.Context, in, out string, maxDurationMs int64) (int64, error) {
	if err := os.WriteFile(out, []byte("aac"), 0o644); err != nil {
		return 0, err
	}
	if f.durationMs > maxDurationMs {
		return maxDurationMs, nil
	}
	return f.durationMs, nil
}

type fakeMusic struct{}

func (fakeMusic) Resolve(ref string) (string, error) { return "", fmt.Errorf("no library") }

func (fakeMusic) Prepare(ctx context.Context, in, out string, totalMs int64) error { return nil }

type testHarness struct {
	runner *Runner
	jobs   *memJobs
	scenes *memScenes
	store  *memStore
	mgr    *fakeManager
	asm    *fakeAssembler
	tmpl   *fakeTemplate
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	log := testLogger(t)
	h := &testHarness{
		jobs:   newMemJobs(),
		scenes: newMemScenes(),
		store:  newMemStore(t),
		mgr:    &fakeManager{},
		asm:    &fakeAssembler{},
		tmpl:   &fakeTemplate{},
	}
	d := &app.Defaults{}
	d.Output.Width = 1080
	d.Output.Height = 1920
	d.Output.FPS = 30
	d.Output.MaxBitrate = "8M"

	h.runner = NewRunner(log, RunnerConfig{
		Jobs:     h.jobs,
		Scenes:   h.scenes,
		Store:    h.store,
		Planner:  scenegraph.NewPlanner(log, map[string]app.Preset{}),
		Builder:  timeline.NewBuilder(log, 500),
		Manager:  h.mgr,
		Assemble: h.asm,
		Template: h.tmpl,
		Synth:    fakeSynth{},
		Voice:    fakeVoice{durationMs: 9000},
		Music:    fakeMusic{},
		Align:    audio.NewAligner(log, nil),
		Presets:  map[string]app.Preset{},
		Defaults: d,
		WorkRoot: t.TempDir(),
	})
	return h
}

func (h *testHarness) enqueue(t *testing.T, script string) uuid.UUID {
	t.Helper()
	payload, err := json.Marshal(render.JobPayload{Script: script})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	job := &render.Job{ID: uuid.New(), PresetID: "product_hype", Status: render.JobStatusQueued, Payload: payload}
	if _, err := h.jobs.Create(dbctx.New(context.Background()), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job.ID
}

func TestProcessHappyPath(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "Meet the product. It does amazing things. Get yours today.")

	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}

	job, _ := h.jobs.GetByID(dbctx.New(context.Background()), id)
	if job.Status != render.JobStatusDone {
		t.Fatalf("expected DONE, got %s (error %q)", job.Status, job.Error)
	}
	if job.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", job.Progress)
	}
	for _, uri := range []string{job.SceneGraphURI, job.TimelineURI, job.OutputURI, job.MetadataURI} {
		if uri == "" {
			t.Fatalf("missing artifact URI on finished job: %+v", job)
		}
	}

	rows, _ := h.scenes.GetByJobID(dbctx.New(context.Background()), id)
	if len(rows) != 3 {
		t.Fatalf("expected 3 scene rows, got %d", len(rows))
	}
	for _, row := range rows {
		if !render.SceneComplete(row.Status) {
			t.Fatalf("scene %d not complete: %s", row.SceneID, row.Status)
		}
		if row.ClipURI == "" {
			t.Fatalf("scene %d has no clip", row.SceneID)
		}
	}
}

func TestProcessProgressMonotone(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "First scene. Second scene. Third scene. Fourth scene.")

	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	prev := 0
	for i, p := range h.jobs.progressLog {
		if p < prev {
			t.Fatalf("progress regressed at %d: %v", i, h.jobs.progressLog)
		}
		prev = p
	}
	if prev != 100 {
		t.Fatalf("progress must end at 100, got %d: %v", prev, h.jobs.progressLog)
	}
}

func TestProcessStatusOrder(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "Only one scene here.")

	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	want := []string{
		render.JobStatusPlanningScenes,
		render.JobStatusBuildingTimelin,
		render.JobStatusRenderingScenes,
		render.JobStatusComposing,
		render.JobStatusAudioAssembly,
		render.JobStatusFinalizing,
		render.JobStatusDone,
	}
	if len(h.jobs.statusLog) != len(want) {
		t.Fatalf("status log %v, want %v", h.jobs.statusLog, want)
	}
	for i := range want {
		if h.jobs.statusLog[i] != want[i] {
			t.Fatalf("status %d: got %s, want %s", i, h.jobs.statusLog[i], want[i])
		}
	}
}

func TestProcessSceneFailureFailsJob(t *testing.T) {
	h := newHarness(t)
	h.mgr.failID = 2
	id := h.enqueue(t, "One works. Two breaks. Three never matters.")

	if err := h.runner.Process(context.Background(), id); err == nil {
		t.Fatalf("expected error from failing scene")
	}
	job, _ := h.jobs.GetByID(dbctx.New(context.Background()), id)
	if job.Status != render.JobStatusFailed {
		t.Fatalf("expected FAILED, got %s", job.Status)
	}
	if job.Error == "" {
		t.Fatalf("failed job must record its error")
	}
}

func TestProcessComposeFailureUsesTemplate(t *testing.T) {
	h := newHarness(t)
	h.asm.failCompose = true
	id := h.enqueue(t, "This one survives via the template. Even with broken assembly.")

	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	job, _ := h.jobs.GetByID(dbctx.New(context.Background()), id)
	if job.Status != render.JobStatusDone {
		t.Fatalf("template fallback must still reach DONE, got %s (error %q)", job.Status, job.Error)
	}
	if h.tmpl.calls == 0 {
		t.Fatalf("template renderer never invoked")
	}
	if job.OutputURI == "" {
		t.Fatalf("fallback deliverable not stored")
	}

	raw, ok := h.store.blobs[fmt.Sprintf("jobs/%s/metadata.json", job.ID)]
	if !ok {
		t.Fatalf("metadata missing")
	}
	var meta struct {
		FallbackUsed bool `json:"fallbackUsed"`
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if !meta.FallbackUsed {
		t.Fatalf("metadata must flag the fallback")
	}
	if !job.FallbackUsed {
		t.Fatalf("job row must disclose the fallback")
	}
	if !strings.Contains(job.FallbackReason, "template rescue") {
		t.Fatalf("fallback reason missing or wrong: %q", job.FallbackReason)
	}
}

func TestSceneFallbackDisclosedOnJob(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "Every scene here lands on the local renderer.")

	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	job, _ := h.jobs.GetByID(dbctx.New(context.Background()), id)
	if job.Status != render.JobStatusDone {
		t.Fatalf("expected DONE, got %s (error %q)", job.Status, job.Error)
	}
	if !job.FallbackUsed {
		t.Fatalf("scene-level fallback must surface on the job row")
	}
	if job.FallbackReason == "" {
		t.Fatalf("fallback reason must be recorded")
	}
}

func TestProcessMarksScenesRendering(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "Scene one. Scene two.")

	seen := map[int]string{}
	var mu sync.Mutex
	h.mgr.afterStart = func(sceneID int) {
		rows, _ := h.scenes.GetByJobID(dbctx.New(context.Background()), id)
		for _, row := range rows {
			if row.SceneID == sceneID {
				mu.Lock()
				seen[sceneID] = row.Status
				mu.Unlock()
			}
		}
	}

	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 dispatched scenes, got %v", seen)
	}
	for sceneID, status := range seen {
		if status != render.SceneStatusRendering {
			t.Fatalf("scene %d was %s at dispatch, want RENDERING", sceneID, status)
		}
	}
}

func TestProcessResumeSkipsCompletedScenes(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "Scene one. Scene two. Scene three.")

	// First pass plans and renders everything.
	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	firstRendered := len(h.mgr.rendered)
	if firstRendered != 3 {
		t.Fatalf("expected 3 renders, got %d", firstRendered)
	}

	// Simulate a crash mid-pipeline: wind the job back and mark one scene
	// incomplete while the other clips still exist on disk.
	h.jobs.mu.Lock()
	job := h.jobs.jobs[id]
	job.Status = render.JobStatusRenderingScenes
	job.Progress = 40
	h.jobs.mu.Unlock()

	h.scenes.mu.Lock()
	for _, s := range h.scenes.scenes {
		if s.JobID == id && s.SceneID == 2 {
			s.Status = render.SceneStatusRendering
			os.Remove(s.ClipURI)
		}
	}
	h.scenes.mu.Unlock()

	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("resumed Process: %v", err)
	}
	job, _ = h.jobs.GetByID(dbctx.New(context.Background()), id)
	if job.Status != render.JobStatusDone {
		t.Fatalf("resume must finish the job, got %s (error %q)", job.Status, job.Error)
	}
	resumed := h.mgr.rendered[firstRendered:]
	if len(resumed) != 1 || resumed[0] != 2 {
		t.Fatalf("resume must re-render only scene 2, got %v", resumed)
	}
}

func TestProcessResumeAtFinalizing(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "Scene one. Scene two. Scene three.")

	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("first Process: %v", err)
	}
	firstRendered := len(h.mgr.rendered)

	// Crash after AUDIO_ASSEMBLY: the next worker claims the job with no
	// compose or mix state in memory and must rebuild from persisted clips.
	h.jobs.mu.Lock()
	job := h.jobs.jobs[id]
	job.Status = render.JobStatusFinalizing
	job.Progress = 95
	h.jobs.mu.Unlock()

	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("resumed Process: %v", err)
	}
	job, _ = h.jobs.GetByID(dbctx.New(context.Background()), id)
	if job.Status != render.JobStatusDone {
		t.Fatalf("resume at FINALIZING must finish the job, got %s (error %q)", job.Status, job.Error)
	}
	if job.OutputURI == "" {
		t.Fatalf("resumed job produced no deliverable")
	}
	if len(h.mgr.rendered) != firstRendered {
		t.Fatalf("completed clips must not be re-rendered: %v", h.mgr.rendered)
	}
}

func TestProcessUnclaimableJob(t *testing.T) {
	h := newHarness(t)
	id := h.enqueue(t, "Done already.")
	h.jobs.mu.Lock()
	h.jobs.jobs[id].Status = render.JobStatusDone
	h.jobs.mu.Unlock()

	if err := h.runner.Process(context.Background(), id); err != nil {
		t.Fatalf("terminal job must be a no-op, got %v", err)
	}
}
