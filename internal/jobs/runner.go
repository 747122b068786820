package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/assembler"
	"github.com/reelsmith/reelsmith-backend/internal/audio"
	"github.com/reelsmith/reelsmith-backend/internal/captions"
	"github.com/reelsmith/reelsmith-backend/internal/data/dbctx"
	reporender "github.com/reelsmith/reelsmith-backend/internal/data/repos/render"
	"github.com/reelsmith/reelsmith-backend/internal/domain/render"
	"github.com/reelsmith/reelsmith-backend/internal/engines"
	"github.com/reelsmith/reelsmith-backend/internal/observability"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/platform/storage"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
	"github.com/reelsmith/reelsmith-backend/internal/timeline"
)

// Progress checkpoints per stage. Scene rendering sweeps 25 to 75.
const (
	progressPlanning   = 5
	progressTimeline   = 20
	progressRenderBase = 25
	progressRenderSpan = 50
	progressComposing  = 80
	progressAudio      = 85
	progressFinalizing = 95
	progressDone       = 100
)

// VoiceSynthesizer, VoicePreparer, MusicPreparer and CaptionAligner narrow
// the audio package's services to what the runner calls, so tests can fake
// them without ffmpeg or network access.
type VoiceSynthesizer interface {
	Synthesize(ctx context.Context, script, outPath string) (audio.SynthesisResult, error)
}

type VoicePreparer interface {
	Ingest(ctx context.Context, in, out string) (int64, error)
	TrimToFit(ctx context.Context, in, out string, maxDurationMs int64) (int64, error)
}

type MusicPreparer interface {
	Resolve(ref string) (string, error)
	Prepare(ctx context.Context, in, out string, totalMs int64) error
}

type CaptionAligner interface {
	Align(ctx context.Context, voicePath string, narrations []audio.SceneNarration, windows []audio.SceneWindow) []audio.CaptionWindow
}

type TemplateFallback interface {
	Render(ctx context.Context, title string, durationMs int64, width, height, fps int, outPath string) error
}

// ImageModerator pre-checks reference images for brand-safe jobs. Nil means
// the check is disabled.
type ImageModerator interface {
	Flagged(ctx context.Context, imagePath string) (bool, error)
}

// Runner drives one job through the full lifecycle. It is safe to call
// Process for the same job from a resumed worker; completed stages are
// skipped and completed scenes are not re-rendered.
type Runner struct {
	log      *logger.Logger
	jobs     reporender.JobRepo
	scenes   reporender.SceneRepo
	store    storage.Store
	planner  scenegraph.Planner
	builder  timeline.Builder
	manager  engines.Manager
	assemble assembler.Assembler
	template TemplateFallback

	synth    VoiceSynthesizer
	voice    VoicePreparer
	music    MusicPreparer
	align    CaptionAligner
	moderate ImageModerator
	mapper   *audio.Mapper

	presets  map[string]app.Preset
	defaults *app.Defaults
	workRoot string
}

type RunnerConfig struct {
	Jobs     reporender.JobRepo
	Scenes   reporender.SceneRepo
	Store    storage.Store
	Planner  scenegraph.Planner
	Builder  timeline.Builder
	Manager  engines.Manager
	Assemble assembler.Assembler
	Template TemplateFallback

	Synth    VoiceSynthesizer
	Voice    VoicePreparer
	Music    MusicPreparer
	Align    CaptionAligner
	Moderate ImageModerator

	Presets  map[string]app.Preset
	Defaults *app.Defaults
	WorkRoot string
}

func NewRunner(log *logger.Logger, cfg RunnerConfig) *Runner {
	workRoot := cfg.WorkRoot
	if workRoot == "" {
		workRoot = filepath.Join(os.TempDir(), "reelsmith")
	}
	return &Runner{
		log:      log.With("service", "JobRunner"),
		jobs:     cfg.Jobs,
		scenes:   cfg.Scenes,
		store:    cfg.Store,
		planner:  cfg.Planner,
		builder:  cfg.Builder,
		manager:  cfg.Manager,
		assemble: cfg.Assemble,
		template: cfg.Template,
		synth:    cfg.Synth,
		voice:    cfg.Voice,
		music:    cfg.Music,
		align:    cfg.Align,
		moderate: cfg.Moderate,
		mapper:   audio.NewMapper(log),
		presets:  cfg.Presets,
		defaults: cfg.Defaults,
		workRoot: workRoot,
	}
}

// jobState is the in-flight working set for one Process call.
type jobState struct {
	job     *render.Job
	payload render.JobPayload
	preset  app.Preset

	workDir string

	graph *scenegraph.Graph
	tl    *timeline.Timeline

	voicePath string
	voiceMs   int64
	musicPath string

	narrations  []audio.SceneNarration
	captionWins []audio.CaptionWindow
	duckRegions []audio.DuckRegion

	clipPaths []string
	composed  string
	withAudio string

	fallbackUsed bool
}

// Process claims the job and walks it to a terminal state. A nil return
// means the job reached DONE or was not claimable; stage errors move it to
// FAILED and are returned for logging.
func (r *Runner) Process(ctx context.Context, jobID uuid.UUID) error {
	dbc := dbctx.New(ctx)
	metrics := observability.GetMetrics()

	job, err := r.jobs.ClaimByID(dbc, jobID)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if job == nil {
		r.log.Info("job not claimable, skipping", "job_id", jobID)
		return nil
	}
	metrics.JobsStarted.Inc()
	started := time.Now()

	st := &jobState{job: job, workDir: filepath.Join(r.workRoot, job.ID.String())}
	if err := os.MkdirAll(st.workDir, 0o755); err != nil {
		return r.fail(dbc, st, fmt.Errorf("create work dir: %w", err))
	}
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &st.payload); err != nil {
			return r.fail(dbc, st, fmt.Errorf("decode payload: %w", err))
		}
	}
	if p, ok := r.presets[job.PresetID]; ok {
		st.preset = p
	}

	if job.StartedAt == nil {
		now := time.Now()
		_ = r.jobs.UpdateFields(dbc, job.ID, map[string]interface{}{"started_at": now})
	}

	for !render.IsTerminal(st.job.Status) {
		if err := ctx.Err(); err != nil {
			// Interrupted, not failed. A resume picks up from here.
			return err
		}
		var stageErr error
		switch st.job.Status {
		case render.JobStatusQueued:
			stageErr = r.advance(dbc, st, render.JobStatusPlanningScenes, progressPlanning)
		case render.JobStatusPlanningScenes:
			if stageErr = r.runPlanning(ctx, dbc, st); stageErr == nil {
				stageErr = r.advance(dbc, st, render.JobStatusBuildingTimelin, progressTimeline)
			}
		case render.JobStatusBuildingTimelin:
			if stageErr = r.runTimeline(ctx, dbc, st); stageErr == nil {
				stageErr = r.advance(dbc, st, render.JobStatusRenderingScenes, progressRenderBase)
			}
		case render.JobStatusRenderingScenes:
			if stageErr = r.runScenes(ctx, dbc, st); stageErr == nil {
				stageErr = r.advance(dbc, st, render.JobStatusComposing, progressComposing)
			}
		case render.JobStatusComposing:
			if stageErr = r.runCompose(ctx, dbc, st); stageErr == nil {
				stageErr = r.advance(dbc, st, render.JobStatusAudioAssembly, progressAudio)
			}
		case render.JobStatusAudioAssembly:
			if stageErr = r.runAudio(ctx, dbc, st); stageErr == nil {
				stageErr = r.advance(dbc, st, render.JobStatusFinalizing, progressFinalizing)
			}
		case render.JobStatusFinalizing:
			if stageErr = r.runFinalize(ctx, dbc, st); stageErr == nil {
				stageErr = r.complete(dbc, st, started)
			}
		default:
			stageErr = fmt.Errorf("unknown job status %q", st.job.Status)
		}
		if stageErr != nil {
			return r.fail(dbc, st, stageErr)
		}
	}

	metrics.JobDuration.Observe(time.Since(started).Seconds(), "done")
	return nil
}

// advance transitions the job and keeps progress monotone.
func (r *Runner) advance(dbc dbctx.Context, st *jobState, to string, progress int) error {
	updates := map[string]interface{}{}
	if progress > st.job.Progress {
		updates["progress"] = progress
	}
	ok, err := r.jobs.TransitionStatus(dbc, st.job.ID, st.job.Status, to, updates)
	if err != nil {
		return fmt.Errorf("transition %s -> %s: %w", st.job.Status, to, err)
	}
	if !ok {
		return fmt.Errorf("transition %s -> %s rejected", st.job.Status, to)
	}
	st.job.Status = to
	if progress > st.job.Progress {
		st.job.Progress = progress
	}
	return nil
}

func (r *Runner) fail(dbc dbctx.Context, st *jobState, cause error) error {
	observability.GetMetrics().JobsFailed.Inc()
	now := time.Now()
	ok, err := r.jobs.TransitionStatus(dbc, st.job.ID, st.job.Status, render.JobStatusFailed, map[string]interface{}{
		"error":       cause.Error(),
		"finished_at": now,
	})
	if err != nil || !ok {
		r.log.Error("could not mark job failed", "job_id", st.job.ID, "error", err)
	}
	r.log.Error("job failed", "job_id", st.job.ID, "stage", st.job.Status, "cause", cause)
	return cause
}

func (r *Runner) complete(dbc dbctx.Context, st *jobState, started time.Time) error {
	now := time.Now()
	updates := map[string]interface{}{
		"progress":    progressDone,
		"finished_at": now,
	}
	if st.fallbackUsed {
		st.job.FallbackUsed = true
		if st.job.FallbackReason == "" {
			st.job.FallbackReason = "one or more scenes rendered by the local fallback"
		}
		updates["fallback_used"] = true
		updates["fallback_reason"] = st.job.FallbackReason
	}
	ok, err := r.jobs.TransitionStatus(dbc, st.job.ID, st.job.Status, render.JobStatusDone, updates)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if !ok {
		return fmt.Errorf("mark done rejected for %s", st.job.ID)
	}
	st.job.Status = render.JobStatusDone
	observability.GetMetrics().JobsCompleted.Inc()
	r.log.Info("job done", "job_id", st.job.ID,
		"elapsed_ms", time.Since(started).Milliseconds(), "fallback", st.fallbackUsed)
	return nil
}

// runPlanning synthesizes or ingests the voiceover, then plans the scene
// graph and persists it plus one row per scene.
func (r *Runner) runPlanning(ctx context.Context, dbc dbctx.Context, st *jobState) error {
	if st.job.SceneGraphURI != "" {
		return r.loadPlanned(ctx, dbc, st)
	}

	if err := r.prepareVoice(ctx, dbc, st); err != nil {
		return err
	}

	brandSafe := st.preset.BrandSafe || st.payload.Options["brandSafe"] == "true"
	var imageAssets []string
	for _, a := range st.payload.Assets {
		if a.Kind != "image" {
			continue
		}
		if brandSafe && r.moderate != nil {
			if flagged := r.imageFlagged(ctx, a.URI); flagged {
				// Flagged reference drops to prompt-only rendering.
				r.log.Warn("dropping flagged reference image", "job_id", st.job.ID, "uri", a.URI)
				continue
			}
		}
		imageAssets = append(imageAssets, a.URI)
	}
	target := 0
	if v, ok := st.payload.Options["targetDurationSeconds"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			target = n
		}
	}

	graph, err := r.planner.Plan(scenegraph.PlanInput{
		Prompt:                st.payload.Script,
		Assets:                imageAssets,
		PresetID:              st.job.PresetID,
		BrandSafe:             brandSafe,
		TargetDurationSeconds: target,
		VoiceoverDurationMs:   int(st.voiceMs),
		EnginePreference:      st.payload.Engine,
		Music:                 firstNonEmpty(st.payload.Music, st.preset.Music),
		VoiceScript:           st.payload.Script,
	})
	if err != nil {
		return fmt.Errorf("plan scenes: %w", err)
	}
	st.graph = graph

	raw, err := graph.Marshal()
	if err != nil {
		return fmt.Errorf("encode scene graph: %w", err)
	}
	uri, err := r.store.Put(ctx, fmt.Sprintf("jobs/%s/scene_graph.json", st.job.ID), bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("store scene graph: %w", err)
	}
	if err := r.jobs.UpdateFields(dbc, st.job.ID, map[string]interface{}{"scene_graph_uri": uri}); err != nil {
		return err
	}
	st.job.SceneGraphURI = uri

	rows := make([]*render.Scene, 0, len(graph.Scenes))
	for i, s := range graph.Scenes {
		row := &render.Scene{
			JobID:       st.job.ID,
			SceneID:     s.ID,
			Idx:         i,
			Type:        s.Media.Type,
			Description: s.Description,
			Caption:     s.Caption,
			AssetURI:    s.Media.Asset,
			DurationMs:  s.DurationMs,
			Transition:  s.Transition,
			Prompt:      s.Media.Prompt,
		}
		row.EngineRequested = r.manager.Select(&graph.Scenes[i], st.job.PresetID)
		rows = append(rows, row)
	}
	if _, err := r.scenes.CreateBatch(dbc, rows); err != nil {
		return fmt.Errorf("create scene rows: %w", err)
	}
	return nil
}

// imageFlagged resolves the asset and runs the moderation check. Check
// failures count as safe; only a positive flag drops the asset.
func (r *Runner) imageFlagged(ctx context.Context, uri string) bool {
	path, err := r.store.LocalPath(ctx, storage.KeyFromURI(uri))
	if err != nil {
		r.log.Warn("cannot resolve image for moderation", "uri", uri, "error", err)
		return false
	}
	flagged, err := r.moderate.Flagged(ctx, path)
	if err != nil {
		r.log.Warn("moderation check failed, keeping image", "uri", uri, "error", err)
		return false
	}
	return flagged
}

// loadPlanned restores the graph and voiceover of an already-planned job.
func (r *Runner) loadPlanned(ctx context.Context, dbc dbctx.Context, st *jobState) error {
	raw, err := r.readStored(ctx, st.job.SceneGraphURI)
	if err != nil {
		return fmt.Errorf("load scene graph: %w", err)
	}
	graph, err := scenegraph.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse stored scene graph: %w", err)
	}
	st.graph = graph
	if st.job.VoiceoverURI != "" {
		p, err := r.store.LocalPath(ctx, storage.KeyFromURI(st.job.VoiceoverURI))
		if err != nil {
			return fmt.Errorf("restore voiceover: %w", err)
		}
		st.voicePath = p
		if st.voiceMs == 0 {
			// Duration math re-derives from narration on resume.
			st.voiceMs = int64(graph.TotalDurationMs())
		}
	}
	return nil
}

// prepareVoice resolves the voiceover: uploaded asset first, then TTS, then
// nothing. The prepared file is trimmed to the 60s ceiling.
func (r *Runner) prepareVoice(ctx context.Context, dbc dbctx.Context, st *jobState) error {
	raw := filepath.Join(st.workDir, "voice_raw")
	prepared := filepath.Join(st.workDir, "voiceover.m4a")

	switch {
	case st.payload.VoiceURI != "":
		p, err := r.store.LocalPath(ctx, storage.KeyFromURI(st.payload.VoiceURI))
		if err != nil {
			return fmt.Errorf("fetch voice asset: %w", err)
		}
		raw = p
	case st.payload.Script != "" && r.synth != nil:
		res, err := r.synth.Synthesize(ctx, st.payload.Script, raw)
		if err != nil {
			return fmt.Errorf("synthesize voiceover: %w", err)
		}
		raw = res.Path
	default:
		return nil
	}

	ingested := filepath.Join(st.workDir, "voice_ingested.m4a")
	if _, err := r.voice.Ingest(ctx, raw, ingested); err != nil {
		return err
	}
	ms, err := r.voice.TrimToFit(ctx, ingested, prepared, int64(scenegraph.MaxTotalDurationMs))
	if err != nil {
		return err
	}
	st.voicePath = prepared
	st.voiceMs = ms

	f, err := os.Open(prepared)
	if err != nil {
		return fmt.Errorf("open prepared voice: %w", err)
	}
	defer f.Close()
	uri, err := r.store.Put(ctx, fmt.Sprintf("jobs/%s/voiceover.m4a", st.job.ID), f)
	if err != nil {
		return fmt.Errorf("store voiceover: %w", err)
	}
	st.job.VoiceoverURI = uri
	return r.jobs.UpdateFields(dbc, st.job.ID, map[string]interface{}{"voiceover_uri": uri})
}

func (r *Runner) runTimeline(ctx context.Context, dbc dbctx.Context, st *jobState) error {
	if st.graph == nil {
		if err := r.loadPlanned(ctx, dbc, st); err != nil {
			return err
		}
	}
	tl, err := r.builder.Build(st.graph)
	if err != nil {
		return fmt.Errorf("build timeline: %w", err)
	}
	st.tl = tl

	raw, err := tl.Marshal()
	if err != nil {
		return fmt.Errorf("encode timeline: %w", err)
	}
	uri, err := r.store.Put(ctx, fmt.Sprintf("jobs/%s/timeline.json", st.job.ID), bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("store timeline: %w", err)
	}
	st.job.TimelineURI = uri
	return r.jobs.UpdateFields(dbc, st.job.ID, map[string]interface{}{"timeline_uri": uri})
}

// runScenes renders every incomplete scene and persists per-scene results.
// Progress sweeps 25 to 75 as completions land.
func (r *Runner) runScenes(ctx context.Context, dbc dbctx.Context, st *jobState) error {
	if st.graph == nil {
		if err := r.loadPlanned(ctx, dbc, st); err != nil {
			return err
		}
	}
	if err := r.scenes.ResetIncomplete(dbc, st.job.ID); err != nil {
		return fmt.Errorf("reset incomplete scenes: %w", err)
	}
	rows, err := r.scenes.GetByJobID(dbc, st.job.ID)
	if err != nil {
		return fmt.Errorf("load scene rows: %w", err)
	}
	if len(rows) != len(st.graph.Scenes) {
		return fmt.Errorf("scene rows (%d) do not match graph (%d)", len(rows), len(st.graph.Scenes))
	}

	rowByID := map[int]*render.Scene{}
	clipByID := map[int]string{}
	var pending []scenegraph.Scene
	for i, row := range rows {
		rowByID[row.SceneID] = row
		if render.SceneComplete(row.Status) && row.ClipURI != "" {
			if _, statErr := os.Stat(row.ClipURI); statErr == nil {
				clipByID[row.SceneID] = row.ClipURI
				if row.FallbackUsed {
					st.fallbackUsed = true
				}
				continue
			}
			// Clip vanished with the previous worker; render it again.
			_ = r.scenes.UpdateFields(dbc, row.ID, map[string]interface{}{"status": render.SceneStatusPending})
		}
		pending = append(pending, st.graph.Scenes[i])
	}

	if len(pending) > 0 {
		sub := *st.graph
		sub.Scenes = pending
		sceneDir := filepath.Join(st.workDir, "scenes")

		total := len(st.graph.Scenes)
		var mu sync.Mutex
		completed := total - len(pending)

		results, err := r.manager.RenderAll(ctx, &sub, sceneDir, func(sceneID int) {
			if row := rowByID[sceneID]; row != nil {
				_ = r.scenes.UpdateFields(dbc, row.ID, map[string]interface{}{"status": render.SceneStatusRendering})
			}
		}, func(res engines.SceneRenderResult) {
			r.persistSceneResult(dbc, rowByID[res.SceneID], res)
			mu.Lock()
			completed++
			progress := progressRenderBase + progressRenderSpan*completed/total
			bump := progress > st.job.Progress
			if bump {
				st.job.Progress = progress
			}
			mu.Unlock()
			if bump {
				_ = r.jobs.UpdateFields(dbc, st.job.ID, map[string]interface{}{"progress": progress})
			}
			_ = r.jobs.Heartbeat(dbc, st.job.ID)
		})
		if err != nil {
			return fmt.Errorf("render scenes: %w", err)
		}
		for _, res := range results {
			if !res.Success {
				return fmt.Errorf("scene %d failed: %s", res.SceneID, res.Error)
			}
			clipByID[res.SceneID] = res.ClipPath
			if res.FallbackUsed {
				st.fallbackUsed = true
			}
		}
	}

	st.clipPaths = make([]string, 0, len(st.graph.Scenes))
	for _, s := range st.graph.Scenes {
		clip, ok := clipByID[s.ID]
		if !ok {
			return fmt.Errorf("no clip for scene %d", s.ID)
		}
		st.clipPaths = append(st.clipPaths, clip)
	}
	return nil
}

func (r *Runner) persistSceneResult(dbc dbctx.Context, row *render.Scene, res engines.SceneRenderResult) {
	if row == nil {
		return
	}
	status := render.SceneStatusFailed
	if res.Success {
		status = render.SceneStatusDone
		if res.FallbackUsed {
			status = render.SceneStatusFallback
		}
	}
	chain, _ := json.Marshal(res.FallbackChain)
	err := r.scenes.UpdateFields(dbc, row.ID, map[string]interface{}{
		"status":         status,
		"engine_used":    res.EngineUsed,
		"fallback_used":  res.FallbackUsed,
		"fallback_chain": chain,
		"clip_uri":       res.ClipPath,
		"elapsed_ms":     res.ElapsedMs,
		"error":          res.Error,
	})
	if err != nil {
		r.log.Error("persist scene result", "scene", res.SceneID, "error", err)
	}
}

// runCompose prepares captions, music and ducking, then builds the video
// track. A fatal error here falls back to the template deliverable instead
// of failing the job.
func (r *Runner) runCompose(ctx context.Context, dbc dbctx.Context, st *jobState) error {
	if err := r.ensureRestored(ctx, dbc, st); err != nil {
		return err
	}

	st.narrations = r.mapper.Map(st.payload.Script, st.graph.Scenes, st.voiceMs)
	st.captionWins = r.align.Align(ctx, st.voicePath, st.narrations, sceneWindows(st.tl))
	st.duckRegions = audio.DuckRegions(st.narrations, int64(st.tl.TotalDurationMs))

	if ref := firstNonEmpty(st.payload.Music, st.preset.Music); ref != "" {
		src, err := r.music.Resolve(ref)
		if err != nil {
			r.log.Warn("music track unavailable, continuing without", "ref", ref, "error", err)
		} else {
			prepared := filepath.Join(st.workDir, "music.m4a")
			if err := r.music.Prepare(ctx, src, prepared, int64(st.tl.TotalDurationMs)); err != nil {
				r.log.Warn("music prepare failed, continuing without", "error", err)
			} else {
				st.musicPath = prepared
			}
		}
	}

	composed, err := r.assemble.ComposeVideo(ctx, r.assemblyInput(st))
	if err != nil {
		return r.templateRescue(ctx, dbc, st, fmt.Errorf("compose video: %w", err))
	}
	st.composed = composed
	return nil
}

func (r *Runner) runAudio(ctx context.Context, dbc dbctx.Context, st *jobState) error {
	if st.fallbackUsed && st.composed == "" {
		// Template rescue already produced the deliverable.
		return nil
	}
	if st.composed == "" {
		// Compose output lives in the job workdir; a cross-host resume has
		// to redo the stage. Cheap relative to scene rendering.
		if err := r.runCompose(ctx, dbc, st); err != nil {
			return err
		}
		if st.fallbackUsed && st.composed == "" {
			return nil
		}
	}
	withAudio, err := r.assemble.MixAudio(ctx, r.assemblyInput(st), st.composed)
	if err != nil {
		return r.templateRescue(ctx, dbc, st, fmt.Errorf("mix audio: %w", err))
	}
	st.withAudio = withAudio
	return nil
}

func (r *Runner) runFinalize(ctx context.Context, dbc dbctx.Context, st *jobState) error {
	if st.withAudio == "" && !st.fallbackUsed {
		// A worker resuming at this stage has no assembly state in memory.
		// Rebuild compose and mix from the persisted clips.
		if err := r.runAudio(ctx, dbc, st); err != nil {
			return err
		}
	}

	outPath := filepath.Join(st.workDir, "output.mp4")
	thumbPath := filepath.Join(st.workDir, "thumbnail.jpg")

	if st.withAudio != "" {
		in := r.assemblyInput(st)
		in.OutputPath = outPath
		in.ThumbnailPath = thumbPath
		if err := r.assemble.Finalize(ctx, in, st.withAudio); err != nil {
			if rescueErr := r.templateRescue(ctx, dbc, st, fmt.Errorf("finalize: %w", err)); rescueErr != nil {
				return rescueErr
			}
		}
	}
	// templateRescue writes output.mp4 directly into the workdir.
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("no deliverable produced: %w", err)
	}

	updates := map[string]interface{}{}
	if uri, err := r.putFile(ctx, fmt.Sprintf("jobs/%s/output.mp4", st.job.ID), outPath); err == nil {
		st.job.OutputURI = uri
		updates["output_uri"] = uri
	} else {
		return fmt.Errorf("store output: %w", err)
	}
	if _, err := os.Stat(thumbPath); err == nil {
		if uri, err := r.putFile(ctx, fmt.Sprintf("jobs/%s/thumbnail.jpg", st.job.ID), thumbPath); err == nil {
			st.job.ThumbnailURI = uri
			updates["thumbnail_uri"] = uri
		}
	}
	if len(st.captionWins) > 0 {
		srt := captions.ExportSRT(st.captionWins)
		if uri, err := r.store.Put(ctx, fmt.Sprintf("jobs/%s/captions.srt", st.job.ID), bytes.NewReader([]byte(srt))); err == nil {
			st.job.CaptionsURI = uri
			updates["captions_uri"] = uri
		}
	}

	meta, err := r.buildMetadata(dbc, st)
	if err != nil {
		return err
	}
	if uri, err := r.store.Put(ctx, fmt.Sprintf("jobs/%s/metadata.json", st.job.ID), bytes.NewReader(meta)); err == nil {
		st.job.MetadataURI = uri
		updates["metadata_uri"] = uri
	}
	return r.jobs.UpdateFields(dbc, st.job.ID, updates)
}

// templateRescue swaps the deliverable for the template card so the job
// still reaches DONE. Only a failing template render is fatal.
func (r *Runner) templateRescue(ctx context.Context, dbc dbctx.Context, st *jobState, cause error) error {
	r.log.Error("assembly failed, rendering template fallback", "job_id", st.job.ID, "cause", cause)
	width, height, fps := outputFormat(r.defaults)
	totalMs := int64(10000)
	if st.tl != nil {
		totalMs = int64(st.tl.TotalDurationMs)
	}
	outPath := filepath.Join(st.workDir, "output.mp4")
	if err := r.template.Render(ctx, templateTitle(st), totalMs, width, height, fps, outPath); err != nil {
		return fmt.Errorf("template fallback after %v: %w", cause, err)
	}
	st.fallbackUsed = true
	st.composed = ""
	st.withAudio = ""
	st.job.FallbackUsed = true
	st.job.FallbackReason = "template rescue: " + cause.Error()
	_ = r.jobs.UpdateFields(dbc, st.job.ID, map[string]interface{}{
		"error":           cause.Error(),
		"fallback_used":   true,
		"fallback_reason": st.job.FallbackReason,
	})
	return nil
}

func (r *Runner) ensureRestored(ctx context.Context, dbc dbctx.Context, st *jobState) error {
	if st.graph == nil {
		if err := r.loadPlanned(ctx, dbc, st); err != nil {
			return err
		}
	}
	if st.tl == nil {
		if st.job.TimelineURI == "" {
			return fmt.Errorf("job has no timeline")
		}
		raw, err := r.readStored(ctx, st.job.TimelineURI)
		if err != nil {
			return fmt.Errorf("load timeline: %w", err)
		}
		tl, err := timeline.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse stored timeline: %w", err)
		}
		st.tl = tl
	}
	if len(st.clipPaths) == 0 {
		if err := r.runScenes(ctx, dbc, st); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) assemblyInput(st *jobState) assembler.Input {
	width, height, fps := outputFormat(r.defaults)
	return assembler.Input{
		JobID:          st.job.ID.String(),
		ClipPaths:      st.clipPaths,
		Timeline:       st.tl,
		Preset:         st.preset,
		BrandSafe:      st.graph != nil && st.graph.BrandSafe,
		CaptionWindows: st.captionWins,
		VoicePath:      st.voicePath,
		MusicPath:      st.musicPath,
		DuckRegions:    st.duckRegions,
		WorkDir:        filepath.Join(st.workDir, "assembly"),
		Width:          width,
		Height:         height,
		FPS:            fps,
		MaxBitrate:     maxBitrate(r.defaults),
	}
}

func (r *Runner) buildMetadata(dbc dbctx.Context, st *jobState) ([]byte, error) {
	rows, err := r.scenes.GetByJobID(dbc, st.job.ID)
	if err != nil {
		return nil, fmt.Errorf("load scenes for metadata: %w", err)
	}
	type sceneMeta struct {
		SceneID      int    `json:"sceneId"`
		EngineUsed   string `json:"engineUsed"`
		FallbackUsed bool   `json:"fallbackUsed"`
		DurationMs   int    `json:"durationMs"`
	}
	meta := struct {
		JobID        string      `json:"jobId"`
		PresetID     string      `json:"presetId"`
		TotalMs      int         `json:"totalDurationMs"`
		FallbackUsed bool        `json:"fallbackUsed"`
		Scenes       []sceneMeta `json:"scenes"`
		GeneratedAt  time.Time   `json:"generatedAt"`
	}{
		JobID:        st.job.ID.String(),
		PresetID:     st.job.PresetID,
		FallbackUsed: st.fallbackUsed,
		GeneratedAt:  time.Now().UTC(),
	}
	if st.tl != nil {
		meta.TotalMs = st.tl.TotalDurationMs
	}
	for _, row := range rows {
		meta.Scenes = append(meta.Scenes, sceneMeta{
			SceneID:      row.SceneID,
			EngineUsed:   row.EngineUsed,
			FallbackUsed: row.FallbackUsed,
			DurationMs:   row.DurationMs,
		})
	}
	return json.MarshalIndent(meta, "", "  ")
}

func (r *Runner) putFile(ctx context.Context, key, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return r.store.Put(ctx, key, f)
}

func (r *Runner) readStored(ctx context.Context, uri string) ([]byte, error) {
	rc, err := r.store.Get(ctx, storage.KeyFromURI(uri))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sceneWindows(tl *timeline.Timeline) []audio.SceneWindow {
	out := make([]audio.SceneWindow, 0, len(tl.Entries))
	for _, e := range tl.Entries {
		out = append(out, audio.SceneWindow{
			SceneID: e.SceneID,
			StartMs: int64(e.StartMs),
			EndMs:   int64(e.EndMs),
		})
	}
	return out
}

func templateTitle(st *jobState) string {
	if st.graph != nil && len(st.graph.Scenes) > 0 {
		return st.graph.Scenes[0].Description
	}
	return st.payload.Script
}

func outputFormat(d *app.Defaults) (int, int, int) {
	width, height, fps := 1080, 1920, 30
	if d != nil {
		if d.Output.Width > 0 {
			width = d.Output.Width
		}
		if d.Output.Height > 0 {
			height = d.Output.Height
		}
		if d.Output.FPS > 0 {
			fps = d.Output.FPS
		}
	}
	return width, height, fps
}

func maxBitrate(d *app.Defaults) string {
	if d != nil && d.Output.MaxBitrate != "" {
		return d.Output.MaxBitrate
	}
	return "8M"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
