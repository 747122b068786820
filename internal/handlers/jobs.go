package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-backend/internal/app"
	"github.com/reelsmith/reelsmith-backend/internal/data/dbctx"
	reporender "github.com/reelsmith/reelsmith-backend/internal/data/repos/render"
	types "github.com/reelsmith/reelsmith-backend/internal/domain/render"
	"github.com/reelsmith/reelsmith-backend/internal/middleware"
	"github.com/reelsmith/reelsmith-backend/internal/observability"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/platform/storage"
	"github.com/reelsmith/reelsmith-backend/internal/queue"
	"github.com/reelsmith/reelsmith-backend/internal/scenegraph"
)

const (
	maxScriptLength  = 10000
	downloadTokenTTL = 24 * time.Hour
	defaultListLimit = 50
)

type JobHandler struct {
	log     *logger.Logger
	jobs    reporender.JobRepo
	scenes  reporender.SceneRepo
	store   storage.Store
	queue   queue.Queue
	presets map[string]app.Preset
	auth    *middleware.AuthMiddleware
}

func NewJobHandler(
	log *logger.Logger,
	jobs reporender.JobRepo,
	scenes reporender.SceneRepo,
	store storage.Store,
	q queue.Queue,
	presets map[string]app.Preset,
	auth *middleware.AuthMiddleware,
) *JobHandler {
	return &JobHandler{
		log:     log.With("handler", "JobHandler"),
		jobs:    jobs,
		scenes:  scenes,
		store:   store,
		queue:   q,
		presets: presets,
		auth:    auth,
	}
}

type createJobRequest struct {
	Script   string            `json:"script"`
	PresetID string            `json:"presetId"`
	Assets   []types.AssetRef  `json:"assets,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
	Engine   string            `json:"engine,omitempty"`
	Music    string            `json:"music,omitempty"`
	VoiceURI string            `json:"voiceUri,omitempty"`
}

func (req *createJobRequest) validate(presets map[string]app.Preset) error {
	if strings.TrimSpace(req.Script) == "" {
		return errors.New("script is required")
	}
	if len(req.Script) > maxScriptLength {
		return fmt.Errorf("script exceeds %d characters", maxScriptLength)
	}
	if req.PresetID == "" {
		return errors.New("presetId is required")
	}
	if _, ok := presets[req.PresetID]; !ok {
		return fmt.Errorf("unknown preset %q", req.PresetID)
	}
	for i, asset := range req.Assets {
		if asset.URI == "" {
			return fmt.Errorf("asset %d missing uri", i)
		}
		switch asset.Kind {
		case "image", "video", "audio":
		default:
			return fmt.Errorf("asset %d has unknown kind %q", i, asset.Kind)
		}
	}
	return nil
}

// CreateJob accepts a render request, persists it QUEUED, and enqueues the
// ID for the worker. Responds 202: rendering happens asynchronously.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req createJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	if err := req.validate(h.presets); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_REQUEST", err)
		return
	}

	payload, err := json.Marshal(types.JobPayload{
		Script:   req.Script,
		Assets:   req.Assets,
		Options:  req.Options,
		Engine:   req.Engine,
		Music:    req.Music,
		VoiceURI: req.VoiceURI,
	})
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "ENCODE_FAILED", err)
		return
	}

	job := &types.Job{
		ID:       uuid.New(),
		PresetID: req.PresetID,
		Status:   types.JobStatusQueued,
		Payload:  payload,
	}
	dbc := dbctx.New(c.Request.Context())
	created, err := h.jobs.Create(dbc, job)
	if err != nil {
		h.log.Error("creating job failed", "error", err)
		RespondError(c, http.StatusInternalServerError, "CREATE_FAILED", err)
		return
	}
	if err := h.queue.Enqueue(c.Request.Context(), created.ID.String()); err != nil {
		h.log.Error("enqueue failed, failing job", "job_id", created.ID, "error", err)
		_ = h.jobs.UpdateFields(dbc, created.ID, map[string]interface{}{
			"status": types.JobStatusFailed,
			"error":  "enqueue failed: " + err.Error(),
		})
		RespondError(c, http.StatusInternalServerError, "ENQUEUE_FAILED", err)
		return
	}
	observability.GetMetrics().JobsEnqueued.Inc()

	c.JSON(http.StatusAccepted, gin.H{
		"id":     created.ID,
		"status": created.Status,
	})
}

// GetJob returns the job row plus its per-scene render states.
func (h *JobHandler) GetJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", err)
		return
	}
	dbc := dbctx.New(c.Request.Context())
	job, err := h.jobs.GetByID(dbc, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "LOOKUP_FAILED", err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "NOT_FOUND", errors.New("job not found"))
		return
	}
	scenes, err := h.scenes.GetByJobID(dbc, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "LOOKUP_FAILED", err)
		return
	}
	RespondOK(c, gin.H{
		"job":    job,
		"scenes": scenes,
	})
}

// ListJobs supports ?status=DONE,FAILED&limit=20.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var statuses []string
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			if _, ok := types.StageOrder[s]; !ok {
				RespondError(c, http.StatusBadRequest, "INVALID_STATUS", fmt.Errorf("unknown status %q", s))
				return
			}
			statuses = append(statuses, s)
		}
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			RespondError(c, http.StatusBadRequest, "INVALID_LIMIT", errors.New("limit must be 1-500"))
			return
		}
		limit = n
	}
	dbc := dbctx.New(c.Request.Context())
	jobs, err := h.jobs.List(dbc, statuses, limit)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "LOOKUP_FAILED", err)
		return
	}
	RespondOK(c, gin.H{"jobs": jobs})
}

// GetSceneGraph streams the stored scene graph JSON for inspection.
func (h *JobHandler) GetSceneGraph(c *gin.Context) {
	h.streamArtifact(c, func(job *types.Job) (string, string) {
		return job.SceneGraphURI, "application/json"
	})
}

// GetTimeline streams the stored timeline JSON.
func (h *JobHandler) GetTimeline(c *gin.Context) {
	h.streamArtifact(c, func(job *types.Job) (string, string) {
		return job.TimelineURI, "application/json"
	})
}

// ValidateSceneGraph checks a caller-supplied graph without creating a job.
// Useful for clients that build graphs by hand.
func (h *JobHandler) ValidateSceneGraph(c *gin.Context) {
	var graph scenegraph.Graph
	if err := c.ShouldBindJSON(&graph); err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_BODY", err)
		return
	}
	if err := graph.Validate(); err != nil {
		RespondOK(c, gin.H{"valid": false, "error": err.Error()})
		return
	}
	RespondOK(c, gin.H{"valid": true})
}

// CreateDownloadToken mints a job-scoped token so the final video URL can be
// shared without exposing the API key.
func (h *JobHandler) CreateDownloadToken(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", err)
		return
	}
	dbc := dbctx.New(c.Request.Context())
	job, err := h.jobs.GetByID(dbc, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "LOOKUP_FAILED", err)
		return
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "NOT_FOUND", errors.New("job not found"))
		return
	}
	token, err := h.auth.SignDownloadToken(id.String(), downloadTokenTTL)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "TOKEN_FAILED", err)
		return
	}
	RespondOK(c, gin.H{
		"token":     token,
		"expiresIn": int(downloadTokenTTL.Seconds()),
		"url":       fmt.Sprintf("/api/v2/jobs/%s/download?token=%s", id, token),
	})
}

// DownloadOutput streams the final MP4. Requires DONE.
func (h *JobHandler) DownloadOutput(c *gin.Context) {
	h.download(c, "video/mp4", "reel.mp4", func(job *types.Job) string { return job.OutputURI })
}

// DownloadThumbnail streams the cover frame.
func (h *JobHandler) DownloadThumbnail(c *gin.Context) {
	h.download(c, "image/jpeg", "thumbnail.jpg", func(job *types.Job) string { return job.ThumbnailURI })
}

// DownloadCaptions streams the sidecar SRT.
func (h *JobHandler) DownloadCaptions(c *gin.Context) {
	h.download(c, "application/x-subrip", "captions.srt", func(job *types.Job) string { return job.CaptionsURI })
}

func (h *JobHandler) download(c *gin.Context, contentType, filename string, pick func(*types.Job) string) {
	job, uri, ok := h.lookupArtifact(c, pick)
	if !ok {
		return
	}
	if job.Status != types.JobStatusDone {
		RespondError(c, http.StatusConflict, "NOT_READY", fmt.Errorf("job is %s", job.Status))
		return
	}
	rc, err := h.store.Get(c.Request.Context(), storage.KeyFromURI(uri))
	if err != nil {
		h.log.Error("artifact read failed", "job_id", job.ID, "uri", uri, "error", err)
		RespondError(c, http.StatusInternalServerError, "READ_FAILED", err)
		return
	}
	defer rc.Close()
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.log.Warn("artifact stream aborted", "job_id", job.ID, "error", err)
	}
}

func (h *JobHandler) streamArtifact(c *gin.Context, pick func(*types.Job) (string, string)) {
	job, uri, ok := h.lookupArtifact(c, func(j *types.Job) string {
		u, _ := pick(j)
		return u
	})
	if !ok {
		return
	}
	_, contentType := pick(job)
	rc, err := h.store.Get(c.Request.Context(), storage.KeyFromURI(uri))
	if err != nil {
		h.log.Error("artifact read failed", "job_id", job.ID, "uri", uri, "error", err)
		RespondError(c, http.StatusInternalServerError, "READ_FAILED", err)
		return
	}
	defer rc.Close()
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		h.log.Warn("artifact stream aborted", "job_id", job.ID, "error", err)
	}
}

func (h *JobHandler) lookupArtifact(c *gin.Context, pick func(*types.Job) string) (*types.Job, string, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "INVALID_ID", err)
		return nil, "", false
	}
	dbc := dbctx.New(c.Request.Context())
	job, err := h.jobs.GetByID(dbc, id)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "LOOKUP_FAILED", err)
		return nil, "", false
	}
	if job == nil {
		RespondError(c, http.StatusNotFound, "NOT_FOUND", errors.New("job not found"))
		return nil, "", false
	}
	uri := pick(job)
	if uri == "" {
		RespondError(c, http.StatusNotFound, "NO_ARTIFACT", errors.New("artifact not produced yet"))
		return nil, "", false
	}
	return job, uri, true
}
