package render

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Job lifecycle states. FAILED is reachable from any non-terminal state;
// DONE and FAILED are terminal.
const (
	JobStatusQueued          = "QUEUED"
	JobStatusPlanningScenes  = "PLANNING_SCENES"
	JobStatusBuildingTimelin = "BUILDING_TIMELINE"
	JobStatusRenderingScenes = "RENDERING_SCENES"
	JobStatusComposing       = "COMPOSING"
	JobStatusAudioAssembly   = "AUDIO_ASSEMBLY"
	JobStatusFinalizing      = "FINALIZING"
	JobStatusDone            = "DONE"
	JobStatusFailed          = "FAILED"
)

// StageOrder maps each state to its position in the pipeline. Used to keep
// progress monotone and to detect stale rows on worker resume.
var StageOrder = map[string]int{
	JobStatusQueued:          0,
	JobStatusPlanningScenes:  1,
	JobStatusBuildingTimelin: 2,
	JobStatusRenderingScenes: 3,
	JobStatusComposing:       4,
	JobStatusAudioAssembly:   5,
	JobStatusFinalizing:      6,
	JobStatusDone:            7,
	JobStatusFailed:          7,
}

func IsTerminal(status string) bool {
	return status == JobStatusDone || status == JobStatusFailed
}

// CanTransition enforces forward-only movement through the pipeline, with
// FAILED allowed from anywhere non-terminal.
func CanTransition(from, to string) bool {
	if IsTerminal(from) {
		return false
	}
	if to == JobStatusFailed {
		return true
	}
	fromOrd, ok1 := StageOrder[from]
	toOrd, ok2 := StageOrder[to]
	if !ok1 || !ok2 {
		return false
	}
	return toOrd == fromOrd+1
}

type Job struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	PresetID string    `gorm:"column:preset_id;not null;index" json:"preset_id"`
	Status   string    `gorm:"column:status;not null;index" json:"status"`
	Progress int       `gorm:"column:progress;not null;default:0" json:"progress"`
	Attempts int       `gorm:"column:attempts;not null;default:0" json:"attempts"`
	Error    string    `gorm:"column:error" json:"error,omitempty"`

	// Set when the deliverable degraded: a scene used the local renderer or
	// the whole output came from the template rescue.
	FallbackUsed   bool   `gorm:"column:fallback_used;not null;default:false" json:"fallback_used"`
	FallbackReason string `gorm:"column:fallback_reason" json:"fallback_reason,omitempty"`

	// Request payload: script, asset URIs, per-job option overrides.
	Payload datatypes.JSON `gorm:"column:payload" json:"payload"`

	SceneGraphURI string `gorm:"column:scene_graph_uri" json:"scene_graph_uri,omitempty"`
	TimelineURI   string `gorm:"column:timeline_uri" json:"timeline_uri,omitempty"`
	VoiceoverURI  string `gorm:"column:voiceover_uri" json:"voiceover_uri,omitempty"`
	OutputURI     string `gorm:"column:output_uri" json:"output_uri,omitempty"`
	ThumbnailURI  string `gorm:"column:thumbnail_uri" json:"thumbnail_uri,omitempty"`
	CaptionsURI   string `gorm:"column:captions_uri" json:"captions_uri,omitempty"`
	MetadataURI   string `gorm:"column:metadata_uri" json:"metadata_uri,omitempty"`

	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at" json:"heartbeat_at,omitempty"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`

	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Job) TableName() string { return "render_job" }

// JobPayload is the decoded shape of Job.Payload.
type JobPayload struct {
	Script   string            `json:"script"`
	Assets   []AssetRef        `json:"assets,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
	Engine   string            `json:"engine,omitempty"`
	Music    string            `json:"music,omitempty"`
	VoiceURI string            `json:"voiceUri,omitempty"`
}

type AssetRef struct {
	URI      string `json:"uri"`
	Kind     string `json:"kind"` // image | video | audio
	Filename string `json:"filename,omitempty"`
}
