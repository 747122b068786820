package render

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Scene render states. FALLBACK means the clip came from a non-primary
// engine (local renderer included); it still counts as a completed scene.
const (
	SceneStatusPending   = "PENDING"
	SceneStatusRendering = "RENDERING"
	SceneStatusDone      = "DONE"
	SceneStatusFallback  = "FALLBACK"
	SceneStatusFailed    = "FAILED"
)

func SceneComplete(status string) bool {
	return status == SceneStatusDone || status == SceneStatusFallback
}

type Scene struct {
	ID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobID uuid.UUID `gorm:"type:uuid;not null;index" json:"job_id"`
	// SceneID is the positive integer id from the scene graph; Idx is the
	// zero-based position. They usually agree (SceneID = Idx+1).
	SceneID int `gorm:"column:scene_id;not null" json:"scene_id"`
	Idx     int `gorm:"column:idx;not null" json:"idx"`

	Type   string `gorm:"column:type;not null" json:"type"` // VIDEO | IMAGE
	Status string `gorm:"column:status;not null;index" json:"status"`

	Description string `gorm:"column:description" json:"description"`
	Caption     string `gorm:"column:caption" json:"caption,omitempty"`
	AssetURI    string `gorm:"column:asset_uri" json:"asset_uri,omitempty"`
	DurationMs  int    `gorm:"column:duration_ms;not null" json:"duration_ms"`
	Transition  string `gorm:"column:transition" json:"transition,omitempty"`

	Prompt          string         `gorm:"column:prompt" json:"prompt,omitempty"`
	EngineRequested string         `gorm:"column:engine_requested" json:"engine_requested,omitempty"`
	EngineUsed      string         `gorm:"column:engine_used" json:"engine_used,omitempty"`
	FallbackUsed    bool           `gorm:"column:fallback_used;not null;default:false" json:"fallback_used"`
	FallbackChain   datatypes.JSON `gorm:"column:fallback_chain" json:"fallback_chain,omitempty"`

	ClipURI   string `gorm:"column:clip_uri" json:"clip_uri,omitempty"`
	ElapsedMs int64  `gorm:"column:elapsed_ms" json:"elapsed_ms,omitempty"`
	Error     string `gorm:"column:error" json:"error,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (Scene) TableName() string { return "render_scene" }
