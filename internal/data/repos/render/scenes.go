package render

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/reelsmith/reelsmith-backend/internal/data/dbctx"
	types "github.com/reelsmith/reelsmith-backend/internal/domain/render"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

type SceneRepo interface {
	CreateBatch(dbc dbctx.Context, scenes []*types.Scene) ([]*types.Scene, error)
	GetByJobID(dbc dbctx.Context, jobID uuid.UUID) ([]*types.Scene, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Scene, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ResetIncomplete(dbc dbctx.Context, jobID uuid.UUID) error
	CountComplete(dbc dbctx.Context, jobID uuid.UUID) (int64, error)
}

type sceneRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSceneRepo(db *gorm.DB, baseLog *logger.Logger) SceneRepo {
	return &sceneRepo{
		db:  db,
		log: baseLog.With("repo", "RenderSceneRepo"),
	}
}

func (r *sceneRepo) CreateBatch(dbc dbctx.Context, scenes []*types.Scene) ([]*types.Scene, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(scenes) == 0 {
		return []*types.Scene{}, nil
	}
	for _, s := range scenes {
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		if s.Status == "" {
			s.Status = types.SceneStatusPending
		}
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&scenes).Error; err != nil {
		return nil, err
	}
	return scenes, nil
}

func (r *sceneRepo) GetByJobID(dbc dbctx.Context, jobID uuid.UUID) ([]*types.Scene, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil, nil
	}
	var out []*types.Scene
	if err := transaction.WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Order("idx ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *sceneRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Scene, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var scene types.Scene
	err := transaction.WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&scene).Error
	if err != nil {
		return nil, err
	}
	if scene.ID == uuid.Nil {
		return nil, nil
	}
	return &scene, nil
}

func (r *sceneRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Scene{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ResetIncomplete flips RENDERING and FAILED scenes back to PENDING so a
// resumed job re-renders from the earliest incomplete scene. DONE and
// FALLBACK clips are kept.
func (r *sceneRepo) ResetIncomplete(dbc dbctx.Context, jobID uuid.UUID) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(dbc.Ctx).
		Model(&types.Scene{}).
		Where("job_id = ? AND status IN ?", jobID, []string{types.SceneStatusRendering, types.SceneStatusFailed}).
		Updates(map[string]interface{}{
			"status":     types.SceneStatusPending,
			"error":      "",
			"updated_at": time.Now(),
		}).Error
}

func (r *sceneRepo) CountComplete(dbc dbctx.Context, jobID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if jobID == uuid.Nil {
		return 0, nil
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Scene{}).
		Where("job_id = ? AND status IN ?", jobID, []string{types.SceneStatusDone, types.SceneStatusFallback}).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
