package render

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-backend/internal/data/dbctx"
	types "github.com/reelsmith/reelsmith-backend/internal/domain/render"
	"github.com/reelsmith/reelsmith-backend/internal/testutil"
)

func newJobRepo(t *testing.T) (JobRepo, dbctx.Context) {
	t.Helper()
	db := testutil.OpenTestDB(t)
	return NewJobRepo(db, testutil.NewTestLogger(t)), dbctx.New(context.Background())
}

func TestCreateDefaults(t *testing.T) {
	repo, dbc := newJobRepo(t)

	job, err := repo.Create(dbc, &types.Job{PresetID: "product_hero_clean"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if job.ID == uuid.Nil {
		t.Fatalf("expected generated id")
	}
	if job.Status != types.JobStatusQueued {
		t.Fatalf("expected QUEUED, got %s", job.Status)
	}

	got, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.PresetID != "product_hero_clean" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestGetByIDMissing(t *testing.T) {
	repo, dbc := newJobRepo(t)
	got, err := repo.GetByID(dbc, uuid.New())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing job, got %+v", got)
	}
}

func TestTransitionStatusForwardOnly(t *testing.T) {
	repo, dbc := newJobRepo(t)
	job, err := repo.Create(dbc, &types.Job{PresetID: "p"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := repo.TransitionStatus(dbc, job.ID, types.JobStatusQueued, types.JobStatusPlanningScenes, nil)
	if err != nil || !ok {
		t.Fatalf("expected QUEUED -> PLANNING_SCENES to apply, ok=%v err=%v", ok, err)
	}

	// Skipping a stage is rejected before any write.
	ok, err = repo.TransitionStatus(dbc, job.ID, types.JobStatusPlanningScenes, types.JobStatusRenderingScenes, nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if ok {
		t.Fatalf("stage skip should be rejected")
	}

	// Stale from-state does not match the row.
	ok, err = repo.TransitionStatus(dbc, job.ID, types.JobStatusQueued, types.JobStatusPlanningScenes, nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if ok {
		t.Fatalf("stale transition should affect no rows")
	}
}

func TestTransitionStatusTerminalGuard(t *testing.T) {
	repo, dbc := newJobRepo(t)
	job, err := repo.Create(dbc, &types.Job{PresetID: "p"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	ok, err := repo.TransitionStatus(dbc, job.ID, types.JobStatusQueued, types.JobStatusFailed, map[string]interface{}{
		"error": "engine down",
	})
	if err != nil || !ok {
		t.Fatalf("expected QUEUED -> FAILED to apply, ok=%v err=%v", ok, err)
	}

	ok, err = repo.TransitionStatus(dbc, job.ID, types.JobStatusFailed, types.JobStatusDone, nil)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if ok {
		t.Fatalf("terminal job must not be revived")
	}

	if err := repo.Heartbeat(dbc, job.ID); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	got, err := repo.GetByID(dbc, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.HeartbeatAt != nil {
		t.Fatalf("heartbeat must not touch terminal jobs")
	}
}

func TestListInterrupted(t *testing.T) {
	repo, dbc := newJobRepo(t)

	stale := time.Now().Add(-10 * time.Minute)
	fresh := time.Now()

	mk := func(status string, hb *time.Time) uuid.UUID {
		job, err := repo.Create(dbc, &types.Job{PresetID: "p", Status: status})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if hb != nil {
			if err := repo.UpdateFields(dbc, job.ID, map[string]interface{}{"heartbeat_at": *hb}); err != nil {
				t.Fatalf("update: %v", err)
			}
		}
		return job.ID
	}

	staleID := mk(types.JobStatusRenderingScenes, &stale)
	mk(types.JobStatusRenderingScenes, &fresh)
	mk(types.JobStatusQueued, nil)
	mk(types.JobStatusDone, &stale)

	out, err := repo.ListInterrupted(dbc, 2*time.Minute)
	if err != nil {
		t.Fatalf("list interrupted: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("expected 1 interrupted job, got %d", len(out))
	}
	if out[0].ID != staleID {
		t.Fatalf("wrong job resumed: %s", out[0].ID)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	repo, dbc := newJobRepo(t)
	for _, status := range []string{types.JobStatusQueued, types.JobStatusDone, types.JobStatusFailed} {
		if _, err := repo.Create(dbc, &types.Job{PresetID: "p", Status: status}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	out, err := repo.List(dbc, []string{types.JobStatusDone, types.JobStatusFailed}, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 terminal jobs, got %d", len(out))
	}

	out, err = repo.List(dbc, nil, 1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("limit not applied, got %d rows", len(out))
	}
}
