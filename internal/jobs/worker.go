package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/reelsmith/reelsmith-backend/internal/data/dbctx"
	reporender "github.com/reelsmith/reelsmith-backend/internal/data/repos/render"
	"github.com/reelsmith/reelsmith-backend/internal/observability"
	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
	"github.com/reelsmith/reelsmith-backend/internal/queue"
)

const (
	dequeueTimeout    = 3 * time.Second
	heartbeatInterval = 10 * time.Second
	staleRunning      = 2 * time.Minute
)

// Worker pulls job IDs off the queue and runs them. On startup it resumes
// jobs a crashed worker left mid-pipeline before taking new work.
type Worker struct {
	log     *logger.Logger
	queue   queue.Queue
	jobs    reporender.JobRepo
	runner  *Runner
	stopped atomic.Bool
}

func NewWorker(log *logger.Logger, q queue.Queue, jobs reporender.JobRepo, runner *Runner) *Worker {
	return &Worker{
		log:    log.With("service", "RenderWorker"),
		queue:  q,
		jobs:   jobs,
		runner: runner,
	}
}

// Run blocks until ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker starting")
	w.resumeInterrupted(ctx)

	for !w.stopped.Load() {
		if err := ctx.Err(); err != nil {
			w.log.Info("worker stopping", "reason", err)
			return nil
		}
		id, err := w.queue.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error("dequeue failed, backing off", "error", err)
			time.Sleep(2 * time.Second)
			continue
		}
		if id == "" {
			w.updateQueueDepth(ctx)
			continue
		}
		w.runOne(ctx, id)
	}
	w.log.Info("worker stopped")
	return nil
}

func (w *Worker) Stop() {
	w.stopped.Store(true)
}

// resumeInterrupted re-runs jobs whose heartbeat went stale mid-pipeline.
// Scenes already DONE or FALLBACK keep their clips.
func (w *Worker) resumeInterrupted(ctx context.Context) {
	dbc := dbctx.New(ctx)
	stale, err := w.jobs.ListInterrupted(dbc, staleRunning)
	if err != nil {
		w.log.Error("listing interrupted jobs failed", "error", err)
		return
	}
	for _, job := range stale {
		w.log.Info("resuming interrupted job", "job_id", job.ID, "status", job.Status)
		w.runOne(ctx, job.ID.String())
	}
}

func (w *Worker) runOne(ctx context.Context, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		w.log.Error("discarding malformed job id", "raw", rawID, "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			w.log.Error("job processing panicked", "job_id", id, "panic", r)
		}
	}()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go w.heartbeatLoop(hbCtx, id)

	if err := w.runner.Process(ctx, id); err != nil {
		w.log.Error("job processing failed", "job_id", id, "error", err)
	}
	w.updateQueueDepth(ctx)
}

func (w *Worker) heartbeatLoop(ctx context.Context, id uuid.UUID) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	dbc := dbctx.New(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.jobs.Heartbeat(dbc, id); err != nil {
				w.log.Warn("heartbeat failed", "job_id", id, "error", err)
			}
		}
	}
}

func (w *Worker) updateQueueDepth(ctx context.Context) {
	depth, err := w.queue.Depth(ctx)
	if err != nil {
		return
	}
	observability.GetMetrics().QueueDepthGauge.Set(float64(depth))
}
