package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

const jobsKey = "reelsmith:jobs"

// Queue is the at-least-once handoff between the API and the render worker.
// Payloads are job IDs; all job state lives in the database, so a redelivered
// ID is resumed, not replayed.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue blocks up to timeout. Empty string with nil error means the
	// timeout elapsed with nothing queued.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	Depth(ctx context.Context) (int64, error)
	Close() error
}

type redisQueue struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewRedis(log *logger.Logger, addr string) (Queue, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisQueue{
		log: log.With("service", "RenderQueue"),
		rdb: rdb,
	}, nil
}

func (q *redisQueue) Enqueue(ctx context.Context, jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return fmt.Errorf("empty job id")
	}
	if err := q.rdb.LPush(ctx, jobsKey, jobID).Err(); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

func (q *redisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, jobsKey).Result()
	if err == goredis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}
	return res[1], nil
}

func (q *redisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, jobsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

func (q *redisQueue) Close() error {
	return q.rdb.Close()
}
