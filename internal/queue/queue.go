// SPDX-License-Identifier: MIT

// Package queue implements the persistent per-phase job queue on Redis:
// at-least-once delivery, exponential-backoff retry, deterministic job
// identifiers as dedup keys, and bounded retention of finished jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/civicast/civicast/internal/log"
)

// State labels the queue states a job can occupy.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateDelayed   State = "delayed"
)

// States returns every job state.
func States() []State {
	return []State{StateWaiting, StateActive, StateCompleted, StateFailed, StateDelayed}
}

// ParseState validates a state string.
func ParseState(s string) (State, error) {
	st := State(s)
	switch st {
	case StateWaiting, StateActive, StateCompleted, StateFailed, StateDelayed:
		return st, nil
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// Job is one queue entry. The payload is only the meeting ID; everything
// else is bookkeeping.
type Job struct {
	ID           string `json:"id"`
	Queue        string `json:"queue"`
	MeetingID    string `json:"meetingId"`
	AttemptsMade int    `json:"attemptsMade"`
	MaxAttempts  int    `json:"maxAttempts"`
	CreatedAt    int64  `json:"createdAt"` // unix millis
	ProcessedAt  int64  `json:"processedAt,omitempty"`
	FinishedAt   int64  `json:"finishedAt,omitempty"`
	FailedReason string `json:"failedReason,omitempty"`
}

// Options tune retry and retention behaviour.
type Options struct {
	Attempts      int           // total attempts before a job lands in failed (default 3)
	Backoff       time.Duration // first retry delay, doubled per attempt (default 2s)
	KeepCompleted int           // completed jobs retained for introspection (default 100)
	KeepFailed    int           // failed jobs retained for introspection (default 500)
	PollInterval  time.Duration // dequeue poll cadence (default 500ms)
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 2 * time.Second
	}
	if o.KeepCompleted <= 0 {
		o.KeepCompleted = 100
	}
	if o.KeepFailed <= 0 {
		o.KeepFailed = 500
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	return o
}

// ErrNoJob is returned by GetJob for unknown identifiers.
var ErrNoJob = errors.New("job not found")

// Queue is one named persistent queue.
type Queue struct {
	name   string
	rdb    *redis.Client
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New binds a queue name to a Redis client.
func New(rdb *redis.Client, name string, opts Options) *Queue {
	return &Queue{
		name:   name,
		rdb:    rdb,
		opts:   opts.withDefaults(),
		logger: log.WithComponent("queue").With().Str(log.FieldQueue, name).Logger(),
		now:    time.Now,
	}
}

// NewClient connects to Redis and verifies the connection.
func NewClient(addr string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) key(suffix string) string {
	return "civicast:q:" + q.name + ":" + suffix
}

func (q *Queue) jobKey(id string) string {
	return q.key("job:" + id)
}

func (q *Queue) listKey(state State) string {
	return q.key(string(state))
}

// JobID returns the deterministic identifier for a meeting on this queue.
func (q *Queue) JobID(meetingID string) string {
	return q.name + "-" + meetingID
}

// Enqueue adds a job for the meeting. If a job with the same identifier is
// already pending (waiting, active or delayed), the call is a no-op and
// enqueued is false.
func (q *Queue) Enqueue(ctx context.Context, meetingID string) (job *Job, enqueued bool, err error) {
	id := q.JobID(meetingID)

	added, err := q.rdb.SAdd(ctx, q.key("ids"), id).Result()
	if err != nil {
		return nil, false, fmt.Errorf("enqueue %s: %w", id, err)
	}
	if added == 0 {
		q.logger.Debug().Str(log.FieldJobID, id).Msg("job already pending, enqueue skipped")
		return nil, false, nil
	}

	job = &Job{
		ID:          id,
		Queue:       q.name,
		MeetingID:   meetingID,
		MaxAttempts: q.opts.Attempts,
		CreatedAt:   q.now().UnixMilli(),
	}
	if err := q.saveJob(ctx, job); err != nil {
		return nil, false, err
	}
	if err := q.rdb.LPush(ctx, q.listKey(StateWaiting), id).Err(); err != nil {
		return nil, false, fmt.Errorf("enqueue %s: %w", id, err)
	}

	q.logger.Debug().Str(log.FieldJobID, id).Str(log.FieldMeetingID, meetingID).Msg("job enqueued")
	return job, true, nil
}

// Dequeue blocks until a job is available or ctx is cancelled. Due delayed
// jobs are promoted to waiting first.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := q.promoteDelayed(ctx); err != nil {
			return nil, err
		}

		id, err := q.rdb.LMove(ctx, q.listKey(StateWaiting), q.listKey(StateActive), "RIGHT", "LEFT").Result()
		switch {
		case err == nil:
			job, err := q.loadJob(ctx, id)
			if err != nil {
				// Orphaned identifier; drop it and keep consuming.
				q.logger.Warn().Err(err).Str(log.FieldJobID, id).Msg("dropping orphaned job id")
				_ = q.rdb.LRem(ctx, q.listKey(StateActive), 0, id).Err()
				_ = q.rdb.SRem(ctx, q.key("ids"), id).Err()
				continue
			}
			job.AttemptsMade++
			job.ProcessedAt = q.now().UnixMilli()
			if err := q.saveJob(ctx, job); err != nil {
				return nil, err
			}
			return job, nil
		case errors.Is(err, redis.Nil):
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-ticker.C:
			}
		default:
			return nil, fmt.Errorf("dequeue: %w", err)
		}
	}
}

// RequeueActive moves every active job back onto the waiting list and returns
// how many were moved. Each queue has exactly one consumer process, so any
// job still active when that process starts was stranded by a crash before it
// could be acked; without this sweep the dedup identifier keeps the meeting
// pending forever and no consumer ever sees the job again. The interrupted
// attempt stays counted against the job's budget.
func (q *Queue) RequeueActive(ctx context.Context) (int, error) {
	moved := 0
	for {
		id, err := q.rdb.LMove(ctx, q.listKey(StateActive), q.listKey(StateWaiting), "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, fmt.Errorf("requeue active: %w", err)
		}
		q.logger.Warn().Str(log.FieldJobID, id).Msg("stranded active job returned to waiting")
		moved++
	}
}

// Complete marks an active job as successfully finished and retires it into
// the bounded completed list.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	if err := q.rdb.LRem(ctx, q.listKey(StateActive), 0, job.ID).Err(); err != nil {
		return fmt.Errorf("complete %s: %w", job.ID, err)
	}
	if err := q.rdb.SRem(ctx, q.key("ids"), job.ID).Err(); err != nil {
		return fmt.Errorf("complete %s: %w", job.ID, err)
	}
	job.FinishedAt = q.now().UnixMilli()
	job.FailedReason = ""
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.retire(ctx, StateCompleted, job.ID, q.opts.KeepCompleted)
}

// Fail records a failed attempt. If attempts remain the job is scheduled on
// the delayed set with exponential backoff and retried is true; otherwise it
// is retired into the bounded failed list.
func (q *Queue) Fail(ctx context.Context, job *Job, reason string) (retried bool, err error) {
	if err := q.rdb.LRem(ctx, q.listKey(StateActive), 0, job.ID).Err(); err != nil {
		return false, fmt.Errorf("fail %s: %w", job.ID, err)
	}

	job.FailedReason = reason

	if job.AttemptsMade < job.MaxAttempts {
		delay := q.backoffFor(job.AttemptsMade)
		readyAt := q.now().Add(delay)
		if err := q.saveJob(ctx, job); err != nil {
			return false, err
		}
		if err := q.rdb.ZAdd(ctx, q.listKey(StateDelayed), redis.Z{
			Score:  float64(readyAt.UnixMilli()),
			Member: job.ID,
		}).Err(); err != nil {
			return false, fmt.Errorf("fail %s: %w", job.ID, err)
		}
		q.logger.Info().
			Str(log.FieldJobID, job.ID).
			Int(log.FieldAttempt, job.AttemptsMade).
			Dur("retry_in", delay).
			Str("reason", reason).
			Msg("job failed, retry scheduled")
		return true, nil
	}

	job.FinishedAt = q.now().UnixMilli()
	if err := q.rdb.SRem(ctx, q.key("ids"), job.ID).Err(); err != nil {
		return false, fmt.Errorf("fail %s: %w", job.ID, err)
	}
	if err := q.saveJob(ctx, job); err != nil {
		return false, err
	}
	if err := q.retire(ctx, StateFailed, job.ID, q.opts.KeepFailed); err != nil {
		return false, err
	}
	q.logger.Warn().
		Str(log.FieldJobID, job.ID).
		Int(log.FieldAttempt, job.AttemptsMade).
		Str("reason", reason).
		Msg("job exhausted all attempts")
	return false, nil
}

// backoffFor returns the delay before retry attempt n+1 (n = attempts made).
func (q *Queue) backoffFor(attemptsMade int) time.Duration {
	delay := q.opts.Backoff
	for i := 1; i < attemptsMade; i++ {
		delay *= 2
	}
	return delay
}

// promoteDelayed moves due delayed jobs back onto the waiting list.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := q.now().UnixMilli()
	ids, err := q.rdb.ZRangeByScore(ctx, q.listKey(StateDelayed), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("promote delayed: %w", err)
	}
	for _, id := range ids {
		removed, err := q.rdb.ZRem(ctx, q.listKey(StateDelayed), id).Result()
		if err != nil {
			return fmt.Errorf("promote delayed: %w", err)
		}
		// Another consumer may have promoted it already.
		if removed == 0 {
			continue
		}
		if err := q.rdb.LPush(ctx, q.listKey(StateWaiting), id).Err(); err != nil {
			return fmt.Errorf("promote delayed: %w", err)
		}
		q.logger.Debug().Str(log.FieldJobID, id).Msg("delayed job promoted")
	}
	return nil
}

// retire pushes id onto a bounded retention list and prunes job records that
// fall off the end.
func (q *Queue) retire(ctx context.Context, state State, id string, keep int) error {
	key := q.listKey(state)
	if err := q.rdb.LPush(ctx, key, id).Err(); err != nil {
		return fmt.Errorf("retire %s: %w", id, err)
	}
	evicted, err := q.rdb.LRange(ctx, key, int64(keep), -1).Result()
	if err != nil {
		return fmt.Errorf("retire %s: %w", id, err)
	}
	if err := q.rdb.LTrim(ctx, key, 0, int64(keep-1)).Err(); err != nil {
		return fmt.Errorf("retire %s: %w", id, err)
	}
	for _, old := range evicted {
		_ = q.rdb.Del(ctx, q.jobKey(old)).Err()
	}
	return nil
}

func (q *Queue) saveJob(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	if err := q.rdb.Set(ctx, q.jobKey(job.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (q *Queue) loadJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrNoJob, id)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}
