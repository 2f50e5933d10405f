// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// List returns up to limit jobs in the given state, newest first for the
// retention lists and schedule order for delayed.
func (q *Queue) List(ctx context.Context, state State, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}

	var ids []string
	var err error
	switch state {
	case StateDelayed:
		ids, err = q.rdb.ZRange(ctx, q.listKey(StateDelayed), 0, int64(limit-1)).Result()
	case StateWaiting, StateActive, StateCompleted, StateFailed:
		ids, err = q.rdb.LRange(ctx, q.listKey(state), 0, int64(limit-1)).Result()
	default:
		return nil, fmt.Errorf("unknown job state %q", state)
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", state, err)
	}

	jobs := make([]Job, 0, len(ids))
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNoJob) {
				continue // record pruned under us
			}
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// GetJob returns the job record and the state it currently occupies.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, State, error) {
	job, err := q.loadJob(ctx, id)
	if err != nil {
		return nil, "", err
	}
	state, err := q.stateOf(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return job, state, nil
}

// stateOf scans the queue's states for the identifier.
func (q *Queue) stateOf(ctx context.Context, id string) (State, error) {
	if err := q.rdb.ZScore(ctx, q.listKey(StateDelayed), id).Err(); err == nil {
		return StateDelayed, nil
	}
	for _, state := range []State{StateActive, StateWaiting, StateFailed, StateCompleted} {
		ids, err := q.rdb.LRange(ctx, q.listKey(state), 0, -1).Result()
		if err != nil {
			return "", fmt.Errorf("state of %s: %w", id, err)
		}
		for _, candidate := range ids {
			if candidate == id {
				return state, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s has a record but no state", ErrNoJob, id)
}

// Pending reports whether a job for the meeting occupies waiting, active or
// delayed (the dedup window).
func (q *Queue) Pending(ctx context.Context, meetingID string) (bool, error) {
	ok, err := q.rdb.SIsMember(ctx, q.key("ids"), q.JobID(meetingID)).Result()
	if err != nil {
		return false, fmt.Errorf("pending check: %w", err)
	}
	return ok, nil
}

// Retry moves a failed job back to waiting with a fresh attempt budget.
func (q *Queue) Retry(ctx context.Context, id string) error {
	removed, err := q.rdb.LRem(ctx, q.listKey(StateFailed), 0, id).Result()
	if err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	if removed == 0 {
		return fmt.Errorf("retry %s: job is not in failed state", id)
	}

	job, err := q.loadJob(ctx, id)
	if err != nil {
		return err
	}
	job.AttemptsMade = 0
	job.FinishedAt = 0
	job.FailedReason = ""
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	if err := q.rdb.SAdd(ctx, q.key("ids"), id).Err(); err != nil {
		return fmt.Errorf("retry %s: %w", id, err)
	}
	return q.rdb.LPush(ctx, q.listKey(StateWaiting), id).Err()
}

// Remove deletes a job from every state and drops its record.
func (q *Queue) Remove(ctx context.Context, id string) error {
	for _, state := range []State{StateWaiting, StateActive, StateCompleted, StateFailed} {
		if err := q.rdb.LRem(ctx, q.listKey(state), 0, id).Err(); err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
	}
	if err := q.rdb.ZRem(ctx, q.listKey(StateDelayed), id).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	if err := q.rdb.SRem(ctx, q.key("ids"), id).Err(); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	return q.rdb.Del(ctx, q.jobKey(id)).Err()
}

// Clean removes completed or failed jobs that finished more than olderThan
// ago. Returns the number of removed jobs.
func (q *Queue) Clean(ctx context.Context, state State, olderThan time.Duration) (int, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, fmt.Errorf("clean: state must be completed or failed, got %q", state)
	}
	cutoff := q.now().Add(-olderThan).UnixMilli()

	ids, err := q.rdb.LRange(ctx, q.listKey(state), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("clean %s: %w", state, err)
	}

	removed := 0
	for _, id := range ids {
		job, err := q.loadJob(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNoJob) {
				_ = q.rdb.LRem(ctx, q.listKey(state), 0, id).Err()
				removed++
				continue
			}
			return removed, err
		}
		if job.FinishedAt != 0 && job.FinishedAt < cutoff {
			if err := q.rdb.LRem(ctx, q.listKey(state), 0, id).Err(); err != nil {
				return removed, fmt.Errorf("clean %s: %w", state, err)
			}
			_ = q.rdb.Del(ctx, q.jobKey(id)).Err()
			removed++
		}
	}
	return removed, nil
}

// Clear removes every job in the given state regardless of age. Returns the
// number of removed jobs.
func (q *Queue) Clear(ctx context.Context, state State) (int, error) {
	var ids []string
	var err error
	switch state {
	case StateDelayed:
		ids, err = q.rdb.ZRange(ctx, q.listKey(StateDelayed), 0, -1).Result()
	case StateWaiting, StateActive, StateCompleted, StateFailed:
		ids, err = q.rdb.LRange(ctx, q.listKey(state), 0, -1).Result()
	default:
		return 0, fmt.Errorf("unknown job state %q", state)
	}
	if err != nil {
		return 0, fmt.Errorf("clear %s: %w", state, err)
	}

	for _, id := range ids {
		if err := q.Remove(ctx, id); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

// Stats returns the job count per state.
func (q *Queue) Stats(ctx context.Context) (map[State]int64, error) {
	out := make(map[State]int64, 5)
	for _, state := range []State{StateWaiting, StateActive, StateCompleted, StateFailed} {
		n, err := q.rdb.LLen(ctx, q.listKey(state)).Result()
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		out[state] = n
	}
	n, err := q.rdb.ZCard(ctx, q.listKey(StateDelayed)).Result()
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	out[StateDelayed] = n
	return out, nil
}
