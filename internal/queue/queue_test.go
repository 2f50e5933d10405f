// SPDX-License-Identifier: MIT

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestQueue backs a queue with miniredis and an adjustable clock.
func newTestQueue(t *testing.T, opts Options) (*Queue, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	q := New(client, "download", opts)

	now := time.Now()
	q.now = func() time.Time { return now }
	return q, &now
}

func dequeue(t *testing.T, q *Queue) *Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	return job
}

func TestEnqueueDedup(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	job, enqueued, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)
	require.True(t, enqueued)
	assert.Equal(t, "download-m1", job.ID)

	// Same meeting again is a no-op.
	_, enqueued, err = q.Enqueue(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, enqueued)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[StateWaiting])
}

func TestDedupCoversActiveAndDelayed(t *testing.T) {
	q, now := newTestQueue(t, Options{Attempts: 3})
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)

	job := dequeue(t, q)

	// Active: still deduplicated.
	_, enqueued, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, enqueued)

	// Delayed after a failed attempt: still deduplicated.
	retried, err := q.Fail(ctx, job, "network timeout")
	require.NoError(t, err)
	assert.True(t, retried)

	_, enqueued, err = q.Enqueue(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, enqueued)

	pending, err := q.Pending(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, pending)

	// Once the backoff elapses, the job comes back with attempt 2.
	*now = now.Add(3 * time.Second)
	job = dequeue(t, q)
	assert.Equal(t, 2, job.AttemptsMade)
}

func TestCompleteLifecycle(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)

	job := dequeue(t, q)
	assert.Equal(t, 1, job.AttemptsMade)
	assert.Equal(t, "m1", job.MeetingID)

	require.NoError(t, q.Complete(ctx, job))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[StateWaiting])
	assert.Equal(t, int64(0), stats[StateActive])
	assert.Equal(t, int64(1), stats[StateCompleted])

	pending, err := q.Pending(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, pending, "completed jobs leave the dedup window")

	// A finished meeting can be re-driven.
	_, enqueued, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, enqueued)
}

func TestRequeueActiveRedeliversAfterCrash(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)

	// The consumer claims the job and dies without acking. The job sits in
	// active, the dedup identifier still reports the meeting pending, and a
	// fresh consumer sees nothing.
	first := dequeue(t, q)
	assert.Equal(t, 1, first.AttemptsMade)

	pending, err := q.Pending(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, pending)

	dctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = q.Dequeue(dctx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The restart sweep returns it to waiting and it is delivered again.
	moved, err := q.RequeueActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)

	again := dequeue(t, q)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 2, again.AttemptsMade, "the interrupted attempt stays counted")

	require.NoError(t, q.Complete(ctx, again))
	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats[StateActive])
	assert.Equal(t, int64(0), stats[StateWaiting])

	// An empty sweep is a no-op.
	moved, err = q.RequeueActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, moved)
}

func TestRetryBackoffThenExhaustion(t *testing.T) {
	q, now := newTestQueue(t, Options{Attempts: 3, Backoff: 2 * time.Second})
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)

	// Attempt 1 fails: retry in 2s.
	job := dequeue(t, q)
	retried, err := q.Fail(ctx, job, "boom")
	require.NoError(t, err)
	assert.True(t, retried)

	// Not yet due.
	dctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = q.Dequeue(dctx)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Attempt 2 fails: retry in 4s.
	*now = now.Add(2100 * time.Millisecond)
	job = dequeue(t, q)
	assert.Equal(t, 2, job.AttemptsMade)
	retried, err = q.Fail(ctx, job, "boom again")
	require.NoError(t, err)
	assert.True(t, retried)

	// Attempt 3 fails: exhausted.
	*now = now.Add(4100 * time.Millisecond)
	job = dequeue(t, q)
	assert.Equal(t, 3, job.AttemptsMade)
	retried, err = q.Fail(ctx, job, "final failure")
	require.NoError(t, err)
	assert.False(t, retried)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[StateFailed])

	got, state, err := q.GetJob(ctx, "download-m1")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, "final failure", got.FailedReason)
}

func TestRetryFromFailed(t *testing.T) {
	q, _ := newTestQueue(t, Options{Attempts: 1})
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)
	job := dequeue(t, q)
	_, err = q.Fail(ctx, job, "fatal")
	require.NoError(t, err)

	require.NoError(t, q.Retry(ctx, "download-m1"))

	job = dequeue(t, q)
	assert.Equal(t, 1, job.AttemptsMade, "retry resets the attempt budget")
	assert.Empty(t, job.FailedReason)

	// Retrying a job that is not failed is an error.
	assert.Error(t, q.Retry(ctx, "download-m1"))
}

func TestRetention(t *testing.T) {
	q, _ := newTestQueue(t, Options{KeepCompleted: 2})
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		_, _, err := q.Enqueue(ctx, id)
		require.NoError(t, err)
		job := dequeue(t, q)
		require.NoError(t, q.Complete(ctx, job))
	}

	jobs, err := q.List(ctx, StateCompleted, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "download-m3", jobs[0].ID)
	assert.Equal(t, "download-m2", jobs[1].ID)

	// The evicted job's record is pruned.
	_, _, err = q.GetJob(ctx, "download-m1")
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestCleanAndClear(t *testing.T) {
	q, now := newTestQueue(t, Options{Attempts: 1})
	ctx := context.Background()

	for _, id := range []string{"m1", "m2"} {
		_, _, err := q.Enqueue(ctx, id)
		require.NoError(t, err)
		job := dequeue(t, q)
		_, err = q.Fail(ctx, job, "x")
		require.NoError(t, err)
	}

	// Nothing old enough yet.
	n, err := q.Clean(ctx, StateFailed, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	*now = now.Add(2 * time.Hour)
	n, err = q.Clean(ctx, StateFailed, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Clear ignores age.
	_, _, err = q.Enqueue(ctx, "m3")
	require.NoError(t, err)
	n, err = q.Clear(ctx, StateWaiting)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.Pending(ctx, "m3")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestRemove(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)
	require.NoError(t, q.Remove(ctx, "download-m1"))

	_, _, err = q.GetJob(ctx, "download-m1")
	assert.ErrorIs(t, err, ErrNoJob)

	// Removal reopens the dedup window.
	_, enqueued, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, enqueued)
}

func TestListStates(t *testing.T) {
	q, _ := newTestQueue(t, Options{Attempts: 2})
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, "m1")
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, "m2")
	require.NoError(t, err)

	waiting, err := q.List(ctx, StateWaiting, 10)
	require.NoError(t, err)
	assert.Len(t, waiting, 2)

	job := dequeue(t, q)
	active, err := q.List(ctx, StateActive, 10)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, job.ID, active[0].ID)

	_, err = q.Fail(ctx, job, "later")
	require.NoError(t, err)
	delayed, err := q.List(ctx, StateDelayed, 10)
	require.NoError(t, err)
	require.Len(t, delayed, 1)
	assert.Equal(t, job.ID, delayed[0].ID)

	_, err = q.List(ctx, State("bogus"), 10)
	assert.Error(t, err)
}
