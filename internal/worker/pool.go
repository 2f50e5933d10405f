// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/metrics"
	"github.com/civicast/civicast/internal/queue"
)

// Handler is what the pool drives. Runner implements it; tests substitute it.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
	Abandon(ctx context.Context, job *queue.Job, cause error)
}

// Pool runs size goroutines, each looping dequeue then handle. On context
// cancellation it stops dequeuing and lets in-flight jobs finish, bounded by
// the drain timeout.
type Pool struct {
	queue   *queue.Queue
	handler Handler
	size    int
	drain   time.Duration
	logger  zerolog.Logger
}

// NewPool assembles a pool of size workers over q.
func NewPool(q *queue.Queue, h Handler, size int, drain time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		queue:   q,
		handler: h,
		size:    size,
		drain:   drain,
		logger:  log.WithComponent("worker").With().Str(log.FieldQueue, q.Name()).Logger(),
	}
}

// Run blocks until ctx is cancelled and all in-flight jobs have drained.
// Jobs left active by a previous crash of this consumer are swept back to
// waiting first so they are redelivered instead of stranded.
func (p *Pool) Run(ctx context.Context) error {
	requeued, err := p.queue.RequeueActive(ctx)
	if err != nil {
		return fmt.Errorf("requeue stranded jobs: %w", err)
	}
	if requeued > 0 {
		p.logger.Warn().Int("requeued", requeued).Msg("stranded jobs requeued after restart")
	}

	p.logger.Info().Int("concurrency", p.size).Msg("worker pool started")

	g := new(errgroup.Group)
	for i := 0; i < p.size; i++ {
		g.Go(func() error {
			for {
				job, err := p.queue.Dequeue(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					p.logger.Error().Err(err).Msg("dequeue failed")
					select {
					case <-time.After(time.Second):
					case <-ctx.Done():
						return nil
					}
					continue
				}
				p.process(ctx, job)
			}
		})
	}

	err = g.Wait()
	p.logger.Info().Msg("worker pool drained")
	return err
}

// process runs one job. The handler's context outlives the pool context so
// an in-flight job survives shutdown, but only up to the drain timeout.
func (p *Pool) process(ctx context.Context, job *queue.Job) {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()
	hctx = log.ContextWithJobID(log.ContextWithMeetingID(hctx, job.MeetingID), job.ID)
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(p.drain, cancel)
	})
	defer stop()

	logger := p.logger.With().
		Str(log.FieldJobID, job.ID).
		Str(log.FieldMeetingID, job.MeetingID).
		Int(log.FieldAttempt, job.AttemptsMade).
		Logger()
	logger.Info().Msg("job started")

	start := time.Now()
	err := p.handler.Handle(hctx, job)
	metrics.ObserveJobDuration(p.queue.Name(), time.Since(start).Seconds())

	if err == nil {
		if cerr := p.queue.Complete(hctx, job); cerr != nil {
			logger.Error().Err(cerr).Msg("failed to mark job completed")
			return
		}
		metrics.IncJob(p.queue.Name(), "completed")
		logger.Info().Dur("took", time.Since(start)).Msg("job completed")
		return
	}

	retried, ferr := p.queue.Fail(hctx, job, err.Error())
	if ferr != nil {
		logger.Error().Err(ferr).Msg("failed to mark job failed")
		return
	}
	if retried {
		metrics.IncJob(p.queue.Name(), "retried")
	} else {
		metrics.IncJob(p.queue.Name(), "failed")
	}

	if errors.Is(err, ErrPrecondition) || !retried {
		p.handler.Abandon(hctx, job, err)
	}
	logger.Warn().Err(err).Bool("retried", retried).Msg("job failed")
}
