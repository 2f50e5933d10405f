// SPDX-License-Identifier: MIT

// Package worker contains the phase workers and the pool that drives them.
// Each worker follows the same skeleton: dequeue, check the meeting's phase,
// produce the phase's artifacts, advance.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/orchestrator"
	"github.com/civicast/civicast/internal/queue"
	"github.com/civicast/civicast/internal/store"
)

// ErrPrecondition marks failures that retrying cannot fix: a meeting in the
// wrong phase or a required input artifact missing. The pool marks the
// meeting FAILED right away instead of waiting for the retry budget.
var ErrPrecondition = errors.New("precondition failure")

// PhaseFunc produces one phase's artifacts for a meeting and returns the
// field patch the orchestrator should record with the transition.
type PhaseFunc func(ctx context.Context, m *meeting.Meeting) (store.FieldPatch, error)

// Runner binds a phase function to the state machine.
type Runner struct {
	store   *store.Store
	orch    *orchestrator.Orchestrator
	expects meeting.Phase
	fn      PhaseFunc
	logger  zerolog.Logger
}

// NewRunner returns a runner that accepts meetings in the expects phase.
func NewRunner(st *store.Store, orch *orchestrator.Orchestrator, expects meeting.Phase, fn PhaseFunc) *Runner {
	return &Runner{
		store:   st,
		orch:    orch,
		expects: expects,
		fn:      fn,
		logger:  log.WithComponent("worker"),
	}
}

// Handle processes one job end to end: load, check phase, produce, advance.
func (r *Runner) Handle(ctx context.Context, job *queue.Job) error {
	m, err := r.store.Get(ctx, job.MeetingID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: meeting %s not in store", ErrPrecondition, job.MeetingID)
		}
		return fmt.Errorf("load meeting %s: %w", job.MeetingID, err)
	}
	if m.Phase != r.expects {
		return fmt.Errorf("%w: meeting %s is in phase %s, want %s", ErrPrecondition, m.ID, m.Phase, r.expects)
	}

	patch, err := r.fn(ctx, m)
	if err != nil {
		return err
	}
	return r.orch.Advance(ctx, m.ID, r.expects, patch)
}

// Abandon marks the meeting FAILED after the job can no longer succeed.
func (r *Runner) Abandon(ctx context.Context, job *queue.Job, cause error) {
	if err := r.orch.Fail(ctx, job.MeetingID, r.expects, cause.Error()); err != nil {
		r.logger.Error().Err(err).
			Str(log.FieldMeetingID, job.MeetingID).
			Str(log.FieldJobID, job.ID).
			Msg("failed to record meeting failure")
	}
}
