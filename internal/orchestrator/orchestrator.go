// SPDX-License-Identifier: MIT

// Package orchestrator encodes the meeting state machine. It owns every
// mutation of the state store after discovery and the enqueue of the next
// phase's job; it contains no other I/O.
package orchestrator

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/metrics"
	"github.com/civicast/civicast/internal/queue"
	"github.com/civicast/civicast/internal/store"
)

// Orchestrator drives phase transitions.
type Orchestrator struct {
	store  *store.Store
	queues map[meeting.Queue]*queue.Queue
	logger zerolog.Logger
}

// New wires the orchestrator to the state store and the per-phase queues.
func New(st *store.Store, queues map[meeting.Queue]*queue.Queue) *Orchestrator {
	return &Orchestrator{
		store:  st,
		queues: queues,
		logger: log.WithComponent("orchestrator"),
	}
}

// Advance records the transition out of fromPhase: it writes the next phase
// plus the field patch to the store in one update, then enqueues the next
// phase's job. Terminal phases are a no-op.
//
// The store update and the enqueue are not atomic. A crash in between
// leaves the meeting advanced with no queued job; Reconcile repairs that.
// Calling Advance twice for the same (meeting, fromPhase) enqueues exactly
// one job because the job identifier is the dedup key.
func (o *Orchestrator) Advance(ctx context.Context, meetingID string, fromPhase meeting.Phase, patch store.FieldPatch) error {
	_, next, ok := fromPhase.Next()
	if !ok {
		o.logger.Debug().
			Str(log.FieldMeetingID, meetingID).
			Str(log.FieldPhase, string(fromPhase)).
			Msg("advance skipped for terminal phase")
		return nil
	}

	if err := o.store.Update(ctx, meetingID, next, patch); err != nil {
		return fmt.Errorf("advance %s from %s: %w", meetingID, fromPhase, err)
	}
	metrics.IncTransition(string(fromPhase), string(next))
	o.logger.Info().
		Str(log.FieldMeetingID, meetingID).
		Str("from", string(fromPhase)).
		Str("to", string(next)).
		Msg("phase advanced")

	return o.enqueueFor(ctx, meetingID, next)
}

// Fail moves the meeting into the terminal FAILED phase, recording the error
// and the phase at which it occurred so an operator can restart from there.
func (o *Orchestrator) Fail(ctx context.Context, meetingID string, atPhase meeting.Phase, errorMessage string) error {
	patch := store.FieldPatch{
		ErrorMessage:  store.StrPtr(errorMessage),
		FailedAtPhase: store.PhasePtr(atPhase),
	}
	if err := o.store.Update(ctx, meetingID, meeting.PhaseFailed, patch); err != nil {
		return fmt.Errorf("fail %s at %s: %w", meetingID, atPhase, err)
	}
	metrics.IncTransition(string(atPhase), string(meeting.PhaseFailed))
	o.logger.Warn().
		Str(log.FieldMeetingID, meetingID).
		Str(log.FieldPhase, string(atPhase)).
		Str("error", errorMessage).
		Msg("meeting failed")
	return nil
}

// Restart resets the meeting to fromPhase and enqueues the driving job.
// Operator tooling only.
func (o *Orchestrator) Restart(ctx context.Context, meetingID string, fromPhase meeting.Phase) error {
	if fromPhase.Terminal() {
		return fmt.Errorf("restart %s: cannot restart from terminal phase %s", meetingID, fromPhase)
	}
	patch := store.FieldPatch{
		ErrorMessage:  store.StrPtr(""),
		FailedAtPhase: store.PhasePtr(""),
	}
	if err := o.store.Update(ctx, meetingID, fromPhase, patch); err != nil {
		return fmt.Errorf("restart %s at %s: %w", meetingID, fromPhase, err)
	}
	o.logger.Info().
		Str(log.FieldMeetingID, meetingID).
		Str(log.FieldPhase, string(fromPhase)).
		Msg("meeting restarted")

	return o.enqueueFor(ctx, meetingID, fromPhase)
}

// enqueueFor enqueues the job driving phase's transition, if any.
func (o *Orchestrator) enqueueFor(ctx context.Context, meetingID string, phase meeting.Phase) error {
	nextQueue, _, ok := phase.Next()
	if !ok {
		return nil
	}
	q, exists := o.queues[nextQueue]
	if !exists {
		return fmt.Errorf("no queue wired for %s", nextQueue)
	}
	_, enqueued, err := q.Enqueue(ctx, meetingID)
	if err != nil {
		return fmt.Errorf("enqueue %s for %s: %w", nextQueue, meetingID, err)
	}
	if !enqueued {
		o.logger.Debug().
			Str(log.FieldMeetingID, meetingID).
			Str(log.FieldQueue, string(nextQueue)).
			Msg("job already pending")
	}
	return nil
}

// Reconcile sweeps all non-terminal meetings and enqueues the driving job
// for any meeting with no pending job. This repairs the advanced-but-no-job
// window left by a crash between the store update and the enqueue.
func (o *Orchestrator) Reconcile(ctx context.Context) (int, error) {
	repaired := 0
	for _, phase := range []meeting.Phase{meeting.PhaseDiscovered, meeting.PhaseDownloaded, meeting.PhaseExtracted, meeting.PhaseUploaded} {
		nextQueue, _, _ := phase.Next()
		q, exists := o.queues[nextQueue]
		if !exists {
			continue
		}
		meetings, err := o.store.ByPhase(ctx, phase)
		if err != nil {
			return repaired, fmt.Errorf("reconcile %s: %w", phase, err)
		}
		for i := range meetings {
			m := &meetings[i]
			pending, err := q.Pending(ctx, m.ID)
			if err != nil {
				return repaired, fmt.Errorf("reconcile %s: %w", m.ID, err)
			}
			if pending {
				continue
			}
			_, enqueued, err := q.Enqueue(ctx, m.ID)
			if err != nil {
				return repaired, fmt.Errorf("reconcile %s: %w", m.ID, err)
			}
			if enqueued {
				repaired++
				o.logger.Info().
					Str(log.FieldMeetingID, m.ID).
					Str(log.FieldQueue, string(nextQueue)).
					Msg("reconcile enqueued missing job")
			}
		}
	}
	return repaired, nil
}
