// SPDX-License-Identifier: MIT

// Package discovery inserts newly published meetings into the pipeline.
package discovery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicast/civicast/internal/calendar"
	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/metrics"
	"github.com/civicast/civicast/internal/queue"
	"github.com/civicast/civicast/internal/store"
)

// Source is the calendar surface discovery needs.
type Source interface {
	Meetings(ctx context.Context, start, end time.Time) ([]calendar.RawMeeting, error)
	VideoURL(meetingID string) string
}

// Result summarizes one discovery run.
type Result struct {
	Fetched   int
	WithVideo int
	Inserted  int
	Enqueued  int
}

// Service discovers meetings and seeds download jobs. Safe to run on a
// timer: inserts and enqueues are both idempotent.
type Service struct {
	src       Source
	store     *store.Store
	downloads *queue.Queue
	loc       *time.Location
	lockPath  string
	logger    zerolog.Logger

	now func() time.Time
}

// New assembles a discovery service. lockDir holds the advisory lock file
// that keeps concurrent runs (timer overlap, manual invocation) exclusive.
func New(src Source, st *store.Store, downloads *queue.Queue, loc *time.Location, lockDir string) *Service {
	return &Service{
		src:       src,
		store:     st,
		downloads: downloads,
		loc:       loc,
		lockPath:  filepath.Join(lockDir, "discovery.lock"),
		logger:    log.WithComponent("discovery"),
		now:       time.Now,
	}
}

// Run fetches meetings in [start, end), inserts unseen ones as DISCOVERED
// and enqueues their download jobs. A zero start selects the default range:
// the current calendar month in the configured zone.
func (s *Service) Run(ctx context.Context, start, end time.Time) (Result, error) {
	var result Result

	unlock, err := s.acquireLock()
	if err != nil {
		return result, err
	}
	defer unlock()

	if start.IsZero() {
		now := s.now().In(s.loc)
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)
		end = start.AddDate(0, 1, 0)
	}

	raws, err := s.src.Meetings(ctx, start, end)
	if err != nil {
		return result, fmt.Errorf("discovery: %w", err)
	}
	result.Fetched = len(raws)

	for _, raw := range raws {
		if !raw.HasVideo {
			continue
		}
		result.WithVideo++

		id := raw.ID.String()
		inserted, err := s.store.InsertIfAbsent(ctx, &meeting.Meeting{
			ID:        id,
			Title:     raw.MeetingName,
			Date:      raw.StartDate,
			SourceURL: s.src.VideoURL(id),
			Phase:     meeting.PhaseDiscovered,
		})
		if err != nil {
			return result, fmt.Errorf("discovery insert %s: %w", id, err)
		}
		if !inserted {
			continue
		}
		result.Inserted++
		metrics.IncDiscoveryInsert()

		_, enqueued, err := s.downloads.Enqueue(ctx, id)
		if err != nil {
			return result, fmt.Errorf("discovery enqueue %s: %w", id, err)
		}
		if enqueued {
			result.Enqueued++
		}
		s.logger.Info().
			Str(log.FieldMeetingID, id).
			Str("title", raw.MeetingName).
			Str("date", raw.StartDate).
			Msg("meeting discovered")
	}

	s.logger.Info().
		Int("fetched", result.Fetched).
		Int("with_video", result.WithVideo).
		Int("inserted", result.Inserted).
		Int("enqueued", result.Enqueued).
		Msg("discovery run finished")
	return result, nil
}

// acquireLock takes a non-blocking flock so overlapping runs fail fast
// instead of double-inserting. The lock dies with the process, so crashed
// runs never leave a stale lock behind.
func (s *Service) acquireLock() (func(), error) {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open discovery lock: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("discovery already running: %w", err)
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
	}, nil
}
