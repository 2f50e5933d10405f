// SPDX-License-Identifier: MIT

// Command discover runs one discovery pass over the meeting calendar.
// It is intended to run under a systemd timer; overlapping runs are
// serialized by an advisory lock.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicast/civicast/internal/calendar"
	"github.com/civicast/civicast/internal/config"
	"github.com/civicast/civicast/internal/discovery"
	"github.com/civicast/civicast/internal/fsutil"
	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/queue"
	"github.com/civicast/civicast/internal/store"
)

func main() {
	startFlag := flag.String("start", "", "range start (YYYY-MM-DD), default: first of current month")
	endFlag := flag.String("end", "", "range end (YYYY-MM-DD, exclusive), default: first of next month")
	flag.Parse()

	log.Configure(log.Config{Service: "civicast-discover"})
	logger := log.WithComponent("main")

	if err := run(*startFlag, *endFlag); err != nil {
		logger.Error().Err(err).Msg("discovery failed")
		os.Exit(1)
	}
}

func run(startFlag, endFlag string) error {
	cfg := config.FromEnv()
	if cfg.CalendarBaseURL == "" {
		return fmt.Errorf("CALENDAR_BASE_URL is required")
	}
	loc, err := cfg.CalendarLocation()
	if err != nil {
		return err
	}
	if err := fsutil.EnsureDir(cfg.StorageRoot); err != nil {
		return fmt.Errorf("prepare storage root: %w", err)
	}

	var start, end time.Time
	if startFlag != "" || endFlag != "" {
		if start, err = time.ParseInLocation("2006-01-02", startFlag, loc); err != nil {
			return fmt.Errorf("invalid -start: %w", err)
		}
		if end, err = time.ParseInLocation("2006-01-02", endFlag, loc); err != nil {
			return fmt.Errorf("invalid -end: %w", err)
		}
	}

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	rdb, err := queue.NewClient(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()
	downloads := queue.New(rdb, string(meeting.QueueDownload), queue.Options{})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := discovery.New(calendar.New(cfg.CalendarBaseURL), st, downloads, loc, cfg.StorageRoot)
	result, err := svc.Run(ctx, start, end)
	if err != nil {
		return err
	}
	fmt.Printf("fetched=%d with_video=%d inserted=%d enqueued=%d\n",
		result.Fetched, result.WithVideo, result.Inserted, result.Enqueued)
	return nil
}
