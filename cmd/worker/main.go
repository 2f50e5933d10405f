// SPDX-License-Identifier: MIT

// Command worker runs one phase worker process. The phase selects the queue,
// the expected meeting phase, and the pool's concurrency. A reconciliation
// sweep at startup repairs meetings whose driving job was lost.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/civicast/civicast/internal/artifact"
	"github.com/civicast/civicast/internal/calendar"
	"github.com/civicast/civicast/internal/config"
	"github.com/civicast/civicast/internal/host"
	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/orchestrator"
	"github.com/civicast/civicast/internal/queue"
	"github.com/civicast/civicast/internal/store"
	"github.com/civicast/civicast/internal/tool"
	"github.com/civicast/civicast/internal/worker"
)

// concurrencyFor caps in-flight jobs per phase: downloads are bandwidth
// bound, extraction is cheap, upload and diarization must not run in
// parallel (host rate limits, GPU contention).
func concurrencyFor(q meeting.Queue) int {
	switch q {
	case meeting.QueueDownload:
		return 2
	case meeting.QueueExtract:
		return 3
	default:
		return 1
	}
}

func main() {
	phaseFlag := flag.String("phase", "", "worker phase: download|extract|upload|diarize")
	flag.Parse()

	log.Configure(log.Config{Service: "civicast-worker"})
	logger := log.WithComponent("main")

	if err := run(*phaseFlag); err != nil {
		logger.Error().Err(err).Msg("worker exited with error")
		os.Exit(1)
	}
}

func run(phaseFlag string) error {
	q, err := meeting.ParseQueue(phaseFlag)
	if err != nil {
		return fmt.Errorf("invalid -phase %q, want download|extract|upload|diarize", phaseFlag)
	}

	cfg := config.FromEnv()
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

	queues := make(map[meeting.Queue]*queue.Queue, 4)
	for _, name := range meeting.Queues() {
		queues[name] = queue.New(rdb, string(name), queue.Options{})
	}
	orch := orchestrator.New(st, queues)
	art := artifact.FromConfig(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if repaired, err := orch.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	} else if repaired > 0 {
		logger := log.WithComponent("main")
		logger.Info().Int("repaired", repaired).Msg("reconciled lost jobs")
	}

	fn, expects, err := buildPhase(cfg, art, q)
	if err != nil {
		return err
	}
	runner := worker.NewRunner(st, orch, expects, fn)
	pool := worker.NewPool(queues[q], runner, concurrencyFor(q), cfg.DrainTimeout)
	return pool.Run(ctx)
}

// buildPhase wires the queue's phase function and its external tools.
func buildPhase(cfg config.Config, art artifact.Store, q meeting.Queue) (worker.PhaseFunc, meeting.Phase, error) {
	expects := q.Expects()

	switch q {
	case meeting.QueueDownload:
		dl := tool.NewVideoDownloader(cfg.DownloadTool, cfg.DownloadCredFile)
		return worker.Download(art, dl, cfg.RunRoot), expects, nil

	case meeting.QueueExtract:
		if cfg.CalendarBaseURL == "" {
			return nil, "", fmt.Errorf("CALENDAR_BASE_URL is required for the extract worker")
		}
		fetch := calendar.New(cfg.CalendarBaseURL)
		audio := tool.NewFFmpegAudioExtractor(cfg.FFmpegBin)
		return worker.Extract(art, fetch, audio, cfg.RunRoot), expects, nil

	case meeting.QueueUpload:
		if cfg.HostAPIURL == "" {
			return nil, "", fmt.Errorf("HOST_API_URL is required for the upload worker")
		}
		rules, err := config.LoadPlaylistRules(cfg.PlaylistRulesFile)
		if err != nil {
			return nil, "", err
		}
		hc := host.New(cfg.HostAPIURL, cfg.HostTokenFile)
		return worker.Upload(art, hc, rules, cfg.LocationTag, cfg.RunRoot, os.Getenv), expects, nil

	case meeting.QueueDiarize:
		if cfg.DiarizeImage == "" {
			return nil, "", fmt.Errorf("DIARIZE_IMAGE is required for the diarize worker")
		}
		diar := tool.NewContainerDiarizer(cfg.DiarizeBin, cfg.DiarizeImage)
		return worker.Diarize(art, diar, cfg.RunRoot), expects, nil
	}
	return nil, "", fmt.Errorf("unknown queue %s", q)
}
