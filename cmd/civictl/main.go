// SPDX-License-Identifier: MIT

// Command civictl is the operator CLI: queue introspection and repair plus
// meeting state overrides.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/civicast/civicast/internal/config"
	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/orchestrator"
	"github.com/civicast/civicast/internal/queue"
	"github.com/civicast/civicast/internal/store"
)

// cleanAge is the cutoff for the clean command; clear ignores age.
const cleanAge = 24 * time.Hour

const usage = `usage: civictl <command> [args]

  list <queue> [state] [limit]   list jobs (default state: waiting)
  stats <queue>                  job counts per state
  add <queue> <meetingId>        enqueue a job
  retry <queue> <jobId>          re-enqueue a failed job
  remove <queue> <jobId>         delete a job from every state
  clean <queue> <state>          remove completed/failed jobs older than 24h
  clear <queue> <state>          remove every job in a state
  meeting <meetingId>            show a meeting and its jobs
  restart <meetingId> <phase>    reset a meeting to a phase and enqueue its job
  set-state <meetingId> <phase>  override a meeting's phase (no enqueue)
`

func main() {
	log.Configure(log.Config{Service: "civictl", Output: os.Stderr})

	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type app struct {
	cfg config.Config
	st  *store.Store
	rdb *redis.Client
}

func (a *app) openStore() (*store.Store, error) {
	if a.st == nil {
		st, err := store.New(a.cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.st = st
	}
	return a.st, nil
}

func (a *app) openQueue(name string) (*queue.Queue, error) {
	q, err := meeting.ParseQueue(name)
	if err != nil {
		return nil, err
	}
	if a.rdb == nil {
		rdb, err := queue.NewClient(a.cfg.RedisAddr, a.cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		a.rdb = rdb
	}
	return queue.New(a.rdb, string(q), queue.Options{}), nil
}

func (a *app) close() {
	if a.st != nil {
		_ = a.st.Close()
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

func run(args []string) error {
	if len(args) == 0 {
		fmt.Print(usage)
		return errors.New("missing command")
	}

	a := &app{cfg: config.FromEnv()}
	defer a.close()
	ctx := context.Background()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "list":
		return a.cmdList(ctx, rest)
	case "stats":
		return a.cmdStats(ctx, rest)
	case "add":
		return a.cmdAdd(ctx, rest)
	case "retry":
		return a.cmdRetry(ctx, rest)
	case "remove":
		return a.cmdRemove(ctx, rest)
	case "clean":
		return a.cmdClean(ctx, rest)
	case "clear":
		return a.cmdClear(ctx, rest)
	case "meeting":
		return a.cmdMeeting(ctx, rest)
	case "restart":
		return a.cmdRestart(ctx, rest)
	case "set-state":
		return a.cmdSetState(ctx, rest)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	}
	fmt.Print(usage)
	return fmt.Errorf("unknown command %q", cmd)
}

func (a *app) cmdList(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return errors.New("usage: list <queue> [state] [limit]")
	}
	q, err := a.openQueue(args[0])
	if err != nil {
		return err
	}
	state := queue.StateWaiting
	if len(args) >= 2 {
		if state, err = queue.ParseState(args[1]); err != nil {
			return err
		}
	}
	limit := 50
	if len(args) == 3 {
		if limit, err = strconv.Atoi(args[2]); err != nil {
			return fmt.Errorf("invalid limit: %w", err)
		}
	}

	jobs, err := q.List(ctx, state, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tATTEMPTS\tCREATED\tREASON")
	for _, job := range jobs {
		fmt.Fprintf(w, "%s\t%d/%d\t%s\t%s\n",
			job.ID, job.AttemptsMade, job.MaxAttempts,
			time.UnixMilli(job.CreatedAt).Format(time.RFC3339),
			job.FailedReason)
	}
	return w.Flush()
}

func (a *app) cmdStats(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: stats <queue>")
	}
	q, err := a.openQueue(args[0])
	if err != nil {
		return err
	}
	stats, err := q.Stats(ctx)
	if err != nil {
		return err
	}
	for _, state := range queue.States() {
		fmt.Printf("%s\t%d\n", state, stats[state])
	}
	return nil
}

func (a *app) cmdAdd(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: add <queue> <meetingId>")
	}
	q, err := a.openQueue(args[0])
	if err != nil {
		return err
	}
	job, enqueued, err := q.Enqueue(ctx, args[1])
	if err != nil {
		return err
	}
	if !enqueued {
		fmt.Printf("%s already pending\n", q.JobID(args[1]))
		return nil
	}
	fmt.Printf("enqueued %s\n", job.ID)
	return nil
}

func (a *app) cmdRetry(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: retry <queue> <jobId>")
	}
	q, err := a.openQueue(args[0])
	if err != nil {
		return err
	}
	if err := q.Retry(ctx, args[1]); err != nil {
		return err
	}
	fmt.Printf("retrying %s\n", args[1])
	return nil
}

func (a *app) cmdRemove(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: remove <queue> <jobId>")
	}
	q, err := a.openQueue(args[0])
	if err != nil {
		return err
	}
	if err := q.Remove(ctx, args[1]); err != nil {
		return err
	}
	fmt.Printf("removed %s\n", args[1])
	return nil
}

func (a *app) cmdClean(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: clean <queue> <state>")
	}
	q, err := a.openQueue(args[0])
	if err != nil {
		return err
	}
	state, err := queue.ParseState(args[1])
	if err != nil {
		return err
	}
	n, err := q.Clean(ctx, state, cleanAge)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d jobs\n", n)
	return nil
}

func (a *app) cmdClear(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: clear <queue> <state>")
	}
	q, err := a.openQueue(args[0])
	if err != nil {
		return err
	}
	state, err := queue.ParseState(args[1])
	if err != nil {
		return err
	}
	n, err := q.Clear(ctx, state)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d jobs\n", n)
	return nil
}

func (a *app) cmdMeeting(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: meeting <meetingId>")
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	m, err := st.Get(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("id:            %s\n", m.ID)
	fmt.Printf("title:         %s\n", m.Title)
	fmt.Printf("date:          %s\n", m.Date)
	fmt.Printf("phase:         %s\n", m.Phase)
	fmt.Printf("source_url:    %s\n", m.SourceURL)
	fmt.Printf("published_url: %s\n", m.PublishedURL)
	if m.ErrorMessage != "" {
		fmt.Printf("error:         %s (at %s)\n", m.ErrorMessage, m.FailedAtPhase)
	}

	for _, name := range meeting.Queues() {
		q, err := a.openQueue(string(name))
		if err != nil {
			return err
		}
		job, state, err := q.GetJob(ctx, q.JobID(m.ID))
		if err != nil {
			if errors.Is(err, queue.ErrNoJob) {
				fmt.Printf("%s:\t(no job)\n", name)
				continue
			}
			return err
		}
		fmt.Printf("%s:\t%s attempts=%d/%d reason=%s\n",
			name, state, job.AttemptsMade, job.MaxAttempts, job.FailedReason)
	}
	return nil
}

func (a *app) cmdRestart(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: restart <meetingId> <phase>")
	}
	phase, err := meeting.ParsePhase(args[1])
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	queues := make(map[meeting.Queue]*queue.Queue, 4)
	for _, name := range meeting.Queues() {
		q, err := a.openQueue(string(name))
		if err != nil {
			return err
		}
		queues[name] = q
	}
	if err := orchestrator.New(st, queues).Restart(ctx, args[0], phase); err != nil {
		return err
	}
	fmt.Printf("restarted %s at %s\n", args[0], phase)
	return nil
}

func (a *app) cmdSetState(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: set-state <meetingId> <phase>")
	}
	phase, err := meeting.ParsePhase(args[1])
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	if err := st.Update(ctx, args[0], phase, store.FieldPatch{}); err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", args[0], phase)
	return nil
}
