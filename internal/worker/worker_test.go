// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicast/civicast/internal/artifact"
	"github.com/civicast/civicast/internal/config"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/orchestrator"
	"github.com/civicast/civicast/internal/queue"
	"github.com/civicast/civicast/internal/store"
)

const agendaPage = `<html>
<script>var m = { Bookmarks: [{"AgendaItemId":1,"TimeStart":5000,"TimeEnd":60000},
{"AgendaItemId":2,"TimeStart":65000,"TimeEnd":3600000}] };</script>
<DIV class="AgendaItem AgendaItem1"><DIV class="AgendaItemTitle"><a>Call to Order</a></DIV></DIV>
<DIV class="AgendaItem AgendaItem2"><DIV class="AgendaItemTitle"><a>Public Comment</a></DIV></DIV>
</html>`

type stubDownloader struct{}

func (stubDownloader) Download(_ context.Context, _ string, destPath string) error {
	return os.WriteFile(destPath, []byte("video-bytes"), 0o644)
}

type stubFetcher struct{}

func (stubFetcher) AgendaHTML(context.Context, string) (string, error) {
	return agendaPage, nil
}

type stubAudio struct{ err error }

func (s stubAudio) Extract(_ context.Context, _ string, audioPath string) error {
	if s.err != nil {
		return s.err
	}
	return os.WriteFile(audioPath, []byte("audio-bytes"), 0o644)
}

type stubHost struct {
	mu  sync.Mutex
	req UploadRequest
}

func (s *stubHost) Upload(_ context.Context, req UploadRequest) (*UploadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.req = req
	playlists := make(map[string]string, len(req.Playlists))
	for _, p := range req.Playlists {
		playlists[p] = "ok"
	}
	return &UploadResult{URL: "https://video.example.com/v/abc123", Playlists: playlists}, nil
}

type stubDiarizer struct{}

func (stubDiarizer) Diarize(_ context.Context, scratchDir, _ string) (string, error) {
	out := filepath.Join(scratchDir, "diarized.json")
	return out, os.WriteFile(out, []byte(`{"segments":[]}`), 0o644)
}

type pipeline struct {
	store   *store.Store
	orch    *orchestrator.Orchestrator
	queues  map[meeting.Queue]*queue.Queue
	art     artifact.Store
	artRoot string
	runRoot string
	host    *stubHost
	runners map[meeting.Queue]*Runner
}

func newPipeline(t *testing.T, audio AudioExtractor) *pipeline {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	queues := make(map[meeting.Queue]*queue.Queue, 4)
	for _, q := range meeting.Queues() {
		queues[q] = queue.New(client, string(q), queue.Options{PollInterval: 5 * time.Millisecond})
	}
	orch := orchestrator.New(st, queues)

	artRoot := t.TempDir()
	art := artifact.NewLocal(artRoot)
	runRoot := t.TempDir()

	rules, err := config.LoadPlaylistRules("")
	require.NoError(t, err)
	getenv := func(key string) string {
		if key == "PLAYLIST_CITY_COMMISSION" {
			return "P1"
		}
		return ""
	}

	host := &stubHost{}
	runners := map[meeting.Queue]*Runner{
		meeting.QueueDownload: NewRunner(st, orch, meeting.PhaseDiscovered, Download(art, stubDownloader{}, runRoot)),
		meeting.QueueExtract:  NewRunner(st, orch, meeting.PhaseDownloaded, Extract(art, stubFetcher{}, audio, runRoot)),
		meeting.QueueUpload:   NewRunner(st, orch, meeting.PhaseExtracted, Upload(art, host, rules, "Springfield", runRoot, getenv)),
		meeting.QueueDiarize:  NewRunner(st, orch, meeting.PhaseUploaded, Diarize(art, stubDiarizer{}, runRoot)),
	}

	return &pipeline{
		store: st, orch: orch, queues: queues,
		art: art, artRoot: artRoot, runRoot: runRoot,
		host: host, runners: runners,
	}
}

func (p *pipeline) seed(t *testing.T, id string) {
	t.Helper()
	_, err := p.store.InsertIfAbsent(context.Background(), &meeting.Meeting{
		ID:        id,
		Title:     "City Commission - Regular",
		Date:      "2025/06/05 19:00",
		SourceURL: "https://example.gov/Meeting.aspx?Id=" + id,
		Phase:     meeting.PhaseDiscovered,
	})
	require.NoError(t, err)
	_, _, err = p.queues[meeting.QueueDownload].Enqueue(context.Background(), id)
	require.NoError(t, err)
}

// runPhase dequeues and handles one job, mimicking a single pool iteration.
func (p *pipeline) runPhase(t *testing.T, q meeting.Queue) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := p.queues[q].Dequeue(ctx)
	require.NoError(t, err)

	herr := p.runners[q].Handle(context.Background(), job)
	if herr == nil {
		require.NoError(t, p.queues[q].Complete(context.Background(), job))
	} else {
		_, err := p.queues[q].Fail(context.Background(), job, herr.Error())
		require.NoError(t, err)
	}
	return herr
}

func (p *pipeline) waiting(t *testing.T, q meeting.Queue) int64 {
	t.Helper()
	stats, err := p.queues[q].Stats(context.Background())
	require.NoError(t, err)
	return stats[queue.StateWaiting]
}

func (p *pipeline) phase(t *testing.T, id string) meeting.Phase {
	t.Helper()
	m, err := p.store.Get(context.Background(), id)
	require.NoError(t, err)
	return m.Phase
}

func TestPipelineHappyPath(t *testing.T) {
	p := newPipeline(t, stubAudio{})
	p.seed(t, "m1")
	ctx := context.Background()

	require.NoError(t, p.runPhase(t, meeting.QueueDownload))
	assert.Equal(t, meeting.PhaseDownloaded, p.phase(t, "m1"))
	assert.Equal(t, int64(1), p.waiting(t, meeting.QueueExtract))
	video, err := os.ReadFile(filepath.Join(p.artRoot, "raw", "videos", "m1.mp4"))
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(video))

	require.NoError(t, p.runPhase(t, meeting.QueueExtract))
	assert.Equal(t, meeting.PhaseExtracted, p.phase(t, "m1"))
	assert.Equal(t, int64(1), p.waiting(t, meeting.QueueUpload))

	chapters, err := os.ReadFile(filepath.Join(p.artRoot, "derived", "chapters", "m1_chapters.txt"))
	require.NoError(t, err)
	assert.Equal(t, `City Commission - Regular - 2025-06-05

Chapters:
00:00:00 Pre-meeting
00:00:05 Call to Order
00:01:05 Public Comment
`, string(chapters))

	require.NoError(t, p.runPhase(t, meeting.QueueUpload))
	assert.Equal(t, meeting.PhaseUploaded, p.phase(t, "m1"))
	assert.Equal(t, int64(1), p.waiting(t, meeting.QueueDiarize))
	assert.Equal(t, "City Commission - Regular - 2025-06-05 | Springfield", p.host.req.Title)
	assert.Equal(t, string(chapters), p.host.req.Description)
	assert.Equal(t, []string{"P1"}, p.host.req.Playlists)
	assert.Contains(t, p.host.req.Tags, "Springfield")

	require.NoError(t, p.runPhase(t, meeting.QueueDiarize))
	assert.Equal(t, meeting.PhaseDiarized, p.phase(t, "m1"))

	m, err := p.store.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "https://video.example.com/v/abc123", m.PublishedURL)
	assert.Equal(t, "derived/diarized/m1_diarized.json", m.DerivedDiarizedPath)
	for _, q := range meeting.Queues() {
		assert.Equal(t, int64(0), p.waiting(t, q), "queue %s must be empty after the run", q)
	}
}

func TestAudioFailureToleratedThenDiarizeFailsFast(t *testing.T) {
	p := newPipeline(t, stubAudio{err: errors.New("codec unsupported")})
	p.seed(t, "m1")

	require.NoError(t, p.runPhase(t, meeting.QueueDownload))
	require.NoError(t, p.runPhase(t, meeting.QueueExtract), "audio failure must not fail the phase")
	assert.Equal(t, meeting.PhaseExtracted, p.phase(t, "m1"))

	// Chapters and metadata present, audio absent.
	_, err := os.Stat(filepath.Join(p.artRoot, "derived", "chapters", "m1_chapters.txt"))
	assert.NoError(t, err)
	meta, err := os.ReadFile(filepath.Join(p.artRoot, "derived", "metadata", "m1_metadata.json"))
	require.NoError(t, err)
	assert.Contains(t, string(meta), "codec unsupported")
	_, err = os.Stat(filepath.Join(p.artRoot, "derived", "audio", "m1.m4a"))
	assert.True(t, os.IsNotExist(err))

	m, err := p.store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Empty(t, m.DerivedAudioPath)

	require.NoError(t, p.runPhase(t, meeting.QueueUpload))
	assert.Equal(t, meeting.PhaseUploaded, p.phase(t, "m1"))

	// Diarization has nothing to work with: precondition failure.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := p.queues[meeting.QueueDiarize].Dequeue(ctx)
	require.NoError(t, err)
	herr := p.runners[meeting.QueueDiarize].Handle(context.Background(), job)
	require.ErrorIs(t, herr, ErrPrecondition)

	p.runners[meeting.QueueDiarize].Abandon(context.Background(), job, herr)
	m, err = p.store.Get(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, meeting.PhaseFailed, m.Phase)
	assert.Equal(t, meeting.PhaseUploaded, m.FailedAtPhase)
	assert.Contains(t, m.ErrorMessage, "derived audio")
}

func TestDiarizeScratchIsRemoved(t *testing.T) {
	p := newPipeline(t, stubAudio{})
	p.seed(t, "m1")

	require.NoError(t, p.runPhase(t, meeting.QueueDownload))
	require.NoError(t, p.runPhase(t, meeting.QueueExtract))
	require.NoError(t, p.runPhase(t, meeting.QueueUpload))
	require.NoError(t, p.runPhase(t, meeting.QueueDiarize))

	entries, err := os.ReadDir(p.runRoot)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), "diarize_"), "scratch %s left behind", e.Name())
	}
}

type fakeHandler struct {
	mu        sync.Mutex
	err       error
	handled   int
	abandoned []error
}

func (f *fakeHandler) Handle(context.Context, *queue.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handled++
	return f.err
}

func (f *fakeHandler) Abandon(_ context.Context, _ *queue.Job, cause error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abandoned = append(f.abandoned, cause)
}

func (f *fakeHandler) snapshot() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handled, len(f.abandoned)
}

func newPoolQueue(t *testing.T, opts queue.Options) *queue.Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	return queue.New(client, "download", opts)
}

func TestPoolCompletesJobs(t *testing.T) {
	q := newPoolQueue(t, queue.Options{})
	h := &fakeHandler{}
	pool := NewPool(q, h, 2, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	_, _, err := q.Enqueue(context.Background(), "m1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats[queue.StateCompleted] == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	handled, abandoned := h.snapshot()
	assert.Equal(t, 1, handled)
	assert.Equal(t, 0, abandoned)
}

func TestPoolRetriesThenAbandons(t *testing.T) {
	q := newPoolQueue(t, queue.Options{Attempts: 2, Backoff: 20 * time.Millisecond})
	h := &fakeHandler{err: errors.New("transient network failure")}
	pool := NewPool(q, h, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	_, _, err := q.Enqueue(context.Background(), "m1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats[queue.StateFailed] == 1
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	handled, abandoned := h.snapshot()
	assert.Equal(t, 2, handled, "one retry before exhaustion")
	assert.Equal(t, 1, abandoned, "abandoned only after the budget is spent")
}

func TestPoolAbandonsPreconditionImmediately(t *testing.T) {
	q := newPoolQueue(t, queue.Options{Attempts: 3, Backoff: time.Minute})
	h := &fakeHandler{err: fmt.Errorf("%w: wrong phase", ErrPrecondition)}
	pool := NewPool(q, h, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	_, _, err := q.Enqueue(context.Background(), "m1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, abandoned := h.snapshot()
		return abandoned == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	handled, _ := h.snapshot()
	assert.Equal(t, 1, handled, "no second attempt before the meeting is failed")
}

func TestPoolRedeliversJobStrandedByCrash(t *testing.T) {
	q := newPoolQueue(t, queue.Options{})

	// A previous consumer claimed the job and was killed before acking.
	_, _, err := q.Enqueue(context.Background(), "m1")
	require.NoError(t, err)
	dctx, dcancel := context.WithTimeout(context.Background(), 2*time.Second)
	_, err = q.Dequeue(dctx)
	dcancel()
	require.NoError(t, err)

	h := &fakeHandler{}
	pool := NewPool(q, h, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool {
		stats, err := q.Stats(context.Background())
		return err == nil && stats[queue.StateCompleted] == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	handled, abandoned := h.snapshot()
	assert.Equal(t, 1, handled)
	assert.Equal(t, 0, abandoned)
}
