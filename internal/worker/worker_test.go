package worker

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"genpipe/internal/adapter/repo"
	"genpipe/internal/domain"
)

type stubRunner struct {
	store  *repo.MemoryJobStore
	delay  time.Duration
	active atomic.Int32
	peak   atomic.Int32

	mu  sync.Mutex
	ran []string
}

func (r *stubRunner) Run(ctx context.Context, jobID string) error {
	n := r.active.Add(1)
	defer r.active.Add(-1)
	for {
		p := r.peak.Load()
		if n <= p || r.peak.CompareAndSwap(p, n) {
			break
		}
	}
	r.mu.Lock()
	r.ran = append(r.ran, jobID)
	r.mu.Unlock()
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
	}
	return r.store.Complete(context.WithoutCancel(ctx), jobID, "out-"+jobID)
}

func (r *stubRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ran)
}

func TestWorkerRunsQueuedJobsWithBoundedConcurrency(t *testing.T) {
	store := repo.NewMemoryJobStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		if _, err := store.Create(ctx, id, nil); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	runner := &stubRunner{store: store, delay: 20 * time.Millisecond}
	w := New(store, runner, Options{Concurrency: 2, PollInterval: 5 * time.Millisecond, ReaperInterval: time.Hour})

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for runner.count() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}

	if runner.count() != 5 {
		t.Fatalf("ran %d jobs, want 5", runner.count())
	}
	if peak := runner.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		job, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if job.Status != domain.JobStatusCompleted {
			t.Fatalf("job %s status = %s, want completed", id, job.Status)
		}
	}
}

func TestReapOnceFailsStaleRunningJobs(t *testing.T) {
	store := repo.NewMemoryJobStore()
	ctx := context.Background()
	if _, err := store.Create(ctx, "stuck", nil); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Patch(ctx, "stuck", domain.JobPatch{Status: domain.Ptr(domain.JobStatusRunning)}); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	w := New(store, &stubRunner{store: store}, Options{StaleAfter: time.Nanosecond})
	time.Sleep(2 * time.Millisecond)
	n, err := w.ReapOnce(ctx)
	if err != nil {
		t.Fatalf("ReapOnce: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	job, _ := store.Get(ctx, "stuck")
	if job.Status != domain.JobStatusError || job.Error == nil || !strings.HasPrefix(*job.Error, "Stale job: no progress since ") {
		t.Fatalf("job = %s %v", job.Status, job.Error)
	}
}

func TestStaleMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("X", 3600))
	if got, want := StaleMessage(at), "Stale job: no progress since 2026-03-01T11:30:00Z"; got != want {
		t.Fatalf("StaleMessage = %q, want %q", got, want)
	}
}

func TestNewDefaults(t *testing.T) {
	w := New(repo.NewMemoryJobStore(), &stubRunner{}, Options{})
	if w.opts.Concurrency != 1 || w.opts.StaleAfter != 45*time.Minute || w.opts.PollInterval != 2*time.Second {
		t.Fatalf("defaults = %+v", w.opts)
	}
}
