package repo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"genpipe/internal/domain"
	"genpipe/internal/infra"
)

type jobStoreFactory func(t *testing.T) (domain.JobQueue, func(time.Time))

func memoryFactory(t *testing.T) (domain.JobQueue, func(time.Time)) {
	t.Helper()
	store := NewMemoryJobStore()
	return store, func(now time.Time) { store.now = func() time.Time { return now } }
}

func sqliteFactory(t *testing.T) (domain.JobQueue, func(time.Time)) {
	t.Helper()
	conn, err := infra.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	store := NewSQLiteJobRepository(conn)
	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	return store, func(now time.Time) { store.now = func() time.Time { return now } }
}

func TestJobStores(t *testing.T) {
	factories := map[string]jobStoreFactory{
		"memory": memoryFactory,
		"sqlite": sqliteFactory,
	}
	for name, factory := range factories {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, factory) })
			t.Run("DuplicateID", func(t *testing.T) { testDuplicateID(t, factory) })
			t.Run("PatchMessageOnly", func(t *testing.T) { testPatchMessageOnly(t, factory) })
			t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, factory) })
			t.Run("TerminalIsFinal", func(t *testing.T) { testTerminalIsFinal(t, factory) })
			t.Run("FailQueued", func(t *testing.T) { testFailQueued(t, factory) })
			t.Run("ClaimOrder", func(t *testing.T) { testClaimOrder(t, factory) })
			t.Run("ReapStale", func(t *testing.T) { testReapStale(t, factory) })
		})
	}
}

func testCreateAndGet(t *testing.T, factory jobStoreFactory) {
	store, _ := factory(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "job-1", json.RawMessage(`{"title":"Demo"}`))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.Status != domain.JobStatusQueued {
		t.Fatalf("status = %q, want queued", created.Status)
	}

	got, err := store.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if string(got.InputData) != `{"title":"Demo"}` {
		t.Fatalf("input = %s, want the submitted options", got.InputData)
	}
	if got.OverallProgress != 0 || got.StepProgress != 0 {
		t.Fatalf("new job progress = %d/%d, want zero", got.OverallProgress, got.StepProgress)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Fatal("new job should have no start or completion time")
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get missing error = %v, want ErrNotFound", err)
	}
}

func testDuplicateID(t *testing.T, factory jobStoreFactory) {
	store, _ := factory(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "dup", nil); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := store.Create(ctx, "dup", nil); !errors.Is(err, domain.ErrDuplicateJob) {
		t.Fatalf("second Create error = %v, want ErrDuplicateJob", err)
	}
}

func testPatchMessageOnly(t *testing.T, factory jobStoreFactory) {
	store, _ := factory(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "job-msg", nil); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := store.Patch(ctx, "job-msg", domain.JobPatch{
		Status:          domain.Ptr(domain.JobStatusRunning),
		CurrentStep:     domain.Ptr(2),
		StepName:        domain.Ptr("Transcription"),
		StepProgress:    domain.Ptr(40),
		OverallProgress: domain.Ptr(22),
	}); err != nil {
		t.Fatalf("Patch error: %v", err)
	}
	if err := store.Patch(ctx, "job-msg", domain.JobPatch{Message: domain.Ptr("Uploading segment 1")}); err != nil {
		t.Fatalf("Patch message error: %v", err)
	}

	got, err := store.Get(ctx, "job-msg")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Message == nil || *got.Message != "Uploading segment 1" {
		t.Fatalf("message = %v, want Uploading segment 1", got.Message)
	}
	if got.CurrentStep != 2 || got.StepProgress != 40 || got.OverallProgress != 22 {
		t.Fatalf("progress changed: step=%d step%%=%d overall=%d", got.CurrentStep, got.StepProgress, got.OverallProgress)
	}
	if got.StepName == nil || *got.StepName != "Transcription" {
		t.Fatalf("step name = %v, want Transcription", got.StepName)
	}
}

func testLifecycle(t *testing.T, factory jobStoreFactory) {
	store, _ := factory(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "job-life", nil); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := store.Complete(ctx, "job-life", "out-1"); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Complete on queued error = %v, want ErrInvalidTransition", err)
	}
	started := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.Patch(ctx, "job-life", domain.JobPatch{
		Status:    domain.Ptr(domain.JobStatusRunning),
		StartedAt: &started,
	}); err != nil {
		t.Fatalf("Patch running error: %v", err)
	}
	if err := store.Patch(ctx, "job-life", domain.JobPatch{StepProgress: domain.Ptr(250)}); err != nil {
		t.Fatalf("Patch progress error: %v", err)
	}
	got, _ := store.Get(ctx, "job-life")
	if got.StepProgress != 100 {
		t.Fatalf("step progress = %d, want clamped 100", got.StepProgress)
	}
	if err := store.Complete(ctx, "job-life", "out-1"); err != nil {
		t.Fatalf("Complete error: %v", err)
	}
	got, err := store.Get(ctx, "job-life")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != domain.JobStatusCompleted || got.OverallProgress != 100 {
		t.Fatalf("completed job = %s/%d, want completed/100", got.Status, got.OverallProgress)
	}
	if got.OutputID == nil || *got.OutputID != "out-1" {
		t.Fatalf("output id = %v, want out-1", got.OutputID)
	}
	if got.CompletedAt == nil {
		t.Fatal("completed_at not set")
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("started_at = %v, want %v", got.StartedAt, started)
	}
}

func testTerminalIsFinal(t *testing.T, factory jobStoreFactory) {
	store, _ := factory(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "job-final", nil); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := store.Patch(ctx, "job-final", domain.JobPatch{Status: domain.Ptr(domain.JobStatusRunning)}); err != nil {
		t.Fatalf("Patch error: %v", err)
	}
	if err := store.Fail(ctx, "job-final", "Provider error: boom"); err != nil {
		t.Fatalf("Fail error: %v", err)
	}

	checks := []struct {
		name string
		call func() error
	}{
		{"patch", func() error { return store.Patch(ctx, "job-final", domain.JobPatch{Message: domain.Ptr("late")}) }},
		{"complete", func() error { return store.Complete(ctx, "job-final", "out") }},
		{"fail", func() error { return store.Fail(ctx, "job-final", "again") }},
	}
	for _, c := range checks {
		if err := c.call(); !errors.Is(err, domain.ErrInvalidTransition) {
			t.Fatalf("%s on errored job = %v, want ErrInvalidTransition", c.name, err)
		}
	}

	got, _ := store.Get(ctx, "job-final")
	if got.Error == nil || *got.Error != "Provider error: boom" {
		t.Fatalf("error = %v, want original message", got.Error)
	}
	if got.Message != nil {
		t.Fatalf("message = %q, want unchanged nil", *got.Message)
	}

	if err := store.Patch(ctx, "missing", domain.JobPatch{Message: domain.Ptr("x")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Patch missing error = %v, want ErrNotFound", err)
	}
	if err := store.Patch(ctx, "job-final", domain.JobPatch{Status: domain.Ptr(domain.JobStatusCompleted)}); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("Patch to completed error = %v, want ErrInvalidTransition", err)
	}
}

func testFailQueued(t *testing.T, factory jobStoreFactory) {
	store, _ := factory(t)
	ctx := context.Background()
	if _, err := store.Create(ctx, "job-q", nil); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := store.Fail(ctx, "job-q", " "); err != nil {
		t.Fatalf("Fail error: %v", err)
	}
	got, _ := store.Get(ctx, "job-q")
	if got.Status != domain.JobStatusError {
		t.Fatalf("status = %s, want error", got.Status)
	}
	if got.Error == nil || *got.Error != "job failed" {
		t.Fatalf("error = %v, want default message", got.Error)
	}
}

func testClaimOrder(t *testing.T, factory jobStoreFactory) {
	store, setNow := factory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if _, err := store.ClaimQueued(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("empty ClaimQueued error = %v, want ErrNotFound", err)
	}
	for i, id := range []string{"first", "second"} {
		setNow(base.Add(time.Duration(i) * time.Second))
		if _, err := store.Create(ctx, id, nil); err != nil {
			t.Fatalf("Create %s error: %v", id, err)
		}
	}
	setNow(base.Add(time.Minute))

	for _, want := range []string{"first", "second"} {
		job, err := store.ClaimQueued(ctx)
		if err != nil {
			t.Fatalf("ClaimQueued error: %v", err)
		}
		if job.ID != want {
			t.Fatalf("claimed %q, want %q", job.ID, want)
		}
		if job.Status != domain.JobStatusRunning || job.StartedAt == nil {
			t.Fatalf("claimed job %s started=%v, want running with start time", job.Status, job.StartedAt)
		}
	}
	if _, err := store.ClaimQueued(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("drained ClaimQueued error = %v, want ErrNotFound", err)
	}
}

func testReapStale(t *testing.T, factory jobStoreFactory) {
	store, setNow := factory(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	setNow(base)
	for _, id := range []string{"stale", "fresh", "waiting"} {
		if _, err := store.Create(ctx, id, nil); err != nil {
			t.Fatalf("Create %s error: %v", id, err)
		}
	}
	for _, id := range []string{"stale", "fresh"} {
		if err := store.Patch(ctx, id, domain.JobPatch{Status: domain.Ptr(domain.JobStatusRunning)}); err != nil {
			t.Fatalf("Patch %s error: %v", id, err)
		}
	}
	setNow(base.Add(40 * time.Minute))
	if err := store.Patch(ctx, "fresh", domain.JobPatch{Message: domain.Ptr("still going")}); err != nil {
		t.Fatalf("Patch fresh error: %v", err)
	}

	setNow(base.Add(50 * time.Minute))
	n, err := store.ReapStale(ctx, 45*time.Minute, "Timeout: worker stopped reporting")
	if err != nil {
		t.Fatalf("ReapStale error: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d jobs, want 1", n)
	}

	want := map[string]domain.JobStatus{
		"stale":   domain.JobStatusError,
		"fresh":   domain.JobStatusRunning,
		"waiting": domain.JobStatusQueued,
	}
	for id, status := range want {
		got, err := store.Get(ctx, id)
		if err != nil {
			t.Fatalf("Get %s error: %v", id, err)
		}
		if got.Status != status {
			t.Fatalf("%s status = %s, want %s", id, got.Status, status)
		}
	}
}

func TestSQLiteClaimRequiresStartedRow(t *testing.T) {
	ctx := context.Background()
	conn, err := infra.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite error: %v", err)
	}
	defer conn.Close()
	store := NewSQLiteJobRepository(conn)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	if _, err := store.Create(ctx, "held", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	// The start update is silently dropped, leaving the row queued.
	if _, err := conn.ExecContext(ctx, `create trigger hold_start before update on jobs
when new.status = 'running'
begin
    select raise(ignore);
end;`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	if _, err := store.ClaimQueued(ctx); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ClaimQueued error = %v, want ErrNotFound", err)
	}
	got, err := store.Get(ctx, "held")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != domain.JobStatusQueued {
		t.Fatalf("status = %s, want queued", got.Status)
	}
}
