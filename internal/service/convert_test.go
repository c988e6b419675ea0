package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docmill/docmill/internal/core/engine"
	"github.com/docmill/docmill/internal/core/event"
	"github.com/docmill/docmill/internal/core/fetch"
	"github.com/docmill/docmill/internal/core/job"
	"github.com/docmill/docmill/internal/core/pipeline"
	"github.com/docmill/docmill/internal/core/queue"
	"github.com/docmill/docmill/internal/core/scheduler"
)

type stubConverter struct{ md string }

func (c *stubConverter) Name() string { return "stub" }

func (c *stubConverter) Convert(context.Context, string, pipeline.Kind, job.Options) (string, error) {
	return c.md, nil
}

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, source string) (string, fetch.CleanupFunc, error) {
	return "/tmp/" + source, func() {}, nil
}

// newService wires a full stack with the scheduler stopped: submissions stay
// pending, which keeps admission behavior deterministic.
func newService(t *testing.T, queueSize int) (*ConvertService, *job.Tracker, *queue.Queue, event.Bus) {
	t.Helper()
	q := queue.New(queueSize)
	tr := job.NewTracker(100)
	reg := engine.NewRegistry()
	reg.Register(&stubConverter{md: "# out"}, pipeline.Standard, pipeline.VLM, pipeline.ASR)
	bus := event.NewBus()
	sched := scheduler.New(scheduler.Config{Workers: 1, JobTimeout: time.Minute}, q, tr, reg, stubResolver{}, bus)
	return NewConvertService(q, tr, sched, reg, bus, pipeline.Auto), tr, q, bus
}

func TestSubmit_RegistersPendingJob(t *testing.T) {
	svc, tr, q, _ := newService(t, 4)

	j, err := svc.Submit(context.Background(), "report.pdf", "", job.Options{})
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)
	assert.Equal(t, pipeline.Auto, j.Pipeline)
	assert.False(t, j.CreatedAt.IsZero())
	assert.Nil(t, j.StartedAt)

	got, err := tr.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.Equal(t, 1, q.Size())
}

func TestSubmit_EmptySource(t *testing.T) {
	svc, _, _, _ := newService(t, 4)
	_, err := svc.Submit(context.Background(), "", "", job.Options{})
	require.Error(t, err)
}

func TestSubmit_InvalidPipeline(t *testing.T) {
	svc, tr, _, _ := newService(t, 4)
	_, err := svc.Submit(context.Background(), "report.pdf", "quantum", job.Options{})
	require.ErrorIs(t, err, ErrInvalidPipeline)
	assert.Empty(t, tr.List("", 0))
}

func TestSubmit_UnsupportedTypeFailsWithoutQueueing(t *testing.T) {
	svc, tr, q, _ := newService(t, 4)

	j, err := svc.Submit(context.Background(), "archive.zip", "auto", job.Options{})
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, j.Status)
	require.NotNil(t, j.Failure)
	assert.Equal(t, string(engine.KindUnsupportedFormat), j.Failure.Kind)
	assert.Equal(t, 0, q.Size())

	// The failed job is still queryable.
	got, err := tr.Get(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
}

func TestSubmit_ExplicitPipelineBypassesDetection(t *testing.T) {
	svc, _, q, _ := newService(t, 4)

	j, err := svc.Submit(context.Background(), "mystery.bin", "standard", job.Options{})
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, j.Status)
	assert.Equal(t, pipeline.Standard, j.Pipeline)
	assert.Equal(t, 1, q.Size())
}

func TestSubmit_QueueFullLeavesNoRecord(t *testing.T) {
	svc, tr, _, bus := newService(t, 1)

	var mu sync.Mutex
	rejected := 0
	bus.Subscribe(event.JobRejected, func(context.Context, event.Event) {
		mu.Lock()
		rejected++
		mu.Unlock()
	})

	_, err := svc.Submit(context.Background(), "a.pdf", "", job.Options{})
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), "b.pdf", "", job.Options{})
	require.ErrorIs(t, err, ErrQueueFull)

	// Exactly the admitted job remains tracked.
	jobs := tr.List("", 0)
	require.Len(t, jobs, 1)
	assert.Equal(t, "a.pdf", jobs[0].Source)

	mu.Lock()
	assert.Equal(t, 1, rejected)
	mu.Unlock()
}

func TestSubmit_DefaultPipelineApplied(t *testing.T) {
	q := queue.New(4)
	tr := job.NewTracker(100)
	reg := engine.NewRegistry()
	reg.Register(&stubConverter{md: "# out"}, pipeline.Standard, pipeline.VLM, pipeline.ASR)
	bus := event.NewBus()
	sched := scheduler.New(scheduler.Config{Workers: 1, JobTimeout: time.Minute}, q, tr, reg, stubResolver{}, bus)
	svc := NewConvertService(q, tr, sched, reg, bus, pipeline.Standard)

	// No pipeline named: the configured default applies, so even an unknown
	// extension is admitted (explicit-pipeline semantics).
	j, err := svc.Submit(context.Background(), "mystery.bin", "", job.Options{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Standard, j.Pipeline)
	assert.Equal(t, job.StatusPending, j.Status)

	// A named pipeline wins over the default.
	j, err = svc.Submit(context.Background(), "scan.png", "vlm", job.Options{})
	require.NoError(t, err)
	assert.Equal(t, pipeline.VLM, j.Pipeline)
}

// gatedConverter blocks each conversion until released.
type gatedConverter struct{ gate chan struct{} }

func (c *gatedConverter) Name() string { return "gated" }

func (c *gatedConverter) Convert(ctx context.Context, _ string, _ pipeline.Kind, _ job.Options) (string, error) {
	select {
	case <-c.gate:
		return "# done", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestSubmit_QueueRecoversAfterDrain(t *testing.T) {
	q := queue.New(1)
	tr := job.NewTracker(100)
	reg := engine.NewRegistry()
	gate := make(chan struct{}, 8)
	reg.Register(&gatedConverter{gate: gate}, pipeline.Standard, pipeline.VLM, pipeline.ASR)
	bus := event.NewBus()
	sched := scheduler.New(scheduler.Config{Workers: 1, JobTimeout: time.Minute}, q, tr, reg, stubResolver{}, bus)
	svc := NewConvertService(q, tr, sched, reg, bus, pipeline.Auto)

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	t.Cleanup(func() {
		cancel()
		sched.Wait()
	})

	// First job occupies the single worker, second fills the single slot.
	running, err := svc.Submit(ctx, "a.pdf", "", job.Options{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		j, _ := tr.Get(running.ID)
		return j.Status == job.StatusRunning
	}, time.Second, 5*time.Millisecond)

	queued, err := svc.Submit(ctx, "b.pdf", "", job.Options{})
	require.NoError(t, err)

	_, err = svc.Submit(ctx, "c.pdf", "", job.Options{})
	require.ErrorIs(t, err, ErrQueueFull)

	// Let the running job finish; the worker drains the queue slot.
	gate <- struct{}{}
	require.Eventually(t, func() bool {
		return q.IsEmpty()
	}, time.Second, 5*time.Millisecond)

	// Admission works again.
	retried, err := svc.Submit(ctx, "d.pdf", "", job.Options{})
	require.NoError(t, err)

	gate <- struct{}{}
	gate <- struct{}{}
	for _, id := range []string{running.ID, queued.ID, retried.ID} {
		require.Eventually(t, func() bool {
			j, gerr := tr.Get(id)
			return gerr == nil && j.Status == job.StatusCompleted
		}, time.Second, 5*time.Millisecond)
	}
}

func TestResult_States(t *testing.T) {
	svc, tr, _, _ := newService(t, 4)

	j, err := svc.Submit(context.Background(), "report.pdf", "", job.Options{})
	require.NoError(t, err)

	_, err = svc.Result(j.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not finished")

	_, err = tr.Transition(j.ID, job.StatusRunning)
	require.NoError(t, err)
	_, err = tr.Transition(j.ID, job.StatusCompleted, job.WithResult("# md"))
	require.NoError(t, err)

	md, err := svc.Result(j.ID)
	require.NoError(t, err)
	assert.Equal(t, "# md", md)
}

func TestResult_FailedJob(t *testing.T) {
	svc, tr, _, _ := newService(t, 4)

	j, err := svc.Submit(context.Background(), "report.pdf", "", job.Options{})
	require.NoError(t, err)
	_, err = tr.Transition(j.ID, job.StatusFailed, job.WithFailure("timeout", "job timeout exceeded"))
	require.NoError(t, err)

	_, err = svc.Result(j.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
}

func TestResult_UnknownJob(t *testing.T) {
	svc, _, _, _ := newService(t, 4)
	_, err := svc.Result("ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestList_FilterValidation(t *testing.T) {
	svc, _, _, _ := newService(t, 8)

	_, err := svc.Submit(context.Background(), "a.pdf", "", job.Options{})
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), "b.pdf", "", job.Options{})
	require.NoError(t, err)

	jobs, err := svc.List("", 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = svc.List("pending", 1)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	_, err = svc.List("sideways", 0)
	require.Error(t, err)
}

func TestStatistics(t *testing.T) {
	svc, _, _, _ := newService(t, 4)

	_, err := svc.Submit(context.Background(), "a.pdf", "", job.Options{})
	require.NoError(t, err)

	stats := svc.Statistics()
	assert.Equal(t, 1, stats.Queue.CurrentSize)
	assert.Equal(t, 4, stats.Queue.MaxSize)
	assert.Equal(t, 1, stats.Processing.TotalJobs)
	assert.Equal(t, 1, stats.Processing.StatusCounts[string(job.StatusPending)])
}

func TestSupportedFormats(t *testing.T) {
	svc, _, _, _ := newService(t, 4)
	f := svc.SupportedFormats()
	assert.Contains(t, f.InputFormats, "docx")
	assert.Equal(t, []string{"standard", "vlm", "asr"}, f.Pipelines)
}

func TestSupportedFormats_OnlyRegisteredPipelines(t *testing.T) {
	q := queue.New(4)
	tr := job.NewTracker(100)
	reg := engine.NewRegistry()
	reg.Register(&stubConverter{md: "# out"}, pipeline.Standard)
	bus := event.NewBus()
	sched := scheduler.New(scheduler.Config{Workers: 1, JobTimeout: time.Minute}, q, tr, reg, stubResolver{}, bus)
	svc := NewConvertService(q, tr, sched, reg, bus, pipeline.Auto)

	f := svc.SupportedFormats()
	assert.Equal(t, []string{"standard"}, f.Pipelines)
	assert.Contains(t, f.InputFormats, "pdf")
}
