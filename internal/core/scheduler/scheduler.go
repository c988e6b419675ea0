package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/docmill/docmill/internal/core/engine"
	"github.com/docmill/docmill/internal/core/event"
	"github.com/docmill/docmill/internal/core/fetch"
	"github.com/docmill/docmill/internal/core/job"
	"github.com/docmill/docmill/internal/core/pipeline"
	"github.com/docmill/docmill/internal/core/queue"
)

var (
	errJobTimeout   = errors.New("job timeout exceeded")
	errJobCancelled = errors.New("job cancelled")
)

// Resolver turns a job source into a local file with a cleanup handle.
type Resolver interface {
	Resolve(ctx context.Context, source string) (string, fetch.CleanupFunc, error)
}

type Config struct {
	Workers            int
	JobTimeout         time.Duration
	MaxRetries         int
	FallbackPDFBackend string // applied to standard-pipeline fallback attempts
}

// Scheduler drives the job-processing loop: a fixed pool of workers, each
// looping dequeue -> resolve -> select -> convert (with fallback) -> record.
type Scheduler struct {
	cfg      Config
	queue    *queue.Queue
	tracker  *job.Tracker
	registry *engine.Registry
	resolver Resolver
	bus      event.Bus

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc

	wg sync.WaitGroup
}

func New(cfg Config, q *queue.Queue, t *job.Tracker, r *engine.Registry, res Resolver, bus event.Bus) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scheduler{
		cfg:      cfg,
		queue:    q,
		tracker:  t,
		registry: r,
		resolver: res,
		bus:      bus,
		cancels:  make(map[string]context.CancelCauseFunc),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled or the
// queue is closed and drained.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Int("workers", s.cfg.Workers).Msg("scheduler started")
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go func(n int) {
			defer s.wg.Done()
			s.runWorker(ctx, n)
		}(i + 1)
	}
}

// Wait blocks until all workers have exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
	log.Info().Msg("scheduler stopped")
}

// Cancel requests cancellation of a job. Pending jobs fail immediately and
// never run; executing jobs are marked failed authoritatively and their
// worker is interrupted at the next checkpoint.
func (s *Scheduler) Cancel(id string) error {
	snap, err := s.tracker.Get(id)
	if err != nil {
		return err
	}
	if snap.Status.Terminal() {
		return fmt.Errorf("job %s already %s", id, snap.Status)
	}

	if cancelled, err := s.tracker.Transition(id, job.StatusFailed,
		job.WithFailure(string(engine.KindCancelled), "job cancelled"),
	); err == nil {
		s.bus.Publish(context.Background(), event.Event{
			Type:    event.JobCancelled,
			Payload: event.JobEvent{JobID: id, Source: cancelled.Source},
		})
	}

	s.mu.Lock()
	cancel := s.cancels[id]
	s.mu.Unlock()
	if cancel != nil {
		cancel(errJobCancelled)
	}
	return nil
}

func (s *Scheduler) runWorker(ctx context.Context, n int) {
	for {
		id, err := s.queue.Dequeue(ctx)
		if err != nil {
			log.Debug().Int("worker", n).AnErr("reason", err).Msg("worker exiting")
			return
		}
		s.process(ctx, n, id)
	}
}

// process executes one job end to end. The worker slot is held for the whole
// call and released unconditionally when it returns.
func (s *Scheduler) process(ctx context.Context, n int, id string) {
	snap, err := s.tracker.Get(id)
	if err != nil {
		log.Warn().Err(err).Str("job_id", id).Msg("dequeued unknown job")
		return
	}
	// Cancelled while pending: the tracker already holds the terminal state.
	if snap.Status.Terminal() {
		log.Debug().Str("job_id", id).Str("status", string(snap.Status)).Msg("skipping terminal job")
		return
	}

	// The job deadline runs from submission, not from pickup, and is
	// enforced here independent of any adapter-side timeout.
	base, cancel := context.WithCancelCause(ctx)
	jobCtx, timeoutCancel := context.WithDeadlineCause(base, snap.CreatedAt.Add(s.cfg.JobTimeout), errJobTimeout)

	s.mu.Lock()
	s.cancels[id] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, id)
		s.mu.Unlock()
		timeoutCancel()
		cancel(nil)
	}()

	docType := pipeline.Detect(snap.Source)
	// An explicitly requested pipeline runs alone; fallback to the type's
	// other candidates happens only when the caller opted in. Auto always
	// walks the candidate table.
	allowFallback := snap.Pipeline == pipeline.Auto
	if snap.Options.AllowFallback != nil {
		allowFallback = *snap.Options.AllowFallback
	}
	candidates := pipeline.Select(docType, snap.Pipeline, allowFallback)
	if len(candidates) == 0 {
		s.fail(jobCtx, id, engine.NewError(engine.KindUnsupportedFormat,
			fmt.Sprintf("no conversion pipeline for %s source %q", docType, snap.Source), nil))
		return
	}

	started, err := s.tracker.Transition(id, job.StatusRunning, job.WithActivePipeline(candidates[0]))
	if err != nil {
		// Lost the race against cancellation; nothing to do.
		log.Debug().Err(err).Str("job_id", id).Msg("job not runnable")
		return
	}
	s.bus.Publish(jobCtx, event.Event{
		Type:    event.JobStarted,
		Payload: event.JobEvent{JobID: id, Source: started.Source, Pipeline: string(candidates[0])},
	})
	log.Info().Int("worker", n).Str("job_id", id).Str("source", started.Source).Msg("job started")

	localPath, cleanup, err := s.resolver.Resolve(jobCtx, started.Source)
	if err != nil {
		s.fail(jobCtx, id, engine.Classify(err, "source resolution failed"))
		return
	}
	defer cleanup()

	s.runAttempts(jobCtx, id, localPath, started, candidates)
}

// runAttempts iterates the candidate pipelines in order until one succeeds,
// the retry budget is spent, or the job is interrupted.
func (s *Scheduler) runAttempts(jobCtx context.Context, id, localPath string, snap job.Job, candidates []pipeline.Kind) {
	var lastErr *engine.ConvertError
	retries := 0

	for i, kind := range candidates {
		if jobCtx.Err() != nil {
			s.fail(jobCtx, id, s.interruptError(jobCtx))
			return
		}

		if i > 0 {
			if retries >= s.cfg.MaxRetries {
				break
			}
			retries++
			retrying, err := s.tracker.Transition(id, job.StatusRetrying, job.IncrementRetry())
			if err != nil {
				log.Debug().Err(err).Str("job_id", id).Msg("abandoning job mid-fallback")
				return
			}
			s.bus.Publish(jobCtx, event.Event{
				Type: event.JobRetrying,
				Payload: event.JobEvent{
					JobID:      id,
					Pipeline:   string(kind),
					RetryCount: retrying.RetryCount,
					ErrorKind:  string(lastErr.Kind),
					Error:      lastErr.Message,
				},
			})
			if _, err := s.tracker.Transition(id, job.StatusRunning, job.WithActivePipeline(kind)); err != nil {
				log.Debug().Err(err).Str("job_id", id).Msg("abandoning job mid-fallback")
				return
			}
		}

		md, cerr := s.attempt(jobCtx, id, localPath, kind, i, snap.Options)
		if cerr == nil {
			completed, err := s.tracker.Transition(id, job.StatusCompleted,
				job.WithResult(md), job.WithActivePipeline(kind))
			if err != nil {
				log.Debug().Err(err).Str("job_id", id).Msg("discarding result for terminal job")
				return
			}
			dur, _ := completed.Duration()
			s.bus.Publish(jobCtx, event.Event{
				Type: event.JobCompleted,
				Payload: event.JobEvent{
					JobID:      id,
					Source:     completed.Source,
					Pipeline:   string(kind),
					RetryCount: completed.RetryCount,
					Duration:   dur,
				},
			})
			log.Debug().Str("job_id", id).Str("pipeline", string(kind)).Dur("duration", dur).Msg("job completed")
			return
		}

		if cerr.Kind == engine.KindCancelled || jobCtx.Err() != nil {
			s.fail(jobCtx, id, cerr)
			return
		}
		log.Warn().Str("job_id", id).Str("pipeline", string(kind)).
			Str("kind", string(cerr.Kind)).Str("error", cerr.Message).Msg("conversion attempt failed")
		lastErr = cerr
	}

	if lastErr == nil {
		lastErr = engine.NewError(engine.KindBackend, "no conversion attempt executed", nil)
	}
	s.fail(jobCtx, id, lastErr)
}

// attempt runs one conversion in its own goroutine so an abandoned engine
// call cannot block the worker; a late result is simply discarded.
func (s *Scheduler) attempt(jobCtx context.Context, id, localPath string, kind pipeline.Kind, ordinal int, opts job.Options) (string, *engine.ConvertError) {
	conv, err := s.registry.Get(kind)
	if err != nil {
		return "", engine.NewError(engine.KindBackend, err.Error(), err)
	}

	// A standard-pipeline fallback attempt switches to the configured
	// fallback PDF backend unless the job pinned one.
	if kind == pipeline.Standard && ordinal > 0 && opts.PDFBackend == "" {
		opts.PDFBackend = s.cfg.FallbackPDFBackend
	}

	type result struct {
		md  string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		md, err := conv.Convert(jobCtx, localPath, kind, opts)
		ch <- result{md, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return "", engine.Classify(res.err, fmt.Sprintf("%s conversion failed", kind))
		}
		return res.md, nil
	case <-jobCtx.Done():
		// Stop waiting; the buffered channel swallows the late result.
		return "", s.interruptError(jobCtx)
	}
}

// interruptError maps a context interruption to the taxonomy using its cause.
func (s *Scheduler) interruptError(jobCtx context.Context) *engine.ConvertError {
	cause := context.Cause(jobCtx)
	switch {
	case errors.Is(cause, errJobTimeout):
		return engine.NewError(engine.KindTimeout, errJobTimeout.Error(), cause)
	case errors.Is(cause, errJobCancelled):
		return engine.NewError(engine.KindCancelled, errJobCancelled.Error(), cause)
	default:
		return engine.NewError(engine.KindCancelled, "job interrupted by shutdown", cause)
	}
}

// fail records the terminal failure. An InvalidTransition here means the job
// was already terminated (e.g. authoritative cancellation); that is not an
// error for the worker, it just stops handling the job.
func (s *Scheduler) fail(ctx context.Context, id string, ce *engine.ConvertError) {
	failed, err := s.tracker.Transition(id, job.StatusFailed,
		job.WithFailure(string(ce.Kind), ce.Message))
	if err != nil {
		log.Debug().Err(err).Str("job_id", id).Msg("job already terminal")
		return
	}
	s.bus.Publish(ctx, event.Event{
		Type: event.JobFailed,
		Payload: event.JobEvent{
			JobID:      id,
			Source:     failed.Source,
			RetryCount: failed.RetryCount,
			ErrorKind:  string(ce.Kind),
			Error:      ce.Message,
		},
	})
	log.Debug().Str("job_id", id).Str("kind", string(ce.Kind)).Str("error", ce.Message).Msg("job failed")
}
