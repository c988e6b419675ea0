package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/docmill/docmill/internal/core/engine"
	"github.com/docmill/docmill/internal/core/event"
	"github.com/docmill/docmill/internal/core/job"
	"github.com/docmill/docmill/internal/core/pipeline"
	"github.com/docmill/docmill/internal/core/queue"
	"github.com/docmill/docmill/internal/core/scheduler"
)

var (
	// ErrQueueFull is surfaced to submitters when admission is rejected.
	ErrQueueFull = queue.ErrQueueFull

	// ErrNotFound is surfaced for unknown job IDs.
	ErrNotFound = job.ErrNotFound

	// ErrInvalidPipeline rejects a submission naming an unknown pipeline.
	ErrInvalidPipeline = errors.New("invalid pipeline")
)

// ConvertService is the orchestration facade exposed to the transport
// layer: admission, status queries, cancellation, and statistics.
type ConvertService struct {
	queue     *queue.Queue
	tracker   *job.Tracker
	scheduler *scheduler.Scheduler
	registry  *engine.Registry
	bus       event.Bus

	defaultPipeline pipeline.Kind // applied when a submission names no pipeline
}

func NewConvertService(q *queue.Queue, t *job.Tracker, s *scheduler.Scheduler, r *engine.Registry, bus event.Bus, defaultPipeline pipeline.Kind) *ConvertService {
	if defaultPipeline == "" {
		defaultPipeline = pipeline.Auto
	}
	return &ConvertService{
		queue:           q,
		tracker:         t,
		scheduler:       s,
		registry:        r,
		bus:             bus,
		defaultPipeline: defaultPipeline,
	}
}

// Submit admits a conversion job. It is fast and synchronous: the job is
// registered and enqueued, or the caller gets an immediate rejection.
// A source whose type has no pipeline is registered and failed immediately
// without ever touching the queue.
func (s *ConvertService) Submit(ctx context.Context, source, pipelineName string, opts job.Options) (job.Job, error) {
	if source == "" {
		return job.Job{}, errors.New("source is required")
	}
	if pipelineName == "" {
		pipelineName = string(s.defaultPipeline)
	}
	kind, ok := pipeline.ParseKind(pipelineName)
	if !ok {
		return job.Job{}, fmt.Errorf("%w: %q", ErrInvalidPipeline, pipelineName)
	}

	if kind == pipeline.Auto && pipeline.Detect(source) == pipeline.TypeUnknown {
		j := s.tracker.Create(source, kind, opts)
		failed, err := s.tracker.Transition(j.ID, job.StatusFailed,
			job.WithFailure(string(engine.KindUnsupportedFormat),
				fmt.Sprintf("unsupported file type %q", pipeline.Ext(source))))
		if err != nil {
			return job.Job{}, err
		}
		s.bus.Publish(ctx, event.Event{
			Type: event.JobFailed,
			Payload: event.JobEvent{
				JobID:     j.ID,
				Source:    source,
				ErrorKind: string(engine.KindUnsupportedFormat),
				Error:     "unsupported file type",
			},
		})
		return failed, nil
	}

	j := s.tracker.Create(source, kind, opts)
	if err := s.queue.Enqueue(j.ID); err != nil {
		// Admission rejected: the job never entered the queue, so it must
		// not leave a tracker record either.
		s.tracker.Remove(j.ID)
		s.bus.Publish(ctx, event.Event{
			Type:    event.JobRejected,
			Payload: event.JobEvent{Source: source},
		})
		return job.Job{}, fmt.Errorf("submit %q: %w", source, err)
	}

	s.bus.Publish(ctx, event.Event{
		Type:    event.JobSubmitted,
		Payload: event.JobEvent{JobID: j.ID, Source: source, Pipeline: string(kind)},
	})
	log.Info().Str("job_id", j.ID).Str("source", source).Str("pipeline", string(kind)).Msg("job submitted")
	return j, nil
}

// Status returns a snapshot of the job.
func (s *ConvertService) Status(id string) (job.Job, error) {
	return s.tracker.Get(id)
}

// Result returns the markdown produced by a completed job.
func (s *ConvertService) Result(id string) (string, error) {
	j, err := s.tracker.Get(id)
	if err != nil {
		return "", err
	}
	switch j.Status {
	case job.StatusCompleted:
		return j.Result, nil
	case job.StatusFailed:
		return "", fmt.Errorf("job %s failed (%s): %s", id, j.Failure.Kind, j.Failure.Message)
	default:
		return "", fmt.Errorf("job %s not finished (status %s)", id, j.Status)
	}
}

// Cancel requests cancellation of a non-terminal job.
func (s *ConvertService) Cancel(id string) error {
	return s.scheduler.Cancel(id)
}

// List returns recent jobs, optionally filtered by status.
func (s *ConvertService) List(status string, limit int) ([]job.Job, error) {
	var filter job.Status
	if status != "" {
		filter = job.Status(status)
		valid := false
		for _, st := range job.Statuses() {
			if st == filter {
				valid = true
				break
			}
		}
		if !valid {
			return nil, fmt.Errorf("invalid status filter %q", status)
		}
	}
	return s.tracker.List(filter, limit), nil
}

// Statistics is the combined queue and tracker view.
type Statistics struct {
	Queue      queue.Stats    `json:"queue"`
	Processing job.Statistics `json:"processing"`
}

func (s *ConvertService) Statistics() Statistics {
	return Statistics{
		Queue:      s.queue.Stats(),
		Processing: s.tracker.Stats(),
	}
}

// SupportedFormats reports the input-format table and the pipelines that
// actually have a registered converter.
func (s *ConvertService) SupportedFormats() pipeline.Formats {
	f := pipeline.SupportedFormats()

	registered := make(map[pipeline.Kind]bool)
	for _, k := range s.registry.Kinds() {
		registered[k] = true
	}
	avail := f.Pipelines[:0]
	for _, p := range f.Pipelines {
		if registered[pipeline.Kind(p)] {
			avail = append(avail, p)
		}
	}
	f.Pipelines = avail
	return f
}
