package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/docmill/docmill/internal/core/pipeline"
)

var (
	// ErrNotFound is returned for an unknown job ID.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition marks a lifecycle edge outside the state machine.
	// It indicates a programming defect, never an expected runtime condition.
	ErrInvalidTransition = errors.New("invalid job transition")
)

// validEdges is the job state machine. Any transition not listed is rejected.
var validEdges = map[Status][]Status{
	StatusPending:  {StatusRunning, StatusFailed},
	StatusRunning:  {StatusCompleted, StatusRetrying, StatusFailed},
	StatusRetrying: {StatusRunning, StatusFailed},
}

func edgeAllowed(from, to Status) bool {
	for _, s := range validEdges[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Tracker is the single source of truth for job state. It is safe for
// concurrent use by all workers plus read-only status queries. Terminal jobs
// are retained up to maxHistory entries; the oldest terminal jobs are
// evicted first, non-terminal jobs are never evicted.
type Tracker struct {
	mu         sync.RWMutex
	jobs       map[string]*Job
	order      []string // insertion order, for history eviction and recency
	maxHistory int
}

func NewTracker(maxHistory int) *Tracker {
	return &Tracker{
		jobs:       make(map[string]*Job),
		maxHistory: maxHistory,
	}
}

// Create registers a new pending job and returns a snapshot of it.
func (t *Tracker) Create(source string, kind pipeline.Kind, opts Options) Job {
	j := &Job{
		ID:        uuid.NewString(),
		Source:    source,
		Pipeline:  kind,
		Options:   opts,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	t.mu.Lock()
	t.jobs[j.ID] = j
	t.order = append(t.order, j.ID)
	t.evictLocked()
	t.mu.Unlock()

	log.Debug().Str("job_id", j.ID).Str("source", source).Str("pipeline", string(kind)).Msg("job registered")
	return *j
}

// Mutation is applied to a job inside a transition, under the tracker lock.
type Mutation func(*Job)

func WithResult(markdown string) Mutation {
	return func(j *Job) { j.Result = markdown }
}

func WithFailure(kind, message string) Mutation {
	return func(j *Job) { j.Failure = &Failure{Kind: kind, Message: message} }
}

func WithActivePipeline(kind pipeline.Kind) Mutation {
	return func(j *Job) { j.ActivePipeline = kind }
}

func IncrementRetry() Mutation {
	return func(j *Job) { j.RetryCount++ }
}

// Transition moves a job along one state-machine edge, applying mutations
// and stamping StartedAt/CompletedAt exactly once. It returns the updated
// snapshot, or ErrInvalidTransition for an edge outside the state machine.
func (t *Tracker) Transition(id string, to Status, muts ...Mutation) (Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	j, ok := t.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("transition %s: %w", id, ErrNotFound)
	}
	if !edgeAllowed(j.Status, to) {
		return Job{}, fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.Status, to, id)
	}

	from := j.Status
	j.Status = to
	now := time.Now()
	if from == StatusPending && to == StatusRunning {
		j.StartedAt = &now
	}
	if to.Terminal() && j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	for _, m := range muts {
		m(j)
	}

	log.Debug().Str("job_id", id).Str("from", string(from)).Str("to", string(to)).Msg("job transition")
	return *j, nil
}

// Get returns a snapshot of the job, or ErrNotFound.
func (t *Tracker) Get(id string) (Job, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	j, ok := t.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

// List returns snapshots of the most recent jobs, newest last, optionally
// filtered by status. A limit <= 0 means no limit.
func (t *Tracker) List(filter Status, limit int) []Job {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Job, 0, len(t.order))
	for _, id := range t.order {
		j := t.jobs[id]
		if filter != "" && j.Status != filter {
			continue
		}
		out = append(out, *j)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// ActiveCount returns the number of jobs currently running or retrying.
func (t *Tracker) ActiveCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, j := range t.jobs {
		if j.Status == StatusRunning || j.Status == StatusRetrying {
			n++
		}
	}
	return n
}

// Statistics is the tracker's aggregate view used for stats reporting.
type Statistics struct {
	TotalJobs              int            `json:"total_jobs"`
	ActiveJobs             int            `json:"active_jobs"`
	StatusCounts           map[string]int `json:"status_counts"`
	AverageDurationSeconds *float64       `json:"average_duration_seconds"`
}

// Stats computes processing statistics over all tracked jobs.
func (t *Tracker) Stats() Statistics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[string]int, len(Statuses()))
	for _, s := range Statuses() {
		counts[string(s)] = 0
	}

	var durSum time.Duration
	var durN int
	active := 0
	for _, j := range t.jobs {
		counts[string(j.Status)]++
		if j.Status == StatusRunning || j.Status == StatusRetrying {
			active++
		}
		if j.Status == StatusCompleted {
			if d, ok := j.Duration(); ok {
				durSum += d
				durN++
			}
		}
	}

	stats := Statistics{
		TotalJobs:    len(t.jobs),
		ActiveJobs:   active,
		StatusCounts: counts,
	}
	if durN > 0 {
		avg := durSum.Seconds() / float64(durN)
		stats.AverageDurationSeconds = &avg
	}
	return stats
}

// Remove deletes a job record outright. Used when admission is rejected
// after registration, so a never-enqueued job leaves no trace.
func (t *Tracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.jobs[id]; !ok {
		return
	}
	delete(t.jobs, id)
	for i, oid := range t.order {
		if oid == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// evictLocked drops the oldest terminal jobs while over the history cap.
// Jobs still pending or executing are kept regardless of the cap.
func (t *Tracker) evictLocked() {
	if t.maxHistory <= 0 || len(t.order) <= t.maxHistory {
		return
	}
	kept := t.order[:0]
	excess := len(t.order) - t.maxHistory
	for _, id := range t.order {
		if excess > 0 && t.jobs[id].Status.Terminal() {
			delete(t.jobs, id)
			excess--
			log.Debug().Str("job_id", id).Msg("evicted terminal job from history")
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
}
