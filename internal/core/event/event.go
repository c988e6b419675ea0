package event

import "time"

type Type string

const (
	// Job lifecycle
	JobSubmitted Type = "job.submitted"
	JobStarted   Type = "job.started"
	JobRetrying  Type = "job.retrying"
	JobCompleted Type = "job.completed"
	JobFailed    Type = "job.failed"
	JobCancelled Type = "job.cancelled"
	JobRejected  Type = "job.rejected"
)

type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   any
}

// JobEvent is the payload for job lifecycle events.
type JobEvent struct {
	JobID      string
	Source     string
	Pipeline   string
	RetryCount int
	ErrorKind  string
	Error      string
	Duration   time.Duration
}
