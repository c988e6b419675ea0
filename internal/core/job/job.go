package job

import (
	"time"

	"github.com/docmill/docmill/internal/core/pipeline"
)

// Status is a job lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Statuses lists all states, for statistics reporting.
func Statuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusRetrying, StatusCompleted, StatusFailed}
}

// Options is the conversion configuration bag carried by a job. It is
// immutable after submission; zero values mean "use the configured default".
type Options struct {
	OCREnabled        *bool  `json:"ocr_enabled,omitempty"`
	OCRLanguage       string `json:"ocr_language,omitempty"`
	TableAccuracyMode string `json:"table_accuracy_mode,omitempty"`
	PDFBackend        string `json:"pdf_backend,omitempty"`
	EnableEnrichments bool   `json:"enable_enrichments,omitempty"`
	ASRModel          string `json:"asr_model,omitempty"`
	AllowFallback     *bool  `json:"allow_fallback,omitempty"`
}

// Failure is the structured error recorded on a failed job: the taxonomy
// kind and message of the last conversion attempt.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Job is one document-conversion request and its tracked execution state.
// The Tracker owns the authoritative record; everything handed out is a copy.
type Job struct {
	ID       string
	Source   string
	Pipeline pipeline.Kind // requested kind; Auto means detect by file type
	Options  Options

	Status         Status
	ActivePipeline pipeline.Kind // candidate used by the current/last attempt

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	RetryCount int
	Result     string
	Failure    *Failure
}

// Duration returns the execution time of a finished job, or false when the
// job has not both started and completed.
func (j *Job) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt), true
}
