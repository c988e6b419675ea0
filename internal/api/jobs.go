package api

import (
	"context"
	"errors"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/docmill/docmill/internal/core/job"
	"github.com/docmill/docmill/internal/core/pipeline"
	"github.com/docmill/docmill/internal/service"
)

type JobsHandler struct {
	svc *service.ConvertService
}

func NewJobsHandler(svc *service.ConvertService) *JobsHandler {
	return &JobsHandler{svc: svc}
}

// Shared types

type OptionsBody struct {
	OCREnabled        *bool  `json:"ocr_enabled,omitempty" doc:"Enable OCR (default from config)"`
	OCRLanguage       string `json:"ocr_language,omitempty" doc:"OCR language code"`
	TableAccuracyMode string `json:"table_accuracy_mode,omitempty" enum:",fast,accurate" doc:"Table extraction mode"`
	PDFBackend        string `json:"pdf_backend,omitempty" doc:"PDF parsing backend"`
	EnableEnrichments bool   `json:"enable_enrichments,omitempty" doc:"Enable code and formula enrichment"`
	ASRModel          string `json:"asr_model,omitempty" doc:"Speech recognition model"`
	AllowFallback     *bool  `json:"allow_fallback,omitempty" doc:"Allow pipeline fallback after an explicit pipeline fails"`
}

func (b OptionsBody) toOptions() job.Options {
	return job.Options{
		OCREnabled:        b.OCREnabled,
		OCRLanguage:       b.OCRLanguage,
		TableAccuracyMode: b.TableAccuracyMode,
		PDFBackend:        b.PDFBackend,
		EnableEnrichments: b.EnableEnrichments,
		ASRModel:          b.ASRModel,
		AllowFallback:     b.AllowFallback,
	}
}

type SubmitJobInput struct {
	Body struct {
		Source   string      `json:"source" minLength:"1" doc:"Local file path or URL of the document"`
		Pipeline string      `json:"pipeline,omitempty" enum:",auto,standard,vlm,asr" doc:"Conversion pipeline (default auto)"`
		Options  OptionsBody `json:"options,omitempty" doc:"Conversion options"`
	}
}

type SubmitJobBody struct {
	JobID  string `json:"job_id" doc:"Job ID"`
	Status string `json:"status" doc:"Initial job status"`
}

type SubmitJobOutput struct {
	Body SubmitJobBody
}

type JobIDInput struct {
	ID string `path:"id" doc:"Job ID"`
}

type FailureBody struct {
	Kind    string `json:"kind" doc:"Error taxonomy kind"`
	Message string `json:"message" doc:"Error message of the last attempt"`
}

type JobStatusBody struct {
	JobID           string       `json:"job_id" doc:"Job ID"`
	Source          string       `json:"source" doc:"Original path or URL"`
	Pipeline        string       `json:"pipeline" doc:"Requested pipeline"`
	ActivePipeline  string       `json:"active_pipeline,omitempty" doc:"Pipeline used by the current or last attempt"`
	Status          string       `json:"status" doc:"Job status (pending, running, retrying, completed, failed)"`
	CreatedAt       time.Time    `json:"created_at" doc:"Submission time"`
	StartedAt       *time.Time   `json:"started_at,omitempty" doc:"Execution start time"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty" doc:"Terminal transition time"`
	DurationSeconds *float64     `json:"duration_seconds,omitempty" doc:"Execution duration for finished jobs"`
	RetryCount      int          `json:"retry_count" doc:"Number of fallback attempts used"`
	Error           *FailureBody `json:"error,omitempty" doc:"Failure details for failed jobs"`
}

func newJobStatusBody(j job.Job) JobStatusBody {
	body := JobStatusBody{
		JobID:          j.ID,
		Source:         j.Source,
		Pipeline:       string(j.Pipeline),
		ActivePipeline: string(j.ActivePipeline),
		Status:         string(j.Status),
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		RetryCount:     j.RetryCount,
	}
	if d, ok := j.Duration(); ok {
		secs := d.Seconds()
		body.DurationSeconds = &secs
	}
	if j.Failure != nil {
		body.Error = &FailureBody{Kind: j.Failure.Kind, Message: j.Failure.Message}
	}
	return body
}

type JobStatusOutput struct {
	Body JobStatusBody
}

type ListJobsInput struct {
	Status string `query:"status" enum:",pending,running,retrying,completed,failed" doc:"Filter by status"`
	Limit  int    `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Max results"`
}

type ListJobsOutput struct {
	Body []JobStatusBody
}

type ResultOutput struct {
	Body struct {
		JobID    string `json:"job_id" doc:"Job ID"`
		Markdown string `json:"markdown" doc:"Converted markdown content"`
	}
}

type StatusOutput struct {
	Body struct {
		Status string `json:"status" doc:"Operation result"`
	}
}

type StatsOutput struct {
	Body service.Statistics
}

type FormatsOutput struct {
	Body pipeline.Formats
}

// Handlers

func (h *JobsHandler) Submit(ctx context.Context, in *SubmitJobInput) (*SubmitJobOutput, error) {
	j, err := h.svc.Submit(ctx, in.Body.Source, in.Body.Pipeline, in.Body.Options.toOptions())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrQueueFull):
			return nil, huma.Error429TooManyRequests("job queue is full, try again later")
		case errors.Is(err, service.ErrInvalidPipeline):
			return nil, huma.Error422UnprocessableEntity(err.Error())
		default:
			return nil, huma.Error400BadRequest(err.Error())
		}
	}
	return &SubmitJobOutput{Body: SubmitJobBody{JobID: j.ID, Status: string(j.Status)}}, nil
}

func (h *JobsHandler) Get(ctx context.Context, in *JobIDInput) (*JobStatusOutput, error) {
	j, err := h.svc.Status(in.ID)
	if err != nil {
		return nil, huma.Error404NotFound("job not found")
	}
	return &JobStatusOutput{Body: newJobStatusBody(j)}, nil
}

func (h *JobsHandler) List(ctx context.Context, in *ListJobsInput) (*ListJobsOutput, error) {
	jobs, err := h.svc.List(in.Status, in.Limit)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity(err.Error())
	}
	out := &ListJobsOutput{Body: make([]JobStatusBody, 0, len(jobs))}
	for _, j := range jobs {
		out.Body = append(out.Body, newJobStatusBody(j))
	}
	return out, nil
}

func (h *JobsHandler) Result(ctx context.Context, in *JobIDInput) (*ResultOutput, error) {
	md, err := h.svc.Result(in.ID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error409Conflict(err.Error())
	}
	out := &ResultOutput{}
	out.Body.JobID = in.ID
	out.Body.Markdown = md
	return out, nil
}

func (h *JobsHandler) Cancel(ctx context.Context, in *JobIDInput) (*StatusOutput, error) {
	if err := h.svc.Cancel(in.ID); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return nil, huma.Error404NotFound("job not found")
		}
		return nil, huma.Error409Conflict(err.Error())
	}
	out := &StatusOutput{}
	out.Body.Status = "cancelled"
	return out, nil
}

func (h *JobsHandler) Stats(ctx context.Context, _ *struct{}) (*StatsOutput, error) {
	return &StatsOutput{Body: h.svc.Statistics()}, nil
}

func (h *JobsHandler) Formats(ctx context.Context, _ *struct{}) (*FormatsOutput, error) {
	return &FormatsOutput{Body: h.svc.SupportedFormats()}, nil
}
