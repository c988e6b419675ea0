package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/core/engine"
	"github.com/docmill/docmill/internal/core/engine/doclingcli"
	"github.com/docmill/docmill/internal/core/engine/doclingserve"
	"github.com/docmill/docmill/internal/core/event"
	"github.com/docmill/docmill/internal/core/fetch"
	"github.com/docmill/docmill/internal/core/job"
	"github.com/docmill/docmill/internal/core/pipeline"
	"github.com/docmill/docmill/internal/core/process"
	"github.com/docmill/docmill/internal/core/queue"
	"github.com/docmill/docmill/internal/core/scheduler"
	"github.com/docmill/docmill/internal/service"
)

// stack wires the queue, tracker, scheduler, resolver and engines from
// config. Both serve and one-shot convert build the same stack.
type stack struct {
	cfg       *config.Config
	bus       event.Bus
	queue     *queue.Queue
	tracker   *job.Tracker
	registry  *engine.Registry
	resolver  *fetch.Resolver
	scheduler *scheduler.Scheduler
	svc       *service.ConvertService
	procMgr   *process.Manager
}

func buildStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	bus := event.NewBus()
	tracker := job.NewTracker(cfg.Jobs.MaxHistory)
	q := queue.New(cfg.Jobs.MaxQueueSize)

	resolver, err := fetch.NewResolver(fetch.ResolverConfig{
		TempDir:         cfg.Storage.TempDir,
		AllowedSchemes:  cfg.Storage.AllowedSchemes,
		MaxFileSizeMB:   cfg.Storage.MaxFileSizeMB,
		DownloadTimeout: cfg.Storage.DownloadTimeoutDur,
	})
	if err != nil {
		return nil, fmt.Errorf("init resolver: %w", err)
	}

	registry := engine.NewRegistry()
	procMgr := process.NewManager()

	allKinds := []pipeline.Kind{pipeline.Standard, pipeline.VLM, pipeline.ASR}
	switch cfg.Engines.Adapter {
	case "cli":
		eng, err := doclingcli.New(cfg.Engines.CLI.Binary, doclingcli.Defaults{
			OCREnabled:        cfg.Processing.OCR.Enabled,
			OCRLanguage:       cfg.Processing.OCR.Language,
			TableAccuracyMode: cfg.Processing.PDF.TableMode,
			PDFBackend:        cfg.Processing.PDF.Backend,
			ASRModel:          cfg.Processing.ASRModel,
		})
		if err != nil {
			return nil, fmt.Errorf("init docling cli engine: %w", err)
		}
		registry.Register(eng, allKinds...)
		log.Info().Str("binary", cfg.Engines.CLI.Binary).Msg("docling cli engine registered")

	case "serve":
		eng := doclingserve.New(doclingserve.Config{
			BaseURL: cfg.Engines.Serve.URL,
			Defaults: doclingserve.Defaults{
				OCREnabled:        cfg.Processing.OCR.Enabled,
				OCRLanguage:       cfg.Processing.OCR.Language,
				TableAccuracyMode: cfg.Processing.PDF.TableMode,
				PDFBackend:        cfg.Processing.PDF.Backend,
				ASRModel:          cfg.Processing.ASRModel,
			},
			ManageDaemon: cfg.Engines.Serve.ManageDaemon,
			Binary:       cfg.Engines.Serve.Binary,
			Host:         cfg.Engines.Serve.Host,
			Port:         cfg.Engines.Serve.Port,
		})
		registry.Register(eng, allKinds...)
		if d := eng.Daemon(); d != nil {
			procMgr.Register(d)
		}
		log.Info().Str("url", cfg.Engines.Serve.URL).Msg("docling-serve engine registered")
	}

	if err := procMgr.StartAll(ctx); err != nil {
		return nil, fmt.Errorf("start engine daemons: %w", err)
	}

	sched := scheduler.New(scheduler.Config{
		Workers:            cfg.Jobs.MaxConcurrent,
		JobTimeout:         cfg.Jobs.JobTimeout,
		MaxRetries:         cfg.Jobs.MaxRetries,
		FallbackPDFBackend: cfg.Processing.PDF.FallbackBackend,
	}, q, tracker, registry, resolver, bus)

	svc := service.NewConvertService(q, tracker, sched, registry, bus,
		pipeline.Kind(cfg.Processing.DefaultPipeline))

	return &stack{
		cfg:       cfg,
		bus:       bus,
		queue:     q,
		tracker:   tracker,
		registry:  registry,
		resolver:  resolver,
		scheduler: sched,
		svc:       svc,
		procMgr:   procMgr,
	}, nil
}

// subscribeEventLogging attaches logging handlers for terminal job events.
func subscribeEventLogging(bus event.Bus) {
	bus.Subscribe(event.JobCompleted, func(_ context.Context, e event.Event) {
		if p, ok := e.Payload.(event.JobEvent); ok {
			log.Info().Str("job_id", p.JobID).Str("pipeline", p.Pipeline).
				Int("retries", p.RetryCount).Dur("duration", p.Duration).Msg("conversion completed")
		}
	})
	bus.Subscribe(event.JobFailed, func(_ context.Context, e event.Event) {
		if p, ok := e.Payload.(event.JobEvent); ok {
			log.Warn().Str("job_id", p.JobID).Str("kind", p.ErrorKind).
				Str("error", p.Error).Msg("conversion failed")
		}
	})
	bus.Subscribe(event.JobCancelled, func(_ context.Context, e event.Event) {
		if p, ok := e.Payload.(event.JobEvent); ok {
			log.Info().Str("job_id", p.JobID).Msg("job cancelled")
		}
	})
	bus.Subscribe(event.JobRejected, func(_ context.Context, e event.Event) {
		if p, ok := e.Payload.(event.JobEvent); ok {
			log.Warn().Str("source", p.Source).Msg("submission rejected, queue full")
		}
	})
}
