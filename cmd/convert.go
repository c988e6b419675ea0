package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/core/job"
	"github.com/docmill/docmill/internal/core/pipeline"
)

func convertCmd() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert a single document and print the markdown",
		ArgsUsage: "<path-or-url>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "pipeline",
				Aliases: []string{"p"},
				Usage:   "Pipeline to use (auto, standard, vlm, asr)",
				Value:   "auto",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write markdown to this file instead of stdout",
			},
			&cli.BoolFlag{
				Name:  "no-ocr",
				Usage: "Disable OCR for this conversion",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			source := cmd.Args().First()
			if source == "" {
				return fmt.Errorf("usage: docmill convert <path-or-url>")
			}

			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyLogLevel(cmd.String("log-level"), cfg.Logging.Level)

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// One-shot: a single worker and a single queue slot.
			cfg.Jobs.MaxConcurrent = 1
			cfg.Jobs.MaxQueueSize = 1
			st, err := buildStack(ctx, cfg)
			if err != nil {
				return err
			}

			workerCtx, cancelWorkers := context.WithCancel(ctx)
			defer cancelWorkers()
			st.scheduler.Start(workerCtx)

			var opts job.Options
			if cmd.Bool("no-ocr") {
				off := false
				opts.OCREnabled = &off
			}

			submitted, err := st.svc.Submit(ctx, source, cmd.String("pipeline"), opts)
			if err != nil {
				return err
			}

			final, err := waitTerminal(ctx, st, submitted.ID)
			if err != nil {
				return err
			}
			if final.Status == job.StatusFailed {
				return fmt.Errorf("conversion failed (%s): %s", final.Failure.Kind, final.Failure.Message)
			}

			if out := cmd.String("output"); out != "" {
				return os.WriteFile(out, []byte(final.Result), 0o644)
			}
			fmt.Println(final.Result)
			return nil
		},
	}
}

func waitTerminal(ctx context.Context, st *stack, id string) (job.Job, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return job.Job{}, ctx.Err()
		case <-ticker.C:
			j, err := st.svc.Status(id)
			if err != nil {
				return job.Job{}, err
			}
			if j.Status.Terminal() {
				return j, nil
			}
		}
	}
}

func formatsCmd() *cli.Command {
	return &cli.Command{
		Name:  "formats",
		Usage: "List supported input formats and pipelines",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			out, err := json.MarshalIndent(pipeline.SupportedFormats(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
