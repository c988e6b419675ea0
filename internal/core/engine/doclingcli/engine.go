package doclingcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/docmill/docmill/internal/core/engine"
	"github.com/docmill/docmill/internal/core/job"
	"github.com/docmill/docmill/internal/core/pipeline"
)

// Engine converts documents by invoking the docling CLI as a subprocess.
// One invocation per attempt; cancellation kills the process.
type Engine struct {
	binary   string
	defaults Defaults
}

// Defaults are applied where job options leave a field unset.
type Defaults struct {
	OCREnabled        bool
	OCRLanguage       string
	TableAccuracyMode string
	PDFBackend        string
	ASRModel          string
}

func New(binary string, defaults Defaults) (*Engine, error) {
	if binary == "" {
		binary = "docling"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return nil, fmt.Errorf("docling binary not found: %w", err)
	}
	return &Engine{binary: binary, defaults: defaults}, nil
}

func (e *Engine) Name() string { return "docling-cli" }

func (e *Engine) Convert(ctx context.Context, localPath string, kind pipeline.Kind, opts job.Options) (string, error) {
	args := e.buildArgs(localPath, kind, opts)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("binary", e.binary).Strs("args", args).Msg("invoking docling")

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	// Context expiry wins over whatever the killed process reported.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", engine.Classify(ctxErr, "docling invocation interrupted")
	}
	return "", classifyExit(err, stderr.String())
}

func (e *Engine) buildArgs(localPath string, kind pipeline.Kind, opts job.Options) []string {
	args := []string{"--to", "md", "--output", "-", "--pipeline", string(kind)}

	ocr := e.defaults.OCREnabled
	if opts.OCREnabled != nil {
		ocr = *opts.OCREnabled
	}
	if ocr {
		args = append(args, "--ocr")
		lang := opts.OCRLanguage
		if lang == "" {
			lang = e.defaults.OCRLanguage
		}
		if lang != "" {
			args = append(args, "--ocr-lang", lang)
		}
	} else {
		args = append(args, "--no-ocr")
	}

	tableMode := opts.TableAccuracyMode
	if tableMode == "" {
		tableMode = e.defaults.TableAccuracyMode
	}
	if tableMode != "" {
		args = append(args, "--table-mode", tableMode)
	}

	backend := opts.PDFBackend
	if backend == "" {
		backend = e.defaults.PDFBackend
	}
	if backend != "" {
		args = append(args, "--pdf-backend", backend)
	}

	if opts.EnableEnrichments {
		args = append(args, "--enrich-code", "--enrich-formula")
	}

	if kind == pipeline.ASR {
		model := opts.ASRModel
		if model == "" {
			model = e.defaults.ASRModel
		}
		if model != "" {
			args = append(args, "--asr-model", model)
		}
	}

	return append(args, localPath)
}

// classifyExit maps a docling process failure into the error taxonomy using
// the exit state and stderr content.
func classifyExit(err error, stderr string) *engine.ConvertError {
	msg := strings.TrimSpace(stderr)
	if msg == "" {
		msg = err.Error()
	}
	msg = lastLines(msg, 3)

	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unsupported format"),
		strings.Contains(lower, "unknown format"),
		strings.Contains(lower, "cannot parse"):
		return engine.NewError(engine.KindUnsupportedFormat, msg, err)
	case strings.Contains(lower, "out of memory"),
		strings.Contains(lower, "memoryerror"),
		killedBySignal(err):
		return engine.NewError(engine.KindResourceExhausted, msg, err)
	default:
		return engine.NewError(engine.KindBackend, msg, err)
	}
}

// killedBySignal reports whether the process died from a signal rather than
// exiting, which on a converter workload usually means the OOM killer.
func killedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	return exitErr.ExitCode() == -1
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
