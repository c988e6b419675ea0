package doclingserve

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/docmill/docmill/internal/core/engine"
	"github.com/docmill/docmill/internal/core/job"
	"github.com/docmill/docmill/internal/core/pipeline"
	"github.com/docmill/docmill/internal/core/process"
)

// Engine converts documents through a docling-serve HTTP daemon. When
// ManageDaemon is set it also exposes the daemon for process supervision.
type Engine struct {
	client   *Client
	defaults Defaults
	daemon   *daemon
}

type Defaults struct {
	OCREnabled        bool
	OCRLanguage       string
	TableAccuracyMode string
	PDFBackend        string
	ASRModel          string
}

type Config struct {
	BaseURL      string
	Defaults     Defaults
	ManageDaemon bool
	Binary       string // docling-serve binary, used only with ManageDaemon
	Host         string
	Port         int
}

func New(cfg Config) *Engine {
	e := &Engine{
		client:   NewClient(cfg.BaseURL),
		defaults: cfg.Defaults,
	}
	if cfg.ManageDaemon {
		e.daemon = &daemon{
			binary: cfg.Binary,
			host:   cfg.Host,
			port:   cfg.Port,
			client: e.client,
		}
	}
	return e
}

func (e *Engine) Name() string { return "docling-serve" }

// Daemon returns the supervised child process, or nil when the endpoint is
// externally managed.
func (e *Engine) Daemon() process.Daemon {
	if e.daemon == nil {
		return nil
	}
	return e.daemon
}

func (e *Engine) Convert(ctx context.Context, localPath string, kind pipeline.Kind, opts job.Options) (string, error) {
	params := convertParams{
		Pipeline:          string(kind),
		OCREnabled:        e.defaults.OCREnabled,
		OCRLanguage:       firstNonEmpty(opts.OCRLanguage, e.defaults.OCRLanguage),
		TableMode:         firstNonEmpty(opts.TableAccuracyMode, e.defaults.TableAccuracyMode),
		PDFBackend:        firstNonEmpty(opts.PDFBackend, e.defaults.PDFBackend),
		EnableEnrichments: opts.EnableEnrichments,
	}
	if opts.OCREnabled != nil {
		params.OCREnabled = *opts.OCREnabled
	}
	if kind == pipeline.ASR {
		params.ASRModel = firstNonEmpty(opts.ASRModel, e.defaults.ASRModel)
	}

	md, err := e.client.ConvertFile(ctx, localPath, params)
	if err != nil {
		return "", classify(err)
	}
	return md, nil
}

// classify maps client failures into the error taxonomy.
func classify(err error) *engine.ConvertError {
	var he *httpError
	if errors.As(err, &he) {
		switch he.status {
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return engine.NewError(engine.KindTimeout, he.Error(), err)
		case http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
			return engine.NewError(engine.KindUnsupportedFormat, he.Error(), err)
		case http.StatusTooManyRequests, http.StatusInsufficientStorage:
			return engine.NewError(engine.KindResourceExhausted, he.Error(), err)
		default:
			if he.appFailure && strings.Contains(strings.ToLower(he.body), "unsupported") {
				return engine.NewError(engine.KindUnsupportedFormat, he.Error(), err)
			}
			return engine.NewError(engine.KindBackend, he.Error(), err)
		}
	}
	return engine.Classify(err, "docling-serve call failed")
}

// daemon adapts docling-serve to the process supervisor.
type daemon struct {
	binary string
	host   string
	port   int
	client *Client
}

func (d *daemon) Name() string { return "docling-serve" }

func (d *daemon) Command() (string, []string) {
	bin := d.binary
	if bin == "" {
		bin = "docling-serve"
	}
	return bin, []string{"run", "--host", d.host, "--port", strconv.Itoa(d.port)}
}

func (d *daemon) ReadyCheck() process.ReadyProbe {
	return process.ReadyProbe{
		Check:    d.Healthy,
		Interval: 500 * time.Millisecond,
		Timeout:  60 * time.Second,
	}
}

func (d *daemon) Healthy(ctx context.Context) bool {
	return d.client.Health(ctx)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
