package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humaecho"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/docmill/docmill/internal/service"
)

type RouterConfig struct {
	Svc    *service.ConvertService
	APIKey string
}

func SetupRouter(e *echo.Echo, cfg RouterConfig) {
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE"},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	v1 := e.Group("/api/v1")
	config := huma.DefaultConfig("docmill API", "1.0.0")
	config.Servers = []*huma.Server{{URL: "/api/v1"}}
	config.Info.Description = "Document-to-markdown conversion job service"

	api := humaecho.NewWithGroup(e, v1, config)

	var mws huma.Middlewares
	if cfg.APIKey != "" {
		mws = huma.Middlewares{apiKeyMiddleware(api, cfg.APIKey)}
	}

	h := NewJobsHandler(cfg.Svc)

	huma.Register(api, huma.Operation{
		OperationID:   "submit-job",
		Method:        http.MethodPost,
		Path:          "/jobs",
		Summary:       "Submit a document conversion job",
		Tags:          []string{"Jobs"},
		Middlewares:   mws,
		DefaultStatus: http.StatusCreated,
	}, h.Submit)

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List recent jobs",
		Tags:        []string{"Jobs"},
		Middlewares: mws,
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}",
		Summary:     "Get job status",
		Tags:        []string{"Jobs"},
		Middlewares: mws,
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "get-job-result",
		Method:      http.MethodGet,
		Path:        "/jobs/{id}/result",
		Summary:     "Get the markdown produced by a completed job",
		Tags:        []string{"Jobs"},
		Middlewares: mws,
	}, h.Result)

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodDelete,
		Path:        "/jobs/{id}",
		Summary:     "Cancel a job",
		Tags:        []string{"Jobs"},
		Middlewares: mws,
	}, h.Cancel)

	huma.Register(api, huma.Operation{
		OperationID: "get-statistics",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Queue and processing statistics",
		Tags:        []string{"Stats"},
		Middlewares: mws,
	}, h.Stats)

	huma.Register(api, huma.Operation{
		OperationID: "list-formats",
		Method:      http.MethodGet,
		Path:        "/formats",
		Summary:     "Supported input formats and pipelines",
		Tags:        []string{"Stats"},
	}, h.Formats)
}

// apiKeyMiddleware enforces the optional static X-API-Key header.
func apiKeyMiddleware(api huma.API, key string) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		if ctx.Header("X-API-Key") != key {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next(ctx)
	}
}
