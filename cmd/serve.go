package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/docmill/docmill/internal/api"
	"github.com/docmill/docmill/internal/config"
	"github.com/docmill/docmill/internal/core/fetch"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the conversion job service (HTTP API + worker pool)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Require this X-API-Key header on API calls",
				Sources: cli.EnvVars("DM_API_KEY"),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			applyLogLevel(cmd.String("log-level"), cfg.Logging.Level)
			if v := cmd.String("api-key"); v != "" {
				cfg.API.Key = v
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := buildStack(ctx, cfg)
			if err != nil {
				return err
			}
			subscribeEventLogging(st.bus)

			st.scheduler.Start(ctx)
			go st.procMgr.Watch(ctx)

			janitor := fetch.NewJanitor(cfg.Storage.TempDir,
				cfg.Storage.CleanupMaxAgeDur, cfg.Storage.CleanupIntervalDur)
			go janitor.Run(ctx)

			e := echo.New()
			e.HideBanner = true
			e.HidePort = true
			api.SetupRouter(e, api.RouterConfig{Svc: st.svc, APIKey: cfg.API.Key})

			addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", addr).Msg("http server listening")
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received")
			case err := <-errCh:
				stop()
				log.Error().Err(err).Msg("http server failed")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("http shutdown")
			}

			// Workers drain on context cancellation; wait before stopping
			// the engine daemons they may still be talking to.
			st.scheduler.Wait()
			st.procMgr.StopAll(shutdownCtx)
			log.Info().Msg("shutdown complete")
			return nil
		},
	}
}
