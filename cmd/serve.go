package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"speech-coach-service/internal/app"
	"speech-coach-service/internal/config"
	apihttp "speech-coach-service/internal/http"
	"speech-coach-service/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis gateway, browser session bridge and metrics server",
		Long: `Run the HTTP gateway.

Routes:
  GET  /health              liveness
  POST /api/analyze         forward a transcript to the analysis service
  POST /api/reset-session   forget analysis state for a session
  GET  /api/filler-words    filler word catalogue
  GET  /ws                  browser session bridge (Web Speech API relay)

Prometheus metrics, /healthz and /readyz are served on METRICS_PORT.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	application := app.New(cfg)
	if err := application.Start(); err != nil {
		return err
	}
	defer application.Shutdown()

	gateway := &http.Server{
		Addr:              ":" + cfg.Service.HTTPPort,
		Handler:           apihttp.NewRouter(application),
		ReadHeaderTimeout: 10 * time.Second,
	}
	obs := observability.NewServer(":" + cfg.Service.MetricsPort)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		application.Logger.Info().Str("addr", gateway.Addr).Msg("Speech coach gateway started")
		obs.SetReady(true)
		if err := gateway.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(obs.ListenAndServe)

	g.Go(func() error {
		<-gctx.Done()
		application.Logger.Info().Msg("Shutting down HTTP servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		obs.SetReady(false)
		gwErr := gateway.Shutdown(shutdownCtx)
		obsErr := obs.Shutdown(shutdownCtx)
		return errors.Join(gwErr, obsErr)
	})

	return g.Wait()
}
