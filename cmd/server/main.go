package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/avral/meetspace/internal/adapters"
	router "github.com/avral/meetspace/internal/adapters/http"
	"github.com/avral/meetspace/internal/app"
	"github.com/avral/meetspace/internal/config"
	"github.com/avral/meetspace/internal/metrics"
	"github.com/avral/meetspace/internal/stats"
)

// Set via -ldflags at build time.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "meetspace",
		Short: "Signaling and session coordination server for browser meetings",
	}
	root.AddCommand(newServeCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("meetspace " + version)
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the signaling server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if cfg.LogFile != "" {
		log.Logger = log.Output(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			Compress:   true,
		})
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func serve() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Console logging until the config says otherwise.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	setupLogging(cfg)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promReg)

	var rec stats.Recorder = stats.Nop{}
	if cfg.StatsURL != "" {
		rec = stats.NewHTTPRecorder(cfg.StatsURL)
	}

	reg := app.NewRegistry()
	hub := adapters.NewHub()
	retry := app.NewRetryScheduler(hub.Dispatch, app.RetryConfig{
		StateRetryMax:     cfg.StateRetryMax,
		StateRetryBackoff: cfg.StateRetryBackoff,
		FailRetryMax:      cfg.FailRetryMax,
		FailRetryBase:     cfg.FailRetryBase,
		FailRetryCap:      cfg.FailRetryCap,
	})
	relay := app.NewRelay(reg, retry, rec,
		app.WithMetrics(m),
		app.WithSpotlightThreshold(cfg.SpotlightThreshold),
	)

	health := app.NewHealthMonitor(reg, hub.Dispatch, cfg.HealthInterval, cfg.SilenceTimeout)
	go health.Run(ctx)

	sc := adapters.NewSignalController(hub, relay, cfg.ReadLimit)
	r := router.SetupRouter(cfg, reg, sc, promReg)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Str("version", version).Msg("meetspace server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
	return nil
}
