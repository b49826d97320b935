package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/floodline/gaugewatch/internal/api"
	"github.com/floodline/gaugewatch/internal/archive"
	"github.com/floodline/gaugewatch/internal/cache"
	"github.com/floodline/gaugewatch/internal/ingest"
	"github.com/floodline/gaugewatch/internal/metrics"
	"github.com/floodline/gaugewatch/internal/pipeline"
	"github.com/floodline/gaugewatch/internal/publish"
	"github.com/floodline/gaugewatch/internal/scheduler"
	"github.com/floodline/gaugewatch/internal/secrets"
	"github.com/floodline/gaugewatch/internal/store"
)

// runServe wires the full pipeline and runs it until a signal arrives.
func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	key, err := cfg.QueryKey()
	if err != nil {
		return err
	}

	log.Info().
		Str("version", version).
		Str("key", key.String()).
		Dur("interval", cfg.Refresh.Interval()).
		Str("listen", cfg.Server.Listen).
		Msg("Starting gaugewatch")
	log.Debug().
		Str("store_url", cfg.Store.URL).
		Str("api_key", secrets.RedactKey(cfg.Store.APIKey)).
		Msg("Store credentials loaded")

	reg := metrics.NewRegistry()

	client := store.NewClient(store.Config{
		BaseURL:        cfg.Store.URL,
		APIKey:         cfg.Store.APIKey,
		Timeout:        cfg.Store.StoreTimeout(),
		RateLimitRPS:   float64(cfg.Store.RPS),
		RateLimitBurst: cfg.Store.Burst,
		MaxFailures:    uint32(cfg.Store.MaxFailures),
		OpenTimeout:    cfg.Store.OpenTimeout(),
	}, reg)

	pipe := pipeline.New(ingest.New(client, cfg.Store.Table), true, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var sinks []scheduler.SnapshotSink

	if cfg.Publish.Enabled {
		pub, err := publish.New(ctx, publish.Config{
			Addr:      cfg.Publish.Addr,
			Password:  cfg.Publish.Password,
			DB:        cfg.Publish.DB,
			KeyPrefix: cfg.Publish.KeyPrefix,
			TTL:       cfg.Publish.TTL(),
		})
		if err != nil {
			return fmt.Errorf("redis publisher: %w", err)
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	if cfg.Archive.Enabled {
		arch, err := archive.Open(cfg.Archive.DSN, cfg.Archive.Table, cfg.Archive.Timeout())
		if err != nil {
			return fmt.Errorf("postgres archive: %w", err)
		}
		defer arch.Close()
		sinks = append(sinks, arch)
		log.Info().
			Str("dsn", secrets.RedactURL(cfg.Archive.DSN)).
			Str("table", cfg.Archive.Table).
			Msg("Postgres archive connected")
	}

	sched := scheduler.New(scheduler.Config{
		Key:      key,
		Interval: cfg.Refresh.Interval(),
	}, pipe, cache.New(), scheduler.NewRealClock(), reg, sinks...)

	srv := api.NewServer(api.Config{
		Listen:       cfg.Server.Listen,
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  cfg.Server.IdleTimeout(),
	}, sched, client, reg)
	sched.AddSink(srv.Hub())

	schedErr := make(chan error, 1)
	go func() {
		schedErr <- sched.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
		runErr = err
	case err := <-schedErr:
		schedErr = nil
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Refresh loop failed")
			runErr = err
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	if schedErr != nil {
		<-schedErr
	}

	log.Info().Msg("Shutdown complete")
	return runErr
}
