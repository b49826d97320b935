package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/floodline/gaugewatch/internal/domain"
	"github.com/floodline/gaugewatch/internal/ingest"
	"github.com/floodline/gaugewatch/internal/pipeline"
	"github.com/floodline/gaugewatch/internal/store"
)

// runFetch executes the pipeline once and prints the classification.
func runFetch(cmd *cobra.Command, args []string) error {
	_, snap, err := runOnce(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("Readings: %d (dropped %d, deduped %d)\n",
		len(snap.Series), snap.Dropped, snap.Deduped)
	if last, ok := snap.Latest(); ok {
		fmt.Printf("Latest:   %s  %g\n",
			last.Timestamp.Format(time.RFC3339), last.Value)
	}
	fmt.Printf("Trend:    %s (velocity %+.4f/s)\n", snap.Trend, snap.Velocity)

	for _, part := range snap.Partitions {
		fmt.Printf("  %-12s %s (velocity %+.4f/s)\n",
			part.SensorID, part.Trend, part.Velocity)
	}
	return nil
}

// runOnce is the shared one-shot plumbing for fetch and export: load
// config, overlay flags, and run the pipeline a single time.
func runOnce(cmd *cobra.Command) (domain.QueryKey, *domain.Snapshot, error) {
	cfg, err := loadConfig()
	if err != nil {
		return domain.QueryKey{}, nil, err
	}
	applyQueryFlags(cmd, cfg)

	key, err := cfg.QueryKey()
	if err != nil {
		return domain.QueryKey{}, nil, err
	}

	client := store.NewClient(store.Config{
		BaseURL:        cfg.Store.URL,
		APIKey:         cfg.Store.APIKey,
		Timeout:        cfg.Store.StoreTimeout(),
		RateLimitRPS:   float64(cfg.Store.RPS),
		RateLimitBurst: cfg.Store.Burst,
		MaxFailures:    uint32(cfg.Store.MaxFailures),
		OpenTimeout:    cfg.Store.OpenTimeout(),
	}, nil)

	pipe := pipeline.New(ingest.New(client, cfg.Store.Table), true, nil)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.StoreTimeout()+5*time.Second)
	defer cancel()

	snap, err := pipe.Run(ctx, key, time.Now().UTC())
	if err != nil {
		return key, nil, fmt.Errorf("fetch failed: %w", err)
	}
	return key, snap, nil
}
