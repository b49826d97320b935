// Package publish pushes fresh snapshots into Redis so dashboards and
// other processes can read the latest state without touching the
// pipeline. The latest snapshot lives under a fixed key and every
// update is also announced on a pub/sub channel.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/floodline/gaugewatch/internal/domain"
)

// Config holds the Redis publisher settings.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	Channel   string
	// TTL bounds how long a stale latest-snapshot key survives a dead
	// publisher. Zero keeps the key forever.
	TTL time.Duration
}

// Publisher implements the snapshot sink over a Redis client.
type Publisher struct {
	client *redis.Client
	cfg    Config
}

// New connects a publisher. The connection is verified with a ping so
// misconfiguration surfaces at startup rather than on the first tick.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "gaugewatch:"
	}
	if cfg.Channel == "" {
		cfg.Channel = cfg.KeyPrefix + "snapshots"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info().Str("addr", cfg.Addr).Str("channel", cfg.Channel).Msg("Redis publisher connected")
	return &Publisher{client: client, cfg: cfg}, nil
}

// Name identifies the sink in logs.
func (p *Publisher) Name() string { return "redis" }

// Store writes the snapshot under the latest key and announces it on
// the channel. Subscribers get the full snapshot payload; pollers read
// the key.
func (p *Publisher) Store(ctx context.Context, snap *domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	key := p.cfg.KeyPrefix + "snapshot:latest"
	if err := p.client.Set(ctx, key, payload, p.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}

	if err := p.client.Publish(ctx, p.cfg.Channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.cfg.Channel, err)
	}

	log.Debug().
		Str("key", key).
		Int("bytes", len(payload)).
		Msg("Snapshot published")
	return nil
}

// Latest reads back the most recently stored snapshot, if present.
func (p *Publisher) Latest(ctx context.Context) (*domain.Snapshot, error) {
	key := p.cfg.KeyPrefix + "snapshot:latest"
	payload, err := p.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Ping checks connectivity for health endpoints.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
