// Package redis implements model.SeriesCache on Redis so that cached series
// survive restarts and are shared between server and CLI processes.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"tradelab/internal/breaker"
	"tradelab/internal/model"
)

const (
	defaultPrefix = "series:"
	defaultTTL    = time.Hour
)

// Config configures the Redis connection and cache.
type Config struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration

	// Breaker settings. Zero values use 5 failures / 10s.
	MaxFailures  uint32
	ResetTimeout time.Duration
}

// NewClient creates a Redis client and pings the server.
func NewClient(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// SeriesCache stores bar series as JSON strings with a TTL.
type SeriesCache struct {
	client goredis.Cmdable
	prefix string
	ttl    time.Duration
	br     *breaker.Breaker
	log    zerolog.Logger
}

// NewSeriesCache wraps an existing client.
func NewSeriesCache(client goredis.Cmdable, cfg Config, log zerolog.Logger) *SeriesCache {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 10 * time.Second
	}
	log = log.With().Str("component", "redis-cache").Logger()
	return &SeriesCache{
		client: client,
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		br:     breaker.New("redis", cfg.MaxFailures, cfg.ResetTimeout, log),
		log:    log,
	}
}

// Get implements model.SeriesCache. A missing key is a miss, not an error.
func (c *SeriesCache) Get(ctx context.Context, key string) ([]model.Bar, bool, error) {
	var raw []byte
	err := c.br.Do(func() error {
		b, err := c.client.Get(ctx, c.prefix+key).Bytes()
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		raw = b
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if raw == nil {
		return nil, false, nil
	}

	var bars []model.Bar
	if err := json.Unmarshal(raw, &bars); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("corrupt cache entry, treating as miss")
		return nil, false, nil
	}
	return bars, true, nil
}

// Set implements model.SeriesCache.
func (c *SeriesCache) Set(ctx context.Context, key string, bars []model.Bar, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	payload, err := json.Marshal(bars)
	if err != nil {
		return fmt.Errorf("encode series %s: %w", key, err)
	}
	err = c.br.Do(func() error {
		return c.client.Set(ctx, c.prefix+key, payload, ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// BreakerState reports the circuit breaker state for health checks.
func (c *SeriesCache) BreakerState() string { return c.br.State() }

// OnBreakerChange installs a breaker transition hook. Call before use.
func (c *SeriesCache) OnBreakerChange(fn func(name, from, to string)) { c.br.OnStateChange = fn }
