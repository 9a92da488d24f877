package resolver

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wotkit/tdkit/telemetry"
)

// Redis cache defaults.
const (
	DefaultKeyPrefix = "tdkit:model"
	DefaultCacheTTL  = time.Hour
)

// RedisOptions configures the Redis connection of a RedisCache.
type RedisOptions struct {
	// URL is the Redis connection string (e.g., "redis://localhost:6379")
	URL string

	// TLS configuration for secure connections
	TLS *tls.Config

	// ConnectTimeout is the maximum time to wait for connection establishment
	ConnectTimeout time.Duration

	// ReadTimeout is the maximum time to wait for read operations
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time to wait for write operations
	WriteTimeout time.Duration
}

// NewRedisClient connects to Redis and verifies the connection with a PING.
func NewRedisClient(opts RedisOptions) (*redis.Client, error) {
	if opts.URL == "" {
		opts.URL = "redis://localhost:6379"
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = 3 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 3 * time.Second
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if opts.TLS != nil {
		redisOpts.TLSConfig = opts.TLS
	}
	redisOpts.DialTimeout = opts.ConnectTimeout
	redisOpts.ReadTimeout = opts.ReadTimeout
	redisOpts.WriteTimeout = opts.WriteTimeout

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisCache caches the documents of an inner Resolver in Redis under
// "<prefix>:<uri>". Redis failures never fail a fetch: they are logged and
// the inner resolver is used instead.
type RedisCache struct {
	client *redis.Client
	inner  Resolver
	prefix string
	ttl    time.Duration
	owned  bool

	logger *slog.Logger
	tracer trace.Tracer
	hits   metric.Int64Counter
	misses metric.Int64Counter
}

// CacheOption configures a RedisCache.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	prefix string
	ttl    time.Duration
	logger *slog.Logger
	tp     trace.TracerProvider
	mp     metric.MeterProvider
}

// WithKeyPrefix sets the key prefix. The default is DefaultKeyPrefix.
func WithKeyPrefix(prefix string) CacheOption {
	return func(c *cacheConfig) {
		c.prefix = prefix
	}
}

// WithTTL sets how long cached documents live. Zero keeps them forever.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *cacheConfig) {
		c.ttl = ttl
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *cacheConfig) {
		c.logger = logger
	}
}

// WithCacheTelemetry sets the tracer and meter providers.
func WithCacheTelemetry(tp trace.TracerProvider, mp metric.MeterProvider) CacheOption {
	return func(c *cacheConfig) {
		c.tp = tp
		c.mp = mp
	}
}

// NewRedisCache connects to Redis and wraps inner. Close releases the
// connection.
func NewRedisCache(inner Resolver, redisOpts RedisOptions, opts ...CacheOption) (*RedisCache, error) {
	client, err := NewRedisClient(redisOpts)
	if err != nil {
		return nil, err
	}
	c := NewRedisCacheFromClient(client, inner, opts...)
	c.owned = true
	return c, nil
}

// NewRedisCacheFromClient wraps inner with a cache on an existing client.
// The client is not closed by Close.
func NewRedisCacheFromClient(client *redis.Client, inner Resolver, opts ...CacheOption) *RedisCache {
	cfg := cacheConfig{prefix: DefaultKeyPrefix, ttl: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return &RedisCache{
		client: client,
		inner:  inner,
		prefix: cfg.prefix,
		ttl:    cfg.ttl,
		logger: cfg.logger,
		tracer: telemetry.Tracer(cfg.tp),
		hits:   telemetry.Counter(cfg.mp, telemetry.MetricCacheHits, "model cache hits"),
		misses: telemetry.Counter(cfg.mp, telemetry.MetricCacheMisses, "model cache misses"),
	}
}

// Key returns the Redis key of uri.
func (c *RedisCache) Key(uri string) string {
	return c.prefix + ":" + uri
}

// Fetch implements Resolver.
func (c *RedisCache) Fetch(ctx context.Context, uri string) (doc any, err error) {
	ctx, span := c.tracer.Start(ctx, "resolver.RedisCache.Fetch", trace.WithAttributes(attribute.String("uri", uri)))
	defer func() { telemetry.EndSpan(span, err) }()

	key := c.Key(uri)
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if doc, err := decode("resolver.RedisCache", uri, data); err == nil {
			c.hits.Add(ctx, 1)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return doc, nil
		}
		c.logger.Warn("discarding corrupt cache entry", "key", key)
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("model cache unavailable", "key", key, "error", err)
	}

	c.misses.Add(ctx, 1)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	doc, err = c.inner.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}

	if encoded, encErr := json.Marshal(doc); encErr == nil {
		if setErr := c.client.Set(ctx, key, encoded, c.ttl).Err(); setErr != nil {
			c.logger.Warn("failed to cache model", "key", key, "error", setErr)
		}
	}
	return doc, nil
}

// Invalidate removes uri from the cache.
func (c *RedisCache) Invalidate(ctx context.Context, uri string) error {
	if err := c.client.Del(ctx, c.Key(uri)).Err(); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", uri, err)
	}
	return nil
}

// Close closes the Redis connection if the cache opened it.
func (c *RedisCache) Close() error {
	if !c.owned {
		return nil
	}
	return c.client.Close()
}
