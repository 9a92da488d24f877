package tdkit

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wotkit/tdkit/directory"
	"github.com/wotkit/tdkit/resolver"
	"github.com/wotkit/tdkit/thingmodel"
)

// Option configures a Toolkit.
type Option func(*toolkitConfig)

// toolkitConfig holds configuration for a Toolkit.
type toolkitConfig struct {
	logger *slog.Logger
	tp     trace.TracerProvider
	mp     metric.MeterProvider

	resolver    resolver.Resolver
	httpTimeout time.Duration
	redis       *resolver.RedisOptions
	cacheTTL    time.Duration
	keyPrefix   string

	store           directory.Store
	namespace       string
	defaultLifetime time.Duration

	composition   *thingmodel.CompositionOptions
	servicePolicy resolver.Policy
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(c *toolkitConfig) {
		c.logger = logger
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *toolkitConfig) {
		c.tp = tp
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for composition
// and cache counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *toolkitConfig) {
		c.mp = mp
	}
}

// WithResolver replaces the file and HTTP resolver. A Redis cache, if
// enabled, still wraps it.
func WithResolver(r resolver.Resolver) Option {
	return func(c *toolkitConfig) {
		c.resolver = r
	}
}

// WithServicePolicy sets the URIs the gRPC service may fetch on behalf of
// remote callers. Default: none
func WithServicePolicy(policy resolver.Policy) Option {
	return func(c *toolkitConfig) {
		c.servicePolicy = policy
	}
}

// WithHTTPTimeout bounds HTTP model fetches.
// Default: 10 seconds
func WithHTTPTimeout(timeout time.Duration) Option {
	return func(c *toolkitConfig) {
		c.httpTimeout = timeout
	}
}

// WithRedisCache caches fetched models in the Redis server at url.
func WithRedisCache(url string) Option {
	return func(c *toolkitConfig) {
		if c.redis == nil {
			c.redis = &resolver.RedisOptions{}
		}
		c.redis.URL = url
	}
}

// WithRedisOptions caches fetched models using full Redis connection options.
func WithRedisOptions(opts resolver.RedisOptions) Option {
	return func(c *toolkitConfig) {
		c.redis = &opts
	}
}

// WithCacheTTL sets how long cached models live.
// Default: 1 hour
func WithCacheTTL(ttl time.Duration) Option {
	return func(c *toolkitConfig) {
		c.cacheTTL = ttl
	}
}

// WithCacheKeyPrefix sets the Redis key prefix.
func WithCacheKeyPrefix(prefix string) Option {
	return func(c *toolkitConfig) {
		c.keyPrefix = prefix
	}
}

// WithDirectoryStore enables the TD directory on store. The Toolkit closes
// the store.
func WithDirectoryStore(store directory.Store) Option {
	return func(c *toolkitConfig) {
		c.store = store
	}
}

// WithDirectoryNamespace sets the directory key namespace.
func WithDirectoryNamespace(ns string) Option {
	return func(c *toolkitConfig) {
		c.namespace = ns
	}
}

// WithDefaultLifetime sets the lifetime of TDs added without one.
func WithDefaultLifetime(lifetime time.Duration) Option {
	return func(c *toolkitConfig) {
		c.defaultLifetime = lifetime
	}
}

// WithCompositionDefaults sets the options used when PartialTDs is called
// with nil options.
func WithCompositionDefaults(opts *thingmodel.CompositionOptions) Option {
	return func(c *toolkitConfig) {
		c.composition = opts
	}
}
