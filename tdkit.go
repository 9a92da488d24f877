package tdkit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/wotkit/tdkit/canonical"
	"github.com/wotkit/tdkit/config"
	"github.com/wotkit/tdkit/directory"
	"github.com/wotkit/tdkit/resolver"
	"github.com/wotkit/tdkit/td"
	"github.com/wotkit/tdkit/tdservice"
	"github.com/wotkit/tdkit/telemetry"
	"github.com/wotkit/tdkit/thingmodel"
)

// Toolkit bundles the parser, the composer with its resolver chain and an
// optional TD directory.
//
// Thread-safety: All methods are safe for concurrent use.
type Toolkit struct {
	logger    *slog.Logger
	tp        trace.TracerProvider
	resolver  resolver.Resolver
	composer  *thingmodel.Composer
	directory *directory.Directory
	defaults  *thingmodel.CompositionOptions

	// serviceComposer fetches only what the service policy allows.
	serviceComposer *thingmodel.Composer

	closeOnce sync.Once
	closeErr  error
	closers   []namedCloser
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// New creates a Toolkit.
func New(opts ...Option) (*Toolkit, error) {
	cfg := &toolkitConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return newToolkit(cfg, nil)
}

// NewFromConfig creates a Toolkit from file configuration. opts are applied
// after the configuration and take precedence.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Toolkit, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	tc := &toolkitConfig{
		logger:      cfg.Log.NewLogger(os.Stderr),
		httpTimeout: cfg.Resolver.GetHTTPTimeout(),
		cacheTTL:    cfg.Resolver.GetCacheTTL(),
		keyPrefix:   cfg.Resolver.GetKeyPrefix(),
		namespace:   cfg.Directory.GetNamespace(),

		defaultLifetime: cfg.Directory.GetDefaultLifetime(),
	}
	if cfg.Resolver != nil && cfg.Resolver.RedisURL != "" {
		tc.redis = &resolver.RedisOptions{URL: cfg.Resolver.RedisURL}
	}
	tc.servicePolicy = servicePolicy(cfg.Server)
	if cfg.Composition != nil {
		tc.composition = &thingmodel.CompositionOptions{
			BaseURL:         cfg.Composition.BaseURL,
			SelfComposition: cfg.Composition.SelfComposition,
			Map:             cfg.Composition.Map,
		}
	}
	for _, opt := range opts {
		opt(tc)
	}

	var extra []namedCloser
	if cfg.Telemetry != nil && cfg.Telemetry.Enabled && tc.tp == nil {
		name := cfg.Telemetry.ServiceName
		if name == "" {
			name = telemetry.DefaultServiceName
		}
		tp := telemetry.NewTracerProvider(name, nil, tc.logger)
		tc.tp = tp
		extra = append(extra, namedCloser{"tracer provider", shutdownCloser(tp)})
	}

	if tc.store == nil {
		store, err := newStore(cfg.Directory)
		if err != nil {
			closeAll(extra, tc.logger)
			return nil, err
		}
		tc.store = store
	}

	return newToolkit(tc, extra)
}

// servicePolicy derives the service fetch policy: the configured remote
// schemes, plus file URIs below the model root when one is set.
func servicePolicy(cfg *config.ServerConfig) resolver.Policy {
	var policy resolver.Policy
	if cfg == nil {
		return policy
	}
	for _, scheme := range cfg.FetchSchemes {
		policy.Schemes = append(policy.Schemes, strings.ToLower(scheme))
	}
	if cfg.ModelRoot != "" {
		policy.Schemes = append(policy.Schemes, "file")
		policy.Root = cfg.ModelRoot
	}
	return policy
}

// newStore creates the directory store named by the configuration.
func newStore(cfg *config.DirectoryConfig) (directory.Store, error) {
	switch typ := cfg.GetType(); typ {
	case "memory":
		return directory.NewMemoryStore(), nil
	case "etcd":
		tlsConfig, err := cfg.TLS.ClientConfig()
		if err != nil {
			return nil, fmt.Errorf("invalid directory TLS configuration: %w", err)
		}
		return directory.NewEtcdStore(directory.EtcdConfig{
			Endpoints:   cfg.Endpoints,
			DialTimeout: cfg.GetDialTimeout(),
			TLS:         tlsConfig,
		})
	default:
		return nil, fmt.Errorf("unknown directory type %q", typ)
	}
}

func shutdownCloser(tp *sdktrace.TracerProvider) io.Closer {
	return closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	})
}

func newToolkit(cfg *toolkitConfig, closers []namedCloser) (*Toolkit, error) {
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	r := cfg.resolver
	var serviceResolver resolver.Resolver
	if r == nil {
		localOpts := []resolver.LocalOption{
			resolver.WithLogger(cfg.logger),
			resolver.WithTracerProvider(cfg.tp),
		}
		if cfg.httpTimeout > 0 {
			localOpts = append(localOpts, resolver.WithTimeout(cfg.httpTimeout))
		}
		r = resolver.NewLocal(localOpts...)
		serviceResolver = resolver.NewLocal(append(localOpts, resolver.WithPolicy(cfg.servicePolicy))...)
	}

	if cfg.redis != nil && cfg.redis.URL != "" {
		cacheOpts := []resolver.CacheOption{
			resolver.WithCacheLogger(cfg.logger),
			resolver.WithCacheTelemetry(cfg.tp, cfg.mp),
		}
		if cfg.cacheTTL > 0 {
			cacheOpts = append(cacheOpts, resolver.WithTTL(cfg.cacheTTL))
		}
		if cfg.keyPrefix != "" {
			cacheOpts = append(cacheOpts, resolver.WithKeyPrefix(cfg.keyPrefix))
		}
		cache, err := resolver.NewRedisCache(r, *cfg.redis, cacheOpts...)
		if err != nil {
			closeAll(closers, cfg.logger)
			if cfg.store != nil {
				CloseWithLog(cfg.store, cfg.logger, "directory store")
			}
			return nil, fmt.Errorf("failed to create model cache: %w", err)
		}
		r = cache
		closers = append(closers, namedCloser{"model cache", cache})
	}

	if serviceResolver == nil {
		serviceResolver = r
	}
	newComposer := func(r resolver.Resolver) *thingmodel.Composer {
		return thingmodel.NewComposer(
			thingmodel.WithResolver(r),
			thingmodel.WithLogger(cfg.logger),
			thingmodel.WithTracerProvider(cfg.tp),
			thingmodel.WithMeterProvider(cfg.mp),
		)
	}

	kit := &Toolkit{
		logger:          cfg.logger,
		tp:              cfg.tp,
		resolver:        r,
		composer:        newComposer(r),
		serviceComposer: newComposer(resolver.Restrict(serviceResolver, cfg.servicePolicy)),
		defaults:        cfg.composition,
	}

	if cfg.store != nil {
		kit.directory = directory.New(cfg.store,
			directory.WithNamespace(cfg.namespace),
			directory.WithDefaultLifetime(cfg.defaultLifetime),
			directory.WithLogger(cfg.logger),
			directory.WithTracerProvider(cfg.tp),
		)
		// The directory closes before the cache and the tracer provider.
		closers = append([]namedCloser{{"directory", kit.directory}}, closers...)
	}
	kit.closers = closers

	return kit, nil
}

// ParseTD parses a Thing Description.
func (k *Toolkit) ParseTD(data []byte) (*td.Thing, error) {
	return td.Parse(data, td.WithLogger(k.logger))
}

// Canonicalize returns the canonical form of a TD. A document that is valid
// JSON but not an object yields "".
func (k *Toolkit) Canonicalize(data []byte) (string, error) {
	canon, _, err := canonical.Canonicalize(data)
	return canon, err
}

// ValidateModel validates a Thing Model against the Thing Model schema.
func (k *Toolkit) ValidateModel(model any) error {
	return thingmodel.Validate(model)
}

// PartialTDs composes a Thing Model. Nil opts use the composition defaults.
func (k *Toolkit) PartialTDs(ctx context.Context, model any, opts *thingmodel.CompositionOptions) ([]thingmodel.Model, error) {
	return k.composer.PartialTDs(ctx, model, k.options(opts))
}

// PartialTDsFromURI fetches and composes the Thing Model at uri.
func (k *Toolkit) PartialTDsFromURI(ctx context.Context, uri string, opts *thingmodel.CompositionOptions) ([]thingmodel.Model, error) {
	return k.composer.PartialTDsFromURI(ctx, uri, k.options(opts))
}

func (k *Toolkit) options(opts *thingmodel.CompositionOptions) *thingmodel.CompositionOptions {
	if opts == nil {
		return k.defaults
	}
	return opts
}

// Composer returns the Thing Model composer.
func (k *Toolkit) Composer() *thingmodel.Composer {
	return k.composer
}

// Resolver returns the resolver chain used for model fetches.
func (k *Toolkit) Resolver() resolver.Resolver {
	return k.resolver
}

// Directory returns the TD directory, or ErrNoDirectory.
func (k *Toolkit) Directory() (*directory.Directory, error) {
	if k.directory == nil {
		return nil, ErrNoDirectory
	}
	return k.directory, nil
}

// Logger returns the Toolkit logger.
func (k *Toolkit) Logger() *slog.Logger {
	return k.logger
}

// TracerProvider returns the configured tracer provider, or nil when the
// global provider is in use.
func (k *Toolkit) TracerProvider() trace.TracerProvider {
	return k.tp
}

// Service returns a gRPC service for remote callers. Its composer fetches
// only URIs the service policy allows, for requested URIs and for references
// inside submitted models alike.
func (k *Toolkit) Service() *tdservice.Service {
	return tdservice.NewService(k.serviceComposer, k.logger)
}

// Close releases the directory store, the model cache and the tracer
// provider. Errors are joined.
func (k *Toolkit) Close() error {
	k.closeOnce.Do(func() {
		var errs []error
		for _, c := range k.closers {
			if err := c.closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close %s: %w", c.name, err))
			}
		}
		k.closeErr = errors.Join(errs...)
	})
	return k.closeErr
}

func closeAll(closers []namedCloser, logger *slog.Logger) {
	for _, c := range closers {
		CloseWithLog(c.closer, logger, c.name)
	}
}
