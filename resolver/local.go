package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wotkit/tdkit/tderr"
	"github.com/wotkit/tdkit/telemetry"
)

const (
	opLocal = "resolver.Local"

	// DefaultHTTPTimeout bounds a single HTTP fetch.
	DefaultHTTPTimeout = 10 * time.Second

	// MaxDocumentSize caps the size of a fetched document.
	MaxDocumentSize = 8 << 20

	acceptHeader = "application/tm+json, application/td+json, application/ld+json;q=0.9, application/json;q=0.8"
)

// Local fetches file, http and https URIs. For file URIs the path is taken
// verbatim after "://", so relative paths are relative to the working
// directory. A Policy set with WithPolicy is checked before any access.
type Local struct {
	client *http.Client
	logger *slog.Logger
	tracer trace.Tracer
	policy Policy
}

// LocalOption configures a Local resolver.
type LocalOption func(*Local)

// WithHTTPClient sets the client used for http and https URIs.
func WithHTTPClient(client *http.Client) LocalOption {
	return func(l *Local) {
		l.client = client
	}
}

// WithTimeout sets the timeout of the default HTTP client.
func WithTimeout(timeout time.Duration) LocalOption {
	return func(l *Local) {
		l.client = &http.Client{Timeout: timeout}
	}
}

// WithPolicy restricts the URIs the resolver fetches. Files under a policy
// root are opened through os.Root, so symbolic links cannot leave it.
// Default: Unrestricted
func WithPolicy(policy Policy) LocalOption {
	return func(l *Local) {
		l.policy = policy
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) LocalOption {
	return func(l *Local) {
		l.logger = logger
	}
}

// WithTracerProvider sets the provider of the resolver's tracer.
func WithTracerProvider(tp trace.TracerProvider) LocalOption {
	return func(l *Local) {
		l.tracer = telemetry.Tracer(tp)
	}
}

// NewLocal creates a Local resolver.
func NewLocal(opts ...LocalOption) *Local {
	l := &Local{policy: Unrestricted}
	for _, opt := range opts {
		opt(l)
	}
	if l.client == nil {
		l.client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.tracer == nil {
		l.tracer = telemetry.Tracer(nil)
	}
	return l
}

// Fetch implements Resolver.
func (l *Local) Fetch(ctx context.Context, uri string) (doc any, err error) {
	scheme := Scheme(uri)
	ctx, span := l.tracer.Start(ctx, "resolver.Fetch", trace.WithAttributes(
		attribute.String("uri", uri),
		attribute.String("scheme", scheme),
	))
	defer func() { telemetry.EndSpan(span, err) }()

	if scheme == "file" || scheme == "http" || scheme == "https" {
		if err := l.policy.Check(uri); err != nil {
			l.logger.Warn("refused model fetch", "uri", uri, "error", err)
			return nil, err
		}
	}

	switch scheme {
	case "file":
		return l.fetchFile(uri)
	case "http", "https":
		return l.fetchHTTP(ctx, uri)
	default:
		return nil, tderr.Newf(opLocal, tderr.CodeUnsupportedScheme, "cannot fetch %s: unsupported scheme %q", uri, scheme)
	}
}

func (l *Local) fetchFile(uri string) (any, error) {
	_, path, _ := strings.Cut(uri, "://")
	l.logger.Debug("reading model file", "uri", uri, "path", path)

	data, err := l.readFile(uri, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, tderr.Newf(opLocal, tderr.CodeNotFound, "file %s does not exist", path).WithCause(err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return decode(opLocal, uri, data)
}

func (l *Local) fetchHTTP(ctx context.Context, uri string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", uri, err)
	}
	req.Header.Set("Accept", acceptHeader)

	l.logger.Debug("fetching model", "uri", uri)
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", uri, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, tderr.Newf(opLocal, tderr.CodeNotFound, "%s not found", uri)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %s", uri, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", uri, err)
	}
	return decode(opLocal, uri, data)
}

func (l *Local) readFile(uri, path string) ([]byte, error) {
	if l.policy.Root == "" {
		return os.ReadFile(path)
	}

	rel, err := l.policy.relative(uri)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(l.policy.Root)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	f, err := root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, MaxDocumentSize))
}
