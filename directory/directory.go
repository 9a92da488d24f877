// Package directory is a Thing Description Directory: a registry of TDs with
// optional lifetimes, lookup by id or canonical equality, free-text search and
// CEL queries.
//
// Documents are stored in canonical form under
// "/<namespace>/things/<id>" in a Store, either in memory or in etcd.
//
// Example:
//
//	dir := directory.New(directory.NewMemoryStore())
//	id, err := dir.Add(ctx, data, time.Hour)
//	matches, err := dir.Query(ctx, `td.title.startsWith("Lamp")`)
package directory

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wotkit/tdkit/canonical"
	"github.com/wotkit/tdkit/td"
	"github.com/wotkit/tdkit/tderr"
	"github.com/wotkit/tdkit/telemetry"
)

const (
	// DefaultNamespace prefixes every key written by a Directory.
	DefaultNamespace = "tdkit"

	// IDPrefix is used for ids assigned to TDs that have none.
	IDPrefix = "urn:uuid:"
)

// Option configures a Directory.
type Option func(*Directory)

// WithNamespace sets the key namespace.
func WithNamespace(ns string) Option {
	return func(d *Directory) {
		if ns != "" {
			d.namespace = ns
		}
	}
}

// WithDefaultLifetime sets the lifetime used when Add is called with zero.
func WithDefaultLifetime(lifetime time.Duration) Option {
	return func(d *Directory) {
		d.defaultLifetime = lifetime
	}
}

// WithLogger sets the directory logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		d.logger = logger
	}
}

// WithTracerProvider sets the provider for directory spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(d *Directory) {
		d.tracer = telemetry.Tracer(tp)
	}
}

// Directory stores Thing Descriptions in a Store.
//
// Thread-safety: A Directory is safe for concurrent use when its Store is.
type Directory struct {
	store           Store
	namespace       string
	defaultLifetime time.Duration
	logger          *slog.Logger
	tracer          trace.Tracer
	celEnv          *cel.Env
}

// New creates a Directory over store.
func New(store Store, opts ...Option) *Directory {
	d := &Directory{
		store:     store,
		namespace: DefaultNamespace,
		logger:    slog.Default(),
		tracer:    telemetry.Tracer(nil),
	}
	for _, opt := range opts {
		opt(d)
	}

	env, err := cel.NewEnv(cel.Variable("td", cel.MapType(cel.StringType, cel.DynType)))
	if err != nil {
		// The environment is static; failing here is a programming error.
		panic(err)
	}
	d.celEnv = env
	return d
}

func (d *Directory) prefix() string {
	return "/" + d.namespace + "/things/"
}

func (d *Directory) key(id string) string {
	return d.prefix() + id
}

// Add validates a TD and stores it. A TD without an id gets a urn:uuid id.
// A positive lifetime makes the entry expire; zero uses the default lifetime.
// Adding a TD with an existing id replaces it.
func (d *Directory) Add(ctx context.Context, data []byte, lifetime time.Duration) (id string, err error) {
	ctx, span := d.tracer.Start(ctx, "directory.Add")
	defer func() { telemetry.EndSpan(span, err) }()

	if _, err := td.Parse(data, td.WithLogger(d.logger)); err != nil {
		return "", err
	}

	doc, err := decodeObject("directory.Add", data)
	if err != nil {
		return "", err
	}
	id, _ = doc["id"].(string)
	if id == "" {
		id = IDPrefix + uuid.NewString()
		doc["id"] = id
	}

	canon, _, err := canonical.CanonicalizeValue(doc)
	if err != nil {
		return "", err
	}

	if lifetime <= 0 {
		lifetime = d.defaultLifetime
	}
	if err := d.store.Put(ctx, d.key(id), []byte(canon), lifetime); err != nil {
		return "", err
	}

	span.SetAttributes(attribute.String("id", id), attribute.String("title", stringField(doc, "title")))
	d.logger.DebugContext(ctx, "thing description added", "id", id, "lifetime", lifetime)
	return id, nil
}

// Delete removes the TD with id and reports whether it was present.
func (d *Directory) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := d.store.Delete(ctx, d.key(id))
	if err != nil {
		return false, err
	}
	if deleted {
		d.logger.DebugContext(ctx, "thing description deleted", "id", id)
	}
	return deleted, nil
}

// Get returns the parsed TD stored under id.
func (d *Directory) Get(ctx context.Context, id string) (*td.Thing, error) {
	data, err := d.Document(ctx, id)
	if err != nil {
		return nil, err
	}
	return td.Parse(data, td.WithLogger(d.logger))
}

// Document returns the stored canonical form of the TD with id.
func (d *Directory) Document(ctx context.Context, id string) ([]byte, error) {
	data, err := d.store.Get(ctx, d.key(id))
	if err != nil {
		if tderr.CodeOf(err) == tderr.CodeNotFound {
			return nil, tderr.Newf("directory.Get", tderr.CodeNotFound, "Thing Description %s not found", id)
		}
		return nil, err
	}
	return data, nil
}

// Contains reports whether a TD with the same canonical form is stored and
// returns its id. When data carries no id, stored ids are ignored in the
// comparison.
func (d *Directory) Contains(ctx context.Context, data []byte) (string, bool, error) {
	doc, err := decodeObject("directory.Contains", data)
	if err != nil {
		return "", false, err
	}
	_, hasID := doc["id"]
	want, _, err := canonical.CanonicalizeValue(doc)
	if err != nil {
		return "", false, err
	}

	docs, err := d.documents(ctx)
	if err != nil {
		return "", false, err
	}
	for _, stored := range docs {
		if !hasID {
			delete(stored.doc, "id")
		}
		got, _, err := canonical.CanonicalizeValue(stored.doc)
		if err != nil {
			return "", false, err
		}
		if got == want {
			return stored.id, true, nil
		}
	}
	return "", false, nil
}

// Search returns the ids of TDs whose title, description or affordance names
// and titles contain text, ignoring case. Empty text matches every TD.
func (d *Directory) Search(ctx context.Context, text string) ([]string, error) {
	docs, err := d.documents(ctx)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(text)
	var ids []string
	for _, stored := range docs {
		if matchesText(stored.doc, needle) {
			ids = append(ids, stored.id)
		}
	}
	return ids, nil
}

// Query returns the ids of TDs for which the CEL expression is true. The TD
// is bound to the variable td as a JSON object, for example
// `"Lamp" in td["@type"]` or `has(td.properties.status)`.
// TDs for which evaluation fails do not match.
func (d *Directory) Query(ctx context.Context, expr string) (ids []string, err error) {
	ctx, span := d.tracer.Start(ctx, "directory.Query", trace.WithAttributes(attribute.String("expr", expr)))
	defer func() { telemetry.EndSpan(span, err) }()

	prg, err := d.compile(expr)
	if err != nil {
		return nil, err
	}

	docs, err := d.documents(ctx)
	if err != nil {
		return nil, err
	}
	for _, stored := range docs {
		out, _, evalErr := prg.ContextEval(ctx, map[string]any{"td": stored.doc})
		if evalErr != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d.logger.DebugContext(ctx, "query evaluation failed", "id", stored.id, "error", evalErr)
			continue
		}
		if match, ok := out.Value().(bool); ok && match {
			ids = append(ids, stored.id)
		}
	}
	span.SetAttributes(attribute.Int("count", len(ids)))
	return ids, nil
}

func (d *Directory) compile(expr string) (cel.Program, error) {
	ast, iss := d.celEnv.Compile(expr)
	if iss.Err() != nil {
		return nil, tderr.New("directory.Query", tderr.CodeValidation, "invalid query").
			WithCause(iss.Err()).
			WithDetails(map[string]any{"expr": expr})
	}
	if t := ast.OutputType(); !t.IsExactType(cel.BoolType) && !t.IsExactType(cel.DynType) {
		return nil, tderr.Newf("directory.Query", tderr.CodeValidation, "query must evaluate to bool, got %s", t).
			WithDetails(map[string]any{"expr": expr})
	}
	prg, err := d.celEnv.Program(ast, cel.InterruptCheckFrequency(100))
	if err != nil {
		return nil, tderr.New("directory.Query", tderr.CodeValidation, "invalid query").WithCause(err)
	}
	return prg, nil
}

// List returns the ids of all stored TDs in key order.
func (d *Directory) List(ctx context.Context) ([]string, error) {
	entries, err := d.store.List(ctx, d.prefix())
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		ids = append(ids, strings.TrimPrefix(entry.Key, d.prefix()))
	}
	return ids, nil
}

// Watch sends the current ids, then the ids again after every change. The
// channel is closed when ctx is done or the store closes.
func (d *Directory) Watch(ctx context.Context) (<-chan []string, error) {
	changes, err := d.store.Watch(ctx, d.prefix())
	if err != nil {
		return nil, err
	}

	out := make(chan []string)
	go func() {
		defer close(out)

		send := func() bool {
			ids, err := d.List(ctx)
			if err != nil {
				d.logger.WarnContext(ctx, "directory watch failed to list", "error", err)
				return ctx.Err() == nil
			}
			select {
			case out <- ids:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-changes:
				if !ok || !send() {
					return
				}
			}
		}
	}()
	return out, nil
}

// Close closes the underlying store.
func (d *Directory) Close() error {
	return d.store.Close()
}

type storedDoc struct {
	id  string
	doc map[string]any
}

// documents decodes every stored TD. Undecodable entries are skipped.
func (d *Directory) documents(ctx context.Context) ([]storedDoc, error) {
	entries, err := d.store.List(ctx, d.prefix())
	if err != nil {
		return nil, err
	}
	docs := make([]storedDoc, 0, len(entries))
	for _, entry := range entries {
		id := strings.TrimPrefix(entry.Key, d.prefix())
		var doc map[string]any
		if err := json.Unmarshal(entry.Value, &doc); err != nil || doc == nil {
			d.logger.WarnContext(ctx, "skipping corrupt directory entry", "id", id, "error", err)
			continue
		}
		docs = append(docs, storedDoc{id: id, doc: doc})
	}
	return docs, nil
}

func decodeObject(op string, data []byte) (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, tderr.New(op, tderr.CodeParse, "invalid JSON").WithCause(err)
	}
	if doc == nil {
		return nil, tderr.New(op, tderr.CodeParse, "Thing Description must be a JSON object")
	}
	return doc, nil
}

func matchesText(doc map[string]any, needle string) bool {
	contains := func(s string) bool {
		return strings.Contains(strings.ToLower(s), needle)
	}

	if contains(stringField(doc, "title")) || contains(stringField(doc, "description")) {
		return true
	}
	for _, kind := range td.AffordanceKinds {
		affordances, _ := doc[kind].(map[string]any)
		for name, v := range affordances {
			if contains(name) {
				return true
			}
			if aff, ok := v.(map[string]any); ok {
				if contains(stringField(aff, "title")) || contains(stringField(aff, "description")) {
					return true
				}
			}
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
