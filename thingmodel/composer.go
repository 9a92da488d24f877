package thingmodel

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wotkit/tdkit/resolver"
	"github.com/wotkit/tdkit/td"
	"github.com/wotkit/tdkit/tderr"
	"github.com/wotkit/tdkit/telemetry"
)

const opCompose = "thingmodel.Composer"

// CompositionOptions control how a Thing Model is turned into partial TDs.
type CompositionOptions struct {
	// BaseURL prefixes the hrefs generated for composed models. Defaults to ".".
	BaseURL string

	// SelfComposition flattens submodels into the root model, prefixing
	// their affordance names with the submodel's instanceName.
	SelfComposition bool

	// Map supplies the values of {{KEY}} placeholders.
	Map map[string]any
}

func (o *CompositionOptions) baseURL() string {
	if o == nil || o.BaseURL == "" {
		return "."
	}
	return o.BaseURL
}

func (o *CompositionOptions) placeholders() map[string]any {
	if o == nil {
		return nil
	}
	return o.Map
}

// inherited returns the options passed to models reached through tm:extends
// or tm:ref: only the placeholder map carries over.
func (o *CompositionOptions) inherited() *CompositionOptions {
	return &CompositionOptions{Map: o.placeholders()}
}

// Composer composes Thing Models into partial Thing Descriptions. A Composer
// holds no per-call state and is safe for concurrent use.
type Composer struct {
	resolver resolver.Resolver
	logger   *slog.Logger
	tracer   trace.Tracer

	compositions metric.Int64Counter
	fetches      metric.Int64Counter
}

// Option configures a Composer.
type Option func(*composerConfig)

type composerConfig struct {
	resolver resolver.Resolver
	logger   *slog.Logger
	tp       trace.TracerProvider
	mp       metric.MeterProvider
}

// WithResolver sets the resolver used to fetch referenced models. The
// default is a resolver.Local.
func WithResolver(r resolver.Resolver) Option {
	return func(c *composerConfig) {
		c.resolver = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *composerConfig) {
		c.logger = logger
	}
}

// WithTracerProvider sets the provider of the composer's tracer.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *composerConfig) {
		c.tp = tp
	}
}

// WithMeterProvider sets the provider of the composer's counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *composerConfig) {
		c.mp = mp
	}
}

// NewComposer creates a Composer.
func NewComposer(opts ...Option) *Composer {
	var cfg composerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.resolver == nil {
		cfg.resolver = resolver.NewLocal(resolver.WithLogger(cfg.logger), resolver.WithTracerProvider(cfg.tp))
	}

	return &Composer{
		resolver:     cfg.resolver,
		logger:       cfg.logger,
		tracer:       telemetry.Tracer(cfg.tp),
		compositions: telemetry.Counter(cfg.mp, telemetry.MetricCompositions, "thing models composed"),
		fetches:      telemetry.Counter(cfg.mp, telemetry.MetricFetches, "thing models fetched"),
	}
}

// depPath is the chain of model URIs being composed by one call, outermost
// first. It is never modified in place.
type depPath []string

func (p depPath) with(uri string) depPath {
	next := make(depPath, len(p), len(p)+1)
	copy(next, p)
	return append(next, uri)
}

// PartialTDs composes model and returns the partial TDs it yields: the model
// itself first, followed by its submodels unless opts.SelfComposition is set.
// model may be a Model, a decoded JSON object or raw JSON.
func (c *Composer) PartialTDs(ctx context.Context, model any, opts *CompositionOptions) ([]Model, error) {
	m, err := AsModel(model)
	if err != nil {
		return nil, err
	}
	return c.compose(ctx, nil, "", m, opts)
}

// PartialTDsFromURI fetches the model at uri and composes it. The URI is part
// of the dependency chain, so models referring back to it are rejected.
func (c *Composer) PartialTDsFromURI(ctx context.Context, uri string, opts *CompositionOptions) ([]Model, error) {
	m, path, err := c.fetch(ctx, nil, uri)
	if err != nil {
		return nil, err
	}
	return c.compose(ctx, path, uri, m, opts)
}

// FetchModel fetches the Thing Model at uri.
func (c *Composer) FetchModel(ctx context.Context, uri string) (Model, error) {
	m, _, err := c.fetch(ctx, nil, uri)
	return m, err
}

func (c *Composer) compose(ctx context.Context, path depPath, uri string, m Model, opts *CompositionOptions) (tds []Model, err error) {
	ctx, span := c.tracer.Start(ctx, "thingmodel.PartialTDs", trace.WithAttributes(
		attribute.String("title", m.Title()),
		attribute.String("uri", uri),
	))
	defer func() { telemetry.EndSpan(span, err) }()

	tds, err = c.partialTDs(ctx, path, uri, m, opts)
	if err != nil {
		return nil, err
	}
	for _, partial := range tds {
		partial["@type"] = thingType(partial["@type"])
	}

	c.compositions.Add(ctx, 1)
	span.SetAttributes(attribute.Int("count", len(tds)))
	return tds, nil
}

// thingType rewrites a Thing Model @type for a Thing Description.
func thingType(t any) any {
	list, ok := t.([]any)
	if !ok {
		return td.DefaultThingType
	}
	out := make([]any, len(list))
	for i, e := range list {
		if e == TypeThingModel {
			e = td.DefaultThingType
		}
		out[i] = e
	}
	return out
}

// fetch fetches uri as the next step of path and returns the model together
// with the extended path.
func (c *Composer) fetch(ctx context.Context, path depPath, uri string) (m Model, next depPath, err error) {
	if slices.Contains(path, uri) {
		return nil, nil, tderr.Newf(opCompose, tderr.CodeCircularDependency, "Circular dependency found for %s", uri).
			WithDetails(map[string]any{"path": append(slices.Clone([]string(path)), uri)})
	}

	ctx, span := c.tracer.Start(ctx, "thingmodel.fetch", trace.WithAttributes(attribute.String("uri", uri)))
	defer func() { telemetry.EndSpan(span, err) }()

	c.logger.Debug("fetching thing model", "uri", uri, "depth", len(path))
	c.fetches.Add(ctx, 1)

	doc, err := c.resolver.Fetch(ctx, uri)
	if err != nil {
		return nil, nil, err
	}
	if !IsThingModel(doc) {
		return nil, nil, tderr.Newf(opCompose, tderr.CodeNotThingModel, "Data at %s is not a Thing Model", uri)
	}
	m, err = AsModel(doc)
	if err != nil {
		return nil, nil, err
	}
	return m, path.with(uri), nil
}

// resolve makes a reference found in the model at base absolute.
func resolve(base, ref string) string {
	if base == "" || td.IsAbsoluteURI(ref) {
		return ref
	}
	return td.ResolveReference(base, ref)
}

type affordanceImport struct {
	kind       string
	name       string
	affordance map[string]any
}

type submodel struct {
	href  string
	uri   string
	path  depPath
	model Model
}

type composeInput struct {
	extends   []Model
	imports   []affordanceImport
	submodels []submodel
}

func (c *Composer) partialTDs(ctx context.Context, path depPath, uri string, m Model, opts *CompositionOptions) ([]Model, error) {
	if !IsThingModel(m) {
		return nil, tderr.Newf(opCompose, tderr.CodeNotThingModel, "%s is not a Thing Model", m.Title())
	}
	if err := Validate(m); err != nil {
		return nil, err
	}
	if err := CheckPlaceholders(m, opts.placeholders()); err != nil {
		return nil, err
	}

	input, err := c.fetchAffordances(ctx, path, uri, m, opts)
	if err != nil {
		return nil, err
	}
	return c.composeModel(ctx, m, input, opts)
}

// fetchAffordances gathers everything m refers to: the models it extends,
// the affordances it imports and its submodels. tm:ref members are removed
// from m as their affordances are collected.
func (c *Composer) fetchAffordances(ctx context.Context, path depPath, uri string, m Model, opts *CompositionOptions) (composeInput, error) {
	var input composeInput

	for _, link := range m.Links(RelExtends) {
		href, _ := link["href"].(string)
		source, next, err := c.fetch(ctx, path, resolve(uri, href))
		if err != nil {
			return input, err
		}
		composed, err := c.partialTDs(ctx, next, next[len(next)-1], source, opts.inherited())
		if err != nil {
			return input, err
		}
		input.extends = append(input.extends, composed[0])
	}

	for _, kind := range td.AffordanceKinds {
		affordances, _ := m[kind].(map[string]any)
		for _, name := range sortedNames(affordances) {
			aff, ok := affordances[name].(map[string]any)
			if !ok {
				continue
			}
			raw, ok := aff[KeyRef].(string)
			if !ok {
				continue
			}
			ref, err := ParseRef(raw)
			if err != nil {
				return input, err
			}
			source, next, err := c.fetch(ctx, path, resolve(uri, ref.URI))
			if err != nil {
				return input, err
			}
			composed, err := c.partialTDs(ctx, next, next[len(next)-1], source, opts.inherited())
			if err != nil {
				return input, err
			}
			delete(aff, KeyRef)

			imported, _ := composed[0][ref.Kind].(map[string]any)
			srcAff, _ := imported[ref.Name].(map[string]any)
			input.imports = append(input.imports, affordanceImport{kind: kind, name: name, affordance: srcAff})
		}
	}

	for _, link := range m.Links(RelSubmodel) {
		href, _ := link["href"].(string)
		subURI := resolve(uri, href)
		sub, next, err := c.fetch(ctx, path, subURI)
		if err != nil {
			return input, err
		}
		input.submodels = append(input.submodels, submodel{href: href, uri: subURI, path: next, model: sub})
	}
	return input, nil
}

func (c *Composer) composeModel(ctx context.Context, m Model, input composeInput, opts *CompositionOptions) ([]Model, error) {
	baseURL := opts.baseURL()
	title := compactTitle(m.Title())
	tmHref := baseURL + "/" + title + ".tm.jsonld"
	tdHref := baseURL + "/" + title + ".td.jsonld"
	selfComposition := opts != nil && opts.SelfComposition

	data := m
	var subTDs []Model

	if len(input.extends) > 0 {
		for _, source := range input.extends {
			data = Extend(source, data)
		}
		data["links"] = filterLinks(data["links"], func(link map[string]any) bool {
			return link["rel"] != RelExtends
		})
	}

	for _, imp := range input.imports {
		affordances, _ := data[imp.kind].(map[string]any)
		dest, _ := affordances[imp.name].(map[string]any)
		affordances[imp.name] = ImportAffordance(imp.affordance, dest)
	}

	for _, sub := range input.submodels {
		link := findLink(data, sub.href)
		if selfComposition {
			instanceName, _ := link["instanceName"].(string)
			if instanceName == "" {
				return nil, tderr.New(opCompose, tderr.CodeSelfComposition, "Self composition is not possible without instance names").
					WithDetails(map[string]any{"href": sub.href})
			}
			composed, err := c.partialTDs(ctx, sub.path, sub.uri, sub.model, opts)
			if err != nil {
				return nil, err
			}
			for _, kind := range td.AffordanceKinds {
				subAffs, _ := composed[0][kind].(map[string]any)
				if len(subAffs) == 0 {
					continue
				}
				affordances, ok := data[kind].(map[string]any)
				if !ok {
					affordances = make(map[string]any, len(subAffs))
					data[kind] = affordances
				}
				for name, aff := range subAffs {
					affordances[instanceName+"_"+name] = aff
				}
			}
			continue
		}

		subTitle := compactTitle(sub.model.Title())
		sub.model["links"] = append(linkList(sub.model["links"]), map[string]any{
			"rel":  RelCollection,
			"href": tdHref,
			"type": td.MediaTypeTD,
		})
		composed, err := c.partialTDs(ctx, sub.path, sub.uri, sub.model, opts)
		if err != nil {
			return nil, err
		}
		subTDs = append(subTDs, composed...)

		if link != nil {
			delete(link, "instanceName")
			link["href"] = baseURL + "/" + subTitle + ".td.jsonld"
			link["type"] = td.MediaTypeTD
			link["rel"] = RelItem
		}
	}

	links := linkList(data["links"])
	if _, ok := data["links"]; !ok || selfComposition {
		links = []any{}
	}
	data["links"] = append(links, map[string]any{
		"rel":  RelType,
		"href": tmHref,
		"type": td.MediaTypeTM,
	})
	delete(data, "version")

	FillPlaceholders(data, opts.placeholders())
	c.logger.Debug("composed thing model", "title", data.Title(), "submodels", len(subTDs))

	return append([]Model{data}, subTDs...), nil
}

func compactTitle(title string) string {
	return strings.ReplaceAll(title, " ", "")
}

func linkList(v any) []any {
	list, _ := v.([]any)
	return list
}

func filterLinks(v any, keep func(map[string]any) bool) []any {
	out := []any{}
	for _, l := range linkList(v) {
		if link, ok := l.(map[string]any); ok && !keep(link) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func findLink(m Model, href string) map[string]any {
	for _, l := range linkList(m["links"]) {
		if link, ok := l.(map[string]any); ok && link["href"] == href {
			return link
		}
	}
	return nil
}

func sortedNames(m map[string]any) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
