// Package resolver fetches Thing Models and Thing Descriptions by URI.
//
// A Resolver returns the decoded JSON document found at a URI. Local handles
// file, http and https URIs directly; RedisCache decorates any Resolver with
// a shared Redis cache.
package resolver

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/wotkit/tdkit/tderr"
)

// Resolver fetches the document at uri and returns it decoded from JSON.
// Implementations must be safe for concurrent use.
type Resolver interface {
	Fetch(ctx context.Context, uri string) (any, error)
}

// Func adapts an ordinary function to the Resolver interface.
type Func func(ctx context.Context, uri string) (any, error)

// Fetch calls f(ctx, uri).
func (f Func) Fetch(ctx context.Context, uri string) (any, error) {
	return f(ctx, uri)
}

// Static resolves URIs from a fixed set of documents. It is handy for tests
// and for embedding models in a binary.
type Static map[string]any

// Fetch returns a copy of the document registered for uri.
func (s Static) Fetch(ctx context.Context, uri string) (any, error) {
	doc, ok := s[uri]
	if !ok {
		return nil, tderr.Newf("resolver.Static", tderr.CodeNotFound, "no document for %s", uri)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return decode("resolver.Static", uri, data)
}

// Scheme returns the lower-cased scheme of uri, or "" when it has none.
func Scheme(uri string) string {
	scheme, _, found := strings.Cut(uri, "://")
	if !found {
		return ""
	}
	return strings.ToLower(scheme)
}

func decode(op, uri string, data []byte) (any, error) {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, tderr.Newf(op, tderr.CodeParse, "document at %s is not valid JSON", uri).WithCause(err)
	}
	return doc, nil
}
