package resolver

import (
	"context"
	"path/filepath"
	"slices"
	"strings"

	"github.com/wotkit/tdkit/tderr"
)

const opPolicy = "resolver.Policy"

// Policy limits the URIs a resolver may fetch. The zero Policy allows
// nothing.
type Policy struct {
	// Schemes lists the allowed URI schemes, lower case.
	Schemes []string

	// Root confines file URIs to a directory tree. When empty, file URIs
	// are allowed anywhere if "file" is in Schemes.
	Root string
}

// Unrestricted allows every scheme Local understands, anywhere.
var Unrestricted = Policy{Schemes: []string{"file", "http", "https"}}

// Check returns ErrForbidden unless uri is allowed. It looks only at the
// URI, never at the filesystem or the network.
func (p Policy) Check(uri string) error {
	scheme := Scheme(uri)
	if !slices.Contains(p.Schemes, scheme) {
		return tderr.Newf(opPolicy, tderr.CodeForbidden, "cannot fetch %s: scheme %q is not allowed", uri, scheme)
	}
	if scheme != "file" || p.Root == "" {
		return nil
	}
	if _, err := p.relative(uri); err != nil {
		return err
	}
	return nil
}

// relative returns the path of a file URI relative to Root.
func (p Policy) relative(uri string) (string, error) {
	_, path, _ := strings.Cut(uri, "://")

	root, err := filepath.Abs(p.Root)
	if err != nil {
		return "", tderr.Newf(opPolicy, tderr.CodeForbidden, "cannot fetch %s: invalid model root", uri).WithCause(err)
	}
	abs, err := filepath.Abs(filepath.FromSlash(path))
	if err != nil {
		return "", tderr.Newf(opPolicy, tderr.CodeForbidden, "cannot fetch %s: invalid path", uri).WithCause(err)
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", tderr.Newf(opPolicy, tderr.CodeForbidden, "cannot fetch %s: outside the model root", uri)
	}
	return rel, nil
}

// Restrict wraps inner so that only URIs allowed by policy reach it.
func Restrict(inner Resolver, policy Policy) Resolver {
	return Func(func(ctx context.Context, uri string) (any, error) {
		if err := policy.Check(uri); err != nil {
			return nil, err
		}
		return inner.Fetch(ctx, uri)
	})
}
