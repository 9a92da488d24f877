package td

import (
	"regexp"
	"strings"
)

// absoluteURI matches a scheme prefix followed by at least one character.
var absoluteURI = regexp.MustCompile(`(?i)^([a-z0-9+\-.]+:).+`)

// uriParts is RFC 3986 Appendix B.
var uriParts = regexp.MustCompile(`^(([^:/?#]+):)?(//([^/?#]*))?([^?#]*)(\?([^#]*))?(#(.*))?`)

// IsAbsoluteURI reports whether ref carries a scheme.
func IsAbsoluteURI(ref string) bool {
	return absoluteURI.MatchString(ref)
}

type reference struct {
	scheme, authority, path, query, fragment string

	hasScheme, hasAuthority, hasQuery, hasFragment bool
}

func splitReference(s string) reference {
	m := uriParts.FindStringSubmatch(s)
	return reference{
		scheme:       m[2],
		hasScheme:    m[1] != "",
		authority:    m[4],
		hasAuthority: m[3] != "",
		path:         m[5],
		query:        m[7],
		hasQuery:     m[6] != "",
		fragment:     m[9],
		hasFragment:  m[8] != "",
	}
}

func (r reference) String() string {
	var b strings.Builder
	if r.hasScheme {
		b.WriteString(r.scheme)
		b.WriteByte(':')
	}
	if r.hasAuthority {
		b.WriteString("//")
		b.WriteString(r.authority)
	}
	b.WriteString(r.path)
	if r.hasQuery {
		b.WriteByte('?')
		b.WriteString(r.query)
	}
	if r.hasFragment {
		b.WriteByte('#')
		b.WriteString(r.fragment)
	}
	return b.String()
}

// ResolveReference resolves ref against base following RFC 3986 section 5.2.
// It works on the raw strings and escapes nothing, so URI Template
// expressions such as "{?step}" pass through unchanged.
func ResolveReference(base, ref string) string {
	r := splitReference(ref)
	if r.hasScheme {
		r.path = removeDotSegments(r.path)
		return r.String()
	}

	b := splitReference(base)
	t := reference{scheme: b.scheme, hasScheme: b.hasScheme}

	switch {
	case r.hasAuthority:
		t.authority, t.hasAuthority = r.authority, true
		t.path = removeDotSegments(r.path)
		t.query, t.hasQuery = r.query, r.hasQuery
	case r.path == "":
		t.authority, t.hasAuthority = b.authority, b.hasAuthority
		t.path = b.path
		if r.hasQuery {
			t.query, t.hasQuery = r.query, true
		} else {
			t.query, t.hasQuery = b.query, b.hasQuery
		}
	default:
		t.authority, t.hasAuthority = b.authority, b.hasAuthority
		if strings.HasPrefix(r.path, "/") {
			t.path = removeDotSegments(r.path)
		} else {
			t.path = removeDotSegments(mergePaths(b, r.path))
		}
		t.query, t.hasQuery = r.query, r.hasQuery
	}
	t.fragment, t.hasFragment = r.fragment, r.hasFragment

	return t.String()
}

// mergePaths is RFC 3986 section 5.2.3.
func mergePaths(base reference, ref string) string {
	if base.hasAuthority && base.path == "" {
		return "/" + ref
	}
	i := strings.LastIndex(base.path, "/")
	if i < 0 {
		return ref
	}
	return base.path[:i+1] + ref
}

// removeDotSegments is RFC 3986 section 5.2.4.
func removeDotSegments(path string) string {
	if path == "" {
		return ""
	}

	var out []string
	in := path
	for in != "" {
		switch {
		case strings.HasPrefix(in, "../"):
			in = in[3:]
		case strings.HasPrefix(in, "./"):
			in = in[2:]
		case strings.HasPrefix(in, "/./"):
			in = in[2:]
		case in == "/.":
			in = "/"
		case strings.HasPrefix(in, "/../"):
			in = in[3:]
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		case in == "/..":
			in = "/"
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		case in == "." || in == "..":
			in = ""
		default:
			start := 0
			if in[0] == '/' {
				start = 1
			}
			end := strings.IndexByte(in[start:], '/')
			if end < 0 {
				end = len(in)
			} else {
				end += start
			}
			out = append(out, in[:end])
			in = in[end:]
		}
	}
	return strings.Join(out, "")
}
