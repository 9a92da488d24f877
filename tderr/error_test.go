package tderr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "op and message",
			err:  New("td.Parse", CodeParse, "Property 'status' has no forms field"),
			want: "td.Parse [PARSE_ERROR]: Property 'status' has no forms field",
		},
		{
			name: "no op",
			err:  New("", CodeValidation, "bad model"),
			want: "VALIDATION_ERROR: bad model",
		},
		{
			name: "with cause",
			err:  New("resolver.Fetch", CodeNotFound, "model missing").WithCause(errors.New("404")),
			want: "resolver.Fetch [NOT_FOUND]: model missing: 404",
		},
		{
			name: "formatted",
			err:  Newf("thingmodel.PartialTDs", CodeCircularDependency, "Circular dependency found for %s", "file://a"),
			want: "thingmodel.PartialTDs [CIRCULAR_DEPENDENCY]: Circular dependency found for file://a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestError_Is(t *testing.T) {
	err := New("td.Parse", CodeParse, "Form of Action 'toggle' has no href field")

	if !errors.Is(err, ErrParse) {
		t.Error("expected errors.Is(err, ErrParse)")
	}
	if errors.Is(err, ErrValidation) {
		t.Error("parse error must not match ErrValidation")
	}
	if !errors.Is(err, &Error{Op: "td.Parse", Code: CodeParse}) {
		t.Error("expected match on op and code")
	}
	if errors.Is(err, &Error{Op: "canonical.Canonicalize", Code: CodeParse}) {
		t.Error("op mismatch must not match")
	}

	wrapped := fmt.Errorf("loading fixture: %w", err)
	if !errors.Is(wrapped, ErrParse) {
		t.Error("expected match through fmt.Errorf wrapping")
	}
}

func TestError_Unwrap(t *testing.T) {
	err := New("resolver.Fetch", CodeNotFound, "timed out").WithCause(context.DeadlineExceeded)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cause to be reachable through errors.Is")
	}

	var target *Error
	if !errors.As(fmt.Errorf("outer: %w", err), &target) {
		t.Fatal("expected errors.As to extract *Error")
	}
	if target.Code != CodeNotFound {
		t.Errorf("Code = %q, want %q", target.Code, CodeNotFound)
	}
}

func TestError_WithDetails(t *testing.T) {
	err := New("thingmodel.PartialTDs", CodeMissingPlaceholder, "missing").
		WithDetails(map[string]any{"title": "Lamp"}).
		WithDetails(map[string]any{"missing": []string{"A"}})

	if len(err.Details) != 2 {
		t.Fatalf("Details = %v, want two entries", err.Details)
	}
	if err.Details["title"] != "Lamp" {
		t.Errorf("Details[title] = %v, want Lamp", err.Details["title"])
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain", err: errors.New("x"), want: ""},
		{name: "direct", err: New("op", CodeSelfComposition, "x"), want: CodeSelfComposition},
		{name: "wrapped", err: fmt.Errorf("ctx: %w", New("op", CodeValidation, "x")), want: CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %q, want %q", got, tt.want)
			}
		})
	}
}
