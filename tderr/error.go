// Package tderr provides structured error types for Thing Description processing.
//
// Every failure raised by the parser, the composition engine and the directory
// is an *Error carrying the operation that failed, a standard error code and a
// human readable message. Errors match with errors.Is by code, so callers can
// test against the exported sentinels:
//
//	if errors.Is(err, tderr.ErrCircularDependency) {
//	    // the Thing Model graph loops back on itself
//	}
package tderr

import (
	"fmt"
	"strings"
)

// Standard error codes.
const (
	// CodeParse indicates a malformed or incomplete Thing Description.
	CodeParse = "PARSE_ERROR"

	// CodeValidation indicates a Thing Model failed JSON Schema validation.
	CodeValidation = "VALIDATION_ERROR"

	// CodeCircularDependency indicates a Thing Model references itself,
	// directly or transitively.
	CodeCircularDependency = "CIRCULAR_DEPENDENCY"

	// CodeMissingPlaceholder indicates a {{placeholder}} has no value.
	CodeMissingPlaceholder = "MISSING_PLACEHOLDER"

	// CodeSelfComposition indicates a submodel link without instanceName
	// was used with self composition.
	CodeSelfComposition = "SELF_COMPOSITION"

	// CodeNotThingModel indicates the input is not recognizably a Thing Model.
	CodeNotThingModel = "NOT_THING_MODEL"

	// CodeInvalidReference indicates a malformed tm:ref value.
	CodeInvalidReference = "INVALID_REFERENCE"

	// CodeUnsupportedScheme indicates a URI scheme no resolver can fetch.
	CodeUnsupportedScheme = "UNSUPPORTED_SCHEME"

	// CodeNotFound indicates a requested resource does not exist.
	CodeNotFound = "NOT_FOUND"

	// CodeForbidden indicates a URI the resolver is not allowed to fetch.
	CodeForbidden = "FORBIDDEN"

	// CodeSerialize indicates a Thing could not be encoded as a TD document.
	CodeSerialize = "SERIALIZE_ERROR"
)

// Error is a structured error for Thing Description operations.
type Error struct {
	// Op is the operation that failed (e.g. "td.Parse", "thingmodel.PartialTDs").
	Op string

	// Code is one of the Code* constants.
	Code string

	// Message is the human readable description surfaced to callers verbatim.
	Message string

	// Details carries additional context such as affordance names or URIs.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a structured error.
//
// Example:
//
//	err := tderr.New("td.Parse", tderr.CodeParse, "Property 'status' has no forms field")
func New(op, code, message string) *Error {
	return &Error{
		Op:      op,
		Code:    code,
		Message: message,
	}
}

// Newf is New with a formatted message.
func Newf(op, code, format string, args ...any) *Error {
	return New(op, code, fmt.Sprintf(format, args...))
}

// WithCause sets the underlying error and returns the same instance.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// WithDetails merges additional context into the error and returns the same
// instance.
func (e *Error) WithDetails(details map[string]any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// Error formats the error as "op [code]: message: cause".
//
// Examples:
//   - "td.Parse [PARSE_ERROR]: Property 'status' has no forms field"
//   - "thingmodel.PartialTDs [CIRCULAR_DEPENDENCY]: Circular dependency found for file://a.tm.json"
func (e *Error) Error() string {
	var parts []string

	head := e.Code
	if e.Op != "" {
		head = fmt.Sprintf("%s [%s]", e.Op, e.Code)
	}
	parts = append(parts, head)

	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code. When the target
// also names an operation, the operation must match too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Code == "" {
		return false
	}
	if e.Code != t.Code {
		return false
	}
	return t.Op == "" || t.Op == e.Op
}

// Sentinel errors for use with errors.Is.
var (
	ErrParse              = &Error{Code: CodeParse, Message: "invalid thing description"}
	ErrValidation         = &Error{Code: CodeValidation, Message: "thing model validation failed"}
	ErrCircularDependency = &Error{Code: CodeCircularDependency, Message: "circular dependency"}
	ErrMissingPlaceholder = &Error{Code: CodeMissingPlaceholder, Message: "missing placeholder"}
	ErrSelfComposition    = &Error{Code: CodeSelfComposition, Message: "self composition not possible"}
	ErrNotThingModel      = &Error{Code: CodeNotThingModel, Message: "not a thing model"}
	ErrInvalidReference   = &Error{Code: CodeInvalidReference, Message: "invalid tm:ref"}
	ErrUnsupportedScheme  = &Error{Code: CodeUnsupportedScheme, Message: "unsupported scheme"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrForbidden          = &Error{Code: CodeForbidden, Message: "fetch not allowed"}
	ErrSerialize          = &Error{Code: CodeSerialize, Message: "serialization failed"}
)

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) string {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
