package templating

import (
	"fmt"
	"strings"
)

// LexError indicates malformed delimiter structure in the template source,
// such as a `{{` with no matching `}}` before end of input. It is detected
// during compilation and carries the byte offset of the offending tag.
type LexError struct {
	Offset int
	Msg    string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lex error at offset %d: %s", e.Offset, e.Msg)
}

// ParseError indicates malformed expression syntax or unbalanced block
// structure (mismatched if/for/with, stray else, bad path or pipe syntax).
// It is detected during compilation and carries the byte offset of the
// originating tag.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d: %s", e.Offset, e.Msg)
}

// RenderErrorKind classifies the failure modes of a render call.
type RenderErrorKind int

const (
	// MissingField means a path referenced a field absent from every
	// reachable scope.
	MissingField RenderErrorKind = iota
	// NotIterable means a `for` loop's collection expression did not
	// resolve to a sequence.
	NotIterable
	// AmbiguousValue means a sequence or object reached output position
	// without an explicit formatter.
	AmbiguousValue
	// FormatterError means a formatter was not registered, or reported
	// a failure of its own.
	FormatterError
)

func (k RenderErrorKind) String() string {
	switch k {
	case MissingField:
		return "missing field"
	case NotIterable:
		return "not iterable"
	case AmbiguousValue:
		return "ambiguous value"
	case FormatterError:
		return "formatter error"
	default:
		return "unknown"
	}
}

// RenderError is the failure of a render call. Rendering aborts on the
// first error; no partial output is produced. Path and Depth identify the
// offending lookup for MissingField/NotIterable/AmbiguousValue, while Name
// identifies the formatter for FormatterError.
type RenderError struct {
	Kind  RenderErrorKind
	Path  []string
	Depth int
	Name  string
	Msg   string
}

func (e *RenderError) Error() string {
	switch e.Kind {
	case MissingField:
		return fmt.Sprintf("missing field %q (scope depth %d)", strings.Join(e.Path, "."), e.Depth)
	case NotIterable:
		return fmt.Sprintf("value at %q is not iterable: %s", strings.Join(e.Path, "."), e.Msg)
	case AmbiguousValue:
		return fmt.Sprintf("value at %q cannot be printed without a formatter: %s", strings.Join(e.Path, "."), e.Msg)
	case FormatterError:
		return fmt.Sprintf("formatter %q: %s", e.Name, e.Msg)
	default:
		return e.Msg
	}
}

func missingFieldError(path []string, depth int) *RenderError {
	return &RenderError{Kind: MissingField, Path: path, Depth: depth}
}

func notIterableError(path []string, got string) *RenderError {
	return &RenderError{Kind: NotIterable, Path: path, Msg: got}
}

func ambiguousValueError(path []string, got string) *RenderError {
	return &RenderError{Kind: AmbiguousValue, Path: path, Msg: got}
}

func formatterError(name string, err error) *RenderError {
	return &RenderError{Kind: FormatterError, Name: name, Msg: err.Error()}
}
