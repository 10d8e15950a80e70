package templating

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultFormatterName is the reserved name of the built-in stringifier.
// It is pre-registered in every registry and applies the same conversion
// a value tag uses when no pipe is present.
const DefaultFormatterName = "str"

// Formatter converts a Value (plus any call arguments from the template)
// into its string representation. A formatter that cannot handle its input
// returns an error, which aborts the render.
type Formatter func(v Value, args []Value) (string, error)

// FormatterRegistry maps formatter names to formatter functions. A registry
// is populated before rendering begins and treated as read-only for the
// duration of any render; callers that mutate a shared registry after first
// use must synchronize externally.
type FormatterRegistry struct {
	formatters map[string]Formatter
}

// NewFormatterRegistry returns a registry pre-populated with the built-in
// formatters.
func NewFormatterRegistry() *FormatterRegistry {
	r := &FormatterRegistry{formatters: make(map[string]Formatter, 16)}
	r.Register(DefaultFormatterName, formatDefault)
	r.Register("upper", formatUpper)
	r.Register("lower", formatLower)
	r.Register("trim", formatTrim)
	r.Register("json", formatJSON)
	r.Register("len", formatLen)
	r.Register("truncate", formatTruncate)
	r.Register("join", formatJoin)
	r.Register("comma", formatComma)
	r.Register("bytes", formatBytes)
	return r
}

// Register adds or replaces a named formatter.
func (r *FormatterRegistry) Register(name string, f Formatter) {
	r.formatters[name] = f
}

// Names returns the registered formatter names in unspecified order.
func (r *FormatterRegistry) Names() []string {
	names := make([]string, 0, len(r.formatters))
	for name := range r.formatters {
		names = append(names, name)
	}
	return names
}

func (r *FormatterRegistry) lookup(name string) (Formatter, bool) {
	f, ok := r.formatters[name]
	return f, ok
}

// defaultRegistry backs renders that do not supply their own registry.
var defaultRegistry = NewFormatterRegistry()

func formatDefault(v Value, _ []Value) (string, error) {
	s, ok := v.stringify()
	if !ok {
		return "", fmt.Errorf("cannot stringify a %s", v.Kind())
	}
	return s, nil
}

// scalarString is the shared entry point for formatters that operate on
// the default string form of a value.
func scalarString(v Value) (string, error) {
	s, ok := v.stringify()
	if !ok {
		return "", fmt.Errorf("cannot stringify a %s", v.Kind())
	}
	return s, nil
}

func formatUpper(v Value, _ []Value) (string, error) {
	s, err := scalarString(v)
	if err != nil {
		return "", err
	}
	return strings.ToUpper(s), nil
}

func formatLower(v Value, _ []Value) (string, error) {
	s, err := scalarString(v)
	if err != nil {
		return "", err
	}
	return strings.ToLower(s), nil
}

func formatTrim(v Value, _ []Value) (string, error) {
	s, err := scalarString(v)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// formatJSON is the explicit way to emit a sequence or object.
func formatJSON(v Value, _ []Value) (string, error) {
	data, err := json.Marshal(v.Interface())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func formatLen(v Value, _ []Value) (string, error) {
	switch v.Kind() {
	case KindString:
		return fmt.Sprintf("%d", len(v.s)), nil
	case KindSequence:
		return fmt.Sprintf("%d", len(v.seq)), nil
	case KindObject:
		return fmt.Sprintf("%d", len(v.obj)), nil
	default:
		return "", fmt.Errorf("len is not defined for a %s", v.Kind())
	}
}

func formatTruncate(v Value, args []Value) (string, error) {
	if len(args) != 1 || args[0].Kind() != KindInt {
		return "", errors.New("truncate requires a single integer argument")
	}
	n := args[0].i
	if n < 0 {
		return "", errors.New("truncate length must be non-negative")
	}
	s, err := scalarString(v)
	if err != nil {
		return "", err
	}
	runes := []rune(s)
	if int64(len(runes)) <= n {
		return s, nil
	}
	return string(runes[:n]), nil
}

func formatJoin(v Value, args []Value) (string, error) {
	if v.Kind() != KindSequence {
		return "", fmt.Errorf("join is not defined for a %s", v.Kind())
	}
	sep := ""
	switch len(args) {
	case 0:
	case 1:
		if args[0].Kind() != KindString {
			return "", errors.New("join separator must be a string")
		}
		sep = args[0].s
	default:
		return "", errors.New("join takes at most one argument")
	}
	parts := make([]string, len(v.seq))
	for i, elem := range v.seq {
		s, err := scalarString(elem)
		if err != nil {
			return "", fmt.Errorf("element %d: %w", i, err)
		}
		parts[i] = s
	}
	return strings.Join(parts, sep), nil
}

func formatComma(v Value, _ []Value) (string, error) {
	switch v.Kind() {
	case KindInt:
		return humanize.Comma(v.i), nil
	case KindFloat:
		return humanize.Commaf(v.f), nil
	default:
		return "", fmt.Errorf("comma is not defined for a %s", v.Kind())
	}
}

func formatBytes(v Value, _ []Value) (string, error) {
	var n int64
	switch v.Kind() {
	case KindInt:
		n = v.i
	case KindFloat:
		n = int64(v.f)
	default:
		return "", fmt.Errorf("bytes is not defined for a %s", v.Kind())
	}
	if n < 0 {
		return "", errors.New("bytes is not defined for negative values")
	}
	return humanize.Bytes(uint64(n)), nil
}
