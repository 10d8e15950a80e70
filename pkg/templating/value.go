package templating

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindSequence
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindSequence:
		return "sequence"
	case KindObject:
		return "object"
	default:
		return "invalid"
	}
}

// Value is the dynamic result of resolving an expression at render time.
// It is a tagged union over null, bool, int, float, string, sequence and
// object; every consumption site switches on Kind explicitly. Values are
// transient render-time data and are never retained by a Template.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	seq  []Value
	obj  map[string]Value
}

// Null returns the null Value. The zero Value is also null.
func Null() Value { return Value{} }

// Bool wraps a bool as a Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an int64 as a Value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float64 as a Value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string as a Value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Sequence wraps an ordered list of Values.
func Sequence(vs ...Value) Value { return Value{kind: KindSequence, seq: vs} }

// Object wraps a name-to-Value mapping.
func Object(fields map[string]Value) Value { return Value{kind: KindObject, obj: fields} }

// Kind reports the shape of the Value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the Value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Seq returns the elements of a sequence Value, or nil for any other kind.
func (v Value) Seq() []Value {
	if v.kind != KindSequence {
		return nil
	}
	return v.seq
}

// Field looks up a field of an object Value.
func (v Value) Field(name string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[name]
	return f, ok
}

// Truthy reports whether the Value is considered true in a conditional:
// null, false, the empty string, the empty sequence and numeric zero are
// falsy; everything else (including every object) is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindInt:
		return v.i != 0
	case KindFloat:
		return v.f != 0
	case KindString:
		return v.s != ""
	case KindSequence:
		return len(v.seq) != 0
	default:
		return true
	}
}

// Equal reports a total, documented equality between Values: ints and
// floats compare numerically with each other, all other cross-kind pairs
// are unequal, and sequences/objects compare element- and field-wise.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		// Numeric kinds compare across the int/float divide.
		if v.kind == KindInt && o.kind == KindFloat {
			return float64(v.i) == o.f
		}
		if v.kind == KindFloat && o.kind == KindInt {
			return v.f == float64(o.i)
		}
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindSequence:
		if len(v.seq) != len(o.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equal(o.seq[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, f := range v.obj {
			of, ok := o.obj[k]
			if !ok || !f.Equal(of) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// stringify returns the default string representation of a scalar Value.
// Sequences and objects have no default representation and report ok=false;
// they must be piped through an explicit formatter.
func (v Value) stringify() (string, bool) {
	switch v.kind {
	case KindNull:
		return "", true
	case KindBool:
		return strconv.FormatBool(v.b), true
	case KindInt:
		return strconv.FormatInt(v.i, 10), true
	case KindFloat:
		return formatFloat(v.f), true
	case KindString:
		return v.s, true
	default:
		return "", false
	}
}

// formatFloat renders a float in canonical decimal form: integral values
// within int64 range print without a fractional part.
func formatFloat(f float64) string {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && f >= math.MinInt64 && f <= math.MaxInt64 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Interface converts the Value back into plain Go data: nil, bool, int64,
// float64, string, []any or map[string]any.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindSequence:
		out := make([]any, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.Interface()
		}
		return out
	case KindObject:
		m := make(map[string]any, len(v.obj))
		for k, f := range v.obj {
			m[k] = f.Interface()
		}
		return m
	default:
		return nil
	}
}

// Keys returns the sorted field names of an object Value.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValueOf converts arbitrary Go data into a Value. Maps must have string
// keys; struct fields use their `json` tag name when present (fields tagged
// `json:"-"` are skipped) and only exported fields are visible. Pointers
// and interfaces are dereferenced, with nil mapping to null. Channels,
// functions, complex numbers and data nested deeper than a fixed bound
// (which includes cyclic data) are rejected.
func ValueOf(data any) (Value, error) {
	if data == nil {
		return Null(), nil
	}
	if v, ok := data.(Value); ok {
		return v, nil
	}
	return reflectValue(reflect.ValueOf(data), 0)
}

// maxNestingDepth bounds the reflection walk. Cyclic data (a map that
// contains itself, a self-referential struct) hits the bound and is
// reported as an error instead of overflowing the stack.
const maxNestingDepth = 1000

func reflectValue(rv reflect.Value, depth int) (Value, error) {
	if depth > maxNestingDepth {
		return Value{}, fmt.Errorf("value is nested more than %d levels deep", maxNestingDepth)
	}
	switch rv.Kind() {
	case reflect.Invalid:
		return Null(), nil
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Int(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return Float(float64(u)), nil
		}
		return Int(int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return Float(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return Null(), nil
		}
		return reflectValue(rv.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return Null(), nil
		}
		seq := make([]Value, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elem, err := reflectValue(rv.Index(i), depth+1)
			if err != nil {
				return Value{}, err
			}
			seq[i] = elem
		}
		return Value{kind: KindSequence, seq: seq}, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Value{}, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		if rv.IsNil() {
			return Null(), nil
		}
		obj := make(map[string]Value, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			field, err := reflectValue(iter.Value(), depth+1)
			if err != nil {
				return Value{}, err
			}
			obj[iter.Key().String()] = field
		}
		return Value{kind: KindObject, obj: obj}, nil
	case reflect.Struct:
		return reflectStruct(rv, depth)
	default:
		return Value{}, fmt.Errorf("unsupported value type %s", rv.Type())
	}
}

func reflectStruct(rv reflect.Value, depth int) (Value, error) {
	rt := rv.Type()
	obj := make(map[string]Value, rt.NumField())
	for i := 0; i < rt.NumField(); i++ {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Name
		if tag, ok := sf.Tag.Lookup("json"); ok {
			tagName, _, _ := strings.Cut(tag, ",")
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
			}
		}
		if sf.Anonymous && sf.Tag.Get("json") == "" {
			// Embedded structs flatten into the parent, matching
			// encoding/json promotion.
			embedded, err := reflectValue(rv.Field(i), depth+1)
			if err != nil {
				return Value{}, err
			}
			if embedded.kind == KindObject {
				for k, f := range embedded.obj {
					if _, taken := obj[k]; !taken {
						obj[k] = f
					}
				}
				continue
			}
		}
		field, err := reflectValue(rv.Field(i), depth+1)
		if err != nil {
			return Value{}, err
		}
		obj[name] = field
	}
	return Value{kind: KindObject, obj: obj}, nil
}
