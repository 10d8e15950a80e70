package templating

import (
	"io"
	"strings"
)

// Template is the compiled, immutable representation of one parsed source
// text. It owns its literal text and is independent of any render context:
// a single Template may be rendered concurrently against many contexts
// without synchronization.
type Template struct {
	srcLen int
	instrs []instruction
}

// Compile parses template source into an executable Template. It returns a
// *LexError for malformed delimiters and a *ParseError for malformed
// expressions or unbalanced blocks; there is no best-effort compilation.
func Compile(src string) (*Template, error) {
	instrs, err := compile(src)
	if err != nil {
		return nil, err
	}
	return &Template{srcLen: len(src), instrs: instrs}, nil
}

// MustCompile is like Compile but panics on error. It is intended for
// templates embedded as program constants.
func MustCompile(src string) *Template {
	t, err := Compile(src)
	if err != nil {
		panic("templating: MustCompile: " + err.Error())
	}
	return t
}

// Render converts data with ValueOf and renders the template against it.
// A nil registry uses the built-in formatters only. On error no output is
// returned; rendering aborts at the first failure.
func (t *Template) Render(data any, reg *FormatterRegistry) (string, error) {
	root, err := ValueOf(data)
	if err != nil {
		return "", err
	}
	return t.RenderValue(root, reg)
}

// RenderValue renders the template against an already-converted root Value.
func (t *Template) RenderValue(root Value, reg *FormatterRegistry) (string, error) {
	if reg == nil {
		reg = defaultRegistry
	}
	st := renderState{
		reg:   reg,
		stack: []scope{{kind: scopeObject, val: root}},
	}
	// The source length is a reasonable first guess at the output size.
	st.out.Grow(t.srcLen)
	if err := t.exec(&st); err != nil {
		return "", err
	}
	return st.out.String(), nil
}

// Execute renders the template and writes the result to w. Nothing is
// written when rendering fails.
func (t *Template) Execute(w io.Writer, data any, reg *FormatterRegistry) error {
	s, err := t.Render(data, reg)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, s)
	return err
}

type scopeKind int

const (
	// scopeObject is a terminal frame: lookups resolve inside it or fail.
	// The root context and anonymous `with` blocks use it.
	scopeObject scopeKind = iota
	// scopeNamed matches paths whose first segment equals its binding name
	// and falls through to enclosing frames otherwise.
	scopeNamed
	// scopeIter is a loop frame: the binding name resolves to the current
	// element, and it tracks the zero-based iteration index.
	scopeIter
)

type scope struct {
	kind scopeKind
	name string
	val  Value
	seq  []Value
	idx  int
}

type renderState struct {
	reg   *FormatterRegistry
	stack []scope
	out   strings.Builder
}

// exec runs the flat instruction sequence with a single program counter.
// Jump targets were bounds-checked at compile time, so dispatch needs no
// re-validation.
func (t *Template) exec(st *renderState) error {
	pc := 0
	for pc < len(t.instrs) {
		in := &t.instrs[pc]
		switch in.op {
		case opEmitLiteral:
			st.out.WriteString(in.text)
			pc++
		case opEmitValue:
			v, err := st.eval(in.expr)
			if err != nil {
				return err
			}
			s, ok := v.stringify()
			if !ok {
				return ambiguousValueError(in.expr.path, v.Kind().String())
			}
			st.out.WriteString(s)
			pc++
		case opBranch:
			truthy, err := st.evalCondition(in.cond)
			if err != nil {
				return err
			}
			if truthy {
				pc++
			} else {
				pc = in.target
			}
		case opJump:
			pc = in.target
		case opIterStart:
			v, err := st.eval(in.expr)
			if err != nil {
				return err
			}
			if v.Kind() != KindSequence {
				return notIterableError(in.expr.path, "got a "+v.Kind().String())
			}
			seq := v.Seq()
			if len(seq) == 0 {
				pc = in.target
				break
			}
			st.stack = append(st.stack, scope{kind: scopeIter, name: in.name, seq: seq})
			pc++
		case opIterNext:
			top := &st.stack[len(st.stack)-1]
			top.idx++
			if top.idx < len(top.seq) {
				pc = in.target
			} else {
				st.stack = st.stack[:len(st.stack)-1]
				pc++
			}
		case opIterEnd:
			pc++
		case opPushScope:
			v, err := st.eval(in.expr)
			if err != nil {
				return err
			}
			kind := scopeObject
			if in.name != "" {
				kind = scopeNamed
			}
			st.stack = append(st.stack, scope{kind: kind, name: in.name, val: v})
			pc++
		case opPopScope:
			st.stack = st.stack[:len(st.stack)-1]
			pc++
		}
	}
	return nil
}

// eval resolves a value expression: the path lookup first, then each
// formatter pipe in left-to-right order.
func (st *renderState) eval(expr valueExpr) (Value, error) {
	v, err := st.lookup(expr.path)
	if err != nil {
		return Value{}, err
	}
	for _, pipe := range expr.pipes {
		f, ok := st.reg.lookup(pipe.name)
		if !ok {
			return Value{}, &RenderError{Kind: FormatterError, Name: pipe.name, Msg: "no such formatter registered"}
		}
		args := make([]Value, len(pipe.args))
		for i, a := range pipe.args {
			if a.isPath {
				args[i], err = st.lookup(a.path)
				if err != nil {
					return Value{}, err
				}
			} else {
				args[i] = a.lit
			}
		}
		s, err := f(v, args)
		if err != nil {
			return Value{}, formatterError(pipe.name, err)
		}
		v = String(s)
	}
	return v, nil
}

func (st *renderState) evalCondition(cond condition) (bool, error) {
	switch cond.kind {
	case condNot:
		inner, err := st.evalCondition(*cond.inner)
		if err != nil {
			return false, err
		}
		return !inner, nil
	case condEquals, condNotEquals:
		left, err := st.eval(cond.left)
		if err != nil {
			return false, err
		}
		right, err := st.eval(cond.right)
		if err != nil {
			return false, err
		}
		eq := left.Equal(right)
		if cond.kind == condNotEquals {
			eq = !eq
		}
		return eq, nil
	default:
		v, err := st.eval(cond.left)
		if err != nil {
			return false, err
		}
		return v.Truthy(), nil
	}
}

// lookup resolves a path against the scope chain, innermost frame first.
// Named and loop frames fall through to enclosing frames when the first
// segment does not match their binding; object frames are terminal.
func (st *renderState) lookup(path pathExpr) (Value, error) {
	if path.isMeta() {
		return st.lookupMeta(path)
	}
	for i := len(st.stack) - 1; i >= 0; i-- {
		sc := &st.stack[i]
		switch sc.kind {
		case scopeObject:
			return st.lookupIn(path, path, sc.val)
		case scopeNamed:
			if path[0] == sc.name {
				return st.lookupIn(path, path[1:], sc.val)
			}
		case scopeIter:
			if path[0] == sc.name {
				return st.lookupIn(path, path[1:], sc.seq[sc.idx])
			}
		}
	}
	// The root frame is always a terminal object scope, so the walk above
	// cannot fall off the bottom of the stack.
	return Value{}, missingFieldError(path, len(st.stack))
}

// lookupMeta resolves @index/@first/@last against the innermost loop frame.
func (st *renderState) lookupMeta(path pathExpr) (Value, error) {
	for i := len(st.stack) - 1; i >= 0; i-- {
		sc := &st.stack[i]
		if sc.kind != scopeIter {
			continue
		}
		switch path[0] {
		case "@index":
			return Int(int64(sc.idx)), nil
		case "@first":
			return Bool(sc.idx == 0), nil
		case "@last":
			return Bool(sc.idx == len(sc.seq)-1), nil
		}
	}
	return Value{}, missingFieldError(path, len(st.stack))
}

// lookupIn walks the remaining path segments into a value. full is the
// complete original path, used for error reporting.
func (st *renderState) lookupIn(full, rest pathExpr, v Value) (Value, error) {
	cur := v
	for _, seg := range rest {
		next, ok := cur.Field(seg)
		if !ok {
			return Value{}, missingFieldError(full, len(st.stack))
		}
		cur = next
	}
	return cur, nil
}
