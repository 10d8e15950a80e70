package templating

import (
	"fmt"
	"strconv"
	"strings"
)

// pathExpr is a non-empty sequence of field-name segments, e.g. `a.b.c`,
// resolved against the scope chain at render time. A leading `@` segment
// (`@index`, `@first`, `@last`) refers to the state of the innermost loop.
type pathExpr []string

func (p pathExpr) String() string { return strings.Join(p, ".") }

func (p pathExpr) isMeta() bool { return len(p) > 0 && strings.HasPrefix(p[0], "@") }

// argExpr is a single formatter call argument: either a literal scalar
// fixed at compile time or a path resolved at render time.
type argExpr struct {
	lit    Value
	path   pathExpr
	isPath bool
}

// pipeCall is one stage of a formatter pipe chain.
type pipeCall struct {
	name string
	args []argExpr
}

// valueExpr is a path lookup piped through zero or more formatters,
// applied left to right.
type valueExpr struct {
	path  pathExpr
	pipes []pipeCall
}

type condKind int

const (
	condTruthy condKind = iota
	condEquals
	condNotEquals
	condNot
)

// condition is the test of an `if` tag: a truthy check on a value
// expression, an (in)equality between two, or a negation of another
// condition.
type condition struct {
	kind  condKind
	left  valueExpr
	right valueExpr
	inner *condition
}

// exprScanner is a cursor over a single tag body. base is the byte offset
// of the body within the template source, so errors point at the original
// text.
type exprScanner struct {
	src  string
	pos  int
	base int
}

func (s *exprScanner) errorf(format string, args ...any) *ParseError {
	return &ParseError{Offset: s.base + s.pos, Msg: fmt.Sprintf(format, args...)}
}

func (s *exprScanner) skipSpace() {
	for s.pos < len(s.src) && isSpaceChar(s.src[s.pos]) {
		s.pos++
	}
}

func (s *exprScanner) eof() bool { return s.pos >= len(s.src) }

func (s *exprScanner) peek() byte {
	if s.eof() {
		return 0
	}
	return s.src[s.pos]
}

// consume advances past the given literal if it is next, reporting whether
// it did.
func (s *exprScanner) consume(lit string) bool {
	if strings.HasPrefix(s.src[s.pos:], lit) {
		s.pos += len(lit)
		return true
	}
	return false
}

// consumeWord advances past the given keyword only when it is followed by
// whitespace or end of body.
func (s *exprScanner) consumeWord(word string) bool {
	rest := s.src[s.pos:]
	if !strings.HasPrefix(rest, word) {
		return false
	}
	if len(rest) > len(word) && !isSpaceChar(rest[len(word)]) {
		return false
	}
	s.pos += len(word)
	return true
}

func (s *exprScanner) readIdent() (string, error) {
	start := s.pos
	for s.pos < len(s.src) && isIdentChar(s.src[s.pos]) {
		s.pos++
	}
	if s.pos == start {
		return "", s.errorf("expected an identifier")
	}
	seg := s.src[start:s.pos]
	if seg[0] >= '0' && seg[0] <= '9' {
		return "", &ParseError{Offset: s.base + start, Msg: fmt.Sprintf("identifier %q may not start with a digit", seg)}
	}
	return seg, nil
}

var loopMetaNames = map[string]bool{
	"@index": true,
	"@first": true,
	"@last":  true,
}

// readPath parses a dotted path. Metavariables (`@index` and friends) are
// validated here and may not be followed by further segments.
func (s *exprScanner) readPath() (pathExpr, error) {
	if s.peek() == '@' {
		start := s.pos
		s.pos++
		name, err := s.readIdent()
		if err != nil {
			return nil, err
		}
		meta := "@" + name
		if !loopMetaNames[meta] {
			return nil, &ParseError{Offset: s.base + start, Msg: fmt.Sprintf("unknown loop metavariable %q", meta)}
		}
		if s.peek() == '.' {
			return nil, s.errorf("loop metavariable %q cannot have fields", meta)
		}
		return pathExpr{meta}, nil
	}
	var path pathExpr
	for {
		seg, err := s.readIdent()
		if err != nil {
			if len(path) > 0 {
				return nil, s.errorf("expected a path segment after '.'")
			}
			return nil, err
		}
		path = append(path, seg)
		if !s.consume(".") {
			return path, nil
		}
	}
}

// readArg parses a single formatter argument: a quoted string, a number,
// `true`/`false`/`null`, or a path.
func (s *exprScanner) readArg() (argExpr, error) {
	s.skipSpace()
	switch c := s.peek(); {
	case c == '"' || c == '\'':
		lit, err := s.readString(c)
		if err != nil {
			return argExpr{}, err
		}
		return argExpr{lit: String(lit)}, nil
	case c == '-' || c >= '0' && c <= '9':
		lit, err := s.readNumber()
		if err != nil {
			return argExpr{}, err
		}
		return argExpr{lit: lit}, nil
	default:
		if s.consumeWord("true") {
			return argExpr{lit: Bool(true)}, nil
		}
		if s.consumeWord("false") {
			return argExpr{lit: Bool(false)}, nil
		}
		if s.consumeWord("null") {
			return argExpr{lit: Null()}, nil
		}
		path, err := s.readPath()
		if err != nil {
			return argExpr{}, err
		}
		return argExpr{path: path, isPath: true}, nil
	}
}

func (s *exprScanner) readString(quote byte) (string, error) {
	start := s.pos
	s.pos++ // opening quote
	var sb strings.Builder
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch c {
		case quote:
			s.pos++
			return sb.String(), nil
		case '\\':
			if s.pos+1 >= len(s.src) {
				return "", s.errorf("unterminated escape sequence")
			}
			s.pos++
			switch esc := s.src[s.pos]; esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '"', '\'':
				sb.WriteByte(esc)
			default:
				return "", s.errorf("unknown escape sequence '\\%c'", esc)
			}
			s.pos++
		default:
			sb.WriteByte(c)
			s.pos++
		}
	}
	return "", &ParseError{Offset: s.base + start, Msg: "unterminated string literal"}
}

func (s *exprScanner) readNumber() (Value, error) {
	start := s.pos
	if s.peek() == '-' {
		s.pos++
	}
	isFloat := false
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if c >= '0' && c <= '9' {
			s.pos++
			continue
		}
		if c == '.' || c == 'e' || c == 'E' || c == '+' || c == '-' {
			isFloat = true
			s.pos++
			continue
		}
		break
	}
	text := s.src[start:s.pos]
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, &ParseError{Offset: s.base + start, Msg: fmt.Sprintf("invalid number %q", text)}
		}
		return Float(f), nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Value{}, &ParseError{Offset: s.base + start, Msg: fmt.Sprintf("invalid number %q", text)}
	}
	return Int(i), nil
}

// readValueExpr parses a path followed by a left-associative chain of
// formatter pipes: `a.b | f | g(1, "x")`.
func (s *exprScanner) readValueExpr() (valueExpr, error) {
	s.skipSpace()
	path, err := s.readPath()
	if err != nil {
		return valueExpr{}, err
	}
	expr := valueExpr{path: path}
	for {
		s.skipSpace()
		if !s.consume("|") {
			return expr, nil
		}
		s.skipSpace()
		name, err := s.readIdent()
		if err != nil {
			return valueExpr{}, s.errorf("expected a formatter name after '|'")
		}
		call := pipeCall{name: name}
		if s.consume("(") {
			s.skipSpace()
			if !s.consume(")") {
				for {
					arg, err := s.readArg()
					if err != nil {
						return valueExpr{}, err
					}
					call.args = append(call.args, arg)
					s.skipSpace()
					if s.consume(",") {
						continue
					}
					if s.consume(")") {
						break
					}
					return valueExpr{}, s.errorf("expected ',' or ')' in formatter arguments")
				}
			}
		}
		expr.pipes = append(expr.pipes, call)
	}
}

// expectEnd fails unless the scanner has consumed the whole body.
func (s *exprScanner) expectEnd() error {
	s.skipSpace()
	if !s.eof() {
		return s.errorf("unexpected text %q", s.src[s.pos:])
	}
	return nil
}

// parseValueExpr parses the body of a value tag.
func parseValueExpr(body string, base int) (valueExpr, error) {
	s := &exprScanner{src: body, base: base}
	expr, err := s.readValueExpr()
	if err != nil {
		return valueExpr{}, err
	}
	if err := s.expectEnd(); err != nil {
		return valueExpr{}, err
	}
	return expr, nil
}

// parseCondition parses the body of an `if` tag: an optional `not` prefix,
// then a value expression optionally compared with `==` or `!=`.
func parseCondition(body string, base int) (condition, error) {
	s := &exprScanner{src: body, base: base}
	cond, err := s.readCondition()
	if err != nil {
		return condition{}, err
	}
	if err := s.expectEnd(); err != nil {
		return condition{}, err
	}
	return cond, nil
}

func (s *exprScanner) readCondition() (condition, error) {
	s.skipSpace()
	if s.consumeWord("not") {
		inner, err := s.readCondition()
		if err != nil {
			return condition{}, err
		}
		return condition{kind: condNot, inner: &inner}, nil
	}
	left, err := s.readValueExpr()
	if err != nil {
		return condition{}, err
	}
	s.skipSpace()
	var kind condKind
	switch {
	case s.consume("=="):
		kind = condEquals
	case s.consume("!="):
		kind = condNotEquals
	default:
		return condition{kind: condTruthy, left: left}, nil
	}
	right, err := s.readValueExpr()
	if err != nil {
		return condition{}, err
	}
	return condition{kind: kind, left: left, right: right}, nil
}

// parseForHeader parses the body of a `for` tag: `<ident> in <expr>`.
func parseForHeader(body string, base int) (string, valueExpr, error) {
	s := &exprScanner{src: body, base: base}
	s.skipSpace()
	name, err := s.readIdent()
	if err != nil {
		return "", valueExpr{}, err
	}
	s.skipSpace()
	if !s.consumeWord("in") {
		return "", valueExpr{}, s.errorf("expected 'in' after loop variable %q", name)
	}
	coll, err := s.readValueExpr()
	if err != nil {
		return "", valueExpr{}, err
	}
	if err := s.expectEnd(); err != nil {
		return "", valueExpr{}, err
	}
	return name, coll, nil
}

// parseWithHeader parses the body of a `with` tag: `<expr>` or
// `<expr> as <ident>`.
func parseWithHeader(body string, base int) (valueExpr, string, error) {
	s := &exprScanner{src: body, base: base}
	expr, err := s.readValueExpr()
	if err != nil {
		return valueExpr{}, "", err
	}
	s.skipSpace()
	if s.eof() {
		return expr, "", nil
	}
	if !s.consumeWord("as") {
		return valueExpr{}, "", s.errorf("expected 'as' or end of tag")
	}
	s.skipSpace()
	name, err := s.readIdent()
	if err != nil {
		return valueExpr{}, "", err
	}
	if err := s.expectEnd(); err != nil {
		return valueExpr{}, "", err
	}
	return expr, name, nil
}
