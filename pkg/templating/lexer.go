package templating

import "strings"

type tokenKind int

const (
	tokenText tokenKind = iota
	tokenRaw
	tokenValue
	tokenIf
	tokenElse
	tokenEndIf
	tokenFor
	tokenEndFor
	tokenWith
	tokenEndWith
)

// token is one unit of the source text: a literal run, a raw `{= =}`
// section, or a `{{ }}` markup tag classified by its leading keyword.
// For markup tokens, text holds the tag body with the keyword removed;
// bodyOffset is the byte offset of that body within the source, used for
// expression error reporting.
type token struct {
	kind        tokenKind
	text        string
	offset      int
	bodyOffset  int
	stripBefore bool
	stripAfter  bool
}

// lexer scans template source into a lazy, non-restartable token stream.
// Concatenating the spans it produces reconstructs the input exactly
// (modulo delimiters); it delimits and classifies but never evaluates.
type lexer struct {
	src string
	pos int
}

func newLexer(src string) *lexer {
	return &lexer{src: src}
}

const (
	openTag  = "{{"
	closeTag = "}}"
	openRaw  = "{="
	closeRaw = "=}"
)

// next returns the next token, or ok=false at end of input.
func (l *lexer) next() (token, bool, error) {
	if l.pos >= len(l.src) {
		return token{}, false, nil
	}
	rest := l.src[l.pos:]
	switch {
	case strings.HasPrefix(rest, openTag):
		tok, err := l.consumeTag()
		return tok, true, err
	case strings.HasPrefix(rest, openRaw):
		tok, err := l.consumeRaw()
		return tok, true, err
	default:
		return l.consumeText(), true, nil
	}
}

// consumeText scans forward to the next opening delimiter. A lone `{` that
// does not begin a delimiter is ordinary text.
func (l *lexer) consumeText() token {
	start := l.pos
	search := l.pos
	for {
		i := strings.IndexByte(l.src[search:], '{')
		if i < 0 {
			l.pos = len(l.src)
			return token{kind: tokenText, text: l.src[start:], offset: start}
		}
		at := search + i
		tail := l.src[at:]
		if strings.HasPrefix(tail, openTag) || strings.HasPrefix(tail, openRaw) {
			l.pos = at
			return token{kind: tokenText, text: l.src[start:at], offset: start}
		}
		search = at + 1
	}
}

// consumeRaw scans a `{= ... =}` section. The body is emitted verbatim,
// which is the escape hatch for producing literal delimiters in output.
func (l *lexer) consumeRaw() (token, error) {
	start := l.pos
	end := strings.Index(l.src[start+len(openRaw):], closeRaw)
	if end < 0 {
		return token{}, &LexError{Offset: start, Msg: "unterminated raw section: expected a closing '=}'"}
	}
	body := l.src[start+len(openRaw) : start+len(openRaw)+end]
	l.pos = start + len(openRaw) + end + len(closeRaw)
	return token{kind: tokenRaw, text: body, offset: start}, nil
}

// consumeTag scans a `{{ ... }}` tag and classifies it by leading keyword.
// `{{-` and `-}}` markers request whitespace stripping from the adjacent
// literal runs.
func (l *lexer) consumeTag() (token, error) {
	start := l.pos
	innerStart := start + len(openTag)
	end := strings.Index(l.src[innerStart:], closeTag)
	if end < 0 {
		return token{}, &LexError{Offset: start, Msg: "unterminated tag: expected a closing '}}'"}
	}
	inner := l.src[innerStart : innerStart+end]
	l.pos = innerStart + end + len(closeTag)

	tok := token{offset: start}
	if strings.HasPrefix(inner, "-") {
		tok.stripBefore = true
		inner = inner[1:]
		innerStart++
	}
	if strings.HasSuffix(inner, "-") {
		tok.stripAfter = true
		inner = inner[:len(inner)-1]
	}

	lead := len(inner) - len(strings.TrimLeft(inner, spaceChars))
	trimmed := strings.TrimSpace(inner)
	trimmedStart := innerStart + lead

	keyword := leadingKeyword(trimmed)
	switch keyword {
	case "if":
		tok.kind = tokenIf
	case "else":
		tok.kind = tokenElse
	case "endif":
		tok.kind = tokenEndIf
	case "for":
		tok.kind = tokenFor
	case "endfor":
		tok.kind = tokenEndFor
	case "with":
		tok.kind = tokenWith
	case "endwith":
		tok.kind = tokenEndWith
	default:
		tok.kind = tokenValue
		tok.text = trimmed
		tok.bodyOffset = trimmedStart
		return tok, nil
	}

	rest := trimmed[len(keyword):]
	restLead := len(rest) - len(strings.TrimLeft(rest, spaceChars))
	tok.text = strings.TrimSpace(rest)
	tok.bodyOffset = trimmedStart + len(keyword) + restLead
	return tok, nil
}

const spaceChars = " \t\r\n"

// leadingKeyword returns the bare identifier a trimmed tag body starts
// with, or "" when the body does not begin with an identifier followed by
// whitespace or end of body.
func leadingKeyword(s string) string {
	i := 0
	for i < len(s) && isIdentChar(s[i]) {
		i++
	}
	if i == 0 || (i < len(s) && !isSpaceChar(s[i])) {
		return ""
	}
	return s[:i]
}

func isSpaceChar(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

func isIdentChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}
