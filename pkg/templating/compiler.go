package templating

import (
	"fmt"
	"strings"
)

type blockKind int

const (
	blockIf blockKind = iota
	blockElse
	blockFor
	blockWith
)

func (k blockKind) String() string {
	switch k {
	case blockIf:
		return "if"
	case blockElse:
		return "else"
	case blockFor:
		return "for"
	default:
		return "with"
	}
}

// blockMarker records an open block and the instruction whose jump target
// must be patched when the block closes.
type blockMarker struct {
	kind   blockKind
	index  int
	offset int
}

// compiler consumes the token stream and flattens it into an instruction
// sequence with resolved jump targets. Adjacent literal runs (text and raw
// sections) are coalesced into a single opEmitLiteral, and empty runs are
// dropped entirely.
type compiler struct {
	lex    *lexer
	instrs []instruction
	blocks []blockMarker
	// pending accumulates the current literal run; rawEnd is the pending
	// length at the end of the last raw section, past which strip markers
	// never trim.
	pending   strings.Builder
	rawEnd    int
	stripNext bool
}

func compile(src string) ([]instruction, error) {
	c := &compiler{lex: newLexer(src)}
	return c.run()
}

func (c *compiler) run() ([]instruction, error) {
	for {
		tok, ok, err := c.lex.next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := c.handle(tok); err != nil {
			return nil, err
		}
	}
	c.flushLiteral()
	if len(c.blocks) > 0 {
		open := c.blocks[len(c.blocks)-1]
		return nil, &ParseError{
			Offset: open.offset,
			Msg:    fmt.Sprintf("unclosed %q block at end of template", open.kind),
		}
	}
	return c.instrs, nil
}

func (c *compiler) handle(tok token) error {
	if tok.stripBefore {
		c.trimPendingRight()
	}
	switch tok.kind {
	case tokenText:
		text := tok.text
		if c.stripNext {
			text = strings.TrimLeft(text, spaceChars)
			c.stripNext = false
		}
		c.pending.WriteString(text)
		return nil
	case tokenRaw:
		// Raw sections are deliberate output; stripping never applies
		// inside them.
		c.stripNext = false
		c.pending.WriteString(tok.text)
		c.rawEnd = c.pending.Len()
		return nil
	}

	c.flushLiteral()
	c.stripNext = tok.stripAfter

	switch tok.kind {
	case tokenValue:
		expr, err := parseValueExpr(tok.text, tok.bodyOffset)
		if err != nil {
			return err
		}
		c.emit(instruction{op: opEmitValue, expr: expr, offset: tok.offset})
	case tokenIf:
		cond, err := parseCondition(tok.text, tok.bodyOffset)
		if err != nil {
			return err
		}
		c.openBlock(blockIf, tok.offset)
		c.emit(instruction{op: opBranch, cond: cond, target: unknownTarget, offset: tok.offset})
	case tokenElse:
		if err := c.expectEmpty(tok); err != nil {
			return err
		}
		m, err := c.closeBlock(tok, blockIf)
		if err != nil {
			return err
		}
		// The branch skips to just past the jump we are about to emit,
		// i.e. the first instruction of the else body.
		c.instrs[m.index].target = len(c.instrs) + 1
		c.openBlock(blockElse, tok.offset)
		c.emit(instruction{op: opJump, target: unknownTarget, offset: tok.offset})
	case tokenEndIf:
		if err := c.expectEmpty(tok); err != nil {
			return err
		}
		m, err := c.closeBlock(tok, blockIf, blockElse)
		if err != nil {
			return err
		}
		c.instrs[m.index].target = len(c.instrs)
	case tokenFor:
		name, coll, err := parseForHeader(tok.text, tok.bodyOffset)
		if err != nil {
			return err
		}
		c.openBlock(blockFor, tok.offset)
		c.emit(instruction{op: opIterStart, expr: coll, name: name, target: unknownTarget, offset: tok.offset})
	case tokenEndFor:
		if err := c.expectEmpty(tok); err != nil {
			return err
		}
		m, err := c.closeBlock(tok, blockFor)
		if err != nil {
			return err
		}
		c.emit(instruction{op: opIterNext, target: m.index + 1, offset: tok.offset})
		c.emit(instruction{op: opIterEnd, offset: tok.offset})
		c.instrs[m.index].target = len(c.instrs)
	case tokenWith:
		expr, name, err := parseWithHeader(tok.text, tok.bodyOffset)
		if err != nil {
			return err
		}
		c.openBlock(blockWith, tok.offset)
		c.emit(instruction{op: opPushScope, expr: expr, name: name, offset: tok.offset})
	case tokenEndWith:
		if err := c.expectEmpty(tok); err != nil {
			return err
		}
		if _, err := c.closeBlock(tok, blockWith); err != nil {
			return err
		}
		c.emit(instruction{op: opPopScope, offset: tok.offset})
	}
	return nil
}

func (c *compiler) emit(in instruction) {
	c.instrs = append(c.instrs, in)
}

func (c *compiler) openBlock(kind blockKind, offset int) {
	c.blocks = append(c.blocks, blockMarker{kind: kind, index: len(c.instrs), offset: offset})
}

// closeBlock pops the innermost open block, failing unless its kind is one
// of the allowed ones. Mismatches report both what was found and what was
// expected so nesting mistakes are obvious.
func (c *compiler) closeBlock(tok token, allowed ...blockKind) (blockMarker, error) {
	closing := map[tokenKind]string{
		tokenElse:    "else",
		tokenEndIf:   "endif",
		tokenEndFor:  "endfor",
		tokenEndWith: "endwith",
	}[tok.kind]
	if len(c.blocks) == 0 {
		return blockMarker{}, &ParseError{
			Offset: tok.offset,
			Msg:    fmt.Sprintf("found %q without a matching opening block", closing),
		}
	}
	m := c.blocks[len(c.blocks)-1]
	for _, k := range allowed {
		if m.kind == k {
			c.blocks = c.blocks[:len(c.blocks)-1]
			return m, nil
		}
	}
	return blockMarker{}, &ParseError{
		Offset: tok.offset,
		Msg:    fmt.Sprintf("found %q inside a %q block", closing, m.kind),
	}
}

func (c *compiler) expectEmpty(tok token) error {
	if tok.text != "" {
		return &ParseError{Offset: tok.bodyOffset, Msg: fmt.Sprintf("unexpected text %q", tok.text)}
	}
	return nil
}

// flushLiteral emits the pending literal run, if any. Runs are coalesced
// so an opEmitLiteral always carries non-empty text.
func (c *compiler) flushLiteral() {
	if c.pending.Len() == 0 {
		return
	}
	c.emit(instruction{op: opEmitLiteral, text: c.pending.String()})
	c.pending.Reset()
	c.rawEnd = 0
}

func (c *compiler) trimPendingRight() {
	s := c.pending.String()
	if len(s) == c.rawEnd {
		return
	}
	trimmed := s[:c.rawEnd] + strings.TrimRight(s[c.rawEnd:], spaceChars)
	c.pending.Reset()
	c.pending.WriteString(trimmed)
}
