package templating

type opcode int

const (
	// opEmitLiteral appends owned literal text to the output.
	opEmitLiteral opcode = iota
	// opEmitValue resolves a value expression and appends its string form.
	opEmitValue
	// opBranch evaluates a condition and jumps to target when it is false.
	opBranch
	// opJump unconditionally moves the program counter to target.
	opJump
	// opIterStart resolves a collection; jumps to target when it is empty,
	// otherwise pushes a loop scope bound to the first element.
	opIterStart
	// opIterNext advances the innermost loop: rebinds and jumps back to
	// target while elements remain, otherwise pops the loop scope and
	// falls through.
	opIterNext
	// opIterEnd marks the loop boundary; executing it is a no-op.
	opIterEnd
	// opPushScope resolves a value and pushes it as a new scope, optionally
	// under a name.
	opPushScope
	// opPopScope removes the innermost scope.
	opPopScope
)

// unknownTarget marks a jump index that has not been patched yet. Every
// occurrence is resolved before compilation returns; the renderer never
// sees it.
const unknownTarget = -1

// instruction is one unit of a compiled template. Control structures are
// flattened into forward/backward jumps over the instruction sequence, so
// rendering is a single program-counter walk with no tree traversal.
type instruction struct {
	op     opcode
	text   string    // opEmitLiteral
	expr   valueExpr // opEmitValue, opIterStart collection, opPushScope source
	cond   condition // opBranch
	name   string    // opIterStart loop variable, opPushScope binding ("" for anonymous)
	target int       // jump index for opBranch/opJump/opIterStart/opIterNext
	offset int       // source offset of the originating tag
}
