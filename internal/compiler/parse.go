package compiler

import (
	"fmt"

	"github.com/tinyrange/occ/internal/backend"
	"github.com/tinyrange/occ/internal/codebuf"
	"github.com/tinyrange/occ/internal/lexer"
	"github.com/tinyrange/occ/internal/symtab"
)

// callKind tracks how a primary expression resolves as a call target.
type callKind uint8

const (
	callValue    callKind = iota // target is the accumulator value
	callDirect                   // target is a bound text offset
	callForward                  // target is a not-yet-defined function
	callExternal                 // target is a resolved native address
)

type parser struct {
	lex      *lexer.Lexer
	syms     *symtab.Table
	buf      *codebuf.Buffer
	em       backend.Emitter
	resolver Resolver

	tok      lexer.Token
	depth    int
	maxDepth int

	// Per-function state.
	loc      int64 // bytes of locals and parameters allocated so far
	retLabel codebuf.Label
	brkLabel codebuf.Label
	haveBrk  bool
}

func (p *parser) next() error {
	t, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

func (p *parser) errf(format string, args ...any) error {
	return &SyntaxError{Off: p.tok.Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) skip(ch byte) error {
	if !p.tok.Is(ch) {
		return p.errf("%q expected, found %s", string(ch), p.tok.Kind)
	}
	return p.next()
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > p.maxDepth {
		return p.errf("nesting deeper than %d levels", p.maxDepth)
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// varOf maps a symbol to its storage location, or fails for symbols that
// have no storage (keywords, macros, functions, undeclared names).
func varOf(sym *symtab.Symbol) (backend.Var, bool) {
	switch sym.Kind {
	case symtab.KindLocal:
		return backend.Var{Local: true, Off: sym.Value}, true
	case symtab.KindGlobal:
		return backend.Var{Off: sym.Value}, true
	}
	return backend.Var{}, false
}

func binOpFor(op lexer.Opcode) backend.BinOp {
	switch op {
	case lexer.OpMul:
		return backend.Mul
	case lexer.OpDiv:
		return backend.Div
	case lexer.OpMod:
		return backend.Mod
	case lexer.OpAdd:
		return backend.Add
	case lexer.OpSub:
		return backend.Sub
	case lexer.OpShl:
		return backend.Shl
	case lexer.OpShr:
		return backend.Shr
	case lexer.OpAnd:
		return backend.And
	case lexer.OpXor:
		return backend.Xor
	}
	return backend.Or
}

func condFor(op lexer.Opcode) backend.Cond {
	switch op {
	case lexer.OpLt:
		return backend.Lt
	case lexer.OpGt:
		return backend.Gt
	case lexer.OpLe:
		return backend.Le
	case lexer.OpGe:
		return backend.Ge
	case lexer.OpEq:
		return backend.Eq
	}
	return backend.Ne
}

// expr compiles a full expression, leaving its value in the accumulator.
func (p *parser) expr() error {
	return p.binary(lexer.MaxPrec)
}

// binary compiles the operators of one precedence level, with operands one
// level tighter. Levels 9 and 10 are the short-circuit connectives: each
// operand is tested as it is produced and the chain's boolean result is
// normalized to 0 or 1 afterwards.
func (p *parser) binary(level int) error {
	if level == 0 {
		return p.unary(true)
	}
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	if err := p.binary(level - 1); err != nil {
		return err
	}

	if level >= 9 {
		if p.tok.Kind != lexer.Op || p.tok.Prec != level {
			return nil
		}
		isOr := level == 10
		short := p.buf.NewLabel()
		for p.tok.Kind == lexer.Op && p.tok.Prec == level {
			p.em.BranchIf(isOr, short)
			if err := p.next(); err != nil {
				return err
			}
			if err := p.binary(level - 1); err != nil {
				return err
			}
		}
		p.em.BranchIf(isOr, short)
		done := p.buf.NewLabel()
		if isOr {
			p.em.LoadImm(0)
		} else {
			p.em.LoadImm(1)
		}
		p.em.Jump(done)
		p.em.Bind(short)
		if isOr {
			p.em.LoadImm(1)
		} else {
			p.em.LoadImm(0)
		}
		p.em.Bind(done)
		return nil
	}

	for p.tok.Kind == lexer.Op && p.tok.Prec == level {
		op := p.tok.Op
		p.em.PushAcc()
		if err := p.next(); err != nil {
			return err
		}
		if err := p.binary(level - 1); err != nil {
			return err
		}
		if level == 4 || level == 5 {
			p.em.Compare(condFor(op))
		} else {
			p.em.Binary(binOpFor(op))
		}
	}
	return nil
}

// unary compiles a primary expression with its unary prefixes and any
// trailing call. allowAssign is false for the operand of a prefix
// operator or cast, where assignment would be ambiguous; stores through
// a cast are always accepted.
func (p *parser) unary(allowAssign bool) error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	kind := callValue
	var (
		target int
		fwd    *symtab.Symbol
		ext    uintptr
	)

	t := p.tok
	switch {
	case t.Kind == lexer.Num:
		if err := p.next(); err != nil {
			return err
		}
		p.em.LoadImm(t.Val)

	case t.Kind == lexer.Str:
		if err := p.next(); err != nil {
			return err
		}
		// NUL terminated, byte aligned. Strings live in the writable data
		// region so compiled code may scribble on them.
		off, err := p.buf.AllocData(len(t.Str)+1, 1)
		if err != nil {
			return err
		}
		p.buf.WriteData(off, t.Str)
		p.em.LoadDataAddr(off)

	case t.Kind == lexer.Op && (t.Op == lexer.OpAdd || t.Op == lexer.OpSub ||
		t.Op == lexer.OpNot || t.Op == lexer.OpBitNot):
		if err := p.next(); err != nil {
			return err
		}
		if err := p.unary(false); err != nil {
			return err
		}
		switch t.Op {
		case lexer.OpSub:
			p.em.Neg()
		case lexer.OpNot:
			p.em.CompareZero(backend.Eq)
		case lexer.OpBitNot:
			p.em.BitNot()
		}

	case t.Kind == lexer.Op && t.Op == lexer.OpMul:
		// Dereferencing cast: *(int*)e, *(char*)e, or the function
		// pointer form *(int(*)())e, which yields a callable value.
		if err := p.next(); err != nil {
			return err
		}
		if err := p.skip('('); err != nil {
			return err
		}
		if p.tok.Kind != lexer.Ident {
			return p.errf("type name expected in cast")
		}
		width := backend.Byte
		if p.tok.Sym == symtab.KwInt {
			width = backend.Word
		}
		if err := p.next(); err != nil { // type name
			return err
		}
		if err := p.next(); err != nil { // '*' of a data pointer, or '(' of a function type
			return err
		}
		isFunc := false
		if p.tok.IsOp(lexer.OpMul) {
			isFunc = true
			if err := p.next(); err != nil {
				return err
			}
			if err := p.skip(')'); err != nil {
				return err
			}
			if err := p.skip('('); err != nil {
				return err
			}
			if err := p.skip(')'); err != nil {
				return err
			}
		}
		if err := p.skip(')'); err != nil {
			return err
		}
		if err := p.unary(false); err != nil {
			return err
		}
		if p.tok.Is('=') {
			if err := p.next(); err != nil {
				return err
			}
			p.em.PushAcc()
			if err := p.expr(); err != nil {
				return err
			}
			p.em.StoreIndirect(width)
		} else if !isFunc {
			p.em.LoadIndirect(width)
		}

	case t.Kind == lexer.Op && t.Op == lexer.OpAnd:
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.Kind != lexer.Ident {
			return p.errf("variable expected after '&'")
		}
		sym := p.syms.Get(p.tok.Sym)
		v, ok := varOf(sym)
		if !ok {
			return p.errf("cannot take the address of %q", sym.Name)
		}
		p.em.AddrVar(v)
		if err := p.next(); err != nil {
			return err
		}

	case t.Is('('):
		if err := p.next(); err != nil {
			return err
		}
		if err := p.expr(); err != nil {
			return err
		}
		if err := p.skip(')'); err != nil {
			return err
		}

	case t.Kind == lexer.Ident && t.Sym > symtab.LastReserved:
		sym := p.syms.Get(t.Sym)
		if err := p.next(); err != nil {
			return err
		}
		switch {
		case allowAssign && p.tok.Is('='):
			v, ok := varOf(sym)
			if !ok {
				return p.errf("assignment to undeclared identifier %q", sym.Name)
			}
			if err := p.next(); err != nil {
				return err
			}
			if err := p.expr(); err != nil {
				return err
			}
			p.em.StoreVar(v)

		case allowAssign && p.tok.Kind == lexer.Op && lexer.BaseOp(p.tok.Op) != lexer.OpNone:
			base := lexer.BaseOp(p.tok.Op)
			v, ok := varOf(sym)
			if !ok {
				return p.errf("assignment to undeclared identifier %q", sym.Name)
			}
			p.em.LoadVar(v)
			p.em.PushAcc()
			if err := p.next(); err != nil {
				return err
			}
			if err := p.expr(); err != nil {
				return err
			}
			p.em.Binary(binOpFor(base))
			p.em.StoreVar(v)

		case p.tok.Is('('):
			switch sym.Kind {
			case symtab.KindFunc:
				kind = callDirect
				target = int(sym.Value)
			case symtab.KindForward:
				if p.resolver != nil {
					if addr, ok := p.resolver(sym.Name); ok {
						kind = callExternal
						ext = addr
						break
					}
				}
				kind = callForward
				fwd = sym
			default:
				// Function pointer stored in a variable.
				v, ok := varOf(sym)
				if !ok {
					return p.errf("%q is not callable", sym.Name)
				}
				p.em.LoadVar(v)
			}

		default:
			v, ok := varOf(sym)
			if !ok {
				return p.errf("undeclared identifier %q", sym.Name)
			}
			p.em.LoadVar(v)
			if p.tok.IsOp(lexer.OpInc) || p.tok.IsOp(lexer.OpDec) {
				delta := int8(1)
				if p.tok.Op == lexer.OpDec {
					delta = -1
				}
				p.em.IncVar(v, delta)
				if err := p.next(); err != nil {
					return err
				}
			}
		}

	default:
		return p.errf("expression expected, found %s", t.Kind)
	}

	if p.tok.Is('(') {
		return p.callTail(kind, target, fwd, ext)
	}
	return nil
}

// callTail compiles an argument list and the call itself. Arguments are
// stored into the reserved outgoing area left to right; the reservation
// size is patched once the count is known.
func (p *parser) callTail(kind callKind, target int, fwd *symtab.Symbol, ext uintptr) error {
	site := p.em.BeginCall(kind == callValue)
	if err := p.next(); err != nil {
		return err
	}
	n := 0
	for !p.tok.Is(')') {
		if err := p.expr(); err != nil {
			return err
		}
		p.em.StoreArg(n)
		n++
		if p.tok.Is(',') {
			if err := p.next(); err != nil {
				return err
			}
		} else if !p.tok.Is(')') {
			return p.errf("',' or ')' expected in call")
		}
	}
	if err := p.next(); err != nil {
		return err
	}

	switch kind {
	case callDirect:
		return p.em.EndCallDirect(site, n, target)
	case callForward:
		off, err := p.em.EndCallForward(site, n)
		if err != nil {
			return err
		}
		fwd.Pending = append(fwd.Pending, off)
		return nil
	case callExternal:
		return p.em.EndCallAbsolute(site, n, uint64(ext))
	default:
		return p.em.EndCallIndirect(site, n)
	}
}
