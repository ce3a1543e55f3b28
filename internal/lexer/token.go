package lexer

import "github.com/tinyrange/occ/internal/symtab"

// Kind is the coarse token class.
type Kind uint8

const (
	EOF Kind = iota
	Num
	Str
	Ident
	Punct
	Op
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "end of input"
	case Num:
		return "number"
	case Str:
		return "string"
	case Ident:
		return "identifier"
	case Punct:
		return "punctuation"
	case Op:
		return "operator"
	}
	return "token"
}

// MaxPrec is the loosest binary precedence level; expression parsing
// starts here and tightens toward level 1.
const MaxPrec = 10

// Opcode names an operator recognized by the operator table.
type Opcode uint8

const (
	OpNone Opcode = iota

	OpMul // level 1
	OpDiv
	OpMod
	OpAdd // level 2
	OpSub
	OpShl // level 3
	OpShr
	OpLt // level 4
	OpGt
	OpLe
	OpGe
	OpEq // level 5
	OpNe
	OpAnd  // level 6
	OpXor  // level 7
	OpOr   // level 8
	OpLAnd // level 9
	OpLOr  // level 10
	OpInc  // level 11, postfix
	OpDec

	// Unary-only operators. OpAdd/OpSub double as unary plus/minus.
	OpNot    // !
	OpBitNot // ~

	// Compound assignments; never consumed by the binary-operator loop.
	OpAddAssign
	OpSubAssign
	OpMulAssign
	OpDivAssign
	OpModAssign
	OpShlAssign
	OpShrAssign
	OpAndAssign
	OpXorAssign
	OpOrAssign
)

// BaseOp maps a compound assignment to its underlying binary operator, or
// returns OpNone for anything else.
func BaseOp(op Opcode) Opcode {
	switch op {
	case OpAddAssign:
		return OpAdd
	case OpSubAssign:
		return OpSub
	case OpMulAssign:
		return OpMul
	case OpDivAssign:
		return OpDiv
	case OpModAssign:
		return OpMod
	case OpShlAssign:
		return OpShl
	case OpShrAssign:
		return OpShr
	case OpAndAssign:
		return OpAnd
	case OpXorAssign:
		return OpXor
	case OpOrAssign:
		return OpOr
	}
	return OpNone
}

// Token is one lexed token. Val carries numeric literal values, Sym the
// symbol-heap id for identifiers, Str the decoded bytes of a string
// literal, and Op/Prec the operator table entry for operators. Pos is the
// byte offset of the token's first character in the input.
type Token struct {
	Kind Kind
	Ch   byte // punctuation or operator base character
	Sym  symtab.SymbolID
	Val  int64
	Str  []byte
	Op   Opcode
	Prec int
	Pos  int64
}

// Is reports whether the token is the given punctuation character.
func (t Token) Is(ch byte) bool {
	return t.Kind == Punct && t.Ch == ch
}

// IsOp reports whether the token is the given operator.
func (t Token) IsOp(op Opcode) bool {
	return t.Kind == Op && t.Op == op
}

// opEntry maps an operator spelling to its opcode and precedence level.
// Longer spellings are listed first for each base character so the scanner
// can match greedily.
type opEntry struct {
	seq  string
	op   Opcode
	prec int
}

var opTable = []opEntry{
	{"<<=", OpShlAssign, 0},
	{">>=", OpShrAssign, 0},
	{"++", OpInc, 11},
	{"--", OpDec, 11},
	{"==", OpEq, 5},
	{"!=", OpNe, 5},
	{"<=", OpLe, 4},
	{">=", OpGe, 4},
	{"<<", OpShl, 3},
	{">>", OpShr, 3},
	{"&&", OpLAnd, 9},
	{"||", OpLOr, 10},
	{"+=", OpAddAssign, 0},
	{"-=", OpSubAssign, 0},
	{"*=", OpMulAssign, 0},
	{"/=", OpDivAssign, 0},
	{"%=", OpModAssign, 0},
	{"&=", OpAndAssign, 0},
	{"^=", OpXorAssign, 0},
	{"|=", OpOrAssign, 0},
	{"*", OpMul, 1},
	{"/", OpDiv, 1},
	{"%", OpMod, 1},
	{"+", OpAdd, 2},
	{"-", OpSub, 2},
	{"<", OpLt, 4},
	{">", OpGt, 4},
	{"&", OpAnd, 6},
	{"^", OpXor, 7},
	{"|", OpOr, 8},
	{"!", OpNot, 0},
	{"~", OpBitNot, 0},
}
