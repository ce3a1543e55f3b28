// Package symtab implements the compiler's symbol heap: a fixed-capacity
// arena of symbol records addressed by integer ids, plus the macro-body
// arena that backs #define expansion.
//
// Symbols are identified by SymbolID everywhere in the compiler. Raw
// addresses never leak out of this package, so the arena can be relocated
// and bounds-checked freely.
package symtab

import "fmt"

// SymbolID indexes a symbol record in the table's arena.
type SymbolID int32

// None is the zero SymbolID sentinel for "no symbol".
const None SymbolID = -1

// Kind classifies a symbol record.
type Kind uint8

const (
	// KindForward marks an identifier that has been seen but not yet
	// defined. Call sites targeting it are collected in Pending.
	KindForward Kind = iota
	KindKeyword
	KindMacro
	KindGlobal
	KindLocal
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindForward:
		return "forward"
	case KindKeyword:
		return "keyword"
	case KindMacro:
		return "macro"
	case KindGlobal:
		return "global"
	case KindLocal:
		return "local"
	case KindFunc:
		return "func"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Keywords are interned first, at fixed ids, so the parser can switch on
// them directly.
const (
	KwInt SymbolID = iota
	KwIf
	KwElse
	KwWhile
	KwBreak
	KwReturn
	KwFor
	KwDefine
	KwMain
	numKeywords
)

// NumKeywords is the number of pre-interned keyword symbols. Every id below
// LastReserved is a reserved word; KwMain is pre-interned but behaves as an
// ordinary identifier.
const NumKeywords = int(numKeywords)

// LastReserved is the highest SymbolID that names a reserved word.
const LastReserved = KwDefine

var keywordNames = [...]string{"int", "if", "else", "while", "break", "return", "for", "define", "main"}

// MacroRef locates a captured macro body inside the macro arena.
type MacroRef struct {
	Off int32
	Len int32
}

// Symbol is a fixed-size record describing one interned identifier.
type Symbol struct {
	Name  string
	Kind  Kind
	Value int64 // global data offset, local frame offset, or function text offset
	Macro MacroRef
	// Pending holds text offsets of unresolved call displacements that
	// must be patched once this symbol's definition is seen.
	Pending []int
}

// Table is the symbol heap. It is allocated once per compilation and never
// resized; interning past capacity is an error.
type Table struct {
	syms    []Symbol
	index   map[string]SymbolID
	maxSyms int

	macro    []byte
	macroCap int
}

// New creates a table pre-loaded with the language keywords at their fixed
// ids. maxSymbols bounds the number of distinct identifiers; macroCap bounds
// the total captured macro-body bytes.
func New(maxSymbols, macroCap int) *Table {
	t := &Table{
		syms:     make([]Symbol, 0, NumKeywords),
		index:    make(map[string]SymbolID, NumKeywords),
		maxSyms:  maxSymbols,
		macro:    make([]byte, 0, macroCap),
		macroCap: macroCap,
	}
	for id, name := range keywordNames {
		t.syms = append(t.syms, Symbol{Name: name, Kind: KindKeyword})
		t.index[name] = SymbolID(id)
	}
	// main is interned early for its well-known id but is not a reserved
	// word; it becomes a function symbol like any other.
	t.syms[KwMain].Kind = KindForward
	return t
}

// Intern returns the id for name, appending a zero-initialized forward
// symbol if name has not been seen before.
func (t *Table) Intern(name string) (SymbolID, error) {
	if id, ok := t.index[name]; ok {
		return id, nil
	}
	if len(t.syms) >= t.maxSyms {
		return None, fmt.Errorf("symbol heap exhausted (%d symbols)", t.maxSyms)
	}
	id := SymbolID(len(t.syms))
	t.syms = append(t.syms, Symbol{Name: name, Kind: KindForward})
	t.index[name] = id
	return id, nil
}

// Get returns mutable access to the symbol record for id.
func (t *Table) Get(id SymbolID) *Symbol {
	return &t.syms[id]
}

// Len reports the number of interned symbols, keywords included.
func (t *Table) Len() int {
	return len(t.syms)
}

// DefineMacro captures body into the macro arena and marks id as a macro.
func (t *Table) DefineMacro(id SymbolID, body []byte) error {
	if len(t.macro)+len(body) > t.macroCap {
		return fmt.Errorf("macro arena exhausted (%d bytes)", t.macroCap)
	}
	ref := MacroRef{Off: int32(len(t.macro)), Len: int32(len(body))}
	t.macro = append(t.macro, body...)
	s := &t.syms[id]
	s.Kind = KindMacro
	s.Macro = ref
	return nil
}

// MacroBody returns the captured body for a macro symbol.
func (t *Table) MacroBody(id SymbolID) []byte {
	ref := t.syms[id].Macro
	return t.macro[ref.Off : ref.Off+ref.Len]
}

// Unresolved returns every symbol that still has pending call sites after
// compilation. These surface as runtime failures, not compile errors.
func (t *Table) Unresolved() []*Symbol {
	var out []*Symbol
	for i := range t.syms {
		if len(t.syms[i].Pending) > 0 {
			out = append(out, &t.syms[i])
		}
	}
	return out
}
