// Package compiler implements the single-pass compiler: a precedence
// climbing expression parser and a recursive-descent statement parser that
// emit instructions while parsing. No AST is built; upon return from an
// expression production the generated code leaves the expression's value
// in the backend's accumulator.
//
// All compilation state lives in an explicit compiler value threaded
// through the parse functions. Nothing is ambient, so independent
// compilations never share arenas.
package compiler

import (
	"fmt"
	"io"

	"github.com/tinyrange/occ/internal/backend"
	"github.com/tinyrange/occ/internal/codebuf"
	"github.com/tinyrange/occ/internal/lexer"
	"github.com/tinyrange/occ/internal/symtab"
)

// Resolver looks up an externally linked native symbol by name. It is
// consulted the first time an undefined identifier is used; dump-mode
// callers pass nil to keep output free of process-specific addresses.
type Resolver func(name string) (uintptr, bool)

// Config carries the per-compilation arena capacities and limits. The
// zero value selects the defaults below.
type Config struct {
	// Backend names a registered instruction emitter.
	Backend string

	SymbolCap int // distinct identifiers
	MacroCap  int // captured macro-body bytes
	TextCap   int // code region bytes
	DataCap   int // global data region bytes

	// MaxDepth bounds expression/statement nesting; recursion depth is
	// proportional to source nesting, so the bound keeps pathological
	// inputs from exhausting the native call stack.
	MaxDepth int
	// MaxMacroExpand bounds macro expansions per token, catching
	// self-referential macros.
	MaxMacroExpand int

	Resolver Resolver
}

// DefaultConfig returns the standard capacities.
func DefaultConfig() Config {
	return Config{
		Backend:        "amd64",
		SymbolCap:      4096,
		MacroCap:       64 << 10,
		TextCap:        512 << 10,
		DataCap:        512 << 10,
		MaxDepth:       256,
		MaxMacroExpand: 32,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.SymbolCap == 0 {
		c.SymbolCap = d.SymbolCap
	}
	if c.MacroCap == 0 {
		c.MacroCap = d.MacroCap
	}
	if c.TextCap == 0 {
		c.TextCap = d.TextCap
	}
	if c.DataCap == 0 {
		c.DataCap = d.DataCap
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = d.MaxDepth
	}
	if c.MaxMacroExpand == 0 {
		c.MaxMacroExpand = d.MaxMacroExpand
	}
	return c
}

// SyntaxError is a parse failure with a best-effort byte offset. The
// compiler stops at the first error; there is no recovery.
type SyntaxError struct {
	Off int64
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Off, e.Msg)
}

// Compiler compiles one source unit at a time. Arenas are allocated fresh
// for every Compile call and become unreachable when it returns, so
// compilations never observe each other's state.
type Compiler struct {
	cfg Config
}

// New returns a compiler with the given configuration.
func New(cfg Config) *Compiler {
	return &Compiler{cfg: cfg.withDefaults()}
}

// Compile reads a full source unit from src and returns the finished
// program. The first lexical, syntax, capacity, or I/O failure aborts
// compilation.
func (c *Compiler) Compile(src io.Reader) (*codebuf.Program, error) {
	syms := symtab.New(c.cfg.SymbolCap, c.cfg.MacroCap)
	buf := codebuf.New(c.cfg.TextCap, c.cfg.DataCap)
	em, err := backend.New(c.cfg.Backend, buf)
	if err != nil {
		return nil, err
	}
	lex, err := lexer.New(src, syms, c.cfg.MaxMacroExpand)
	if err != nil {
		return nil, err
	}

	p := &parser{
		lex:      lex,
		syms:     syms,
		buf:      buf,
		em:       em,
		resolver: c.cfg.Resolver,
		maxDepth: c.cfg.MaxDepth,
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	if err := p.declarations(); err != nil {
		return nil, err
	}

	// Calls to functions that were never defined in this unit and did not
	// resolve externally stay valid images: they are pointed at a trap so
	// the failure happens if and when control reaches them.
	var unresolved []string
	if pending := syms.Unresolved(); len(pending) > 0 {
		stub := em.TrapStub()
		for _, s := range pending {
			for _, off := range s.Pending {
				em.PatchCall(off, stub)
			}
			s.Pending = nil
			unresolved = append(unresolved, s.Name)
		}
	}

	prog, err := buf.Finalize()
	if err != nil {
		return nil, err
	}
	if m := syms.Get(symtab.KwMain); m.Kind == symtab.KindFunc {
		prog.Entry = int(m.Value)
	}
	prog.Unresolved = unresolved
	return prog, nil
}
