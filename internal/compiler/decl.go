package compiler

import (
	"github.com/tinyrange/occ/internal/lexer"
	"github.com/tinyrange/occ/internal/symtab"
)

// declarations compiles the top level of a source unit: global variable
// declarations and function definitions, in any order, until end of input.
func (p *parser) declarations() error {
	for p.tok.Kind != lexer.EOF {
		var err error
		if p.tok.Kind == lexer.Ident && p.tok.Sym == symtab.KwInt {
			err = p.globalDecl()
		} else {
			err = p.funcDecl()
		}
		if err != nil {
			return err
		}
		if err := p.buf.Err(); err != nil {
			return err
		}
	}
	return nil
}

// globalDecl compiles "int a, b, c;" at file scope: each name gets a
// zero-initialized word in the data region. "int name(" instead begins a
// function definition with a spelled-out return type.
func (p *parser) globalDecl() error {
	if err := p.next(); err != nil {
		return err
	}
	w := p.em.WordBytes()
	first := true
	for {
		if p.tok.Kind != lexer.Ident || p.tok.Sym <= symtab.LastReserved {
			return p.errf("identifier expected in declaration")
		}
		sym := p.syms.Get(p.tok.Sym)
		if err := p.next(); err != nil {
			return err
		}
		if first && p.tok.Is('(') {
			return p.funcBody(sym)
		}
		first = false
		off, err := p.buf.AllocData(w, w)
		if err != nil {
			return err
		}
		sym.Kind = symtab.KindGlobal
		sym.Value = int64(off)
		if !p.tok.Is(',') {
			break
		}
		if err := p.next(); err != nil {
			return err
		}
	}
	return p.skip(';')
}

// funcDecl compiles one untyped function definition at the top level.
func (p *parser) funcDecl() error {
	if p.tok.Kind != lexer.Ident || p.tok.Sym <= symtab.LastReserved {
		return p.errf("declaration expected, found %s", p.tok.Kind)
	}
	sym := p.syms.Get(p.tok.Sym)
	if err := p.next(); err != nil {
		return err
	}
	if !p.tok.Is('(') {
		return p.errf("'(' expected after function name")
	}
	return p.funcBody(sym)
}

// funcBody compiles a definition from the parameter list on. The function's
// name is bound to the current text offset and any calls made to it before
// this point are patched here.
func (p *parser) funcBody(sym *symtab.Symbol) error {
	pc := p.buf.PC()
	for _, off := range sym.Pending {
		p.em.PatchCall(off, pc)
	}
	sym.Pending = nil
	sym.Kind = symtab.KindFunc
	sym.Value = int64(pc)
	if err := p.next(); err != nil {
		return err
	}

	p.loc = 0
	w := int64(p.em.WordBytes())
	nparams := 0
	for !p.tok.Is(')') {
		if p.tok.Kind == lexer.Ident && p.tok.Sym == symtab.KwInt {
			if err := p.next(); err != nil {
				return err
			}
		}
		if p.tok.Kind != lexer.Ident || p.tok.Sym <= symtab.LastReserved {
			return p.errf("parameter name expected")
		}
		ps := p.syms.Get(p.tok.Sym)
		p.loc += w
		ps.Kind = symtab.KindLocal
		ps.Value = -p.loc
		nparams++
		if err := p.next(); err != nil {
			return err
		}
		if p.tok.Is(',') {
			if err := p.next(); err != nil {
				return err
			}
		} else if !p.tok.Is(')') {
			return p.errf("',' or ')' expected in parameter list")
		}
	}
	if err := p.next(); err != nil {
		return err
	}

	p.retLabel = p.buf.NewLabel()
	p.haveBrk = false
	fp, err := p.em.Prologue(nparams)
	if err != nil {
		return err
	}
	if !p.tok.Is('{') {
		return p.errf("function body expected")
	}
	if err := p.stmt(); err != nil {
		return err
	}
	p.em.Bind(p.retLabel)
	p.em.Epilogue()
	p.em.SetFrameSize(fp, int(p.loc))
	return nil
}

// localDecls compiles the "int x, y;" lines at the head of a block. Each
// name gets a fresh frame slot; redeclaring a name shadows it for the rest
// of the unit, since bindings are not restored at block exit.
func (p *parser) localDecls() error {
	w := int64(p.em.WordBytes())
	for p.tok.Kind == lexer.Ident && p.tok.Sym == symtab.KwInt {
		if err := p.next(); err != nil {
			return err
		}
		for {
			if p.tok.Kind != lexer.Ident || p.tok.Sym <= symtab.LastReserved {
				return p.errf("identifier expected in declaration")
			}
			sym := p.syms.Get(p.tok.Sym)
			p.loc += w
			sym.Kind = symtab.KindLocal
			sym.Value = -p.loc
			if err := p.next(); err != nil {
				return err
			}
			if !p.tok.Is(',') {
				break
			}
			if err := p.next(); err != nil {
				return err
			}
		}
		if err := p.skip(';'); err != nil {
			return err
		}
	}
	return nil
}
