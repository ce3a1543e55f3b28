package compiler

import (
	"github.com/tinyrange/occ/internal/codebuf"
	"github.com/tinyrange/occ/internal/lexer"
	"github.com/tinyrange/occ/internal/symtab"
)

// testExpr compiles a parenthesized condition and a branch taken when it
// is false, returning the branch's label.
func (p *parser) testExpr() (codebuf.Label, error) {
	if err := p.skip('('); err != nil {
		return 0, err
	}
	if err := p.expr(); err != nil {
		return 0, err
	}
	if err := p.skip(')'); err != nil {
		return 0, err
	}
	l := p.buf.NewLabel()
	p.em.BranchIf(false, l)
	return l, nil
}

// stmt compiles one statement. Loop statements install themselves as the
// enclosing break target for the duration of their body.
func (p *parser) stmt() error {
	if err := p.enter(); err != nil {
		return err
	}
	defer p.leave()

	if p.tok.Kind == lexer.Ident && p.tok.Sym <= symtab.LastReserved {
		switch p.tok.Sym {
		case symtab.KwIf:
			return p.ifStmt()
		case symtab.KwWhile:
			return p.whileStmt()
		case symtab.KwFor:
			return p.forStmt()
		case symtab.KwReturn:
			return p.returnStmt()
		case symtab.KwBreak:
			return p.breakStmt()
		}
		return p.errf("unexpected %q", p.syms.Get(p.tok.Sym).Name)
	}

	switch {
	case p.tok.Is('{'):
		if err := p.next(); err != nil {
			return err
		}
		if err := p.localDecls(); err != nil {
			return err
		}
		for !p.tok.Is('}') {
			if p.tok.Kind == lexer.EOF {
				return p.errf("'}' expected")
			}
			if err := p.stmt(); err != nil {
				return err
			}
			if err := p.buf.Err(); err != nil {
				return err
			}
		}
		return p.next()

	case p.tok.Is(';'):
		return p.next()

	default:
		if err := p.expr(); err != nil {
			return err
		}
		return p.skip(';')
	}
}

func (p *parser) ifStmt() error {
	if err := p.next(); err != nil {
		return err
	}
	els, err := p.testExpr()
	if err != nil {
		return err
	}
	if err := p.stmt(); err != nil {
		return err
	}
	if p.tok.Kind == lexer.Ident && p.tok.Sym == symtab.KwElse {
		if err := p.next(); err != nil {
			return err
		}
		done := p.buf.NewLabel()
		p.em.Jump(done)
		p.em.Bind(els)
		if err := p.stmt(); err != nil {
			return err
		}
		p.em.Bind(done)
		return nil
	}
	p.em.Bind(els)
	return nil
}

func (p *parser) whileStmt() error {
	if err := p.next(); err != nil {
		return err
	}
	head := p.buf.NewLabel()
	p.em.Bind(head)
	exit, err := p.testExpr()
	if err != nil {
		return err
	}
	if err := p.loopBody(exit); err != nil {
		return err
	}
	p.em.Jump(head)
	p.em.Bind(exit)
	return nil
}

// forStmt compiles for(init; cond; step). The step clause is emitted
// before the body, so the body jumps back to the step, which falls back
// through the condition test.
func (p *parser) forStmt() error {
	if err := p.next(); err != nil {
		return err
	}
	if err := p.skip('('); err != nil {
		return err
	}
	if !p.tok.Is(';') {
		if err := p.expr(); err != nil {
			return err
		}
	}
	if err := p.skip(';'); err != nil {
		return err
	}

	head := p.buf.NewLabel()
	p.em.Bind(head)
	exit := p.buf.NewLabel()
	if !p.tok.Is(';') {
		if err := p.expr(); err != nil {
			return err
		}
		p.em.BranchIf(false, exit)
	}
	if err := p.skip(';'); err != nil {
		return err
	}

	cont := head
	if !p.tok.Is(')') {
		body := p.buf.NewLabel()
		p.em.Jump(body)
		step := p.buf.NewLabel()
		p.em.Bind(step)
		if err := p.expr(); err != nil {
			return err
		}
		p.em.Jump(head)
		p.em.Bind(body)
		cont = step
	}
	if err := p.skip(')'); err != nil {
		return err
	}

	if err := p.loopBody(exit); err != nil {
		return err
	}
	p.em.Jump(cont)
	p.em.Bind(exit)
	return nil
}

// loopBody compiles a loop's body statement with exit installed as the
// break target, restoring the previous target afterwards.
func (p *parser) loopBody(exit codebuf.Label) error {
	savedBrk, savedHave := p.brkLabel, p.haveBrk
	p.brkLabel, p.haveBrk = exit, true
	err := p.stmt()
	p.brkLabel, p.haveBrk = savedBrk, savedHave
	return err
}

func (p *parser) returnStmt() error {
	if err := p.next(); err != nil {
		return err
	}
	if !p.tok.Is(';') {
		if err := p.expr(); err != nil {
			return err
		}
	}
	p.em.Jump(p.retLabel)
	return p.skip(';')
}

func (p *parser) breakStmt() error {
	if !p.haveBrk {
		return p.errf("break outside of a loop")
	}
	if err := p.next(); err != nil {
		return err
	}
	p.em.Jump(p.brkLabel)
	return p.skip(';')
}
