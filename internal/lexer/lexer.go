// Package lexer converts a character stream into tokens, applying
// single-line #define macro substitution transparently.
//
// The character source is two-level: a primary cursor over the input
// reader, and, while a macro body is being replayed, a secondary cursor
// over the captured body. When the secondary source is exhausted the
// lexer resumes at the character that was pending when expansion began.
// Only one macro body replays at a time; a macro whose body names another
// macro switches to the new body, which matches the original compiler's
// behavior of dropping the remainder of the outer body.
package lexer

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/tinyrange/occ/internal/symtab"
)

// Error is a lexical error with the byte offset at which it was detected.
type Error struct {
	Off int64
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lexical error at offset %d: %s", e.Off, e.Msg)
}

// Lexer scans one token at a time. It owns no arenas; interned names and
// macro bodies live in the symbol table.
type Lexer struct {
	r    *bufio.Reader
	syms *symtab.Table

	ch  int   // current character, -1 at end of input
	off int64 // bytes consumed from the primary source

	macro    []byte // body being replayed, nil when reading primary
	macroPos int
	savedCh  int

	expansions  int // macro switches since the last Next call
	maxExpand   int
	inDirective bool

	readErr error
}

// New returns a lexer over r. maxExpand bounds the number of macro
// expansions a single token request may trigger; exceeding it is treated
// as a self-referential macro and reported as a fatal error.
func New(r io.Reader, syms *symtab.Table, maxExpand int) (*Lexer, error) {
	l := &Lexer{
		r:         bufio.NewReader(r),
		syms:      syms,
		maxExpand: maxExpand,
	}
	if err := l.inp(); err != nil {
		return nil, err
	}
	return l, nil
}

// Offset returns the current byte offset in the primary source, used for
// best-effort positions in diagnostics.
func (l *Lexer) Offset() int64 {
	if l.off > 0 {
		return l.off - 1
	}
	return 0
}

func (l *Lexer) errf(format string, args ...any) error {
	return &Error{Off: l.Offset(), Msg: fmt.Sprintf(format, args...)}
}

// inp advances the character cursor by one, popping back to the primary
// source when a macro body runs out.
func (l *Lexer) inp() error {
	if l.macro != nil {
		if l.macroPos < len(l.macro) {
			l.ch = int(l.macro[l.macroPos])
			l.macroPos++
			return nil
		}
		l.macro = nil
		l.ch = l.savedCh
		return nil
	}
	b, err := l.r.ReadByte()
	if err == io.EOF {
		l.ch = -1
		return nil
	}
	if err != nil {
		l.readErr = err
		return fmt.Errorf("read source: %w", err)
	}
	l.ch = int(b)
	l.off++
	return nil
}

func isSpace(ch int) bool {
	switch ch {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	}
	return false
}

func isIdentChar(ch int) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' ||
		ch >= '0' && ch <= '9' || ch == '_'
}

// Next scans exactly one token, applying any pending macro substitution.
func (l *Lexer) Next() (Token, error) {
	l.expansions = 0
	return l.scan()
}

func (l *Lexer) scan() (Token, error) {
	for {
		if l.ch == '#' && !l.inDirective {
			if err := l.directive(); err != nil {
				return Token{}, err
			}
			continue
		}
		if !isSpace(l.ch) {
			break
		}
		if err := l.inp(); err != nil {
			return Token{}, err
		}
	}

	pos := l.Offset()
	if l.ch < 0 {
		return Token{Kind: EOF, Pos: pos}, nil
	}

	if isIdentChar(l.ch) {
		return l.scanIdent(pos)
	}

	c0 := byte(l.ch)
	if err := l.inp(); err != nil {
		return Token{}, err
	}

	switch c0 {
	case '\'':
		return l.scanChar(pos)
	case '"':
		return l.scanString(pos)
	case '/':
		if l.ch == '*' {
			if err := l.skipComment(pos); err != nil {
				return Token{}, err
			}
			return l.scan()
		}
	}

	return l.scanOperator(c0, pos)
}

// directive handles a '#' line. Only "#define NAME <rest-of-line>" has
// meaning; every other directive is skipped to end of line.
func (l *Lexer) directive() error {
	if err := l.inp(); err != nil { // past '#'
		return err
	}
	l.inDirective = true
	name, err := l.scan()
	l.inDirective = false
	if err != nil {
		return err
	}

	if name.Kind == Ident && name.Sym == symtab.KwDefine {
		l.inDirective = true
		target, err := l.scan()
		l.inDirective = false
		if err != nil {
			return err
		}
		if target.Kind != Ident {
			return l.errf("#define requires a name, got %s", target.Kind)
		}
		if target.Sym <= symtab.LastReserved {
			return l.errf("cannot redefine keyword %q", l.syms.Get(target.Sym).Name)
		}
		var body []byte
		for l.ch != '\n' && l.ch >= 0 {
			body = append(body, byte(l.ch))
			if err := l.inp(); err != nil {
				return err
			}
		}
		body = append(body, '\n')
		if err := l.syms.DefineMacro(target.Sym, body); err != nil {
			return l.errf("%v", err)
		}
		return nil
	}

	// Unknown directive: skip the rest of the line.
	for l.ch != '\n' && l.ch >= 0 {
		if err := l.inp(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Lexer) scanIdent(pos int64) (Token, error) {
	var buf []byte
	for isIdentChar(l.ch) {
		buf = append(buf, byte(l.ch))
		if err := l.inp(); err != nil {
			return Token{}, err
		}
	}
	if buf[0] >= '0' && buf[0] <= '9' {
		v, err := strconv.ParseInt(string(buf), 0, 64)
		if err != nil {
			return Token{}, l.errf("malformed number %q", buf)
		}
		return Token{Kind: Num, Val: v, Pos: pos}, nil
	}

	id, err := l.syms.Intern(string(buf))
	if err != nil {
		return Token{}, l.errf("%v", err)
	}
	if id > symtab.LastReserved && !l.inDirective && l.syms.Get(id).Kind == symtab.KindMacro {
		l.expansions++
		if l.expansions > l.maxExpand {
			return Token{}, l.errf("macro %q expands too deeply (self-referential?)", buf)
		}
		if l.macro == nil {
			l.savedCh = l.ch
		}
		l.macro = l.syms.MacroBody(id)
		l.macroPos = 0
		if err := l.inp(); err != nil {
			return Token{}, err
		}
		return l.scan()
	}
	return Token{Kind: Ident, Sym: id, Pos: pos}, nil
}

// scanChar reads a character constant. The only recognized escape is \n;
// any other backslashed character stands for itself. This matches the
// original language, which supported nothing else.
func (l *Lexer) scanChar(pos int64) (Token, error) {
	if l.ch < 0 {
		return Token{}, l.errf("unterminated character literal")
	}
	v, err := l.unescape()
	if err != nil {
		return Token{}, err
	}
	if l.ch != '\'' {
		return Token{}, l.errf("unterminated character literal")
	}
	if err := l.inp(); err != nil {
		return Token{}, err
	}
	return Token{Kind: Num, Val: int64(v), Pos: pos}, nil
}

func (l *Lexer) scanString(pos int64) (Token, error) {
	var buf []byte
	for l.ch != '"' {
		if l.ch < 0 {
			return Token{}, l.errf("unterminated string literal")
		}
		v, err := l.unescape()
		if err != nil {
			return Token{}, err
		}
		buf = append(buf, v)
	}
	if err := l.inp(); err != nil { // closing quote
		return Token{}, err
	}
	return Token{Kind: Str, Str: buf, Pos: pos}, nil
}

// unescape consumes one possibly-escaped character and returns its value.
func (l *Lexer) unescape() (byte, error) {
	if l.ch == '\\' {
		if err := l.inp(); err != nil {
			return 0, err
		}
		if l.ch < 0 {
			return 0, l.errf("unterminated escape")
		}
		if l.ch == 'n' {
			l.ch = '\n'
		}
	}
	v := byte(l.ch)
	return v, l.inp()
}

func (l *Lexer) skipComment(pos int64) error {
	if err := l.inp(); err != nil { // past '*'
		return err
	}
	for {
		if l.ch < 0 {
			return &Error{Off: pos, Msg: "unterminated comment"}
		}
		if l.ch != '*' {
			if err := l.inp(); err != nil {
				return err
			}
			continue
		}
		if err := l.inp(); err != nil {
			return err
		}
		if l.ch == '/' {
			return l.inp()
		}
	}
}

// scanOperator resolves c0 plus up to two follow characters against the
// operator table, falling back to the single-character form and finally
// to plain punctuation.
func (l *Lexer) scanOperator(c0 byte, pos int64) (Token, error) {
	opToken := func(e opEntry) Token {
		return Token{Kind: Op, Ch: c0, Op: e.op, Prec: e.prec, Pos: pos}
	}

	if l.ch >= 0 {
		for _, e := range opTable {
			if len(e.seq) < 2 || e.seq[0] != c0 || int(e.seq[1]) != l.ch {
				continue
			}
			if err := l.inp(); err != nil {
				return Token{}, err
			}
			if len(e.seq) == 3 {
				if l.ch == int(e.seq[2]) {
					return opToken(e), l.inp()
				}
				for _, e2 := range opTable {
					if e2.seq == e.seq[:2] {
						return opToken(e2), nil
					}
				}
			}
			return opToken(e), nil
		}
	}
	for _, e := range opTable {
		if len(e.seq) == 1 && e.seq[0] == c0 {
			return opToken(e), nil
		}
	}
	return Token{Kind: Punct, Ch: c0, Pos: pos}, nil
}
