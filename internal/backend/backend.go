// Package backend defines the narrow instruction-emission interface the
// parser drives. The parser never writes raw bytes; a different target ISA
// needs only a new Emitter implementation registered here, with no change
// to lexer or parser logic.
package backend

import (
	"fmt"
	"sync"

	"github.com/tinyrange/occ/internal/codebuf"
)

// Width selects between the two value sizes the language distinguishes.
type Width uint8

const (
	Word Width = iota // int and pointers, one machine word
	Byte              // char
)

// Var locates a variable's storage: a frame offset for locals and
// parameters, or a data-region offset for globals.
type Var struct {
	Local bool
	Off   int64
}

// BinOp is a two-operand ALU operation. The left operand is the value most
// recently pushed with PushAcc, the right operand is the accumulator, and
// the result replaces the accumulator.
type BinOp uint8

const (
	Add BinOp = iota
	Sub
	Mul
	Div
	Mod
	Shl
	Shr
	And
	Xor
	Or
)

// Cond is a signed comparison producing a normalized 0/1 boolean.
type Cond uint8

const (
	Eq Cond = iota
	Ne
	Lt
	Ge
	Le
	Gt
)

// PatchSite references a reserved immediate that is patched once the
// surrounding construct's final value is known.
type PatchSite int

// FramePatch references a function prologue's frame-size immediate.
type FramePatch int

// Emitter is the instruction-emission contract. All operations append to
// the code buffer at its cursor; multi-byte immediates use the execution
// host's byte order since generated code runs in the same process.
type Emitter interface {
	// LoadImm loads a constant into the accumulator.
	LoadImm(v int64)
	// LoadDataAddr loads the absolute address of a data-region offset,
	// recording a relocation.
	LoadDataAddr(dataOff int)

	LoadVar(v Var)
	StoreVar(v Var)
	// AddrVar loads a variable's address into the accumulator.
	AddrVar(v Var)
	// IncVar adds delta to a variable in place, leaving the accumulator
	// untouched (post-increment/decrement support).
	IncVar(v Var, delta int8)

	// LoadIndirect replaces the accumulator (an address) with the value it
	// points at. StoreIndirect writes the accumulator through the address
	// pushed earlier with PushAcc.
	LoadIndirect(w Width)
	StoreIndirect(w Width)

	PushAcc()
	Binary(op BinOp)
	// Compare pops the left operand and produces a 0/1 boolean for
	// left CMP accumulator. CompareZero compares the accumulator against
	// zero without a pushed operand.
	Compare(c Cond)
	CompareZero(c Cond)
	Neg()
	BitNot()

	Jump(l codebuf.Label)
	// BranchIf tests the accumulator and branches to l when its truth
	// value equals whenTrue.
	BranchIf(whenTrue bool, l codebuf.Label)
	Bind(l codebuf.Label)

	// BeginCall reserves stack space for outgoing arguments with a
	// placeholder size, patched by the EndCall variants once the argument
	// count is known. For indirect calls the accumulator holds the target
	// and is spilled alongside the reservation.
	BeginCall(indirect bool) PatchSite
	// StoreArg stores the accumulator into outgoing argument slot i.
	StoreArg(i int)
	// EndCallDirect calls a function already bound at a text offset.
	EndCallDirect(site PatchSite, n int, target int) error
	// EndCallForward calls a not-yet-defined function and returns the
	// text offset of the unresolved displacement for the caller to chain.
	EndCallForward(site PatchSite, n int) (int, error)
	EndCallIndirect(site PatchSite, n int) error
	// EndCallAbsolute calls an externally resolved native symbol.
	EndCallAbsolute(site PatchSite, n int, addr uint64) error
	// PatchCall resolves one pending forward displacement to target.
	PatchCall(off, target int)

	// Prologue opens a function with nparams incoming parameters assigned
	// ascending frame slots; the frame-size immediate is patched through
	// SetFrameSize once the body has been parsed.
	Prologue(nparams int) (FramePatch, error)
	Epilogue()
	SetFrameSize(f FramePatch, localBytes int)

	// TrapStub emits the stub unresolved forward calls are pointed at so
	// a genuinely undefined function fails when reached, not at compile
	// time. Returns the stub's text offset.
	TrapStub() int

	// WordBytes is the storage size of int and pointer values.
	WordBytes() int
}

// Factory builds an emitter over a code buffer.
type Factory func(b *codebuf.Buffer) Emitter

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register wires an architecture's emitter into the compiler. It panics on
// duplicate registration so mistakes are caught during init.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("backend: %q already registered", name))
	}
	registry[name] = f
}

// New returns an emitter for the named architecture.
func New(name string, b *codebuf.Buffer) (Emitter, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if f, ok := registry[name]; ok {
		return f(b), nil
	}
	return nil, fmt.Errorf("backend: no emitter registered for %q", name)
}
