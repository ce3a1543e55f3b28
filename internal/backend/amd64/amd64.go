// Package amd64 implements the instruction emitter for x86-64. Values are
// 64-bit, the accumulator is RAX and the secondary register RCX, matching
// the two-register evaluation scheme of the parser. Functions follow the
// System V register convention for up to six parameters so compiled code
// can call into resolved native symbols directly.
package amd64

import (
	"fmt"

	"github.com/tinyrange/occ/internal/backend"
	"github.com/tinyrange/occ/internal/codebuf"
)

// MaxArgs is the number of register-passed parameters and call arguments
// supported by this backend.
const MaxArgs = 6

const wordBytes = 8

func init() {
	backend.Register("amd64", func(b *codebuf.Buffer) backend.Emitter {
		return &emitter{b: b}
	})
}

// Every stack adjustment the emitter makes is a multiple of 16 bytes:
// value spills occupy two slots and argument reservations are rounded up.
// RSP therefore stays 16-aligned from the prologue on, which is what the
// calling convention requires at every call instruction, including calls
// nested inside another call's argument expressions.
type emitter struct {
	b *codebuf.Buffer
}

func (e *emitter) WordBytes() int { return wordBytes }

func (e *emitter) LoadImm(v int64) {
	if v == int64(int32(v)) {
		e.b.Emit(0x48, 0xC7, 0xC0) // mov rax, imm32 (sign-extended)
		e.b.EmitU32(uint32(v))
		return
	}
	e.b.Emit(0x48, 0xB8) // movabs rax, imm64
	e.b.EmitU64(uint64(v))
}

// loadDataAddr emits a movabs of a data-region address into the register
// selected by the opcode tail, recording the relocation.
func (e *emitter) relocImm64(dataOff int) {
	site := e.b.PC()
	e.b.EmitU64(0)
	e.b.Reloc(site, dataOff)
}

func (e *emitter) LoadDataAddr(dataOff int) {
	e.b.Emit(0x48, 0xB8) // movabs rax, imm64
	e.relocImm64(dataOff)
}

func (e *emitter) LoadVar(v backend.Var) {
	if v.Local {
		e.b.Emit(0x48, 0x8B, 0x85) // mov rax, [rbp+disp32]
		e.b.EmitU32(uint32(int32(v.Off)))
		return
	}
	e.b.Emit(0x48, 0xA1) // mov rax, moffs64
	e.relocImm64(int(v.Off))
}

func (e *emitter) StoreVar(v backend.Var) {
	if v.Local {
		e.b.Emit(0x48, 0x89, 0x85) // mov [rbp+disp32], rax
		e.b.EmitU32(uint32(int32(v.Off)))
		return
	}
	e.b.Emit(0x48, 0xA3) // mov moffs64, rax
	e.relocImm64(int(v.Off))
}

func (e *emitter) AddrVar(v backend.Var) {
	if v.Local {
		e.b.Emit(0x48, 0x8D, 0x85) // lea rax, [rbp+disp32]
		e.b.EmitU32(uint32(int32(v.Off)))
		return
	}
	e.LoadDataAddr(int(v.Off))
}

func (e *emitter) IncVar(v backend.Var, delta int8) {
	if v.Local {
		e.b.Emit(0x48, 0x83, 0x85) // add qword [rbp+disp32], imm8
		e.b.EmitU32(uint32(int32(v.Off)))
		e.b.Emit(byte(delta))
		return
	}
	e.b.Emit(0x49, 0xBB) // movabs r11, imm64
	e.relocImm64(int(v.Off))
	e.b.Emit(0x49, 0x83, 0x03, byte(delta)) // add qword [r11], imm8
}

func (e *emitter) LoadIndirect(w backend.Width) {
	if w == backend.Byte {
		e.b.Emit(0x48, 0x0F, 0xBE, 0x00) // movsx rax, byte [rax]
		return
	}
	e.b.Emit(0x48, 0x8B, 0x00) // mov rax, [rax]
}

func (e *emitter) StoreIndirect(w backend.Width) {
	e.popSecondary()
	if w == backend.Byte {
		e.b.Emit(0x88, 0x01) // mov [rcx], al
		return
	}
	e.b.Emit(0x48, 0x89, 0x01) // mov [rcx], rax
}

func (e *emitter) PushAcc() {
	e.b.Emit(0x50, 0x50) // push rax, twice for a 16-byte slot
}

func (e *emitter) popSecondary() {
	e.b.Emit(0x59)                   // pop rcx
	e.b.Emit(0x48, 0x83, 0xC4, 0x08) // add rsp, 8 (discard the pad copy)
}

// Binary pops the left operand into RCX and combines it with RAX. The
// non-commutative forms route through an exchange rather than extra
// addressing modes, mirroring the original's handling of %.
func (e *emitter) Binary(op backend.BinOp) {
	e.popSecondary()
	switch op {
	case backend.Add:
		e.b.Emit(0x48, 0x01, 0xC8) // add rax, rcx
	case backend.Sub:
		e.b.Emit(0x48, 0x29, 0xC1) // sub rcx, rax
		e.b.Emit(0x48, 0x89, 0xC8) // mov rax, rcx
	case backend.Mul:
		e.b.Emit(0x48, 0x0F, 0xAF, 0xC1) // imul rax, rcx
	case backend.Div, backend.Mod:
		e.b.Emit(0x48, 0x91)       // xchg rax, rcx (dividend to rax)
		e.b.Emit(0x48, 0x99)       // cqo
		e.b.Emit(0x48, 0xF7, 0xF9) // idiv rcx
		if op == backend.Mod {
			e.b.Emit(0x48, 0x92) // xchg rax, rdx
		}
	case backend.Shl:
		e.b.Emit(0x48, 0x91)       // xchg rax, rcx (count to cl)
		e.b.Emit(0x48, 0xD3, 0xE0) // shl rax, cl
	case backend.Shr:
		e.b.Emit(0x48, 0x91)
		e.b.Emit(0x48, 0xD3, 0xF8) // sar rax, cl
	case backend.And:
		e.b.Emit(0x48, 0x21, 0xC8) // and rax, rcx
	case backend.Xor:
		e.b.Emit(0x48, 0x31, 0xC8) // xor rax, rcx
	case backend.Or:
		e.b.Emit(0x48, 0x09, 0xC8) // or rax, rcx
	}
}

func setccOpcode(c backend.Cond) byte {
	switch c {
	case backend.Eq:
		return 0x94
	case backend.Ne:
		return 0x95
	case backend.Lt:
		return 0x9C
	case backend.Ge:
		return 0x9D
	case backend.Le:
		return 0x9E
	default:
		return 0x9F // Gt
	}
}

func (e *emitter) Compare(c backend.Cond) {
	e.popSecondary()
	e.b.Emit(0x48, 0x39, 0xC1) // cmp rcx, rax (left relative to right)
	e.boolFromFlags(c)
}

func (e *emitter) CompareZero(c backend.Cond) {
	e.b.Emit(0x48, 0x83, 0xF8, 0x00) // cmp rax, 0
	e.boolFromFlags(c)
}

func (e *emitter) boolFromFlags(c backend.Cond) {
	e.b.Emit(0xB8)  // mov eax, 0 (flags preserved)
	e.b.EmitU32(0)
	e.b.Emit(0x0F, setccOpcode(c), 0xC0) // setcc al
}

func (e *emitter) Neg() {
	e.b.Emit(0x48, 0xF7, 0xD8) // neg rax
}

func (e *emitter) BitNot() {
	e.b.Emit(0x48, 0xF7, 0xD0) // not rax
}

func (e *emitter) Jump(l codebuf.Label) {
	e.b.Emit(0xE9)
	site := e.b.PC()
	e.b.EmitU32(0)
	e.b.Refer(l, site)
}

func (e *emitter) BranchIf(whenTrue bool, l codebuf.Label) {
	e.b.Emit(0x48, 0x85, 0xC0) // test rax, rax
	if whenTrue {
		e.b.Emit(0x0F, 0x85) // jnz
	} else {
		e.b.Emit(0x0F, 0x84) // jz
	}
	site := e.b.PC()
	e.b.EmitU32(0)
	e.b.Refer(l, site)
}

func (e *emitter) Bind(l codebuf.Label) {
	e.b.Bind(l)
}

func (e *emitter) BeginCall(indirect bool) backend.PatchSite {
	if indirect {
		e.PushAcc() // call target rides just above the argument area
	}
	e.b.Emit(0x48, 0x81, 0xEC) // sub rsp, imm32 (patched with final size)
	site := e.b.PC()
	e.b.EmitU32(0)
	return backend.PatchSite(site)
}

func (e *emitter) StoreArg(i int) {
	e.b.Emit(0x48, 0x89, 0x84, 0x24) // mov [rsp+disp32], rax
	e.b.EmitU32(uint32(i * wordBytes))
}

// argRegLoad holds the mov [rsp+disp32] encodings for the six argument
// registers in calling-convention order: rdi, rsi, rdx, rcx, r8, r9.
var argRegLoad = [MaxArgs][]byte{
	{0x48, 0x8B, 0xBC, 0x24},
	{0x48, 0x8B, 0xB4, 0x24},
	{0x48, 0x8B, 0x94, 0x24},
	{0x48, 0x8B, 0x8C, 0x24},
	{0x4C, 0x8B, 0x84, 0x24},
	{0x4C, 0x8B, 0x8C, 0x24},
}

func (e *emitter) loadArgRegisters(n int) error {
	if n > MaxArgs {
		return fmt.Errorf("amd64: calls support at most %d arguments, got %d", MaxArgs, n)
	}
	for i := 0; i < n; i++ {
		e.b.Emit(argRegLoad[i]...)
		e.b.EmitU32(uint32(i * wordBytes))
	}
	return nil
}

// reserveSize picks the argument-area size: n slots rounded up to keep
// the reservation a multiple of 16.
func reserveSize(n int) int {
	return (n*wordBytes + 15) &^ 15
}

func (e *emitter) releaseArgs(bytes int) {
	e.b.Emit(0x48, 0x81, 0xC4) // add rsp, imm32
	e.b.EmitU32(uint32(bytes))
}

func (e *emitter) EndCallDirect(site backend.PatchSite, n int, target int) error {
	size := reserveSize(n)
	e.b.PatchU32(int(site), uint32(size))
	if err := e.loadArgRegisters(n); err != nil {
		return err
	}
	e.b.Emit(0xE8)
	pos := e.b.PC()
	e.b.EmitU32(uint32(int32(target - (pos + 4))))
	e.releaseArgs(size)
	return nil
}

func (e *emitter) EndCallForward(site backend.PatchSite, n int) (int, error) {
	size := reserveSize(n)
	e.b.PatchU32(int(site), uint32(size))
	if err := e.loadArgRegisters(n); err != nil {
		return 0, err
	}
	e.b.Emit(0xE8)
	pos := e.b.PC()
	e.b.EmitU32(0)
	e.releaseArgs(size)
	return pos, nil
}

func (e *emitter) EndCallIndirect(site backend.PatchSite, n int) error {
	size := reserveSize(n)
	e.b.PatchU32(int(site), uint32(size))
	if err := e.loadArgRegisters(n); err != nil {
		return err
	}
	e.b.Emit(0xFF, 0x94, 0x24) // call [rsp+disp32] (the spilled target)
	e.b.EmitU32(uint32(size))
	e.releaseArgs(size + 2*wordBytes)
	return nil
}

func (e *emitter) EndCallAbsolute(site backend.PatchSite, n int, addr uint64) error {
	size := reserveSize(n)
	e.b.PatchU32(int(site), uint32(size))
	if err := e.loadArgRegisters(n); err != nil {
		return err
	}
	e.b.Emit(0x49, 0xBB) // movabs r11, addr
	e.b.EmitU64(addr)
	e.b.Emit(0x31, 0xC0)       // xor eax, eax (variadic callees read AL)
	e.b.Emit(0x41, 0xFF, 0xD3) // call r11
	e.releaseArgs(size)
	return nil
}

func (e *emitter) PatchCall(off, target int) {
	e.b.PatchU32(off, uint32(int32(target-(off+4))))
}

// paramSpill holds the mov [rbp+disp32] encodings storing the argument
// registers into their frame slots.
var paramSpill = [MaxArgs][]byte{
	{0x48, 0x89, 0xBD}, // rdi
	{0x48, 0x89, 0xB5}, // rsi
	{0x48, 0x89, 0x95}, // rdx
	{0x48, 0x89, 0x8D}, // rcx
	{0x4C, 0x89, 0x85}, // r8
	{0x4C, 0x89, 0x8D}, // r9
}

func (e *emitter) Prologue(nparams int) (backend.FramePatch, error) {
	if nparams > MaxArgs {
		return 0, fmt.Errorf("amd64: functions support at most %d parameters, got %d", MaxArgs, nparams)
	}
	e.b.Emit(0x55)             // push rbp
	e.b.Emit(0x48, 0x89, 0xE5) // mov rbp, rsp
	e.b.Emit(0x48, 0x81, 0xEC) // sub rsp, imm32 (frame size, patched)
	site := e.b.PC()
	e.b.EmitU32(0)
	for i := 0; i < nparams; i++ {
		e.b.Emit(paramSpill[i]...)
		e.b.EmitU32(uint32(int32(-(i + 1) * wordBytes)))
	}
	return backend.FramePatch(site), nil
}

func (e *emitter) Epilogue() {
	e.b.Emit(0xC9) // leave
	e.b.Emit(0xC3) // ret
}

func (e *emitter) SetFrameSize(f backend.FramePatch, localBytes int) {
	aligned := (localBytes + 15) &^ 15
	e.b.PatchU32(int(f), uint32(aligned))
}

func (e *emitter) TrapStub() int {
	pos := e.b.PC()
	e.b.Emit(0x0F, 0x0B) // ud2: undefined function reached at runtime
	return pos
}
