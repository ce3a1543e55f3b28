package amd64

import (
	"bytes"
	"testing"

	"github.com/tinyrange/occ/internal/backend"
	"github.com/tinyrange/occ/internal/codebuf"
)

func newEmitter(t *testing.T) (backend.Emitter, *codebuf.Buffer) {
	t.Helper()
	b := codebuf.New(4096, 4096)
	e, err := backend.New("amd64", b)
	if err != nil {
		t.Fatalf("backend.New: %v", err)
	}
	return e, b
}

func finish(t *testing.T, b *codebuf.Buffer) []byte {
	t.Helper()
	prog, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return prog.Text
}

func TestLoadImm32(t *testing.T) {
	e, b := newEmitter(t)
	e.LoadImm(42)
	want := []byte{0x48, 0xC7, 0xC0, 42, 0, 0, 0}
	if got := finish(t, b); !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestLoadImmNegative(t *testing.T) {
	e, b := newEmitter(t)
	e.LoadImm(-1)
	want := []byte{0x48, 0xC7, 0xC0, 0xFF, 0xFF, 0xFF, 0xFF}
	if got := finish(t, b); !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestLoadImm64(t *testing.T) {
	e, b := newEmitter(t)
	e.LoadImm(1 << 40)
	got := finish(t, b)
	want := []byte{0x48, 0xB8, 0, 0, 0, 0, 0, 1, 0, 0}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestLocalLoadStore(t *testing.T) {
	e, b := newEmitter(t)
	v := backend.Var{Local: true, Off: -8}
	e.LoadVar(v)
	e.StoreVar(v)
	got := finish(t, b)
	want := []byte{
		0x48, 0x8B, 0x85, 0xF8, 0xFF, 0xFF, 0xFF, // mov rax, [rbp-8]
		0x48, 0x89, 0x85, 0xF8, 0xFF, 0xFF, 0xFF, // mov [rbp-8], rax
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestGlobalLoadRecordsRelocation(t *testing.T) {
	e, b := newEmitter(t)
	if _, err := b.AllocData(8, 8); err != nil {
		t.Fatalf("AllocData: %v", err)
	}
	e.LoadVar(backend.Var{Off: 0})
	prog, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if prog.Text[0] != 0x48 || prog.Text[1] != 0xA1 {
		t.Fatalf("opcode=% x, want 48 a1", prog.Text[:2])
	}
	if len(prog.Relocs) != 1 || prog.Relocs[0] != 2 {
		t.Fatalf("Relocs=%v, want [2]", prog.Relocs)
	}
}

func TestBinaryOps(t *testing.T) {
	tests := []struct {
		op   backend.BinOp
		want []byte
	}{
		{backend.Add, []byte{0x48, 0x01, 0xC8}},
		{backend.Sub, []byte{0x48, 0x29, 0xC1, 0x48, 0x89, 0xC8}},
		{backend.Mul, []byte{0x48, 0x0F, 0xAF, 0xC1}},
		{backend.Div, []byte{0x48, 0x91, 0x48, 0x99, 0x48, 0xF7, 0xF9}},
		{backend.Mod, []byte{0x48, 0x91, 0x48, 0x99, 0x48, 0xF7, 0xF9, 0x48, 0x92}},
		{backend.Shl, []byte{0x48, 0x91, 0x48, 0xD3, 0xE0}},
		{backend.Shr, []byte{0x48, 0x91, 0x48, 0xD3, 0xF8}},
		{backend.And, []byte{0x48, 0x21, 0xC8}},
		{backend.Xor, []byte{0x48, 0x31, 0xC8}},
		{backend.Or, []byte{0x48, 0x09, 0xC8}},
	}
	pop := []byte{0x59, 0x48, 0x83, 0xC4, 0x08}
	for _, tt := range tests {
		e, b := newEmitter(t)
		e.Binary(tt.op)
		want := append(append([]byte(nil), pop...), tt.want...)
		if got := finish(t, b); !bytes.Equal(got, want) {
			t.Errorf("op %d: got % x, want % x", tt.op, got, want)
		}
	}
}

func TestCompareNormalizesBoolean(t *testing.T) {
	e, b := newEmitter(t)
	e.Compare(backend.Lt)
	got := finish(t, b)
	want := []byte{
		0x59, 0x48, 0x83, 0xC4, 0x08, // pop left
		0x48, 0x39, 0xC1, // cmp rcx, rax
		0xB8, 0, 0, 0, 0, // mov eax, 0
		0x0F, 0x9C, 0xC0, // setl al
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestBranchDisplacements(t *testing.T) {
	e, b := newEmitter(t)
	l := b.NewLabel()
	e.BranchIf(false, l) // jz: 9 bytes total
	e.LoadImm(1)         // 7 bytes
	e.Bind(l)
	got := finish(t, b)
	// Displacement counts from the end of the jz instruction.
	want := []byte{
		0x48, 0x85, 0xC0, // test rax, rax
		0x0F, 0x84, 7, 0, 0, 0, // jz +7
		0x48, 0xC7, 0xC0, 1, 0, 0, 0,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestJumpBackward(t *testing.T) {
	e, b := newEmitter(t)
	l := b.NewLabel()
	e.Bind(l)
	e.Jump(l)
	got := finish(t, b)
	want := []byte{0xE9, 0xFB, 0xFF, 0xFF, 0xFF} // jmp -5
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestCallReservationAlignment(t *testing.T) {
	tests := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 16},
		{2, 16},
		{3, 32},
		{6, 48},
	}
	for _, tt := range tests {
		if got := reserveSize(tt.n); got != tt.want {
			t.Errorf("reserveSize(%d)=%d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestDirectCallLayout(t *testing.T) {
	e, b := newEmitter(t)
	site := e.BeginCall(false)
	e.LoadImm(7)
	e.StoreArg(0)
	if err := e.EndCallDirect(site, 1, 0); err != nil {
		t.Fatalf("EndCallDirect: %v", err)
	}
	got := finish(t, b)

	// sub rsp is patched with the 16-byte rounded argument area.
	if got[0] != 0x48 || got[1] != 0x81 || got[2] != 0xEC {
		t.Fatalf("missing sub rsp, got % x", got[:3])
	}
	if size := int(got[3]); size != 16 {
		t.Fatalf("reservation=%d, want 16", size)
	}
	// The call displacement targets text offset 0.
	callOp := bytes.IndexByte(got, 0xE8)
	if callOp < 0 {
		t.Fatal("no call emitted")
	}
	disp := int32(uint32(got[callOp+1]) | uint32(got[callOp+2])<<8 |
		uint32(got[callOp+3])<<16 | uint32(got[callOp+4])<<24)
	if want := int32(-(callOp + 5)); disp != want {
		t.Fatalf("call displacement=%d, want %d", disp, want)
	}
	// The reservation is released after the call.
	tail := got[len(got)-7:]
	if tail[0] != 0x48 || tail[1] != 0x81 || tail[2] != 0xC4 || tail[3] != 16 {
		t.Fatalf("missing add rsp, 16, tail=% x", tail)
	}
}

func TestIndirectCallReleasesTargetSpill(t *testing.T) {
	e, b := newEmitter(t)
	e.LoadImm(0)
	site := e.BeginCall(true)
	if err := e.EndCallIndirect(site, 0); err != nil {
		t.Fatalf("EndCallIndirect: %v", err)
	}
	got := finish(t, b)
	// Release must cover the reservation plus the 16-byte target spill.
	tail := got[len(got)-7:]
	if tail[0] != 0x48 || tail[1] != 0x81 || tail[2] != 0xC4 || tail[3] != 16 {
		t.Fatalf("release=% x, want add rsp, 16", tail)
	}
}

func TestTooManyArguments(t *testing.T) {
	e, _ := newEmitter(t)
	site := e.BeginCall(false)
	if err := e.EndCallDirect(site, MaxArgs+1, 0); err == nil {
		t.Fatal("7-argument call accepted")
	}
}

func TestForwardCallPatch(t *testing.T) {
	e, b := newEmitter(t)
	site := e.BeginCall(false)
	off, err := e.EndCallForward(site, 0)
	if err != nil {
		t.Fatalf("EndCallForward: %v", err)
	}
	if got := b.U32At(off); got != 0 {
		t.Fatalf("unpatched displacement=%d, want 0", got)
	}
	target := b.PC()
	e.PatchCall(off, target)
	if got, want := int32(b.U32At(off)), int32(target-(off+4)); got != want {
		t.Fatalf("patched displacement=%d, want %d", got, want)
	}
}

func TestPrologueSpillsParams(t *testing.T) {
	e, b := newEmitter(t)
	fp, err := e.Prologue(2)
	if err != nil {
		t.Fatalf("Prologue: %v", err)
	}
	e.SetFrameSize(fp, 24)
	got := finish(t, b)
	want := []byte{
		0x55,             // push rbp
		0x48, 0x89, 0xE5, // mov rbp, rsp
		0x48, 0x81, 0xEC, 32, 0, 0, 0, // sub rsp, 32 (24 rounded up)
		0x48, 0x89, 0xBD, 0xF8, 0xFF, 0xFF, 0xFF, // mov [rbp-8], rdi
		0x48, 0x89, 0xB5, 0xF0, 0xFF, 0xFF, 0xFF, // mov [rbp-16], rsi
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestTooManyParams(t *testing.T) {
	e, _ := newEmitter(t)
	if _, err := e.Prologue(MaxArgs + 1); err == nil {
		t.Fatal("7-parameter function accepted")
	}
}

func TestEpilogue(t *testing.T) {
	e, b := newEmitter(t)
	e.Epilogue()
	want := []byte{0xC9, 0xC3}
	if got := finish(t, b); !bytes.Equal(got, want) {
		t.Fatalf("got % x, want % x", got, want)
	}
}

func TestTrapStub(t *testing.T) {
	e, b := newEmitter(t)
	pos := e.TrapStub()
	got := finish(t, b)
	if pos != 0 || !bytes.Equal(got, []byte{0x0F, 0x0B}) {
		t.Fatalf("pos=%d text=% x, want ud2 at 0", pos, got)
	}
}
