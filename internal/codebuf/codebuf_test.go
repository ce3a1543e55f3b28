package codebuf

import (
	"bytes"
	"testing"
)

func TestEmitAndPC(t *testing.T) {
	b := New(16, 16)

	if got := b.PC(); got != 0 {
		t.Fatalf("PC=%d, want 0", got)
	}
	b.Emit(0x90, 0x90)
	b.EmitU32(0x11223344)
	if got := b.PC(); got != 6 {
		t.Fatalf("PC=%d, want 6", got)
	}
	if got := b.U32At(2); got != 0x11223344 {
		t.Fatalf("U32At(2)=%#x, want 0x11223344", got)
	}
}

func TestTextCapacitySticky(t *testing.T) {
	b := New(4, 16)

	b.Emit(1, 2, 3)
	b.Emit(4, 5) // over capacity
	if b.Err() == nil {
		t.Fatal("no error after overflowing text")
	}
	b.Emit(6)
	if got := b.PC(); got != 3 {
		t.Fatalf("PC=%d after overflow, want 3 (writes dropped)", got)
	}
	if _, err := b.Finalize(); err == nil {
		t.Fatal("Finalize succeeded after capacity failure")
	}
}

func TestBackwardBranch(t *testing.T) {
	b := New(64, 16)

	l := b.NewLabel()
	b.Bind(l) // position 0
	b.Emit(0xE9)
	site := b.PC()
	b.EmitU32(0)
	b.Refer(l, site)

	// Displacement is relative to the end of the 4-byte field.
	if got, want := int32(b.U32At(site)), int32(-5); got != want {
		t.Fatalf("displacement=%d, want %d", got, want)
	}
}

func TestForwardBranchPatchedOnBind(t *testing.T) {
	b := New(64, 16)

	l := b.NewLabel()
	b.Emit(0xE9)
	site := b.PC()
	b.EmitU32(0)
	b.Refer(l, site)
	b.Emit(0x90, 0x90, 0x90)
	b.Bind(l) // position 8

	if got, want := int32(b.U32At(site)), int32(3); got != want {
		t.Fatalf("displacement=%d, want %d", got, want)
	}
}

func TestMultiplePendingSitesOneLabel(t *testing.T) {
	b := New(64, 16)

	l := b.NewLabel()
	for i := 0; i < 3; i++ {
		b.Emit(0xE9)
		site := b.PC()
		b.EmitU32(0)
		b.Refer(l, site)
	}
	b.Bind(l)
	target := b.PC()
	for off := 1; off < target; off += 5 {
		if got, want := int32(b.U32At(off)), int32(target-(off+4)); got != want {
			t.Fatalf("site %d displacement=%d, want %d", off, got, want)
		}
	}
}

func TestDoubleBindIsError(t *testing.T) {
	b := New(64, 16)

	l := b.NewLabel()
	b.Bind(l)
	b.Bind(l)
	if b.Err() == nil {
		t.Fatal("double bind accepted")
	}
}

func TestUnboundReferencedLabelFailsFinalize(t *testing.T) {
	b := New(64, 16)

	l := b.NewLabel()
	b.Emit(0xE9)
	site := b.PC()
	b.EmitU32(0)
	b.Refer(l, site)
	if _, err := b.Finalize(); err == nil {
		t.Fatal("Finalize succeeded with an unresolved branch")
	}
}

func TestUnreferencedLabelMayStayUnbound(t *testing.T) {
	b := New(64, 16)

	b.NewLabel()
	b.Emit(0xC3)
	if _, err := b.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestAllocDataAlignment(t *testing.T) {
	b := New(16, 64)

	off1, err := b.AllocData(3, 1)
	if err != nil {
		t.Fatalf("AllocData: %v", err)
	}
	off2, err := b.AllocData(8, 8)
	if err != nil {
		t.Fatalf("AllocData: %v", err)
	}
	if off1 != 0 || off2 != 8 {
		t.Fatalf("offsets=%d,%d, want 0,8", off1, off2)
	}
}

func TestDataCapacity(t *testing.T) {
	b := New(16, 8)

	if _, err := b.AllocData(8, 1); err != nil {
		t.Fatalf("AllocData: %v", err)
	}
	if _, err := b.AllocData(1, 1); err == nil {
		t.Fatal("data overflow accepted")
	}
}

func TestRelocRebasedByFinalize(t *testing.T) {
	b := New(64, 64)

	b.Emit(0x48, 0xB8) // movabs rax, imm64
	site := b.PC()
	b.EmitU64(0)
	b.Reloc(site, 16)
	b.Emit(0xC3)

	prog, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	textLen := len(prog.Text)
	if got, want := int(b.U32At(site)), textLen+16; got != want {
		t.Fatalf("reloc value=%d, want %d", got, want)
	}
	if len(prog.Relocs) != 1 || prog.Relocs[0] != site {
		t.Fatalf("Relocs=%v, want [%d]", prog.Relocs, site)
	}
}

func TestDataZeroInitialized(t *testing.T) {
	b := New(16, 64)

	off, err := b.AllocData(8, 8)
	if err != nil {
		t.Fatalf("AllocData: %v", err)
	}
	b.WriteData(off, []byte{1, 2, 3})
	b.Emit(0xC3)
	prog, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	want := []byte{1, 2, 3, 0, 0, 0, 0, 0}
	if !bytes.Equal(prog.Data, want) {
		t.Fatalf("Data=%v, want %v", prog.Data, want)
	}
}

func TestProgramBytesIsTextThenData(t *testing.T) {
	b := New(16, 16)

	b.Emit(0xAA, 0xBB)
	off, err := b.AllocData(2, 1)
	if err != nil {
		t.Fatalf("AllocData: %v", err)
	}
	b.WriteData(off, []byte{0xCC, 0xDD})
	prog, err := b.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	want := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	if got := prog.Bytes(); !bytes.Equal(got, want) {
		t.Fatalf("Bytes()=%v, want %v", got, want)
	}
}
