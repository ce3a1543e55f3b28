// Package codebuf owns the growable-cursor, fixed-capacity memory regions
// the compiler emits into: the text region (machine code) and the data
// region (global variable slots and string storage).
//
// Branch targets are tracked in a label side table: each label id maps to
// its bound position plus the list of pending rel32 patch offsets. Nothing
// in the emitted bytes is ever reinterpreted as a pointer. Absolute
// references into the data region are recorded as relocations and carry
// their image offset until a loader rebases them.
package codebuf

import (
	"encoding/binary"
	"fmt"
)

// CapacityError reports exhaustion of one of the fixed regions. The
// regions are allocated once per compilation and never grow, because
// already-emitted displacements reference positions by value.
type CapacityError struct {
	Region string
	Cap    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s region exhausted (%d bytes)", e.Region, e.Cap)
}

// Label identifies a logical branch target.
type Label int

type labelState struct {
	bound   bool
	pos     int
	pending []int
}

// Buffer is the code and data emission target for one compilation.
type Buffer struct {
	text    []byte
	textCap int
	data    []byte
	dataCap int

	labels []labelState
	relocs []int // text offsets of 8-byte absolute data references

	err error // first capacity failure, sticky
}

// New allocates a buffer with the given fixed capacities.
func New(textCap, dataCap int) *Buffer {
	return &Buffer{
		text:    make([]byte, 0, textCap),
		textCap: textCap,
		data:    make([]byte, 0, dataCap),
		dataCap: dataCap,
	}
}

// Err returns the first capacity error, if any. Writes after a capacity
// failure are dropped; callers check Err at statement boundaries and the
// final error is also surfaced by Finalize.
func (b *Buffer) Err() error {
	return b.err
}

// PC returns the next text write position.
func (b *Buffer) PC() int {
	return len(b.text)
}

func (b *Buffer) fail(region string, cap int) {
	if b.err == nil {
		b.err = &CapacityError{Region: region, Cap: cap}
	}
}

// Emit appends raw bytes to the text region.
func (b *Buffer) Emit(p ...byte) {
	if len(b.text)+len(p) > b.textCap {
		b.fail("code", b.textCap)
		return
	}
	b.text = append(b.text, p...)
}

// EmitU32 appends a little-endian 32-bit value to the text region.
func (b *Buffer) EmitU32(v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	b.Emit(buf[:]...)
}

// EmitU64 appends a little-endian 64-bit value to the text region.
func (b *Buffer) EmitU64(v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	b.Emit(buf[:]...)
}

// PatchU32 overwrites a previously emitted 32-bit field.
func (b *Buffer) PatchU32(off int, v uint32) {
	if b.err != nil {
		return
	}
	if off < 0 || off+4 > len(b.text) {
		b.err = fmt.Errorf("patch offset %d out of range (text len %d)", off, len(b.text))
		return
	}
	binary.LittleEndian.PutUint32(b.text[off:], v)
}

// U32At reads back a 32-bit field, used by tests to inspect patch sites.
func (b *Buffer) U32At(off int) uint32 {
	return binary.LittleEndian.Uint32(b.text[off:])
}

// NewLabel allocates a fresh unbound label.
func (b *Buffer) NewLabel() Label {
	b.labels = append(b.labels, labelState{})
	return Label(len(b.labels) - 1)
}

// Refer records a rel32 displacement field at text offset off that must
// resolve to l. If l is already bound the displacement is written
// immediately; otherwise the offset joins the label's pending list.
func (b *Buffer) Refer(l Label, off int) {
	st := &b.labels[l]
	if st.bound {
		b.PatchU32(off, uint32(int32(st.pos-(off+4))))
		return
	}
	st.pending = append(st.pending, off)
}

// Bind fixes l at the current position and resolves its pending sites.
func (b *Buffer) Bind(l Label) {
	st := &b.labels[l]
	if st.bound {
		if b.err == nil {
			b.err = fmt.Errorf("label %d bound twice", l)
		}
		return
	}
	st.bound = true
	st.pos = len(b.text)
	for _, off := range st.pending {
		b.PatchU32(off, uint32(int32(st.pos-(off+4))))
	}
	st.pending = nil
}

// Reloc records that the 8 bytes at text offset off hold an absolute
// reference to data offset dataOff. The image-relative value is written
// during Finalize; a loader adds its base address afterwards.
func (b *Buffer) Reloc(off, dataOff int) {
	b.relocs = append(b.relocs, off)
	if off+8 > len(b.text) {
		if b.err == nil {
			b.err = fmt.Errorf("relocation offset %d out of range", off)
		}
		return
	}
	binary.LittleEndian.PutUint64(b.text[off:], uint64(dataOff))
}

// AllocData reserves size bytes in the data region, aligned to align, and
// returns the data offset. The region is zero-initialized.
func (b *Buffer) AllocData(size, align int) (int, error) {
	off := len(b.data)
	if align > 1 {
		off = (off + align - 1) &^ (align - 1)
	}
	if off+size > b.dataCap {
		b.fail("data", b.dataCap)
		return 0, b.err
	}
	b.data = b.data[:off+size]
	return off, nil
}

// WriteData copies p into the data region at off (previously allocated).
func (b *Buffer) WriteData(off int, p []byte) {
	copy(b.data[off:], p)
}

// DataLen returns the bytes used so far in the data region.
func (b *Buffer) DataLen() int {
	return len(b.data)
}

// Finalize checks that every referenced label was bound, fixes data
// relocation values relative to the image (text followed by data), and
// returns the immutable program.
func (b *Buffer) Finalize() (*Program, error) {
	if b.err != nil {
		return nil, b.err
	}
	for id, st := range b.labels {
		if !st.bound && len(st.pending) > 0 {
			return nil, fmt.Errorf("internal: label %d has %d unresolved branches", id, len(st.pending))
		}
	}
	textLen := len(b.text)
	for _, off := range b.relocs {
		v := binary.LittleEndian.Uint64(b.text[off:])
		binary.LittleEndian.PutUint64(b.text[off:], v+uint64(textLen))
	}
	return &Program{
		Text:   append([]byte(nil), b.text...),
		Data:   append([]byte(nil), b.data...),
		Relocs: append([]int(nil), b.relocs...),
		Entry:  -1,
	}, nil
}
