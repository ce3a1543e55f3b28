//go:build linux

package jit

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/tinyrange/occ/internal/codebuf"
)

// Region is a program mapped into process memory: text pages are
// read-execute and the data image stays read-write so compiled code can
// mutate globals and string storage.
type Region struct {
	mem   []byte
	base  uintptr
	entry uintptr
}

func alignUp(n, to int) int {
	return ((n + to - 1) / to) * to
}

// Map copies prog into a fresh anonymous mapping and resolves its data
// relocations against the mapped base.
func Map(prog *codebuf.Program) (*Region, error) {
	if len(prog.Text) == 0 {
		return nil, fmt.Errorf("jit: empty text")
	}

	pageSize := unix.Getpagesize()

	// Round the text up to a page boundary so data lands on its own pages
	// and text can be made RX while data stays RW.
	textAlloc := alignUp(len(prog.Text), pageSize)
	allocSize := alignUp(textAlloc+len(prog.Data), pageSize)

	mem, err := unix.Mmap(-1, 0, allocSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap region: %w", err)
	}
	release := true
	defer func() {
		if release {
			_ = unix.Munmap(mem)
		}
	}()

	copy(mem, prog.Text)
	copy(mem[textAlloc:], prog.Data)

	base := uintptr(unsafe.Pointer(&mem[0]))

	// Relocation sites hold text length + data offset. The mapped data
	// starts at the page-aligned text size, so shift by the padding before
	// adding the base.
	textLen := uint64(len(prog.Text))
	padding := uint64(textAlloc - len(prog.Text))
	for _, off := range prog.Relocs {
		if off < 0 || off+8 > len(prog.Text) {
			return nil, fmt.Errorf("jit: relocation offset %d out of range (text len %d)", off, len(prog.Text))
		}
		v := binary.LittleEndian.Uint64(mem[off:])
		if v >= textLen {
			v += padding
		}
		binary.LittleEndian.PutUint64(mem[off:], v+uint64(base))
	}

	if err := unix.Mprotect(mem[:textAlloc], unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return nil, fmt.Errorf("jit: mprotect text: %w", err)
	}

	r := &Region{mem: mem, base: base}
	if prog.Entry >= 0 {
		r.entry = base + uintptr(prog.Entry)
	}
	release = false
	return r, nil
}

// Entry returns the native address of the program's entry point, or zero
// when the source did not define main.
func (r *Region) Entry() uintptr {
	return r.entry
}

// Close unmaps the region. The program must not be running.
func (r *Region) Close() error {
	return unix.Munmap(r.mem)
}
