//go:build linux

package jit

import (
	"fmt"

	"github.com/ebitengine/purego"
)

// Libc resolves undefined identifiers against the C library, so compiled
// programs can call printf, malloc and friends without declarations.
type Libc struct {
	handle uintptr
}

// OpenLibc loads the C library into the process (usually a no-op rebind,
// since the runtime already depends on it).
func OpenLibc() (*Libc, error) {
	h, err := purego.Dlopen("libc.so.6", purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("jit: open libc: %w", err)
	}
	return &Libc{handle: h}, nil
}

// Resolve looks name up in the C library.
func (l *Libc) Resolve(name string) (uintptr, bool) {
	addr, err := purego.Dlsym(l.handle, name)
	if err != nil || addr == 0 {
		return 0, false
	}
	return addr, true
}

// Close releases the library handle.
func (l *Libc) Close() error {
	return purego.Dlclose(l.handle)
}
