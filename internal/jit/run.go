//go:build linux

package jit

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Run calls the mapped program's entry point with a C style argc/argv and
// returns main's return value. args[0] is conventionally the program name.
func (r *Region) Run(args []string) (int64, error) {
	if r.entry == 0 {
		return 0, fmt.Errorf("jit: program has no entry point")
	}

	// NUL terminated copies plus the terminating NULL pointer, matching
	// what a C runtime hands to main.
	bufs := make([][]byte, len(args))
	argv := make([]uintptr, len(args)+1)
	for i, a := range args {
		bufs[i] = append([]byte(a), 0)
		argv[i] = uintptr(unsafe.Pointer(&bufs[i][0]))
	}

	ret, _, _ := purego.SyscallN(r.entry, uintptr(len(args)), uintptr(unsafe.Pointer(&argv[0])))
	runtime.KeepAlive(bufs)
	runtime.KeepAlive(argv)
	return int64(ret), nil
}
