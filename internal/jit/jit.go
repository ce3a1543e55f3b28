// Package jit maps a compiled program into executable memory in the
// current process and runs its entry point, resolving external calls
// against the C library.
package jit
