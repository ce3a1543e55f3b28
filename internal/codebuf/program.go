package codebuf

// Program is a finished compilation unit: position-independent text, the
// initial data image (global slots and string storage), and the text
// offsets of 8-byte absolute data references. Relocation sites hold their
// image-relative value (text length + data offset) until a loader adds
// the mapped base address.
type Program struct {
	Text   []byte
	Data   []byte
	Relocs []int
	// Entry is the text offset of the compiled main, or -1 when the
	// source did not define one.
	Entry int
	// Unresolved lists called-but-never-defined function names whose call
	// sites were pointed at the trap stub.
	Unresolved []string
}

// Bytes returns the raw image, text followed by data. This is what dump
// mode writes and is deterministic for a given source and build.
func (p *Program) Bytes() []byte {
	out := make([]byte, 0, len(p.Text)+len(p.Data))
	out = append(out, p.Text...)
	return append(out, p.Data...)
}
