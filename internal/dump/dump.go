// Package dump writes compiled images to disk for offline inspection.
// The output is the raw text-then-data image with relocation sites still
// holding image-relative values, so a given source always produces
// byte-identical output.
package dump

import (
	"fmt"
	"os"

	"github.com/tinyrange/occ/internal/codebuf"
)

// Write stores prog's image at path, replacing any existing file.
func Write(path string, prog *codebuf.Program) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if _, err := f.Write(prog.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("dump: write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("dump: close %s: %w", path, err)
	}
	return nil
}
