// Command occ compiles a small C subset and runs the result in-process,
// or writes the compiled image to a file with -T.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/x/ansi"
	"golang.org/x/term"

	"github.com/tinyrange/occ/internal/compiler"
	"github.com/tinyrange/occ/internal/dump"
	"github.com/tinyrange/occ/internal/jit"

	_ "github.com/tinyrange/occ/internal/backend/amd64"
)

// Exit codes follow sysexits conventions; a successfully run program's own
// exit status is passed through instead.
const (
	exitUsage      = 64
	exitData       = 65
	exitNoInput    = 66
	exitInternal   = 70
	exitCantCreate = 73
	exitConfig     = 78
)

func main() {
	code, err := run()
	if err != nil {
		printError(err)
	}
	os.Exit(code)
}

func printError(err error) {
	prefix := "occ:"
	if term.IsTerminal(int(os.Stderr.Fd())) {
		prefix = ansi.Style{}.Bold().ForegroundColor(ansi.Red).Styled(prefix)
	}
	fmt.Fprintf(os.Stderr, "%s %v\n", prefix, err)
}

func run() (int, error) {
	dumpPath := flag.String("T", "", "write the compiled image to `file` instead of running it")
	configPath := flag.String("config", "", "load capacities from a YAML `file`")
	backendName := flag.String("backend", "", "instruction backend (default amd64)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [file.c [args...]]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Compile a C subset source file and run its main in-process.\n")
		fmt.Fprintf(os.Stderr, "With no file, source is read from standard input.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelWarn
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg := compiler.DefaultConfig()
	if *configPath != "" {
		loaded, err := loadConfig(*configPath)
		if err != nil {
			return exitConfig, err
		}
		cfg = loaded
	}
	if *backendName != "" {
		cfg.Backend = *backendName
	}

	args := flag.Args()
	var src io.Reader = os.Stdin
	runArgs := []string{"stdin"}
	if len(args) > 0 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return exitNoInput, err
		}
		defer f.Close()
		src = f
		runArgs = args
	} else if len(args) > 0 {
		runArgs = append(runArgs, args[1:]...)
	}

	// Dump mode compiles without an external resolver so the image never
	// embeds process-specific addresses.
	if *dumpPath == "" {
		libc, err := jit.OpenLibc()
		if err != nil {
			return exitInternal, err
		}
		defer libc.Close()
		cfg.Resolver = libc.Resolve
	}

	start := time.Now()
	prog, err := compiler.New(cfg).Compile(src)
	if err != nil {
		return exitData, err
	}
	slog.Debug("compiled",
		"text", len(prog.Text),
		"data", len(prog.Data),
		"relocs", len(prog.Relocs),
		"elapsed", time.Since(start))
	for _, name := range prog.Unresolved {
		slog.Warn("function never defined, calls will trap", "name", name)
	}

	if *dumpPath != "" {
		if err := dump.Write(*dumpPath, prog); err != nil {
			return exitCantCreate, err
		}
		return 0, nil
	}

	if prog.Entry < 0 {
		return exitData, fmt.Errorf("no main function defined")
	}

	region, err := jit.Map(prog)
	if err != nil {
		return exitInternal, err
	}
	defer region.Close()

	ret, err := region.Run(runArgs)
	if err != nil {
		return exitInternal, err
	}
	return int(ret & 0xff), nil
}
