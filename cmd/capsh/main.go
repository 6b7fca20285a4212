// Command capsh runs an interactive program inside a pseudo-terminal and
// drives it with a script read from standard input, capturing rendered
// screen frames and a timestamped event log.
//
// Usage:
//
//	capsh [--frames DIR] [--cols N] [--rows N] -- <command> [args...]
//
// On success the exit code is the spawned command's own exit code. Script
// failures (parse errors, fatal wait timeouts, fatal EOF) exit 254.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/alfredjeanlab/capsh/internal/script"
	"github.com/alfredjeanlab/capsh/internal/session"
)

// exitScriptError is the exit code for script-level failures, distinct
// from anything the child is likely to exit with.
const exitScriptError = 254

func main() {
	code, err := run(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "capsh: %v\n", err)
		os.Exit(exitScriptError)
	}
	os.Exit(code)
}

func run(args []string) (int, error) {
	fs := flag.NewFlagSet("capsh", flag.ExitOnError)
	framesDir := fs.String("frames", "", "directory to save frame snapshots")
	cols := fs.Uint("cols", 80, "terminal width")
	rows := fs.Uint("rows", 24, "terminal height")
	fs.Usage = func() {
		_, _ = fmt.Fprintln(os.Stderr, "Usage: capsh [--frames DIR] [--cols N] [--rows N] -- <command> [args...]")
		_, _ = fmt.Fprintln(os.Stderr, "\nThe script is read from standard input.")
		_, _ = fmt.Fprintln(os.Stderr, "\nOptions:")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 0, err
	}

	command := fs.Args()
	if len(command) == 0 {
		fs.Usage()
		os.Exit(2)
	}
	if *cols == 0 || *cols > 1000 || *rows == 0 || *rows > 1000 {
		return 0, fmt.Errorf("invalid terminal size %dx%d", *cols, *rows)
	}

	if term.IsTerminal(int(os.Stdin.Fd())) {
		_, _ = fmt.Fprintln(os.Stderr, "capsh: reading script from terminal, end with ^D")
	}
	stmts, err := loadScript(os.Stdin)
	if err != nil {
		return 0, err
	}

	return session.Run(session.Config{
		Command:   command,
		Cols:      uint16(*cols),
		Rows:      uint16(*rows),
		FramesDir: *framesDir,
		Script:    stmts,
	})
}

// loadScript reads and parses the whole script before anything executes.
func loadScript(r io.Reader) ([]script.Stmt, error) {
	source, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return script.Parse(string(source))
}
