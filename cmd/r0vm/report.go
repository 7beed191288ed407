package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/chazu/r0vm/vm"
)

// palette holds the escape sequences used by the fault report. The zero
// value prints plain text.
type palette struct {
	red, bold, dim, reset string
}

// newPalette colours output only when f is a terminal.
func newPalette(f *os.File) palette {
	if !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd()) {
		return palette{}
	}
	if os.Getenv("NO_COLOR") != "" {
		return palette{}
	}
	return palette{red: "\033[31m", bold: "\033[1m", dim: "\033[2m", reset: "\033[0m"}
}

// writeFault prints err, the call chain and the stack window of the
// faulting frame.
func writeFault(w io.Writer, m *vm.VM, err error, pal palette) {
	fmt.Fprintf(w, "%sError:%s %v\n", pal.red+pal.bold, pal.reset, err)
	fmt.Fprintf(w, "%sat instruction:%s %s\n", pal.dim, pal.reset, m.LastOp())

	trace, corrupted := m.StackTrace()
	fmt.Fprintf(w, "\n%sStack trace:%s\n", pal.bold, pal.reset)
	for i, frame := range trace {
		fmt.Fprintf(w, "  %d: %s\n", i, frame)
	}
	if corrupted {
		fmt.Fprintf(w, "  %s(frame chain corrupted)%s\n", pal.red, pal.reset)
	}

	fmt.Fprintln(w)
	fmt.Fprint(w, m.DebugStack())
}
