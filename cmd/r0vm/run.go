package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/r0vm/manifest"
	"github.com/chazu/r0vm/pkg/s0"
	"github.com/chazu/r0vm/store"
	"github.com/chazu/r0vm/vm"
)

// ---------------------------------------------------------------------------
// r0vm run
// ---------------------------------------------------------------------------

type runOptions struct {
	stdin     io.Reader
	stdout    io.Writer
	trace     io.Writer // nil disables tracing
	maxSteps  uint64    // 0 = unlimited
	heapLimit uint64    // 0 = vm.DefaultHeapLimit
}

// runOutcome is what a finished run reports back to the CLI and the store.
type runOutcome struct {
	steps   uint64
	stopped bool  // max-steps reached
	err     error // fault, nil on normal completion
}

func (o runOutcome) status() store.Status {
	switch {
	case o.err != nil:
		return store.StatusFault
	case o.stopped:
		return store.StatusStopped
	default:
		return store.StatusOK
	}
}

// execute runs p to completion. The returned VM stays open so that a fault
// can be inspected; the caller closes it. Setup errors leave it nil.
func execute(p *s0.Program, opts runOptions) (*vm.VM, runOutcome, error) {
	out := bufio.NewWriter(opts.stdout)
	machine, err := vm.New(p, opts.stdin, out)
	if err != nil {
		return nil, runOutcome{}, err
	}
	if opts.heapLimit > 0 {
		machine.SetHeapLimit(opts.heapLimit)
	}

	var res runOutcome
	prevFn, prevIP := machine.FnID(), machine.IP()
	res.err = machine.RunToEndInspect(func(m *vm.VM) bool {
		// The step that detects the end of the entry function moves nothing.
		if m.IsAtEnd() && m.FnID() == prevFn && m.IP() == prevIP {
			return true
		}
		prevFn, prevIP = m.FnID(), m.IP()
		res.steps++
		if opts.trace != nil {
			traceStep(opts.trace, res.steps, m)
		}
		if opts.maxSteps > 0 && res.steps >= opts.maxSteps && !m.IsAtEnd() {
			res.stopped = true
			return false
		}
		return true
	})
	if err := out.Flush(); err != nil && res.err == nil {
		res.err = fmt.Errorf("write output: %w", err)
	}
	return machine, res, nil
}

// traceStep writes one line per executed instruction.
func traceStep(w io.Writer, step uint64, m *vm.VM) {
	name := m.Program().FunctionName(m.FnID())
	fmt.Fprintf(w, "%8d  %-16s %4d  %-24s sp=%d bp=%d\n",
		step, name, m.IP(), m.LastOp(), m.SP(), m.BP())
}

func handleRunCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	lf := addLogFlags(fs, m)
	format := fs.String("format", string(m.Program.Format), "Program format: auto, binary, cbor, asm")
	stdinPath := fs.String("stdin", m.IO.Stdin, "Read program input from this file")
	stdoutPath := fs.String("stdout", m.IO.Stdout, "Write program output to this file")
	trace := fs.Bool("trace", m.Trace.Enabled, "Trace every instruction to stderr")
	maxSteps := fs.Uint64("max-steps", m.Trace.MaxSteps, "Stop after this many instructions (0 = unlimited)")
	heapLimit := fs.Uint64("heap-limit", 0, "Maximum live heap bytes (0 = default)")
	record := fs.Bool("record", false, "Store the program and record this run")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: r0vm run [options] [file]\n\nOptions:\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	lf.configure(m)

	path := m.ProgramPath()
	if fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		fatalf("no program given and no [program] path in %s", manifest.FileName)
	}

	pf, err := manifest.ParseFormat(*format)
	if err != nil {
		fatalf("%v", err)
	}
	p, err := loadProgram(path, pf)
	if err != nil {
		fatalf("%v", err)
	}

	opts := runOptions{
		stdin:     os.Stdin,
		stdout:    os.Stdout,
		maxSteps:  *maxSteps,
		heapLimit: *heapLimit,
	}
	if *stdinPath != "" {
		f, err := os.Open(m.Resolve(*stdinPath))
		if err != nil {
			fatalf("%v", err)
		}
		defer f.Close()
		opts.stdin = f
	}
	if *stdoutPath != "" {
		f, err := os.Create(m.Resolve(*stdoutPath))
		if err != nil {
			fatalf("%v", err)
		}
		defer f.Close()
		opts.stdout = f
	}
	if *trace {
		opts.trace = os.Stderr
	}

	var db *store.Store
	if *record {
		db, err = store.Open(m.StorePath())
		if err != nil {
			fatalf("%v", err)
		}
		defer db.Close()
	}
	return runAndReport(p, path, opts, db)
}

// runAndReport executes p, prints a fault report on failure and records the
// run when db is set. It returns the process exit code.
func runAndReport(p *s0.Program, name string, opts runOptions, db *store.Store) int {
	var run *store.Run
	if db != nil {
		hash, err := db.Put(name, p)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		run = store.NewRun(hash)
	} else {
		run = &store.Run{ID: uuid.New().String()}
	}
	rlog := commonlog.NewKeyValueLogger(log, "run", run.ID)
	rlog.Infof("running %s", name)

	machine, res, err := execute(p, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer machine.Close()

	run.Status = res.status()
	run.Steps = res.steps
	if res.err != nil {
		run.Error = res.err.Error()
	}
	if db != nil {
		if err := db.RecordRun(run); err != nil {
			rlog.Errorf("recording run: %v", err)
		}
	}

	switch run.Status {
	case store.StatusStopped:
		rlog.Noticef("stopped after %d steps", res.steps)
		return 3
	case store.StatusFault:
		rlog.Errorf("fault after %d steps: %v", res.steps, res.err)
		writeFault(os.Stderr, machine, res.err, newPalette(os.Stderr))
		if errors.Is(res.err, vm.ErrHalt) {
			return 2
		}
		return 1
	default:
		rlog.Infof("finished after %d steps", res.steps)
		return 0
	}
}
