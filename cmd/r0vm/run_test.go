package main

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/r0vm/manifest"
	"github.com/chazu/r0vm/pkg/s0"
	"github.com/chazu/r0vm/store"
	"github.com/chazu/r0vm/vm"
)

func echoProgram() *s0.Program {
	b := s0.NewBuilder()
	b.Func("_start", 0, 0, 0, s0.ScanI, s0.Push(1), s0.AddI, s0.PrintI, s0.PrintLn)
	return b.Program()
}

func TestExecute(t *testing.T) {
	var out bytes.Buffer
	m, res, err := execute(echoProgram(), runOptions{
		stdin:  strings.NewReader("41"),
		stdout: &out,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	defer m.Close()

	if res.err != nil {
		t.Fatalf("run failed: %v", res.err)
	}
	if out.String() != "42\n" {
		t.Errorf("output = %q, want %q", out.String(), "42\n")
	}
	if res.steps != 5 {
		t.Errorf("steps = %d, want 5", res.steps)
	}
	if res.status() != store.StatusOK {
		t.Errorf("status = %s, want ok", res.status())
	}
}

func TestExecuteMaxSteps(t *testing.T) {
	b := s0.NewBuilder()
	b.Func("_start", 0, 0, 0, s0.Nop, s0.Br(-2))

	m, res, err := execute(b.Program(), runOptions{stdout: &bytes.Buffer{}, maxSteps: 10})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	defer m.Close()

	if !res.stopped || res.steps != 10 || res.err != nil {
		t.Errorf("outcome = %+v, want stopped after 10 steps", res)
	}
	if res.status() != store.StatusStopped {
		t.Errorf("status = %s, want stopped", res.status())
	}
}

func TestExecuteMaxStepsAtEnd(t *testing.T) {
	m, res, err := execute(echoProgram(), runOptions{
		stdin:    strings.NewReader("1"),
		stdout:   &bytes.Buffer{},
		maxSteps: 5,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	defer m.Close()

	if res.stopped || res.err != nil {
		t.Errorf("a program finishing on the last allowed step should complete: %+v", res)
	}
}

func TestExecuteFault(t *testing.T) {
	b := s0.NewBuilder()
	b.Func("_start", 0, 0, 0, s0.Push(1), s0.Panic)

	m, res, err := execute(b.Program(), runOptions{stdout: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	defer m.Close()

	if !errors.Is(res.err, vm.ErrHalt) {
		t.Errorf("err = %v, want ErrHalt", res.err)
	}
	if res.steps != 2 || res.status() != store.StatusFault {
		t.Errorf("outcome = %+v", res)
	}
}

func TestExecuteSetupError(t *testing.T) {
	m, _, err := execute(&s0.Program{}, runOptions{stdout: &bytes.Buffer{}})
	if !errors.Is(err, vm.ErrNoEntryPoint) || m != nil {
		t.Errorf("execute(empty) = %v, %v", m, err)
	}
}

func TestExecuteTrace(t *testing.T) {
	var trace bytes.Buffer
	m, _, err := execute(echoProgram(), runOptions{
		stdin:  strings.NewReader("0"),
		stdout: &bytes.Buffer{},
		trace:  &trace,
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	defer m.Close()

	lines := strings.Split(strings.TrimSpace(trace.String()), "\n")
	if len(lines) != 5 {
		t.Fatalf("trace has %d lines, want 5:\n%s", len(lines), trace.String())
	}
	if !strings.Contains(lines[0], "_start") || !strings.Contains(lines[0], "scan.i") {
		t.Errorf("first trace line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "push 1") || !strings.Contains(lines[1], "sp=5") {
		t.Errorf("second trace line = %q", lines[1])
	}
}

func TestWriteFault(t *testing.T) {
	b := s0.NewBuilder()
	b.Func("_start", 0, 0, 0, s0.Call(1))
	b.Func("boom", 1, 0, 0, s0.Push(1), s0.Push(0), s0.DivI)

	m, res, err := execute(b.Program(), runOptions{stdout: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	defer m.Close()

	var buf bytes.Buffer
	writeFault(&buf, m, res.err, palette{})
	out := buf.String()

	for _, want := range []string{
		"Error: integer division by zero",
		"at instruction: div.i",
		"  0: boom (id=1) +3\n",
		"  1: _start (id=0) +1\n",
		"Stack:\n",
		"<- bp",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\033[") {
		t.Error("plain palette emitted escape codes")
	}
}

func TestRunAndReportRecords(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	p := echoProgram()
	code := runAndReport(p, "echo", runOptions{stdin: strings.NewReader("1"), stdout: &bytes.Buffer{}}, db)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}

	hash, err := store.HashString(p)
	if err != nil {
		t.Fatalf("HashString failed: %v", err)
	}
	runs, err := db.Runs(hash)
	if err != nil {
		t.Fatalf("Runs failed: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != store.StatusOK || runs[0].Steps != 5 {
		t.Errorf("runs = %+v", runs)
	}
}

func TestLoadProgramFormats(t *testing.T) {
	dir := t.TempDir()
	p := echoProgram()

	for _, name := range []string{"echo.o0", "echo.cbor", "echo.s0", "echo.bin"} {
		path := filepath.Join(dir, name)
		if err := saveProgram(path, p, manifest.FormatAuto); err != nil {
			t.Fatalf("saveProgram(%s) failed: %v", name, err)
		}
		got, err := loadProgram(path, manifest.FormatAuto)
		if err != nil {
			t.Fatalf("loadProgram(%s) failed: %v", name, err)
		}
		if got.Disassemble() != p.Disassemble() {
			t.Errorf("%s: round trip changed the program", name)
		}
	}
}

func TestSniffFormat(t *testing.T) {
	p := echoProgram()
	bin, _ := p.Serialize()
	cb, _ := s0.EncodeCBOR(p)

	tests := []struct {
		data []byte
		want manifest.Format
	}{
		{bin, manifest.FormatBinary},
		{cb, manifest.FormatCBOR},
		{[]byte(p.Disassemble()), manifest.FormatAsm},
		{nil, manifest.FormatAsm},
	}

	for _, tt := range tests {
		if got := sniffFormat(tt.data); got != tt.want {
			t.Errorf("sniffFormat(%.8q) = %s, want %s", tt.data, got, tt.want)
		}
	}
}

func TestLoadProgramExplicitFormatWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.o0")
	if err := saveProgram(path, echoProgram(), manifest.FormatAsm); err != nil {
		t.Fatalf("saveProgram failed: %v", err)
	}
	if _, err := loadProgram(path, manifest.FormatAuto); err == nil {
		t.Error("a listing behind an .o0 extension should not parse as binary")
	}
	if _, err := loadProgram(path, manifest.FormatAsm); err != nil {
		t.Errorf("loadProgram with explicit asm failed: %v", err)
	}
}
