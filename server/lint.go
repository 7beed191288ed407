package server

import (
	"fmt"

	"github.com/chazu/r0vm/pkg/s0"
	"github.com/chazu/r0vm/vm"
)

// Severity ranks a lint finding.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
)

func (s Severity) String() string {
	if s == SeverityWarning {
		return "warning"
	}
	return "error"
}

// Finding is a problem found in a program that assembled cleanly but would
// fault when run.
type Finding struct {
	Line     int // 1-based; 0 when no line map is available
	Fn       int
	IP       int // -1 for findings about the function as a whole
	Severity Severity
	Message  string
}

func (f Finding) String() string {
	loc := fmt.Sprintf("fn %d", f.Fn)
	if f.IP >= 0 {
		loc += fmt.Sprintf(" +%d", f.IP)
	}
	if f.Line > 0 {
		loc = fmt.Sprintf("line %d (%s)", f.Line, loc)
	}
	return fmt.Sprintf("%s: %s: %s", loc, f.Severity, f.Message)
}

// Lint statically checks operands that the VM would otherwise reject at
// run time: call targets, global indices, branch targets and names passed to
// callname. lines may be nil.
func Lint(p *s0.Program, lines *s0.LineMap) []Finding {
	names := make(map[string]bool, len(p.Functions))
	for i := range p.Functions {
		names[p.FunctionName(i)] = true
	}

	var findings []Finding
	report := func(fn, ip int, sev Severity, format string, args ...any) {
		f := Finding{Fn: fn, IP: ip, Severity: sev, Message: fmt.Sprintf(format, args...)}
		if lines != nil {
			f.Line = lineOf(lines, fn, ip)
		}
		findings = append(findings, f)
	}

	for fnID, fn := range p.Functions {
		n := len(fn.Ins)
		for ip, op := range fn.Ins {
			switch op.Code {
			case s0.OpCall:
				if op.Arg >= uint64(len(p.Functions)) {
					report(fnID, ip, SeverityError, "call to undefined function %d", op.Arg)
				}
			case s0.OpGlobA:
				if op.Arg >= uint64(len(p.Globals)) {
					report(fnID, ip, SeverityError, "global %d out of range (%d globals)", op.Arg, len(p.Globals))
				}
			case s0.OpCallName:
				if op.Arg >= uint64(len(p.Globals)) {
					report(fnID, ip, SeverityError, "global %d out of range (%d globals)", op.Arg, len(p.Globals))
					continue
				}
				name := string(p.Globals[op.Arg].Bytes)
				if !names[name] && !vm.IsBuiltin(name) {
					report(fnID, ip, SeverityError, "callname %q matches no function or builtin", name)
				}
			case s0.OpBr, s0.OpBrFalse, s0.OpBrTrue:
				target := int64(ip) + 1 + int64(op.Offset())
				if target < 0 || target > int64(n) {
					report(fnID, ip, SeverityError, "branch target %d outside function (%d instructions)", target, n)
				}
			case s0.OpBrA:
				if op.Arg > uint64(n) {
					report(fnID, ip, SeverityError, "branch target %d outside function (%d instructions)", op.Arg, n)
				}
			}
		}

		// The entry function may run off its end; others fault.
		if fnID > 0 && !endsFlow(fn.Ins) {
			report(fnID, -1, SeverityWarning, "control may reach the end of %s without ret", p.FunctionName(fnID))
		}
	}
	return findings
}

// endsFlow reports whether the last instruction never falls through.
func endsFlow(ins []s0.Op) bool {
	if len(ins) == 0 {
		return false
	}
	switch ins[len(ins)-1].Code {
	case s0.OpRet, s0.OpBr, s0.OpBrA, s0.OpPanic:
		return true
	}
	return false
}

func lineOf(lines *s0.LineMap, fn, ip int) int {
	if ip < 0 {
		if fn < len(lines.Functions) {
			return lines.Functions[fn]
		}
		return 0
	}
	if fn < len(lines.Ins) && ip < len(lines.Ins[fn]) {
		return lines.Ins[fn][ip]
	}
	return 0
}
