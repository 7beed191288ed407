package server

import (
	"strings"
	"testing"

	"github.com/chazu/r0vm/pkg/s0"
)

func TestLintClean(t *testing.T) {
	b := s0.NewBuilder()
	put := b.Str("putint")
	b.Func("_start", 0, 0, 0, s0.Push(1), s0.CallName(put), s0.Call(1))
	b.Func("loop", 0, 0, 0, s0.Nop, s0.BrFalse(1), s0.Br(-3), s0.Ret)

	if findings := Lint(b.Program(), nil); len(findings) != 0 {
		t.Errorf("Lint = %v, want no findings", findings)
	}
}

func TestLintFindings(t *testing.T) {
	b := s0.NewBuilder()
	missing := b.Str("nosuchfn")
	b.Func("_start", 0, 0, 0,
		s0.Call(9),           // 0
		s0.GlobA(40),         // 1
		s0.CallName(missing), // 2
		s0.CallName(41),      // 3
		s0.Br(5),             // 4
		s0.BrTrue(-7),        // 5
		s0.BrA(9),            // 6
		s0.Br(-8),            // 7: lands on 0
	)
	b.Func("tail", 0, 0, 0, s0.Push(1), s0.Pop)
	p := b.Program()

	findings := Lint(p, nil)
	want := []struct {
		fn, ip  int
		sev     Severity
		message string
	}{
		{0, 0, SeverityError, "call to undefined function 9"},
		{0, 1, SeverityError, "global 40 out of range"},
		{0, 2, SeverityError, `callname "nosuchfn" matches no function or builtin`},
		{0, 3, SeverityError, "global 41 out of range"},
		{0, 4, SeverityError, "branch target 10 outside function"},
		{0, 5, SeverityError, "branch target -1 outside function"},
		{0, 6, SeverityError, "branch target 9 outside function"},
		{1, -1, SeverityWarning, "control may reach the end of tail without ret"},
	}

	if len(findings) != len(want) {
		t.Fatalf("Lint returned %d findings, want %d:\n%v", len(findings), len(want), findings)
	}
	for i, w := range want {
		f := findings[i]
		if f.Fn != w.fn || f.IP != w.ip || f.Severity != w.sev || !strings.HasPrefix(f.Message, w.message) {
			t.Errorf("finding %d = %+v, want %+v", i, f, w)
		}
		if f.Line != 0 {
			t.Errorf("finding %d has line %d without a line map", i, f.Line)
		}
	}
}

func TestLintBranchToEnd(t *testing.T) {
	// Jumping to one past the last instruction is how a function runs off
	// its end, not an out-of-range target.
	b := s0.NewBuilder()
	b.Func("_start", 0, 0, 0, s0.Nop, s0.Br(0), s0.BrA(2))

	if findings := Lint(b.Program(), nil); len(findings) != 0 {
		t.Errorf("Lint = %v, want no findings", findings)
	}
}

func TestLintLines(t *testing.T) {
	src := `fn _start 0 0 -> 0 {
    push 1
    call 3
}
fn helper 0 0 -> 0 {
    panic
}
fn other 0 0 -> 0 {
    nop
}
`
	p, lines, err := s0.AssembleLines(strings.NewReader(src))
	if err != nil {
		t.Fatalf("AssembleLines failed: %v", err)
	}

	findings := Lint(p, lines)
	if len(findings) != 2 {
		t.Fatalf("Lint = %v, want 2 findings", findings)
	}
	if findings[0].Line != 3 {
		t.Errorf("call finding line = %d, want 3", findings[0].Line)
	}
	if findings[1].Line != 8 || findings[1].Severity != SeverityWarning {
		t.Errorf("fallthrough finding = %+v, want warning on line 8", findings[1])
	}
}

func TestFindingString(t *testing.T) {
	tests := []struct {
		f    Finding
		want string
	}{
		{
			Finding{Line: 3, Fn: 0, IP: 1, Severity: SeverityError, Message: "call to undefined function 3"},
			"line 3 (fn 0 +1): error: call to undefined function 3",
		},
		{
			Finding{Fn: 2, IP: -1, Severity: SeverityWarning, Message: "control may reach the end of f without ret"},
			"fn 2: warning: control may reach the end of f without ret",
		},
	}

	for _, tt := range tests {
		if got := tt.f.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
