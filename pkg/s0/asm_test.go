package s0

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
)

func TestAssembleBasic(t *testing.T) {
	src := `
; adds two numbers
const 0x1234
let "hi; there"          ; semicolon inside a string
fn _start 0 0 -> 0 {
    stackalloc 1
    push 1
    push 2
    call 1
}

fn main 1 2 -> 1 {
    arga 0
    arga 1
    load.64
    arga 2
    load.64
    add.i
    store.64
    ret
}
`
	p, err := AssembleString(src)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}

	if len(p.Globals) != 4 {
		t.Fatalf("len(Globals) = %d, want 4", len(p.Globals))
	}
	if !reflect.DeepEqual(p.Globals[0].Bytes, U64Bytes(0x1234)) || !p.Globals[0].IsConst {
		t.Errorf("global 0 = %+v", p.Globals[0])
	}
	if string(p.Globals[1].Bytes) != "hi; there" || p.Globals[1].IsConst {
		t.Errorf("global 1 = %+v", p.Globals[1])
	}
	if p.FunctionName(0) != "_start" || p.FunctionName(1) != "main" {
		t.Errorf("function names = %q %q", p.FunctionName(0), p.FunctionName(1))
	}

	main := p.Functions[1]
	if main.LocSlots != 1 || main.ParamSlots != 2 || main.RetSlots != 1 {
		t.Errorf("main slots = %d %d %d, want 1 2 1", main.LocSlots, main.ParamSlots, main.RetSlots)
	}
	want := []Op{ArgA(0), ArgA(1), Load64, ArgA(2), Load64, AddI, Store64, Ret}
	if !reflect.DeepEqual(main.Ins, want) {
		t.Errorf("main.Ins = %v, want %v", main.Ins, want)
	}
}

func TestAssembleOperands(t *testing.T) {
	src := `fn f 0 0 -> 0 {
    push -1
    push 0x10
    push 1.5
    br -3
    br.true 0x2
}`
	p, err := AssembleString(src)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	want := []Op{
		Push(math.MaxUint64),
		Push(16),
		PushF(1.5),
		Br(-3),
		BrTrue(2),
	}
	if !reflect.DeepEqual(p.Functions[0].Ins, want) {
		t.Errorf("Ins = %v, want %v", p.Functions[0].Ins, want)
	}
}

func TestAssembleIndexedNames(t *testing.T) {
	src := `
const "entry"
fn @0 0 0 -> 0 {
    nop
}`
	p, err := AssembleString(src)
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	if len(p.Globals) != 1 || p.FunctionName(0) != "entry" {
		t.Errorf("globals = %+v", p.Globals)
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{"unknown instruction", "fn f 0 0 -> 0 {\n frob\n}", "unknown instruction"},
		{"missing operand", "fn f 0 0 -> 0 {\n push\n}", "exactly one operand"},
		{"extra operand", "fn f 0 0 -> 0 {\n add.i 1\n}", "takes no operand"},
		{"bad header", "fn f 0 0 {\n}", "malformed function header"},
		{"unterminated", "fn f 0 0 -> 0 {\n nop", "unterminated function"},
		{"outside function", "push 1", "outside a function"},
		{"mixed names", "const \"a\"\nfn @0 0 0 -> 0 {\n}\nfn b 0 0 -> 0 {\n}", "mix inline names"},
		{"bad literal", "const zzz", "bad global literal"},
		{"no functions", "const 1", "no entry function"},
		{"wide branch", "fn f 0 0 -> 0 {\n br 0x1ffffffff\n}", "bad operand"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := AssembleString(tt.src)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Assemble() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestAssembleErrorHasLine(t *testing.T) {
	_, err := AssembleString("fn f 0 0 -> 0 {\n nop\n bogus\n}")
	if err == nil || !strings.HasPrefix(err.Error(), "line 3:") {
		t.Fatalf("error = %v, want line 3 prefix", err)
	}
	var asmErr *AsmError
	if !errors.As(err, &asmErr) || asmErr.Line != 3 {
		t.Errorf("error = %#v, want *AsmError at line 3", err)
	}
}

func TestAssembleLines(t *testing.T) {
	src := `const 7
let "s"

fn _start 0 0 -> 0 {
    push 1   ; one
    ; comment only
    call 1
}
fn helper 0 0 -> 0 {
    ret
}
`
	p, lines, err := AssembleLines(strings.NewReader(src))
	if err != nil {
		t.Fatalf("AssembleLines failed: %v", err)
	}
	if len(p.Globals) != 4 {
		t.Fatalf("globals = %d, want 4", len(p.Globals))
	}
	if !reflect.DeepEqual(lines.Globals, []int{1, 2, 4, 9}) {
		t.Errorf("global lines = %v", lines.Globals)
	}
	if !reflect.DeepEqual(lines.Functions, []int{4, 9}) {
		t.Errorf("function lines = %v", lines.Functions)
	}
	if !reflect.DeepEqual(lines.Ins, [][]int{{5, 7}, {10}}) {
		t.Errorf("instruction lines = %v", lines.Ins)
	}
}

func TestDisassembleRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.Const(U64Bytes(0x1234))
	b.Let([]byte{0, 1, 2})
	b.Str("Hello, world\n")
	b.Func("_start", 0, 0, 0, Push(2), CallName(2), Br(-2), BrA(0))
	b.Func("main", 1, 0, 1, PushF(-0.5), PushI(-7), Ret)
	p := b.Program()

	text := p.Disassemble()
	got, err := AssembleString(text)
	if err != nil {
		t.Fatalf("Assemble(Disassemble()) failed: %v\n%s", err, text)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("round trip mismatch:\n%s\n got %+v\nwant %+v", text, got, p)
	}
}

func TestDisassembleIndexedRoundTrip(t *testing.T) {
	p := &Program{
		Globals: []GlobalValue{
			{IsConst: true, Bytes: []byte("not an ident")},
			{IsConst: false, Bytes: U64Bytes(5)},
		},
		Functions: []FnDef{{Name: 0, Ins: []Op{GlobA(1), Load64, PrintI}}},
	}

	text := p.Disassemble()
	if !strings.Contains(text, "fn @0 ") {
		t.Fatalf("expected indexed function header, got:\n%s", text)
	}
	got, err := AssembleString(text)
	if err != nil {
		t.Fatalf("Assemble(Disassemble()) failed: %v\n%s", err, text)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, p)
	}
}

func TestDisassembleAnnotations(t *testing.T) {
	b := NewBuilder()
	s := b.Str("putint")
	b.Func("_start", 0, 0, 0, Call(1), CallName(s), BrTrue(1), Nop)
	b.Func("helper", 0, 0, 0, Ret)

	text := b.Program().DisassembleWithName("demo")
	for _, want := range []string{
		"; === demo ===",
		"; r0 program v1: 3 globals, 2 functions",
		"; 0 helper",
		`; 1 "putint"`,
		"; 2 -> 4",
		"fn helper 0 0 -> 0 { ; fn 1",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("listing missing %q:\n%s", want, text)
		}
	}
}
