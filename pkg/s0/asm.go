package s0

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Assemble parses a program written in the listing syntax produced by
// Disassemble:
//
//	const 0x1234            ; 8-byte little-endian integer global
//	let "hello"             ; mutable string global
//	const hex:00ff          ; raw bytes
//	fn _start 0 0 -> 0 {
//	    push 1
//	    call 1
//	}
//
// A function header may name its function inline (`fn main ...`), which
// appends a name global after all data globals, or reference an existing
// global by index (`fn @3 ...`). The two forms cannot be mixed.
func Assemble(r io.Reader) (*Program, error) {
	p, _, err := AssembleLines(r)
	return p, err
}

// AssembleString is Assemble over a string.
func AssembleString(src string) (*Program, error) {
	return Assemble(strings.NewReader(src))
}

// AsmError is a syntax error at a 1-based source line.
type AsmError struct {
	Line int
	Err  error
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *AsmError) Unwrap() error {
	return e.Err
}

// LineMap records the 1-based source line of every item of an assembled
// program. Name globals created by inline function names map to the
// function header.
type LineMap struct {
	Globals   []int
	Functions []int
	Ins       [][]int
}

// AssembleLines is Assemble that also reports where each global, function
// and instruction was written.
func AssembleLines(r io.Reader) (*Program, *LineMap, error) {
	a := &assembler{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		a.line++
		if err := a.parseLine(sc.Text()); err != nil {
			return nil, nil, &AsmError{Line: a.line, Err: err}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	if a.cur != nil {
		return nil, nil, &AsmError{Line: a.line, Err: errors.New("unterminated function")}
	}
	return a.finish()
}

type asmFunc struct {
	def    FnDef
	name   string
	byName bool
	line   int
	lines  []int
}

type assembler struct {
	line    int
	globals []GlobalValue
	glines  []int
	fns     []asmFunc
	cur     *asmFunc
}

func (a *assembler) parseLine(raw string) error {
	text := strings.TrimSpace(stripComment(raw))
	if text == "" {
		return nil
	}

	if a.cur != nil {
		if text == "}" {
			a.fns = append(a.fns, *a.cur)
			a.cur = nil
			return nil
		}
		op, err := parseInstruction(text)
		if err != nil {
			return err
		}
		a.cur.def.Ins = append(a.cur.def.Ins, op)
		a.cur.lines = append(a.cur.lines, a.line)
		return nil
	}

	kw, rest := text, ""
	if i := strings.IndexAny(text, " \t"); i >= 0 {
		kw, rest = text[:i], strings.TrimSpace(text[i+1:])
	}
	switch kw {
	case "const", "let":
		data, err := parseGlobal(rest)
		if err != nil {
			return err
		}
		a.globals = append(a.globals, GlobalValue{IsConst: kw == "const", Bytes: data})
		a.glines = append(a.glines, a.line)
		return nil
	case "fn":
		return a.parseFuncHeader(rest)
	default:
		return fmt.Errorf("unexpected %q outside a function", kw)
	}
}

// parseFuncHeader parses `name loc param -> ret {`.
func (a *assembler) parseFuncHeader(rest string) error {
	fields := strings.Fields(rest)
	if len(fields) != 6 || fields[3] != "->" || fields[5] != "{" {
		return fmt.Errorf("malformed function header %q, want `fn name loc param -> ret {`", rest)
	}
	f := &asmFunc{line: a.line}
	if strings.HasPrefix(fields[0], "@") {
		idx, err := strconv.ParseUint(fields[0][1:], 10, 32)
		if err != nil {
			return fmt.Errorf("bad name index %q: %w", fields[0], err)
		}
		f.def.Name = uint32(idx)
	} else {
		f.name = fields[0]
		f.byName = true
	}
	slots := []*uint32{&f.def.LocSlots, &f.def.ParamSlots, &f.def.RetSlots}
	for i, s := range []string{fields[1], fields[2], fields[4]} {
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return fmt.Errorf("bad slot count %q: %w", s, err)
		}
		*slots[i] = uint32(v)
	}
	a.cur = f
	return nil
}

func (a *assembler) finish() (*Program, *LineMap, error) {
	p := &Program{Globals: a.globals}
	lines := &LineMap{Globals: a.glines}
	byName, byIndex := 0, 0
	for _, f := range a.fns {
		if f.byName {
			byName++
		} else {
			byIndex++
		}
	}
	if byName > 0 && byIndex > 0 {
		return nil, nil, fmt.Errorf("functions mix inline names and global indices")
	}
	for _, f := range a.fns {
		if f.byName {
			f.def.Name = uint32(len(p.Globals))
			p.Globals = append(p.Globals, GlobalValue{IsConst: true, Bytes: []byte(f.name)})
			lines.Globals = append(lines.Globals, f.line)
		}
		p.Functions = append(p.Functions, f.def)
		lines.Functions = append(lines.Functions, f.line)
		lines.Ins = append(lines.Ins, f.lines)
	}
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}
	return p, lines, nil
}

func parseInstruction(text string) (Op, error) {
	fields := strings.Fields(text)
	code, ok := LookupMnemonic(fields[0])
	if !ok {
		return Op{}, fmt.Errorf("unknown instruction %q", fields[0])
	}
	op := Op{Code: code}
	kind := code.Operand()
	if kind == OperandNone {
		if len(fields) != 1 {
			return Op{}, fmt.Errorf("%s takes no operand", code)
		}
		return op, nil
	}
	if len(fields) != 2 {
		return Op{}, fmt.Errorf("%s takes exactly one operand", code)
	}
	arg := fields[1]

	switch kind {
	case OperandU32:
		v, err := strconv.ParseUint(arg, 0, 32)
		if err != nil {
			return Op{}, fmt.Errorf("bad operand %q for %s: %w", arg, code, err)
		}
		op.Arg = v
	case OperandI32:
		v, err := strconv.ParseInt(arg, 0, 32)
		if err != nil {
			return Op{}, fmt.Errorf("bad operand %q for %s: %w", arg, code, err)
		}
		op.Arg = uint64(uint32(int32(v)))
	case OperandU64:
		v, err := parseImmediate(arg)
		if err != nil {
			return Op{}, fmt.Errorf("bad operand %q for %s: %w", arg, code, err)
		}
		op.Arg = v
	}
	return op, nil
}

// parseImmediate accepts unsigned and signed integers in any Go base, and
// floating point literals, which become their IEEE-754 bit pattern.
func parseImmediate(s string) (uint64, error) {
	if v, err := strconv.ParseUint(s, 0, 64); err == nil {
		return v, nil
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return uint64(v), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer or float literal")
	}
	return math.Float64bits(f), nil
}

func parseGlobal(lit string) ([]byte, error) {
	switch {
	case strings.HasPrefix(lit, `"`):
		s, err := strconv.Unquote(lit)
		if err != nil {
			return nil, fmt.Errorf("bad string literal %s: %w", lit, err)
		}
		return []byte(s), nil
	case strings.HasPrefix(lit, "hex:"):
		b, err := hex.DecodeString(lit[len("hex:"):])
		if err != nil {
			return nil, fmt.Errorf("bad hex literal %s: %w", lit, err)
		}
		return b, nil
	default:
		v, err := parseImmediate(lit)
		if err != nil {
			return nil, fmt.Errorf("bad global literal %q: %w", lit, err)
		}
		return U64Bytes(v), nil
	}
}

// stripComment removes a trailing `;` comment that is not inside a string
// literal.
func stripComment(line string) string {
	inString, escaped := false, false
	for i, r := range line {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && inString:
			escaped = true
		case r == '"':
			inString = !inString
		case r == ';' && !inString:
			return line[:i]
		}
	}
	return line
}
