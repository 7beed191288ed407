package s0

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Disassemble returns a listing of the program in assembler syntax.
// Assemble(Disassemble(p)) reproduces p.
func (p *Program) Disassemble() string {
	return p.DisassembleWithName("")
}

// DisassembleWithName returns a listing with a name header.
func (p *Program) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; r0 program v%d: %d globals, %d functions\n\n",
		BinaryVersion, len(p.Globals), len(p.Functions)))

	// Function names appended after the data globals can be written inline
	// as `fn name`. Anything else is listed explicitly and referenced by
	// index.
	inline := p.namesAreTail()
	dataGlobals := len(p.Globals)
	if inline {
		dataGlobals -= len(p.Functions)
	}

	if dataGlobals > 0 {
		for i := 0; i < dataGlobals; i++ {
			g := p.Globals[i]
			kw := "let"
			if g.IsConst {
				kw = "const"
			}
			sb.WriteString(fmt.Sprintf("%-5s %-32s ; global %d\n", kw, formatGlobal(g.Bytes), i))
		}
		sb.WriteString("\n")
	}

	for id, fn := range p.Functions {
		fnName := "@" + strconv.FormatUint(uint64(fn.Name), 10)
		if inline {
			fnName = string(p.Globals[fn.Name].Bytes)
		}
		sb.WriteString(fmt.Sprintf("fn %s %d %d -> %d { ; fn %d\n", fnName, fn.LocSlots, fn.ParamSlots, fn.RetSlots, id))
		for ip, op := range fn.Ins {
			comment := strconv.Itoa(ip)
			if op.Code == OpBr || op.Code == OpBrFalse || op.Code == OpBrTrue {
				comment += fmt.Sprintf(" -> %d", ip+1+int(op.Offset()))
			}
			if op.Code == OpCall && int(op.Arg) < len(p.Functions) {
				comment += " " + p.FunctionName(int(op.Arg))
			}
			if (op.Code == OpCallName) && int(op.Arg) < len(p.Globals) {
				comment += fmt.Sprintf(" %q", p.Globals[op.Arg].Bytes)
			}
			sb.WriteString(fmt.Sprintf("    %-24s ; %s\n", op.String(), comment))
		}
		sb.WriteString("}\n")
		if id < len(p.Functions)-1 {
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

// namesAreTail reports whether function names occupy the last globals in
// function order, which is the layout Builder and the assembler produce.
func (p *Program) namesAreTail() bool {
	base := len(p.Globals) - len(p.Functions)
	if base < 0 {
		return false
	}
	for i, fn := range p.Functions {
		if int(fn.Name) != base+i {
			return false
		}
		name := p.Globals[fn.Name].Bytes
		if !p.Globals[fn.Name].IsConst || !isIdent(string(name)) {
			return false
		}
	}
	return true
}

// formatGlobal picks the most readable literal that reparses to data.
func formatGlobal(data []byte) string {
	if len(data) == 8 && !isPrintable(data) {
		return fmt.Sprintf("0x%x", binary.LittleEndian.Uint64(data))
	}
	if len(data) > 0 && isPrintable(data) {
		return strconv.Quote(string(data))
	}
	return "hex:" + hex.EncodeToString(data)
}

func isPrintable(data []byte) bool {
	if !utf8.Valid(data) {
		return false
	}
	for _, r := range string(data) {
		if r < 0x20 && r != '\n' && r != '\t' {
			return false
		}
		if r == 0x7f {
			return false
		}
	}
	return true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
