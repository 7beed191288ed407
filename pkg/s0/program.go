package s0

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// GlobalValue is a piece of static data placed on the heap when a VM starts.
type GlobalValue struct {
	IsConst bool   `cbor:"1,keyasint"`
	Bytes   []byte `cbor:"2,keyasint"`
}

// FnDef is a function definition. Name is an index into the globals table
// whose bytes hold the function name.
type FnDef struct {
	Name       uint32 `cbor:"1,keyasint"`
	LocSlots   uint32 `cbor:"2,keyasint"`
	ParamSlots uint32 `cbor:"3,keyasint"`
	RetSlots   uint32 `cbor:"4,keyasint"`
	Ins        []Op   `cbor:"5,keyasint"`
}

// FrameSlots returns the slots a call to this function needs above the
// caller's reserved area: arguments, return value and locals.
func (f *FnDef) FrameSlots() uint64 {
	return uint64(f.LocSlots) + uint64(f.ParamSlots) + uint64(f.RetSlots)
}

// Program is a loaded, immutable program. Functions[0] is the entry point.
type Program struct {
	Globals   []GlobalValue `cbor:"1,keyasint"`
	Functions []FnDef       `cbor:"2,keyasint"`
}

// ErrNoEntryPoint is returned for a program without functions.
var ErrNoEntryPoint = errors.New("program has no entry function")

// FunctionName returns the name of function id, or "" if it cannot be
// resolved.
func (p *Program) FunctionName(id int) string {
	if id < 0 || id >= len(p.Functions) {
		return ""
	}
	name := int(p.Functions[id].Name)
	if name >= len(p.Globals) {
		return ""
	}
	return string(p.Globals[name].Bytes)
}

// Validate performs the structural checks a loader is expected to have done
// before a program reaches the VM.
func (p *Program) Validate() error {
	if len(p.Functions) == 0 {
		return ErrNoEntryPoint
	}
	for i, fn := range p.Functions {
		if int(fn.Name) >= len(p.Globals) {
			return fmt.Errorf("function %d: name index %d out of range (%d globals)", i, fn.Name, len(p.Globals))
		}
		for j, op := range fn.Ins {
			if !op.Code.IsValid() {
				return fmt.Errorf("function %d instruction %d: unknown opcode 0x%02X", i, j, byte(op.Code))
			}
			switch op.Code.Operand() {
			case OperandNone:
				if op.Arg != 0 {
					return fmt.Errorf("function %d instruction %d: %s takes no operand", i, j, op.Code)
				}
			case OperandU32, OperandI32:
				if op.Arg > math.MaxUint32 {
					return fmt.Errorf("function %d instruction %d: operand %d of %s exceeds 32 bits", i, j, op.Arg, op.Code)
				}
			}
		}
	}
	return nil
}

// U64Bytes returns the little-endian bytes of v, the layout a Load64 reads
// back from a global.
func U64Bytes(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

// Builder assembles a Program in memory. Data globals keep the indices they
// were declared with; function names are appended after them when the
// program is built.
type Builder struct {
	globals []GlobalValue
	names   []string
	fns     []FnDef
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Const declares a constant global and returns its index.
func (b *Builder) Const(data []byte) uint32 {
	return b.global(true, data)
}

// Let declares a mutable global and returns its index.
func (b *Builder) Let(data []byte) uint32 {
	return b.global(false, data)
}

// Str declares a constant string global and returns its index.
func (b *Builder) Str(s string) uint32 {
	return b.global(true, []byte(s))
}

func (b *Builder) global(isConst bool, data []byte) uint32 {
	idx := uint32(len(b.globals))
	b.globals = append(b.globals, GlobalValue{IsConst: isConst, Bytes: append([]byte(nil), data...)})
	return idx
}

// Func declares a function and returns its id. The first function declared
// is the entry point.
func (b *Builder) Func(name string, locSlots, paramSlots, retSlots uint32, ins ...Op) uint32 {
	id := uint32(len(b.fns))
	b.fns = append(b.fns, FnDef{
		LocSlots:   locSlots,
		ParamSlots: paramSlots,
		RetSlots:   retSlots,
		Ins:        append([]Op(nil), ins...),
	})
	b.names = append(b.names, name)
	return id
}

// Program builds the program.
func (b *Builder) Program() *Program {
	globals := append([]GlobalValue(nil), b.globals...)
	fns := make([]FnDef, len(b.fns))
	for i, fn := range b.fns {
		fn.Name = uint32(len(globals))
		globals = append(globals, GlobalValue{IsConst: true, Bytes: []byte(b.names[i])})
		fns[i] = fn
	}
	return &Program{Globals: globals, Functions: fns}
}
