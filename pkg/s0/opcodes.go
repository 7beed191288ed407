package s0

import "fmt"

// Opcode represents a bytecode instruction.
// Values follow the o0 binary numbering so that an encoded program can be
// decoded without a translation table.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x09)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPush Opcode = 0x01 // Push immediate: OpPush <value:u64>
	OpPop  Opcode = 0x02 // Pop top of stack
	OpPopN Opcode = 0x03 // Pop n slots: OpPopN <n:u32>
	OpDup  Opcode = 0x04 // Duplicate top of stack

	// ========================================================================
	// Addressing (0x0A-0x0F)
	// ========================================================================

	OpLocA  Opcode = 0x0A // Push address of local slot: OpLocA <n:u32>
	OpArgA  Opcode = 0x0B // Push address of argument slot: OpArgA <n:u32>
	OpGlobA Opcode = 0x0C // Push address of global: OpGlobA <n:u32>

	// ========================================================================
	// Memory access (0x10-0x1A)
	// ========================================================================

	OpLoad8      Opcode = 0x10 // Pop address, push zero-extended byte
	OpLoad16     Opcode = 0x11
	OpLoad32     Opcode = 0x12
	OpLoad64     Opcode = 0x13
	OpStore8     Opcode = 0x14 // Pop value, pop address, store low byte
	OpStore16    Opcode = 0x15
	OpStore32    Opcode = 0x16
	OpStore64    Opcode = 0x17
	OpAlloc      Opcode = 0x18 // Pop length, push new heap address
	OpFree       Opcode = 0x19 // Pop heap address and release it
	OpStackAlloc Opcode = 0x1A // Reserve slots: OpStackAlloc <n:u32>

	// ========================================================================
	// Arithmetic and bitwise (0x20-0x2E)
	// ========================================================================

	OpAddI Opcode = 0x20
	OpSubI Opcode = 0x21
	OpMulI Opcode = 0x22
	OpDivI Opcode = 0x23
	OpAddF Opcode = 0x24
	OpSubF Opcode = 0x25
	OpMulF Opcode = 0x26
	OpDivF Opcode = 0x27
	OpDivU Opcode = 0x28
	OpShl  Opcode = 0x29
	OpShr  Opcode = 0x2A // Arithmetic shift right
	OpAnd  Opcode = 0x2B
	OpOr   Opcode = 0x2C
	OpXor  Opcode = 0x2D
	OpNot  Opcode = 0x2E // Logical not: 1 if zero, else 0

	// ========================================================================
	// Comparison and conversion (0x30-0x3A)
	// ========================================================================

	OpCmpI  Opcode = 0x30 // Pop two, push -1/0/1
	OpCmpU  Opcode = 0x31
	OpCmpF  Opcode = 0x32
	OpNegI  Opcode = 0x34
	OpNegF  Opcode = 0x35
	OpIToF  Opcode = 0x36
	OpFToI  Opcode = 0x37
	OpShrL  Opcode = 0x38 // Logical shift right
	OpSetLt Opcode = 0x39 // Pop, push 1 if negative
	OpSetGt Opcode = 0x3A // Pop, push 1 if positive

	// ========================================================================
	// Control flow (0x40-0x4A)
	// ========================================================================

	OpBrA      Opcode = 0x40 // Jump to absolute ip: OpBrA <ip:u64>
	OpBr       Opcode = 0x41 // Relative jump: OpBr <offset:i32>
	OpBrFalse  Opcode = 0x42 // Pop, jump if zero
	OpBrTrue   Opcode = 0x43 // Pop, jump if non-zero
	OpCall     Opcode = 0x48 // Call function: OpCall <id:u32>
	OpRet      Opcode = 0x49
	OpCallName Opcode = 0x4A // Call by name: OpCallName <global:u32>

	// ========================================================================
	// I/O (0x50-0x58)
	// ========================================================================

	OpScanI   Opcode = 0x50
	OpScanC   Opcode = 0x51
	OpScanF   Opcode = 0x52
	OpPrintI  Opcode = 0x54
	OpPrintC  Opcode = 0x55
	OpPrintF  Opcode = 0x56
	OpPrintS  Opcode = 0x57 // Pop global id, write its bytes
	OpPrintLn Opcode = 0x58

	// ========================================================================
	// Abort
	// ========================================================================

	OpPanic Opcode = 0xFE
)

// OperandKind describes the immediate that follows an opcode.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandU32
	OperandI32
	OperandU64
)

// Size returns the encoded width of the operand in bytes.
func (k OperandKind) Size() int {
	switch k {
	case OperandU32, OperandI32:
		return 4
	case OperandU64:
		return 8
	default:
		return 0
	}
}

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string      // Assembler mnemonic
	StackPop  int         // How many values popped from stack (-1 = variable)
	StackPush int         // How many values pushed to stack
	Operand   OperandKind // Immediate operand following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"nop", 0, 0, OperandNone},
	OpPush: {"push", 0, 1, OperandU64},
	OpPop:  {"pop", 1, 0, OperandNone},
	OpPopN: {"popn", -1, 0, OperandU32},
	OpDup:  {"dup", 1, 2, OperandNone},

	// Addressing
	OpLocA:  {"loca", 0, 1, OperandU32},
	OpArgA:  {"arga", 0, 1, OperandU32},
	OpGlobA: {"globa", 0, 1, OperandU32},

	// Memory
	OpLoad8:      {"load.8", 1, 1, OperandNone},
	OpLoad16:     {"load.16", 1, 1, OperandNone},
	OpLoad32:     {"load.32", 1, 1, OperandNone},
	OpLoad64:     {"load.64", 1, 1, OperandNone},
	OpStore8:     {"store.8", 2, 0, OperandNone},
	OpStore16:    {"store.16", 2, 0, OperandNone},
	OpStore32:    {"store.32", 2, 0, OperandNone},
	OpStore64:    {"store.64", 2, 0, OperandNone},
	OpAlloc:      {"alloc", 1, 1, OperandNone},
	OpFree:       {"free", 1, 0, OperandNone},
	OpStackAlloc: {"stackalloc", 0, -1, OperandU32},

	// Arithmetic and bitwise
	OpAddI: {"add.i", 2, 1, OperandNone},
	OpSubI: {"sub.i", 2, 1, OperandNone},
	OpMulI: {"mul.i", 2, 1, OperandNone},
	OpDivI: {"div.i", 2, 1, OperandNone},
	OpAddF: {"add.f", 2, 1, OperandNone},
	OpSubF: {"sub.f", 2, 1, OperandNone},
	OpMulF: {"mul.f", 2, 1, OperandNone},
	OpDivF: {"div.f", 2, 1, OperandNone},
	OpDivU: {"div.u", 2, 1, OperandNone},
	OpShl:  {"shl", 2, 1, OperandNone},
	OpShr:  {"shr", 2, 1, OperandNone},
	OpAnd:  {"and", 2, 1, OperandNone},
	OpOr:   {"or", 2, 1, OperandNone},
	OpXor:  {"xor", 2, 1, OperandNone},
	OpNot:  {"not", 1, 1, OperandNone},

	// Comparison and conversion
	OpCmpI:  {"cmp.i", 2, 1, OperandNone},
	OpCmpU:  {"cmp.u", 2, 1, OperandNone},
	OpCmpF:  {"cmp.f", 2, 1, OperandNone},
	OpNegI:  {"neg.i", 1, 1, OperandNone},
	OpNegF:  {"neg.f", 1, 1, OperandNone},
	OpIToF:  {"itof", 1, 1, OperandNone},
	OpFToI:  {"ftoi", 1, 1, OperandNone},
	OpShrL:  {"shrl", 2, 1, OperandNone},
	OpSetLt: {"set.lt", 1, 1, OperandNone},
	OpSetGt: {"set.gt", 1, 1, OperandNone},

	// Control flow
	OpBrA:      {"bra", 0, 0, OperandU64},
	OpBr:       {"br", 0, 0, OperandI32},
	OpBrFalse:  {"br.false", 1, 0, OperandI32},
	OpBrTrue:   {"br.true", 1, 0, OperandI32},
	OpCall:     {"call", -1, 0, OperandU32},
	OpRet:      {"ret", -1, 0, OperandNone},
	OpCallName: {"callname", -1, 0, OperandU32},

	// I/O
	OpScanI:   {"scan.i", 0, 1, OperandNone},
	OpScanC:   {"scan.c", 0, 1, OperandNone},
	OpScanF:   {"scan.f", 0, 1, OperandNone},
	OpPrintI:  {"print.i", 1, 0, OperandNone},
	OpPrintC:  {"print.c", 1, 0, OperandNone},
	OpPrintF:  {"print.f", 1, 0, OperandNone},
	OpPrintS:  {"print.s", 1, 0, OperandNone},
	OpPrintLn: {"println", 0, 0, OperandNone},

	OpPanic: {"panic", 0, 0, OperandNone},
}

// mnemonicTable is the reverse of opcodeInfoTable, used by the assembler.
var mnemonicTable = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// LookupMnemonic returns the opcode for an assembler mnemonic.
func LookupMnemonic(name string) (Opcode, bool) {
	op, ok := mnemonicTable[name]
	return op, ok
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the mnemonic of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Operand returns the operand kind for this opcode.
func (op Opcode) Operand() OperandKind {
	return GetOpcodeInfo(op).Operand
}

// IsBranch returns true if this opcode may change ip other than by one.
func (op Opcode) IsBranch() bool {
	return op >= OpBrA && op <= OpBrTrue
}

// IsCall returns true if this opcode enters another function.
func (op Opcode) IsCall() bool {
	return op == OpCall || op == OpCallName
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
