package s0

import (
	"fmt"
	"math"
)

// Op is a single decoded instruction: an opcode and its immediate operand.
// Arg is zero for opcodes without an operand. Signed branch offsets are
// stored as the two's complement bit pattern of an int32.
type Op struct {
	Code Opcode `cbor:"1,keyasint"`
	Arg  uint64 `cbor:"2,keyasint,omitempty"`
}

// Offset returns the operand interpreted as a signed branch offset.
func (o Op) Offset() int32 {
	return int32(uint32(o.Arg))
}

// String renders the instruction in assembler syntax.
func (o Op) String() string {
	switch o.Code.Operand() {
	case OperandNone:
		return o.Code.String()
	case OperandI32:
		return fmt.Sprintf("%s %d", o.Code, o.Offset())
	case OperandU64:
		if o.Code == OpPush && o.Arg > math.MaxUint32 {
			return fmt.Sprintf("%s 0x%x", o.Code, o.Arg)
		}
		return fmt.Sprintf("%s %d", o.Code, o.Arg)
	default:
		return fmt.Sprintf("%s %d", o.Code, o.Arg)
	}
}

// Instructions without an operand.
var (
	Nop     = Op{Code: OpNop}
	Pop     = Op{Code: OpPop}
	Dup     = Op{Code: OpDup}
	Load8   = Op{Code: OpLoad8}
	Load16  = Op{Code: OpLoad16}
	Load32  = Op{Code: OpLoad32}
	Load64  = Op{Code: OpLoad64}
	Store8  = Op{Code: OpStore8}
	Store16 = Op{Code: OpStore16}
	Store32 = Op{Code: OpStore32}
	Store64 = Op{Code: OpStore64}
	Alloc   = Op{Code: OpAlloc}
	Free    = Op{Code: OpFree}
	AddI    = Op{Code: OpAddI}
	SubI    = Op{Code: OpSubI}
	MulI    = Op{Code: OpMulI}
	DivI    = Op{Code: OpDivI}
	AddF    = Op{Code: OpAddF}
	SubF    = Op{Code: OpSubF}
	MulF    = Op{Code: OpMulF}
	DivF    = Op{Code: OpDivF}
	DivU    = Op{Code: OpDivU}
	Shl     = Op{Code: OpShl}
	Shr     = Op{Code: OpShr}
	And     = Op{Code: OpAnd}
	Or      = Op{Code: OpOr}
	Xor     = Op{Code: OpXor}
	Not     = Op{Code: OpNot}
	CmpI    = Op{Code: OpCmpI}
	CmpU    = Op{Code: OpCmpU}
	CmpF    = Op{Code: OpCmpF}
	NegI    = Op{Code: OpNegI}
	NegF    = Op{Code: OpNegF}
	IToF    = Op{Code: OpIToF}
	FToI    = Op{Code: OpFToI}
	ShrL    = Op{Code: OpShrL}
	SetLt   = Op{Code: OpSetLt}
	SetGt   = Op{Code: OpSetGt}
	Ret     = Op{Code: OpRet}
	ScanI   = Op{Code: OpScanI}
	ScanC   = Op{Code: OpScanC}
	ScanF   = Op{Code: OpScanF}
	PrintI  = Op{Code: OpPrintI}
	PrintC  = Op{Code: OpPrintC}
	PrintF  = Op{Code: OpPrintF}
	PrintS  = Op{Code: OpPrintS}
	PrintLn = Op{Code: OpPrintLn}
	Panic   = Op{Code: OpPanic}
)

// Push pushes an immediate slot value.
func Push(v uint64) Op { return Op{Code: OpPush, Arg: v} }

// PushF pushes the bit pattern of a float64.
func PushF(f float64) Op { return Op{Code: OpPush, Arg: math.Float64bits(f)} }

// PushI pushes the two's complement bit pattern of an int64.
func PushI(i int64) Op { return Op{Code: OpPush, Arg: uint64(i)} }

func PopN(n uint32) Op { return Op{Code: OpPopN, Arg: uint64(n)} }
func LocA(n uint32) Op { return Op{Code: OpLocA, Arg: uint64(n)} }
func ArgA(n uint32) Op { return Op{Code: OpArgA, Arg: uint64(n)} }
func GlobA(n uint32) Op { return Op{Code: OpGlobA, Arg: uint64(n)} }
func StackAlloc(n uint32) Op { return Op{Code: OpStackAlloc, Arg: uint64(n)} }
func BrA(ip uint64) Op { return Op{Code: OpBrA, Arg: ip} }
func Br(off int32) Op { return Op{Code: OpBr, Arg: uint64(uint32(off))} }
func BrFalse(off int32) Op { return Op{Code: OpBrFalse, Arg: uint64(uint32(off))} }
func BrTrue(off int32) Op { return Op{Code: OpBrTrue, Arg: uint64(uint32(off))} }
func Call(id uint32) Op { return Op{Code: OpCall, Arg: uint64(id)} }
func CallName(id uint32) Op { return Op{Code: OpCallName, Arg: uint64(id)} }
