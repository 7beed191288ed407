package vm

import (
	"math"

	"fortio.org/safecast"
	"github.com/chazu/r0vm/pkg/s0"
)

// exec runs one instruction. ip already points past it.
func (vm *VM) exec(op s0.Op) error {
	switch op.Code {
	// ============ Stack Operations ============
	case s0.OpNop:
		return nil

	case s0.OpPush:
		return vm.Push(op.Arg)

	case s0.OpPop:
		_, err := vm.Pop()
		return err

	case s0.OpPopN:
		return vm.TruncateBy(op.Arg)

	case s0.OpDup:
		v, err := vm.Top()
		if err != nil {
			return err
		}
		return vm.Push(v)

	// ============ Addressing ============
	case s0.OpLocA:
		slot, err := stackSlot(vm.bp+headerSlots, op.Arg)
		if err != nil {
			return err
		}
		return vm.Push(StackAddr(slot))

	case s0.OpArgA:
		below := uint64(vm.fn.ParamSlots) + uint64(vm.fn.RetSlots)
		if vm.bp < below {
			return ErrStackUnderflow
		}
		slot, err := stackSlot(vm.bp-below, op.Arg)
		if err != nil {
			return err
		}
		return vm.Push(StackAddr(slot))

	case s0.OpGlobA:
		addr, err := vm.GlobalAddr(op.Arg)
		if err != nil {
			return err
		}
		return vm.Push(addr)

	// ============ Memory ============
	case s0.OpLoad8:
		return vm.load(W8)
	case s0.OpLoad16:
		return vm.load(W16)
	case s0.OpLoad32:
		return vm.load(W32)
	case s0.OpLoad64:
		return vm.load(W64)

	case s0.OpStore8:
		return vm.store(W8)
	case s0.OpStore16:
		return vm.store(W16)
	case s0.OpStore32:
		return vm.store(W32)
	case s0.OpStore64:
		return vm.store(W64)

	case s0.OpAlloc:
		length, err := vm.Pop()
		if err != nil {
			return err
		}
		addr, err := vm.mem.AllocHeap(length, SlotSize)
		if err != nil {
			return err
		}
		return vm.Push(addr)

	case s0.OpFree:
		addr, err := vm.Pop()
		if err != nil {
			return err
		}
		return vm.mem.FreeHeap(addr)

	case s0.OpStackAlloc:
		if op.Arg > MaxStackSize-vm.sp {
			return ErrStackOverflow
		}
		vm.sp += op.Arg
		return nil

	// ============ Integer Arithmetic ============
	case s0.OpAddI:
		return vm.binary(func(a, b uint64) (uint64, error) { return a + b, nil })
	case s0.OpSubI:
		return vm.binary(func(a, b uint64) (uint64, error) { return a - b, nil })
	case s0.OpMulI:
		return vm.binary(func(a, b uint64) (uint64, error) { return uint64(int64(a) * int64(b)), nil })
	case s0.OpDivI:
		return vm.binary(func(a, b uint64) (uint64, error) {
			if b == 0 {
				return 0, ErrDivideByZero
			}
			return uint64(int64(a) / int64(b)), nil
		})
	case s0.OpDivU:
		return vm.binary(func(a, b uint64) (uint64, error) {
			if b == 0 {
				return 0, ErrDivideByZero
			}
			return a / b, nil
		})
	case s0.OpNegI:
		return vm.unary(func(a uint64) uint64 { return uint64(-int64(a)) })

	// ============ Float Arithmetic ============
	case s0.OpAddF:
		return vm.binaryF(func(a, b float64) float64 { return a + b })
	case s0.OpSubF:
		return vm.binaryF(func(a, b float64) float64 { return a - b })
	case s0.OpMulF:
		return vm.binaryF(func(a, b float64) float64 { return a * b })
	case s0.OpDivF:
		return vm.binaryF(func(a, b float64) float64 { return a / b })
	case s0.OpNegF:
		return vm.unary(func(a uint64) uint64 { return math.Float64bits(-math.Float64frombits(a)) })

	// ============ Bitwise ============
	case s0.OpShl:
		return vm.binary(func(a, b uint64) (uint64, error) { return a << b, nil })
	case s0.OpShr:
		return vm.binary(func(a, b uint64) (uint64, error) { return uint64(int64(a) >> b), nil })
	case s0.OpShrL:
		return vm.binary(func(a, b uint64) (uint64, error) { return a >> b, nil })
	case s0.OpAnd:
		return vm.binary(func(a, b uint64) (uint64, error) { return a & b, nil })
	case s0.OpOr:
		return vm.binary(func(a, b uint64) (uint64, error) { return a | b, nil })
	case s0.OpXor:
		return vm.binary(func(a, b uint64) (uint64, error) { return a ^ b, nil })
	case s0.OpNot:
		return vm.unary(func(a uint64) uint64 { return boolSlot(a == 0) })

	// ============ Comparison and Conversion ============
	case s0.OpCmpI:
		return vm.binary(func(a, b uint64) (uint64, error) { return cmpI(int64(a), int64(b)), nil })
	case s0.OpCmpU:
		return vm.binary(func(a, b uint64) (uint64, error) { return cmpU(a, b), nil })
	case s0.OpCmpF:
		return vm.binary(func(a, b uint64) (uint64, error) {
			return cmpF(math.Float64frombits(a), math.Float64frombits(b)), nil
		})
	case s0.OpSetLt:
		return vm.unary(func(a uint64) uint64 { return boolSlot(int64(a) < 0) })
	case s0.OpSetGt:
		return vm.unary(func(a uint64) uint64 { return boolSlot(int64(a) > 0) })
	case s0.OpIToF:
		return vm.unary(func(a uint64) uint64 { return math.Float64bits(float64(int64(a))) })
	case s0.OpFToI:
		return vm.unary(func(a uint64) uint64 { return uint64(ftoi(math.Float64frombits(a))) })

	// ============ Control Flow ============
	case s0.OpBrA:
		target, err := safecast.Convert[int](op.Arg)
		if err != nil {
			return &InvalidJumpError{FnID: vm.fnID, Target: -1}
		}
		vm.ip = target
		return nil

	case s0.OpBr:
		return vm.branch(op.Offset())

	case s0.OpBrFalse, s0.OpBrTrue:
		cond, err := vm.Pop()
		if err != nil {
			return err
		}
		if (cond != 0) == (op.Code == s0.OpBrTrue) {
			return vm.branch(op.Offset())
		}
		return nil

	case s0.OpCall:
		return vm.call(op.Arg)

	case s0.OpCallName:
		return vm.callByName(op.Arg)

	case s0.OpRet:
		return vm.ret()

	// ============ I/O ============
	case s0.OpScanI:
		v, err := vm.scanInt()
		if err != nil {
			return err
		}
		return vm.Push(uint64(v))

	case s0.OpScanC:
		c, err := vm.scanChar()
		if err != nil {
			return err
		}
		return vm.Push(uint64(c))

	case s0.OpScanF:
		f, err := vm.scanFloat()
		if err != nil {
			return err
		}
		return vm.Push(math.Float64bits(f))

	case s0.OpPrintI:
		v, err := vm.Pop()
		if err != nil {
			return err
		}
		return vm.printInt(int64(v))

	case s0.OpPrintC:
		v, err := vm.Pop()
		if err != nil {
			return err
		}
		return vm.printChar(v)

	case s0.OpPrintF:
		v, err := vm.Pop()
		if err != nil {
			return err
		}
		return vm.printFloat(math.Float64frombits(v))

	case s0.OpPrintS:
		id, err := vm.Pop()
		if err != nil {
			return err
		}
		return vm.printGlobal(id)

	case s0.OpPrintLn:
		return vm.printLn()

	// ============ Abort ============
	case s0.OpPanic:
		return ErrHalt

	default:
		return &InvalidOpcodeError{Code: op.Code}
	}
}

// ---------------------------------------------------------------------------
// Operand helpers
// ---------------------------------------------------------------------------

func (vm *VM) load(w Width) error {
	addr, err := vm.Pop()
	if err != nil {
		return err
	}
	v, err := vm.mem.Load(addr, w)
	if err != nil {
		return err
	}
	return vm.Push(v)
}

func (vm *VM) store(w Width) error {
	v, err := vm.Pop()
	if err != nil {
		return err
	}
	addr, err := vm.Pop()
	if err != nil {
		return err
	}
	return vm.mem.Store(addr, w, v)
}

func (vm *VM) binary(f func(lhs, rhs uint64) (uint64, error)) error {
	lhs, rhs, err := vm.pop2()
	if err != nil {
		return err
	}
	v, err := f(lhs, rhs)
	if err != nil {
		return err
	}
	return vm.Push(v)
}

func (vm *VM) binaryF(f func(lhs, rhs float64) float64) error {
	return vm.binary(func(a, b uint64) (uint64, error) {
		return math.Float64bits(f(math.Float64frombits(a), math.Float64frombits(b))), nil
	})
}

func (vm *VM) unary(f func(uint64) uint64) error {
	v, err := vm.Top()
	if err != nil {
		return err
	}
	return vm.setTop(f(v))
}

// branch jumps relative to the already advanced ip.
func (vm *VM) branch(off int32) error {
	target := int64(vm.ip) + int64(off)
	if target < 0 {
		return &InvalidJumpError{FnID: vm.fnID, Target: target}
	}
	vm.ip = int(target)
	return nil
}

// stackSlot adds a slot offset to a frame base, rejecting results outside
// the stack buffer so the address cannot wrap into the heap region.
func stackSlot(base, off uint64) (uint64, error) {
	if base >= MaxStackSize || off >= MaxStackSize-base {
		return 0, &InvalidStackOffsetError{Slot: base + min(off, MaxStackSize)}
	}
	return base + off, nil
}

func boolSlot(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Ordering results of the Cmp instructions.
const (
	cmpLess    = math.MaxUint64 // -1
	cmpEqual   = 0
	cmpGreater = 1
)

func cmpI(a, b int64) uint64 {
	switch {
	case a < b:
		return cmpLess
	case a > b:
		return cmpGreater
	default:
		return cmpEqual
	}
}

func cmpU(a, b uint64) uint64 {
	switch {
	case a < b:
		return cmpLess
	case a > b:
		return cmpGreater
	default:
		return cmpEqual
	}
}

// cmpF orders NaN after every other value.
func cmpF(a, b float64) uint64 {
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		return cmpGreater
	case a < b:
		return cmpLess
	case a > b:
		return cmpGreater
	default:
		return cmpEqual
	}
}

// ftoi truncates toward zero, saturating at the int64 range. NaN is 0.
func ftoi(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	default:
		return int64(f)
	}
}
