package vm

import (
	"errors"
	"math"
	"testing"

	"github.com/chazu/r0vm/pkg/s0"
)

// eval runs ins in an entry function and returns the top of the stack.
func eval(t *testing.T, ins ...s0.Op) uint64 {
	t.Helper()
	vm := runVM(t, entry(0, ins...))
	top, err := vm.Top()
	if err != nil {
		t.Fatalf("Top failed: %v", err)
	}
	return top
}

func i64(v int64) uint64 { return uint64(v) }

func f64(f float64) uint64 { return math.Float64bits(f) }

func TestIntegerOps(t *testing.T) {
	tests := []struct {
		name string
		ins  []s0.Op
		want uint64
	}{
		{"add", []s0.Op{s0.Push(40), s0.Push(2), s0.AddI}, 42},
		{"add wraps", []s0.Op{s0.Push(math.MaxUint64), s0.Push(2), s0.AddI}, 1},
		{"sub order", []s0.Op{s0.Push(5), s0.Push(7), s0.SubI}, i64(-2)},
		{"mul signed", []s0.Op{s0.PushI(-3), s0.Push(4), s0.MulI}, i64(-12)},
		{"div truncates", []s0.Op{s0.PushI(-7), s0.Push(2), s0.DivI}, i64(-3)},
		{"div min by -1", []s0.Op{s0.PushI(math.MinInt64), s0.PushI(-1), s0.DivI}, i64(math.MinInt64)},
		{"divu", []s0.Op{s0.Push(math.MaxUint64), s0.Push(2), s0.DivU}, math.MaxUint64 / 2},
		{"neg", []s0.Op{s0.Push(5), s0.NegI}, i64(-5)},
		{"shl", []s0.Op{s0.Push(1), s0.Push(3), s0.Shl}, 8},
		{"shl overflow", []s0.Op{s0.Push(1), s0.Push(64), s0.Shl}, 0},
		{"shr arithmetic", []s0.Op{s0.PushI(-8), s0.Push(1), s0.Shr}, i64(-4)},
		{"shrl logical", []s0.Op{s0.PushI(-8), s0.Push(1), s0.ShrL}, 0x7fff_ffff_ffff_fffc},
		{"and", []s0.Op{s0.Push(0b1100), s0.Push(0b1010), s0.And}, 0b1000},
		{"or", []s0.Op{s0.Push(0b1100), s0.Push(0b1010), s0.Or}, 0b1110},
		{"xor", []s0.Op{s0.Push(0b1100), s0.Push(0b1010), s0.Xor}, 0b0110},
		{"not zero", []s0.Op{s0.Push(0), s0.Not}, 1},
		{"not nonzero", []s0.Op{s0.Push(5), s0.Not}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eval(t, tt.ins...); got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestFloatOps(t *testing.T) {
	tests := []struct {
		name string
		ins  []s0.Op
		want float64
	}{
		{"add", []s0.Op{s0.PushF(1.5), s0.PushF(2.25), s0.AddF}, 3.75},
		{"sub order", []s0.Op{s0.PushF(1), s0.PushF(4), s0.SubF}, -3},
		{"mul", []s0.Op{s0.PushF(1.5), s0.PushF(-2), s0.MulF}, -3},
		{"div", []s0.Op{s0.PushF(1), s0.PushF(4), s0.DivF}, 0.25},
		{"div zero", []s0.Op{s0.PushF(1), s0.PushF(0), s0.DivF}, math.Inf(1)},
		{"neg", []s0.Op{s0.PushF(1.5), s0.NegF}, -1.5},
		{"itof", []s0.Op{s0.PushI(-3), s0.IToF}, -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := math.Float64frombits(eval(t, tt.ins...)); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFToI(t *testing.T) {
	tests := []struct {
		in   float64
		want int64
	}{
		{-2.9, -2},
		{2.9, 2},
		{math.NaN(), 0},
		{1e300, math.MaxInt64},
		{-1e300, math.MinInt64},
		{math.Inf(1), math.MaxInt64},
	}

	for _, tt := range tests {
		if got := int64(eval(t, s0.PushF(tt.in), s0.FToI)); got != tt.want {
			t.Errorf("FToI(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		ins  []s0.Op
		want uint64
	}{
		{"cmpi less", []s0.Op{s0.Push(1), s0.Push(2), s0.CmpI}, i64(-1)},
		{"cmpi greater", []s0.Op{s0.Push(2), s0.Push(1), s0.CmpI}, 1},
		{"cmpi equal", []s0.Op{s0.Push(2), s0.Push(2), s0.CmpI}, 0},
		{"cmpi signed", []s0.Op{s0.PushI(-1), s0.Push(1), s0.CmpI}, i64(-1)},
		{"cmpu unsigned", []s0.Op{s0.PushI(-1), s0.Push(1), s0.CmpU}, 1},
		{"cmpf less", []s0.Op{s0.PushF(-0.5), s0.PushF(0.25), s0.CmpF}, i64(-1)},
		{"cmpf equal zeros", []s0.Op{s0.PushF(0), s0.PushF(math.Copysign(0, -1)), s0.CmpF}, 0},
		{"cmpf nan", []s0.Op{s0.Push(f64(math.NaN())), s0.PushF(1), s0.CmpF}, 1},
		{"setlt negative", []s0.Op{s0.PushI(-1), s0.SetLt}, 1},
		{"setlt zero", []s0.Op{s0.Push(0), s0.SetLt}, 0},
		{"setgt negative", []s0.Op{s0.PushI(-1), s0.SetGt}, 0},
		{"setgt positive", []s0.Op{s0.Push(3), s0.SetGt}, 1},
		// a >= b lowers to CmpI, SetLt, Not
		{"ge", []s0.Op{s0.Push(3), s0.Push(3), s0.CmpI, s0.SetLt, s0.Not}, 1},
		// a <= b lowers to CmpI, SetGt, Not
		{"le", []s0.Op{s0.Push(4), s0.Push(3), s0.CmpI, s0.SetGt, s0.Not}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eval(t, tt.ins...); got != tt.want {
				t.Errorf("got %#x, want %#x", got, tt.want)
			}
		})
	}
}

func TestStackOps(t *testing.T) {
	vm := runVM(t, entry(0,
		s0.Push(1), s0.Push(2), s0.Push(3),
		s0.Pop,
		s0.Dup,
		s0.Push(9), s0.Push(9), s0.PopN(2),
	))
	assertStack(t, vm, 1, 2, 2)
}

func TestStackAlloc(t *testing.T) {
	vm := runVM(t, entry(0, s0.StackAlloc(4)))
	if vm.SP() != 7 {
		t.Errorf("sp = %d, want 7", vm.SP())
	}

	vm, _ = newVM(t, entry(0, s0.StackAlloc(MaxStackSize)), "")
	if err := vm.RunToEnd(); !errors.Is(err, ErrStackOverflow) {
		t.Errorf("StackAlloc past capacity = %v, want ErrStackOverflow", err)
	}
}

func TestDivideByZero(t *testing.T) {
	for _, op := range []s0.Op{s0.DivI, s0.DivU} {
		vm, _ := newVM(t, entry(0, s0.Push(1), s0.Push(0), op), "")
		if err := vm.RunToEnd(); !errors.Is(err, ErrDivideByZero) {
			t.Errorf("%s by zero = %v, want ErrDivideByZero", op, err)
		}
	}
}

func TestBrA(t *testing.T) {
	vm := runVM(t, entry(0, s0.BrA(2), s0.Push(1), s0.Push(2)))
	assertStack(t, vm, 2)
}

func TestBrTrue(t *testing.T) {
	// Counts down from 3 and leaves the final zero.
	vm := runVM(t, entry(0,
		s0.Push(3),
		s0.Push(1),
		s0.SubI,
		s0.Dup,
		s0.BrTrue(-4),
	))
	assertStack(t, vm, 0)
}

func TestInvalidJump(t *testing.T) {
	vm, _ := newVM(t, entry(0, s0.Br(-5)), "")
	var jump *InvalidJumpError
	if err := vm.RunToEnd(); !errors.As(err, &jump) {
		t.Fatalf("RunToEnd = %v, want InvalidJumpError", err)
	}
	if jump.Target != -4 {
		t.Errorf("Target = %d, want -4", jump.Target)
	}
}

func TestMemoryFaults(t *testing.T) {
	t.Run("unaligned", func(t *testing.T) {
		vm, _ := newVM(t, entry(0, s0.Push(8), s0.Alloc, s0.Push(1), s0.AddI, s0.Load64), "")
		var unaligned *UnalignedAccessError
		if err := vm.RunToEnd(); !errors.As(err, &unaligned) {
			t.Errorf("RunToEnd = %v, want UnalignedAccessError", err)
		}
	})

	t.Run("invalid address", func(t *testing.T) {
		vm, _ := newVM(t, entry(0, s0.Push(0), s0.Load64), "")
		var invalid *InvalidAddressError
		if err := vm.RunToEnd(); !errors.As(err, &invalid) {
			t.Errorf("RunToEnd = %v, want InvalidAddressError", err)
		}
	})

	t.Run("bad free", func(t *testing.T) {
		vm, _ := newVM(t, entry(0, s0.Push(16), s0.Alloc, s0.Push(8), s0.AddI, s0.Free), "")
		if err := vm.RunToEnd(); !errors.Is(err, ErrInvalidDeallocation) {
			t.Errorf("RunToEnd = %v, want ErrInvalidDeallocation", err)
		}
	})

	t.Run("alloc zero", func(t *testing.T) {
		vm, _ := newVM(t, entry(0, s0.Push(0), s0.Alloc), "")
		if err := vm.RunToEnd(); !errors.Is(err, ErrAllocZero) {
			t.Errorf("RunToEnd = %v, want ErrAllocZero", err)
		}
	})

	t.Run("heap limit", func(t *testing.T) {
		vm, _ := newVM(t, entry(0, s0.Push(1<<20), s0.Alloc), "")
		vm.SetHeapLimit(1024)
		if err := vm.RunToEnd(); !errors.Is(err, ErrOutOfMemory) {
			t.Errorf("RunToEnd = %v, want ErrOutOfMemory", err)
		}
	})

	t.Run("global id", func(t *testing.T) {
		vm, _ := newVM(t, entry(0, s0.GlobA(7)), "")
		var global *InvalidGlobalIDError
		if err := vm.RunToEnd(); !errors.As(err, &global) {
			t.Errorf("RunToEnd = %v, want InvalidGlobalIDError", err)
		}
	})

	t.Run("stack slot wraps into heap", func(t *testing.T) {
		// 3 + (1<<30 - 3) slots of 8 bytes wraps StackStart to HeapStart.
		b := s0.NewBuilder()
		b.Const(s0.U64Bytes(0x1234))
		b.Func("_start", 0, 0, 0, s0.LocA(1<<30-3), s0.Load64)
		vm, _ := newVM(t, b.Program(), "")

		var offset *InvalidStackOffsetError
		if err := vm.RunToEnd(); !errors.As(err, &offset) {
			t.Fatalf("RunToEnd = %v, want InvalidStackOffsetError", err)
		}
		if offset.Slot < MaxStackSize {
			t.Errorf("reported slot %d is inside the stack", offset.Slot)
		}
		if vm.SP() != 3 {
			t.Errorf("sp = %d, nothing should have been pushed", vm.SP())
		}
	})

	t.Run("arga past stack", func(t *testing.T) {
		vm, _ := newVM(t, entry(0, s0.ArgA(MaxStackSize)), "")
		var offset *InvalidStackOffsetError
		if err := vm.RunToEnd(); !errors.As(err, &offset) {
			t.Errorf("RunToEnd = %v, want InvalidStackOffsetError", err)
		}
	})

	t.Run("last stack slot", func(t *testing.T) {
		top := eval(t, s0.LocA(MaxStackSize-4))
		if top != StackAddr(MaxStackSize-1) {
			t.Errorf("LocA = %#x, want %#x", top, StackAddr(MaxStackSize-1))
		}
	})

	t.Run("free global", func(t *testing.T) {
		b := s0.NewBuilder()
		b.Const(s0.U64Bytes(0x1234))
		b.Func("_start", 0, 0, 0, s0.GlobA(0), s0.Free)
		vm, _ := newVM(t, b.Program(), "")

		if err := vm.RunToEnd(); !errors.Is(err, ErrInvalidDeallocation) {
			t.Fatalf("RunToEnd = %v, want ErrInvalidDeallocation", err)
		}
		addr, _ := vm.GlobalAddr(0)
		if v, err := vm.Memory().Load(addr, W64); err != nil || v != 0x1234 {
			t.Errorf("global after failed free = %#x, %v", v, err)
		}
	})

	t.Run("operand above 32 bits", func(t *testing.T) {
		tests := []struct {
			name string
			op   s0.Op
		}{
			{"globa", s0.Op{Code: s0.OpGlobA, Arg: 1 << 32}},
			{"callname", s0.Op{Code: s0.OpCallName, Arg: 1 << 32}},
		}
		for _, tt := range tests {
			vm, _ := newVM(t, entry(0, tt.op), "")
			var global *InvalidGlobalIDError
			if err := vm.RunToEnd(); !errors.As(err, &global) || global.ID != 1<<32 {
				t.Errorf("%s: RunToEnd = %v, want InvalidGlobalIDError for 1<<32", tt.name, err)
			}
		}

		vm, _ := newVM(t, entry(0, s0.Op{Code: s0.OpCall, Arg: 1 << 32}), "")
		var fn *InvalidFnIDError
		if err := vm.RunToEnd(); !errors.As(err, &fn) || fn.ID != 1<<32 {
			t.Errorf("call: RunToEnd = %v, want InvalidFnIDError for 1<<32", err)
		}
	})
}

func TestInvalidOpcode(t *testing.T) {
	vm, _ := newVM(t, entry(0, s0.Op{Code: 0xEE}), "")
	var bad *InvalidOpcodeError
	if err := vm.RunToEnd(); !errors.As(err, &bad) {
		t.Errorf("RunToEnd = %v, want InvalidOpcodeError", err)
	}
}
