package vm

import (
	"bufio"
	"io"
	"math"

	"github.com/chazu/r0vm/pkg/s0"
)

// sentinel fills every field of the header below the entry frame.
const sentinel uint64 = math.MaxUint64

// headerSlots is the size of a frame header: previous bp, resume ip and
// caller function id.
const headerSlots = 3

// VM interprets one program. A VM is not safe for concurrent use; run
// independent instances to execute programs in parallel.
type VM struct {
	prog *s0.Program
	mem  *Memory

	globals   []uint64          // global id -> heap address
	functions map[string]uint32 // function name -> id

	// Current frame
	fn   *s0.FnDef
	fnID int
	ip   int
	sp   uint64 // next free slot
	bp   uint64 // start of the current frame header

	last s0.Op

	in  *bufio.Reader
	out io.Writer
}

// New creates a VM for prog. Globals are copied onto the heap in
// declaration order and the entry function's frame is set up on top of the
// sentinel header. A nil in reads as empty input; a nil out discards
// output.
func New(prog *s0.Program, in io.Reader, out io.Writer) (*VM, error) {
	if prog == nil || len(prog.Functions) == 0 {
		return nil, ErrNoEntryPoint
	}
	if in == nil {
		in = eofReader{}
	}
	if out == nil {
		out = io.Discard
	}

	vm := &VM{
		prog: prog,
		mem:  NewMemory(),
		in:   bufio.NewReader(in),
		out:  out,
	}

	for i := uint64(0); i < headerSlots; i++ {
		if err := vm.mem.SlotSet(i, sentinel); err != nil {
			return nil, err
		}
	}
	if err := vm.indexGlobals(); err != nil {
		return nil, err
	}
	if err := vm.indexFunctions(); err != nil {
		return nil, err
	}

	vm.fn = &prog.Functions[0]
	vm.fnID = 0
	vm.bp = 0
	vm.sp = uint64(vm.fn.LocSlots) + headerSlots
	if vm.sp > MaxStackSize {
		return nil, ErrStackOverflow
	}
	return vm, nil
}

func (vm *VM) indexGlobals() error {
	vm.globals = make([]uint64, len(vm.prog.Globals))
	for i, g := range vm.prog.Globals {
		addr, err := vm.mem.allocGlobal(g.Bytes)
		if err != nil {
			return err
		}
		vm.globals[i] = addr
	}
	return nil
}

func (vm *VM) indexFunctions() error {
	vm.functions = make(map[string]uint32, len(vm.prog.Functions))
	for i, fn := range vm.prog.Functions {
		if int(fn.Name) >= len(vm.prog.Globals) {
			return &InvalidFunctionNameIndexError{FnID: i, Index: fn.Name}
		}
		vm.functions[string(vm.prog.Globals[fn.Name].Bytes)] = uint32(i)
	}
	return nil
}

// SetHeapLimit caps the bytes the program may hold on the heap.
func (vm *VM) SetHeapLimit(n uint64) {
	vm.mem.SetHeapLimit(n)
}

// ---------------------------------------------------------------------------
// Execution loop
// ---------------------------------------------------------------------------

// Step fetches the instruction at ip, advances ip and executes it. Running
// off the end of a function yields *ControlReachesEndError; for the entry
// function that is normal completion.
func (vm *VM) Step() (s0.Op, error) {
	if vm.ip >= len(vm.fn.Ins) {
		return s0.Op{}, &ControlReachesEndError{FnID: vm.fnID}
	}
	op := vm.fn.Ins[vm.ip]
	vm.ip++
	vm.last = op
	return op, vm.exec(op)
}

// RunToEnd steps until the entry function completes or an error occurs.
func (vm *VM) RunToEnd() error {
	for {
		if _, err := vm.Step(); err != nil {
			if IsNormalExit(err) {
				return nil
			}
			return err
		}
	}
}

// RunToEndInspect is RunToEnd with a callback invoked after every step,
// including a failing one. Returning false from inspect stops the run
// without an error.
func (vm *VM) RunToEndInspect(inspect func(*VM) bool) error {
	for {
		_, err := vm.Step()
		if !inspect(vm) {
			return nil
		}
		if err != nil {
			if IsNormalExit(err) {
				return nil
			}
			return err
		}
	}
}

// IsAtEnd reports whether the entry function has run to completion.
func (vm *VM) IsAtEnd() bool {
	return vm.fnID == 0 && vm.ip == len(vm.fn.Ins)
}

// Close releases every heap block and the stack buffer.
func (vm *VM) Close() error {
	vm.mem.Release()
	return nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Program returns the program being executed.
func (vm *VM) Program() *s0.Program { return vm.prog }

// Memory returns the VM's heap and stack.
func (vm *VM) Memory() *Memory { return vm.mem }

// FnInfo returns the definition of the running function.
func (vm *VM) FnInfo() *s0.FnDef { return vm.fn }

// FnID returns the id of the running function.
func (vm *VM) FnID() int { return vm.fnID }

// IP returns the index of the next instruction.
func (vm *VM) IP() int { return vm.ip }

// SP returns the next free stack slot.
func (vm *VM) SP() uint64 { return vm.sp }

// BP returns the slot where the current frame header starts.
func (vm *VM) BP() uint64 { return vm.bp }

// LastOp returns the most recently fetched instruction.
func (vm *VM) LastOp() s0.Op { return vm.last }

// Stack returns a copy of the live stack, slots [0, sp).
func (vm *VM) Stack() []uint64 {
	return vm.mem.Slots(0, vm.sp)
}

// GlobalAddr returns the heap address of global id.
func (vm *VM) GlobalAddr(id uint64) (uint64, error) {
	if id >= uint64(len(vm.globals)) {
		return 0, &InvalidGlobalIDError{ID: id}
	}
	return vm.globals[id], nil
}

// FunctionByName resolves a program function name to its id.
func (vm *VM) FunctionByName(name string) (uint32, error) {
	id, ok := vm.functions[name]
	if !ok {
		return 0, &UnknownFunctionNameError{Name: name}
	}
	return id, nil
}

func (vm *VM) function(id uint64) (*s0.FnDef, error) {
	if id >= uint64(len(vm.prog.Functions)) {
		return nil, &InvalidFnIDError{ID: id}
	}
	return &vm.prog.Functions[id], nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
