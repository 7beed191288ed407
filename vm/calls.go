package vm

import (
	"math"

	"fortio.org/safecast"
)

// Frame layout, slots growing upward:
//
//	bp - (param + ret) ... bp - param - 1   return value  (ArgA 0..)
//	bp - param         ... bp - 1           parameters
//	bp, bp+1, bp+2                          header: prev bp, resume ip, caller fn id
//	bp + 3             ... bp + 3 + loc - 1 locals        (LocA 0..)
//	bp + 3 + loc       ...                  expression stack

// call enters function id. The caller has already reserved the return
// slots and pushed the arguments.
func (vm *VM) call(id uint64) error {
	fn, err := vm.function(id)
	if err != nil {
		return err
	}
	args := uint64(fn.ParamSlots) + uint64(fn.RetSlots)
	if vm.sp < args {
		return ErrStackUnderflow
	}

	newBP := vm.sp
	if newBP+headerSlots+fn.FrameSlots() >= MaxStackSize {
		return ErrStackOverflow
	}

	if err := vm.mem.SlotSet(newBP, vm.bp); err != nil {
		return err
	}
	if err := vm.mem.SlotSet(newBP+1, uint64(vm.ip)); err != nil {
		return err
	}
	if err := vm.mem.SlotSet(newBP+2, uint64(vm.fnID)); err != nil {
		return err
	}

	vm.bp = newBP
	vm.sp = newBP + headerSlots + uint64(fn.LocSlots)
	vm.fn = fn
	vm.fnID = int(id)
	vm.ip = 0
	return nil
}

// ret leaves the current function. Parameters are dropped; the return
// slots stay on the caller's stack. Returning from the entry frame ends the
// program.
func (vm *VM) ret() error {
	prevBP, err := vm.mem.SlotGet(vm.bp)
	if err != nil {
		return err
	}
	resumeIP, err := vm.mem.SlotGet(vm.bp + 1)
	if err != nil {
		return err
	}
	callerID, err := vm.mem.SlotGet(vm.bp + 2)
	if err != nil {
		return err
	}

	if callerID == sentinel {
		vm.ip = len(vm.fn.Ins)
		return nil
	}

	caller, err := vm.function(callerID)
	if err != nil {
		return err
	}
	ip, err := safecast.Convert[int](resumeIP)
	if err != nil {
		return &InvalidJumpError{FnID: int(callerID), Target: int64(math.MaxInt64)}
	}
	param := uint64(vm.fn.ParamSlots)
	if vm.bp < param {
		return ErrStackUnderflow
	}

	vm.sp = vm.bp - param
	vm.bp = prevBP
	vm.ip = ip
	vm.fn = caller
	vm.fnID = int(callerID)
	return nil
}

// callByName resolves the string in global id to a program function, or
// failing that to a builtin.
func (vm *VM) callByName(id uint64) error {
	if id >= uint64(len(vm.prog.Globals)) {
		return &InvalidGlobalIDError{ID: id}
	}
	name := string(vm.prog.Globals[id].Bytes)
	if fnID, ok := vm.functions[name]; ok {
		return vm.call(uint64(fnID))
	}
	if b, ok := builtins[name]; ok {
		return vm.callBuiltin(b)
	}
	return &UnknownFunctionNameError{Name: name}
}

// ---------------------------------------------------------------------------
// Builtins
// ---------------------------------------------------------------------------

// builtin is a library function reachable through CallName. It uses the
// ordinary call-site layout: rets reserved slots followed by params pushed
// arguments.
type builtin struct {
	params, rets uint64
	run          func(vm *VM, args []uint64) (uint64, error)
}

var builtins = map[string]builtin{
	"getint": {0, 1, func(vm *VM, _ []uint64) (uint64, error) {
		v, err := vm.scanInt()
		return uint64(v), err
	}},
	"getdouble": {0, 1, func(vm *VM, _ []uint64) (uint64, error) {
		f, err := vm.scanFloat()
		return math.Float64bits(f), err
	}},
	"getchar": {0, 1, func(vm *VM, _ []uint64) (uint64, error) {
		c, err := vm.scanChar()
		return uint64(c), err
	}},
	"putint": {1, 0, func(vm *VM, args []uint64) (uint64, error) {
		return 0, vm.printInt(int64(args[0]))
	}},
	"putdouble": {1, 0, func(vm *VM, args []uint64) (uint64, error) {
		return 0, vm.printFloat(math.Float64frombits(args[0]))
	}},
	"putchar": {1, 0, func(vm *VM, args []uint64) (uint64, error) {
		return 0, vm.printChar(args[0])
	}},
	"putstr": {1, 0, func(vm *VM, args []uint64) (uint64, error) {
		return 0, vm.printGlobal(args[0])
	}},
	"putln": {0, 0, func(vm *VM, _ []uint64) (uint64, error) {
		return 0, vm.printLn()
	}},
}

// IsBuiltin reports whether name is served by the VM when no program
// function has that name.
func IsBuiltin(name string) bool {
	_, ok := builtins[name]
	return ok
}

func (vm *VM) callBuiltin(b builtin) error {
	if vm.sp < b.params+b.rets {
		return ErrStackUnderflow
	}
	args := vm.mem.Slots(vm.sp-b.params, vm.sp)
	vm.sp -= b.params

	v, err := b.run(vm, args)
	if err != nil {
		return err
	}
	if b.rets > 0 {
		return vm.setTop(v)
	}
	return nil
}
