package vm

// Slot-level stack operations relative to sp. Push does not check against
// the frame size computed at Call; it only fails at the end of the buffer.

// Push writes v at sp and advances sp.
func (vm *VM) Push(v uint64) error {
	if err := vm.mem.SlotSet(vm.sp, v); err != nil {
		return err
	}
	vm.sp++
	return nil
}

// Pop removes and returns the top slot.
func (vm *VM) Pop() (uint64, error) {
	if vm.sp == 0 {
		return 0, ErrStackUnderflow
	}
	v, err := vm.mem.SlotGet(vm.sp - 1)
	if err != nil {
		return 0, err
	}
	vm.sp--
	return v, nil
}

// Top returns the top slot without removing it.
func (vm *VM) Top() (uint64, error) {
	if vm.sp == 0 {
		return 0, ErrStackUnderflow
	}
	return vm.mem.SlotGet(vm.sp - 1)
}

// TruncateBy drops n slots.
func (vm *VM) TruncateBy(n uint64) error {
	if n > vm.sp {
		return ErrStackUnderflow
	}
	vm.sp -= n
	return nil
}

// pop2 pops the right operand, then the left one.
func (vm *VM) pop2() (lhs, rhs uint64, err error) {
	if rhs, err = vm.Pop(); err != nil {
		return 0, 0, err
	}
	if lhs, err = vm.Pop(); err != nil {
		return 0, 0, err
	}
	return lhs, rhs, nil
}

// setTop overwrites the top slot.
func (vm *VM) setTop(v uint64) error {
	if vm.sp == 0 {
		return ErrStackUnderflow
	}
	return vm.mem.SlotSet(vm.sp-1, v)
}
