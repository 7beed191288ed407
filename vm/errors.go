package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/r0vm/pkg/s0"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrOutOfMemory         = errors.New("out of memory")
	ErrAllocZero           = errors.New("allocating zero-sized memory")
	ErrInvalidDeallocation = errors.New("invalid deallocation: address is not the start of a block")
	ErrStackOverflow       = errors.New("stack overflow")
	ErrStackUnderflow      = errors.New("stack underflow")
	ErrHalt                = errors.New("halt")
	ErrDivideByZero        = errors.New("integer division by zero")
	ErrUnexpectedEOF       = errors.New("unexpected end of input")
	ErrNoEntryPoint        = s0.ErrNoEntryPoint
)

// ---------------------------------------------------------------------------
// Typed errors
// ---------------------------------------------------------------------------

// InvalidAddressError reports an access outside any mapped memory.
type InvalidAddressError struct {
	Addr uint64
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address 0x%016x", e.Addr)
}

// UnalignedAccessError reports an access whose address is not a multiple
// of the access width.
type UnalignedAccessError struct {
	Addr  uint64
	Width Width
}

func (e *UnalignedAccessError) Error() string {
	return fmt.Sprintf("unaligned %d-bit access at 0x%016x", e.Width.Bits(), e.Addr)
}

// InvalidStackOffsetError reports a slot index outside the stack buffer.
type InvalidStackOffsetError struct {
	Slot uint64
}

func (e *InvalidStackOffsetError) Error() string {
	return fmt.Sprintf("invalid stack offset %d", e.Slot)
}

// ControlReachesEndError is raised when ip runs past the end of a function.
// FnID 0 is normal program completion.
type ControlReachesEndError struct {
	FnID int
}

func (e *ControlReachesEndError) Error() string {
	return fmt.Sprintf("control reaches end of function #%d without returning", e.FnID)
}

// InvalidJumpError reports a branch to a negative instruction index.
type InvalidJumpError struct {
	FnID   int
	Target int64
}

func (e *InvalidJumpError) Error() string {
	return fmt.Sprintf("invalid jump to %d in function #%d", e.Target, e.FnID)
}

// InvalidOpcodeError reports an instruction the VM does not implement.
type InvalidOpcodeError struct {
	Code s0.Opcode
}

func (e *InvalidOpcodeError) Error() string {
	return fmt.Sprintf("invalid opcode 0x%02X", byte(e.Code))
}

// InvalidFnIDError reports a call to a function id the program lacks.
type InvalidFnIDError struct {
	ID uint64
}

func (e *InvalidFnIDError) Error() string {
	return fmt.Sprintf("invalid function id %d", e.ID)
}

// UnknownFunctionNameError reports a CallName target that resolves to
// neither a program function nor a builtin.
type UnknownFunctionNameError struct {
	Name string
}

func (e *UnknownFunctionNameError) Error() string {
	return fmt.Sprintf("unknown function name %q", e.Name)
}

// InvalidFunctionNameIndexError reports a function whose name global does
// not exist.
type InvalidFunctionNameIndexError struct {
	FnID  int
	Index uint32
}

func (e *InvalidFunctionNameIndexError) Error() string {
	return fmt.Sprintf("function #%d has invalid name index %d", e.FnID, e.Index)
}

// InvalidGlobalIDError reports a reference to a global the program lacks.
type InvalidGlobalIDError struct {
	ID uint64
}

func (e *InvalidGlobalIDError) Error() string {
	return fmt.Sprintf("invalid global id %d", e.ID)
}

// ParseError reports malformed input read by a Scan instruction.
type ParseError struct {
	Kind  string
	Input string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("failed to parse %s from %q: %v", e.Kind, e.Input, e.Err)
	}
	return fmt.Sprintf("failed to parse %s from %q", e.Kind, e.Input)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// IsNormalExit reports whether err is the completion signal of the entry
// function.
func IsNormalExit(err error) bool {
	var end *ControlReachesEndError
	return errors.As(err, &end) && end.FnID == 0
}
