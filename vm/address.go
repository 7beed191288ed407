package vm

import "fmt"

// Address space layout. The heap grows upward from HeapStart; everything at
// or above StackStart maps onto the stack buffer.
const (
	HeapStart    uint64 = 0x0000_0001_0000_0000
	StackStart   uint64 = 0xffff_ffff_0000_0000
	MaxStackSize        = 131072 // slots

	SlotSize = 8
)

// Region identifies which half of the address space an address lives in.
type Region uint8

const (
	RegionHeap Region = iota + 1
	RegionStack
)

func (r Region) String() string {
	switch r {
	case RegionHeap:
		return "heap"
	case RegionStack:
		return "stack"
	default:
		return "invalid"
	}
}

// Address is a raw VM address decoded into its region and the byte offset
// from that region's start.
type Address struct {
	Region Region
	Offset uint64
}

// DecodeAddress classifies a raw address. Addresses below HeapStart are not
// mapped.
func DecodeAddress(raw uint64) (Address, error) {
	switch {
	case raw >= StackStart:
		return Address{Region: RegionStack, Offset: raw - StackStart}, nil
	case raw >= HeapStart:
		return Address{Region: RegionHeap, Offset: raw - HeapStart}, nil
	default:
		return Address{}, &InvalidAddressError{Addr: raw}
	}
}

// Raw re-encodes the address.
func (a Address) Raw() uint64 {
	if a.Region == RegionStack {
		return StackStart + a.Offset
	}
	return HeapStart + a.Offset
}

func (a Address) String() string {
	return fmt.Sprintf("%s+0x%x", a.Region, a.Offset)
}

// StackAddr returns the raw address of a stack slot.
func StackAddr(slot uint64) uint64 {
	return StackStart + slot*SlotSize
}

// Width is the size of a typed memory access.
type Width uint8

const (
	W8  Width = 1
	W16 Width = 2
	W32 Width = 4
	W64 Width = 8
)

// Bits returns the access width in bits.
func (w Width) Bits() int {
	return int(w) * 8
}

// Mask returns the value mask for the width.
func (w Width) Mask() uint64 {
	if w == W64 {
		return ^uint64(0)
	}
	return 1<<(uint(w)*8) - 1
}

func roundUp(x, mult uint64) uint64 {
	if r := x % mult; r != 0 {
		return x + mult - r
	}
	return x
}
