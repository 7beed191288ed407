package vm

import (
	"encoding/binary"

	"fortio.org/safecast"
	"github.com/google/btree"
)

// DefaultHeapLimit caps the total bytes of live heap blocks.
const DefaultHeapLimit uint64 = 1 << 30

// heapSpan is the number of addressable bytes between HeapStart and the
// stack region.
const heapSpan = StackStart - HeapStart

// block is one managed heap allocation. start is the offset from HeapStart.
type block struct {
	start  uint64
	data   []byte
	global bool // holds a program global; never freed by the program
}

func blockLess(a, b *block) bool {
	return a.start < b.start
}

// Memory owns the heap blocks and the stack buffer of one VM.
type Memory struct {
	heap  *btree.BTreeG[*block]
	stack []byte

	brk   uint64 // end of the highest block ever allocated
	live  uint64 // bytes held by live heap blocks
	limit uint64
}

// NewMemory creates an empty heap and a zeroed stack of MaxStackSize slots.
func NewMemory() *Memory {
	return &Memory{
		heap:  btree.NewG(16, blockLess),
		stack: make([]byte, MaxStackSize*SlotSize),
		limit: DefaultHeapLimit,
	}
}

// SetHeapLimit changes the cap on live heap bytes. Zero restores the
// default.
func (m *Memory) SetHeapLimit(n uint64) {
	if n == 0 {
		n = DefaultHeapLimit
	}
	m.limit = n
}

// ---------------------------------------------------------------------------
// Heap lifecycle
// ---------------------------------------------------------------------------

// AllocHeap allocates a zeroed block of length bytes placed after the
// highest block allocated so far, rounded up to alignment. Freed space is
// never reused, not even when the highest block was freed. Returns the raw
// address of the block.
func (m *Memory) AllocHeap(length, alignment uint64) (uint64, error) {
	if length == 0 {
		return 0, ErrAllocZero
	}
	if alignment == 0 {
		alignment = 1
	}

	start := roundUp(m.brk, alignment)
	if start >= heapSpan || length > heapSpan-start {
		return 0, ErrOutOfMemory
	}
	if length > m.limit || m.live > m.limit-length {
		return 0, ErrOutOfMemory
	}
	n, err := safecast.Convert[int](length)
	if err != nil {
		return 0, ErrOutOfMemory
	}

	m.heap.ReplaceOrInsert(&block{start: start, data: make([]byte, n)})
	m.live += length
	m.brk = start + length
	return HeapStart + start, nil
}

// allocGlobal places a global's initial value on the heap.
func (m *Memory) allocGlobal(data []byte) (uint64, error) {
	length := uint64(len(data))
	if length == 0 {
		// Empty globals still need a distinct address.
		length = 1
	}
	addr, err := m.AllocHeap(length, SlotSize)
	if err != nil {
		return 0, err
	}
	b, _ := m.heap.Get(&block{start: addr - HeapStart})
	copy(b.data, data)
	b.global = true
	return addr, nil
}

// FreeHeap releases the block starting exactly at raw. Blocks holding
// globals cannot be freed.
func (m *Memory) FreeHeap(raw uint64) error {
	addr, err := DecodeAddress(raw)
	if err != nil || addr.Region != RegionHeap {
		return ErrInvalidDeallocation
	}
	b, ok := m.heap.Get(&block{start: addr.Offset})
	if !ok || b.global {
		return ErrInvalidDeallocation
	}
	m.heap.Delete(b)
	m.live -= uint64(len(b.data))
	return nil
}

// HeapBlocks returns the number of live heap blocks.
func (m *Memory) HeapBlocks() int {
	return m.heap.Len()
}

// HeapBytes returns the number of bytes held by live heap blocks.
func (m *Memory) HeapBytes() uint64 {
	return m.live
}

// Release drops every heap block and the stack buffer. The memory cannot
// be used afterwards.
func (m *Memory) Release() {
	m.heap.Clear(false)
	m.live = 0
	m.brk = 0
	m.stack = nil
}

// ---------------------------------------------------------------------------
// Typed access
// ---------------------------------------------------------------------------

// bytesAt resolves raw to the w bytes it names, checking alignment first
// and then that the access stays inside one block or the stack buffer.
func (m *Memory) bytesAt(raw uint64, w Width) ([]byte, error) {
	if raw%uint64(w) != 0 {
		return nil, &UnalignedAccessError{Addr: raw, Width: w}
	}
	addr, err := DecodeAddress(raw)
	if err != nil {
		return nil, err
	}

	switch addr.Region {
	case RegionStack:
		if addr.Offset > uint64(len(m.stack)) || uint64(w) > uint64(len(m.stack))-addr.Offset {
			return nil, &InvalidAddressError{Addr: raw}
		}
		return m.stack[addr.Offset : addr.Offset+uint64(w)], nil
	default:
		var found *block
		m.heap.DescendLessOrEqual(&block{start: addr.Offset}, func(b *block) bool {
			found = b
			return false
		})
		if found == nil {
			return nil, &InvalidAddressError{Addr: raw}
		}
		off := addr.Offset - found.start
		if off > uint64(len(found.data)) || uint64(w) > uint64(len(found.data))-off {
			return nil, &InvalidAddressError{Addr: raw}
		}
		return found.data[off : off+uint64(w)], nil
	}
}

// Load reads w bytes at raw and zero-extends them to a slot value.
func (m *Memory) Load(raw uint64, w Width) (uint64, error) {
	b, err := m.bytesAt(raw, w)
	if err != nil {
		return 0, err
	}
	switch w {
	case W8:
		return uint64(b[0]), nil
	case W16:
		return uint64(binary.LittleEndian.Uint16(b)), nil
	case W32:
		return uint64(binary.LittleEndian.Uint32(b)), nil
	default:
		return binary.LittleEndian.Uint64(b), nil
	}
}

// Store writes the low w bytes of v at raw. Neighbouring bytes are left
// untouched.
func (m *Memory) Store(raw uint64, w Width, v uint64) error {
	b, err := m.bytesAt(raw, w)
	if err != nil {
		return err
	}
	switch w {
	case W8:
		b[0] = byte(v)
	case W16:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case W32:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Slot access
// ---------------------------------------------------------------------------

// SlotGet reads stack slot p.
func (m *Memory) SlotGet(p uint64) (uint64, error) {
	if p >= uint64(len(m.stack)/SlotSize) {
		return 0, &InvalidStackOffsetError{Slot: p}
	}
	return binary.LittleEndian.Uint64(m.stack[p*SlotSize:]), nil
}

// SlotSet writes stack slot p.
func (m *Memory) SlotSet(p, v uint64) error {
	if p >= uint64(len(m.stack)/SlotSize) {
		return &InvalidStackOffsetError{Slot: p}
	}
	binary.LittleEndian.PutUint64(m.stack[p*SlotSize:], v)
	return nil
}

// Slots returns a copy of stack slots [from, to).
func (m *Memory) Slots(from, to uint64) []uint64 {
	limit := uint64(len(m.stack) / SlotSize)
	if to > limit {
		to = limit
	}
	if from >= to {
		return nil
	}
	out := make([]uint64, 0, to-from)
	for p := from; p < to; p++ {
		out = append(out, binary.LittleEndian.Uint64(m.stack[p*SlotSize:]))
	}
	return out
}
