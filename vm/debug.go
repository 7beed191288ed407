package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/r0vm/pkg/s0"
)

// ---------------------------------------------------------------------------
// Stack traces
// ---------------------------------------------------------------------------

// StackInfo describes one frame of a stack trace.
type StackInfo struct {
	FnName string // empty when the name global is missing
	FnID   uint64
	IP     uint64 // next instruction in that frame
}

func (s StackInfo) String() string {
	name := s.FnName
	if name == "" {
		name = "Unnamed function"
	}
	return fmt.Sprintf("%s (id=%d) +%d", name, s.FnID, s.IP)
}

// StackTrace lists the running frame followed by its callers, innermost
// first. corrupted is true when a frame header could not be read before
// reaching the sentinel.
func (vm *VM) StackTrace() (trace []StackInfo, corrupted bool) {
	trace = append(trace, vm.currentStackInfo())

	bp := vm.bp
	// A well-formed chain has at most one header per three slots.
	for i := 0; i < MaxStackSize/headerSlots; i++ {
		info, prevBP, err := vm.frameInfo(bp)
		if err != nil {
			return trace, true
		}
		if info.FnID == sentinel {
			return trace, false
		}
		trace = append(trace, info)
		bp = prevBP
	}
	return trace, true
}

func (vm *VM) currentStackInfo() StackInfo {
	return StackInfo{
		FnName: vm.fnName(vm.fn),
		FnID:   uint64(vm.fnID),
		IP:     uint64(vm.ip),
	}
}

// frameInfo decodes the header at bp into the caller it records and the
// caller's bp.
func (vm *VM) frameInfo(bp uint64) (StackInfo, uint64, error) {
	prevBP, err := vm.mem.SlotGet(bp)
	if err != nil {
		return StackInfo{}, 0, err
	}
	ip, err := vm.mem.SlotGet(bp + 1)
	if err != nil {
		return StackInfo{}, 0, err
	}
	fnID, err := vm.mem.SlotGet(bp + 2)
	if err != nil {
		return StackInfo{}, 0, err
	}
	info := StackInfo{FnID: fnID, IP: ip}
	if fn, err := vm.function(fnID); err == nil {
		info.FnName = vm.fnName(fn)
	}
	return info, prevBP, nil
}

func (vm *VM) fnName(fn *s0.FnDef) string {
	if int(fn.Name) >= len(vm.prog.Globals) {
		return ""
	}
	return string(vm.prog.Globals[fn.Name].Bytes)
}

// ---------------------------------------------------------------------------
// Stack window
// ---------------------------------------------------------------------------

// StackDebugger renders the slots of one frame, from a few slots above sp
// down to the frame's return value area.
type StackDebugger struct {
	sp, bp uint64
	fn     *s0.FnDef
	base   uint64   // slot index of slots[0]
	slots  []uint64 // snapshot taken when the debugger was created
	bounds bool
}

// debugAbove is how many slots past sp the window shows.
const debugAbove = 5

func (vm *VM) newStackDebugger(sp, bp uint64, fn *s0.FnDef) *StackDebugger {
	below := uint64(fn.ParamSlots) + uint64(fn.RetSlots)
	lower := uint64(0)
	if bp > below {
		lower = bp - below
	}
	return &StackDebugger{
		sp:     sp,
		bp:     bp,
		fn:     fn,
		base:   lower,
		slots:  vm.mem.Slots(lower, sp+debugAbove),
		bounds: true,
	}
}

// DebugStack returns a window over the running frame.
func (vm *VM) DebugStack() *StackDebugger {
	return vm.newStackDebugger(vm.sp, vm.bp, vm.fn)
}

// DebugFrame returns a window over the frame n levels up the call chain.
// Frame 0 is the running function.
func (vm *VM) DebugFrame(n int) (*StackDebugger, error) {
	sp, bp, fnID := vm.sp, vm.bp, uint64(vm.fnID)
	for i := 0; i < n; i++ {
		info, prevBP, err := vm.frameInfo(bp)
		if err != nil {
			return nil, err
		}
		sp, bp, fnID = bp, prevBP, info.FnID
	}
	fn, err := vm.function(fnID)
	if err != nil {
		return nil, err
	}
	return vm.newStackDebugger(sp, bp, fn), nil
}

// Bounds toggles the separator lines between frame sections.
func (d *StackDebugger) Bounds(on bool) *StackDebugger {
	d.bounds = on
	return d
}

func (d *StackDebugger) String() string {
	var sb strings.Builder

	param := uint64(d.fn.ParamSlots)
	locStart := d.bp + headerSlots
	locEnd := locStart + uint64(d.fn.LocSlots)
	retEnd := d.bp - param
	hasRetEnd := d.bp >= param

	sb.WriteString("Stack:\n")
	for i := len(d.slots) - 1; i >= 0; i-- {
		p := d.base + uint64(i)
		sb.WriteString(fmt.Sprintf("%5d | 0x%016x |", p, d.slots[i]))
		if p == d.sp {
			sb.WriteString(" <- sp")
		}
		if p == d.bp {
			sb.WriteString(" <- bp")
		}
		sb.WriteString("\n")

		if !d.bounds {
			continue
		}
		if p == d.sp {
			writeBound(&sb, "expression")
		}
		if p == locEnd {
			writeBound(&sb, "local variable")
		}
		if p == locStart {
			writeBound(&sb, "compiler info")
		}
		if p == d.bp {
			writeBound(&sb, "params")
		}
		if hasRetEnd && p == retEnd {
			writeBound(&sb, "return value")
		}
	}
	return sb.String()
}

func writeBound(sb *strings.Builder, label string) {
	sb.WriteString(fmt.Sprintf("------v %-18s -\n", label))
}
