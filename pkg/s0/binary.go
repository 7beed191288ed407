package s0

import (
	"encoding/binary"
	"fmt"
)

// BinaryMagic identifies an o0 program file.
const BinaryMagic uint32 = 0x72303b3e

// BinaryVersion is the current o0 format version.
const BinaryVersion uint32 = 1

// Serialize encodes the program in the o0 binary format.
// Format (all integers big-endian):
//
//	[magic:4] [version:4]
//	[global_count:4] { [is_const:1] [len:4] [bytes:len] }
//	[fn_count:4] {
//	    [name:4] [ret_slots:4] [param_slots:4] [loc_slots:4]
//	    [ins_count:4] { [opcode:1] [operand:0|4|8] }
//	}
func (p *Program) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 64)

	buf = binary.BigEndian.AppendUint32(buf, BinaryMagic)
	buf = binary.BigEndian.AppendUint32(buf, BinaryVersion)

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Globals)))
	for _, g := range p.Globals {
		if g.IsConst {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(g.Bytes)))
		buf = append(buf, g.Bytes...)
	}

	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Functions)))
	for i, fn := range p.Functions {
		buf = binary.BigEndian.AppendUint32(buf, fn.Name)
		buf = binary.BigEndian.AppendUint32(buf, fn.RetSlots)
		buf = binary.BigEndian.AppendUint32(buf, fn.ParamSlots)
		buf = binary.BigEndian.AppendUint32(buf, fn.LocSlots)
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(fn.Ins)))

		for j, op := range fn.Ins {
			if !op.Code.IsValid() {
				return nil, fmt.Errorf("function %d instruction %d: unknown opcode 0x%02X", i, j, byte(op.Code))
			}
			buf = append(buf, byte(op.Code))
			switch op.Code.Operand() {
			case OperandU32, OperandI32:
				buf = binary.BigEndian.AppendUint32(buf, uint32(op.Arg))
			case OperandU64:
				buf = binary.BigEndian.AppendUint64(buf, op.Arg)
			}
		}
	}

	return buf, nil
}

// decoder tracks the read position over an o0 byte slice.
type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) u8(what string) (byte, error) {
	if d.pos >= len(d.data) {
		return 0, fmt.Errorf("unexpected end of program reading %s at pos %d", what, d.pos)
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) u32(what string) (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, fmt.Errorf("unexpected end of program reading %s at pos %d", what, d.pos)
	}
	v := binary.BigEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *decoder) u64(what string) (uint64, error) {
	if d.pos+8 > len(d.data) {
		return 0, fmt.Errorf("unexpected end of program reading %s at pos %d", what, d.pos)
	}
	v := binary.BigEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) bytes(n uint32, what string) ([]byte, error) {
	if uint64(d.pos)+uint64(n) > uint64(len(d.data)) {
		return nil, fmt.Errorf("unexpected end of program reading %s: need %d bytes at pos %d", what, n, d.pos)
	}
	out := make([]byte, n)
	copy(out, d.data[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out, nil
}

// Deserialize decodes a program from the o0 binary format.
func Deserialize(data []byte) (*Program, error) {
	d := &decoder{data: data}

	magic, err := d.u32("magic")
	if err != nil {
		return nil, err
	}
	if magic != BinaryMagic {
		return nil, fmt.Errorf("invalid program magic: expected 0x%08x, got 0x%08x", BinaryMagic, magic)
	}
	version, err := d.u32("version")
	if err != nil {
		return nil, err
	}
	if version != BinaryVersion {
		return nil, fmt.Errorf("unsupported program version %d (want %d)", version, BinaryVersion)
	}

	p := &Program{}

	globalCount, err := d.u32("global count")
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < globalCount; i++ {
		isConst, err := d.u8(fmt.Sprintf("global %d flag", i))
		if err != nil {
			return nil, err
		}
		n, err := d.u32(fmt.Sprintf("global %d length", i))
		if err != nil {
			return nil, err
		}
		b, err := d.bytes(n, fmt.Sprintf("global %d", i))
		if err != nil {
			return nil, err
		}
		p.Globals = append(p.Globals, GlobalValue{IsConst: isConst != 0, Bytes: b})
	}

	fnCount, err := d.u32("function count")
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < fnCount; i++ {
		var fn FnDef
		if fn.Name, err = d.u32(fmt.Sprintf("function %d name", i)); err != nil {
			return nil, err
		}
		if fn.RetSlots, err = d.u32(fmt.Sprintf("function %d ret slots", i)); err != nil {
			return nil, err
		}
		if fn.ParamSlots, err = d.u32(fmt.Sprintf("function %d param slots", i)); err != nil {
			return nil, err
		}
		if fn.LocSlots, err = d.u32(fmt.Sprintf("function %d loc slots", i)); err != nil {
			return nil, err
		}
		insCount, err := d.u32(fmt.Sprintf("function %d instruction count", i))
		if err != nil {
			return nil, err
		}

		for j := uint32(0); j < insCount; j++ {
			code, err := d.u8("opcode")
			if err != nil {
				return nil, err
			}
			op := Op{Code: Opcode(code)}
			if !op.Code.IsValid() {
				return nil, fmt.Errorf("function %d instruction %d: unknown opcode 0x%02X", i, j, code)
			}
			switch op.Code.Operand() {
			case OperandU32, OperandI32:
				v, err := d.u32("operand")
				if err != nil {
					return nil, err
				}
				op.Arg = uint64(v)
			case OperandU64:
				if op.Arg, err = d.u64("operand"); err != nil {
					return nil, err
				}
			}
			fn.Ins = append(fn.Ins, op)
		}
		p.Functions = append(p.Functions, fn)
	}

	if d.pos != len(data) {
		return nil, fmt.Errorf("trailing data after program: %d bytes", len(data)-d.pos)
	}
	return p, nil
}
