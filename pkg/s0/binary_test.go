package s0

import (
	"reflect"
	"strings"
	"testing"
)

func sampleProgram() *Program {
	b := NewBuilder()
	b.Const(U64Bytes(0x1234))
	b.Let(U64Bytes(0x5678))
	hello := b.Str("hello")
	b.Func("_start", 0, 0, 0,
		StackAlloc(1),
		Push(1),
		Push(2),
		Call(1),
		Push(uint64(hello)),
		PrintS,
	)
	b.Func("main", 1, 2, 1,
		ArgA(0),
		ArgA(1),
		Load64,
		ArgA(2),
		Load64,
		AddI,
		Store64,
		BrTrue(-2),
		PushF(1.5),
		Ret,
	)
	return b.Program()
}

func TestSerializeRoundTrip(t *testing.T) {
	p := sampleProgram()
	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}

	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize failed: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, p)
	}
}

func TestSerializeHeader(t *testing.T) {
	data, err := (&Program{}).Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	want := []byte{
		0x72, 0x30, 0x3b, 0x3e, // magic
		0, 0, 0, 1, // version
		0, 0, 0, 0, // globals
		0, 0, 0, 0, // functions
	}
	if !reflect.DeepEqual(data, want) {
		t.Errorf("empty program = % x, want % x", data, want)
	}
}

func TestSerializeOperandWidths(t *testing.T) {
	p := &Program{
		Globals:   []GlobalValue{{IsConst: true, Bytes: []byte("f")}},
		Functions: []FnDef{{Ins: []Op{Nop, LocA(1), Push(2)}}},
	}
	data, err := p.Serialize()
	if err != nil {
		t.Fatalf("Serialize failed: %v", err)
	}
	// header 12 + global (1+4+1) + fn count 4 + fn header 20 + 1 + 5 + 9
	if len(data) != 12+6+4+20+15 {
		t.Errorf("len(data) = %d, want %d", len(data), 12+6+4+20+15)
	}
}

func TestDeserializeBadMagic(t *testing.T) {
	data, _ := sampleProgram().Serialize()
	data[0] = 0

	_, err := Deserialize(data)
	if err == nil || !strings.Contains(err.Error(), "invalid program magic") {
		t.Fatalf("expected magic error, got %v", err)
	}
}

func TestDeserializeBadVersion(t *testing.T) {
	data, _ := sampleProgram().Serialize()
	data[7] = 9

	_, err := Deserialize(data)
	if err == nil || !strings.Contains(err.Error(), "unsupported program version") {
		t.Fatalf("expected version error, got %v", err)
	}
}

func TestDeserializeTruncated(t *testing.T) {
	data, _ := sampleProgram().Serialize()

	for _, n := range []int{0, 3, 10, 20, len(data) - 1} {
		_, err := Deserialize(data[:n])
		if err == nil {
			t.Errorf("Deserialize(%d bytes) should fail", n)
			continue
		}
		if !strings.Contains(err.Error(), "unexpected end of program") {
			t.Errorf("Deserialize(%d bytes) error = %v", n, err)
		}
	}
}

func TestDeserializeTrailingData(t *testing.T) {
	data, _ := sampleProgram().Serialize()
	data = append(data, 0)

	if _, err := Deserialize(data); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestDeserializeUnknownOpcode(t *testing.T) {
	p := &Program{
		Globals:   []GlobalValue{{IsConst: true, Bytes: []byte("f")}},
		Functions: []FnDef{{Ins: []Op{Nop}}},
	}
	data, _ := p.Serialize()
	data[len(data)-1] = 0xEE

	_, err := Deserialize(data)
	if err == nil || !strings.Contains(err.Error(), "unknown opcode") {
		t.Fatalf("expected unknown opcode error, got %v", err)
	}
}

func TestSerializeRejectsUnknownOpcode(t *testing.T) {
	p := &Program{Functions: []FnDef{{Ins: []Op{{Code: 0xEE}}}}}
	if _, err := p.Serialize(); err == nil {
		t.Fatal("expected error for unknown opcode")
	}
}
