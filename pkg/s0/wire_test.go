package s0

import (
	"reflect"
	"testing"
)

func TestCBORRoundTrip(t *testing.T) {
	p := sampleProgram()
	data, err := EncodeCBOR(p)
	if err != nil {
		t.Fatalf("EncodeCBOR failed: %v", err)
	}
	got, err := DecodeCBOR(data)
	if err != nil {
		t.Fatalf("DecodeCBOR failed: %v", err)
	}
	if !reflect.DeepEqual(got, p) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, p)
	}
}

func TestDecodeCBORGarbage(t *testing.T) {
	if _, err := DecodeCBOR([]byte{0xff, 0x00}); err == nil {
		t.Fatal("expected error decoding garbage")
	}
}

func TestHashStable(t *testing.T) {
	h1, err := Hash(sampleProgram())
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	h2, err := Hash(sampleProgram())
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("equal programs hash differently: %x vs %x", h1, h2)
	}

	other := sampleProgram()
	other.Functions[0].Ins[1] = Push(9)
	h3, _ := Hash(other)
	if h3 == h1 {
		t.Error("different programs hash identically")
	}
}
