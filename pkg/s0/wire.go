package s0

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical options so that equal programs encode to
// identical bytes and therefore hash identically.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("s0: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// EncodeCBOR serializes a program to canonical CBOR bytes.
func EncodeCBOR(p *Program) ([]byte, error) {
	return cborEncMode.Marshal(p)
}

// DecodeCBOR deserializes a program from CBOR bytes.
func DecodeCBOR(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("s0: unmarshal program: %w", err)
	}
	return &p, nil
}

// Hash returns the sha256 of the program's canonical CBOR encoding.
func Hash(p *Program) ([32]byte, error) {
	data, err := EncodeCBOR(p)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}
