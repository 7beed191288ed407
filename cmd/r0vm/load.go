package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/r0vm/manifest"
	"github.com/chazu/r0vm/pkg/s0"
)

// ---------------------------------------------------------------------------
// Program files
// ---------------------------------------------------------------------------

// formatForPath guesses a format from the file extension.
func formatForPath(path string) manifest.Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".o0", ".bin":
		return manifest.FormatBinary
	case ".cbor":
		return manifest.FormatCBOR
	case ".s0", ".asm", ".s":
		return manifest.FormatAsm
	default:
		return manifest.FormatAuto
	}
}

// sniffFormat inspects the content of a program file whose extension did
// not settle the format.
func sniffFormat(data []byte) manifest.Format {
	if len(data) >= 4 && binary.BigEndian.Uint32(data) == s0.BinaryMagic {
		return manifest.FormatBinary
	}
	// A CBOR-encoded Program is a map; major type 5.
	if len(data) > 0 && data[0]>>5 == 5 {
		return manifest.FormatCBOR
	}
	return manifest.FormatAsm
}

// decodeProgram parses data in the given format, sniffing it when format
// is auto.
func decodeProgram(data []byte, format manifest.Format) (*s0.Program, error) {
	if format == manifest.FormatAuto {
		format = sniffFormat(data)
	}
	switch format {
	case manifest.FormatBinary:
		return s0.Deserialize(data)
	case manifest.FormatCBOR:
		return s0.DecodeCBOR(data)
	case manifest.FormatAsm:
		return s0.AssembleString(string(data))
	default:
		return nil, fmt.Errorf("unknown program format %q", format)
	}
}

// encodeProgram renders p in the given format; auto means binary.
func encodeProgram(p *s0.Program, format manifest.Format) ([]byte, error) {
	switch format {
	case manifest.FormatBinary, manifest.FormatAuto:
		return p.Serialize()
	case manifest.FormatCBOR:
		return s0.EncodeCBOR(p)
	case manifest.FormatAsm:
		return []byte(p.Disassemble()), nil
	default:
		return nil, fmt.Errorf("unknown program format %q", format)
	}
}

// loadProgram reads a program file. An explicit format wins over the
// extension, which wins over sniffing.
func loadProgram(path string, format manifest.Format) (*s0.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if format == manifest.FormatAuto {
		format = formatForPath(path)
	}
	p, err := decodeProgram(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// saveProgram writes p to path. With format auto the extension decides.
func saveProgram(path string, p *s0.Program, format manifest.Format) error {
	if format == manifest.FormatAuto {
		format = formatForPath(path)
	}
	data, err := encodeProgram(p, format)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
