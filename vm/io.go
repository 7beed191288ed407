package vm

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Input
// ---------------------------------------------------------------------------

func (vm *VM) readByte() (byte, error) {
	c, err := vm.in.ReadByte()
	if errors.Is(err, io.EOF) {
		return 0, ErrUnexpectedEOF
	}
	if err != nil {
		return 0, fmt.Errorf("read input: %w", err)
	}
	return c, nil
}

func (vm *VM) skipSpace() error {
	for {
		c, err := vm.readByte()
		if err != nil {
			return err
		}
		if !unicode.IsSpace(rune(c)) {
			return vm.in.UnreadByte()
		}
	}
}

// scanToken reads the longest run of bytes accepted by ok, after leading
// whitespace. The first rejected byte is left in the input.
func (vm *VM) scanToken(ok func(c byte, first bool) bool) (string, error) {
	if err := vm.skipSpace(); err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		c, err := vm.in.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read input: %w", err)
		}
		if !ok(c, sb.Len() == 0) {
			if err := vm.in.UnreadByte(); err != nil {
				return "", err
			}
			break
		}
		sb.WriteByte(c)
	}
	return sb.String(), nil
}

// scanInt reads an optionally signed decimal integer.
func (vm *VM) scanInt() (int64, error) {
	tok, err := vm.scanToken(func(c byte, first bool) bool {
		return isDigit(c) || first && (c == '-' || c == '+')
	})
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(tok, 10, 64)
	if err != nil {
		return 0, &ParseError{Kind: "integer", Input: tok, Err: errors.Unwrap(err)}
	}
	return v, nil
}

// scanFloat reads a decimal floating point literal with optional exponent.
func (vm *VM) scanFloat() (float64, error) {
	tok, err := vm.scanToken(func(c byte, _ bool) bool {
		return isDigit(c) || strings.IndexByte("+-.eE", c) >= 0
	})
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, &ParseError{Kind: "float", Input: tok, Err: errors.Unwrap(err)}
	}
	return f, nil
}

// scanChar reads a single byte, whitespace included.
func (vm *VM) scanChar() (byte, error) {
	return vm.readByte()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func (vm *VM) write(s string) error {
	if _, err := io.WriteString(vm.out, s); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func (vm *VM) printInt(v int64) error {
	return vm.write(strconv.FormatInt(v, 10))
}

// printChar writes the UTF-8 encoding of the code point c.
func (vm *VM) printChar(c uint64) error {
	r := utf8.RuneError
	if c <= utf8.MaxRune {
		r = rune(c)
	}
	return vm.write(string(r))
}

func (vm *VM) printFloat(f float64) error {
	return vm.write(formatFloat(f))
}

// printGlobal writes the raw bytes of global id.
func (vm *VM) printGlobal(id uint64) error {
	if id >= uint64(len(vm.prog.Globals)) {
		return &InvalidGlobalIDError{ID: id}
	}
	if _, err := vm.out.Write(vm.prog.Globals[id].Bytes); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func (vm *VM) printLn() error {
	return vm.write("\n")
}

// formatFloat prints the shortest decimal that round-trips, without an
// exponent.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	default:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
}
