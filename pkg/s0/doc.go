// Package s0 defines the program format executed by the r0 virtual machine.
//
// A Program is a list of global values (static data, function names and
// string literals) plus a list of function definitions. Each function is a
// flat list of primitive stack instructions; function 0 is the entry point.
//
// # Encodings
//
// Programs can be moved around in three forms:
//
//   - o0 binary: the compact big-endian format consumed by other r0
//     tooling (Serialize / Deserialize).
//
//   - CBOR: canonical CBOR of the Program struct (EncodeCBOR / DecodeCBOR).
//     Canonical encoding makes Hash stable, which the program store relies
//     on for content addressing.
//
//   - Assembly: a line-oriented text listing (Assemble / Disassemble) whose
//     syntax mirrors the way programs are written by hand in tests.
//
// A small assembly program:
//
//	fn _start 0 0 -> 0 {
//	    push 1
//	    push 2
//	    add.i
//	}
//
// # Builder
//
// Builder assembles programs directly in Go. Data globals keep their
// declaration indices and function names are appended after them, so
// GlobA operands written against the builder stay valid.
package s0
