package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/r0vm/manifest"
	"github.com/chazu/r0vm/pkg/s0"
)

// ---------------------------------------------------------------------------
// r0vm disasm / asm / convert
// ---------------------------------------------------------------------------

func handleDisasmCommand(args []string, m *manifest.Manifest) {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	lf := addLogFlags(fs, m)
	format := fs.String("format", "auto", "Input format: auto, binary, cbor, asm")
	fs.Parse(args)
	lf.configure(m)

	if fs.NArg() != 1 {
		fatalf("usage: r0vm disasm [-format F] <file>")
	}
	path := fs.Arg(0)
	p := mustLoad(path, *format)

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	fmt.Print(p.DisassembleWithName(name))
}

func handleAsmCommand(args []string, m *manifest.Manifest) {
	fs := flag.NewFlagSet("asm", flag.ExitOnError)
	lf := addLogFlags(fs, m)
	output := fs.String("o", "", "Output file (default: input with .o0 extension)")
	fs.Parse(args)
	lf.configure(m)

	if fs.NArg() != 1 {
		fatalf("usage: r0vm asm [-o out] <file>")
	}
	path := fs.Arg(0)
	p := mustLoad(path, string(manifest.FormatAsm))

	out := *output
	if out == "" {
		out = strings.TrimSuffix(path, filepath.Ext(path)) + ".o0"
	}
	if err := saveProgram(out, p, manifest.FormatBinary); err != nil {
		fatalf("%v", err)
	}
	log.Infof("assembled %s -> %s", path, out)
}

func handleConvertCommand(args []string, m *manifest.Manifest) {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	lf := addLogFlags(fs, m)
	from := fs.String("from", "auto", "Input format: auto, binary, cbor, asm")
	to := fs.String("to", "", "Output format: binary, cbor, asm (default: from -o extension)")
	output := fs.String("o", "", "Output file (default stdout)")
	fs.Parse(args)
	lf.configure(m)

	if fs.NArg() != 1 {
		fatalf("usage: r0vm convert [-from F] -to F [-o out] <file>")
	}
	p := mustLoad(fs.Arg(0), *from)

	target, err := manifest.ParseFormat(*to)
	if err != nil {
		fatalf("%v", err)
	}
	if *output == "" {
		if target == manifest.FormatAuto {
			fatalf("-to is required when writing to stdout")
		}
		data, err := encodeProgram(p, target)
		if err != nil {
			fatalf("%v", err)
		}
		os.Stdout.Write(data)
		return
	}
	if err := saveProgram(*output, p, target); err != nil {
		fatalf("%v", err)
	}
}

func mustLoad(path, format string) *s0.Program {
	f, err := manifest.ParseFormat(format)
	if err != nil {
		fatalf("%v", err)
	}
	p, err := loadProgram(path, f)
	if err != nil {
		fatalf("%v", err)
	}
	return p
}
