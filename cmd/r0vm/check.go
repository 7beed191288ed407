package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/chazu/r0vm/manifest"
	"github.com/chazu/r0vm/pkg/s0"
	"github.com/chazu/r0vm/server"
)

// ---------------------------------------------------------------------------
// r0vm check / lsp
// ---------------------------------------------------------------------------

// checkFile loads a program and lints it. Listings keep their line numbers.
func checkFile(path string, format manifest.Format) ([]server.Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if format == manifest.FormatAuto {
		format = formatForPath(path)
	}
	if format == manifest.FormatAuto {
		format = sniffFormat(data)
	}

	if format != manifest.FormatAsm {
		p, err := decodeProgram(data, format)
		if err == nil {
			err = p.Validate()
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return server.Lint(p, nil), nil
	}

	p, lines, err := s0.AssembleLines(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return server.Lint(p, lines), nil
}

func handleCheckCommand(args []string, m *manifest.Manifest) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	lf := addLogFlags(fs, m)
	format := fs.String("format", string(m.Program.Format), "Program format: auto, binary, cbor, asm")
	fs.Parse(args)
	lf.configure(m)

	f, err := manifest.ParseFormat(*format)
	if err != nil {
		fatalf("%v", err)
	}

	paths := fs.Args()
	if len(paths) == 0 && m.Program.Path != "" {
		paths = []string{m.ProgramPath()}
	}
	if len(paths) == 0 {
		fatalf("usage: r0vm check [-format F] <file>...")
	}

	code := 0
	for _, path := range paths {
		findings, err := checkFile(path, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			code = 1
			continue
		}
		for _, finding := range findings {
			fmt.Printf("%s: %s\n", path, finding)
			if finding.Severity == server.SeverityError {
				code = 1
			}
		}
		log.Debugf("checked %s: %d findings", path, len(findings))
	}
	return code
}

func handleLSPCommand(args []string, m *manifest.Manifest) {
	fs := flag.NewFlagSet("lsp", flag.ExitOnError)
	lf := addLogFlags(fs, m)
	fs.Parse(args)
	lf.configure(m)

	if err := server.NewLSP().Run(); err != nil {
		fatalf("lsp: %v", err)
	}
}
