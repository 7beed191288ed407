// r0vm CLI - runs, inspects and stores r0 programs
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/r0vm/manifest"
)

var log = commonlog.GetLogger("r0vm.cli")

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: r0vm <command> [options] [args...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run [file]              Run a program (default: [program] path from r0vm.toml)\n")
	fmt.Fprintf(os.Stderr, "  disasm <file>           Print a program as assembly\n")
	fmt.Fprintf(os.Stderr, "  asm <file>              Assemble a listing into an o0 binary\n")
	fmt.Fprintf(os.Stderr, "  convert -to F <file>    Re-encode a program (binary, cbor, asm)\n")
	fmt.Fprintf(os.Stderr, "  check <file>...         Report bad call, global and branch operands\n")
	fmt.Fprintf(os.Stderr, "  store put|list|run|runs Manage the program store\n")
	fmt.Fprintf(os.Stderr, "  lsp                     Serve r0 assembly over the language server protocol\n")
	fmt.Fprintf(os.Stderr, "  init                    Write a default r0vm.toml\n")
	fmt.Fprintf(os.Stderr, "\nRun 'r0vm <command> -h' for command options.\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  r0vm run main.o0                # Run a binary program\n")
	fmt.Fprintf(os.Stderr, "  r0vm run -trace prog.s0         # Trace every instruction\n")
	fmt.Fprintf(os.Stderr, "  r0vm convert -to asm main.o0    # Print as a listing\n")
	fmt.Fprintf(os.Stderr, "  r0vm store put -name demo main.o0\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fatalf("loading %s: %v", manifest.FileName, err)
	}
	if m == nil {
		m = manifest.Default()
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "run":
		os.Exit(handleRunCommand(args, m))
	case "disasm":
		handleDisasmCommand(args, m)
	case "asm":
		handleAsmCommand(args, m)
	case "convert":
		handleConvertCommand(args, m)
	case "check":
		os.Exit(handleCheckCommand(args, m))
	case "lsp":
		handleLSPCommand(args, m)
	case "store":
		os.Exit(handleStoreCommand(args, m))
	case "init":
		handleInitCommand(args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

// logFlags adds the logging flags shared by every command.
type logFlags struct {
	verbosity *int
	path      *string
}

func addLogFlags(fs *flag.FlagSet, m *manifest.Manifest) logFlags {
	return logFlags{
		verbosity: fs.Int("v", m.Log.Verbosity, "Log verbosity (0 quiet, 1 notices, 2 info, 3+ debug)"),
		path:      fs.String("log", m.Log.Path, "Log file (default stderr)"),
	}
}

// configure applies the logging flags once the flag set has been parsed.
func (l logFlags) configure(m *manifest.Manifest) {
	var path *string
	if *l.path != "" {
		p := m.Resolve(*l.path)
		path = &p
	}
	commonlog.Configure(*l.verbosity, path)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func handleInitCommand(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	program := fs.String("program", "main.o0", "Program path to record")
	fs.Parse(args)

	m := manifest.Default()
	m.Program.Path = *program
	if err := manifest.Write(".", m); err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Wrote %s\n", manifest.FileName)
}
