package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/chazu/r0vm/manifest"
	"github.com/chazu/r0vm/store"
)

// ---------------------------------------------------------------------------
// r0vm store
// ---------------------------------------------------------------------------

func storeUsage() {
	fmt.Fprintf(os.Stderr, "Usage: r0vm store <subcommand> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Subcommands:\n")
	fmt.Fprintf(os.Stderr, "  put [-name N] <file>   Add a program, print its hash\n")
	fmt.Fprintf(os.Stderr, "  list                   List stored programs\n")
	fmt.Fprintf(os.Stderr, "  run <hash>             Run a stored program and record the run\n")
	fmt.Fprintf(os.Stderr, "  runs <hash>            Show the recorded runs of a program\n")
}

func handleStoreCommand(args []string, m *manifest.Manifest) int {
	if len(args) == 0 {
		storeUsage()
		return 2
	}
	sub, args := args[0], args[1:]

	fs := flag.NewFlagSet("store "+sub, flag.ExitOnError)
	lf := addLogFlags(fs, m)
	dbPath := fs.String("db", m.StorePath(), "Store database path")
	name := fs.String("name", "", "Program name (put only, default: file name)")
	fs.Parse(args)
	lf.configure(m)

	db, err := store.Open(*dbPath)
	if err != nil {
		fatalf("%v", err)
	}
	defer db.Close()

	switch sub {
	case "put":
		if fs.NArg() != 1 {
			fatalf("usage: r0vm store put [-name N] <file>")
		}
		path := fs.Arg(0)
		p, err := loadProgram(path, manifest.FormatAuto)
		if err != nil {
			fatalf("%v", err)
		}
		n := *name
		if n == "" {
			n = filepath.Base(path)
		}
		hash, err := db.Put(n, p)
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Println(hash)

	case "list":
		entries, err := db.List()
		if err != nil {
			fatalf("%v", err)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HASH\tNAME\tSIZE\tCREATED")
		for _, e := range entries {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", e.Hash[:12], e.Name, e.Size, e.CreatedAt.Format(time.DateTime))
		}
		tw.Flush()

	case "run":
		if fs.NArg() != 1 {
			fatalf("usage: r0vm store run <hash>")
		}
		p, err := db.Get(fs.Arg(0))
		if err != nil {
			fatalf("%v", err)
		}
		opts := runOptions{stdin: os.Stdin, stdout: os.Stdout, maxSteps: m.Trace.MaxSteps}
		if m.Trace.Enabled {
			opts.trace = os.Stderr
		}
		return runAndReport(p, fs.Arg(0), opts, db)

	case "runs":
		if fs.NArg() != 1 {
			fatalf("usage: r0vm store runs <hash>")
		}
		runs, err := db.Runs(fs.Arg(0))
		if err != nil {
			fatalf("%v", err)
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tSTARTED\tSTATUS\tSTEPS\tERROR")
		for _, r := range runs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.StartedAt.Format(time.DateTime), r.Status, r.Steps, r.Error)
		}
		tw.Flush()

	default:
		fmt.Fprintf(os.Stderr, "Unknown store subcommand %q\n\n", sub)
		storeUsage()
		return 2
	}
	return 0
}
