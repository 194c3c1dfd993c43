// dexverify CLI - verifies program files and reports per-class outcomes
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/dexverify/config"
	"github.com/chazu/dexverify/dex"
	"github.com/chazu/dexverify/driver"
	"github.com/chazu/dexverify/store"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitRejected = 2
)

func main() {
	color := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, color))
}

func run(args []string, stdout, stderr io.Writer, color bool) int {
	fs := flag.NewFlagSet("dexverify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configDir := fs.String("config", ".", "Directory to search upward for "+config.FileName)
	dbPath := fs.String("db", "", "Save results to this SQLite database (overrides store.path)")
	format := fs.String("format", "text", "Report format: text or yaml")
	verbose := fs.Int("v", 0, "Additional log verbosity")
	workers := fs.Int("workers", 0, "Number of verification workers (overrides driver.workers)")
	strict := fs.Bool("strict", false, "Treat every soft failure as a hard failure")
	jit := fs.Bool("jit", false, "Verify for an interpreter instead of ahead-of-time compilation")
	noAux := fs.Bool("no-aux", false, "Skip GC map, safe-cast and devirtualization generation")
	dump := fs.Bool("dump", false, "Include auxiliary maps in the text report")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: dexverify [options] program.yaml...\n\n")
		fmt.Fprintf(stderr, "Verifies every class of the given program files.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  dexverify app.yaml                  # Verify and print a report\n")
		fmt.Fprintf(stderr, "  dexverify -format yaml app.yaml     # Machine-readable report\n")
		fmt.Fprintf(stderr, "  dexverify -db out.db -dump app.yaml # Persist results, show aux maps\n")
	}
	if err := fs.Parse(args); err != nil {
		return exitError
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitError
	}
	if *format != "text" && *format != "yaml" {
		fmt.Fprintf(stderr, "Error: unknown format %q\n", *format)
		return exitError
	}

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	if *workers > 0 {
		cfg.Driver.Workers = *workers
	}
	if *strict {
		cfg.Verifier.AllowSoftFailures = false
	}
	if *jit {
		cfg.Verifier.AheadOfTime = false
	}
	if *noAux {
		cfg.Verifier.GenerateAuxMaps = false
	}
	if *dbPath != "" {
		cfg.Store.Path = *dbPath
	}
	configureLogging(cfg, *verbose)

	files := make([]*dex.File, 0, fs.NArg())
	for _, path := range fs.Args() {
		f, err := dex.LoadYAML(path)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
		files = append(files, f)
	}

	session, err := driver.NewSession(cfg, files...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}
	defer session.Close()

	ctx := context.Background()
	reports, err := session.VerifyFiles(ctx, files...)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if path := cfg.StorePath(); path != "" {
		if err := save(ctx, path, session); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		}
	}

	rep := newReport(session.ID.String(), reports)
	switch *format {
	case "yaml":
		err = rep.writeYAML(stdout)
	default:
		err = rep.writeText(stdout, textOptions{color: color, dump: *dump})
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	if rep.Summary.Hard > 0 {
		return exitRejected
	}
	return exitOK
}

func configureLogging(cfg *config.Config, extra int) {
	var path *string
	if cfg.Log.File != "" {
		p := cfg.Resolve(cfg.Log.File)
		path = &p
	}
	commonlog.Configure(cfg.Log.Verbosity+extra, path)
}

func save(ctx context.Context, path string, session *driver.Session) error {
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Save(ctx, session.ID.String(), session.Results)
}
