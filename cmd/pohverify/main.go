// Command pohverify checks that a Proof of History entry log replays
// from its initial digest.
//
// Usage:
//
//	pohverify [flags] <entries.json>
//	pohverify [flags] -chain <name> [-db entries.db]
//
// Examples:
//
//	# Verify an entry log written by pohrecord
//	pohverify entries.json
//
//	# Sequential replay with a JSON report
//	pohverify -parallel=false -format json entries.yaml
//
//	# Verify a chain stored in SQLite
//	pohverify -db ~/.pohchain/entries.db -chain default
//
// Exit codes: 0 valid, 1 invalid, 2 usage error, 3 malformed input,
// 4 verification did not finish (timeout).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"pohchain/internal/config"
	"pohchain/internal/entrylog"
	"pohchain/internal/poh"
	"pohchain/internal/store"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

const (
	exitValid      = 0
	exitInvalid    = 1
	exitUsage      = 2
	exitMalformed  = 3
	exitIncomplete = 4
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	schema     bool
	parallel   bool
	workers    int
	format     string
	dbPath     string
	chain      string
	timeout    time.Duration
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pohverify", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.configPath, "config", "", "config file supplying verify and storage defaults")
	fs.BoolVar(&opts.schema, "schema", true, "validate JSON entry logs against the schema before decoding")
	fs.BoolVar(&opts.parallel, "parallel", true, "verify checkpoint segments in parallel")
	fs.IntVar(&opts.workers, "workers", 0, "parallel workers (0 = GOMAXPROCS)")
	fs.StringVar(&opts.format, "format", "text", "report format: text, json")
	fs.StringVar(&opts.dbPath, "db", "", "SQLite entry store (with -chain)")
	fs.StringVar(&opts.chain, "chain", "", "name of a stored chain to verify")
	fs.DurationVar(&opts.timeout, "timeout", 0, "verification timeout (0 = none)")
	versionFlag := fs.Bool("version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "pohverify - Verify Proof of History entry logs\n\n")
		fmt.Fprintf(stderr, "Usage: pohverify [flags] <entries.json|entries.yaml>\n")
		fmt.Fprintf(stderr, "       pohverify [flags] -chain <name> [-db entries.db]\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExit Codes:\n")
		fmt.Fprintf(stderr, "  0  chain is valid\n")
		fmt.Fprintf(stderr, "  1  chain is invalid\n")
		fmt.Fprintf(stderr, "  2  usage error\n")
		fmt.Fprintf(stderr, "  3  malformed input\n")
		fmt.Fprintf(stderr, "  4  verification did not finish (timeout)\n")
	}

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *versionFlag {
		fmt.Fprintf(stdout, "pohverify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return exitValid
	}

	if opts.configPath != "" {
		cfg, err := config.Load(opts.configPath)
		if err != nil {
			fmt.Fprintf(stderr, "Error loading config: %v\n", err)
			return exitUsage
		}
		applyConfig(fs, &opts, cfg)
	}

	if opts.format != "text" && opts.format != "json" {
		fmt.Fprintf(stderr, "Error: unknown format: %s (use text or json)\n", opts.format)
		return exitUsage
	}

	if (fs.NArg() == 0) == (opts.chain == "") {
		fmt.Fprintf(stderr, "Error: exactly one of an entry log file or -chain is required\n\n")
		fs.Usage()
		return exitUsage
	}

	ctx := context.Background()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	workers := 1
	if opts.parallel {
		workers = opts.workers
	}

	var (
		res *result
		err error
	)
	if opts.chain != "" {
		res, err = verifyStored(ctx, opts.dbPath, opts.chain, workers)
	} else {
		res, err = verifyFile(ctx, fs.Arg(0), opts.schema, workers)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		if isCancelled(err) {
			return exitIncomplete
		}
		return exitMalformed
	}

	if err := writeReport(stdout, res, opts.format); err != nil {
		fmt.Fprintf(stderr, "Error writing report: %v\n", err)
		return exitInvalid
	}
	return res.exitCode()
}

// applyConfig fills options the user did not set on the command line.
func applyConfig(fs *flag.FlagSet, opts *options, cfg *config.Config) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if !set["parallel"] {
		opts.parallel = cfg.Verify.Parallel
	}
	if !set["workers"] {
		opts.workers = cfg.Verify.Workers
	}
	if !set["db"] {
		opts.dbPath = cfg.Storage.Path
	}
}

func verifyFile(ctx context.Context, path string, schema bool, workers int) (*result, error) {
	log, err := entrylog.ReadFile(path, schema)
	if err != nil {
		return nil, err
	}

	v, err := log.Verifier()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var report poh.Report
	if workers == 1 {
		report = v.ReplayContext(ctx, log.Initial, log.Entries)
	} else {
		report = v.VerifyParallel(ctx, log.Initial, log.Entries, workers)
	}

	return newResult(path, log, report, workers, time.Since(start)), nil
}

func verifyStored(ctx context.Context, dbPath, name string, workers int) (*result, error) {
	if dbPath == "" {
		dbPath = config.DefaultConfig().Storage.Path
	}
	if _, err := os.Stat(dbPath); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	c, err := st.ChainByName(ctx, name)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	report, err := st.VerifyChain(ctx, c.ID, workers)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	entries, err := st.Entries(ctx, c.ID)
	if err != nil {
		return nil, err
	}

	log := &entrylog.Log{
		Version:   entrylog.Version,
		Hasher:    c.Hasher,
		Initial:   c.Initial,
		CreatedAt: c.CreatedAt,
		Entries:   entries,
	}
	return newResult(fmt.Sprintf("%s#%s", dbPath, name), log, report, workers, elapsed), nil
}

// isMalformed reports whether err describes bad input rather than a
// hash mismatch.
func isMalformed(err error) bool {
	return errors.Is(err, poh.ErrMalformedEntry)
}

func isCancelled(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
