// Command pohrecord runs a Proof of History recorder.
//
// Each line read from stdin is hashed with the chain's hash primitive and
// bound into the chain as a mixin. Checkpoints are emitted on the
// configured interval. When stdin is exhausted, -duration elapses or the
// process is interrupted, the entries are written as an entry log (and to
// the SQLite store when enabled).
//
// Usage:
//
//	pohrecord [flags] < events.txt
//
// Examples:
//
//	# Record for ten seconds with no events
//	pohrecord -duration 10s < /dev/null
//
//	# Record events from a pipe into a YAML log
//	tail -f events.log | pohrecord -output entries.yaml
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pohchain/internal/config"
	"pohchain/internal/entrylog"
	"pohchain/internal/logging"
	"pohchain/internal/ownership"
	"pohchain/internal/poh"
	"pohchain/internal/recorder"
	"pohchain/internal/store"
)

var (
	// Version information (set at build time)
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// maxLineSize bounds one stdin event. Longer lines fail the recording.
var maxLineSize = 16 << 20

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	output     string
	name       string
	duration   time.Duration
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pohrecord", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var opts options
	fs.StringVar(&opts.configPath, "config", config.ConfigPath(), "config file (TOML, JSON or YAML)")
	fs.StringVar(&opts.output, "output", "", "entry log path (overrides output.path)")
	fs.StringVar(&opts.name, "name", "", "chain name in the store (default: generated)")
	fs.DurationVar(&opts.duration, "duration", 0, "stop after this long (0 = until stdin closes)")
	versionFlag := fs.Bool("version", false, "print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "pohrecord - Record a Proof of History chain\n\n")
		fmt.Fprintf(stderr, "Usage: pohrecord [flags] < events\n\n")
		fmt.Fprintf(stderr, "Each stdin line is bound into the chain as a mixin.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	if *versionFlag {
		fmt.Fprintf(stdout, "pohrecord %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return exitOK
	}

	loader := config.NewLoader(opts.configPath)
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		return exitUsage
	}
	defer loader.Close()

	if opts.output != "" {
		cfg.Output.Path = opts.output
	}

	logger, err := newLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	defer logger.Close()
	logging.SetDefault(logger)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	watchConfig(watchCtx, loader, logger)

	if err := record(ctx, cfg, opts, stdin, logger); err != nil {
		logger.Error("recording failed", "error", err)
		return exitError
	}
	return exitOK
}

func newLogger(cfg *config.Config, stderr io.Writer) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	lc := &logging.Config{
		Level:     level,
		Format:    format,
		Output:    cfg.Logging.Output,
		FilePath:  cfg.Logging.FilePath,
		Component: "pohrecord",
	}
	if cfg.Logging.Output == "stderr" {
		lc.Writer = stderr
	}
	return logging.New(lc)
}

// watchConfig applies log level changes from the config file while
// recording. Chain parameters are fixed for the lifetime of a chain. The
// returned channel is closed once ctx is done and watching has stopped.
func watchConfig(ctx context.Context, loader *config.Loader, logger *logging.Logger) <-chan struct{} {
	done := make(chan struct{})

	if err := loader.Watch(); err != nil {
		logger.Warn("config watch disabled", "error", err)
		close(done)
		return done
	}

	loader.OnChange(func(cfg *config.Config) {
		level, err := logging.ParseLevel(cfg.Logging.Level)
		if err != nil {
			return
		}
		if level != logger.GetLevel() {
			logger.SetLevel(level)
			logger.Info("log level changed", "level", logging.LevelString(level))
		}
	})

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				logger.Warn("config reload failed", "error", err)
			}
		}
	}()
	return done
}

// chainParams resolves the hasher and initial digest from config.
func chainParams(cfg *config.Config) (poh.Hasher, poh.Digest, error) {
	h, err := poh.HasherByName(cfg.Chain.Hasher)
	if err != nil {
		return nil, poh.Digest{}, err
	}
	if cfg.Chain.Initial != "" {
		initial, err := poh.ParseDigest(cfg.Chain.Initial)
		if err != nil {
			return nil, poh.Digest{}, fmt.Errorf("chain.initial: %w", err)
		}
		return h, initial, nil
	}
	return h, poh.SeedDigest(h, cfg.Chain.Seed), nil
}

func record(ctx context.Context, cfg *config.Config, opts options, stdin io.Reader, logger *logging.Logger) error {
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	h, initial, err := chainParams(cfg)
	if err != nil {
		return err
	}

	format, err := entrylog.ParseFormat(cfg.Output.Format)
	if err != nil {
		return err
	}
	if opts.output != "" {
		format = entrylog.FormatFromPath(opts.output)
	}

	lock, err := ownership.Acquire(cfg.Output.Path)
	if err != nil {
		return err
	}
	defer lock.Release()

	mem := recorder.NewMemorySink()
	var sink recorder.Sink = mem

	if cfg.Storage.Enabled {
		st, err := store.OpenWithTimeout(cfg.Storage.Path, time.Duration(cfg.Storage.BusyTimeoutMs)*time.Millisecond)
		if err != nil {
			return err
		}
		defer st.Close()

		name := opts.name
		if name == "" {
			name = fmt.Sprintf("chain-%d", time.Now().UnixNano())
		}
		c, err := st.CreateChain(ctx, name, h.Name(), initial, cfg.CheckpointInterval())
		if err != nil {
			return err
		}
		logger.Info("storing chain", "path", cfg.Storage.Path, "name", name, "id", c.ID)
		sink = recorder.MultiSink{mem, st.Sink(c.ID)}
	}

	chain := poh.New(initial, cfg.CheckpointInterval(), poh.WithHasher(h))
	rec := recorder.New(chain, sink, recorder.Config{
		HashesPerBatch: uint64(cfg.Chain.HashesPerBatch),
		QueueSize:      cfg.Chain.QueueSize,
		Logger:         logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.duration > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, opts.duration)
		defer cancel()
	}

	errc := make(chan error, 1)
	go func() { errc <- rec.Run(runCtx) }()

	feedErr := make(chan error, 1)
	go func() {
		err := feed(runCtx, rec, h, stdin, logger)
		feedErr <- err
		if err != nil || opts.duration == 0 {
			cancel()
		}
	}()

	runErr := <-errc

	// The feeder may still be blocked reading stdin after a -duration stop.
	var inputErr error
	select {
	case inputErr = <-feedErr:
	default:
	}
	if inputErr != nil {
		inputErr = fmt.Errorf("read input: %w", inputErr)
		runErr = errors.Join(runErr, inputErr)
	}

	stats := rec.Stats()
	logger.Info("recording finished",
		"entries", stats.Entries,
		"checkpoints", stats.Checkpoints,
		"records", stats.Records,
		"hashes", stats.Hashes)

	// Entries accepted before a sink failure are still written out.
	log := entrylog.New(h, initial, mem.Entries())
	if err := entrylog.WriteFile(cfg.Output.Path, log, format); err != nil {
		return errors.Join(runErr, err)
	}
	logger.Info("entry log written", "path", cfg.Output.Path, "format", format.String())

	return runErr
}

// feed binds every stdin line as a mixin until EOF.
func feed(ctx context.Context, rec *recorder.Recorder, h poh.Hasher, r io.Reader, logger *logging.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		e, err := rec.Record(ctx, h.Hash(scanner.Bytes()))
		if err != nil {
			if errors.Is(err, recorder.ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		logger.Debug("event recorded", "num_hashes", e.NumHashes, "id", e.ID.String())
	}
	return scanner.Err()
}
