// Command extract_codepoints fills the code-point column of a glyph table
// from the CHISE URLs in it and writes an updated, timestamped copy.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"gaiji/internal/cli"
	"gaiji/internal/config"
	"gaiji/internal/logging"
	"gaiji/internal/pipeline"
	"gaiji/internal/storage"

	// every ledger backend is linked in; the config picks one.
	_ "gaiji/internal/storage/all"
)

type extractFunc func(ctx context.Context, cfg config.Pipeline, d pipeline.Deps) (*pipeline.ExtractReport, error)

// appDeps are the side-effecting collaborators of runMain.
type appDeps struct {
	readFile    func(string) ([]byte, error)
	lookupEnv   func(string) (string, bool)
	newLogger   func(cfg logging.Config, stderr io.Writer) (*slog.Logger, func() error, error)
	initMetrics func(ctx context.Context, job string, m config.Metrics) (func(), error)
	openLedger  func(ctx context.Context, s config.Storage, log *slog.Logger) (storage.Repository, func())
	extract     extractFunc
}

func defaultDeps() appDeps {
	return appDeps{
		readFile:    os.ReadFile,
		lookupEnv:   os.LookupEnv,
		newLogger:   logging.Setup,
		initMetrics: cli.InitMetrics,
		openLedger:  cli.OpenLedger,
		extract:     pipeline.Extract,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	var flags cli.Flags
	fs := pflag.NewFlagSet("extract_codepoints", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: extract_codepoints [--config job.json] [--table glyphs.xlsx] [--output-dir dir] [flags]")
		fs.PrintDefaults()
	}
	flags.Bind(fs)

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return cli.ExitOK
		}
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return cli.ExitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return cli.ExitUsage
	}

	cfg, err := cli.LoadConfig(flags.Config, deps.readFile, deps.lookupEnv)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return cli.ExitUsage
	}
	flags.Apply(&cfg, config.ToolExtract)

	if cli.ReportIssues(stderr, config.Validate(cfg, config.ToolExtract)) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return cli.ExitUsage
	}
	if flags.Validate {
		fmt.Fprintln(stdout, "configuration is valid")
		return cli.ExitOK
	}

	log, closeLog, err := deps.newLogger(cfg.Logging, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "init logging: %v\n", err)
		return cli.ExitError
	}
	defer func() { _ = closeLog() }()

	cleanupMetrics, err := deps.initMetrics(ctx, cfg.Job, cfg.Metrics)
	if err != nil {
		fmt.Fprintf(stderr, "init metrics: %v\n", err)
		return cli.ExitError
	}
	defer cleanupMetrics()

	ledger, closeLedger := deps.openLedger(ctx, cfg.Storage, log)
	defer closeLedger()

	rep, err := deps.extract(ctx, cfg, pipeline.Deps{Logger: log, Ledger: ledger})
	if err != nil {
		log.Error("extraction failed", "table", cfg.Table.Path, "err", err)
		fmt.Fprintf(stderr, "run: %v\n", err)
		return cli.ExitError
	}

	if err := pipeline.WriteExtractReport(stdout, rep, flags.JSON); err != nil {
		fmt.Fprintf(stderr, "write report: %v\n", err)
		return cli.ExitError
	}
	return cli.ExitOK
}
