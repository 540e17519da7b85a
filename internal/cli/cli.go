// Package cli holds the plumbing shared by the gaiji commands: common flags,
// config loading, logging, metrics and ledger setup.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"gaiji/internal/config"
	"gaiji/internal/metrics"
	"gaiji/internal/metrics/datadog"
	"gaiji/internal/storage"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// Flags are the flags every command accepts. Flags left at their zero value
// do not override the config.
type Flags struct {
	Config         string
	Table          string
	OutputDir      string
	MetricsBackend string
	Validate       bool
	Verbose        bool
	JSON           bool
}

// Bind registers f on fs.
func (f *Flags) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&f.Config, "config", "", "job config file (JSON, comments allowed); built-in defaults when empty")
	fs.StringVar(&f.Table, "table", "", "glyph table (.xlsx, .csv, .tsv, .html)")
	fs.StringVar(&f.OutputDir, "output-dir", "", "directory for output files")
	fs.StringVar(&f.MetricsBackend, "metrics-backend", "", "metrics backend: none|datadog (overrides config and METRICS_BACKEND)")
	fs.BoolVar(&f.Validate, "validate", false, "validate the configuration and exit")
	fs.BoolVarP(&f.Verbose, "verbose", "v", false, "debug logging")
	fs.BoolVar(&f.JSON, "json", false, "print the run summary as JSON")
}

// Apply copies the flags that were given onto cfg.
func (f *Flags) Apply(cfg *config.Pipeline, tool config.Tool) {
	if f.Table != "" {
		cfg.Table.Path = f.Table
	}
	if f.OutputDir != "" {
		switch tool {
		case config.ToolExtract:
			cfg.Extract.OutputDir = f.OutputDir
		case config.ToolReplace:
			cfg.Replace.OutputDir = f.OutputDir
		}
	}
	if f.MetricsBackend != "" {
		cfg.Metrics.Backend = f.MetricsBackend
	}
	if f.Verbose {
		cfg.Logging.Level = "debug"
	}
}

// LoadConfig reads and parses path, or starts from the defaults when path is
// empty, then applies the environment. Errors are prefixed with the failing
// stage.
func LoadConfig(path string, readFile func(string) ([]byte, error), lookupEnv func(string) (string, bool)) (config.Pipeline, error) {
	p := config.Default()
	if strings.TrimSpace(path) != "" {
		raw, err := readFile(path)
		if err != nil {
			return config.Pipeline{}, fmt.Errorf("read config: %w", err)
		}
		if p, err = config.Parse(raw); err != nil {
			return config.Pipeline{}, fmt.Errorf("parse config: %w", err)
		}
	}
	config.ApplyEnv(&p, lookupEnv)
	return p, nil
}

// ReportIssues prints issues to w and reports whether any is an error.
func ReportIssues(w io.Writer, issues []config.Issue) bool {
	for _, iss := range issues {
		fmt.Fprintln(w, iss.String())
	}
	return config.HasErrors(issues)
}

// metricsBackend is the part of a concrete backend InitMetrics owns.
type metricsBackend interface {
	Close() error
}

var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	setMetricsBackend = func(b any) {
		if mb, ok := b.(metrics.Backend); ok {
			metrics.SetBackend(mb)
		}
	}
	logPrintf = func(format string, v ...any) {
		slog.Warn(fmt.Sprintf(format, v...))
	}
)

// InitMetrics installs the configured metrics backend. The returned cleanup
// is never nil; it closes the backend, which flushes buffered metrics.
func InitMetrics(ctx context.Context, job string, m config.Metrics) (func(), error) {
	nop := func() {}
	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", "none", "noop":
		return nop, nil
	case "datadog", "dd":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       m.Tags,
			FlushEvery: time.Duration(m.FlushEvery),
		})
		if err != nil {
			return nop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil
	default:
		return nop, fmt.Errorf("unknown metrics backend %q (want none|datadog)", m.Backend)
	}
}

var openStorage = storage.Open

// OpenLedger opens the configured run ledger. A ledger that cannot be opened
// is logged and skipped: the run goes on without one. The cleanup is never
// nil.
func OpenLedger(ctx context.Context, s config.Storage, log *slog.Logger) (storage.Repository, func()) {
	kind := strings.ToLower(strings.TrimSpace(s.Kind))
	if kind == "" || kind == "none" {
		return nil, func() {}
	}
	repo, err := openStorage(ctx, storage.Config{Kind: kind, DSN: s.DSN}, storage.OpenOptions{})
	if err != nil {
		log.Warn("ledger disabled", "kind", kind, "err", err)
		return nil, func() {}
	}
	log.Debug("ledger open", "kind", kind)
	return repo, func() {
		if err := repo.Close(); err != nil {
			log.Warn("ledger close failed", "kind", kind, "err", err)
		}
	}
}
