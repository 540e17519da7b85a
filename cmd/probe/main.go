// Command probe inspects a glyph table and bootstraps a job config for it.
//
// It reads the table, lists its columns with their spreadsheet letters,
// resolves the url, glyph and filename roles with the default keywords, and
// samples the glyph column for garbled characters. By default it prints a
// job config with every resolved role pinned to its exact header, ready for
// extract_codepoints and replace_tmc. With --report it prints the findings
// as text instead.
//
// # Ledger DSN
//
// When --storage selects a ledger, the emitted DSN comes from, in order:
//
//  1. --dsn
//  2. the DSN environment variable
//  3. DSN_HOST / DSN_PORT / DSN_USER / DSN_PASSWORD / DSN_DB, plus
//     DSN_SSLMODE (postgres), DSN_ENCRYPT (mssql), DSN_SQLITE (sqlite)
//     and DSN_PARAMS
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/pflag"
	"github.com/xuri/excelize/v2"

	"gaiji/internal/config"
	"gaiji/internal/glyph"
	"gaiji/internal/table"
)

func main() {
	os.Exit(runMain(os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv))
}

// roleOrder is the order roles are reported in.
var roleOrder = []string{"url", "glyph", "filename"}

type roleResult struct {
	Index  int
	Header string
	Err    error
}

type findings struct {
	Table     *table.Table
	Roles     map[string]roleResult
	Codepoint int // index of the code-point column, -1 when absent
	Probe     *glyph.Finding
}

func runMain(args []string, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) int {
	var (
		tablePath string
		sheet     string
		encodings []string
		kind      string
		dsn       string
		sample    int
		report    bool
	)
	fs := pflag.NewFlagSet("probe", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&tablePath, "table", "", "glyph table to inspect (.xlsx, .csv, .tsv, .html)")
	fs.StringVar(&sheet, "sheet", "", "xlsx sheet; first sheet when empty")
	fs.StringSliceVar(&encodings, "encodings", nil, "candidate encodings for text tables (default utf-8,shift_jis)")
	fs.StringVar(&kind, "storage", "none", "ledger kind for the emitted config: none|sqlite|postgres|mssql")
	fs.StringVar(&dsn, "dsn", "", "ledger DSN for the emitted config (highest priority)")
	fs.IntVar(&sample, "sample", glyph.DefaultSample, "glyph values sampled by the garbling probe")
	fs.BoolVar(&report, "report", false, "print a text report instead of a config")

	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return 0
		}
		fmt.Fprintln(stderr, err)
		fs.PrintDefaults()
		return 2
	}
	if strings.TrimSpace(tablePath) == "" {
		fmt.Fprintln(stderr, "missing --table")
		fs.PrintDefaults()
		return 2
	}

	cfg := config.Default()
	cfg.Table.Path = tablePath
	cfg.Table.Sheet = sheet
	if len(encodings) > 0 {
		cfg.Table.Encodings = encodings
	}
	cfg.Extract.ProbeSample = sample

	f, err := inspect(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "probe: %v\n", err)
		return 1
	}

	if report {
		if err := writeReport(stdout, cfg, f); err != nil {
			fmt.Fprintf(stderr, "write report: %v\n", err)
			return 1
		}
		return 0
	}

	out, err := starterConfig(cfg, f, kind, dsn, lookupEnv)
	if err != nil {
		fmt.Fprintf(stderr, "dsn: %v\n", err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "encode config: %v\n", err)
		return 1
	}
	return 0
}

func inspect(cfg config.Pipeline) (findings, error) {
	t, err := table.Read(cfg.Table.Path, table.ReadOptions{Sheet: cfg.Table.Sheet, Encodings: cfg.Table.Encodings})
	if err != nil {
		return findings{}, err
	}
	f := findings{Table: t, Roles: map[string]roleResult{}, Codepoint: -1}
	sel := cfg.Table.Roles.RoleSelectors()
	for _, name := range roleOrder {
		idx, err := sel[name].Resolve(t.Header)
		r := roleResult{Index: idx, Err: err}
		if err == nil {
			r.Header = t.Header[idx]
		}
		f.Roles[name] = r
	}
	for i, h := range t.Header {
		if strings.TrimSpace(h) == cfg.Extract.CodepointHeader {
			f.Codepoint = i
		}
	}
	if g := f.Roles["glyph"]; g.Err == nil {
		p := glyph.Probe(t.Column(g.Index), cfg.Extract.ProbeSample)
		f.Probe = &p
	}
	return f, nil
}

// starterConfig pins every resolved role to its exact header and fills the
// ledger section.
func starterConfig(cfg config.Pipeline, f findings, kind, dsn string, lookupEnv func(string) (string, bool)) (config.Pipeline, error) {
	cfg.Table.Sheet = f.Table.Sheet
	if r := f.Roles["url"]; r.Err == nil {
		cfg.Table.Roles.URL = table.Selector{Header: r.Header}
	}
	if r := f.Roles["glyph"]; r.Err == nil {
		cfg.Table.Roles.Glyph = table.Selector{Header: r.Header}
	}
	if r := f.Roles["filename"]; r.Err == nil {
		cfg.Table.Roles.Filename = table.Selector{Header: r.Header}
	}

	kind = config.NormalizeStorageKind(kind)
	cfg.Storage.Kind = kind
	if kind == "" || kind == "none" {
		return cfg, nil
	}
	switch {
	case strings.TrimSpace(dsn) != "":
		cfg.Storage.DSN = strings.TrimSpace(dsn)
	default:
		if v, ok := lookupEnv("DSN"); ok && strings.TrimSpace(v) != "" {
			cfg.Storage.DSN = strings.TrimSpace(v)
			break
		}
		built, ok, err := config.DSNFromEnv(kind, lookupEnv)
		if err != nil {
			return cfg, err
		}
		if ok {
			cfg.Storage.DSN = built
		}
	}
	return cfg, nil
}

func writeReport(w io.Writer, cfg config.Pipeline, f findings) error {
	t := f.Table
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	desc := cfg.Table.Path
	if t.Sheet != "" {
		desc += " (sheet " + t.Sheet + ")"
	} else if t.Encoding != "" {
		desc += " (" + t.Encoding + ")"
	}
	fmt.Fprintf(tw, "table:\t%s\n", desc)
	fmt.Fprintf(tw, "rows:\t%d\n", len(t.Rows))
	fmt.Fprintln(tw, "columns:")
	for i, h := range t.Header {
		fmt.Fprintf(tw, "  %s\t%s\n", columnLetter(i), h)
	}

	fmt.Fprintln(tw, "roles:")
	for _, name := range roleOrder {
		r := f.Roles[name]
		if r.Err != nil {
			fmt.Fprintf(tw, "  %s\t-\t%v\n", name, r.Err)
			continue
		}
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", name, columnLetter(r.Index), r.Header)
	}

	if f.Codepoint >= 0 {
		fmt.Fprintf(tw, "code point column:\t%s (%s, exists)\n", cfg.Extract.CodepointHeader, columnLetter(f.Codepoint))
	} else {
		fmt.Fprintf(tw, "code point column:\t%s (absent, will be created)\n", cfg.Extract.CodepointHeader)
	}
	if f.Probe != nil {
		fmt.Fprintf(tw, "glyph probe:\t%s\n", f.Probe)
	}
	return tw.Flush()
}

// columnLetter returns the spreadsheet name of the 0-based column i.
func columnLetter(i int) string {
	name, err := excelize.ColumnNumberToName(i + 1)
	if err != nil {
		return fmt.Sprint(i + 1)
	}
	return name
}
