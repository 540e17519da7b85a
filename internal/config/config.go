// Package config loads and validates gaiji job configuration.
//
// A job file is JSON with comments and trailing commas allowed. Every field
// is optional; Default supplies the values the tools use when a field is
// absent, and CLI flags are applied on top by the commands.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tailscale/hujson"

	"gaiji/internal/logging"
	"gaiji/internal/table"
	"gaiji/internal/textenc"
)

// DefaultCodepointHeader is the header of the column the extractor fills.
const DefaultCodepointHeader = "ユニコードコードポイント"

// ErrConfigInvalid wraps parse failures of a job file.
var ErrConfigInvalid = errors.New("invalid config")

// Pipeline is one job file.
type Pipeline struct {
	Job     string         `json:"job"`
	Table   Table          `json:"table"`
	Extract Extract        `json:"extract"`
	Replace Replace        `json:"replace"`
	Storage Storage        `json:"storage"`
	Metrics Metrics        `json:"metrics"`
	Logging logging.Config `json:"logging"`
}

// Table locates the glyph spreadsheet and its columns.
type Table struct {
	Path      string   `json:"path"`
	Sheet     string   `json:"sheet,omitempty"`
	Encodings []string `json:"encodings,omitempty"`
	Roles     Roles    `json:"roles"`
}

// Roles maps logical columns to headers.
type Roles struct {
	URL      table.Selector `json:"url"`
	Glyph    table.Selector `json:"glyph"`
	Filename table.Selector `json:"filename"`
}

// Extract configures extract_codepoints.
type Extract struct {
	// OutputDir receives the updated table; empty means next to the input.
	OutputDir       string `json:"output_dir,omitempty"`
	CodepointHeader string `json:"codepoint_header"`
	// ProbeSample is how many glyph values the garbling probe inspects.
	ProbeSample int `json:"probe_sample"`
}

// Replace configures replace_tmc.
type Replace struct {
	DocsDir         string   `json:"docs_dir"`
	Extension       string   `json:"extension"`
	Encodings       []string `json:"encodings"`
	OutputDir       string   `json:"output_dir"`
	OutputPrefix    string   `json:"output_prefix"`
	OutputEncodings []string `json:"output_encodings"`
}

// Storage configures the optional run ledger.
type Storage struct {
	Kind string `json:"kind"` // none, sqlite, postgres, mssql
	DSN  string `json:"dsn,omitempty"`
}

// Metrics configures the metrics backend.
type Metrics struct {
	Backend    string   `json:"backend"` // none or datadog
	Tags       []string `json:"tags,omitempty"`
	FlushEvery Duration `json:"flush_every,omitempty"`
}

// Duration is a time.Duration that reads "90s" style strings from JSON.
type Duration time.Duration

// UnmarshalJSON accepts a duration string or a number of seconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string like \"60s\" or a number of seconds")
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns a Pipeline with every default filled in.
func Default() Pipeline {
	return Pipeline{
		Job: "gaiji",
		Table: Table{
			Path:      "gaiji_chise.xlsx",
			Encodings: []string{"utf-8", "shift_jis"},
			Roles: Roles{
				URL:      table.Selector{Contains: []string{"CHISE", "URL"}},
				Glyph:    table.Selector{Contains: []string{"フォント", "font"}},
				Filename: table.Selector{Contains: []string{"ファイル", "file"}},
			},
		},
		Extract: Extract{
			CodepointHeader: DefaultCodepointHeader,
			ProbeSample:     5,
		},
		Replace: Replace{
			DocsDir:         "docs",
			Extension:       ".txt",
			Encodings:       append([]string(nil), textenc.DefaultDecodeOrder...),
			OutputDir:       ".",
			OutputPrefix:    "replaced_",
			OutputEncodings: append([]string(nil), textenc.DefaultEncodeOrder...),
		},
		Storage: Storage{Kind: "none"},
		Metrics: Metrics{Backend: "none", FlushEvery: Duration(60 * time.Second)},
		Logging: logging.DefaultConfig(),
	}
}

// Parse decodes a job file over the defaults. Fields absent from data keep
// their default values.
func Parse(data []byte) (Pipeline, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Pipeline{}, fmt.Errorf("%w: invalid JSONC: %w", ErrConfigInvalid, err)
	}

	p := Default()
	// Role selectors must be replaced, not merged with the default keywords.
	p.Table.Roles = Roles{}
	if err := json.Unmarshal(standardized, &p); err != nil {
		return Pipeline{}, fmt.Errorf("%w: %w", ErrConfigInvalid, err)
	}
	p.Table.Roles = withDefaultRoles(p.Table.Roles)
	return p, nil
}

func withDefaultRoles(r Roles) Roles {
	d := Default().Table.Roles
	if isZero(r.URL) {
		r.URL = d.URL
	}
	if isZero(r.Glyph) {
		r.Glyph = d.Glyph
	}
	if isZero(r.Filename) {
		r.Filename = d.Filename
	}
	return r
}

func isZero(s table.Selector) bool {
	return s.Header == "" && len(s.Contains) == 0 && s.Index == nil
}

// Load reads path, parses it and applies environment overrides. An empty
// path yields the defaults plus environment.
func Load(path string) (Pipeline, error) {
	if path == "" {
		p := Default()
		ApplyEnv(&p, os.LookupEnv)
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("read config: %w", err)
	}
	p, err := Parse(data)
	if err != nil {
		return Pipeline{}, fmt.Errorf("%s: %w", path, err)
	}
	ApplyEnv(&p, os.LookupEnv)
	return p, nil
}

// ApplyEnv applies GAIJI_STORAGE_DSN, METRICS_BACKEND and METRICS_TAGS, then
// expands $VARS inside the storage DSN. When a ledger kind is configured
// without any DSN, one is built from the DSN_* variables (see DSNFromEnv).
func ApplyEnv(p *Pipeline, lookup func(string) (string, bool)) {
	p.Storage.Kind = NormalizeStorageKind(p.Storage.Kind)
	if v, ok := lookup("GAIJI_STORAGE_DSN"); ok && strings.TrimSpace(v) != "" {
		p.Storage.DSN = v
	}
	if v, ok := lookup("METRICS_BACKEND"); ok && strings.TrimSpace(v) != "" {
		p.Metrics.Backend = strings.TrimSpace(v)
	}
	if v, ok := lookup("METRICS_TAGS"); ok {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.Metrics.Tags = append(p.Metrics.Tags, t)
			}
		}
	}
	p.Storage.DSN = os.Expand(p.Storage.DSN, func(k string) string {
		v, _ := lookup(k)
		return v
	})
	if p.Storage.DSN == "" && p.Storage.Kind != "" && p.Storage.Kind != "none" {
		if dsn, ok, err := DSNFromEnv(p.Storage.Kind, lookup); err == nil && ok {
			p.Storage.DSN = dsn
		}
	}
}

// RoleSelectors returns the roles keyed by name, for table.ResolveRoles.
func (r Roles) RoleSelectors(names ...string) map[string]table.Selector {
	all := map[string]table.Selector{
		"url":      r.URL,
		"glyph":    r.Glyph,
		"filename": r.Filename,
	}
	if len(names) == 0 {
		return all
	}
	out := make(map[string]table.Selector, len(names))
	for _, n := range names {
		out[n] = all[n]
	}
	return out
}
