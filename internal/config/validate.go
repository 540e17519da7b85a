package config

import (
	"fmt"
	"strings"

	"gaiji/internal/textenc"
)

// Severity of a validation issue.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
)

// Issue is one validation finding. Path is the dotted JSON path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// Tool selects which sections Validate checks strictly.
type Tool string

const (
	ToolExtract Tool = "extract"
	ToolReplace Tool = "replace"
)

var storageKinds = map[string]bool{"": true, "none": true, "sqlite": true, "postgres": true, "mssql": true}

// Validate checks p for the given tool. Sections the tool does not use are
// not checked.
func Validate(p Pipeline, tool Tool) []Issue {
	var out []Issue
	add := func(sev Severity, path, format string, a ...any) {
		out = append(out, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, a...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		add(SeverityWarn, "job", "empty job name; metrics and the run ledger will use %q", "gaiji")
	}

	if strings.TrimSpace(p.Table.Path) == "" {
		add(SeverityError, "table.path", "required")
	}
	checkEncodings(add, "table.encodings", p.Table.Encodings, false)

	roles := []string{"url"}
	if tool == ToolReplace {
		roles = []string{"filename", "glyph"}
	}
	sel := p.Table.Roles.RoleSelectors(roles...)
	for _, name := range roles {
		if err := sel[name].Validate(); err != nil {
			add(SeverityError, "table.roles."+name, "%v", err)
		}
	}

	switch tool {
	case ToolExtract:
		if strings.TrimSpace(p.Extract.CodepointHeader) == "" {
			add(SeverityError, "extract.codepoint_header", "required")
		}
		if p.Extract.ProbeSample < 0 {
			add(SeverityError, "extract.probe_sample", "must be >= 0")
		}
	case ToolReplace:
		r := p.Replace
		if strings.TrimSpace(r.DocsDir) == "" {
			add(SeverityError, "replace.docs_dir", "required")
		}
		if r.Extension != "" && !strings.HasPrefix(r.Extension, ".") {
			add(SeverityError, "replace.extension", "must start with '.' (got %q)", r.Extension)
		}
		if strings.TrimSpace(r.OutputDir) == "" {
			add(SeverityError, "replace.output_dir", "required")
		}
		if strings.ContainsAny(r.OutputPrefix, `/\`) {
			add(SeverityError, "replace.output_prefix", "must not contain path separators")
		}
		if r.OutputPrefix == "" && r.OutputDir != "" && r.OutputDir == r.DocsDir {
			add(SeverityError, "replace.output_prefix", "empty prefix with output_dir == docs_dir would overwrite the inputs")
		}
		checkEncodings(add, "replace.encodings", r.Encodings, true)
		checkEncodings(add, "replace.output_encodings", r.OutputEncodings, true)
	default:
		add(SeverityError, "tool", "unknown tool %q", tool)
	}

	kind := strings.ToLower(strings.TrimSpace(p.Storage.Kind))
	if !storageKinds[kind] {
		add(SeverityError, "storage.kind", "unknown kind %q (want none|sqlite|postgres|mssql)", p.Storage.Kind)
	} else if kind != "" && kind != "none" && strings.TrimSpace(p.Storage.DSN) == "" {
		add(SeverityError, "storage.dsn", "required when storage.kind is %q", kind)
	}

	switch strings.ToLower(strings.TrimSpace(p.Metrics.Backend)) {
	case "", "none", "noop", "datadog", "dd":
	default:
		add(SeverityError, "metrics.backend", "unknown backend %q (want none|datadog)", p.Metrics.Backend)
	}
	if p.Metrics.FlushEvery < 0 {
		add(SeverityError, "metrics.flush_every", "must not be negative")
	}

	if err := p.Logging.Validate(); err != nil {
		add(SeverityError, "logging", "%v", err)
	}
	return out
}

func checkEncodings(add func(Severity, string, string, ...any), path string, encs []string, required bool) {
	if len(encs) == 0 {
		if required {
			add(SeverityError, path, "at least one encoding is required")
		}
		return
	}
	for i, e := range encs {
		if textenc.Canonical(e) == "" {
			add(SeverityError, fmt.Sprintf("%s[%d]", path, i), "unsupported encoding %q", e)
		}
	}
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
