package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteExtractReport prints r as aligned text, or as indented JSON.
func WriteExtractReport(w io.Writer, r *ExtractReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, r)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run:\t%s\n", r.RunID)
	fmt.Fprintf(tw, "table:\t%s\n", describeTable(r.Table, r.Encoding, r.Sheet))
	fmt.Fprintf(tw, "url column:\t%s\n", r.URLColumn)
	created := ""
	if r.ColumnCreated {
		created = " (created)"
	}
	fmt.Fprintf(tw, "code point column:\t%s%s\n", r.CodepointColumn, created)
	fmt.Fprintf(tw, "rows:\t%d\n", r.Rows)
	fmt.Fprintf(tw, "rows with url:\t%d\n", r.WithURL)
	fmt.Fprintf(tw, "extracted:\t%d\n", r.Extracted)
	fmt.Fprintf(tw, "failed:\t%d\n", r.Failed)
	fmt.Fprintf(tw, "filled cells:\t%d\n", r.Filled)
	if len(r.Samples) > 0 {
		fmt.Fprintf(tw, "samples:\t%s\n", strings.Join(r.Samples, ", "))
	}
	if r.Probe != nil {
		fmt.Fprintf(tw, "glyph probe:\t%s\n", r.Probe)
	}
	fmt.Fprintf(tw, "output:\t%s\n", r.Output)
	return tw.Flush()
}

// WriteReplaceReport prints r as a per-document table followed by the codes
// left unreplaced and the run totals, or as indented JSON.
func WriteReplaceReport(w io.Writer, r *ReplaceReport, asJSON bool) error {
	if asJSON {
		return writeJSON(w, r)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tENCODING\tFOUND\tREPLACED\tUNREPLACED\tOUTPUT")
	for _, d := range r.Documents {
		if d.Skipped != "" {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\tskipped: %s\n", d.File, d.Skipped)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%s (%s)\n", d.File, d.Encoding, d.Found, d.Replaced, len(d.Unreplaced), d.Output, d.OutputEncoding)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, d := range r.Documents {
		if len(d.Unreplaced) == 0 {
			continue
		}
		fmt.Fprintf(w, "\nunreplaced codes in %s (%d):\n", d.File, len(d.Unreplaced))
		for _, line := range sampleLines(d.Unreplaced, sampleSize) {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}

	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "run:\t%s\n", r.RunID)
	fmt.Fprintf(tw, "mapping entries:\t%d\n", r.MappingSize)
	if len(r.Duplicates) > 0 {
		fmt.Fprintf(tw, "duplicate codes:\t%d\n", len(r.Duplicates))
	}
	fmt.Fprintf(tw, "documents processed:\t%d\n", r.Processed)
	fmt.Fprintf(tw, "documents skipped:\t%d\n", r.Skipped)
	fmt.Fprintf(tw, "tokens replaced:\t%d\n", r.Replaced)
	return tw.Flush()
}

// sampleLines returns the first n items and, when there are more, a line
// counting the rest.
func sampleLines(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	out := append([]string(nil), items[:n]...)
	return append(out, fmt.Sprintf("... and %d more", len(items)-n))
}

func describeTable(path, enc, sheet string) string {
	var extra []string
	if enc != "" {
		extra = append(extra, enc)
	}
	if sheet != "" {
		extra = append(extra, "sheet "+sheet)
	}
	if len(extra) == 0 {
		return path
	}
	return fmt.Sprintf("%s (%s)", path, strings.Join(extra, ", "))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
