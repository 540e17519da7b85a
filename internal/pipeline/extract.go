package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gaiji/internal/codepoint"
	"gaiji/internal/config"
	"gaiji/internal/glyph"
	"gaiji/internal/metrics"
	"gaiji/internal/storage"
	"gaiji/internal/table"
)

// ExtractReport summarizes one extraction run.
type ExtractReport struct {
	RunID           string         `json:"run_id"`
	Table           string         `json:"table"`
	Encoding        string         `json:"encoding,omitempty"`
	Sheet           string         `json:"sheet,omitempty"`
	URLColumn       string         `json:"url_column"`
	CodepointColumn string         `json:"codepoint_column"`
	ColumnCreated   bool           `json:"column_created"`
	Rows            int            `json:"rows"`
	WithURL         int            `json:"with_url"`
	Extracted       int            `json:"extracted"`
	Failed          int            `json:"failed"`
	Filled          int            `json:"filled"`
	Samples         []string       `json:"samples"`
	Probe           *glyph.Finding `json:"probe,omitempty"`
	Output          string         `json:"output"`
	Duration        time.Duration  `json:"duration_ns"`
}

// Extract reads the glyph table, derives a code point from every non-blank
// URL cell and writes the table with the code-point column filled to a new,
// timestamped file. Rows whose URL yields nothing keep their previous value.
func Extract(ctx context.Context, cfg config.Pipeline, d Deps) (*ExtractReport, error) {
	log := d.logger()
	started := d.now()
	rep := &ExtractReport{
		RunID:           storage.NewRunID(),
		Table:           cfg.Table.Path,
		CodepointColumn: cfg.Extract.CodepointHeader,
	}
	if rep.CodepointColumn == "" {
		rep.CodepointColumn = config.DefaultCodepointHeader
	}

	var tbl *table.Table
	err := step("read_table", func() error {
		var err error
		tbl, err = readTable(cfg.Table.Path, table.ReadOptions{Sheet: cfg.Table.Sheet, Encodings: cfg.Table.Encodings})
		return err
	})
	if err != nil {
		return nil, err
	}
	rep.Encoding, rep.Sheet, rep.Rows = tbl.Encoding, tbl.Sheet, len(tbl.Rows)
	log.Info("table loaded", "path", cfg.Table.Path, "format", tbl.Format, "rows", len(tbl.Rows), "columns", len(tbl.Header))

	cols, err := table.ResolveRoles(tbl.Header, cfg.Table.Roles.RoleSelectors("url"))
	if err != nil {
		return nil, err
	}
	urlCol := cols["url"]
	rep.URLColumn = tbl.Header[urlCol]

	if glyphCol, err := cfg.Table.Roles.Glyph.Resolve(tbl.Header); err == nil {
		f := glyph.Probe(tbl.Column(glyphCol), cfg.Extract.ProbeSample)
		rep.Probe = &f
		if f.Suspect {
			log.Warn("glyph column may be garbled", "column", tbl.Header[glyphCol], "finding", f.String())
		} else {
			log.Debug("glyph probe", "column", tbl.Header[glyphCol], "finding", f.String())
		}
	} else {
		log.Debug("glyph column not resolved; probe skipped", "err", err)
	}

	cpCol, created := tbl.EnsureColumn(rep.CodepointColumn)
	rep.ColumnCreated = created

	lg := beginLedger(ctx, d, storage.Run{
		ID: rep.RunID, Job: cfg.Job, Tool: ToolExtract, Input: cfg.Table.Path, StartedAt: started,
	})
	var runErr error
	defer func() {
		lg.finish(storage.Summary{
			FinishedAt: d.now(),
			Items:      rep.WithURL,
			Succeeded:  rep.Extracted,
			Failed:     rep.Failed,
			Skipped:    rep.Rows - rep.WithURL,
			Output:     rep.Output,
		}, runErr)
	}()

	records := make([]storage.CodePointRecord, 0, len(tbl.Rows))
	runErr = step("extract", func() error {
		for i := range tbl.Rows {
			if err := ctx.Err(); err != nil {
				return err
			}
			url := tbl.Cell(i, urlCol)
			if url == "" {
				metrics.RecordRow("skipped")
				continue
			}
			rep.WithURL++

			res := codepoint.Explain(url)
			for _, a := range res.Attempts {
				log.Debug("strategy", "row", i+1, "tail", res.Tail, "strategy", a.Strategy, "outcome", a.Outcome, "detail", a.Detail)
			}
			rec := storage.CodePointRecord{Row: i + 1, URL: url}
			if n := len(res.Attempts); n > 0 {
				rec.Strategy = res.Attempts[n-1].Strategy
			}
			if res.OK {
				tbl.Set(i, cpCol, res.Label.String())
				rec.Label = res.Label.String()
				rep.Extracted++
				metrics.RecordRow("extracted")
			} else {
				rep.Failed++
				metrics.RecordRow("failed")
				log.Warn("no code point in url", "row", i+1, "url", url)
			}
			records = append(records, rec)
		}
		return nil
	})
	lg.saveCodePoints(ctx, records)
	if runErr != nil {
		return nil, runErr
	}

	for _, v := range tbl.Column(cpCol) {
		if strings.TrimSpace(v) == "" {
			continue
		}
		rep.Filled++
		if len(rep.Samples) < sampleSize {
			rep.Samples = append(rep.Samples, v)
		}
	}

	out, err := outputTablePath(cfg.Table.Path, cfg.Extract.OutputDir, tbl.Format, started)
	if err != nil {
		runErr = err
		return nil, err
	}
	runErr = step("write_table", func() error {
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return err
		}
		return table.Write(out, tbl)
	})
	if runErr != nil {
		return nil, fmt.Errorf("write %s: %w", out, runErr)
	}
	rep.Output = out
	rep.Duration = d.now().Sub(started)
	log.Info("extraction finished", "extracted", rep.Extracted, "failed", rep.Failed, "output", out)
	return rep, nil
}

// outputTablePath returns <dir>/<stem>_updated_<YYYYMMDD_HHMMSS><ext>. The
// directory defaults to the input's. Formats that cannot be written fall
// back to CSV.
func outputTablePath(input, dir string, format table.Format, at time.Time) (string, error) {
	if dir == "" {
		dir = filepath.Dir(input)
	}
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(filepath.Base(input), ext)
	if w := table.WritableFormat(format); w != format {
		ext = "." + string(w)
	}
	if ext == "" {
		return "", fmt.Errorf("cannot derive output name from %q", input)
	}
	return filepath.Join(dir, fmt.Sprintf("%s_updated_%s%s", stem, at.Format("20060102_150405"), ext)), nil
}
