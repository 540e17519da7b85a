package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"gaiji/internal/config"
	"gaiji/internal/metrics"
	"gaiji/internal/storage"
	"gaiji/internal/table"
	"gaiji/internal/textenc"
	"gaiji/internal/tmc"
)

// DocumentReport is the outcome for one document.
type DocumentReport struct {
	File           string   `json:"file"`
	Encoding       string   `json:"encoding,omitempty"`
	Size           int      `json:"size"`
	Found          int      `json:"found"`
	Replaced       int      `json:"replaced"`
	Unreplaced     []string `json:"unreplaced,omitempty"`
	Output         string   `json:"output,omitempty"`
	OutputEncoding string   `json:"output_encoding,omitempty"`
	Skipped        string   `json:"skipped,omitempty"`
}

// ReplaceReport summarizes one replacement run.
type ReplaceReport struct {
	RunID          string           `json:"run_id"`
	Table          string           `json:"table"`
	FilenameColumn string           `json:"filename_column"`
	GlyphColumn    string           `json:"glyph_column"`
	MappingSize    int              `json:"mapping_size"`
	SkippedRows    []int            `json:"skipped_rows,omitempty"`
	Duplicates     []tmc.Duplicate  `json:"duplicates,omitempty"`
	DocsDir        string           `json:"docs_dir"`
	Documents      []DocumentReport `json:"documents"`
	Processed      int              `json:"processed"`
	Skipped        int              `json:"skipped"`
	Replaced       int              `json:"replaced"`
	Duration       time.Duration    `json:"duration_ns"`
}

// Replace builds the code to glyph mapping from the glyph table and rewrites
// every matching document in the documents directory. A document that
// cannot be read, decoded or written is reported as skipped and the batch
// goes on. A missing table or directory, or a directory without documents,
// aborts before anything is written.
func Replace(ctx context.Context, cfg config.Pipeline, d Deps) (*ReplaceReport, error) {
	log := d.logger()
	started := d.now()
	rc := cfg.Replace
	rep := &ReplaceReport{RunID: storage.NewRunID(), Table: cfg.Table.Path, DocsDir: rc.DocsDir}

	var tbl *table.Table
	err := step("read_table", func() error {
		var err error
		tbl, err = readTable(cfg.Table.Path, table.ReadOptions{Sheet: cfg.Table.Sheet, Encodings: cfg.Table.Encodings})
		return err
	})
	if err != nil {
		return nil, err
	}

	cols, err := table.ResolveRoles(tbl.Header, cfg.Table.Roles.RoleSelectors("filename", "glyph"))
	if err != nil {
		return nil, err
	}
	fileCol, glyphCol := cols["filename"], cols["glyph"]
	rep.FilenameColumn, rep.GlyphColumn = tbl.Header[fileCol], tbl.Header[glyphCol]

	rows := make([]tmc.MappingRow, len(tbl.Rows))
	for i := range tbl.Rows {
		rows[i] = tmc.MappingRow{Line: i + 1, Filename: tbl.Cell(i, fileCol), Glyph: tbl.Cell(i, glyphCol)}
	}
	built := tmc.BuildMapping(rows)
	rep.MappingSize, rep.SkippedRows, rep.Duplicates = len(built.Mapping), built.Skipped, built.Duplicates
	log.Info("mapping built", "entries", rep.MappingSize, "skipped_rows", len(built.Skipped), "duplicates", len(built.Duplicates))
	for _, dup := range built.Duplicates {
		log.Warn("duplicate code; later row wins", "code", dup.Code, "row", dup.Line, "value", dup.Value, "previous_row", dup.PrevLine, "previous", dup.Previous)
	}

	names, err := listDocuments(rc.DocsDir, rc.Extension)
	if err != nil {
		return nil, err
	}
	log.Info("documents found", "dir", rc.DocsDir, "count", len(names))

	if err := os.MkdirAll(rc.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	lg := beginLedger(ctx, d, storage.Run{
		ID: rep.RunID, Job: cfg.Job, Tool: ToolReplace, Input: cfg.Table.Path, StartedAt: started,
	})
	var runErr error
	defer func() {
		lg.finish(storage.Summary{
			FinishedAt: d.now(),
			Items:      len(rep.Documents),
			Succeeded:  rep.Processed,
			Skipped:    rep.Skipped,
			Output:     rc.OutputDir,
		}, runErr)
	}()

	records := make([]storage.DocumentRecord, 0, len(names))
	runErr = step("replace", func() error {
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			dr, err := replaceDocument(filepath.Join(rc.DocsDir, name), rc, built.Mapping)
			if err != nil {
				dr = DocumentReport{File: name, Skipped: err.Error()}
			}
			rep.Documents = append(rep.Documents, dr)
			records = append(records, storage.DocumentRecord{
				File:       dr.File,
				Encoding:   dr.Encoding,
				Found:      dr.Found,
				Replaced:   dr.Replaced,
				Unreplaced: dr.Unreplaced,
				Output:     dr.Output,
				Skipped:    dr.Skipped,
			})

			if dr.Skipped != "" {
				rep.Skipped++
				metrics.RecordDocument("skipped")
				log.Warn("document skipped", "file", dr.File, "reason", dr.Skipped)
				continue
			}
			rep.Processed++
			rep.Replaced += dr.Replaced
			metrics.RecordDocument("replaced")
			metrics.RecordTokens(dr.Replaced, dr.Found-dr.Replaced)
			log.Info("document replaced", "file", dr.File, "encoding", dr.Encoding, "found", dr.Found,
				"replaced", dr.Replaced, "unreplaced", len(dr.Unreplaced), "output", dr.Output, "output_encoding", dr.OutputEncoding)
		}
		return nil
	})
	lg.saveDocuments(ctx, records)
	if runErr != nil {
		return nil, runErr
	}

	rep.Duration = d.now().Sub(started)
	return rep, nil
}

// replaceDocument decodes, rewrites and saves one document. A document that
// no candidate encoding decodes comes back with Skipped set; other failures
// are returned.
func replaceDocument(path string, rc config.Replace, m tmc.Mapping) (DocumentReport, error) {
	dr := DocumentReport{File: filepath.Base(path)}

	doc, err := textenc.ReadFile(path, rc.Encodings)
	if err != nil {
		if errors.Is(err, textenc.ErrNoEncoding) {
			dr.Skipped = "no candidate encoding decodes the file"
			return dr, nil
		}
		return dr, fmt.Errorf("read %s: %w", dr.File, err)
	}
	dr.Encoding, dr.Size = doc.Encoding, doc.Size

	res := tmc.Replace(doc.Text, m)
	dr.Found, dr.Replaced, dr.Unreplaced = len(res.Found), res.Replaced, res.Unreplaced

	b, enc, err := textenc.EncodeFirst(res.Text, rc.OutputEncodings)
	if err != nil {
		return dr, fmt.Errorf("encode %s: %w", dr.File, err)
	}
	out := filepath.Join(rc.OutputDir, rc.OutputPrefix+tmc.Stem(dr.File)+".txt")
	if err := atomic.WriteFile(out, bytes.NewReader(b)); err != nil {
		return dr, fmt.Errorf("write %s: %w", out, err)
	}
	dr.Output, dr.OutputEncoding = out, enc
	return dr, nil
}

// listDocuments returns the names of the regular files in dir ending in ext,
// sorted by name.
func listDocuments(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrDocsDirNotFound, dir)
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no %s files in %s", ErrNoDocuments, ext, dir)
	}
	return names, nil
}
