// Package pipeline runs the two gaiji batch jobs.
//
// Extract fills the code-point column of a glyph table from its CHISE URLs
// and writes an updated copy. Replace turns the same table into a
// filename-stem to glyph mapping and substitutes <tmc code="..."/> tokens in
// a directory of documents. Both runs are sequential, check ctx between work
// items, and record into the optional ledger and the metrics facade. Ledger
// and metrics failures are logged and never fail a run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gaiji/internal/metrics"
	"gaiji/internal/storage"
	"gaiji/internal/table"
)

var (
	// ErrTableNotFound is returned when the glyph table does not exist.
	ErrTableNotFound = errors.New("table not found")
	// ErrDocsDirNotFound is returned when the documents directory does not exist.
	ErrDocsDirNotFound = errors.New("documents directory not found")
	// ErrNoDocuments is returned when the documents directory holds no matching file.
	ErrNoDocuments = errors.New("no documents found")
)

// Tool names as recorded in the ledger.
const (
	ToolExtract = "extract"
	ToolReplace = "replace"
)

// sampleSize bounds the label and code samples kept in reports.
const sampleSize = 10

// Deps are the collaborators shared by both runs. The zero value works:
// it logs through slog.Default, keeps no ledger and uses the wall clock.
type Deps struct {
	Logger *slog.Logger
	Ledger storage.Repository
	Now    func() time.Time
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// readTable loads the glyph table, mapping a missing file to ErrTableNotFound.
func readTable(path string, opt table.ReadOptions) (*table.Table, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, path)
		}
		return nil, err
	}
	t, err := table.Read(path, opt)
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", path, err)
	}
	return t, nil
}

// ledger wraps an optional Repository so that every call is best effort.
type ledger struct {
	repo  storage.Repository
	log   *slog.Logger
	runID string
	ok    bool
}

func beginLedger(ctx context.Context, d Deps, run storage.Run) *ledger {
	l := &ledger{repo: d.Ledger, log: d.logger(), runID: run.ID}
	if l.repo == nil {
		return l
	}
	if err := l.repo.BeginRun(ctx, run); err != nil {
		l.log.Warn("ledger: begin run failed", "run_id", run.ID, "err", err)
		return l
	}
	l.ok = true
	return l
}

func (l *ledger) saveCodePoints(ctx context.Context, recs []storage.CodePointRecord) {
	if !l.ok || len(recs) == 0 {
		return
	}
	if err := l.repo.SaveCodePoints(ctx, l.runID, recs); err != nil {
		l.log.Warn("ledger: save code points failed", "run_id", l.runID, "err", err)
	}
}

func (l *ledger) saveDocuments(ctx context.Context, recs []storage.DocumentRecord) {
	if !l.ok || len(recs) == 0 {
		return
	}
	if err := l.repo.SaveDocuments(ctx, l.runID, recs); err != nil {
		l.log.Warn("ledger: save documents failed", "run_id", l.runID, "err", err)
	}
}

// finish closes the run. It uses a fresh context so a cancelled run is still
// recorded as failed.
func (l *ledger) finish(s storage.Summary, runErr error) {
	if !l.ok {
		return
	}
	s.Status = "ok"
	if runErr != nil {
		s.Status = "failed"
		s.Error = runErr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.repo.FinishRun(ctx, l.runID, s); err != nil {
		l.log.Warn("ledger: finish run failed", "run_id", l.runID, "err", err)
	}
}

// step times fn and records it under name.
func step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(name, err, time.Since(start))
	return err
}
