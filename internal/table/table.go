// Package table reads and writes the glyph spreadsheet as a plain header +
// rows grid. CSV, XLSX and Excel HTML exports are supported; every cell is a
// string and rows may be ragged.
package table

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format identifies a table file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatHTML Format = "html"
)

// ErrUnsupportedFormat is returned for file extensions with no reader/writer.
var ErrUnsupportedFormat = errors.New("table: unsupported format")

// Table is an in-memory grid. Rows never include the header. Headers and
// cells hold the values as read; Cell trims.
type Table struct {
	Header []string
	Rows   [][]string

	Format   Format
	Sheet    string // xlsx only
	Encoding string // text formats: encoding the file was decoded with
}

// FormatOf maps a path's extension to a Format.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".html", ".htm":
		return FormatHTML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// WritableFormat returns the format a table read as f is written back in.
// HTML exports are written as CSV.
func WritableFormat(f Format) Format {
	if f == FormatHTML {
		return FormatCSV
	}
	return f
}

// Cell returns the trimmed value at (row, col), or "" when out of range.
func (t *Table) Cell(row, col int) string {
	if row < 0 || row >= len(t.Rows) || col < 0 {
		return ""
	}
	r := t.Rows[row]
	if col >= len(r) {
		return ""
	}
	return strings.TrimSpace(r[col])
}

// Set stores v at (row, col), padding the row as needed.
func (t *Table) Set(row, col int, v string) {
	r := t.Rows[row]
	for len(r) <= col {
		r = append(r, "")
	}
	r[col] = v
	t.Rows[row] = r
}

// EnsureColumn returns the index of the column whose trimmed header equals
// name, appending an empty column when there is none.
func (t *Table) EnsureColumn(name string) (idx int, created bool) {
	for i, h := range t.Header {
		if strings.TrimSpace(h) == name {
			return i, false
		}
	}
	t.Header = append(t.Header, name)
	return len(t.Header) - 1, true
}

// Column returns all values of column col, one per row.
func (t *Table) Column(col int) []string {
	out := make([]string, len(t.Rows))
	for i := range t.Rows {
		out[i] = t.Cell(i, col)
	}
	return out
}

// ReadOptions control Read.
type ReadOptions struct {
	// Sheet selects the xlsx worksheet; empty means the first sheet.
	Sheet string
	// Encodings is the ordered candidate list for CSV/HTML files.
	Encodings []string
	// Comma is the CSV delimiter; zero means ',' (or tab for .tsv).
	Comma rune
}

// Read loads the table at path, choosing the reader by extension.
func Read(path string, opt ReadOptions) (*Table, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	var t *Table
	switch f {
	case FormatCSV:
		if opt.Comma == 0 && strings.EqualFold(filepath.Ext(path), ".tsv") {
			opt.Comma = '\t'
		}
		t, err = readCSVFile(path, opt)
	case FormatXLSX:
		t, err = readXLSX(path, opt.Sheet)
	case FormatHTML:
		t, err = readHTMLFile(path, opt)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	t.Format = f
	return t, nil
}

// Write stores t at path in the format implied by the extension.
// The file is replaced atomically.
func Write(path string, t *Table) error {
	f, err := FormatOf(path)
	if err != nil {
		return err
	}
	switch f {
	case FormatCSV:
		err = writeCSV(path, t)
	case FormatXLSX:
		err = writeXLSX(path, t)
	default:
		return fmt.Errorf("%w: cannot write %s", ErrUnsupportedFormat, f)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
