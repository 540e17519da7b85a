package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"

	"gaiji/internal/textenc"
)

// defaultTableEncodings covers the two encodings Excel uses for Japanese CSV.
var defaultTableEncodings = []string{"utf-8", "shift_jis"}

func readCSVFile(path string, opt ReadOptions) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	encs := opt.Encodings
	if len(encs) == 0 {
		encs = defaultTableEncodings
	}
	text, enc, err := textenc.DecodeFirst(raw, encs)
	if err != nil {
		return nil, err
	}
	t, err := readCSV(strings.NewReader(text), opt.Comma)
	if err != nil {
		return nil, err
	}
	t.Encoding = enc
	return t, nil
}

// readCSV parses delimited text. The first record is the header and a
// leading BOM is dropped. Values are kept as written so a rewrite changes
// only what the caller sets.
func readCSV(r io.Reader, comma rune) (*Table, error) {
	cr := csv.NewReader(r)
	if comma != 0 {
		cr.Comma = comma
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	hdr, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty table")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	t := &Table{Header: make([]string, len(hdr))}
	for i, h := range hdr {
		if i == 0 {
			h = strings.TrimPrefix(h, "\uFEFF")
		}
		t.Header[i] = h
	}

	line := 1
	for {
		rec, err := cr.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}

func writeCSV(path string, t *Table) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if strings.EqualFold(filepath.Ext(path), ".tsv") {
		w.Comma = '\t'
	}
	if err := w.Write(t.Header); err != nil {
		return err
	}
	for _, r := range t.Rows {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	// Keep the source encoding when it can hold the new values.
	order := []string{"utf-8"}
	if t.Encoding != "" && t.Encoding != "utf-8" {
		order = []string{t.Encoding, "utf-8"}
	}
	b, _, err := textenc.EncodeFirst(buf.String(), order)
	if err != nil {
		return err
	}
	return atomic.WriteFile(path, bytes.NewReader(b))
}
