package table

import (
	"fmt"
	"os"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"gaiji/internal/textenc"
)

func readHTMLFile(path string, opt ReadOptions) (*Table, error) {
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
	t, err := readHTML(text)
	if err != nil {
		return nil, err
	}
	t.Encoding = enc
	return t, nil
}

// readHTML reads the first <table> of an Excel "web page" export. The first
// row is the header; th and td cells are treated alike.
func readHTML(html string) (*Table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	tbl := doc.Find("table").First()
	if tbl.Length() == 0 {
		return nil, fmt.Errorf("no <table> element")
	}

	var rows [][]string
	tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		// Skip rows that belong to a nested table.
		if tr.Closest("table").Get(0) != tbl.Get(0) {
			return
		}
		var row []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, c *goquery.Selection) {
			row = append(row, strings.TrimSpace(c.Text()))
		})
		rows = append(rows, row)
	})
	if len(rows) == 0 {
		return nil, fmt.Errorf("table has no rows")
	}

	return &Table{Header: rows[0], Rows: rows[1:]}, nil
}
