package table

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"gaiji/internal/textenc"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func intp(i int) *int { return &i }

// TestReadCSV_BOMAndRawValues verifies that a UTF-8 BOM never leaks into the
// first header, that values are stored as written and that Cell trims.
func TestReadCSV_BOMAndRawValues(t *testing.T) {
	t.Parallel()

	p := writeFile(t, "glyphs.csv", []byte("\uFEFFurl , 文字\n  http://x/0x20B9F ,𠮟 \nhttp://y\n"))
	tbl, err := Read(p, ReadOptions{})
	require.NoError(t, err)

	assert.Equal(t, FormatCSV, tbl.Format)
	assert.Equal(t, "utf-8", tbl.Encoding)
	assert.Equal(t, []string{"url ", " 文字"}, tbl.Header)
	if diff := cmp.Diff([][]string{{"  http://x/0x20B9F ", "𠮟 "}, {"http://y"}}, tbl.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "http://x/0x20B9F", tbl.Cell(0, 0))
	assert.Equal(t, "𠮟", tbl.Cell(0, 1))
	assert.Equal(t, "", tbl.Cell(1, 1), "ragged row reads as empty")

	idx, err := Selector{Header: "url"}.Resolve(tbl.Header)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
	col, created := tbl.EnsureColumn("文字")
	assert.False(t, created)
	assert.Equal(t, 1, col)
}

// TestWriteCSV_KeepsUntouchedValues rewrites a table after setting one cell;
// every other value reads back unchanged, surrounding spaces included.
func TestWriteCSV_KeepsUntouchedValues(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(src, []byte(" URL ,glyph\nhttp://x/0x3400, 㐀 \n"), 0o644))

	tbl, err := Read(src, ReadOptions{})
	require.NoError(t, err)
	col, _ := tbl.EnsureColumn("cp")
	tbl.Set(0, col, "U+3400")

	dst := filepath.Join(dir, "out.csv")
	require.NoError(t, Write(dst, tbl))
	got, err := Read(dst, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{" URL ", "glyph", "cp"}, got.Header)
	if diff := cmp.Diff([][]string{{"http://x/0x3400", " 㐀 ", "U+3400"}}, got.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCSV_ShiftJIS(t *testing.T) {
	t.Parallel()

	b, err := textenc.Encode("ファイル名,外字\nTMC001.png,外\n", "shift_jis")
	require.NoError(t, err)

	tbl, err := Read(writeFile(t, "sjis.csv", b), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "shift_jis", tbl.Encoding)
	assert.Equal(t, []string{"ファイル名", "外字"}, tbl.Header)
	assert.Equal(t, "TMC001.png", tbl.Cell(0, 0))
}

func TestReadTSV(t *testing.T) {
	t.Parallel()

	tbl, err := Read(writeFile(t, "g.tsv", []byte("a\tb\n1\t2\n")), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tbl.Header)
	assert.Equal(t, "2", tbl.Cell(0, 1))
}

func TestRead_Errors(t *testing.T) {
	t.Parallel()

	_, err := Read(filepath.Join(t.TempDir(), "missing.csv"), ReadOptions{})
	assert.True(t, errors.Is(err, os.ErrNotExist), "got %v", err)

	_, err = Read("glyphs.ods", ReadOptions{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Read(writeFile(t, "empty.csv", nil), ReadOptions{})
	assert.Error(t, err)
}

// TestReadHTML_FirstTableOnly checks the Excel web-page export shape: th/td
// cells alike, nested tables ignored.
func TestReadHTML_FirstTableOnly(t *testing.T) {
	t.Parallel()

	const page = `<html><body>
<table>
  <tr><th> URL </th><td>文字</td></tr>
  <tr><td>http://a/0x3400</td><td>㐀<table><tr><td>nested</td></tr></table></td></tr>
  <tr><td>http://b</td><td></td></tr>
</table>
<table><tr><td>second</td></tr></table>
</body></html>`

	tbl, err := Read(writeFile(t, "export.htm", []byte(page)), ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, tbl.Format)
	assert.Equal(t, []string{"URL", "文字"}, tbl.Header)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "http://a/0x3400", tbl.Cell(0, 0))
	assert.Equal(t, "http://b", tbl.Cell(1, 0))
	assert.Equal(t, FormatCSV, WritableFormat(tbl.Format))
}

func TestReadHTML_NoTable(t *testing.T) {
	t.Parallel()

	_, err := Read(writeFile(t, "x.html", []byte("<p>nothing</p>")), ReadOptions{})
	assert.Error(t, err)
}

// TestXLSX_RoundTrip writes a workbook with excelize, adds a column the way
// the extractor does, writes it back and reads it again.
func TestXLSX_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "glyphs.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "外字"))
	require.NoError(t, f.SetSheetRow("外字", "A1", &[]any{"URL", "文字"}))
	require.NoError(t, f.SetSheetRow("外字", "A2", &[]any{"http://x/%E6%97%A5", " 日 "}))
	require.NoError(t, f.SaveAs(src))
	require.NoError(t, f.Close())

	tbl, err := Read(src, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "外字", tbl.Sheet)
	assert.Equal(t, []string{"URL", "文字"}, tbl.Header)

	col, created := tbl.EnsureColumn("ユニコードコードポイント")
	assert.True(t, created)
	tbl.Set(0, col, "U+65E5")

	dst := filepath.Join(dir, "out.xlsx")
	require.NoError(t, Write(dst, tbl))

	got, err := Read(dst, ReadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "外字", got.Sheet)
	assert.Equal(t, []string{"URL", "文字", "ユニコードコードポイント"}, got.Header)
	assert.Equal(t, "U+65E5", got.Cell(0, 2))
	assert.Equal(t, " 日 ", got.Rows[0][1], "untouched cells keep their spaces")
	assert.Equal(t, "日", got.Cell(0, 1))

	again, created := got.EnsureColumn("ユニコードコードポイント")
	assert.False(t, created)
	assert.Equal(t, 2, again)
}

func TestWriteCSV_KeepsEncoding(t *testing.T) {
	t.Parallel()

	b, err := textenc.Encode("名前\n日本\n", "shift_jis")
	require.NoError(t, err)
	dir := t.TempDir()
	src := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(src, b, 0o644))

	tbl, err := Read(src, ReadOptions{})
	require.NoError(t, err)
	col, _ := tbl.EnsureColumn("cp")
	tbl.Set(0, col, "U+65E5")

	dst := filepath.Join(dir, "out.csv")
	require.NoError(t, Write(dst, tbl))

	raw, err := os.ReadFile(dst)
	require.NoError(t, err)
	text, err := textenc.Decode(raw, "shift_jis")
	require.NoError(t, err)
	assert.Equal(t, "名前,cp\n日本,U+65E5\n", text)
}

func TestWrite_HTMLUnsupported(t *testing.T) {
	t.Parallel()

	err := Write(filepath.Join(t.TempDir(), "x.html"), &Table{Header: []string{"a"}})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestSelector_Resolve(t *testing.T) {
	t.Parallel()

	header := []string{"URL", "文字", "ファイル名", "画像URL", "Note"}

	tests := []struct {
		name    string
		sel     Selector
		want    int
		wantErr error
	}{
		{name: "header_exact_case_insensitive", sel: Selector{Header: "url"}, want: 0},
		{name: "header_missing", sel: Selector{Header: "glyph"}, wantErr: ErrColumnNotFound},
		{name: "contains_unique", sel: Selector{Contains: []string{"ファイル"}}, want: 2},
		{name: "contains_ambiguous", sel: Selector{Contains: []string{"url"}}, wantErr: ErrAmbiguousColumn},
		{name: "contains_first_keyword_wins", sel: Selector{Contains: []string{"missing", "note"}}, want: 4},
		{name: "contains_none", sel: Selector{Contains: []string{"zzz"}}, wantErr: ErrColumnNotFound},
		{name: "index", sel: Selector{Index: intp(1)}, want: 1},
		{name: "index_out_of_range", sel: Selector{Index: intp(9)}, wantErr: ErrColumnNotFound},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := tc.sel.Resolve(header)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSelector_Validate(t *testing.T) {
	t.Parallel()

	assert.Error(t, Selector{}.Validate())
	assert.Error(t, Selector{Header: "a", Index: intp(0)}.Validate())
	assert.Error(t, Selector{Contains: []string{" "}}.Validate())
	assert.Error(t, Selector{Index: intp(-1)}.Validate())
	assert.NoError(t, Selector{Contains: []string{"url"}}.Validate())
}

// TestResolveRoles_JoinsErrors reports every broken role at once.
func TestResolveRoles_JoinsErrors(t *testing.T) {
	t.Parallel()

	header := []string{"URL", "文字"}
	got, err := ResolveRoles(header, map[string]Selector{
		"url":   {Header: "URL"},
		"glyph": {Header: "文字"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"url": 0, "glyph": 1}, got)

	_, err = ResolveRoles(header, map[string]Selector{
		"url":      {Header: "missing"},
		"filename": {Contains: []string{"nope"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrColumnNotFound)
	assert.True(t, strings.Contains(err.Error(), "role filename"))
	assert.True(t, strings.Contains(err.Error(), "role url"))
}
