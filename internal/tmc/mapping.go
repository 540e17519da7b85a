package tmc

import (
	"path/filepath"
	"strings"
)

// MappingRow is the pair of table cells a mapping entry is built from.
// Line is the 1-based data row number, used only for reporting.
type MappingRow struct {
	Line     int
	Filename string
	Glyph    string
}

// Duplicate records a code that appeared on more than one row.
type Duplicate struct {
	Code     string
	Line     int // row that won
	Value    string
	PrevLine int
	Previous string // value that was overwritten
}

// MappingBuild is the outcome of BuildMapping.
type MappingBuild struct {
	Mapping    Mapping
	Skipped    []int // rows with a missing filename or blank glyph
	Duplicates []Duplicate
}

// BuildMapping keys each row by its filename stem (extension stripped) and
// stores the trimmed glyph text. Rows with an empty filename or a glyph that
// is blank after trimming produce no entry. When a stem repeats, the later row
// wins and the overwrite is recorded.
func BuildMapping(rows []MappingRow) MappingBuild {
	out := MappingBuild{Mapping: make(Mapping, len(rows))}
	lines := make(map[string]int, len(rows))

	for _, r := range rows {
		glyph := strings.TrimSpace(r.Glyph)
		if r.Filename == "" || glyph == "" {
			out.Skipped = append(out.Skipped, r.Line)
			continue
		}
		code := Stem(r.Filename)
		if prev, ok := out.Mapping[code]; ok {
			out.Duplicates = append(out.Duplicates, Duplicate{
				Code:     code,
				Line:     r.Line,
				Value:    glyph,
				Previous: prev,
				PrevLine: lines[code],
			})
		}
		out.Mapping[code] = glyph
		lines[code] = r.Line
	}
	return out
}

// Stem strips the final extension from a file name: "TMC001.png" -> "TMC001".
// Dot files keep their name: ".png" stays ".png".
func Stem(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if strings.Trim(stem, ".") == "" {
		return name
	}
	return stem
}
