// Package tmc replaces <tmc code="..."/> placeholder tokens with the glyph
// text mapped to their code.
package tmc

import (
	"regexp"
	"sort"
	"strings"
)

// TokenPattern is the exact token syntax. No whitespace or quoting variants
// are recognized.
var TokenPattern = regexp.MustCompile(`<tmc code="([^"]+)"/>`)

// Mapping maps a token code to its replacement text.
type Mapping map[string]string

// Result describes one replacement pass over a document.
type Result struct {
	Text string

	// Replaced counts token occurrences that were substituted.
	Replaced int

	// Found lists the code of every token occurrence, in document order.
	Found []string

	// Unreplaced holds the distinct found codes absent from the mapping, sorted.
	Unreplaced []string
}

// Replace substitutes every token whose code is in m. Replacement text is
// inserted literally and never scanned again. Tokens with unknown codes are
// left byte-for-byte as they were.
func Replace(doc string, m Mapping) Result {
	locs := TokenPattern.FindAllStringSubmatchIndex(doc, -1)
	if len(locs) == 0 {
		return Result{Text: doc}
	}

	var (
		b       strings.Builder
		res     Result
		last    int
		missing = map[string]struct{}{}
	)
	b.Grow(len(doc))
	res.Found = make([]string, 0, len(locs))

	for _, loc := range locs {
		start, end := loc[0], loc[1]
		code := doc[loc[2]:loc[3]]
		res.Found = append(res.Found, code)

		b.WriteString(doc[last:start])
		if v, ok := m[code]; ok {
			b.WriteString(v)
			res.Replaced++
		} else {
			b.WriteString(doc[start:end])
			missing[code] = struct{}{}
		}
		last = end
	}
	b.WriteString(doc[last:])

	res.Text = b.String()
	res.Unreplaced = sortedKeys(missing)
	return res
}

// Codes returns the code of every token in doc, in document order.
func Codes(doc string) []string {
	ms := TokenPattern.FindAllStringSubmatch(doc, -1)
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m[1])
	}
	return out
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
