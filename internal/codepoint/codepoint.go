// Package codepoint derives a Unicode code point label ("U+XXXX") from the
// trailing path segment of a glyph URL (CHISE-style links).
//
// The extraction is a fixed, ordered list of strategies. Each strategy looks at
// the URL tail and either produces a label, declines so the next strategy can
// try, or stops the whole extraction. The first label wins.
//
// Extraction never panics past this package and never prints; callers that want
// diagnostics use Explain and log the returned attempts themselves.
package codepoint

import (
	"fmt"
	"strconv"
	"strings"
)

// Label is a rendered code point such as "U+65E5" or "U+20B9F".
type Label string

// FormatLabel renders v as U+ followed by uppercase hex, zero-padded to at
// least four digits.
func FormatLabel(v uint64) Label {
	return Label(fmt.Sprintf("U+%04X", v))
}

// Value parses the label back into its numeric code point.
func (l Label) Value() (uint64, error) {
	s, ok := strings.CutPrefix(string(l), "U+")
	if !ok || s == "" {
		return 0, fmt.Errorf("codepoint: malformed label %q", string(l))
	}
	return strconv.ParseUint(s, 16, 64)
}

func (l Label) String() string { return string(l) }

// Outcome is what a strategy decided for a tail.
type Outcome int

const (
	// Next means the strategy did not apply; the next strategy runs.
	Next Outcome = iota
	// Match means the strategy produced the label.
	Match
	// Stop means extraction fails without consulting later strategies.
	Stop
)

func (o Outcome) String() string {
	switch o {
	case Match:
		return "match"
	case Stop:
		return "stop"
	default:
		return "next"
	}
}

// Attempt records what a single strategy did.
type Attempt struct {
	Strategy string
	Outcome  Outcome
	Detail   string
}

// Result is the full trace of one extraction.
type Result struct {
	URL      string
	Tail     string
	Label    Label
	OK       bool
	Attempts []Attempt
}

// Extract returns the code point label for url, or false when none of the
// strategies yields one.
func Extract(url string) (Label, bool) {
	r := Explain(url)
	return r.Label, r.OK
}

// Explain runs the default strategies against url and returns the trace.
func Explain(url string) Result {
	return DefaultStrategies().Explain(url)
}

// Tail returns the last "/"-delimited segment of url after trailing slashes
// are trimmed. It returns "" when there is no such segment.
func Tail(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}
