// Package glyph inspects the glyph column of the gaiji table.
package glyph

import (
	"fmt"
	"strings"

	"gaiji/internal/codepoint"
)

// DefaultSample is the number of non-empty values Probe inspects.
const DefaultSample = 5

// SuspectFrom is the first code point treated as suspicious. Glyph columns
// that were mangled by a font substitution tend to surface as supplementary
// ideographs (CJK Extension B and later).
const SuspectFrom = 0x20000

// Finding is the result of Probe.
type Finding struct {
	Sampled []string
	Suspect bool
	Value   string // sampled value holding the suspect rune
	Rune    rune
	Label   codepoint.Label
}

func (f Finding) String() string {
	if !f.Suspect {
		return fmt.Sprintf("%d values sampled, no suspect characters", len(f.Sampled))
	}
	return fmt.Sprintf("suspect character %q (%s) in %q", f.Rune, f.Label, f.Value)
}

// Probe looks at the first sample non-empty values and reports the first
// rune at or above SuspectFrom. A sample <= 0 means DefaultSample.
func Probe(values []string, sample int) Finding {
	if sample <= 0 {
		sample = DefaultSample
	}

	var f Finding
	for _, v := range values {
		if len(f.Sampled) == sample {
			break
		}
		if strings.TrimSpace(v) == "" {
			continue
		}
		f.Sampled = append(f.Sampled, v)
		if f.Suspect {
			continue
		}
		for _, r := range v {
			if r >= SuspectFrom {
				f.Suspect = true
				f.Value = v
				f.Rune = r
				f.Label = codepoint.FormatLabel(uint64(r))
				break
			}
		}
	}
	return f
}
