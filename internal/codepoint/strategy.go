package codepoint

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var reHexLiteral = regexp.MustCompile(`0x([0-9A-Fa-f]+)`)

var errInvalidUTF8 = errors.New("decoded bytes are not valid UTF-8")

// Strategy inspects a URL tail. Detail is free text for diagnostics.
type Strategy struct {
	Name string
	Fn   func(tail string) (label Label, outcome Outcome, detail string)
}

// Strategies is an ordered strategy list.
type Strategies []Strategy

// DefaultStrategies returns the extraction order used for CHISE URLs:
// hex literal, percent-sign gate, standard percent-decoding, then manual
// byte reconstruction. A hex literal always wins over percent escapes.
func DefaultStrategies() Strategies {
	return Strategies{
		{Name: "hex_literal", Fn: HexLiteral},
		{Name: "require_percent", Fn: RequirePercent},
		{Name: "percent_decode", Fn: PercentDecode},
		{Name: "manual_bytes", Fn: ManualBytes},
	}
}

// Explain evaluates the strategies in order against the tail of rawURL.
func (ss Strategies) Explain(rawURL string) (res Result) {
	res.URL = rawURL
	res.Tail = Tail(rawURL)
	if res.Tail == "" {
		res.Attempts = append(res.Attempts, Attempt{Strategy: "tail", Outcome: Stop, Detail: "empty tail"})
		return res
	}

	for _, s := range ss {
		label, outcome, detail := runStrategy(s, res.Tail)
		res.Attempts = append(res.Attempts, Attempt{Strategy: s.Name, Outcome: outcome, Detail: detail})
		switch outcome {
		case Match:
			res.Label = label
			res.OK = true
			return res
		case Stop:
			return res
		}
	}
	return res
}

// runStrategy converts a panic inside a strategy into a Stop outcome.
func runStrategy(s Strategy, tail string) (label Label, outcome Outcome, detail string) {
	defer func() {
		if p := recover(); p != nil {
			label, outcome, detail = "", Stop, fmt.Sprintf("panic: %v", p)
		}
	}()
	return s.Fn(tail)
}

// HexLiteral matches the first "0x<hex digits>" substring. A literal that
// cannot be parsed (for example, one that overflows 64 bits) falls through.
func HexLiteral(tail string) (Label, Outcome, string) {
	m := reHexLiteral.FindStringSubmatch(tail)
	if m == nil {
		return "", Next, "no 0x literal"
	}
	v, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		return "", Next, fmt.Sprintf("0x%s: %v", m[1], err)
	}
	return FormatLabel(v), Match, "0x" + m[1]
}

// RequirePercent stops extraction when the tail carries no percent escapes.
func RequirePercent(tail string) (Label, Outcome, string) {
	if !strings.Contains(tail, "%") {
		return "", Stop, "no percent escapes"
	}
	return "", Next, ""
}

// PercentDecode applies standard percent-decoding and reads the bytes as
// UTF-8. A decode error falls through to ManualBytes; an empty result stops.
func PercentDecode(tail string) (Label, Outcome, string) {
	s, err := decodePercent(tail)
	if err != nil {
		return "", Next, err.Error()
	}
	if s == "" {
		return "", Stop, "decoded to empty string"
	}
	return firstRune(s)
}

// ManualBytes rebuilds the byte sequence from every "%XX" pair, ignoring any
// characters that follow the two hex digits, and decodes it as UTF-8.
func ManualBytes(tail string) (Label, Outcome, string) {
	b, err := percentBytes(tail)
	if err != nil {
		return "", Stop, err.Error()
	}
	if len(b) == 0 {
		return "", Stop, "no byte pairs"
	}
	if !utf8.Valid(b) {
		return "", Stop, errInvalidUTF8.Error()
	}
	return firstRune(string(b))
}

func decodePercent(tail string) (string, error) {
	s, err := url.PathUnescape(tail)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(s) {
		return "", errInvalidUTF8
	}
	return s, nil
}

func percentBytes(tail string) ([]byte, error) {
	parts := strings.Split(tail, "%")[1:]
	out := make([]byte, 0, len(parts))
	for _, p := range parts {
		if len(p) < 2 {
			continue
		}
		v, err := strconv.ParseUint(p[:2], 16, 8)
		if err != nil {
			return nil, fmt.Errorf("byte %q: %w", p[:2], err)
		}
		out = append(out, byte(v))
	}
	return out, nil
}

// firstRune labels the first character of s. Only the first character is
// used even when the payload encodes several.
func firstRune(s string) (Label, Outcome, string) {
	r, _ := utf8.DecodeRuneInString(s)
	detail := fmt.Sprintf("char %q", r)
	if n := utf8.RuneCountInString(s); n > 1 {
		detail += fmt.Sprintf(" (truncated, payload has %d chars)", n)
	}
	return FormatLabel(uint64(r)), Match, detail
}
