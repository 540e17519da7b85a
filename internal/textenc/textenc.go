// Package textenc decodes and encodes whole text documents against an ordered
// list of candidate character encodings.
//
// Decoding is strict: a candidate only succeeds when it maps every input byte
// to a real character. x/text decoders substitute U+FFFD for bad input instead
// of failing, so each decode is checked for replacement characters that the
// source did not literally contain.
package textenc

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNoEncoding is returned when none of the candidates decodes the input.
var ErrNoEncoding = errors.New("textenc: no candidate encoding decoded the input")

// ErrUnknownEncoding is returned for names that are not supported.
var ErrUnknownEncoding = errors.New("textenc: unknown encoding")

// DefaultDecodeOrder is the document preference order: UTF-16 with BOM
// detection first, then the explicit endian forms, UTF-8 and Shift_JIS.
// Without a BOM, utf-16 reads little endian, so an even-length UTF-8 file
// with no BOM decodes as UTF-16 text. Put utf-8 first in replace.encodings
// when the documents are known to be UTF-8.
var DefaultDecodeOrder = []string{"utf-16", "utf-16le", "utf-16be", "utf-8", "shift_jis"}

// DefaultEncodeOrder writes UTF-16 (BOM, little endian) and falls back to UTF-8.
var DefaultEncodeOrder = []string{"utf-16", "utf-8"}

const replacementChar = "\uFFFD"

var named = map[string]encoding.Encoding{
	"utf-8":       unicode.UTF8,
	"utf-8-sig":   unicode.UTF8BOM,
	"utf-16":      unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16le":    unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
	"utf-16be":    unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	"shift_jis":   japanese.ShiftJIS,
	"euc-jp":      japanese.EUCJP,
	"iso-2022-jp": japanese.ISO2022JP,
}

var aliases = map[string]string{
	"utf8":        "utf-8",
	"utf_8":       "utf-8",
	"utf-8-bom":   "utf-8-sig",
	"utf16":       "utf-16",
	"utf_16":      "utf-16",
	"utf-16-le":   "utf-16le",
	"utf_16_le":   "utf-16le",
	"utf-16-be":   "utf-16be",
	"utf_16_be":   "utf-16be",
	"shift-jis":   "shift_jis",
	"sjis":        "shift_jis",
	"cp932":       "shift_jis",
	"ms932":       "shift_jis",
	"windows-31j": "shift_jis",
	"eucjp":       "euc-jp",
	"euc_jp":      "euc-jp",
}

// Canonical returns the canonical spelling of name, or "" when unsupported.
func Canonical(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if a, ok := aliases[n]; ok {
		n = a
	}
	if _, ok := named[n]; ok {
		return n
	}
	if _, err := htmlindex.Get(n); err == nil {
		return n
	}
	return ""
}

func lookup(name string) (encoding.Encoding, string, error) {
	n := Canonical(name)
	if n == "" {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	if e, ok := named[n]; ok {
		return e, n, nil
	}
	e, err := htmlindex.Get(n)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	return e, n, nil
}

// Decode decodes b strictly with the named encoding.
func Decode(b []byte, name string) (string, error) {
	e, n, err := lookup(name)
	if err != nil {
		return "", err
	}

	switch n {
	case "utf-8", "utf-8-sig":
		if !utf8.Valid(b) {
			return "", fmt.Errorf("%s: invalid byte sequence", n)
		}
	case "utf-16", "utf-16le", "utf-16be":
		if len(b)%2 != 0 {
			return "", fmt.Errorf("%s: odd byte length %d", n, len(b))
		}
	}

	out, _, err := transform.Bytes(e.NewDecoder(), b)
	if err != nil {
		return "", fmt.Errorf("%s: %w", n, err)
	}

	if got := bytes.Count(out, []byte(replacementChar)); got > 0 {
		if got > literalReplacements(e, b) {
			return "", fmt.Errorf("%s: invalid byte sequence", n)
		}
	}
	return string(out), nil
}

// literalReplacements counts U+FFFD characters that the source encodes on
// purpose. Encodings that cannot represent U+FFFD report zero.
func literalReplacements(e encoding.Encoding, src []byte) int {
	enc, err := e.NewEncoder().Bytes([]byte(replacementChar))
	if err != nil || len(enc) == 0 {
		return 0
	}
	// A BOM-writing encoder prefixes its output; only the character matters.
	if len(enc) > 2 && (bytes.HasPrefix(enc, []byte{0xFF, 0xFE}) || bytes.HasPrefix(enc, []byte{0xFE, 0xFF})) {
		enc = enc[2:]
	}
	return bytes.Count(src, enc)
}

// DecodeFirst tries each candidate in order and returns the text together with
// the encoding that decoded it. When all candidates fail the returned error
// wraps ErrNoEncoding and lists every attempt.
func DecodeFirst(b []byte, candidates []string) (string, string, error) {
	if len(candidates) == 0 {
		candidates = DefaultDecodeOrder
	}
	var errs []error
	for _, c := range candidates {
		s, err := Decode(b, c)
		if err == nil {
			return s, Canonical(c), nil
		}
		errs = append(errs, err)
	}
	return "", "", fmt.Errorf("%w: %w", ErrNoEncoding, errors.Join(errs...))
}

// Encode encodes s with the named encoding. Characters the encoding cannot
// represent are an error.
func Encode(s, name string) ([]byte, error) {
	e, n, err := lookup(name)
	if err != nil {
		return nil, err
	}
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%s: input is not valid UTF-8", n)
	}
	out, _, err := transform.Bytes(e.NewEncoder(), []byte(s))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", n, err)
	}
	return out, nil
}

// EncodeFirst encodes s with the first candidate that can represent it.
func EncodeFirst(s string, candidates []string) ([]byte, string, error) {
	if len(candidates) == 0 {
		candidates = DefaultEncodeOrder
	}
	var errs []error
	for _, c := range candidates {
		b, err := Encode(s, c)
		if err == nil {
			return b, Canonical(c), nil
		}
		errs = append(errs, err)
	}
	return nil, "", fmt.Errorf("textenc: no candidate encoding can represent the text: %w", errors.Join(errs...))
}

// Document is a decoded text file.
type Document struct {
	Path     string
	Text     string
	Encoding string
	Size     int
}

// ReadFile loads path and decodes it with the first working candidate.
func ReadFile(path string, candidates []string) (Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Document{}, err
	}
	text, enc, err := DecodeFirst(b, candidates)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return Document{Path: path, Text: text, Encoding: enc, Size: len(b)}, nil
}
