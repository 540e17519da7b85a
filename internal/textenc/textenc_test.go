package textenc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func utf16le(s string, bom bool) []byte {
	var out []byte
	if bom {
		out = append(out, 0xFF, 0xFE)
	}
	for _, r := range s {
		if r >= 0x10000 {
			r -= 0x10000
			hi, lo := 0xD800+(r>>10), 0xDC00+(r&0x3FF)
			out = append(out, byte(hi), byte(hi>>8), byte(lo), byte(lo>>8))
			continue
		}
		out = append(out, byte(r), byte(r>>8))
	}
	return out
}

func utf16be(s string, bom bool) []byte {
	le := utf16le(s, false)
	out := make([]byte, 0, len(le)+2)
	if bom {
		out = append(out, 0xFE, 0xFF)
	}
	for i := 0; i+1 < len(le); i += 2 {
		out = append(out, le[i+1], le[i])
	}
	return out
}

func TestDecode_UTF16Variants(t *testing.T) {
	t.Parallel()

	const text = `本文<tmc code="TMC001"/>𠮟`

	tests := []struct {
		name string
		enc  string
		in   []byte
	}{
		{name: "bom_le", enc: "utf-16", in: utf16le(text, true)},
		{name: "bom_be", enc: "utf-16", in: utf16be(text, true)},
		{name: "no_bom_defaults_le", enc: "utf-16", in: utf16le(text, false)},
		{name: "explicit_le", enc: "utf-16le", in: utf16le(text, false)},
		{name: "explicit_be", enc: "UTF-16BE", in: utf16be(text, false)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := Decode(tc.in, tc.enc)
			require.NoError(t, err)
			assert.Equal(t, text, got)
		})
	}
}

func TestDecode_StrictFailures(t *testing.T) {
	t.Parallel()

	_, err := Decode([]byte{0xFF, 0xFE, 0x41}, "utf-16")
	assert.Error(t, err, "odd length")

	_, err = Decode([]byte{0x00, 0xD8, 0x41, 0x00}, "utf-16le")
	assert.Error(t, err, "unpaired surrogate")

	_, err = Decode([]byte{0xE6, 0x97}, "utf-8")
	assert.Error(t, err, "truncated utf-8")

	_, err = Decode([]byte{0x82, 0xFF}, "shift_jis")
	assert.Error(t, err, "invalid shift_jis")

	_, err = Decode([]byte("x"), "klingon")
	assert.ErrorIs(t, err, ErrUnknownEncoding)
}

// TestDecode_LiteralReplacementCharIsKept makes sure a U+FFFD that the file
// really contains is not mistaken for a decode failure.
func TestDecode_LiteralReplacementCharIsKept(t *testing.T) {
	t.Parallel()

	got, err := Decode([]byte("a\uFFFDb"), "utf-8")
	require.NoError(t, err)
	assert.Equal(t, "a\uFFFDb", got)

	got, err = Decode(utf16le("a\uFFFDb", true), "utf-16")
	require.NoError(t, err)
	assert.Equal(t, "a\uFFFDb", got)
}

func TestDecodeFirst_ReportsEncoding(t *testing.T) {
	t.Parallel()

	// Odd length rules out every UTF-16 form.
	got, enc, err := DecodeFirst([]byte("abc"), nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", got)
	assert.Equal(t, "utf-8", enc)

	sjis := []byte{0x93, 0xFA, 0x96, 0x7B} // 日本
	got, enc, err = DecodeFirst(sjis, []string{"utf-8", "sjis"})
	require.NoError(t, err)
	assert.Equal(t, "日本", got)
	assert.Equal(t, "shift_jis", enc)

	got, enc, err = DecodeFirst(utf16le("外字", true), nil)
	require.NoError(t, err)
	assert.Equal(t, "外字", got)
	assert.Equal(t, "utf-16", enc)
}

// TestDecodeFirst_DefaultOrderPrefersUTF16 pins the default order: a BOM-less
// even-length ASCII file is taken as little-endian UTF-16, and listing utf-8
// first is how a job opts out.
func TestDecodeFirst_DefaultOrderPrefersUTF16(t *testing.T) {
	t.Parallel()

	got, enc, err := DecodeFirst([]byte("ab"), DefaultDecodeOrder)
	require.NoError(t, err)
	assert.Equal(t, "utf-16", enc)
	assert.Equal(t, "\u6261", got)

	got, enc, err = DecodeFirst([]byte("ab"), []string{"utf-8", "utf-16"})
	require.NoError(t, err)
	assert.Equal(t, "utf-8", enc)
	assert.Equal(t, "ab", got)
}

func TestDecodeFirst_AllFail(t *testing.T) {
	t.Parallel()

	_, _, err := DecodeFirst([]byte{0xE6, 0x97, 0x41}, []string{"utf-8", "utf-16"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoEncoding))
	assert.Contains(t, err.Error(), "utf-8")
	assert.Contains(t, err.Error(), "utf-16")
}

func TestEncodeFirst_FallsBack(t *testing.T) {
	t.Parallel()

	b, enc, err := EncodeFirst("日本", []string{"shift_jis", "utf-8"})
	require.NoError(t, err)
	assert.Equal(t, "shift_jis", enc)
	assert.Equal(t, []byte{0x93, 0xFA, 0x96, 0x7B}, b)

	// U+20B9F has no Shift_JIS mapping.
	b, enc, err = EncodeFirst("𠮟", []string{"shift_jis", "utf-8"})
	require.NoError(t, err)
	assert.Equal(t, "utf-8", enc)
	assert.Equal(t, []byte("𠮟"), b)

	b, enc, err = EncodeFirst("☆", nil)
	require.NoError(t, err)
	assert.Equal(t, "utf-16", enc)
	assert.Equal(t, utf16le("☆", true), b)

	_, _, err = EncodeFirst("𠮟", []string{"shift_jis"})
	assert.Error(t, err)
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "doc.txt")
	require.NoError(t, os.WriteFile(p, utf16le("本文", true), 0o600))

	doc, err := ReadFile(p, nil)
	require.NoError(t, err)
	assert.Equal(t, "本文", doc.Text)
	assert.Equal(t, "utf-16", doc.Encoding)
	assert.Equal(t, 6, doc.Size)

	_, err = ReadFile(filepath.Join(dir, "missing.txt"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCanonical(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "shift_jis", Canonical("Shift-JIS"))
	assert.Equal(t, "utf-16le", Canonical("UTF_16_LE"))
	assert.Equal(t, "utf-8", Canonical(" utf8 "))
	assert.Equal(t, "", Canonical("nope"))
}
