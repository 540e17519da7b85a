package codepoint

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func percentEncode(s string) string {
	var b strings.Builder
	for _, c := range []byte(s) {
		fmt.Fprintf(&b, "%%%02X", c)
	}
	return b.String()
}

func TestExtract_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		url    string
		want   Label
		wantOK bool
	}{
		{name: "hex_literal_after_label", url: "https://www.chise.org/est/view/character/U+897F.0x897F", want: "U+897F", wantOK: true},
		{name: "percent_utf8", url: "https://www.chise.org/est/view/character/%E6%97%A5", want: "U+65E5", wantOK: true},
		{name: "bare_tail", url: "%E6%97%A5", want: "U+65E5", wantOK: true},
		{name: "trailing_slashes_trimmed", url: "http://example.org/x/%E6%97%A5//", want: "U+65E5", wantOK: true},
		{name: "hex_wins_over_percent", url: "http://example.org/0x41%E6%97%A5", want: "U+0041", wantOK: true},
		{name: "hex_lowercase_digits", url: "http://example.org/a.0xabcd", want: "U+ABCD", wantOK: true},
		{name: "hex_zero_padded", url: "http://example.org/0x7", want: "U+0007", wantOK: true},
		{name: "hex_supplementary", url: "http://example.org/rep.ucs@JP/0x20B9F", want: "U+20B9F", wantOK: true},
		{name: "hex_overflow_falls_through", url: "http://example.org/0x1FFFFFFFFFFFFFFFFF%E6%97%A5", want: "U+0030", wantOK: true},
		{name: "fallback_ignores_trailing_chars", url: "http://example.org/%E6%97%A5zz%", want: "U+65E5", wantOK: true},
		{name: "first_char_only", url: "http://example.org/a%41", want: "U+0061", wantOK: true},
		{name: "no_hex_no_percent", url: "http://example.org/character/abc", wantOK: false},
		{name: "empty_url", url: "", wantOK: false},
		{name: "only_slashes", url: "///", wantOK: false},
		{name: "incomplete_utf8", url: "http://example.org/%E6%97", wantOK: false},
		{name: "non_hex_escape", url: "http://example.org/%ZZ%41", wantOK: false},
		{name: "lonely_percent", url: "http://example.org/%", wantOK: false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, ok := Extract(tc.url)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.want, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestTail(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "U+897F.0x897F", Tail("https://www.chise.org/est/view/character/U+897F.0x897F"))
	assert.Equal(t, "c", Tail("a/b/c///"))
	assert.Equal(t, "plain", Tail("plain"))
	assert.Equal(t, "", Tail("/"))
	assert.Equal(t, "", Tail(""))
}

// TestExtract_HexLiteralIgnoresPercent checks that any 0x literal wins
// regardless of percent escapes sharing the tail.
func TestExtract_HexLiteralIgnoresPercent(t *testing.T) {
	t.Parallel()

	for _, v := range []uint64{0x0, 0x41, 0x3042, 0xFFFF, 0x20B9F, 0x10FFFF} {
		for _, tail := range []string{
			fmt.Sprintf("0x%X", v),
			fmt.Sprintf("%%E6%%97%%A5.0x%x", v),
			fmt.Sprintf("0x%X%%ZZ", v),
		} {
			got, ok := Extract("http://example.org/" + tail)
			require.True(t, ok, tail)
			assert.Equal(t, FormatLabel(v), got, tail)
		}
	}
}

// TestExtract_PercentRoundTrip encodes single characters as UTF-8 percent
// escapes and expects their code points back.
func TestExtract_PercentRoundTrip(t *testing.T) {
	t.Parallel()

	for _, r := range []rune{'A', 'é', '日', '西', 'ア', '𠮟', '𪚲', '\U0010FFFD'} {
		tail := percentEncode(string(r))
		got, ok := Extract("https://www.chise.org/est/view/character/" + tail)
		require.True(t, ok, tail)
		assert.Equal(t, FormatLabel(uint64(r)), got, tail)

		lower := strings.ToLower(tail)
		got, ok = Extract("https://www.chise.org/est/view/character/" + lower)
		require.True(t, ok, lower)
		assert.Equal(t, FormatLabel(uint64(r)), got, lower)
	}
}

// TestManualBytes_MatchesPercentDecode forces the manual path on tails that
// the standard decoder also accepts; both must agree.
func TestManualBytes_MatchesPercentDecode(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"日", "𠮟", "é", "日本", "ｱ"} {
		tail := percentEncode(s)

		stdLabel, stdOutcome, _ := PercentDecode(tail)
		manLabel, manOutcome, _ := ManualBytes(tail)

		require.Equal(t, Match, stdOutcome, tail)
		require.Equal(t, Match, manOutcome, tail)
		assert.Equal(t, stdLabel, manLabel, tail)
	}
}

func TestExplain_RecordsAttempts(t *testing.T) {
	t.Parallel()

	r := Explain("http://example.org/%E6%97%A5zz%")
	require.True(t, r.OK)
	assert.Equal(t, "%E6%97%A5zz%", r.Tail)

	names := make([]string, 0, len(r.Attempts))
	for _, a := range r.Attempts {
		names = append(names, a.Strategy)
	}
	assert.Equal(t, []string{"hex_literal", "require_percent", "percent_decode", "manual_bytes"}, names)
	assert.Equal(t, Next, r.Attempts[2].Outcome)
	assert.Equal(t, Match, r.Attempts[3].Outcome)

	r = Explain("http://example.org/plain")
	require.False(t, r.OK)
	require.Len(t, r.Attempts, 2)
	assert.Equal(t, Stop, r.Attempts[1].Outcome)

	r = Explain("http://example.org/a%41")
	require.True(t, r.OK)
	assert.Contains(t, r.Attempts[len(r.Attempts)-1].Detail, "truncated")
}

// TestStrategies_PanicIsFailure verifies a misbehaving strategy degrades to
// "no result" instead of crashing the batch.
func TestStrategies_PanicIsFailure(t *testing.T) {
	t.Parallel()

	ss := Strategies{
		{Name: "boom", Fn: func(string) (Label, Outcome, string) { panic("boom") }},
		{Name: "never", Fn: func(string) (Label, Outcome, string) { return "U+0041", Match, "" }},
	}

	var r Result
	require.NotPanics(t, func() { r = ss.Explain("http://example.org/x") })
	assert.False(t, r.OK)
	require.Len(t, r.Attempts, 1)
	assert.Equal(t, Stop, r.Attempts[0].Outcome)
	assert.Contains(t, r.Attempts[0].Detail, "boom")
}

func TestLabel_Value(t *testing.T) {
	t.Parallel()

	v, err := Label("U+20B9F").Value()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x20B9F), v)

	_, err = Label("20B9F").Value()
	assert.Error(t, err)

	assert.Equal(t, Label("U+0041"), FormatLabel(0x41))
	assert.Equal(t, "U+ABCDE", FormatLabel(0xABCDE).String())
}
