package sanitize

import (
	"bytes"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineRemovesBOMNullsAndInvalidBytes(t *testing.T) {
	raw := []byte("\xEF\xBB\xBFUNIQUE\x00_KEY\xFF\xFE,\x01TITLE\x7F")
	got := Line(raw)

	require.True(t, utf8.ValidString(got), "output must be valid UTF-8: %q", got)
	for _, r := range got {
		if unicode.IsControl(r) && r != '\t' && r != '\n' && r != '\r' {
			t.Fatalf("unexpected control character %U in %q", r, got)
		}
	}
	assert.False(t, strings.HasPrefix(got, "\uFEFF"))
	assert.Contains(t, got, "UNIQUE_KEY")
	assert.Contains(t, got, "TITLE")
}

func TestLineEncodingFallbacks(t *testing.T) {
	cases := []struct {
		name string
		raw  []byte
		want string
	}{
		{"utf8 untouched", []byte("Café crème"), "Café crème"},
		{"latin1", []byte("Caf\xe9"), "Café"},
		{"windows-1252 smart quotes", []byte("\x93Heavy\x94 Tee \x96 Navy"), "“Heavy” Tee – Navy"},
		{"undefined cp1252 byte degrades to ascii", []byte("abc\x81d\xe9"), "abcd"},
		{"utf8 with stray byte keeps utf8", []byte("Caf\xc3\xa9 \xff"), "Café"},
		{"utf8 with latin1 byte drops the byte", []byte("Crème br\xfbl\xe9e"), "Crème brle"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Line(tc.raw))
		})
	}
}

func TestLineCollapsesWhitespace(t *testing.T) {
	assert.Equal(t, "a b c", Line([]byte("  a \t\t b  c \r\n")))
	assert.Equal(t, "", Line([]byte(" \t\r\n")))
}

func TestLineIsIdempotent(t *testing.T) {
	inputs := [][]byte{
		[]byte("\xEF\xBB\xBF  KEY , TITLE "),
		[]byte("Caf\xe9\x00 \x93x\x94"),
		[]byte("plain,row,\"quoted, field\""),
	}
	for _, in := range inputs {
		once := Line(in)
		assert.Equal(t, once, String(once))
	}
}

func TestContentPreservesLineStructure(t *testing.T) {
	in := "\xEF\xBB\xBFKEY,TITLE\r\n\r\nA1,  Widget \r\nA2,Caf\xe9\n"
	var out bytes.Buffer
	lines, err := Content(strings.NewReader(in), &out)
	require.NoError(t, err)

	assert.Equal(t, 4, lines)
	assert.Equal(t, "KEY,TITLE\n\nA1, Widget\nA2,Café", out.String())
}

func TestContentEmptyInput(t *testing.T) {
	var out bytes.Buffer
	lines, err := Content(strings.NewReader(""), &out)
	require.NoError(t, err)
	assert.Zero(t, lines)
	assert.Empty(t, out.String())
}
