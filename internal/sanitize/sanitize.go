// Package sanitize cleans raw CSV bytes into well-formed, printable UTF-8.
//
// The same functions are applied at intake (before hashing) and by the
// stream parser (before tokenizing), so the content hash and the parse always
// see identical text. Every function here is pure and never fails: the worst
// case is ASCII-only output.
package sanitize

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// candidates is the prioritized list of legacy encodings tried when a line
// is not valid UTF-8. ASCII is the final fallback and is handled by asciiOnly.
var candidates = []*charmap.Charmap{
	charmap.ISO8859_1,
	charmap.Windows1252,
}

// Line sanitizes one raw line: strips the BOM, repairs the encoding, removes
// control characters other than tab/LF/CR, collapses whitespace and trims.
func Line(raw []byte) string {
	raw = bytes.TrimPrefix(raw, utf8BOM)
	return clean(decode(raw))
}

// String is Line for text that is already held as a string.
func String(s string) string {
	return Line([]byte(s))
}

// decode keeps UTF-8 text when raw holds any valid multi-byte sequence,
// dropping only the stray bytes. Otherwise it returns the first candidate
// decoding that is well-formed UTF-8 free of C1 controls. A Latin-1 decode
// maps 0x80-0x9F to C1 controls, which is how text really written in
// Windows-1252 falls through to it.
func decode(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	if kept := strings.ToValidUTF8(string(raw), ""); hasMultiByte(kept) {
		return kept
	}
	for _, cm := range candidates {
		if out, ok := tryDecode(cm.NewDecoder(), raw); ok {
			return out
		}
	}
	return asciiOnly(raw)
}

func hasMultiByte(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return true
		}
	}
	return false
}

func tryDecode(dec *encoding.Decoder, raw []byte) (string, bool) {
	out, err := dec.Bytes(raw)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	for _, r := range string(out) {
		if r >= 0x80 && r <= 0x9F {
			return "", false
		}
		if r == utf8.RuneError {
			return "", false
		}
	}
	return string(out), true
}

func asciiOnly(raw []byte) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		if c < utf8.RuneSelf {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// clean drops invalid sequences and control characters, then collapses
// whitespace runs to one space and trims.
func clean(s string) string {
	s = strings.ToValidUTF8(s, "")
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case r == '\uFEFF':
			continue
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case unicode.IsControl(r):
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// Content sanitizes r line by line and writes the sanitized lines to w
// joined by "\n". Line count and order are preserved, including blank lines,
// so physical line numbers in error reports match the uploaded file. It
// returns the number of lines written.
func Content(r io.Reader, w io.Writer) (int, error) {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	lines := 0
	for {
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			if lines > 0 {
				if err := bw.WriteByte('\n'); err != nil {
					return lines, err
				}
			}
			if _, werr := bw.WriteString(Line(raw)); werr != nil {
				return lines, werr
			}
			lines++
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return lines, err
		}
	}
	return lines, bw.Flush()
}
