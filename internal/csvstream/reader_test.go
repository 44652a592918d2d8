package csvstream

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, r *Reader) ([]Row, []*ParseError) {
	t.Helper()
	var rows []Row
	var perrs []*ParseError
	for {
		row, err := r.Next()
		if errors.Is(err, io.EOF) {
			return rows, perrs
		}
		var pe *ParseError
		if errors.As(err, &pe) {
			perrs = append(perrs, pe)
			continue
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
}

func TestReaderHeaderAndRows(t *testing.T) {
	content := "KEY,TITLE,PRICE\nA1,Widget,$12.50\nA2,\"Gadget, large\",3\n"
	r := NewReader(strings.NewReader(content))

	hdr, err := r.Header()
	require.NoError(t, err)
	assert.Equal(t, 1, hdr.Line)
	assert.Equal(t, []string{"KEY", "TITLE", "PRICE"}, hdr.Fields)

	rows, perrs := readAll(t, r)
	assert.Empty(t, perrs)
	require.Len(t, rows, 2)
	assert.Equal(t, Row{Line: 2, Fields: []string{"A1", "Widget", "$12.50"}}, rows[0])
	assert.Equal(t, Row{Line: 3, Fields: []string{"A2", "Gadget, large", "3"}}, rows[1])
}

func TestReaderSkipsBlankLinesButCountsThem(t *testing.T) {
	content := "\n\nKEY,TITLE\n\nA1,One\n   \n\"\"\nA2,Two"
	r := NewReader(strings.NewReader(content))

	hdr, err := r.Header()
	require.NoError(t, err)
	assert.Equal(t, 3, hdr.Line)

	rows, _ := readAll(t, r)
	require.Len(t, rows, 2)
	assert.Equal(t, 5, rows[0].Line)
	assert.Equal(t, 8, rows[1].Line)
}

func TestReaderSanitizesBeforeTokenizing(t *testing.T) {
	content := "\xEF\xBB\xBFKEY,TITLE\r\nA1,Caf\xe9\x00  Noir\r\n"
	r := NewReader(strings.NewReader(content))

	hdr, err := r.Header()
	require.NoError(t, err)
	assert.Equal(t, []string{"KEY", "TITLE"}, hdr.Fields)

	rows, _ := readAll(t, r)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"A1", "Café Noir"}, rows[0].Fields)
}

func TestReaderMultiLineQuotedField(t *testing.T) {
	content := "KEY,DESC\nA1,\"first line\nsecond line\"\nA2,plain\n"
	r := NewReader(strings.NewReader(content))

	rows, perrs := readAll(t, r)
	assert.Empty(t, perrs)
	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, []string{"A1", "first line\nsecond line"}, rows[0].Fields)
	assert.Equal(t, 4, rows[1].Line)
}

func TestReaderBareQuoteInUnquotedField(t *testing.T) {
	content := "KEY,TITLE\nA1,12\" ruler\nA2,Next\n"
	r := NewReader(strings.NewReader(content))

	rows, perrs := readAll(t, r)
	assert.Empty(t, perrs)
	require.Len(t, rows, 2)
	assert.Equal(t, "12\" ruler", rows[0].Fields[1])
	assert.Equal(t, 3, rows[1].Line)
}

func TestReaderUnterminatedQuoteIsRowLevel(t *testing.T) {
	content := "KEY,TITLE\nA1,ok\nA2,\"never closed\nA3,x\nA4,y\n"
	r := NewReader(strings.NewReader(content), WithMaxRecordLines(2))

	rows, perrs := readAll(t, r)
	require.Len(t, perrs, 1)
	assert.Equal(t, 3, perrs[0].Line)
	assert.ErrorIs(t, perrs[0], ErrUnterminatedQuote)

	require.Len(t, rows, 3)
	assert.Equal(t, Row{Line: 2, Fields: []string{"A1", "ok"}}, rows[0])
	assert.Equal(t, Row{Line: 4, Fields: []string{"A3", "x"}}, rows[1])
	assert.Equal(t, Row{Line: 5, Fields: []string{"A4", "y"}}, rows[2])
}

func TestReaderUnterminatedQuoteAtEOF(t *testing.T) {
	r := NewReader(strings.NewReader("KEY,TITLE\nA1,\"open"))
	_, perrs := readAll(t, r)
	require.Len(t, perrs, 1)
	assert.Equal(t, 2, perrs[0].Line)
}

func TestReaderReplaysLinesAfterQuoteOpenAtEOF(t *testing.T) {
	content := "KEY,TITLE,DESC\nK1,Tee,\"12\" wide\nK2,Hoodie,plain\nK3,Cap,plain\n"
	r := NewReader(strings.NewReader(content))

	rows, perrs := readAll(t, r)
	require.Len(t, perrs, 1)
	assert.Equal(t, 2, perrs[0].Line)
	assert.ErrorIs(t, perrs[0], ErrUnterminatedQuote)

	require.Len(t, rows, 2)
	assert.Equal(t, Row{Line: 3, Fields: []string{"K2", "Hoodie", "plain"}}, rows[0])
	assert.Equal(t, Row{Line: 4, Fields: []string{"K3", "Cap", "plain"}}, rows[1])
	assert.Equal(t, 4, r.Line())
}

func TestReaderSecondOpenQuoteInReplayedLines(t *testing.T) {
	content := "KEY,TITLE\nA1,\"x\" a\nA2,\"y\" b\nA3,z\n"
	r := NewReader(strings.NewReader(content), WithMaxRecordLines(3))

	rows, perrs := readAll(t, r)
	require.Len(t, perrs, 2)
	assert.Equal(t, 2, perrs[0].Line)
	assert.Equal(t, 3, perrs[1].Line)
	require.Len(t, rows, 1)
	assert.Equal(t, Row{Line: 4, Fields: []string{"A3", "z"}}, rows[0])
}

func TestReaderNoHeader(t *testing.T) {
	_, err := ReadHeader(strings.NewReader("\n \n"))
	assert.ErrorIs(t, err, ErrNoHeader)

	r := NewReader(strings.NewReader(""))
	_, err = r.Next()
	assert.ErrorIs(t, err, ErrNoHeader)
}

func TestOpenQuote(t *testing.T) {
	cases := map[string]bool{
		`a,b`:              false,
		`a,"b`:             true,
		`a,"b""c"`:         false,
		`a,"b""`:           true,
		`"a,b",c`:          false,
		`12" ruler,x`:      false,
		`a,"x" y,z`:        true,
		"a,\"line\nnext\"": false,
	}
	for in, want := range cases {
		assert.Equal(t, want, openQuote(in, ','), "openQuote(%q)", in)
	}
}
