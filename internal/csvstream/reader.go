// Package csvstream reads CSV content one physical line at a time with
// bounded memory. Each physical line is sanitized before it is tokenized, the
// first non-blank record is the header, and every row carries the physical
// line number it started on so errors point at the uploaded file's layout.
//
// Quoted fields may span lines. While a record ends inside an open quoted
// field the next physical line is appended; the number of lines one record
// may span is capped (WithMaxRecordLines). A quote still open at the cap or
// at EOF fails only the line it opened on; the lines read past it are
// tokenized again as records of their own.
package csvstream

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dharsanguruparan/CatalogDrop/internal/sanitize"
)

const defaultMaxRecordLines = 64

var (
	// ErrNoHeader is returned when the content has no non-blank record.
	ErrNoHeader = errors.New("csv has no header row")
	// ErrUnterminatedQuote marks a quoted field that never closed.
	ErrUnterminatedQuote = errors.New("unterminated quoted field")
)

// physLine is a sanitized physical line and its 1-based number.
type physLine struct {
	n    int
	text string
}

// Row is one tokenized record. Line is the physical line it started on.
type Row struct {
	Line   int
	Fields []string
}

// ParseError is a recoverable error confined to one record. Reading can
// continue with the next call to Next.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Option customizes a Reader.
type Option func(*Reader)

// WithComma sets the field delimiter (default ',').
func WithComma(c rune) Option {
	return func(r *Reader) { r.comma = c }
}

// WithMaxRecordLines caps how many physical lines one record may span.
func WithMaxRecordLines(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxRecordLines = n
		}
	}
}

// Reader is a single-pass CSV row source. It is not safe for concurrent use
// and cannot be rewound; re-open the underlying content to read it again.
type Reader struct {
	br             *bufio.Reader
	comma          rune
	maxRecordLines int

	line       int
	pending    []physLine
	header     *Row
	headerErr  error
	headerDone bool
}

// NewReader wraps r.
func NewReader(r io.Reader, opts ...Option) *Reader {
	rd := &Reader{
		br:             bufio.NewReader(r),
		comma:          ',',
		maxRecordLines: defaultMaxRecordLines,
	}
	for _, opt := range opts {
		opt(rd)
	}
	return rd
}

// Header returns the first non-blank record. It is read once; later calls
// return the same row.
func (r *Reader) Header() (Row, error) {
	if !r.headerDone {
		r.headerDone = true
		row, err := r.record()
		switch {
		case errors.Is(err, io.EOF):
			r.headerErr = ErrNoHeader
		case err != nil:
			r.headerErr = err
		default:
			r.header = &row
		}
	}
	if r.headerErr != nil {
		return Row{}, r.headerErr
	}
	return *r.header, nil
}

// Next returns the next data row, io.EOF at the end of the content, a
// *ParseError for a malformed record, or any other error for I/O failures.
func (r *Reader) Next() (Row, error) {
	if _, err := r.Header(); err != nil {
		return Row{}, err
	}
	return r.record()
}

// Line returns the number of physical lines read from the input so far,
// including any held back after an unterminated quote.
func (r *Reader) Line() int { return r.line }

// ReadHeader reads only as far as the header row of content.
func ReadHeader(content io.Reader, opts ...Option) (Row, error) {
	return NewReader(content, opts...).Header()
}

// readLine returns the next physical line, replaying pushed-back lines
// before reading more input.
func (r *Reader) readLine() (physLine, error) {
	if len(r.pending) > 0 {
		pl := r.pending[0]
		r.pending = r.pending[1:]
		return pl, nil
	}
	raw, err := r.br.ReadBytes('\n')
	if len(raw) == 0 && err != nil {
		return physLine{}, err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return physLine{}, err
	}
	r.line++
	return physLine{n: r.line, text: sanitize.Line(raw)}, nil
}

// unterminated fails the record opened by spanned[0] and queues the lines
// after it to be read again.
func (r *Reader) unterminated(spanned []physLine) error {
	r.pending = append(append([]physLine(nil), spanned[1:]...), r.pending...)
	return &ParseError{Line: spanned[0].n, Err: ErrUnterminatedQuote}
}

func (r *Reader) record() (Row, error) {
	for {
		first, err := r.readLine()
		if err != nil {
			return Row{}, err
		}
		start := first.n
		text := first.text
		spanned := []physLine{first}
		for openQuote(text, r.comma) {
			if len(spanned) >= r.maxRecordLines {
				return Row{}, r.unterminated(spanned)
			}
			next, err := r.readLine()
			if errors.Is(err, io.EOF) {
				return Row{}, r.unterminated(spanned)
			}
			if err != nil {
				return Row{}, err
			}
			text += "\n" + next.text
			spanned = append(spanned, next)
		}
		fields, err := r.tokenize(text)
		if err != nil {
			return Row{}, &ParseError{Line: start, Err: err}
		}
		if len(fields) == 1 && strings.TrimSpace(fields[0]) == "" {
			continue
		}
		return Row{Line: start, Fields: fields}, nil
	}
}

func (r *Reader) tokenize(text string) ([]string, error) {
	if text == "" {
		return []string{""}, nil
	}
	cr := csv.NewReader(strings.NewReader(text))
	cr.Comma = r.comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1
	fields, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []string{""}, nil
	}
	return fields, err
}

// openQuote reports whether text ends inside a quoted field, following the
// lazy-quote rules encoding/csv applies: a quote opens a field only at the
// field start, and inside a quoted field a quote closes it only before the
// delimiter or the end of text ("" is an escaped quote).
func openQuote(text string, comma rune) bool {
	runes := []rune(text)
	inQuotes := false
	fieldStart := true
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if !inQuotes {
			if fieldStart && c == '"' {
				inQuotes = true
				fieldStart = false
				continue
			}
			fieldStart = c == comma
			continue
		}
		if c != '"' {
			continue
		}
		switch {
		case i+1 < len(runes) && runes[i+1] == '"':
			i++
		case i+1 == len(runes):
			inQuotes = false
		case runes[i+1] == comma:
			inQuotes = false
			fieldStart = true
			i++
		}
	}
	return inQuotes
}
