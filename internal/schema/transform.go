package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dharsanguruparan/CatalogDrop/internal/model"
	"github.com/dharsanguruparan/CatalogDrop/internal/sanitize"
)

var (
	// ErrRowShape matches any *RowShapeError.
	ErrRowShape = errors.New("row data does not match headers")
	// ErrMissingKey marks a row whose natural key is empty.
	ErrMissingKey = errors.New("natural key is required but empty")
	// ErrMissingRequiredField marks a row whose title is empty.
	ErrMissingRequiredField = errors.New("required field is empty")
)

// RowShapeError reports a data row whose field count differs from the header.
type RowShapeError struct {
	Header int
	Fields int
}

func (e *RowShapeError) Error() string {
	return fmt.Sprintf("%v: expected %d fields, got %d", ErrRowShape, e.Header, e.Fields)
}

func (e *RowShapeError) Is(target error) bool { return target == ErrRowShape }

// FieldError names the column behind a missing-value failure.
type FieldError struct {
	Header string
	Err    error
}

func (e *FieldError) Error() string { return e.Header + " is required but empty" }

func (e *FieldError) Unwrap() error { return e.Err }

// Binding is a Mapping resolved against one file's header, so rows can be
// transformed without looking columns up by name each time.
type Binding struct {
	mapping Mapping
	width   int
	index   map[Field]int
}

// Bind resolves the mapping's columns in header. Columns missing from the
// header yield absent values. When a header name repeats, the last column wins.
func (m Mapping) Bind(header []string) *Binding {
	cleaned := CleanHeader(header)
	pos := make(map[string]int, len(cleaned))
	for i, h := range cleaned {
		pos[h] = i
	}
	b := &Binding{mapping: m, width: len(header), index: make(map[Field]int, len(m))}
	for _, c := range m {
		if i, ok := pos[c.Header]; ok {
			b.index[c.Field] = i
		}
	}
	return b
}

// Transform cleans one data row against header. See Binding.Transform.
func (m Mapping) Transform(header, fields []string) (model.Product, error) {
	return m.Bind(header).Transform(fields)
}

// Transform maps a data row to a product. Every value is sanitized first;
// the natural key and title must be non-empty, the price is parsed leniently
// and other fields become nil when empty.
func (b *Binding) Transform(fields []string) (model.Product, error) {
	if len(fields) != b.width {
		return model.Product{}, &RowShapeError{Header: b.width, Fields: len(fields)}
	}
	var p model.Product
	key := b.value(fields, FieldUniqueKey)
	if key == "" {
		return model.Product{}, &FieldError{Header: b.mapping.HeaderFor(FieldUniqueKey), Err: ErrMissingKey}
	}
	title := b.value(fields, FieldTitle)
	if title == "" {
		return model.Product{}, &FieldError{Header: b.mapping.HeaderFor(FieldTitle), Err: ErrMissingRequiredField}
	}
	p.UniqueKey = key
	p.Title = title
	p.Description = b.optional(fields, FieldDescription)
	p.StyleNumber = b.optional(fields, FieldStyleNumber)
	p.MainframeColor = b.optional(fields, FieldMainframeColor)
	p.Size = b.optional(fields, FieldSize)
	p.ColorName = b.optional(fields, FieldColorName)
	p.PiecePrice = ParsePrice(b.value(fields, FieldPiecePrice))
	return p, nil
}

// Key returns the cleaned natural key of a row, or "" when the row would not
// transform.
func (b *Binding) Key(fields []string) string {
	p, err := b.Transform(fields)
	if err != nil {
		return ""
	}
	return p.UniqueKey
}

func (b *Binding) value(fields []string, f Field) string {
	i, ok := b.index[f]
	if !ok {
		return ""
	}
	return sanitize.String(fields[i])
}

func (b *Binding) optional(fields []string, f Field) *string {
	v := b.value(fields, f)
	if v == "" {
		return nil
	}
	return &v
}

// ParsePrice keeps digits, dots and commas, drops commas as thousands
// separators and parses the rest. Anything unparseable is a null price.
func ParsePrice(raw string) decimal.NullDecimal {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d.Round(2))
}
