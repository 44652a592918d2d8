// Package schema declares how CSV headers map onto product fields, checks
// headers against the required set, and turns data rows into products.
package schema

import (
	"fmt"
	"strings"
)

// Field names a product attribute a CSV column can feed.
type Field string

const (
	FieldUniqueKey      Field = "unique_key"
	FieldTitle          Field = "product_title"
	FieldDescription    Field = "product_description"
	FieldStyleNumber    Field = "style_number"
	FieldMainframeColor Field = "sanmar_mainframe_color"
	FieldSize           Field = "size"
	FieldColorName      Field = "color_name"
	FieldPiecePrice     Field = "piece_price"
)

var knownFields = map[Field]bool{
	FieldUniqueKey:      true,
	FieldTitle:          true,
	FieldDescription:    true,
	FieldStyleNumber:    true,
	FieldMainframeColor: true,
	FieldSize:           true,
	FieldColorName:      true,
	FieldPiecePrice:     true,
}

// Column binds one CSV header name to a product field.
type Column struct {
	Header string
	Field  Field
}

// Mapping is the explicit header-name to field table used for an import.
// It must contain exactly one column for the natural key and one for the title.
type Mapping []Column

// ProductMapping is the default table for product catalog exports.
var ProductMapping = Mapping{
	{Header: "UNIQUE_KEY", Field: FieldUniqueKey},
	{Header: "PRODUCT_TITLE", Field: FieldTitle},
	{Header: "PRODUCT_DESCRIPTION", Field: FieldDescription},
	{Header: "STYLE#", Field: FieldStyleNumber},
	{Header: "SANMAR_MAINFRAME_COLOR", Field: FieldMainframeColor},
	{Header: "SIZE", Field: FieldSize},
	{Header: "COLOR_NAME", Field: FieldColorName},
	{Header: "PIECE_PRICE", Field: FieldPiecePrice},
}

// ParseMapping reads a table written as "HEADER=field,HEADER=field".
func ParseMapping(table string) (Mapping, error) {
	var m Mapping
	for _, pair := range strings.Split(table, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		header, field, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("field map entry %q: want HEADER=field", pair)
		}
		m = append(m, Column{Header: strings.TrimSpace(header), Field: Field(strings.TrimSpace(field))})
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the table is usable for an import.
func (m Mapping) Validate() error {
	seen := make(map[Field]string, len(m))
	headers := make(map[string]bool, len(m))
	for _, c := range m {
		if c.Header == "" {
			return fmt.Errorf("field map: empty header for %s", c.Field)
		}
		if !knownFields[c.Field] {
			return fmt.Errorf("field map: unknown field %q", c.Field)
		}
		if prev, dup := seen[c.Field]; dup {
			return fmt.Errorf("field map: %s mapped from both %s and %s", c.Field, prev, c.Header)
		}
		if headers[c.Header] {
			return fmt.Errorf("field map: header %s mapped twice", c.Header)
		}
		seen[c.Field] = c.Header
		headers[c.Header] = true
	}
	if _, ok := seen[FieldUniqueKey]; !ok {
		return fmt.Errorf("field map: no column for %s", FieldUniqueKey)
	}
	if _, ok := seen[FieldTitle]; !ok {
		return fmt.Errorf("field map: no column for %s", FieldTitle)
	}
	return nil
}

// HeaderFor returns the CSV header feeding field, or "".
func (m Mapping) HeaderFor(f Field) string {
	for _, c := range m {
		if c.Field == f {
			return c.Header
		}
	}
	return ""
}

// Required returns the headers every file must carry: natural key first,
// then title.
func (m Mapping) Required() []string {
	return []string{m.HeaderFor(FieldUniqueKey), m.HeaderFor(FieldTitle)}
}
