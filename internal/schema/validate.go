package schema

import (
	"strings"

	"github.com/dharsanguruparan/CatalogDrop/internal/sanitize"
)

// HeaderError rejects a file whose header lacks required columns.
type HeaderError struct {
	Missing []string
}

func (e *HeaderError) Error() string {
	return "missing required CSV headers: " + strings.Join(e.Missing, ", ")
}

// CleanHeader sanitizes and trims each header cell.
func CleanHeader(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = sanitize.String(f)
	}
	return out
}

// Missing returns the entries of required absent from header, in the order
// of required. Matching is exact (case-sensitive) on cleaned header text and
// ignores column order.
func Missing(header, required []string) []string {
	present := make(map[string]bool, len(header))
	for _, h := range CleanHeader(header) {
		present[h] = true
	}
	var missing []string
	for _, r := range required {
		if !present[r] {
			missing = append(missing, r)
		}
	}
	return missing
}

// CheckHeader returns a *HeaderError when header lacks a column the mapping
// requires.
func (m Mapping) CheckHeader(header []string) error {
	if missing := Missing(header, m.Required()); len(missing) > 0 {
		return &HeaderError{Missing: missing}
	}
	return nil
}
