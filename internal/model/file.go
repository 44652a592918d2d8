// Package model contains the struct definitions shared across packages: the
// uploaded file record, its import job state, and the imported product.
package model

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by stores when a lookup misses. Callers compare
	// with errors.Is so wrapped variants still match.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey reports a uniqueness constraint violation (content hash
	// for files, natural key for products).
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrNotCSV marks a file whose media type and extension are both
	// outside the CSV set.
	ErrNotCSV = errors.New("file is not CSV-shaped")
)

// CSVMediaTypes lists the media types accepted as CSV-shaped content.
var CSVMediaTypes = []string{"text/csv", "text/plain", "application/csv"}

// UploadedFile holds metadata about an ingested CSV file. One row exists per
// distinct content hash.
type UploadedFile struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName"`
	// ObjectKey is omitted from JSON output because it is a storage detail.
	ObjectKey   string            `json:"-"`
	Size        int64             `json:"size"`
	MediaType   string            `json:"mediaType"`
	Extension   string            `json:"extension"`
	ContentHash string            `json:"contentHash"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Processed   bool              `json:"processed"`
	Job         JobState          `json:"job"`
	UploadedAt  time.Time         `json:"uploadedAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// IsCSV reports whether the file is CSV-shaped by media type or extension.
func (f *UploadedFile) IsCSV() bool {
	return IsCSV(f.MediaType, f.Extension)
}

// IsCSV applies the CSV acceptance rule to a media type and file extension.
func IsCSV(mediaType, extension string) bool {
	mt := strings.ToLower(strings.TrimSpace(mediaType))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	for _, allowed := range CSVMediaTypes {
		if mt == allowed {
			return true
		}
	}
	return strings.EqualFold(strings.TrimPrefix(extension, "."), "csv")
}

// ExtensionOf returns the lower-cased extension of name without the dot.
func ExtensionOf(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}
