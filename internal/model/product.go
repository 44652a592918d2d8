package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the record imported from CSV rows. UniqueKey is the natural key
// and never changes once stored.
type Product struct {
	UniqueKey      string              `json:"uniqueKey"`
	Title          string              `json:"productTitle"`
	Description    *string             `json:"productDescription,omitempty"`
	StyleNumber    *string             `json:"styleNumber,omitempty"`
	MainframeColor *string             `json:"sanmarMainframeColor,omitempty"`
	Size           *string             `json:"size,omitempty"`
	ColorName      *string             `json:"colorName,omitempty"`
	PiecePrice     decimal.NullDecimal `json:"piecePrice"`

	Provenance
}

// Provenance records which import produced the product's current state. It
// is excluded from change detection.
type Provenance struct {
	OriginalFilename string         `json:"originalFilename,omitempty"`
	LastImportedAt   time.Time      `json:"lastImportedAt"`
	ImportMetadata   map[string]any `json:"importMetadata,omitempty"`
}

// SameFields reports whether the business fields of p and o are identical.
func (p Product) SameFields(o Product) bool {
	if p.UniqueKey != o.UniqueKey || p.Title != o.Title {
		return false
	}
	if !sameString(p.Description, o.Description) ||
		!sameString(p.StyleNumber, o.StyleNumber) ||
		!sameString(p.MainframeColor, o.MainframeColor) ||
		!sameString(p.Size, o.Size) ||
		!sameString(p.ColorName, o.ColorName) {
		return false
	}
	if p.PiecePrice.Valid != o.PiecePrice.Valid {
		return false
	}
	return !p.PiecePrice.Valid || p.PiecePrice.Decimal.Equal(o.PiecePrice.Decimal)
}

func sameString(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ProductStats summarizes the product table.
type ProductStats struct {
	TotalProducts    int64               `json:"totalProducts"`
	RecentlyImported int64               `json:"recentlyImported"`
	UniqueStyles     int64               `json:"uniqueStyles"`
	MinPrice         decimal.NullDecimal `json:"minPrice"`
	MaxPrice         decimal.NullDecimal `json:"maxPrice"`
	AvgPrice         decimal.NullDecimal `json:"avgPrice"`
	LastImport       *time.Time          `json:"lastImport,omitempty"`
}
