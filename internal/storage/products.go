package storage

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dharsanguruparan/CatalogDrop/internal/model"
)

// MemoryProducts is an in-memory product table keyed by natural key.
type MemoryProducts struct {
	mu   sync.RWMutex
	rows map[string]*model.Product

	// FailOn makes writes for the listed keys fail, for exercising
	// persistence error handling in tests.
	FailOn map[string]error
}

// NewMemoryProducts constructs an empty table.
func NewMemoryProducts() *MemoryProducts {
	return &MemoryProducts{rows: make(map[string]*model.Product)}
}

// Find returns the product for key.
func (m *MemoryProducts) Find(_ context.Context, key string) (*model.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.rows[key]
	if !ok {
		return nil, model.ErrNotFound
	}
	c := *p
	return &c, nil
}

// Insert adds p; the key must not exist yet.
func (m *MemoryProducts) Insert(_ context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOn[p.UniqueKey]; err != nil {
		return err
	}
	if _, ok := m.rows[p.UniqueKey]; ok {
		return model.ErrDuplicateKey
	}
	c := *p
	m.rows[p.UniqueKey] = &c
	return nil
}

// Update replaces every field of an existing product.
func (m *MemoryProducts) Update(_ context.Context, p *model.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.FailOn[p.UniqueKey]; err != nil {
		return err
	}
	if _, ok := m.rows[p.UniqueKey]; !ok {
		return model.ErrNotFound
	}
	c := *p
	m.rows[p.UniqueKey] = &c
	return nil
}

// Len returns the number of stored products.
func (m *MemoryProducts) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rows)
}

// Stats summarizes the table; recent is the window for RecentlyImported.
func (m *MemoryProducts) Stats(_ context.Context, recent time.Duration) (model.ProductStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var st model.ProductStats
	styles := make(map[string]bool)
	cutoff := time.Now().Add(-recent)
	var sum decimal.Decimal
	priced := 0
	for _, p := range m.rows {
		st.TotalProducts++
		if p.LastImportedAt.After(cutoff) {
			st.RecentlyImported++
		}
		if st.LastImport == nil || p.LastImportedAt.After(*st.LastImport) {
			t := p.LastImportedAt
			st.LastImport = &t
		}
		if p.StyleNumber != nil {
			styles[*p.StyleNumber] = true
		}
		if !p.PiecePrice.Valid {
			continue
		}
		price := p.PiecePrice.Decimal
		if !st.MinPrice.Valid || price.LessThan(st.MinPrice.Decimal) {
			st.MinPrice = decimal.NewNullDecimal(price)
		}
		if !st.MaxPrice.Valid || price.GreaterThan(st.MaxPrice.Decimal) {
			st.MaxPrice = decimal.NewNullDecimal(price)
		}
		sum = sum.Add(price)
		priced++
	}
	st.UniqueStyles = int64(len(styles))
	if priced > 0 {
		st.AvgPrice = decimal.NewNullDecimal(sum.Div(decimal.NewFromInt(int64(priced))).Round(2))
	}
	return st, nil
}
