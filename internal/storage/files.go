// Package storage contains in-memory implementations of the file, product
// and blob stores. They back the CLI's --memory mode and the package tests;
// production wiring uses internal/repository and internal/s3storage.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/dharsanguruparan/CatalogDrop/internal/model"
)

// MemoryFiles is an in-memory uploaded-file table with a unique index on
// the content hash. RWMutex lets status reads proceed in parallel.
type MemoryFiles struct {
	mu     sync.RWMutex
	byID   map[string]*model.UploadedFile
	byHash map[string]string
	now    func() time.Time
}

// NewMemoryFiles constructs an empty table.
func NewMemoryFiles() *MemoryFiles {
	return &MemoryFiles{
		byID:   make(map[string]*model.UploadedFile),
		byHash: make(map[string]string),
		now:    time.Now,
	}
}

// CreateOrGet inserts f unless a row with the same content hash exists, in
// which case that row is returned and created is false.
func (m *MemoryFiles) CreateOrGet(_ context.Context, f *model.UploadedFile) (*model.UploadedFile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byHash[f.ContentHash]; ok {
		return copyFile(m.byID[id]), false, nil
	}
	rec := copyFile(f)
	now := m.now().UTC()
	if rec.UploadedAt.IsZero() {
		rec.UploadedAt = now
	}
	rec.UpdatedAt = now
	m.byID[rec.ID] = rec
	m.byHash[rec.ContentHash] = rec.ID
	return copyFile(rec), true, nil
}

// FindByHash returns the row for a content hash.
func (m *MemoryFiles) FindByHash(_ context.Context, hash string) (*model.UploadedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byHash[hash]
	if !ok {
		return nil, model.ErrNotFound
	}
	return copyFile(m.byID[id]), nil
}

// Get returns a copy of the row so callers cannot mutate internal state.
func (m *MemoryFiles) Get(_ context.Context, id string) (*model.UploadedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.byID[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return copyFile(rec), nil
}

// UpdateJob replaces the job state, processed flag and update time together.
func (m *MemoryFiles) UpdateJob(_ context.Context, id string, state model.JobState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byID[id]
	if !ok {
		return model.ErrNotFound
	}
	rec.Job = state
	rec.Processed = state.Status() == model.StatusCompleted
	rec.UpdatedAt = m.now().UTC()
	return nil
}

// List returns up to limit rows, newest upload first.
func (m *MemoryFiles) List(_ context.Context, limit int) ([]*model.UploadedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*model.UploadedFile, 0, len(m.byID))
	for _, rec := range m.byID {
		out = append(out, copyFile(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored rows.
func (m *MemoryFiles) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

func copyFile(f *model.UploadedFile) *model.UploadedFile {
	c := *f
	if f.Metadata != nil {
		c.Metadata = make(map[string]string, len(f.Metadata))
		for k, v := range f.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
