// Package upsert performs idempotent create-or-update of products keyed by
// their natural key and reports whether a material change happened.
package upsert

import (
	"context"
	"errors"
	"fmt"

	"github.com/dharsanguruparan/CatalogDrop/internal/model"
)

// Outcome classifies one upsert for result accounting.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unchanged"
	}
}

// Changed reports whether the business fields were written.
func (o Outcome) Changed() bool { return o != Unchanged }

// ErrNoNaturalKey is returned when Upsert is called without a key. It is a
// caller defect, not a data problem: rows without keys never reach Upsert.
var ErrNoNaturalKey = errors.New("upsert: natural key is required")

// PersistenceError wraps a storage failure for a single product.
type PersistenceError struct {
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist product %s: %v", e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store is the product persistence the engine drives. Find returns
// model.ErrNotFound on a miss; Insert returns model.ErrDuplicateKey when the
// key already exists.
type Store interface {
	Find(ctx context.Context, key string) (*model.Product, error)
	Insert(ctx context.Context, p *model.Product) error
	Update(ctx context.Context, p *model.Product) error
}

// Engine applies the create/update/skip rules on top of a Store.
type Engine struct {
	store Store
}

// New constructs an Engine.
func New(store Store) *Engine {
	return &Engine{store: store}
}

// Upsert writes p with provenance prov. A missing key is inserted
// (Created). An existing key is fully replaced; the outcome is Updated when
// any business field differs and Unchanged otherwise, in which case only the
// provenance actually changes.
func (e *Engine) Upsert(ctx context.Context, p model.Product, prov model.Provenance) (Outcome, error) {
	if p.UniqueKey == "" {
		return Unchanged, ErrNoNaturalKey
	}
	p.Provenance = prov

	existing, err := e.store.Find(ctx, p.UniqueKey)
	switch {
	case errors.Is(err, model.ErrNotFound):
		err = e.store.Insert(ctx, &p)
		if err == nil {
			return Created, nil
		}
		if !errors.Is(err, model.ErrDuplicateKey) {
			return Unchanged, &PersistenceError{Key: p.UniqueKey, Err: err}
		}
		// Another run inserted the key first; fall through to the update path.
		existing, err = e.store.Find(ctx, p.UniqueKey)
		if err != nil {
			return Unchanged, &PersistenceError{Key: p.UniqueKey, Err: err}
		}
	case err != nil:
		return Unchanged, &PersistenceError{Key: p.UniqueKey, Err: err}
	}

	outcome := Updated
	if existing.SameFields(p) {
		outcome = Unchanged
	}
	if err := e.store.Update(ctx, &p); err != nil {
		return Unchanged, &PersistenceError{Key: p.UniqueKey, Err: err}
	}
	return outcome, nil
}
