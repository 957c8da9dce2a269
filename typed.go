// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package relmap

import (
	"context"
	"fmt"
)

// Typed is a generic facade over a Mapper returning concrete entity
// pointers instead of any. The underlying metadata builder must produce
// *T instances.
type Typed[T any] struct {
	m *Mapper
}

// NewTyped wraps a mapper whose entity builder returns *T.
func NewTyped[T any](m *Mapper) Typed[T] {
	return Typed[T]{m: m}
}

// Mapper returns the wrapped untyped mapper.
func (t Typed[T]) Mapper() *Mapper { return t.m }

// Query starts a parameterized query accumulator.
func (t Typed[T]) Query() *Query { return t.m.Query() }

// Select runs q and casts the materialized entities to *T.
func (t Typed[T]) Select(ctx context.Context, db Execer, q *Query) ([]*T, error) {
	entities, err := q.Select(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(entities))
	for i, e := range entities {
		typed, ok := e.(*T)
		if !ok {
			return nil, fmt.Errorf("entity builder produced %T, want %T", e, (*T)(nil))
		}
		out[i] = typed
	}
	return out, nil
}

// First runs q with LIMIT 1, returning ErrNoRows when nothing matched.
func (t Typed[T]) First(ctx context.Context, db Execer, q *Query) (*T, error) {
	e, err := q.First(ctx, db)
	if err != nil {
		return nil, err
	}
	typed, ok := e.(*T)
	if !ok {
		return nil, fmt.Errorf("entity builder produced %T, want %T", e, (*T)(nil))
	}
	return typed, nil
}
