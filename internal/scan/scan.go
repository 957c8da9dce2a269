// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package scan reconstructs entity graphs from flat, possibly fanned-out
// joined rows. Join fan-out repeats the primary row once per related
// row; an identity map collapses those repeats to one instance and a
// processed-set cache keeps collection properties free of duplicates.
package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relmap/relmap/internal/convert"
	"github.com/relmap/relmap/internal/plan"
	"github.com/relmap/relmap/metadata"
	"github.com/relmap/relmap/relerr"
)

// identKey scopes identity-map entries by include path, so a root
// entity and a related entity with the same key value never collide.
type identKey struct {
	path string
	key  any
}

// procKey records one (include path, parent, child) pairing already
// appended to a collection property.
type procKey struct {
	path   string
	parent any
	child  any
}

// Materializer turns rows into deduplicated entity graphs. Its caches
// are scoped to a single execution: reuse across unrelated executions
// requires calling Reset first, otherwise stale entries would merge
// unrelated result sets.
type Materializer struct {
	meta *metadata.EntityMeta
	reg  *metadata.Registry
	jp   *plan.JoinPlan
	conv convert.Converter

	identity  map[identKey]any
	processed map[procKey]bool
	synth     int
}

// New returns a materializer for one execution. jp may be nil when the
// query had no includes.
func New(meta *metadata.EntityMeta, reg *metadata.Registry, jp *plan.JoinPlan, conv convert.Converter) *Materializer {
	m := &Materializer{meta: meta, reg: reg, jp: jp, conv: conv}
	m.Reset()
	return m
}

// Reset clears the identity map and processed-set cache.
func (m *Materializer) Reset() {
	m.identity = map[identKey]any{}
	m.processed = map[procKey]bool{}
	m.synth = 0
}

// All drains the reader into a slice of entities in database row order.
// Cancellation is checked between rows, never mid-row: a row in
// progress completes or fails atomically. Any mapping failure aborts
// the whole read.
func (m *Materializer) All(ctx context.Context, r RowReader) ([]any, error) {
	cols := r.Columns()
	colIdx := make(map[string]int, len(cols))
	for i, c := range cols {
		colIdx[c] = i
	}

	var out []any
	rowIdx := 0
	for r.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vals, err := r.Values()
		if err != nil {
			return nil, err
		}
		entity, fresh, err := m.row(rowIdx, colIdx, vals)
		if err != nil {
			return nil, err
		}
		if fresh {
			out = append(out, entity)
		}
		rowIdx++
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// row materializes one row into the graph, returning the root entity
// and whether it was first seen on this row.
func (m *Materializer) row(rowIdx int, colIdx map[string]int, vals []any) (any, bool, error) {
	key, err := m.extractKey(rowIdx, m.meta, "", colIdx, vals)
	if err != nil {
		return nil, false, err
	}

	ik := identKey{path: "", key: key}
	entity, seen := m.identity[ik]
	fresh := !seen
	if fresh {
		entity, err = m.buildEntity(rowIdx, m.meta, "", colIdx, vals)
		if err != nil {
			return nil, false, err
		}
		m.identity[ik] = entity
	}

	if m.jp != nil {
		if err := m.populate(rowIdx, entity, key, m.jp.Top(), colIdx, vals); err != nil {
			return nil, false, err
		}
	}
	return entity, fresh, nil
}

// extractKey reads the identity value for an entity at the given column
// prefix. A missing key field or NULL key yields a fresh synthetic
// identity, so keyless rows never merge.
func (m *Materializer) extractKey(rowIdx int, meta *metadata.EntityMeta, prefix string, colIdx map[string]int, vals []any) (any, error) {
	kf := meta.KeyField()
	if kf != nil {
		if i, ok := colIdx[prefix+kf.Column]; ok && vals[i] != nil {
			v, err := convert.Value(vals[i], kf, m.conv)
			if err != nil {
				return nil, &relerr.Mapping{Row: rowIdx, Column: prefix + kf.Column, Property: kf.Name, Err: err}
			}
			return normKey(v), nil
		}
	}
	m.synth++
	return fmt.Sprintf("synthetic-%d", m.synth), nil
}

// buildEntity constructs and fills one entity from the columns at the
// given prefix. Missing columns are tolerated; NULL leaves the field at
// its type's default.
func (m *Materializer) buildEntity(rowIdx int, meta *metadata.EntityMeta, prefix string, colIdx map[string]int, vals []any) (any, error) {
	entity := meta.New()
	for _, f := range meta.Fields {
		i, ok := colIdx[prefix+f.Column]
		if !ok {
			continue
		}
		raw := vals[i]
		if raw == nil {
			continue
		}
		v, err := convert.Value(raw, f, m.conv)
		if err != nil {
			return nil, &relerr.Mapping{Row: rowIdx, Column: prefix + f.Column, Property: f.Name, Err: err}
		}
		f.Set(entity, v)
	}
	return entity, nil
}

// populate fills the navigation properties for one row, recursing into
// nested includes once their parent related entity exists.
func (m *Materializer) populate(rowIdx int, parent any, parentKey any, nodes []*plan.IncludeNode, colIdx map[string]int, vals []any) error {
	for _, node := range nodes {
		prefix := node.ColumnPrefix()

		// Every aliased column NULL means the LEFT JOIN found no match.
		if m.allNull(node.Meta, prefix, colIdx, vals) {
			continue
		}

		childKey, err := m.extractKey(rowIdx, node.Meta, prefix, colIdx, vals)
		if err != nil {
			return err
		}
		ik := identKey{path: node.Path, key: childKey}
		child, seen := m.identity[ik]
		if !seen {
			child, err = m.buildEntity(rowIdx, node.Meta, prefix, colIdx, vals)
			if err != nil {
				if merr, ok := err.(*relerr.Mapping); ok {
					merr.Property = node.Path + "." + merr.Property
				}
				return err
			}
			m.identity[ik] = child
		}

		if node.Rel.Collection {
			pk := procKey{path: node.Path, parent: parentKey, child: childKey}
			if !m.processed[pk] {
				if node.Rel.Append == nil {
					return &relerr.Contract{Msg: fmt.Sprintf("relation %q has no append function", node.Path)}
				}
				node.Rel.Append(parent, child)
				m.processed[pk] = true
			}
		} else {
			if node.Rel.Set == nil {
				return &relerr.Contract{Msg: fmt.Sprintf("relation %q has no setter function", node.Path)}
			}
			// Overwriting on repeated rows is safe: the value is
			// functionally dependent on the deduplicated parent.
			node.Rel.Set(parent, child)
		}

		if len(node.Children) > 0 {
			if err := m.populate(rowIdx, child, childKey, node.Children, colIdx, vals); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Materializer) allNull(meta *metadata.EntityMeta, prefix string, colIdx map[string]int, vals []any) bool {
	for _, f := range meta.Fields {
		if i, ok := colIdx[prefix+f.Column]; ok && vals[i] != nil {
			return false
		}
	}
	return true
}

// normKey normalizes identity values to comparable forms usable as map
// keys.
func normKey(v any) any {
	switch k := v.(type) {
	case nil, bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64,
		time.Time, uuid.UUID:
		return k
	case []byte:
		return string(k)
	default:
		return fmt.Sprintf("%v", k)
	}
}

// NormKey exposes key normalization for the grouped executor, which
// must agree with the materializer on key equality.
func NormKey(v any) any { return normKey(v) }
