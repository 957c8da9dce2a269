// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package relmap

import (
	"context"
	"fmt"

	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/internal/build"
	"github.com/relmap/relmap/internal/convert"
	"github.com/relmap/relmap/internal/scan"
	"github.com/relmap/relmap/relerr"
)

// Group is one logical group of a grouped query: the distinct key and
// the entities sharing it, in first-occurrence order.
type Group struct {
	Key      any
	Entities []any
}

// SelectGrouped runs the query and returns one group per distinct key.
//
// Without a HAVING predicate the SQL GROUP BY is omitted, all matching
// entities are fetched in one round trip and grouped in memory,
// preserving the first-occurrence order of keys in the row stream.
//
// With a HAVING predicate the executor runs two phases: a keys-only
// query with the real GROUP BY/HAVING to obtain the authoritative
// qualifying keys, then, unless that set is empty, the full entity
// fetch, grouped in memory and filtered to the qualifying keys. SQL
// aggregate queries cannot also deliver populated navigation graphs in
// one round trip, hence the split.
func (q *Query) SelectGrouped(ctx context.Context, db Execer) ([]*Group, error) {
	if !q.plan.HasGroupKey() && q.keyFn == nil {
		return nil, &relerr.Contract{Msg: "grouped select without a group key"}
	}

	keyFn, err := q.nativeKey()
	if err != nil {
		return nil, err
	}

	if !q.plan.HasHaving() {
		entities, err := q.Select(ctx, db)
		if err != nil {
			return nil, err
		}
		return groupInMemory(entities, keyFn)
	}

	qualifying, empty, err := q.qualifyingKeys(ctx, db)
	if err != nil {
		return nil, err
	}
	if empty {
		return []*Group{}, nil
	}

	entities, err := q.Select(ctx, db)
	if err != nil {
		return nil, err
	}
	groups, err := groupInMemory(entities, keyFn)
	if err != nil {
		return nil, err
	}
	filtered := groups[:0]
	for _, g := range groups {
		if qualifying[scan.NormKey(g.Key)] {
			filtered = append(filtered, g)
		}
	}
	return filtered, nil
}

// qualifyingKeys runs the group-key pushdown phase: only the GROUP BY
// column is selected, with the real GROUP BY and HAVING clauses.
func (q *Query) qualifyingKeys(ctx context.Context, db Execer) (map[any]bool, bool, error) {
	rendered, err := q.plan.Render(build.Opts{KeysOnly: true})
	if err != nil {
		return nil, false, err
	}
	rows, err := q.m.runQuery(ctx, db, rendered.SQL, rendered.Params)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	keys := map[any]bool{}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, false, err
		}
		// Key values get the same conversion as materialized columns,
		// so membership checks compare like with like.
		v, err := convert.Value(raw, rendered.GroupField, q.m.conv)
		if err != nil {
			return nil, false, err
		}
		keys[scan.NormKey(v)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return keys, len(keys) == 0, nil
}

// nativeKey compiles the key selector to a native function over
// materialized entities.
func (q *Query) nativeKey() (func(any) (any, error), error) {
	if q.keyFn != nil {
		fn := q.keyFn
		return func(e any) (any, error) { return fn(e), nil }, nil
	}
	key := q.plan.Key()
	m, ok := key.(*expr.Member)
	if !ok {
		return nil, &relerr.UnresolvableReference{
			Ref:    key.String(),
			Detail: "computed group key needs GroupByFunc",
		}
	}

	meta := q.m.meta
	var getters []func(any) any
	for i, seg := range m.Path {
		if i == len(m.Path)-1 {
			f, ok := meta.FieldByName(seg)
			if !ok {
				return nil, &relerr.UnresolvableReference{
					Ref:    m.String(),
					Detail: fmt.Sprintf("type %q has no property %q", meta.Name, seg),
				}
			}
			getters = append(getters, f.Get)
			break
		}
		rel, ok := meta.Relation(seg)
		if !ok || rel.Get == nil {
			return nil, &relerr.UnresolvableReference{
				Ref:    m.String(),
				Detail: fmt.Sprintf("type %q has no readable navigation property %q", meta.Name, seg),
			}
		}
		getters = append(getters, rel.Get)
		next, err := q.m.reg.Lookup(rel.Target)
		if err != nil {
			return nil, err
		}
		meta = next
	}

	path := m.String()
	return func(entity any) (any, error) {
		v := entity
		for _, get := range getters {
			if v == nil {
				return nil, fmt.Errorf("cannot evaluate group key %q: nil value in chain", path)
			}
			v = get(v)
		}
		return v, nil
	}, nil
}

// groupInMemory groups entities by key, preserving the first-occurrence
// order of keys.
func groupInMemory(entities []any, keyFn func(any) (any, error)) ([]*Group, error) {
	var groups []*Group
	index := map[any]*Group{}
	for _, e := range entities {
		key, err := keyFn(e)
		if err != nil {
			return nil, err
		}
		norm := scan.NormKey(key)
		g, ok := index[norm]
		if !ok {
			g = &Group{Key: key}
			index[norm] = g
			groups = append(groups, g)
		}
		g.Entities = append(g.Entities, e)
	}
	return groups, nil
}
