// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package compile

import (
	"fmt"
	"strings"
	"sync"

	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/relerr"
)

// accessor reads a captured value's member chain.
type accessor func(from any) (any, error)

// accessorKey is keyed per entity type so identical member paths on
// different types never collide.
type accessorKey struct {
	typeName string
	path     string
}

// accessorCache caches composed getter chains for captured-value
// extraction. The cache is an optimization only: once full it stops
// inserting and chains are recomputed per use. Concurrent duplicate
// inserts keep the first cached value.
type accessorCache struct {
	mu  sync.RWMutex
	max int
	m   map[accessorKey]accessor
}

func newAccessorCache(max int) *accessorCache {
	return &accessorCache{max: max, m: map[accessorKey]accessor{}}
}

func (ac *accessorCache) lookup(key accessorKey) (accessor, bool) {
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	fn, ok := ac.m[key]
	return fn, ok
}

func (ac *accessorCache) insert(key accessorKey, fn accessor) accessor {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	// Another query may have inserted the same chain since lookup;
	// keep the first one.
	if prior, ok := ac.m[key]; ok {
		return prior
	}
	if len(ac.m) < ac.max {
		ac.m[key] = fn
	}
	return fn
}

var accessors = newAccessorCache(256)

// extract evaluates a captured-value member chain through the metadata
// registry's accessors.
func (c *Compiler) extract(e *expr.External) (any, error) {
	key := accessorKey{typeName: e.TypeName, path: strings.Join(e.Path, ".")}
	fn, ok := accessors.lookup(key)
	if !ok {
		built, err := c.buildAccessor(e)
		if err != nil {
			return nil, err
		}
		fn = accessors.insert(key, built)
	}
	return fn(e.From)
}

func (c *Compiler) buildAccessor(e *expr.External) (accessor, error) {
	meta, err := c.reg.Lookup(e.TypeName)
	if err != nil {
		return nil, &relerr.UnresolvableReference{Ref: e.String(), Detail: err.Error()}
	}
	var getters []func(any) any
	for i, seg := range e.Path {
		if i == len(e.Path)-1 {
			f, ok := meta.FieldByName(seg)
			if !ok {
				return nil, &relerr.UnresolvableReference{
					Ref:    e.String(),
					Detail: fmt.Sprintf("type %q has no property %q", meta.Name, seg),
				}
			}
			getters = append(getters, f.Get)
			break
		}
		rel, ok := meta.Relation(seg)
		if !ok || rel.Get == nil {
			return nil, &relerr.UnresolvableReference{
				Ref:    e.String(),
				Detail: fmt.Sprintf("type %q has no readable navigation property %q", meta.Name, seg),
			}
		}
		getters = append(getters, rel.Get)
		meta, err = c.reg.Lookup(rel.Target)
		if err != nil {
			return nil, &relerr.UnresolvableReference{Ref: e.String(), Detail: err.Error()}
		}
	}
	path := strings.Join(e.Path, ".")
	return func(from any) (any, error) {
		v := from
		for _, get := range getters {
			if v == nil {
				return nil, fmt.Errorf("cannot extract %q: nil value in chain", path)
			}
			v = get(v)
		}
		return v, nil
	}, nil
}
