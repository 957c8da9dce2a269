// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package relmap is a relational mapping engine: it compiles typed
// filter and selector expressions to SQL, assembles multi-clause
// queries (joins, CTEs, window functions, set operations, grouping) and
// reconstructs entity object graphs, including one-to-many and
// many-to-many navigation collections, from flat, fanned-out joined
// rows.
//
// Entity types are described up front in a metadata.Registry: table,
// ordered column map, relationships, and the builder and accessor
// functions used to construct and populate instances. A Mapper binds
// one registered type to a dialect.Sanitizer and produces Query
// accumulators:
//
//	q := mapper.Query().
//		Where(expr.Eq(expr.Prop("Genre"), expr.Val("horror"))).
//		Include("Author", "Author.Company").
//		OrderBy(expr.Prop("Title"))
//	books, err := q.Select(ctx, db)
//
// Rows repeated by join fan-out collapse to one instance per primary
// key, and collection navigation properties are deduplicated while they
// are populated. Grouped reads either omit the SQL GROUP BY and group
// in memory, or, when HAVING predicates are present, push the group
// keys down in a dedicated first phase and fetch full entity graphs
// only for qualifying keys.
package relmap
