// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package relmap

import (
	"context"
	"fmt"

	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/internal/build"
)

// Query accumulates clause state through chained calls and runs on an
// Execer. It is designed for one logical query; rendering is idempotent
// but the accumulator is not safe for concurrent mutation.
type Query struct {
	m     *Mapper
	plan  *build.Plan
	keyFn func(any) any
}

// Where adds a predicate; multiple predicates are AND-joined.
func (q *Query) Where(pred expr.Expr) *Query {
	q.plan.Where(pred)
	return q
}

// WhereRaw adds a raw SQL predicate fragment.
func (q *Query) WhereRaw(sql string) *Query {
	q.plan.WhereRaw(sql)
	return q
}

func (q *Query) OrderBy(e expr.Expr) *Query {
	q.plan.OrderBy(e)
	return q
}

func (q *Query) OrderByDesc(e expr.Expr) *Query {
	q.plan.OrderByDesc(e)
	return q
}

func (q *Query) OrderByRaw(sql string) *Query {
	q.plan.OrderByRaw(sql)
	return q
}

// Include registers navigation-property paths to populate, e.g.
// "Author" or "Author.Company".
func (q *Query) Include(paths ...string) *Query {
	q.plan.Include(paths...)
	return q
}

// JoinRaw appends a raw JOIN clause after the planner-derived joins.
func (q *Query) JoinRaw(sql string) *Query {
	q.plan.JoinRaw(sql)
	return q
}

// GroupBy sets the grouping key selector. A key that does not resolve
// to a single column is grouped in memory instead of in SQL.
func (q *Query) GroupBy(key expr.Expr) *Query {
	q.plan.GroupBy(key)
	return q
}

// GroupByFunc supplies the native grouping function used for in-memory
// grouping of computed keys. When both GroupBy and GroupByFunc are set
// they must agree on key values.
func (q *Query) GroupByFunc(fn func(entity any) any) *Query {
	q.keyFn = fn
	return q
}

// Having adds an aggregate predicate over groups. Requires a
// SQL-expressible GroupBy key. When a collection include is registered,
// Count ranges over distinct root entities rather than joined rows.
func (q *Query) Having(pred expr.Expr) *Query {
	q.plan.Having(pred)
	return q
}

// With declares a CTE ahead of the main query body.
func (q *Query) With(name string, columns []string, body string, recursive bool) *Query {
	q.plan.With(&build.CTE{Name: name, Columns: columns, Body: body, Recursive: recursive})
	return q
}

// Window appends a window-function projection to the SELECT list.
func (q *Query) Window(w *WindowFn) *Query {
	q.plan.Window(w.w)
	return q
}

// Project appends a computed projection (typically a CASE expression).
func (q *Query) Project(e expr.Expr, alias string) *Query {
	q.plan.Project(e, alias)
	return q
}

// SelectRaw overrides the generated SELECT column list.
func (q *Query) SelectRaw(sql string) *Query {
	q.plan.SelectOverride(sql)
	return q
}

func (q *Query) Limit(n int) *Query  { q.plan.Limit(n); return q }
func (q *Query) Offset(n int) *Query { q.plan.Offset(n); return q }

// Page is shorthand for Limit/Offset with 1-based page numbers.
func (q *Query) Page(page, size int) *Query {
	if page < 1 {
		page = 1
	}
	q.plan.Limit(size)
	q.plan.Offset((page - 1) * size)
	return q
}

// Union, UnionAll, Intersect and Except append a set-operation suffix
// wrapping the other query's rendered SQL.
func (q *Query) Union(other *Query) *Query     { q.plan.Union(other.plan); return q }
func (q *Query) UnionAll(other *Query) *Query  { q.plan.UnionAll(other.plan); return q }
func (q *Query) Intersect(other *Query) *Query { q.plan.Intersect(other.plan); return q }
func (q *Query) Except(other *Query) *Query    { q.plan.Except(other.plan); return q }

// BuildSql renders the accumulated state without running it and returns
// the SQL with its ordered parameter values.
func (q *Query) BuildSql() (string, []any, error) {
	rendered, err := q.plan.Render(build.Opts{})
	if err != nil {
		return "", nil, err
	}
	q.m.storeSQL(rendered.SQL)
	return rendered.SQL, paramValues(rendered.Params), nil
}

// Select runs the query and materializes the entity graph. Result
// order follows the database's row order.
func (q *Query) Select(ctx context.Context, db Execer) ([]any, error) {
	// Grouping never constrains an entity fetch; grouped reads go
	// through SelectGrouped.
	rendered, err := q.plan.Render(build.Opts{OmitGroupBy: true})
	if err != nil {
		return nil, err
	}
	rows, err := q.m.runQuery(ctx, db, rendered.SQL, rendered.Params)
	if err != nil {
		return nil, err
	}
	return q.m.materialize(ctx, rows, rendered)
}

// First runs the query with LIMIT 1 and returns the single entity, or
// ErrNoRows when nothing matched.
func (q *Query) First(ctx context.Context, db Execer) (any, error) {
	q.plan.Limit(1)
	entities, err := q.Select(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, ErrNoRows
	}
	return entities[0], nil
}

// Exists reports whether any row matches the accumulated predicates.
func (q *Query) Exists(ctx context.Context, db Execer) (bool, error) {
	n, err := q.Count(ctx, db)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Count runs SELECT COUNT(*) with the accumulated WHERE fragments.
func (q *Query) Count(ctx context.Context, db Execer) (int64, error) {
	v, err := q.scalar(ctx, db, expr.Count())
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case []byte:
		var out int64
		_, err := fmt.Sscan(string(n), &out)
		return out, err
	default:
		return 0, fmt.Errorf("cannot read count from %T", v)
	}
}

// SumOf, AvgOf, MaxOf and MinOf run standalone single-value aggregate
// queries over the member named by selector, sharing the query's WHERE
// accumulation.
func (q *Query) SumOf(ctx context.Context, db Execer, selector expr.Expr) (any, error) {
	return q.scalar(ctx, db, expr.Sum(selector))
}

func (q *Query) AvgOf(ctx context.Context, db Execer, selector expr.Expr) (any, error) {
	return q.scalar(ctx, db, expr.Average(selector))
}

func (q *Query) MaxOf(ctx context.Context, db Execer, selector expr.Expr) (any, error) {
	return q.scalar(ctx, db, expr.Max(selector))
}

func (q *Query) MinOf(ctx context.Context, db Execer, selector expr.Expr) (any, error) {
	return q.scalar(ctx, db, expr.Min(selector))
}

func (q *Query) scalar(ctx context.Context, db Execer, agg *expr.Agg) (any, error) {
	rendered, err := q.plan.RenderScalar(agg)
	if err != nil {
		return nil, err
	}
	rows, err := q.m.runQuery(ctx, db, rendered.SQL, rendered.Params)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNoRows
	}
	var v any
	if err := rows.Scan(&v); err != nil {
		return nil, err
	}
	return v, rows.Close()
}

// UpdateWhere compiles the assignments to a SET clause and runs an
// UPDATE constrained by the accumulated WHERE fragments, returning the
// number of affected rows.
func (q *Query) UpdateWhere(ctx context.Context, db Execer, assigns ...expr.Assignment) (int64, error) {
	rendered, err := q.plan.RenderUpdate(assigns)
	if err != nil {
		return 0, err
	}
	res, err := q.m.runExec(ctx, db, rendered.SQL, rendered.Params)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// WindowFn wraps a window-function descriptor for registration on a
// Query.
type WindowFn struct {
	w *build.Window
}

// NewWindow starts a window-function descriptor, e.g.
// NewWindow("ROW_NUMBER", "").PartitionBy("dept").OrderBy("salary").
func NewWindow(fn, column string) *WindowFn {
	return &WindowFn{w: build.NewWindow(fn, column)}
}

func (w *WindowFn) PartitionBy(columns ...string) *WindowFn {
	w.w.PartitionBy(columns...)
	return w
}

func (w *WindowFn) OrderBy(column string) *WindowFn {
	w.w.OrderBy(column)
	return w
}

func (w *WindowFn) OrderByDesc(column string) *WindowFn {
	w.w.OrderByDesc(column)
	return w
}

func (w *WindowFn) WithOffset(n int) *WindowFn { w.w.WithOffset(n); return w }

func (w *WindowFn) WithDefault(sql string) *WindowFn { w.w.WithDefault(sql); return w }

func (w *WindowFn) Nth(n int) *WindowFn { w.w.Nth(n); return w }

func (w *WindowFn) As(alias string) *WindowFn { w.w.As(alias); return w }

// Frame bound constructors for Rows and Range.
type Bound = build.Bound

func UnboundedPreceding() Bound { return Bound{Kind: build.BoundUnboundedPreceding} }
func Preceding(n int) Bound     { return Bound{Kind: build.BoundPreceding, N: n} }
func CurrentRow() Bound         { return Bound{Kind: build.BoundCurrentRow} }
func Following(n int) Bound     { return Bound{Kind: build.BoundFollowing, N: n} }
func UnboundedFollowing() Bound { return Bound{Kind: build.BoundUnboundedFollowing} }

func (w *WindowFn) Rows(start, end Bound) *WindowFn { w.w.Rows(start, end); return w }

func (w *WindowFn) Range(start, end Bound) *WindowFn { w.w.Range(start, end); return w }
