// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package build accumulates query clause state and renders the final
// SQL. A Plan is mutated in place by its registration methods and must
// not be shared across concurrent logical queries; rendering is
// idempotent: the same state always renders identical SQL.
package build

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/internal/compile"
	"github.com/relmap/relmap/internal/plan"
	"github.com/relmap/relmap/metadata"
	"github.com/relmap/relmap/relerr"
)

// CTE is a named sub-query declared ahead of the main body. Recursive
// marks a self-referential body, switching the declaration to
// WITH RECURSIVE.
type CTE struct {
	Name      string
	Columns   []string
	Body      string
	Recursive bool
}

// setOpKind is a set operation joining this query with another.
type setOp struct {
	keyword string
	other   *Plan
}

type orderItem struct {
	e    expr.Expr
	raw  string
	desc bool
}

type projection struct {
	e     expr.Expr
	alias string
}

// Plan is the mutable clause accumulator for one query.
type Plan struct {
	meta *metadata.EntityMeta
	reg  *metadata.Registry
	san  dialect.Sanitizer
	mode compile.Mode

	selectOverride string
	projections    []projection
	windows        []*Window
	wheres         []expr.Expr
	rawWheres      []string
	orders         []orderItem
	includes       []string
	rawJoins       []string
	groupKey       expr.Expr
	havings        []expr.Expr
	ctes           []*CTE
	setOps         []setOp
	limit          *int
	offset         *int
}

// New returns an empty accumulator for the given root entity.
func New(meta *metadata.EntityMeta, reg *metadata.Registry, san dialect.Sanitizer, mode Mode) *Plan {
	return &Plan{meta: meta, reg: reg, san: san, mode: compile.Mode(mode)}
}

// Mode mirrors the compiler's constant-rendering modes.
type Mode = compile.Mode

const (
	Literal       = compile.Literal
	Parameterized = compile.Parameterized
)

func (p *Plan) Where(e expr.Expr) *Plan        { p.wheres = append(p.wheres, e); return p }
func (p *Plan) WhereRaw(sql string) *Plan      { p.rawWheres = append(p.rawWheres, sql); return p }
func (p *Plan) OrderBy(e expr.Expr) *Plan      { p.orders = append(p.orders, orderItem{e: e}); return p }
func (p *Plan) OrderByDesc(e expr.Expr) *Plan  { p.orders = append(p.orders, orderItem{e: e, desc: true}); return p }
func (p *Plan) OrderByRaw(sql string) *Plan    { p.orders = append(p.orders, orderItem{raw: sql}); return p }
func (p *Plan) Include(paths ...string) *Plan  { p.includes = append(p.includes, paths...); return p }
func (p *Plan) JoinRaw(sql string) *Plan       { p.rawJoins = append(p.rawJoins, sql); return p }
func (p *Plan) GroupBy(key expr.Expr) *Plan    { p.groupKey = key; return p }
func (p *Plan) Having(pred expr.Expr) *Plan    { p.havings = append(p.havings, pred); return p }
func (p *Plan) With(cte *CTE) *Plan            { p.ctes = append(p.ctes, cte); return p }
func (p *Plan) Window(w *Window) *Plan         { p.windows = append(p.windows, w); return p }
func (p *Plan) SelectOverride(sql string) *Plan { p.selectOverride = sql; return p }

// Project appends a computed projection (typically a CASE expression)
// to the SELECT list.
func (p *Plan) Project(e expr.Expr, alias string) *Plan {
	p.projections = append(p.projections, projection{e: e, alias: alias})
	return p
}

func (p *Plan) Limit(n int) *Plan  { p.limit = &n; return p }
func (p *Plan) Offset(n int) *Plan { p.offset = &n; return p }

// Union, UnionAll, Intersect and Except chain another query as a set
// operation suffix.
func (p *Plan) Union(other *Plan) *Plan     { p.setOps = append(p.setOps, setOp{"UNION", other}); return p }
func (p *Plan) UnionAll(other *Plan) *Plan  { p.setOps = append(p.setOps, setOp{"UNION ALL", other}); return p }
func (p *Plan) Intersect(other *Plan) *Plan { p.setOps = append(p.setOps, setOp{"INTERSECT", other}); return p }
func (p *Plan) Except(other *Plan) *Plan    { p.setOps = append(p.setOps, setOp{"EXCEPT", other}); return p }

// HasHaving reports whether any HAVING predicate was registered; the
// grouped executor branches on it once per execution.
func (p *Plan) HasHaving() bool { return len(p.havings) > 0 }

// HasGroupKey reports whether a group key selector was registered.
func (p *Plan) HasGroupKey() bool { return p.groupKey != nil }

// Key returns the registered group key selector.
func (p *Plan) Key() expr.Expr { return p.groupKey }

// Meta returns the root entity metadata.
func (p *Plan) Meta() *metadata.EntityMeta { return p.meta }

// Opts control one rendering pass.
type Opts struct {
	// OmitGroupBy suppresses the SQL GROUP BY clause so grouping can be
	// done in memory after a full entity fetch.
	OmitGroupBy bool
	// KeysOnly selects only the group key column with the real GROUP
	// BY/HAVING clauses, for the group-key pushdown phase.
	KeysOnly bool
	// ParamOffset shifts placeholder numbering, used when this plan is
	// rendered as a set-operation arm of another query.
	ParamOffset int
}

// Rendered is the outcome of one rendering pass.
type Rendered struct {
	SQL    string
	Params []compile.Param
	// Plan is the resolved join plan, nil when no includes were
	// registered.
	Plan *plan.JoinPlan
	// GroupColumn and GroupField are set when the group key resolved to
	// a SQL column.
	GroupColumn string
	GroupField  *metadata.FieldDesc
	// GroupInSQL reports whether GROUP BY was SQL-expressible. When
	// false the group key is computed, and grouping happens in memory.
	GroupInSQL bool
}

// Render assembles the SQL in the fixed clause order: CTEs, SELECT,
// FROM, JOINs (planner-derived then raw), WHERE, GROUP BY, HAVING,
// ORDER BY, LIMIT/OFFSET, set-operation suffix.
func (p *Plan) Render(opts Opts) (rendered *Rendered, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot build query: %w", err)
		}
	}()

	var jp *plan.JoinPlan
	if len(p.includes) > 0 {
		jp, err = plan.Build(p.reg, p.meta, p.includes, p.san)
		if err != nil {
			return nil, err
		}
	}
	comp := compile.New(p.meta, p.reg, p.san, jp, p.mode)
	comp.Shift(opts.ParamOffset)

	rendered = &Rendered{Plan: jp}

	// Resolve the group key up front; an unresolvable key silently
	// degrades to in-memory grouping, the entity fetch must still
	// succeed.
	if p.groupKey != nil {
		col, field, gerr := comp.ResolveGroupColumn(p.groupKey)
		if gerr == nil {
			rendered.GroupColumn = col
			rendered.GroupField = field
			rendered.GroupInSQL = true
		}
	}
	if len(p.havings) > 0 && !rendered.GroupInSQL {
		return nil, &relerr.Contract{Msg: "HAVING requires a SQL-expressible GROUP BY key"}
	}

	var b strings.Builder

	if err := p.renderCTEs(&b); err != nil {
		return nil, err
	}

	b.WriteString("SELECT ")
	if opts.KeysOnly {
		b.WriteString(rendered.GroupColumn)
	} else if err := p.renderSelectList(&b, comp, jp); err != nil {
		return nil, err
	}

	b.WriteString(" FROM ")
	b.WriteString(p.san.QuoteIdentifier(p.meta.Table))
	if jp != nil {
		b.WriteString(" AS ")
		b.WriteString(p.san.QuoteIdentifier(plan.RootAlias))
		joins, err := jp.Joins()
		if err != nil {
			return nil, err
		}
		if joins != "" {
			b.WriteString(" ")
			b.WriteString(joins)
		}
	}
	for _, j := range p.rawJoins {
		b.WriteString(" ")
		b.WriteString(j)
	}

	if err := p.renderWhere(&b, comp); err != nil {
		return nil, err
	}

	if rendered.GroupInSQL && !opts.OmitGroupBy {
		b.WriteString(" GROUP BY ")
		b.WriteString(rendered.GroupColumn)

		// HAVING fragments are AND-joined like WHERE fragments.
		for i, h := range p.havings {
			sql, err := comp.CompileHaving(h, rendered.GroupColumn)
			if err != nil {
				return nil, err
			}
			if i == 0 {
				b.WriteString(" HAVING ")
			} else {
				b.WriteString(" AND ")
			}
			b.WriteString(sql)
		}
	}

	if !opts.KeysOnly {
		if err := p.renderOrderBy(&b, comp); err != nil {
			return nil, err
		}
		if p.limit != nil {
			b.WriteString(" LIMIT ")
			b.WriteString(strconv.Itoa(*p.limit))
		}
		if p.offset != nil {
			b.WriteString(" OFFSET ")
			b.WriteString(strconv.Itoa(*p.offset))
		}
	}

	rendered.Params = comp.Params()

	// Set operations wrap the other query's own rendered SQL.
	for _, op := range p.setOps {
		sub, err := op.other.Render(Opts{ParamOffset: opts.ParamOffset + len(rendered.Params)})
		if err != nil {
			return nil, err
		}
		b.WriteString(" ")
		b.WriteString(op.keyword)
		b.WriteString(" (")
		b.WriteString(sub.SQL)
		b.WriteString(")")
		rendered.Params = append(rendered.Params, sub.Params...)
	}

	rendered.SQL = b.String()
	return rendered, nil
}

func (p *Plan) renderCTEs(b *strings.Builder) error {
	if len(p.ctes) == 0 {
		return nil
	}
	recursive := false
	for _, cte := range p.ctes {
		if cte.Recursive {
			recursive = true
		}
	}
	if recursive {
		b.WriteString("WITH RECURSIVE ")
	} else {
		b.WriteString("WITH ")
	}
	for i, cte := range p.ctes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.san.QuoteIdentifier(cte.Name))
		if len(cte.Columns) > 0 {
			cols := make([]string, len(cte.Columns))
			for j, col := range cte.Columns {
				cols[j] = p.san.QuoteIdentifier(col)
			}
			b.WriteString(" (")
			b.WriteString(strings.Join(cols, ", "))
			b.WriteString(")")
		}
		b.WriteString(" AS (")
		b.WriteString(cte.Body)
		b.WriteString(")")
	}
	b.WriteString(" ")
	return nil
}

func (p *Plan) renderSelectList(b *strings.Builder, comp *compile.Compiler, jp *plan.JoinPlan) error {
	switch {
	case p.selectOverride != "":
		b.WriteString(p.selectOverride)
	case jp != nil:
		b.WriteString(strings.Join(jp.Columns(), ", "))
	default:
		b.WriteString(p.san.QuoteIdentifier(p.meta.Table))
		b.WriteString(".*")
	}
	windowAlias := ""
	if jp != nil {
		windowAlias = plan.RootAlias
	}
	for _, w := range p.windows {
		sql, err := w.render(p.san, windowAlias)
		if err != nil {
			return err
		}
		b.WriteString(", ")
		b.WriteString(sql)
	}
	for _, proj := range p.projections {
		sql, err := comp.Compile(proj.e)
		if err != nil {
			return err
		}
		b.WriteString(", ")
		b.WriteString(sql)
		if proj.alias != "" {
			b.WriteString(" AS ")
			b.WriteString(p.san.QuoteIdentifier(proj.alias))
		}
	}
	return nil
}

func (p *Plan) renderWhere(b *strings.Builder, comp *compile.Compiler) error {
	var frags []string
	for _, w := range p.wheres {
		sql, err := comp.Compile(w)
		if err != nil {
			return err
		}
		frags = append(frags, sql)
	}
	frags = append(frags, p.rawWheres...)
	if len(frags) == 0 {
		return nil
	}
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(frags, " AND "))
	return nil
}

func (p *Plan) renderOrderBy(b *strings.Builder, comp *compile.Compiler) error {
	if len(p.orders) == 0 {
		return nil
	}
	b.WriteString(" ORDER BY ")
	for i, o := range p.orders {
		if i > 0 {
			b.WriteString(", ")
		}
		if o.raw != "" {
			b.WriteString(o.raw)
			continue
		}
		sql, err := comp.Compile(o.e)
		if err != nil {
			return err
		}
		b.WriteString(sql)
		if o.desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}
	return nil
}

// RenderScalar renders a single-value aggregate query sharing this
// plan's WHERE accumulation.
func (p *Plan) RenderScalar(agg *expr.Agg) (*Rendered, error) {
	var jp *plan.JoinPlan
	var err error
	if len(p.includes) > 0 {
		jp, err = plan.Build(p.reg, p.meta, p.includes, p.san)
		if err != nil {
			return nil, fmt.Errorf("cannot build query: %w", err)
		}
	}
	comp := compile.New(p.meta, p.reg, p.san, jp, p.mode)

	sel, err := comp.CompileAggregate(agg)
	if err != nil {
		return nil, fmt.Errorf("cannot build query: %w", err)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(sel)
	b.WriteString(" FROM ")
	b.WriteString(p.san.QuoteIdentifier(p.meta.Table))
	if jp != nil {
		b.WriteString(" AS ")
		b.WriteString(p.san.QuoteIdentifier(plan.RootAlias))
		joins, err := jp.Joins()
		if err != nil {
			return nil, err
		}
		if joins != "" {
			b.WriteString(" ")
			b.WriteString(joins)
		}
	}
	for _, j := range p.rawJoins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if err := p.renderWhere(&b, comp); err != nil {
		return nil, fmt.Errorf("cannot build query: %w", err)
	}
	return &Rendered{SQL: b.String(), Params: comp.Params(), Plan: jp}, nil
}

// RenderUpdate renders UPDATE table SET ... with this plan's WHERE
// accumulation. Includes do not apply to updates.
func (p *Plan) RenderUpdate(assigns []expr.Assignment) (*Rendered, error) {
	comp := compile.New(p.meta, p.reg, p.san, nil, p.mode)
	set, err := comp.CompileSet(assigns)
	if err != nil {
		return nil, fmt.Errorf("cannot build query: %w", err)
	}
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(p.san.QuoteIdentifier(p.meta.Table))
	b.WriteString(" SET ")
	b.WriteString(set)
	if err := p.renderWhere(&b, comp); err != nil {
		return nil, fmt.Errorf("cannot build query: %w", err)
	}
	return &Rendered{SQL: b.String(), Params: comp.Params()}, nil
}
