// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package compile translates typed expression trees into SQL fragments.
// A Compiler is created per logical query; it accumulates the ordered
// parameter list when running in Parameterized mode.
package compile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/internal/plan"
	"github.com/relmap/relmap/metadata"
	"github.com/relmap/relmap/relerr"
)

// Mode selects how constants are rendered.
type Mode int

const (
	// Literal renders every constant inline through the Sanitizer.
	Literal Mode = iota
	// Parameterized renders constants as placeholders and collects
	// their values in the parameter list.
	Parameterized
)

// Param is one extracted parameter.
type Param struct {
	Name  string
	Value any
}

// nowTolerance is the window within which a timestamp constant is taken
// to mean "now" and rendered as the dialect's current-time function.
// This mirrors the source behaviour of capturing DateTime.Now in an
// expression; it applies in Literal mode only, so bound parameters are
// never rewritten.
const nowTolerance = 5 * time.Second

// opSQL is the fixed binary operator table. OpAdd and OpCoalesce are
// special-cased before it is consulted.
var opSQL = map[expr.Op]string{
	expr.OpEq: "=", expr.OpNe: "<>",
	expr.OpGt: ">", expr.OpGe: ">=", expr.OpLt: "<", expr.OpLe: "<=",
	expr.OpAnd: "AND", expr.OpOr: "OR",
	expr.OpAdd: "+", expr.OpSub: "-", expr.OpMul: "*", expr.OpDiv: "/", expr.OpMod: "%",
}

// Compiler translates expressions against one root entity type.
type Compiler struct {
	meta *metadata.EntityMeta
	reg  *metadata.Registry
	san  dialect.Sanitizer
	plan *plan.JoinPlan
	mode Mode

	// havingKey is the compiled group-by column when compiling a HAVING
	// predicate; GroupKey and Agg nodes are only legal while it is set.
	havingKey string

	// offset shifts placeholder numbering when this compiler's output
	// is embedded in a larger query (set-operation arms).
	offset int
	params []Param
}

// New returns a compiler for one query. jp may be nil when no includes
// are registered.
func New(meta *metadata.EntityMeta, reg *metadata.Registry, san dialect.Sanitizer, jp *plan.JoinPlan, mode Mode) *Compiler {
	return &Compiler{meta: meta, reg: reg, san: san, plan: jp, mode: mode}
}

// Params returns the parameters extracted so far, in placeholder order.
func (c *Compiler) Params() []Param { return c.params }

// Shift offsets placeholder numbering by n, for fragments embedded in a
// query that already carries n parameters.
func (c *Compiler) Shift(n int) { c.offset = n }

// Compile translates one expression to a SQL fragment. Parameters
// extracted along the way are appended to the compiler's list.
func (c *Compiler) Compile(e expr.Expr) (string, error) {
	switch node := e.(type) {
	case *expr.Binary:
		return c.compileBinary(node)
	case *expr.Member:
		return c.resolveMember(node)
	case *expr.Value:
		return c.formatConstant(node.V)
	case *expr.External:
		v, err := c.extract(node)
		if err != nil {
			return "", err
		}
		return c.formatConstant(v)
	case *expr.Unary:
		return c.compileUnary(node)
	case *expr.Cond:
		return c.compileCond(node)
	case *expr.Array:
		return c.compileArray(node)
	case *expr.Call:
		return c.compileCall(node)
	case *expr.Agg:
		if c.havingKey == "" {
			return "", &relerr.UnsupportedExpr{Node: node.String(), Detail: "aggregate outside HAVING predicate"}
		}
		return c.CompileAggregate(node)
	case *expr.GroupKey:
		if c.havingKey == "" {
			return "", &relerr.Contract{Msg: "group Key referenced outside a HAVING predicate"}
		}
		return c.havingKey, nil
	case nil:
		return "", &relerr.UnsupportedExpr{Node: "<nil>", Detail: "nil expression node"}
	default:
		return "", &relerr.UnsupportedExpr{Node: e.String(), Detail: fmt.Sprintf("node kind %T", e)}
	}
}

func (c *Compiler) compileBinary(b *expr.Binary) (string, error) {
	if b.Op == expr.OpCoalesce {
		l, err := c.Compile(b.L)
		if err != nil {
			return "", err
		}
		r, err := c.Compile(b.R)
		if err != nil {
			return "", err
		}
		return "COALESCE(" + l + ", " + r + ")", nil
	}

	// x == nil / x != nil become IS NULL / IS NOT NULL; "= NULL" never
	// matches in SQL.
	if b.Op == expr.OpEq || b.Op == expr.OpNe {
		if other, ok := nullComparison(b); ok {
			sql, err := c.Compile(other)
			if err != nil {
				return "", err
			}
			if b.Op == expr.OpEq {
				return sql + " IS NULL", nil
			}
			return sql + " IS NOT NULL", nil
		}
	}

	l, err := c.Compile(b.L)
	if err != nil {
		return "", err
	}
	r, err := c.Compile(b.R)
	if err != nil {
		return "", err
	}

	// + between strings is concatenation, not addition.
	if b.Op == expr.OpAdd && c.isString(b.L) && c.isString(b.R) {
		return "(" + c.san.Concat(l, r) + ")", nil
	}

	op, ok := opSQL[b.Op]
	if !ok {
		return "", &relerr.UnsupportedExpr{Node: b.String(), Detail: fmt.Sprintf("operator %s", b.Op)}
	}
	return "(" + l + " " + op + " " + r + ")", nil
}

// nullComparison reports whether one side of an equality is a nil
// constant, returning the other side.
func nullComparison(b *expr.Binary) (expr.Expr, bool) {
	if v, ok := b.R.(*expr.Value); ok && v.V == nil {
		return b.L, true
	}
	if v, ok := b.L.(*expr.Value); ok && v.V == nil {
		return b.R, true
	}
	return nil, false
}

func (c *Compiler) compileUnary(u *expr.Unary) (string, error) {
	x, err := c.Compile(u.X)
	if err != nil {
		return "", err
	}
	switch u.Op {
	case expr.OpNot:
		return "NOT (" + x + ")", nil
	case expr.OpNeg:
		return "-" + x, nil
	case expr.OpConvert:
		return x, nil
	default:
		return "", &relerr.UnsupportedExpr{Node: u.String(), Detail: fmt.Sprintf("unary operator %d", u.Op)}
	}
}

func (c *Compiler) compileCond(cond *expr.Cond) (string, error) {
	test, err := c.Compile(cond.Test)
	if err != nil {
		return "", err
	}
	then, err := c.Compile(cond.Then)
	if err != nil {
		return "", err
	}
	els, err := c.Compile(cond.Else)
	if err != nil {
		return "", err
	}
	return "CASE WHEN " + test + " THEN " + then + " ELSE " + els + " END", nil
}

func (c *Compiler) compileArray(a *expr.Array) (string, error) {
	if len(a.Elems) == 0 {
		if a.ElemType == "" {
			return "", &relerr.UnsupportedExpr{Node: a.String(), Detail: "empty array literal without an element type"}
		}
		return "ARRAY[]::" + a.ElemType + "[]", nil
	}
	elems := make([]string, len(a.Elems))
	for i, e := range a.Elems {
		sql, err := c.Compile(e)
		if err != nil {
			return "", err
		}
		elems[i] = sql
	}
	return "ARRAY[" + strings.Join(elems, ", ") + "]", nil
}

// resolveMember maps a member path to a quoted, alias-qualified column.
// A trailing Length segment off a string member compiles to LENGTH.
func (c *Compiler) resolveMember(m *expr.Member) (string, error) {
	if len(m.Path) == 0 {
		return "", &relerr.UnresolvableReference{Ref: m.String(), Detail: "empty member path"}
	}
	path := m.Path
	wrapLength := false
	if last := path[len(path)-1]; last == "Length" && len(path) > 1 {
		if _, ok := c.fieldAt(path[:len(path)-1]); ok {
			path = path[:len(path)-1]
			wrapLength = true
		}
	}

	sql, err := c.memberColumn(path)
	if err != nil {
		return "", err
	}
	if wrapLength {
		return "LENGTH(" + sql + ")", nil
	}
	return sql, nil
}

// fieldAt returns the field descriptor a member path ends in, if it
// resolves.
func (c *Compiler) fieldAt(path []string) (*metadata.FieldDesc, bool) {
	if len(path) == 0 {
		return nil, false
	}
	if len(path) == 1 {
		return c.meta.FieldByName(path[0])
	}
	if c.plan == nil {
		return nil, false
	}
	node, ok := c.plan.NodeFor(strings.Join(path[:len(path)-1], "."))
	if !ok {
		return nil, false
	}
	return node.Meta.FieldByName(path[len(path)-1])
}

func (c *Compiler) memberColumn(path []string) (string, error) {
	// Direct property of the root parameter.
	if len(path) == 1 {
		f, ok := c.meta.FieldByName(path[0])
		if !ok {
			return "", &relerr.UnresolvableReference{
				Ref:    path[0],
				Detail: fmt.Sprintf("type %q has no property %q", c.meta.Name, path[0]),
			}
		}
		col := c.san.QuoteIdentifier(f.Column)
		if c.plan != nil {
			return c.san.QuoteIdentifier(plan.RootAlias) + "." + col, nil
		}
		return col, nil
	}

	// Navigation chain: every hop must be covered by a registered
	// include so it has a join alias.
	relPath := strings.Join(path[:len(path)-1], ".")
	if c.plan == nil {
		return "", &relerr.UnresolvableReference{
			Ref:    strings.Join(path, "."),
			Detail: fmt.Sprintf("navigation chain %q has no matching include", relPath),
		}
	}
	node, ok := c.plan.NodeFor(relPath)
	if !ok {
		return "", &relerr.UnresolvableReference{
			Ref:    strings.Join(path, "."),
			Detail: fmt.Sprintf("navigation chain %q has no matching include", relPath),
		}
	}
	f, ok := node.Meta.FieldByName(path[len(path)-1])
	if !ok {
		return "", &relerr.UnresolvableReference{
			Ref:    strings.Join(path, "."),
			Detail: fmt.Sprintf("type %q has no property %q", node.Meta.Name, path[len(path)-1]),
		}
	}
	return c.san.QuoteIdentifier(node.Alias) + "." + c.san.QuoteIdentifier(f.Column), nil
}

// formatConstant renders a constant according to the compilation mode.
func (c *Compiler) formatConstant(v any) (string, error) {
	if c.mode == Parameterized {
		n := c.offset + len(c.params) + 1
		c.params = append(c.params, Param{Name: "p" + strconv.Itoa(n), Value: v})
		return c.san.Placeholder(n), nil
	}
	if t, ok := v.(time.Time); ok {
		if d := time.Since(t); d > -nowTolerance && d < nowTolerance {
			return c.san.Now(), nil
		}
	}
	return c.san.FormatValue(v)
}

// isString reports whether an expression is string-typed, as far as the
// metadata can tell.
func (c *Compiler) isString(e expr.Expr) bool {
	switch node := e.(type) {
	case *expr.Value:
		_, ok := node.V.(string)
		return ok
	case *expr.Member:
		f, ok := c.fieldAt(node.Path)
		return ok && f.Kind == metadata.KindString
	case *expr.Call:
		switch node.Method {
		case "ToLower", "ToUpper", "Trim", "Replace", "Substring":
			return true
		}
		return false
	case *expr.Binary:
		return node.Op == expr.OpAdd && c.isString(node.L) && c.isString(node.R)
	case *expr.External:
		v, err := c.extract(node)
		if err != nil {
			return false
		}
		_, ok := v.(string)
		return ok
	default:
		return false
	}
}

// ResolveGroupColumn resolves a group key selector to a single root
// column. Computed keys do not resolve; the caller falls back to
// in-memory grouping.
func (c *Compiler) ResolveGroupColumn(key expr.Expr) (string, *metadata.FieldDesc, error) {
	m, ok := key.(*expr.Member)
	if !ok || len(m.Path) != 1 {
		return "", nil, &relerr.UnresolvableReference{
			Ref:    key.String(),
			Detail: "group key is not a plain member access",
		}
	}
	f, ok := c.meta.FieldByName(m.Path[0])
	if !ok {
		return "", nil, &relerr.UnresolvableReference{
			Ref:    m.String(),
			Detail: fmt.Sprintf("type %q has no property %q", c.meta.Name, m.Path[0]),
		}
	}
	col := c.san.QuoteIdentifier(f.Column)
	if c.plan != nil {
		col = c.san.QuoteIdentifier(plan.RootAlias) + "." + col
	}
	return col, f, nil
}

// CompileHaving compiles a HAVING predicate. groupColumn is the
// rendered GROUP BY column that group Key references resolve to.
func (c *Compiler) CompileHaving(pred expr.Expr, groupColumn string) (string, error) {
	saved := c.havingKey
	c.havingKey = groupColumn
	defer func() { c.havingKey = saved }()
	return c.Compile(pred)
}

// CompileAggregate renders an aggregate call. Count ranges over rows;
// the rest range over a member selector.
func (c *Compiler) CompileAggregate(a *expr.Agg) (string, error) {
	if a.Fn == expr.AggCount {
		// A collection include fans the root entity out across joined
		// rows; counting those rows would overcount. Count distinct
		// root keys instead.
		if c.plan != nil && c.plan.HasCollection() {
			if pk := c.meta.PrimaryKey(); pk != nil {
				return "COUNT(DISTINCT " +
					c.san.QuoteIdentifier(plan.RootAlias) + "." + c.san.QuoteIdentifier(pk.Column) +
					")", nil
			}
		}
		return "COUNT(*)", nil
	}
	m, ok := a.Selector.(*expr.Member)
	if !ok {
		node := "<nil>"
		if a.Selector != nil {
			node = a.Selector.String()
		}
		return "", &relerr.UnsupportedExpr{Node: node, Detail: "aggregate selector is not a member access"}
	}
	col, err := c.memberColumn(m.Path)
	if err != nil {
		return "", err
	}
	var fn string
	switch a.Fn {
	case expr.AggSum:
		fn = "SUM"
	case expr.AggAvg:
		fn = "AVG"
	case expr.AggMax:
		fn = "MAX"
	case expr.AggMin:
		fn = "MIN"
	default:
		return "", &relerr.UnsupportedExpr{Node: a.String(), Detail: fmt.Sprintf("aggregate %s", a.Fn)}
	}
	return fn + "(" + col + ")", nil
}
