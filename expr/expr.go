// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package expr defines the typed expression trees accepted by the query
// engine. Expressions are built with the constructor functions in this
// package and handed to the compiler, which turns them into SQL fragments.
//
// The node set is closed: the compiler dispatches over exactly the types
// declared here and rejects anything else with an unsupported-expression
// error.
package expr

import (
	"fmt"
	"strings"
)

// Expr is a node of a typed expression tree.
type Expr interface {
	// String returns a textual form of the expression used in error
	// messages and tests.
	String() string
	isExpr()
}

// Op is a binary operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpGt
	OpGe
	OpLt
	OpLe
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpCoalesce
)

var opNames = map[Op]string{
	OpEq: "==", OpNe: "!=", OpGt: ">", OpGe: ">=", OpLt: "<", OpLe: "<=",
	OpAnd: "&&", OpOr: "||", OpAdd: "+", OpSub: "-", OpMul: "*",
	OpDiv: "/", OpMod: "%", OpCoalesce: "??",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Binary applies Op to two operands.
type Binary struct {
	Op   Op
	L, R Expr
}

func (b *Binary) isExpr() {}

func (b *Binary) String() string {
	return "(" + b.L.String() + " " + b.Op.String() + " " + b.R.String() + ")"
}

// Member references a property of the query's root entity, or a
// navigation chain starting at it ("Author", "Author.Company.Name").
// A trailing "Length" segment off a string property is rewritten by the
// compiler to LENGTH(...).
type Member struct {
	Path []string
}

func (m *Member) isExpr() {}

func (m *Member) String() string { return strings.Join(m.Path, ".") }

// Value is a constant rendered either inline or as a bound parameter,
// depending on the compilation mode.
type Value struct {
	V any
}

func (v *Value) isExpr() {}

func (v *Value) String() string {
	if s, ok := v.V.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprintf("%v", v.V)
}

// External references a member of a captured value that is not the query
// root. The compiler extracts its runtime value through the metadata
// registry's accessors and treats the result as a constant.
type External struct {
	// TypeName is the registered entity type of the captured value.
	TypeName string
	// Path is the member chain to read off the captured value.
	Path []string
	// From is the captured value itself.
	From any
}

func (e *External) isExpr() {}

func (e *External) String() string {
	return "<" + e.TypeName + ">." + strings.Join(e.Path, ".")
}

// UnaryOp is a unary operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
	// OpConvert marks a source-language type conversion. It does not
	// change SQL semantics and compiles to its operand unchanged.
	OpConvert
)

// Unary applies UnaryOp to one operand.
type Unary struct {
	Op UnaryOp
	X  Expr
}

func (u *Unary) isExpr() {}

func (u *Unary) String() string {
	switch u.Op {
	case OpNot:
		return "!(" + u.X.String() + ")"
	case OpNeg:
		return "-(" + u.X.String() + ")"
	default:
		return u.X.String()
	}
}

// Call is a method or function application. Recv is nil for free
// functions. The compiler resolves Method against its dispatch table;
// unknown names are a compile error.
type Call struct {
	Method string
	Recv   Expr
	Args   []Expr
}

func (c *Call) isExpr() {}

func (c *Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = a.String()
	}
	if c.Recv == nil {
		return c.Method + "(" + strings.Join(args, ", ") + ")"
	}
	return c.Recv.String() + "." + c.Method + "(" + strings.Join(args, ", ") + ")"
}

// Cond is a ternary conditional, rendered as CASE WHEN.
type Cond struct {
	Test, Then, Else Expr
}

func (c *Cond) isExpr() {}

func (c *Cond) String() string {
	return "(" + c.Test.String() + " ? " + c.Then.String() + " : " + c.Else.String() + ")"
}

// Array is an array literal. ElemType is the SQL element type used to
// render a typed empty array; it may be empty when Elems is not.
type Array struct {
	Elems    []Expr
	ElemType string
}

func (a *Array) isExpr() {}

func (a *Array) String() string {
	elems := make([]string, len(a.Elems))
	for i, e := range a.Elems {
		elems[i] = e.String()
	}
	return "[" + strings.Join(elems, ", ") + "]"
}

// AggFn is an aggregate function usable in HAVING predicates and scalar
// aggregate queries.
type AggFn int

const (
	AggCount AggFn = iota
	AggSum
	AggAvg
	AggMax
	AggMin
)

var aggNames = map[AggFn]string{
	AggCount: "Count", AggSum: "Sum", AggAvg: "Average",
	AggMax: "Max", AggMin: "Min",
}

func (a AggFn) String() string {
	if n, ok := aggNames[a]; ok {
		return n
	}
	return fmt.Sprintf("agg(%d)", int(a))
}

// Agg is an aggregate call over the rows of a group. Selector is the
// member the aggregate ranges over; it is nil for Count.
type Agg struct {
	Fn       AggFn
	Selector Expr
}

func (a *Agg) isExpr() {}

func (a *Agg) String() string {
	if a.Selector == nil {
		return a.Fn.String() + "()"
	}
	return a.Fn.String() + "(" + a.Selector.String() + ")"
}

// GroupKey references the grouping key inside a HAVING predicate.
type GroupKey struct{}

func (g *GroupKey) isExpr() {}

func (g *GroupKey) String() string { return "Key" }

// Assignment pairs a root entity property with the expression whose
// compiled value it is set to. A list of assignments compiles to a SQL
// SET clause.
type Assignment struct {
	Prop  string
	Value Expr
}

func (a Assignment) String() string {
	return a.Prop + " = " + a.Value.String()
}
