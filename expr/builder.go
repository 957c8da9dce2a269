// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package expr

// Prop references a property of the root entity, or a navigation chain
// when more than one segment is given.
func Prop(path ...string) *Member { return &Member{Path: path} }

// Val wraps a constant.
func Val(v any) *Value { return &Value{V: v} }

// Capture references a member chain on a captured value registered under
// typeName. Its runtime value is extracted at compile time and treated
// as a constant.
func Capture(typeName string, from any, path ...string) *External {
	return &External{TypeName: typeName, Path: path, From: from}
}

func binary(op Op, l, r Expr) *Binary { return &Binary{Op: op, L: l, R: r} }

// Eq compares for equality. Comparing against Val(nil) compiles to
// IS NULL.
func Eq(l, r Expr) *Binary { return binary(OpEq, l, r) }

// Ne compares for inequality. Comparing against Val(nil) compiles to
// IS NOT NULL.
func Ne(l, r Expr) *Binary       { return binary(OpNe, l, r) }
func Gt(l, r Expr) *Binary       { return binary(OpGt, l, r) }
func Ge(l, r Expr) *Binary       { return binary(OpGe, l, r) }
func Lt(l, r Expr) *Binary       { return binary(OpLt, l, r) }
func Le(l, r Expr) *Binary       { return binary(OpLe, l, r) }
func And(l, r Expr) *Binary      { return binary(OpAnd, l, r) }
func Or(l, r Expr) *Binary       { return binary(OpOr, l, r) }
func Add(l, r Expr) *Binary      { return binary(OpAdd, l, r) }
func Sub(l, r Expr) *Binary      { return binary(OpSub, l, r) }
func Mul(l, r Expr) *Binary      { return binary(OpMul, l, r) }
func Div(l, r Expr) *Binary      { return binary(OpDiv, l, r) }
func Mod(l, r Expr) *Binary      { return binary(OpMod, l, r) }
func Coalesce(l, r Expr) *Binary { return binary(OpCoalesce, l, r) }

// Not negates a boolean expression.
func Not(x Expr) *Unary { return &Unary{Op: OpNot, X: x} }

// Neg negates a numeric expression.
func Neg(x Expr) *Unary { return &Unary{Op: OpNeg, X: x} }

// Convert marks a transparent type conversion.
func Convert(x Expr) *Unary { return &Unary{Op: OpConvert, X: x} }

// If builds a conditional, rendered as CASE WHEN test THEN a ELSE b END.
func If(test, then, els Expr) *Cond { return &Cond{Test: test, Then: then, Else: els} }

// ArrayOf builds an array literal. elemType is the SQL element type,
// required to render a typed empty array.
func ArrayOf(elemType string, elems ...Expr) *Array {
	return &Array{Elems: elems, ElemType: elemType}
}

// Contains matches strings containing s, or membership when the receiver
// is a collection constant.
func Contains(recv Expr, arg Expr) *Call {
	return &Call{Method: "Contains", Recv: recv, Args: []Expr{arg}}
}

// In tests x for membership of vals.
func In(x Expr, vals ...any) *Call {
	elems := make([]Expr, len(vals))
	for i, v := range vals {
		elems[i] = Val(v)
	}
	return &Call{Method: "In", Recv: x, Args: elems}
}

func StartsWith(recv, arg Expr) *Call {
	return &Call{Method: "StartsWith", Recv: recv, Args: []Expr{arg}}
}

func EndsWith(recv, arg Expr) *Call {
	return &Call{Method: "EndsWith", Recv: recv, Args: []Expr{arg}}
}

// ContainsFold, StartsWithFold and EndsWithFold are the case-insensitive
// variants, compiled with the dialect's case-insensitive LIKE.
func ContainsFold(recv, arg Expr) *Call {
	return &Call{Method: "ContainsIgnoreCase", Recv: recv, Args: []Expr{arg}}
}

func StartsWithFold(recv, arg Expr) *Call {
	return &Call{Method: "StartsWithIgnoreCase", Recv: recv, Args: []Expr{arg}}
}

func EndsWithFold(recv, arg Expr) *Call {
	return &Call{Method: "EndsWithIgnoreCase", Recv: recv, Args: []Expr{arg}}
}

func call0(method string, recv Expr) *Call { return &Call{Method: method, Recv: recv} }

// Length of a string expression, rendered as LENGTH(...).
func Length(x Expr) *Call  { return call0("Length", x) }
func Lower(x Expr) *Call   { return call0("ToLower", x) }
func Upper(x Expr) *Call   { return call0("ToUpper", x) }
func Trim(x Expr) *Call    { return call0("Trim", x) }
func Abs(x Expr) *Call     { return call0("Abs", x) }
func Ceiling(x Expr) *Call { return call0("Ceiling", x) }
func Floor(x Expr) *Call   { return call0("Floor", x) }
func Sqrt(x Expr) *Call    { return call0("Sqrt", x) }

func Round(x Expr, digits int) *Call {
	return &Call{Method: "Round", Recv: x, Args: []Expr{Val(digits)}}
}

func Power(x, y Expr) *Call {
	return &Call{Method: "Power", Recv: x, Args: []Expr{y}}
}

func Replace(x, old, new Expr) *Call {
	return &Call{Method: "Replace", Recv: x, Args: []Expr{old, new}}
}

func Substring(x Expr, start, length int) *Call {
	return &Call{Method: "Substring", Recv: x, Args: []Expr{Val(start), Val(length)}}
}

// Date part accessors, rendered as EXTRACT(part FROM ...).
func Year(x Expr) *Call   { return call0("Year", x) }
func Month(x Expr) *Call  { return call0("Month", x) }
func Day(x Expr) *Call    { return call0("Day", x) }
func Hour(x Expr) *Call   { return call0("Hour", x) }
func Minute(x Expr) *Call { return call0("Minute", x) }
func Second(x Expr) *Call { return call0("Second", x) }

// Date arithmetic, rendered as interval addition.
func AddYears(x Expr, n Expr) *Call   { return &Call{Method: "AddYears", Recv: x, Args: []Expr{n}} }
func AddMonths(x Expr, n Expr) *Call  { return &Call{Method: "AddMonths", Recv: x, Args: []Expr{n}} }
func AddDays(x Expr, n Expr) *Call    { return &Call{Method: "AddDays", Recv: x, Args: []Expr{n}} }
func AddHours(x Expr, n Expr) *Call   { return &Call{Method: "AddHours", Recv: x, Args: []Expr{n}} }
func AddMinutes(x Expr, n Expr) *Call { return &Call{Method: "AddMinutes", Recv: x, Args: []Expr{n}} }
func AddSeconds(x Expr, n Expr) *Call { return &Call{Method: "AddSeconds", Recv: x, Args: []Expr{n}} }

// Count aggregates group size, rendered as COUNT(*).
func Count() *Agg { return &Agg{Fn: AggCount} }

// Sum, Average, Max and Min aggregate over the member named by selector.
func Sum(selector Expr) *Agg     { return &Agg{Fn: AggSum, Selector: selector} }
func Average(selector Expr) *Agg { return &Agg{Fn: AggAvg, Selector: selector} }
func Max(selector Expr) *Agg     { return &Agg{Fn: AggMax, Selector: selector} }
func Min(selector Expr) *Agg     { return &Agg{Fn: AggMin, Selector: selector} }

// Key references the grouping key inside a HAVING predicate.
func Key() *GroupKey { return &GroupKey{} }

// Set builds one assignment of an update expression.
func Set(prop string, value Expr) Assignment {
	return Assignment{Prop: prop, Value: value}
}
