// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package compile

import (
	"fmt"
	"reflect"

	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/relerr"
)

// intervalUnits maps date arithmetic methods to interval units.
var intervalUnits = map[string]string{
	"AddYears":   "1 year",
	"AddMonths":  "1 month",
	"AddDays":    "1 day",
	"AddHours":   "1 hour",
	"AddMinutes": "1 minute",
	"AddSeconds": "1 second",
}

// extractParts maps date part accessors to EXTRACT fields.
var extractParts = map[string]string{
	"Year":   "YEAR",
	"Month":  "MONTH",
	"Day":    "DAY",
	"Hour":   "HOUR",
	"Minute": "MINUTE",
	"Second": "SECOND",
}

// sqlFunctions maps simple method names 1:1 to SQL functions.
var sqlFunctions = map[string]string{
	"Length":  "LENGTH",
	"ToLower": "LOWER",
	"ToUpper": "UPPER",
	"Trim":    "TRIM",
	"Abs":     "ABS",
	"Ceiling": "CEIL",
	"Floor":   "FLOOR",
	"Sqrt":    "SQRT",
}

func (c *Compiler) compileCall(call *expr.Call) (string, error) {
	switch call.Method {
	case "Contains":
		// list.Contains(x) is membership; string.Contains(s) is a
		// substring match.
		if vals, ok := collectionReceiver(call.Recv); ok {
			if len(call.Args) != 1 {
				return "", badCall(call, "collection Contains takes one argument")
			}
			return c.compileIn(call.Args[0], vals, call)
		}
		return c.compileLike(call, "%", "%", false)
	case "ContainsIgnoreCase":
		return c.compileLike(call, "%", "%", true)
	case "StartsWith":
		return c.compileLike(call, "", "%", false)
	case "StartsWithIgnoreCase":
		return c.compileLike(call, "", "%", true)
	case "EndsWith":
		return c.compileLike(call, "%", "", false)
	case "EndsWithIgnoreCase":
		return c.compileLike(call, "%", "", true)
	case "In":
		vals := make([]any, len(call.Args))
		for i, a := range call.Args {
			v, ok := a.(*expr.Value)
			if !ok {
				return "", badCall(call, "In takes constant values")
			}
			vals[i] = v.V
		}
		return c.compileIn(call.Recv, vals, call)
	case "Round":
		x, err := c.Compile(call.Recv)
		if err != nil {
			return "", err
		}
		if len(call.Args) != 1 {
			return "", badCall(call, "Round takes the digit count")
		}
		d, err := c.Compile(call.Args[0])
		if err != nil {
			return "", err
		}
		return "ROUND(" + x + ", " + d + ")", nil
	case "Power":
		return c.compileFn2("POWER", call)
	case "Replace":
		x, err := c.Compile(call.Recv)
		if err != nil {
			return "", err
		}
		if len(call.Args) != 2 {
			return "", badCall(call, "Replace takes old and new values")
		}
		old, err := c.Compile(call.Args[0])
		if err != nil {
			return "", err
		}
		repl, err := c.Compile(call.Args[1])
		if err != nil {
			return "", err
		}
		return "REPLACE(" + x + ", " + old + ", " + repl + ")", nil
	case "Substring":
		return c.compileFn2("SUBSTR", call)
	}

	if part, ok := extractParts[call.Method]; ok {
		x, err := c.Compile(call.Recv)
		if err != nil {
			return "", err
		}
		return "EXTRACT(" + part + " FROM " + x + ")", nil
	}
	if unit, ok := intervalUnits[call.Method]; ok {
		x, err := c.Compile(call.Recv)
		if err != nil {
			return "", err
		}
		if len(call.Args) != 1 {
			return "", badCall(call, call.Method+" takes the amount to add")
		}
		n, err := c.Compile(call.Args[0])
		if err != nil {
			return "", err
		}
		return "(" + x + " + (" + n + ") * INTERVAL '" + unit + "')", nil
	}
	if fn, ok := sqlFunctions[call.Method]; ok {
		x, err := c.Compile(call.Recv)
		if err != nil {
			return "", err
		}
		return fn + "(" + x + ")", nil
	}

	return "", &relerr.UnsupportedExpr{
		Node:   call.String(),
		Detail: fmt.Sprintf("method %q has no SQL translation", call.Method),
	}
}

// compileFn2 renders FN(recv, arg1[, arg2]).
func (c *Compiler) compileFn2(fn string, call *expr.Call) (string, error) {
	x, err := c.Compile(call.Recv)
	if err != nil {
		return "", err
	}
	parts := []string{x}
	for _, a := range call.Args {
		sql, err := c.Compile(a)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	out := fn + "(" + parts[0]
	for _, p := range parts[1:] {
		out += ", " + p
	}
	return out + ")", nil
}

// compileLike renders a pattern match. In Literal mode with a constant
// pattern the wildcard-escaped pattern is inlined as one literal; in
// every other case the pattern is assembled with concatenation so the
// bound parameter keeps its exact input value.
func (c *Compiler) compileLike(call *expr.Call, before, after string, fold bool) (string, error) {
	if len(call.Args) != 1 {
		return "", badCall(call, call.Method+" takes the pattern fragment")
	}
	recv, err := c.Compile(call.Recv)
	if err != nil {
		return "", err
	}
	op := c.san.LikeOperator(fold)

	if c.mode == Literal {
		if s, ok := constantString(call.Args[0]); ok {
			pattern := before + c.san.EscapeLikePattern(s) + after
			return recv + " " + op + " " + c.san.QuoteLiteral(pattern), nil
		}
	}

	arg, err := c.Compile(call.Args[0])
	if err != nil {
		return "", err
	}
	pattern := arg
	if before != "" {
		pattern = c.san.Concat("'"+before+"'", pattern)
	}
	if after != "" {
		pattern = c.san.Concat(pattern, "'"+after+"'")
	}
	return recv + " " + op + " " + pattern, nil
}

// compileIn renders x IN (v1, v2, ...), formatting each element
// individually. An empty list can match nothing.
func (c *Compiler) compileIn(x expr.Expr, vals []any, call *expr.Call) (string, error) {
	if len(vals) == 0 {
		return "FALSE", nil
	}
	sql, err := c.Compile(x)
	if err != nil {
		return "", err
	}
	elems := make([]string, len(vals))
	for i, v := range vals {
		e, err := c.formatConstant(v)
		if err != nil {
			return "", err
		}
		elems[i] = e
	}
	out := sql + " IN ("
	for i, e := range elems {
		if i > 0 {
			out += ", "
		}
		out += e
	}
	return out + ")", nil
}

// collectionReceiver reports whether the receiver is a constant slice
// or array, returning its elements.
func collectionReceiver(recv expr.Expr) ([]any, bool) {
	v, ok := recv.(*expr.Value)
	if !ok || v.V == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v.V)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	vals := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		vals[i] = rv.Index(i).Interface()
	}
	return vals, true
}

func constantString(e expr.Expr) (string, bool) {
	v, ok := e.(*expr.Value)
	if !ok {
		return "", false
	}
	s, ok := v.V.(string)
	return s, ok
}

func badCall(call *expr.Call, detail string) error {
	return &relerr.UnsupportedExpr{Node: call.String(), Detail: detail}
}
