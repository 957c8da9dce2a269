// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package relerr defines the error types surfaced by the engine. Each
// failure class has its own type so callers can tell a translation
// problem from a row-mapping problem without string matching.
package relerr

import "fmt"

// UnsupportedExpr reports an expression node, operator or method with no
// SQL translation. It is always a hard failure.
type UnsupportedExpr struct {
	// Node is the textual form of the offending sub-expression.
	Node string
	// Detail names what exactly was not supported.
	Detail string
}

func (e *UnsupportedExpr) Error() string {
	return fmt.Sprintf("unsupported expression: %s: %s", e.Detail, e.Node)
}

// UnresolvableReference reports a navigation chain or group key that
// cannot be mapped to a column.
type UnresolvableReference struct {
	Ref    string
	Detail string
}

func (e *UnresolvableReference) Error() string {
	return fmt.Sprintf("cannot resolve reference %q: %s", e.Ref, e.Detail)
}

// Mapping reports a row-to-entity conversion failure, carrying the
// position at which it happened. Materialization aborts on the first
// Mapping error; there is no partial-result mode.
type Mapping struct {
	Row      int
	Column   string
	Property string
	Err      error
}

func (e *Mapping) Error() string {
	return fmt.Sprintf("cannot map row %d, column %q, property %q: %s", e.Row, e.Column, e.Property, e.Err)
}

func (e *Mapping) Unwrap() error { return e.Err }

// Contract reports an engine API misuse, such as HAVING without a
// SQL-expressible GROUP BY or a missing primary key on an
// identity-requiring operation.
type Contract struct {
	Msg string
}

func (e *Contract) Error() string { return "contract violation: " + e.Msg }
