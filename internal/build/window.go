// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package build

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/relerr"
)

// BoundKind is a window frame bound.
type BoundKind int

const (
	BoundUnset BoundKind = iota
	BoundUnboundedPreceding
	BoundPreceding
	BoundCurrentRow
	BoundFollowing
	BoundUnboundedFollowing
)

// Bound is one end of a window frame.
type Bound struct {
	Kind BoundKind
	N    int
}

func (b Bound) render() string {
	switch b.Kind {
	case BoundUnboundedPreceding:
		return "UNBOUNDED PRECEDING"
	case BoundPreceding:
		return strconv.Itoa(b.N) + " PRECEDING"
	case BoundCurrentRow:
		return "CURRENT ROW"
	case BoundFollowing:
		return strconv.Itoa(b.N) + " FOLLOWING"
	case BoundUnboundedFollowing:
		return "UNBOUNDED FOLLOWING"
	default:
		return ""
	}
}

// Window describes one window-function projection.
type Window struct {
	fn     string
	column string

	// LEAD/LAG offset and default, NTH_VALUE position.
	offset     int
	hasDefault bool
	defaultSQL string
	nth        int

	partitions []string
	orders     []struct {
		col  string
		desc bool
	}
	frameUnit  string
	frameStart Bound
	frameEnd   Bound
	alias      string
}

// NewWindow starts a window-function descriptor. column may be empty
// for functions that take no argument (ROW_NUMBER, RANK, DENSE_RANK).
func NewWindow(fn, column string) *Window {
	return &Window{fn: strings.ToUpper(fn), column: column, offset: 1, nth: 1}
}

func (w *Window) PartitionBy(columns ...string) *Window {
	w.partitions = append(w.partitions, columns...)
	return w
}

func (w *Window) OrderBy(column string) *Window {
	w.orders = append(w.orders, struct {
		col  string
		desc bool
	}{column, false})
	return w
}

func (w *Window) OrderByDesc(column string) *Window {
	w.orders = append(w.orders, struct {
		col  string
		desc bool
	}{column, true})
	return w
}

// WithOffset sets the LEAD/LAG row offset.
func (w *Window) WithOffset(n int) *Window { w.offset = n; return w }

// WithDefault sets the LEAD/LAG default, given as a SQL literal.
func (w *Window) WithDefault(sql string) *Window {
	w.hasDefault = true
	w.defaultSQL = sql
	return w
}

// Nth sets the NTH_VALUE position.
func (w *Window) Nth(n int) *Window { w.nth = n; return w }

// Rows and Range set the frame clause. The frame is emitted only when
// bounds were explicitly set and are not both CURRENT ROW.
func (w *Window) Rows(start, end Bound) *Window {
	w.frameUnit = "ROWS"
	w.frameStart, w.frameEnd = start, end
	return w
}

func (w *Window) Range(start, end Bound) *Window {
	w.frameUnit = "RANGE"
	w.frameStart, w.frameEnd = start, end
	return w
}

// As sets the output column alias.
func (w *Window) As(alias string) *Window { w.alias = alias; return w }

// render assembles the window projection. tableAlias qualifies every
// column reference when the query carries joins, so names shared
// between the root and an included table stay unambiguous; empty means
// unqualified.
func (w *Window) render(san dialect.Sanitizer, tableAlias string) (string, error) {
	col := func(name string) string {
		if tableAlias == "" {
			return san.QuoteIdentifier(name)
		}
		return san.QuoteIdentifier(tableAlias) + "." + san.QuoteIdentifier(name)
	}

	var b strings.Builder
	b.WriteString(w.fn)

	switch w.fn {
	case "ROW_NUMBER", "RANK", "DENSE_RANK", "CUME_DIST", "PERCENT_RANK":
		b.WriteString("()")
	case "LEAD", "LAG":
		if w.column == "" {
			return "", &relerr.UnsupportedExpr{Node: w.fn, Detail: "window function needs a column argument"}
		}
		b.WriteString("(")
		b.WriteString(col(w.column))
		b.WriteString(", ")
		b.WriteString(strconv.Itoa(w.offset))
		if w.hasDefault {
			b.WriteString(", ")
			b.WriteString(w.defaultSQL)
		}
		b.WriteString(")")
	case "NTH_VALUE":
		if w.column == "" {
			return "", &relerr.UnsupportedExpr{Node: w.fn, Detail: "window function needs a column argument"}
		}
		fmt.Fprintf(&b, "(%s, %d)", col(w.column), w.nth)
	default:
		if w.column == "" {
			return "", &relerr.UnsupportedExpr{Node: w.fn, Detail: "window function needs a column argument"}
		}
		b.WriteString("(")
		b.WriteString(col(w.column))
		b.WriteString(")")
	}

	b.WriteString(" OVER (")
	wrote := false
	if len(w.partitions) > 0 {
		cols := make([]string, len(w.partitions))
		for i, p := range w.partitions {
			cols[i] = col(p)
		}
		b.WriteString("PARTITION BY ")
		b.WriteString(strings.Join(cols, ", "))
		wrote = true
	}
	if len(w.orders) > 0 {
		if wrote {
			b.WriteString(" ")
		}
		b.WriteString("ORDER BY ")
		for i, o := range w.orders {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col(o.col))
			if o.desc {
				b.WriteString(" DESC")
			} else {
				b.WriteString(" ASC")
			}
		}
		wrote = true
	}
	if w.emitFrame() {
		if wrote {
			b.WriteString(" ")
		}
		b.WriteString(w.frameUnit)
		b.WriteString(" BETWEEN ")
		b.WriteString(w.frameStart.render())
		b.WriteString(" AND ")
		b.WriteString(w.frameEnd.render())
	}
	b.WriteString(")")

	if w.alias != "" {
		b.WriteString(" AS ")
		b.WriteString(san.QuoteIdentifier(w.alias))
	}
	return b.String(), nil
}

// emitFrame reports whether the frame clause should be rendered: both
// bounds set and not both the default CURRENT ROW.
func (w *Window) emitFrame() bool {
	if w.frameUnit == "" || w.frameStart.Kind == BoundUnset || w.frameEnd.Kind == BoundUnset {
		return false
	}
	return !(w.frameStart.Kind == BoundCurrentRow && w.frameEnd.Kind == BoundCurrentRow)
}
