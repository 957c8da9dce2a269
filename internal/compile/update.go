// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package compile

import (
	"fmt"
	"strings"

	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/relerr"
)

// CompileSet turns a property-initializer list into a SQL SET clause,
// one "column" = value pair per assignment. Values follow the same
// compilation rules as predicate constants.
func (c *Compiler) CompileSet(assigns []expr.Assignment) (string, error) {
	if len(assigns) == 0 {
		return "", &relerr.Contract{Msg: "update expression assigns no properties"}
	}
	pairs := make([]string, len(assigns))
	for i, a := range assigns {
		f, ok := c.meta.FieldByName(a.Prop)
		if !ok {
			return "", &relerr.UnresolvableReference{
				Ref:    a.String(),
				Detail: fmt.Sprintf("type %q has no property %q", c.meta.Name, a.Prop),
			}
		}
		if a.Value == nil {
			return "", &relerr.UnsupportedExpr{Node: a.String(), Detail: "assignment without a value"}
		}
		val, err := c.Compile(a.Value)
		if err != nil {
			return "", err
		}
		pairs[i] = c.san.QuoteIdentifier(f.Column) + " = " + val
	}
	return strings.Join(pairs, ", "), nil
}
