// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package relmap

import (
	"database/sql"

	"github.com/relmap/relmap/relerr"
)

// ErrNoRows is returned by First and the scalar aggregates when no row
// matched.
var ErrNoRows = sql.ErrNoRows

// ErrTXDone is returned when a finished transaction is used again.
var ErrTXDone = sql.ErrTxDone

// Error taxonomy, re-exported from relerr for convenience:
//
//   - UnsupportedExprError: an expression node, operator or method with
//     no SQL translation. Always a hard failure.
//   - UnresolvableReferenceError: a navigation chain or group key that
//     cannot map to a column. GROUP BY resolution degrades to in-memory
//     grouping instead; everywhere else this is a hard failure.
//   - MappingError: a row/column/navigation conversion failure, carrying
//     row index, column and property context. Aborts the whole read.
//   - ContractError: engine API misuse.
type (
	UnsupportedExprError       = relerr.UnsupportedExpr
	UnresolvableReferenceError = relerr.UnresolvableReference
	MappingError               = relerr.Mapping
	ContractError              = relerr.Contract
)
