// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package dialect isolates the SQL dialect behind the Sanitizer
// interface. The engine emits identifiers and literals only through a
// Sanitizer and assumes they are safe afterwards.
package dialect

// Sanitizer supplies identifier quoting, literal escaping and the
// dialect-specific syntax fragments the engine needs.
type Sanitizer interface {
	// QuoteIdentifier quotes a table, column or alias name.
	QuoteIdentifier(name string) string

	// QuoteLiteral escapes and quotes a string literal.
	QuoteLiteral(s string) string

	// EscapeLikePattern escapes LIKE wildcards in s so it matches
	// itself. It does not quote.
	EscapeLikePattern(s string) string

	// FormatValue renders a non-string value as an inline SQL literal:
	// dates, booleans, binary, UUIDs, arrays, numbers and NULL.
	FormatValue(v any) (string, error)

	// Placeholder returns the parameter placeholder with 1-based index n.
	Placeholder(n int) string

	// Now returns the dialect's current-timestamp expression.
	Now() string

	// Concat joins two string-typed fragments.
	Concat(a, b string) string

	// LikeOperator returns the pattern-match operator, case-insensitive
	// if fold is set.
	LikeOperator(fold bool) string
}
