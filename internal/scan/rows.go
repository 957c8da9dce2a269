// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package scan

import "database/sql"

// RowReader is the forward-only cursor the materializer consumes. The
// engine never seeks backward. A raw value of nil means the column was
// NULL.
type RowReader interface {
	// Columns returns the result set's column names.
	Columns() []string
	// Next advances to the next row, reporting false at the end.
	Next() bool
	// Values returns the current row's raw driver values.
	Values() ([]any, error)
	// Err returns the error, if any, that ended iteration.
	Err() error
}

// rowsReader adapts database/sql rows to RowReader.
type rowsReader struct {
	rows *sql.Rows
	cols []string
}

// Rows wraps a sql.Rows cursor.
func Rows(rows *sql.Rows) (RowReader, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	return &rowsReader{rows: rows, cols: cols}, nil
}

func (r *rowsReader) Columns() []string { return r.cols }

func (r *rowsReader) Next() bool { return r.rows.Next() }

func (r *rowsReader) Values() ([]any, error) {
	vals := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return vals, nil
}

func (r *rowsReader) Err() error { return r.rows.Err() }
