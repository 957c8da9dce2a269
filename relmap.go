// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package relmap

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/internal/build"
	"github.com/relmap/relmap/internal/compile"
	"github.com/relmap/relmap/internal/convert"
	"github.com/relmap/relmap/internal/scan"
	"github.com/relmap/relmap/metadata"
)

// Execer runs SQL commands. *sql.DB, *sql.Tx and *TX satisfy it.
type Execer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Converter is the generic fallback for raw driver values the dialect
// dispatch does not special-case. It must fail rather than truncate.
type Converter interface {
	Convert(raw any, f *metadata.FieldDesc) (any, error)
}

// Mapper is the query surface for one entity type. It is safe for
// concurrent use; each Query it creates is not.
type Mapper struct {
	reg  *metadata.Registry
	meta *metadata.EntityMeta
	san  dialect.Sanitizer
	conv Converter

	mu      sync.Mutex
	lastSQL string
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithConverter installs a custom generic value converter.
func WithConverter(c Converter) Option {
	return func(m *Mapper) { m.conv = c }
}

// NewMapper binds a mapper to a registered entity type.
func NewMapper(reg *metadata.Registry, entity string, san dialect.Sanitizer, opts ...Option) (*Mapper, error) {
	if reg == nil {
		return nil, fmt.Errorf("cannot create mapper: need metadata registry, got nil")
	}
	if san == nil {
		return nil, fmt.Errorf("cannot create mapper: need sanitizer, got nil")
	}
	meta, err := reg.Lookup(entity)
	if err != nil {
		return nil, fmt.Errorf("cannot create mapper: %s", err)
	}
	m := &Mapper{reg: reg, meta: meta, san: san, conv: convert.Default{}}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Meta returns the entity metadata the mapper is bound to.
func (m *Mapper) Meta() *metadata.EntityMeta { return m.meta }

// Query starts a query accumulator in parameterized mode. The returned
// Query is mutated in place by its chaining methods and must not be
// shared across concurrent logical queries.
func (m *Mapper) Query() *Query {
	return &Query{m: m, plan: build.New(m.meta, m.reg, m.san, build.Parameterized)}
}

// LiteralQuery starts a query accumulator that renders every constant
// inline through the Sanitizer instead of binding parameters.
func (m *Mapper) LiteralQuery() *Query {
	return &Query{m: m, plan: build.New(m.meta, m.reg, m.san, build.Literal)}
}

// LastSql returns the most recently rendered SQL text, for diagnostics.
func (m *Mapper) LastSql() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSQL
}

func (m *Mapper) storeSQL(sql string) {
	m.mu.Lock()
	m.lastSQL = sql
	m.mu.Unlock()
}

// runQuery checks cancellation, records the SQL and issues the command.
func (m *Mapper) runQuery(ctx context.Context, db Execer, query string, params []compile.Param) (*sql.Rows, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.storeSQL(query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return db.QueryContext(ctx, query, paramValues(params)...)
}

func (m *Mapper) runExec(ctx context.Context, db Execer, query string, params []compile.Param) (sql.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	m.storeSQL(query)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return db.ExecContext(ctx, query, paramValues(params)...)
}

func paramValues(params []compile.Param) []any {
	vals := make([]any, len(params))
	for i, p := range params {
		vals[i] = p.Value
	}
	return vals
}

// materialize drains rows into entities using a fresh identity map and
// processed-set cache, both scoped to this call.
func (m *Mapper) materialize(ctx context.Context, rows *sql.Rows, rendered *build.Rendered) ([]any, error) {
	defer rows.Close()
	reader, err := scan.Rows(rows)
	if err != nil {
		return nil, err
	}
	mat := scan.New(m.meta, m.reg, rendered.Plan, m.conv)
	entities, err := mat.All(ctx, reader)
	if err != nil {
		return nil, err
	}
	if cerr := rows.Close(); cerr != nil {
		return nil, cerr
	}
	return entities, nil
}
