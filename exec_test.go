// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package relmap

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"

	. "gopkg.in/check.v1"

	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/metadata"
)

// fakeDriver serves canned result sets keyed by exact SQL text, so the
// execution paths can run against database/sql without a live server.
// It records every statement issued, in order.
type fakeDriver struct {
	results map[string]*fakeResult
	queries []string
}

type fakeResult struct {
	columns  []string
	rows     [][]driver.Value
	affected int64
}

func (d *fakeDriver) Connect(context.Context) (driver.Conn, error) { return &fakeConn{d: d}, nil }
func (d *fakeDriver) Driver() driver.Driver                        { return d }
func (d *fakeDriver) Open(string) (driver.Conn, error)             { return &fakeConn{d: d}, nil }

type fakeConn struct {
	d *fakeDriver
}

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return nil, fmt.Errorf("transactions not supported")
}

func (c *fakeConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	res, err := c.d.record(query)
	if err != nil {
		return nil, err
	}
	return &fakeRows{columns: res.columns, rows: res.rows}, nil
}

func (c *fakeConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := c.d.record(query)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(res.affected), nil
}

func (d *fakeDriver) record(query string) (*fakeResult, error) {
	d.queries = append(d.queries, query)
	res, ok := d.results[query]
	if !ok {
		return nil, fmt.Errorf("no canned result for %q", query)
	}
	return res, nil
}

type fakeRows struct {
	columns []string
	rows    [][]driver.Value
	i       int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.i >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.i])
	r.i++
	return nil
}

type ExecSuite struct {
	reg *metadata.Registry
}

var _ = Suite(&ExecSuite{})

func (s *ExecSuite) SetUpTest(c *C) {
	mapperSuite := &MapperSuite{}
	mapperSuite.SetUpTest(c)
	s.reg = mapperSuite.reg
}

func (s *ExecSuite) mapper(c *C) *Mapper {
	m, err := NewMapper(s.reg, "Book", dialect.Postgres{})
	c.Assert(err, IsNil)
	return m
}

func (s *ExecSuite) TestSelectWithIncludeRoundTrip(c *C) {
	d := &fakeDriver{results: map[string]*fakeResult{
		`SELECT "t0"."id", "t0"."title", "t0"."genre", "t0"."price", "t0"."author_id", ` +
			`"t1"."id" AS "t1_id", "t1"."name" AS "t1_name" ` +
			`FROM "books" AS "t0" ` +
			`LEFT JOIN "authors" AS "t1" ON "t1"."id" = "t0"."author_id"`: {
			columns: []string{"id", "title", "genre", "price", "author_id", "t1_id", "t1_name"},
			rows: [][]driver.Value{
				{int64(1), "Dracula", "horror", 9.5, int64(10), int64(10), "Stoker"},
				{int64(2), "Carmilla", "horror", 8.0, int64(10), int64(10), "Stoker"},
			},
		},
	}}
	db := sql.OpenDB(d)
	defer db.Close()

	entities, err := s.mapper(c).Query().Include("Author").Select(context.Background(), db)
	c.Assert(err, IsNil)
	c.Assert(entities, HasLen, 2)

	first := entities[0].(*testBook)
	second := entities[1].(*testBook)
	c.Assert(first.Title, Equals, "Dracula")
	c.Assert(first.Price, Equals, 9.5)
	c.Assert(first.Author, NotNil)
	c.Assert(first.Author.Name, Equals, "Stoker")
	// Both books point at the one materialized author instance.
	c.Assert(second.Author, Equals, first.Author)
}

func (s *ExecSuite) TestSelectGroupedRunsTwoPhases(c *C) {
	phaseA := `SELECT "genre" FROM "books" GROUP BY "genre" HAVING (COUNT(*) > $1)`
	phaseB := `SELECT "books".* FROM "books"`
	d := &fakeDriver{results: map[string]*fakeResult{
		phaseA: {
			columns: []string{"genre"},
			rows:    [][]driver.Value{{"gothic"}, {"weird"}},
		},
		phaseB: {
			columns: []string{"id", "title", "genre", "price", "author_id"},
			rows: [][]driver.Value{
				{int64(1), "a", "pulp", 1.0, int64(0)},
				{int64(2), "b", "gothic", 1.0, int64(0)},
				{int64(3), "c", "gothic", 1.0, int64(0)},
				{int64(4), "d", "weird", 1.0, int64(0)},
				{int64(5), "e", "weird", 1.0, int64(0)},
				{int64(6), "f", "weird", 1.0, int64(0)},
			},
		},
	}}
	db := sql.OpenDB(d)
	defer db.Close()

	groups, err := s.mapper(c).Query().
		GroupBy(expr.Prop("Genre")).
		Having(expr.Gt(expr.Count(), expr.Val(1))).
		SelectGrouped(context.Background(), db)
	c.Assert(err, IsNil)

	// The pulp group has one member and no qualifying key; the others
	// keep the row stream's first-occurrence order.
	c.Assert(groups, HasLen, 2)
	c.Assert(groups[0].Key, Equals, "gothic")
	c.Assert(groups[0].Entities, HasLen, 2)
	c.Assert(groups[1].Key, Equals, "weird")
	c.Assert(groups[1].Entities, HasLen, 3)

	c.Assert(d.queries, DeepEquals, []string{phaseA, phaseB})
}

func (s *ExecSuite) TestSelectGroupedEmptyKeysShortCircuits(c *C) {
	phaseA := `SELECT "genre" FROM "books" GROUP BY "genre" HAVING (COUNT(*) > $1)`
	d := &fakeDriver{results: map[string]*fakeResult{
		phaseA: {columns: []string{"genre"}},
	}}
	db := sql.OpenDB(d)
	defer db.Close()

	groups, err := s.mapper(c).Query().
		GroupBy(expr.Prop("Genre")).
		Having(expr.Gt(expr.Count(), expr.Val(100))).
		SelectGrouped(context.Background(), db)
	c.Assert(err, IsNil)
	c.Assert(groups, HasLen, 0)

	// No qualifying keys means the entity fetch never runs.
	c.Assert(d.queries, DeepEquals, []string{phaseA})
}

func (s *ExecSuite) TestSelectGroupedWithoutHavingUsesOneQuery(c *C) {
	fetch := `SELECT "books".* FROM "books"`
	d := &fakeDriver{results: map[string]*fakeResult{
		fetch: {
			columns: []string{"id", "title", "genre", "price", "author_id"},
			rows: [][]driver.Value{
				{int64(1), "a", "gothic", 1.0, int64(0)},
				{int64(2), "b", "pulp", 1.0, int64(0)},
				{int64(3), "c", "gothic", 1.0, int64(0)},
			},
		},
	}}
	db := sql.OpenDB(d)
	defer db.Close()

	groups, err := s.mapper(c).Query().
		GroupBy(expr.Prop("Genre")).
		SelectGrouped(context.Background(), db)
	c.Assert(err, IsNil)
	c.Assert(groups, HasLen, 2)
	c.Assert(groups[0].Key, Equals, "gothic")
	c.Assert(groups[0].Entities, HasLen, 2)
	c.Assert(groups[1].Key, Equals, "pulp")
	c.Assert(groups[1].Entities, HasLen, 1)
	c.Assert(d.queries, DeepEquals, []string{fetch})
}

func (s *ExecSuite) TestCountAndFirst(c *C) {
	d := &fakeDriver{results: map[string]*fakeResult{
		`SELECT COUNT(*) FROM "books"`: {
			columns: []string{"count"},
			rows:    [][]driver.Value{{int64(3)}},
		},
		`SELECT "books".* FROM "books" LIMIT 1`: {
			columns: []string{"id", "title", "genre", "price", "author_id"},
			rows: [][]driver.Value{
				{int64(7), "Dracula", "horror", 9.5, int64(0)},
			},
		},
	}}
	db := sql.OpenDB(d)
	defer db.Close()

	m := s.mapper(c)
	n, err := m.Query().Count(context.Background(), db)
	c.Assert(err, IsNil)
	c.Assert(n, Equals, int64(3))

	entity, err := m.Query().First(context.Background(), db)
	c.Assert(err, IsNil)
	c.Assert(entity.(*testBook).ID, Equals, int64(7))
	c.Assert(entity.(*testBook).Title, Equals, "Dracula")
}

func (s *ExecSuite) TestUpdateWhereReportsAffectedRows(c *C) {
	stmt := `UPDATE "books" SET "title" = $1 WHERE ("id" = $2)`
	d := &fakeDriver{results: map[string]*fakeResult{
		stmt: {affected: 2},
	}}
	db := sql.OpenDB(d)
	defer db.Close()

	n, err := s.mapper(c).Query().
		Where(expr.Eq(expr.Prop("ID"), expr.Val(int64(7)))).
		UpdateWhere(context.Background(), db, expr.Set("Title", expr.Val("renamed")))
	c.Assert(err, IsNil)
	c.Assert(n, Equals, int64(2))
	c.Assert(d.queries, DeepEquals, []string{stmt})
}
