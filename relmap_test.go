// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package relmap

import (
	. "gopkg.in/check.v1"

	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/metadata"
)

type MapperSuite struct {
	reg *metadata.Registry
}

var _ = Suite(&MapperSuite{})

type testBook struct {
	ID       int64
	Title    string
	Genre    string
	Price    float64
	AuthorID int64
	Author   *testAuthor
}

type testAuthor struct {
	ID   int64
	Name string
}

func (s *MapperSuite) SetUpTest(c *C) {
	s.reg = metadata.NewRegistry()

	s.reg.MustRegister(&metadata.EntityMeta{
		Name:  "Book",
		Table: "books",
		New:   func() any { return &testBook{} },
		Fields: []*metadata.FieldDesc{{
			Column: "id", Name: "ID", Kind: metadata.KindInt, PrimaryKey: true,
			Get: func(e any) any { return e.(*testBook).ID },
			Set: func(e, v any) { e.(*testBook).ID = v.(int64) },
		}, {
			Column: "title", Name: "Title", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*testBook).Title },
			Set: func(e, v any) { e.(*testBook).Title = v.(string) },
		}, {
			Column: "genre", Name: "Genre", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*testBook).Genre },
			Set: func(e, v any) { e.(*testBook).Genre = v.(string) },
		}, {
			Column: "price", Name: "Price", Kind: metadata.KindFloat,
			Get: func(e any) any { return e.(*testBook).Price },
			Set: func(e, v any) { e.(*testBook).Price = v.(float64) },
		}, {
			Column: "author_id", Name: "AuthorID", Kind: metadata.KindInt,
			Get: func(e any) any { return e.(*testBook).AuthorID },
			Set: func(e, v any) { e.(*testBook).AuthorID = v.(int64) },
		}},
		Relations: []*metadata.Relation{{
			Name: "Author", Target: "Author",
			Kind: metadata.RelForeignKey, ForeignKey: "author_id",
			Get: func(e any) any {
				a := e.(*testBook).Author
				if a == nil {
					return nil
				}
				return a
			},
			Set: func(e, r any) { e.(*testBook).Author = r.(*testAuthor) },
		}},
	})
	s.reg.MustRegister(&metadata.EntityMeta{
		Name:  "Author",
		Table: "authors",
		New:   func() any { return &testAuthor{} },
		Fields: []*metadata.FieldDesc{{
			Column: "id", Name: "ID", Kind: metadata.KindInt, PrimaryKey: true,
			Get: func(e any) any { return e.(*testAuthor).ID },
			Set: func(e, v any) { e.(*testAuthor).ID = v.(int64) },
		}, {
			Column: "name", Name: "Name", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*testAuthor).Name },
			Set: func(e, v any) { e.(*testAuthor).Name = v.(string) },
		}},
	})
}

func (s *MapperSuite) mapper(c *C) *Mapper {
	m, err := NewMapper(s.reg, "Book", dialect.Postgres{})
	c.Assert(err, IsNil)
	return m
}

func (s *MapperSuite) TestNewMapperValidation(c *C) {
	_, err := NewMapper(nil, "Book", dialect.Postgres{})
	c.Assert(err, ErrorMatches, "cannot create mapper: need metadata registry, got nil")

	_, err = NewMapper(s.reg, "Book", nil)
	c.Assert(err, ErrorMatches, "cannot create mapper: need sanitizer, got nil")

	_, err = NewMapper(s.reg, "Ghost", dialect.Postgres{})
	c.Assert(err, ErrorMatches, `cannot create mapper: type "Ghost" not registered`)
}

func (s *MapperSuite) TestMeta(c *C) {
	c.Assert(s.mapper(c).Meta().Table, Equals, "books")
}

func (s *MapperSuite) TestBuildSqlWithInclude(c *C) {
	m := s.mapper(c)
	sql, params, err := m.Query().
		Include("Author").
		Where(expr.Eq(expr.Prop("Genre"), expr.Val("horror"))).
		OrderBy(expr.Prop("Price")).
		BuildSql()
	c.Assert(err, IsNil)
	c.Assert(sql, Equals,
		`SELECT "t0"."id", "t0"."title", "t0"."genre", "t0"."price", "t0"."author_id", `+
			`"t1"."id" AS "t1_id", "t1"."name" AS "t1_name" `+
			`FROM "books" AS "t0" `+
			`LEFT JOIN "authors" AS "t1" ON "t1"."id" = "t0"."author_id" `+
			`WHERE ("t0"."genre" = $1) ORDER BY "t0"."price" ASC`)
	c.Assert(params, DeepEquals, []any{"horror"})
	c.Assert(m.LastSql(), Equals, sql)
}

func (s *MapperSuite) TestLiteralQueryInlinesConstants(c *C) {
	sql, params, err := s.mapper(c).LiteralQuery().
		Where(expr.Eq(expr.Prop("Genre"), expr.Val("O'Brien"))).
		BuildSql()
	c.Assert(err, IsNil)
	c.Assert(sql, Equals, `SELECT "books".* FROM "books" WHERE ("genre" = 'O''Brien')`)
	c.Assert(params, HasLen, 0)
}

func (s *MapperSuite) TestPage(c *C) {
	sql, _, err := s.mapper(c).Query().Page(2, 10).BuildSql()
	c.Assert(err, IsNil)
	c.Assert(sql, Equals, `SELECT "books".* FROM "books" LIMIT 10 OFFSET 10`)

	// Page numbers below one clamp to the first page.
	sql, _, err = s.mapper(c).Query().Page(0, 5).BuildSql()
	c.Assert(err, IsNil)
	c.Assert(sql, Equals, `SELECT "books".* FROM "books" LIMIT 5 OFFSET 0`)
}

func (s *MapperSuite) TestSetOperationsThroughQuery(c *C) {
	m := s.mapper(c)
	other := m.Query().Where(expr.Eq(expr.Prop("Genre"), expr.Val("fantasy")))
	sql, params, err := m.Query().
		Where(expr.Eq(expr.Prop("Genre"), expr.Val("horror"))).
		Union(other).
		BuildSql()
	c.Assert(err, IsNil)
	c.Assert(sql, Equals,
		`SELECT "books".* FROM "books" WHERE ("genre" = $1) `+
			`UNION (SELECT "books".* FROM "books" WHERE ("genre" = $2))`)
	c.Assert(params, DeepEquals, []any{"horror", "fantasy"})
}

func (s *MapperSuite) TestWindowThroughQuery(c *C) {
	sql, _, err := s.mapper(c).Query().
		SelectRaw(`"title"`).
		Window(NewWindow("ROW_NUMBER", "").PartitionBy("genre").OrderBy("price").As("rn")).
		BuildSql()
	c.Assert(err, IsNil)
	c.Assert(sql, Equals,
		`SELECT "title", ROW_NUMBER() OVER (PARTITION BY "genre" ORDER BY "price" ASC) AS "rn" FROM "books"`)
}

func (s *MapperSuite) TestFrameBoundConstructors(c *C) {
	sql, _, err := s.mapper(c).Query().
		Window(NewWindow("SUM", "price").OrderBy("id").Rows(Preceding(3), CurrentRow())).
		BuildSql()
	c.Assert(err, IsNil)
	c.Assert(sql, Equals,
		`SELECT "books".*, SUM("price") OVER (ORDER BY "id" ASC `+
			`ROWS BETWEEN 3 PRECEDING AND CURRENT ROW) FROM "books"`)
}

func (s *MapperSuite) TestTypedFacadeSharesTheMapper(c *C) {
	m := s.mapper(c)
	typed := NewTyped[testBook](m)
	c.Assert(typed.Mapper(), Equals, m)
	c.Assert(typed.Query(), NotNil)
}
