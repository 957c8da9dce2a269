// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package build

import (
	"testing"

	. "gopkg.in/check.v1"

	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/internal/compile"
	"github.com/relmap/relmap/metadata"
)

func TestBuild(t *testing.T) { TestingT(t) }

type BuildSuite struct {
	reg  *metadata.Registry
	book *metadata.EntityMeta
	san  dialect.Sanitizer
}

var _ = Suite(&BuildSuite{})

type book struct {
	ID       int64
	Title    string
	Genre    string
	Price    float64
	AuthorID int64
	Author   *author
}

type author struct {
	ID   int64
	Name string
}

type review struct {
	ID     int64
	BookID int64
	Body   string
}

func (s *BuildSuite) SetUpTest(c *C) {
	s.reg = metadata.NewRegistry()
	s.san = dialect.Postgres{}

	s.reg.MustRegister(&metadata.EntityMeta{
		Name:  "Book",
		Table: "books",
		New:   func() any { return &book{} },
		Fields: []*metadata.FieldDesc{{
			Column: "id", Name: "ID", Kind: metadata.KindInt, PrimaryKey: true,
			Get: func(e any) any { return e.(*book).ID },
			Set: func(e, v any) { e.(*book).ID = v.(int64) },
		}, {
			Column: "title", Name: "Title", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*book).Title },
			Set: func(e, v any) { e.(*book).Title = v.(string) },
		}, {
			Column: "genre", Name: "Genre", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*book).Genre },
			Set: func(e, v any) { e.(*book).Genre = v.(string) },
		}, {
			Column: "price", Name: "Price", Kind: metadata.KindFloat,
			Get: func(e any) any { return e.(*book).Price },
			Set: func(e, v any) { e.(*book).Price = v.(float64) },
		}, {
			Column: "author_id", Name: "AuthorID", Kind: metadata.KindInt,
			Get: func(e any) any { return e.(*book).AuthorID },
			Set: func(e, v any) { e.(*book).AuthorID = v.(int64) },
		}},
		Relations: []*metadata.Relation{{
			Name: "Author", Target: "Author",
			Kind: metadata.RelForeignKey, ForeignKey: "author_id",
			Get: func(e any) any { return e.(*book).Author },
			Set: func(e, r any) { e.(*book).Author = r.(*author) },
		}, {
			Name: "Reviews", Target: "Review", Collection: true,
			Kind: metadata.RelForeignKey, ForeignKey: "book_id",
			Append: func(any, any) {},
		}},
	})
	s.reg.MustRegister(&metadata.EntityMeta{
		Name:  "Author",
		Table: "authors",
		New:   func() any { return &author{} },
		Fields: []*metadata.FieldDesc{{
			Column: "id", Name: "ID", Kind: metadata.KindInt, PrimaryKey: true,
			Get: func(e any) any { return e.(*author).ID },
			Set: func(e, v any) { e.(*author).ID = v.(int64) },
		}, {
			Column: "name", Name: "Name", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*author).Name },
			Set: func(e, v any) { e.(*author).Name = v.(string) },
		}},
	})
	s.reg.MustRegister(&metadata.EntityMeta{
		Name:  "Review",
		Table: "reviews",
		New:   func() any { return &review{} },
		Fields: []*metadata.FieldDesc{{
			Column: "id", Name: "ID", Kind: metadata.KindInt, PrimaryKey: true,
			Get: func(e any) any { return e.(*review).ID },
			Set: func(e, v any) { e.(*review).ID = v.(int64) },
		}, {
			Column: "book_id", Name: "BookID", Kind: metadata.KindInt,
			Get: func(e any) any { return e.(*review).BookID },
			Set: func(e, v any) { e.(*review).BookID = v.(int64) },
		}, {
			Column: "body", Name: "Body", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*review).Body },
			Set: func(e, v any) { e.(*review).Body = v.(string) },
		}},
	})

	meta, err := s.reg.Lookup("Book")
	c.Assert(err, IsNil)
	s.book = meta
}

func (s *BuildSuite) plan(mode Mode) *Plan {
	return New(s.book, s.reg, s.san, mode)
}

func values(params []compile.Param) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = p.Value
	}
	return out
}

func (s *BuildSuite) TestClauseOrder(c *C) {
	p := s.plan(Parameterized).
		Where(expr.Eq(expr.Prop("Genre"), expr.Val("horror"))).
		Where(expr.Gt(expr.Prop("Price"), expr.Val(10))).
		OrderByDesc(expr.Prop("Price")).
		Limit(10).
		Offset(20)

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "books".* FROM "books" WHERE ("genre" = $1) AND ("price" > $2) `+
			`ORDER BY "price" DESC LIMIT 10 OFFSET 20`)
	c.Assert(values(r.Params), DeepEquals, []any{"horror", 10})
}

func (s *BuildSuite) TestRenderIsIdempotent(c *C) {
	p := s.plan(Parameterized).Where(expr.Eq(expr.Prop("Genre"), expr.Val("horror")))

	first, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	second, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(second.SQL, Equals, first.SQL)
	c.Assert(values(second.Params), DeepEquals, values(first.Params))
}

func (s *BuildSuite) TestIncludesDriveSelectAndJoins(c *C) {
	p := s.plan(Parameterized).
		Include("Author").
		Where(expr.Eq(expr.Prop("Genre"), expr.Val("horror")))

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "t0"."id", "t0"."title", "t0"."genre", "t0"."price", "t0"."author_id", `+
			`"t1"."id" AS "t1_id", "t1"."name" AS "t1_name" `+
			`FROM "books" AS "t0" `+
			`LEFT JOIN "authors" AS "t1" ON "t1"."id" = "t0"."author_id" `+
			`WHERE ("t0"."genre" = $1)`)
	c.Assert(r.Plan, NotNil)
}

func (s *BuildSuite) TestRawFragments(c *C) {
	p := s.plan(Literal).
		WhereRaw(`"price" > 0`).
		JoinRaw(`JOIN "shelves" ON "shelves"."book_id" = "books"."id"`).
		OrderByRaw(`"price" NULLS LAST`)

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "books".* FROM "books" JOIN "shelves" ON "shelves"."book_id" = "books"."id" `+
			`WHERE "price" > 0 ORDER BY "price" NULLS LAST`)
}

func (s *BuildSuite) TestSelectOverrideAndProjection(c *C) {
	p := s.plan(Literal).
		SelectOverride(`"title"`).
		Project(expr.If(expr.Gt(expr.Prop("Price"), expr.Val(20)), expr.Val("dear"), expr.Val("cheap")), "bracket")

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "title", CASE WHEN ("price" > 20) THEN 'dear' ELSE 'cheap' END AS "bracket" FROM "books"`)
}

func (s *BuildSuite) TestCTE(c *C) {
	p := s.plan(Literal).
		With(&CTE{Name: "recent", Columns: []string{"id"}, Body: "SELECT id FROM books WHERE price > 10"})

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`WITH "recent" ("id") AS (SELECT id FROM books WHERE price > 10) SELECT "books".* FROM "books"`)
}

func (s *BuildSuite) TestRecursiveCTESwitchesDeclaration(c *C) {
	p := s.plan(Literal).
		With(&CTE{Name: "roots", Body: "SELECT 1"}).
		With(&CTE{Name: "tree", Body: "SELECT 2", Recursive: true})

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`WITH RECURSIVE "roots" AS (SELECT 1), "tree" AS (SELECT 2) SELECT "books".* FROM "books"`)
}

func (s *BuildSuite) TestWindowProjection(c *C) {
	p := s.plan(Literal).
		Window(NewWindow("row_number", "").PartitionBy("genre").OrderBy("price").As("rn"))

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "books".*, ROW_NUMBER() OVER (PARTITION BY "genre" ORDER BY "price" ASC) AS "rn" FROM "books"`)
}

func (s *BuildSuite) TestLeadWindowWithOffsetAndDefault(c *C) {
	w := NewWindow("LEAD", "price").WithOffset(2).WithDefault("0").OrderByDesc("id")
	p := s.plan(Literal).Window(w)

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "books".*, LEAD("price", 2, 0) OVER (ORDER BY "id" DESC) FROM "books"`)
}

func (s *BuildSuite) TestNthValueWindow(c *C) {
	p := s.plan(Literal).Window(NewWindow("NTH_VALUE", "price").Nth(3).OrderBy("price"))

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "books".*, NTH_VALUE("price", 3) OVER (ORDER BY "price" ASC) FROM "books"`)
}

func (s *BuildSuite) TestWindowFrame(c *C) {
	w := NewWindow("SUM", "price").
		OrderBy("id").
		Rows(Bound{Kind: BoundUnboundedPreceding}, Bound{Kind: BoundCurrentRow})
	p := s.plan(Literal).Window(w)

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "books".*, SUM("price") OVER (ORDER BY "id" ASC `+
			`ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) FROM "books"`)
}

func (s *BuildSuite) TestDegenerateFrameIsOmitted(c *C) {
	w := NewWindow("SUM", "price").
		OrderBy("id").
		Rows(Bound{Kind: BoundCurrentRow}, Bound{Kind: BoundCurrentRow})
	p := s.plan(Literal).Window(w)

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "books".*, SUM("price") OVER (ORDER BY "id" ASC) FROM "books"`)
}

func (s *BuildSuite) TestWindowNeedsColumn(c *C) {
	p := s.plan(Literal).Window(NewWindow("SUM", ""))
	_, err := p.Render(Opts{})
	c.Assert(err, ErrorMatches, "cannot build query: unsupported expression: window function needs a column argument: SUM")
}

func (s *BuildSuite) TestWindowColumnsQualifiedWithIncludes(c *C) {
	p := s.plan(Literal).
		SelectOverride(`"t0"."title"`).
		Include("Author").
		Window(NewWindow("ROW_NUMBER", "").PartitionBy("genre").OrderBy("price").As("rn")).
		Window(NewWindow("SUM", "price"))

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "t0"."title", `+
			`ROW_NUMBER() OVER (PARTITION BY "t0"."genre" ORDER BY "t0"."price" ASC) AS "rn", `+
			`SUM("t0"."price") OVER () `+
			`FROM "books" AS "t0" `+
			`LEFT JOIN "authors" AS "t1" ON "t1"."id" = "t0"."author_id"`)
}

func (s *BuildSuite) TestGroupByAndHaving(c *C) {
	p := s.plan(Literal).
		GroupBy(expr.Prop("Genre")).
		Having(expr.Gt(expr.Count(), expr.Val(1))).
		Having(expr.Lt(expr.Count(), expr.Val(100)))

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "books".* FROM "books" GROUP BY "genre" HAVING (COUNT(*) > 1) AND (COUNT(*) < 100)`)
	c.Assert(r.GroupInSQL, Equals, true)
	c.Assert(r.GroupColumn, Equals, `"genre"`)
	c.Assert(r.GroupField.Name, Equals, "Genre")
}

func (s *BuildSuite) TestOmitGroupBySuppressesTheClause(c *C) {
	p := s.plan(Literal).GroupBy(expr.Prop("Genre"))

	r, err := p.Render(Opts{OmitGroupBy: true})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals, `SELECT "books".* FROM "books"`)
	c.Assert(r.GroupInSQL, Equals, true)
}

func (s *BuildSuite) TestKeysOnlySelectsTheGroupColumn(c *C) {
	p := s.plan(Literal).
		GroupBy(expr.Prop("Genre")).
		Having(expr.Gt(expr.Count(), expr.Val(1))).
		OrderBy(expr.Prop("Genre")).
		Limit(5)

	// The pushdown phase drops ORDER BY and LIMIT; only qualifying keys
	// matter.
	r, err := p.Render(Opts{KeysOnly: true})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals, `SELECT "genre" FROM "books" GROUP BY "genre" HAVING (COUNT(*) > 1)`)
}

func (s *BuildSuite) TestHavingCountsDistinctRootsWithCollectionInclude(c *C) {
	p := s.plan(Literal).
		Include("Reviews").
		GroupBy(expr.Prop("Genre")).
		Having(expr.Gt(expr.Count(), expr.Val(1)))

	// The review join fans each book out once per review; COUNT must
	// range over distinct books or the predicate qualifies inflated
	// groups.
	r, err := p.Render(Opts{KeysOnly: true})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "t0"."genre" FROM "books" AS "t0" `+
			`LEFT JOIN "reviews" AS "t1" ON "t1"."book_id" = "t0"."id" `+
			`GROUP BY "t0"."genre" HAVING (COUNT(DISTINCT "t0"."id") > 1)`)
}

func (s *BuildSuite) TestHavingKeepsPlainCountWithSingularInclude(c *C) {
	p := s.plan(Literal).
		Include("Author").
		GroupBy(expr.Prop("Genre")).
		Having(expr.Gt(expr.Count(), expr.Val(1)))

	r, err := p.Render(Opts{KeysOnly: true})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "t0"."genre" FROM "books" AS "t0" `+
			`LEFT JOIN "authors" AS "t1" ON "t1"."id" = "t0"."author_id" `+
			`GROUP BY "t0"."genre" HAVING (COUNT(*) > 1)`)
}

func (s *BuildSuite) TestComputedGroupKeyFallsBackSilently(c *C) {
	p := s.plan(Literal).GroupBy(expr.Lower(expr.Prop("Genre")))

	r, err := p.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals, `SELECT "books".* FROM "books"`)
	c.Assert(r.GroupInSQL, Equals, false)
}

func (s *BuildSuite) TestHavingNeedsSQLGroupKey(c *C) {
	p := s.plan(Literal).
		GroupBy(expr.Lower(expr.Prop("Genre"))).
		Having(expr.Gt(expr.Count(), expr.Val(1)))

	_, err := p.Render(Opts{})
	c.Assert(err, ErrorMatches, "cannot build query: contract violation: HAVING requires a SQL-expressible GROUP BY key")
}

func (s *BuildSuite) TestSetOperationPlaceholderNumbering(c *C) {
	first := s.plan(Parameterized).Where(expr.Eq(expr.Prop("Genre"), expr.Val("horror")))
	second := s.plan(Parameterized).Where(expr.Eq(expr.Prop("Genre"), expr.Val("fantasy")))
	first.Union(second)

	r, err := first.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "books".* FROM "books" WHERE ("genre" = $1) `+
			`UNION (SELECT "books".* FROM "books" WHERE ("genre" = $2))`)
	c.Assert(values(r.Params), DeepEquals, []any{"horror", "fantasy"})
}

func (s *BuildSuite) TestChainedSetOperations(c *C) {
	first := s.plan(Literal).Where(expr.Eq(expr.Prop("Genre"), expr.Val("a")))
	second := s.plan(Literal).Where(expr.Eq(expr.Prop("Genre"), expr.Val("b")))
	third := s.plan(Literal).Where(expr.Eq(expr.Prop("Genre"), expr.Val("c")))
	first.UnionAll(second).Except(third)

	r, err := first.Render(Opts{})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT "books".* FROM "books" WHERE ("genre" = 'a') `+
			`UNION ALL (SELECT "books".* FROM "books" WHERE ("genre" = 'b')) `+
			`EXCEPT (SELECT "books".* FROM "books" WHERE ("genre" = 'c'))`)
}

func (s *BuildSuite) TestRenderScalar(c *C) {
	p := s.plan(Parameterized).Where(expr.Eq(expr.Prop("Genre"), expr.Val("horror")))

	r, err := p.RenderScalar(expr.Count())
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals, `SELECT COUNT(*) FROM "books" WHERE ("genre" = $1)`)

	r, err = p.RenderScalar(expr.Max(expr.Prop("Price")))
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals, `SELECT MAX("price") FROM "books" WHERE ("genre" = $1)`)
}

func (s *BuildSuite) TestScalarCountDistinctWithCollectionInclude(c *C) {
	p := s.plan(Literal).Include("Reviews")

	r, err := p.RenderScalar(expr.Count())
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals,
		`SELECT COUNT(DISTINCT "t0"."id") FROM "books" AS "t0" `+
			`LEFT JOIN "reviews" AS "t1" ON "t1"."book_id" = "t0"."id"`)
}

func (s *BuildSuite) TestRenderUpdate(c *C) {
	p := s.plan(Parameterized).Where(expr.Eq(expr.Prop("ID"), expr.Val(7)))

	r, err := p.RenderUpdate([]expr.Assignment{expr.Set("Title", expr.Val("renamed"))})
	c.Assert(err, IsNil)
	c.Assert(r.SQL, Equals, `UPDATE "books" SET "title" = $1 WHERE ("id" = $2)`)
	c.Assert(values(r.Params), DeepEquals, []any{"renamed", 7})
}

func (s *BuildSuite) TestRenderErrorsAreWrapped(c *C) {
	p := s.plan(Literal).Where(expr.Prop("Missing"))
	_, err := p.Render(Opts{})
	c.Assert(err, ErrorMatches, `cannot build query: cannot resolve reference "Missing": .*`)
}
