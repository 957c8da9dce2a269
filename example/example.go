// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package example

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/relmap/relmap"
	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/metadata"
)

type Author struct {
	ID    int64
	Name  string
	Books []*Book
}

type Book struct {
	ID       int64
	Title    string
	Genre    string
	Price    float64
	AuthorID int64
	Author   *Author
}

func registry() *metadata.Registry {
	reg := metadata.NewRegistry()
	reg.MustRegister(&metadata.EntityMeta{
		Name:  "Author",
		Table: "authors",
		New:   func() any { return &Author{} },
		Fields: []*metadata.FieldDesc{{
			Column: "id", Name: "ID", Kind: metadata.KindInt, PrimaryKey: true, AutoGenerated: true,
			Get: func(e any) any { return e.(*Author).ID },
			Set: func(e, v any) { e.(*Author).ID = v.(int64) },
		}, {
			Column: "name", Name: "Name", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*Author).Name },
			Set: func(e, v any) { e.(*Author).Name = v.(string) },
		}},
		Relations: []*metadata.Relation{{
			Name: "Books", Target: "Book", Collection: true,
			Kind: metadata.RelForeignKey, ForeignKey: "author_id",
			Get:    func(e any) any { return e.(*Author).Books },
			Append: func(e, r any) { a := e.(*Author); a.Books = append(a.Books, r.(*Book)) },
		}},
	})
	reg.MustRegister(&metadata.EntityMeta{
		Name:  "Book",
		Table: "books",
		New:   func() any { return &Book{} },
		Fields: []*metadata.FieldDesc{{
			Column: "id", Name: "ID", Kind: metadata.KindInt, PrimaryKey: true, AutoGenerated: true,
			Get: func(e any) any { return e.(*Book).ID },
			Set: func(e, v any) { e.(*Book).ID = v.(int64) },
		}, {
			Column: "title", Name: "Title", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*Book).Title },
			Set: func(e, v any) { e.(*Book).Title = v.(string) },
		}, {
			Column: "genre", Name: "Genre", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*Book).Genre },
			Set: func(e, v any) { e.(*Book).Genre = v.(string) },
		}, {
			Column: "price", Name: "Price", Kind: metadata.KindFloat,
			Get: func(e any) any { return e.(*Book).Price },
			Set: func(e, v any) { e.(*Book).Price = v.(float64) },
		}, {
			Column: "author_id", Name: "AuthorID", Kind: metadata.KindInt,
			Get: func(e any) any { return e.(*Book).AuthorID },
			Set: func(e, v any) { e.(*Book).AuthorID = v.(int64) },
		}},
		Relations: []*metadata.Relation{{
			Name: "Author", Target: "Author",
			Kind: metadata.RelForeignKey, ForeignKey: "author_id",
			Get: func(e any) any { return e.(*Book).Author },
			Set: func(e, r any) { e.(*Book).Author = r.(*Author) },
		}},
	})
	return reg
}

func example() error {
	ctx := context.Background()
	db, err := sql.Open("postgres", "postgres://localhost/relmap_example?sslmode=disable")
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS authors (
			id bigserial PRIMARY KEY,
			name text NOT NULL
		);
		CREATE TABLE IF NOT EXISTS books (
			id bigserial PRIMARY KEY,
			title text NOT NULL,
			genre text NOT NULL,
			price double precision NOT NULL,
			author_id bigint REFERENCES authors (id)
		);`); err != nil {
		return err
	}

	reg := registry()
	books, err := relmap.NewMapper(reg, "Book", dialect.Postgres{})
	if err != nil {
		return err
	}
	typed := relmap.NewTyped[Book](books)

	// Horror books with their authors, cheapest first.
	q := typed.Query().
		Where(expr.Eq(expr.Prop("Genre"), expr.Val("horror"))).
		Include("Author").
		OrderBy(expr.Prop("Price"))
	horror, err := typed.Select(ctx, db, q)
	if err != nil {
		return err
	}
	for _, b := range horror {
		fmt.Printf("%s by %s\n", b.Title, b.Author.Name)
	}

	// Genres with more than one book, via group-key pushdown.
	groups, err := books.Query().
		GroupBy(expr.Prop("Genre")).
		Having(expr.Gt(expr.Count(), expr.Val(1))).
		SelectGrouped(ctx, db)
	if err != nil {
		return err
	}
	for _, g := range groups {
		fmt.Printf("%v: %d books\n", g.Key, len(g.Entities))
	}
	return nil
}
