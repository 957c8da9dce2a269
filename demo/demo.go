// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package demo

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/lib/pq"

	"github.com/relmap/relmap"
	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/metadata"
)

type Article struct {
	ID       int64
	Title    string
	Keywords []any
	Tags     []*Tag
}

type Tag struct {
	ID   int64
	Name string
}

func registry() *metadata.Registry {
	reg := metadata.NewRegistry()
	reg.MustRegister(&metadata.EntityMeta{
		Name:  "Article",
		Table: "articles",
		New:   func() any { return &Article{} },
		Fields: []*metadata.FieldDesc{{
			Column: "id", Name: "ID", Kind: metadata.KindInt, PrimaryKey: true, AutoGenerated: true,
			Get: func(e any) any { return e.(*Article).ID },
			Set: func(e, v any) { e.(*Article).ID = v.(int64) },
		}, {
			Column: "title", Name: "Title", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*Article).Title },
			Set: func(e, v any) { e.(*Article).Title = v.(string) },
		}, {
			Column: "keywords", Name: "Keywords", Kind: metadata.KindArray, Elem: metadata.KindString,
			Get: func(e any) any { return e.(*Article).Keywords },
			Set: func(e, v any) { e.(*Article).Keywords = v.([]any) },
		}},
		Relations: []*metadata.Relation{{
			Name: "Tags", Target: "Tag", Collection: true,
			Kind:          metadata.RelManyToMany,
			JunctionTable: "article_tags", JunctionLocal: "article_id", JunctionRemote: "tag_id",
			Get:    func(e any) any { return e.(*Article).Tags },
			Append: func(e, r any) { a := e.(*Article); a.Tags = append(a.Tags, r.(*Tag)) },
		}},
	})
	reg.MustRegister(&metadata.EntityMeta{
		Name:  "Tag",
		Table: "tags",
		New:   func() any { return &Tag{} },
		Fields: []*metadata.FieldDesc{{
			Column: "id", Name: "ID", Kind: metadata.KindInt, PrimaryKey: true, AutoGenerated: true,
			Get: func(e any) any { return e.(*Tag).ID },
			Set: func(e, v any) { e.(*Tag).ID = v.(int64) },
		}, {
			Column: "name", Name: "Name", Kind: metadata.KindString,
			Get: func(e any) any { return e.(*Tag).Name },
			Set: func(e, v any) { e.(*Tag).Name = v.(string) },
		}},
	})
	return reg
}

func example() error {
	ctx := context.Background()
	db, err := sql.Open("postgres", "postgres://localhost/relmap_demo?sslmode=disable")
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS articles (
			id bigserial PRIMARY KEY,
			title text NOT NULL,
			keywords text[] NOT NULL DEFAULT '{}'
		);
		CREATE TABLE IF NOT EXISTS tags (
			id bigserial PRIMARY KEY,
			name text NOT NULL
		);
		CREATE TABLE IF NOT EXISTS article_tags (
			article_id bigint REFERENCES articles (id),
			tag_id bigint REFERENCES tags (id),
			PRIMARY KEY (article_id, tag_id)
		);`); err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx,
		`INSERT INTO articles (title, keywords) VALUES ($1, $2)`,
		"Mapping rows to graphs", pq.Array([]string{"sql", "orm"}),
	); err != nil {
		return err
	}

	reg := registry()
	articles, err := relmap.NewMapper(reg, "Article", dialect.Postgres{})
	if err != nil {
		return err
	}

	// Articles with their tags populated through the junction table.
	tagged, err := articles.Query().
		Include("Tags").
		Where(expr.Contains(expr.Prop("Title"), expr.Val("graph"))).
		Select(ctx, db)
	if err != nil {
		return err
	}
	log.Printf("last query: %s", articles.LastSql())
	for _, e := range tagged {
		a := e.(*Article)
		fmt.Printf("%s: %d tags, keywords %v\n", a.Title, len(a.Tags), a.Keywords)
	}

	// A windowed projection over a raw column list.
	text, params, err := articles.Query().
		SelectRaw(`"title"`).
		Window(relmap.NewWindow("ROW_NUMBER", "").PartitionBy("title").OrderBy("id").As("rn")).
		BuildSql()
	if err != nil {
		return err
	}
	fmt.Println(text, params)
	return nil
}
