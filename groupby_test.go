// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

package relmap

import (
	"context"

	. "gopkg.in/check.v1"

	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/expr"
	"github.com/relmap/relmap/metadata"
)

type GroupSuite struct {
	reg *metadata.Registry
}

var _ = Suite(&GroupSuite{})

func (s *GroupSuite) SetUpTest(c *C) {
	mapperSuite := &MapperSuite{}
	mapperSuite.SetUpTest(c)
	s.reg = mapperSuite.reg
}

func (s *GroupSuite) mapper(c *C) *Mapper {
	m, err := NewMapper(s.reg, "Book", dialect.Postgres{})
	c.Assert(err, IsNil)
	return m
}

func (s *GroupSuite) TestSelectGroupedNeedsAKey(c *C) {
	_, err := s.mapper(c).Query().SelectGrouped(context.Background(), nil)
	c.Assert(err, ErrorMatches, "contract violation: grouped select without a group key")
}

func (s *GroupSuite) TestGroupInMemoryPreservesFirstOccurrenceOrder(c *C) {
	entities := []any{
		&testBook{ID: 1, Genre: "horror"},
		&testBook{ID: 2, Genre: "fantasy"},
		&testBook{ID: 3, Genre: "horror"},
		&testBook{ID: 4, Genre: "fantasy"},
		&testBook{ID: 5, Genre: "horror"},
	}
	keyFn := func(e any) (any, error) { return e.(*testBook).Genre, nil }

	groups, err := groupInMemory(entities, keyFn)
	c.Assert(err, IsNil)
	c.Assert(groups, HasLen, 2)
	c.Assert(groups[0].Key, Equals, "horror")
	c.Assert(groups[0].Entities, HasLen, 3)
	c.Assert(groups[1].Key, Equals, "fantasy")
	c.Assert(groups[1].Entities, HasLen, 2)

	// Entities keep their row order inside each group.
	c.Assert(groups[0].Entities[0].(*testBook).ID, Equals, int64(1))
	c.Assert(groups[0].Entities[2].(*testBook).ID, Equals, int64(5))
}

func (s *GroupSuite) TestNativeKeyReadsTheMemberChain(c *C) {
	q := s.mapper(c).Query().GroupBy(expr.Prop("Genre"))
	keyFn, err := q.nativeKey()
	c.Assert(err, IsNil)

	key, err := keyFn(&testBook{Genre: "horror"})
	c.Assert(err, IsNil)
	c.Assert(key, Equals, "horror")
}

func (s *GroupSuite) TestNativeKeyFollowsNavigation(c *C) {
	q := s.mapper(c).Query().GroupBy(expr.Prop("Author", "Name"))
	keyFn, err := q.nativeKey()
	c.Assert(err, IsNil)

	key, err := keyFn(&testBook{Author: &testAuthor{Name: "Ann"}})
	c.Assert(err, IsNil)
	c.Assert(key, Equals, "Ann")

	_, err = keyFn(&testBook{})
	c.Assert(err, ErrorMatches, `cannot evaluate group key "Author.Name": nil value in chain`)
}

func (s *GroupSuite) TestComputedKeyNeedsNativeFunction(c *C) {
	q := s.mapper(c).Query().GroupBy(expr.Lower(expr.Prop("Genre")))
	_, err := q.nativeKey()
	c.Assert(err, ErrorMatches, ".*computed group key needs GroupByFunc")
}

func (s *GroupSuite) TestGroupByFuncOverridesTheSelector(c *C) {
	q := s.mapper(c).Query().
		GroupBy(expr.Lower(expr.Prop("Genre"))).
		GroupByFunc(func(e any) any { return len(e.(*testBook).Genre) })
	keyFn, err := q.nativeKey()
	c.Assert(err, IsNil)

	key, err := keyFn(&testBook{Genre: "horror"})
	c.Assert(err, IsNil)
	c.Assert(key, Equals, 6)
}

func (s *GroupSuite) TestGroupKeysNormalise(c *C) {
	entities := []any{
		&testBook{ID: 1, Title: "a"},
		&testBook{ID: 2, Title: "a"},
	}
	// Byte-slice keys normalise to strings, so equal contents group
	// together.
	keyFn := func(e any) (any, error) { return []byte(e.(*testBook).Title), nil }

	groups, err := groupInMemory(entities, keyFn)
	c.Assert(err, IsNil)
	c.Assert(groups, HasLen, 1)
	c.Assert(groups[0].Entities, HasLen, 2)
}
