// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package plan resolves navigation-property include paths into a join
// plan: a tree of include nodes with stable aliases, the SELECT column
// list qualified by those aliases, and the LEFT JOIN chain.
package plan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/relmap/relmap/dialect"
	"github.com/relmap/relmap/metadata"
	"github.com/relmap/relmap/relerr"
)

// RootAlias is the alias of the root entity's table. Include aliases
// are allocated from t1 upward in path-registration order.
const RootAlias = "t0"

// IncludeNode is one navigation hop of the join plan.
type IncludeNode struct {
	// Path is the full dotted path from the root ("Author.Company").
	Path string
	// Prop is this hop's navigation property name.
	Prop string
	// Rel is the relationship descriptor taken from entity metadata.
	Rel *metadata.Relation
	// Meta is the target entity's metadata.
	Meta *metadata.EntityMeta
	// Alias is this hop's join alias, unique within the plan.
	Alias string
	// JunctionAlias is the junction table's alias for many-to-many
	// hops, empty otherwise.
	JunctionAlias string
	// Children are nested includes below this hop.
	Children []*IncludeNode

	parent *IncludeNode
}

// ColumnPrefix returns the prefix of this node's output column names.
func (n *IncludeNode) ColumnPrefix() string { return n.Alias + "_" }

// JoinPlan is the resolved include set for one query.
type JoinPlan struct {
	Root *metadata.EntityMeta

	top   []*IncludeNode
	nodes []*IncludeNode
	san   dialect.Sanitizer
}

// Build resolves the dotted include paths against the registry. Paths
// sharing a prefix share nodes; aliases are allocated in registration
// order so identical include lists always produce identical plans.
func Build(reg *metadata.Registry, root *metadata.EntityMeta, paths []string, san dialect.Sanitizer) (jp *JoinPlan, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("cannot plan includes: %s", err)
		}
	}()

	jp = &JoinPlan{Root: root, san: san}
	counter := 0
	for _, path := range paths {
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("empty include path")
		}
		meta := root
		children := &jp.top
		var parent *IncludeNode
		for _, seg := range strings.Split(path, ".") {
			node := findNode(*children, seg)
			if node == nil {
				node, err = jp.newNode(reg, meta, parent, seg, &counter)
				if err != nil {
					return nil, err
				}
				*children = append(*children, node)
				jp.nodes = append(jp.nodes, node)
			}
			meta = node.Meta
			children = &node.Children
			parent = node
		}
	}
	return jp, nil
}

func findNode(nodes []*IncludeNode, prop string) *IncludeNode {
	for _, n := range nodes {
		if n.Prop == prop {
			return n
		}
	}
	return nil
}

// newNode resolves one navigation hop and allocates its alias. The
// alias counter is threaded through explicitly so allocation stays
// monotonic across the recursion.
func (jp *JoinPlan) newNode(reg *metadata.Registry, meta *metadata.EntityMeta, parent *IncludeNode, prop string, counter *int) (*IncludeNode, error) {
	rel, ok := meta.Relation(prop)
	if !ok {
		return nil, &relerr.UnresolvableReference{
			Ref:    prop,
			Detail: fmt.Sprintf("type %q has no navigation property %q", meta.Name, prop),
		}
	}
	target, err := reg.Lookup(rel.Target)
	if err != nil {
		return nil, err
	}
	*counter++
	n := strconv.Itoa(*counter)
	node := &IncludeNode{
		Prop:   prop,
		Rel:    rel,
		Meta:   target,
		Alias:  "t" + n,
		parent: parent,
	}
	if rel.Kind == metadata.RelManyToMany {
		node.JunctionAlias = "j" + n
	}
	if parent != nil {
		node.Path = parent.Path + "." + prop
	} else {
		node.Path = prop
	}
	return node, nil
}

// Nodes returns every include node in registration order.
func (jp *JoinPlan) Nodes() []*IncludeNode { return jp.nodes }

// Top returns the first-hop include nodes in registration order.
func (jp *JoinPlan) Top() []*IncludeNode { return jp.top }

// HasCollection reports whether any include joins a collection
// navigation, fanning the root entity out across joined rows.
func (jp *JoinPlan) HasCollection() bool {
	for _, n := range jp.nodes {
		if n.Rel.Kind == metadata.RelManyToMany || n.Rel.Collection {
			return true
		}
	}
	return false
}

// NodeFor returns the node registered for a dotted relation path.
func (jp *JoinPlan) NodeFor(path string) (*IncludeNode, bool) {
	for _, n := range jp.nodes {
		if n.Path == path {
			return n, true
		}
	}
	return nil, false
}

// Columns generates the SELECT list: the root's mapped columns
// unaliased, then every include's columns output-aliased by join alias
// to keep names collision-free.
func (jp *JoinPlan) Columns() []string {
	var cols []string
	rootAlias := jp.san.QuoteIdentifier(RootAlias)
	for _, f := range jp.Root.Fields {
		cols = append(cols, rootAlias+"."+jp.san.QuoteIdentifier(f.Column))
	}
	for _, node := range jp.nodes {
		alias := jp.san.QuoteIdentifier(node.Alias)
		for _, f := range node.Meta.Fields {
			cols = append(cols,
				alias+"."+jp.san.QuoteIdentifier(f.Column)+
					" AS "+jp.san.QuoteIdentifier(node.ColumnPrefix()+f.Column))
		}
	}
	return cols
}

// Joins renders the LEFT JOIN chain in registration order. Joins are
// LEFT so a missing related row never eliminates the primary row.
func (jp *JoinPlan) Joins() (string, error) {
	var parts []string
	for _, node := range jp.nodes {
		sql, err := jp.joinClause(node)
		if err != nil {
			return "", err
		}
		parts = append(parts, sql)
	}
	return strings.Join(parts, " "), nil
}

func (jp *JoinPlan) joinClause(node *IncludeNode) (string, error) {
	parentMeta := jp.Root
	parentAlias := RootAlias
	if node.parent != nil {
		parentMeta = node.parent.Meta
		parentAlias = node.parent.Alias
	}
	q := jp.san.QuoteIdentifier
	qualify := func(alias, column string) string { return q(alias) + "." + q(column) }

	switch node.Rel.Kind {
	case metadata.RelManyToMany:
		parentPK, err := pkOf(parentMeta)
		if err != nil {
			return "", err
		}
		targetPK, err := pkOf(node.Meta)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("LEFT JOIN %s AS %s ON %s = %s LEFT JOIN %s AS %s ON %s = %s",
			q(node.Rel.JunctionTable), q(node.JunctionAlias),
			qualify(node.JunctionAlias, node.Rel.JunctionLocal), qualify(parentAlias, parentPK.Column),
			q(node.Meta.Table), q(node.Alias),
			qualify(node.Alias, targetPK.Column), qualify(node.JunctionAlias, node.Rel.JunctionRemote),
		), nil
	case metadata.RelForeignKey:
		if node.Rel.Collection {
			// Child table carries the foreign key back to the parent.
			parentPK, err := pkOf(parentMeta)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("LEFT JOIN %s AS %s ON %s = %s",
				q(node.Meta.Table), q(node.Alias),
				qualify(node.Alias, node.Rel.ForeignKey), qualify(parentAlias, parentPK.Column),
			), nil
		}
		targetPK, err := pkOf(node.Meta)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("LEFT JOIN %s AS %s ON %s = %s",
			q(node.Meta.Table), q(node.Alias),
			qualify(node.Alias, targetPK.Column), qualify(parentAlias, node.Rel.ForeignKey),
		), nil
	default:
		return "", fmt.Errorf("internal error: unknown relation kind %d", node.Rel.Kind)
	}
}

func pkOf(meta *metadata.EntityMeta) (*metadata.FieldDesc, error) {
	pk := meta.PrimaryKey()
	if pk == nil {
		return nil, &relerr.Contract{Msg: fmt.Sprintf("type %q needs a primary key to be joined", meta.Name)}
	}
	return pk, nil
}
