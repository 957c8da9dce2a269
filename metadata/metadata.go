// Copyright 2025 relmap authors.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package metadata holds the statically registered entity descriptions
// the engine works from: table names, ordered column maps, relationship
// descriptors and the builder/accessor functions used to construct and
// populate entities. No runtime type introspection is performed; every
// fact the engine needs is registered explicitly at setup.
package metadata

import (
	"fmt"
	"sync"
)

// Kind classifies a column's database representation for value
// conversion. The set is closed; conversion dispatches exhaustively
// over it and sends KindGeneric to the fallback converter.
type Kind int

const (
	// KindGeneric delegates conversion to the generic converter.
	KindGeneric Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindUUID
	KindTimestamp
	KindJSON
	KindArray
	KindBitString
	KindNetwork
	KindGeometric
	KindRange
	KindDecimal
)

var kindNames = map[Kind]string{
	KindGeneric: "generic", KindString: "string", KindInt: "int",
	KindFloat: "float", KindBool: "bool", KindUUID: "uuid",
	KindTimestamp: "timestamp", KindJSON: "json", KindArray: "array",
	KindBitString: "bitstring", KindNetwork: "network",
	KindGeometric: "geometric", KindRange: "range", KindDecimal: "decimal",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// FieldDesc describes one mapped column of an entity.
type FieldDesc struct {
	// Column is the database column name.
	Column string
	// Name is the entity property name referenced in expressions.
	Name string
	// Kind selects the conversion applied to raw driver values.
	Kind Kind
	// Elem is the element kind when Kind is KindArray.
	Elem Kind
	// PrimaryKey marks the identity column used for deduplication.
	PrimaryKey bool
	// AutoGenerated marks database-assigned columns.
	AutoGenerated bool
	// Nullable reports whether the column admits NULL. A NULL read into
	// a non-nullable field leaves the field at its zero value.
	Nullable bool

	// Get reads the field from an entity instance.
	Get func(entity any) any
	// Set writes a converted value into an entity instance. Set is never
	// called with nil.
	Set func(entity any, v any)
}

// RelKind is the join shape of a relationship.
type RelKind int

const (
	// RelForeignKey joins through a foreign key column held on the child
	// side (collection navigation) or on this entity (singular
	// navigation).
	RelForeignKey RelKind = iota
	// RelManyToMany joins through a junction table carrying a foreign
	// key to each side.
	RelManyToMany
)

// Relation describes one navigation property.
type Relation struct {
	// Name is the navigation property name used in include paths and
	// expression chains.
	Name string
	// Target is the registered name of the related entity type.
	Target string
	// Collection reports whether the property holds many related
	// entities.
	Collection bool
	Kind       RelKind

	// ForeignKey is the joining column for RelForeignKey: on this
	// entity's table for a singular navigation, on the target's table
	// for a collection navigation.
	ForeignKey string

	// Junction fields apply to RelManyToMany only. JunctionLocal
	// references this entity's primary key, JunctionRemote the
	// target's.
	JunctionTable  string
	JunctionLocal  string
	JunctionRemote string

	// Get reads the navigation property.
	Get func(entity any) any
	// Set assigns a singular navigation property.
	Set func(entity, related any)
	// Append adds to a collection navigation property, initialising it
	// if needed.
	Append func(entity, related any)
}

// EntityMeta is the full mapping description of one entity type.
type EntityMeta struct {
	// Name is the registered type name.
	Name string
	// Table is the database table.
	Table string
	// Fields is the ordered column map.
	Fields []*FieldDesc
	// Relations lists the navigation properties.
	Relations []*Relation
	// New constructs a zero-valued entity instance.
	New func() any

	byColumn map[string]*FieldDesc
	byName   map[string]*FieldDesc
	byRel    map[string]*Relation
}

// index builds the lookup maps. Called once on registration.
func (m *EntityMeta) index() error {
	m.byColumn = make(map[string]*FieldDesc, len(m.Fields))
	m.byName = make(map[string]*FieldDesc, len(m.Fields))
	for _, f := range m.Fields {
		if f.Column == "" || f.Name == "" {
			return fmt.Errorf("type %q has a field with an empty column or property name", m.Name)
		}
		if _, ok := m.byColumn[f.Column]; ok {
			return fmt.Errorf("type %q maps column %q more than once", m.Name, f.Column)
		}
		if _, ok := m.byName[f.Name]; ok {
			return fmt.Errorf("type %q maps property %q more than once", m.Name, f.Name)
		}
		m.byColumn[f.Column] = f
		m.byName[f.Name] = f
	}
	m.byRel = make(map[string]*Relation, len(m.Relations))
	for _, r := range m.Relations {
		if _, ok := m.byRel[r.Name]; ok {
			return fmt.Errorf("type %q declares relation %q more than once", m.Name, r.Name)
		}
		m.byRel[r.Name] = r
	}
	return nil
}

// Field returns the descriptor mapped to a column name.
func (m *EntityMeta) Field(column string) (*FieldDesc, bool) {
	f, ok := m.byColumn[column]
	return f, ok
}

// FieldByName returns the descriptor for a property name.
func (m *EntityMeta) FieldByName(name string) (*FieldDesc, bool) {
	f, ok := m.byName[name]
	return f, ok
}

// Relation returns the navigation property descriptor for name.
func (m *EntityMeta) Relation(name string) (*Relation, bool) {
	r, ok := m.byRel[name]
	return r, ok
}

// PrimaryKey returns the first primary-key-flagged field, or nil if the
// entity declares none.
func (m *EntityMeta) PrimaryKey() *FieldDesc {
	for _, f := range m.Fields {
		if f.PrimaryKey {
			return f
		}
	}
	return nil
}

// KeyField returns the field used for identity extraction: the primary
// key if flagged, else a field whose property name is "Id" or "ID".
func (m *EntityMeta) KeyField() *FieldDesc {
	if pk := m.PrimaryKey(); pk != nil {
		return pk
	}
	for _, name := range []string{"Id", "ID"} {
		if f, ok := m.byName[name]; ok {
			return f
		}
	}
	return nil
}

// Registry maps entity type names to their metadata. It is built once
// at setup and read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	entities map[string]*EntityMeta
}

func NewRegistry() *Registry {
	return &Registry{entities: map[string]*EntityMeta{}}
}

// Register validates and adds an entity description.
func (r *Registry) Register(m *EntityMeta) error {
	if m == nil {
		return fmt.Errorf("cannot register metadata: need entity metadata, got nil")
	}
	if m.Name == "" || m.Table == "" {
		return fmt.Errorf("cannot register metadata: entity needs a name and a table")
	}
	if m.New == nil {
		return fmt.Errorf("cannot register metadata: type %q has no builder function", m.Name)
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("cannot register metadata: type %q maps no columns", m.Name)
	}
	if err := m.index(); err != nil {
		return fmt.Errorf("cannot register metadata: %s", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if dupe, ok := r.entities[m.Name]; ok {
		return fmt.Errorf("cannot register metadata: type %q already registered for table %q", m.Name, dupe.Table)
	}
	r.entities[m.Name] = m
	return nil
}

// MustRegister is Register except that it panics on error.
func (r *Registry) MustRegister(m *EntityMeta) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// Lookup returns the metadata registered under name.
func (r *Registry) Lookup(name string) (*EntityMeta, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entities[name]
	if !ok {
		return nil, fmt.Errorf("type %q not registered", name)
	}
	return m, nil
}
