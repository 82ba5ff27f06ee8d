// Copyright 2024 The Tessera authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package schema is the in-memory type catalogue: label resolution,
// subtyping, and the ownership/plays/relates capabilities that inference
// (package inference) and the write pipeline (package executor) consult.
package schema

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// ID identifies a type within a Catalogue. Stable for the type's lifetime.
type ID uint64

// Kind is the four concept kinds a TypeNode may be.
type Kind uint8

const (
	EntityType Kind = iota + 1
	RelationType
	AttributeType
	RoleType
)

// ValueType is the value domain of an attribute type.
type ValueType uint8

const (
	NoValueType ValueType = iota
	Boolean
	Long
	Double
	String
	DateTime
)

// Ordering flags whether a capability admits one unordered set of
// instances or an ordered list; it changes how duplicates behave.
type Ordering uint8

const (
	Unordered Ordering = iota
	Ordered
)

// Annotations decorates a capability edge.
type Annotations struct {
	Key         bool
	Unique      bool
	Independent bool
	// CardMin and CardMax bound how many instances the capability admits
	// per owner; CardMax zero means unbounded.
	CardMin, CardMax uint
}

// Label is a type's scoped name: role types are scoped to their relation
// ("friendship:friend"), everything else is unscoped.
type Label struct {
	Scope string
	Name  string
}

// Node is one type in the catalogue.
type Node struct {
	ID    ID
	Label Label
	Kind  Kind

	ValueType ValueType // AttributeType only

	super ID // 0 means no explicit supertype (root of its kind)
	subs  map[ID]struct{}

	owns      map[ID]ownsEdge // AttributeType IDs this (object) type owns
	ownedBy   map[ID]struct{} // object types that own this attribute type
	plays     map[ID]struct{} // RoleType IDs this (object) type plays
	playedBy  map[ID]struct{}
	relates   map[ID]relatesEdge // RoleType IDs this relation type relates
	relatedBy map[ID]struct{}
}

type ownsEdge struct {
	ordering    Ordering
	annotations Annotations
}

type relatesEdge struct {
	ordering Ordering
}

const cacheSize = 4096

// Catalogue is the schema/type manager. Lookups are side-effect
// free and fail only with errs.ConceptRead; mutations are taken under the
// exclusive lock a schema transaction holds, matching the single-writer
// discipline of storage/mvcc.
//
// Closures (subtypes-transitive, supertypes) are cached with an LRU,
// invalidated wholesale on every schema-mutating call rather than tracked
// incrementally: schema mutations are rare compared to data commits.
type Catalogue struct {
	mu      sync.RWMutex
	byLabel map[Label]ID
	byID    map[ID]*Node
	nextID  ID

	subtypesCache   *lru.Cache[ID, []ID]
	supertypesCache *lru.Cache[ID, []ID]
}

// New returns an empty catalogue.
func New() *Catalogue {
	subCache, _ := lru.New[ID, []ID](cacheSize)
	superCache, _ := lru.New[ID, []ID](cacheSize)
	return &Catalogue{
		byLabel:         make(map[Label]ID),
		byID:            make(map[ID]*Node),
		subtypesCache:   subCache,
		supertypesCache: superCache,
	}
}

func (c *Catalogue) invalidateCaches() {
	c.subtypesCache.Purge()
	c.supertypesCache.Purge()
}

// DefineType creates a new type of kind under label, with no supertype set.
// Fails with ConceptWrite if the label is already in use.
func (c *Catalogue) DefineType(label Label, kind Kind) (ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byLabel[label]; ok {
		return 0, errs.New(errs.ConceptWrite, "label %q already defined", label.Name)
	}
	c.nextID++
	id := c.nextID
	c.byID[id] = &Node{
		ID:        id,
		Label:     label,
		Kind:      kind,
		subs:      map[ID]struct{}{},
		owns:      map[ID]ownsEdge{},
		ownedBy:   map[ID]struct{}{},
		plays:     map[ID]struct{}{},
		playedBy:  map[ID]struct{}{},
		relates:   map[ID]relatesEdge{},
		relatedBy: map[ID]struct{}{},
	}
	c.byLabel[label] = id
	c.invalidateCaches()
	return id, nil
}

// SetSupertype declares sub <: super. Both must be the same Kind.
func (c *Catalogue) SetSupertype(sub, super ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	subNode, ok := c.byID[sub]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", sub)
	}
	superNode, ok := c.byID[super]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", super)
	}
	if subNode.Kind != superNode.Kind {
		return errs.New(errs.ConceptWrite, "cannot set supertype across kinds")
	}
	if subNode.super != 0 {
		delete(c.byID[subNode.super].subs, sub)
	}
	subNode.super = super
	superNode.subs[sub] = struct{}{}
	c.invalidateCaches()
	return nil
}

// AddOwns declares that owner may own attribute.
func (c *Catalogue) AddOwns(owner, attribute ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.byID[owner]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", owner)
	}
	a, ok := c.byID[attribute]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", attribute)
	}
	o.owns[attribute] = ownsEdge{}
	a.ownedBy[owner] = struct{}{}
	c.invalidateCaches()
	return nil
}

// AddPlays declares that player may play role.
func (c *Catalogue) AddPlays(player, role ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byID[player]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", player)
	}
	r, ok := c.byID[role]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", role)
	}
	p.plays[role] = struct{}{}
	r.playedBy[player] = struct{}{}
	c.invalidateCaches()
	return nil
}

// AddRelates declares that relation relates role.
func (c *Catalogue) AddRelates(relation, role ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rel, ok := c.byID[relation]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", relation)
	}
	role_, ok := c.byID[role]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", role)
	}
	rel.relates[role] = relatesEdge{}
	role_.relatedBy[relation] = struct{}{}
	c.invalidateCaches()
	return nil
}

// RemoveOwns retracts owner's declared ownership of attribute. Fails with
// ConceptWrite if no such declared capability exists.
func (c *Catalogue) RemoveOwns(owner, attribute ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.byID[owner]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", owner)
	}
	if _, ok := o.owns[attribute]; !ok {
		return errs.New(errs.ConceptWrite, "type %d does not declare owns %d", owner, attribute)
	}
	delete(o.owns, attribute)
	delete(c.byID[attribute].ownedBy, owner)
	c.invalidateCaches()
	return nil
}

// RemovePlays retracts player's declared plays of role.
func (c *Catalogue) RemovePlays(player, role ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byID[player]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", player)
	}
	if _, ok := p.plays[role]; !ok {
		return errs.New(errs.ConceptWrite, "type %d does not declare plays %d", player, role)
	}
	delete(p.plays, role)
	delete(c.byID[role].playedBy, player)
	c.invalidateCaches()
	return nil
}

// RemoveRelates retracts relation's declared relates of role.
func (c *Catalogue) RemoveRelates(relation, role ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rel, ok := c.byID[relation]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", relation)
	}
	if _, ok := rel.relates[role]; !ok {
		return errs.New(errs.ConceptWrite, "type %d does not declare relates %d", relation, role)
	}
	delete(rel.relates, role)
	delete(c.byID[role].relatedBy, relation)
	c.invalidateCaches()
	return nil
}

// SetOwnsOrdering sets the ordering flag on owner's declared ownership of
// attribute.
func (c *Catalogue) SetOwnsOrdering(owner, attribute ID, ordering Ordering) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.byID[owner]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", owner)
	}
	e, ok := o.owns[attribute]
	if !ok {
		return errs.New(errs.ConceptWrite, "type %d does not declare owns %d", owner, attribute)
	}
	e.ordering = ordering
	o.owns[attribute] = e
	return nil
}

// GetOwnsOrdering returns the ordering flag on owner's declared ownership
// of attribute.
func (c *Catalogue) GetOwnsOrdering(owner, attribute ID) (Ordering, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(owner)
	if err != nil {
		return Unordered, err
	}
	e, ok := n.owns[attribute]
	if !ok {
		return Unordered, errs.New(errs.ConceptRead, "type %d does not declare owns %d", owner, attribute)
	}
	return e.ordering, nil
}

// SetOwnsAnnotations replaces the annotations on owner's declared ownership
// of attribute.
func (c *Catalogue) SetOwnsAnnotations(owner, attribute ID, a Annotations) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.byID[owner]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", owner)
	}
	e, ok := o.owns[attribute]
	if !ok {
		return errs.New(errs.ConceptWrite, "type %d does not declare owns %d", owner, attribute)
	}
	e.annotations = a
	o.owns[attribute] = e
	return nil
}

// GetOwnsAnnotations returns the annotations on owner's declared ownership
// of attribute.
func (c *Catalogue) GetOwnsAnnotations(owner, attribute ID) (Annotations, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(owner)
	if err != nil {
		return Annotations{}, err
	}
	e, ok := n.owns[attribute]
	if !ok {
		return Annotations{}, errs.New(errs.ConceptRead, "type %d does not declare owns %d", owner, attribute)
	}
	return e.annotations, nil
}

// SetRelatesOrdering sets the ordering flag on relation's declared relates
// of role.
func (c *Catalogue) SetRelatesOrdering(relation, role ID, ordering Ordering) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rel, ok := c.byID[relation]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", relation)
	}
	e, ok := rel.relates[role]
	if !ok {
		return errs.New(errs.ConceptWrite, "type %d does not declare relates %d", relation, role)
	}
	e.ordering = ordering
	rel.relates[role] = e
	return nil
}

// GetRelatesOrdering returns the ordering flag on relation's declared
// relates of role.
func (c *Catalogue) GetRelatesOrdering(relation, role ID) (Ordering, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(relation)
	if err != nil {
		return Unordered, err
	}
	e, ok := n.relates[role]
	if !ok {
		return Unordered, errs.New(errs.ConceptRead, "type %d does not declare relates %d", relation, role)
	}
	return e.ordering, nil
}

// DeleteType removes a type and all capability edges referencing it.
func (c *Catalogue) DeleteType(id ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.byID[id]
	if !ok {
		return errs.New(errs.ConceptWrite, "unknown type id %d", id)
	}
	if n.super != 0 {
		delete(c.byID[n.super].subs, id)
	}
	for sub := range n.subs {
		c.byID[sub].super = 0
	}
	for attr := range n.owns {
		delete(c.byID[attr].ownedBy, id)
	}
	for owner := range n.ownedBy {
		delete(c.byID[owner].owns, id)
	}
	for role := range n.plays {
		delete(c.byID[role].playedBy, id)
	}
	for player := range n.playedBy {
		delete(c.byID[player].plays, id)
	}
	for role := range n.relates {
		delete(c.byID[role].relatedBy, id)
	}
	for rel := range n.relatedBy {
		delete(c.byID[rel].relates, id)
	}
	delete(c.byLabel, n.Label)
	delete(c.byID, id)
	c.invalidateCaches()
	return nil
}

// ResolveLabel looks up a type by its label.
func (c *Catalogue) ResolveLabel(label Label) (ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byLabel[label]
	if !ok {
		return 0, errs.New(errs.LabelNotResolved, "label %q not resolved", label.Name)
	}
	return id, nil
}

// node looks up a node or returns ConceptRead. Must be called with mu held.
func (c *Catalogue) node(id ID) (*Node, error) {
	n, ok := c.byID[id]
	if !ok {
		return nil, errs.New(errs.ConceptRead, "unknown type id %d", id)
	}
	return n, nil
}

// ListByKind returns every type of the given kind.
func (c *Catalogue) ListByKind(kind Kind) []ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []ID
	for id, n := range c.byID {
		if n.Kind == kind {
			out = append(out, id)
		}
	}
	return out
}

// GetValueType returns the value type of an attribute type.
func (c *Catalogue) GetValueType(id ID) (ValueType, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(id)
	if err != nil {
		return 0, err
	}
	if n.Kind != AttributeType {
		return 0, errs.New(errs.ConceptRead, "type %d is not an attribute type", id)
	}
	return n.ValueType, nil
}

// GetSupertypes returns id's supertype chain, nearest first. id itself is
// not included; the result holds ancestors only.
func (c *Catalogue) GetSupertypes(id ID) ([]ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.supertypesCache.Get(id); ok {
		return cached, nil
	}
	n, err := c.node(id)
	if err != nil {
		return nil, err
	}
	var out []ID
	cur := n.super
	for cur != 0 {
		out = append(out, cur)
		next, err := c.node(cur)
		if err != nil {
			return nil, err
		}
		cur = next.super
	}
	c.supertypesCache.Add(id, out)
	return out, nil
}

// GetSubtypesTransitive returns every strict descendant of id.
func (c *Catalogue) GetSubtypesTransitive(id ID) ([]ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.subtypesCache.Get(id); ok {
		return cached, nil
	}
	n, err := c.node(id)
	if err != nil {
		return nil, err
	}
	var out []ID
	var walk func(ID)
	walk = func(cur ID) {
		node := c.byID[cur]
		for sub := range node.subs {
			out = append(out, sub)
			walk(sub)
		}
	}
	walk(n.ID)
	c.subtypesCache.Add(id, out)
	return out, nil
}

// GetOwnsDeclared returns the attribute types id directly owns.
func (c *Catalogue) GetOwnsDeclared(id ID) ([]ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(id)
	if err != nil {
		return nil, err
	}
	return keySet(n.owns), nil
}

// GetOwns returns every attribute type id or any of its ancestors owns.
func (c *Catalogue) GetOwns(id ID) ([]ID, error) {
	return c.inheritedSet(id, func(n *Node) []ID { return keySet(n.owns) })
}

// GetPlaysDeclared returns the role types id directly plays.
func (c *Catalogue) GetPlaysDeclared(id ID) ([]ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(id)
	if err != nil {
		return nil, err
	}
	return keySet(n.plays), nil
}

// GetPlays returns every role type id or any of its ancestors plays.
func (c *Catalogue) GetPlays(id ID) ([]ID, error) {
	return c.inheritedSet(id, func(n *Node) []ID { return keySet(n.plays) })
}

// GetRelatesDeclared returns the role types id directly relates.
func (c *Catalogue) GetRelatesDeclared(id ID) ([]ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(id)
	if err != nil {
		return nil, err
	}
	return keySet(n.relates), nil
}

// GetRelates returns every role type id or any of its ancestors relates.
func (c *Catalogue) GetRelates(id ID) ([]ID, error) {
	return c.inheritedSet(id, func(n *Node) []ID { return keySet(n.relates) })
}

// OwnersOf returns the object types that (declared) own attribute.
func (c *Catalogue) OwnersOf(attribute ID) ([]ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(attribute)
	if err != nil {
		return nil, err
	}
	return keySet(n.ownedBy), nil
}

// PlayersOf returns the types that (declared) play role.
func (c *Catalogue) PlayersOf(role ID) ([]ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(role)
	if err != nil {
		return nil, err
	}
	return keySet(n.playedBy), nil
}

// RelationsOf returns the relation types that (declared) relate role.
func (c *Catalogue) RelationsOf(role ID) ([]ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(role)
	if err != nil {
		return nil, err
	}
	return keySet(n.relatedBy), nil
}

func (c *Catalogue) inheritedSet(id ID, declared func(*Node) []ID) ([]ID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, err := c.node(id)
	if err != nil {
		return nil, err
	}
	seen := map[ID]struct{}{}
	for _, d := range declared(n) {
		seen[d] = struct{}{}
	}
	cur := n.super
	for cur != 0 {
		ancestor, err := c.node(cur)
		if err != nil {
			return nil, err
		}
		for _, d := range declared(ancestor) {
			seen[d] = struct{}{}
		}
		cur = ancestor.super
	}
	return keySet(seen), nil
}

func keySet[V any](m map[ID]V) []ID {
	out := make([]ID, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
