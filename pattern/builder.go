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

package pattern

import (
	"github.com/typedb/typedb-core-go/schema"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// categoryParent encodes the two small lattices a variable's category can
// move down: Type ⊇ {ThingType, RoleType} on the schema-type side, and
// Thing ⊇ {Object, Attribute} on the data-instance side. Value sits beside
// Attribute (both ultimately constrain a variable to attribute types) and
// is reconciled with it as a special case in join.
var categoryParent = map[Category]Category{
	ThingTypeCat: TypeCat,
	RoleTypeCat:  TypeCat,
	ObjectCat:    ThingCat,
	AttributeCat: ThingCat,
	ValueCat:     ThingCat,
}

func isAncestor(ancestor, descendant Category) bool {
	cur := descendant
	for {
		parent, ok := categoryParent[cur]
		if !ok {
			return false
		}
		if parent == ancestor {
			return true
		}
		cur = parent
	}
}

// join computes the most specific category compatible with both a and b,
// per the "joins its previous category with the category imposed by the
// constraint" rule, failing with Representation when the two categories
// share no common refinement.
func join(a, b Category) (Category, error) {
	if a == b {
		return a, nil
	}
	if isAncestor(a, b) {
		return b, nil
	}
	if isAncestor(b, a) {
		return a, nil
	}
	if (a == AttributeCat && b == ValueCat) || (a == ValueCat && b == AttributeCat) {
		return AttributeCat, nil
	}
	return 0, errs.New(errs.Representation, "incompatible variable categories %s and %s", a, b)
}

// Builder allocates variables and constraints for a single pattern tree,
// validating category compatibility as constraints are added.
type Builder struct {
	nextVar    VarID
	categories map[VarID]Category
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{categories: make(map[VarID]Category)}
}

// NewVariable allocates a fresh variable with an initial category.
func (b *Builder) NewVariable(initial Category) VarID {
	b.nextVar++
	v := b.nextVar
	b.categories[v] = initial
	return v
}

// Category returns v's current (joined) category.
func (b *Builder) Category(v VarID) Category { return b.categories[v] }

// constrain joins v's current category with imposed, recording the result
// or failing with Representation on an incompatible join.
func (b *Builder) constrain(v VarID, imposed Category) error {
	cur, ok := b.categories[v]
	if !ok {
		b.categories[v] = imposed
		return nil
	}
	joined, err := join(cur, imposed)
	if err != nil {
		return err
	}
	b.categories[v] = joined
	return nil
}

// NewConjunction starts building a new conjunction in this builder's scope.
func (b *Builder) NewConjunction() *ConjunctionBuilder {
	return &ConjunctionBuilder{b: b, conj: &Conjunction{}}
}

// ConjunctionBuilder accumulates constraints for one Conjunction.
type ConjunctionBuilder struct {
	b    *Builder
	conj *Conjunction
}

// Build returns the accumulated Conjunction.
func (cb *ConjunctionBuilder) Build() *Conjunction { return cb.conj }

// Label adds `v label Label`, constraining v to TypeCat.
func (cb *ConjunctionBuilder) Label(v VarID, label schema.Label) error {
	if err := cb.b.constrain(v, TypeCat); err != nil {
		return err
	}
	cb.conj.Constraints = append(cb.conj.Constraints, LabelConstraint{Var: v, Label: label})
	return nil
}

// Isa adds `thing isa typ`.
func (cb *ConjunctionBuilder) Isa(thing, typ VarID, mode SubtypeMode) error {
	if err := cb.b.constrain(thing, ThingCat); err != nil {
		return err
	}
	if err := cb.b.constrain(typ, ThingTypeCat); err != nil {
		return err
	}
	cb.conj.Constraints = append(cb.conj.Constraints, IsaConstraint{Thing: thing, Type: typ, Mode: mode})
	return nil
}

// Sub adds `sub sub super`.
func (cb *ConjunctionBuilder) Sub(sub, super VarID, mode SubtypeMode) error {
	if err := cb.b.constrain(sub, TypeCat); err != nil {
		return err
	}
	if err := cb.b.constrain(super, TypeCat); err != nil {
		return err
	}
	cb.conj.Constraints = append(cb.conj.Constraints, SubConstraint{Sub: sub, Super: super, Mode: mode})
	return nil
}

// Has adds `owner has attribute`.
func (cb *ConjunctionBuilder) Has(owner, attribute VarID) error {
	if err := cb.b.constrain(owner, ObjectCat); err != nil {
		return err
	}
	if err := cb.b.constrain(attribute, AttributeCat); err != nil {
		return err
	}
	cb.conj.Constraints = append(cb.conj.Constraints, HasConstraint{Owner: owner, Attribute: attribute})
	return nil
}

// RolePlayer adds the ternary `relation(role: player)` constraint.
func (cb *ConjunctionBuilder) RolePlayer(relation, player, role VarID) error {
	if err := cb.b.constrain(relation, ObjectCat); err != nil {
		return err
	}
	if err := cb.b.constrain(player, ObjectCat); err != nil {
		return err
	}
	if err := cb.b.constrain(role, RoleTypeCat); err != nil {
		return err
	}
	cb.conj.Constraints = append(cb.conj.Constraints, RolePlayerConstraint{Relation: relation, Player: player, Role: role})
	return nil
}

// Comparison adds `lhs <op> rhs`.
func (cb *ConjunctionBuilder) Comparison(lhs, rhs VarID, op ComparisonOp) error {
	if err := cb.b.constrain(lhs, AttributeCat); err != nil {
		return err
	}
	if err := cb.b.constrain(rhs, AttributeCat); err != nil {
		return err
	}
	cb.conj.Constraints = append(cb.conj.Constraints, ComparisonConstraint{LHS: lhs, RHS: rhs, Op: op})
	return nil
}

// FunctionCallBinding adds a function call's assigned/argument bindings.
func (cb *ConjunctionBuilder) FunctionCallBinding(assigned, args []VarID, callee *FunctionSignature) error {
	for _, v := range assigned {
		if err := cb.b.constrain(v, ValueCat); err != nil {
			return err
		}
	}
	for _, v := range args {
		if err := cb.b.constrain(v, ValueCat); err != nil {
			return err
		}
	}
	cb.conj.Constraints = append(cb.conj.Constraints, FunctionCallBindingConstraint{Assigned: assigned, Args: args, Callee: callee})
	return nil
}

// Disjunction adds a nested disjunction built from branch builders.
func (cb *ConjunctionBuilder) Disjunction(branches ...*Conjunction) {
	cb.conj.Nested = append(cb.conj.Nested, &Disjunction{Branches: branches})
}

// NegationOf adds a nested negation.
func (cb *ConjunctionBuilder) NegationOf(inner *Conjunction) {
	cb.conj.Nested = append(cb.conj.Nested, &Negation{Inner: inner})
}

// OptionalOf adds a nested optional.
func (cb *ConjunctionBuilder) OptionalOf(inner *Conjunction) {
	cb.conj.Nested = append(cb.conj.Nested, &Optional{Inner: inner})
}
