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

// Package pattern is the typed query pattern IR: conjunctions of
// constraints over scoped variables, nested in disjunctions, negations, and
// optionals, with a builder that enforces variable category compatibility.
package pattern

import (
	"sort"

	"github.com/typedb/typedb-core-go/schema"
)

// VarID identifies a variable within a Builder's scope. Stable for the
// pattern's lifetime.
type VarID int

// Category is the grammatical role a variable plays, which bounds which
// schema types it may ultimately be annotated with.
type Category uint8

const (
	// Type-side: the variable denotes a schema type.
	TypeCat Category = iota + 1
	ThingTypeCat
	RoleTypeCat
	// Thing-side: the variable denotes a data instance (or, for Value, a
	// literal operand compared against an attribute instance).
	ThingCat
	ObjectCat
	AttributeCat
	ValueCat
)

func (c Category) String() string {
	switch c {
	case TypeCat:
		return "Type"
	case ThingTypeCat:
		return "ThingType"
	case RoleTypeCat:
		return "RoleType"
	case ThingCat:
		return "Thing"
	case ObjectCat:
		return "Object"
	case AttributeCat:
		return "Attribute"
	case ValueCat:
		return "Value"
	default:
		return "Unknown"
	}
}

// SubtypeMode distinguishes `sub`/`isa` (transitive) from `sub!`/`isa!`
// (exact, no subtyping).
type SubtypeMode uint8

const (
	Subtype SubtypeMode = iota + 1
	Exact
)

// Constraint is implemented by every binary/unary constraint kind a
// Conjunction may hold.
type Constraint interface{ constraintMarker() }

// LabelConstraint binds v to exactly the resolved type named by Label.
type LabelConstraint struct {
	Var   VarID
	Label schema.Label
}

func (LabelConstraint) constraintMarker() {}

// IsaConstraint is `Thing isa Type`: an instance-of relationship.
type IsaConstraint struct {
	Thing VarID
	Type  VarID
	Mode  SubtypeMode
}

func (IsaConstraint) constraintMarker() {}

// SubConstraint is `Sub sub Super`: a schema-level subtyping relationship.
type SubConstraint struct {
	Sub   VarID
	Super VarID
	Mode  SubtypeMode
}

func (SubConstraint) constraintMarker() {}

// HasConstraint is `Owner has Attribute`.
type HasConstraint struct {
	Owner     VarID
	Attribute VarID
}

func (HasConstraint) constraintMarker() {}

// RolePlayerConstraint is the ternary role-player relationship, kept as one
// constraint in the IR; inference decomposes it into two binary edges.
type RolePlayerConstraint struct {
	Relation VarID
	Player   VarID
	Role     VarID
}

func (RolePlayerConstraint) constraintMarker() {}

// ComparisonOp is the operator of a Comparison constraint.
type ComparisonOp uint8

const (
	Eq ComparisonOp = iota + 1
	Neq
	Lt
	Lte
	Gt
	Gte
	Contains
	Like
)

// ComparisonConstraint is `LHS <op> RHS`; both sides must resolve to
// attribute types with comparable value types.
type ComparisonConstraint struct {
	LHS VarID
	RHS VarID
	Op  ComparisonOp
}

func (ComparisonConstraint) constraintMarker() {}

// FunctionSignature is the (external) callee's inferred annotations: one
// type set per return position and one per argument position.
type FunctionSignature struct {
	ReturnAnnotations [][]schema.ID
	ArgAnnotations    [][]schema.ID
}

// FunctionCallBindingConstraint assigns the callee's return annotations to
// Assigned and feeds the callee's argument annotations back to Args.
type FunctionCallBindingConstraint struct {
	Assigned []VarID
	Args     []VarID
	Callee   *FunctionSignature
}

func (FunctionCallBindingConstraint) constraintMarker() {}

// Pattern is implemented by the nested pattern forms a Conjunction may hold.
type Pattern interface{ patternMarker() }

// Disjunction is a set of alternative conjunctions, exactly one of which
// must hold.
type Disjunction struct {
	Branches []*Conjunction
}

func (*Disjunction) patternMarker() {}

// Negation is a conjunction that must not hold; its tightening during
// refinement does not feed back into the parent scope.
type Negation struct {
	Inner *Conjunction
}

func (*Negation) patternMarker() {}

// Optional is a conjunction that may or may not hold; like Negation, its
// refinement is isolated from the parent.
type Optional struct {
	Inner *Conjunction
}

func (*Optional) patternMarker() {}

// Conjunction is a set of constraints that must all hold, plus any nested
// sub-patterns.
type Conjunction struct {
	Constraints []Constraint
	Nested      []Pattern
}

// SharedVars returns the scope's variables that also appear in parent,
// used by the type seeder to compute a disjunction branch's shared set.
func (c *Conjunction) SharedVars(parent map[VarID]struct{}) map[VarID]struct{} {
	shared := make(map[VarID]struct{})
	for v := range c.ownVars() {
		if _, ok := parent[v]; ok {
			shared[v] = struct{}{}
		}
	}
	return shared
}

// Vars returns, in ascending order, every variable appearing directly in
// c's own constraints (not recursing into nested patterns). Used by the
// type seeder's unannotated-variable completion step, which
// needs a stable iteration order over a scope's variables.
func (c *Conjunction) Vars() []VarID {
	set := c.ownVars()
	out := make([]VarID, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ownVars returns every variable appearing directly in c's own constraints
// (not recursing into nested patterns).
func (c *Conjunction) ownVars() map[VarID]struct{} {
	out := make(map[VarID]struct{})
	add := func(v VarID) { out[v] = struct{}{} }
	for _, constraint := range c.Constraints {
		switch k := constraint.(type) {
		case LabelConstraint:
			add(k.Var)
		case IsaConstraint:
			add(k.Thing)
			add(k.Type)
		case SubConstraint:
			add(k.Sub)
			add(k.Super)
		case HasConstraint:
			add(k.Owner)
			add(k.Attribute)
		case RolePlayerConstraint:
			add(k.Relation)
			add(k.Player)
			add(k.Role)
		case ComparisonConstraint:
			add(k.LHS)
			add(k.RHS)
		case FunctionCallBindingConstraint:
			for _, v := range k.Assigned {
				add(v)
			}
			for _, v := range k.Args {
				add(v)
			}
		}
	}
	return out
}
