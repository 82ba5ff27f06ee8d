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

package inference

import (
	"github.com/typedb/typedb-core-go/pattern"
	"github.com/typedb/typedb-core-go/schema"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// schemaRelation is the per-constraint schema-level relation the seeder uses both
// to propagate an annotation from one side of a binary constraint to the
// other, and to build that constraint's Edge maps.
type schemaRelation interface {
	// forward returns the types related to l on the right, e.g. for Isa,
	// l's supertypes (including l).
	forward(tm TypeManager, l schema.ID) (TypeSet, error)
	// backward returns the types related to r on the left.
	backward(tm TypeManager, r schema.ID) (TypeSet, error)
}

// isaSubRelation backs both Isa(thing, type) and Sub(sub, super): identical
// shape over the schema graph directly for Sub, and over "instance of"
// mapped onto the schema graph for Isa.
type isaSubRelation struct{ mode pattern.SubtypeMode }

func (r isaSubRelation) forward(tm TypeManager, l schema.ID) (TypeSet, error) {
	if r.mode == pattern.Exact {
		return newTypeSet(l), nil
	}
	supers, err := tm.GetSupertypes(l)
	if err != nil {
		return nil, errs.Wrap(errs.ConceptRead, err, "get supertypes of %d", l)
	}
	out := newTypeSet(append(supers, l)...)
	return out, nil
}

func (r isaSubRelation) backward(tm TypeManager, right schema.ID) (TypeSet, error) {
	if r.mode == pattern.Exact {
		return newTypeSet(right), nil
	}
	subs, err := tm.GetSubtypesTransitive(right)
	if err != nil {
		return nil, errs.Wrap(errs.ConceptRead, err, "get subtypes of %d", right)
	}
	out := newTypeSet(append(subs, right)...)
	return out, nil
}

// hasRelation backs Has(owner, attribute): L = object types, R = attribute
// types ownable by L.
type hasRelation struct{}

func (hasRelation) forward(tm TypeManager, owner schema.ID) (TypeSet, error) {
	owns, err := tm.GetOwns(owner)
	if err != nil {
		return nil, errs.Wrap(errs.ConceptRead, err, "get owns of %d", owner)
	}
	return newTypeSet(owns...), nil
}

func (hasRelation) backward(tm TypeManager, attribute schema.ID) (TypeSet, error) {
	owners, err := tm.OwnersOf(attribute)
	if err != nil {
		return nil, errs.Wrap(errs.ConceptRead, err, "get owners of %d", attribute)
	}
	return newTypeSet(owners...), nil
}

// relatesRelation backs RolePlayer's relation<->role edge.
type relatesRelation struct{}

func (relatesRelation) forward(tm TypeManager, relation schema.ID) (TypeSet, error) {
	roles, err := tm.GetRelates(relation)
	if err != nil {
		return nil, errs.Wrap(errs.ConceptRead, err, "get relates of %d", relation)
	}
	return newTypeSet(roles...), nil
}

func (relatesRelation) backward(tm TypeManager, role schema.ID) (TypeSet, error) {
	relations, err := tm.RelationsOf(role)
	if err != nil {
		return nil, errs.Wrap(errs.ConceptRead, err, "get relations of role %d", role)
	}
	return newTypeSet(relations...), nil
}

// playsRelation backs RolePlayer's player<->role edge.
type playsRelation struct{}

func (playsRelation) forward(tm TypeManager, player schema.ID) (TypeSet, error) {
	roles, err := tm.GetPlays(player)
	if err != nil {
		return nil, errs.Wrap(errs.ConceptRead, err, "get plays of %d", player)
	}
	return newTypeSet(roles...), nil
}

func (playsRelation) backward(tm TypeManager, role schema.ID) (TypeSet, error) {
	players, err := tm.PlayersOf(role)
	if err != nil {
		return nil, errs.Wrap(errs.ConceptRead, err, "get players of role %d", role)
	}
	return newTypeSet(players...), nil
}

// comparisonRelation backs Comparison(lhs, rhs): both sides must be
// attribute types; the opposite side may be any attribute type whose value
// type is comparable to the fixed side's. Symmetric, so forward and
// backward are the same computation.
//
// When a side resolves to a non-attribute type this raises ConceptRead
// rather than silently skipping it.
type comparisonRelation struct{}

func (comparisonRelation) forward(tm TypeManager, l schema.ID) (TypeSet, error) {
	return comparableAttributeTypes(tm, l)
}

func (comparisonRelation) backward(tm TypeManager, r schema.ID) (TypeSet, error) {
	return comparableAttributeTypes(tm, r)
}

func comparableAttributeTypes(tm TypeManager, fixed schema.ID) (TypeSet, error) {
	vt, err := tm.GetValueType(fixed)
	if err != nil {
		return nil, errs.Wrap(errs.ConceptRead, err, "comparison: resolve value type of %d", fixed)
	}
	all := tm.ListByKind(schema.AttributeType)
	out := make(TypeSet)
	for _, a := range all {
		avt, err := tm.GetValueType(a)
		if err != nil {
			return nil, errs.Wrap(errs.ConceptRead, err, "comparison: resolve value type of %d", a)
		}
		if valueTypesComparable(vt, avt) {
			out[a] = struct{}{}
		}
	}
	return out, nil
}

// valueTypesComparable reports whether two value-type categories may be
// compared to each other. Numeric categories (Long, Double) compare across
// each other; every other category only compares to itself.
func valueTypesComparable(a, b schema.ValueType) bool {
	if a == b {
		return true
	}
	numeric := func(v schema.ValueType) bool { return v == schema.Long || v == schema.Double }
	return numeric(a) && numeric(b)
}

// categoryTypeSet returns every schema type permitted by a variable's
// category, used by the unannotated-variable completion step.
func categoryTypeSet(tm TypeManager, cat pattern.Category) (TypeSet, error) {
	switch cat {
	case pattern.TypeCat:
		return allKinds(tm, schema.EntityType, schema.RelationType, schema.AttributeType, schema.RoleType), nil
	case pattern.ThingTypeCat, pattern.ThingCat:
		return allKinds(tm, schema.EntityType, schema.RelationType, schema.AttributeType), nil
	case pattern.RoleTypeCat:
		return allKinds(tm, schema.RoleType), nil
	case pattern.ObjectCat:
		return allKinds(tm, schema.EntityType, schema.RelationType), nil
	case pattern.AttributeCat, pattern.ValueCat:
		return allKinds(tm, schema.AttributeType), nil
	default:
		return nil, errs.New(errs.Representation, "unknown variable category %v", cat)
	}
}

func allKinds(tm TypeManager, kinds ...schema.Kind) TypeSet {
	out := make(TypeSet)
	for _, k := range kinds {
		for _, id := range tm.ListByKind(k) {
			out[id] = struct{}{}
		}
	}
	return out
}
