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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/typedb/typedb-core-go/pattern"
	"github.com/typedb/typedb-core-go/schema"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// animalSchema builds the cat/dog/animal catalogue used across the
// tests below: cat<:animal, dog<:animal, cat-name<:name,
// dog-name<:name, cat owns cat-name, dog owns dog-name. Neither animal nor
// name owns/is-owned directly: this core's capability model is plain
// declared-and-inherited union with no shadowing, so a supertype's owns
// are never narrowed away by a subtype's more specific declaration.
func animalSchema(t *testing.T) (*schema.Catalogue, map[string]schema.ID) {
	t.Helper()
	c := schema.New()
	ids := make(map[string]schema.ID)
	define := func(name string, kind schema.Kind) schema.ID {
		id, err := c.DefineType(schema.Label{Name: name}, kind)
		if err != nil {
			t.Fatalf("DefineType(%s): %v", name, err)
		}
		ids[name] = id
		return id
	}

	define("animal", schema.EntityType)
	define("cat", schema.EntityType)
	define("dog", schema.EntityType)
	define("name", schema.AttributeType)
	define("cat-name", schema.AttributeType)
	define("dog-name", schema.AttributeType)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("schema setup: %v", err)
		}
	}
	must(c.SetSupertype(ids["cat"], ids["animal"]))
	must(c.SetSupertype(ids["dog"], ids["animal"]))
	must(c.SetSupertype(ids["cat-name"], ids["name"]))
	must(c.SetSupertype(ids["dog-name"], ids["name"]))
	must(c.AddOwns(ids["cat"], ids["cat-name"]))
	must(c.AddOwns(ids["dog"], ids["dog-name"]))

	return c, ids
}

func findEdge(g *Graph, match func(pattern.Constraint) bool) *Edge {
	for _, e := range g.Edges {
		if match(e.Constraint) {
			return e
		}
	}
	return nil
}

func isHas(c pattern.Constraint) bool {
	_, ok := c.(pattern.HasConstraint)
	return ok
}

// TestSeedCatHasName infers `{ $a isa cat; $a has $n; $n isa name; }`
// against the cat/dog/animal schema.
func TestSeedCatHasName(t *testing.T) {
	cat, ids := animalSchema(t)

	b := pattern.NewBuilder()
	aVar := b.NewVariable(pattern.ThingCat)
	catTypeVar := b.NewVariable(pattern.TypeCat)
	nVar := b.NewVariable(pattern.AttributeCat)
	nameTypeVar := b.NewVariable(pattern.TypeCat)

	cb := b.NewConjunction()
	mustBuild(t, cb.Label(catTypeVar, schema.Label{Name: "cat"}))
	mustBuild(t, cb.Isa(aVar, catTypeVar, pattern.Subtype))
	mustBuild(t, cb.Has(aVar, nVar))
	mustBuild(t, cb.Label(nameTypeVar, schema.Label{Name: "name"}))
	mustBuild(t, cb.Isa(nVar, nameTypeVar, pattern.Subtype))
	conj := cb.Build()

	s := NewSeeder(cat, b)
	g, err := s.SeedTypes(conj)
	if err != nil {
		t.Fatalf("SeedTypes: %v", err)
	}
	if err := Refine(g); err != nil {
		t.Fatalf("Refine: %v", err)
	}

	wantA := newTypeSet(ids["cat"])
	wantN := newTypeSet(ids["cat-name"])
	if diff := cmp.Diff(wantA, g.Vertices[aVar]); diff != "" {
		t.Errorf("vertex($a) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantN, g.Vertices[nVar]); diff != "" {
		t.Errorf("vertex($n) mismatch (-want +got):\n%s", diff)
	}

	e := findEdge(g, isHas)
	if e == nil {
		t.Fatal("no Has edge found")
	}
	wantLToR := EdgeMap{ids["cat"]: newTypeSet(ids["cat-name"])}
	wantRToL := EdgeMap{ids["cat-name"]: newTypeSet(ids["cat"])}
	if diff := cmp.Diff(wantLToR, e.LToR); diff != "" {
		t.Errorf("Has.LToR mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantRToL, e.RToL); diff != "" {
		t.Errorf("Has.RToL mismatch (-want +got):\n%s", diff)
	}
}

// TestSeedUnconstrainedHas infers `{ $a has $n; }` with no type
// constraints, same schema. The capability model has no owns-shadowing
// between a supertype and its subtypes, so $a never includes "animal":
// it owns nothing, declared or inherited.
func TestSeedUnconstrainedHas(t *testing.T) {
	cat, ids := animalSchema(t)

	b := pattern.NewBuilder()
	aVar := b.NewVariable(pattern.ObjectCat)
	nVar := b.NewVariable(pattern.AttributeCat)

	cb := b.NewConjunction()
	mustBuild(t, cb.Has(aVar, nVar))
	conj := cb.Build()

	s := NewSeeder(cat, b)
	g, err := s.SeedTypes(conj)
	if err != nil {
		t.Fatalf("SeedTypes: %v", err)
	}
	if err := Refine(g); err != nil {
		t.Fatalf("Refine: %v", err)
	}

	wantA := newTypeSet(ids["cat"], ids["dog"])
	wantN := newTypeSet(ids["cat-name"], ids["dog-name"])
	if diff := cmp.Diff(wantA, g.Vertices[aVar]); diff != "" {
		t.Errorf("vertex($a) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantN, g.Vertices[nVar]); diff != "" {
		t.Errorf("vertex($n) mismatch (-want +got):\n%s", diff)
	}

	e := findEdge(g, isHas)
	if e == nil {
		t.Fatal("no Has edge found")
	}
	want := EdgeMap{
		ids["cat"]: newTypeSet(ids["cat-name"]),
		ids["dog"]: newTypeSet(ids["dog-name"]),
	}
	if diff := cmp.Diff(want, e.LToR); diff != "" {
		t.Errorf("Has.LToR mismatch (-want +got):\n%s", diff)
	}
}

// TestSeedDisjunction infers `{ { $a isa cat; } or { $a isa dog; }
// $a has $n; $n isa name; }`.
func TestSeedDisjunction(t *testing.T) {
	cat, ids := animalSchema(t)

	b := pattern.NewBuilder()
	aVar := b.NewVariable(pattern.ThingCat)
	nVar := b.NewVariable(pattern.AttributeCat)
	nameTypeVar := b.NewVariable(pattern.TypeCat)
	catTypeVar := b.NewVariable(pattern.TypeCat)
	dogTypeVar := b.NewVariable(pattern.TypeCat)

	cb1 := b.NewConjunction()
	mustBuild(t, cb1.Label(catTypeVar, schema.Label{Name: "cat"}))
	mustBuild(t, cb1.Isa(aVar, catTypeVar, pattern.Subtype))
	branch1 := cb1.Build()

	cb2 := b.NewConjunction()
	mustBuild(t, cb2.Label(dogTypeVar, schema.Label{Name: "dog"}))
	mustBuild(t, cb2.Isa(aVar, dogTypeVar, pattern.Subtype))
	branch2 := cb2.Build()

	top := b.NewConjunction()
	top.Disjunction(branch1, branch2)
	mustBuild(t, top.Has(aVar, nVar))
	mustBuild(t, top.Label(nameTypeVar, schema.Label{Name: "name"}))
	mustBuild(t, top.Isa(nVar, nameTypeVar, pattern.Subtype))
	conj := top.Build()

	s := NewSeeder(cat, b)
	g, err := s.SeedTypes(conj)
	if err != nil {
		t.Fatalf("SeedTypes: %v", err)
	}
	if err := Refine(g); err != nil {
		t.Fatalf("Refine: %v", err)
	}

	wantParentA := newTypeSet(ids["cat"], ids["dog"])
	wantParentN := newTypeSet(ids["cat-name"], ids["dog-name"])
	if diff := cmp.Diff(wantParentA, g.Vertices[aVar]); diff != "" {
		t.Errorf("parent vertex($a) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantParentN, g.Vertices[nVar]); diff != "" {
		t.Errorf("parent vertex($n) mismatch (-want +got):\n%s", diff)
	}

	if len(g.Disjunctions) != 1 {
		t.Fatalf("expected exactly one disjunction, got %d", len(g.Disjunctions))
	}
	dis := g.Disjunctions[0]
	if len(dis.Branches) != 2 {
		t.Fatalf("expected exactly two branches, got %d", len(dis.Branches))
	}
	wantBranch1 := newTypeSet(ids["cat"])
	wantBranch2 := newTypeSet(ids["dog"])
	if diff := cmp.Diff(wantBranch1, dis.Branches[0].Vertices[aVar]); diff != "" {
		t.Errorf("branch1 vertex($a) mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantBranch2, dis.Branches[1].Vertices[aVar]); diff != "" {
		t.Errorf("branch2 vertex($a) mismatch (-want +got):\n%s", diff)
	}
}

// TestSeedUnsatisfiablePattern exercises the non-emptiness invariant: a
// variable seeded to two incompatible types ends up empty and is rejected
// as unsatisfiable rather than silently propagated.
func TestSeedUnsatisfiablePattern(t *testing.T) {
	cat, _ := animalSchema(t)

	b := pattern.NewBuilder()
	aVar := b.NewVariable(pattern.ThingCat)
	catTypeVar := b.NewVariable(pattern.TypeCat)
	nameTypeVar := b.NewVariable(pattern.TypeCat)

	cb := b.NewConjunction()
	mustBuild(t, cb.Label(catTypeVar, schema.Label{Name: "cat"}))
	mustBuild(t, cb.Isa(aVar, catTypeVar, pattern.Exact))
	mustBuild(t, cb.Label(nameTypeVar, schema.Label{Name: "name"}))
	mustBuild(t, cb.Sub(catTypeVar, nameTypeVar, pattern.Exact))
	conj := cb.Build()

	s := NewSeeder(cat, b)
	_, err := s.SeedTypes(conj)
	if err == nil {
		t.Fatal("expected DetectedUnsatisfiablePattern, got nil")
	}
	if !errors.Is(err, errs.Sentinel(errs.DetectedUnsatisfiablePattern)) {
		t.Errorf("expected DetectedUnsatisfiablePattern, got %v", err)
	}
}

// TestSeedLabelNotResolved exercises the LabelNotResolved failure path.
func TestSeedLabelNotResolved(t *testing.T) {
	cat, _ := animalSchema(t)

	b := pattern.NewBuilder()
	typeVar := b.NewVariable(pattern.TypeCat)
	cb := b.NewConjunction()
	mustBuild(t, cb.Label(typeVar, schema.Label{Name: "unicorn"}))
	conj := cb.Build()

	s := NewSeeder(cat, b)
	_, err := s.SeedTypes(conj)
	if err == nil {
		t.Fatal("expected LabelNotResolved, got nil")
	}
	if !errors.Is(err, errs.Sentinel(errs.LabelNotResolved)) {
		t.Errorf("expected LabelNotResolved, got %v", err)
	}
}

func mustBuild(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("builder: %v", err)
	}
}
