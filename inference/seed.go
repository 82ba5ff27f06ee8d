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

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// Seeder produces the initial inference graph for a pattern against a
// catalogue.
type Seeder struct {
	tm      TypeManager
	builder *pattern.Builder
}

// NewSeeder returns a Seeder that resolves types against tm and reads
// variable categories from builder.
func NewSeeder(tm TypeManager, builder *pattern.Builder) *Seeder {
	return &Seeder{tm: tm, builder: builder}
}

// SeedTypes runs the full seeding pass against the top-level conjunction of
// a query, returning its inference graph or LabelNotResolved /
// DetectedUnsatisfiablePattern / ConceptRead / Representation on failure.
func (s *Seeder) SeedTypes(conj *pattern.Conjunction) (*Graph, error) {
	return s.seedWithParent(conj, nil)
}

// seedWithParent seeds conj, treating parent as the vertex annotations
// already established for conj's shared variables by an enclosing scope
// (nil for the top-level conjunction).
func (s *Seeder) seedWithParent(conj *pattern.Conjunction, parent map[pattern.VarID]TypeSet) (*Graph, error) {
	g := newGraph(conj)
	for v, types := range parent {
		g.Vertices[v] = types.clone()
	}

	if err := s.seedDirectAnnotations(g, conj); err != nil {
		return nil, err
	}

	for {
		directlyAnnotated, err := s.completeOneUnannotated(g, conj)
		if err != nil {
			return nil, err
		}
		if err := s.propagateToFixpoint(g, conj); err != nil {
			return nil, err
		}
		if !directlyAnnotated {
			break
		}
	}

	if err := s.buildEdges(g, conj); err != nil {
		return nil, err
	}

	for _, nested := range conj.Nested {
		switch n := nested.(type) {
		case *pattern.Disjunction:
			d, err := s.seedDisjunction(g, n)
			if err != nil {
				return nil, err
			}
			g.Disjunctions = append(g.Disjunctions, d)
		case *pattern.Negation:
			inner, err := s.seedWithParent(n.Inner, g.Vertices)
			if err != nil {
				return nil, err
			}
			g.Negations = append(g.Negations, &Negation{Inner: inner})
		case *pattern.Optional:
			inner, err := s.seedWithParent(n.Inner, g.Vertices)
			if err != nil {
				return nil, err
			}
			g.Optionals = append(g.Optionals, &Optional{Inner: inner})
		}
	}

	if err := checkNonEmpty(g); err != nil {
		return nil, err
	}
	return g, nil
}

// seedDisjunction reconciles a nested disjunction: push parent annotations
// for shared variables into each branch (intersecting), seed each branch, then
// compute the union across branches for every variable every branch
// annotates, lifting that union back to the parent when the parent itself
// lacks the variable.
func (s *Seeder) seedDisjunction(parent *Graph, dis *pattern.Disjunction) (*Disjunction, error) {
	shared := make(map[pattern.VarID]struct{})
	for _, branch := range dis.Branches {
		for v := range branch.SharedVars(varSet(parent.Vertices)) {
			shared[v] = struct{}{}
		}
	}

	branches := make([]*Graph, 0, len(dis.Branches))
	for _, branch := range dis.Branches {
		branchParent := make(map[pattern.VarID]TypeSet)
		for v := range shared {
			if types, ok := parent.Vertices[v]; ok {
				branchParent[v] = types.clone()
			}
		}
		bg, err := s.seedWithParent(branch, branchParent)
		if err != nil {
			return nil, err
		}
		branches = append(branches, bg)
	}

	sharedAnnotations := make(map[pattern.VarID]TypeSet)
	for v := range shared {
		union := make(TypeSet)
		everyBranchHas := true
		for _, b := range branches {
			bset, ok := b.Vertices[v]
			if !ok {
				everyBranchHas = false
				break
			}
			for t := range bset {
				union[t] = struct{}{}
			}
		}
		if !everyBranchHas {
			continue
		}
		sharedAnnotations[v] = union
		if _, ok := parent.Vertices[v]; !ok {
			parent.Vertices[v] = union.clone()
		}
	}

	return &Disjunction{Branches: branches, SharedVars: shared, SharedVertexAnnotations: sharedAnnotations}, nil
}

func varSet(vertices map[pattern.VarID]TypeSet) map[pattern.VarID]struct{} {
	out := make(map[pattern.VarID]struct{}, len(vertices))
	for v := range vertices {
		out[v] = struct{}{}
	}
	return out
}

// seedDirectAnnotations seeds from direct annotations: Label constraints
// apply the resolved type directly; FunctionCallBinding applies the callee's return
// annotations to assigned variables and its argument annotations to the
// corresponding caller variables. Both intersect with any existing
// annotation for the variable.
func (s *Seeder) seedDirectAnnotations(g *Graph, conj *pattern.Conjunction) error {
	for _, c := range conj.Constraints {
		switch k := c.(type) {
		case pattern.LabelConstraint:
			id, err := s.tm.ResolveLabel(k.Label)
			if err != nil {
				return errs.Wrap(errs.LabelNotResolved, err, "resolve label %q", k.Label.Name)
			}
			intersectInto(g, k.Var, newTypeSet(id))
		case pattern.FunctionCallBindingConstraint:
			// Flow through the callee's declared annotations; a
			// callee-less binding constrains nothing.
			if k.Callee == nil {
				continue
			}
			for i, v := range k.Assigned {
				if i < len(k.Callee.ReturnAnnotations) {
					intersectInto(g, v, newTypeSet(k.Callee.ReturnAnnotations[i]...))
				}
			}
			for i, v := range k.Args {
				if i < len(k.Callee.ArgAnnotations) {
					intersectInto(g, v, newTypeSet(k.Callee.ArgAnnotations[i]...))
				}
			}
		}
	}
	return nil
}

func intersectInto(g *Graph, v pattern.VarID, types TypeSet) {
	if existing, ok := g.Vertices[v]; ok {
		g.Vertices[v] = intersect(existing, types)
		return
	}
	g.Vertices[v] = types
}

// propagateToFixpoint repeatedly walks every binary constraint, deriving
// the unannotated side via the constraint's schema relation wherever
// exactly one side is annotated, until nothing changes.
func (s *Seeder) propagateToFixpoint(g *Graph, conj *pattern.Conjunction) error {
	for {
		changed, err := s.propagateOnce(g, conj)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
	}
}

func (s *Seeder) propagateOnce(g *Graph, conj *pattern.Conjunction) (bool, error) {
	changed := false
	for _, c := range conj.Constraints {
		var pairs []struct {
			l, r pattern.VarID
			rel  schemaRelation
		}
		switch k := c.(type) {
		case pattern.IsaConstraint:
			pairs = append(pairs, struct {
				l, r pattern.VarID
				rel  schemaRelation
			}{k.Thing, k.Type, isaSubRelation{mode: k.Mode}})
		case pattern.SubConstraint:
			pairs = append(pairs, struct {
				l, r pattern.VarID
				rel  schemaRelation
			}{k.Sub, k.Super, isaSubRelation{mode: k.Mode}})
		case pattern.HasConstraint:
			pairs = append(pairs, struct {
				l, r pattern.VarID
				rel  schemaRelation
			}{k.Owner, k.Attribute, hasRelation{}})
		case pattern.RolePlayerConstraint:
			pairs = append(pairs,
				struct {
					l, r pattern.VarID
					rel  schemaRelation
				}{k.Relation, k.Role, relatesRelation{}},
				struct {
					l, r pattern.VarID
					rel  schemaRelation
				}{k.Player, k.Role, playsRelation{}},
			)
		case pattern.ComparisonConstraint:
			pairs = append(pairs, struct {
				l, r pattern.VarID
				rel  schemaRelation
			}{k.LHS, k.RHS, comparisonRelation{}})
		}
		for _, p := range pairs {
			did, err := s.propagateBinary(g, p.l, p.r, p.rel)
			if err != nil {
				return false, err
			}
			changed = changed || did
		}
	}
	return changed, nil
}

// propagateBinary derives the unannotated side of (lVar, rVar) from the
// annotated side, when exactly one side currently has an annotation.
func (s *Seeder) propagateBinary(g *Graph, lVar, rVar pattern.VarID, rel schemaRelation) (bool, error) {
	lSet, lOK := g.Vertices[lVar]
	rSet, rOK := g.Vertices[rVar]
	switch {
	case lOK && !rOK:
		derived := make(TypeSet)
		for t := range lSet {
			ts, err := rel.forward(s.tm, t)
			if err != nil {
				return false, err
			}
			for id := range ts {
				derived[id] = struct{}{}
			}
		}
		g.Vertices[rVar] = derived
		return true, nil
	case rOK && !lOK:
		derived := make(TypeSet)
		for t := range rSet {
			ts, err := rel.backward(s.tm, t)
			if err != nil {
				return false, err
			}
			for id := range ts {
				derived[id] = struct{}{}
			}
		}
		g.Vertices[lVar] = derived
		return true, nil
	default:
		return false, nil
	}
}

// completeOneUnannotated handles variables no constraint reached: if any
// of conj's own variables remains unannotated, annotate the first (in
// stable order) with
// every schema type its category permits, and report that it did so.
func (s *Seeder) completeOneUnannotated(g *Graph, conj *pattern.Conjunction) (bool, error) {
	for _, v := range conj.Vars() {
		if _, ok := g.Vertices[v]; ok {
			continue
		}
		types, err := categoryTypeSet(s.tm, s.builder.Category(v))
		if err != nil {
			return false, err
		}
		g.Vertices[v] = types
		return true, nil
	}
	return false, nil
}

// buildEdges is the final seeding step: for each non-label/non-expression
// constraint, build the bidirectional edge maps from the currently
// annotated types on each side, then enforce edge key consistency and
// vertex coverage by mutual pruning.
func (s *Seeder) buildEdges(g *Graph, conj *pattern.Conjunction) error {
	for _, c := range conj.Constraints {
		switch k := c.(type) {
		case pattern.IsaConstraint:
			if err := s.buildEdge(g, c, k.Thing, k.Type, isaSubRelation{mode: k.Mode}); err != nil {
				return err
			}
		case pattern.SubConstraint:
			if err := s.buildEdge(g, c, k.Sub, k.Super, isaSubRelation{mode: k.Mode}); err != nil {
				return err
			}
		case pattern.HasConstraint:
			if err := s.buildEdge(g, c, k.Owner, k.Attribute, hasRelation{}); err != nil {
				return err
			}
		case pattern.RolePlayerConstraint:
			if err := s.buildEdge(g, c, k.Relation, k.Role, relatesRelation{}); err != nil {
				return err
			}
			if err := s.buildEdge(g, c, k.Player, k.Role, playsRelation{}); err != nil {
				return err
			}
		case pattern.ComparisonConstraint:
			if err := s.buildEdge(g, c, k.LHS, k.RHS, comparisonRelation{}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Seeder) buildEdge(g *Graph, c pattern.Constraint, lVar, rVar pattern.VarID, rel schemaRelation) error {
	e := newEdge(c, lVar, rVar)
	lSet := g.Vertices[lVar]
	rSet := g.Vertices[rVar]

	for t := range lSet {
		rs, err := rel.forward(s.tm, t)
		if err != nil {
			return err
		}
		e.setForward(t, intersect(rs, rSet))
	}
	e.rebuildInverse()

	g.Vertices[lVar] = e.LToR.keys()
	g.Vertices[rVar] = e.RToL.keys()
	g.Edges = append(g.Edges, e)
	return nil
}

// checkNonEmpty fails with DetectedUnsatisfiablePattern if any of g's own
// vertices ended up with an empty type set.
func checkNonEmpty(g *Graph) error {
	for v, set := range g.Vertices {
		if len(set) == 0 {
			return errs.New(errs.DetectedUnsatisfiablePattern, "variable %d has no remaining candidate types", v)
		}
	}
	return nil
}
