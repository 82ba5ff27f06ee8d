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

// Package inference computes, for a query pattern (package pattern), a
// minimal and globally consistent set of schema types per variable and a
// bidirectional type-to-types map per binary constraint.
//
// Inference runs in two phases: a seeding pass (seed from direct
// annotations, propagate, complete unannotated variables, reconcile nested
// scopes, construct edges) followed by a shrink-only refinement fixed point
// (prune vertices from edges, prune edges from vertices, recurse).
package inference

import (
	"github.com/typedb/typedb-core-go/pattern"
	"github.com/typedb/typedb-core-go/schema"
)

// TypeSet is a candidate set of schema types bound to a pattern variable.
type TypeSet map[schema.ID]struct{}

func newTypeSet(ids ...schema.ID) TypeSet {
	s := make(TypeSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s TypeSet) clone() TypeSet {
	out := make(TypeSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// intersect returns a new TypeSet holding only ids present in both a and b.
func intersect(a, b TypeSet) TypeSet {
	out := make(TypeSet)
	small, big := a, b
	if len(b) < len(a) {
		small, big = b, a
	}
	for id := range small {
		if _, ok := big[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

// EdgeMap is one direction of an Edge's bidirectional type-to-types map.
type EdgeMap map[schema.ID]TypeSet

func (m EdgeMap) keys() TypeSet {
	out := make(TypeSet, len(m))
	for k := range m {
		out[k] = struct{}{}
	}
	return out
}

// Edge is the bidirectional type-to-types map for one binary constraint.
// LToR and RToL always satisfy the edge
// key-consistency invariant: keys(LToR) == union of values(RToL) and vice
// versa, maintained by rebuilding RToL from LToR after every mutation.
type Edge struct {
	Constraint pattern.Constraint
	LVar, RVar pattern.VarID
	LToR       EdgeMap
	RToL       EdgeMap
}

func newEdge(c pattern.Constraint, lVar, rVar pattern.VarID) *Edge {
	return &Edge{Constraint: c, LVar: lVar, RVar: rVar, LToR: EdgeMap{}, RToL: EdgeMap{}}
}

func (e *Edge) setForward(l schema.ID, rs TypeSet) {
	if len(rs) == 0 {
		return
	}
	e.LToR[l] = rs
}

// rebuildInverse recomputes RToL from LToR, which trivially satisfies the
// key-consistency invariant by construction.
func (e *Edge) rebuildInverse() {
	e.RToL = EdgeMap{}
	for l, rs := range e.LToR {
		for r := range rs {
			m, ok := e.RToL[r]
			if !ok {
				m = TypeSet{}
				e.RToL[r] = m
			}
			m[l] = struct{}{}
		}
	}
}

// Disjunction is a seeded/refined set of alternative branches, plus the
// shared-variable bookkeeping reconciliation requires.
type Disjunction struct {
	Branches   []*Graph
	SharedVars map[pattern.VarID]struct{}
	// SharedVertexAnnotations holds, for every variable annotated by every
	// branch, the union of that variable's annotations across branches
	// that annotate it.
	SharedVertexAnnotations map[pattern.VarID]TypeSet
}

// Negation is a seeded/refined inner graph whose tightening is isolated
// from its parent.
type Negation struct{ Inner *Graph }

// Optional is a seeded/refined inner graph whose tightening is isolated
// from its parent.
type Optional struct{ Inner *Graph }

// Graph is one scope's inference graph: a tree node mirroring the pattern
// tree.
type Graph struct {
	Conjunction *pattern.Conjunction
	Vertices    map[pattern.VarID]TypeSet
	Edges       []*Edge

	Disjunctions []*Disjunction
	Negations    []*Negation
	Optionals    []*Optional
}

func newGraph(conj *pattern.Conjunction) *Graph {
	return &Graph{Conjunction: conj, Vertices: make(map[pattern.VarID]TypeSet)}
}
