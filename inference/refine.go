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

import "github.com/typedb/typedb-core-go/pattern"

// Refine runs the fixed-point tightening loop over a seeded graph,
// pruning vertices from their edges and edges from their (now-narrower)
// vertices until nothing more can shrink, recursing into nested scopes, and
// finally checking non-emptiness.
func Refine(g *Graph) error {
	for {
		vChanged := pruneVerticesFromEdgesOnce(g)
		eChanged := pruneEdgesFromVerticesOnce(g)
		nChanged, err := refineNested(g)
		if err != nil {
			return err
		}
		if !vChanged && !eChanged && !nChanged {
			break
		}
	}
	return checkNonEmpty(g)
}

// pruneVerticesFromEdgesOnce intersects every vertex's type set with the
// key sets of every edge incident to it, since an edge key no longer
// matching any value on the other side cannot ultimately hold.
func pruneVerticesFromEdgesOnce(g *Graph) bool {
	changed := false
	for _, e := range g.Edges {
		changed = intersectVertex(g, e.LVar, e.LToR.keys()) || changed
		changed = intersectVertex(g, e.RVar, e.RToL.keys()) || changed
	}
	return changed
}

func intersectVertex(g *Graph, v pattern.VarID, with TypeSet) bool {
	cur, ok := g.Vertices[v]
	if !ok {
		g.Vertices[v] = with.clone()
		return len(with) > 0
	}
	next := intersect(cur, with)
	if len(next) == len(cur) {
		return false
	}
	g.Vertices[v] = next
	return true
}

// pruneEdgesFromVerticesOnce drops every edge entry whose key or any of its
// values no longer appear in the corresponding vertex's type set, then
// rebuilds the inverse map to restore key consistency.
func pruneEdgesFromVerticesOnce(g *Graph) bool {
	changed := false
	for _, e := range g.Edges {
		lVertex := g.Vertices[e.LVar]
		rVertex := g.Vertices[e.RVar]

		for l, rs := range e.LToR {
			if _, ok := lVertex[l]; !ok {
				delete(e.LToR, l)
				changed = true
				continue
			}
			narrowed := intersect(rs, rVertex)
			if len(narrowed) != len(rs) {
				changed = true
			}
			if len(narrowed) == 0 {
				delete(e.LToR, l)
				changed = true
				continue
			}
			e.LToR[l] = narrowed
		}
		e.rebuildInverse()
	}
	return changed
}

// refineNested recurses Refine into negations and optionals (isolated: no
// feedback to the parent graph) and runs the disjunction push-down/
// tighten-up cycle, reporting whether anything in the parent's own vertex
// set changed as a result.
func refineNested(g *Graph) (bool, error) {
	changed := false
	for _, n := range g.Negations {
		if err := Refine(n.Inner); err != nil {
			return false, err
		}
	}
	for _, o := range g.Optionals {
		if err := Refine(o.Inner); err != nil {
			return false, err
		}
	}
	for _, d := range g.Disjunctions {
		c, err := refineDisjunction(g, d)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	return changed, nil
}

// refineDisjunction implements the disjunction handling: push the
// parent's current annotation for each shared variable down into every
// branch (intersecting), refine every branch, then tighten the parent's
// annotation for each shared variable to the union of what survived across
// branches.
func refineDisjunction(g *Graph, d *Disjunction) (bool, error) {
	for v := range d.SharedVars {
		parentSet, ok := g.Vertices[v]
		if !ok {
			continue
		}
		for _, b := range d.Branches {
			intersectVertex(b, v, parentSet)
		}
	}

	for _, b := range d.Branches {
		if err := Refine(b); err != nil {
			return false, err
		}
	}

	changed := false
	for v := range d.SharedVars {
		union := make(TypeSet)
		for _, b := range d.Branches {
			for t := range b.Vertices[v] {
				union[t] = struct{}{}
			}
		}
		d.SharedVertexAnnotations[v] = union
		if cur, ok := g.Vertices[v]; ok {
			next := intersect(cur, union)
			if len(next) != len(cur) {
				changed = true
			}
			g.Vertices[v] = next
		}
	}
	return changed, nil
}
