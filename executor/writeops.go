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

package executor

import (
	"sync"

	"github.com/typedb/typedb-core-go/pattern"
	"github.com/typedb/typedb-core-go/schema"
	"github.com/typedb/typedb-core-go/storage/keys"
	"github.com/typedb/typedb-core-go/storage/mvcc"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

// Allocator assigns fresh, monotonically increasing InstanceIDs, one
// sequence per schema type, matching keys.InstanceID's doc comment: "the
// executor assigns these monotonically per schema.ID when inserting new
// instances."
type Allocator struct {
	mu   sync.Mutex
	next map[schema.ID]keys.InstanceID
}

// NewAllocator returns an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{next: make(map[schema.ID]keys.InstanceID)}
}

// Next returns the next unused instance id for typ.
func (a *Allocator) Next(typ schema.ID) keys.InstanceID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next[typ]++
	return a.next[typ]
}

// WriteOp is one write instruction of the operator tree, bound to
// pattern variables and applied to one row at a time against a write
// transaction's buffered operations.
type WriteOp interface {
	apply(row Row, buf *mvcc.OperationsBuffer, alloc *Allocator, rp *rolePlayerIndex) (Row, error)
}

// InsertThing allocates a fresh instance of Type and binds it to Var.
type InsertThing struct {
	Var  pattern.VarID
	Kind keys.ThingKind
	Type schema.ID
}

func (op InsertThing) apply(row Row, buf *mvcc.OperationsBuffer, alloc *Allocator, _ *rolePlayerIndex) (Row, error) {
	id := alloc.Next(op.Type)
	buf.InsertOp(keys.Thing, keys.EncodeThingKey(op.Kind, op.Type, id), nil)
	out := row.Clone()
	out[op.Var] = Binding{Kind: op.Kind, Type: op.Type, Instance: id}
	return out, nil
}

// InsertEntity is InsertThing specialised to an entity instance.
func InsertEntity(v pattern.VarID, typ schema.ID) InsertThing {
	return InsertThing{Var: v, Kind: keys.EntityVertex, Type: typ}
}

// InsertRelation is InsertThing specialised to a relation instance.
func InsertRelation(v pattern.VarID, typ schema.ID) InsertThing {
	return InsertThing{Var: v, Kind: keys.RelationVertex, Type: typ}
}

// InsertAttribute is InsertThing specialised to an attribute instance.
func InsertAttribute(v pattern.VarID, typ schema.ID) InsertThing {
	return InsertThing{Var: v, Kind: keys.AttributeVertex, Type: typ}
}

// InsertHas buffers an owner-instance -> attribute-instance edge between
// two already-bound row variables.
type InsertHas struct {
	Owner, Attribute pattern.VarID
}

func (op InsertHas) apply(row Row, buf *mvcc.OperationsBuffer, _ *Allocator, _ *rolePlayerIndex) (Row, error) {
	owner, ok := row[op.Owner]
	if !ok {
		return nil, errs.New(errs.PipelineExecution, "insert has: owner variable %d unbound", op.Owner)
	}
	attr, ok := row[op.Attribute]
	if !ok {
		return nil, errs.New(errs.PipelineExecution, "insert has: attribute variable %d unbound", op.Attribute)
	}
	buf.InsertOp(keys.Has, keys.EncodeHasKey(owner.Type, owner.Instance, attr.Type, attr.Instance), nil)
	return row, nil
}

// DeleteHas buffers the removal of an owner-instance -> attribute-instance
// edge.
type DeleteHas struct {
	Owner, Attribute pattern.VarID
}

func (op DeleteHas) apply(row Row, buf *mvcc.OperationsBuffer, _ *Allocator, _ *rolePlayerIndex) (Row, error) {
	owner, ok := row[op.Owner]
	if !ok {
		return nil, errs.New(errs.PipelineExecution, "delete has: owner variable %d unbound", op.Owner)
	}
	attr, ok := row[op.Attribute]
	if !ok {
		return nil, errs.New(errs.PipelineExecution, "delete has: attribute variable %d unbound", op.Attribute)
	}
	buf.DeleteOp(keys.Has, keys.EncodeHasKey(owner.Type, owner.Instance, attr.Type, attr.Instance))
	return row, nil
}

// DeleteThing buffers the removal of a bound instance vertex.
type DeleteThing struct {
	Var pattern.VarID
}

func (op DeleteThing) apply(row Row, buf *mvcc.OperationsBuffer, _ *Allocator, _ *rolePlayerIndex) (Row, error) {
	b, ok := row[op.Var]
	if !ok {
		return nil, errs.New(errs.PipelineExecution, "delete thing: variable %d unbound", op.Var)
	}
	buf.DeleteOp(keys.Thing, keys.EncodeThingKey(b.Kind, b.Type, b.Instance))
	return row, nil
}

// InsertRolePlayer buffers a relation-instance <-role-> player-instance
// edge, plus the symmetric player-index entries against every co-player
// already added to the same relation instance within this pipeline run
// (see storage/keys.EncodePlayerIndexKey).
type InsertRolePlayer struct {
	Relation, Player pattern.VarID
	Role             schema.ID
}

func (op InsertRolePlayer) apply(row Row, buf *mvcc.OperationsBuffer, _ *Allocator, rp *rolePlayerIndex) (Row, error) {
	rel, ok := row[op.Relation]
	if !ok {
		return nil, errs.New(errs.PipelineExecution, "insert role player: relation variable %d unbound", op.Relation)
	}
	player, ok := row[op.Player]
	if !ok {
		return nil, errs.New(errs.PipelineExecution, "insert role player: player variable %d unbound", op.Player)
	}
	buf.InsertOp(keys.RolePlayer, keys.EncodeRolePlayerKey(rel.Type, rel.Instance, op.Role, player.Type, player.Instance), nil)
	rp.add(rel, player, buf)
	return row, nil
}

// relationKey identifies one relation instance; instance ids are per-type
// sequences, so the type must participate in the key.
type relationKey struct {
	typ      schema.ID
	instance keys.InstanceID
}

// rolePlayerIndex tracks, per relation instance seen so far in this
// pipeline run, the players already indexed against it, so a newly added
// player can be paired symmetrically with each existing one.
type rolePlayerIndex struct {
	mu      sync.Mutex
	players map[relationKey][]Binding
}

func newRolePlayerIndex() *rolePlayerIndex {
	return &rolePlayerIndex{players: make(map[relationKey][]Binding)}
}

func (rp *rolePlayerIndex) add(relation, player Binding, buf *mvcc.OperationsBuffer) {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	k := relationKey{typ: relation.Type, instance: relation.Instance}
	for _, existing := range rp.players[k] {
		buf.InsertOp(keys.PlayerIndex, keys.EncodePlayerIndexKey(player.Type, player.Instance, existing.Type, existing.Instance), nil)
		buf.InsertOp(keys.PlayerIndex, keys.EncodePlayerIndexKey(existing.Type, existing.Instance, player.Type, player.Instance), nil)
	}
	rp.players[k] = append(rp.players[k], player)
}
