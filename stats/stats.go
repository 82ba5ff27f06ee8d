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

// Package stats keeps the per-type instance counts and per-capability pair
// counts consistent with the committed state, persisting a
// versioned snapshot as the latest unsequenced record at each schema
// commit and rebuilding by replay on load.
//
// Deltas arrive one committed key at a time and are dispatched on the
// key's shape (thing, has, role-player, player-index); type-deletion
// commits cascade, dropping every entry keyed by the deleted type on
// either side of a pair.
package stats

import (
	"sync"

	"github.com/typedb/typedb-core-go/pkg/record"
	"github.com/typedb/typedb-core-go/schema"
	"github.com/typedb/typedb-core-go/storage/keys"
	"github.com/typedb/typedb-core-go/storage/mvcc"
)

// EncodingVersion is bumped whenever the persisted record gains a field; the persisted
// record format is self-describing so a future version can add fields
// a decoder built against this version simply ignores.
const EncodingVersion uint64 = 0

// pairKey is a (type, type) pair used as a map key for the per-capability
// counts (owner/attribute, relation/role, player/role, player/player).
type pairKey struct{ A, B schema.ID }

// Statistics accumulates the live counts; Persist writes them as a
// versioned record and Decode reads one back.
type Statistics struct {
	mu sync.RWMutex

	sequence record.SequenceNumber

	totalThing     int64
	totalEntity    int64
	totalRelation  int64
	totalAttribute int64
	totalRole      int64
	totalHas       int64

	entityCounts    map[schema.ID]int64
	relationCounts  map[schema.ID]int64
	attributeCounts map[schema.ID]int64
	roleCounts      map[schema.ID]int64

	hasAttributeCounts   map[pairKey]int64 // owner -> attribute
	attributeOwnerCounts map[pairKey]int64 // attribute -> owner
	rolePlayerCounts     map[pairKey]int64 // player -> role
	relationRoleCounts   map[pairKey]int64 // relation -> role
	playerIndexCounts    map[pairKey]int64 // player -> co-player
}

// New returns an empty Statistics pinned to sequence number from.
func New(from record.SequenceNumber) *Statistics {
	return &Statistics{
		sequence:             from,
		entityCounts:         make(map[schema.ID]int64),
		relationCounts:       make(map[schema.ID]int64),
		attributeCounts:      make(map[schema.ID]int64),
		roleCounts:           make(map[schema.ID]int64),
		hasAttributeCounts:   make(map[pairKey]int64),
		attributeOwnerCounts: make(map[pairKey]int64),
		rolePlayerCounts:     make(map[pairKey]int64),
		relationRoleCounts:   make(map[pairKey]int64),
		playerIndexCounts:    make(map[pairKey]int64),
	}
}

// Sequence returns the sequence number this Statistics reflects.
func (s *Statistics) Sequence() record.SequenceNumber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

// EntityCount returns the live instance count of entity type t.
func (s *Statistics) EntityCount(t schema.ID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entityCounts[t]
}

// RelationCount returns the live instance count of relation type t.
func (s *Statistics) RelationCount(t schema.ID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relationCounts[t]
}

// AttributeCount returns the live instance count of attribute type t.
func (s *Statistics) AttributeCount(t schema.ID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attributeCounts[t]
}

// TotalThingCount returns the grand total of entity+relation+attribute
// instances.
func (s *Statistics) TotalThingCount() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.totalThing
}

// HasCount returns the number of owner-instance -> attribute-instance edges
// between ownerType and attributeType.
func (s *Statistics) HasCount(ownerType, attributeType schema.ID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasAttributeCounts[pairKey{ownerType, attributeType}]
}

// PlayerIndexCount returns the co-player count between the two player types.
func (s *Statistics) PlayerIndexCount(playerType, coPlayerType schema.ID) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerIndexCounts[pairKey{playerType, coPlayerType}]
}

// Apply folds one commit's key-deltas into the running counts. Schema
// commits and data commits are folded identically at this layer; the
// schema-boundary flush/persist protocol is the caller's responsibility,
// since only the caller knows which commits are schema-typed and owns the
// durability log to persist snapshots against.
func (s *Statistics) Apply(seq record.SequenceNumber, deltas []mvcc.KeyDelta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range deltas {
		if d.Delta == 0 {
			continue
		}
		s.applyOneLocked(d)
	}
	s.sequence = seq
}

func (s *Statistics) applyOneLocked(d mvcc.KeyDelta) {
	key := []byte(d.Key)
	switch d.KeySpace {
	case keys.Thing:
		kind, typ, _ := keys.DecodeThingKey(key)
		switch kind {
		case keys.EntityVertex:
			s.entityCounts[typ] += d.Delta
			s.totalEntity += d.Delta
			s.totalThing += d.Delta
		case keys.RelationVertex:
			s.relationCounts[typ] += d.Delta
			s.totalRelation += d.Delta
			s.totalThing += d.Delta
		case keys.AttributeVertex:
			s.attributeCounts[typ] += d.Delta
			s.totalAttribute += d.Delta
			s.totalThing += d.Delta
		}
	case keys.Has:
		ownerType, _, attrType, _ := keys.DecodeHasKey(key)
		s.hasAttributeCounts[pairKey{ownerType, attrType}] += d.Delta
		s.attributeOwnerCounts[pairKey{attrType, ownerType}] += d.Delta
		s.totalHas += d.Delta
	case keys.RolePlayer:
		relType, _, roleType, playerType, _ := keys.DecodeRolePlayerKey(key)
		s.roleCounts[roleType] += d.Delta
		s.totalRole += d.Delta
		s.rolePlayerCounts[pairKey{playerType, roleType}] += d.Delta
		s.relationRoleCounts[pairKey{relType, roleType}] += d.Delta
	case keys.PlayerIndex:
		p1Type, _, p2Type, _ := keys.DecodePlayerIndexKey(key)
		s.playerIndexCounts[pairKey{p1Type, p2Type}] += d.Delta
	case keys.SchemaType:
		if d.Delta >= 0 {
			// Only a Delete (negative delta) retires a type; defining
			// one has nothing for statistics to clean up.
			return
		}
		kind, typ := keys.DecodeSchemaTypeKey(key)
		s.deleteTypeLocked(kind, typ)
	}
}

// deleteTypeLocked removes every entry keyed by a deleted type, across both
// sides of every capability map it participates in (the invariant).
// Must be called with mu held.
func (s *Statistics) deleteTypeLocked(kind schema.Kind, typ schema.ID) {
	switch kind {
	case schema.EntityType:
		delete(s.entityCounts, typ)
		s.clearObjectTypeLocked(typ)
	case schema.RelationType:
		delete(s.relationCounts, typ)
		deletePairsWithA(s.relationRoleCounts, typ)
		s.clearObjectTypeLocked(typ)
	case schema.AttributeType:
		delete(s.attributeCounts, typ)
		deletePairsWithA(s.attributeOwnerCounts, typ)
		deletePairsWithB(s.hasAttributeCounts, typ)
	case schema.RoleType:
		delete(s.roleCounts, typ)
		deletePairsWithB(s.rolePlayerCounts, typ)
		deletePairsWithB(s.relationRoleCounts, typ)
	}
}

// clearObjectTypeLocked removes every capability-map entry referencing an
// object type (entity or relation type) being deleted.
func (s *Statistics) clearObjectTypeLocked(objectType schema.ID) {
	deletePairsWithA(s.hasAttributeCounts, objectType)
	deletePairsWithB(s.attributeOwnerCounts, objectType)
	deletePairsWithA(s.rolePlayerCounts, objectType)
	deletePairsWithA(s.playerIndexCounts, objectType)
	deletePairsWithB(s.playerIndexCounts, objectType)
}

func deletePairsWithA(m map[pairKey]int64, a schema.ID) {
	for k := range m {
		if k.A == a {
			delete(m, k)
		}
	}
}

func deletePairsWithB(m map[pairKey]int64, b schema.ID) {
	for k := range m {
		if k.B == b {
			delete(m, k)
		}
	}
}
