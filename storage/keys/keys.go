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

// Package keys defines the storage/mvcc key-space layout the rest of the
// core agrees on: which key-space holds instance vertices, has-edges,
// role-player edges, the player index, and schema-type definitions, and how
// a schema.ID-tagged key is packed into the opaque bytes storage/mvcc
// stores. Schema is represented as indices into the
// type manager rather than type objects, so keys here carry schema.ID
// values, not labels.
//
// Keys are fixed-width binary rather than a shared vertex-prefix encoding:
// the storage/mvcc key-space byte already discriminates the key shape.
package keys

import (
	"encoding/binary"

	"github.com/typedb/typedb-core-go/schema"
	"github.com/typedb/typedb-core-go/storage/mvcc"
)

// Key-spaces partition storage/mvcc's key domain by the semantic shape of
// the keys within (the statistics subsystem dispatches on this plus the
// key's leading kind byte for the Thing key-space).
const (
	Thing       mvcc.KeySpace = 1 // entity/relation/attribute instance vertices
	Has         mvcc.KeySpace = 2 // owner-instance -> attribute-instance edges
	RolePlayer  mvcc.KeySpace = 3 // relation-instance <-> player-instance edges, tagged by role
	PlayerIndex mvcc.KeySpace = 4 // player-instance <-> co-player-instance index
	SchemaType  mvcc.KeySpace = 5 // type definitions, keyed by schema.ID; Delete here retires a type
)

// ThingKind tags which of the three instance kinds a Thing key-space vertex
// is, mirroring EntityType/RelationType/AttributeType in the decoded key.
type ThingKind byte

const (
	EntityVertex ThingKind = iota + 1
	RelationVertex
	AttributeVertex
)

// InstanceID is an opaque per-type instance counter; the executor assigns
// these monotonically per schema.ID when inserting new instances.
type InstanceID uint64

func putID(b []byte, id schema.ID) { binary.BigEndian.PutUint64(b, uint64(id)) }
func getID(b []byte) schema.ID     { return schema.ID(binary.BigEndian.Uint64(b)) }

func putInstance(b []byte, id InstanceID) { binary.BigEndian.PutUint64(b, uint64(id)) }
func getInstance(b []byte) InstanceID     { return InstanceID(binary.BigEndian.Uint64(b)) }

// EncodeThingKey packs a single instance vertex key: kind | typeID | instanceID.
func EncodeThingKey(kind ThingKind, typ schema.ID, instance InstanceID) []byte {
	b := make([]byte, 17)
	b[0] = byte(kind)
	putID(b[1:9], typ)
	putInstance(b[9:17], instance)
	return b
}

// DecodeThingKey unpacks a key encoded by EncodeThingKey.
func DecodeThingKey(b []byte) (kind ThingKind, typ schema.ID, instance InstanceID) {
	return ThingKind(b[0]), getID(b[1:9]), getInstance(b[9:17])
}

// EncodeHasKey packs an owner-instance -> attribute-instance edge key.
func EncodeHasKey(ownerType schema.ID, ownerInstance InstanceID, attrType schema.ID, attrInstance InstanceID) []byte {
	b := make([]byte, 32)
	putID(b[0:8], ownerType)
	putInstance(b[8:16], ownerInstance)
	putID(b[16:24], attrType)
	putInstance(b[24:32], attrInstance)
	return b
}

// DecodeHasKey unpacks a key encoded by EncodeHasKey.
func DecodeHasKey(b []byte) (ownerType schema.ID, ownerInstance InstanceID, attrType schema.ID, attrInstance InstanceID) {
	return getID(b[0:8]), getInstance(b[8:16]), getID(b[16:24]), getInstance(b[24:32])
}

// EncodeRolePlayerKey packs a relation-instance <-role-> player-instance edge key.
func EncodeRolePlayerKey(relType schema.ID, relInstance InstanceID, roleType schema.ID, playerType schema.ID, playerInstance InstanceID) []byte {
	b := make([]byte, 40)
	putID(b[0:8], relType)
	putInstance(b[8:16], relInstance)
	putID(b[16:24], roleType)
	putID(b[24:32], playerType)
	putInstance(b[32:40], playerInstance)
	return b
}

// DecodeRolePlayerKey unpacks a key encoded by EncodeRolePlayerKey.
func DecodeRolePlayerKey(b []byte) (relType schema.ID, relInstance InstanceID, roleType schema.ID, playerType schema.ID, playerInstance InstanceID) {
	return getID(b[0:8]), getInstance(b[8:16]), getID(b[16:24]), getID(b[24:32]), getInstance(b[32:40])
}

// EncodePlayerIndexKey packs an ordered co-player index entry; the executor
// writes both (p1,p2) and (p2,p1) for a relation's player pairs, matching
// update_indexed_player's symmetric maintenance in the original source.
func EncodePlayerIndexKey(p1Type schema.ID, p1Instance InstanceID, p2Type schema.ID, p2Instance InstanceID) []byte {
	b := make([]byte, 32)
	putID(b[0:8], p1Type)
	putInstance(b[8:16], p1Instance)
	putID(b[16:24], p2Type)
	putInstance(b[24:32], p2Instance)
	return b
}

// DecodePlayerIndexKey unpacks a key encoded by EncodePlayerIndexKey.
func DecodePlayerIndexKey(b []byte) (p1Type schema.ID, p1Instance InstanceID, p2Type schema.ID, p2Instance InstanceID) {
	return getID(b[0:8]), getInstance(b[8:16]), getID(b[16:24]), getInstance(b[24:32])
}

// SchemaKind tags which kind of type a SchemaType key-space entry defines,
// mirroring schema.Kind for types already retired from the catalogue (the
// catalogue itself no longer has the node once DeleteType runs, so the
// commit's own key carries the kind statistics needs to clean up).
type SchemaKind = schema.Kind

// EncodeSchemaTypeKey packs a type-definition key: kind | typeID.
func EncodeSchemaTypeKey(kind SchemaKind, typ schema.ID) []byte {
	b := make([]byte, 9)
	b[0] = byte(kind)
	putID(b[1:9], typ)
	return b
}

// DecodeSchemaTypeKey unpacks a key encoded by EncodeSchemaTypeKey.
func DecodeSchemaTypeKey(b []byte) (kind SchemaKind, typ schema.ID) {
	return SchemaKind(b[0]), getID(b[1:9])
}
