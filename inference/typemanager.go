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

import "github.com/typedb/typedb-core-go/schema"

// TypeManager is the subset of schema.Catalogue the seeder and its
// per-constraint schema relations consult (the contract with
// inference: snapshot-consistent, side-effect free, fails only with
// ConceptRead). schema.Catalogue satisfies this directly, and the tests
// exercise inference against a real schema.Catalogue.
type TypeManager interface {
	ResolveLabel(label schema.Label) (schema.ID, error)
	ListByKind(kind schema.Kind) []schema.ID
	GetValueType(id schema.ID) (schema.ValueType, error)

	GetSupertypes(id schema.ID) ([]schema.ID, error)
	GetSubtypesTransitive(id schema.ID) ([]schema.ID, error)

	GetOwns(id schema.ID) ([]schema.ID, error)
	OwnersOf(attribute schema.ID) ([]schema.ID, error)

	GetPlays(id schema.ID) ([]schema.ID, error)
	PlayersOf(role schema.ID) ([]schema.ID, error)

	GetRelates(id schema.ID) ([]schema.ID, error)
	RelationsOf(role schema.ID) ([]schema.ID, error)
}
