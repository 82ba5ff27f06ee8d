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

package pattern

import (
	"errors"
	"testing"

	"github.com/typedb/typedb-core-go/schema"

	errs "github.com/typedb/typedb-core-go/pkg/errors"
)

func TestBuilderJoinsCategoriesDownward(t *testing.T) {
	b := NewBuilder()
	v := b.NewVariable(ThingCat)

	cb := b.NewConjunction()
	// Has imposes ObjectCat on the owner side; Thing ⊇ Object, so the
	// variable narrows rather than conflicts.
	attr := b.NewVariable(AttributeCat)
	if err := cb.Has(v, attr); err != nil {
		t.Fatalf("Has: %v", err)
	}
	if got := b.Category(v); got != ObjectCat {
		t.Fatalf("category after join = %s, want Object", got)
	}
}

func TestBuilderRejectsIncompatibleCategories(t *testing.T) {
	b := NewBuilder()
	v := b.NewVariable(AttributeCat)

	cb := b.NewConjunction()
	// A variable already narrowed to an attribute instance cannot also be
	// a schema type.
	err := cb.Label(v, schema.Label{Name: "person"})
	if err == nil {
		t.Fatal("expected Representation error for Attribute/Type conflict")
	}
	if !errors.Is(err, errs.Sentinel(errs.Representation)) {
		t.Fatalf("err = %v, want Representation", err)
	}
}

func TestBuilderJoinsValueWithAttribute(t *testing.T) {
	b := NewBuilder()
	lhs := b.NewVariable(ValueCat)
	rhs := b.NewVariable(AttributeCat)

	cb := b.NewConjunction()
	if err := cb.Comparison(lhs, rhs, Lt); err != nil {
		t.Fatalf("Comparison: %v", err)
	}
	if got := b.Category(lhs); got != AttributeCat {
		t.Fatalf("lhs category = %s, want Attribute", got)
	}
}
