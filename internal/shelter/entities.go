/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package shelter is a small animal shelter domain built on the generic
// repository: shelters own pets, and deleting a shelter deletes its pets.
package shelter

import (
	"database/sql/driver"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/tomoncle/sqlrepo/database"
	"github.com/tomoncle/sqlrepo/entity"
)

// PetType is stored by name; writing or reading any other name fails.
type PetType string

const (
	Dog  PetType = "dog"
	Cat  PetType = "cat"
	Fish PetType = "fish"
)

var petTypes = []struct {
	typ  PetType
	desc string
}{
	{Dog, "Dog"},
	{Cat, "Cat"},
	{Fish, "Fish"},
}

var _ entity.Enum = Dog

func (t PetType) IsValid() bool { return t.Number() != entity.IllegalValue }

func (t PetType) Number() int {
	for i, pt := range petTypes {
		if pt.typ == t {
			return i
		}
	}
	return entity.IllegalValue
}

func (t PetType) String() string { return t.Name() }

func (t PetType) Name() string {
	if !t.IsValid() {
		return entity.IllegalName
	}
	return string(t)
}

func (t PetType) Desc() string {
	if n := t.Number(); n != entity.IllegalValue {
		return petTypes[n].desc
	}
	return entity.IllegalDesc
}

// Value implements driver.Valuer for PetType.
func (t PetType) Value() (driver.Value, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid pet type %q", string(t))
	}
	return string(t), nil
}

// Scan implements sql.Scanner for PetType.
func (t *PetType) Scan(value interface{}) error {
	var name string
	switch v := value.(type) {
	case string:
		name = v
	case []byte:
		name = string(v)
	default:
		return fmt.Errorf("cannot scan %T into PetType", value)
	}
	if pt := PetType(name); pt.IsValid() {
		*t = pt
		return nil
	}
	return fmt.Errorf("invalid pet type %q", name)
}

type Shelter struct {
	bun.BaseModel `bun:"table:shelters,alias:s"`
	entity.Base

	Name string `bun:"name,notnull" json:"name"`
}

type Pet struct {
	bun.BaseModel `bun:"table:pets,alias:p"`
	entity.Base

	Name      string   `bun:"name,notnull" json:"name"`
	Age       int      `bun:"age,notnull" json:"age"`
	Type      PetType  `bun:"pet_type,notnull" json:"type"`
	ShelterID int64    `bun:"shelter_id,notnull" json:"shelter_id"`
	Shelter   *Shelter `bun:"rel:belongs-to,join:shelter_id=id" json:"shelter,omitempty"`
}

// Registry returns the shelter tables, pets cascading on shelter deletion.
func Registry() *database.ModelRegistry {
	reg := database.NewModelRegistry().
		MustRegisterModel((*Shelter)(nil), 0).
		MustRegisterModel((*Pet)(nil), 10)
	reg.AddForeignKeys(database.ForeignKeyConstraint{
		Table:           "pets",
		Column:          "shelter_id",
		ReferenceTable:  "shelters",
		ReferenceColumn: "id",
		OnDelete:        "CASCADE",
	})
	return reg
}
