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

package entity

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type account struct {
	bun.BaseModel `bun:"table:accounts,alias:a"`
	Base

	Email     string    `bun:"email,notnull,unique"`
	Password  string    `bun:"password"`
	ShelterID int64     // bun default naming
	Nickname  *string   `bun:",nullzero"`
	DeletedAt time.Time `bun:",soft_delete,nullzero"`
	Owner     *account  `bun:"rel:belongs-to,join:shelter_id=id"`
	Ignored   string    `bun:"-"`
	internal  string
}

type kennel struct {
	Base
	Accounts []*account `bun:"rel:has-many,join:id=shelter_id"`
	Keeper   *account   `bun:"rel:belongs-to"`
	KeeperID int64
}

type danglingRelation struct {
	Base
	Owner *account `bun:"rel:belongs-to,join:owner_id=id"`
}

type address struct {
	Street string `bun:"street"`
	City   string `bun:"city"`
}

type withEmbed struct {
	Base
	Home address `bun:"embed:home_"`
}

type noPK struct {
	Name string `bun:"name"`
}

type stringPK struct {
	Code string `bun:"code,pk"`
}

type compositePK struct {
	A int64 `bun:"a,pk"`
	B int64 `bun:"b,pk"`
}

func TestDescribeResolvesColumns(t *testing.T) {
	s, err := Describe(reflect.TypeOf(account{}))
	require.NoError(t, err)

	assert.Equal(t, "account", s.TypeName)
	assert.Equal(t, "accounts", s.Table)

	var names []string
	for _, f := range s.Fields {
		names = append(names, f.Name)
	}
	want := []string{"id", "email", "password", "shelter_id", "nickname", "deleted_at"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("columns mismatch (-want +got):\n%s", diff)
	}

	require.NotNil(t, s.PK)
	assert.Equal(t, "id", s.PK.Name)
	assert.True(t, s.PK.AutoIncrement)
	require.NotNil(t, s.SoftDelete)
	assert.Equal(t, "deleted_at", s.SoftDelete.Name)
}

func TestDescribeIsCached(t *testing.T) {
	first, err := Describe(reflect.TypeOf(&account{}))
	require.NoError(t, err)
	second, err := DescribeOf(account{})
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestDescribeEmbedPrefix(t *testing.T) {
	s, err := Describe(reflect.TypeOf(withEmbed{}))
	require.NoError(t, err)

	f, ok := s.Lookup("home_city")
	require.True(t, ok)
	assert.Equal(t, "City", f.GoName)
}

func TestDescribeRejectsInvalidTypes(t *testing.T) {
	cases := map[string]reflect.Type{
		"int":          reflect.TypeOf(0),
		"string":       reflect.TypeOf(""),
		"slice":        reflect.TypeOf([]account{}),
		"no pk":        reflect.TypeOf(noPK{}),
		"string pk":    reflect.TypeOf(stringPK{}),
		"composite pk": reflect.TypeOf(compositePK{}),
		"dangling rel": reflect.TypeOf(danglingRelation{}),
	}
	for name, typ := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Describe(typ)
			assert.Error(t, err)
		})
	}

	_, err := Describe(nil)
	assert.Error(t, err)
}

func TestLookupByColumnAndGoName(t *testing.T) {
	s, err := DescribeOf(account{})
	require.NoError(t, err)

	byColumn, ok := s.Lookup("shelter_id")
	require.True(t, ok)
	byGoName, ok := s.Lookup("ShelterID")
	require.True(t, ok)
	assert.Same(t, byColumn, byGoName)

	_, ok = s.Lookup("legs")
	assert.False(t, ok)
	_, ok = s.Lookup("Owner")
	assert.False(t, ok, "relations are not columns")
	_, ok = s.Lookup("internal")
	assert.False(t, ok)
}

func TestIsBookkeeping(t *testing.T) {
	s, err := DescribeOf(account{})
	require.NoError(t, err)

	assert.True(t, s.IsBookkeeping("BaseModel"))
	assert.True(t, s.IsBookkeeping("deleted_at"))
	assert.True(t, s.IsBookkeeping("DeletedAt"))
	assert.False(t, s.IsBookkeeping("email"))
}

func TestAttributes(t *testing.T) {
	s, err := DescribeOf(account{})
	require.NoError(t, err)

	a := &account{Email: "a@example.com", Password: "secret", ShelterID: 3}
	a.ID = 9
	attrs, err := s.Attributes(reflect.ValueOf(a))
	require.NoError(t, err)

	assert.Equal(t, int64(9), attrs["id"])
	assert.Equal(t, "a@example.com", attrs["email"])
	assert.Equal(t, "secret", attrs["password"])
	assert.Equal(t, int64(3), attrs["shelter_id"])
	assert.NotContains(t, attrs, "owner")

	_, err = s.Attributes(reflect.ValueOf((*account)(nil)))
	assert.Error(t, err)
	_, err = s.Attributes(reflect.ValueOf(noPK{}))
	assert.Error(t, err)
}

func TestUnderscore(t *testing.T) {
	cases := map[string]string{
		"ID":        "id",
		"ShelterID": "shelter_id",
		"Name":      "name",
		"CreatedAt": "created_at",
		"HTTPCode":  "http_code",
	}
	for in, want := range cases {
		assert.Equal(t, want, underscore(in), in)
	}
}

func TestBase(t *testing.T) {
	var b *Base
	assert.Equal(t, int64(0), b.GetID())

	b = &Base{}
	assert.False(t, b.IsPersisted())
	b.ID = 4
	assert.True(t, b.IsPersisted())
	assert.Equal(t, int64(4), b.GetID())
}

func TestDescribeRelations(t *testing.T) {
	s, err := DescribeOf(kennel{})
	require.NoError(t, err)
	require.Len(t, s.Relations, 2)

	keeper, ok := s.Relation("Keeper")
	require.True(t, ok)
	assert.Equal(t, RelBelongsTo, keeper.Kind)
	assert.Equal(t, "keeper_id", keeper.Column, "default join column")
	assert.Equal(t, "id", keeper.RefColumn)
	assert.Equal(t, reflect.TypeOf(account{}), keeper.Type)

	byUnderscore, ok := s.Relation("keeper")
	require.True(t, ok)
	assert.Same(t, keeper, byUnderscore)

	accounts, ok := s.Relation("accounts")
	require.True(t, ok)
	assert.Equal(t, RelHasMany, accounts.Kind)
	assert.Equal(t, reflect.TypeOf(account{}), accounts.Type)

	_, ok = s.Relation("keeper_id")
	assert.False(t, ok, "columns are not relations")

	owner, ok := mustDescribe(t, account{}).Relation("Owner")
	require.True(t, ok)
	assert.Equal(t, "shelter_id", owner.Column)
}

func TestRelationKey(t *testing.T) {
	owner, ok := mustDescribe(t, account{}).Relation("Owner")
	require.True(t, ok)

	key, err := owner.Key(&account{Base: Base{ID: 42}})
	require.NoError(t, err)
	assert.Equal(t, int64(42), key)

	key, err = owner.Key(account{Base: Base{ID: 7}})
	require.NoError(t, err)
	assert.Equal(t, int64(7), key)

	_, err = owner.Key((*account)(nil))
	assert.Error(t, err)
	_, err = owner.Key(&kennel{})
	assert.ErrorContains(t, err, "expects")
	_, err = owner.Key(nil)
	assert.Error(t, err)
}

func mustDescribe(t *testing.T, v interface{}) *Schema {
	t.Helper()
	s, err := DescribeOf(v)
	require.NoError(t, err)
	return s
}
