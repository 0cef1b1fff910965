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

// Entity is the contract every managed record satisfies: a unique integer
// identifier assigned by the persistence engine.
type Entity interface {
	GetID() int64
}

// Base carries the identifier column. Embed it in bun models:
//
//	type Pet struct {
//		bun.BaseModel `bun:"table:pets"`
//		entity.Base
//		Name string `bun:"name,notnull"`
//	}
//
// ID is zero until the entity has been created and must not be set by callers.
type Base struct {
	ID int64 `bun:"id,pk,autoincrement" json:"id"`
}

// GetID returns the engine-assigned identifier, or zero for unpersisted entities.
func (b *Base) GetID() int64 {
	if b == nil {
		return 0
	}
	return b.ID
}

// IsPersisted reports whether the entity carries an engine-assigned identifier.
func (b *Base) IsPersisted() bool {
	return b.GetID() != 0
}
