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

package repository

import (
	"context"
)

// Session is a unit of work against the persistence engine. Filters passed
// to a Session carry column names only.
type Session interface {
	// Add inserts model and populates its primary key.
	Add(ctx context.Context, model interface{}) error
	// Query loads every row matching f into dest, a pointer to a slice.
	Query(ctx context.Context, dest interface{}, f Filter) error
	// QueryOne loads at most one row matching f into dest.
	QueryOne(ctx context.Context, dest interface{}, f Filter) (bool, error)
	// Update writes columns of model by primary key. ErrNoRowsAffected if
	// the row is gone.
	Update(ctx context.Context, model interface{}, columns []string) error
	// Delete removes model by primary key. ErrNoRowsAffected if the row is gone.
	Delete(ctx context.Context, model interface{}) error
	// Refresh reloads model from the store by primary key.
	Refresh(ctx context.Context, model interface{}) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	// Close releases the session, rolling back uncommitted work.
	Close() error
}

// SessionProvider hands out one Session per repository call.
type SessionProvider interface {
	Session(ctx context.Context) (Session, error)
}

// SessionProviderFunc adapts a function to SessionProvider.
type SessionProviderFunc func(ctx context.Context) (Session, error)

func (f SessionProviderFunc) Session(ctx context.Context) (Session, error) { return f(ctx) }

// CrudRepository defines single entity operations for entity pointer type P.
type CrudRepository[P any] interface {
	Create(ctx context.Context, e P) (P, error)

	Get(ctx context.Context, id int64) (P, error)

	GetAll(ctx context.Context) ([]P, error)

	Find(ctx context.Context, attrs Attributes) ([]P, error)

	Update(ctx context.Context, e P, changes Changes) (P, error)

	UpdateByID(ctx context.Context, id int64, changes Changes) (P, error)

	Delete(ctx context.Context, e P) (P, error)

	DeleteByID(ctx context.Context, id int64) error
}

// BatchRepository defines operations committed as one transaction per call.
type BatchRepository[P any] interface {
	CreateBatch(ctx context.Context, es []P) ([]P, error)
	GetBatch(ctx context.Context, f Filter) ([]P, error)
	GetBatchByIDs(ctx context.Context, ids []int64) ([]P, error)
	UpdateBatch(ctx context.Context, es []P, changes Changes) ([]P, error)
	UpdateBatchByIDs(ctx context.Context, ids []int64, changes Changes) ([]P, error)
	DeleteBatch(ctx context.Context, es []P) ([]P, error)
	DeleteBatchByIDs(ctx context.Context, ids []int64) error
}

// EntityRepository combines single and batch operations.
type EntityRepository[P any] interface {
	CrudRepository[P]
	BatchRepository[P]
}
