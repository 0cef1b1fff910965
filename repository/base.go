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
	"errors"
	"fmt"
	"reflect"

	"github.com/tomoncle/sqlrepo/entity"
	"github.com/tomoncle/sqlrepo/logging"
)

var errNilEntity = errors.New("entity is nil")

// Repository implements EntityRepository for entity struct T, with P = *T.
// It is immutable after New and safe for concurrent use; isolation between
// concurrent callers is left to the engine's transactions. Every call opens
// exactly one Session and closes it before returning.
type Repository[T any, P interface {
	*T
	entity.Entity
}] struct {
	schema    *entity.Schema
	sessions  SessionProvider
	sink      logging.Sink
	sensitive map[string]struct{}
}

var _ EntityRepository[*entity.Base] = (*Repository[entity.Base, *entity.Base])(nil)

// New resolves the schema of T and returns its repository. A T without a
// single integer primary key fails here with ErrRepositoryConfiguration.
//
//	pets, err := repository.New[Pet](sessions, repository.WithSensitiveAttributes("password"))
func New[T any, P interface {
	*T
	entity.Entity
}](sessions SessionProvider, opts ...Option) (*Repository[T, P], error) {
	typ := reflect.TypeOf((*T)(nil)).Elem()
	s, err := entity.Describe(typ)
	if err != nil {
		return nil, &Error{Kind: ErrRepositoryConfiguration, Op: "new", Entity: typ.Name(), Err: err}
	}
	if sessions == nil {
		return nil, &Error{Kind: ErrRepositoryConfiguration, Op: "new", Entity: s.TypeName, Err: errors.New("session provider is nil")}
	}

	o := &options{useDefault: true}
	for _, opt := range opts {
		opt(o)
	}
	r := &Repository[T, P]{
		schema:    s,
		sessions:  sessions,
		sink:      o.sink,
		sensitive: make(map[string]struct{}, len(o.sensitive)*2),
	}
	if o.useDefault {
		r.sink = DefaultSink()
	}
	for _, name := range o.sensitive {
		r.sensitive[name] = struct{}{}
		if f, ok := s.Lookup(name); ok {
			r.sensitive[f.Name] = struct{}{}
			r.sensitive[f.GoName] = struct{}{}
		}
	}
	return r, nil
}

// MustNew is New that panics on a configuration error.
func MustNew[T any, P interface {
	*T
	entity.Entity
}](sessions SessionProvider, opts ...Option) *Repository[T, P] {
	r, err := New[T, P](sessions, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Schema returns the resolved column layout of T.
func (r *Repository[T, P]) Schema() *entity.Schema { return r.schema }

func (r *Repository[T, P]) Create(ctx context.Context, e P) (P, error) {
	err := r.observe(opCreate, r.describeEntity(e), func() ([]int64, error) {
		if err := r.create(ctx, opCreate.name, []P{e}); err != nil {
			return nil, err
		}
		return []int64{e.GetID()}, nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Repository[T, P]) CreateBatch(ctx context.Context, es []P) ([]P, error) {
	err := r.observe(opCreateBatch, r.describeEntities(es), func() ([]int64, error) {
		if err := r.create(ctx, opCreateBatch.name, es); err != nil {
			return nil, err
		}
		return idsOf(es), nil
	})
	if err != nil {
		return nil, err
	}
	return es, nil
}

func (r *Repository[T, P]) Get(ctx context.Context, id int64) (P, error) {
	var out P
	err := r.observe(opGet, r.describeKwargs(map[string]interface{}{"id": id}), func() ([]int64, error) {
		sess, err := r.sessions.Session(ctx)
		if err != nil {
			return nil, r.fail(ErrCouldNotQueryEntity, opGet.name, id, err)
		}
		defer func() { _ = sess.Close() }()

		out, err = r.get(ctx, sess, opGet.name, id, ErrCouldNotQueryEntity)
		if err != nil {
			return nil, err
		}
		return []int64{id}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository[T, P]) GetAll(ctx context.Context) ([]P, error) {
	return r.query(ctx, opGetAll, nil, nil)
}

// GetBatch returns the entities matching f, an empty slice when none do.
func (r *Repository[T, P]) GetBatch(ctx context.Context, f Filter) ([]P, error) {
	return r.query(ctx, opGetBatch, f, r.describeFilter(f))
}

// GetBatchByIDs returns the entities whose id is in ids. Unknown ids are
// left out of the result.
func (r *Repository[T, P]) GetBatchByIDs(ctx context.Context, ids []int64) ([]P, error) {
	return r.query(ctx, opGetBatchByIDs, Filter{In(r.schema.PK.Name, ids)},
		r.describeKwargs(map[string]interface{}{"ids": ids}))
}

// Find returns the entities whose attributes equal attrs.
func (r *Repository[T, P]) Find(ctx context.Context, attrs Attributes) ([]P, error) {
	return r.query(ctx, opFind, attrs.Filter(), r.describeKwargs(attrs))
}

// Update applies the non-nil changes to the stored row of e, commits and
// reloads e from the store.
func (r *Repository[T, P]) Update(ctx context.Context, e P, changes Changes) (P, error) {
	err := r.observe(opUpdate, describeAll(r.describeEntity(e), r.describeKwargs(changes)), func() ([]int64, error) {
		if e == nil {
			return nil, r.fail(ErrCouldNotUpdateEntity, opUpdate.name, 0, errNilEntity)
		}
		if _, err := r.update(ctx, opUpdate.name, []P{e}, nil, changes); err != nil {
			return nil, err
		}
		return []int64{e.GetID()}, nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Repository[T, P]) UpdateByID(ctx context.Context, id int64, changes Changes) (P, error) {
	var out P
	kwargs := map[string]interface{}{"id": id}
	err := r.observe(opUpdateByID, describeAll(r.describeKwargs(kwargs), r.describeKwargs(changes)), func() ([]int64, error) {
		updated, err := r.update(ctx, opUpdateByID.name, nil, []int64{id}, changes)
		if err != nil {
			return nil, err
		}
		if len(updated) == 0 {
			return nil, r.fail(ErrEntityNotFound, opUpdateByID.name, id, nil)
		}
		out = updated[0]
		return []int64{id}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateBatch applies the same changes to every entity of es in one
// transaction. A missing member fails the whole batch.
func (r *Repository[T, P]) UpdateBatch(ctx context.Context, es []P, changes Changes) ([]P, error) {
	err := r.observe(opUpdateBatch, describeAll(r.describeEntities(es), r.describeKwargs(changes)), func() ([]int64, error) {
		if _, err := r.update(ctx, opUpdateBatch.name, es, nil, changes); err != nil {
			return nil, err
		}
		return idsOf(es), nil
	})
	if err != nil {
		return nil, err
	}
	return es, nil
}

// UpdateBatchByIDs applies changes to the entities whose id is in ids and
// returns them. Unknown ids are skipped.
func (r *Repository[T, P]) UpdateBatchByIDs(ctx context.Context, ids []int64, changes Changes) ([]P, error) {
	var out []P
	kwargs := map[string]interface{}{"ids": ids}
	err := r.observe(opUpdateBatchByIDs, describeAll(r.describeKwargs(kwargs), r.describeKwargs(changes)), func() ([]int64, error) {
		updated, err := r.update(ctx, opUpdateBatchByIDs.name, nil, ids, changes)
		if err != nil {
			return nil, err
		}
		out = updated
		return idsOf(updated), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes e from the store and returns it detached. A row that is
// already gone is an ErrCouldNotDeleteEntity.
func (r *Repository[T, P]) Delete(ctx context.Context, e P) (P, error) {
	err := r.observe(opDelete, r.describeEntity(e), func() ([]int64, error) {
		if err := r.delete(ctx, opDelete.name, []P{e}, nil); err != nil {
			return nil, err
		}
		return []int64{e.GetID()}, nil
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *Repository[T, P]) DeleteByID(ctx context.Context, id int64) error {
	return r.observe(opDeleteByID, r.describeKwargs(map[string]interface{}{"id": id}), func() ([]int64, error) {
		if err := r.delete(ctx, opDeleteByID.name, nil, []int64{id}); err != nil {
			return nil, err
		}
		return []int64{id}, nil
	})
}

func (r *Repository[T, P]) DeleteBatch(ctx context.Context, es []P) ([]P, error) {
	err := r.observe(opDeleteBatch, r.describeEntities(es), func() ([]int64, error) {
		if err := r.delete(ctx, opDeleteBatch.name, es, nil); err != nil {
			return nil, err
		}
		return idsOf(es), nil
	})
	if err != nil {
		return nil, err
	}
	return es, nil
}

// DeleteBatchByIDs removes the entities whose id is in ids. Unknown ids are
// skipped.
func (r *Repository[T, P]) DeleteBatchByIDs(ctx context.Context, ids []int64) error {
	return r.observe(opDeleteBatchByIDs, r.describeKwargs(map[string]interface{}{"ids": ids}), func() ([]int64, error) {
		var deleted []int64
		err := r.withSession(ctx, opDeleteBatchByIDs.name, ErrCouldNotDeleteEntity, func(sess Session) error {
			targets, err := r.load(ctx, sess, opDeleteBatchByIDs.name, ids, ErrCouldNotDeleteEntity)
			if err != nil {
				return err
			}
			if err := r.deleteEach(ctx, sess, opDeleteBatchByIDs.name, targets); err != nil {
				return err
			}
			deleted = idsOf(targets)
			return nil
		})
		return deleted, err
	})
}

func (r *Repository[T, P]) fail(kind error, op string, id int64, err error) error {
	return &Error{Kind: kind, Op: op, Entity: r.schema.TypeName, ID: id, Err: err}
}

func (r *Repository[T, P]) attrErr(op, attribute string, err error) error {
	return &Error{Kind: ErrEntityAttributeNotFound, Op: op, Entity: r.schema.TypeName, Attribute: attribute, Err: err}
}

// abort rolls the session back and returns err, joined with the rollback
// failure if there is one.
func abort(ctx context.Context, sess Session, err error) error {
	if rbErr := sess.Rollback(ctx); rbErr != nil {
		return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
	}
	return err
}

// abortFailed is abort for an error that is already an *Error: a rollback
// failure joins its cause so the result keeps its kind and type.
func abortFailed(ctx context.Context, sess Session, err error) error {
	var re *Error
	if errors.As(err, &re) {
		re.Err = abort(ctx, sess, re.Err)
		return re
	}
	return abort(ctx, sess, err)
}

func (r *Repository[T, P]) withSession(ctx context.Context, op string, kind error, fn func(Session) error) error {
	sess, err := r.sessions.Session(ctx)
	if err != nil {
		return r.fail(kind, op, 0, err)
	}
	defer func() { _ = sess.Close() }()
	return fn(sess)
}

func (r *Repository[T, P]) create(ctx context.Context, op string, es []P) error {
	if len(es) == 0 {
		return nil
	}
	for _, e := range es {
		if e == nil {
			return r.fail(ErrCouldNotCreateEntity, op, 0, errNilEntity)
		}
	}
	saved, err := r.snapshotIDs(es)
	if err != nil {
		return r.fail(ErrCouldNotCreateEntity, op, 0, err)
	}

	return r.withSession(ctx, op, ErrCouldNotCreateEntity, func(sess Session) error {
		for _, e := range es {
			if err := sess.Add(ctx, e); err != nil {
				r.restoreIDs(es, saved)
				return r.fail(ErrCouldNotCreateEntity, op, 0, abort(ctx, sess, err))
			}
		}
		if err := sess.Commit(ctx); err != nil {
			r.restoreIDs(es, saved)
			return r.fail(ErrCouldNotCreateEntity, op, 0, abort(ctx, sess, err))
		}
		for _, e := range es {
			if err := sess.Refresh(ctx, e); err != nil {
				return r.fail(ErrCouldNotCreateEntity, op, e.GetID(), err)
			}
		}
		return nil
	})
}

func (r *Repository[T, P]) query(ctx context.Context, op operation, f Filter, describe describer) ([]P, error) {
	out := make([]P, 0)
	err := r.observe(op, describe, func() ([]int64, error) {
		resolved, err := r.resolveFilter(op.name, f)
		if err != nil {
			return nil, err
		}
		if resolved.Empty() {
			return nil, nil
		}
		err = r.withSession(ctx, op.name, ErrCouldNotQueryEntity, func(sess Session) error {
			if err := sess.Query(ctx, &out, resolved); err != nil {
				return r.fail(ErrCouldNotQueryEntity, op.name, 0, err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return idsOf(out), nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// resolveFilter maps attribute names to column names. A belongs-to relation
// becomes a predicate on its join column.
func (r *Repository[T, P]) resolveFilter(op string, f Filter) (Filter, error) {
	out := make(Filter, 0, len(f))
	for _, p := range f {
		if p.Op == OpIn {
			if _, ok := p.Value.([]interface{}); !ok {
				return nil, r.queryErr(op, p.Attribute, fmt.Errorf("IN predicate needs a value list, got %T", p.Value))
			}
		}
		if field, ok := r.schema.Lookup(p.Attribute); ok {
			p.Attribute = field.Name
			out = append(out, p)
			continue
		}
		rel, ok := r.schema.Relation(p.Attribute)
		if !ok {
			return nil, r.attrErr(op, p.Attribute, nil)
		}
		if rel.Kind != entity.RelBelongsTo {
			return nil, r.queryErr(op, p.Attribute, fmt.Errorf("cannot filter on %s relation %s", rel.Kind, rel.GoName))
		}
		value, err := relationKeys(rel, p)
		if err != nil {
			return nil, r.queryErr(op, p.Attribute, err)
		}
		out = append(out, Predicate{Attribute: rel.Column, Op: p.Op, Value: value})
	}
	return out, nil
}

// relationKeys maps the related entities of p to their keys. A nil Eq value
// stays nil and matches entities without a related row.
func relationKeys(rel *entity.Relation, p Predicate) (interface{}, error) {
	if p.Op != OpIn {
		if isNil(p.Value) {
			return nil, nil
		}
		return rel.Key(p.Value)
	}
	vs := p.Value.([]interface{})
	keys := make([]interface{}, len(vs))
	for i, v := range vs {
		k, err := rel.Key(v)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	return keys, nil
}

func (r *Repository[T, P]) queryErr(op, attribute string, err error) error {
	return &Error{Kind: ErrCouldNotQueryEntity, Op: op, Entity: r.schema.TypeName, Attribute: attribute, Err: err}
}

func (r *Repository[T, P]) get(ctx context.Context, sess Session, op string, id int64, kind error) (P, error) {
	e := P(new(T))
	found, err := sess.QueryOne(ctx, e, Filter{Eq(r.schema.PK.Name, id)})
	if err != nil {
		return nil, r.fail(kind, op, id, err)
	}
	if !found {
		return nil, r.fail(ErrEntityNotFound, op, id, nil)
	}
	return e, nil
}

// load fetches the entities whose id is in ids; unknown ids are skipped.
func (r *Repository[T, P]) load(ctx context.Context, sess Session, op string, ids []int64, kind error) ([]P, error) {
	out := make([]P, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if err := sess.Query(ctx, &out, Filter{In(r.schema.PK.Name, ids)}); err != nil {
		return nil, r.fail(kind, op, 0, err)
	}
	return out, nil
}

// update loads the targets inside one session, either the stored rows of es
// or the rows matching ids, applies changes, commits once and refreshes.
// Entities of es receive the refreshed state.
func (r *Repository[T, P]) update(ctx context.Context, op string, es []P, ids []int64, changes Changes) ([]P, error) {
	cs, err := r.resolveChanges(op, changes)
	if err != nil {
		return nil, err
	}
	for _, e := range es {
		if e == nil {
			return nil, r.fail(ErrCouldNotUpdateEntity, op, 0, errNilEntity)
		}
	}

	var targets []P
	err = r.withSession(ctx, op, ErrCouldNotUpdateEntity, func(sess Session) error {
		if es != nil {
			targets = make([]P, 0, len(es))
			for _, e := range es {
				current, err := r.get(ctx, sess, op, e.GetID(), ErrCouldNotUpdateEntity)
				if err != nil {
					return abortFailed(ctx, sess, err)
				}
				targets = append(targets, current)
			}
		} else {
			loaded, err := r.load(ctx, sess, op, ids, ErrCouldNotUpdateEntity)
			if err != nil {
				return err
			}
			targets = loaded
		}

		for _, current := range targets {
			cols, err := r.apply(current, cs)
			if err != nil {
				return r.fail(ErrCouldNotUpdateEntity, op, current.GetID(), abort(ctx, sess, err))
			}
			if len(cols) == 0 {
				continue
			}
			if err := sess.Update(ctx, current, cols); err != nil {
				kind := ErrCouldNotUpdateEntity
				if errors.Is(err, ErrNoRowsAffected) {
					kind = ErrEntityNotFound
				}
				return r.fail(kind, op, current.GetID(), abort(ctx, sess, err))
			}
		}
		if err := sess.Commit(ctx); err != nil {
			return r.fail(ErrCouldNotUpdateEntity, op, 0, abort(ctx, sess, err))
		}
		for _, current := range targets {
			if err := sess.Refresh(ctx, current); err != nil {
				return r.fail(ErrCouldNotUpdateEntity, op, current.GetID(), err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, e := range es {
		*e = *targets[i]
	}
	return targets, nil
}

// delete removes es, or the entity with each of ids, in one transaction.
// By id, an unknown id is ErrEntityNotFound.
func (r *Repository[T, P]) delete(ctx context.Context, op string, es []P, ids []int64) error {
	for _, e := range es {
		if e == nil {
			return r.fail(ErrCouldNotDeleteEntity, op, 0, errNilEntity)
		}
	}
	return r.withSession(ctx, op, ErrCouldNotDeleteEntity, func(sess Session) error {
		targets := append(make([]P, 0, len(es)+len(ids)), es...)
		for _, id := range ids {
			current, err := r.get(ctx, sess, op, id, ErrCouldNotDeleteEntity)
			if err != nil {
				return abortFailed(ctx, sess, err)
			}
			targets = append(targets, current)
		}
		return r.deleteEach(ctx, sess, op, targets)
	})
}

func (r *Repository[T, P]) deleteEach(ctx context.Context, sess Session, op string, targets []P) error {
	for _, e := range targets {
		if err := sess.Delete(ctx, e); err != nil {
			return r.fail(ErrCouldNotDeleteEntity, op, e.GetID(), abort(ctx, sess, err))
		}
	}
	if err := sess.Commit(ctx); err != nil {
		return r.fail(ErrCouldNotDeleteEntity, op, 0, abort(ctx, sess, err))
	}
	return nil
}

func (r *Repository[T, P]) snapshotIDs(es []P) ([]interface{}, error) {
	saved := make([]interface{}, len(es))
	for i, e := range es {
		fv, err := r.schema.PK.Value(reflect.ValueOf(e).Elem())
		if err != nil {
			return nil, err
		}
		saved[i] = fv.Interface()
	}
	return saved, nil
}

// restoreIDs puts back the primary keys an aborted insert may have assigned.
func (r *Repository[T, P]) restoreIDs(es []P, saved []interface{}) {
	for i, e := range es {
		fv, err := r.schema.PK.Value(reflect.ValueOf(e).Elem())
		if err != nil || !fv.CanSet() {
			continue
		}
		if saved[i] == nil {
			fv.SetZero()
			continue
		}
		fv.Set(reflect.ValueOf(saved[i]))
	}
}

func idsOf[P entity.Entity](es []P) []int64 {
	ids := make([]int64, 0, len(es))
	for _, e := range es {
		ids = append(ids, e.GetID())
	}
	return ids
}
