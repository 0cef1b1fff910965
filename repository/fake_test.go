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

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tomoncle/sqlrepo/entity"
	"github.com/tomoncle/sqlrepo/logging"
	"github.com/tomoncle/sqlrepo/repository"
)

var errConstraint = errors.New("constraint violation")

// memStore is an in-memory engine: sessions stage changes on a copy of the
// rows and publish them on Commit.
type memStore struct {
	rows   map[int64]reflect.Value
	nextID int64

	opened, closed, commits, rollbacks int

	adds      int
	failAddAt int
	failures  map[string]error
}

func newMemStore() *memStore {
	return &memStore{rows: map[int64]reflect.Value{}, failures: map[string]error{}}
}

func (s *memStore) Session(context.Context) (repository.Session, error) {
	if err := s.failures["session"]; err != nil {
		return nil, err
	}
	s.opened++
	return &memSession{store: s}, nil
}

type memSession struct {
	store  *memStore
	staged map[int64]reflect.Value
	nextID int64
}

var _ repository.Session = (*memSession)(nil)

func (s *memSession) begin() {
	if s.staged != nil {
		return
	}
	s.staged = make(map[int64]reflect.Value, len(s.store.rows))
	for id, row := range s.store.rows {
		s.staged[id] = copyOf(row)
	}
	s.nextID = s.store.nextID
}

func (s *memSession) Add(_ context.Context, model interface{}) error {
	s.store.adds++
	if s.store.failAddAt == s.store.adds {
		return errConstraint
	}
	if err := s.store.failures["add"]; err != nil {
		return err
	}
	s.begin()
	v := reflect.ValueOf(model).Elem()
	pk := pkOf(v)
	s.nextID++
	pk.SetInt(s.nextID)
	s.staged[s.nextID] = copyOf(v)
	return nil
}

func (s *memSession) Query(_ context.Context, dest interface{}, f repository.Filter) error {
	if err := s.store.failures["query"]; err != nil {
		return err
	}
	s.begin()
	slice := reflect.ValueOf(dest).Elem()
	elem := slice.Type().Elem()
	schema, err := entity.Describe(elem)
	if err != nil {
		return err
	}
	ids := make([]int64, 0, len(s.staged))
	for id := range s.staged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		row := s.staged[id]
		ok, err := matches(schema, row, f)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		p := reflect.New(elem.Elem())
		p.Elem().Set(copyOf(row))
		slice.Set(reflect.Append(slice, p))
	}
	return nil
}

func (s *memSession) QueryOne(ctx context.Context, dest interface{}, f repository.Filter) (bool, error) {
	all := reflect.New(reflect.SliceOf(reflect.TypeOf(dest)))
	if err := s.Query(ctx, all.Interface(), f); err != nil {
		return false, err
	}
	if all.Elem().Len() == 0 {
		return false, nil
	}
	reflect.ValueOf(dest).Elem().Set(all.Elem().Index(0).Elem())
	return true, nil
}

func (s *memSession) Update(_ context.Context, model interface{}, columns []string) error {
	if err := s.store.failures["update"]; err != nil {
		return err
	}
	s.begin()
	v := reflect.ValueOf(model).Elem()
	row, ok := s.staged[pkOf(v).Int()]
	if !ok {
		return repository.ErrNoRowsAffected
	}
	schema, _ := entity.Describe(v.Type())
	for _, col := range columns {
		f, ok := schema.Lookup(col)
		if !ok {
			return fmt.Errorf("no column %s", col)
		}
		dst, _ := f.Value(row)
		src, _ := f.Value(v)
		dst.Set(src)
	}
	return nil
}

func (s *memSession) Delete(_ context.Context, model interface{}) error {
	if err := s.store.failures["delete"]; err != nil {
		return err
	}
	s.begin()
	id := pkOf(reflect.ValueOf(model).Elem()).Int()
	if _, ok := s.staged[id]; !ok {
		return repository.ErrNoRowsAffected
	}
	delete(s.staged, id)
	return nil
}

func (s *memSession) Refresh(_ context.Context, model interface{}) error {
	s.begin()
	v := reflect.ValueOf(model).Elem()
	row, ok := s.staged[pkOf(v).Int()]
	if !ok {
		return errors.New("refresh: row is gone")
	}
	v.Set(copyOf(row))
	return nil
}

func (s *memSession) Commit(context.Context) error {
	if err := s.store.failures["commit"]; err != nil {
		return err
	}
	if s.staged != nil {
		s.store.rows = s.staged
		s.store.nextID = s.nextID
	}
	s.staged = nil
	s.store.commits++
	return nil
}

func (s *memSession) Rollback(context.Context) error {
	s.staged = nil
	s.store.rollbacks++
	return s.store.failures["rollback"]
}

func (s *memSession) Close() error {
	s.staged = nil
	s.store.closed++
	return nil
}

func copyOf(v reflect.Value) reflect.Value {
	c := reflect.New(v.Type()).Elem()
	c.Set(v)
	return c
}

func pkOf(v reflect.Value) reflect.Value {
	schema, err := entity.Describe(v.Type())
	if err != nil {
		panic(err)
	}
	pk, err := schema.PK.Value(v)
	if err != nil {
		panic(err)
	}
	return pk
}

func matches(schema *entity.Schema, row reflect.Value, f repository.Filter) (bool, error) {
	for _, p := range f {
		field, ok := schema.Lookup(p.Attribute)
		if !ok {
			return false, fmt.Errorf("no column %s", p.Attribute)
		}
		fv, _ := field.Value(row)
		got := fv.Interface()
		switch p.Op {
		case repository.OpEq:
			if p.Value == nil {
				if fv.Kind() != reflect.Ptr || !fv.IsNil() {
					return false, nil
				}
				continue
			}
			if !equal(got, p.Value) {
				return false, nil
			}
		case repository.OpIn:
			found := false
			for _, want := range p.Value.([]interface{}) {
				if equal(got, want) {
					found = true
					break
				}
			}
			if !found {
				return false, nil
			}
		}
	}
	return true, nil
}

func equal(a, b interface{}) bool {
	return reflect.DeepEqual(a, b) || fmt.Sprint(a) == fmt.Sprint(b)
}

type recordedEvent struct {
	level  logrus.Level
	event  string
	fields logging.Fields
}

type recorder struct {
	mu     sync.Mutex
	events []recordedEvent
	fail   func(event string) error
}

func (r *recorder) Emit(level logrus.Level, event string, fields logging.Fields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(event); err != nil {
			return err
		}
	}
	r.events = append(r.events, recordedEvent{level: level, event: event, fields: fields})
	return nil
}

func (r *recorder) find(event string) (recordedEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.event == event {
			return e, true
		}
	}
	return recordedEvent{}, false
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.event
	}
	return out
}
