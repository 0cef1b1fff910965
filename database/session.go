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

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/uptrace/bun"

	"github.com/tomoncle/sqlrepo/repository"
)

// unit is the transaction a session is currently working in.
type unit interface {
	conn() bun.IDB
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

type txUnit struct {
	tx bun.Tx
}

func (u *txUnit) conn() bun.IDB                  { return &u.tx }
func (u *txUnit) commit(context.Context) error   { return u.tx.Commit() }
func (u *txUnit) rollback(context.Context) error { return u.tx.Rollback() }

// savepointUnit works inside a transaction owned by someone else.
type savepointUnit struct {
	tx   bun.Tx
	name string
}

func (u *savepointUnit) conn() bun.IDB { return &u.tx }

func (u *savepointUnit) commit(ctx context.Context) error {
	_, err := u.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+u.name)
	return err
}

func (u *savepointUnit) rollback(ctx context.Context) error {
	if _, err := u.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+u.name); err != nil {
		return err
	}
	_, err := u.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+u.name)
	return err
}

// SessionProvider opens sessions on a bun database. Each session starts a
// transaction on first use and starts a new one on the next use after
// Commit or Rollback.
type SessionProvider struct {
	db   *bun.DB
	opts *sql.TxOptions
}

var _ repository.SessionProvider = (*SessionProvider)(nil)

func NewSessionProvider(db *bun.DB, opts *sql.TxOptions) *SessionProvider {
	return &SessionProvider{db: db, opts: opts}
}

func (p *SessionProvider) Session(context.Context) (repository.Session, error) {
	if p.db == nil {
		return nil, ErrNotConnected
	}
	return &session{begin: func(ctx context.Context) (unit, error) {
		tx, err := p.db.BeginTx(ctx, p.opts)
		if err != nil {
			return nil, err
		}
		return &txUnit{tx: tx}, nil
	}}, nil
}

// TxSessionProvider opens sessions inside a transaction owned by the caller.
// Each session works in its own SAVEPOINT, so a failed repository call only
// undoes its own statements and the caller decides the outcome of the whole
// transaction.
type TxSessionProvider struct {
	tx  bun.Tx
	seq atomic.Int64
}

var _ repository.SessionProvider = (*TxSessionProvider)(nil)

func NewTxSessionProvider(tx bun.Tx) *TxSessionProvider {
	return &TxSessionProvider{tx: tx}
}

func (p *TxSessionProvider) Session(context.Context) (repository.Session, error) {
	return &session{begin: func(ctx context.Context) (unit, error) {
		name := fmt.Sprintf("sqlrepo_sp_%d", p.seq.Add(1))
		if _, err := p.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
			return nil, err
		}
		return &savepointUnit{tx: p.tx, name: name}, nil
	}}, nil
}

// RunInTx runs fn in one transaction and hands it a TxSessionProvider, so
// several repository calls commit or roll back together.
//
//	err := database.RunInTx(ctx, db, func(ctx context.Context, sessions repository.SessionProvider) error {
//		shelters := shelter.NewShelterRepository(sessions)
//		...
//	})
func RunInTx(ctx context.Context, db *bun.DB, fn func(ctx context.Context, sessions repository.SessionProvider) error) error {
	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, NewTxSessionProvider(tx))
	})
}

type session struct {
	begin  func(ctx context.Context) (unit, error)
	unit   unit
	closed bool
}

var _ repository.Session = (*session)(nil)

func (s *session) conn(ctx context.Context) (bun.IDB, error) {
	if s.closed {
		return nil, errSessionClosed
	}
	if s.unit == nil {
		u, err := s.begin(ctx)
		if err != nil {
			return nil, wrapQueryError("begin", err)
		}
		s.unit = u
	}
	return s.unit.conn(), nil
}

func (s *session) Add(ctx context.Context, model interface{}) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	_, err = db.NewInsert().Model(model).Exec(ctx)
	return wrapQueryError("insert", err)
}

func (s *session) Query(ctx context.Context, dest interface{}, f repository.Filter) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	err = applyFilter(db.NewSelect().Model(dest), f).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return wrapQueryError("select", err)
}

func (s *session) QueryOne(ctx context.Context, dest interface{}, f repository.Filter) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	err = applyFilter(db.NewSelect().Model(dest), f).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrapQueryError("select", err)
	}
	return true, nil
}

func (s *session) Update(ctx context.Context, model interface{}, columns []string) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := db.NewUpdate().Model(model).Column(columns...).WherePK().Exec(ctx)
	return checkAffected("update", res, err)
}

func (s *session) Delete(ctx context.Context, model interface{}) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	res, err := db.NewDelete().Model(model).WherePK().Exec(ctx)
	return checkAffected("delete", res, err)
}

func (s *session) Refresh(ctx context.Context, model interface{}) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return wrapQueryError("refresh", db.NewSelect().Model(model).WherePK().Scan(ctx))
}

func (s *session) Commit(ctx context.Context) error {
	if s.closed {
		return errSessionClosed
	}
	if s.unit == nil {
		return nil
	}
	u := s.unit
	s.unit = nil
	return wrapQueryError("commit", u.commit(ctx))
}

func (s *session) Rollback(ctx context.Context) error {
	if s.unit == nil {
		return nil
	}
	u := s.unit
	s.unit = nil
	return wrapQueryError("rollback", u.rollback(ctx))
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.Rollback(context.Background())
}

func checkAffected(op string, res sql.Result, err error) error {
	if err != nil {
		return wrapQueryError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapQueryError(op, err)
	}
	if n == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func applyFilter(q *bun.SelectQuery, f repository.Filter) *bun.SelectQuery {
	for _, p := range f {
		col := bun.Ident(p.Attribute)
		switch p.Op {
		case repository.OpIn:
			values, _ := p.Value.([]interface{})
			if len(values) == 0 {
				q = q.Where("1 = 0")
				continue
			}
			q = q.Where("?TableAlias.? IN (?)", col, bun.In(values))
		default:
			if isNull(p.Value) {
				q = q.Where("?TableAlias.? IS NULL", col)
				continue
			}
			q = q.Where("?TableAlias.? = ?", col, p.Value)
		}
	}
	return q
}

func isNull(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}
