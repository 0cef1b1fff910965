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

package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomoncle/sqlrepo/database"
	"github.com/tomoncle/sqlrepo/repository"
)

func strPtr(s string) *string { return &s }

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	m, db := openSQLite(t)
	sessions, err := m.Sessions()
	require.NoError(t, err)

	sess, err := sessions.Session(ctx)
	require.NoError(t, err)
	a := &widget{Name: "anvil", Color: strPtr("black")}
	b := &widget{Name: "bucket"}
	require.NoError(t, sess.Add(ctx, a))
	require.NoError(t, sess.Add(ctx, b))
	assert.NotZero(t, a.ID)
	assert.NotZero(t, b.ID)
	require.NoError(t, sess.Commit(ctx))

	var all []*widget
	require.NoError(t, sess.Query(ctx, &all, nil))
	assert.Len(t, all, 2)

	var uncolored []*widget
	require.NoError(t, sess.Query(ctx, &uncolored, repository.Filter{repository.Eq("color", (*string)(nil))}))
	require.Len(t, uncolored, 1)
	assert.Equal(t, "bucket", uncolored[0].Name)

	var byIDs []*widget
	require.NoError(t, sess.Query(ctx, &byIDs, repository.Filter{repository.In("id", []int64{a.ID, 999})}))
	require.Len(t, byIDs, 1)
	assert.Equal(t, a.ID, byIDs[0].ID)

	var none []*widget
	require.NoError(t, sess.Query(ctx, &none, repository.Filter{repository.In("id", []int64{})}))
	assert.Empty(t, none)

	got := new(widget)
	found, err := sess.QueryOne(ctx, got, repository.Filter{repository.Eq("name", "anvil")})
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "black", *got.Color)

	found, err = sess.QueryOne(ctx, new(widget), repository.Filter{repository.Eq("name", "crate")})
	require.NoError(t, err)
	assert.False(t, found)

	got.Name = "anvil-2"
	require.NoError(t, sess.Update(ctx, got, []string{"name"}))
	missing := &widget{Name: "ghost"}
	missing.ID = 999
	assert.ErrorIs(t, sess.Update(ctx, missing, []string{"name"}), database.ErrNoRowsAffected)
	require.NoError(t, sess.Delete(ctx, b))
	assert.ErrorIs(t, sess.Delete(ctx, b), database.ErrNoRowsAffected)
	require.NoError(t, sess.Commit(ctx))

	fresh := &widget{}
	fresh.ID = a.ID
	require.NoError(t, sess.Refresh(ctx, fresh))
	assert.Equal(t, "anvil-2", fresh.Name)

	require.NoError(t, sess.Close())
	assert.Error(t, sess.Add(ctx, &widget{Name: "late"}), "closed session")
	assert.NoError(t, sess.Close(), "second close")
	assert.Equal(t, 1, countWidgets(t, db))
}

func TestSessionCloseRollsBack(t *testing.T) {
	ctx := context.Background()
	m, db := openSQLite(t)
	sessions, err := m.Sessions()
	require.NoError(t, err)

	sess, err := sessions.Session(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.Add(ctx, &widget{Name: "anvil"}))
	require.NoError(t, sess.Close())

	assert.Equal(t, 0, countWidgets(t, db))
}

func TestSessionEngineError(t *testing.T) {
	ctx := context.Background()
	m, _ := openSQLite(t)
	sessions, err := m.Sessions()
	require.NoError(t, err)

	sess, err := sessions.Session(ctx)
	require.NoError(t, err)
	defer func() { _ = sess.Close() }()

	require.NoError(t, sess.Add(ctx, &widget{Name: "anvil"}))
	err = sess.Add(ctx, &widget{Name: "anvil"})
	require.Error(t, err)

	var qe *database.QueryError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, "insert", qe.Op)
	assert.Equal(t, database.DuplicateKeyErr, qe.Reason)

	err = sess.Add(ctx, &widget{Name: "orphan", OwnerID: 42})
	assert.Equal(t, database.ForeignKeyViolationErr, database.ReasonOf(err))
}

func TestRunInTxComposesSavepoints(t *testing.T) {
	ctx := context.Background()
	_, db := openSQLite(t)

	err := database.RunInTx(ctx, db, func(ctx context.Context, sessions repository.SessionProvider) error {
		first, err := sessions.Session(ctx)
		require.NoError(t, err)
		require.NoError(t, first.Add(ctx, &widget{Name: "anvil"}))
		require.NoError(t, first.Commit(ctx))
		require.NoError(t, first.Close())

		second, err := sessions.Session(ctx)
		require.NoError(t, err)
		require.NoError(t, second.Add(ctx, &widget{Name: "bucket"}))
		assert.Error(t, second.Add(ctx, &widget{Name: "anvil"}))
		require.NoError(t, second.Close())

		third, err := sessions.Session(ctx)
		require.NoError(t, err)
		defer func() { _ = third.Close() }()
		var all []*widget
		require.NoError(t, third.Query(ctx, &all, nil))
		require.Len(t, all, 1)
		assert.Equal(t, "anvil", all[0].Name)
		return third.Commit(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countWidgets(t, db))

	boom := errors.New("boom")
	err = database.RunInTx(ctx, db, func(ctx context.Context, sessions repository.SessionProvider) error {
		sess, err := sessions.Session(ctx)
		require.NoError(t, err)
		defer func() { _ = sess.Close() }()
		require.NoError(t, sess.Add(ctx, &widget{Name: "crate"}))
		require.NoError(t, sess.Commit(ctx))
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, countWidgets(t, db), "outer rollback discards released savepoints")
}

func TestSessionProviderNotConnected(t *testing.T) {
	_, err := database.NewSessionProvider(nil, nil).Session(context.Background())
	assert.ErrorIs(t, err, database.ErrNotConnected)
}
