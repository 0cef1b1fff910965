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
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/tomoncle/sqlrepo/database"
)

func TestQueryLogHook(t *testing.T) {
	ctx := context.Background()
	log := &memLogger{}
	hook := database.NewQueryLogHook(log, time.Hour)

	hook.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now()})
	hook.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now(), Err: sql.ErrNoRows})
	hook.AfterQuery(ctx, &bun.QueryEvent{Query: "COMMIT", StartTime: time.Now(), Err: sql.ErrTxDone})
	assert.Empty(t, log.byLevel("warn"))

	hook.AfterQuery(ctx, &bun.QueryEvent{
		Query:     `INSERT INTO "widgets" ("name") VALUES ('anvil')`,
		StartTime: time.Now(),
		Err:       errors.New("UNIQUE constraint failed: widgets.name"),
	})
	warns := log.byLevel("warn")
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0].msg, "Database query failed")
	assert.Equal(t, "duplicate key", field(warns[0], "reason"))
	assert.Equal(t, "INSERT", field(warns[0], "operation"))
	assert.Nil(t, field(warns[0], "query"))
	assert.Nil(t, field(warns[0], "error"))
	assert.Nil(t, field(warns[0], "code"))

	hook.AfterQuery(ctx, &bun.QueryEvent{
		Query:     `INSERT INTO "widgets" ("name") VALUES ('anvil')`,
		StartTime: time.Now(),
		Err:       &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"},
	})
	warns = log.byLevel("warn")
	require.Len(t, warns, 2)
	assert.Equal(t, "23505", field(warns[1], "code"))

	slow := database.NewQueryLogHook(log, time.Millisecond)
	slow.AfterQuery(ctx, &bun.QueryEvent{Query: "SELECT 1", StartTime: time.Now().Add(-time.Second)})
	warns = log.byLevel("warn")
	require.Len(t, warns, 3)
	assert.Contains(t, warns[2].msg, "Database slow query detected")
	assert.Equal(t, time.Millisecond, field(warns[2], "slow_threshold"))
	assert.Nil(t, field(warns[2], "query"))
}

func TestQueryLogHookOnConnection(t *testing.T) {
	ctx := context.Background()
	log := &memLogger{}
	cfg := database.DefaultConnectionConfig()
	cfg.SlowQueryTime = time.Hour
	m := database.NewManager(cfg, log)
	require.NoError(t, m.Connect(ctx))
	defer func() { _ = m.Disconnect() }()

	_, err := m.DB().ExecContext(ctx, "SELECT * FROM nowhere")
	require.Error(t, err)

	warns := log.byLevel("warn")
	require.Len(t, warns, 1)
	assert.Equal(t, "no such table", field(warns[0], "reason"))
}

func TestQueryLogHookNeverLogsBoundValues(t *testing.T) {
	ctx := context.Background()
	log := &memLogger{}
	cfg := database.DefaultConnectionConfig()
	cfg.SlowQueryTime = time.Hour
	m := database.NewManager(cfg, log)
	require.NoError(t, m.Connect(ctx))
	defer func() { _ = m.Disconnect() }()
	require.NoError(t, database.CreateSchema(ctx, m.DB(), newRegistry(t)))

	_, err := m.DB().NewInsert().Model(&widget{Name: "hunter2-secret", OwnerID: 404}).Exec(ctx)
	require.Error(t, err)

	warns := log.byLevel("warn")
	require.Len(t, warns, 1)
	assert.Equal(t, "foreign key violation", field(warns[0], "reason"))
	assert.Equal(t, "widgets", field(warns[0], "table"))
	assert.Equal(t, "INSERT", field(warns[0], "operation"))
	for _, level := range []string{"debug", "info", "warn", "error"} {
		for _, line := range log.byLevel(level) {
			assert.NotContains(t, fmt.Sprint(line.msg, line.fields), "hunter2-secret")
		}
	}
}
