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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/tomoncle/sqlrepo/database"
	"github.com/tomoncle/sqlrepo/entity"
)

type owner struct {
	bun.BaseModel `bun:"table:owners"`
	entity.Base
	Name string `bun:"name,notnull,unique"`
}

type widget struct {
	bun.BaseModel `bun:"table:widgets"`
	entity.Base
	Name    string  `bun:"name,notnull,unique"`
	Color   *string `bun:"color"`
	OwnerID int64   `bun:"owner_id,nullzero"`
}

type logLine struct {
	level  string
	msg    string
	fields []interface{}
}

type memLogger struct {
	mu    sync.Mutex
	lines []logLine
}

func (l *memLogger) add(level, msg string, fields []interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, logLine{level: level, msg: msg, fields: fields})
}

func (l *memLogger) SetLevel(string)                         {}
func (l *memLogger) Debug(msg string, fields ...interface{}) { l.add("debug", msg, fields) }
func (l *memLogger) Info(msg string, fields ...interface{})  { l.add("info", msg, fields) }
func (l *memLogger) Warn(msg string, fields ...interface{})  { l.add("warn", msg, fields) }
func (l *memLogger) Error(msg string, fields ...interface{}) { l.add("error", msg, fields) }

func (l *memLogger) byLevel(level string) []logLine {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []logLine
	for _, line := range l.lines {
		if line.level == level {
			out = append(out, line)
		}
	}
	return out
}

func field(line logLine, key string) interface{} {
	for i := 0; i+1 < len(line.fields); i += 2 {
		if fmt.Sprint(line.fields[i]) == key {
			return line.fields[i+1]
		}
	}
	return nil
}

func newRegistry(t *testing.T) *database.ModelRegistry {
	t.Helper()
	reg := database.NewModelRegistry()
	require.NoError(t, reg.RegisterModel((*owner)(nil), 0))
	require.NoError(t, reg.RegisterModel((*widget)(nil), 10))
	reg.AddForeignKeys(database.ForeignKeyConstraint{
		Table:           "widgets",
		Column:          "owner_id",
		ReferenceTable:  "owners",
		ReferenceColumn: "id",
		OnDelete:        "CASCADE",
	})
	return reg
}

// openSQLite connects a private in-memory database with the test schema.
func openSQLite(t *testing.T) (*database.Manager, *bun.DB) {
	t.Helper()
	cfg := database.DefaultConnectionConfig()
	cfg.SlowQueryTime = 0
	m := database.NewManager(cfg, &memLogger{})
	ctx := context.Background()
	require.NoError(t, m.Connect(ctx))
	t.Cleanup(func() { _ = m.Disconnect() })
	require.NoError(t, database.CreateSchema(ctx, m.DB(), newRegistry(t)))
	return m, m.DB()
}

func countWidgets(t *testing.T, db bun.IDB) int {
	t.Helper()
	n, err := db.NewSelect().Model((*widget)(nil)).Count(context.Background())
	require.NoError(t, err)
	return n
}
