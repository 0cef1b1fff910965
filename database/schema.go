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
	"fmt"

	"github.com/uptrace/bun"
)

// CreateSchema creates the registered tables in priority order together with
// their foreign keys. Existing tables are left alone.
func CreateSchema(ctx context.Context, db bun.IDB, registry *ModelRegistry) error {
	if err := registry.Validate(); err != nil {
		return err
	}
	logger := GetLogger()
	for _, model := range registry.Models() {
		table := model.Table()
		q := db.NewCreateTable().Model(model.Instance()).IfNotExists()
		for _, fk := range registry.ForeignKeysFor(table) {
			q = fk.apply(q)
		}
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create table %s: %w", table, wrapQueryError("create table", err))
		}
		logger.Debug("Table created", "table", table)
	}
	return nil
}

// DropSchema drops the registered tables in reverse priority order.
func DropSchema(ctx context.Context, db bun.IDB, registry *ModelRegistry) error {
	models := registry.Models()
	logger := GetLogger()
	for i := len(models) - 1; i >= 0; i-- {
		table := models[i].Table()
		if _, err := db.NewDropTable().Model(models[i].Instance()).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("drop table %s: %w", table, wrapQueryError("drop table", err))
		}
		logger.Debug("Table dropped", "table", table)
	}
	return nil
}
