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
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tomoncle/sqlrepo/entity"
)

// ModelAdapter is a bun model the schema bootstrap creates. Lower priorities
// are created first and dropped last.
type ModelAdapter struct {
	instance interface{}
	priority int
	table    string
}

func (a *ModelAdapter) Instance() interface{} { return a.instance }

func (a *ModelAdapter) Priority() int { return a.priority }

// Table is the table name resolved from the model's bun tags.
func (a *ModelAdapter) Table() string { return a.table }

// ModelRegistry stores models and their foreign keys in a deterministic order.
type ModelRegistry struct {
	mutex       sync.RWMutex
	models      []*ModelAdapter
	foreignKeys []ForeignKeyConstraint
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{}
}

// RegisterModel adds a struct pointer with the given priority. The model must
// describe a table with a single integer primary key.
func (r *ModelRegistry) RegisterModel(instance interface{}, priority int) error {
	s, err := entity.DescribeOf(instance)
	if err != nil {
		return err
	}
	if s.Table == "" {
		return fmt.Errorf("model %s has no table name", s.TypeName)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	for _, m := range r.models {
		if m.table == s.Table {
			return fmt.Errorf("table %s is already registered", s.Table)
		}
	}
	r.models = append(r.models, &ModelAdapter{instance: instance, priority: priority, table: s.Table})
	return nil
}

// MustRegisterModel is RegisterModel that panics on error.
func (r *ModelRegistry) MustRegisterModel(instance interface{}, priority int) *ModelRegistry {
	if err := r.RegisterModel(instance, priority); err != nil {
		panic(err)
	}
	return r
}

func (r *ModelRegistry) AddForeignKeys(constraints ...ForeignKeyConstraint) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.foreignKeys = append(r.foreignKeys, constraints...)
}

// Models returns the registered models sorted by ascending priority,
// registration order breaking ties.
func (r *ModelRegistry) Models() []*ModelAdapter {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sorted := make([]*ModelAdapter, len(r.models))
	copy(sorted, r.models)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})
	return sorted
}

func (r *ModelRegistry) ForeignKeysFor(table string) []ForeignKeyConstraint {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	var result []ForeignKeyConstraint
	for _, fk := range r.foreignKeys {
		if strings.EqualFold(fk.Table, table) {
			result = append(result, fk)
		}
	}
	return result
}

// Validate checks every foreign key and that both ends are registered
// tables, the referenced one created no later than the referencing one.
func (r *ModelRegistry) Validate() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	order := make(map[string]int, len(r.models))
	for _, m := range r.models {
		order[strings.ToLower(m.table)] = m.priority
	}

	var errs []error
	for _, fk := range r.foreignKeys {
		if err := fk.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		from, ok := order[strings.ToLower(fk.Table)]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: table %s is not registered", fk.Name(), fk.Table))
			continue
		}
		to, ok := order[strings.ToLower(fk.ReferenceTable)]
		if !ok {
			errs = append(errs, fmt.Errorf("%s: reference table %s is not registered", fk.Name(), fk.ReferenceTable))
			continue
		}
		if to > from {
			errs = append(errs, fmt.Errorf("%s: %s must not have a higher priority than %s", fk.Name(), fk.ReferenceTable, fk.Table))
		}
	}
	return errors.Join(errs...)
}
