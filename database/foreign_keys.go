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
	"fmt"
	"os"
	"strings"

	"github.com/uptrace/bun"
	"gopkg.in/yaml.v3"
)

var referentialActions = []string{"CASCADE", "RESTRICT", "SET NULL", "SET DEFAULT", "NO ACTION"}

// ForeignKeyConstraint describes a foreign key relationship between tables.
type ForeignKeyConstraint struct {
	Table           string `yaml:"table"`
	Column          string `yaml:"column"`
	ReferenceTable  string `yaml:"reference_table"`
	ReferenceColumn string `yaml:"reference_column"`
	OnDelete        string `yaml:"on_delete"` // CASCADE, RESTRICT, SET NULL, SET DEFAULT, NO ACTION
	OnUpdate        string `yaml:"on_update"`
	ConstraintName  string `yaml:"name"`
}

// Name returns the explicit constraint name or fk_<table>_<column>.
func (fk *ForeignKeyConstraint) Name() string {
	if fk.ConstraintName != "" {
		return fk.ConstraintName
	}
	return fmt.Sprintf("fk_%s_%s", fk.Table, fk.Column)
}

func (fk *ForeignKeyConstraint) Validate() error {
	if fk.Table == "" {
		return fmt.Errorf("table name cannot be empty")
	}
	if fk.Column == "" {
		return fmt.Errorf("column name cannot be empty: %s", fk.Table)
	}
	if fk.ReferenceTable == "" {
		return fmt.Errorf("reference table name cannot be empty: %s.%s", fk.Table, fk.Column)
	}
	if fk.ReferenceColumn == "" {
		return fmt.Errorf("reference column name cannot be empty: %s.%s -> %s", fk.Table, fk.Column, fk.ReferenceTable)
	}
	if !validAction(fk.OnDelete) {
		return fmt.Errorf("invalid delete policy: %s, constraint: %s", fk.OnDelete, fk.Name())
	}
	if !validAction(fk.OnUpdate) {
		return fmt.Errorf("invalid update policy: %s, constraint: %s", fk.OnUpdate, fk.Name())
	}
	return nil
}

func validAction(action string) bool {
	if action == "" {
		return true
	}
	for _, a := range referentialActions {
		if strings.EqualFold(action, a) {
			return true
		}
	}
	return false
}

// apply adds the constraint to a CREATE TABLE query. Actions are validated
// keywords and are inlined; identifiers are quoted by bun.
func (fk *ForeignKeyConstraint) apply(q *bun.CreateTableQuery) *bun.CreateTableQuery {
	clause := "(?) REFERENCES ? (?)"
	if fk.OnDelete != "" {
		clause += " ON DELETE " + strings.ToUpper(fk.OnDelete)
	}
	if fk.OnUpdate != "" {
		clause += " ON UPDATE " + strings.ToUpper(fk.OnUpdate)
	}
	return q.ForeignKey(clause, bun.Ident(fk.Column), bun.Ident(fk.ReferenceTable), bun.Ident(fk.ReferenceColumn))
}

// ForeignKeyConfig is the YAML document read by LoadForeignKeys.
//
//	foreign_keys:
//	  - table: pets
//	    column: shelter_id
//	    reference_table: shelters
//	    reference_column: id
//	    on_delete: CASCADE
type ForeignKeyConfig struct {
	ForeignKeys []ForeignKeyConstraint `yaml:"foreign_keys"`
}

// LoadForeignKeys reads and validates constraints from a YAML file.
func LoadForeignKeys(path string) ([]ForeignKeyConstraint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read foreign keys: %w", err)
	}
	return ParseForeignKeys(data)
}

func ParseForeignKeys(data []byte) ([]ForeignKeyConstraint, error) {
	var cfg ForeignKeyConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse foreign keys: %w", err)
	}
	for i := range cfg.ForeignKeys {
		if err := cfg.ForeignKeys[i].Validate(); err != nil {
			return nil, err
		}
	}
	return cfg.ForeignKeys, nil
}
