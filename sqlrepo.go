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

// Package sqlrepo wires configuration, logging and a bun database into
// ready to use generic repositories.
//
//	cfg, _ := config.Load("sqlrepo.yaml")
//	engine, err := sqlrepo.Open(ctx, cfg)
//	...
//	defer engine.Close()
//	pets, err := sqlrepo.NewRepository[Pet](engine)
package sqlrepo

import (
	"context"
	"errors"

	"github.com/uptrace/bun"

	"github.com/tomoncle/sqlrepo/config"
	"github.com/tomoncle/sqlrepo/database"
	"github.com/tomoncle/sqlrepo/entity"
	"github.com/tomoncle/sqlrepo/logging"
	"github.com/tomoncle/sqlrepo/repository"
)

// Engine is an open database together with the configuration it came from.
type Engine struct {
	Config   *config.Config
	Manager  *database.Manager
	Sessions *database.SessionProvider
}

// Open configures logging, connects the database and returns the Engine.
// A nil cfg selects config.Default.
func Open(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Configure(cfg.Logging)

	m := database.NewManager(&cfg.Database, database.GetLogger())
	if err := m.Connect(ctx); err != nil {
		return nil, err
	}
	sessions, err := m.Sessions()
	if err != nil {
		_ = m.Disconnect()
		return nil, err
	}
	return &Engine{Config: cfg, Manager: m, Sessions: sessions}, nil
}

func (e *Engine) DB() *bun.DB { return e.Manager.DB() }

// CreateSchema creates the tables of registry on the engine database.
func (e *Engine) CreateSchema(ctx context.Context, registry *database.ModelRegistry) error {
	return database.CreateSchema(ctx, e.DB(), registry)
}

// RunInTx runs fn in one transaction. Repositories built on the provider fn
// receives commit or roll back together with it.
func (e *Engine) RunInTx(ctx context.Context, fn func(ctx context.Context, sessions repository.SessionProvider) error) error {
	return database.RunInTx(ctx, e.DB(), fn)
}

func (e *Engine) Close() error {
	if e == nil || e.Manager == nil {
		return errors.New("engine is not open")
	}
	return e.Manager.Disconnect()
}

// NewRepository returns a repository for T on the engine sessions with the
// configured sensitive attributes redacted. opts are applied after them.
func NewRepository[T any, P interface {
	*T
	entity.Entity
}](e *Engine, opts ...repository.Option) (*repository.Repository[T, P], error) {
	all := make([]repository.Option, 0, len(opts)+1)
	all = append(all, repository.WithSensitiveAttributes(e.Config.Repository.SensitiveAttributes...))
	all = append(all, opts...)
	return repository.New[T, P](e.Sessions, all...)
}
