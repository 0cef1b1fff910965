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

// Package config loads the sqlrepo configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/tomoncle/sqlrepo/database"
	"github.com/tomoncle/sqlrepo/logging"
)

var validate = validator.New()

type Config struct {
	Database   database.ConnectionConfig `yaml:"database"`
	Logging    logging.Options           `yaml:"logging"`
	Repository RepositoryConfig          `yaml:"repository"`
}

type RepositoryConfig struct {
	// SensitiveAttributes are left out of every repository log event.
	SensitiveAttributes []string `yaml:"sensitive_attributes" validate:"dive,required"`
}

// Default returns an in-memory sqlite configuration with logging options
// taken from the environment.
func Default() *Config {
	return &Config{
		Database: *database.DefaultConnectionConfig(),
		Logging:  logging.DefaultOptions(),
	}
}

// Load reads path over Default, applies environment overrides and validates
// the result. An empty path skips the file.
//
//	database:
//	  type: postgres
//	  driver: pgx
//	  host: localhost
//	  port: 5432
//	  dbname: shelter
//	  slow_query_time: 500ms
//	logging:
//	  level: debug
//	repository:
//	  sensitive_attributes: [password]
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides database settings from DB_* and logging settings from
// LOG_LEVEL, CONSOLE_LOG_FORMAT, FILE_LOG_ENABLED, FILE_LOG_PATH and
// FILE_LOG_FORMAT.
func (c *Config) ApplyEnv() {
	c.Database.ApplyEnv()
	c.Logging.Level = logging.EnvDefaultString("LOG_LEVEL", c.Logging.Level)
	c.Logging.ConsoleFormat = logging.EnvDefaultString("CONSOLE_LOG_FORMAT", c.Logging.ConsoleFormat)
	c.Logging.FileEnabled = logging.EnvDefaultBool("FILE_LOG_ENABLED", c.Logging.FileEnabled)
	c.Logging.FilePath = logging.EnvDefaultString("FILE_LOG_PATH", c.Logging.FilePath)
	c.Logging.FileFormat = logging.EnvDefaultString("FILE_LOG_FORMAT", c.Logging.FileFormat)
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return c.Database.Validate()
}
