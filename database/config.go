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
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	TypeMySQL    = "mysql"
	TypePostgres = "postgres"
	TypeSQLite   = "sqlite"

	DriverPQ  = "pq"
	DriverPGX = "pgx"

	// MemoryDBName selects a private in-memory sqlite database.
	MemoryDBName = ":memory:"
)

var validate = validator.New()

// ConnectionConfig describes how to connect to a database and tune its pool.
type ConnectionConfig struct {
	Type            string        `yaml:"type" json:"type" validate:"required,oneof=mysql postgres postgresql sqlite sqlite3"`
	Driver          string        `yaml:"driver" json:"driver" validate:"omitempty,oneof=pq pgx"` // postgres only
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"-"`
	DBName          string        `yaml:"dbname" json:"dbname"`
	SSLMode         string        `yaml:"sslmode" json:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"gte=0"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	EnableQueryLog  bool          `yaml:"enable_query_log" json:"enable_query_log"`
	SlowQueryTime   time.Duration `yaml:"slow_query_time" json:"slow_query_time"`
	ForeignKeys     bool          `yaml:"foreign_keys" json:"foreign_keys"` // sqlite: PRAGMA foreign_keys
}

// DefaultConnectionConfig returns an in-memory sqlite configuration with the
// usual pool defaults.
func DefaultConnectionConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Type:            TypeSQLite,
		DBName:          MemoryDBName,
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 30,
		ConnectTimeout:  time.Second * 10,
		ReadTimeout:     time.Second * 30,
		WriteTimeout:    time.Second * 30,
		SlowQueryTime:   time.Second * 2,
		ForeignKeys:     true,
	}
}

// NormalizedType folds the accepted aliases of Type.
func (c *ConnectionConfig) NormalizedType() string {
	switch strings.ToLower(c.Type) {
	case "postgresql":
		return TypePostgres
	case "sqlite3":
		return TypeSQLite
	default:
		return strings.ToLower(c.Type)
	}
}

// Validate checks the struct tags and the network settings servers need.
func (c *ConnectionConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}
	if c.NormalizedType() != TypeSQLite && c.Host == "" {
		return fmt.Errorf("invalid database configuration: host is required for %s", c.Type)
	}
	if c.NormalizedType() != TypePostgres && c.Driver != "" {
		return fmt.Errorf("invalid database configuration: driver %q only applies to postgres", c.Driver)
	}
	return nil
}

// ApplyEnv overrides configuration values from DB_* environment variables.
func (c *ConnectionConfig) ApplyEnv() {
	if v := os.Getenv("DB_TYPE"); v != "" {
		c.Type = v
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		c.Driver = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("DB_USERNAME"); v != "" {
		c.Username = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.DBName = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		c.SSLMode = v
	}
	// Connection pool config
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxIdleConns = n
		}
	}
	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxOpenConns = n
		}
	}
	if v := os.Getenv("DB_CONN_MAX_LIFETIME"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ConnMaxLifetime = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("DB_ENABLE_QUERY_LOG"); v != "" {
		c.EnableQueryLog = v == "true"
	}
	if v := os.Getenv("DB_SLOW_QUERY_TIME"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.SlowQueryTime = d
		}
	}
}

// HealthStatus holds the result of a health check against the database.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Connected     bool          `json:"connected"`
	ResponseTime  time.Duration `json:"response_time"`
	ActiveConns   int           `json:"active_conns"`
	IdleConns     int           `json:"idle_conns"`
	MaxOpenConns  int           `json:"max_open_conns"`
	LastError     string        `json:"last_error,omitempty"`
	LastCheckTime time.Time     `json:"last_check_time"`
}

// DBStats mirrors database/sql stats returned by the manager.
type DBStats struct {
	MaxOpenConns      int           `json:"max_open_conns"`
	OpenConns         int           `json:"open_conns"`
	InUse             int           `json:"in_use"`
	Idle              int           `json:"idle"`
	WaitCount         int64         `json:"wait_count"`
	WaitDuration      time.Duration `json:"wait_duration"`
	MaxIdleClosed     int64         `json:"max_idle_closed"`
	MaxIdleTimeClosed int64         `json:"max_idle_time_closed"`
	MaxLifetimeClosed int64         `json:"max_lifetime_closed"`
}
