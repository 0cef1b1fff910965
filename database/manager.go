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
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/extra/bundebug"
)

var ErrNotConnected = errors.New("database not connected")

// Manager owns one bun database and its connection pool.
type Manager struct {
	config *ConnectionConfig
	logger Logger

	mu        sync.RWMutex
	db        *bun.DB
	sqlDB     *sql.DB
	lastError error
}

// NewManager returns a Manager for config. A nil config selects
// DefaultConnectionConfig and a nil logger selects GetLogger.
func NewManager(config *ConnectionConfig, logger Logger) *Manager {
	if config == nil {
		config = DefaultConnectionConfig()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &Manager{config: config, logger: logger}
}

func (dm *Manager) Config() *ConnectionConfig { return dm.config }

func (dm *Manager) Connect(ctx context.Context) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.db != nil {
		return nil
	}
	if err := dm.config.Validate(); err != nil {
		return err
	}

	sqlDB, db, err := dm.createConnection()
	if err != nil {
		dm.lastError = err
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	dm.configureConnectionPool(sqlDB)

	timeout := dm.config.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(ctxTimeout); err != nil {
		dm.lastError = err
		_ = db.Close()
		return fmt.Errorf("database connection test failed: %w", err)
	}

	if dm.config.NormalizedType() == TypeSQLite && dm.config.ForeignKeys {
		if _, err := db.ExecContext(ctxTimeout, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to enable sqlite foreign keys: %w", err)
		}
	}

	dm.db, dm.sqlDB, dm.lastError = db, sqlDB, nil
	dm.logger.Info("Database connected successfully", "type", dm.config.NormalizedType(), "host", dm.config.Host, "dbname", dm.config.DBName)
	return nil
}

func (dm *Manager) createConnection() (*sql.DB, *bun.DB, error) {
	var sqlDB *sql.DB
	var db *bun.DB
	var err error

	switch dm.config.NormalizedType() {
	case TypeMySQL:
		sqlDB, db, err = dm.createMySQLConnection()
	case TypePostgres:
		sqlDB, db, err = dm.createPostgreSQLConnection()
	case TypeSQLite:
		sqlDB, db, err = dm.createSQLiteConnection()
	default:
		return nil, nil, fmt.Errorf("unsupported database type: %s", dm.config.Type)
	}
	if err != nil {
		return nil, nil, err
	}

	if dm.config.EnableQueryLog {
		db.AddQueryHook(bundebug.NewQueryHook(
			bundebug.WithVerbose(true),
			bundebug.FromEnv("BUNDEBUG"),
		))
	}
	if dm.config.SlowQueryTime > 0 {
		db.AddQueryHook(NewQueryLogHook(dm.logger, dm.config.SlowQueryTime))
	}
	return sqlDB, db, nil
}

// MySQLDSN renders the go-sql-driver DSN for c. Affected rows count matched
// rows so an update that writes unchanged values is not reported as missing.
func (c *ConnectionConfig) MySQLDSN() string {
	cfg := mysql.NewConfig()
	cfg.User = c.Username
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
	cfg.DBName = c.DBName
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Timeout = c.ConnectTimeout
	cfg.ReadTimeout = c.ReadTimeout
	cfg.WriteTimeout = c.WriteTimeout
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// PostgresDSN renders a postgres URL understood by both lib/pq and pgx.
func (c *ConnectionConfig) PostgresDSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s&connect_timeout=%d",
		c.Username,
		c.Password,
		net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		c.DBName,
		sslMode,
		int(c.ConnectTimeout.Seconds()),
	)
}

// SQLiteDSN maps the in-memory name to a private memory database and
// appends .db to file names without it.
func (c *ConnectionConfig) SQLiteDSN() string {
	name := c.DBName
	if name == "" || name == MemoryDBName {
		return "file::memory:"
	}
	if strings.HasPrefix(name, "file:") || strings.HasSuffix(name, ".db") {
		return name
	}
	return name + ".db"
}

func (dm *Manager) createMySQLConnection() (*sql.DB, *bun.DB, error) {
	sqlDB, err := sql.Open("mysql", dm.config.MySQLDSN())
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, mysqldialect.New()), nil
}

func (dm *Manager) createPostgreSQLConnection() (*sql.DB, *bun.DB, error) {
	dsn := dm.config.PostgresDSN()

	var sqlDB *sql.DB
	switch dm.config.Driver {
	case DriverPGX:
		pgxConfig, err := pgx.ParseConfig(dsn)
		if err != nil {
			return nil, nil, err
		}
		sqlDB = stdlib.OpenDB(*pgxConfig)
	default:
		var err error
		sqlDB, err = sql.Open("postgres", dsn)
		if err != nil {
			return nil, nil, err
		}
	}
	return sqlDB, bun.NewDB(sqlDB, pgdialect.New()), nil
}

func (dm *Manager) createSQLiteConnection() (*sql.DB, *bun.DB, error) {
	sqlDB, err := sql.Open(sqliteshim.ShimName, dm.config.SQLiteDSN())
	if err != nil {
		return nil, nil, err
	}
	return sqlDB, bun.NewDB(sqlDB, sqlitedialect.New()), nil
}

func (dm *Manager) configureConnectionPool(sqlDB *sql.DB) {
	if dm.config.NormalizedType() == TypeSQLite {
		// one connection keeps the in-memory database and its pragmas alive
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		sqlDB.SetConnMaxIdleTime(0)
		return
	}
	sqlDB.SetMaxIdleConns(dm.config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(dm.config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(dm.config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(dm.config.ConnMaxIdleTime)
}

func (dm *Manager) Disconnect() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.db == nil {
		return nil
	}
	err := dm.db.Close()
	dm.db = nil
	dm.sqlDB = nil
	if err != nil {
		dm.logger.Error("Failed to close database connection", "error", err)
		return err
	}
	dm.logger.Info("Database connection closed")
	return nil
}

func (dm *Manager) Ping(ctx context.Context) error {
	db := dm.DB()
	if db == nil {
		return ErrNotConnected
	}
	return db.PingContext(ctx)
}

func (dm *Manager) DB() *bun.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.db
}

func (dm *Manager) SQLDB() *sql.DB {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.sqlDB
}

// Sessions returns a provider of autobegin sessions on the connected
// database, or ErrNotConnected.
func (dm *Manager) Sessions() (*SessionProvider, error) {
	db := dm.DB()
	if db == nil {
		return nil, ErrNotConnected
	}
	return NewSessionProvider(db, nil), nil
}

func (dm *Manager) HealthCheck(ctx context.Context) *HealthStatus {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	start := time.Now()
	status := &HealthStatus{LastCheckTime: start}

	if dm.db == nil {
		status.LastError = "Database not initialized"
		return status
	}

	ctxTimeout, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	err := dm.db.PingContext(ctxTimeout)
	status.ResponseTime = time.Since(start)
	if err != nil {
		status.LastError = err.Error()
		dm.lastError = err
	} else {
		status.Healthy = true
		status.Connected = true
		dm.lastError = nil
	}

	stats := dm.sqlDB.Stats()
	status.ActiveConns = stats.InUse
	status.IdleConns = stats.Idle
	status.MaxOpenConns = stats.MaxOpenConnections
	return status
}

// LastError returns the error of the last failed connect or health check.
func (dm *Manager) LastError() error {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.lastError
}

func (dm *Manager) Stats() *DBStats {
	sqlDB := dm.SQLDB()
	if sqlDB == nil {
		return &DBStats{}
	}

	stats := sqlDB.Stats()
	return &DBStats{
		MaxOpenConns:      stats.MaxOpenConnections,
		OpenConns:         stats.OpenConnections,
		InUse:             stats.InUse,
		Idle:              stats.Idle,
		WaitCount:         stats.WaitCount,
		WaitDuration:      stats.WaitDuration,
		MaxIdleClosed:     stats.MaxIdleClosed,
		MaxIdleTimeClosed: stats.MaxIdleTimeClosed,
		MaxLifetimeClosed: stats.MaxLifetimeClosed,
	}
}
