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
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/tomoncle/sqlrepo/repository"
)

// ErrNoRowsAffected is returned by session updates and deletes that matched
// no row.
var ErrNoRowsAffected = repository.ErrNoRowsAffected

var errSessionClosed = errors.New("session is closed")

type SQLError int

const (
	UnknownErr SQLError = iota
	NoRowsErr
	NoIndexErr
	NoColumnErr
	ExistIndexErr
	ExistColumnErr
	NoTableErr
	ExistTableErr
	DuplicateKeyErr
	NotNullViolationErr
	ForeignKeyViolationErr
	CheckConstraintViolationErr
	DataTruncatedErr
	InvalidTypeCastErr
	SerializationFailureErr
)

var sqlErrorNames = map[SQLError]string{
	UnknownErr:                  "unknown",
	NoRowsErr:                   "no rows",
	NoIndexErr:                  "no such index",
	NoColumnErr:                 "no such column",
	ExistIndexErr:               "index exists",
	ExistColumnErr:              "column exists",
	NoTableErr:                  "no such table",
	ExistTableErr:               "table exists",
	DuplicateKeyErr:             "duplicate key",
	NotNullViolationErr:         "not null violation",
	ForeignKeyViolationErr:      "foreign key violation",
	CheckConstraintViolationErr: "check constraint violation",
	DataTruncatedErr:            "data truncated",
	InvalidTypeCastErr:          "invalid type",
	SerializationFailureErr:     "serialization failure",
}

func (e SQLError) String() string {
	if s, ok := sqlErrorNames[e]; ok {
		return s
	}
	return fmt.Sprintf("SQLError(%d)", int(e))
}

// QueryError is an engine error raised by a session statement.
type QueryError struct {
	Op     string
	Reason SQLError
	Err    error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func wrapQueryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return err
	}
	return &QueryError{Op: op, Reason: Classify(err), Err: err}
}

// ReasonOf returns the classified reason of err, looking through wrapping.
func ReasonOf(err error) SQLError {
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Reason
	}
	return Classify(err)
}

// Classify maps a driver error to an SQLError. MySQL error numbers and
// PostgreSQL SQLSTATE codes are used when available, message text otherwise.
func Classify(err error) SQLError {
	if err == nil {
		return UnknownErr
	}
	if errors.Is(err, sql.ErrNoRows) {
		return NoRowsErr
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case 1091:
			return NoIndexErr
		case 1054:
			return NoColumnErr
		case 1061:
			return ExistIndexErr
		case 1060:
			return ExistColumnErr
		case 1146:
			return NoTableErr
		case 1050:
			return ExistTableErr
		case 1062:
			return DuplicateKeyErr
		case 1048, 1364:
			return NotNullViolationErr
		case 1216, 1217, 1451, 1452:
			return ForeignKeyViolationErr
		case 3819:
			return CheckConstraintViolationErr
		case 1265, 1406:
			return DataTruncatedErr
		case 1366:
			return InvalidTypeCastErr
		case 1213:
			return SerializationFailureErr
		default:
			return UnknownErr
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return classifySQLState(string(pqErr.Code))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}
	return classifyMessage(err.Error())
}

// ErrorCode returns the MySQL error number or the PostgreSQL SQLSTATE of
// err, or "" for other errors.
func ErrorCode(err error) string {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return strconv.Itoa(int(mysqlErr.Number))
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func classifySQLState(code string) SQLError {
	switch strings.ToUpper(code) {
	case "42703":
		return NoColumnErr
	case "42704":
		return NoIndexErr
	case "42P01":
		return NoTableErr
	case "42P07":
		return ExistTableErr
	case "42701":
		return ExistColumnErr
	case "23505":
		return DuplicateKeyErr
	case "23502":
		return NotNullViolationErr
	case "23503":
		return ForeignKeyViolationErr
	case "23514":
		return CheckConstraintViolationErr
	case "22001":
		return DataTruncatedErr
	case "42804", "22P02":
		return InvalidTypeCastErr
	case "40001", "40P01":
		return SerializationFailureErr
	default:
		return UnknownErr
	}
}

func classifyMessage(msg string) SQLError {
	s := strings.ToLower(msg)
	if i := strings.Index(s, "sqlstate "); i >= 0 && len(s) >= i+14 {
		if r := classifySQLState(s[i+9 : i+14]); r != UnknownErr {
			return r
		}
	}
	switch {
	case strings.Contains(s, "undefined column"), strings.Contains(s, "no such column"):
		return NoColumnErr
	case strings.Contains(s, "no such index"),
		strings.Contains(s, "does not exist") && strings.Contains(s, "index"):
		return NoIndexErr
	case strings.Contains(s, "undefined table"), strings.Contains(s, "no such table"):
		return NoTableErr
	case strings.Contains(s, "already exists") && strings.Contains(s, "index"):
		return ExistIndexErr
	case strings.Contains(s, "already exists") && (strings.Contains(s, "table") || strings.Contains(s, "relation")):
		return ExistTableErr
	case strings.Contains(s, "duplicate key value"), strings.Contains(s, "unique constraint failed"):
		return DuplicateKeyErr
	case strings.Contains(s, "not-null constraint"), strings.Contains(s, "not null constraint failed"):
		return NotNullViolationErr
	case strings.Contains(s, "foreign key violation"), strings.Contains(s, "foreign key constraint failed"):
		return ForeignKeyViolationErr
	case strings.Contains(s, "check constraint"):
		return CheckConstraintViolationErr
	case strings.Contains(s, "string data right truncation"), strings.Contains(s, "data truncated"):
		return DataTruncatedErr
	case strings.Contains(s, "datatype mismatch"):
		return InvalidTypeCastErr
	case strings.Contains(s, "database is locked"), strings.Contains(s, "deadlock"):
		return SerializationFailureErr
	}
	return UnknownErr
}
