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
	"reflect"
	"time"

	"github.com/fatih/color"
	"github.com/uptrace/bun"
)

var (
	slowColor  = color.New(color.FgYellow, color.Bold)
	errorColor = color.New(color.BgRed, color.FgWhite)
)

// QueryLogHook reports slow and failed queries through a Logger. A missing
// row or a finished transaction is not a failure. Events carry the operation
// and table but never the statement text or the driver message, both of which
// may embed bound values; full statements are left to bundebug.
type QueryLogHook struct {
	logger   Logger
	slowTime time.Duration
	now      func() time.Time
}

var _ bun.QueryHook = (*QueryLogHook)(nil)

// NewQueryLogHook returns a hook warning about queries slower than slowTime.
// A zero slowTime only reports failures.
func NewQueryLogHook(logger Logger, slowTime time.Duration) *QueryLogHook {
	if logger == nil {
		logger = GetLogger()
	}
	return &QueryLogHook{logger: logger, slowTime: slowTime, now: time.Now}
}

func (h *QueryLogHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *QueryLogHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	duration := h.now().Sub(event.StartTime)

	switch {
	case event.Err == nil, errors.Is(event.Err, sql.ErrNoRows), errors.Is(event.Err, sql.ErrTxDone):
	default:
		kv := []interface{}{
			"operation", event.Operation(),
			"table", tableOf(event),
			"duration", duration.Round(time.Microsecond),
			"reason", Classify(event.Err).String(),
			"error_type", reflect.TypeOf(event.Err).String(),
		}
		if code := ErrorCode(event.Err); code != "" {
			kv = append(kv, "code", code)
		}
		h.logger.Warn(errorColor.Sprint(" Database query failed "), kv...)
		return
	}

	if h.slowTime > 0 && duration > h.slowTime {
		h.logger.Warn(slowColor.Sprint("Database slow query detected"),
			"operation", event.Operation(),
			"table", tableOf(event),
			"duration", duration.Round(time.Microsecond),
			"slow_threshold", h.slowTime,
		)
	}
}

// tableOf is the table of a query builder event, empty for raw SQL.
func tableOf(event *bun.QueryEvent) string {
	if event.IQuery == nil {
		return ""
	}
	return event.IQuery.GetTableName()
}
