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

package repository

import (
	"sync"

	"github.com/tomoncle/sqlrepo/logging"
)

// LoggerName is the name of the default repository logger.
const LoggerName = "REPOSITORY"

var (
	defaultSinkOnce sync.Once
	defaultSink     logging.Sink
)

// DefaultSink returns the process wide sink backed by the REPOSITORY logger.
func DefaultSink() logging.Sink {
	defaultSinkOnce.Do(func() {
		defaultSink = logging.NewSink(logging.NewLogger(LoggerName))
	})
	return defaultSink
}

type options struct {
	sink       logging.Sink
	useDefault bool
	sensitive  []string
}

// Option configures a Repository at construction.
type Option func(*options)

// WithLogger sends audit events to sink. A nil sink disables logging.
func WithLogger(sink logging.Sink) Option {
	return func(o *options) {
		o.sink = sink
		o.useDefault = false
	}
}

// WithoutLogging disables audit events.
func WithoutLogging() Option {
	return WithLogger(nil)
}

// WithSensitiveAttributes removes the named attributes, by column or Go
// field name, from every audit event. Repeated options accumulate.
func WithSensitiveAttributes(names ...string) Option {
	return func(o *options) {
		o.sensitive = append(o.sensitive, names...)
	}
}
