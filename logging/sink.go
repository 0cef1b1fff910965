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

package logging

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Fields are the structured key/value pairs of one event.
type Fields map[string]interface{}

// Sink accepts structured events. Emit may fail; callers must not let that
// failure change their own outcome.
type Sink interface {
	Emit(level logrus.Level, event string, fields Fields) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(level logrus.Level, event string, fields Fields) error

func (f SinkFunc) Emit(level logrus.Level, event string, fields Fields) error {
	return f(level, event, fields)
}

type logrusSink struct {
	logger *logrus.Logger
}

// NewSink emits events through l, one entry per event with the fields attached.
func NewSink(l *logrus.Logger) Sink {
	return &logrusSink{logger: l}
}

func (s *logrusSink) Emit(level logrus.Level, event string, fields Fields) error {
	if s.logger == nil {
		return errors.New("logging: sink has no logger")
	}
	s.logger.WithFields(logrus.Fields(fields)).Log(level, event)
	return nil
}
