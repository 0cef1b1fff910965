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
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tomoncle/sqlrepo/logging"
)

// LoggerName is the name of the default database logger.
const LoggerName = "DATABASE"

var (
	globalLogger   Logger
	globalLoggerMu sync.RWMutex
)

// Logger takes a message and alternating key/value pairs.
type Logger interface {
	SetLevel(level string)
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
}

// InitLogger installs log as the package logger unless one is already set.
func InitLogger(log Logger) {
	if log == nil {
		return
	}
	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = log
	}
}

func GetLogger() Logger {
	globalLoggerMu.RLock()
	l := globalLogger
	globalLoggerMu.RUnlock()
	if l != nil {
		return l
	}

	globalLoggerMu.Lock()
	defer globalLoggerMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewLogrusLogger(logging.NewLogger(LoggerName))
	}
	return globalLogger
}

type logrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger adapts l to Logger; key/value pairs become entry fields.
func NewLogrusLogger(l *logrus.Logger) Logger {
	return &logrusLogger{logger: l}
}

func (l *logrusLogger) Debug(msg string, fields ...interface{}) {
	l.logger.WithFields(toFields(fields)).Debug(msg)
}

func (l *logrusLogger) Info(msg string, fields ...interface{}) {
	l.logger.WithFields(toFields(fields)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, fields ...interface{}) {
	l.logger.WithFields(toFields(fields)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, fields ...interface{}) {
	l.logger.WithFields(toFields(fields)).Error(msg)
}

func (l *logrusLogger) SetLevel(level string) {
	l.logger.SetLevel(logging.ParseLogLevel(level))
}

func toFields(kv []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	if len(kv)%2 == 1 {
		fields["extra"] = kv[len(kv)-1]
	}
	return fields
}
