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
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
	"github.com/sirupsen/logrus"
)

type Logger = logrus.Logger

const (
	FormatText = "text"
	FormatJSON = "json"

	defaultTimestampFormat = "2006-01-02 15:04:05.000"
)

// Options controls every logger created by NewLogger after Configure.
type Options struct {
	Level         string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic"`
	ConsoleFormat string `yaml:"console_format" validate:"omitempty,oneof=text json"`
	FileEnabled   bool   `yaml:"file_enabled"`
	FilePath      string `yaml:"file_path" validate:"required_if=FileEnabled true"`
	FileFormat    string `yaml:"file_format" validate:"omitempty,oneof=text json"`
	MaxSizeMB     int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups    int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays    int    `yaml:"max_age_days" validate:"gte=0"`
	Compress      bool   `yaml:"compress"`
}

// DefaultOptions reads LOG_LEVEL, CONSOLE_LOG_FORMAT, FILE_LOG_ENABLED,
// FILE_LOG_PATH and FILE_LOG_FORMAT.
func DefaultOptions() Options {
	return Options{
		Level:         EnvDefaultString("LOG_LEVEL", "info"),
		ConsoleFormat: EnvDefaultString("CONSOLE_LOG_FORMAT", FormatText),
		FileEnabled:   EnvDefaultBool("FILE_LOG_ENABLED", false),
		FilePath:      EnvDefaultString("FILE_LOG_PATH", filepath.Join("logs", "sqlrepo.log")),
		FileFormat:    EnvDefaultString("FILE_LOG_FORMAT", FormatText),
		MaxSizeMB:     100,
		MaxBackups:    7,
		MaxAgeDays:    30,
	}
}

var (
	optionsMu      sync.RWMutex
	currentOptions = DefaultOptions()
	consoleOutput  io.Writer = os.Stdout
	fileOutput     io.WriteCloser

	loggerRegistryMu sync.RWMutex
	loggerRegistry   = map[string]*logrus.Logger{}
)

// Configure replaces the logger options. Registered loggers pick up the new
// level immediately; formats and file output apply to loggers created later.
func Configure(opts Options) {
	optionsMu.Lock()
	currentOptions = opts
	if fileOutput != nil {
		_ = fileOutput.Close()
		fileOutput = nil
	}
	if opts.FileEnabled && opts.FilePath != "" {
		fileOutput = &lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
			LocalTime:  true,
		}
	}
	optionsMu.Unlock()

	SetAllLoggersLevel(ParseLogLevel(opts.Level))
}

// SetConsoleOutput redirects console output of all loggers, mostly for tests.
func SetConsoleOutput(w io.Writer) {
	optionsMu.Lock()
	defer optionsMu.Unlock()
	if w == nil {
		w = io.Discard
	}
	consoleOutput = w
}

type writerHook struct {
	formatter logrus.Formatter
	output    func() io.Writer
}

func (h *writerHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *writerHook) Fire(e *logrus.Entry) error {
	w := h.output()
	if w == nil {
		return nil
	}
	b, err := h.formatter.Format(e)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func newFormatter(name, format string, color bool) logrus.Formatter {
	if strings.EqualFold(strings.TrimSpace(format), FormatJSON) {
		return &JSONLogFormatter{LoggerName: name, TimestampFormat: defaultTimestampFormat}
	}
	return &Log4jColorFormatter{
		LoggerName:      name,
		TimestampFormat: defaultTimestampFormat,
		Color:           color,
		NameWidth:       10,
	}
}

// NewLogger returns a registered logger writing to the console and, when
// enabled, to the rotating log file.
func NewLogger(name string) *logrus.Logger {
	optionsMu.RLock()
	opts := currentOptions
	optionsMu.RUnlock()

	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(ParseLogLevel(opts.Level))
	l.SetReportCaller(true)

	console := newFormatter(name, opts.ConsoleFormat, true)
	l.SetFormatter(console)
	l.AddHook(&writerHook{formatter: console, output: func() io.Writer {
		optionsMu.RLock()
		defer optionsMu.RUnlock()
		return consoleOutput
	}})
	if opts.FileEnabled {
		l.AddHook(&writerHook{formatter: newFormatter(name, opts.FileFormat, false), output: func() io.Writer {
			optionsMu.RLock()
			defer optionsMu.RUnlock()
			if fileOutput == nil {
				return nil
			}
			return fileOutput
		}})
	}
	RegisterLogger(name, l)
	return l
}

func RegisterLogger(name string, l *logrus.Logger) {
	loggerRegistryMu.Lock()
	defer loggerRegistryMu.Unlock()
	loggerRegistry[name] = l
}

func SetAllLoggersLevel(lvl logrus.Level) {
	loggerRegistryMu.RLock()
	for _, lg := range loggerRegistry {
		lg.SetLevel(lvl)
	}
	loggerRegistryMu.RUnlock()
	logrus.SetLevel(lvl)
}

func SetLoggerLevel(name string, lvlStr string) bool {
	loggerRegistryMu.RLock()
	lg, ok := loggerRegistry[name]
	loggerRegistryMu.RUnlock()
	if !ok {
		return false
	}
	lg.SetLevel(ParseLogLevel(lvlStr))
	return true
}

func ParseLogLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "info", "":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}

func EnvDefaultString(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func EnvDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}

func EnvDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
