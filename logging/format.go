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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Log4jColorFormatter renders
//
//	2025-01-02 15:04:05.000    INFO 4242   - [main] REPOSITORY repository/base.go:88 : Created Pet entity=Pet entity_ids=[7]
type Log4jColorFormatter struct {
	LoggerName      string
	TimestampFormat string
	Color           bool
	NameWidth       int
}

func (f *Log4jColorFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	ts := entry.Time.Format(tsFormat(f.TimestampFormat))
	lvl := padLeft(strings.ToUpper(entry.Level.String()), 7)
	pid := fmt.Sprintf("%-6d", os.Getpid())
	name := padLeft(limitRunes(f.LoggerName, f.NameWidth), f.NameWidth)
	caller := ""
	if entry.Caller != nil {
		caller = " " + shortCaller(entry.Caller.File, entry.Caller.Line)
	}
	if f.Color {
		lvl = colorLevel(lvl, entry.Level)
		pid = colorWrap(pid, ansiMagenta)
		name = colorWrap(name, ansiCyan)
		caller = colorWrap(caller, ansiFaint)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s - [main] %s%s : %s", ts, lvl, pid, name, caller, entry.Message)
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

// JSONLogFormatter renders one JSON object per line; entry data goes under "fields".
type JSONLogFormatter struct {
	LoggerName      string
	TimestampFormat string
}

type jsonLogRecord struct {
	Time    string                 `json:"time"`
	Level   string                 `json:"level"`
	Model   string                 `json:"model"`
	Caller  string                 `json:"caller,omitempty"`
	Message string                 `json:"message"`
	Fields  map[string]interface{} `json:"fields,omitempty"`
}

func (f *JSONLogFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	rec := jsonLogRecord{
		Time:    entry.Time.Format(tsFormat(f.TimestampFormat)),
		Level:   strings.ToLower(entry.Level.String()),
		Model:   f.LoggerName,
		Message: entry.Message,
	}
	if entry.Caller != nil {
		rec.Caller = shortCaller(entry.Caller.File, entry.Caller.Line)
	}
	if len(entry.Data) > 0 {
		rec.Fields = make(map[string]interface{}, len(entry.Data))
		for k, v := range entry.Data {
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			rec.Fields[k] = v
		}
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func tsFormat(format string) string {
	if format != "" {
		return format
	}
	return defaultTimestampFormat
}

func shortCaller(file string, line int) string {
	parts := strings.Split(filepath.ToSlash(file), "/")
	if len(parts) >= 2 {
		return fmt.Sprintf("%s/%s:%d", parts[len(parts)-2], parts[len(parts)-1], line)
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func padLeft(s string, width int) string { return fmt.Sprintf("%*s", width, s) }

func limitRunes(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n])
}

const (
	ansiReset   = "\x1b[0m"
	ansiFaint   = "\x1b[2m"
	ansiRed     = "\x1b[31m"
	ansiYellow  = "\x1b[33m"
	ansiGreen   = "\x1b[32m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
)

func colorWrap(s, code string) string { return code + s + ansiReset }

func colorLevel(s string, level logrus.Level) string {
	switch level {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return colorWrap(s, ansiRed)
	case logrus.WarnLevel:
		return colorWrap(s, ansiYellow)
	case logrus.InfoLevel:
		return colorWrap(s, ansiGreen)
	case logrus.DebugLevel:
		return colorWrap(s, ansiBlue)
	default:
		return colorWrap(s, ansiMagenta)
	}
}
