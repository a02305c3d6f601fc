// Copyright 2023 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger provides the structured logger every layer of fildestx
// writes through: a single process-wide slog.Logger, switchable between a
// human-readable text handler and a JSON handler timestamped the way the
// rest of the fleet expects, with optional rotation to a local file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity name constants, matched against incoming config strings and used
// as slog's "severity" attribute value.
const (
	TRACE   = "TRACE"
	DEBUG   = "DEBUG"
	INFO    = "INFO"
	WARNING = "WARNING"
	ERROR   = "ERROR"
	OFF     = "OFF"
)

// slog only ships Debug/Info/Warn/Error; Trace and Off extend that range
// below and above respectively, so a LevelVar set to LevelOff suppresses
// every call site including Errorf.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelOff   slog.Level = slog.LevelError + 4
)

// LogRotateConfig mirrors the rotation knobs lumberjack.Logger exposes.
type LogRotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

// DefaultLogRotateConfig returns the rotation policy used when a caller
// asks for file logging without specifying one.
func DefaultLogRotateConfig() LogRotateConfig {
	return LogRotateConfig{MaxFileSizeMB: 512, BackupFileCount: 10, Compress: false}
}

// Config is the subset of the engine's configuration logger.InitLogFile
// needs: where to write, at what severity, and in what format.
type Config struct {
	FilePath        string
	Format          string // "text" or "json"; anything else behaves as "json"
	Severity        string
	LogRotateConfig LogRotateConfig
}

type loggerFactory struct {
	file            *os.File
	sysWriter       io.Writer
	format          string
	level           string
	logRotateConfig LogRotateConfig
}

var defaultLoggerFactory = &loggerFactory{
	sysWriter: os.Stderr,
	format:    "text",
	level:     INFO,
}

var defaultLogger = slog.New(
	defaultLoggerFactory.createJsonOrTextHandler(os.Stderr, levelVarFor(INFO), ""),
)

func levelVarFor(severity string) *slog.LevelVar {
	v := new(slog.LevelVar)
	setLoggingLevel(severity, v)
	return v
}

func levelFor(severity string) slog.Level {
	switch severity {
	case TRACE:
		return LevelTrace
	case DEBUG:
		return LevelDebug
	case INFO:
		return LevelInfo
	case WARNING:
		return LevelWarn
	case ERROR:
		return LevelError
	default:
		return LevelOff
	}
}

func severityName(level slog.Level) string {
	switch {
	case level < LevelDebug:
		return TRACE
	case level < LevelInfo:
		return DEBUG
	case level < LevelWarn:
		return INFO
	case level < LevelError:
		return WARNING
	default:
		return ERROR
	}
}

func setLoggingLevel(severity string, programLevel *slog.LevelVar) {
	programLevel.Set(levelFor(severity))
}

// createJsonOrTextHandler builds the handler that backs defaultLogger.
// Both formats rename slog's default keys to the severity/message pair the
// rest of the fleet's log tooling expects; json additionally nests the
// timestamp as {seconds, nanos} rather than a single formatted string.
func (lf *loggerFactory) createJsonOrTextHandler(w io.Writer, programLevel *slog.LevelVar, prefix string) slog.Handler {
	replace := func(groups []string, a slog.Attr) slog.Attr {
		switch a.Key {
		case slog.TimeKey:
			if lf.format == "text" {
				a.Value = slog.StringValue(a.Value.Time().Format("01/02/2006 15:04:05.000000"))
				return a
			}
			t := a.Value.Time()
			a.Key = "timestamp"
			a.Value = slog.GroupValue(
				slog.Int64("seconds", t.Unix()),
				slog.Int64("nanos", int64(t.Nanosecond())),
			)
			return a
		case slog.LevelKey:
			a.Key = "severity"
			a.Value = slog.StringValue(severityName(a.Value.Any().(slog.Level)))
			return a
		case slog.MessageKey:
			a.Key = "message"
			a.Value = slog.StringValue(prefix + a.Value.String())
			return a
		}
		return a
	}

	opts := &slog.HandlerOptions{Level: programLevel, ReplaceAttr: replace}
	if lf.format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func (lf *loggerFactory) writer() io.Writer {
	if lf.file != nil {
		return lf.file
	}
	if lf.sysWriter != nil {
		return lf.sysWriter
	}
	return os.Stderr
}

func rebuild() {
	defaultLogger = slog.New(
		defaultLoggerFactory.createJsonOrTextHandler(defaultLoggerFactory.writer(), levelVarFor(defaultLoggerFactory.level), ""),
	)
}

// SetLogFormat switches the process-wide logger between "text" and "json"
// output without touching its destination or severity. An empty or
// unrecognized format behaves as "json".
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	rebuild()
}

// InitLogFile points the process-wide logger at a file opened for append,
// replacing whatever destination it previously wrote to. The chosen
// rotation policy is recorded but not applied: the file is not rotated
// (NewRotatingWriter builds a rotating writer). legacyRotate carries the
// rotation policy (kept as a separate argument from cfg so callers
// migrating from a flag-based config and a file-based one can supply
// either without one overriding the other's defaults).
func InitLogFile(legacyRotate LogRotateConfig, cfg Config) error {
	f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}

	rotate := legacyRotate
	if rotate == (LogRotateConfig{}) {
		rotate = cfg.LogRotateConfig
	}

	defaultLoggerFactory = &loggerFactory{
		file:            f,
		sysWriter:       nil,
		format:          cfg.Format,
		level:           cfg.Severity,
		logRotateConfig: rotate,
	}
	rebuild()
	return nil
}

// NewRotatingWriter wraps a file path with lumberjack's rotation policy and
// an AsyncLogger so callers that want both rotation and a non-blocking
// writer can compose them.
func NewRotatingWriter(path string, rotate LogRotateConfig, bufferSize int) *AsyncLogger {
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rotate.MaxFileSizeMB,
		MaxBackups: rotate.BackupFileCount,
		Compress:   rotate.Compress,
	}
	return NewAsyncLogger(lj, bufferSize)
}

func log(ctx context.Context, level slog.Level, format string, v ...any) {
	if !defaultLogger.Enabled(ctx, level) {
		return
	}
	msg := format
	if len(v) > 0 {
		msg = fmt.Sprintf(format, v...)
	}
	defaultLogger.Log(ctx, level, msg)
}

// Tracef logs at TRACE, the finest granularity: per-syscall exec/apply/undo
// tracing.
func Tracef(format string, v ...any) { log(context.Background(), LevelTrace, format, v...) }

// Debugf logs at DEBUG: commit/abort/conflict summaries.
func Debugf(format string, v ...any) { log(context.Background(), LevelDebug, format, v...) }

// Infof logs at INFO: engine lifecycle events.
func Infof(format string, v ...any) { log(context.Background(), LevelInfo, format, v...) }

// Warnf logs at WARNING: recoverable anomalies worth a human's attention.
func Warnf(format string, v ...any) { log(context.Background(), LevelWarn, format, v...) }

// Errorf logs at ERROR: non-recoverable lock-primitive or commit/rollback
// failures (Fatal-tagged errors, per the fildeserr taxonomy).
func Errorf(format string, v ...any) { log(context.Background(), LevelError, format, v...) }
