// Copyright 2023 Intel Corporation. All Rights Reserved.
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

package log

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Level describes the severity of log messages.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
)

// Logger is the interface for producing log messages for/from a particular source.
type Logger interface {
	// Debug formats and emits a debug message.
	Debug(format string, args ...interface{})
	// Info formats and emits an informational message.
	Info(format string, args ...interface{})
	// Warn formats and emits a warning message.
	Warn(format string, args ...interface{})
	// Error formats and emits an error message.
	Error(format string, args ...interface{})
	// Panic formats and emits an error message, then panics with the same.
	Panic(format string, args ...interface{})
	// Fatal formats and emits an error message and os.Exit()'s with status 1.
	Fatal(format string, args ...interface{})

	// DebugBlock formats and emits a multiline debug message.
	DebugBlock(prefix string, format string, args ...interface{})
	// InfoBlock formats and emits a multiline informational message.
	InfoBlock(prefix string, format string, args ...interface{})
	// WarnBlock formats and emits a multiline warning message.
	WarnBlock(prefix string, format string, args ...interface{})
	// ErrorBlock formats and emits a multiline error message.
	ErrorBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables/disables debug messages for this Logger.
	EnableDebug(bool) bool
	// DebugEnabled checks if debug messages are enabled for this Logger.
	DebugEnabled() bool

	// Source returns the source name of this Logger.
	Source() string
}

// logger implements Logger for a single source.
type logger struct {
	source string
	debug  bool
}

// logging is our runtime state.
type logging struct {
	sync.RWMutex
	level    Level              // lowest unsuppressed severity
	loggers  map[string]*logger // active sources
	active   Backend            // active backend
	backends map[string]BackendFn
	srcalign int // longest active source name, for prefix alignment
	debugAll bool
	debugSrc map[string]bool
}

var log = &logging{
	level:    DefaultLevel,
	loggers:  make(map[string]*logger),
	backends: make(map[string]BackendFn),
	debugSrc: make(map[string]bool),
}

// Get returns the Logger for the given source, creating one if necessary.
func Get(source string) Logger {
	log.Lock()
	defer log.Unlock()
	return log.get(source)
}

// NewLogger is an alias for Get.
func NewLogger(source string) Logger {
	return Get(source)
}

func (lg *logging) get(source string) *logger {
	source = strings.Trim(source, "[] ")
	if l, ok := lg.loggers[source]; ok {
		return l
	}
	l := &logger{
		source: source,
		debug:  lg.debugAll || lg.debugSrc[source],
	}
	lg.loggers[source] = l
	if len(source) > lg.srcalign {
		lg.srcalign = len(source)
		lg.backend().SetSourceAlignment(lg.srcalign)
	}
	return l
}

func (lg *logging) backend() Backend {
	if lg.active == nil {
		lg.active = lg.backends[FmtBackendName]()
		lg.active.SetSourceAlignment(lg.srcalign)
	}
	return lg.active
}

// SetLevel sets the lowest severity level that is not suppressed.
func SetLevel(level Level) {
	log.Lock()
	defer log.Unlock()
	log.level = level
}

// SetBackend activates the named logging backend.
func SetBackend(name string) error {
	log.Lock()
	defer log.Unlock()
	fn, ok := log.backends[name]
	if !ok {
		return loggerError("unknown logging backend %q", name)
	}
	log.active = fn()
	log.active.SetSourceAlignment(log.srcalign)
	return nil
}

// EnableDebugFor enables debug messages for the given sources. The
// source "*" enables debugging for all sources.
func EnableDebugFor(sources ...string) {
	log.Lock()
	defer log.Unlock()
	for _, src := range sources {
		if src == "*" {
			log.debugAll = true
		} else {
			log.debugSrc[src] = true
		}
	}
	for src, l := range log.loggers {
		l.debug = log.debugAll || log.debugSrc[src]
	}
}

func (l *logger) emit(level Level, format string, args ...interface{}) {
	log.RLock()
	defer log.RUnlock()
	if level < log.level && !(level == LevelDebug && l.debug) {
		return
	}
	log.backend().Log(level, l.source, format, args...)
}

func (l *logger) emitBlock(level Level, prefix, format string, args ...interface{}) {
	log.RLock()
	defer log.RUnlock()
	if level < log.level && !(level == LevelDebug && l.debug) {
		return
	}
	log.backend().Block(level, l.source, prefix, format, args...)
}

// Debug emits a debug message.
func (l *logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.emit(LevelDebug, format, args...)
}

// Info emits an informational message.
func (l *logger) Info(format string, args ...interface{}) {
	l.emit(LevelInfo, format, args...)
}

// Warn emits a warning message.
func (l *logger) Warn(format string, args ...interface{}) {
	l.emit(LevelWarn, format, args...)
}

// Error emits an error message.
func (l *logger) Error(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
}

// Panic emits an error message and panics with the same.
func (l *logger) Panic(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	l.emit(LevelError, "%s", message)
	panic(message)
}

// Fatal emits an error message and exits.
func (l *logger) Fatal(format string, args ...interface{}) {
	l.emit(LevelError, format, args...)
	os.Exit(1)
}

// DebugBlock emits a multiline debug message.
func (l *logger) DebugBlock(prefix string, format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.emitBlock(LevelDebug, prefix, format, args...)
}

// InfoBlock emits a multiline informational message.
func (l *logger) InfoBlock(prefix string, format string, args ...interface{}) {
	l.emitBlock(LevelInfo, prefix, format, args...)
}

// WarnBlock emits a multiline warning message.
func (l *logger) WarnBlock(prefix string, format string, args ...interface{}) {
	l.emitBlock(LevelWarn, prefix, format, args...)
}

// ErrorBlock emits a multiline error message.
func (l *logger) ErrorBlock(prefix string, format string, args ...interface{}) {
	l.emitBlock(LevelError, prefix, format, args...)
}

// EnableDebug enables/disables debugging and returns the previous state.
func (l *logger) EnableDebug(state bool) bool {
	log.Lock()
	defer log.Unlock()
	old := l.debug
	l.debug = state
	log.debugSrc[l.source] = state
	return old
}

// DebugEnabled checks if debugging is enabled for this logger.
func (l *logger) DebugEnabled() bool {
	return l.debug
}

// Source returns the source of this logger.
func (l *logger) Source() string {
	return l.source
}

func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("log: "+format, args...)
}

// our default logger
var deflog Logger

// Default returns the default Logger.
func Default() Logger {
	return deflog
}

// Info formats and emits an informational message with the default source.
func Info(format string, args ...interface{}) {
	deflog.Info(format, args...)
}

// Warn formats and emits a warning message with the default source.
func Warn(format string, args ...interface{}) {
	deflog.Warn(format, args...)
}

// Error formats and emits an error message with the default source.
func Error(format string, args ...interface{}) {
	deflog.Error(format, args...)
}

// Fatal formats and emits an error message with the default source and exits.
func Fatal(format string, args ...interface{}) {
	deflog.Fatal(format, args...)
}

// Debug formats and emits a debug message with the default source.
func Debug(format string, args ...interface{}) {
	deflog.Debug(format, args...)
}

func init() {
	deflog = Get(filepath.Base(filepath.Clean(os.Args[0])))
}
