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
	"flag"
	"strings"
)

const (
	// DefaultLevel is the default logging severity level.
	DefaultLevel = LevelInfo
	// command-line option name prefix
	optPrefix = "logger"
)

// Set sets the level from the given name, implementing flag.Value.
func (l *Level) Set(value string) error {
	levels := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warning": LevelWarn,
		"warn":    LevelWarn,
		"error":   LevelError,
	}
	level, ok := levels[strings.ToLower(value)]
	if !ok {
		return loggerError("invalid logging level %q", value)
	}
	*l = level
	SetLevel(level)
	return nil
}

// String returns the name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warning"
	case LevelError:
		return "error"
	}
	return "unknown"
}

// debugFlag turns comma-separated source lists into debug configuration.
type debugFlag struct{}

func (debugFlag) String() string { return "" }

func (debugFlag) Set(value string) error {
	EnableDebugFor(strings.Split(value, ",")...)
	return nil
}

// backendFlag selects the active logging backend.
type backendFlag struct{}

func (backendFlag) String() string { return FmtBackendName }

func (backendFlag) Set(value string) error {
	return SetBackend(value)
}

// RegisterFlags registers the logging command line options with the given flag set.
func RegisterFlags(fs *flag.FlagSet) {
	lvl := DefaultLevel
	fs.Var(&lvl, optPrefix+"-level",
		"least severe level of messages to log (debug, info, warning, error)")
	fs.Var(debugFlag{}, optPrefix+"-debug",
		"comma-separated list of sources to enable debug messages for, or '*' for all")
	fs.Var(backendFlag{}, optPrefix,
		"logging backend to use ('fmt' or 'klog')")
}
