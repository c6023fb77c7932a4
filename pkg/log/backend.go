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
	"strings"
)

//
// Logging backend interface and default fmt-based backend implementation.
//

// BackendFn is a function that creates a Backend instance.
type BackendFn func() Backend

// Backend can format and emit log messages.
type Backend interface {
	// Name returns the name of this backend.
	Name() string
	// Log emits a log message with the given severity, source, and Printf-like arguments.
	Log(Level, string, string, ...interface{})
	// Block emits a multi-line log message, with an additional per-line prefix.
	Block(Level, string, string, string, ...interface{})
	// SetSourceAlignment sets the maximum source length for optional alignment.
	SetSourceAlignment(int)
}

// RegisterBackend registers a logger backend.
func RegisterBackend(name string, fn BackendFn) {
	log.Lock()
	defer log.Unlock()
	log.backends[name] = fn
}

// FmtBackendName is the name of our simple fmt-based logging backend.
const FmtBackendName = "fmt"

// severity tags fmtBackend uses to prefix emitted messages with.
var fmtTags = map[Level]string{
	LevelDebug: "D:",
	LevelInfo:  "I:",
	LevelWarn:  "W:",
	LevelError: "E:",
}

// fmtBackend is our simple, default fmt.Printf-based Backend.
type fmtBackend struct {
	align int
}

func (*fmtBackend) Name() string {
	return FmtBackendName
}

func (f *fmtBackend) SetSourceAlignment(align int) {
	f.align = align
}

func (f *fmtBackend) source(source string) string {
	suf := (f.align - len(source)) / 2
	pre := f.align - len(source) - suf
	return "[" + strings.Repeat(" ", pre) + source + strings.Repeat(" ", suf) + "]"
}

func (f *fmtBackend) Log(level Level, source, format string, args ...interface{}) {
	fmt.Printf("%s %s %s\n", fmtTags[level], f.source(source), fmt.Sprintf(format, args...))
}

func (f *fmtBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	for _, line := range strings.Split(fmt.Sprintf(format, args...), "\n") {
		f.Log(level, source, "%s%s", prefix, line)
	}
}

func init() {
	RegisterBackend(FmtBackendName, func() Backend { return &fmtBackend{} })
}
