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
	"testing"
)

func TestGetSameSource(t *testing.T) {
	l1 := Get("test-source")
	l2 := Get("test-source")
	if l1 != l2 {
		t.Errorf("Get returned distinct loggers for the same source")
	}
	if l1.Source() != "test-source" {
		t.Errorf("source: got %q, want %q", l1.Source(), "test-source")
	}
}

func TestEnableDebug(t *testing.T) {
	l := Get("debug-source")
	if l.DebugEnabled() {
		t.Errorf("debugging unexpectedly enabled by default")
	}
	if old := l.EnableDebug(true); old {
		t.Errorf("EnableDebug returned wrong previous state")
	}
	if !l.DebugEnabled() {
		t.Errorf("debugging not enabled")
	}
	l.EnableDebug(false)
}

func TestEnableDebugFor(t *testing.T) {
	l := Get("wildcard-source")
	EnableDebugFor("*")
	if !l.DebugEnabled() {
		t.Errorf("wildcard debugging not enabled")
	}
	log.Lock()
	log.debugAll = false
	log.debugSrc = make(map[string]bool)
	for _, l := range log.loggers {
		l.debug = false
	}
	log.Unlock()
}

func TestLevelNames(t *testing.T) {
	tcases := []struct {
		name  string
		level Level
	}{
		{"debug", LevelDebug},
		{"info", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
	}
	for _, tc := range tcases {
		var l Level
		if err := l.Set(tc.name); err != nil {
			t.Errorf("Set(%q): %v", tc.name, err)
		}
		if l != tc.level {
			t.Errorf("Set(%q): got %v, want %v", tc.name, l, tc.level)
		}
		if l.String() != tc.name {
			t.Errorf("String(): got %q, want %q", l.String(), tc.name)
		}
	}
	SetLevel(DefaultLevel)

	var l Level
	if err := l.Set("bogus"); err == nil {
		t.Errorf("Set(\"bogus\"): expected error, got nil")
	}
}
