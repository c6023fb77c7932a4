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
	"testing"
	"time"

	goxrate "golang.org/x/time/rate"
)

func TestRateLimitWindow(t *testing.T) {
	ratelimit := RateLimit(Default(), Rate{Window: MinimumWindow, Limit: goxrate.Every(time.Second)})
	rl := ratelimit.(*ratelimited)

	limiters := make(map[string]*goxrate.Limiter)

	// fill message window, store limiters for checking
	messages := make([]string, 0, MinimumWindow)
	for idx := 0; idx < cap(messages); idx++ {
		msg := fmt.Sprintf("message #%d", idx)
		messages = append(messages, msg)
		limiters[msg] = rl.getMessageLimit(msg)
	}

	// looked up limiters of in-window messages must be the stored ones
	for msg, limiter := range limiters {
		if rl.getMessageLimit(msg) != limiter {
			t.Errorf("unexpected new limiter for message %s", msg)
		}
	}

	// overflow the window
	evicted := messages[0]
	extra := fmt.Sprintf("message #%d", len(messages))
	limiters[extra] = rl.getMessageLimit(extra)

	// the oldest message must have been evicted and get a fresh limiter
	if rl.getMessageLimit(evicted) == limiters[evicted] {
		t.Errorf("unexpected old limiter for evicted message %s", evicted)
	}
}

func TestRateLimitSuppression(t *testing.T) {
	ratelimit := RateLimit(Default(), Interval(time.Hour))
	rl := ratelimit.(*ratelimited)

	if msg := rl.filter("once-per-hour"); msg == "" {
		t.Errorf("first message got suppressed")
	}
	if msg := rl.filter("once-per-hour"); msg != "" {
		t.Errorf("repeated message got through: %q", msg)
	}
	if msg := rl.filter("another message"); msg == "" {
		t.Errorf("unrelated message got suppressed")
	}
}
