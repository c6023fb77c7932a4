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

package memdedup

import (
	"testing"
)

func TestStatsAccumulation(t *testing.T) {
	s := GetStats()
	s.Reset()

	s.Store(StatsClusterRun{apps: 5, clusters: 2})
	s.Store(StatsDetection{pairs: 3, generations: 10, converged: true})
	s.Store(StatsDetection{pairs: 1, generations: 20, converged: false})
	s.Store(StatsIndexBuilt{entries: 2, pages: 6})
	s.Store(StatsMerge{merged: 4, savedBytes: 16384, duplicates: 1})
	s.Store(StatsUnshare{})
	s.Store(StatsUnshare{})

	expected := map[string]uint64{
		"cluster_runs":        1,
		"clusters_formed":     2,
		"detection_runs":      2,
		"non_converged_runs":  1,
		"ga_generations":      30,
		"pairs_found":         4,
		"index_entries":       2,
		"indexed_pages":       6,
		"pages_merged":        4,
		"bytes_saved":         16384,
		"cow_unshares":        2,
		"duplicate_instances": 1,
	}
	summary := s.Summary()
	for key, value := range expected {
		if summary[key] != value {
			t.Errorf("%s: expected %d, got %d", key, value, summary[key])
		}
	}
}

func TestStatsReset(t *testing.T) {
	s := GetStats()
	s.Store(StatsUnshare{})
	s.Reset()

	for key, value := range s.Summary() {
		if value != 0 {
			t.Errorf("%s not reset: %d", key, value)
		}
	}
}
