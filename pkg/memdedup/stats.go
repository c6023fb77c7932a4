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
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Stats accumulates counters over all pipeline activity in the process.
type Stats struct {
	sync.Mutex
	clusterRuns        uint64
	clustersFormed     uint64
	detectionRuns      uint64
	nonConvergedRuns   uint64
	gaGenerations      uint64
	pairsFound         uint64
	indexEntries       uint64
	indexedPages       uint64
	pagesMerged        uint64
	bytesSaved         uint64
	cowUnshares        uint64
	duplicateInstances uint64
}

// StatsClusterRun records one clustering run.
type StatsClusterRun struct {
	apps     int
	clusters int
}

// StatsDetection records one detector run.
type StatsDetection struct {
	pairs       int
	generations int
	converged   bool
}

// StatsIndexBuilt records one index construction.
type StatsIndexBuilt struct {
	entries int
	pages   int
}

// StatsMerge records one online merge batch.
type StatsMerge struct {
	merged     int
	savedBytes int64
	duplicates int
}

// StatsUnshare records one copy-on-write unshare.
type StatsUnshare struct{}

var stats = &Stats{}

// GetStats returns the process-wide statistics.
func GetStats() *Stats {
	return stats
}

// Store accumulates one statistics event.
func (s *Stats) Store(entry interface{}) {
	s.Lock()
	defer s.Unlock()
	switch v := entry.(type) {
	case StatsClusterRun:
		s.clusterRuns++
		s.clustersFormed += uint64(v.clusters)
	case StatsDetection:
		s.detectionRuns++
		s.gaGenerations += uint64(v.generations)
		s.pairsFound += uint64(v.pairs)
		if !v.converged {
			s.nonConvergedRuns++
		}
	case StatsIndexBuilt:
		s.indexEntries += uint64(v.entries)
		s.indexedPages += uint64(v.pages)
	case StatsMerge:
		s.pagesMerged += uint64(v.merged)
		s.bytesSaved += uint64(v.savedBytes)
		s.duplicateInstances += uint64(v.duplicates)
	case StatsUnshare:
		s.cowUnshares++
	default:
		log.Error("unknown statistics entry %T", entry)
	}
}

// Reset clears all counters.
func (s *Stats) Reset() {
	s.Lock()
	defer s.Unlock()
	s.clusterRuns = 0
	s.clustersFormed = 0
	s.detectionRuns = 0
	s.nonConvergedRuns = 0
	s.gaGenerations = 0
	s.pairsFound = 0
	s.indexEntries = 0
	s.indexedPages = 0
	s.pagesMerged = 0
	s.bytesSaved = 0
	s.cowUnshares = 0
	s.duplicateInstances = 0
}

// Summary returns the counters as a flat map.
func (s *Stats) Summary() map[string]uint64 {
	s.Lock()
	defer s.Unlock()
	return map[string]uint64{
		"cluster_runs":        s.clusterRuns,
		"clusters_formed":     s.clustersFormed,
		"detection_runs":      s.detectionRuns,
		"non_converged_runs":  s.nonConvergedRuns,
		"ga_generations":      s.gaGenerations,
		"pairs_found":         s.pairsFound,
		"index_entries":       s.indexEntries,
		"indexed_pages":       s.indexedPages,
		"pages_merged":        s.pagesMerged,
		"bytes_saved":         s.bytesSaved,
		"cow_unshares":        s.cowUnshares,
		"duplicate_instances": s.duplicateInstances,
	}
}

// String dumps the counters, one per line.
func (s *Stats) String() string {
	summary := s.Summary()
	keys := make([]string, 0, len(summary))
	for key := range summary {
		keys = append(keys, key)
	}
	lines := make([]string, 0, len(keys))
	sort.Strings(keys)
	for _, key := range keys {
		lines = append(lines, fmt.Sprintf("%s: %d", key, summary[key]))
	}
	return strings.Join(lines, "\n")
}

// MarshalJSON implements json.Marshaler.
func (s *Stats) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Summary())
}
