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
	"sort"

	"github.com/pkg/errors"
)

// SharedPageIndex maps page ids to their sharing group. The index is
// two-level: the outer level is keyed by cluster id, the inner level by page
// id, so one cluster's entries can be rebuilt without touching the others and
// lookups stay O(1).
type SharedPageIndex struct {
	entries   []*SharedPageEntry
	byCluster map[int]map[int]*SharedPageEntry
	byPage    map[int]*SharedPageEntry
}

// IndexShard holds one cluster's shared page groups before they are merged
// into the index. Shards for different clusters can be built concurrently.
type IndexShard struct {
	ClusterID int
	Groups    [][]int // each group sorted by page id
}

// BuildShard computes the transitive closure of the given similar pairs of
// one cluster. Every connected component of the pair graph becomes one group.
func BuildShard(clusterID int, pairs []SimilarPagePair) *IndexShard {
	shard := &IndexShard{ClusterID: clusterID}
	if len(pairs) == 0 {
		return shard
	}

	parent := make(map[int]int)
	var find func(int) int
	find = func(x int) int {
		p, ok := parent[x]
		if !ok {
			parent[x] = x
			return x
		}
		if p != x {
			p = find(p)
			parent[x] = p
		}
		return p
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, pair := range pairs {
		union(pair.PageA, pair.PageB)
	}

	groups := make(map[int][]int)
	for page := range parent {
		root := find(page)
		groups[root] = append(groups[root], page)
	}
	for _, group := range groups {
		sort.Ints(group)
		shard.Groups = append(shard.Groups, group)
	}
	// deterministic shard layout regardless of union order
	sort.Slice(shard.Groups, func(i, j int) bool {
		return shard.Groups[i][0] < shard.Groups[j][0]
	})

	return shard
}

// NewSharedPageIndex creates an empty index.
func NewSharedPageIndex() *SharedPageIndex {
	return &SharedPageIndex{
		byCluster: make(map[int]map[int]*SharedPageEntry),
		byPage:    make(map[int]*SharedPageEntry),
	}
}

// AddShard merges one cluster's shard into the index. Entry ids are assigned
// in insertion order; shards must cover disjoint page sets.
func (ix *SharedPageIndex) AddShard(shard *IndexShard) error {
	inner, ok := ix.byCluster[shard.ClusterID]
	if !ok {
		inner = make(map[int]*SharedPageEntry)
		ix.byCluster[shard.ClusterID] = inner
	}

	for _, group := range shard.Groups {
		entry := &SharedPageEntry{
			ID:        len(ix.entries),
			Primary:   group[0],
			Members:   group[1:],
			ClusterID: shard.ClusterID,
		}
		for _, pageID := range group {
			if _, dup := ix.byPage[pageID]; dup {
				return errors.Errorf("page %d already indexed, shards overlap", pageID)
			}
			inner[pageID] = entry
			ix.byPage[pageID] = entry
		}
		ix.entries = append(ix.entries, entry)
		log.Debug("indexed %s", entry)
	}

	return nil
}

// Lookup returns the entry covering the given page id. A miss means the page
// is not shareable, it is not an error.
func (ix *SharedPageIndex) Lookup(pageID int) (*SharedPageEntry, bool) {
	entry, ok := ix.byPage[pageID]
	return entry, ok
}

// ShareableWith returns the ids of pages the given page can share physical
// storage with, excluding the page itself. Nil if the page is not shareable.
func (ix *SharedPageIndex) ShareableWith(pageID int) []int {
	entry, ok := ix.byPage[pageID]
	if !ok {
		return nil
	}
	shareable := make([]int, 0, len(entry.Members))
	for _, id := range entry.PageIDs() {
		if id != pageID {
			shareable = append(shareable, id)
		}
	}
	return shareable
}

// Entries returns all entries in entry id order.
func (ix *SharedPageIndex) Entries() []*SharedPageEntry {
	return ix.entries
}

// ClusterEntries returns the entries of one cluster in entry id order.
func (ix *SharedPageIndex) ClusterEntries(clusterID int) []*SharedPageEntry {
	inner := ix.byCluster[clusterID]
	seen := make(map[int]struct{}, len(inner))
	entries := make([]*SharedPageEntry, 0, len(inner))
	for _, entry := range inner {
		if _, ok := seen[entry.ID]; ok {
			continue
		}
		seen[entry.ID] = struct{}{}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}
