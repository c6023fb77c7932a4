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
	"fmt"
	"hash/fnv"
	"sort"
)

// NoCluster marks an application that has not been assigned to a cluster.
const NoCluster = -1

// Application is a program whose static code pages take part in page sharing
// analysis. ClusterID is NoCluster until the clusterer assigns one.
type Application struct {
	ID          int
	Name        string
	ClusterID   int
	Fingerprint Fingerprint
}

// Page is one fixed-size page of an application's code segment. Content is
// the raw payload used for similarity scoring, ContentHash an exact-match
// fast-reject key over the same bytes.
type Page struct {
	ID          int
	VMID        int
	AppID       int
	ContentHash string
	Content     []byte
}

// NewPage creates a Page with its content hash filled in.
func NewPage(id, vmID, appID int, content []byte) *Page {
	return &Page{
		ID:          id,
		VMID:        vmID,
		AppID:       appID,
		ContentHash: HashContent(content),
		Content:     content,
	}
}

// HashContent returns the exact-match key for page content. This is a fast
// non-cryptographic hash, collisions are tolerable because colliding pages
// only take the similarity scoring slow path.
func HashContent(content []byte) string {
	h := fnv.New64a()
	h.Write(content)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Cluster is a group of applications whose fingerprints are mutually similar
// above the clustering threshold. Immutable after construction.
type Cluster struct {
	ID     int
	AppIDs []int // sorted
}

// SimilarPagePair records one detected similar page pair. PageA < PageB so
// that every pair has exactly one canonical representation.
type SimilarPagePair struct {
	PageA int
	PageB int
	Score float64
}

// NewSimilarPagePair returns the canonical pair for the given page ids.
func NewSimilarPagePair(a, b int, score float64) SimilarPagePair {
	if b < a {
		a, b = b, a
	}
	return SimilarPagePair{PageA: a, PageB: b, Score: score}
}

// SharedPageEntry is one equivalence class of pages considered interchangeable
// for merging. Primary is the lowest page id of the class and serves as the
// canonical representative; Members excludes Primary and is sorted.
type SharedPageEntry struct {
	ID        int
	Primary   int
	Members   []int
	ClusterID int
}

// PageIDs returns the primary and all members as one sorted id list.
func (e *SharedPageEntry) PageIDs() []int {
	ids := make([]int, 0, len(e.Members)+1)
	ids = append(ids, e.Primary)
	ids = append(ids, e.Members...)
	sort.Ints(ids)
	return ids
}

// Contains checks if the entry covers the given page id.
func (e *SharedPageEntry) Contains(pageID int) bool {
	if pageID == e.Primary {
		return true
	}
	idx := sort.SearchInts(e.Members, pageID)
	return idx < len(e.Members) && e.Members[idx] == pageID
}

func (e *SharedPageEntry) String() string {
	return fmt.Sprintf("entry #%d (cluster #%d): primary page %d, members %v",
		e.ID, e.ClusterID, e.Primary, e.Members)
}

// PageInstance identifies one page mapped by one VM.
type PageInstance struct {
	VMID   int
	PageID int
}

func (pi PageInstance) String() string {
	return fmt.Sprintf("vm %d/page %d", pi.VMID, pi.PageID)
}

// MergeReport summarizes the outcome of one online merge batch.
type MergeReport struct {
	// PagesMerged counts page instances whose physical storage is
	// deduplicated, that is all non-canonical sharers of live records.
	PagesMerged int
	// MemorySavedBytes is PagesMerged times the page size.
	MemorySavedBytes int64
	// DuplicateInstances counts instances rejected from the batch because
	// their (vm, page) key was already registered.
	DuplicateInstances int
}
