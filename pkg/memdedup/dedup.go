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
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// DuplicatePageInstanceError reports a (vm, page) instance that was already
// registered. The instance is rejected, the batch continues.
type DuplicatePageInstanceError struct {
	Instance PageInstance
}

func (e DuplicatePageInstanceError) Error() string {
	return fmt.Sprintf("duplicate page instance %s", e.Instance)
}

// errRecordDead marks a merge record whose last sharer already unshared.
var errRecordDead = errors.New("merge record has no sharers left")

// MergeRecord is the runtime bookkeeping of one active group of merged page
// instances. Its sharer set and reference count always agree, and the record
// is removed when the last sharer unshares. Updates on one record are
// mutually exclusive; records of different entries do not contend.
type MergeRecord struct {
	mutex     sync.Mutex
	entryID   int
	canonical PageInstance
	content   []byte
	sharedBy  map[PageInstance]struct{}
	refCount  int
	dead      bool
}

func newMergeRecord(entryID int, canonical PageInstance, content []byte) *MergeRecord {
	return &MergeRecord{
		entryID:   entryID,
		canonical: canonical,
		content:   content,
		sharedBy:  map[PageInstance]struct{}{canonical: {}},
		refCount:  1,
	}
}

// EntryID returns the shared page entry this record belongs to.
func (r *MergeRecord) EntryID() int {
	return r.entryID
}

// Canonical returns the instance backing the canonical physical page.
func (r *MergeRecord) Canonical() PageInstance {
	return r.canonical
}

// RefCount returns the current number of sharers.
func (r *MergeRecord) RefCount() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.refCount
}

// SharedBy returns the current sharers in deterministic order.
func (r *MergeRecord) SharedBy() []PageInstance {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	sharers := make([]PageInstance, 0, len(r.sharedBy))
	for inst := range r.sharedBy {
		sharers = append(sharers, inst)
	}
	sort.Slice(sharers, func(i, j int) bool {
		if sharers[i].VMID != sharers[j].VMID {
			return sharers[i].VMID < sharers[j].VMID
		}
		return sharers[i].PageID < sharers[j].PageID
	})
	return sharers
}

// addSharer registers a new sharer of the canonical page.
func (r *MergeRecord) addSharer(inst PageInstance) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.dead {
		return errRecordDead
	}
	if _, ok := r.sharedBy[inst]; ok {
		return DuplicatePageInstanceError{Instance: inst}
	}
	r.sharedBy[inst] = struct{}{}
	r.refCount++
	return nil
}

// unshare removes a sharer and hands out a private copy of the content. The
// record marks itself dead when the last sharer leaves.
func (r *MergeRecord) unshare(inst PageInstance) (content []byte, dead, wasSharer bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.dead {
		return nil, true, false
	}
	if _, ok := r.sharedBy[inst]; !ok {
		return nil, false, false
	}
	delete(r.sharedBy, inst)
	r.refCount--
	if r.refCount == 0 {
		r.dead = true
	}
	return append([]byte(nil), r.content...), r.dead, true
}

// sharers returns refCount-1, the number of instances whose storage is
// deduplicated on top of the one canonical page.
func (r *MergeRecord) savedInstances() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.refCount > 0 {
		return r.refCount - 1
	}
	return 0
}

// Deduper merges the physical backing of equivalent pages at runtime, using
// a prebuilt shared page index, and manages copy-on-write on divergence.
type Deduper struct {
	index    *SharedPageIndex
	pageSize int64

	mutex      sync.Mutex // guards the maps below, not record internals
	records    map[int]*MergeRecord
	privatized map[PageInstance][]byte
	duplicates int
}

// NewDeduper creates a deduplication engine over the given index.
func NewDeduper(index *SharedPageIndex, pageSize int64) *Deduper {
	return &Deduper{
		index:      index,
		pageSize:   pageSize,
		records:    make(map[int]*MergeRecord),
		privatized: make(map[PageInstance][]byte),
	}
}

// Merge deduplicates the physical storage of the given VM pages. Pages not
// covered by the index stay private. Duplicate (vm, page) instances are
// rejected and counted, never fatal to the batch. The returned report
// reflects all live records, not just this batch.
func (d *Deduper) Merge(vmPages map[int][]*Page) *MergeReport {
	duplicates := 0
	batchSeen := make(map[PageInstance]struct{})

	vmIDs := make([]int, 0, len(vmPages))
	for vmID := range vmPages {
		vmIDs = append(vmIDs, vmID)
	}
	sort.Ints(vmIDs)

	for _, vmID := range vmIDs {
		for _, page := range vmPages[vmID] {
			inst := PageInstance{VMID: vmID, PageID: page.ID}
			if _, dup := batchSeen[inst]; dup {
				log.Warn("rejecting %v", DuplicatePageInstanceError{Instance: inst})
				duplicates++
				continue
			}
			batchSeen[inst] = struct{}{}

			if err := d.merge(inst, page); err != nil {
				if errors.As(err, &DuplicatePageInstanceError{}) {
					log.Warn("rejecting %v", err)
					duplicates++
				}
				continue
			}
		}
	}

	d.mutex.Lock()
	d.duplicates += duplicates
	d.mutex.Unlock()

	report := d.Report()
	report.DuplicateInstances = duplicates

	log.Info("merge done: %d pages merged, %d bytes saved, %d duplicates rejected",
		report.PagesMerged, report.MemorySavedBytes, duplicates)
	stats.Store(StatsMerge{
		merged:     report.PagesMerged,
		savedBytes: report.MemorySavedBytes,
		duplicates: duplicates,
	})

	return report
}

// merge registers a single page instance.
func (d *Deduper) merge(inst PageInstance, page *Page) error {
	entry, ok := d.index.Lookup(page.ID)
	if !ok {
		// not shareable, the page keeps its private storage
		return nil
	}

	d.mutex.Lock()
	if _, private := d.privatized[inst]; private {
		// write-after-fault pages stay private until the next
		// offline cycle recomputes sharing
		d.mutex.Unlock()
		log.Debug("%s faulted earlier, staying private", inst)
		return nil
	}
	d.mutex.Unlock()

	for {
		d.mutex.Lock()
		record, ok := d.records[entry.ID]
		if !ok {
			// first instance of the entry backs the canonical
			// physical page, read-only from here on
			d.records[entry.ID] = newMergeRecord(entry.ID, inst, page.Content)
			d.mutex.Unlock()
			log.Debug("%s backs canonical page of entry #%d", inst, entry.ID)
			return nil
		}
		d.mutex.Unlock()

		err := d.addSharer(record, inst, entry.ID)
		if err == errRecordDead {
			continue
		}
		return err
	}
}

func (d *Deduper) addSharer(record *MergeRecord, inst PageInstance, entryID int) error {
	if err := record.addSharer(inst); err != nil {
		if err == errRecordDead {
			// raced with the last unshare, drop the dead record
			d.mutex.Lock()
			if d.records[entryID] == record {
				delete(d.records, entryID)
			}
			d.mutex.Unlock()
		}
		return err
	}
	log.Debug("%s shares canonical page of entry #%d", inst, entryID)
	return nil
}

// WriteFault simulates a write to the given page instance. If the instance
// shares a canonical page it is unshared: it gets a private writable copy of
// the content, and the merge record is dropped if it was the last sharer.
// The private copy is returned; nil if the instance was not sharing.
func (d *Deduper) WriteFault(vmID, pageID int) []byte {
	inst := PageInstance{VMID: vmID, PageID: pageID}

	d.mutex.Lock()
	if content, ok := d.privatized[inst]; ok {
		d.mutex.Unlock()
		return content
	}
	d.mutex.Unlock()

	entry, ok := d.index.Lookup(pageID)
	if !ok {
		return nil
	}

	d.mutex.Lock()
	record, ok := d.records[entry.ID]
	d.mutex.Unlock()
	if !ok {
		return nil
	}

	content, dead, wasSharer := record.unshare(inst)
	if !wasSharer {
		return nil
	}

	d.mutex.Lock()
	d.privatized[inst] = content
	if dead && d.records[entry.ID] == record {
		delete(d.records, entry.ID)
	}
	d.mutex.Unlock()

	log.Debug("copy-on-write: %s unshared from entry #%d", inst, entry.ID)
	stats.Store(StatsUnshare{})

	return content
}

// Record returns the live merge record of the given entry.
func (d *Deduper) Record(entryID int) (*MergeRecord, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	record, ok := d.records[entryID]
	return record, ok
}

// PrivateContent returns the private copy a write fault produced for the
// given instance.
func (d *Deduper) PrivateContent(vmID, pageID int) ([]byte, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	content, ok := d.privatized[PageInstance{VMID: vmID, PageID: pageID}]
	return content, ok
}

// Report summarizes the current deduplication state across all live records.
func (d *Deduper) Report() *MergeReport {
	d.mutex.Lock()
	records := make([]*MergeRecord, 0, len(d.records))
	for _, record := range d.records {
		records = append(records, record)
	}
	duplicates := d.duplicates
	d.mutex.Unlock()

	report := &MergeReport{DuplicateInstances: duplicates}
	for _, record := range records {
		report.PagesMerged += record.savedInstances()
	}
	report.MemorySavedBytes = int64(report.PagesMerged) * d.pageSize
	return report
}
