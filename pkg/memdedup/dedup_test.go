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
	"bytes"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const testPageSize = 4096

// testDeduper builds a deduplication engine whose index shares pages 1-3 in
// one entry and 10-11 in another.
func testDeduper(t *testing.T) *Deduper {
	t.Helper()
	index := NewSharedPageIndex()
	if err := index.AddShard(BuildShard(1, pairs(1, 2, 2, 3))); err != nil {
		t.Fatalf("AddShard: %v", err)
	}
	if err := index.AddShard(BuildShard(4, pairs(10, 11))); err != nil {
		t.Fatalf("AddShard: %v", err)
	}
	return NewDeduper(index, testPageSize)
}

func TestMergeSharesIndexedPages(t *testing.T) {
	d := testDeduper(t)
	content := randomContent(2000, testPageSize)

	report := d.Merge(map[int][]*Page{
		1: {NewPage(1, 1, 1, content)},
		2: {NewPage(2, 2, 1, content)},
	})

	if report.PagesMerged != 1 {
		t.Errorf("expected 1 page merged, got %d", report.PagesMerged)
	}
	if report.MemorySavedBytes != testPageSize {
		t.Errorf("expected %d bytes saved, got %d", testPageSize, report.MemorySavedBytes)
	}

	entry, _ := d.index.Lookup(1)
	record, ok := d.Record(entry.ID)
	if !ok {
		t.Fatalf("no merge record for entry #%d", entry.ID)
	}
	if record.RefCount() != 2 {
		t.Errorf("expected refcount 2, got %d", record.RefCount())
	}
	if record.Canonical() != (PageInstance{VMID: 1, PageID: 1}) {
		t.Errorf("unexpected canonical instance %s", record.Canonical())
	}
}

func TestMergeUnindexedPageStaysPrivate(t *testing.T) {
	d := testDeduper(t)

	report := d.Merge(map[int][]*Page{
		1: {NewPage(99, 1, 1, randomContent(2001, testPageSize))},
	})

	if report.PagesMerged != 0 {
		t.Errorf("unindexed page got merged: %+v", report)
	}
}

func TestMergeDuplicateInstancesRejected(t *testing.T) {
	d := testDeduper(t)
	content := randomContent(2002, testPageSize)

	// page 1 appears twice for vm 1 in one batch
	report := d.Merge(map[int][]*Page{
		1: {NewPage(1, 1, 1, content), NewPage(1, 1, 1, content)},
	})
	if report.DuplicateInstances != 1 {
		t.Errorf("expected 1 duplicate in batch, got %d", report.DuplicateInstances)
	}

	// and once more in a later batch
	report = d.Merge(map[int][]*Page{
		1: {NewPage(1, 1, 1, content)},
	})
	if report.DuplicateInstances != 1 {
		t.Errorf("expected 1 duplicate across batches, got %d", report.DuplicateInstances)
	}

	entry, _ := d.index.Lookup(1)
	record, ok := d.Record(entry.ID)
	if !ok {
		t.Fatalf("no merge record for entry #%d", entry.ID)
	}
	if record.RefCount() != 1 {
		t.Errorf("duplicates changed refcount: %d", record.RefCount())
	}
}

func TestMergeRefCountMatchesSharers(t *testing.T) {
	d := testDeduper(t)
	content := randomContent(2003, testPageSize)

	d.Merge(map[int][]*Page{
		1: {NewPage(1, 1, 1, content)},
		2: {NewPage(2, 2, 1, content)},
		3: {NewPage(3, 3, 1, content)},
	})

	entry, _ := d.index.Lookup(1)
	record, _ := d.Record(entry.ID)
	sharers := record.SharedBy()
	if record.RefCount() != len(sharers) {
		t.Errorf("refcount %d disagrees with %d sharers",
			record.RefCount(), len(sharers))
	}
	expected := []PageInstance{
		{VMID: 1, PageID: 1},
		{VMID: 2, PageID: 2},
		{VMID: 3, PageID: 3},
	}
	if diff := cmp.Diff(expected, sharers); diff != "" {
		t.Errorf("sharers (-expected +got):\n%s", diff)
	}
}

func TestWriteFaultUnshares(t *testing.T) {
	d := testDeduper(t)
	content := randomContent(2004, testPageSize)

	d.Merge(map[int][]*Page{
		1: {NewPage(1, 1, 1, content)},
		2: {NewPage(2, 2, 1, content)},
		3: {NewPage(3, 3, 1, content)},
	})

	private := d.WriteFault(2, 2)
	if !bytes.Equal(private, content) {
		t.Errorf("private copy does not match the canonical content")
	}

	entry, _ := d.index.Lookup(1)
	record, ok := d.Record(entry.ID)
	if !ok {
		t.Fatalf("record dropped while sharers remain")
	}
	if record.RefCount() != 2 {
		t.Errorf("expected refcount 2 after unshare, got %d", record.RefCount())
	}
	if got, ok := d.PrivateContent(2, 2); !ok || !bytes.Equal(got, content) {
		t.Errorf("faulted instance has no private copy")
	}

	// the private copy is independent of the canonical page
	private[0] ^= 0xff
	fresh, _ := d.Record(entry.ID)
	if !bytes.Equal(fresh.content, content) {
		t.Errorf("writing the private copy changed the canonical content")
	}
}

func TestWriteFaultLastSharerDropsRecord(t *testing.T) {
	d := testDeduper(t)
	content := randomContent(2005, testPageSize)

	d.Merge(map[int][]*Page{
		1: {NewPage(1, 1, 1, content)},
		2: {NewPage(2, 2, 1, content)},
	})
	entry, _ := d.index.Lookup(1)

	d.WriteFault(1, 1)
	d.WriteFault(2, 2)

	if _, ok := d.Record(entry.ID); ok {
		t.Errorf("record survived its last sharer")
	}
	if report := d.Report(); report.PagesMerged != 0 {
		t.Errorf("expected no merged pages left, got %d", report.PagesMerged)
	}
}

func TestWriteFaultIdempotent(t *testing.T) {
	d := testDeduper(t)
	content := randomContent(2006, testPageSize)

	d.Merge(map[int][]*Page{
		1: {NewPage(1, 1, 1, content)},
		2: {NewPage(2, 2, 1, content)},
	})

	first := d.WriteFault(2, 2)
	second := d.WriteFault(2, 2)
	if !bytes.Equal(first, second) {
		t.Errorf("repeated faults returned different content")
	}

	entry, _ := d.index.Lookup(1)
	record, _ := d.Record(entry.ID)
	if record.RefCount() != 1 {
		t.Errorf("repeated fault changed refcount: %d", record.RefCount())
	}
}

func TestWriteFaultNonSharer(t *testing.T) {
	d := testDeduper(t)

	if content := d.WriteFault(1, 99); content != nil {
		t.Errorf("fault on unindexed page returned content")
	}
	if content := d.WriteFault(1, 1); content != nil {
		t.Errorf("fault on never-merged page returned content")
	}
}

func TestFaultedInstanceStaysPrivateOnRemerge(t *testing.T) {
	d := testDeduper(t)
	content := randomContent(2007, testPageSize)

	d.Merge(map[int][]*Page{
		1: {NewPage(1, 1, 1, content)},
		2: {NewPage(2, 2, 1, content)},
	})
	d.WriteFault(2, 2)

	d.Merge(map[int][]*Page{
		2: {NewPage(2, 2, 1, content)},
	})

	entry, _ := d.index.Lookup(1)
	record, _ := d.Record(entry.ID)
	if record.RefCount() != 1 {
		t.Errorf("faulted instance re-merged: refcount %d", record.RefCount())
	}
}

func TestMergeConcurrentFaults(t *testing.T) {
	d := testDeduper(t)
	content := randomContent(2008, testPageSize)

	vmPages := make(map[int][]*Page)
	for vm := 1; vm <= 16; vm++ {
		vmPages[vm] = []*Page{NewPage(1, vm, 1, content)}
	}
	// all vms map page 1, sharing one canonical page
	index := NewSharedPageIndex()
	if err := index.AddShard(BuildShard(1, pairs(1, 2))); err != nil {
		t.Fatalf("AddShard: %v", err)
	}
	d = NewDeduper(index, testPageSize)
	d.Merge(vmPages)

	var wg sync.WaitGroup
	for vm := 1; vm <= 16; vm++ {
		wg.Add(1)
		go func(vm int) {
			defer wg.Done()
			if got := d.WriteFault(vm, 1); !bytes.Equal(got, content) {
				t.Errorf("vm %d: bad private copy", vm)
			}
		}(vm)
	}
	wg.Wait()

	entry, _ := d.index.Lookup(1)
	if _, ok := d.Record(entry.ID); ok {
		t.Errorf("record survived all sharers faulting")
	}
}
