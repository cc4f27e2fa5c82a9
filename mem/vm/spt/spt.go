// Package spt provides the supplemental page table, the per-process record of
// every virtual page the kernel knows about.
package spt

import (
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/sarchlab/vmkernel/mem/vm"
	"github.com/sarchlab/vmkernel/mem/vm/frame"
	"github.com/sarchlab/vmkernel/mem/vm/swap"
)

// Table holds the page entries of one process, keyed by page-aligned virtual
// address.
//
// The table lock only guards the map. It is never held while calling into
// the frame table, so it does not take part in the kernel lock order.
type Table struct {
	pid    vm.PID
	dir    vm.PageDirectory
	frames *frame.Table
	swap   *swap.Store

	// OnWriteBack, if set, is called after a dirty mapped page is written
	// back to its file.
	OnWriteBack func(page *vm.Page)

	mu      sync.RWMutex
	entries map[uint64]*vm.Page
}

// New creates an empty table for the process.
func New(
	pid vm.PID,
	dir vm.PageDirectory,
	frames *frame.Table,
	swapStore *swap.Store,
) *Table {
	return &Table{
		pid:     pid,
		dir:     dir,
		frames:  frames,
		swap:    swapStore,
		entries: make(map[uint64]*vm.Page),
	}
}

// PID returns the process the table belongs to.
func (t *Table) PID() vm.PID {
	return t.pid
}

// Len returns the number of entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.entries)
}

// Lookup finds the entry covering the virtual address.
func (t *Table) Lookup(vAddr uint64) (*vm.Page, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	page, found := t.entries[vm.PageRoundDown(vAddr)]

	return page, found
}

// Add inserts a non-resident entry.
func (t *Table) Add(page *vm.Page) error {
	if page.PID != t.pid {
		log.Panicf("page of process %d added to the table of process %d",
			page.PID, t.pid)
	}

	if page.Status().IsResident() {
		log.Panicf("page %#x added in resident status", page.VAddr)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, found := t.entries[page.VAddr]; found {
		return fmt.Errorf("%w: %#x", vm.ErrPageExists, page.VAddr)
	}

	t.entries[page.VAddr] = page

	return nil
}

// Install makes the page at vAddr resident in frame h with the given status.
// An existing non-resident entry is reused; otherwise a new entry is created
// with the given writability and source. A newly created entry is dropped
// again if the hardware mapping cannot be installed.
func (t *Table) Install(
	vAddr uint64,
	h vm.FrameHandle,
	writable bool,
	status vm.Status,
	source vm.Source,
) (*vm.Page, error) {
	vAddr = vm.PageRoundDown(vAddr)

	t.mu.Lock()
	page, found := t.entries[vAddr]
	if !found {
		page = vm.NewPage(t.pid, vAddr, writable, vm.StatusInvalid, source)
		t.entries[vAddr] = page
	}
	t.mu.Unlock()

	err := t.Bind(page, h, status, false)
	if err != nil && !found {
		t.mu.Lock()
		delete(t.entries, vAddr)
		t.mu.Unlock()
	}

	return page, err
}

// Bind makes an existing entry resident in frame h and installs the hardware
// mapping. If dirty is set, the mapping starts out dirty.
func (t *Table) Bind(
	page *vm.Page,
	h vm.FrameHandle,
	status vm.Status,
	dirty bool,
) error {
	ok := t.frames.Bind(h, page, status, func(pAddr uint64) bool {
		if !t.dir.Install(page.VAddr, pAddr, page.Writable) {
			return false
		}

		if dirty {
			t.dir.SetDirty(page.VAddr, true)
		}

		return true
	})
	if !ok {
		return fmt.Errorf("%w: %#x", vm.ErrInstallFailed, page.VAddr)
	}

	return nil
}

// Remove discards the entry covering vAddr. A dirty mapped page is written
// back first. The frame and swap slot of the entry are reclaimed. It returns
// false if there is no such entry.
func (t *Table) Remove(vAddr uint64) bool {
	vAddr = vm.PageRoundDown(vAddr)

	t.mu.Lock()
	page, found := t.entries[vAddr]
	delete(t.entries, vAddr)
	t.mu.Unlock()

	if !found {
		return false
	}

	t.discard(page)

	return true
}

// Teardown discards every entry.
func (t *Table) Teardown() {
	t.mu.Lock()
	pages := make([]*vm.Page, 0, len(t.entries))
	for _, page := range t.entries {
		pages = append(pages, page)
	}
	t.entries = make(map[uint64]*vm.Page)
	t.mu.Unlock()

	for _, page := range pages {
		t.discard(page)
	}
}

func (t *Table) discard(page *vm.Page) {
	detached := t.frames.Detach(page, func(h vm.FrameHandle) {
		if page.Source.Kind == vm.SourceMapped && t.dir.IsDirty(page.VAddr) {
			WriteBack(page, t.frames.ReadFrame(h))
			if t.OnWriteBack != nil {
				t.OnWriteBack(page)
			}
		}

		t.dir.Clear(page.VAddr)
	})
	if detached {
		return
	}

	slot, hadSlot := page.MarkRemoved()
	if hadSlot {
		t.swap.Free(slot)
	}
}

// WriteBack stores the first ReadBytes bytes of data at the source offset of
// the page. Losing data of a mapped file is fatal to the kernel.
func WriteBack(page *vm.Page, data []byte) {
	src := page.Source
	if src.File == nil {
		log.Panicf("kernel panic: page %#x has no file to write back to",
			page.VAddr)
	}

	n, err := src.File.WriteAt(data[:src.ReadBytes], src.Offset)
	if err != nil || n != src.ReadBytes {
		log.Panicf("kernel panic: write back of page %#x wrote %d of %d bytes: %v",
			page.VAddr, n, src.ReadBytes, err)
	}
}

// Range calls fn on every entry in ascending address order until fn returns
// false.
func (t *Table) Range(fn func(page *vm.Page) bool) {
	for _, page := range t.sorted(func(*vm.Page) bool { return true }) {
		if !fn(page) {
			return
		}
	}
}

// EntriesForMap returns the entries created by the memory mapping, in
// ascending address order.
func (t *Table) EntriesForMap(id vm.MapID) []*vm.Page {
	return t.sorted(func(page *vm.Page) bool {
		return page.Source.Kind == vm.SourceMapped && page.Source.MapID == id
	})
}

func (t *Table) sorted(keep func(*vm.Page) bool) []*vm.Page {
	t.mu.RLock()
	pages := make([]*vm.Page, 0, len(t.entries))
	for _, page := range t.entries {
		if keep(page) {
			pages = append(pages, page)
		}
	}
	t.mu.RUnlock()

	sort.Slice(pages, func(i, j int) bool {
		return pages[i].VAddr < pages[j].VAddr
	})

	return pages
}
