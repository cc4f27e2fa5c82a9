// Package pagedir provides a software page directory that stands in for the
// hardware page table of one address space.
package pagedir

import (
	"sync"

	"github.com/sarchlab/vmkernel/mem/vm"
)

type pte struct {
	pAddr    uint64
	writable bool
	dirty    bool
	accessed bool
}

// Directory maps user virtual pages to physical pages. It is safe for
// concurrent use.
type Directory struct {
	mu      sync.Mutex
	entries map[uint64]*pte
}

var _ vm.PageDirectory = (*Directory)(nil)

// New creates an empty page directory.
func New() *Directory {
	return &Directory{entries: make(map[uint64]*pte)}
}

// Install maps the virtual page to the physical page. It fails if the
// virtual page is not a user page, if either address is not page aligned, or
// if the virtual page is already mapped.
func (d *Directory) Install(vAddr, pAddr uint64, writable bool) bool {
	if !vm.IsUserAddr(vAddr) ||
		!vm.IsPageAligned(vAddr) ||
		!vm.IsPageAligned(pAddr) {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, found := d.entries[vAddr]; found {
		return false
	}

	d.entries[vAddr] = &pte{pAddr: pAddr, writable: writable}

	return true
}

// Clear removes the mapping of the page that contains vAddr.
func (d *Directory) Clear(vAddr uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.entries, vm.PageRoundDown(vAddr))
}

// IsDirty reports if the page that contains vAddr has been written.
func (d *Directory) IsDirty(vAddr uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, found := d.entries[vm.PageRoundDown(vAddr)]

	return found && e.dirty
}

// SetDirty sets the dirty bit of the page that contains vAddr.
func (d *Directory) SetDirty(vAddr uint64, dirty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e, found := d.entries[vm.PageRoundDown(vAddr)]; found {
		e.dirty = dirty
	}
}

// IsAccessed reports if the page that contains vAddr has been accessed.
func (d *Directory) IsAccessed(vAddr uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, found := d.entries[vm.PageRoundDown(vAddr)]

	return found && e.accessed
}

// Touch records an access to vAddr the way the MMU does: the accessed bit is
// always set and the dirty bit is set on writes.
func (d *Directory) Touch(vAddr uint64, write bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, found := d.entries[vm.PageRoundDown(vAddr)]
	if !found {
		return
	}

	e.accessed = true
	if write {
		e.dirty = true
	}
}

// Translate returns the physical address that vAddr maps to.
func (d *Directory) Translate(vAddr uint64) (pAddr uint64, writable, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, found := d.entries[vm.PageRoundDown(vAddr)]
	if !found {
		return 0, false, false
	}

	return e.pAddr + vm.PageOffset(vAddr), e.writable, true
}

// Len returns the number of installed mappings.
func (d *Directory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.entries)
}
