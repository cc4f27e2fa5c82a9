package paging

import (
	"fmt"
	"log"
	"sort"

	"github.com/sarchlab/vmkernel/mem/vm"
)

type mapping struct {
	id       vm.MapID
	file     vm.File
	addr     uint64
	numPages int
}

// Map maps the file open as fd at addr. Every page of the file gets a page
// entry, but nothing is read until the pages are touched. The mapping keeps
// its own handle to the file, so closing fd does not affect it.
func (p *Process) Map(fd int, addr uint64) (vm.MapID, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return -1, vm.ErrProcessExited
	}

	file, found := p.fds[fd]
	if !found {
		return -1, fmt.Errorf("%w: bad descriptor %d", vm.ErrInvalidMapping, fd)
	}

	if addr == 0 || !vm.IsPageAligned(addr) {
		return -1, fmt.Errorf("%w: address %#x", vm.ErrInvalidMapping, addr)
	}

	length := file.Length()
	if length == 0 {
		return -1, fmt.Errorf("%w: empty file", vm.ErrInvalidMapping)
	}

	numPages := int((length + vm.PageSize - 1) / vm.PageSize)
	for i := 0; i < numPages; i++ {
		vAddr := addr + uint64(i)*vm.PageSize
		if !vm.IsUserAddr(vAddr) {
			return -1, fmt.Errorf("%w: %#x is not a user address",
				vm.ErrInvalidMapping, vAddr)
		}

		if _, found := p.spt.Lookup(vAddr); found {
			return -1, fmt.Errorf("%w: %#x overlaps an existing page",
				vm.ErrInvalidMapping, vAddr)
		}
	}

	reopened, err := file.Reopen()
	if err != nil {
		return -1, fmt.Errorf("%w: %v", vm.ErrInvalidMapping, err)
	}

	id := p.nextMapID
	p.nextMapID++

	for i := 0; i < numPages; i++ {
		offset := int64(i) * vm.PageSize

		page := vm.NewPage(p.pid, addr+uint64(offset), true,
			vm.StatusMappedNotLoaded,
			vm.Source{
				Kind:      vm.SourceMapped,
				File:      reopened,
				Offset:    offset,
				ReadBytes: int(min(length-offset, vm.PageSize)),
				MapID:     id,
			})

		err = p.spt.Add(page)
		if err != nil {
			log.Panicf("kernel panic: mapping %d: %v", id, err)
		}
	}

	p.mappings[id] = &mapping{
		id:       id,
		file:     reopened,
		addr:     addr,
		numPages: numPages,
	}

	evt := newEvent(p.pid, addr)
	evt.MapID = id
	evt.Pages = numPages
	p.pager.invoke(HookPosMap, evt)

	return id, nil
}

// Unmap removes a mapping. Dirty pages are written back to the file first.
// Unknown or already removed mappings are ignored.
func (p *Process) Unmap(id vm.MapID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.unmapLocked(id)
}

func (p *Process) unmapLocked(id vm.MapID) {
	m, found := p.mappings[id]
	if !found {
		return
	}

	for _, page := range p.spt.EntriesForMap(id) {
		p.spt.Remove(page.VAddr)
	}

	m.file.Close()
	delete(p.mappings, id)

	evt := newEvent(p.pid, m.addr)
	evt.MapID = id
	evt.Pages = m.numPages
	p.pager.invoke(HookPosUnmap, evt)
}

// Mappings returns the IDs of the live mappings in creation order.
func (p *Process) Mappings() []vm.MapID {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.mappingIDs()
}

func (p *Process) mappingIDs() []vm.MapID {
	ids := make([]vm.MapID, 0, len(p.mappings))
	for id := range p.mappings {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}
