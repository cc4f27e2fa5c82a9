package paging

import (
	"errors"
	"fmt"

	"github.com/sarchlab/vmkernel/mem/vm"
)

// HandleFault resolves a page fault at addr. A known page is faulted in; an
// unknown page just below the stack pointer grows the stack. Any other fault
// is returned as an error and the process is terminated.
func (p *Process) HandleFault(addr uint64, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.handleFault(addr, write)
	if err != nil && !errors.Is(err, vm.ErrProcessExited) {
		return p.kill(err)
	}

	return err
}

func (p *Process) handleFault(addr uint64, write bool) error {
	if p.exited {
		return vm.ErrProcessExited
	}

	if !vm.IsUserAddr(addr) {
		return fmt.Errorf("%w: %#x", vm.ErrInvalidAccess, addr)
	}

	page, found := p.spt.Lookup(addr)
	if !found {
		return p.grow(addr)
	}

	if write && !page.Writable {
		return fmt.Errorf("%w: %#x", vm.ErrWriteToReadOnly, addr)
	}

	// A resident page whose frame is locked by an eviction is already
	// unmapped. Holding the frame lock waits the eviction out.
	if h, resident := page.Frame(); resident {
		if p.pager.frames.WithFrameLocked(h, page, func(uint64) {}) {
			return nil
		}
	}

	return p.pager.FaultIn(p, page)
}

// Grow extends the stack to cover addr if the access is a plausible stack
// access: at most StackSlack bytes below the stack pointer, below PhysBase
// and within MaxStackSize of it.
func (p *Process) Grow(addr uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return vm.ErrProcessExited
	}

	return p.grow(addr)
}

func (p *Process) grow(addr uint64) error {
	vPage := vm.PageRoundDown(addr)

	if _, found := p.spt.Lookup(addr); found ||
		addr+vm.StackSlack < p.esp ||
		addr >= vm.PhysBase ||
		vm.PhysBase-vPage > vm.MaxStackSize {
		return fmt.Errorf("%w: %#x with stack pointer %#x",
			vm.ErrStackGrowthDenied, addr, p.esp)
	}

	err := p.installStackPage(vPage)
	if err != nil {
		return err
	}

	p.pager.stats.stackGrowths.Add(1)

	evt := newEvent(p.pid, vPage)
	evt.To = vm.StatusResident
	p.pager.invoke(HookPosStackGrowth, evt)

	return nil
}

func (p *Process) installStackPage(vPage uint64) error {
	h := p.pager.acquire(p.pid, vPage)

	_, err := p.spt.Install(vPage, h, true,
		vm.StatusResident, vm.AnonymousSource())
	if err != nil {
		p.pager.frames.Release(h)
		return err
	}

	return nil
}

// Read copies len(buf) bytes of user memory at addr into buf, faulting pages
// in as needed. A fault the process cannot survive terminates it.
func (p *Process) Read(addr uint64, buf []byte) error {
	return p.access(addr, buf, false)
}

// Write copies buf into user memory at addr, faulting pages in as needed. A
// fault the process cannot survive terminates it.
func (p *Process) Write(addr uint64, buf []byte) error {
	return p.access(addr, buf, true)
}

func (p *Process) access(addr uint64, buf []byte, write bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return vm.ErrProcessExited
	}

	for len(buf) > 0 {
		n := min(len(buf), int(vm.PageSize-vm.PageOffset(addr)))

		err := p.accessPage(addr, buf[:n], write)
		if err != nil {
			return p.kill(err)
		}

		addr += uint64(n)
		buf = buf[n:]
	}

	return nil
}

// accessPage moves bytes that lie within one page. Between the fault and the
// copy the page can be evicted by another process, in which case it faults
// again.
func (p *Process) accessPage(addr uint64, chunk []byte, write bool) error {
	for {
		done, err := p.tryAccess(addr, chunk, write)
		if err != nil || done {
			return err
		}

		err = p.handleFault(addr, write)
		if err != nil {
			return err
		}
	}
}

func (p *Process) tryAccess(
	addr uint64,
	chunk []byte,
	write bool,
) (bool, error) {
	_, writable, mapped := p.dir.Translate(addr)
	if !mapped {
		return false, nil
	}

	if write && !writable {
		return false, fmt.Errorf("%w: %#x", vm.ErrWriteToReadOnly, addr)
	}

	page, found := p.spt.Lookup(addr)
	if !found {
		return false, nil
	}

	h, resident := page.Frame()
	if !resident {
		return false, nil
	}

	memory := p.pager.frames.Memory()
	var err error

	done := p.pager.frames.WithFrameLocked(h, page, func(pAddr uint64) {
		pAddr += vm.PageOffset(addr)
		if write {
			err = memory.Write(pAddr, chunk)
		} else {
			err = memory.ReadInto(pAddr, chunk)
		}

		p.dir.Touch(addr, write)
	})

	return done, err
}
