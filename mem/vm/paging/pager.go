// Package paging brings pages in and out of memory. It owns the eviction
// policy, the fault path, stack growth, memory-mapped files and the address
// spaces of processes.
package paging

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"sync"

	"github.com/sarchlab/vmkernel/instrumentation/hooking"
	"github.com/sarchlab/vmkernel/mem/vm"
	"github.com/sarchlab/vmkernel/mem/vm/frame"
	"github.com/sarchlab/vmkernel/mem/vm/spt"
	"github.com/sarchlab/vmkernel/mem/vm/swap"
)

// Pager moves pages between frames, the swap store and their files.
//
// Hooks are invoked from the goroutine doing the work, sometimes while the
// frame table lock is held. They must not call back into the pager or the
// frame table.
type Pager struct {
	*hooking.HookableBase

	name   string
	frames *frame.Table
	swap   *swap.Store
	stats  counters

	procMu sync.RWMutex
	procs  map[vm.PID]*Process
}

var _ frame.Evictor = (*Pager)(nil)

// Name returns the name of the pager.
func (p *Pager) Name() string {
	return p.name
}

// Frames returns the frame table the pager allocates from.
func (p *Pager) Frames() *frame.Table {
	return p.frames
}

// Swap returns the swap store the pager evicts anonymous pages to.
func (p *Pager) Swap() *swap.Store {
	return p.swap
}

// Stats returns the activity counters.
func (p *Pager) Stats() Stats {
	return p.stats.snapshot()
}

// Process returns a live process.
func (p *Pager) Process(pid vm.PID) (*Process, bool) {
	p.procMu.RLock()
	defer p.procMu.RUnlock()

	proc, found := p.procs[pid]

	return proc, found
}

// Processes returns every live process, ordered by PID.
func (p *Pager) Processes() []*Process {
	p.procMu.RLock()
	procs := make([]*Process, 0, len(p.procs))
	for _, proc := range p.procs {
		procs = append(procs, proc)
	}
	p.procMu.RUnlock()

	sort.Slice(procs, func(i, j int) bool {
		return procs[i].pid < procs[j].pid
	})

	return procs
}

func (p *Pager) unregister(pid vm.PID) {
	p.procMu.Lock()
	defer p.procMu.Unlock()

	delete(p.procs, pid)
}

func (p *Pager) invoke(pos *hooking.HookPos, evt Event) {
	if p.NumHooks() == 0 {
		return
	}

	p.InvokeHook(hooking.HookCtx{
		Domain: p,
		Pos:    pos,
		Item:   evt,
	})
}

// Evict moves the content of a victim frame to where its page keeps it while
// not resident. Anonymous pages and dirty executable pages go to swap, dirty
// mapped pages are written back to their file and clean file-backed pages
// are dropped. The hardware mapping of the owner is cleared last.
func (p *Pager) Evict(
	h vm.FrameHandle,
	owner vm.PID,
	page *vm.Page,
) (vm.Status, int) {
	proc, found := p.Process(owner)
	if !found {
		log.Panicf("kernel panic: evicting frame %d of unknown process %d",
			h, owner)
	}

	from := page.Status()
	dirty := proc.dir.IsDirty(page.VAddr)
	next, slot := vm.StatusInvalid, vm.NoSwapSlot

	switch from {
	case vm.StatusResident:
		next, slot = vm.StatusSwapped, p.swapOut(h)
	case vm.StatusExecResident:
		next = vm.StatusExecNotLoaded
		if dirty {
			next, slot = vm.StatusExecSwapped, p.swapOut(h)
		}
	case vm.StatusMappedResident:
		next = vm.StatusMappedNotLoaded
		if dirty {
			spt.WriteBack(page, p.frames.ReadFrame(h))
			p.stats.writeBacks.Add(1)
		}
	default:
		log.Panicf("kernel panic: evicting page %#x in status %s",
			page.VAddr, from)
	}

	proc.dir.Clear(page.VAddr)
	p.stats.evictions.Add(1)

	evt := newEvent(owner, page.VAddr)
	evt.Frame = h
	evt.From = from
	evt.To = next
	evt.SwapSlot = slot
	evt.Dirty = dirty
	p.invoke(HookPosEvict, evt)

	return next, slot
}

func (p *Pager) swapOut(h vm.FrameHandle) int {
	p.stats.swapOuts.Add(1)
	return p.swap.SwapOut(p.frames.ReadFrame(h))
}

func (p *Pager) acquire(pid vm.PID, vAddr uint64) vm.FrameHandle {
	h := p.frames.Acquire(pid, vm.AllocZero)

	evt := newEvent(pid, vAddr)
	evt.Frame = h
	p.invoke(HookPosFrameAcquire, evt)

	return h
}

// FaultIn brings a non-resident page of the process back into a frame. The
// caller must hold the process lock.
func (p *Pager) FaultIn(proc *Process, page *vm.Page) error {
	from := page.Status()
	loaded, ok := from.Loaded()
	if !ok {
		return fmt.Errorf("%w: page %#x is %s",
			vm.ErrInvalidAccess, page.VAddr, from)
	}

	p.stats.faults.Add(1)

	h := p.acquire(proc.pid, page.VAddr)
	buf := make([]byte, vm.PageSize)

	slot := vm.NoSwapSlot
	if from.IsOnSwap() {
		slot, _ = page.SwapSlot()
		p.swap.SwapIn(slot, buf)
		p.stats.swapIns.Add(1)
	} else {
		err := readSource(page, buf)
		if err != nil {
			p.frames.Release(h)
			return err
		}
	}

	p.frames.WriteFrame(h, buf)

	// A page coming back from swap differs from its executable, so the next
	// eviction must go to swap again.
	err := proc.spt.Bind(page, h, loaded, from == vm.StatusExecSwapped)
	if err != nil {
		p.frames.Release(h)

		if from.IsOnSwap() {
			// The slot was freed by the swap-in. Keep the content reachable.
			page.Detach(from, p.swap.SwapOut(buf))
		}

		return err
	}

	evt := newEvent(proc.pid, page.VAddr)
	evt.Frame = h
	evt.From = from
	evt.To = loaded
	evt.SwapSlot = slot
	p.invoke(HookPosFaultIn, evt)

	return nil
}

func readSource(page *vm.Page, buf []byte) error {
	src := page.Source
	if src.ReadBytes == 0 {
		return nil
	}

	n, err := src.File.ReadAt(buf[:src.ReadBytes], src.Offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: page %#x: %v", vm.ErrShortRead, page.VAddr, err)
	}

	short := n != src.ReadBytes
	if src.Kind == vm.SourceMapped {
		short = n == 0
	}

	if short {
		return fmt.Errorf("%w: page %#x read %d of %d bytes",
			vm.ErrShortRead, page.VAddr, n, src.ReadBytes)
	}

	return nil
}
