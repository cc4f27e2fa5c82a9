package frame

import (
	"container/list"
	"log"
	"sync"

	"github.com/sarchlab/vmkernel/mem/storage"
	"github.com/sarchlab/vmkernel/mem/vm"
)

// Table tracks every physical frame. Frames that hold a page are kept in a
// FIFO queue from which eviction victims are taken.
//
// The table lock serializes victim selection, eviction and binding of the new
// occupant. The frame lock of a victim is held during its eviction so that
// user accesses through WithFrameLocked never see a half-evicted frame.
type Table struct {
	name string

	mu        sync.Mutex
	installed *sync.Cond
	frames    []*Frame
	free      []vm.FrameHandle
	queue     *list.List
	evictor   Evictor

	memory       *storage.Storage
	numEvictions uint64
}

// Name returns the name of the table.
func (t *Table) Name() string {
	return t.name
}

// NumFrames returns the size of the frame pool.
func (t *Table) NumFrames() int {
	return len(t.frames)
}

// NumFree returns the number of frames in the free pool.
func (t *Table) NumFree() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.free)
}

// NumResident returns the number of frames bound to a page.
func (t *Table) NumResident() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, f := range t.frames {
		if f.state == StateResident {
			n++
		}
	}

	return n
}

// NumEvictions returns how many frames have been evicted so far.
func (t *Table) NumEvictions() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.numEvictions
}

// Addr returns the physical base address of the frame.
func (t *Table) Addr(h vm.FrameHandle) uint64 {
	return uint64(h) << vm.Log2PageSize
}

// Acquire hands out a frame owned by owner. If the pool is empty a victim is
// evicted. The frame is returned in the Installing state and stays so until
// Bind or Release.
func (t *Table) Acquire(owner vm.PID, flags vm.AllocFlags) vm.FrameHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.takeFrame()

	f := t.frames[h]
	f.Lock()
	f.state = StateInstalling
	f.owner = owner
	f.page = nil
	f.elem = t.queue.PushBack(h)
	f.Unlock()

	if flags&vm.AllocZero != 0 {
		t.ZeroFrame(h)
	}

	return h
}

func (t *Table) takeFrame() vm.FrameHandle {
	for {
		if h, ok := t.popFree(); ok {
			return h
		}

		if t.queue.Len() == 0 {
			log.Panicf("kernel panic: frame table %s has no frame to hand out",
				t.name)
		}

		if h, ok := t.evictVictim(); ok {
			return h
		}

		// Every tracked frame is being installed. Wait for one to settle.
		t.installed.Wait()
	}
}

func (t *Table) popFree() (vm.FrameHandle, bool) {
	if len(t.free) == 0 {
		return 0, false
	}

	h := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	return h, true
}

// evictVictim walks the queue once from the head. Installing frames are sent
// to the tail; the first other frame is evicted.
func (t *Table) evictVictim() (vm.FrameHandle, bool) {
	for n := t.queue.Len(); n > 0; n-- {
		e := t.queue.Front()
		f := t.frames[e.Value.(vm.FrameHandle)]

		if f.state == StateInstalling {
			t.queue.MoveToBack(e)
			continue
		}

		t.evict(f)

		return f.handle, true
	}

	return 0, false
}

func (t *Table) evict(f *Frame) {
	f.Lock()
	defer f.Unlock()

	page := f.page
	next, slot := t.evictor.Evict(f.handle, f.owner, page)
	page.Detach(next, slot)

	t.queue.Remove(f.elem)
	f.elem = nil
	f.page = nil
	f.state = StateFree
	t.numEvictions++
}

// Bind links an Installing frame and a page entry. The install function runs
// first, under the locks; if it fails nothing is linked and Bind returns
// false. On success the page takes the given resident status.
func (t *Table) Bind(
	h vm.FrameHandle,
	page *vm.Page,
	status vm.Status,
	install func(pAddr uint64) bool,
) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.frames[h]
	f.Lock()
	defer f.Unlock()

	if f.state != StateInstalling {
		log.Panicf("kernel panic: binding frame %d in state %s", h, f.state)
	}

	if f.owner != page.PID {
		log.Panicf("kernel panic: frame %d owned by %d bound to a page of %d",
			h, f.owner, page.PID)
	}

	if !install(t.Addr(h)) {
		return false
	}

	page.Attach(h, status)
	f.page = page
	f.state = StateResident

	t.installed.Broadcast()

	return true
}

// Release returns the frame to the pool unconditionally and clears its
// content. A page still bound to it is moved to the removed status.
func (t *Table) Release(h vm.FrameHandle) {
	t.mu.Lock()
	defer t.mu.Unlock()

	f := t.frames[h]
	f.Lock()
	defer f.Unlock()

	t.releaseLocked(f)
}

// Detach runs fn on the frame of a resident page and then releases the frame.
// It returns false without calling fn if the page is not resident.
func (t *Table) Detach(page *vm.Page, fn func(h vm.FrameHandle)) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := page.Frame()
	if !ok {
		return false
	}

	f := t.frames[h]
	f.Lock()
	defer f.Unlock()

	if f.page != page {
		log.Panicf("kernel panic: page %#x thinks it owns frame %d",
			page.VAddr, h)
	}

	fn(h)
	t.releaseLocked(f)

	return true
}

func (t *Table) releaseLocked(f *Frame) {
	if f.state == StateFree {
		log.Panicf("kernel panic: releasing free frame %d", f.handle)
	}

	if f.page != nil {
		f.page.Detach(vm.StatusRemoved, vm.NoSwapSlot)
	}

	t.queue.Remove(f.elem)
	f.elem = nil
	f.page = nil
	f.state = StateFree
	f.owner = 0

	t.ZeroFrame(f.handle)
	t.free = append(t.free, f.handle)

	t.installed.Broadcast()
}

// Find returns the handle of the frame at the physical address if the frame
// is currently handed out.
func (t *Table) Find(pAddr uint64) (vm.FrameHandle, bool) {
	h := vm.FrameHandle(pAddr >> vm.Log2PageSize)
	if h < 0 || int(h) >= len(t.frames) {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frames[h].state == StateFree {
		return 0, false
	}

	return h, true
}

// WithFrameLocked runs fn with the frame lock held if the frame is still
// bound to page. It returns false without calling fn otherwise, for example
// when the frame has been evicted in between.
func (t *Table) WithFrameLocked(
	h vm.FrameHandle,
	page *vm.Page,
	fn func(pAddr uint64),
) bool {
	if h < 0 || int(h) >= len(t.frames) {
		return false
	}

	f := t.frames[h]
	f.Lock()
	defer f.Unlock()

	if f.state != StateResident || f.page != page {
		return false
	}

	fn(t.Addr(h))

	return true
}

// ReadFrame returns a copy of the frame content.
func (t *Table) ReadFrame(h vm.FrameHandle) []byte {
	data, err := t.memory.Read(t.Addr(h), vm.PageSize)
	if err != nil {
		log.Panicf("kernel panic: reading frame %d: %v", h, err)
	}

	return data
}

// WriteFrame stores data at the start of the frame.
func (t *Table) WriteFrame(h vm.FrameHandle, data []byte) {
	if len(data) > vm.PageSize {
		log.Panicf("kernel panic: %d bytes do not fit in a frame", len(data))
	}

	err := t.memory.Write(t.Addr(h), data)
	if err != nil {
		log.Panicf("kernel panic: writing frame %d: %v", h, err)
	}
}

// ZeroFrame fills the frame with zeros.
func (t *Table) ZeroFrame(h vm.FrameHandle) {
	err := t.memory.Zero(t.Addr(h), vm.PageSize)
	if err != nil {
		log.Panicf("kernel panic: zeroing frame %d: %v", h, err)
	}
}

// Memory returns the physical memory the frames live in.
func (t *Table) Memory() *storage.Storage {
	return t.memory
}

// Snapshot returns the state of every frame that is handed out, in FIFO
// order.
func (t *Table) Snapshot() []Info {
	t.mu.Lock()
	defer t.mu.Unlock()

	infos := make([]Info, 0, t.queue.Len())
	for e := t.queue.Front(); e != nil; e = e.Next() {
		f := t.frames[e.Value.(vm.FrameHandle)]
		info := Info{
			Handle: f.handle,
			PAddr:  t.Addr(f.handle),
			State:  f.state.String(),
			Owner:  f.owner,
		}

		if f.page != nil {
			info.VAddr = f.page.VAddr
			info.Status = f.page.Status().String()
		}

		infos = append(infos, info)
	}

	return infos
}
