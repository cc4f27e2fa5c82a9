package vm

import (
	"log"
	"sync"
)

// PID stands for Process ID.
type PID uint32

// FrameHandle is the stable index of a physical frame in the frame table.
type FrameHandle int

// NoSwapSlot marks the absence of a swap slot.
const NoSwapSlot = -1

// MapID identifies all the pages created by one memory-map call.
type MapID int

// SourceKind tells where the durable copy of a page lives.
type SourceKind int

// The kinds of backing sources a page can have.
const (
	SourceAnonymous SourceKind = iota
	SourceExecutable
	SourceMapped
)

func (k SourceKind) String() string {
	switch k {
	case SourceAnonymous:
		return "anonymous"
	case SourceExecutable:
		return "executable"
	case SourceMapped:
		return "mapped"
	default:
		return "unknown"
	}
}

// A Source describes how to fetch the content of a page. The File, Offset
// and ReadBytes fields are used by executable and mapped pages. The bytes
// after ReadBytes are zero filled. MapID is only meaningful for mapped
// pages.
type Source struct {
	Kind      SourceKind
	File      File
	Offset    int64
	ReadBytes int
	MapID     MapID
}

// AnonymousSource returns the source of a page that has no file backing.
func AnonymousSource() Source {
	return Source{Kind: SourceAnonymous}
}

// A Page is an entry in the supplemental page table. It records what the
// kernel knows about one virtual page of one process, whether or not the
// page currently occupies a frame.
//
// The residency fields (status, frame and swap slot) are guarded by the
// page's own lock. They change together through Attach and Detach so that a
// resident status always comes with a frame and a non-resident status never
// does.
type Page struct {
	PID      PID
	VAddr    uint64
	Writable bool
	Source   Source

	mu       sync.Mutex
	status   Status
	frame    FrameHandle
	swapSlot int
}

// NewPage creates a page entry in a non-resident status.
func NewPage(
	pid PID,
	vAddr uint64,
	writable bool,
	status Status,
	source Source,
) *Page {
	if status.IsResident() {
		log.Panicf("page %#x cannot be created in resident status %s",
			vAddr, status)
	}

	return &Page{
		PID:      pid,
		VAddr:    PageRoundDown(vAddr),
		Writable: writable,
		Source:   source,
		status:   status,
		frame:    -1,
		swapSlot: NoSwapSlot,
	}
}

// Status returns the current status of the page.
func (p *Page) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status
}

// Frame returns the frame the page occupies. The bool return value is false
// if the page is not resident.
func (p *Page) Frame() (FrameHandle, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.status.IsResident() {
		return 0, false
	}

	return p.frame, true
}

// SwapSlot returns the swap slot that holds the page content. The bool
// return value is false if the page is not on swap.
func (p *Page) SwapSlot() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.swapSlot == NoSwapSlot {
		return 0, false
	}

	return p.swapSlot, true
}

// Attach binds the page to a frame. Only the frame table calls it, while
// holding the lock of the frame.
func (p *Page) Attach(h FrameHandle, status Status) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !status.IsResident() {
		log.Panicf("page %#x attached with non-resident status %s",
			p.VAddr, status)
	}

	if p.status.IsResident() {
		log.Panicf("page %#x is already resident in frame %d",
			p.VAddr, p.frame)
	}

	p.status = status
	p.frame = h
	p.swapSlot = NoSwapSlot
}

// Detach unbinds the page from its frame. The slot is the swap slot that now
// holds the content, or NoSwapSlot.
func (p *Page) Detach(status Status, slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if status.IsResident() {
		log.Panicf("page %#x detached into resident status %s",
			p.VAddr, status)
	}

	p.status = status
	p.frame = -1
	p.swapSlot = slot
}

// MarkRemoved moves a non-resident page into the terminal status. The swap
// slot, if any, is returned so that the caller can reclaim it.
func (p *Page) MarkRemoved() (slot int, hadSlot bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status.IsResident() {
		log.Panicf("resident page %#x cannot be removed without its frame",
			p.VAddr)
	}

	slot, hadSlot = p.swapSlot, p.swapSlot != NoSwapSlot
	p.status = StatusRemoved
	p.swapSlot = NoSwapSlot

	return slot, hadSlot
}
