// Package frame provides the frame table, which hands out physical frames to
// processes and picks eviction victims when none are free.
package frame

import (
	"container/list"
	"sync"

	"github.com/sarchlab/vmkernel/mem/vm"
)

// State is the lifecycle stage of a physical frame.
type State int

// A frame is Free in the pool, Installing between Acquire and Bind, and
// Resident once a page entry is bound to it. Installing frames are never
// chosen as eviction victims.
const (
	StateFree State = iota
	StateInstalling
	StateResident
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "Free"
	case StateInstalling:
		return "Installing"
	case StateResident:
		return "Resident"
	default:
		return "Unknown"
	}
}

// A Frame is one physical page. Its fields are written only while holding
// both the table lock and the frame lock, so holding either is enough to read
// them.
type Frame struct {
	sync.Mutex

	handle vm.FrameHandle
	state  State
	owner  vm.PID
	page   *vm.Page
	elem   *list.Element
}

// An Evictor moves the content of a resident frame out so that the frame can
// be reused. It returns the status the page takes once it has lost the frame
// and the swap slot now holding its content, or vm.NoSwapSlot.
//
// Evict is called with the frame table lock and the frame lock held. It must
// not call back into the frame table except for ReadFrame and Addr.
type Evictor interface {
	Evict(h vm.FrameHandle, owner vm.PID, page *vm.Page) (vm.Status, int)
}

// Info is a point-in-time view of one frame.
type Info struct {
	Handle vm.FrameHandle `json:"handle"`
	PAddr  uint64         `json:"paddr"`
	State  string         `json:"state"`
	Owner  vm.PID         `json:"owner"`
	VAddr  uint64         `json:"vaddr"`
	Status string         `json:"status"`
}
