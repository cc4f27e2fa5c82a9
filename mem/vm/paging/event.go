package paging

import (
	"fmt"

	"github.com/sarchlab/vmkernel/instrumentation/hooking"
	"github.com/sarchlab/vmkernel/mem/vm"
)

// Hook positions raised by the pager. Every hook carries an Event as its
// item.
var (
	// HookPosFrameAcquire marks a frame being handed to a process.
	HookPosFrameAcquire = &hooking.HookPos{Name: "FrameAcquire"}

	// HookPosEvict marks a page losing its frame.
	HookPosEvict = &hooking.HookPos{Name: "Evict"}

	// HookPosFaultIn marks a page being brought back into memory.
	HookPosFaultIn = &hooking.HookPos{Name: "FaultIn"}

	// HookPosStackGrowth marks a new stack page.
	HookPosStackGrowth = &hooking.HookPos{Name: "StackGrowth"}

	// HookPosMap marks a file being mapped.
	HookPosMap = &hooking.HookPos{Name: "Map"}

	// HookPosUnmap marks a mapping being removed.
	HookPosUnmap = &hooking.HookPos{Name: "Unmap"}

	// HookPosProcessExit marks the end of an address space.
	HookPosProcessExit = &hooking.HookPos{Name: "ProcessExit"}
)

// An Event describes one paging activity. Fields that do not apply to the
// activity are left at their zero value, except Frame and SwapSlot which are
// -1 when absent.
type Event struct {
	PID      vm.PID
	VAddr    uint64
	Frame    vm.FrameHandle
	From     vm.Status
	To       vm.Status
	SwapSlot int
	Dirty    bool
	MapID    vm.MapID
	Pages    int
	ExitCode int
}

func newEvent(pid vm.PID, vAddr uint64) Event {
	return Event{
		PID:      pid,
		VAddr:    vAddr,
		Frame:    -1,
		SwapSlot: vm.NoSwapSlot,
	}
}

func (e Event) String() string {
	return fmt.Sprintf(
		"pid=%d vaddr=%#x frame=%d %s->%s slot=%d dirty=%t map=%d pages=%d",
		e.PID, e.VAddr, e.Frame, e.From, e.To, e.SwapSlot, e.Dirty,
		e.MapID, e.Pages)
}
