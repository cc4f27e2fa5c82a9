package paging

import (
	"log"

	"github.com/sarchlab/vmkernel/instrumentation/hooking"
	"github.com/sarchlab/vmkernel/mem/vm"
	"github.com/sarchlab/vmkernel/mem/vm/frame"
	"github.com/sarchlab/vmkernel/mem/vm/swap"
)

// A Builder can build pagers together with their frame table and swap
// store.
type Builder struct {
	numFrames    int
	swapDevice   vm.BlockDevice
	numSwapSlots int
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numFrames: 64,
	}
}

// WithNumFrames sets the number of physical frames.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithSwapDevice sets the block device that backs the swap store.
func (b Builder) WithSwapDevice(device vm.BlockDevice) Builder {
	b.swapDevice = device
	return b
}

// WithNumSwapSlots limits the number of swap slots. By default the whole
// swap device is used.
func (b Builder) WithNumSwapSlots(n int) Builder {
	b.numSwapSlots = n
	return b
}

// Build creates a pager.
func (b Builder) Build(name string) *Pager {
	if b.swapDevice == nil {
		log.Panicf("pager %s requires a swap device", name)
	}

	p := &Pager{
		HookableBase: hooking.NewHookableBase(),
		name:         name,
		procs:        make(map[vm.PID]*Process),
	}

	p.swap = swap.MakeBuilder().
		WithDevice(b.swapDevice).
		WithNumSlots(b.numSwapSlots).
		Build(name + ".Swap")

	p.frames = frame.MakeBuilder().
		WithNumFrames(b.numFrames).
		WithEvictor(p).
		Build(name + ".Frames")

	return p
}
