package frame

import (
	"container/list"
	"log"
	"sync"

	"github.com/sarchlab/vmkernel/mem/storage"
	"github.com/sarchlab/vmkernel/mem/vm"
)

// A Builder can build frame tables.
type Builder struct {
	numFrames int
	evictor   Evictor
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numFrames: 64,
	}
}

// WithNumFrames sets the size of the frame pool.
func (b Builder) WithNumFrames(n int) Builder {
	b.numFrames = n
	return b
}

// WithEvictor sets the component that moves victim pages out of memory.
func (b Builder) WithEvictor(e Evictor) Builder {
	b.evictor = e
	return b
}

// Build creates a frame table with every frame in the free pool.
func (b Builder) Build(name string) *Table {
	if b.numFrames <= 0 {
		log.Panicf("frame table %s needs at least one frame", name)
	}

	t := &Table{
		name:    name,
		frames:  make([]*Frame, b.numFrames),
		free:    make([]vm.FrameHandle, 0, b.numFrames),
		queue:   list.New(),
		evictor: b.evictor,
		memory:  storage.NewStorage(uint64(b.numFrames) * vm.PageSize),
	}
	t.installed = sync.NewCond(&t.mu)

	for i := range t.frames {
		t.frames[i] = &Frame{handle: vm.FrameHandle(i)}
	}

	// Lower handles are handed out first.
	for i := b.numFrames - 1; i >= 0; i-- {
		t.free = append(t.free, vm.FrameHandle(i))
	}

	return t
}
