package swap

import (
	"log"

	"github.com/sarchlab/vmkernel/mem/vm"
)

// A Builder can build swap stores.
type Builder struct {
	device   vm.BlockDevice
	numSlots int
}

// MakeBuilder creates a new builder.
func MakeBuilder() Builder {
	return Builder{}
}

// WithDevice sets the block device that holds the swap slots.
func (b Builder) WithDevice(device vm.BlockDevice) Builder {
	b.device = device
	return b
}

// WithNumSlots limits the number of slots. By default the whole device is
// used.
func (b Builder) WithNumSlots(n int) Builder {
	b.numSlots = n
	return b
}

// Build creates a swap store with all slots free.
func (b Builder) Build(name string) *Store {
	if b.device == nil {
		log.Panic("swap store requires a block device")
	}

	sectorSize := b.device.SectorSize()
	if sectorSize <= 0 || vm.PageSize%sectorSize != 0 {
		log.Panicf("sector size %d does not divide the page size",
			sectorSize)
	}

	sectorsPerPage := uint64(vm.PageSize / sectorSize)
	deviceSlots := int(b.device.NumSectors() / sectorsPerPage)

	numSlots := deviceSlots
	if b.numSlots > 0 {
		if b.numSlots > deviceSlots {
			log.Panicf("device holds %d slots, %d requested",
				deviceSlots, b.numSlots)
		}

		numSlots = b.numSlots
	}

	return &Store{
		name:           name,
		device:         b.device,
		sectorsPerPage: sectorsPerPage,
		slots:          newBitmap(numSlots),
	}
}
