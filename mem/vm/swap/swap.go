// Package swap provides the swap store, a bitmap-indexed region of a block
// device where evicted pages are kept.
package swap

import (
	"log"
	"sync"

	"github.com/sarchlab/vmkernel/mem/vm"
)

// Store hands out page-sized slots on a block device. Each slot backs exactly
// one evicted page.
//
// The bitmap is only read and modified under the store's lock, so two
// evictions never claim the same slot. Sector I/O happens outside the lock
// because a claimed slot is private to its claimer until it is freed.
type Store struct {
	name           string
	mu             sync.Mutex
	device         vm.BlockDevice
	sectorsPerPage uint64
	slots          *bitmap
}

// Name returns the name of the store.
func (s *Store) Name() string {
	return s.name
}

// NumSlots returns the total number of slots.
func (s *Store) NumSlots() int {
	return s.slots.size
}

// NumUsed returns the number of occupied slots.
func (s *Store) NumUsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.slots.count
}

// InUse checks if the slot is occupied.
func (s *Store) InUse(slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.slots.test(slot)
}

// SwapOut claims a free slot and writes the page into it. Running out of
// swap while a page must be evicted is fatal to the kernel.
func (s *Store) SwapOut(page []byte) int {
	s.mustBePageSized(page)

	s.mu.Lock()
	slot := s.slots.scanAndFlip()
	s.mu.Unlock()

	if slot < 0 {
		log.Panicf("kernel panic: swap store %s is full (%d slots)",
			s.name, s.slots.size)
	}

	s.writeSlot(slot, page)

	return slot
}

// SwapIn reads the slot into buf and frees the slot.
func (s *Store) SwapIn(slot int, buf []byte) {
	s.mustBePageSized(buf)
	s.mustBeInUse(slot)

	s.readSlot(slot, buf)

	s.Free(slot)
}

// Free releases the slot without reading it.
func (s *Store) Free(slot int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.slots.test(slot) {
		log.Panicf("kernel panic: freeing free swap slot %d", slot)
	}

	s.slots.set(slot, false)
}

// FirstSector returns the first sector of the slot on the device.
func (s *Store) FirstSector(slot int) uint64 {
	return uint64(slot) * s.sectorsPerPage
}

func (s *Store) writeSlot(slot int, page []byte) {
	sectorSize := s.device.SectorSize()
	first := s.FirstSector(slot)

	for i := uint64(0); i < s.sectorsPerPage; i++ {
		chunk := page[i*uint64(sectorSize) : (i+1)*uint64(sectorSize)]

		err := s.device.WriteSector(first+i, chunk)
		if err != nil {
			log.Panicf("kernel panic: swap write to sector %d: %v",
				first+i, err)
		}
	}
}

func (s *Store) readSlot(slot int, buf []byte) {
	sectorSize := s.device.SectorSize()
	first := s.FirstSector(slot)

	for i := uint64(0); i < s.sectorsPerPage; i++ {
		chunk := buf[i*uint64(sectorSize) : (i+1)*uint64(sectorSize)]

		err := s.device.ReadSector(first+i, chunk)
		if err != nil {
			log.Panicf("kernel panic: swap read from sector %d: %v",
				first+i, err)
		}
	}
}

func (s *Store) mustBePageSized(buf []byte) {
	if len(buf) != vm.PageSize {
		log.Panicf("swap buffer of %d bytes is not a page", len(buf))
	}
}

func (s *Store) mustBeInUse(slot int) {
	if slot < 0 || slot >= s.slots.size || !s.InUse(slot) {
		log.Panicf("kernel panic: reading unused swap slot %d", slot)
	}
}
