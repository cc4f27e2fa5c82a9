// Package storage provides a sparse byte store used for physical memory,
// in-memory disks and in-memory files.
package storage

import (
	"errors"
	"sync"
)

// ErrOutOfRange is returned when an access goes beyond the capacity.
var ErrOutOfRange = errors.New("accessing address beyond the storage capacity")

// A Storage keeps data in units of a fixed size. Units that have never been
// written are not allocated and read as zeros.
//
// A Storage is safe for concurrent use.
type Storage struct {
	sync.Mutex

	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewStorage creates a storage object with the specified capacity.
func NewStorage(capacity uint64) *Storage {
	return NewStorageWithUnitSize(capacity, 4096)
}

// NewStorageWithUnitSize creates a storage object that allocates memory in
// units of the given size.
func NewStorageWithUnitSize(capacity, unitSize uint64) *Storage {
	s := new(Storage)

	s.unitSize = unitSize
	s.capacity = capacity
	s.data = make(map[uint64][]byte)

	return s
}

// Capacity returns the number of bytes the storage can hold.
func (s *Storage) Capacity() uint64 {
	return s.capacity
}

func (s *Storage) unit(baseAddr uint64) []byte {
	unit, ok := s.data[baseAddr]
	if !ok {
		unit = make([]byte, s.unitSize)
		s.data[baseAddr] = unit
	}

	return unit
}

func (s *Storage) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % s.unitSize
	baseAddr = addr - inUnitAddr

	return
}

func (s *Storage) checkRange(address, length uint64) error {
	if address+length > s.capacity || address+length < address {
		return ErrOutOfRange
	}

	return nil
}

// Read returns a copy of length bytes starting at address.
func (s *Storage) Read(address uint64, length uint64) ([]byte, error) {
	res := make([]byte, length)

	err := s.ReadInto(address, res)
	if err != nil {
		return nil, err
	}

	return res, nil
}

// ReadInto fills buf with the bytes starting at address.
func (s *Storage) ReadInto(address uint64, buf []byte) error {
	length := uint64(len(buf))
	if err := s.checkRange(address, length); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToRead := min(length-dataOffset, s.unitSize-inUnitAddr)

		unit, ok := s.data[baseAddr]
		if ok {
			copy(buf[dataOffset:dataOffset+lenToRead],
				unit[inUnitAddr:inUnitAddr+lenToRead])
		} else {
			clear(buf[dataOffset : dataOffset+lenToRead])
		}

		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return nil
}

// Write stores data starting at address.
func (s *Storage) Write(address uint64, data []byte) error {
	length := uint64(len(data))
	if err := s.checkRange(address, length); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	currAddr := address
	dataOffset := uint64(0)

	for dataOffset < length {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToWrite := min(length-dataOffset, s.unitSize-inUnitAddr)

		unit := s.unit(baseAddr)
		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])

		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}

// Zero clears length bytes starting at address. Whole units are released.
func (s *Storage) Zero(address uint64, length uint64) error {
	if err := s.checkRange(address, length); err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	currAddr := address
	end := address + length

	for currAddr < end {
		baseAddr, inUnitAddr := s.parseAddress(currAddr)
		lenToZero := min(end-currAddr, s.unitSize-inUnitAddr)

		if inUnitAddr == 0 && lenToZero == s.unitSize {
			delete(s.data, baseAddr)
		} else if unit, ok := s.data[baseAddr]; ok {
			clear(unit[inUnitAddr : inUnitAddr+lenToZero])
		}

		currAddr += lenToZero
	}

	return nil
}
