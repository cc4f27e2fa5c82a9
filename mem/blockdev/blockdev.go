// Package blockdev provides sector-addressed block devices.
package blockdev

import (
	"fmt"
	"os"
	"sync"

	"github.com/sarchlab/vmkernel/mem/storage"
	"github.com/sarchlab/vmkernel/mem/vm"
)

// SectorSize is the number of bytes in a disk sector.
const SectorSize = 512

func checkAccess(sector, numSectors uint64, buf []byte) error {
	if sector >= numSectors {
		return fmt.Errorf("sector %d out of range [0, %d)", sector, numSectors)
	}

	if len(buf) != SectorSize {
		return fmt.Errorf("buffer of %d bytes is not one sector", len(buf))
	}

	return nil
}

// MemoryDevice is a block device that keeps its sectors in memory.
type MemoryDevice struct {
	numSectors uint64
	storage    *storage.Storage
}

var _ vm.BlockDevice = (*MemoryDevice)(nil)

// NewMemoryDevice creates a memory-backed device with the given number of
// sectors.
func NewMemoryDevice(numSectors uint64) *MemoryDevice {
	return &MemoryDevice{
		numSectors: numSectors,
		storage: storage.NewStorageWithUnitSize(
			numSectors*SectorSize, vm.PageSize),
	}
}

// SectorSize returns the number of bytes in a sector.
func (d *MemoryDevice) SectorSize() int {
	return SectorSize
}

// NumSectors returns the number of sectors on the device.
func (d *MemoryDevice) NumSectors() uint64 {
	return d.numSectors
}

// ReadSector reads one sector.
func (d *MemoryDevice) ReadSector(sector uint64, buf []byte) error {
	if err := checkAccess(sector, d.numSectors, buf); err != nil {
		return err
	}

	return d.storage.ReadInto(sector*SectorSize, buf)
}

// WriteSector writes one sector.
func (d *MemoryDevice) WriteSector(sector uint64, buf []byte) error {
	if err := checkAccess(sector, d.numSectors, buf); err != nil {
		return err
	}

	return d.storage.Write(sector*SectorSize, buf)
}

// FileDevice is a block device backed by a file on the host.
type FileDevice struct {
	mu         sync.Mutex
	file       *os.File
	numSectors uint64
}

var _ vm.BlockDevice = (*FileDevice)(nil)

// OpenFileDevice opens or creates the host file at path and sizes it to hold
// numSectors sectors.
func OpenFileDevice(path string, numSectors uint64) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	err = f.Truncate(int64(numSectors * SectorSize))
	if err != nil {
		f.Close()
		return nil, err
	}

	return &FileDevice{file: f, numSectors: numSectors}, nil
}

// SectorSize returns the number of bytes in a sector.
func (d *FileDevice) SectorSize() int {
	return SectorSize
}

// NumSectors returns the number of sectors on the device.
func (d *FileDevice) NumSectors() uint64 {
	return d.numSectors
}

// ReadSector reads one sector.
func (d *FileDevice) ReadSector(sector uint64, buf []byte) error {
	if err := checkAccess(sector, d.numSectors, buf); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.file.ReadAt(buf, int64(sector*SectorSize))

	return err
}

// WriteSector writes one sector.
func (d *FileDevice) WriteSector(sector uint64, buf []byte) error {
	if err := checkAccess(sector, d.numSectors, buf); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.file.WriteAt(buf, int64(sector*SectorSize))

	return err
}

// Close closes the host file.
func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.file.Close()
}
