package vm

// A PageDirectory is the hardware page table of one address space. The
// virtual memory subsystem only needs to install, clear and query mappings.
type PageDirectory interface {
	// Install maps the virtual page to the physical page. It returns false
	// if the mapping cannot be created.
	Install(vAddr, pAddr uint64, writable bool) bool

	// Clear removes the mapping of the virtual page so that the next access
	// faults.
	Clear(vAddr uint64)

	// IsDirty reports if the virtual page has been written since it was
	// installed or since the dirty bit was last cleared.
	IsDirty(vAddr uint64) bool

	// SetDirty sets the dirty bit of the virtual page.
	SetDirty(vAddr uint64, dirty bool)

	// Translate returns the physical address the virtual address maps to.
	Translate(vAddr uint64) (pAddr uint64, writable bool, ok bool)
}

// A File is an open file handle as provided by the file system.
type File interface {
	// ReadAt reads up to len(buf) bytes starting at offset and returns the
	// number of bytes read.
	ReadAt(buf []byte, offset int64) (int, error)

	// WriteAt writes buf at offset and returns the number of bytes written.
	WriteAt(buf []byte, offset int64) (int, error)

	// Length returns the size of the file in bytes.
	Length() int64

	// Reopen returns a new independent handle to the same file.
	Reopen() (File, error)

	// Close releases the handle.
	Close() error
}

// A BlockDevice is a disk addressed by fixed-size sectors.
type BlockDevice interface {
	// SectorSize returns the number of bytes in a sector.
	SectorSize() int

	// NumSectors returns the number of sectors on the device.
	NumSectors() uint64

	// ReadSector reads the sector into buf, which must be one sector long.
	ReadSector(sector uint64, buf []byte) error

	// WriteSector writes buf, which must be one sector long, to the sector.
	WriteSector(sector uint64, buf []byte) error
}
