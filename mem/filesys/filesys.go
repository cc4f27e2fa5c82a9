// Package filesys provides the file handles that the virtual memory system
// reads executable images and mapped files from.
package filesys

import (
	"errors"
	"os"
	"sync"

	"github.com/sarchlab/vmkernel/mem/vm"
)

// ErrClosed is returned when a closed handle is used.
var ErrClosed = errors.New("file already closed")

// An inode is the shared content of a file. All handles opened on the same
// file see the same bytes.
type inode struct {
	sync.RWMutex
	name      string
	data      []byte
	openCount int
}

// MemFile is a handle to an in-memory file.
type MemFile struct {
	mu     sync.Mutex
	inode  *inode
	closed bool
}

var _ vm.File = (*MemFile)(nil)

// NewMemFile creates an in-memory file holding a copy of content and returns
// the first handle to it.
func NewMemFile(name string, content []byte) *MemFile {
	n := &inode{
		name:      name,
		data:      append([]byte(nil), content...),
		openCount: 1,
	}

	return &MemFile{inode: n}
}

// Name returns the name the file was created with.
func (f *MemFile) Name() string {
	return f.inode.name
}

func (f *MemFile) checkOpen() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	return nil
}

// ReadAt reads up to len(buf) bytes at offset. Reading at or past the end of
// the file returns 0 bytes.
func (f *MemFile) ReadAt(buf []byte, offset int64) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}

	f.inode.RLock()
	defer f.inode.RUnlock()

	if offset >= int64(len(f.inode.data)) {
		return 0, nil
	}

	return copy(buf, f.inode.data[offset:]), nil
}

// WriteAt writes buf at offset, growing the file if needed.
func (f *MemFile) WriteAt(buf []byte, offset int64) (int, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}

	f.inode.Lock()
	defer f.inode.Unlock()

	end := int(offset) + len(buf)
	if end > len(f.inode.data) {
		f.inode.data = append(f.inode.data,
			make([]byte, end-len(f.inode.data))...)
	}

	return copy(f.inode.data[offset:], buf), nil
}

// Length returns the size of the file.
func (f *MemFile) Length() int64 {
	f.inode.RLock()
	defer f.inode.RUnlock()

	return int64(len(f.inode.data))
}

// Reopen returns another handle to the same file.
func (f *MemFile) Reopen() (vm.File, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}

	f.inode.Lock()
	f.inode.openCount++
	f.inode.Unlock()

	return &MemFile{inode: f.inode}, nil
}

// Close releases the handle. Closing twice returns ErrClosed.
func (f *MemFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}

	f.closed = true

	f.inode.Lock()
	f.inode.openCount--
	f.inode.Unlock()

	return nil
}

// OpenCount returns how many handles to the file are still open.
func (f *MemFile) OpenCount() int {
	f.inode.RLock()
	defer f.inode.RUnlock()

	return f.inode.openCount
}

// Bytes returns a copy of the whole file content.
func (f *MemFile) Bytes() []byte {
	f.inode.RLock()
	defer f.inode.RUnlock()

	return append([]byte(nil), f.inode.data...)
}

// HostFile is a handle to a file on the host file system.
type HostFile struct {
	path string
	file *os.File
}

var _ vm.File = (*HostFile)(nil)

// OpenHostFile opens the host file at path for reading and writing.
func OpenHostFile(path string) (*HostFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	return &HostFile{path: path, file: f}, nil
}

// ReadAt reads up to len(buf) bytes at offset. A short read at the end of
// the file is not an error.
func (f *HostFile) ReadAt(buf []byte, offset int64) (int, error) {
	n, err := f.file.ReadAt(buf, offset)
	if err != nil && n < len(buf) && offset+int64(n) >= f.Length() {
		return n, nil
	}

	return n, err
}

// WriteAt writes buf at offset.
func (f *HostFile) WriteAt(buf []byte, offset int64) (int, error) {
	return f.file.WriteAt(buf, offset)
}

// Length returns the size of the file.
func (f *HostFile) Length() int64 {
	info, err := f.file.Stat()
	if err != nil {
		return 0
	}

	return info.Size()
}

// Reopen opens the same path again.
func (f *HostFile) Reopen() (vm.File, error) {
	return OpenHostFile(f.path)
}

// Close closes the host file.
func (f *HostFile) Close() error {
	return f.file.Close()
}
