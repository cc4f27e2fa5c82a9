package paging

import (
	"fmt"
	"log"
	"sync"

	"github.com/sarchlab/vmkernel/mem/vm"
	"github.com/sarchlab/vmkernel/mem/vm/pagedir"
	"github.com/sarchlab/vmkernel/mem/vm/spt"
)

// The first descriptor handed out by Open. Lower descriptors are the console.
const firstFD = 2

// A Process is a user address space: a page directory, a supplemental page
// table, open files and memory mappings.
//
// The process lock serializes everything the process does, including its
// faults. It is the first lock in the kernel lock order.
type Process struct {
	mu sync.Mutex

	pid   vm.PID
	pager *Pager
	dir   *pagedir.Directory
	spt   *spt.Table
	esp   uint64

	fds       map[int]vm.File
	nextFD    int
	mappings  map[vm.MapID]*mapping
	nextMapID vm.MapID
	images    []vm.File

	exited   bool
	exitCode int
}

// NewProcess creates an empty address space and registers it with the
// pager.
func (p *Pager) NewProcess(pid vm.PID) *Process {
	dir := pagedir.New()
	table := spt.New(pid, dir, p.frames, p.swap)
	table.OnWriteBack = func(*vm.Page) { p.stats.writeBacks.Add(1) }

	proc := &Process{
		pid:      pid,
		pager:    p,
		dir:      dir,
		spt:      table,
		esp:      vm.PhysBase,
		fds:      make(map[int]vm.File),
		nextFD:   firstFD,
		mappings: make(map[vm.MapID]*mapping),
	}

	p.procMu.Lock()
	defer p.procMu.Unlock()

	if _, found := p.procs[pid]; found {
		log.Panicf("process %d already exists", pid)
	}

	p.procs[pid] = proc

	return proc
}

// PID returns the process ID.
func (p *Process) PID() vm.PID {
	return p.pid
}

// PageTable returns the supplemental page table of the process.
func (p *Process) PageTable() *spt.Table {
	return p.spt
}

// Directory returns the page directory of the process.
func (p *Process) Directory() *pagedir.Directory {
	return p.dir
}

// StackPointer returns the user stack pointer.
func (p *Process) StackPointer() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.esp
}

// SetStackPointer records the user stack pointer, as saved on entry to the
// kernel. Stack growth is judged against it.
func (p *Process) SetStackPointer(esp uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.esp = esp
}

// Exited reports if the process has terminated, and with which code.
func (p *Process) Exited() (bool, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exited, p.exitCode
}

// Open adds a file to the descriptor table and returns its descriptor.
func (p *Process) Open(file vm.File) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return -1, vm.ErrProcessExited
	}

	fd := p.nextFD
	p.nextFD++
	p.fds[fd] = file

	return fd, nil
}

// Close closes the file behind the descriptor. Mappings created from the
// descriptor stay valid.
func (p *Process) Close(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	file, found := p.fds[fd]
	if !found {
		return fmt.Errorf("%w: %d", vm.ErrBadDescriptor, fd)
	}

	delete(p.fds, fd)

	return file.Close()
}

// LoadSegment registers readBytes bytes of file at offset, followed by
// zeroBytes zeros, to appear at vAddr. Nothing is read until the pages are
// touched. The process takes ownership of file and closes it on exit.
func (p *Process) LoadSegment(
	file vm.File,
	offset int64,
	vAddr uint64,
	readBytes, zeroBytes int,
	writable bool,
) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return vm.ErrProcessExited
	}

	if (readBytes+zeroBytes)%vm.PageSize != 0 ||
		!vm.IsPageAligned(vAddr) ||
		offset%vm.PageSize != 0 {
		log.Panicf("segment at %#x is not page aligned", vAddr)
	}

	p.adoptImage(file)

	for readBytes > 0 || zeroBytes > 0 {
		pageRead := min(readBytes, vm.PageSize)

		page := vm.NewPage(p.pid, vAddr, writable, vm.StatusExecNotLoaded,
			vm.Source{
				Kind:      vm.SourceExecutable,
				File:      file,
				Offset:    offset,
				ReadBytes: pageRead,
			})

		err := p.spt.Add(page)
		if err != nil {
			return err
		}

		readBytes -= pageRead
		zeroBytes -= vm.PageSize - pageRead
		offset += int64(pageRead)
		vAddr += vm.PageSize
	}

	return nil
}

func (p *Process) adoptImage(file vm.File) {
	for _, image := range p.images {
		if image == file {
			return
		}
	}

	p.images = append(p.images, file)
}

// SetupStack installs a zeroed page just below PhysBase and points the stack
// pointer at PhysBase.
func (p *Process) SetupStack() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exited {
		return vm.ErrProcessExited
	}

	err := p.installStackPage(vm.PhysBase - vm.PageSize)
	if err != nil {
		return err
	}

	p.esp = vm.PhysBase

	return nil
}

// Exit tears down the address space. Mappings are unmapped, every page is
// discarded, files are closed and the process leaves the pager. Later calls
// do nothing.
func (p *Process) Exit(code int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.exitLocked(code)
}

func (p *Process) exitLocked(code int) {
	if p.exited {
		return
	}

	p.exited = true
	p.exitCode = code

	for _, id := range p.mappingIDs() {
		p.unmapLocked(id)
	}

	p.spt.Teardown()

	closed := make(map[vm.File]bool, len(p.fds))
	for fd, file := range p.fds {
		file.Close()
		closed[file] = true
		delete(p.fds, fd)
	}

	for _, image := range p.images {
		if !closed[image] {
			image.Close()
		}
	}
	p.images = nil

	p.pager.unregister(p.pid)

	evt := newEvent(p.pid, 0)
	evt.ExitCode = code
	p.pager.invoke(HookPosProcessExit, evt)
}

// kill terminates the process after a fault it cannot survive.
func (p *Process) kill(err error) error {
	p.pager.stats.kills.Add(1)
	p.exitLocked(-1)

	return err
}
