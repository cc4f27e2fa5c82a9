package paging

import (
	"bytes"
	"errors"
	"log"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmkernel/instrumentation/hooking"
	"github.com/sarchlab/vmkernel/mem/blockdev"
	"github.com/sarchlab/vmkernel/mem/filesys"
	"github.com/sarchlab/vmkernel/mem/vm"
)

func newPager(numFrames int) *Pager {
	return MakeBuilder().
		WithNumFrames(numFrames).
		WithSwapDevice(blockdev.NewMemoryDevice(512)).
		Build("Pager")
}

func fill(seed byte, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed + byte(i*31)
	}

	return data
}

func stackPage(i int) uint64 {
	return vm.PhysBase - uint64(i+1)*vm.PageSize
}

type closeCounter struct {
	vm.File
	closes int
}

func (c *closeCounter) Close() error {
	c.closes++
	return c.File.Close()
}

func mustLookup(proc *Process, vAddr uint64) *vm.Page {
	page, found := proc.PageTable().Lookup(vAddr)
	ExpectWithOffset(1, found).To(BeTrue())

	return page
}

func read(proc *Process, vAddr uint64, n int) []byte {
	buf := make([]byte, n)
	ExpectWithOffset(1, proc.Read(vAddr, buf)).To(Succeed())

	return buf
}

var _ = Describe("Pager", func() {
	var (
		pager *Pager
		proc  *Process
	)

	Context("with anonymous pages", func() {
		BeforeEach(func() {
			pager = newPager(2)
			proc = pager.NewProcess(1)
			Expect(proc.SetupStack()).To(Succeed())
			proc.SetStackPointer(stackPage(2))
		})

		It("should start with one stack page", func() {
			page := mustLookup(proc, stackPage(0))

			Expect(page.Status()).To(Equal(vm.StatusResident))
			Expect(read(proc, stackPage(0), vm.PageSize)).
				To(Equal(make([]byte, vm.PageSize)))
		})

		It("should round trip pages through swap and reuse slots", func() {
			Expect(proc.Write(stackPage(0), fill(1, vm.PageSize))).To(Succeed())
			Expect(proc.Write(stackPage(1), fill(2, vm.PageSize))).To(Succeed())
			Expect(proc.Write(stackPage(2), fill(3, vm.PageSize))).To(Succeed())

			s0 := mustLookup(proc, stackPage(0))
			Expect(s0.Status()).To(Equal(vm.StatusSwapped))
			slot, onSwap := s0.SwapSlot()
			Expect(onSwap).To(BeTrue())
			Expect(slot).To(Equal(0))
			Expect(pager.Swap().NumUsed()).To(Equal(1))

			Expect(read(proc, stackPage(0), vm.PageSize)).
				To(Equal(fill(1, vm.PageSize)))
			Expect(s0.Status()).To(Equal(vm.StatusResident))

			Expect(read(proc, stackPage(1), vm.PageSize)).
				To(Equal(fill(2, vm.PageSize)))

			s2 := mustLookup(proc, stackPage(2))
			slot, onSwap = s2.SwapSlot()
			Expect(onSwap).To(BeTrue())
			Expect(slot).To(Equal(0))

			stats := pager.Stats()
			Expect(stats.SwapIns).To(Equal(uint64(2)))
			Expect(stats.SwapOuts).To(Equal(uint64(3)))
			Expect(stats.Evictions).To(Equal(uint64(3)))
		})

		It("should clear the mapping of an evicted page", func() {
			proc.Write(stackPage(1), []byte{1})
			proc.Write(stackPage(2), []byte{2})

			_, _, mapped := proc.Directory().Translate(stackPage(0))
			Expect(mapped).To(BeFalse())
		})

		It("should keep writes that cross a page boundary", func() {
			data := fill(7, 100)

			Expect(proc.Write(stackPage(0)-50, data)).To(Succeed())

			Expect(read(proc, stackPage(0)-50, 100)).To(Equal(data))
		})
	})

	It("should evict exactly once when the pool is exhausted", func() {
		pager = newPager(4)
		proc = pager.NewProcess(1)
		proc.SetupStack()
		proc.SetStackPointer(stackPage(4))

		for i := 0; i < 5; i++ {
			Expect(proc.Write(stackPage(i), fill(byte(i), vm.PageSize))).
				To(Succeed())
		}

		Expect(pager.Stats().Evictions).To(Equal(uint64(1)))
		Expect(pager.Frames().NumResident()).To(Equal(4))
		Expect(mustLookup(proc, stackPage(0)).Status()).
			To(Equal(vm.StatusSwapped))
		Expect(read(proc, stackPage(0), vm.PageSize)).
			To(Equal(fill(0, vm.PageSize)))
	})

	Context("when growing the stack", func() {
		BeforeEach(func() {
			pager = newPager(4)
			proc = pager.NewProcess(1)
			proc.SetupStack()
			proc.SetStackPointer(stackPage(0))
		})

		It("should grow for a push just below the stack pointer", func() {
			esp := stackPage(0)

			Expect(proc.Write(esp-4, []byte{1, 2, 3, 4})).To(Succeed())

			page := mustLookup(proc, esp-4)
			Expect(page.VAddr).To(Equal(stackPage(1)))
			Expect(page.Status()).To(Equal(vm.StatusResident))
			Expect(pager.Stats().StackGrowths).To(Equal(uint64(1)))
		})

		It("should grow within the slack", func() {
			Expect(proc.Grow(stackPage(0) - vm.StackSlack)).To(Succeed())
			Expect(proc.Grow(stackPage(0) - vm.StackSlack)).
				To(MatchError(vm.ErrStackGrowthDenied))
		})

		It("should terminate a process that accesses far below the stack", func() {
			err := proc.Write(stackPage(0)-2*vm.PageSize, []byte{1})

			Expect(errors.Is(err, vm.ErrStackGrowthDenied)).To(BeTrue())
			exited, code := proc.Exited()
			Expect(exited).To(BeTrue())
			Expect(code).To(Equal(-1))
			Expect(pager.Frames().NumFree()).To(Equal(4))
			Expect(pager.Stats().Kills).To(Equal(uint64(1)))
			_, found := pager.Process(1)
			Expect(found).To(BeFalse())
		})

		It("should not grow beyond the stack limit", func() {
			esp := vm.PhysBase - vm.MaxStackSize - vm.PageSize
			proc.SetStackPointer(esp)

			Expect(proc.Grow(esp)).To(MatchError(vm.ErrStackGrowthDenied))
			Expect(proc.Grow(vm.PhysBase - vm.MaxStackSize)).To(Succeed())
		})

		It("should reject kernel addresses", func() {
			err := proc.Read(vm.PhysBase, make([]byte, 1))

			Expect(errors.Is(err, vm.ErrInvalidAccess)).To(BeTrue())
			exited, _ := proc.Exited()
			Expect(exited).To(BeTrue())
		})

		It("should reject null pointers", func() {
			err := proc.HandleFault(0, false)

			Expect(errors.Is(err, vm.ErrInvalidAccess)).To(BeTrue())
		})
	})

	Context("with executable segments", func() {
		var (
			image *filesys.MemFile
			base  uint64
		)

		BeforeEach(func() {
			pager = newPager(2)
			proc = pager.NewProcess(1)
			image = filesys.NewMemFile("prog", fill(9, 2*vm.PageSize+100))
			base = vm.UserBottom

			Expect(proc.LoadSegment(image, 0, base,
				2*vm.PageSize+100, vm.PageSize-100, true)).To(Succeed())
		})

		page := func(i int) uint64 {
			return base + uint64(i)*vm.PageSize
		}

		It("should load lazily", func() {
			Expect(proc.PageTable().Len()).To(Equal(3))
			Expect(mustLookup(proc, page(2)).Status()).
				To(Equal(vm.StatusExecNotLoaded))
			Expect(pager.Frames().NumFree()).To(Equal(2))
		})

		It("should zero fill the tail of a page", func() {
			data := read(proc, page(2), vm.PageSize)

			Expect(data[:100]).To(Equal(fill(9, 2*vm.PageSize+100)[2*vm.PageSize:]))
			Expect(data[100:]).To(Equal(make([]byte, vm.PageSize-100)))
		})

		It("should drop clean pages and swap dirty ones", func() {
			read(proc, page(0), 1)
			read(proc, page(1), 1)
			read(proc, page(2), 1)

			Expect(mustLookup(proc, page(0)).Status()).
				To(Equal(vm.StatusExecNotLoaded))
			Expect(pager.Swap().NumUsed()).To(Equal(0))

			Expect(proc.Write(page(1)+8, []byte("patched"))).To(Succeed())
			read(proc, page(0), 1)

			e1 := mustLookup(proc, page(1))
			Expect(e1.Status()).To(Equal(vm.StatusExecSwapped))
			Expect(pager.Swap().NumUsed()).To(Equal(1))

			Expect(read(proc, page(1)+8, 7)).To(Equal([]byte("patched")))
			Expect(e1.Status()).To(Equal(vm.StatusExecResident))
			Expect(pager.Swap().NumUsed()).To(Equal(0))

			read(proc, page(2), 1)
			read(proc, page(0), 1)

			Expect(e1.Status()).To(Equal(vm.StatusExecSwapped))
			Expect(read(proc, page(1)+8, 7)).To(Equal([]byte("patched")))
			Expect(image.Bytes()[vm.PageSize+8 : vm.PageSize+15]).
				NotTo(Equal([]byte("patched")))
		})

		It("should terminate a process writing a read-only segment", func() {
			ro := vm.UserBottom + 16*vm.PageSize
			Expect(proc.LoadSegment(image, 0, ro, 100, vm.PageSize-100, false)).
				To(Succeed())

			Expect(read(proc, ro, 4)).To(Equal(fill(9, 4)))

			err := proc.Write(ro, []byte{1})

			Expect(errors.Is(err, vm.ErrWriteToReadOnly)).To(BeTrue())
			exited, code := proc.Exited()
			Expect(exited).To(BeTrue())
			Expect(code).To(Equal(-1))
		})

		It("should terminate a process whose image is truncated", func() {
			short := filesys.NewMemFile("short", []byte("tiny"))
			at := vm.UserBottom + 32*vm.PageSize
			Expect(proc.LoadSegment(short, 0, at, vm.PageSize, 0, false)).
				To(Succeed())

			err := proc.Read(at, make([]byte, 1))

			Expect(errors.Is(err, vm.ErrShortRead)).To(BeTrue())
			Expect(pager.Frames().NumFree()).To(Equal(2))
		})

		It("should refuse overlapping segments", func() {
			err := proc.LoadSegment(image, 0, page(1), 0, vm.PageSize, true)

			Expect(errors.Is(err, vm.ErrPageExists)).To(BeTrue())
		})

		It("should close the image on exit", func() {
			read(proc, page(0), 1)

			proc.Exit(0)

			Expect(image.OpenCount()).To(Equal(0))
			Expect(pager.Frames().NumFree()).To(Equal(2))
		})
	})

	It("should close a file used as descriptor and image only once", func() {
		pager = newPager(1)
		proc = pager.NewProcess(1)
		file := &closeCounter{
			File: filesys.NewMemFile("prog", fill(3, vm.PageSize)),
		}

		_, err := proc.Open(file)
		Expect(err).NotTo(HaveOccurred())
		Expect(proc.LoadSegment(file, 0, vm.UserBottom,
			vm.PageSize, 0, false)).To(Succeed())

		proc.Exit(0)

		Expect(file.closes).To(Equal(1))
	})

	It("should wait for an eviction in progress before resolving a fault", func() {
		pager = newPager(1)
		owner := pager.NewProcess(1)
		Expect(owner.SetupStack()).To(Succeed())
		Expect(owner.Write(stackPage(0), []byte("kept"))).To(Succeed())

		resolved := make(chan error, 1)
		var once sync.Once
		pager.AcceptHook(hooking.HookFunc(func(ctx hooking.HookCtx) {
			evt := ctx.Item.(Event)
			if ctx.Pos != HookPosEvict || evt.PID != 1 {
				return
			}

			once.Do(func() {
				go func() {
					resolved <- owner.HandleFault(stackPage(0), false)
				}()

				Consistently(resolved, 50*time.Millisecond).ShouldNot(Receive())
			})
		}))

		other := pager.NewProcess(2)
		Expect(other.SetupStack()).To(Succeed())

		Eventually(resolved).Should(Receive(BeNil()))
		Expect(read(owner, stackPage(0), 4)).To(Equal([]byte("kept")))
	})

	It("should log events through a log hook", func() {
		buf := new(bytes.Buffer)
		pager = newPager(1)
		pager.AcceptHook(NewLogHook(log.New(buf, "", 0)))
		proc = pager.NewProcess(3)
		proc.SetupStack()
		proc.SetStackPointer(stackPage(1))

		proc.Write(stackPage(1), []byte{1})
		proc.Exit(0)

		Expect(buf.String()).To(ContainSubstring("FrameAcquire pid=3"))
		Expect(buf.String()).To(ContainSubstring("Evict pid=3"))
		Expect(buf.String()).To(ContainSubstring("Resident->Swapped"))
		Expect(buf.String()).To(ContainSubstring("StackGrowth pid=3"))
		Expect(buf.String()).To(ContainSubstring("ProcessExit pid=3"))
	})

	It("should panic on duplicated processes", func() {
		pager = newPager(1)
		pager.NewProcess(1)

		Expect(func() { pager.NewProcess(1) }).To(Panic())
	})
})
