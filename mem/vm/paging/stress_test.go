package paging

import (
	"math/rand"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmkernel/mem/filesys"
	"github.com/sarchlab/vmkernel/mem/vm"
)

var _ = Describe("Pager under concurrent processes", func() {
	const (
		numProcs    = 4
		pagesEach   = 5
		numAccesses = 300
	)

	It("should keep every process's memory intact", func() {
		pager := newPager(6)

		procs := make([]*Process, numProcs)
		shadows := make([][]byte, numProcs)
		files := make([]*filesys.MemFile, numProcs)
		for i := range procs {
			proc := pager.NewProcess(vm.PID(i + 1))
			Expect(proc.SetupStack()).To(Succeed())
			proc.SetStackPointer(stackPage(pagesEach - 1))

			files[i] = filesys.NewMemFile("data", fill(byte(i), vm.PageSize))
			fd, _ := proc.Open(files[i])
			_, err := proc.Map(fd, mapAddr)
			Expect(err).NotTo(HaveOccurred())

			procs[i] = proc
			shadows[i] = make([]byte, pagesEach*vm.PageSize)
		}

		var wg sync.WaitGroup
		for i := range procs {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()

				proc := procs[i]
				shadow := shadows[i]
				low := stackPage(pagesEach - 1)
				rng := rand.New(rand.NewSource(int64(i)))

				for n := 0; n < numAccesses; n++ {
					off := rng.Intn(len(shadow) - 16)
					if rng.Intn(2) == 0 {
						data := fill(byte(rng.Intn(256)), 16)
						Expect(proc.Write(low+uint64(off), data)).To(Succeed())
						copy(shadow[off:], data)
					} else {
						buf := make([]byte, 16)
						Expect(proc.Read(low+uint64(off), buf)).To(Succeed())
						Expect(buf).To(Equal(shadow[off : off+16]))
					}

					if n%50 == 0 {
						Expect(proc.Write(mapAddr+uint64(i), []byte{byte(n)})).
							To(Succeed())
					}
				}
			}(i)
		}
		wg.Wait()

		seen := map[uint64]vm.PID{}
		for _, info := range pager.Frames().Snapshot() {
			_, dup := seen[info.PAddr]
			Expect(dup).To(BeFalse())
			seen[info.PAddr] = info.Owner
		}
		Expect(pager.Frames().NumResident()).To(Equal(6))
		Expect(pager.Stats().Evictions).To(BeNumerically(">", 0))

		for i, proc := range procs {
			proc.PageTable().Range(func(page *vm.Page) bool {
				h, resident := page.Frame()
				Expect(resident).To(Equal(page.Status().IsResident()))

				pAddr, _, mapped := proc.Directory().Translate(page.VAddr)
				Expect(mapped).To(Equal(resident))

				if resident {
					Expect(seen[pager.Frames().Addr(h)]).To(Equal(proc.PID()))
					Expect(pAddr).To(Equal(pager.Frames().Addr(h)))
				}
				return true
			})

			low := stackPage(pagesEach - 1)
			Expect(read(proc, low, len(shadows[i]))).To(Equal(shadows[i]))
		}

		for _, proc := range procs {
			proc.Exit(0)
		}

		Expect(pager.Frames().NumFree()).To(Equal(6))
		Expect(pager.Swap().NumUsed()).To(Equal(0))
		Expect(pager.Processes()).To(BeEmpty())
		for i, file := range files {
			Expect(file.Bytes()[i]).To(Equal(byte(250)))
		}
	})
})
