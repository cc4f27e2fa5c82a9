package paging

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmkernel/mem/filesys"
	"github.com/sarchlab/vmkernel/mem/vm"
)

const mapAddr = uint64(0x10000000)

var _ = Describe("Memory mapped files", func() {
	var (
		pager *Pager
		proc  *Process
	)

	BeforeEach(func() {
		pager = newPager(4)
		proc = pager.NewProcess(1)
	})

	open := func(file vm.File) int {
		fd, err := proc.Open(file)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())

		return fd
	}

	It("should hand out descriptors above the console", func() {
		fd := open(filesys.NewMemFile("a", []byte{1}))

		Expect(fd).To(Equal(2))
		Expect(open(filesys.NewMemFile("b", []byte{1}))).To(Equal(3))
	})

	It("should close descriptors once", func() {
		file := filesys.NewMemFile("a", []byte{1})
		fd := open(file)

		Expect(proc.Close(fd)).To(Succeed())
		Expect(file.OpenCount()).To(Equal(0))
		Expect(errors.Is(proc.Close(fd), vm.ErrBadDescriptor)).To(BeTrue())
		Expect(errors.Is(proc.Close(0), vm.ErrBadDescriptor)).To(BeTrue())
	})

	It("should round trip a file", func() {
		content := fill(3, 2*vm.PageSize+100)
		file := filesys.NewMemFile("data", content)
		fd := open(file)

		id, err := proc.Map(fd, mapAddr)
		Expect(err).NotTo(HaveOccurred())

		pages := proc.PageTable().EntriesForMap(id)
		Expect(pages).To(HaveLen(3))
		for _, page := range pages {
			Expect(page.Status()).To(Equal(vm.StatusMappedNotLoaded))
		}
		Expect(pages[2].Source.ReadBytes).To(Equal(100))
		Expect(pager.Frames().NumFree()).To(Equal(4))

		Expect(read(proc, mapAddr, len(content))).To(Equal(content))

		Expect(proc.Write(mapAddr+5000, []byte("hello"))).To(Succeed())
		proc.Unmap(id)

		Expect(file.Length()).To(Equal(int64(len(content))))
		Expect(file.Bytes()[5000:5005]).To(Equal([]byte("hello")))
		Expect(file.OpenCount()).To(Equal(1))
		Expect(proc.PageTable().Len()).To(Equal(0))
		Expect(pager.Frames().NumFree()).To(Equal(4))
		Expect(pager.Stats().WriteBacks).To(Equal(uint64(1)))
	})

	It("should ignore a second unmap", func() {
		file := filesys.NewMemFile("data", fill(1, 10))
		id, _ := proc.Map(open(file), mapAddr)

		proc.Unmap(id)
		proc.Unmap(id)
		proc.Unmap(42)

		Expect(file.OpenCount()).To(Equal(1))
		Expect(proc.Mappings()).To(BeEmpty())
	})

	It("should map a file smaller than a page", func() {
		file := filesys.NewMemFile("small", []byte("0123456789"))
		id, err := proc.Map(open(file), mapAddr)
		Expect(err).NotTo(HaveOccurred())
		Expect(proc.PageTable().EntriesForMap(id)).To(HaveLen(1))

		data := read(proc, mapAddr, vm.PageSize)
		Expect(data[:10]).To(Equal([]byte("0123456789")))
		Expect(data[10:]).To(Equal(make([]byte, vm.PageSize-10)))

		Expect(proc.Write(mapAddr+3, []byte("X"))).To(Succeed())
		Expect(proc.Write(mapAddr+20, []byte("zz"))).To(Succeed())
		proc.Unmap(id)

		Expect(file.Bytes()).To(Equal([]byte("012X456789")))
	})

	It("should write back dirty pages on eviction", func() {
		pager = newPager(1)
		proc = pager.NewProcess(1)
		file := filesys.NewMemFile("data", fill(5, 2*vm.PageSize))
		id, _ := proc.Map(open(file), mapAddr)

		Expect(proc.Write(mapAddr, []byte("dirty"))).To(Succeed())
		read(proc, mapAddr+vm.PageSize, 1)

		pages := proc.PageTable().EntriesForMap(id)
		Expect(pages[0].Status()).To(Equal(vm.StatusMappedNotLoaded))
		Expect(file.Bytes()[:5]).To(Equal([]byte("dirty")))
		Expect(pager.Swap().NumUsed()).To(Equal(0))
		Expect(pager.Stats().WriteBacks).To(Equal(uint64(1)))

		Expect(read(proc, mapAddr, 5)).To(Equal([]byte("dirty")))
	})

	It("should keep a mapping after its descriptor is closed", func() {
		file := filesys.NewMemFile("data", []byte("abc"))
		fd := open(file)
		proc.Map(fd, mapAddr)

		Expect(proc.Close(fd)).To(Succeed())

		Expect(read(proc, mapAddr, 3)).To(Equal([]byte("abc")))
	})

	DescribeTable("should reject invalid mappings",
		func(fd func(file vm.File) int, addr uint64) {
			file := filesys.NewMemFile("data", []byte("abc"))

			id, err := proc.Map(fd(file), addr)

			Expect(id).To(Equal(vm.MapID(-1)))
			Expect(errors.Is(err, vm.ErrInvalidMapping)).To(BeTrue())
			Expect(file.OpenCount()).To(BeNumerically("<=", 1))
		},
		Entry("console input", func(vm.File) int { return 0 }, mapAddr),
		Entry("console output", func(vm.File) int { return 1 }, mapAddr),
		Entry("unknown descriptor", func(vm.File) int { return 9 }, mapAddr),
		Entry("null address", func(f vm.File) int { return open(f) }, uint64(0)),
		Entry("unaligned address",
			func(f vm.File) int { return open(f) }, mapAddr+12),
		Entry("kernel address",
			func(f vm.File) int { return open(f) }, vm.PhysBase),
	)

	It("should reject empty files", func() {
		_, err := proc.Map(open(filesys.NewMemFile("empty", nil)), mapAddr)

		Expect(errors.Is(err, vm.ErrInvalidMapping)).To(BeTrue())
	})

	It("should reject overlapping mappings", func() {
		file := filesys.NewMemFile("data", fill(1, 3*vm.PageSize))
		_, err := proc.Map(open(file), mapAddr)
		Expect(err).NotTo(HaveOccurred())

		_, err = proc.Map(open(file), mapAddr+2*vm.PageSize)

		Expect(errors.Is(err, vm.ErrInvalidMapping)).To(BeTrue())
	})

	It("should unmap everything on exit", func() {
		file := filesys.NewMemFile("data", fill(1, vm.PageSize))
		id, _ := proc.Map(open(file), mapAddr)
		proc.Write(mapAddr, []byte("bye"))

		proc.Exit(0)

		Expect(file.Bytes()[:3]).To(Equal([]byte("bye")))
		Expect(file.OpenCount()).To(Equal(0))
		Expect(proc.Mappings()).NotTo(ContainElement(id))
		Expect(pager.Frames().NumFree()).To(Equal(4))

		_, err := proc.Map(2, mapAddr)
		Expect(errors.Is(err, vm.ErrProcessExited)).To(BeTrue())
	})
})
