package filesys_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmkernel/mem/filesys"
)

var _ = Describe("MemFile", func() {
	var f *filesys.MemFile

	BeforeEach(func() {
		f = filesys.NewMemFile("data", []byte("hello world"))
	})

	It("should read at offsets", func() {
		buf := make([]byte, 5)

		n, err := f.ReadAt(buf, 6)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(5))
		Expect(string(buf)).To(Equal("world"))
	})

	It("should return short reads at the end of the file", func() {
		buf := make([]byte, 8)

		n, _ := f.ReadAt(buf, 8)
		Expect(n).To(Equal(3))

		n, _ = f.ReadAt(buf, 100)
		Expect(n).To(Equal(0))
	})

	It("should grow on writes past the end", func() {
		n, err := f.WriteAt([]byte("!!"), 12)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(2))
		Expect(f.Length()).To(Equal(int64(14)))
		Expect(f.Bytes()).To(Equal([]byte("hello world\x00!!")))
	})

	It("should share content between reopened handles", func() {
		g, err := f.Reopen()
		Expect(err).NotTo(HaveOccurred())
		Expect(f.OpenCount()).To(Equal(2))

		_, err = g.WriteAt([]byte("HELLO"), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(g.Close()).To(Succeed())

		Expect(f.Bytes()).To(Equal([]byte("HELLO world")))
		Expect(f.OpenCount()).To(Equal(1))
	})

	It("should refuse to be closed twice", func() {
		Expect(f.Close()).To(Succeed())
		Expect(f.Close()).To(MatchError(filesys.ErrClosed))

		_, err := f.ReadAt(make([]byte, 1), 0)
		Expect(err).To(MatchError(filesys.ErrClosed))
	})
})

var _ = Describe("HostFile", func() {
	var (
		path string
		f    *filesys.HostFile
	)

	BeforeEach(func() {
		dir, err := os.MkdirTemp("", "filesys")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)

		path = filepath.Join(dir, "file.bin")
		Expect(os.WriteFile(path, []byte("0123456789"), 0o644)).To(Succeed())

		f, err = filesys.OpenHostFile(path)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		f.Close()
	})

	It("should report its length", func() {
		Expect(f.Length()).To(Equal(int64(10)))
	})

	It("should not fail on a short read at the end", func() {
		buf := make([]byte, 8)

		n, err := f.ReadAt(buf, 6)

		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(4))
		Expect(string(buf[:n])).To(Equal("6789"))
	})

	It("should write through reopened handles", func() {
		g, err := f.Reopen()
		Expect(err).NotTo(HaveOccurred())

		_, err = g.WriteAt([]byte("ab"), 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(g.Close()).To(Succeed())

		content, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(content)).To(Equal("ab23456789"))
	})
})
