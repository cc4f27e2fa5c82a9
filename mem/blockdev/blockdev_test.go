package blockdev_test

import (
	"bytes"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmkernel/mem/blockdev"
	"github.com/sarchlab/vmkernel/mem/vm"
)

func sector(b byte) []byte {
	return bytes.Repeat([]byte{b}, blockdev.SectorSize)
}

func behavesLikeBlockDevice(newDevice func() vm.BlockDevice) {
	var dev vm.BlockDevice

	BeforeEach(func() {
		dev = newDevice()
	})

	It("should report its geometry", func() {
		Expect(dev.SectorSize()).To(Equal(blockdev.SectorSize))
		Expect(dev.NumSectors()).To(Equal(uint64(16)))
	})

	It("should read back written sectors", func() {
		Expect(dev.WriteSector(3, sector(0xab))).To(Succeed())
		Expect(dev.WriteSector(4, sector(0xcd))).To(Succeed())

		buf := make([]byte, blockdev.SectorSize)
		Expect(dev.ReadSector(3, buf)).To(Succeed())
		Expect(buf).To(Equal(sector(0xab)))

		Expect(dev.ReadSector(4, buf)).To(Succeed())
		Expect(buf).To(Equal(sector(0xcd)))
	})

	It("should read zeros from untouched sectors", func() {
		buf := sector(0x11)

		Expect(dev.ReadSector(7, buf)).To(Succeed())

		Expect(buf).To(Equal(sector(0)))
	})

	It("should reject out of range sectors", func() {
		Expect(dev.WriteSector(16, sector(1))).NotTo(Succeed())
		Expect(dev.ReadSector(100, sector(1))).NotTo(Succeed())
	})

	It("should reject partial sectors", func() {
		Expect(dev.WriteSector(0, []byte{1, 2, 3})).NotTo(Succeed())
	})
}

var _ = Describe("MemoryDevice", func() {
	behavesLikeBlockDevice(func() vm.BlockDevice {
		return blockdev.NewMemoryDevice(16)
	})
})

var _ = Describe("FileDevice", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "blockdev")
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(os.RemoveAll, dir)
	})

	behavesLikeBlockDevice(func() vm.BlockDevice {
		dev, err := blockdev.OpenFileDevice(filepath.Join(dir, "swap.img"), 16)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(dev.Close)

		return dev
	})

	It("should size the host file", func() {
		path := filepath.Join(dir, "sized.img")
		dev, err := blockdev.OpenFileDevice(path, 8)
		Expect(err).NotTo(HaveOccurred())
		defer dev.Close()

		info, err := os.Stat(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.Size()).To(Equal(int64(8 * blockdev.SectorSize)))
	})
})
