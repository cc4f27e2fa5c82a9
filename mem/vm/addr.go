package vm

// Address space layout shared by all processes.
const (
	Log2PageSize = 12
	PageSize     = 1 << Log2PageSize

	// PhysBase is the first address above user space.
	PhysBase uint64 = 0xc0000000

	// UserBottom is the lowest address an executable is loaded at.
	UserBottom uint64 = 0x08048000

	// MaxStackSize bounds how far the user stack may grow below PhysBase.
	MaxStackSize uint64 = 8 << 20

	// StackSlack is how far below the stack pointer an access may land and
	// still count as stack growth. PUSHA writes 32 bytes below esp before
	// moving it.
	StackSlack uint64 = 32
)

// PageRoundDown aligns the address to the start of its page.
func PageRoundDown(addr uint64) uint64 {
	return (addr >> Log2PageSize) << Log2PageSize
}

// PageOffset returns the offset of the address inside its page.
func PageOffset(addr uint64) uint64 {
	return addr & (PageSize - 1)
}

// IsPageAligned checks if the address is the start of a page.
func IsPageAligned(addr uint64) bool {
	return PageOffset(addr) == 0
}

// IsUserAddr checks if the address is a non-null user-space address.
func IsUserAddr(addr uint64) bool {
	return addr != 0 && addr < PhysBase
}

// AllocFlags modify how a frame is handed out.
type AllocFlags uint

// Frame allocation flags.
const (
	// AllocZero fills the frame with zeros before handing it out.
	AllocZero AllocFlags = 1 << iota
)
