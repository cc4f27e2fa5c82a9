package swap

import "math/bits"

// bitmap tracks slot occupancy, one bit per slot.
type bitmap struct {
	words []uint64
	size  int
	count int
}

func newBitmap(size int) *bitmap {
	return &bitmap{
		words: make([]uint64, (size+63)/64),
		size:  size,
	}
}

func (b *bitmap) test(i int) bool {
	return b.words[i/64]&(1<<(i%64)) != 0
}

func (b *bitmap) set(i int, value bool) {
	if b.test(i) == value {
		return
	}

	if value {
		b.words[i/64] |= 1 << (i % 64)
		b.count++
	} else {
		b.words[i/64] &^= 1 << (i % 64)
		b.count--
	}
}

// scanAndFlip finds the first clear bit, sets it and returns its index. It
// returns -1 if all bits are set.
func (b *bitmap) scanAndFlip() int {
	for w, word := range b.words {
		if word == ^uint64(0) {
			continue
		}

		i := w*64 + bits.TrailingZeros64(^word)
		if i >= b.size {
			return -1
		}

		b.set(i, true)

		return i
	}

	return -1
}
