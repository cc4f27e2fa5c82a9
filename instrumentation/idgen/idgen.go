// Package idgen generates unique identifiers for recorded events.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/rs/xid"
)

// Generator produces unique identifiers.
type Generator interface {
	Generate() string
}

// NewSequential returns a generator whose first emitted ID is "1". The IDs
// are deterministic as long as a single goroutine draws them.
func NewSequential() Generator {
	return &sequentialGenerator{}
}

// NewParallel returns a generator of globally unique IDs that needs no
// coordination between goroutines or runs.
func NewParallel() Generator {
	return parallelGenerator{}
}

type sequentialGenerator struct {
	next uint64
}

func (g *sequentialGenerator) Generate() string {
	return strconv.FormatUint(atomic.AddUint64(&g.next, 1), 10)
}

type parallelGenerator struct{}

func (parallelGenerator) Generate() string {
	return xid.New().String()
}
