package workload

import (
	"log"

	"github.com/sarchlab/vmkernel/mem/vm/paging"
	"github.com/sarchlab/vmkernel/monitoring"
)

// A Builder can build workload runners.
type Builder struct {
	numProcesses int
	numPages     int
	numRounds    int
	opsPerRound  int
	seed         int64
	monitor      *monitoring.Monitor
}

// MakeBuilder creates a new builder with default parameters.
func MakeBuilder() Builder {
	return Builder{
		numProcesses: 4,
		numPages:     8,
		numRounds:    10,
		opsPerRound:  100,
		seed:         1,
	}
}

// WithNumProcesses sets the number of processes that run concurrently.
func (b Builder) WithNumProcesses(n int) Builder {
	b.numProcesses = n
	return b
}

// WithNumPages sets how many pages each region of a process spans.
func (b Builder) WithNumPages(n int) Builder {
	b.numPages = n
	return b
}

// WithNumRounds sets the number of rounds.
func (b Builder) WithNumRounds(n int) Builder {
	b.numRounds = n
	return b
}

// WithOpsPerRound sets how many accesses each process makes per round.
func (b Builder) WithOpsPerRound(n int) Builder {
	b.opsPerRound = n
	return b
}

// WithSeed sets the seed of the access pattern.
func (b Builder) WithSeed(seed int64) Builder {
	b.seed = seed
	return b
}

// WithMonitor reports the progress of the rounds to a monitor.
func (b Builder) WithMonitor(m *monitoring.Monitor) Builder {
	b.monitor = m
	return b
}

// SwapSlotsNeeded returns the number of swap slots that guarantees the
// workload never runs out of swap, whatever the number of frames.
func (b Builder) SwapSlotsNeeded() int {
	// Stack and data pages may all sit in swap at the same time.
	return b.numProcesses * 2 * b.numPages
}

// Build creates a runner that drives the given pager.
func (b Builder) Build(pager *paging.Pager) *Runner {
	if b.numProcesses <= 0 || b.numPages <= 0 {
		log.Panicf("workload needs at least one process and one page")
	}

	return &Runner{
		pager:        pager,
		monitor:      b.monitor,
		numProcesses: b.numProcesses,
		numPages:     b.numPages,
		numRounds:    b.numRounds,
		opsPerRound:  b.opsPerRound,
		seed:         b.seed,
	}
}
