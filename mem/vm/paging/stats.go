package paging

import "sync/atomic"

// Stats counts the paging activity of a pager.
type Stats struct {
	Faults       uint64 `json:"faults"`
	Evictions    uint64 `json:"evictions"`
	SwapOuts     uint64 `json:"swap_outs"`
	SwapIns      uint64 `json:"swap_ins"`
	WriteBacks   uint64 `json:"write_backs"`
	StackGrowths uint64 `json:"stack_growths"`
	Kills        uint64 `json:"kills"`
}

type counters struct {
	faults       atomic.Uint64
	evictions    atomic.Uint64
	swapOuts     atomic.Uint64
	swapIns      atomic.Uint64
	writeBacks   atomic.Uint64
	stackGrowths atomic.Uint64
	kills        atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Faults:       c.faults.Load(),
		Evictions:    c.evictions.Load(),
		SwapOuts:     c.swapOuts.Load(),
		SwapIns:      c.swapIns.Load(),
		WriteBacks:   c.writeBacks.Load(),
		StackGrowths: c.stackGrowths.Load(),
		Kills:        c.kills.Load(),
	}
}
