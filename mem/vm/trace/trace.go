// Package trace records paging events into a data recorder.
package trace

import (
	"time"

	"github.com/sarchlab/vmkernel/datarecording"
	"github.com/sarchlab/vmkernel/instrumentation/hooking"
	"github.com/sarchlab/vmkernel/instrumentation/idgen"
	"github.com/sarchlab/vmkernel/mem/vm/paging"
)

// TableName is the table paging events are recorded into.
const TableName = "paging_events"

// Entry is one recorded paging event.
type Entry struct {
	ID       string
	Time     float64
	Kind     string
	PID      uint32
	VAddr    uint64
	Frame    int
	From     string
	To       string
	SwapSlot int
	Dirty    bool
	MapID    int
	Pages    int
	ExitCode int
}

// RecorderHook writes every paging event it sees as an Entry. Time is
// measured in seconds since the hook was created.
type RecorderHook struct {
	recorder datarecording.DataRecorder
	ids      idgen.Generator
	start    time.Time
}

// NewRecorderHook creates the event table in recorder and returns a hook
// that fills it.
func NewRecorderHook(
	recorder datarecording.DataRecorder,
	ids idgen.Generator,
) *RecorderHook {
	recorder.CreateTable(TableName, Entry{})

	return &RecorderHook{
		recorder: recorder,
		ids:      ids,
		start:    time.Now(),
	}
}

// Func records the event carried by the hook context.
func (h *RecorderHook) Func(ctx hooking.HookCtx) {
	evt, ok := ctx.Item.(paging.Event)
	if !ok {
		return
	}

	h.recorder.InsertData(TableName, Entry{
		ID:       h.ids.Generate(),
		Time:     time.Since(h.start).Seconds(),
		Kind:     ctx.Pos.Name,
		PID:      uint32(evt.PID),
		VAddr:    evt.VAddr,
		Frame:    int(evt.Frame),
		From:     evt.From.String(),
		To:       evt.To.String(),
		SwapSlot: evt.SwapSlot,
		Dirty:    evt.Dirty,
		MapID:    int(evt.MapID),
		Pages:    evt.Pages,
		ExitCode: evt.ExitCode,
	})
}
