package paging

import (
	"log"

	"github.com/sarchlab/vmkernel/instrumentation/hooking"
)

// LogHook prints every paging event to a logger.
type LogHook struct {
	*log.Logger
}

// NewLogHook creates a LogHook that writes to logger.
func NewLogHook(logger *log.Logger) *LogHook {
	return &LogHook{Logger: logger}
}

// Func prints the event carried by the hook context.
func (h *LogHook) Func(ctx hooking.HookCtx) {
	evt, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	h.Printf("%s %s", ctx.Pos.Name, evt)
}
