package vm

import "errors"

// Errors that terminate the faulting process.
var (
	ErrInvalidAccess     = errors.New("invalid memory access")
	ErrStackGrowthDenied = errors.New("stack growth denied")
	ErrWriteToReadOnly   = errors.New("write to read-only page")
	ErrShortRead         = errors.New("short read from backing file")
	ErrInstallFailed     = errors.New("cannot install page mapping")
	ErrProcessExited     = errors.New("process has exited")
)

// Errors reported to the caller as an ordinary failure.
var (
	ErrPageExists     = errors.New("page already exists")
	ErrInvalidMapping = errors.New("invalid memory mapping")
	ErrBadDescriptor  = errors.New("bad file descriptor")
)
