// Command vmsim runs paging workloads against the virtual memory subsystem.
package main

import "github.com/sarchlab/vmkernel/cmd/vmsim/cmd"

func main() {
	cmd.Execute()
}
