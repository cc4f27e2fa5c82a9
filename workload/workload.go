// Package workload drives a pager with concurrent processes and checks that
// every byte they read is the byte they last wrote.
package workload

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/sarchlab/vmkernel/mem/filesys"
	"github.com/sarchlab/vmkernel/mem/vm"
	"github.com/sarchlab/vmkernel/mem/vm/paging"
	"github.com/sarchlab/vmkernel/monitoring"
)

// MapBase is where every process maps its data file.
const MapBase uint64 = 0x10000000

const (
	maxAccessSize = 64
	maxFailures   = 16
	zeroTail      = 123
	fileShortfall = 77
)

// Report summarizes a run.
type Report struct {
	Processes   int
	Rounds      int
	Operations  uint64
	NumFailures int
	Failures    []string
	Stats       paging.Stats
	Duration    time.Duration
}

// OK tells if every access succeeded and returned the expected data.
func (r Report) OK() bool {
	return r.NumFailures == 0
}

// Print writes the report as a table.
func (r Report) Print(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "processes\t%d\n", r.Processes)
	fmt.Fprintf(tw, "rounds\t%d\n", r.Rounds)
	fmt.Fprintf(tw, "operations\t%d\n", r.Operations)
	fmt.Fprintf(tw, "faults\t%d\n", r.Stats.Faults)
	fmt.Fprintf(tw, "evictions\t%d\n", r.Stats.Evictions)
	fmt.Fprintf(tw, "swap outs\t%d\n", r.Stats.SwapOuts)
	fmt.Fprintf(tw, "swap ins\t%d\n", r.Stats.SwapIns)
	fmt.Fprintf(tw, "write backs\t%d\n", r.Stats.WriteBacks)
	fmt.Fprintf(tw, "stack growths\t%d\n", r.Stats.StackGrowths)
	fmt.Fprintf(tw, "kills\t%d\n", r.Stats.Kills)
	fmt.Fprintf(tw, "failures\t%d\n", r.NumFailures)
	fmt.Fprintf(tw, "duration\t%s\n", r.Duration)

	tw.Flush()

	for _, f := range r.Failures {
		fmt.Fprintf(w, "  %s\n", f)
	}
}

// A region is a range of user memory together with the content it should
// hold.
type region struct {
	name     string
	base     uint64
	writable bool
	shadow   []byte
}

type process struct {
	proc    *paging.Process
	rng     *rand.Rand
	regions []*region
	mapID   vm.MapID
	file    *filesys.MemFile
	failed  bool
}

// Runner runs the workload.
type Runner struct {
	pager   *paging.Pager
	monitor *monitoring.Monitor

	numProcesses int
	numPages     int
	numRounds    int
	opsPerRound  int
	seed         int64

	procs []*process
	ops   atomic.Uint64

	failureLock sync.Mutex
	numFailures int
	failures    []string
}

// Run sets the processes up, runs every round and tears the processes down.
func (r *Runner) Run() (Report, error) {
	start := time.Now()

	for i := 0; i < r.numProcesses; i++ {
		p, err := r.setupProcess(vm.PID(i + 1))
		if err != nil {
			return Report{}, err
		}

		r.procs = append(r.procs, p)
	}

	var bar *monitoring.ProgressBar
	if r.monitor != nil {
		bar = r.monitor.CreateProgressBar("Rounds", uint64(r.numRounds))
		defer r.monitor.CompleteProgressBar(bar)
	}

	for round := 0; round < r.numRounds; round++ {
		if bar != nil {
			bar.IncrementInProgress(1)
		}

		r.forEachProcess(r.runRound)

		if bar != nil {
			bar.MoveInProgressToFinished(1)
		}
	}

	r.forEachProcess(r.finish)

	r.failureLock.Lock()
	defer r.failureLock.Unlock()

	return Report{
		Processes:   r.numProcesses,
		Rounds:      r.numRounds,
		Operations:  r.ops.Load(),
		NumFailures: r.numFailures,
		Failures:    append([]string(nil), r.failures...),
		Stats:       r.pager.Stats(),
		Duration:    time.Since(start),
	}, nil
}

func (r *Runner) forEachProcess(fn func(p *process)) {
	var wg sync.WaitGroup

	for _, p := range r.procs {
		wg.Add(1)
		go func(p *process) {
			defer wg.Done()
			fn(p)
		}(p)
	}

	wg.Wait()
}

// setupProcess gives the process a read-only code page and a data segment
// loaded from an image, a mapped file and a stack, each numPages long
// except for the code.
func (r *Runner) setupProcess(pid vm.PID) (*process, error) {
	proc := r.pager.NewProcess(pid)
	p := &process{
		proc: proc,
		rng:  rand.New(rand.NewSource(r.seed + int64(pid))),
	}

	regionSize := r.numPages * vm.PageSize

	image := pattern(byte(pid), vm.PageSize+regionSize-zeroTail)
	imageFile := filesys.NewMemFile(fmt.Sprintf("image%d", pid), image)

	codeRead := vm.PageSize / 2
	err := proc.LoadSegment(imageFile, 0, vm.UserBottom,
		codeRead, vm.PageSize-codeRead, false)
	if err != nil {
		return nil, err
	}

	dataBase := vm.UserBottom + vm.PageSize
	err = proc.LoadSegment(imageFile, vm.PageSize, dataBase,
		regionSize-zeroTail, zeroTail, true)
	if err != nil {
		return nil, err
	}

	code := make([]byte, vm.PageSize)
	copy(code, image[:codeRead])
	data := make([]byte, regionSize)
	copy(data, image[vm.PageSize:])

	p.file = filesys.NewMemFile(fmt.Sprintf("data%d", pid),
		pattern(byte(pid)+128, regionSize-fileShortfall))
	fd, err := proc.Open(p.file)
	if err != nil {
		return nil, err
	}

	p.mapID, err = proc.Map(fd, MapBase)
	if err != nil {
		return nil, err
	}

	err = proc.Close(fd)
	if err != nil {
		return nil, err
	}

	err = proc.SetupStack()
	if err != nil {
		return nil, err
	}

	stackBase := vm.PhysBase - uint64(regionSize)
	proc.SetStackPointer(stackBase)

	p.regions = []*region{
		{name: "code", base: vm.UserBottom, shadow: code},
		{name: "data", base: dataBase, writable: true, shadow: data},
		{name: "mmap", base: MapBase, writable: true,
			shadow: append([]byte(nil), p.file.Bytes()...)},
		{name: "stack", base: stackBase, writable: true,
			shadow: make([]byte, regionSize)},
	}

	return p, nil
}

func (r *Runner) runRound(p *process) {
	for n := 0; n < r.opsPerRound && !p.failed; n++ {
		reg := p.regions[p.rng.Intn(len(p.regions))]
		size := 1 + p.rng.Intn(maxAccessSize)
		offset := p.rng.Intn(len(reg.shadow) - size + 1)

		r.ops.Add(1)

		if reg.writable && p.rng.Intn(2) == 0 {
			data := make([]byte, size)
			p.rng.Read(data)
			r.write(p, reg, offset, data)

			continue
		}

		r.verify(p, reg, offset, size)
	}
}

func (r *Runner) write(p *process, reg *region, offset int, data []byte) {
	err := p.proc.Write(reg.base+uint64(offset), data)
	if err != nil {
		r.fail(p, "pid %d: writing %s+%#x: %v",
			p.proc.PID(), reg.name, offset, err)
		return
	}

	copy(reg.shadow[offset:], data)
}

func (r *Runner) verify(p *process, reg *region, offset, size int) {
	buf := make([]byte, size)

	err := p.proc.Read(reg.base+uint64(offset), buf)
	if err != nil {
		r.fail(p, "pid %d: reading %s+%#x: %v",
			p.proc.PID(), reg.name, offset, err)
		return
	}

	want := reg.shadow[offset : offset+size]
	if !bytes.Equal(buf, want) {
		r.fail(p, "pid %d: %s+%#x holds %x, want %x",
			p.proc.PID(), reg.name, offset, buf, want)
	}
}

// finish checks every region in full, unmaps the file to check that the
// writes reached it and exits the process.
func (r *Runner) finish(p *process) {
	if !p.failed {
		for _, reg := range p.regions {
			r.verify(p, reg, 0, len(reg.shadow))
		}
	}

	if !p.failed {
		p.proc.Unmap(p.mapID)

		want := p.regions[2].shadow
		if !bytes.Equal(p.file.Bytes(), want) {
			r.fail(p, "pid %d: mapped file does not hold the written data",
				p.proc.PID())
		}
	}

	p.proc.Exit(0)
}

func (r *Runner) fail(p *process, format string, args ...any) {
	p.failed = true

	r.failureLock.Lock()
	defer r.failureLock.Unlock()

	r.numFailures++
	if len(r.failures) < maxFailures {
		r.failures = append(r.failures, fmt.Sprintf(format, args...))
	}
}

func pattern(seed byte, n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = seed ^ byte(i*13+i>>8)
	}

	return data
}
