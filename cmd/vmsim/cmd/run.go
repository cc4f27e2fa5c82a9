package cmd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/sarchlab/vmkernel/datarecording"
	"github.com/sarchlab/vmkernel/instrumentation/idgen"
	"github.com/sarchlab/vmkernel/mem/blockdev"
	"github.com/sarchlab/vmkernel/mem/vm"
	"github.com/sarchlab/vmkernel/mem/vm/paging"
	"github.com/sarchlab/vmkernel/mem/vm/trace"
	"github.com/sarchlab/vmkernel/monitoring"
	"github.com/sarchlab/vmkernel/workload"
)

var errVerification = errors.New("workload read back unexpected data")

type runOptions struct {
	frames      int
	swapSlots   int
	processes   int
	pages       int
	rounds      int
	ops         int
	seed        int64
	swapFile    string
	record      string
	verbose     bool
	monitor     bool
	port        int
	openMonitor bool
}

var runOpts runOptions

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a concurrent paging workload and verify its memory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		return runWorkload(runOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := runCmd.Flags()
	f.IntVar(&runOpts.frames, "frames", 16, "Number of physical frames.")
	f.IntVar(&runOpts.swapSlots, "swap-slots", 0,
		"Number of swap slots. 0 sizes swap for the workload.")
	f.IntVar(&runOpts.processes, "processes", 4, "Number of processes.")
	f.IntVar(&runOpts.pages, "pages", 8, "Pages in each region of a process.")
	f.IntVar(&runOpts.rounds, "rounds", 10, "Number of rounds.")
	f.IntVar(&runOpts.ops, "ops", 200, "Accesses per process per round.")
	f.Int64Var(&runOpts.seed, "seed", 1, "Seed of the access pattern.")
	f.StringVar(&runOpts.swapFile, "swap-file", "",
		"Host file backing the swap device. Swap stays in memory if empty.")
	f.StringVar(&runOpts.record, "record", "",
		"Record paging events to a SQLite path or a clickhouse:// URL.")
	f.BoolVarP(&runOpts.verbose, "verbose", "v", false,
		"Log every paging event to stderr.")
	f.BoolVar(&runOpts.monitor, "monitor", false,
		"Serve the monitoring API while running.")
	f.IntVar(&runOpts.port, "monitor-port", 0,
		"Port of the monitoring server. 0 picks a free port.")
	f.BoolVar(&runOpts.openMonitor, "open-monitor", false,
		"Serve the monitoring API and open it in a browser.")

	rootCmd.AddCommand(runCmd)
}

func openSwapDevice(opts runOptions, numSlots int) (vm.BlockDevice, io.Closer, error) {
	numSectors := uint64(numSlots) * (vm.PageSize / blockdev.SectorSize)

	if opts.swapFile == "" {
		return blockdev.NewMemoryDevice(numSectors), nil, nil
	}

	device, err := blockdev.OpenFileDevice(opts.swapFile, numSectors)
	if err != nil {
		return nil, nil, fmt.Errorf("opening swap file: %w", err)
	}

	return device, device, nil
}

func runWorkload(opts runOptions, out io.Writer) error {
	builder := workload.MakeBuilder().
		WithNumProcesses(opts.processes).
		WithNumPages(opts.pages).
		WithNumRounds(opts.rounds).
		WithOpsPerRound(opts.ops).
		WithSeed(opts.seed)

	numSlots := opts.swapSlots
	if numSlots == 0 {
		numSlots = builder.SwapSlotsNeeded()
	}

	device, closer, err := openSwapDevice(opts, numSlots)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	pager := paging.MakeBuilder().
		WithNumFrames(opts.frames).
		WithSwapDevice(device).
		Build("Pager")

	if opts.verbose {
		pager.AcceptHook(paging.NewLogHook(
			log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)))
	}

	if opts.record != "" {
		recorder, execRecorder, err := startRecording(opts, pager)
		if err != nil {
			return err
		}
		defer recorder.Close()
		defer execRecorder.End()
	}

	if opts.monitor || opts.openMonitor {
		monitor := monitoring.NewMonitor().WithPortNumber(opts.port)
		monitor.RegisterPager(pager)
		builder = builder.WithMonitor(monitor)

		url := monitor.StartServer()
		if opts.openMonitor {
			err = browser.OpenURL(url + "/api/stats")
			if err != nil {
				log.Printf("cannot open browser: %v", err)
			}
		}
	}

	report, err := builder.Build(pager).Run()
	if err != nil {
		return err
	}

	report.Print(out)

	if !report.OK() {
		return errVerification
	}

	return nil
}

func startRecording(
	opts runOptions,
	pager *paging.Pager,
) (datarecording.DataRecorder, *datarecording.ExecRecorder, error) {
	cfg, err := datarecording.ParseRecorderURL(opts.record)
	if err != nil {
		return nil, nil, err
	}

	recorder, err := datarecording.NewDataRecorderWithConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	pager.AcceptHook(trace.NewRecorderHook(recorder, idgen.NewParallel()))

	execRecorder := datarecording.NewExecRecorder(recorder)
	execRecorder.Start()
	execRecorder.Set("Frames", strconv.Itoa(opts.frames))
	execRecorder.Set("Processes", strconv.Itoa(opts.processes))
	execRecorder.Set("Pages", strconv.Itoa(opts.pages))
	execRecorder.Set("Rounds", strconv.Itoa(opts.rounds))
	execRecorder.Set("Seed", strconv.FormatInt(opts.seed, 10))

	return recorder, execRecorder, nil
}
