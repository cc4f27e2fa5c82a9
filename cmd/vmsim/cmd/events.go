package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/vmkernel/datarecording"
	"github.com/sarchlab/vmkernel/mem/vm/trace"
)

type eventsOptions struct {
	pid    int
	kind   string
	limit  int
	offset int
}

var eventsOpts eventsOptions

var eventsCmd = &cobra.Command{
	Use:   "events [recording.sqlite3]",
	Short: "List the paging events of a SQLite recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		reader := datarecording.NewReader(args[0])
		defer reader.Close()

		return listEvents(cmd.Context(), reader, eventsOpts, cmd.OutOrStdout())
	},
}

func init() {
	f := eventsCmd.Flags()
	f.IntVar(&eventsOpts.pid, "pid", 0, "Only show events of this process.")
	f.StringVar(&eventsOpts.kind, "kind", "",
		"Only show events of this kind, such as Evict or FaultIn.")
	f.IntVar(&eventsOpts.limit, "limit", 50, "Maximum number of events.")
	f.IntVar(&eventsOpts.offset, "offset", 0, "Number of events to skip.")

	rootCmd.AddCommand(eventsCmd)
}

func eventsQuery(opts eventsOptions) datarecording.QueryParams {
	var (
		conds []string
		args  []any
	)

	if opts.pid != 0 {
		conds = append(conds, "PID = ?")
		args = append(args, opts.pid)
	}

	if opts.kind != "" {
		conds = append(conds, "Kind = ?")
		args = append(args, opts.kind)
	}

	return datarecording.QueryParams{
		Where:   strings.Join(conds, " AND "),
		Args:    args,
		Limit:   opts.limit,
		Offset:  opts.offset,
		OrderBy: "Time",
	}
}

func listEvents(
	ctx context.Context,
	reader datarecording.DataReader,
	opts eventsOptions,
	out io.Writer,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	reader.MapTable(trace.TableName, trace.Entry{})

	results, total, err := reader.Query(ctx, trace.TableName,
		eventsQuery(opts))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tPID\tVADDR\tFRAME\tFROM\tTO\tSLOT\tDIRTY")

	for _, r := range results {
		e := r.(*trace.Entry)
		fmt.Fprintf(tw, "%.6f\t%s\t%d\t%#x\t%d\t%s\t%s\t%d\t%t\n",
			e.Time, e.Kind, e.PID, e.VAddr, e.Frame, e.From, e.To,
			e.SwapSlot, e.Dirty)
	}

	tw.Flush()

	fmt.Fprintf(out, "%d of %d events\n", len(results), total)

	return nil
}
