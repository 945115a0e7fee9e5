package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/campbellsync/internal/store"
)

// SensorsOptions holds flags for the sensors command.
type SensorsOptions struct {
	*RootOptions
	Database string
	History  int
}

// SensorReport is a sensor with its recent history.
type SensorReport struct {
	store.SensorInfo
	History []store.SampleInfo `json:"history,omitempty"`
}

// NewSensorsCommand creates the sensors command.
func NewSensorsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SensorsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sensors <device-ref>",
		Short: "List the sensors of a device",
		Long: `List the sensors of a device in a local SQLite store, each with its
sample count and newest sample. --history N adds the N newest samples.

Examples:
  campbellsync sensors --db ./campbellsync.db met-tower-1
  campbellsync sensors --db ./campbellsync.db met-tower-1 --history 5 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSensors(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().IntVar(&opts.History, "history", 0, "number of recent samples to show per sensor")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSensors(opts *SensorsOptions, ref string, cmd *cobra.Command) error {
	if opts.History < 0 {
		return exitf(ExitCommandError, "--history must not be negative")
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	if _, found, err := st.Resolve(ctx, ref); err != nil {
		return exitWrap(ExitCommandError, err, "failed to resolve device")
	} else if !found {
		return exitf(ExitCommandError, "device not found: %s", ref)
	}

	sensors, err := st.ListSensors(ctx, ref)
	if err != nil {
		return exitWrap(ExitCommandError, err, "failed to list sensors")
	}

	reports := make([]SensorReport, len(sensors))
	for i, sn := range sensors {
		reports[i] = SensorReport{SensorInfo: sn}
		if opts.History > 0 {
			if reports[i].History, err = st.History(ctx, sn.ID, opts.History); err != nil {
				return exitWrap(ExitCommandError, err, "failed to read history")
			}
		}
	}

	return opts.Printer(cmd).Emit(reports, func(w io.Writer) {
		writeSensorTable(w, ref, reports)
	})
}

func writeSensorTable(w io.Writer, ref string, reports []SensorReport) {
	if len(reports) == 0 {
		fmt.Fprintf(w, "Device %s has no sensors.\n", ref)
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TITLE\tUNIT\tSAMPLES\tLATEST\tAT")
	for _, r := range reports {
		latest, at := "-", "-"
		if r.Latest != nil {
			latest = formatValue(r.Latest.Value)
			at = r.Latest.Timestamp.Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.Title, r.Unit, r.Samples, latest, at)
		for _, smp := range r.History {
			fmt.Fprintf(tw, "\t\t\t%s\t%s\n", formatValue(smp.Value), smp.Timestamp.Format(time.RFC3339))
		}
	}
	tw.Flush()
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
