package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/campbellsync/internal/config"
	"github.com/roach88/campbellsync/internal/store"
)

// DeviceOptions holds flags shared by the device subcommands.
type DeviceOptions struct {
	*RootOptions
	Database string
	Config   string
	Title    string
}

// NewDeviceCommand creates the device command group.
func NewDeviceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeviceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Manage devices in the store",
		Long: `Register and list the store devices that sources reconcile into.

A source whose device reference is not registered reports
device_not_found and is never fetched.`,
	}

	cmd.AddCommand(newDeviceAddCommand(opts))
	cmd.AddCommand(newDeviceListCommand(opts))
	return cmd
}

func newDeviceAddCommand(opts *DeviceOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <ref>",
		Short: "Register a device",
		Long: `Register a device under a reference. Registering an existing
reference is a no-op.

The store is either a local SQLite file (--db) or the store of a
configuration file (--config), which may be PostgreSQL.

Examples:
  campbellsync device add --db ./campbellsync.db met-tower-1 --title "Met tower"
  campbellsync device add --config ./campbellsync.yaml met-tower-1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeviceAdd(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to configuration file")
	cmd.Flags().StringVar(&opts.Title, "title", "", "device title (defaults to the reference)")
	cmd.MarkFlagsOneRequired("db", "config")
	cmd.MarkFlagsMutuallyExclusive("db", "config")
	return cmd
}

func newDeviceListCommand(opts *DeviceOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered devices",
		Long: `List the devices of a local SQLite store.

Example:
  campbellsync device list --db ./campbellsync.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeviceList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	return cmd
}

func runDeviceAdd(opts *DeviceOptions, ref string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	storeCfg := config.StoreConfig{Driver: config.DriverSQLite, DSN: opts.Database}
	if opts.Config != "" {
		cfg, err := loadConfig(opts.Config)
		if err != nil {
			return err
		}
		storeCfg = cfg.Store
	}

	b, err := openBackend(ctx, storeCfg, opts.Logger(cmd.ErrOrStderr()))
	if err != nil {
		return exitWrap(ExitCommandError, err, "failed to open store")
	}
	defer b.close()

	title := opts.Title
	if title == "" {
		title = ref
	}
	if err := b.register(ctx, ref, title); err != nil {
		return exitWrap(ExitCommandError, err, "failed to register device")
	}

	data := map[string]string{"ref": ref, "title": title}
	return opts.Printer(cmd).Emit(data, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Device %s registered (%s store)\n", ref, storeCfg.Driver)
	})
}

func runDeviceList(opts *DeviceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	devices, err := st.ListDevices(ctx)
	if err != nil {
		return exitWrap(ExitCommandError, err, "failed to list devices")
	}

	return opts.Printer(cmd).Emit(devices, func(w io.Writer) {
		if len(devices) == 0 {
			fmt.Fprintln(w, "No devices registered.")
			return
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "REF\tTITLE\tREGISTERED")
		for _, d := range devices {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Ref, d.Title, d.Created.Format(time.RFC3339))
		}
		tw.Flush()
	})
}

// openExistingStore opens a SQLite store that must already exist.
func openExistingStore(path string) (*store.Store, error) {
	if !fileExists(path) {
		return nil, exitf(ExitCommandError, "database not found: %s", path)
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, exitWrap(ExitCommandError, err, "failed to open database")
	}
	return st, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
