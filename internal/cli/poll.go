package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/campbellsync/internal/config"
	"github.com/roach88/campbellsync/internal/domain"
	"github.com/roach88/campbellsync/internal/engine"
)

// PollOptions holds flags for the poll command.
type PollOptions struct {
	*RootOptions
	Config string
	Device string // only poll this source
}

// PollResult is the outcome of one poll invocation.
type PollResult struct {
	Cycles   []domain.CycleResult `json:"cycles"`
	Disabled []string             `json:"disabled,omitempty"`
	Failed   int                  `json:"failed"`
}

// NewPollCommand creates the poll command.
func NewPollCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PollOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one cycle per source and exit",
		Long: `Run exactly one fetch-parse-reconcile cycle for every configured
source (or only --device) and print the results.

Exit codes:
  0 - Every cycle succeeded
  1 - A cycle did not succeed, a source is disabled or the config is invalid
  2 - Command error (unreadable config, store unavailable, unknown device)

Examples:
  campbellsync poll --config ./campbellsync.yaml
  campbellsync poll --config ./campbellsync.yaml --device met-tower --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to configuration file (required)")
	cmd.Flags().StringVar(&opts.Device, "device", "", "poll only the source with this name")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runPoll(opts *PollOptions, cmd *cobra.Command) error {
	logger := opts.Logger(cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	if opts.Device != "" {
		src, ok := cfg.Source(opts.Device)
		if !ok {
			return exitf(ExitCommandError, "unknown source %q", opts.Device)
		}
		cfg.Sources = []config.SourceConfig{src}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	fleet := engine.NewFleet(cfg.Devices(), rt.deps)
	result := PollResult{Cycles: fleet.RunOnce(ctx)}
	for _, err := range fleet.Disabled() {
		result.Disabled = append(result.Disabled, err.Error())
	}
	for _, res := range result.Cycles {
		if res.Outcome != domain.OutcomeSuccess {
			result.Failed++
		}
	}

	if err := opts.Printer(cmd).Emit(result, result.writeText); err != nil {
		return err
	}
	if result.Failed > 0 || len(result.Disabled) > 0 {
		return exitf(ExitFailure, "%d of %d cycle(s) did not succeed, %d source(s) disabled",
			result.Failed, len(result.Cycles), len(result.Disabled))
	}
	return nil
}

func (result PollResult) writeText(w io.Writer) {
	for _, res := range result.Cycles {
		mark := "✓"
		if res.Outcome != domain.OutcomeSuccess {
			mark = "✗"
		}
		fmt.Fprintf(w, "%s %s (%s)\n", mark, res.Summary(), res.Duration.Round(time.Millisecond))
		for _, f := range res.Failures {
			fmt.Fprintf(w, "    %s\n", f.Error())
		}
	}
	for _, d := range result.Disabled {
		fmt.Fprintf(w, "✗ disabled: %s\n", d)
	}
}
