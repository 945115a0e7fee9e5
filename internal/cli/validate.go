package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/campbellsync/internal/campbell"
	"github.com/roach88/campbellsync/internal/config"
	"github.com/roach88/campbellsync/internal/schedule"
)

// Problems found by validate beyond those config.Load reports. A bad
// schedule only disables its source at run time, so Load accepts it.
const (
	ErrCodeSchedule = "C110" // schedule is not a valid cron expression
	ErrCodeQueryURL = "C111" // host and table do not form a query URL
	ErrCodeRead     = "E001" // configuration file unreadable
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Config string
}

// ValidationResult is the JSON output of a validate run.
type ValidationResult struct {
	Valid   bool                     `json:"valid"`
	Sources int                      `json:"sources"`
	Errors  []config.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without polling",
		Long: `Load a configuration file, check it against the schema and the
semantic rules, and parse every source's schedule and query URL.

Exit codes:
  0 - Configuration valid
  1 - Configuration has problems (all are listed)
  2 - Configuration file unreadable

Examples:
  campbellsync validate --config ./campbellsync.yaml
  campbellsync validate --config ./campbellsync.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to configuration file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	p := opts.Printer(cmd)
	p.Debugf("Validating %s", opts.Config)

	cfg, err := config.Load(opts.Config)
	var verr *config.Error
	switch {
	case errors.As(err, &verr):
		return reportProblems(p, ValidationResult{Errors: verr.Errs})
	case err != nil:
		_ = p.Fail(ErrCodeRead, err.Error(), nil, nil)
		return exitWrap(ExitCommandError, err, ErrCodeRead)
	}

	result := ValidationResult{Sources: len(cfg.Sources), Errors: checkSources(cfg)}
	if len(result.Errors) > 0 {
		return reportProblems(p, result)
	}
	result.Valid = true
	return p.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Configuration valid (%d source(s))\n", result.Sources)
	})
}

// checkSources reports every source whose schedule or query URL would
// keep its runner from being built.
func checkSources(cfg *config.Config) []config.ValidationError {
	var errs []config.ValidationError
	for i, src := range cfg.Sources {
		if !schedule.Validate(src.Schedule) {
			errs = append(errs, config.ValidationError{
				Field:   fmt.Sprintf("sources.%d.schedule", i),
				Message: fmt.Sprintf("source %q: invalid cron expression %q", src.Name, src.Schedule),
				Code:    ErrCodeSchedule,
			})
		}
		if _, err := campbell.QueryURL(src.Host, src.Table); err != nil {
			errs = append(errs, config.ValidationError{
				Field:   fmt.Sprintf("sources.%d", i),
				Message: fmt.Sprintf("source %q: %v", src.Name, err),
				Code:    ErrCodeQueryURL,
			})
		}
	}
	return errs
}

func reportProblems(p *Printer, result ValidationResult) error {
	first := result.Errors[0]
	err := p.Fail(first.Code, first.Message, result, func(w io.Writer) {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
		}
	})
	if err != nil {
		return err
	}
	return exitf(ExitFailure, "validation failed with %d error(s)", len(result.Errors))
}
