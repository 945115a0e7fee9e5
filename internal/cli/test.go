package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/campbellsync/internal/harness"
)

// TestOptions are the flags of the test command.
type TestOptions struct {
	*RootOptions
	Update bool
	Filter string // glob over scenario file names
}

// ScenarioResult reports one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult is the JSON document of a test run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewTestCommand returns the command that runs scenario files.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run scenario files against a fake datalogger and an in-memory store.

Each scenario drives one device through a sequence of poll cycles and
checks every cycle's outcome, the recorded store trace and the final
store contents. When <scenarios-dir>/golden/<name>.golden exists the
trace must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - At least one scenario failed
  2 - The scenarios directory is missing or unreadable

Examples:
  campbellsync test ./scenarios
  campbellsync test ./scenarios --filter "first_*"
  campbellsync test ./scenarios --update
  campbellsync test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden files from the current traces")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose name matches this glob")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return exitf(ExitCommandError, "scenarios directory not found: %s", dir)
	}
	files, err := scenarioFiles(dir, opts.Filter)
	if err != nil {
		return exitWrap(ExitCommandError, err, "failed to find scenarios")
	}

	result := TestResult{Scenarios: []ScenarioResult{}, Total: len(files)}
	for _, file := range files {
		sr := runScenario(file, opts.Update)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}

	p := opts.Printer(cmd)
	if result.Failed == 0 {
		return p.Emit(result, result.writeText)
	}
	if err := p.Fail("E_TEST_FAILED", fmt.Sprintf("%d scenario(s) failed", result.Failed), result, result.writeText); err != nil {
		return err
	}
	return exitf(ExitFailure, "%d scenario(s) failed", result.Failed)
}

// scenarioFiles lists the .yaml and .yml files under dir whose base name
// matches filter. Files under golden/ directories are skipped.
func scenarioFiles(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, ""); err != nil {
			return nil, fmt.Errorf("invalid filter pattern %q: %w", filter, err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir():
			if d.Name() == "golden" {
				return filepath.SkipDir
			}
			return nil
		}
		name, ok := scenarioName(path)
		if !ok {
			return nil
		}
		if filter != "" {
			if matched, _ := filepath.Match(filter, name); !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

func scenarioName(path string) (string, bool) {
	base := filepath.Base(path)
	for _, ext := range []string{".yaml", ".yml"} {
		if name, ok := strings.CutSuffix(base, ext); ok {
			return name, true
		}
	}
	return "", false
}

// runScenario runs one scenario file and checks its trace against
// golden/<name>.golden next to it. With update the golden file is
// rewritten instead.
func runScenario(file string, update bool) ScenarioResult {
	name, _ := scenarioName(file)
	fail := func(format string, args ...any) ScenarioResult {
		return ScenarioResult{Name: name, Errors: []string{fmt.Sprintf(format, args...)}}
	}

	sc, err := harness.LoadScenario(file)
	if err != nil {
		return fail("failed to load scenario: %v", err)
	}
	name = sc.Name

	res, err := harness.Run(sc)
	if err != nil {
		return fail("execution failed: %v", err)
	}
	snapshot, err := harness.Snapshot(sc.Name, res)
	if err != nil {
		return fail("failed to render trace: %v", err)
	}

	golden := filepath.Join(filepath.Dir(file), "golden", strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))+".golden")
	if update {
		if err := writeGolden(golden, snapshot); err != nil {
			return fail("failed to update golden file: %v", err)
		}
	} else {
		want, err := os.ReadFile(golden)
		switch {
		case err == nil && !bytes.Equal(want, snapshot):
			res.AddError("trace does not match golden file (run with --update to regenerate)")
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return fail("failed to read golden file: %v", err)
		}
	}

	return ScenarioResult{Name: name, Pass: res.Pass, Errors: res.Errors}
}

func writeGolden(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (result TestResult) writeText(w io.Writer) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, sr := range result.Scenarios {
		if sr.Pass {
			fmt.Fprintf(w, "✓ %s\n", sr.Name)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", sr.Name)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed == 0 {
		fmt.Fprintln(w, "✓ All scenarios passed")
	}
}
