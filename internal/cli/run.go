package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/campbellsync/internal/engine"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config string

	// Ready, when set, receives the bound metrics address once the
	// listener is up (for testing).
	Ready chan<- string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Poll every configured datalogger until stopped",
		Long: `Start one runner per configured source and poll on each source's
schedule until SIGINT or SIGTERM.

Each runner resolves its store device, runs an immediate cycle and then
follows its cron schedule. Sources with an invalid schedule are disabled
and logged; the rest keep running. When metrics.addr is set, /metrics
(Prometheus) and /health (runner status as JSON) are served.

Example:
  campbellsync run --config ./campbellsync.yaml
  campbellsync run --config /etc/campbellsync.yaml --log-format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFleet(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", "", "path to configuration file (required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runFleet(opts *RunOptions, cmd *cobra.Command) error {
	logger := opts.Logger(cmd.ErrOrStderr())
	slog.SetDefault(logger)

	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	logger.Info("configuration loaded", "path", opts.Config, "sources", len(cfg.Sources), "store", cfg.Store.Driver)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	fleet := engine.NewFleet(cfg.Devices(), rt.deps)
	if len(fleet.Runners()) == 0 {
		return exitf(ExitFailure, "no runnable sources: every source is disabled")
	}

	if cfg.Metrics.Addr != "" {
		srv, addr, err := serveMetrics(cfg.Metrics.Addr, rt, fleet, logger)
		if err != nil {
			return exitWrap(ExitCommandError, err, "failed to start metrics listener")
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("error stopping metrics listener", "error", err)
			}
		}()
		if opts.Ready != nil {
			opts.Ready <- addr
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Polling %d source(s). Press Ctrl-C to stop.\n", len(fleet.Runners()))

	if err := fleet.Run(ctx); err != nil {
		return exitWrap(ExitFailure, err, "fleet error")
	}

	logger.Info("fleet stopped gracefully")
	return nil
}

// serveMetrics starts the /metrics and /health listener and returns the
// bound address.
func serveMetrics(addr string, rt *runtime, fleet *engine.Fleet, logger *slog.Logger) (*http.Server, string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.metrics.Handler())
	mux.Handle("/health", healthHandler(fleet))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	logger.Info("metrics listener started", "addr", ln.Addr().String())
	return srv, ln.Addr().String(), nil
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string                `json:"status"`
	Devices  []engine.RunnerStatus `json:"devices"`
	Disabled []string              `json:"disabled,omitempty"`
}

// healthHandler reports every runner's status. Status is "degraded" when a
// runner's last cycle failed or a source is disabled.
func healthHandler(fleet *engine.Fleet) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok", Devices: fleet.Status()}
		for _, err := range fleet.Disabled() {
			resp.Disabled = append(resp.Disabled, err.Error())
		}
		if len(resp.Disabled) > 0 {
			resp.Status = "degraded"
		}
		for _, st := range resp.Devices {
			if st.Phase == "failed" {
				resp.Status = "degraded"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
}
