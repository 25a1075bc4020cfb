package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/mneme/internal/config"
	"github.com/harun/mneme/internal/observability"
)

var metricsAddr string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the memory index in sync with the workspace",
	Long: `Open the index, sync it, and keep it current as notes change until
interrupted. With --metrics-addr the Prometheus metrics are served at /metrics.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(func(cfg *config.Config) {
		cfg.Sync.Watch = true
		cfg.Sync.OnStart = true
	})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	idx, err := a.index(ctx)
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error().Err(err).Str("addr", metricsAddr).Msg("Metrics server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info().Str("addr", metricsAddr).Msg("Serving metrics")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (identity %s), press Ctrl+C to stop\n", a.cfg.WorkspacePath, a.cfg.Identity)
	<-ctx.Done()

	if st, err := idx.Status(context.Background()); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped with %d files (%d chunks) indexed\n", st.Files, st.Chunks)
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

