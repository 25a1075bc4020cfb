package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/mneme/internal/logger"
	"github.com/harun/mneme/internal/tracing"
	"github.com/harun/mneme/pkg/memworker"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Serve one identity's index over stdin/stdout",
	Long:   `Internal: run by the host when isolation is enabled. Speaks the worker protocol on stdio.`,
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// stdout carries frames; logs go to stderr, which the host forwards.
	lcfg := logger.FromSettings(cfg.Logging)
	lcfg.Secrets = []string{cfg.Embedding.APIKey}
	lcfg.Stderr = true
	lcfg.Pretty = false
	lcfg.File = ""
	log, err := logger.New(lcfg)
	if err != nil {
		return err
	}
	defer log.Close()

	if err := tracing.InitOpenTelemetry("mneme-worker", attribute.String("memory.identity", cfg.Identity)); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}
	defer tracing.ShutdownOpenTelemetry(context.WithoutCancel(cmd.Context()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	return memworker.Serve(ctx, os.Stdin, os.Stdout, memworker.ServeOptions{
		Identity: cfg.Identity,
		Factory:  memworker.ManagerBackends(cfg, log.GetZerolog()),
		Logger:   log.GetZerolog(),
	})
}
