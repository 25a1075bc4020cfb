package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/mneme/internal/config"
	"github.com/harun/mneme/internal/logger"
	"github.com/harun/mneme/internal/tracing"
	"github.com/harun/mneme/pkg/hooks"
	"github.com/harun/mneme/pkg/memory"
	"github.com/harun/mneme/pkg/memworker"
)

// app holds what every index command needs: the resolved config, the
// logger and a registry of open indexes.
type app struct {
	cfg      config.Config
	log      *logger.Logger
	logger   zerolog.Logger
	registry *memory.Registry
	hooks    *hooks.Manager
}

// loadConfig reads the config file and applies the global flags.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if identityFlag != "" {
		cfg.Identity = identityFlag
	}
	if isolated {
		cfg.Isolation.Enabled = true
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return *cfg, nil
}

// newLogger builds the process logger. Console output always goes to stderr
// so stdout stays free for command output and worker frames.
func newLogger(cfg config.Config, pretty bool) (*logger.Logger, error) {
	lcfg := logger.FromSettings(cfg.Logging)
	lcfg.Secrets = []string{cfg.Embedding.APIKey}
	lcfg.Stderr = true
	lcfg.Pretty = pretty
	log, err := logger.New(lcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}

func newApp(mutate func(*config.Config)) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if mutate != nil {
		mutate(&cfg)
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return nil, err
	}
	if err := tracing.InitOpenTelemetry("mneme"); err != nil {
		log.Warn().Err(err).Msg("Tracing disabled")
	}

	hookManager, err := hooks.NewManager(hooks.Config{
		Hooks:     hooks.FromConfig(cfg.Hooks),
		Workspace: cfg.WorkspacePath,
		Logger:    log.GetZerolog(),
	})
	if err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("failed to initialize hooks: %w", err)
	}

	launcher := &memworker.ProcessLauncher{
		Binary: cfg.Isolation.WorkerBinary,
		Args:   workerArgs(),
		Env:    workerEnv(cfg),
		Logger: log.GetZerolog(),
	}
	registry := memory.NewRegistry(memory.RegistryOptions{
		Factory: memworker.NewIndexFactory(cfg, launcher, log.GetZerolog()),
		Capture: hookManager.Capture,
		Logger:  log.GetZerolog(),
	})

	return &app{
		cfg:      cfg,
		log:      log,
		logger:   log.Component("cli"),
		registry: registry,
		hooks:    hookManager,
	}, nil
}

// workerArgs forwards the global flags a worker process needs to resolve
// the same config.
func workerArgs() []string {
	var args []string
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}
	return args
}

// workerEnv carries settings a command forced on the host config, which a
// worker would otherwise re-read from the file.
func workerEnv(cfg config.Config) []string {
	return []string{
		config.EnvSyncWatch + "=" + strconv.FormatBool(cfg.Sync.Watch),
		config.EnvSyncOnStart + "=" + strconv.FormatBool(cfg.Sync.OnStart),
	}
}

func (a *app) index(ctx context.Context) (memory.Index, error) {
	return a.registry.Get(ctx, a.cfg.Identity)
}

func (a *app) Close() error {
	err := a.registry.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if terr := tracing.ShutdownOpenTelemetry(ctx); terr != nil {
		a.logger.Debug().Err(terr).Msg("Tracer shutdown failed")
	}
	if cerr := a.log.Close(); err == nil {
		err = cerr
	}
	return err
}
