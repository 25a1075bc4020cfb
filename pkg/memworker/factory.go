package memworker

import (
	"context"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/harun/mneme/internal/config"
	"github.com/harun/mneme/pkg/memory"
)

// NewIndexFactory returns the registry factory for cfg: in-process managers,
// or one isolated worker per identity when cfg.Isolation is enabled.
func NewIndexFactory(cfg config.Config, launcher Launcher, logger zerolog.Logger) memory.IndexFactory {
	if !cfg.Isolation.Enabled {
		return memory.ManagerFactory(cfg, logger)
	}
	return func(ctx context.Context, identity string) (memory.Index, error) {
		if !cfg.Enabled {
			return nil, &memory.UnavailableError{Reason: "disabled by configuration", Err: config.ErrDisabled}
		}
		root, err := filepath.Abs(cfg.WorkspacePath)
		if err != nil {
			root = cfg.WorkspacePath
		}
		p, err := NewProxy(ctx, launcher, ProxyOptions{
			Identity:     identity,
			Root:         root,
			CloseTimeout: cfg.CloseTimeout(),
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// ManagerBackends opens a memory.Manager inside the worker.
func ManagerBackends(cfg config.Config, logger zerolog.Logger) BackendFactory {
	return func(ctx context.Context, identity string) (Backend, error) {
		m, err := memory.NewManager(ctx, memory.Options{Config: cfg, Identity: identity, Logger: logger})
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}
