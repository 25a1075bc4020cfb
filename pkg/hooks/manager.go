// Package hooks runs user shell scripts on session lifecycle events. A
// session_end hook typically appends notes from the conversation to the
// workspace memory directory before the follow-up sync indexes them.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/mneme/internal/config"
)

// Hook is one script bound to an event.
type Hook struct {
	ID      string
	Event   string
	Script  string
	Timeout time.Duration
	Enabled bool
}

// Config configures a hook Manager.
type Config struct {
	Hooks []Hook
	// Workspace is the working directory scripts run in.
	Workspace string
	Logger    zerolog.Logger
}

// Manager executes the hooks registered for an event.
type Manager struct {
	workspace string
	logger    zerolog.Logger
	byEvent   map[string][]Hook
}

// FromConfig converts config entries into hooks.
func FromConfig(entries []config.HookConfig) []Hook {
	hooks := make([]Hook, 0, len(entries))
	for _, e := range entries {
		hooks = append(hooks, Hook{
			ID:      e.ID,
			Event:   e.Event,
			Script:  e.Script,
			Timeout: time.Duration(e.TimeoutSeconds) * time.Second,
			Enabled: e.Enabled,
		})
	}
	return hooks
}

// NewManager creates a hook manager. Disabled hooks are dropped.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{
		workspace: cfg.Workspace,
		logger:    cfg.Logger.With().Str("component", "hooks").Logger(),
		byEvent:   make(map[string][]Hook),
	}

	for _, hook := range cfg.Hooks {
		if !hook.Enabled {
			continue
		}
		event := strings.TrimSpace(hook.Event)
		if event == "" {
			return nil, fmt.Errorf("hook event is required")
		}
		if strings.TrimSpace(hook.Script) == "" {
			return nil, fmt.Errorf("hook script is required for event %q", event)
		}
		m.byEvent[event] = append(m.byEvent[event], hook)
	}

	return m, nil
}

// Has reports whether any hook is registered for event.
func (m *Manager) Has(event string) bool {
	return m != nil && len(m.byEvent[event]) > 0
}

// Trigger runs every hook registered for event, in order. A failing hook
// does not stop the rest; all failures are joined.
func (m *Manager) Trigger(ctx context.Context, event string, data map[string]string) error {
	if m == nil {
		return nil
	}
	event = strings.TrimSpace(event)
	if event == "" {
		return fmt.Errorf("event is required")
	}

	var errs []error
	for _, hook := range m.byEvent[event] {
		if err := m.run(ctx, event, hook, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SessionStarted runs session_start hooks for identity.
func (m *Manager) SessionStarted(ctx context.Context, identity string) error {
	return m.Trigger(ctx, config.HookSessionStart, m.sessionData(identity))
}

// Capture runs session_end hooks for identity. Its signature matches
// memory.RegistryOptions.Capture.
func (m *Manager) Capture(ctx context.Context, identity string) error {
	return m.Trigger(ctx, config.HookSessionEnd, m.sessionData(identity))
}

func (m *Manager) sessionData(identity string) map[string]string {
	return map[string]string{
		"identity":  identity,
		"workspace": m.workspace,
	}
}

func (m *Manager) run(ctx context.Context, event string, hook Hook, data map[string]string) error {
	id := hook.ID
	if strings.TrimSpace(id) == "" {
		id = event
	}

	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", hook.Script)
	cmd.Env = environment(event, data)
	if m.workspace != "" {
		cmd.Dir = m.workspace
	}

	start := time.Now()
	output, err := cmd.CombinedOutput()
	text := strings.TrimSpace(string(output))
	if err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		if text != "" {
			return fmt.Errorf("hook %s failed: %w: %s", id, err, text)
		}
		return fmt.Errorf("hook %s failed: %w", id, err)
	}

	m.logger.Debug().
		Str("event", event).
		Str("hook_id", id).
		Dur("duration", time.Since(start)).
		Str("output", text).
		Msg("Hook executed")
	return nil
}

func environment(event string, data map[string]string) []string {
	env := append([]string{}, os.Environ()...)
	env = append(env, "MNEME_HOOK_EVENT="+event)

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		env = append(env, "MNEME_HOOK_DATA_"+envKey(key)+"="+data[key])
	}
	return env
}

func envKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "UNKNOWN"
	}

	var b strings.Builder
	b.Grow(len(key))
	for _, r := range strings.ToUpper(key) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteRune('_')
	}
	return b.String()
}
