package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/mneme/internal/config"
)

type mockRegistrar struct {
	tools map[string]ToolDefinition
	fail  string
}

func (m *mockRegistrar) RegisterTool(def ToolDefinition) error {
	if def.Name == m.fail {
		return errors.New("duplicate tool")
	}
	if m.tools == nil {
		m.tools = make(map[string]ToolDefinition)
	}
	m.tools[def.Name] = def
	return nil
}

func TestRegisterMemoryTools(t *testing.T) {
	r := &mockRegistrar{}
	require.NoError(t, RegisterMemoryTools(r, staticSource(newFakeIndex(), nil)))

	require.Len(t, r.tools, 2)
	for _, name := range []string{"memory_search", "memory_get"} {
		def, ok := r.tools[name]
		require.True(t, ok, name)
		assert.NotEmpty(t, def.Description)
		assert.NotNil(t, def.Handler)

		var schema map[string]any
		require.NoError(t, json.Unmarshal(def.Parameters, &schema), name)
		assert.Equal(t, "object", schema["type"])
	}
}

func TestRegisterMemoryTools_Error(t *testing.T) {
	r := &mockRegistrar{fail: "memory_get"}
	err := RegisterMemoryTools(r, staticSource(newFakeIndex(), nil))
	assert.ErrorContains(t, err, "memory_get")
}

func TestMemoryTools_Handlers(t *testing.T) {
	ctx := context.Background()
	tools := MemoryTools(staticSource(newFakeIndex(SearchResult{Path: "MEMORY.md", Score: 1}), nil))

	out, err := tools[0].Handler(ctx, map[string]any{"query": "q"})
	require.NoError(t, err)
	search, ok := out.(*MemorySearchResult)
	require.True(t, ok)
	assert.Equal(t, 1, search.Count)

	out, err = tools[1].Handler(ctx, map[string]any{"path": "MEMORY.md"})
	require.NoError(t, err)
	get, ok := out.(*MemoryGetResult)
	require.True(t, ok)
	assert.Equal(t, "fake", get.Text)
}

func TestRegistrySource_Disabled(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Enabled = false
	reg := NewRegistry(RegistryOptions{Factory: ManagerFactory(cfg, zerolog.Nop()), Logger: zerolog.Nop()})
	t.Cleanup(func() { _ = reg.CloseAll() })

	res, err := MemorySearch(context.Background(), RegistrySource(reg, "alice"), map[string]any{"query": "q"})
	require.NoError(t, err)
	assert.True(t, res.Disabled)
	assert.Contains(t, res.Error, config.ErrDisabled.Error())
}
